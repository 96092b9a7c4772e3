package tts

import "encoding/binary"

// Upsample24kTo48k doubles the sample rate of 16-bit LE mono PCM by linear
// interpolation. The playback path expects 48kHz; the Edge service emits 24kHz.
func Upsample24kTo48k(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		cur := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		next := cur
		if i+1 < n {
			next = int16(binary.LittleEndian.Uint16(pcm[(i+1)*2 : (i+1)*2+2]))
		}
		mid := int16((int32(cur) + int32(next)) / 2)
		binary.LittleEndian.PutUint16(out[i*4:i*4+2], uint16(cur))
		binary.LittleEndian.PutUint16(out[i*4+2:i*4+4], uint16(mid))
	}
	return out
}

// StripWAVHeader removes a RIFF header when present. Google's LINEAR16
// synthesis responses arrive as WAV; the sink wants raw PCM.
func StripWAVHeader(audio []byte) []byte {
	if len(audio) > 44 && string(audio[0:4]) == "RIFF" && string(audio[8:12]) == "WAVE" {
		return audio[44:]
	}
	return audio
}
