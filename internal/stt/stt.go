package stt

import (
	"context"
	"encoding/binary"
)

// Recognizer converts a complete utterance of 16kHz PCM16LE mono audio into
// Bangla text. Backends are swappable behind this interface.
type Recognizer interface {
	Recognize(ctx context.Context, pcm16k []byte) (string, error)
	Close() error
}

// EncodeWAV wraps raw 16-bit PCM in a minimal RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const headerLen = 44
	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2

	out := make([]byte, headerLen+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16) // bits per sample
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[headerLen:], pcm)
	return out
}
