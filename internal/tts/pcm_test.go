package tts

import (
	"encoding/binary"
	"testing"
)

func TestUpsample24kTo48k(t *testing.T) {
	in := make([]byte, 6)
	samples := []int16{100, 200, -100}
	for i, s := range samples {
		binary.LittleEndian.PutUint16(in[i*2:i*2+2], uint16(s))
	}

	out := Upsample24kTo48k(in)
	if len(out) != 12 {
		t.Fatalf("expected 12 bytes, got %d", len(out))
	}
	want := []int16{100, 150, 200, 50, -100, -100}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
		if got != w {
			t.Fatalf("sample %d: got %d want %d", i, got, w)
		}
	}
}

func TestUpsample24kTo48k_Empty(t *testing.T) {
	if out := Upsample24kTo48k(nil); out != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestStripWAVHeader(t *testing.T) {
	pcm := []byte{9, 9, 9, 9}
	wav := append([]byte("RIFF....WAVE"), make([]byte, 32)...)
	wav = append(wav, pcm...)
	got := StripWAVHeader(wav)
	if len(got) != len(pcm) || got[0] != 9 {
		t.Fatalf("expected header stripped, got %d bytes", len(got))
	}
	raw := []byte{1, 2, 3}
	if out := StripWAVHeader(raw); len(out) != 3 {
		t.Fatalf("expected raw passthrough")
	}
}
