package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0}
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len(wav) = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("unexpected header % x", wav[:44])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Fatalf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Fatalf("byte rate = %d, want 32000", got)
	}
}

func TestDecodeWAVReadsEncodedStream(t *testing.T) {
	pcm := []byte{9, 0, 8, 0}
	wav, err := EncodeWAVPCM16LE(pcm, 0)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	got, rate, channels, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if !bytes.Equal(got, pcm) || rate != SampleRate || channels != 1 {
		t.Fatalf("DecodeWAV() = % x, %d, %d", got, rate, channels)
	}
}

func TestDecodeWAVSkipsUnknownChunks(t *testing.T) {
	wav, _ := EncodeWAVPCM16LE([]byte{1, 0}, 8000)
	// Insert an odd-sized LIST chunk between fmt and data.
	extra := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	patched := append(append(append([]byte{}, wav[:36]...), extra...), wav[36:]...)

	got, rate, _, err := DecodeWAV(patched)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if !bytes.Equal(got, []byte{1, 0}) || rate != 8000 {
		t.Fatalf("DecodeWAV() = % x at %d", got, rate)
	}
}

func TestDecodeWAVRejects(t *testing.T) {
	if _, _, _, err := DecodeWAV([]byte("ID3 not a wav")); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("DecodeWAV(mp3) error = %v, want ErrNotWAV", err)
	}

	wav, _ := EncodeWAVPCM16LE([]byte{1, 0}, 8000)
	binary.LittleEndian.PutUint16(wav[34:36], 8)
	if _, _, _, err := DecodeWAV(wav); err == nil {
		t.Fatalf("DecodeWAV(8-bit) error = nil")
	}
}
