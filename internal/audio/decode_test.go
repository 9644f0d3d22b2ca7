package audio

import (
	"errors"
	"testing"
	"time"
)

func TestSniff(t *testing.T) {
	wav, _ := EncodeWAVPCM16LE(nil, 8000)
	cases := []struct {
		name string
		clip []byte
		want Format
	}{
		{"id3", []byte("ID3\x03\x00"), FormatMP3},
		{"frame sync", []byte{0xFF, 0xFB, 0x90}, FormatMP3},
		{"mpeg2 sync", []byte{0xFF, 0xF3, 0x44}, FormatMP3},
		{"wav", wav, FormatWAV},
		{"json", []byte(`{"base_resp":{}}`), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, tc := range cases {
		if got := Sniff(tc.clip); got != tc.want {
			t.Fatalf("%s: Sniff() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDurationOfWAV(t *testing.T) {
	wav, _ := EncodeWAVPCM16LE(make([]byte, 2*SampleRate/2), SampleRate)
	got, err := Duration(wav)
	if err != nil {
		t.Fatalf("Duration() error = %v", err)
	}
	if got != 500*time.Millisecond {
		t.Fatalf("Duration() = %v, want 500ms", got)
	}
	if _, err := Duration([]byte("nope")); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("Duration(garbage) error = %v", err)
	}
}

func TestDecodeMonoResamplesWAV(t *testing.T) {
	wav, _ := EncodeWAVPCM16LE(make([]byte, 2*8000), 8000)
	pcm, err := DecodeMono(wav, 24000)
	if err != nil {
		t.Fatalf("DecodeMono() error = %v", err)
	}
	if got := PCMDuration(pcm, 24000); got != time.Second {
		t.Fatalf("decoded duration = %v, want 1s", got)
	}
}

func TestDownmixAveragesChannels(t *testing.T) {
	got := downmix([]int16{100, 300, -50, 50}, 2)
	if len(got) != 2 || got[0] != 200 || got[1] != 0 {
		t.Fatalf("downmix() = %v", got)
	}
}

func TestResampleLinearInterpolates(t *testing.T) {
	got := resampleLinear([]int16{0, 100}, 1, 2)
	if len(got) != 4 || got[0] != 0 || got[1] != 50 || got[2] != 100 {
		t.Fatalf("resampleLinear() = %v", got)
	}
}
