package audio

import (
	"testing"
	"time"
)

func TestParseRingtone(t *testing.T) {
	for raw, want := range map[string]Ringtone{"": RingtoneClassic, "Digital": RingtoneDigital, " classic ": RingtoneClassic} {
		got, err := ParseRingtone(raw)
		if err != nil || got != want {
			t.Fatalf("ParseRingtone(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseRingtone("marimba"); err == nil {
		t.Fatalf("ParseRingtone(marimba) error = nil")
	}
}

func TestRingtonePCMCycleLength(t *testing.T) {
	if got := PCMDuration(RingtonePCM(RingtoneClassic, 8000), 8000); got != 3*time.Second {
		t.Fatalf("classic cycle = %v, want 3s", got)
	}
	if got := PCMDuration(RingtonePCM(RingtoneDigital, 8000), 8000); got != 1680*time.Millisecond {
		t.Fatalf("digital cycle = %v, want 1.68s", got)
	}
}

func TestFillerIsShortAndAudible(t *testing.T) {
	pcm := FillerPCM(SampleRate)
	if d := PCMDuration(pcm, SampleRate); d <= 0 || d > 250*time.Millisecond {
		t.Fatalf("filler duration = %v", d)
	}
	loud := false
	for _, s := range bytesToSamples(pcm) {
		if s > 1000 || s < -1000 {
			loud = true
			break
		}
	}
	if !loud {
		t.Fatalf("filler is silent")
	}
}
