package audio

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Ringtone names a selectable incoming call sound.
type Ringtone string

const (
	RingtoneClassic Ringtone = "classic"
	RingtoneDigital Ringtone = "digital"
)

func ParseRingtone(raw string) (Ringtone, error) {
	switch r := Ringtone(strings.ToLower(strings.TrimSpace(raw))); r {
	case "":
		return RingtoneClassic, nil
	case RingtoneClassic, RingtoneDigital:
		return r, nil
	default:
		return "", fmt.Errorf("unknown ringtone %q", raw)
	}
}

type toneSegment struct {
	freqs []float64
	dur   time.Duration
	gain  float64
}

// One cycle of each ringtone; playback loops it.
var ringtonePatterns = map[Ringtone][]toneSegment{
	RingtoneClassic: {
		{freqs: []float64{440, 480}, dur: 400 * time.Millisecond, gain: 0.45},
		{dur: 200 * time.Millisecond},
		{freqs: []float64{440, 480}, dur: 400 * time.Millisecond, gain: 0.45},
		{dur: 2 * time.Second},
	},
	RingtoneDigital: {
		{freqs: []float64{1318.5}, dur: 120 * time.Millisecond, gain: 0.35},
		{freqs: []float64{1568}, dur: 120 * time.Millisecond, gain: 0.35},
		{freqs: []float64{1318.5}, dur: 120 * time.Millisecond, gain: 0.35},
		{freqs: []float64{1568}, dur: 120 * time.Millisecond, gain: 0.35},
		{dur: 1200 * time.Millisecond},
	},
}

var fillerPattern = []toneSegment{
	{freqs: []float64{880}, dur: 40 * time.Millisecond, gain: 0.12},
	{dur: 60 * time.Millisecond},
	{freqs: []float64{660}, dur: 40 * time.Millisecond, gain: 0.12},
}

// RingtonePCM renders one cycle of r as PCM16LE mono.
func RingtonePCM(r Ringtone, rate int) []byte {
	pattern, ok := ringtonePatterns[r]
	if !ok {
		pattern = ringtonePatterns[RingtoneClassic]
	}
	return renderTones(pattern, rate)
}

// FillerPCM renders the short "thinking" blip played when a turn starts.
func FillerPCM(rate int) []byte {
	return renderTones(fillerPattern, rate)
}

func renderTones(pattern []toneSegment, rate int) []byte {
	if rate <= 0 {
		rate = SampleRate
	}
	var samples []int16
	for _, seg := range pattern {
		n := int(int64(seg.dur) * int64(rate) / int64(time.Second))
		fade := rate / 200 // 5ms ramps avoid clicks
		for i := 0; i < n; i++ {
			if len(seg.freqs) == 0 {
				samples = append(samples, 0)
				continue
			}
			t := float64(i) / float64(rate)
			v := 0.0
			for _, f := range seg.freqs {
				v += math.Sin(2 * math.Pi * f * t)
			}
			v /= float64(len(seg.freqs))
			env := 1.0
			if i < fade {
				env = float64(i) / float64(fade)
			} else if n-i < fade {
				env = float64(n-i) / float64(fade)
			}
			samples = append(samples, int16(v*env*seg.gain*math.MaxInt16))
		}
	}
	return samplesToBytes(samples)
}
