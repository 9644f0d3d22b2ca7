package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// SampleRate is the rate every clip is converted to before playback; it
// matches the synthesis output so speech is never resampled.
const SampleRate = 24000

type Format string

const (
	FormatMP3     Format = "mp3"
	FormatWAV     Format = "wav"
	FormatUnknown Format = ""
)

var ErrUnknownFormat = errors.New("unrecognised audio format")

// Sniff identifies a clip by its leading bytes.
func Sniff(clip []byte) Format {
	switch {
	case len(clip) >= 12 && string(clip[0:4]) == "RIFF" && string(clip[8:12]) == "WAVE":
		return FormatWAV
	case len(clip) >= 3 && string(clip[0:3]) == "ID3":
		return FormatMP3
	case len(clip) >= 2 && clip[0] == 0xFF && clip[1]&0xE0 == 0xE0:
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// DecodeMono decodes an mp3 or wav clip to PCM16LE mono at targetRate.
func DecodeMono(clip []byte, targetRate int) ([]byte, error) {
	samples, rate, err := decodeSamples(clip)
	if err != nil {
		return nil, err
	}
	if targetRate <= 0 {
		targetRate = SampleRate
	}
	return samplesToBytes(resampleLinear(samples, rate, targetRate)), nil
}

// Duration reports how long a clip plays.
func Duration(clip []byte) (time.Duration, error) {
	switch Sniff(clip) {
	case FormatMP3:
		dec, err := mp3.NewDecoder(bytes.NewReader(clip))
		if err != nil {
			return 0, fmt.Errorf("mp3 decoder: %w", err)
		}
		length := dec.Length()
		if length < 0 {
			n, err := io.Copy(io.Discard, dec)
			if err != nil {
				return 0, fmt.Errorf("mp3 decode: %w", err)
			}
			length = n
		}
		// go-mp3 always emits 16-bit stereo.
		frames := length / 4
		return time.Duration(frames) * time.Second / time.Duration(dec.SampleRate()), nil
	case FormatWAV:
		pcm, rate, channels, err := DecodeWAV(clip)
		if err != nil {
			return 0, err
		}
		frames := len(pcm) / (2 * channels)
		return time.Duration(frames) * time.Second / time.Duration(rate), nil
	default:
		return 0, ErrUnknownFormat
	}
}

// PCMDuration is the play time of PCM16LE mono bytes at rate.
func PCMDuration(pcm []byte, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(len(pcm)/2) * time.Second / time.Duration(rate)
}

func decodeSamples(clip []byte) ([]int16, int, error) {
	switch Sniff(clip) {
	case FormatMP3:
		dec, err := mp3.NewDecoder(bytes.NewReader(clip))
		if err != nil {
			return nil, 0, fmt.Errorf("mp3 decoder: %w", err)
		}
		raw, err := io.ReadAll(dec)
		if err != nil {
			return nil, 0, fmt.Errorf("mp3 decode: %w", err)
		}
		return downmix(bytesToSamples(raw), 2), dec.SampleRate(), nil
	case FormatWAV:
		pcm, rate, channels, err := DecodeWAV(clip)
		if err != nil {
			return nil, 0, err
		}
		return downmix(bytesToSamples(pcm), channels), rate, nil
	default:
		return nil, 0, ErrUnknownFormat
	}
}

func bytesToSamples(raw []byte) []int16 {
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out
}

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}

func resampleLinear(in []int16, inRate, outRate int) []int16 {
	if inRate == outRate || inRate <= 0 || len(in) == 0 {
		return in
	}
	ratio := float64(outRate) / float64(inRate)
	outLen := int(math.Round(float64(len(in)) * ratio))
	if outLen <= 1 {
		return nil
	}
	out := make([]int16, outLen)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) / ratio
		i0 := int(pos)
		if i0 > last {
			i0 = last
		}
		i1 := i0 + 1
		if i1 > last {
			i1 = last
		}
		f := pos - float64(i0)
		v := float64(in[i0])*(1-f) + float64(in[i1])*f
		out[i] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
	}
	return out
}
