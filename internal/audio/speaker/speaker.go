// Package speaker plays call audio on the local sound card through oto.
// It needs cgo and ALSA on Linux, so only the app wiring imports it.
package speaker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"

	"github.com/ent0n29/coolphone/internal/audio"
)

// A desktop has no earpiece, so routing only changes loudness.
const (
	speakerVolume  = 1.0
	earpieceVolume = 0.35

	playbackPoll = 20 * time.Millisecond
)

// Output plays call audio on the host's default output device.
type Output struct {
	ctx        *oto.Context
	logger     zerolog.Logger
	customRing []byte

	mu        sync.Mutex
	volume    float64
	voice     *oto.Player
	voiceStop chan struct{}
	ringStop  chan struct{}
}

// NewOutput opens the audio device. ringtonePath, when set, replaces
// the generated ringtones with a user supplied mp3 or wav file.
func NewOutput(ringtonePath string, logger zerolog.Logger) (*Output, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   audio.SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	out := &Output{
		ctx:    otoCtx,
		logger: logger.With().Str("component", "speaker").Logger(),
		volume: earpieceVolume,
	}
	if ringtonePath != "" {
		data, err := os.ReadFile(ringtonePath)
		if err != nil {
			return nil, fmt.Errorf("read ringtone: %w", err)
		}
		pcm, err := audio.DecodeMono(data, audio.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("decode ringtone %s: %w", ringtonePath, err)
		}
		out.customRing = pcm
	}
	return out, nil
}

// Play decodes clip and blocks until it finished, was stopped or ctx ended.
// Starting a clip stops the previous one.
func (s *Output) Play(ctx context.Context, clip []byte) error {
	pcm, err := audio.DecodeMono(clip, audio.SampleRate)
	if err != nil {
		return fmt.Errorf("decode clip: %w", err)
	}

	s.mu.Lock()
	s.stopVoiceLocked()
	player := s.ctx.NewPlayer(bytes.NewReader(pcm))
	player.SetVolume(s.volume)
	stop := make(chan struct{})
	s.voice = player
	s.voiceStop = stop
	s.mu.Unlock()

	player.Play()
	ticker := time.NewTicker(playbackPoll)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
		}
	}

	s.mu.Lock()
	if s.voice == player {
		s.voice = nil
		s.voiceStop = nil
	}
	s.mu.Unlock()
	return player.Err()
}

func (s *Output) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopVoiceLocked()
}

func (s *Output) stopVoiceLocked() {
	if s.voice != nil {
		s.voice.Pause()
		s.voice = nil
	}
	if s.voiceStop != nil {
		close(s.voiceStop)
		s.voiceStop = nil
	}
}

// StartRingtone loops r until StopRingtone.
func (s *Output) StartRingtone(r audio.Ringtone) error {
	pcm := s.customRing
	if pcm == nil {
		pcm = audio.RingtonePCM(r, audio.SampleRate)
	}

	s.mu.Lock()
	if s.ringStop != nil {
		close(s.ringStop)
	}
	stop := make(chan struct{})
	s.ringStop = stop
	s.mu.Unlock()

	go s.loopRingtone(pcm, stop)
	return nil
}

func (s *Output) loopRingtone(pcm []byte, stop <-chan struct{}) {
	ticker := time.NewTicker(playbackPoll)
	defer ticker.Stop()
	for {
		player := s.ctx.NewPlayer(bytes.NewReader(pcm))
		player.SetVolume(speakerVolume)
		player.Play()
		for player.IsPlaying() {
			select {
			case <-stop:
				player.Pause()
				return
			case <-ticker.C:
			}
		}
		select {
		case <-stop:
			return
		default:
		}
	}
}

func (s *Output) StopRingtone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ringStop != nil {
		close(s.ringStop)
		s.ringStop = nil
	}
}

// PlayFiller starts the thinking blip and returns immediately.
func (s *Output) PlayFiller() {
	s.mu.Lock()
	volume := s.volume
	s.mu.Unlock()

	player := s.ctx.NewPlayer(bytes.NewReader(audio.FillerPCM(audio.SampleRate)))
	player.SetVolume(volume)
	player.Play()
}

func (s *Output) SetSpeakerRouting(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = earpieceVolume
	if enabled {
		s.volume = speakerVolume
	}
	if s.voice != nil {
		s.voice.SetVolume(s.volume)
	}
	s.logger.Debug().Bool("speaker", enabled).Msg("audio route changed")
}
