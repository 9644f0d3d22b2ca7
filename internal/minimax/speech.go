package minimax

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// stageDirectionPattern matches bracketed asides such as （叹气） or [laughs]
// that the model emits but should never be spoken.
var stageDirectionPattern = regexp.MustCompile(`[\(（\[【].*?[\)）\]】]`)

// SanitizeForSpeech strips stage directions. When nothing speakable is left
// the original text is returned unchanged.
func SanitizeForSpeech(text string) string {
	cleaned := strings.TrimSpace(stageDirectionPattern.ReplaceAllString(text, ""))
	if cleaned == "" {
		return text
	}
	return cleaned
}

type voiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Vol     float64 `json:"vol"`
	Pitch   int     `json:"pitch"`
}

type audioSetting struct {
	SampleRate int    `json:"sample_rate"`
	Bitrate    int    `json:"bitrate"`
	Format     string `json:"format"`
	Channel    int    `json:"channel"`
}

type speechRequest struct {
	Model        string       `json:"model"`
	Text         string       `json:"text"`
	Stream       bool         `json:"stream"`
	VoiceSetting voiceSetting `json:"voice_setting"`
	AudioSetting audioSetting `json:"audio_setting"`
}

type speechResponse struct {
	BaseResp *baseResp `json:"base_resp,omitempty"`
	Data     *struct {
		Audio string `json:"audio"`
	} `json:"data,omitempty"`
}

// Speech is synthesized audio and the voice that actually produced it.
type Speech struct {
	Audio   []byte
	VoiceID string
}

// Synthesize renders text with voiceID. A failing non-default voice (for
// example a cloned voice that expired) is retried once with the default.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) (Speech, error) {
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		voiceID = c.defaultVoice
	}

	audio, err := c.synthesizeOnce(ctx, text, voiceID)
	if err == nil {
		return Speech{Audio: audio, VoiceID: voiceID}, nil
	}
	if ctx.Err() != nil || voiceID == c.defaultVoice {
		return Speech{}, err
	}

	c.logger.Warn().Err(err).Str("voice_id", voiceID).Msg("synthesis failed, retrying with default voice")
	c.metrics.ProviderError("minimax", "tts_voice_fallback")
	audio, fbErr := c.synthesizeOnce(ctx, text, c.defaultVoice)
	if fbErr != nil {
		return Speech{}, fmt.Errorf("voice %s: %v; default voice: %w", voiceID, err, fbErr)
	}
	return Speech{Audio: audio, VoiceID: c.defaultVoice}, nil
}

func (c *Client) synthesizeOnce(ctx context.Context, text, voiceID string) ([]byte, error) {
	req := speechRequest{
		Model:  c.ttsModel,
		Text:   SanitizeForSpeech(text),
		Stream: false,
		VoiceSetting: voiceSetting{
			VoiceID: voiceID,
			Speed:   1.0,
			Vol:     1.0,
			Pitch:   0,
		},
		AudioSetting: audioSetting{
			SampleRate: 24000,
			Bitrate:    64000,
			Format:     "mp3",
			Channel:    1,
		},
	}
	body, err := c.postJSON(ctx, "tts", "/v1/t2a_v2", req)
	if err != nil {
		return nil, err
	}
	audio, err := decodeSpeechBody(body)
	if err != nil {
		c.metrics.ProviderError("minimax", "tts_payload")
		return nil, err
	}
	return audio, nil
}

var errNoAudio = errors.New("synthesis response carried no audio")

// decodeSpeechBody accepts either raw MP3 bytes or the JSON envelope with
// hex encoded audio.
func decodeSpeechBody(body []byte) ([]byte, error) {
	if LooksLikeMP3(body) {
		return body, nil
	}

	var res speechResponse
	if err := json.Unmarshal(bytes.TrimSpace(body), &res); err != nil {
		return nil, fmt.Errorf("decode tts response: %w", err)
	}
	if res.BaseResp != nil && res.BaseResp.StatusCode != 0 {
		return nil, &ServiceError{Op: "tts", Code: res.BaseResp.StatusCode, Message: res.BaseResp.StatusMsg}
	}
	if res.Data == nil || res.Data.Audio == "" {
		return nil, errNoAudio
	}
	audio, err := hex.DecodeString(res.Data.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode tts audio hex: %w", err)
	}
	if len(audio) == 0 {
		return nil, errNoAudio
	}
	return audio, nil
}

// LooksLikeMP3 sniffs an ID3 tag or an MPEG audio frame sync header.
func LooksLikeMP3(b []byte) bool {
	if len(b) >= 3 && b[0] == 'I' && b[1] == 'D' && b[2] == '3' {
		return true
	}
	if len(b) >= 2 && b[0] == 0xFF {
		switch b[1] {
		case 0xF2, 0xF3, 0xFB:
			return true
		}
	}
	return false
}
