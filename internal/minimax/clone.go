package minimax

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
)

type uploadResponse struct {
	BaseResp *baseResp `json:"base_resp,omitempty"`
	File     *struct {
		FileID json.Number `json:"file_id"`
	} `json:"file,omitempty"`
}

type cloneRequest struct {
	FileID         int64  `json:"file_id"`
	VoiceID        string `json:"voice_id"`
	NoiseReduction bool   `json:"noise_reduction"`
}

type cloneResponse struct {
	BaseResp *baseResp `json:"base_resp,omitempty"`
	VoiceID  string    `json:"voice_id,omitempty"`
}

// CreateVoice uploads a recorded sample and registers it as a cloned voice.
// The returned id can be used wherever a preset voice id is accepted.
func (c *Client) CreateVoice(ctx context.Context, filename string, sample []byte) (string, error) {
	fileID, err := c.UploadVoiceSample(ctx, filename, sample)
	if err != nil {
		return "", err
	}
	return c.CloneVoice(ctx, fileID)
}

// UploadVoiceSample stores the sample with purpose voice_clone and returns
// the file id.
func (c *Client) UploadVoiceSample(ctx context.Context, filename string, sample []byte) (string, error) {
	if len(sample) == 0 {
		return "", errors.New("voice sample is empty")
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == "/" {
		filename = "voice_sample.m4a"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", "audio/mpeg")
	fw, err := mw.CreatePart(header)
	if err != nil {
		_ = mw.Close()
		return "", err
	}
	if _, err := fw.Write(sample); err != nil {
		_ = mw.Close()
		return "", err
	}
	_ = mw.WriteField("purpose", "voice_clone")
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/v1/files/upload"), &body)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := c.do(req, "upload")
	if err != nil {
		return "", err
	}
	var res uploadResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if res.BaseResp != nil && res.BaseResp.StatusCode != 0 {
		return "", &ServiceError{Op: "upload", Code: res.BaseResp.StatusCode, Message: res.BaseResp.StatusMsg}
	}
	if res.File == nil || res.File.FileID.String() == "" {
		return "", errors.New("upload response has no file id")
	}
	return res.File.FileID.String(), nil
}

// CloneVoice turns an uploaded file into a voice id.
func (c *Client) CloneVoice(ctx context.Context, fileID string) (string, error) {
	numericID, err := strconv.ParseInt(strings.TrimSpace(fileID), 10, 64)
	if err != nil {
		return "", fmt.Errorf("file id %q is not numeric: %w", fileID, err)
	}
	voiceID := fmt.Sprintf("UserVoice%d", c.now().UnixMilli()%100000)

	raw, err := c.postJSON(ctx, "voice_clone", "/v1/voice_clone", cloneRequest{
		FileID:         numericID,
		VoiceID:        voiceID,
		NoiseReduction: true,
	})
	if err != nil {
		return "", err
	}
	var res cloneResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode voice clone response: %w", err)
	}
	if res.BaseResp != nil && res.BaseResp.StatusCode != 0 {
		if strings.Contains(strings.ToLower(res.BaseResp.StatusMsg), "forbidden") {
			c.metrics.ProviderError("minimax", "voice_clone_forbidden")
			return "", fmt.Errorf("%w: %s", ErrCloneForbidden, res.BaseResp.StatusMsg)
		}
		return "", &ServiceError{Op: "voice_clone", Code: res.BaseResp.StatusCode, Message: res.BaseResp.StatusMsg}
	}
	if strings.TrimSpace(res.VoiceID) != "" {
		voiceID = strings.TrimSpace(res.VoiceID)
	}
	c.logger.Info().Str("voice_id", voiceID).Str("file_id", fileID).Msg("voice cloned")
	return voiceID, nil
}
