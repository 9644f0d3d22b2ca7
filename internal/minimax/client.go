package minimax

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/coolphone/internal/conversation"
	"github.com/ent0n29/coolphone/internal/observability"
	"github.com/ent0n29/coolphone/internal/policy"
	"github.com/ent0n29/coolphone/internal/reliability"
)

const (
	defaultBaseURL = "https://api.minimaxi.com"
	defaultVoiceID = "female-tianmei"

	userDisplayName      = "用户"
	assistantDisplayName = "MiniMax AI"

	// JSON requests get one retry on 429 and 5xx.
	maxAttempts    = 2
	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// Client is the live MiniMax backend.
type Client struct {
	apiKey       string
	groupID      string
	baseURL      string
	chatModel    string
	ttsModel     string
	defaultVoice string
	temperature  float64
	maxTokens    int
	topP         float64

	client     *http.Client
	logger     zerolog.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	retryBase  time.Duration
	retryMax   time.Duration
	maxAttempt int
}

func NewClient(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		apiKey:       strings.TrimSpace(cfg.APIKey),
		groupID:      strings.TrimSpace(cfg.GroupID),
		baseURL:      baseURL,
		chatModel:    firstNonEmpty(cfg.ChatModel, "M2-her"),
		ttsModel:     firstNonEmpty(cfg.TTSModel, "speech-01-hd"),
		defaultVoice: firstNonEmpty(cfg.DefaultVoice, defaultVoiceID),
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		topP:         cfg.TopP,
		client:       &http.Client{Timeout: timeout},
		logger:       logger.With().Str("component", "minimax").Logger(),
		metrics:      metrics,
		now:          time.Now,
		retryBase:    retryBaseDelay,
		retryMax:     retryMaxDelay,
		maxAttempt:   maxAttempts,
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 100
	}
	if c.topP <= 0 {
		c.topP = 0.95
	}
	return c
}

// DefaultVoice is the preset used when a requested voice cannot be synthesized.
func (c *Client) DefaultVoice() string { return c.defaultVoice }

// Converse runs chat completion and then synthesizes the reply. Synthesis
// problems degrade to a text-only reply.
func (c *Client) Converse(ctx context.Context, history []conversation.Message, text, voiceID string) (Reply, error) {
	replyText, err := c.Chat(ctx, history, text)
	if err != nil {
		return Reply{}, err
	}

	speech, err := c.Synthesize(ctx, replyText, voiceID)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		c.logger.Warn().Err(err).Str("voice_id", voiceID).Msg("speech synthesis failed, replying without audio")
		return Reply{Text: replyText, VoiceID: voiceID}, nil
	}
	return Reply{Text: replyText, Audio: speech.Audio, VoiceID: speech.VoiceID}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
}

type baseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	BaseResp *baseResp `json:"base_resp,omitempty"`
}

// Chat asks the model for the next assistant line.
func (c *Client) Chat(ctx context.Context, history []conversation.Message, text string) (string, error) {
	req := chatRequest{
		Model:       c.chatModel,
		Messages:    buildChatMessages(history, text),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		TopP:        c.topP,
	}

	started := c.now()
	body, err := c.postJSON(ctx, "chat", "/v1/text/chatcompletion_v2", req)
	if err != nil {
		return "", err
	}

	var res chatResponse
	if err := json.Unmarshal(body, &res); err != nil {
		c.metrics.ProviderError("minimax", "chat_decode")
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if res.BaseResp != nil && res.BaseResp.StatusCode != 0 {
		c.metrics.ProviderError("minimax", "chat_status")
		return "", &ServiceError{Op: "chat", Code: res.BaseResp.StatusCode, Message: res.BaseResp.StatusMsg}
	}
	if len(res.Choices) == 0 || strings.TrimSpace(res.Choices[0].Message.Content) == "" {
		c.metrics.ProviderError("minimax", "chat_empty")
		return "", ErrEmptyReply
	}

	reply := strings.TrimSpace(res.Choices[0].Message.Content)
	c.logger.Debug().
		Dur("elapsed", c.now().Sub(started)).
		Str("reply", policy.LogText(reply, 80)).
		Msg("chat completion")
	return reply, nil
}

func buildChatMessages(history []conversation.Message, text string) []chatMessage {
	out := make([]chatMessage, 0, len(history)+1)
	for _, m := range history {
		name := m.Name
		if name == "" {
			name = displayName(m.Role)
		}
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content, Name: name})
	}
	return append(out, chatMessage{Role: string(conversation.RoleUser), Content: text, Name: userDisplayName})
}

func displayName(role conversation.Role) string {
	if role == conversation.RoleUser {
		return userDisplayName
	}
	return assistantDisplayName
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path + "?GroupId=" + url.QueryEscape(c.groupID)
}

// postJSON sends payload and retries overloaded or failing upstreams with
// backoff. Multipart uploads go through do directly and are not retried.
func (c *Client) postJSON(ctx context.Context, op, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("create %s request: %w", op, err)
		}
		req.Header.Set("Content-Type", "application/json")
		body, err := c.do(req, op)

		var se *ServiceError
		if err == nil || attempt+1 >= c.maxAttempt || !errors.As(err, &se) || !se.Retryable() {
			return body, err
		}
		delay := reliability.ExponentialBackoff(attempt, c.retryBase, c.retryMax)
		c.logger.Warn().Err(err).Dur("delay", delay).Int("attempt", attempt+1).Msg("retrying minimax request")
		c.metrics.ProviderError("minimax", op+"_retry")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.client.Do(req)
	if err != nil {
		if errors.Is(req.Context().Err(), context.Canceled) {
			return nil, context.Canceled
		}
		c.metrics.ProviderError("minimax", op+"_transport")
		return nil, fmt.Errorf("send %s request: %w", op, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		c.metrics.ProviderError("minimax", fmt.Sprintf("%s_http_%d", op, res.StatusCode))
		return nil, &ServiceError{
			Op:         op,
			StatusCode: res.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			retryable:  reliability.IsRetryableHTTPStatus(res.StatusCode),
		}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}
	return body, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
