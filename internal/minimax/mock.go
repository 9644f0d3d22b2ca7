package minimax

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ent0n29/coolphone/internal/conversation"
)

// MockClient provides deterministic local replies when MiniMax credentials
// are not configured.
type MockClient struct {
	clones atomic.Int64
}

func NewMockClient() *MockClient { return &MockClient{} }

// mockAudio is a bare ID3 header; players treat it as a silent clip.
var mockAudio = []byte{'I', 'D', '3', 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

func (m *MockClient) Converse(ctx context.Context, history []conversation.Message, text, voiceID string) (Reply, error) {
	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	default:
	}

	reply := buildMockReply(history, text)
	audio := make([]byte, len(mockAudio))
	copy(audio, mockAudio)
	return Reply{Text: reply, Audio: audio, VoiceID: voiceID}, nil
}

func (m *MockClient) CreateVoice(ctx context.Context, _ string, sample []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(sample) == 0 {
		return "", fmt.Errorf("voice sample is empty")
	}
	n := m.clones.Add(1)
	return fmt.Sprintf("MockVoice%05d", n), nil
}

func buildMockReply(history []conversation.Message, text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "（接通电话）") {
		return "喂，是我啊，你现在方便说话吗？"
	}
	if text == "" {
		return "喂？听得到吗？"
	}
	turns := 0
	for _, m := range history {
		if m.Role == conversation.RoleUser {
			turns++
		}
	}
	if turns >= 3 {
		return "好，那就这么定了，你赶紧过来吧。"
	}
	return fmt.Sprintf("嗯，你说%s，然后呢？", text)
}
