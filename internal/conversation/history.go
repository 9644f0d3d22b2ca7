package conversation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the chat context sent to the conversation service.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

var (
	ErrNoSystemPrompt = errors.New("conversation history has no system prompt")
	ErrGreetingPlaced = errors.New("greeting must directly follow the system prompt")
)

// History is the ordered chat context of a single call.
//
// It always starts with the system prompt. Turns are committed as a
// user/assistant pair once the reply is known, so a failed request never
// leaves a dangling user entry behind.
type History struct {
	mu       sync.RWMutex
	messages []Message
}

func NewHistory() *History {
	return &History{}
}

// Reset drops every entry and seeds the history with the system prompt.
func (h *History) Reset(systemPrompt string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = []Message{{Role: RoleSystem, Content: systemPrompt}}
}

// Clear empties the history; used when a call ends.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}

// AppendGreeting records the partner's opening line.
func (h *History) AppendGreeting(reply string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) == 0 {
		return ErrNoSystemPrompt
	}
	if len(h.messages) != 1 {
		return ErrGreetingPlaced
	}
	h.messages = append(h.messages, Message{Role: RoleAssistant, Content: reply})
	return nil
}

// AppendExchange commits one completed turn.
func (h *History) AppendExchange(userText, reply string) error {
	if strings.TrimSpace(userText) == "" {
		return fmt.Errorf("append exchange: empty user text")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) == 0 {
		return ErrNoSystemPrompt
	}
	h.messages = append(h.messages,
		Message{Role: RoleUser, Content: userText},
		Message{Role: RoleAssistant, Content: reply},
	)
	return nil
}

// Messages returns a copy that callers may retain.
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Validate checks the ordering invariant: system first, no other system
// entries and no two consecutive entries of the same role.
func Validate(messages []Message) error {
	if len(messages) == 0 || messages[0].Role != RoleSystem {
		return ErrNoSystemPrompt
	}
	for i := 1; i < len(messages); i++ {
		if messages[i].Role == RoleSystem {
			return fmt.Errorf("unexpected system message at %d", i)
		}
		if i > 1 && messages[i].Role == messages[i-1].Role {
			return fmt.Errorf("consecutive %s messages at %d", messages[i].Role, i)
		}
	}
	if last := messages[len(messages)-1]; len(messages) > 1 && last.Role == RoleUser {
		return fmt.Errorf("history ends with an unanswered user message")
	}
	return nil
}
