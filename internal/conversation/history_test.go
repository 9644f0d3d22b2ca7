package conversation

import (
	"errors"
	"testing"
)

func TestHistoryGreetingAndTurns(t *testing.T) {
	h := NewHistory()
	h.Reset("system prompt")
	if err := h.AppendGreeting("喂，你好"); err != nil {
		t.Fatalf("AppendGreeting() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := h.AppendExchange("嗯", "好的"); err != nil {
			t.Fatalf("AppendExchange() error = %v", err)
		}
	}

	msgs := h.Messages()
	if len(msgs) != 2+2*3 {
		t.Fatalf("len(messages) = %d, want %d", len(msgs), 2+2*3)
	}
	if msgs[0].Role != RoleSystem {
		t.Fatalf("messages[0].Role = %q, want system", msgs[0].Role)
	}
	if err := Validate(msgs); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestHistoryRejectsLateGreeting(t *testing.T) {
	h := NewHistory()
	h.Reset("p")
	if err := h.AppendExchange("hi", "hello"); err != nil {
		t.Fatalf("AppendExchange() error = %v", err)
	}
	if err := h.AppendGreeting("late"); !errors.Is(err, ErrGreetingPlaced) {
		t.Fatalf("AppendGreeting() error = %v, want ErrGreetingPlaced", err)
	}
}

func TestHistoryRequiresReset(t *testing.T) {
	h := NewHistory()
	if err := h.AppendExchange("hi", "hello"); !errors.Is(err, ErrNoSystemPrompt) {
		t.Fatalf("AppendExchange() error = %v, want ErrNoSystemPrompt", err)
	}
	if err := h.AppendExchange(" ", "hello"); err == nil {
		t.Fatalf("AppendExchange(blank) error = nil")
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	h := NewHistory()
	h.Reset("p")
	msgs := h.Messages()
	msgs[0].Content = "mutated"
	if got := h.Messages()[0].Content; got != "p" {
		t.Fatalf("history mutated through copy: %q", got)
	}
}

func TestValidateDetectsOrphanUser(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "p"},
		{Role: RoleAssistant, Content: "greeting"},
		{Role: RoleUser, Content: "hi"},
	}
	if err := Validate(msgs); err == nil {
		t.Fatalf("Validate() error = nil, want orphan error")
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: "again"})
	if err := Validate(msgs); err == nil {
		t.Fatalf("Validate() error = nil, want consecutive role error")
	}
}

func TestClear(t *testing.T) {
	h := NewHistory()
	h.Reset("p")
	h.Clear()
	if h.Len() != 0 {
		t.Fatalf("Len() = %d after Clear, want 0", h.Len())
	}
}
