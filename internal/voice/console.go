package voice

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

// ConsoleRecognizer treats each line typed on a terminal as one spoken
// utterance. It pairs with the local speaker output for desk testing
// without a phone shell.
type ConsoleRecognizer struct {
	once  sync.Once
	in    io.Reader
	lines chan string

	mu   sync.Mutex
	stop chan struct{}
}

func NewConsoleRecognizer(in io.Reader) *ConsoleRecognizer {
	return &ConsoleRecognizer{in: in, lines: make(chan string)}
}

func (c *ConsoleRecognizer) RequestPermission(context.Context) (bool, error) {
	return true, nil
}

func (c *ConsoleRecognizer) Start(ctx context.Context, _ string) (<-chan RecognizerEvent, error) {
	c.once.Do(func() { go c.readLines() })

	stop := make(chan struct{})
	c.mu.Lock()
	if c.stop != nil {
		close(c.stop)
	}
	c.stop = stop
	c.mu.Unlock()

	events := make(chan RecognizerEvent, 4)
	go func() {
		defer close(events)
		events <- RecognizerEvent{Kind: RecognizerReady}
		select {
		case <-ctx.Done():
		case <-stop:
		case line, ok := <-c.lines:
			if !ok {
				events <- RecognizerEvent{Kind: RecognizerError, Code: "input_closed", Message: "console input closed"}
				return
			}
			line = strings.TrimSpace(line)
			if line != "" {
				events <- RecognizerEvent{Kind: RecognizerPartial, Text: line}
			}
			events <- RecognizerEvent{Kind: RecognizerFinal, Text: line}
		}
	}()
	return events, nil
}

func (c *ConsoleRecognizer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *ConsoleRecognizer) SetFeedbackMuted(bool) {}

func (c *ConsoleRecognizer) readLines() {
	defer close(c.lines)
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
}
