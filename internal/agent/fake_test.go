package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/anicolao/morpheum/internal/llm"
	"github.com/anicolao/morpheum/internal/roomconfig"
)

type scriptedClient struct {
	mu        sync.Mutex
	responses []string
	chunks    []llm.Chunk
	err       error
	panicWith any
	prompts   []string
}

func (c *scriptedClient) SendStreaming(_ context.Context, prompt string, onChunk llm.StreamCallback) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	if c.panicWith != nil {
		panic(c.panicWith)
	}
	if c.err != nil {
		return "", c.err
	}
	for _, ch := range c.chunks {
		onChunk(ch)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.responses) == 0 {
		return "", errors.New("script exhausted")
	}
	resp := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return resp, nil
}

type sentMessage struct {
	Text string
	HTML string
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []sentMessage
	err  error
}

func (s *recordingSender) Send(_ context.Context, text, html string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, sentMessage{Text: text, HTML: html})
	return s.err
}

func (s *recordingSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = m.Text
	}
	return out
}

func (s *recordingSender) containsText(sub string) bool {
	for _, t := range s.texts() {
		if strings.Contains(t, sub) {
			return true
		}
	}
	return false
}

type fakeSandbox struct {
	mu       sync.Mutex
	outputs  []string
	commands []string
}

func (f *fakeSandbox) Execute(_ context.Context, command string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if len(f.outputs) == 0 {
		return ""
	}
	out := f.outputs[0]
	if len(f.outputs) > 1 {
		f.outputs = f.outputs[1:]
	}
	return out
}

type mapResolver map[string]roomconfig.Override

func (m mapResolver) Resolve(_ context.Context, roomID string) (roomconfig.Override, bool) {
	o, ok := m[roomID]
	return o, ok
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
