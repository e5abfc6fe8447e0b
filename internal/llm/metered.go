package llm

import (
	"context"
	"sync"
	"time"
)

// Metrics is a snapshot of a Metered client's counters.
type Metrics struct {
	Requests    int64
	Errors      int64
	Chunks      int64
	Chars       int64
	LastRequest time.Time
	LastLatency time.Duration
}

// Metered wraps a Client and counts traffic through it.
type Metered struct {
	inner Client

	mu sync.Mutex
	m  Metrics
}

// NewMetered wraps inner.
func NewMetered(inner Client) *Metered {
	return &Metered{inner: inner}
}

// Unwrap returns the wrapped client.
func (c *Metered) Unwrap() Client { return c.inner }

// SendStreaming forwards to the wrapped client, counting chunks on the
// way through.
func (c *Metered) SendStreaming(ctx context.Context, prompt string, onChunk StreamCallback) (string, error) {
	start := time.Now()
	c.mu.Lock()
	c.m.Requests++
	c.m.LastRequest = start
	c.mu.Unlock()

	counted := func(ch Chunk) {
		c.mu.Lock()
		c.m.Chunks++
		c.mu.Unlock()
		if onChunk != nil {
			onChunk(ch)
		}
	}

	resp, err := c.inner.SendStreaming(ctx, prompt, counted)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.LastLatency = time.Since(start)
	if err != nil {
		c.m.Errors++
		return resp, err
	}
	c.m.Chars += int64(len([]rune(resp)))
	return resp, nil
}

// Ping forwards to the wrapped client when it supports it.
func (c *Metered) Ping(ctx context.Context) error {
	if p, ok := c.inner.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Snapshot returns the current counters.
func (c *Metered) Snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m
}
