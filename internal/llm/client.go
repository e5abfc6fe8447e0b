// Package llm provides the streaming LLM clients the agent talks to:
// Ollama, any OpenAI-compatible endpoint, and (in package copilot) the
// GitHub Copilot coding agent.
package llm

import "context"

// Client sends one prompt and streams progress back. The returned string
// is authoritative even when chunks were also delivered; callers may
// ignore chunks entirely.
type Client interface {
	SendStreaming(ctx context.Context, prompt string, onChunk StreamCallback) (string, error)
}

// Pinger is implemented by clients that can check backend reachability
// without sending a prompt.
type Pinger interface {
	Ping(ctx context.Context) error
}
