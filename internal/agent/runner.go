package agent

import (
	"context"

	"github.com/anicolao/morpheum/internal/format"
	"github.com/anicolao/morpheum/internal/llm"
	"github.com/anicolao/morpheum/internal/sandbox"
)

// Invocation is everything one task needs. It is built once per task
// and never shared, so a runner can use it without locking.
type Invocation struct {
	ID     string
	RoomID string
	Task   string

	Provider Provider
	// FromRoom is true when Provider came from the room's project
	// configuration rather than the global selection.
	FromRoom bool

	Client  llm.Client
	Sandbox sandbox.Executor
	Send    format.Sender
}

// Outcome describes how a task ended.
type Outcome struct {
	Conversation Conversation
	Iterations   int
	// Completed is true when the model signalled completion.
	Completed bool
	// Exhausted is true when the iteration limit was reached first.
	Exhausted bool
}

// Response returns the last assistant turn.
func (o Outcome) Response() string {
	for i := len(o.Conversation) - 1; i >= 0; i-- {
		if o.Conversation[i].Role == RoleAssistant {
			return o.Conversation[i].Content
		}
	}
	return ""
}

// Runner executes one task.
type Runner interface {
	Run(ctx context.Context, inv *Invocation) (Outcome, error)
}

// roomWriter sends progress messages and remembers the first failure,
// so a sequence of sends needs one error check.
type roomWriter struct {
	ctx  context.Context
	send format.Sender
	err  error
}

func (w *roomWriter) plain(text string) {
	if w.err == nil {
		w.err = format.SendPlain(w.ctx, w.send, text)
	}
}

func (w *roomWriter) markdown(text string) {
	if w.err == nil {
		w.err = format.SendMarkdown(w.ctx, w.send, text)
	}
}

func (w *roomWriter) dual(text, html string) {
	if w.err == nil {
		w.err = w.send.Send(w.ctx, text, html)
	}
}
