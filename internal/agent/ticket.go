package agent

import (
	"context"
	"log/slog"

	"github.com/anicolao/morpheum/internal/llm"
)

// TicketBased hands the task text to an asynchronous session provider
// and relays its progress chunks to the room. There is no system
// prompt, no sandbox and no iteration counter.
type TicketBased struct {
	Logger *slog.Logger
}

// Run forwards every chunk as it arrives. Text chunks are rendered as
// markdown when they contain any; dual chunks keep both renderings.
// Chunks in the legacy string encoding are decoded first.
func (r *TicketBased) Run(ctx context.Context, inv *Invocation) (Outcome, error) {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("task_id", inv.ID, "provider", inv.Provider.Kind)

	w := &roomWriter{ctx: ctx, send: inv.Send}
	out := Outcome{Iterations: 1}
	out.Conversation.Append(RoleUser, inv.Task)

	response, err := inv.Client.SendStreaming(ctx, inv.Task, func(c llm.Chunk) {
		if c.Kind == llm.ChunkText {
			c = llm.ParseLegacyChunk(c.Text)
		}
		switch c.Kind {
		case llm.ChunkDual:
			w.dual(c.Text, c.HTML)
		default:
			w.markdown(c.Text)
		}
		if w.err != nil {
			log.Warn("progress chunk not delivered", "error", w.err)
			w.err = nil
		}
	})
	if err != nil {
		return out, err
	}

	out.Conversation.Append(RoleAssistant, response)
	out.Completed = true
	return out, nil
}
