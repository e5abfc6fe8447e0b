package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anicolao/morpheum/internal/events"
	"github.com/anicolao/morpheum/internal/format"
	"github.com/anicolao/morpheum/internal/llm"
)

// MaxIterations bounds the plan/execute loop.
const MaxIterations = 10

const completedNotice = "✓ Job's done!"

// Iterative is the synchronous plan/execute runner. Each iteration asks
// the model for a plan and a command, runs at most one command in the
// sandbox and feeds its output back.
type Iterative struct {
	MaxIterations int
	Bus           *events.Bus
	Logger        *slog.Logger
}

func (r *Iterative) limit() int {
	if r.MaxIterations > 0 {
		return r.MaxIterations
	}
	return MaxIterations
}

func (r *Iterative) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run drives the loop until the model signals completion, stops
// issuing commands, or the iteration limit is reached. Reaching the
// limit is not an error; Outcome.Exhausted reports it.
func (r *Iterative) Run(ctx context.Context, inv *Invocation) (Outcome, error) {
	log := r.logger().With("task_id", inv.ID, "provider", inv.Provider.Kind)
	w := &roomWriter{ctx: ctx, send: inv.Send}

	out := Outcome{}
	out.Conversation.Append(RoleSystem, SystemPrompt)
	out.Conversation.Append(RoleUser, inv.Task)

	for i := range r.limit() {
		n := i + 1
		out.Iterations = n
		r.Bus.Emit(events.SourceAgent, events.KindIteration, map[string]any{
			"task_id":   inv.ID,
			"iteration": n,
		})

		w.plain(fmt.Sprintf("🧠 Iteration %d: Analyzing and planning...", n))
		if w.err != nil {
			return out, fmt.Errorf("send progress: %w", w.err)
		}

		response, err := inv.Client.SendStreaming(ctx, out.Conversation.Prompt(), llm.Discard)
		if err != nil {
			log.Warn("model request failed", "iteration", n, "error", err)
			return out, err
		}
		log.Debug("model responded", "iteration", n, "chars", len(response))

		w.plain("💭 Analysis complete. Processing response...")
		out.Conversation.Append(RoleAssistant, response)

		plan, next := ParsePlanAndNextStep(response)
		if plan != "" {
			w.markdown("📋 **Plan:**\n\n" + plan)
		}
		if next != "" {
			w.markdown("🎯 **Next Step:**\n\n" + next)
			if strings.Contains(next, CompletionPhrase) {
				w.plain(completedNotice)
				out.Completed = true
				return out, w.err
			}
		}

		cmds := ParseBashCommands(response)
		if len(cmds) == 0 {
			w.plain(completedNotice)
			out.Completed = true
			return out, w.err
		}

		w.markdown(format.ExecutingCommand(cmds[0]))
		output := r.execute(ctx, inv, n, cmds[0])
		out.Conversation.Append(RoleTool, output)
		w.markdown(format.CommandOutput(output))

		if strings.Contains(output, CompletionPhrase) {
			w.plain(completedNotice)
			out.Completed = true
			return out, w.err
		}
		if w.err != nil {
			return out, fmt.Errorf("send progress: %w", w.err)
		}
	}

	log.Info("iteration limit reached", "iterations", out.Iterations)
	out.Exhausted = true
	return out, nil
}

func (r *Iterative) execute(ctx context.Context, inv *Invocation, iteration int, command string) string {
	if inv.Sandbox == nil {
		return "Error: no sandbox configured"
	}
	start := time.Now()
	output := inv.Sandbox.Execute(ctx, command)
	r.Bus.Emit(events.SourceAgent, events.KindCommand, map[string]any{
		"task_id":      inv.ID,
		"iteration":    iteration,
		"output_chars": len(output),
		"duration_ms":  time.Since(start).Milliseconds(),
	})
	return output
}
