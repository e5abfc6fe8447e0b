package bot

import (
	"context"
	"fmt"

	"github.com/anicolao/morpheum/internal/matrix"
)

// handleTask runs free text as a task with the room's provider. The
// runner reports its own progress; only failures and running out of
// iterations are added here.
func (b *Bot) handleTask(ctx context.Context, r *reply, task string, msg matrix.Message) {
	out, err := b.engine.RunTask(ctx, msg.RoomID, task, r.send)
	if err != nil {
		b.logger.Warn("task failed", "room", msg.RoomID, "sender", msg.Sender, "error", err)
		r.plain("Error: " + err.Error())
		return
	}
	if out.Exhausted {
		r.plain(fmt.Sprintf("⏹️ Stopped after %d iterations without a completion signal.", out.Iterations))
	}
}
