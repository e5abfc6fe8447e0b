// Package bot routes messages addressed to the bot: `!` commands go to
// their handlers and everything else is run as a task.
package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/anicolao/morpheum/internal/agent"
	"github.com/anicolao/morpheum/internal/connwatch"
	"github.com/anicolao/morpheum/internal/format"
	"github.com/anicolao/morpheum/internal/gauntlet"
	"github.com/anicolao/morpheum/internal/matrix"
	"github.com/anicolao/morpheum/internal/project"
	"github.com/anicolao/morpheum/internal/roomconfig"
	"github.com/anicolao/morpheum/internal/sandbox"
	"github.com/anicolao/morpheum/internal/tasks"
)

// Tokens reports on and refreshes the Matrix access token.
type Tokens interface {
	Status() matrix.TokenStatus
	Refresh(ctx context.Context) (*matrix.Credentials, error)
}

// Provisioner creates jail containers for !create.
type Provisioner interface {
	Create(ctx context.Context, port int) (*sandbox.Container, error)
}

// Health reports the reachability of watched services.
type Health interface {
	Status() map[string]connwatch.ServiceStatus
}

// Options configures a Bot. Only Engine is required; commands whose
// collaborator is missing reply that the feature is unavailable.
type Options struct {
	Engine   *agent.Engine
	Resolver *roomconfig.Resolver
	Projects *project.Manager
	Gauntlet *gauntlet.Gauntlet

	Tasks        *tasks.Loader
	DevlogPath   string
	DashboardURL string

	// Tokens is nil in static token mode.
	Tokens Tokens

	Provisioner Provisioner
	// NewJail builds the executor for a container created by !create.
	NewJail func(port int) sandbox.Executor

	Health Health
	Logger *slog.Logger
	// Debug logs every routed message.
	Debug bool
}

// Bot handles routed messages. It is safe for concurrent use; each
// message runs with its own task invocation.
type Bot struct {
	opts   Options
	engine *agent.Engine
	logger *slog.Logger
}

var _ matrix.Handler = (*Bot)(nil)

// New creates a Bot.
func New(opts Options) *Bot {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DevlogPath == "" {
		opts.DevlogPath = "DEVLOG.md"
	}
	if opts.DashboardURL == "" {
		opts.DashboardURL = "https://anicolao.github.io/morpheum/status/tasks/"
	}
	return &Bot{
		opts:   opts,
		engine: opts.Engine,
		logger: logger.With("component", "bot"),
	}
}

// HandleMessage dispatches msg by prefix: !create, then !project, then
// any other ! command, and finally free text as a task.
func (b *Bot) HandleMessage(ctx context.Context, msg matrix.Message, send format.Sender) {
	if b.opts.Debug {
		b.logger.Debug("command received", "sender", msg.Sender, "room", msg.RoomID, "body", msg.Body)
	}

	r := &reply{ctx: ctx, send: send, logger: b.logger.With("room", msg.RoomID)}
	body := msg.Body
	switch {
	case strings.HasPrefix(body, "!create"):
		b.handleCreate(ctx, r, body)
	case strings.HasPrefix(body, "!project"):
		b.handleProject(ctx, r, body, msg)
	case strings.HasPrefix(body, "!"):
		b.handleInfo(ctx, r, body, msg)
	default:
		b.handleTask(ctx, r, body, msg)
	}
}

func (b *Bot) handleInfo(ctx context.Context, r *reply, body string, msg matrix.Message) {
	switch {
	case strings.HasPrefix(body, "!help"):
		r.plain(HelpText)
	case strings.HasPrefix(body, "!tasks"):
		b.handleTasks(r, body)
	case strings.HasPrefix(body, "!devlog"):
		b.handleDevlog(r)
	case strings.HasPrefix(body, "!tokens"):
		b.handleTokens(r)
	case strings.HasPrefix(body, "!token refresh"):
		b.handleTokenRefresh(ctx, r)
	case strings.HasPrefix(body, "!llm"):
		b.handleLLM(ctx, r, body, msg.RoomID)
	case strings.HasPrefix(body, "!openai"):
		b.handleDirect(ctx, r, body, "!openai", "OpenAI")
	case strings.HasPrefix(body, "!ollama"):
		b.handleDirect(ctx, r, body, "!ollama", "Ollama")
	case strings.HasPrefix(body, "!copilot"):
		b.handleCopilot(ctx, r, body)
	case strings.HasPrefix(body, "!gauntlet"):
		b.handleGauntlet(ctx, r, body)
	default:
		b.logger.Debug("unknown command ignored", "body", body)
	}
}

// reply sends messages to the originating room and logs, rather than
// returns, delivery failures.
type reply struct {
	ctx    context.Context
	send   format.Sender
	logger *slog.Logger
}

func (r *reply) plain(text string) {
	if err := format.SendPlain(r.ctx, r.send, text); err != nil {
		r.logger.Warn("reply not delivered", "error", err)
	}
}

func (r *reply) markdown(text string) {
	if err := format.SendMarkdown(r.ctx, r.send, text); err != nil {
		r.logger.Warn("reply not delivered", "error", err)
	}
}

// rendered sends text with its HTML rendering regardless of whether it
// looks like markdown.
func (r *reply) rendered(text string) {
	if err := r.send.Send(r.ctx, text, format.ToHTML(text)); err != nil {
		r.logger.Warn("reply not delivered", "error", err)
	}
}

func (r *reply) dual(text, html string) {
	if err := r.send.Send(r.ctx, text, html); err != nil {
		r.logger.Warn("reply not delivered", "error", err)
	}
}

// fields splits a command on whitespace.
func fields(body string) []string {
	return strings.Fields(body)
}

func arg(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return ""
}
