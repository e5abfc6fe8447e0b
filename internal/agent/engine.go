package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anicolao/morpheum/internal/config"
	"github.com/anicolao/morpheum/internal/events"
	"github.com/anicolao/morpheum/internal/format"
	"github.com/anicolao/morpheum/internal/roomconfig"
	"github.com/anicolao/morpheum/internal/sandbox"
)

// Resolver looks up a room's project override.
type Resolver interface {
	Resolve(ctx context.Context, roomID string) (roomconfig.Override, bool)
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Resolver      Resolver
	Factory       *Factory
	Sandbox       sandbox.Executor
	Bus           *events.Bus
	Logger        *slog.Logger
	MaxIterations int
}

// Engine owns the global provider selection and starts tasks. Tasks
// read a snapshot of the selection; nothing a task does writes to it.
type Engine struct {
	resolver  Resolver
	factory   *Factory
	bus       *events.Bus
	logger    *slog.Logger
	iterative *Iterative
	ticket    *TicketBased

	mu      sync.RWMutex
	cfg     config.LLMConfig
	current Provider
	sandbox sandbox.Executor
}

// NewEngine creates an Engine selecting cfg.Provider.
func NewEngine(cfg config.LLMConfig, opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "agent")
	factory := opts.Factory
	if factory == nil {
		factory = NewFactory(FactoryOptions{Logger: logger})
	}
	return &Engine{
		resolver:  opts.Resolver,
		factory:   factory,
		bus:       opts.Bus,
		logger:    logger,
		iterative: &Iterative{MaxIterations: opts.MaxIterations, Bus: opts.Bus, Logger: logger},
		ticket:    &TicketBased{Logger: logger},
		cfg:       cfg,
		current:   ProviderFromConfig(cfg, cfg.Provider),
		sandbox:   opts.Sandbox,
	}
}

// Current returns the global provider selection.
func (e *Engine) Current() Provider {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Config returns the backend configuration, including models and
// repositories chosen by earlier switches.
func (e *Engine) Config() config.LLMConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Factory returns the client factory.
func (e *Engine) Factory() *Factory { return e.factory }

// Switch validates p and makes it the global selection. The backend
// configuration remembers p's model or repository, so a later switch
// back to the same kind without arguments restores it.
func (e *Engine) Switch(p Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	switch p.Kind {
	case config.ProviderOpenAI:
		e.cfg.OpenAI.Model, e.cfg.OpenAI.BaseURL = p.Model, p.BaseURL
	case config.ProviderOllama:
		e.cfg.Ollama.Model, e.cfg.Ollama.BaseURL = p.Model, p.BaseURL
	case config.ProviderCopilot:
		e.cfg.Copilot.Repository, e.cfg.Copilot.BaseURL = p.Repository, p.BaseURL
	}
	e.cfg.Provider = p.Kind
	e.current = p
	e.mu.Unlock()

	e.logger.Info("provider switched", "provider", p.String())
	e.bus.Emit(events.SourceBot, events.KindProviderSwitch, map[string]any{"provider": p.String()})
	return nil
}

// Sandbox returns the executor new tasks run commands in.
func (e *Engine) Sandbox() sandbox.Executor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sandbox
}

// SetSandbox retargets future tasks. Running tasks keep the executor
// they started with.
func (e *Engine) SetSandbox(x sandbox.Executor) {
	e.mu.Lock()
	e.sandbox = x
	e.mu.Unlock()
}

// Runner returns the runner for mode.
func (e *Engine) Runner(mode Mode) Runner {
	if mode == ModeTicketBased {
		return e.ticket
	}
	return e.iterative
}

// NewInvocation builds an invocation for task using provider p.
func (e *Engine) NewInvocation(p Provider, task string, send format.Sender) (*Invocation, error) {
	client, err := e.factory.Client(p)
	if err != nil {
		return nil, err
	}
	return &Invocation{
		ID:       newTaskID(),
		Task:     task,
		Provider: p,
		Client:   client,
		Sandbox:  e.Sandbox(),
		Send:     send,
	}, nil
}

// Prepare builds the invocation for a task in roomID: the global
// selection, replaced by the room's project override when one applies.
// A failing override is logged and the global selection is used.
func (e *Engine) Prepare(ctx context.Context, roomID, task string, send format.Sender) (*Invocation, error) {
	p := e.Current()
	fromRoom := false
	if e.resolver != nil {
		if o, ok := e.resolver.Resolve(ctx, roomID); ok {
			derived, applied, err := RoomProvider(p, o, e.Config())
			if err != nil {
				e.logger.Warn("project config not applied", "room", roomID, "error", err)
			}
			p, fromRoom = derived, applied
		}
	}

	inv, err := e.NewInvocation(p, task, send)
	if err != nil {
		return nil, err
	}
	inv.RoomID = roomID
	inv.FromRoom = fromRoom
	return inv, nil
}

// RunTask prepares and runs task for roomID. It announces the task,
// picks the runner by the provider's mode and publishes start and
// completion events. A panic inside the runner is returned as an error.
func (e *Engine) RunTask(ctx context.Context, roomID, task string, send format.Sender) (Outcome, error) {
	inv, err := e.Prepare(ctx, roomID, task, send)
	if err != nil {
		return Outcome{}, err
	}
	return e.Execute(ctx, inv)
}

// Execute runs a prepared invocation.
func (e *Engine) Execute(ctx context.Context, inv *Invocation) (out Outcome, err error) {
	p := inv.Provider
	log := e.logger.With("task_id", inv.ID, "room", inv.RoomID, "provider", p.String())

	announce := fmt.Sprintf("🚀 Working on: %q using %s (%s)...", inv.Task, p.Kind, p.Identifier())
	if err := format.SendPlain(ctx, inv.Send, announce); err != nil {
		return Outcome{}, fmt.Errorf("send progress: %w", err)
	}

	mode := p.Mode()
	start := time.Now()
	log.Info("task started", "mode", mode.String(), "from_room", inv.FromRoom)
	e.bus.Emit(events.SourceAgent, events.KindTaskStart, map[string]any{
		"task_id":  inv.ID,
		"room":     inv.RoomID,
		"provider": p.String(),
		"mode":     mode.String(),
	})

	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", r)
		}

		elapsed := time.Since(start)
		kind := events.KindTaskComplete
		if mode == ModeTicketBased {
			kind = events.KindSessionComplete
		}
		e.bus.Emit(events.SourceAgent, kind, map[string]any{
			"task_id":    inv.ID,
			"provider":   p.String(),
			"iterations": out.Iterations,
			"exhausted":  out.Exhausted,
			"ok":         err == nil,
			"elapsed_ms": elapsed.Milliseconds(),
		})
		log.Info("task finished",
			"iterations", out.Iterations,
			"completed", out.Completed,
			"exhausted", out.Exhausted,
			"elapsed", elapsed.Round(time.Millisecond),
			"error", err,
		)
	}()

	return e.Runner(mode).Run(ctx, inv)
}

func newTaskID() string {
	return "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
