package gauntlet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/anicolao/morpheum/internal/agent"
	"github.com/anicolao/morpheum/internal/config"
	"github.com/anicolao/morpheum/internal/events"
	"github.com/anicolao/morpheum/internal/format"
	"github.com/anicolao/morpheum/internal/sandbox"
)

// Engine is the part of [agent.Engine] a run needs.
type Engine interface {
	Config() config.LLMConfig
	NewInvocation(p agent.Provider, task string, send format.Sender) (*agent.Invocation, error)
	Execute(ctx context.Context, inv *agent.Invocation) (agent.Outcome, error)
}

// Result is the verdict for one task.
type Result struct {
	Task       Task
	Success    bool
	Iterations int
	Exhausted  bool
	// CheckOutput is what the check command printed.
	CheckOutput string
	// Err is set when the task could not be run to completion.
	Err     error
	Elapsed time.Duration
}

// Results lists verdicts in catalog order.
type Results []Result

// Passed counts successful tasks.
func (r Results) Passed() int {
	n := 0
	for _, res := range r {
		if res.Success {
			n++
		}
	}
	return n
}

// SuccessRate is the rounded percentage of passed tasks.
func (r Results) SuccessRate() int {
	if len(r) == 0 {
		return 0
	}
	return int(math.Round(float64(r.Passed()) * 100 / float64(len(r))))
}

// Gauntlet runs evaluations.
type Gauntlet struct {
	engine   Engine
	fallback sandbox.Executor
	bus      *events.Bus
	logger   *slog.Logger
}

// New creates a Gauntlet. fallback executes tasks and checks when the
// engine has no sandbox attached.
func New(engine Engine, fallback sandbox.Executor, bus *events.Bus, logger *slog.Logger) *Gauntlet {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gauntlet{
		engine:   engine,
		fallback: fallback,
		bus:      bus,
		logger:   logger.With("component", "gauntlet"),
	}
}

// Provider builds the per-run provider for opts. The global provider
// selection is not touched.
func Provider(cfg config.LLMConfig, opts RunOptions) (agent.Provider, error) {
	if opts.Provider != config.ProviderOpenAI && opts.Provider != config.ProviderOllama {
		return agent.Provider{}, ErrProvider
	}
	p := agent.ProviderFromConfig(cfg, opts.Provider)
	p.Model = opts.Model
	if err := p.Validate(); err != nil {
		return agent.Provider{}, err
	}
	return p, nil
}

// Run evaluates opts.Model on the selected tasks. Progress messages go
// to progress; with opts.Verbose the runner's own messages are
// forwarded as well. A task that fails to run counts as failed; only
// configuration errors and cancellation abort the run.
func (g *Gauntlet) Run(ctx context.Context, opts RunOptions, progress format.Sender) (Results, error) {
	tasks := Catalog
	if opts.TaskID != "" {
		t, ok := Lookup(opts.TaskID)
		if !ok {
			return nil, fmt.Errorf("unknown task %q; use !gauntlet list to see available tasks", opts.TaskID)
		}
		tasks = []Task{t}
	}

	p, err := Provider(g.engine.Config(), opts)
	if err != nil {
		return nil, err
	}

	log := g.logger.With("model", opts.Model, "provider", opts.Provider)
	log.Info("gauntlet started", "tasks", len(tasks))

	results := make(Results, 0, len(tasks))
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := g.runTask(ctx, p, t, opts.Verbose, progress)
		if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
			return results, res.Err
		}
		results = append(results, res)

		verdict := "❌ FAIL"
		if res.Success {
			verdict = "✅ PASS"
		}
		msg := fmt.Sprintf("%s `%s`", verdict, t.ID)
		if res.Err != nil {
			msg += fmt.Sprintf(" (error: %v)", res.Err)
		}
		if err := format.SendMarkdown(ctx, progress, msg); err != nil {
			log.Warn("progress not delivered", "error", err)
		}
		g.bus.Emit(events.SourceGauntlet, events.KindTaskComplete, map[string]any{
			"task":       t.ID,
			"model":      opts.Model,
			"provider":   opts.Provider,
			"success":    res.Success,
			"iterations": res.Iterations,
			"elapsed_ms": res.Elapsed.Milliseconds(),
		})
	}

	log.Info("gauntlet finished", "passed", results.Passed(), "total", len(results))
	return results, nil
}

func (g *Gauntlet) runTask(ctx context.Context, p agent.Provider, t Task, verbose bool, progress format.Sender) Result {
	start := time.Now()
	res := Result{Task: t}
	log := g.logger.With("task", t.ID)

	if err := format.SendMarkdown(ctx, progress, fmt.Sprintf("🎯 Running task `%s` (%s)", t.ID, t.Difficulty)); err != nil {
		log.Warn("progress not delivered", "error", err)
	}

	send := format.Sender(format.SenderFunc(func(context.Context, string, string) error { return nil }))
	if verbose {
		send = progress
	}
	inv, err := g.engine.NewInvocation(p, t.Prompt, send)
	if err != nil {
		res.Err = err
		return res
	}
	if inv.Sandbox == nil {
		inv.Sandbox = g.fallback
	}
	if inv.Sandbox == nil {
		res.Err = errors.New("no sandbox available")
		return res
	}

	if t.Setup != "" {
		out := inv.Sandbox.Execute(ctx, t.Setup)
		log.Debug("setup finished", "output", out)
	}

	out, err := g.engine.Execute(ctx, inv)
	res.Iterations = out.Iterations
	res.Exhausted = out.Exhausted
	if err != nil {
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}

	res.CheckOutput = inv.Sandbox.Execute(ctx, t.Check)
	res.Success = strings.Contains(res.CheckOutput, PassMarker)
	res.Elapsed = time.Since(start)
	log.Info("task evaluated", "success", res.Success, "iterations", res.Iterations, "exhausted", res.Exhausted)
	return res
}
