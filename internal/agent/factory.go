package agent

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/anicolao/morpheum/internal/buildinfo"
	"github.com/anicolao/morpheum/internal/config"
	"github.com/anicolao/morpheum/internal/copilot"
	"github.com/anicolao/morpheum/internal/forge"
	"github.com/anicolao/morpheum/internal/httpkit"
	"github.com/anicolao/morpheum/internal/llm"
)

// BuildFunc constructs an unwrapped client for a validated provider.
type BuildFunc func(p Provider) (llm.Client, error)

// FactoryOptions configures a Factory.
type FactoryOptions struct {
	// Copilot is applied to every Copilot client the factory builds.
	// Repository-specific fields come from the Provider.
	Copilot copilot.Options
	Logger  *slog.Logger
	// Build replaces the default constructors. Tests use it to supply
	// scripted clients.
	Build BuildFunc
}

// Factory builds LLM clients for providers and keeps one metered
// client per distinct provider, so counters accumulate across tasks.
type Factory struct {
	opts   FactoryOptions
	logger *slog.Logger

	mu      sync.Mutex
	clients map[Provider]*llm.Metered
}

// NewFactory creates a Factory.
func NewFactory(opts FactoryOptions) *Factory {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		opts:    opts,
		logger:  logger,
		clients: make(map[Provider]*llm.Metered),
	}
}

// Client returns the metered client for p, building it on first use.
func (f *Factory) Client(p Provider) (*llm.Metered, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[p]; ok {
		return c, nil
	}

	build := f.opts.Build
	if build == nil {
		build = f.build
	}
	inner, err := build(p)
	if err != nil {
		return nil, err
	}
	c := llm.NewMetered(inner)
	f.clients[p] = c
	f.logger.Debug("llm client created", "provider", p.String())
	return c, nil
}

// Copilot returns the Copilot session client for p.
func (f *Factory) Copilot(p Provider) (*copilot.Client, error) {
	c, err := f.Client(p)
	if err != nil {
		return nil, err
	}
	cc, ok := c.Unwrap().(*copilot.Client)
	if !ok {
		return nil, fmt.Errorf("provider %s is not a Copilot session client", p)
	}
	return cc, nil
}

// ProviderMetrics pairs a provider with its counters.
type ProviderMetrics struct {
	Provider Provider
	Metrics  llm.Metrics
}

// Metrics returns counters for every client built so far, ordered by
// provider name.
func (f *Factory) Metrics() []ProviderMetrics {
	f.mu.Lock()
	out := make([]ProviderMetrics, 0, len(f.clients))
	for p, c := range f.clients {
		out = append(out, ProviderMetrics{Provider: p, Metrics: c.Snapshot()})
	}
	f.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Provider.String() < out[j].Provider.String()
	})
	return out
}

func (f *Factory) build(p Provider) (llm.Client, error) {
	switch p.Kind {
	case config.ProviderOpenAI:
		return llm.NewOpenAIClient(p.Credential, p.Model, p.BaseURL, nil, f.logger), nil
	case config.ProviderCopilot:
		httpClient := httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithUserAgent(buildinfo.ServiceUserAgent("github")),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(f.logger),
		)
		gh, err := forge.NewGitHub(httpClient, p.Credential, p.BaseURL, f.logger)
		if err != nil {
			return nil, err
		}
		opts := f.opts.Copilot
		if opts.Logger == nil {
			opts.Logger = f.logger
		}
		return copilot.New(gh, p.Repository, opts)
	default:
		return llm.NewOllamaClient(p.BaseURL, p.Model, f.logger), nil
	}
}
