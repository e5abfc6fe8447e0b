// Package agent runs tasks against the configured LLM provider. A task
// gets its own [Invocation] built from a snapshot of the engine's
// provider selection and the room's project override, so concurrent
// tasks in different rooms never observe each other's configuration.
package agent

import (
	"errors"
	"fmt"

	"github.com/anicolao/morpheum/internal/config"
	"github.com/anicolao/morpheum/internal/roomconfig"
)

// ErrNoRepository is returned when Copilot is selected without a
// target repository.
var ErrNoRepository = errors.New("repository is required for Copilot. Use: !llm switch copilot <owner/repo>")

// Mode selects how a task is executed.
type Mode int

const (
	// ModeIterative drives the plan/execute loop with sandbox commands.
	ModeIterative Mode = iota
	// ModeTicketBased hands the task to an asynchronous session that
	// reports progress as it goes.
	ModeTicketBased
)

func (m Mode) String() string {
	if m == ModeTicketBased {
		return "ticket"
	}
	return "iterative"
}

// Provider identifies one LLM backend configuration. Exactly one of
// Model (openai, ollama) or Repository (copilot) is meaningful.
type Provider struct {
	Kind       string
	Model      string
	Repository string
	BaseURL    string
	Credential string
}

// Mode reports how tasks for p are executed.
func (p Provider) Mode() Mode {
	if p.Kind == config.ProviderCopilot {
		return ModeTicketBased
	}
	return ModeIterative
}

// Identifier is the model name, or the repository for Copilot.
func (p Provider) Identifier() string {
	if p.Kind == config.ProviderCopilot {
		return p.Repository
	}
	return p.Model
}

// String renders p as "kind (identifier)".
func (p Provider) String() string {
	return fmt.Sprintf("%s (%s)", p.Kind, p.Identifier())
}

// Validate checks that p can be used to build a client.
func (p Provider) Validate() error {
	switch p.Kind {
	case config.ProviderOpenAI:
		if p.Credential == "" {
			return config.ErrNoOpenAIKey
		}
	case config.ProviderOllama:
	case config.ProviderCopilot:
		if p.Credential == "" {
			return config.ErrNoGitHubToken
		}
		if p.Repository == "" {
			return ErrNoRepository
		}
	default:
		return fmt.Errorf("unknown provider %q", p.Kind)
	}
	return nil
}

// ProviderFromConfig builds the Provider for kind from the configured
// backends.
func ProviderFromConfig(cfg config.LLMConfig, kind string) Provider {
	switch kind {
	case config.ProviderOpenAI:
		return Provider{
			Kind:       kind,
			Model:      cfg.OpenAI.Model,
			BaseURL:    cfg.OpenAI.BaseURL,
			Credential: cfg.OpenAI.APIKey,
		}
	case config.ProviderCopilot:
		return Provider{
			Kind:       kind,
			Repository: cfg.Copilot.Repository,
			BaseURL:    cfg.Copilot.BaseURL,
			Credential: cfg.Copilot.Token,
		}
	default:
		return Provider{
			Kind:    config.ProviderOllama,
			Model:   cfg.Ollama.Model,
			BaseURL: cfg.Ollama.BaseURL,
		}
	}
}

// ApplyOverride derives the provider a task in a project room uses.
// base is returned unchanged, with a non-nil error, when the override
// cannot be applied; the caller logs the error and proceeds with base.
// Overrides for providers other than copilot are ignored.
func ApplyOverride(base Provider, o roomconfig.Override, cfg config.LLMConfig) (Provider, error) {
	if o.LLMProvider != config.ProviderCopilot {
		return base, nil
	}
	p := ProviderFromConfig(cfg, config.ProviderCopilot)
	p.Repository = o.Repository
	if err := p.Validate(); err != nil {
		return base, fmt.Errorf("apply project config for %s: %w", o.Repository, err)
	}
	return p, nil
}

// RoomProvider returns the provider a task in a room with override o
// runs on, and whether the override took effect. Only Copilot
// overrides take effect; one that fails validation leaves base in
// place and returns the reason.
func RoomProvider(base Provider, o roomconfig.Override, cfg config.LLMConfig) (Provider, bool, error) {
	if o.LLMProvider != config.ProviderCopilot {
		return base, false, nil
	}
	p, err := ApplyOverride(base, o, cfg)
	if err != nil {
		return base, false, err
	}
	return p, true, nil
}
