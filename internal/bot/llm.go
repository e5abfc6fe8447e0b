package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anicolao/morpheum/internal/agent"
	"github.com/anicolao/morpheum/internal/config"
	"github.com/anicolao/morpheum/internal/copilot"
	"github.com/anicolao/morpheum/internal/llm"
	"github.com/anicolao/morpheum/internal/roomconfig"
)

const (
	switchUsage  = "Usage: !llm switch <openai|ollama|copilot> [model] [baseUrl] or !llm switch copilot <repository>"
	copilotUsage = "Usage: !copilot <status|list|cancel> [session-id]"
)

func (b *Bot) handleLLM(ctx context.Context, r *reply, body, roomID string) {
	parts := fields(body)
	switch arg(parts, 1) {
	case "status":
		r.markdown(b.llmStatus(ctx, roomID))
	case "switch":
		b.handleSwitch(r, parts)
	default:
		r.plain("Usage: !llm <status|switch>")
	}
}

// llmStatus renders the provider a task in roomID would use, the
// configured backends, service health and per-client counters.
func (b *Bot) llmStatus(ctx context.Context, roomID string) string {
	var (
		o       roomconfig.Override
		project bool
	)
	if b.opts.Resolver != nil && roomID != "" {
		o, project = b.opts.Resolver.Resolve(ctx, roomID)
	}

	cfg := b.engine.Config()
	current := b.engine.Current()
	source := "global configuration"
	var (
		applied     bool
		overrideErr error
	)
	if project {
		var p agent.Provider
		p, applied, overrideErr = agent.RoomProvider(current, o, cfg)
		if applied {
			current, source = p, "project room configuration"
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Current Provider: %s (from %s)", current.Kind, source)

	if project {
		fmt.Fprintf(&sb, "\n\n**🏗️ Project Room Configuration:**\n"+
			"This room has project-specific settings that override global config for tasks:\n"+
			"- Repository: %s\n- LLM Provider: %s\n- Created by: %s\n- Created at: %s\n\n",
			o.Repository, o.LLMProvider, o.CreatedBy, o.CreatedAt)
		switch {
		case applied:
			fmt.Fprintf(&sb, "*Note: Tasks in this room will automatically use Copilot with repository '%s'*", o.Repository)
		case overrideErr != nil:
			fmt.Fprintf(&sb, "*Note: The project configuration cannot be applied (%v), so tasks in this room use %s*", overrideErr, current)
		default:
			fmt.Fprintf(&sb, "*Note: Tasks in this room use the global provider %s*", current)
		}
	}

	repo := cfg.Copilot.Repository
	if repo == "" {
		repo = "not configured"
	}
	fmt.Fprintf(&sb, "\n\n**Available Providers:**\n"+
		"- OpenAI: model=%s, baseUrl=%s, apiKey=%s\n"+
		"- Ollama: model=%s, baseUrl=%s\n"+
		"- Copilot: repository=%s, baseUrl=%s, apiKey=%s",
		cfg.OpenAI.Model, cfg.OpenAI.BaseURL, configured(cfg.OpenAI.APIKey),
		cfg.Ollama.Model, cfg.Ollama.BaseURL,
		repo, cfg.Copilot.BaseURL, configured(cfg.Copilot.Token))

	if b.opts.Health != nil {
		if st := b.opts.Health.Status(); len(st) > 0 {
			names := make([]string, 0, len(st))
			for name := range st {
				names = append(names, name)
			}
			sort.Strings(names)
			sb.WriteString("\n\n**Health:**")
			for _, name := range names {
				s := st[name]
				if s.Ready {
					fmt.Fprintf(&sb, "\n- %s: ✅ reachable", name)
				} else if s.LastError != "" {
					fmt.Fprintf(&sb, "\n- %s: ❌ unreachable (%s)", name, s.LastError)
				} else {
					fmt.Fprintf(&sb, "\n- %s: ❌ unreachable", name)
				}
			}
		}
	}

	if metrics := b.engine.Factory().Metrics(); len(metrics) > 0 {
		sb.WriteString("\n\n**Metrics:**")
		for _, pm := range metrics {
			sb.WriteString("\n- " + formatMetrics(pm.Provider, pm.Metrics))
		}
	}
	return sb.String()
}

func formatMetrics(p agent.Provider, m llm.Metrics) string {
	s := fmt.Sprintf("%s: %d requests, %d errors, %d chunks, %d chars",
		p, m.Requests, m.Errors, m.Chunks, m.Chars)
	if !m.LastRequest.IsZero() {
		s += fmt.Sprintf(", last latency %s", m.LastLatency.Round(time.Millisecond))
	}
	return s
}

func configured(secret string) string {
	if secret == "" {
		return "not configured"
	}
	return "configured"
}

func (b *Bot) handleSwitch(r *reply, parts []string) {
	kind := arg(parts, 2)
	switch kind {
	case config.ProviderOpenAI, config.ProviderOllama, config.ProviderCopilot:
	default:
		r.plain(switchUsage)
		return
	}

	p := agent.ProviderFromConfig(b.engine.Config(), kind)
	if kind == config.ProviderCopilot {
		if repo := arg(parts, 3); repo != "" {
			p.Repository = repo
		}
	} else {
		if model := arg(parts, 3); model != "" {
			p.Model = model
		}
		if baseURL := arg(parts, 4); baseURL != "" {
			p.BaseURL = baseURL
		}
	}

	if err := b.engine.Switch(p); err != nil {
		if errors.Is(err, agent.ErrNoRepository) {
			r.plain("Error: Repository is required for Copilot. Use: !llm switch copilot <owner/repo>")
			return
		}
		r.plain(fmt.Sprintf("Error switching LLM provider: %v", err))
		return
	}

	if kind == config.ProviderCopilot {
		r.plain(fmt.Sprintf("Switched to %s (repository: %s, baseUrl: %s)", kind, p.Repository, p.BaseURL))
		return
	}
	r.plain(fmt.Sprintf("Switched to %s (model: %s, baseUrl: %s)", kind, p.Model, p.BaseURL))
}

// handleDirect sends the rest of body straight to the named backend and
// streams its answer to the room. The global selection is not changed.
func (b *Bot) handleDirect(ctx context.Context, r *reply, body, command, name string) {
	prompt := strings.TrimSpace(strings.TrimPrefix(body, command))
	if prompt == "" {
		r.plain(fmt.Sprintf("Usage: %s <prompt>", command))
		return
	}

	kind := strings.TrimPrefix(command, "!")
	client, err := b.engine.Factory().Client(agent.ProviderFromConfig(b.engine.Config(), kind))
	if err != nil {
		r.plain("Error: " + err.Error())
		return
	}

	r.plain(fmt.Sprintf("🤖 %s is thinking...", name))
	_, err = client.SendStreaming(ctx, prompt, func(c llm.Chunk) {
		if c.Kind == llm.ChunkDual {
			r.dual(c.Text, c.HTML)
			return
		}
		r.plain(c.Text)
	})
	if err != nil {
		r.plain(fmt.Sprintf("Error calling %s: %v", name, err))
		return
	}
	r.plain(fmt.Sprintf("\n✅ %s completed.", name))
}

func (b *Bot) handleCopilot(ctx context.Context, r *reply, body string) {
	parts := fields(body)
	sub := arg(parts, 1)
	if sub == "" {
		r.plain(copilotUsage)
		return
	}

	current := b.engine.Current()
	if current.Kind != config.ProviderCopilot {
		r.plain("Error: Not currently using Copilot provider. Use `!llm switch copilot <repository>` first.")
		return
	}
	cc, err := b.engine.Factory().Copilot(current)
	if err != nil {
		r.plain(fmt.Sprintf("Error executing Copilot command: %v", err))
		return
	}

	switch sub {
	case "status":
		id := arg(parts, 2)
		if id == "" {
			r.plain(fmt.Sprintf("📊 Copilot Integration Status:\n"+
				"- Provider: %s\n- Repository: %s\n- Base URL: %s\n- Token: %s",
				current.Kind, current.Repository, current.BaseURL, configured(current.Credential)))
			return
		}
		r.plain("📊 Checking status for session: " + id)
		s, err := cc.SessionStatus(ctx, id)
		if errors.Is(err, copilot.ErrSessionNotFound) {
			r.plain(fmt.Sprintf("Session %s not found.", id))
			return
		}
		if err != nil {
			r.plain(fmt.Sprintf("Error executing Copilot command: %v", err))
			return
		}
		msg := fmt.Sprintf("Session %s status: %s", id, s.Status)
		if s.PRURL != "" {
			msg += "\nPull request: " + s.PRURL
		} else if s.IssueURL != "" {
			msg += "\nIssue: " + s.IssueURL
		}
		r.plain(msg)

	case "list":
		r.plain("📋 Listing active Copilot sessions...")
		sessions := cc.ActiveSessions(ctx)
		if len(sessions) == 0 {
			r.plain("No active Copilot sessions found.")
			return
		}
		lines := make([]string, len(sessions))
		for i, s := range sessions {
			lines[i] = fmt.Sprintf("- %s: %s", s.ID, s.Status)
		}
		r.plain("Active sessions:\n" + strings.Join(lines, "\n"))

	case "cancel":
		id := arg(parts, 2)
		if id == "" {
			r.plain("Usage: !copilot cancel <session-id>")
			return
		}
		r.plain("❌ Cancelling session: " + id)
		if err := cc.CancelSession(ctx, id); err != nil {
			b.logger.Warn("copilot session not cancelled", "session", id, "error", err)
			r.plain(fmt.Sprintf("❌ Failed to cancel session %s.", id))
			return
		}
		r.plain(fmt.Sprintf("✅ Session %s cancelled successfully.", id))

	default:
		r.plain(copilotUsage)
	}
}
