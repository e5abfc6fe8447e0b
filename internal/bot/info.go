package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/anicolao/morpheum/internal/matrix"
	"github.com/anicolao/morpheum/internal/tasks"
)

// HelpText is the reply to !help and to a bare mention.
const HelpText = "Hello! I am the Morpheum Bot. I am still under development.\n" +
	"\n" +
	"Available commands:\n" +
	"- `!help` - Show this help message\n" +
	"- `!tasks` - Show current tasks\n" +
	"- `!tasks summary` - Show task summary statistics\n" +
	"- `!tasks search <query>` - Search tasks by keyword\n" +
	"- `!devlog` - Show development log\n" +
	"- `!tokens` - Show Matrix authentication token status\n" +
	"- `!token refresh` - Manually refresh Matrix authentication token\n" +
	"- `!llm status` - Show current LLM provider and configuration\n" +
	"- `!llm switch openai [model] [baseUrl]` - Switch to OpenAI (requires OPENAI_API_KEY env var)\n" +
	"- `!llm switch ollama [model] [baseUrl]` - Switch to Ollama\n" +
	"- `!llm switch copilot <repository>` - Switch to GitHub Copilot (requires GITHUB_TOKEN env var)\n" +
	"- `!openai <prompt>` - Send a direct prompt to OpenAI (requires API key)\n" +
	"- `!ollama <prompt>` - Send a direct prompt to Ollama\n" +
	"- `!copilot status [session-id]` - Check copilot session status\n" +
	"- `!copilot list` - List active copilot sessions\n" +
	"- `!copilot cancel <session-id>` - Cancel a copilot session\n" +
	"- `!project create <git-url>` - Create a new project room for a GitHub repository\n" +
	"- `!project create --new <repo-name>` - Create a new GitHub repository and project room\n" +
	"- `!project status <git-url>` - Show repository statistics and information\n" +
	"- `!create [port]` - Create a new sandbox container and send tasks to it\n" +
	"- `!gauntlet help` - Show gauntlet evaluation help\n" +
	"- `!gauntlet list` - List available gauntlet tasks\n" +
	"- `!gauntlet run --model <model> [--provider <openai|ollama>] [--task <task>]` - Run gauntlet evaluation (supports Unicode dashes like —model)\n" +
	"\n" +
	"For regular tasks, just type your request without a command prefix."

// maxSearchResults caps the tasks listed by !tasks search.
const maxSearchResults = 5

func (b *Bot) handleTasks(r *reply, body string) {
	if b.opts.Tasks == nil {
		r.plain("Task files are not configured.")
		return
	}
	parts := fields(body)

	switch arg(parts, 1) {
	case "":
		all, err := b.opts.Tasks.Load()
		if err != nil {
			b.logger.Warn("task files not loaded", "dir", b.opts.Tasks.Dir(), "error", err)
			r.plain("Error loading tasks.")
			return
		}
		r.rendered(tasks.AssembleMarkdown(tasks.Uncompleted(all)))
	case "summary":
		b.handleTasksSummary(r)
	case "search":
		b.handleTasksSearch(r, parts[2:])
	default:
		r.plain("Unknown tasks subcommand. Available: summary, search")
	}
}

func (b *Bot) handleTasksSummary(r *reply) {
	all, err := b.opts.Tasks.Load()
	if err != nil {
		b.logger.Warn("task files not loaded", "dir", b.opts.Tasks.Dir(), "error", err)
		r.plain("Error retrieving task summary.")
		return
	}
	s := tasks.Summarize(all)

	var sb strings.Builder
	sb.WriteString("📊 **Project Summary**\n\n")
	fmt.Fprintf(&sb, "• **Open Tasks:** %d\n", s.Open)
	fmt.Fprintf(&sb, "• **Completed Tasks:** %d\n", s.Completed)
	fmt.Fprintf(&sb, "• **Active Phases:** %d\n\n", len(s.ByPhase))
	sb.WriteString("**By Phase:**\n")
	phases := make([]string, len(s.ByPhase))
	for i, c := range s.ByPhase {
		phases[i] = fmt.Sprintf("  • %s: %d tasks", c.Name, c.Count)
	}
	sb.WriteString(strings.Join(phases, "\n"))
	fmt.Fprintf(&sb, "\n\n[View Full Dashboard](%s)", b.opts.DashboardURL)
	r.markdown(sb.String())
}

func (b *Bot) handleTasksSearch(r *reply, args []string) {
	if len(args) == 0 {
		r.plain("Usage: !tasks search <query>")
		return
	}
	query := strings.Join(args, " ")

	all, err := b.opts.Tasks.Load()
	if err != nil {
		b.logger.Warn("task files not loaded", "dir", b.opts.Tasks.Dir(), "error", err)
		r.plain("Error searching tasks.")
		return
	}
	results := tasks.Search(all, query, tasks.Filter{Status: []string{"open", "in-progress"}})
	if len(results) == 0 {
		r.markdown(fmt.Sprintf("🔍 **Search Results**\n\nNo tasks found matching %q", query))
		return
	}

	shown := results
	if len(shown) > maxSearchResults {
		shown = shown[:maxSearchResults]
	}
	items := make([]string, len(shown))
	for i, t := range shown {
		phase := t.Phase
		if phase == "" {
			phase = "None"
		}
		items[i] = fmt.Sprintf("%d. **%s** (%s)\n   Phase: %s", i+1, t.Title, t.Status, phase)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 **Search Results** (%d found)\n\n", len(results))
	sb.WriteString(strings.Join(items, "\n\n"))
	if n := len(results) - len(shown); n > 0 {
		fmt.Fprintf(&sb, "\n\n... and %d more results", n)
	}
	fmt.Fprintf(&sb, "\n\n[View All Results](%s)", b.opts.DashboardURL)
	r.markdown(sb.String())
}

func (b *Bot) handleDevlog(r *reply) {
	content, err := os.ReadFile(b.opts.DevlogPath)
	if err != nil {
		b.logger.Warn("devlog not read", "path", b.opts.DevlogPath, "error", err)
		r.plain("Error reading development log.")
		return
	}
	r.rendered(string(content))
}

func (b *Bot) handleTokens(r *reply) {
	if b.opts.Tokens == nil {
		r.plain("Matrix Token Status: Static token mode\n" +
			"- Authentication: Using ACCESS_TOKEN environment variable\n" +
			"- Automatic refresh: Not available (requires MATRIX_USERNAME and MATRIX_PASSWORD)\n" +
			"- Recommendation: Set MATRIX_USERNAME and MATRIX_PASSWORD environment variables to enable automatic token refresh")
		return
	}

	st := b.opts.Tokens.Status()
	verdict := "⚠️  Token refresh may not work properly - ensure MATRIX_USERNAME and MATRIX_PASSWORD are set"
	if st.HasCredentials && st.HasAccessToken {
		verdict = "✅ Automatic token refresh is enabled and working"
	}
	r.plain(fmt.Sprintf("Matrix Token Status:\n"+
		"- Access Token: %s\n"+
		"- Refresh Token: %s\n"+
		"- Credentials: %s\n"+
		"- Refresh Status: %s\n\n%s",
		pick(st.HasAccessToken, "✅ Available", "❌ Not available"),
		pick(st.HasRefreshToken, "✅ Available", "❌ Not available"),
		pick(st.HasCredentials, "✅ Username/password configured", "❌ Username/password not configured"),
		pick(st.RefreshInProgress, "🔄 Refresh in progress", "⏸️ Idle"),
		verdict))
}

func (b *Bot) handleTokenRefresh(ctx context.Context, r *reply) {
	if b.opts.Tokens == nil {
		r.plain("❌ Manual token refresh not available\n" +
			"- Current mode: Static token (ACCESS_TOKEN only)\n" +
			"- To enable refresh: Set MATRIX_USERNAME and MATRIX_PASSWORD environment variables and restart bot")
		return
	}

	st := b.opts.Tokens.Status()
	if !st.HasCredentials {
		r.plain("❌ Cannot refresh token: Missing credentials\n" +
			"- MATRIX_USERNAME and MATRIX_PASSWORD environment variables are required for token refresh\n" +
			"- Current configuration only supports static ACCESS_TOKEN mode")
		return
	}
	if st.RefreshInProgress {
		r.plain("⚠️ Token refresh already in progress, please wait...")
		return
	}

	r.plain("🔄 Starting manual token refresh...")
	creds, err := b.opts.Tokens.Refresh(ctx)
	if errors.Is(err, matrix.ErrRefreshInProgress) {
		r.plain("⚠️ Token refresh already in progress, please wait...")
		return
	}
	if err != nil {
		r.plain(fmt.Sprintf("❌ Token refresh failed: %v", err))
		return
	}

	expires := "Unknown"
	if creds.ExpiresInMS > 0 {
		expires = fmt.Sprintf("%d minutes", int(math.Round(float64(creds.ExpiresInMS)/1000/60)))
	}
	device := creds.DeviceID
	if device == "" {
		device = "Not provided"
	}
	r.plain(fmt.Sprintf("✅ Token refresh successful!\n"+
		"- New access token: Obtained\n"+
		"- Refresh token: %s\n"+
		"- Expires: %s\n"+
		"- Device ID: %s",
		pick(creds.RefreshToken != "", "Updated", "Not provided by server"), expires, device))
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
