package gauntlet

import (
	"fmt"
	"strings"
)

// HelpText is the `!gauntlet help` body.
func HelpText() string {
	var b strings.Builder
	b.WriteString("🏆 **Gauntlet - AI Model Evaluation**\n\n")
	b.WriteString("**Usage:**\n")
	b.WriteString("- `" + RunUsage + "` - Run gauntlet evaluation\n")
	b.WriteString("- `!gauntlet list` - List available tasks\n")
	b.WriteString("- `!gauntlet help` - Show this help message\n\n")
	b.WriteString("**Options:**\n")
	b.WriteString("- `--model <model>` - Required. The model name to evaluate\n")
	b.WriteString("- `--provider <openai|ollama>` - Optional. LLM provider to use (defaults to ollama)\n")
	b.WriteString("- `--task <task>` - Optional. Specific task ID to run (runs all tasks if not specified)\n")
	b.WriteString("- `--verbose` - Optional. Enable verbose output\n\n")
	b.WriteString("**Unicode Dash Support:**\n")
	b.WriteString("All arguments support Unicode dashes (— or –) which are automatically converted to regular dashes.\n")
	b.WriteString("Examples: `—model`, `–verbose`, `—provider` work the same as `--model`, `--verbose`, `--provider`.\n\n")
	b.WriteString("**Available Tasks:**\n")
	for _, t := range Catalog {
		fmt.Fprintf(&b, "- `%s` - %s (%s)\n", t.ID, t.Summary, t.Difficulty)
	}
	b.WriteString("\n**Examples:**\n")
	b.WriteString("- `!gauntlet run --model gpt-4 --provider openai` - Run all tasks with GPT-4 via OpenAI\n")
	b.WriteString("- `!gauntlet run --model llama2 --provider ollama --task add-jq` - Run specific task with Ollama\n")
	b.WriteString("- `!gauntlet run --model llama3 --verbose` - Run with verbose output (defaults to ollama)\n\n")
	b.WriteString("⚠️ **Note:** Gauntlet only works with OpenAI and Ollama providers, not Copilot.")
	return b.String()
}

// ListText is the `!gauntlet list` body.
func ListText() string {
	var b strings.Builder
	b.WriteString("📋 **Available Gauntlet Tasks:**\n")
	var cat Category
	for _, t := range Catalog {
		if t.Category != cat {
			cat = t.Category
			fmt.Fprintf(&b, "\n**%s:**\n", cat)
		}
		fmt.Fprintf(&b, "- `%s` (%s) - %s\n", t.ID, t.Difficulty, t.Description)
	}
	b.WriteString("\nUse `!gauntlet run --model <model> --task <task-id>` to run a specific task.")
	return b.String()
}

// StartText announces a run.
func StartText(opts RunOptions) string {
	scope := " (all tasks)"
	if opts.TaskID != "" {
		scope = fmt.Sprintf(" (task: %s)", opts.TaskID)
	}
	return fmt.Sprintf("🏆 Starting Gauntlet evaluation with provider: %s, model: %s%s...", opts.Provider, opts.Model, scope)
}

// FormatResults renders the summary posted after a run.
func FormatResults(opts RunOptions, results Results) string {
	tasks := opts.TaskID
	if tasks == "" {
		tasks = "All tasks"
	}
	lines := make([]string, len(results))
	for i, r := range results {
		verdict := "❌ FAIL"
		if r.Success {
			verdict = "✅ PASS"
		}
		lines[i] = fmt.Sprintf("- %s: %s", r.Task.ID, verdict)
	}
	return fmt.Sprintf("🏆 **Gauntlet Evaluation Complete!**\n\n"+
		"**Model:** %s\n**Tasks:** %s\n**Results:** %d/%d passed\n\n%s\n\n📊 **Success Rate:** %d%%",
		opts.Model, tasks, results.Passed(), len(results), strings.Join(lines, "\n"), results.SuccessRate())
}
