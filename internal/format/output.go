package format

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Thresholds for rendering command output. Character counts are in
// Unicode code points.
const (
	MaxDirectLines = 50
	MaxDirectChars = 5000
	MaxPrefixLines = 15
	MaxPrefixChars = 1500
	MaxFullChars   = 64000
)

// TruncationNotice is appended to the full block when the output
// exceeds MaxFullChars.
const TruncationNotice = "\n...(output truncated due to size limit)"

const outputHeader = "📋 **Command output:**\n\n"

// OutputParts is the rendering plan for one command output. When Direct
// is true only Full is shown and it holds the entire output.
type OutputParts struct {
	Direct bool
	Prefix string
	Full   string
}

// SplitOutput decides how output is displayed. Small output (fewer than
// MaxDirectLines lines and fewer than MaxDirectChars characters) is shown
// whole. Anything larger gets a short prefix followed by the full text
// capped at MaxFullChars.
func SplitOutput(output string) OutputParts {
	lines := strings.Split(output, "\n")
	chars := utf8.RuneCountInString(output)
	if len(lines) < MaxDirectLines && chars < MaxDirectChars {
		return OutputParts{Direct: true, Full: output}
	}

	prefix := strings.Join(lines[:min(MaxPrefixLines, len(lines))], "\n")
	if utf8.RuneCountInString(prefix) > MaxPrefixChars {
		prefix = firstRunes(output, MaxPrefixChars)
		// Cut back to a line boundary unless that drops more than 20%.
		if i := strings.LastIndex(prefix, "\n"); i >= 0 && utf8.RuneCountInString(prefix[:i]) > MaxPrefixChars*8/10 {
			prefix = prefix[:i]
		}
	}

	full := output
	if chars > MaxFullChars {
		full = firstRunes(output, MaxFullChars) + TruncationNotice
	}
	return OutputParts{Prefix: prefix, Full: full}
}

// CommandOutput renders raw command output as a markdown room message.
func CommandOutput(output string) string {
	parts := SplitOutput(output)
	if parts.Direct {
		return outputHeader + "```\n" + output + "\n```"
	}

	var notice string
	if n := utf8.RuneCountInString(parts.Prefix); n < utf8.RuneCountInString(output) {
		notice = fmt.Sprintf("\n...(showing first %d characters)", n)
	}

	var b strings.Builder
	b.WriteString(outputHeader)
	b.WriteString("```\n")
	b.WriteString(parts.Prefix)
	b.WriteString("\n")
	b.WriteString(notice)
	b.WriteString("\n```\n\n```\n")
	b.WriteString(parts.Full)
	b.WriteString("\n```")
	return b.String()
}

// ExecutingCommand renders the announcement sent before a command runs.
// Multi-line commands get a fenced block, single lines inline code.
func ExecutingCommand(command string) string {
	if strings.Contains(command, "\n") {
		return "⚡ **Executing command:** \n```\n" + command + "\n```"
	}
	return "⚡ **Executing command:** `" + command + "`"
}

func firstRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
