package agent

import (
	"regexp"
	"strings"
)

// CompletionPhrase signals that the model considers the task finished.
const CompletionPhrase = "Job's done!"

var (
	planRe     = regexp.MustCompile(`(?s)<plan>(.*?)</plan>`)
	nextStepRe = regexp.MustCompile(`(?s)<next_step>(.*?)</next_step>`)
	bashRe     = regexp.MustCompile("(?s)```(?:bash|sh|shell)[ \t]*\r?\n(.*?)```")
)

// ParsePlanAndNextStep extracts the <plan> and <next_step> sections of
// a model response. Missing sections are returned empty.
func ParsePlanAndNextStep(response string) (plan, nextStep string) {
	if m := planRe.FindStringSubmatch(response); m != nil {
		plan = strings.TrimSpace(m[1])
	}
	if m := nextStepRe.FindStringSubmatch(response); m != nil {
		nextStep = strings.TrimSpace(m[1])
	}
	return plan, nextStep
}

// ParseBashCommands returns the contents of every fenced bash block in
// response, in order. Empty blocks are skipped.
func ParseBashCommands(response string) []string {
	var cmds []string
	for _, m := range bashRe.FindAllStringSubmatch(response, -1) {
		if cmd := strings.TrimSpace(m[1]); cmd != "" {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}
