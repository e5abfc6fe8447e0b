package copilot

import (
	"regexp"
	"strconv"
)

// IterationRequest describes a prompt that asks Copilot to continue
// existing work rather than start a new task.
type IterationRequest struct {
	IsIteration bool
	// PRNumber or IssueNumber is set when the prompt names one.
	PRNumber    int
	IssueNumber int
	// Keywords lists the canonical iteration phrases found.
	Keywords []string
}

var iterationPhrases = []struct {
	keyword string
	re      *regexp.Regexp
}{
	{"apply review comments", regexp.MustCompile(`(?i)\bapply\s+(?:the\s+)?(?:review\s+)?comments\b`)},
	{"address feedback", regexp.MustCompile(`(?i)\baddress\s+(?:the\s+|all\s+)?(?:review\s+)?feedback\b`)},
	{"address review", regexp.MustCompile(`(?i)\baddress\s+(?:the\s+)?review\b`)},
	{"iterate on pr", regexp.MustCompile(`(?i)\biterate\s+on\s+(?:the\s+)?(?:pr|pull\s+request)\b`)},
	{"implement suggestions", regexp.MustCompile(`(?i)\bimplement\s+(?:the\s+)?suggestions\b`)},
	{"apply suggestions", regexp.MustCompile(`(?i)\bapply\s+(?:the\s+)?suggestions\b`)},
}

var (
	prNumberRe    = regexp.MustCompile(`(?i)\b(?:pr|pull\s+request)\s*#?(\d+)\b`)
	issueNumberRe = regexp.MustCompile(`(?i)\bissue\s*#?(\d+)\b`)
)

// DetectIteration inspects prompt for iteration phrases and PR or issue
// references. A reference alone does not make a prompt an iteration.
func DetectIteration(prompt string) IterationRequest {
	var req IterationRequest
	for _, p := range iterationPhrases {
		if p.re.MatchString(prompt) {
			req.Keywords = append(req.Keywords, p.keyword)
		}
	}
	req.IsIteration = len(req.Keywords) > 0

	if m := prNumberRe.FindStringSubmatch(prompt); m != nil {
		req.PRNumber, _ = strconv.Atoi(m[1])
	}
	if m := issueNumberRe.FindStringSubmatch(prompt); m != nil {
		req.IssueNumber, _ = strconv.Atoi(m[1])
	}
	return req
}
