package copilot

import (
	"fmt"
	"html"
	"strings"
)

func mdLink(number int, url string) string {
	return fmt.Sprintf("[#%d](%s)", number, url)
}

// statusLine is the per-poll progress message. It links the PR once
// one exists and the issue before that.
func statusLine(s *Session) string {
	var b strings.Builder
	switch s.Status {
	case StatusCompleted:
		b.WriteString("✅ Copilot work is ready for review. ")
	case StatusInProgress:
		b.WriteString("🔄 Copilot is working on the task. ")
	case StatusCancelled:
		b.WriteString("⏹️ Session cancelled. ")
	case StatusFailed:
		b.WriteString("❌ Session failed. ")
	default:
		b.WriteString("⏳ Waiting for Copilot to start. ")
	}
	if s.PRNumber > 0 {
		fmt.Fprintf(&b, "Track progress on PR %s\n", mdLink(s.PRNumber, s.PRURL))
	} else {
		fmt.Fprintf(&b, "Track progress on issue %s\n", mdLink(s.IssueNumber, s.IssueURL))
	}
	return b.String()
}

func demoPrefix(s *Session) string {
	if s.Demo {
		return DemoPrefix
	}
	return ""
}

// progressText is the plain rendering of the progress tracker.
func progressText(s *Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 **%sGitHub Copilot Progress Tracking**\n\n", demoPrefix(s))
	fmt.Fprintf(&b, "🔗 **Issue:** %s\n", mdLink(s.IssueNumber, s.IssueURL))
	if s.PRNumber > 0 {
		fmt.Fprintf(&b, "🔀 **Pull Request:** %s\n", mdLink(s.PRNumber, s.PRURL))
	}
	b.WriteString("\nOpen the issue to follow Copilot's progress live.\n")
	return b.String()
}

// progressHTML embeds the issue page for clients that render iframes.
func progressHTML(s *Session) string {
	u := html.EscapeString(s.IssueURL)
	var b strings.Builder
	b.WriteString(`<div class="copilot-progress">`)
	fmt.Fprintf(&b, `<h4>🤖 %sLive Progress Tracking</h4>`, html.EscapeString(demoPrefix(s)))
	fmt.Fprintf(&b, `<p><strong>📊 Issue Tracking:</strong> <a href="%s">#%d</a></p>`, u, s.IssueNumber)
	fmt.Fprintf(&b, `<iframe src="%s" width="100%%" height="400" frameborder="0" sandbox="allow-scripts allow-same-origin allow-popups"></iframe>`, u)
	fmt.Fprintf(&b, `<p><a href="%s" target="_blank" rel="noopener">Open Issue #%d ↗</a></p>`, u, s.IssueNumber)
	b.WriteString(`</div>`)
	return b.String()
}
