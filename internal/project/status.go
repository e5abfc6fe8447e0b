package project

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anicolao/morpheum/internal/forge"
)

const maxContributors = 5

// FormatStats renders repository statistics as markdown for
// `!project status`.
func FormatStats(s *forge.RepositoryStats) string {
	repo := s.Repository
	if repo == nil {
		repo = &forge.Repository{}
	}

	lastCommitDate := "Never"
	if s.LastCommit != nil && !s.LastCommit.Date.IsZero() {
		lastCommitDate = s.LastCommit.Date.Format("January 2, 2006 at 03:04 PM")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 **Repository Statistics for %s**\n\n", repo.FullName)

	b.WriteString("**📈 Activity:**\n")
	fmt.Fprintf(&b, "- **Commits:** %s\n", groupThousands(s.CommitCount))
	fmt.Fprintf(&b, "- **Last Commit:** %s\n", lastCommitDate)
	fmt.Fprintf(&b, "- **Created:** %s\n", longDate(repo.CreatedAt))
	fmt.Fprintf(&b, "- **Last Updated:** %s\n\n", longDate(repo.UpdatedAt))

	b.WriteString("**👥 Top Contributors:**\n")
	if len(s.Contributors) == 0 {
		b.WriteString("No contributors found")
	}
	for i, c := range s.Contributors {
		if i == maxContributors {
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. **%s** (%d commits)", i+1, c.Login, c.Contributions)
	}
	if extra := len(s.Contributors) - maxContributors; extra > 0 {
		fmt.Fprintf(&b, "\n*...and %d more contributors*", extra)
	}
	b.WriteString("\n\n")

	desc := repo.Description
	if desc == "" {
		desc = "*No description provided*"
	}
	license := "*No license specified*"
	if repo.License != nil && repo.License.Name != "" {
		license = repo.License.Name
	}
	visibility := "Public"
	if repo.Private {
		visibility = "Private"
	}
	b.WriteString("**📋 Repository Info:**\n")
	fmt.Fprintf(&b, "- **Description:** %s\n", desc)
	fmt.Fprintf(&b, "- **License:** %s\n", license)
	fmt.Fprintf(&b, "- **Default Branch:** %s\n", repo.DefaultBranch)
	fmt.Fprintf(&b, "- **Visibility:** %s\n\n", visibility)

	b.WriteString("**🔗 Links:**\n")
	fmt.Fprintf(&b, "- **Repository:** https://github.com/%s\n", repo.FullName)
	fmt.Fprintf(&b, "- **Clone URL:** %s", repo.CloneURL)

	if c := s.LastCommit; c != nil {
		subject, _, _ := strings.Cut(c.Message, "\n")
		short := c.SHA
		if len(short) > 7 {
			short = short[:7]
		}
		url := fmt.Sprintf("https://github.com/%s/commit/%s", repo.FullName, c.SHA)
		b.WriteString("\n\n**📝 Last Commit:**\n")
		fmt.Fprintf(&b, "- **Message:** [%s](%s)\n", subject, url)
		fmt.Fprintf(&b, "- **Author:** %s\n", c.Author)
		fmt.Fprintf(&b, "- **SHA:** [`%s`](%s)", short, url)
	}
	return b.String()
}

func longDate(t time.Time) string {
	if t.IsZero() {
		return "Unknown"
	}
	return t.Format("January 2, 2006")
}

// groupThousands formats n with comma separators.
func groupThousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

// HelpText is the `!project help` body.
const HelpText = "🏗️  **Project Room Management**\n\n" +
	"**Create a project room:**\n" +
	"`!project create <git-url>`\n" +
	"`!project create --new <repo-name>`\n\n" +
	"**Get repository statistics:**\n" +
	"`!project status <git-url>`\n\n" +
	"**Supported URL formats:**\n" +
	"- SSH: git@github.com:user/repo\n" +
	"- HTTPS: https://github.com/user/repo\n" +
	"- Short: user/repo\n\n" +
	"**Examples:**\n" +
	"- `!project create git@github.com:facebook/react`\n" +
	"- `!project create https://github.com/vercel/next.js`\n" +
	"- `!project create microsoft/vscode`\n" +
	"- `!project create --new my-awesome-project`\n" +
	"- `!project status facebook/react`\n\n" +
	"**Features:**\n" +
	"✅ Automatic GitHub Copilot integration\n" +
	"✅ Private invite-only rooms\n" +
	"✅ Project-specific AI context\n" +
	"✅ Persistent configuration\n" +
	"✅ Create new repositories with --new flag\n" +
	"✅ Repository statistics and information"
