// Package copilot drives the GitHub Copilot coding agent. A prompt
// becomes a GitHub issue assigned to Copilot; progress is tracked
// through the issue timeline until Copilot's pull request is ready.
// When Copilot cannot be assigned the client falls back to a demo
// session on a plain issue so the workflow remains visible.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anicolao/morpheum/internal/events"
	"github.com/anicolao/morpheum/internal/forge"
	"github.com/anicolao/morpheum/internal/llm"
	"github.com/anicolao/morpheum/internal/opstate"
)

const (
	// AgentLogin is the account Copilot works under.
	AgentLogin = "copilot-swe-agent"

	// TitlePrefix starts every issue the client creates.
	TitlePrefix = "Copilot Task: "

	// DemoPrefix marks issues and messages of demo sessions.
	DemoPrefix = "[DEMO] "

	// Confidence is the fixed confidence reported for completed sessions.
	Confidence = 90

	defaultPollInterval = 10 * time.Second
	defaultMaxPolls     = 360
	maxTitleRunes       = 60
)

// ErrInvalidRepository is returned by New for names not in owner/repo form.
var ErrInvalidRepository = errors.New(`repository must be in format "owner/repo"`)

// Options configures a Client. Zero values select defaults.
type Options struct {
	PollInterval time.Duration
	MaxPolls     int
	// Store records sessions. A private in-memory store is used when nil.
	Store *opstate.Store
	// Bus receives session status events. May be nil.
	Bus    *events.Bus
	Logger *slog.Logger
}

// Client runs Copilot sessions against one repository. It implements
// llm.Client so the agent can treat Copilot like any other provider.
type Client struct {
	tracker      forge.Tracker
	repo         string
	pollInterval time.Duration
	maxPolls     int
	store        *opstate.Store
	bus          *events.Bus
	logger       *slog.Logger
}

var _ llm.Client = (*Client)(nil)

// New creates a Client for repository ("owner/repo").
func New(tracker forge.Tracker, repository string, opts Options) (*Client, error) {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, ErrInvalidRepository
	}

	c := &Client{
		tracker:      tracker,
		repo:         repository,
		pollInterval: opts.PollInterval,
		maxPolls:     opts.MaxPolls,
		store:        opts.Store,
		bus:          opts.Bus,
		logger:       opts.Logger,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.maxPolls <= 0 {
		c.maxPolls = defaultMaxPolls
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "copilot", "repo", repository)
	if c.store == nil {
		s, err := opstate.NewMemory()
		if err != nil {
			return nil, fmt.Errorf("copilot: session store: %w", err)
		}
		c.store = s
	}
	return c, nil
}

// Repository returns the target repository.
func (c *Client) Repository() string { return c.repo }

// SendStreaming runs a Copilot session for prompt and returns the
// completion summary. Progress chunks all end in a newline.
func (c *Client) SendStreaming(ctx context.Context, prompt string, onChunk llm.StreamCallback) (string, error) {
	emit := func(ch llm.Chunk) {
		if onChunk != nil {
			onChunk(ch)
		}
	}
	text := func(s string) { emit(llm.TextChunk(s)) }

	var sess *Session
	if it := DetectIteration(prompt); it.IsIteration {
		sess = c.continueExisting(ctx, prompt, it, text)
	}

	if sess == nil {
		var err error
		text(fmt.Sprintf("Creating GitHub issue for: %q\n", prompt))
		sess, err = c.startSession(ctx, prompt)
		if err != nil {
			return "", err
		}
		link := mdLink(sess.IssueNumber, sess.IssueURL)
		text(fmt.Sprintf("Issue %s created\n", link))
		text(fmt.Sprintf("Starting GitHub Copilot session for %s\n", link))
	}

	text("Copilot session started\n")
	emit(llm.DualChunk(progressText(sess), progressHTML(sess)))

	if err := c.track(ctx, sess, text); err != nil {
		return "", err
	}
	return c.summary(ctx, sess), nil
}

// startSession creates the tracking issue, assigning Copilot through
// GraphQL when possible and falling back to a demo issue otherwise.
func (c *Client) startSession(ctx context.Context, prompt string) (*Session, error) {
	sess := &Session{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Repository: c.repo,
		Prompt:     prompt,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}
	title := issueTitle(prompt)
	body := issueBody(prompt, sess.ID)

	number, url, err := c.createAssignedIssue(ctx, title, body)
	if err != nil {
		c.logger.Info("copilot assignment unavailable, using demo session", "error", err)

		issue, cerr := c.tracker.CreateIssue(ctx, c.repo, &forge.Issue{Title: title, Body: body})
		if cerr != nil {
			return nil, fmt.Errorf("copilot: create issue: %w", cerr)
		}
		demoTitle := DemoPrefix + issue.Title
		if _, uerr := c.tracker.UpdateIssue(ctx, c.repo, issue.Number, &forge.IssueUpdate{Title: &demoTitle}); uerr != nil {
			c.logger.Warn("failed to mark demo issue", "issue", issue.Number, "error", uerr)
		}
		number, url = issue.Number, c.issueURL(issue)
		sess.Demo = true
	}

	sess.IssueNumber = number
	sess.IssueURL = url
	c.saveSession(ctx, sess)
	c.logger.Info("copilot session created", "session", sess.ID, "issue", number, "demo", sess.Demo)
	return sess, nil
}

// continueExisting looks for Copilot work the prompt refers to and
// asks Copilot to iterate on it. It returns nil when nothing suitable
// is found.
func (c *Client) continueExisting(ctx context.Context, prompt string, it IterationRequest, text func(string)) *Session {
	sess := c.findExisting(ctx, it)
	if sess == nil {
		text("No existing Copilot work found to iterate on; starting a new session\n")
		return nil
	}

	target, kind, url := sess.IssueNumber, "issue", sess.IssueURL
	if sess.PRNumber > 0 {
		target, kind, url = sess.PRNumber, "PR", sess.PRURL
	}
	if _, err := c.tracker.AddComment(ctx, c.repo, target, "@copilot "+prompt); err != nil {
		c.logger.Warn("failed to request copilot iteration", "target", target, "error", err)
		return nil
	}

	text(fmt.Sprintf("Requested Copilot iteration on %s %s\n", kind, mdLink(target, url)))
	sess.Status = StatusInProgress
	c.saveSession(ctx, sess)
	return sess
}

func (c *Client) findExisting(ctx context.Context, it IterationRequest) *Session {
	recorded := c.recordedSessions(ctx)

	if it.PRNumber > 0 {
		pr, err := c.tracker.GetPR(ctx, c.repo, it.PRNumber)
		if err != nil {
			return nil
		}
		for _, s := range recorded {
			if s.PRNumber == pr.Number {
				s.PRURL = pr.URL
				return s
			}
		}
		return &Session{
			ID:         uuid.Must(uuid.NewV7()).String(),
			Repository: c.repo,
			// Tracking a bare PR: the issue number doubles as the PR.
			IssueNumber: pr.Number,
			IssueURL:    pr.URL,
			PRNumber:    pr.Number,
			PRURL:       pr.URL,
			Status:      StatusInProgress,
			CreatedAt:   time.Now(),
		}
	}

	var issue *forge.Issue
	if it.IssueNumber > 0 {
		is, err := c.tracker.GetIssue(ctx, c.repo, it.IssueNumber)
		if err != nil {
			return nil
		}
		issue = is
	} else {
		issues, err := c.tracker.ListIssues(ctx, c.repo, &forge.ListOptions{
			State:     "open",
			Assignee:  AgentLogin,
			Sort:      "created",
			Direction: "desc",
			Limit:     10,
		})
		if err != nil || len(issues) == 0 {
			return nil
		}
		issue = issues[0]
	}

	sess, ok := recorded[issue.Number]
	if !ok {
		sess = &Session{
			ID:          uuid.Must(uuid.NewV7()).String(),
			Repository:  c.repo,
			Prompt:      issue.Title,
			IssueNumber: issue.Number,
			IssueURL:    c.issueURL(issue),
			Status:      StatusInProgress,
			CreatedAt:   issue.CreatedAt,
		}
	}
	if prs, err := c.tracker.LinkedPullRequests(ctx, c.repo, issue.Number); err == nil && len(prs) > 0 {
		sess.PRNumber = prs[len(prs)-1]
		if pr, err := c.tracker.GetPR(ctx, c.repo, sess.PRNumber); err == nil {
			sess.PRURL = pr.URL
		}
		if sess.PRURL == "" {
			sess.PRURL = c.webURL("pull", sess.PRNumber)
		}
	}
	return sess
}

// track polls until the session is done, the poll budget is spent, or
// ctx ends. A status line is emitted whenever status or PR changes.
func (c *Client) track(ctx context.Context, sess *Session, text func(string)) error {
	lastStatus, lastPR := Status(""), -1
	for poll := 0; poll < c.maxPolls; poll++ {
		if poll > 0 {
			timer := time.NewTimer(c.pollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if sess.Demo {
			if sess.Status == StatusPending {
				sess.Status = StatusInProgress
			} else {
				sess.Status = StatusCompleted
			}
		} else {
			c.refresh(ctx, sess)
		}

		if sess.Status != lastStatus || sess.PRNumber != lastPR {
			text(statusLine(sess))
			c.publish(sess)
			lastStatus, lastPR = sess.Status, sess.PRNumber
		}
		c.saveSession(ctx, sess)

		if sess.Status.Done() {
			return nil
		}
	}
	c.logger.Info("copilot session still running after poll budget", "session", sess.ID, "polls", c.maxPolls)
	return nil
}

// summary builds the final response, counting the PR's commits and
// files when a PR exists.
func (c *Client) summary(ctx context.Context, sess *Session) string {
	var b strings.Builder
	prefix := ""
	if sess.Demo {
		prefix = DemoPrefix
	}

	if !sess.Status.Done() {
		fmt.Fprintf(&b, "⏳ %sGitHub Copilot session is still running.\n\n", prefix)
		fmt.Fprintf(&b, "Track progress on issue %s\n", mdLink(sess.IssueNumber, sess.IssueURL))
		return b.String()
	}

	fmt.Fprintf(&b, "✅ %sGitHub Copilot session completed!\n\n", prefix)
	fmt.Fprintf(&b, "**Session:** `%s`\n", sess.ID)
	fmt.Fprintf(&b, "**Issue:** %s\n", mdLink(sess.IssueNumber, sess.IssueURL))

	if sess.PRNumber > 0 {
		fmt.Fprintf(&b, "**Pull Request:** %s\n", mdLink(sess.PRNumber, sess.PRURL))
		if commits, err := c.tracker.ListPRCommits(ctx, c.repo, sess.PRNumber); err == nil {
			fmt.Fprintf(&b, "**Commits:** %d\n", len(commits))
		}
		if files, err := c.tracker.ListPRFiles(ctx, c.repo, sess.PRNumber); err == nil {
			fmt.Fprintf(&b, "**Files changed:** %d\n", len(files))
		}
	}
	fmt.Fprintf(&b, "Confidence: %d%%\n", Confidence)

	if sess.Demo {
		b.WriteString("\nCopilot could not be assigned in this repository, so this was a demonstration session and no code was changed.\n")
	}
	return b.String()
}

func (c *Client) issueURL(is *forge.Issue) string {
	if is.URL != "" {
		return is.URL
	}
	return c.webURL("issues", is.Number)
}

func (c *Client) webURL(kind string, number int) string {
	return fmt.Sprintf("https://github.com/%s/%s/%d", c.repo, kind, number)
}

func issueTitle(prompt string) string {
	p := strings.Join(strings.Fields(prompt), " ")
	r := []rune(p)
	if len(r) > maxTitleRunes {
		p = string(r[:maxTitleRunes]) + "..."
	}
	return TitlePrefix + p
}

func issueBody(prompt, sessionID string) string {
	return "## GitHub Copilot Coding Agent Task\n\n" + prompt +
		"\n\n---\n*Created by Morpheum Bot. Session: `" + sessionID + "`*\n"
}
