package copilot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/anicolao/morpheum/internal/events"
	"github.com/anicolao/morpheum/internal/forge"
)

// SessionNamespace is the opstate namespace holding recorded sessions.
const SessionNamespace = "copilot_sessions"

// ErrSessionNotFound is returned for session IDs with no record.
var ErrSessionNotFound = errors.New("copilot session not found")

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Done reports whether s is terminal.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Session is one Copilot coding task tracked through a GitHub issue
// and, once Copilot opens one, its pull request.
type Session struct {
	ID          string    `json:"id"`
	Repository  string    `json:"repository"`
	Prompt      string    `json:"prompt"`
	IssueNumber int       `json:"issue_number"`
	IssueURL    string    `json:"issue_url"`
	PRNumber    int       `json:"pr_number,omitempty"`
	PRURL       string    `json:"pr_url,omitempty"`
	Status      Status    `json:"status"`
	Demo        bool      `json:"demo,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (c *Client) saveSession(ctx context.Context, s *Session) {
	s.UpdatedAt = time.Now()
	if err := c.store.SetJSON(ctx, SessionNamespace, s.ID, s); err != nil {
		c.logger.Warn("failed to record copilot session", "session", s.ID, "error", err)
	}
}

func (c *Client) publish(s *Session) {
	c.bus.Emit(events.SourceCopilot, events.KindSessionStatus, map[string]any{
		"session":    s.ID,
		"repository": s.Repository,
		"issue":      s.IssueNumber,
		"pr":         s.PRNumber,
		"status":     string(s.Status),
	})
}

func (c *Client) loadSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	found, err := c.store.GetJSON(ctx, SessionNamespace, id, &s)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return &s, nil
}

// recordedSessions returns stored sessions for this repository keyed
// by issue number.
func (c *Client) recordedSessions(ctx context.Context) map[int]*Session {
	out := make(map[int]*Session)
	all, err := c.store.List(ctx, SessionNamespace)
	if err != nil {
		c.logger.Warn("failed to list copilot sessions", "error", err)
		return out
	}
	for id := range all {
		s, err := c.loadSession(ctx, id)
		if err != nil || s.Repository != c.repo {
			continue
		}
		out[s.IssueNumber] = s
	}
	return out
}

// ActiveSessions lists open issues assigned to Copilot, newest first.
// Issues with no recorded session get a synthetic "issue-N" ID. Any
// API failure yields an empty list.
func (c *Client) ActiveSessions(ctx context.Context) []Session {
	issues, err := c.tracker.ListIssues(ctx, c.repo, &forge.ListOptions{
		State:     "open",
		Assignee:  AgentLogin,
		Sort:      "created",
		Direction: "desc",
		Limit:     50,
	})
	if err != nil {
		c.logger.Warn("failed to list copilot issues", "error", err)
		return []Session{}
	}

	recorded := c.recordedSessions(ctx)
	sessions := make([]Session, 0, len(issues))
	for _, is := range issues {
		if s, ok := recorded[is.Number]; ok {
			sessions = append(sessions, *s)
			continue
		}
		sessions = append(sessions, Session{
			ID:          "issue-" + strconv.Itoa(is.Number),
			Repository:  c.repo,
			Prompt:      is.Title,
			IssueNumber: is.Number,
			IssueURL:    c.issueURL(is),
			Status:      StatusInProgress,
			CreatedAt:   is.CreatedAt,
			UpdatedAt:   is.UpdatedAt,
		})
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions
}

// SessionStatus refreshes and returns a recorded session.
func (c *Client) SessionStatus(ctx context.Context, id string) (*Session, error) {
	s, err := c.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status.Done() {
		return s, nil
	}
	c.refresh(ctx, s)
	c.saveSession(ctx, s)
	return s, nil
}

// CancelSession comments on and closes the session's issue, then drops
// the session's record.
func (c *Client) CancelSession(ctx context.Context, id string) error {
	s, err := c.loadSession(ctx, id)
	if err != nil {
		return err
	}
	if _, err := c.tracker.AddComment(ctx, c.repo, s.IssueNumber, "Session cancelled from Matrix by Morpheum Bot."); err != nil {
		return fmt.Errorf("copilot: cancel session %s: %w", id, err)
	}
	closed := "closed"
	if _, err := c.tracker.UpdateIssue(ctx, c.repo, s.IssueNumber, &forge.IssueUpdate{State: &closed}); err != nil {
		return fmt.Errorf("copilot: cancel session %s: %w", id, err)
	}
	s.Status = StatusCancelled
	c.publish(s)
	if err := c.store.Delete(ctx, SessionNamespace, id); err != nil {
		c.logger.Warn("failed to drop cancelled copilot session", "session", id, "error", err)
	}
	return nil
}

// refresh updates s from the issue and its linked pull requests.
// Lookup failures leave s unchanged.
func (c *Client) refresh(ctx context.Context, s *Session) {
	prs, err := c.tracker.LinkedPullRequests(ctx, c.repo, s.IssueNumber)
	if err != nil {
		c.logger.Debug("linked pull request lookup failed", "issue", s.IssueNumber, "error", err)
	}
	if len(prs) > 0 {
		s.PRNumber = prs[len(prs)-1]
	}

	if s.PRNumber > 0 {
		pr, err := c.tracker.GetPR(ctx, c.repo, s.PRNumber)
		if err != nil {
			c.logger.Debug("pull request lookup failed", "pr", s.PRNumber, "error", err)
			return
		}
		s.PRURL = pr.URL
		if s.PRURL == "" {
			s.PRURL = c.webURL("pull", s.PRNumber)
		}
		switch {
		case pr.Merged, pr.State == "closed", !pr.Draft:
			s.Status = StatusCompleted
		default:
			s.Status = StatusInProgress
		}
		return
	}

	issue, err := c.tracker.GetIssue(ctx, c.repo, s.IssueNumber)
	if err != nil {
		c.logger.Debug("issue lookup failed", "issue", s.IssueNumber, "error", err)
		return
	}
	if issue.State == "closed" {
		s.Status = StatusCompleted
	} else if s.Status == StatusPending {
		s.Status = StatusInProgress
	}
}
