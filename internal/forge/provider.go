package forge

import "context"

// Tracker is the issue and pull request surface used to follow a
// Copilot coding session. *GitHub implements it; tests substitute fakes.
//
// All repo parameters use "owner/name" format (e.g. "acme/myapp").
type Tracker interface {
	CreateIssue(ctx context.Context, repo string, issue *Issue) (*Issue, error)
	UpdateIssue(ctx context.Context, repo string, number int, update *IssueUpdate) (*Issue, error)
	GetIssue(ctx context.Context, repo string, number int) (*Issue, error)
	ListIssues(ctx context.Context, repo string, opts *ListOptions) ([]*Issue, error)
	AddComment(ctx context.Context, repo string, number int, body string) (*Comment, error)

	// LinkedPullRequests returns the numbers of pull requests that
	// cross-reference the issue, oldest first.
	LinkedPullRequests(ctx context.Context, repo string, number int) ([]int, error)

	GetPR(ctx context.Context, repo string, number int) (*PullRequest, error)
	ListPRCommits(ctx context.Context, repo string, number int) ([]*Commit, error)
	ListPRFiles(ctx context.Context, repo string, number int) ([]*ChangedFile, error)

	// GraphQL runs query with vars and decodes the data member into out.
	GraphQL(ctx context.Context, query string, vars map[string]any, out any) error
}

var _ Tracker = (*GitHub)(nil)
