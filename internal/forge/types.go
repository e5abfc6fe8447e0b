// Package forge wraps the GitHub REST and GraphQL APIs with the small
// set of operations the bot needs: repository inspection and creation
// for project rooms, and issue and pull request tracking for Copilot
// sessions.
package forge

import "time"

// Issue represents a single GitHub issue.
type Issue struct {
	// Number is the forge-assigned issue number.
	Number int
	// Title is the issue title.
	Title string
	// Body is the issue description body.
	Body string
	// State is the current state, e.g. "open" or "closed".
	State string
	// Labels lists the label names applied to the issue.
	Labels []string
	// Assignees lists the usernames of assigned users.
	Assignees []string
	// Author is the username of the issue creator.
	Author string
	// CreatedAt is when the issue was created.
	CreatedAt time.Time
	// UpdatedAt is when the issue was last updated.
	UpdatedAt time.Time
	// URL is the web URL of the issue.
	URL string
	// CommentCount is the total number of comments on the issue.
	CommentCount int
}

// IssueUpdate carries the fields to change when updating an issue.
// A nil pointer field means "leave unchanged". A nil slice means "leave unchanged".
type IssueUpdate struct {
	Title     *string
	Body      *string
	State     *string
	Labels    []string
	Assignees []string
}

// Comment represents a comment on an issue or pull request.
type Comment struct {
	ID        int64
	Body      string
	Author    string
	CreatedAt time.Time
	URL       string
}

// PullRequest represents a pull request.
type PullRequest struct {
	Number       int
	Title        string
	Body         string
	State        string
	Author       string
	Head         string
	Base         string
	Additions    int
	Deletions    int
	ChangedFiles int
	URL          string
	CreatedAt    time.Time
	Draft        bool
	Merged       bool
}

// ChangedFile describes a single file changed in a pull request.
type ChangedFile struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
}

// Commit is a lightweight representation of a git commit.
type Commit struct {
	SHA     string
	Message string
	// Author is the commit author's name, "Unknown" when absent.
	Author string
	Date   time.Time
}

// ListOptions filters issue listings.
type ListOptions struct {
	// State filters by state: "open", "closed", or "all".
	State string
	// Labels is a comma-separated list of label names to filter by.
	Labels string
	// Assignee filters by assignee username.
	Assignee string
	// Sort specifies the sort field: "created", "updated", "comments".
	Sort string
	// Direction is the sort direction: "asc" or "desc".
	Direction string
	// Limit caps the number of results returned.
	Limit int
}

// User is the authenticated account.
type User struct {
	Login string
	ID    int64
	Name  string
	Email string
}

// License identifies a repository license.
type License struct {
	Name   string
	SPDXID string
}

// Repository is the subset of repository metadata shown to users.
type Repository struct {
	Name          string
	FullName      string
	Description   string
	Private       bool
	License       *License
	DefaultBranch string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PushedAt      time.Time
	CloneURL      string
	SSHURL        string
	HTMLURL       string
}

// RepositoryOptions describes a repository to create for the
// authenticated user.
type RepositoryOptions struct {
	Name            string
	Description     string
	Private         bool
	AutoInit        bool
	LicenseTemplate string
}

// Contributor is one entry of a repository's contributor list.
type Contributor struct {
	Login         string
	Contributions int
}

// RepositoryStats aggregates repository information for status
// displays. LastCommit is nil for empty repositories.
type RepositoryStats struct {
	Repository   *Repository
	CommitCount  int
	Contributors []Contributor
	LastCommit   *Commit
}
