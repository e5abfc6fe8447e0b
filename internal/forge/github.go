package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v69/github"
)

// DefaultBaseURL is the public GitHub API endpoint.
const DefaultBaseURL = "https://api.github.com"

// rateLimitWarnThreshold is the remaining-call count below which every
// response logs a warning.
const rateLimitWarnThreshold = 100

// GitHub talks to the GitHub REST and GraphQL APIs with a single token.
type GitHub struct {
	client *gogithub.Client
	logger *slog.Logger
}

// NewGitHub creates a GitHub client. baseURL selects a GitHub
// Enterprise endpoint; empty or [DefaultBaseURL] uses github.com.
func NewGitHub(httpClient *http.Client, token, baseURL string, logger *slog.Logger) (*GitHub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := gogithub.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL != "" && baseURL != DefaultBaseURL {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("forge: enterprise url %q: %w", baseURL, err)
		}
	}

	return &GitHub{client: client, logger: logger.With("component", "forge")}, nil
}

// splitRepo splits a "owner/repo" string into its two parts.
func splitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// checkRateLimit logs a warning when remaining API calls drop below threshold.
func (g *GitHub) checkRateLimit(resp *gogithub.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	if resp.Rate.Remaining < rateLimitWarnThreshold {
		g.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// CurrentUser returns the account the token belongs to.
func (g *GitHub) CurrentUser(ctx context.Context) (*User, error) {
	u, resp, err := g.client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("forge: get current user: %w", err)
	}
	g.checkRateLimit(resp)
	return &User{
		Login: u.GetLogin(),
		ID:    u.GetID(),
		Name:  u.GetName(),
		Email: u.GetEmail(),
	}, nil
}

// CreateRepository creates a repository owned by the authenticated user.
func (g *GitHub) CreateRepository(ctx context.Context, opts RepositoryOptions) (*Repository, error) {
	req := &gogithub.Repository{
		Name:     gogithub.Ptr(opts.Name),
		Private:  gogithub.Ptr(opts.Private),
		AutoInit: gogithub.Ptr(opts.AutoInit),
	}
	if opts.Description != "" {
		req.Description = gogithub.Ptr(opts.Description)
	}
	if opts.LicenseTemplate != "" {
		req.LicenseTemplate = gogithub.Ptr(opts.LicenseTemplate)
	}

	result, resp, err := g.client.Repositories.Create(ctx, "", req)
	if err != nil {
		return nil, fmt.Errorf("forge: create repository: %w", err)
	}
	g.checkRateLimit(resp)
	return convertRepository(result), nil
}

// GetRepository fetches repository metadata.
func (g *GitHub) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	result, resp, err := g.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("forge: get repository: %w", classify(err))
	}
	g.checkRateLimit(resp)
	return convertRepository(result), nil
}

// RepositoryExists reports whether owner/repo is visible to the token.
// Any error, including a 404, counts as "does not exist".
func (g *GitHub) RepositoryExists(ctx context.Context, owner, repo string) bool {
	_, err := g.GetRepository(ctx, owner, repo)
	return err == nil
}

const commitCountQuery = `query GetCommitCount($owner: String!, $repo: String!) {
  repository(owner: $owner, name: $repo) {
    defaultBranchRef {
      target {
        ... on Commit {
          history { totalCount }
        }
      }
    }
  }
}`

// RepositoryStats gathers repository metadata, the last commit on the
// default branch, the total commit count and the top ten contributors.
// Only the repository lookup is fatal; the other parts degrade to
// empty values with a logged warning.
func (g *GitHub) RepositoryStats(ctx context.Context, owner, repo string) (*RepositoryStats, error) {
	info, err := g.GetRepository(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	stats := &RepositoryStats{Repository: info}

	commits, resp, err := g.client.Repositories.ListCommits(ctx, owner, repo, &gogithub.CommitsListOptions{
		SHA:         info.DefaultBranch,
		ListOptions: gogithub.ListOptions{PerPage: 1},
	})
	if err != nil {
		g.logger.Warn("could not fetch commit information", "repo", owner+"/"+repo, "error", err)
	} else {
		g.checkRateLimit(resp)
		if len(commits) > 0 {
			stats.LastCommit = convertRepositoryCommit(commits[0])
			stats.CommitCount = g.commitCount(ctx, owner, repo)
		}
	}

	contributors, resp, err := g.client.Repositories.ListContributors(ctx, owner, repo, &gogithub.ListContributorsOptions{
		ListOptions: gogithub.ListOptions{PerPage: 10},
	})
	if err != nil {
		g.logger.Warn("could not fetch contributors", "repo", owner+"/"+repo, "error", err)
	} else {
		g.checkRateLimit(resp)
		for _, c := range contributors {
			login := c.GetLogin()
			if login == "" {
				login = "unknown"
			}
			stats.Contributors = append(stats.Contributors, Contributor{
				Login:         login,
				Contributions: c.GetContributions(),
			})
		}
	}

	return stats, nil
}

// commitCount asks GraphQL for the exact history length and falls back
// to counting one page of 100 commits.
func (g *GitHub) commitCount(ctx context.Context, owner, repo string) int {
	var out struct {
		Repository struct {
			DefaultBranchRef struct {
				Target struct {
					History struct {
						TotalCount int `json:"totalCount"`
					} `json:"history"`
				} `json:"target"`
			} `json:"defaultBranchRef"`
		} `json:"repository"`
	}
	err := g.GraphQL(ctx, commitCountQuery, map[string]any{"owner": owner, "repo": repo}, &out)
	if err == nil {
		return out.Repository.DefaultBranchRef.Target.History.TotalCount
	}

	g.logger.Warn("could not get exact commit count, using estimation", "error", err)
	sample, _, err := g.client.Repositories.ListCommits(ctx, owner, repo, &gogithub.CommitsListOptions{
		ListOptions: gogithub.ListOptions{PerPage: 100},
	})
	if err != nil {
		return 0
	}
	return min(len(sample), 100)
}

// CreateIssue opens a new issue in the repository.
func (g *GitHub) CreateIssue(ctx context.Context, repo string, issue *Issue) (*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	req := &gogithub.IssueRequest{
		Title: &issue.Title,
		Body:  &issue.Body,
	}
	if len(issue.Labels) > 0 {
		req.Labels = &issue.Labels
	}
	if len(issue.Assignees) > 0 {
		req.Assignees = &issue.Assignees
	}

	result, resp, err := g.client.Issues.Create(ctx, owner, name, req)
	if err != nil {
		return nil, fmt.Errorf("forge: create issue: %w", err)
	}
	g.checkRateLimit(resp)
	return convertIssue(result), nil
}

// UpdateIssue modifies an existing issue.
func (g *GitHub) UpdateIssue(ctx context.Context, repo string, number int, update *IssueUpdate) (*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	req := &gogithub.IssueRequest{
		Title: update.Title,
		Body:  update.Body,
		State: update.State,
	}
	if update.Labels != nil {
		req.Labels = &update.Labels
	}
	if update.Assignees != nil {
		req.Assignees = &update.Assignees
	}

	result, resp, err := g.client.Issues.Edit(ctx, owner, name, number, req)
	if err != nil {
		return nil, fmt.Errorf("forge: update issue: %w", err)
	}
	g.checkRateLimit(resp)
	return convertIssue(result), nil
}

// UpdateIssueTitle renames an issue.
func (g *GitHub) UpdateIssueTitle(ctx context.Context, repo string, number int, title string) (*Issue, error) {
	return g.UpdateIssue(ctx, repo, number, &IssueUpdate{Title: &title})
}

// CloseIssue marks an issue closed.
func (g *GitHub) CloseIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	state := "closed"
	return g.UpdateIssue(ctx, repo, number, &IssueUpdate{State: &state})
}

// GetIssue fetches a single issue by number.
func (g *GitHub) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	result, resp, err := g.client.Issues.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("forge: get issue: %w", err)
	}
	g.checkRateLimit(resp)
	return convertIssue(result), nil
}

// ListIssues returns filtered issues from a repository. Pull requests
// returned by the issues endpoint are skipped.
func (g *GitHub) ListIssues(ctx context.Context, repo string, opts *ListOptions) ([]*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &ListOptions{}
	}

	ghOpts := &gogithub.IssueListByRepoOptions{
		State:       opts.State,
		Assignee:    opts.Assignee,
		Sort:        opts.Sort,
		Direction:   opts.Direction,
		ListOptions: gogithub.ListOptions{PerPage: opts.Limit},
	}
	if opts.Labels != "" {
		ghOpts.Labels = strings.Split(opts.Labels, ",")
	}
	if ghOpts.State == "" {
		ghOpts.State = "open"
	}

	results, resp, err := g.client.Issues.ListByRepo(ctx, owner, name, ghOpts)
	if err != nil {
		return nil, fmt.Errorf("forge: list issues: %w", err)
	}
	g.checkRateLimit(resp)

	issues := make([]*Issue, 0, len(results))
	for _, r := range results {
		if r.IsPullRequest() {
			continue
		}
		issues = append(issues, convertIssue(r))
	}
	return issues, nil
}

// AddComment posts a new comment on an issue or pull request.
func (g *GitHub) AddComment(ctx context.Context, repo string, number int, body string) (*Comment, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	result, resp, err := g.client.Issues.CreateComment(ctx, owner, name, number, &gogithub.IssueComment{
		Body: &body,
	})
	if err != nil {
		return nil, fmt.Errorf("forge: add comment: %w", err)
	}
	g.checkRateLimit(resp)
	return convertComment(result), nil
}

// LinkedPullRequests scans the issue timeline for cross-references
// from pull requests.
func (g *GitHub) LinkedPullRequests(ctx context.Context, repo string, number int) ([]int, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	events, resp, err := g.client.Issues.ListIssueTimeline(ctx, owner, name, number, &gogithub.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("forge: list issue timeline: %w", err)
	}
	g.checkRateLimit(resp)

	var prs []int
	seen := make(map[int]bool)
	for _, ev := range events {
		if ev.GetEvent() != "cross-referenced" || ev.Source == nil || ev.Source.Issue == nil {
			continue
		}
		src := ev.Source.Issue
		if !src.IsPullRequest() || seen[src.GetNumber()] {
			continue
		}
		seen[src.GetNumber()] = true
		prs = append(prs, src.GetNumber())
	}
	return prs, nil
}

// GetPR fetches a single pull request by number.
func (g *GitHub) GetPR(ctx context.Context, repo string, number int) (*PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	result, resp, err := g.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("forge: get pr: %w", err)
	}
	g.checkRateLimit(resp)
	return convertPR(result), nil
}

// ListPRFiles returns the files changed in a pull request.
func (g *GitHub) ListPRFiles(ctx context.Context, repo string, number int) ([]*ChangedFile, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	results, resp, err := g.client.PullRequests.ListFiles(ctx, owner, name, number, nil)
	if err != nil {
		return nil, fmt.Errorf("forge: list pr files: %w", err)
	}
	g.checkRateLimit(resp)

	files := make([]*ChangedFile, 0, len(results))
	for _, f := range results {
		files = append(files, &ChangedFile{
			Filename:  f.GetFilename(),
			Status:    f.GetStatus(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
		})
	}
	return files, nil
}

// ListPRCommits returns the commits included in a pull request.
func (g *GitHub) ListPRCommits(ctx context.Context, repo string, number int) ([]*Commit, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	results, resp, err := g.client.PullRequests.ListCommits(ctx, owner, name, number, nil)
	if err != nil {
		return nil, fmt.Errorf("forge: list pr commits: %w", err)
	}
	g.checkRateLimit(resp)

	commits := make([]*Commit, 0, len(results))
	for _, c := range results {
		commits = append(commits, convertRepositoryCommit(c))
	}
	return commits, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Type    string `json:"type,omitempty"`
	} `json:"errors"`
}

// ErrGraphQL wraps errors reported in a GraphQL response body.
var ErrGraphQL = errors.New("graphql error")

// Sentinel errors for API failures callers report differently.
var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("API rate limit exceeded")
)

// classify tags err with ErrNotFound or ErrRateLimited when it is one
// of those API failures.
func classify(err error) error {
	var rle *gogithub.RateLimitError
	if errors.As(err, &rle) {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	var are *gogithub.AbuseRateLimitError
	if errors.As(err, &are) {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	var ere *gogithub.ErrorResponse
	if errors.As(err, &ere) && ere.Response != nil && ere.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// GraphQL posts query to the GraphQL endpoint and decodes the data
// member into out. Errors in the response body are returned wrapped in
// [ErrGraphQL].
func (g *GitHub) GraphQL(ctx context.Context, query string, vars map[string]any, out any) error {
	req, err := g.client.NewRequest(http.MethodPost, "graphql", &graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("forge: graphql request: %w", err)
	}

	var body graphQLResponse
	resp, err := g.client.Do(ctx, req, &body)
	if err != nil {
		return fmt.Errorf("forge: graphql: %w", err)
	}
	g.checkRateLimit(resp)

	if len(body.Errors) > 0 {
		msgs := make([]string, 0, len(body.Errors))
		for _, e := range body.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("forge: %w: %s", ErrGraphQL, strings.Join(msgs, "; "))
	}
	if out == nil || len(body.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(body.Data, out); err != nil {
		return fmt.Errorf("forge: decode graphql data: %w", err)
	}
	return nil
}

func convertIssue(i *gogithub.Issue) *Issue {
	if i == nil {
		return nil
	}
	out := &Issue{
		Number:       i.GetNumber(),
		Title:        i.GetTitle(),
		Body:         i.GetBody(),
		State:        i.GetState(),
		Author:       i.GetUser().GetLogin(),
		CreatedAt:    i.GetCreatedAt().Time,
		UpdatedAt:    i.GetUpdatedAt().Time,
		URL:          i.GetHTMLURL(),
		CommentCount: i.GetComments(),
	}
	for _, l := range i.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	for _, a := range i.Assignees {
		out.Assignees = append(out.Assignees, a.GetLogin())
	}
	return out
}

func convertComment(c *gogithub.IssueComment) *Comment {
	if c == nil {
		return nil
	}
	return &Comment{
		ID:        c.GetID(),
		Body:      c.GetBody(),
		Author:    c.GetUser().GetLogin(),
		CreatedAt: c.GetCreatedAt().Time,
		URL:       c.GetHTMLURL(),
	}
}

func convertPR(pr *gogithub.PullRequest) *PullRequest {
	if pr == nil {
		return nil
	}
	return &PullRequest{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Body:         pr.GetBody(),
		State:        pr.GetState(),
		Author:       pr.GetUser().GetLogin(),
		Head:         pr.GetHead().GetRef(),
		Base:         pr.GetBase().GetRef(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		URL:          pr.GetHTMLURL(),
		CreatedAt:    pr.GetCreatedAt().Time,
		Draft:        pr.GetDraft(),
		Merged:       pr.GetMerged(),
	}
}

func convertRepositoryCommit(c *gogithub.RepositoryCommit) *Commit {
	out := &Commit{
		SHA:     c.GetSHA(),
		Message: c.GetCommit().GetMessage(),
		Author:  "Unknown",
	}
	if author := c.GetCommit().GetAuthor(); author != nil {
		if n := author.GetName(); n != "" {
			out.Author = n
		}
		out.Date = author.GetDate().Time
	}
	return out
}

func convertRepository(r *gogithub.Repository) *Repository {
	if r == nil {
		return nil
	}
	out := &Repository{
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		Private:       r.GetPrivate(),
		DefaultBranch: r.GetDefaultBranch(),
		CreatedAt:     r.GetCreatedAt().Time,
		UpdatedAt:     r.GetUpdatedAt().Time,
		PushedAt:      r.GetPushedAt().Time,
		CloneURL:      r.GetCloneURL(),
		SSHURL:        r.GetSSHURL(),
		HTMLURL:       r.GetHTMLURL(),
	}
	if r.License != nil {
		out.License = &License{Name: r.License.GetName(), SPDXID: r.License.GetSPDXID()}
	}
	return out
}
