package copilot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/anicolao/morpheum/internal/forge"
)

// fakeTracker is an in-memory forge.Tracker.
type fakeTracker struct {
	mu sync.Mutex

	issues   map[int]*forge.Issue
	prs      map[int]*forge.PullRequest
	links    map[int][]int
	commits  map[int]int
	files    map[int]int
	comments map[int][]string
	nextNum  int

	// graphql, when set, answers GraphQL calls. Nil means every call fails.
	graphql      func(query string, vars map[string]any, out any) error
	graphqlCalls int
	listErr      error
	createCalls  int
	titleUpdates []string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		issues:   make(map[int]*forge.Issue),
		prs:      make(map[int]*forge.PullRequest),
		links:    make(map[int][]int),
		commits:  make(map[int]int),
		files:    make(map[int]int),
		comments: make(map[int][]string),
		nextNum:  123,
	}
}

func (f *fakeTracker) url(kind string, n int) string {
	return fmt.Sprintf("https://github.com/owner/repo/%s/%d", kind, n)
}

func (f *fakeTracker) CreateIssue(_ context.Context, _ string, is *forge.Issue) (*forge.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	n := f.nextNum
	f.nextNum++
	out := &forge.Issue{Number: n, Title: is.Title, Body: is.Body, State: "open", URL: f.url("issues", n)}
	f.issues[n] = out
	return out, nil
}

func (f *fakeTracker) UpdateIssue(_ context.Context, _ string, n int, u *forge.IssueUpdate) (*forge.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	is, ok := f.issues[n]
	if !ok {
		return nil, errors.New("not found")
	}
	if u.Title != nil {
		is.Title = *u.Title
		f.titleUpdates = append(f.titleUpdates, *u.Title)
	}
	if u.State != nil {
		is.State = *u.State
	}
	return is, nil
}

func (f *fakeTracker) GetIssue(_ context.Context, _ string, n int) (*forge.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	is, ok := f.issues[n]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *is
	return &cp, nil
}

func (f *fakeTracker) ListIssues(_ context.Context, _ string, opts *forge.ListOptions) ([]*forge.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*forge.Issue
	for _, is := range f.issues {
		if opts.State != "" && is.State != opts.State {
			continue
		}
		if opts.Assignee != "" && !contains(is.Assignees, opts.Assignee) {
			continue
		}
		out = append(out, is)
	}
	return out, nil
}

func (f *fakeTracker) AddComment(_ context.Context, _ string, n int, body string) (*forge.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[n] = append(f.comments[n], body)
	return &forge.Comment{ID: 1, Body: body}, nil
}

func (f *fakeTracker) LinkedPullRequests(_ context.Context, _ string, n int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[n], nil
}

func (f *fakeTracker) GetPR(_ context.Context, _ string, n int) (*forge.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.prs[n]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *pr
	return &cp, nil
}

func (f *fakeTracker) ListPRCommits(_ context.Context, _ string, n int) ([]*forge.Commit, error) {
	return make([]*forge.Commit, f.commits[n]), nil
}

func (f *fakeTracker) ListPRFiles(_ context.Context, _ string, n int) ([]*forge.ChangedFile, error) {
	return make([]*forge.ChangedFile, f.files[n]), nil
}

func (f *fakeTracker) GraphQL(_ context.Context, query string, vars map[string]any, out any) error {
	f.mu.Lock()
	f.graphqlCalls++
	fn := f.graphql
	f.mu.Unlock()
	if fn == nil {
		return errors.New("graphql unavailable")
	}
	return fn(query, vars, out)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func joinChunks(chunks []string) string { return strings.Join(chunks, "") }
