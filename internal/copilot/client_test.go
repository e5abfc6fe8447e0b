package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/anicolao/morpheum/internal/events"
	"github.com/anicolao/morpheum/internal/forge"
	"github.com/anicolao/morpheum/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, tr *fakeTracker) *Client {
	t.Helper()
	c, err := New(tr, "owner/repo", Options{
		PollInterval: time.Millisecond,
		MaxPolls:     5,
		Logger:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// respond returns a GraphQL handler that answers successive calls with
// the given data objects.
func respond(t *testing.T, responses ...map[string]any) func(string, map[string]any, any) error {
	t.Helper()
	i := 0
	return func(_ string, _ map[string]any, out any) error {
		if i >= len(responses) {
			return errors.New("unexpected graphql call")
		}
		data, _ := json.Marshal(responses[i])
		i++
		return json.Unmarshal(data, out)
	}
}

type chunkRecorder struct {
	texts []string
	duals []llm.Chunk
}

func (r *chunkRecorder) record(c llm.Chunk) {
	if c.Kind == llm.ChunkDual {
		r.duals = append(r.duals, c)
		return
	}
	r.texts = append(r.texts, c.Text)
}

func TestNew_InvalidRepository(t *testing.T) {
	for _, repo := range []string{"", "invalid-repo-format", "a/b/c", "/repo", "owner/"} {
		if _, err := New(newFakeTracker(), repo, Options{}); !errors.Is(err, ErrInvalidRepository) {
			t.Errorf("New(%q) err = %v, want ErrInvalidRepository", repo, err)
		}
	}
}

func TestSendStreaming_AssignedSession(t *testing.T) {
	tr := newFakeTracker()
	tr.graphql = func(query string, vars map[string]any, out any) error {
		if strings.Contains(query, "suggestedActors") {
			if vars["owner"] != "owner" || vars["name"] != "repo" {
				t.Errorf("vars = %v", vars)
			}
			return respond(t, map[string]any{"repository": map[string]any{
				"id": "R_1",
				"suggestedActors": map[string]any{"nodes": []map[string]any{
					{"login": "someone", "id": "U_1", "__typename": "User"},
					{"login": AgentLogin, "id": "BOT_1", "__typename": "Bot"},
				}},
			}})(query, vars, out)
		}
		ids, _ := vars["assigneeIds"].([]string)
		if len(ids) != 1 || ids[0] != "BOT_1" {
			t.Errorf("assigneeIds = %v", vars["assigneeIds"])
		}
		// Mirror the issue into the fake so polling can find it.
		tr.issues[123] = &forge.Issue{Number: 123, State: "open", URL: tr.url("issues", 123)}
		return respond(t, map[string]any{"createIssue": map[string]any{"issue": map[string]any{
			"id": "I_1", "number": 123, "url": tr.url("issues", 123), "title": vars["title"],
		}}})(query, vars, out)
	}
	tr.links[123] = []int{124}
	tr.prs[124] = &forge.PullRequest{Number: 124, State: "open", URL: tr.url("pull", 124)}
	tr.commits[124] = 1
	tr.files[124] = 2

	c := newTestClient(t, tr)
	var rec chunkRecorder
	resp, err := c.SendStreaming(context.Background(), "Test prompt", rec.record)
	if err != nil {
		t.Fatalf("SendStreaming: %v", err)
	}

	for _, want := range []string{"GitHub Copilot session completed!", "90%", "[#124](https://github.com/owner/repo/pull/124)", "**Commits:** 1", "**Files changed:** 2"} {
		if !strings.Contains(resp, want) {
			t.Errorf("response missing %q:\n%s", want, resp)
		}
	}
	if strings.Contains(resp, DemoPrefix) {
		t.Errorf("assigned session should not be demo:\n%s", resp)
	}
	if tr.graphqlCalls != 2 {
		t.Errorf("graphql calls = %d, want 2", tr.graphqlCalls)
	}
	if tr.createCalls != 0 {
		t.Errorf("REST create calls = %d, want 0", tr.createCalls)
	}
	if !strings.Contains(joinChunks(rec.texts), "Track progress on PR [#124]") {
		t.Errorf("chunks missing PR tracking line: %q", rec.texts)
	}
}

func TestSendStreaming_DemoFallback(t *testing.T) {
	tr := newFakeTracker()
	c := newTestClient(t, tr)

	var rec chunkRecorder
	resp, err := c.SendStreaming(context.Background(), "Fix authentication bug", rec.record)
	if err != nil {
		t.Fatalf("SendStreaming: %v", err)
	}

	if !strings.Contains(resp, "[DEMO]") || !strings.Contains(resp, "GitHub Copilot session completed") {
		t.Errorf("response = %q", resp)
	}
	if len(tr.titleUpdates) != 1 || tr.titleUpdates[0] != "[DEMO] Copilot Task: Fix authentication bug" {
		t.Errorf("title updates = %q", tr.titleUpdates)
	}

	if len(rec.texts) == 0 || rec.texts[0] != "Creating GitHub issue for: \"Fix authentication bug\"\n" {
		t.Fatalf("first chunk = %q", rec.texts)
	}
	all := joinChunks(rec.texts)
	for _, want := range []string{
		"Issue [#123](https://github.com/owner/repo/issues/123) created",
		"Starting GitHub Copilot session for [#123](https://github.com/owner/repo/issues/123)",
		"Copilot session started",
		"Track progress on issue [#123](https://github.com/owner/repo/issues/123)",
	} {
		if !strings.Contains(all, want) {
			t.Errorf("chunks missing %q", want)
		}
	}
	for _, ch := range rec.texts {
		if !strings.HasSuffix(ch, "\n") {
			t.Errorf("status chunk %q does not end with newline", ch)
		}
	}

	if len(rec.duals) != 1 {
		t.Fatalf("got %d dual chunks, want 1", len(rec.duals))
	}
	d := rec.duals[0]
	for _, want := range []string{
		"📊 **[DEMO] GitHub Copilot Progress Tracking**",
		"🔗 **Issue:** [#123](https://github.com/owner/repo/issues/123)",
	} {
		if !strings.Contains(d.Text, want) {
			t.Errorf("dual text missing %q:\n%s", want, d.Text)
		}
	}
	for _, want := range []string{
		"<iframe",
		`src="https://github.com/owner/repo/issues/123"`,
		"🤖 [DEMO] Live Progress Tracking",
		`sandbox="allow-scripts allow-same-origin allow-popups"`,
		"Open Issue #123 ↗",
		"📊 Issue Tracking:",
	} {
		if !strings.Contains(d.HTML, want) {
			t.Errorf("dual html missing %q:\n%s", want, d.HTML)
		}
	}
}

func TestSendStreaming_NilCallback(t *testing.T) {
	c := newTestClient(t, newFakeTracker())
	if _, err := c.SendStreaming(context.Background(), "anything", nil); err != nil {
		t.Fatalf("SendStreaming: %v", err)
	}
}

func TestSendStreaming_ContinuesExistingWork(t *testing.T) {
	tr := newFakeTracker()
	tr.issues[456] = &forge.Issue{
		Number:    456,
		Title:     "Copilot Task: Fix authentication bug",
		State:     "open",
		Assignees: []string{AgentLogin},
		URL:       tr.url("issues", 456),
	}
	tr.links[456] = []int{789}
	tr.prs[789] = &forge.PullRequest{Number: 789, State: "open", URL: tr.url("pull", 789)}

	c := newTestClient(t, tr)
	var rec chunkRecorder
	if _, err := c.SendStreaming(context.Background(), "apply review comments from the latest PR", rec.record); err != nil {
		t.Fatalf("SendStreaming: %v", err)
	}

	if tr.createCalls != 0 {
		t.Errorf("created %d issues, want 0", tr.createCalls)
	}
	if got := tr.comments[789]; len(got) != 1 || got[0] != "@copilot apply review comments from the latest PR" {
		t.Errorf("PR comments = %q", got)
	}
	all := joinChunks(rec.texts)
	if !strings.Contains(all, "Copilot session started") {
		t.Errorf("chunks = %q", rec.texts)
	}
	if strings.Contains(all, "Creating GitHub issue") {
		t.Errorf("iteration should not create an issue: %q", rec.texts)
	}
}

func TestSendStreaming_IterationFallsBackToNewSession(t *testing.T) {
	tr := newFakeTracker()
	c := newTestClient(t, tr)

	var rec chunkRecorder
	if _, err := c.SendStreaming(context.Background(), "apply review comments from PR #999", rec.record); err != nil {
		t.Fatalf("SendStreaming: %v", err)
	}
	if tr.createCalls != 1 {
		t.Errorf("created %d issues, want 1", tr.createCalls)
	}
	if !strings.Contains(joinChunks(rec.texts), "Creating GitHub issue") {
		t.Errorf("chunks = %q", rec.texts)
	}
}

func TestSendStreaming_ContextCancelled(t *testing.T) {
	tr := newFakeTracker()
	c, err := New(tr, "owner/repo", Options{PollInterval: time.Hour, MaxPolls: 3, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := c.SendStreaming(ctx, "long task", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSessionEvents(t *testing.T) {
	tr := newFakeTracker()
	bus := events.New()
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)
	c, err := New(tr, "owner/repo", Options{PollInterval: time.Millisecond, MaxPolls: 1, Bus: bus, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, err := c.SendStreaming(ctx, "long task", nil); err != nil {
		t.Fatalf("SendStreaming: %v", err)
	}
	var id string
	select {
	case e := <-ch:
		if e.Source != events.SourceCopilot || e.Kind != events.KindSessionStatus {
			t.Fatalf("event = %s/%s", e.Source, e.Kind)
		}
		if e.Data["issue"] != 123 || e.Data["repository"] != "owner/repo" || e.Data["status"] != string(StatusInProgress) {
			t.Errorf("data = %v", e.Data)
		}
		id, _ = e.Data["session"].(string)
	default:
		t.Fatal("no status event after polling")
	}

	if err := c.CancelSession(ctx, id); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	select {
	case e := <-ch:
		if e.Data["session"] != id || e.Data["status"] != string(StatusCancelled) {
			t.Errorf("cancel data = %v", e.Data)
		}
	default:
		t.Fatal("no status event after cancel")
	}
}

func TestActiveSessions(t *testing.T) {
	tr := newFakeTracker()
	c := newTestClient(t, tr)
	ctx := context.Background()

	if got := c.ActiveSessions(ctx); got == nil || len(got) != 0 {
		t.Errorf("empty ActiveSessions = %v, want empty non-nil", got)
	}

	tr.issues[7] = &forge.Issue{Number: 7, Title: "Copilot Task: x", State: "open", Assignees: []string{AgentLogin}}
	tr.issues[8] = &forge.Issue{Number: 8, Title: "unrelated", State: "open"}
	got := c.ActiveSessions(ctx)
	if len(got) != 1 || got[0].ID != "issue-7" || got[0].IssueURL != "https://github.com/owner/repo/issues/7" {
		t.Errorf("ActiveSessions = %+v", got)
	}

	tr.listErr = errors.New("GitHub API error")
	if got := c.ActiveSessions(ctx); len(got) != 0 {
		t.Errorf("ActiveSessions on error = %v, want empty", got)
	}
}

func TestSessionStatusAndCancel(t *testing.T) {
	tr := newFakeTracker()
	c, err := New(tr, "owner/repo", Options{PollInterval: time.Millisecond, MaxPolls: 1, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	// One poll leaves the session running.
	if _, err := c.SendStreaming(ctx, "long task", nil); err != nil {
		t.Fatalf("SendStreaming: %v", err)
	}
	all, _ := c.store.List(ctx, SessionNamespace)
	if len(all) != 1 {
		t.Fatalf("recorded %d sessions, want 1", len(all))
	}
	var id string
	for k := range all {
		id = k
	}

	s, err := c.SessionStatus(ctx, id)
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	if s.IssueNumber != 123 || s.Status.Done() {
		t.Errorf("session = %+v", s)
	}

	if err := c.CancelSession(ctx, id); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	if tr.issues[123].State != "closed" {
		t.Errorf("issue state = %q, want closed", tr.issues[123].State)
	}
	if len(tr.comments[123]) != 1 {
		t.Errorf("comments = %q", tr.comments[123])
	}
	if _, err := c.SessionStatus(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SessionStatus after cancel err = %v, want ErrSessionNotFound", err)
	}

	if _, err := c.SessionStatus(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SessionStatus(unknown) err = %v", err)
	}
	if err := c.CancelSession(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("CancelSession(unknown) err = %v", err)
	}
}

func TestRefresh_CompletesOnClosedIssue(t *testing.T) {
	tr := newFakeTracker()
	tr.issues[5] = &forge.Issue{Number: 5, State: "closed"}
	c := newTestClient(t, tr)

	s := &Session{IssueNumber: 5, Status: StatusInProgress}
	c.refresh(context.Background(), s)
	if s.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", s.Status)
	}
}

func TestRefresh_DraftPRStaysInProgress(t *testing.T) {
	tr := newFakeTracker()
	tr.issues[5] = &forge.Issue{Number: 5, State: "open"}
	tr.links[5] = []int{6}
	tr.prs[6] = &forge.PullRequest{Number: 6, State: "open", Draft: true}
	c := newTestClient(t, tr)

	s := &Session{IssueNumber: 5, Status: StatusPending}
	c.refresh(context.Background(), s)
	if s.Status != StatusInProgress || s.PRNumber != 6 {
		t.Errorf("session = %+v", s)
	}
	if s.PRURL != "https://github.com/owner/repo/pull/6" {
		t.Errorf("PRURL = %q", s.PRURL)
	}

	tr.prs[6].Merged = true
	c.refresh(context.Background(), s)
	if s.Status != StatusCompleted {
		t.Errorf("status after merge = %q, want completed", s.Status)
	}
}

func TestIssueTitle(t *testing.T) {
	if got := issueTitle("fix   the\nbug"); got != "Copilot Task: fix the bug" {
		t.Errorf("issueTitle = %q", got)
	}
	long := strings.Repeat("é", 80)
	got := issueTitle(long)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) != len([]rune(TitlePrefix))+maxTitleRunes+3 {
		t.Errorf("issueTitle(long) = %q", got)
	}
}
