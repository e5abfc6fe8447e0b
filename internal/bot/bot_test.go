package bot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anicolao/morpheum/internal/config"
	"github.com/anicolao/morpheum/internal/gauntlet"
	"github.com/anicolao/morpheum/internal/llm"
	"github.com/anicolao/morpheum/internal/matrix"
	"github.com/anicolao/morpheum/internal/roomconfig"
	"github.com/anicolao/morpheum/internal/sandbox"
	"github.com/anicolao/morpheum/internal/tasks"
)

const room = "!room:example.org"

func TestHelp(t *testing.T) {
	f := newFixture(t, testLLMConfig(), nil)
	rs := f.send(t, room, "!help")
	if got := rs.texts(); len(got) != 1 || got[0] != HelpText {
		t.Fatalf("!help replies = %q", got)
	}
	if len(f.builtKinds()) != 0 {
		t.Error("!help built an LLM client")
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	f := newFixture(t, testLLMConfig(), nil)
	if got := f.send(t, room, "!frobnicate").texts(); len(got) != 0 {
		t.Errorf("replies = %q, want none", got)
	}
}

func TestTask_Completes(t *testing.T) {
	f := newFixture(t, testLLMConfig(), nil)
	rs := f.send(t, room, "list the files")

	if !strings.HasPrefix(rs.texts()[0], `🚀 Working on: "list the files" using ollama (morpheum-local)`) {
		t.Errorf("first reply = %q", rs.texts()[0])
	}
	if !rs.contains("✓ Job's done!") {
		t.Error("completion not reported")
	}
	if rs.contains("⏹️") {
		t.Error("completed task reported as stopped")
	}
}

func TestTask_Exhausted(t *testing.T) {
	f := newFixture(t, testLLMConfig(), nil)
	f.clients[config.ProviderOllama].response = "```bash\nls\n```"

	rs := f.send(t, room, "loop forever")
	if got := rs.last(); got != "⏹️ Stopped after 10 iterations without a completion signal." {
		t.Errorf("last reply = %q", got)
	}
	if len(f.sandbox.commands) != 10 {
		t.Errorf("sandbox ran %d commands, want 10", len(f.sandbox.commands))
	}
}

func TestTask_ConfigurationError(t *testing.T) {
	cfg := testLLMConfig()
	cfg.Provider = config.ProviderOpenAI
	f := newFixture(t, cfg, nil)

	rs := f.send(t, room, "do something")
	want := "Error: OpenAI API key is not configured. Set OPENAI_API_KEY environment variable."
	if got := rs.texts(); len(got) != 1 || got[0] != want {
		t.Errorf("replies = %q, want [%q]", got, want)
	}
	if f.clients[config.ProviderOpenAI].calls() != 0 {
		t.Error("model was called despite missing credential")
	}
}

func TestTask_TransportError(t *testing.T) {
	f := newFixture(t, testLLMConfig(), nil)
	f.clients[config.ProviderOllama].err = errors.New("connection refused")

	rs := f.send(t, room, "do something")
	if !strings.HasPrefix(rs.last(), "Error: ") || !strings.Contains(rs.last(), "connection refused") {
		t.Errorf("last reply = %q", rs.last())
	}
}

func TestTask_ProjectRoomUsesCopilot(t *testing.T) {
	f := newFixture(t, testLLMConfig(), nil)
	f.rooms.configs = map[string]roomconfig.Override{
		"!proj:example.org": {Repository: "octo/repo", LLMProvider: "copilot"},
	}

	rs := f.send(t, "!proj:example.org", "fix the bug")
	if !strings.Contains(rs.texts()[0], "using copilot (octo/repo)") {
		t.Errorf("announcement = %q", rs.texts()[0])
	}
	if !rs.contains("Copilot session started") {
		t.Error("copilot chunks not forwarded")
	}
	if got := f.engine.Current().Kind; got != config.ProviderOllama {
		t.Errorf("global provider = %q after project task, want ollama", got)
	}

	plain := f.send(t, room, "fix the bug")
	if !strings.Contains(plain.texts()[0], "using ollama (morpheum-local)") {
		t.Errorf("plain room announcement = %q", plain.texts()[0])
	}
}

func TestLLMSwitch(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
		kind string
	}{
		{name: "no provider", body: "!llm switch", want: switchUsage, kind: "ollama"},
		{name: "unknown provider", body: "!llm switch claude", want: switchUsage, kind: "ollama"},
		{name: "openai without key", body: "!llm switch openai gpt-4",
			want: "Error switching LLM provider: OpenAI API key is not configured. Set OPENAI_API_KEY environment variable.", kind: "ollama"},
		{name: "copilot without repository", body: "!llm switch copilot",
			want: "Error: Repository is required for Copilot. Use: !llm switch copilot <owner/repo>", kind: "ollama"},
		{name: "ollama with model and url", body: "!llm switch ollama llama3 http://gpu:11434",
			want: "Switched to ollama (model: llama3, baseUrl: http://gpu:11434)", kind: "ollama"},
		{name: "copilot with repository", body: "!llm switch copilot octo/repo",
			want: "Switched to copilot (repository: octo/repo, baseUrl: https://api.github.com)", kind: "copilot"},
		{name: "bare llm", body: "!llm", want: "Usage: !llm <status|switch>", kind: "ollama"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testLLMConfig(), nil)
			if got := f.send(t, room, tt.body).last(); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
			if got := f.engine.Current().Kind; got != tt.kind {
				t.Errorf("provider = %q, want %q", got, tt.kind)
			}
		})
	}
}

func TestLLMSwitch_RemembersModel(t *testing.T) {
	f := newFixture(t, testLLMConfig(), nil)
	f.send(t, room, "!llm switch ollama llama3")
	f.send(t, room, "!llm switch copilot octo/repo")
	if got := f.send(t, room, "!llm switch ollama").last(); got != "Switched to ollama (model: llama3, baseUrl: http://localhost:11434)" {
		t.Errorf("reply = %q", got)
	}
}

func TestLLMStatus(t *testing.T) {
	f := newFixture(t, testLLMConfig(), func(o *Options) {
		o.Health = fakeHealth{
			"ollama":  {Name: "ollama", Ready: true},
			"sandbox": {Name: "sandbox", LastError: "dial tcp: connection refused"},
		}
	})
	f.send(t, room, "!ollama hello")

	status := f.send(t, room, "!llm status").last()
	for _, want := range []string{
		"Current Provider: ollama (from global configuration)",
		"- OpenAI: model=gpt-3.5-turbo, baseUrl=https://api.openai.com/v1, apiKey=not configured",
		"- Ollama: model=morpheum-local, baseUrl=http://localhost:11434",
		"- Copilot: repository=not configured, baseUrl=https://api.github.com, apiKey=configured",
		"- ollama: ✅ reachable",
		"- sandbox: ❌ unreachable (dial tcp: connection refused)",
		"ollama (morpheum-local): 1 requests, 0 errors",
	} {
		if !strings.Contains(status, want) {
			t.Errorf("status missing %q:\n%s", want, status)
		}
	}
	if strings.Contains(status, "ghp_test") {
		t.Error("status leaked a credential")
	}

	f.rooms.configs = map[string]roomconfig.Override{
		"!proj:example.org": {Repository: "octo/repo", LLMProvider: "copilot", CreatedBy: "@alice:example.org"},
	}
	proj := f.send(t, "!proj:example.org", "!llm status").last()
	for _, want := range []string{
		"Current Provider: copilot (from project room configuration)",
		"**🏗️ Project Room Configuration:**",
		"- Repository: octo/repo",
		"- Created by: @alice:example.org",
		"use Copilot with repository 'octo/repo'",
	} {
		if !strings.Contains(proj, want) {
			t.Errorf("project status missing %q:\n%s", want, proj)
		}
	}
}

func TestLLMStatus_UnappliedProjectConfig(t *testing.T) {
	cfg := testLLMConfig()
	cfg.Copilot.Token = ""
	f := newFixture(t, cfg, nil)
	f.rooms.configs = map[string]roomconfig.Override{
		"!proj:example.org": {Repository: "octo/repo", LLMProvider: "copilot"},
	}

	status := f.send(t, "!proj:example.org", "!llm status").last()
	for _, want := range []string{
		"Current Provider: ollama (from global configuration)",
		"- Repository: octo/repo",
		"The project configuration cannot be applied",
		"tasks in this room use ollama (morpheum-local)",
	} {
		if !strings.Contains(status, want) {
			t.Errorf("status missing %q:\n%s", want, status)
		}
	}
	if strings.Contains(status, "automatically use Copilot") {
		t.Errorf("status claims Copilot is used:\n%s", status)
	}

	rs := f.send(t, "!proj:example.org", "fix the bug")
	if !strings.Contains(rs.texts()[0], "using ollama (morpheum-local)") {
		t.Errorf("announcement = %q", rs.texts()[0])
	}
}

func TestDirectPrompt(t *testing.T) {
	f := newFixture(t, testLLMConfig(), nil)
	f.clients[config.ProviderOllama].chunks = []llm.Chunk{llm.TextChunk("Hel"), llm.TextChunk("lo")}

	got := f.send(t, room, "!ollama say hello").texts()
	want := []string{"🤖 Ollama is thinking...", "Hel", "lo", "\n✅ Ollama completed."}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("replies = %q, want %q", got, want)
	}
	if p := f.clients[config.ProviderOllama].prompts; len(p) != 1 || p[0] != "say hello" {
		t.Errorf("prompts = %q", p)
	}

	if got := f.send(t, room, "!openai").last(); got != "Usage: !openai <prompt>" {
		t.Errorf("empty prompt reply = %q", got)
	}
	if got := f.send(t, room, "!openai hi").last(); got != "Error: OpenAI API key is not configured. Set OPENAI_API_KEY environment variable." {
		t.Errorf("missing key reply = %q", got)
	}

	f.clients[config.ProviderOllama].err = errors.New("boom")
	if got := f.send(t, room, "!ollama again").last(); got != "Error calling Ollama: boom" {
		t.Errorf("error reply = %q", got)
	}
}

func TestCopilotCommand(t *testing.T) {
	f := newFixture(t, testLLMConfig(), nil)
	if got := f.send(t, room, "!copilot").last(); got != copilotUsage {
		t.Errorf("bare reply = %q", got)
	}
	if got := f.send(t, room, "!copilot list").last(); got != "Error: Not currently using Copilot provider. Use `!llm switch copilot <repository>` first." {
		t.Errorf("non-copilot reply = %q", got)
	}
}

func TestTokens(t *testing.T) {
	f := newFixture(t, testLLMConfig(), nil)
	if got := f.send(t, room, "!tokens").last(); !strings.HasPrefix(got, "Matrix Token Status: Static token mode") {
		t.Errorf("static !tokens = %q", got)
	}
	if got := f.send(t, room, "!token refresh").last(); !strings.HasPrefix(got, "❌ Manual token refresh not available") {
		t.Errorf("static !token refresh = %q", got)
	}

	tok := &fakeTokens{
		status: matrix.TokenStatus{HasAccessToken: true, HasCredentials: true},
		creds:  &matrix.Credentials{AccessToken: "syt_new", RefreshToken: "syr_new", DeviceID: "DEV", ExpiresInMS: 300000},
	}
	f = newFixture(t, testLLMConfig(), func(o *Options) { o.Tokens = tok })

	status := f.send(t, room, "!tokens").last()
	for _, want := range []string{
		"- Access Token: ✅ Available",
		"- Refresh Token: ❌ Not available",
		"- Credentials: ✅ Username/password configured",
		"- Refresh Status: ⏸️ Idle",
		"✅ Automatic token refresh is enabled and working",
	} {
		if !strings.Contains(status, want) {
			t.Errorf("!tokens missing %q:\n%s", want, status)
		}
	}
	if strings.Contains(status, "syt_") {
		t.Error("!tokens revealed a token")
	}

	rs := f.send(t, room, "!token refresh")
	want := "✅ Token refresh successful!\n- New access token: Obtained\n- Refresh token: Updated\n- Expires: 5 minutes\n- Device ID: DEV"
	if got := rs.texts(); len(got) != 2 || got[0] != "🔄 Starting manual token refresh..." || got[1] != want {
		t.Errorf("!token refresh = %q", got)
	}

	tok.err = errors.New("M_FORBIDDEN")
	if got := f.send(t, room, "!token refresh").last(); got != "❌ Token refresh failed: M_FORBIDDEN" {
		t.Errorf("failed refresh = %q", got)
	}

	tok.status = matrix.TokenStatus{HasAccessToken: true}
	if got := f.send(t, room, "!token refresh").last(); !strings.HasPrefix(got, "❌ Cannot refresh token: Missing credentials") {
		t.Errorf("no credentials = %q", got)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestTasksAndDevlog(t *testing.T) {
	dir := t.TempDir()
	for i, title := range []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon", "Zeta"} {
		writeFile(t, filepath.Join(dir, title+".md"),
			"---\ntitle: Parser "+title+"\nstatus: open\nphase: Phase 1\norder: "+string(rune('1'+i))+"\n---\nparser work")
	}
	writeFile(t, filepath.Join(dir, "done.md"), "---\ntitle: Finished parser\nstatus: completed\n---\nparser")
	devlog := filepath.Join(t.TempDir(), "DEVLOG.md")
	writeFile(t, devlog, "# Devlog\n\n- shipped **it**")

	f := newFixture(t, testLLMConfig(), func(o *Options) {
		o.Tasks = tasks.NewLoader(dir)
		o.DevlogPath = devlog
	})

	rs := f.send(t, room, "!tasks")
	if !strings.Contains(rs.last(), "Parser Alpha") || strings.Contains(rs.last(), "Finished parser") {
		t.Errorf("!tasks = %q", rs.last())
	}
	if rs.html[0] == "" {
		t.Error("!tasks sent without HTML")
	}

	summary := f.send(t, room, "!tasks summary").last()
	for _, want := range []string{"• **Open Tasks:** 6", "• **Completed Tasks:** 1", "  • Phase 1: 6 tasks", "[View Full Dashboard](https://anicolao.github.io/morpheum/status/tasks/)"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	search := f.send(t, room, "!tasks search parser").last()
	if !strings.Contains(search, "(6 found)") || !strings.Contains(search, "... and 1 more results") {
		t.Errorf("search = %s", search)
	}
	if got := f.send(t, room, "!tasks search nothing-matches").last(); !strings.Contains(got, `No tasks found matching "nothing-matches"`) {
		t.Errorf("empty search = %q", got)
	}
	if got := f.send(t, room, "!tasks search").last(); got != "Usage: !tasks search <query>" {
		t.Errorf("bare search = %q", got)
	}
	if got := f.send(t, room, "!tasks bogus").last(); got != "Unknown tasks subcommand. Available: summary, search" {
		t.Errorf("unknown subcommand = %q", got)
	}

	dl := f.send(t, room, "!devlog")
	if dl.last() != "# Devlog\n\n- shipped **it**" || !strings.Contains(dl.html[0], "<strong>it</strong>") {
		t.Errorf("!devlog = %q / %q", dl.last(), dl.html[0])
	}
}

func TestProjectCreate(t *testing.T) {
	f := newFixture(t, testLLMConfig(), nil)

	rs := f.send(t, room, "!project create octo/repo")
	got := rs.texts()
	if len(got) != 2 || got[0] != "🔨 Creating project room..." || got[1] != "✅ Project room 'repo' created! You've been invited to join." {
		t.Fatalf("replies = %q", got)
	}
	if len(f.rooms.invites) != 1 || f.rooms.invites[0] != "!project1:example.org @alice:example.org" {
		t.Errorf("invites = %q", f.rooms.invites)
	}
	if welcome := f.rooms.messages["!project1:example.org"]; len(welcome) != 1 || !strings.Contains(welcome[0], "octo/repo") {
		t.Errorf("welcome = %q", welcome)
	}

	// A task in the new room targets the project's repository.
	task := f.send(t, "!project1:example.org", "add tests")
	if !strings.Contains(task.texts()[0], "using copilot (octo/repo)") {
		t.Errorf("task announcement = %q", task.texts()[0])
	}
}

func TestProjectCreate_Errors(t *testing.T) {
	f := newFixture(t, testLLMConfig(), nil)

	if got := f.send(t, room, "!project create").last(); !strings.HasPrefix(got, "❌ Repository name or Git URL is required.") {
		t.Errorf("no args = %q", got)
	}
	if got := f.send(t, room, "!project create not a url").last(); !strings.HasPrefix(got, "❌ Invalid Git URL format.") {
		t.Errorf("bad url = %q", got)
	}
	if got := f.send(t, room, "!project create --new bad/name").last(); !strings.HasPrefix(got, "❌ Invalid repository name.") {
		t.Errorf("bad name = %q", got)
	}
	if got := f.send(t, room, "!project create —new fresh").last(); got != "❌ GitHub token not configured. Set GITHUB_TOKEN to create repositories." {
		t.Errorf("no token = %q", got)
	}

	f.rooms.inviteErr = errors.New("M_FORBIDDEN: @alice:example.org is already in the room")
	got := f.send(t, room, "!project create octo/other").last()
	if !strings.HasPrefix(got, "✅ Project room 'other' created, but failed to invite you: User is already in the room.") {
		t.Errorf("invite failure = %q", got)
	}
}

func TestProjectStatusAndHelp(t *testing.T) {
	f := newFixture(t, testLLMConfig(), nil)
	if got := f.send(t, room, "!project status").last(); got != "❌ Git URL is required. Usage: !project status <git-url>\nExample: !project status facebook/react" {
		t.Errorf("no args = %q", got)
	}
	rs := f.send(t, room, "!project status octo/repo")
	if got := rs.texts(); len(got) != 2 || !strings.HasPrefix(got[1], "❌ GitHub token not configured.") {
		t.Errorf("no token = %q", got)
	}
	if got := f.send(t, room, "!project help").last(); !strings.Contains(got, "Project Room Management") {
		t.Errorf("help = %q", got)
	}
	if got := f.send(t, room, "!project").last(); got != "Usage: !project <create|status|help>\nUse `!project help` for detailed information." {
		t.Errorf("bare = %q", got)
	}

	nf := newFixture(t, testLLMConfig(), func(o *Options) { o.Projects = nil })
	if got := nf.send(t, room, "!project help").last(); got != "❌ Project room functionality is not available. Matrix client not configured." {
		t.Errorf("unavailable = %q", got)
	}
}

func TestCreate(t *testing.T) {
	prov := &fakeProvisioner{}
	jail := &fakeSandbox{name: "jail"}
	var jailPort int
	f := newFixture(t, testLLMConfig(), func(o *Options) {
		o.Provisioner = prov
		o.NewJail = func(port int) sandbox.Executor {
			jailPort = port
			return jail
		}
	})

	rs := f.send(t, room, "!create 12001")
	want := []string{
		"Creating a new environment...",
		"Successfully created container: gauntlet-test-1\nStdout:\nup\nStderr:\n",
		"Agent reset to talk to the new container on port 12001",
	}
	if strings.Join(rs.texts(), "|") != strings.Join(want, "|") {
		t.Errorf("replies = %q", rs.texts())
	}
	if jailPort != 12001 || f.engine.Sandbox() != sandbox.Executor(jail) {
		t.Errorf("sandbox not retargeted (port %d)", jailPort)
	}

	f.send(t, room, "!create")
	if prov.ports[1] != 10001 {
		t.Errorf("default port = %d", prov.ports[1])
	}

	if got := f.send(t, room, "!create abc").last(); got != `Error creating environment: invalid port "abc"` {
		t.Errorf("bad port = %q", got)
	}

	prov.err = errors.New("nix: not found")
	if got := f.send(t, room, "!create 13001").last(); !strings.HasPrefix(got, "Error creating environment: nix: not found") {
		t.Errorf("failure = %q", got)
	}
}

func TestGauntletCommand(t *testing.T) {
	f := newFixture(t, testLLMConfig(), nil)
	f.bot.opts.Gauntlet = gauntlet.New(f.engine, f.sandbox, nil, quietLogger())

	if got := f.send(t, room, "!gauntlet").last(); got != gauntlet.HelpText() {
		t.Errorf("bare = %q", got)
	}
	if got := f.send(t, room, "!gauntlet list").last(); got != gauntlet.ListText() {
		t.Errorf("list = %q", got)
	}
	if got := f.send(t, room, "!gauntlet run").last(); got != "Error: "+gauntlet.ErrNoModel.Error() {
		t.Errorf("no model = %q", got)
	}
	if got := f.send(t, room, "!gauntlet run --model m --provider copilot").last(); got != `Error: --provider must be either "openai" or "ollama"` {
		t.Errorf("bad provider = %q", got)
	}
	if got := f.send(t, room, "!gauntlet run —model gpt-4 —provider openai").last(); got != "Error: OpenAI provider requires OPENAI_API_KEY environment variable to be set." {
		t.Errorf("no key = %q", got)
	}
	if got := f.send(t, room, "!gauntlet bogus").last(); got != "Usage: !gauntlet <run|list|help>" {
		t.Errorf("unknown = %q", got)
	}

	rs := f.send(t, room, "!gauntlet run --model llama3 --task add-jq")
	if rs.texts()[0] != "🏆 Starting Gauntlet evaluation with provider: ollama, model: llama3 (task: add-jq)..." {
		t.Errorf("start = %q", rs.texts()[0])
	}
	if !strings.Contains(rs.last(), "**Results:** 0/1 passed") {
		t.Errorf("results = %q", rs.last())
	}
	if f.engine.Current().Model != "morpheum-local" {
		t.Error("gauntlet changed the global model")
	}
}
