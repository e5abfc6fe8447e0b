package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/anicolao/morpheum/internal/agent"
	"github.com/anicolao/morpheum/internal/config"
	"github.com/anicolao/morpheum/internal/connwatch"
	"github.com/anicolao/morpheum/internal/llm"
	"github.com/anicolao/morpheum/internal/matrix"
	"github.com/anicolao/morpheum/internal/project"
	"github.com/anicolao/morpheum/internal/roomconfig"
	"github.com/anicolao/morpheum/internal/sandbox"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const doneResponse = "<plan>look around</plan>\n<next_step>Job's done!</next_step>"

type scriptedClient struct {
	mu       sync.Mutex
	response string
	chunks   []llm.Chunk
	err      error
	prompts  []string
}

func (c *scriptedClient) SendStreaming(_ context.Context, prompt string, onChunk llm.StreamCallback) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	for _, ch := range c.chunks {
		onChunk(ch)
	}
	return c.response, nil
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

type fakeSandbox struct {
	mu       sync.Mutex
	name     string
	commands []string
}

func (s *fakeSandbox) Execute(_ context.Context, command string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
	return "ok from " + s.name
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
	html []string
}

func (r *recordingSender) Send(_ context.Context, text, html string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	r.html = append(r.html, html)
	return nil
}

func (r *recordingSender) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func (r *recordingSender) last() string {
	t := r.texts()
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

func (r *recordingSender) contains(sub string) bool {
	for _, t := range r.texts() {
		if strings.Contains(t, sub) {
			return true
		}
	}
	return false
}

type fakeRooms struct {
	mu        sync.Mutex
	inviteErr error
	invites   []string
	messages  map[string][]string
	configs   map[string]roomconfig.Override
}

func (f *fakeRooms) CreateProjectRoom(_ context.Context, req project.RoomRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("!project%d:example.org", len(f.configs)+1)
	if f.configs == nil {
		f.configs = make(map[string]roomconfig.Override)
	}
	f.configs[id] = req.Config
	return id, nil
}

func (f *fakeRooms) InviteUser(_ context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inviteErr != nil {
		return f.inviteErr
	}
	f.invites = append(f.invites, roomID+" "+userID)
	return nil
}

func (f *fakeRooms) SendMessage(_ context.Context, roomID, text, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messages == nil {
		f.messages = make(map[string][]string)
	}
	f.messages[roomID] = append(f.messages[roomID], text)
	return nil
}

func (f *fakeRooms) ProjectConfig(_ context.Context, roomID string) (roomconfig.Override, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.configs[roomID]
	return o, ok, nil
}

func (f *fakeRooms) SetProjectConfig(_ context.Context, roomID string, o roomconfig.Override) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[roomID] = o
	return nil
}

type fakeTokens struct {
	status matrix.TokenStatus
	creds  *matrix.Credentials
	err    error
}

func (f *fakeTokens) Status() matrix.TokenStatus { return f.status }

func (f *fakeTokens) Refresh(context.Context) (*matrix.Credentials, error) {
	return f.creds, f.err
}

type fakeProvisioner struct {
	ports []int
	err   error
}

func (p *fakeProvisioner) Create(_ context.Context, port int) (*sandbox.Container, error) {
	p.ports = append(p.ports, port)
	c := &sandbox.Container{Name: "gauntlet-test-1", Port: port, Stdout: "up", Stderr: ""}
	if p.err != nil {
		return c, p.err
	}
	return c, nil
}

type fakeHealth map[string]connwatch.ServiceStatus

func (h fakeHealth) Status() map[string]connwatch.ServiceStatus { return h }

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider: config.ProviderOllama,
		OpenAI:   config.OpenAIConfig{Model: "gpt-3.5-turbo", BaseURL: "https://api.openai.com/v1"},
		Ollama:   config.OllamaConfig{Model: "morpheum-local", BaseURL: "http://localhost:11434"},
		Copilot: config.CopilotConfig{
			Token:   "ghp_test",
			BaseURL: "https://api.github.com",
		},
	}
}

// fixture wires a Bot to a real engine whose factory hands out one
// scripted client per provider kind.
type fixture struct {
	bot     *Bot
	engine  *agent.Engine
	rooms   *fakeRooms
	sandbox *fakeSandbox
	clients map[string]*scriptedClient

	mu    sync.Mutex
	built []agent.Provider
}

func newFixture(t *testing.T, cfg config.LLMConfig, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		rooms:   &fakeRooms{},
		sandbox: &fakeSandbox{name: "default"},
		clients: map[string]*scriptedClient{
			config.ProviderOllama:  {response: doneResponse},
			config.ProviderOpenAI:  {response: doneResponse},
			config.ProviderCopilot: {response: "GitHub Copilot session completed!", chunks: []llm.Chunk{llm.TextChunk("Copilot session started\n")}},
		},
	}
	factory := agent.NewFactory(agent.FactoryOptions{
		Logger: quietLogger(),
		Build: func(p agent.Provider) (llm.Client, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.built = append(f.built, p)
			c, ok := f.clients[p.Kind]
			if !ok {
				return nil, errors.New("no client for " + p.Kind)
			}
			return c, nil
		},
	})
	resolver := roomconfig.NewResolver(f.rooms, quietLogger())
	f.engine = agent.NewEngine(cfg, agent.EngineOptions{
		Resolver: resolver,
		Factory:  factory,
		Sandbox:  f.sandbox,
		Logger:   quietLogger(),
	})
	opts := Options{
		Engine:   f.engine,
		Resolver: resolver,
		Projects: project.NewManager(f.rooms, nil, quietLogger()),
		Logger:   quietLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.bot = New(opts)
	return f
}

func (f *fixture) send(t *testing.T, room, body string) *recordingSender {
	t.Helper()
	rs := &recordingSender{}
	f.bot.HandleMessage(context.Background(), matrix.Message{
		RoomID: room, Sender: "@alice:example.org", Body: body, EventID: "$e",
	}, rs)
	return rs
}

func (f *fixture) builtKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.built))
	for i, p := range f.built {
		out[i] = p.String()
	}
	return out
}
