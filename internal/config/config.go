// Package config loads the bot's YAML configuration. Every field can
// also be supplied through the environment variables the bot has
// always honored (HOMESERVER_URL, OPENAI_API_KEY, GITHUB_TOKEN, ...);
// values from the file win when both are present.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in llm.provider and by the !llm switch command.
const (
	ProviderOpenAI  = "openai"
	ProviderOllama  = "ollama"
	ProviderCopilot = "copilot"
)

// ErrMissingCredential is returned when a provider is selected without
// the credential it needs.
var ErrMissingCredential = errors.New("missing credential")

// CredentialError names the setting a provider is missing. Its message
// is shown to users as is; errors.Is matches it to ErrMissingCredential.
type CredentialError struct {
	Message string
}

func (e *CredentialError) Error() string { return e.Message }

// Is reports whether target is ErrMissingCredential.
func (e *CredentialError) Is(target error) bool { return target == ErrMissingCredential }

// Credential errors for the providers that need one.
var (
	ErrNoOpenAIKey   = &CredentialError{Message: "OpenAI API key is not configured. Set OPENAI_API_KEY environment variable."}
	ErrNoGitHubToken = &CredentialError{Message: "GitHub token is not configured. Set GITHUB_TOKEN environment variable."}
)

// DefaultSearchPaths returns the config file locations checked in order.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "morpheum", "config.yaml"))
	}
	return append(paths, "/etc/morpheum/config.yaml")
}

// FindConfig returns the explicit path if it exists, otherwise the first
// default search path that exists. An empty string with a nil error means
// no file was found and the caller should run from the environment alone.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Config is the top-level configuration.
type Config struct {
	Matrix  MatrixConfig  `yaml:"matrix"`
	LLM     LLMConfig     `yaml:"llm"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Storage StorageConfig `yaml:"storage"`
	Tasks   TasksConfig   `yaml:"tasks"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Logging LoggingConfig `yaml:"logging"`
}

// MatrixConfig holds homeserver credentials. Either AccessToken or both
// Username and Password must be set.
type MatrixConfig struct {
	HomeserverURL string `yaml:"homeserver_url"`
	AccessToken   string `yaml:"access_token"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
}

// HasPassword reports whether password login (and so token refresh) is
// possible.
func (m MatrixConfig) HasPassword() bool {
	return m.Username != "" && m.Password != ""
}

// LLMConfig selects the default provider and configures each backend.
type LLMConfig struct {
	Provider string        `yaml:"provider"`
	OpenAI   OpenAIConfig  `yaml:"openai"`
	Ollama   OllamaConfig  `yaml:"ollama"`
	Copilot  CopilotConfig `yaml:"copilot"`
}

// OpenAIConfig configures the OpenAI-compatible chat backend.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// OllamaConfig configures the local Ollama backend.
type OllamaConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// CopilotConfig configures the GitHub Copilot coding agent backend.
type CopilotConfig struct {
	Token        string        `yaml:"token"`
	Repository   string        `yaml:"repository"`
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
}

// SandboxConfig points at the jail container that runs agent commands.
type SandboxConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	JailDir        string        `yaml:"jail_dir"`
}

// Addr returns host:port.
func (s SandboxConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig locates persistent operational state (sync token,
// Copilot session records).
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// DBPath returns the SQLite database path inside DataDir.
func (s StorageConfig) DBPath() string {
	return filepath.Join(s.DataDir, "morpheum.db")
}

// TasksConfig locates the task files and development log served by the
// !tasks and !devlog commands.
type TasksConfig struct {
	Dir          string `yaml:"dir"`
	DevlogPath   string `yaml:"devlog_path"`
	DashboardURL string `yaml:"dashboard_url"`
}

// MQTTConfig enables publishing task activity to an MQTT broker. The
// publisher is disabled when Broker is empty.
type MQTTConfig struct {
	Broker          string        `yaml:"broker"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	DeviceName      string        `yaml:"device_name"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool { return m.Broker != "" }

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path, expands ${VAR} references, fills
// unset fields from the environment and applies defaults. An empty path
// builds the configuration from the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyEnv fills unset fields from environment variables looked up with
// getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if *dst == "" {
			*dst = getenv(key)
		}
	}

	set(&c.Matrix.HomeserverURL, "HOMESERVER_URL")
	set(&c.Matrix.AccessToken, "ACCESS_TOKEN")
	set(&c.Matrix.Username, "MATRIX_USERNAME")
	set(&c.Matrix.Password, "MATRIX_PASSWORD")

	set(&c.LLM.Provider, "LLM_PROVIDER")
	set(&c.LLM.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.LLM.OpenAI.Model, "OPENAI_MODEL")
	set(&c.LLM.OpenAI.BaseURL, "OPENAI_BASE_URL")
	set(&c.LLM.Ollama.Model, "OLLAMA_MODEL")
	set(&c.LLM.Ollama.BaseURL, "OLLAMA_API_URL")
	set(&c.LLM.Copilot.Token, "GITHUB_TOKEN")
	set(&c.LLM.Copilot.Repository, "COPILOT_REPOSITORY")
	set(&c.LLM.Copilot.BaseURL, "COPILOT_BASE_URL")

	// COPILOT_POLL_INTERVAL is a number of seconds and may be fractional.
	if c.LLM.Copilot.PollInterval == 0 {
		if v := getenv("COPILOT_POLL_INTERVAL"); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
				c.LLM.Copilot.PollInterval = time.Duration(secs * float64(time.Second))
			}
		}
	}

	set(&c.Sandbox.Host, "JAIL_HOST")
	if c.Sandbox.Port == 0 {
		if p, err := strconv.Atoi(getenv("JAIL_PORT")); err == nil {
			c.Sandbox.Port = p
		}
	}

	set(&c.MQTT.Broker, "MQTT_BROKER")
}

// ApplyDefaults fills any remaining zero values.
func (c *Config) ApplyDefaults() {
	def := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}

	def(&c.LLM.OpenAI.Model, "gpt-3.5-turbo")
	def(&c.LLM.OpenAI.BaseURL, "https://api.openai.com/v1")
	def(&c.LLM.Ollama.Model, "morpheum-local")
	def(&c.LLM.Ollama.BaseURL, "http://localhost:11434")
	def(&c.LLM.Copilot.BaseURL, "https://api.github.com")
	if c.LLM.Copilot.PollInterval <= 0 {
		c.LLM.Copilot.PollInterval = 10 * time.Second
	}
	if c.LLM.Copilot.MaxPolls <= 0 {
		c.LLM.Copilot.MaxPolls = 360
	}
	if c.LLM.Provider == "" {
		if c.LLM.OpenAI.APIKey != "" {
			c.LLM.Provider = ProviderOpenAI
		} else {
			c.LLM.Provider = ProviderOllama
		}
	}

	def(&c.Sandbox.Host, "localhost")
	if c.Sandbox.Port == 0 {
		c.Sandbox.Port = 10001
	}
	if c.Sandbox.CommandTimeout <= 0 {
		c.Sandbox.CommandTimeout = 5 * time.Minute
	}
	def(&c.Sandbox.JailDir, "./jail")

	def(&c.Storage.DataDir, ".")
	def(&c.Tasks.Dir, "docs/_tasks")
	def(&c.Tasks.DevlogPath, "DEVLOG.md")
	def(&c.Tasks.DashboardURL, "https://anicolao.github.io/morpheum/status/tasks/")

	def(&c.MQTT.DeviceName, "morpheum")
	if c.MQTT.PublishInterval <= 0 {
		c.MQTT.PublishInterval = time.Minute
	}

	def(&c.Logging.Level, "info")
	def(&c.Logging.Format, "text")
}

// Validate checks settings the bot cannot start without. Registration
// mode supplies its own homeserver, so requireHomeserver is false there.
func (c *Config) Validate(requireHomeserver bool) error {
	if requireHomeserver && c.Matrix.HomeserverURL == "" {
		return errors.New("matrix.homeserver_url (HOMESERVER_URL) is required")
	}
	if c.Matrix.AccessToken == "" && !c.Matrix.HasPassword() {
		return errors.New("either matrix.access_token (ACCESS_TOKEN) or both matrix.username and matrix.password (MATRIX_USERNAME, MATRIX_PASSWORD) are required")
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderOllama, ProviderCopilot:
	default:
		return fmt.Errorf("unknown llm.provider %q (valid: openai, ollama, copilot)", c.LLM.Provider)
	}
	if c.Sandbox.Port <= 0 || c.Sandbox.Port > 65535 {
		return fmt.Errorf("sandbox.port %d out of range", c.Sandbox.Port)
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logging.format %q (valid: text, json)", c.Logging.Format)
	}
	return nil
}

// CheckCredential reports whether provider has the credential it needs.
// Ollama needs none.
func (l LLMConfig) CheckCredential(provider string) error {
	switch provider {
	case ProviderOpenAI:
		if l.OpenAI.APIKey == "" {
			return ErrNoOpenAIKey
		}
	case ProviderCopilot:
		if l.Copilot.Token == "" {
			return ErrNoGitHubToken
		}
	}
	return nil
}
