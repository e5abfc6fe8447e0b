package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/anicolao/morpheum/internal/agent"
	"github.com/anicolao/morpheum/internal/bot"
	"github.com/anicolao/morpheum/internal/buildinfo"
	"github.com/anicolao/morpheum/internal/config"
	"github.com/anicolao/morpheum/internal/connwatch"
	"github.com/anicolao/morpheum/internal/copilot"
	"github.com/anicolao/morpheum/internal/events"
	"github.com/anicolao/morpheum/internal/forge"
	"github.com/anicolao/morpheum/internal/gauntlet"
	"github.com/anicolao/morpheum/internal/httpkit"
	"github.com/anicolao/morpheum/internal/llm"
	"github.com/anicolao/morpheum/internal/matrix"
	"github.com/anicolao/morpheum/internal/mqtt"
	"github.com/anicolao/morpheum/internal/opstate"
	"github.com/anicolao/morpheum/internal/project"
	"github.com/anicolao/morpheum/internal/roomconfig"
	"github.com/anicolao/morpheum/internal/sandbox"
	"github.com/anicolao/morpheum/internal/tasks"
)

// senderRateLimit caps handled messages per sender per minute.
const senderRateLimit = 30

// serve wires every component and runs the Matrix sync loop until ctx
// ends.
func serve(ctx context.Context, cfg *config.Config, debug bool, logger *slog.Logger) error {
	logger.Info("starting morpheum", "version", buildinfo.Version, "provider", cfg.LLM.Provider)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	state, err := opstate.NewStore(cfg.Storage.DBPath())
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer state.Close()

	tokens, err := setupTokens(ctx, cfg.Matrix, logger)
	if err != nil {
		return err
	}

	mopts := matrix.Options{
		HomeserverURL: cfg.Matrix.HomeserverURL,
		AccessToken:   cfg.Matrix.AccessToken,
		Store:         matrix.NewSyncStore(state),
		RateLimit:     senderRateLimit,
		Logger:        logger,
	}
	// A nil *TokenManager must not reach the bot as a non-nil interface.
	var botTokens bot.Tokens
	if tokens != nil {
		mopts.Tokens = tokens
		botTokens = tokens
	}
	client, err := matrix.NewClient(mopts)
	if err != nil {
		return fmt.Errorf("create matrix client: %w", err)
	}
	if err := client.Init(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	bus := events.New()
	resolver := roomconfig.NewResolver(client, logger)
	factory := agent.NewFactory(agent.FactoryOptions{
		Copilot: copilot.Options{
			PollInterval: cfg.LLM.Copilot.PollInterval,
			MaxPolls:     cfg.LLM.Copilot.MaxPolls,
			Store:        state,
			Bus:          bus,
			Logger:       logger,
		},
		Logger: logger,
	})

	sb := cfg.Sandbox
	jail := sandbox.NewJail(sb.Host, sb.Port, sb.CommandTimeout, logger)
	engine := agent.NewEngine(cfg.LLM, agent.EngineOptions{
		Resolver: resolver,
		Factory:  factory,
		Sandbox:  jail,
		Bus:      bus,
		Logger:   logger,
	})

	var repos project.Repos
	if cfg.LLM.Copilot.Token != "" {
		gh, err := forge.NewGitHub(githubHTTPClient(logger), cfg.LLM.Copilot.Token, cfg.LLM.Copilot.BaseURL, logger)
		if err != nil {
			return fmt.Errorf("create github client: %w", err)
		}
		repos = gh
	}

	health := connwatch.NewManager(logger)
	defer health.Stop()
	health.Watch(ctx, connwatch.WatcherConfig{
		Name:  "ollama",
		Probe: connwatch.PingProbe(llm.NewOllamaClient(cfg.LLM.Ollama.BaseURL, cfg.LLM.Ollama.Model, logger)),
	})
	watchSandbox := func(j *sandbox.Jail) {
		health.Watch(ctx, connwatch.WatcherConfig{Name: "sandbox", Probe: connwatch.PingProbe(j)})
	}
	watchSandbox(jail)

	// Background goroutines end when serve returns, whatever the reason.
	var wg conc.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.MQTT.Enabled() {
		pub, err := newPublisher(cfg, engine, bus, logger)
		if err != nil {
			return err
		}
		wg.Go(func() {
			if err := pub.Start(ctx); err != nil {
				logger.Error("mqtt publisher stopped", "error", err)
			}
		})
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pub.Stop(sctx); err != nil {
				logger.Warn("mqtt disconnect failed", "error", err)
			}
		}()
		health.Watch(ctx, connwatch.WatcherConfig{Name: "mqtt", Probe: pub.AwaitConnection})
	}

	b := bot.New(bot.Options{
		Engine:       engine,
		Resolver:     resolver,
		Projects:     project.NewManager(client, repos, logger),
		Gauntlet:     gauntlet.New(engine, sandbox.NewLocal(sandbox.DefaultLocalConfig()), bus, logger),
		Tasks:        tasks.NewLoader(cfg.Tasks.Dir),
		DevlogPath:   cfg.Tasks.DevlogPath,
		DashboardURL: cfg.Tasks.DashboardURL,
		Tokens:       botTokens,
		Provisioner:  sandbox.NewProvisioner(sb.JailDir),
		NewJail: func(port int) sandbox.Executor {
			j := sandbox.NewJail(sb.Host, port, sb.CommandTimeout, logger)
			watchSandbox(j)
			return j
		},
		Health: health,
		Logger: logger,
		Debug:  debug,
	})

	id := client.Identity()
	logger.Info("bot started", "user_id", id.UserID, "display_name", id.DisplayName)
	return client.Run(ctx, b)
}

// setupTokens returns nil in static token mode. With a username and
// password it returns a TokenManager, logging in first when no access
// token was configured.
func setupTokens(ctx context.Context, mc config.MatrixConfig, logger *slog.Logger) (*matrix.TokenManager, error) {
	if !mc.HasPassword() {
		logger.Info("using static access token; automatic refresh disabled")
		return nil, nil
	}

	auth := matrix.NewAuth(mc.HomeserverURL, logger)
	tm := matrix.NewTokenManager(auth, mc.Username, mc.Password, mc.AccessToken, logger)
	if mc.AccessToken == "" {
		logger.Info("no access token configured, logging in")
		creds, err := tm.Login(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtain initial access token: %w", err)
		}
		logger.Info("access token obtained", "refresh_token", creds.RefreshToken != "", "expires_in", creds.ExpiresIn())
	} else {
		logger.Info("using configured access token with password refresh fallback")
	}
	tm.OnRefresh(func(c *matrix.Credentials) {
		logger.Info("matrix access token refreshed", "device_id", c.DeviceID, "expires_in", c.ExpiresIn())
	})
	return tm, nil
}

func githubHTTPClient(logger *slog.Logger) *http.Client {
	return httpkit.NewClient(
		httpkit.WithTimeout(30*time.Second),
		httpkit.WithUserAgent(buildinfo.ServiceUserAgent("github")),
		httpkit.WithRetry(2, time.Second),
		httpkit.WithLogger(logger),
	)
}

func newPublisher(cfg *config.Config, engine *agent.Engine, bus *events.Bus, logger *slog.Logger) (*mqtt.Publisher, error) {
	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	activity := mqtt.NewActivity(engine.Current().String(), nil)
	device := mqtt.NewDeviceInfo(instanceID, cfg.MQTT.DeviceName)
	return mqtt.New(cfg.MQTT, device, activity, bus, logger), nil
}
