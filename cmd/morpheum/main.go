// Morpheum is a Matrix bot that runs development tasks with an LLM.
//
// Messages addressed to the bot are either `!` commands or tasks. Tasks
// run in a plan/execute loop against a sandbox container, or as GitHub
// Copilot sessions in project rooms. Configuration comes from a YAML
// file (see [config.DefaultSearchPaths]) and the environment.
//
// Usage:
//
//	morpheum                          Start with existing credentials
//	morpheum --register <server>      Register an account, then start
//	morpheum --debug                  Log every routed command
//	morpheum --version                Print build information
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/anicolao/morpheum/internal/buildinfo"
	"github.com/anicolao/morpheum/internal/config"
	"github.com/anicolao/morpheum/internal/format"
)

func main() {
	if err := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

const usageLine = "Usage: morpheum [--config <path>] [--register <server-url>] [--debug] [--help]"

type options struct {
	configPath string
	register   string
	debug      bool
	help       bool
	version    bool
}

// parseArgs parses args after normalizing Unicode dashes.
func parseArgs(args []string) (options, error) {
	args = format.NormalizeArgs(args)
	if n := len(args); n > 0 && args[n-1] == "--register" {
		return options{}, errors.New("Error: --register requires a server URL argument\n" +
			"Usage: morpheum --register <server-url>\n" +
			"Example: morpheum --register matrix.morpheum.dev")
	}

	var o options
	fs := pflag.NewFlagSet("morpheum", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&o.configPath, "config", "", "path to the YAML config file")
	fs.StringVar(&o.register, "register", "", "register a new account on the given Matrix server")
	fs.BoolVar(&o.debug, "debug", false, "log every received command")
	fs.BoolVarP(&o.help, "help", "h", false, "show help")
	fs.BoolVar(&o.version, "version", false, "show version information")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return options{help: true}, nil
		}
		return options{}, fmt.Errorf("%v\n%s\nUse --help for more information.", err, usageLine)
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("Unknown argument: %s\n%s\nUse --help for more information.", fs.Arg(0), usageLine)
	}
	return o, nil
}

// run is the whole program behind main, with the process environment
// passed in. It returns when ctx is cancelled, on SIGINT or SIGTERM, or
// when the Matrix sync fails.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	if opts.help {
		printUsage(stdout)
		return nil
	}
	if opts.version {
		printVersion(stdout)
		return nil
	}

	path, err := config.FindConfig(opts.configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(false); err != nil {
		return err
	}

	logger, err := newLogger(stdout, cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	if path != "" {
		logger.Info("config loaded", "path", path)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.register != "" {
		if err := register(ctx, cfg, opts.register, os.Getenv, logger); err != nil {
			return err
		}
	}
	if err := cfg.Validate(true); err != nil {
		return err
	}

	return serve(ctx, cfg, opts.debug, logger)
}

func newLogger(w io.Writer, lc config.LoggingConfig) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	ho := &slog.HandlerOptions{Level: level, ReplaceAttr: config.ReplaceLogLevelNames}
	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, ho)), nil
	}
	return slog.New(slog.NewTextHandler(w, ho)), nil
}

func printVersion(w io.Writer) {
	info := buildinfo.Info()
	fmt.Fprintln(w, buildinfo.UserAgent())
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-12s %s\n", k+":", info[k])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Morpheum Bot - Matrix AI Assistant

USAGE:
  morpheum [OPTIONS]

OPTIONS:
  --config <path>            Path to the YAML config file (default: auto-discover)
  --register <server-url>    Register a new user account on the specified Matrix server
  --debug                    Enable debug logging of all received commands
  --version                  Show version information and exit
  --help, -h                 Show this help message and exit

EXAMPLES:
  morpheum                                 # Start bot with existing credentials
  morpheum --register matrix.morpheum.dev  # Register new user and start bot
  morpheum --debug                         # Start bot with debug logging enabled

ENVIRONMENT VARIABLES:
  HOMESERVER_URL              Matrix homeserver URL (required unless using --register)
  ACCESS_TOKEN                Matrix access token (required if no username/password)
  MATRIX_USERNAME             Matrix username for login/registration
  MATRIX_PASSWORD             Matrix password for login/registration
  REGISTRATION_TOKEN_*        Registration token for specific servers (when using --register)
  OPENAI_API_KEY, OLLAMA_API_URL, GITHUB_TOKEN, JAIL_HOST, JAIL_PORT, MQTT_BROKER

CONFIG SEARCH ORDER:
`)
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "For more information, see: https://github.com/anicolao/morpheum")
}
