package gauntlet

import (
	"errors"

	"github.com/anicolao/morpheum/internal/config"
	"github.com/anicolao/morpheum/internal/format"
)

// RunUsage is the `!gauntlet run` synopsis.
const RunUsage = "!gauntlet run --model <model> [--provider <openai|ollama>] [--task <task>] [--verbose]"

var (
	// ErrProvider is returned for a --provider other than openai or ollama.
	ErrProvider = errors.New(`--provider must be either "openai" or "ollama"`)
	// ErrNoModel is returned when --model is absent.
	ErrNoModel = errors.New("--model is required. Usage: " + RunUsage)
)

// RunOptions selects what a run evaluates.
type RunOptions struct {
	Model    string
	Provider string
	// TaskID restricts the run to one task. Empty runs the catalog.
	TaskID  string
	Verbose bool
}

// ParseRunArgs parses the arguments following `!gauntlet run`. Em and
// en dashes are accepted in place of "--". The provider defaults to
// ollama. Unknown arguments are ignored.
func ParseRunArgs(args []string) (RunOptions, error) {
	args = format.NormalizeArgs(args)
	opts := RunOptions{Provider: config.ProviderOllama}
	next := func(i int) string {
		if i+1 < len(args) {
			return args[i+1]
		}
		return ""
	}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--model", "-m":
			opts.Model = next(i)
			i++
		case "--provider", "-p":
			switch p := next(i); p {
			case config.ProviderOpenAI, config.ProviderOllama:
				opts.Provider = p
			default:
				return RunOptions{}, ErrProvider
			}
			i++
		case "--task", "-t":
			opts.TaskID = next(i)
			i++
		case "--verbose", "-v":
			opts.Verbose = true
		}
	}
	if opts.Model == "" {
		return RunOptions{}, ErrNoModel
	}
	return opts, nil
}
