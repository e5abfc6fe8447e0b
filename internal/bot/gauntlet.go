package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/anicolao/morpheum/internal/config"
	"github.com/anicolao/morpheum/internal/gauntlet"
)

func (b *Bot) handleGauntlet(ctx context.Context, r *reply, body string) {
	g := b.opts.Gauntlet
	if g == nil {
		r.plain("❌ Gauntlet evaluation is not available.")
		return
	}

	parts := fields(body)
	switch arg(parts, 1) {
	case "", "help":
		r.markdown(gauntlet.HelpText())
	case "list":
		r.markdown(gauntlet.ListText())
	case "run":
		b.runGauntlet(ctx, r, g, parts[2:])
	default:
		r.plain("Usage: !gauntlet <run|list|help>")
	}
}

func (b *Bot) runGauntlet(ctx context.Context, r *reply, g *gauntlet.Gauntlet, args []string) {
	opts, err := gauntlet.ParseRunArgs(args)
	if err != nil {
		r.plain("Error: " + err.Error())
		return
	}
	if _, err := gauntlet.Provider(b.engine.Config(), opts); err != nil {
		if errors.Is(err, config.ErrMissingCredential) && opts.Provider == config.ProviderOpenAI {
			r.plain("Error: OpenAI provider requires OPENAI_API_KEY environment variable to be set.")
			return
		}
		r.plain("Error: " + err.Error())
		return
	}

	r.plain(gauntlet.StartText(opts))
	r.plain("⚠️ Gauntlet evaluation runs every task in the sandbox. This may take several minutes...")

	results, err := g.Run(ctx, opts, r.send)
	if err != nil {
		r.plain(fmt.Sprintf("❌ Error running gauntlet: %v", err))
		return
	}
	r.markdown(gauntlet.FormatResults(opts, results))
}
