package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/anicolao/morpheum/internal/format"
	"github.com/anicolao/morpheum/internal/matrix"
	"github.com/anicolao/morpheum/internal/project"
)

const defaultJailPort = 10001

func (b *Bot) handleProject(ctx context.Context, r *reply, body string, msg matrix.Message) {
	if b.opts.Projects == nil {
		r.plain("❌ Project room functionality is not available. Matrix client not configured.")
		return
	}

	parts := format.NormalizeArgs(fields(body))
	switch arg(parts, 1) {
	case "create":
		b.handleProjectCreate(ctx, r, parts[2:], msg.Sender)
	case "status":
		b.handleProjectStatus(ctx, r, parts[2:])
	case "help":
		r.markdown(project.HelpText)
	default:
		r.plain("Usage: !project <create|status|help>\nUse `!project help` for detailed information.")
	}
}

func (b *Bot) handleProjectCreate(ctx context.Context, r *reply, args []string, sender string) {
	isNew := slices.Contains(args, "--new")
	args = slices.DeleteFunc(slices.Clone(args), func(a string) bool { return a == "--new" })
	if len(args) == 0 {
		r.plain("❌ Repository name or Git URL is required.\n\n" +
			"Usage:\n" +
			"- `!project create <git-url>` (for existing repositories)\n" +
			"- `!project create --new <repo-name>` (to create new repository)\n\n" +
			"Example: `!project create --new my-awesome-project`")
		return
	}
	ref := args[0]

	if isNew {
		if err := project.ValidateRepoName(ref); err != nil {
			r.plain("❌ " + err.Error())
			return
		}
		r.plain("🔨 Creating new GitHub repository and project room...")
	} else {
		r.plain("🔨 Creating project room...")
	}

	res, err := b.opts.Projects.CreateProjectRoom(ctx, ref, sender, project.CreateOptions{
		NewRepository: isNew,
		Description:   project.DefaultDescription,
	})
	if err != nil {
		var perr *project.Error
		if errors.As(err, &perr) {
			r.plain("❌ " + perr.Message)
		} else {
			r.plain(fmt.Sprintf("❌ Unexpected error creating project room: %v", err))
		}
		return
	}

	if b.opts.Resolver != nil {
		b.opts.Resolver.Remember(res.RoomID, res.Config)
	}

	if err := b.opts.Projects.InviteUser(ctx, res.RoomID, sender); err != nil {
		if res.RepositoryCreated {
			r.plain(fmt.Sprintf("✅ Repository and project room '%s' created, but failed to invite you: %v\nRepository: %s\nPlease join manually: %s",
				res.ProjectName, err, res.RepositoryURL, res.RoomID))
		} else {
			r.plain(fmt.Sprintf("✅ Project room '%s' created, but failed to invite you: %v\nPlease join manually: %s",
				res.ProjectName, err, res.RoomID))
		}
		return
	}

	if res.RepositoryCreated {
		r.markdown(fmt.Sprintf("✅ **GitHub repository and project room '%s' created!**\n🔗 Repository: %s\n👥 You've been invited to join the project room.",
			res.ProjectName, res.RepositoryURL))
	} else {
		r.plain(fmt.Sprintf("✅ Project room '%s' created! You've been invited to join.", res.ProjectName))
	}

	if err := b.opts.Projects.SendWelcomeMessage(ctx, res.RoomID, res.Repository); err != nil {
		b.logger.Warn("welcome message not delivered", "room", res.RoomID, "error", err)
	}
}

func (b *Bot) handleProjectStatus(ctx context.Context, r *reply, args []string) {
	if len(args) == 0 {
		r.plain("❌ Git URL is required. Usage: !project status <git-url>\nExample: !project status facebook/react")
		return
	}

	r.plain("📊 Fetching repository statistics...")
	stats, err := b.opts.Projects.RepositoryStats(ctx, args[0])
	if err != nil {
		r.plain("❌ " + err.Error())
		return
	}
	r.markdown(project.FormatStats(stats))
}

// handleCreate provisions a jail container and points future tasks at
// it. The port defaults to 10001.
func (b *Bot) handleCreate(ctx context.Context, r *reply, body string) {
	if b.opts.Provisioner == nil || b.opts.NewJail == nil {
		r.plain("Error creating environment: sandbox provisioning is not configured")
		return
	}

	port := defaultJailPort
	if p := arg(fields(body), 1); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			r.plain(fmt.Sprintf("Error creating environment: invalid port %q", p))
			return
		}
		port = n
	}

	r.plain("Creating a new environment...")
	c, err := b.opts.Provisioner.Create(ctx, port)
	if err != nil {
		r.plain(fmt.Sprintf("Error creating environment: %v", err))
		return
	}
	r.plain(fmt.Sprintf("Successfully created container: %s\nStdout:\n%s\nStderr:\n%s", c.Name, c.Stdout, c.Stderr))

	b.engine.SetSandbox(b.opts.NewJail(port))
	b.logger.Info("sandbox retargeted", "container", c.Name, "port", port)
	r.plain(fmt.Sprintf("Agent reset to talk to the new container on port %d", port))
}
