// Package project creates and manages project rooms: private Matrix
// rooms bound to one GitHub repository, whose tasks run as Copilot
// sessions against that repository.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"

	"github.com/anicolao/morpheum/internal/forge"
	"github.com/anicolao/morpheum/internal/gitutil"
	"github.com/anicolao/morpheum/internal/roomconfig"
)

// Error is a failure whose message is meant for the chat user.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

func userError(err error, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrNotProjectRoom is returned when updating a room that has no
// project configuration.
var ErrNotProjectRoom = errors.New("room is not a project room")

// RoomRequest describes a project room to create.
type RoomRequest struct {
	Name           string
	Topic          string
	AliasLocalpart string
	Config         roomconfig.Override
}

// Rooms is the Matrix side of project room management.
type Rooms interface {
	CreateProjectRoom(ctx context.Context, req RoomRequest) (roomID string, err error)
	InviteUser(ctx context.Context, roomID, userID string) error
	SendMessage(ctx context.Context, roomID, text, html string) error
	ProjectConfig(ctx context.Context, roomID string) (roomconfig.Override, bool, error)
	SetProjectConfig(ctx context.Context, roomID string, o roomconfig.Override) error
}

// Repos is the GitHub side of project room management.
type Repos interface {
	CurrentUser(ctx context.Context) (*forge.User, error)
	CreateRepository(ctx context.Context, opts forge.RepositoryOptions) (*forge.Repository, error)
	RepositoryStats(ctx context.Context, owner, repo string) (*forge.RepositoryStats, error)
}

// CreateOptions modifies CreateProjectRoom.
type CreateOptions struct {
	// NewRepository creates the repository (named by the reference
	// passed to CreateProjectRoom) under the token's account first.
	NewRepository bool
	Description   string
	Private       bool
}

// CreateResult describes a created project room.
type CreateResult struct {
	RoomID            string
	ProjectName       string
	Repository        string
	RepositoryCreated bool
	RepositoryURL     string
	Config            roomconfig.Override
}

// Manager creates project rooms.
type Manager struct {
	rooms  Rooms
	repos  Repos
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager. repos may be nil when no GitHub token
// is configured; repository creation and statistics then fail with a
// configuration error.
func NewManager(rooms Rooms, repos Repos, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		rooms:  rooms,
		repos:  repos,
		logger: logger.With("component", "project"),
		now:    time.Now,
	}
}

// DefaultDescription is used for repositories created with --new.
const DefaultDescription = "Created via Morpheum Bot for project room"

// ValidateRepoName checks a name passed with --new.
func ValidateRepoName(name string) error {
	if !gitutil.ValidRepoName(name) {
		return &Error{Message: "Invalid repository name. Repository names can only contain alphanumeric characters, dots, hyphens, and underscores."}
	}
	return nil
}

// CreateProjectRoom creates a private room for the repository named by
// ref, carrying its project configuration as initial state. With
// opts.NewRepository, ref is a bare repository name that is created
// first.
func (m *Manager) CreateProjectRoom(ctx context.Context, ref, creator string, opts CreateOptions) (*CreateResult, error) {
	res := &CreateResult{}

	var repo gitutil.Repo
	if opts.NewRepository {
		if err := ValidateRepoName(ref); err != nil {
			return nil, err
		}
		created, err := m.createRepository(ctx, ref, opts)
		if err != nil {
			return nil, err
		}
		owner, name, _ := strings.Cut(created.FullName, "/")
		repo = gitutil.Repo{Owner: owner, Name: name}
		res.RepositoryCreated = true
		res.RepositoryURL = created.HTMLURL
		if res.RepositoryURL == "" {
			res.RepositoryURL = repo.URL()
		}
	} else {
		parsed, err := gitutil.ParseGitURL(ref)
		if err != nil {
			return nil, userError(err, "Invalid Git URL format. %s", gitutil.FormatsHelp)
		}
		repo = parsed
	}

	now := m.now()
	cfg := roomconfig.New(repo.String(), creator, now)
	roomID, err := m.rooms.CreateProjectRoom(ctx, RoomRequest{
		Name:           repo.Name,
		Topic:          fmt.Sprintf("GitHub Project: %s - Managed by Morpheum Bot", repo),
		AliasLocalpart: fmt.Sprintf("%s-%d", repo.Name, now.UnixMilli()),
		Config:         cfg,
	})
	if err != nil {
		return nil, createRoomError(err)
	}

	m.logger.Info("project room created", "room", roomID, "repository", repo.String(), "creator", creator)
	res.RoomID = roomID
	res.ProjectName = repo.Name
	res.Repository = repo.String()
	res.Config = cfg
	return res, nil
}

func (m *Manager) createRepository(ctx context.Context, name string, opts CreateOptions) (*forge.Repository, error) {
	if m.repos == nil {
		return nil, &Error{Message: "GitHub token not configured. Set GITHUB_TOKEN to create repositories."}
	}
	user, err := m.repos.CurrentUser(ctx)
	if err != nil {
		return nil, userError(err, "Failed to get GitHub user: %v", err)
	}
	desc := opts.Description
	if desc == "" {
		desc = DefaultDescription
	}
	created, err := m.repos.CreateRepository(ctx, forge.RepositoryOptions{
		Name:        name,
		Description: desc,
		Private:     opts.Private,
		AutoInit:    true,
	})
	if err != nil {
		return nil, userError(err, "Failed to create GitHub repository: %v", err)
	}
	if created.FullName == "" {
		created.FullName = user.Login + "/" + name
	}
	m.logger.Info("repository created", "repository", created.FullName)
	return created, nil
}

func createRoomError(err error) error {
	msg := err.Error()
	switch {
	case errors.Is(err, mautrix.MRoomInUse), strings.Contains(msg, "already exists"), strings.Contains(msg, "alias"):
		return userError(err, "A room with this project name already exists. Please try again or choose a different project.")
	case errors.Is(err, mautrix.MForbidden), strings.Contains(msg, "permission"), strings.Contains(msg, "forbidden"):
		return userError(err, "Insufficient permissions to create a room. Please contact your administrator.")
	}
	return userError(err, "Failed to create project room: %s", msg)
}

// InviteUser invites userID to roomID.
func (m *Manager) InviteUser(ctx context.Context, roomID, userID string) error {
	err := m.rooms.InviteUser(ctx, roomID, userID)
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "already in room"), strings.Contains(msg, "already joined"), strings.Contains(msg, "is already in the room"):
		return userError(err, "User is already in the room.")
	case errors.Is(err, mautrix.MNotFound), strings.Contains(msg, "not found"), strings.Contains(msg, "unknown user"):
		return userError(err, "User not found. Please check the user ID.")
	}
	return userError(err, "Failed to invite user: %s", msg)
}

// WelcomeMessage is the first message posted in a new project room.
func WelcomeMessage(repository string) string {
	_, name, _ := strings.Cut(repository, "/")
	return fmt.Sprintf(`🚀 Welcome to the %s project room!

This room is configured for:
📂 Repository: %s
🤖 AI Provider: GitHub Copilot

You can now collaborate on this project with AI assistance.
Try asking: "Show me the latest issues" or "Help me implement a new feature"`, name, repository)
}

// SendWelcomeMessage posts WelcomeMessage to roomID.
func (m *Manager) SendWelcomeMessage(ctx context.Context, roomID, repository string) error {
	return m.rooms.SendMessage(ctx, roomID, WelcomeMessage(repository), "")
}

// GetProjectConfig returns roomID's project configuration.
func (m *Manager) GetProjectConfig(ctx context.Context, roomID string) (roomconfig.Override, bool, error) {
	return m.rooms.ProjectConfig(ctx, roomID)
}

// UpdateProjectConfig merges the non-empty fields of patch into
// roomID's configuration.
func (m *Manager) UpdateProjectConfig(ctx context.Context, roomID string, patch roomconfig.Override) (roomconfig.Override, error) {
	cur, ok, err := m.rooms.ProjectConfig(ctx, roomID)
	if err != nil {
		return roomconfig.Override{}, fmt.Errorf("read project config: %w", err)
	}
	if !ok {
		return roomconfig.Override{}, ErrNotProjectRoom
	}
	merge := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	merge(&cur.Repository, patch.Repository)
	merge(&cur.LLMProvider, patch.LLMProvider)
	merge(&cur.CreatedBy, patch.CreatedBy)
	merge(&cur.CreatedAt, patch.CreatedAt)
	merge(&cur.Version, patch.Version)
	if err := m.rooms.SetProjectConfig(ctx, roomID, cur); err != nil {
		return roomconfig.Override{}, fmt.Errorf("write project config: %w", err)
	}
	return cur, nil
}

// RepositoryStats fetches statistics for the repository named by ref.
func (m *Manager) RepositoryStats(ctx context.Context, ref string) (*forge.RepositoryStats, error) {
	repo, err := gitutil.ParseGitURL(ref)
	if err != nil {
		return nil, userError(err, "Invalid Git URL format. %s", gitutil.FormatsHelp)
	}
	if m.repos == nil {
		return nil, &Error{Message: "GitHub token not configured. Please set the GITHUB_TOKEN environment variable to access repository statistics."}
	}
	stats, err := m.repos.RepositoryStats(ctx, repo.Owner, repo.Name)
	switch {
	case err == nil:
		return stats, nil
	case errors.Is(err, forge.ErrNotFound):
		return nil, userError(err, "Repository not found: %s\nPlease check the URL and ensure the repository exists and is accessible.", ref)
	case errors.Is(err, forge.ErrRateLimited):
		return nil, userError(err, "GitHub API rate limit exceeded. Please try again later.")
	}
	return nil, userError(err, "Error fetching repository statistics: %v", err)
}
