// Package roomconfig resolves per-room project configuration. A project
// room carries a dev.morpheum.project_config state event naming the
// repository its tasks target; the resolver fetches it lazily and keeps
// every hit for the life of the process.
package roomconfig

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType is the Matrix state event type that holds a room's project
// configuration. The state key is always empty.
const EventType = "dev.morpheum.project_config"

// Version is written into newly created project configurations.
const Version = "1.0"

// Override is the project configuration stored in a room. The JSON
// names match the state event content written by earlier releases.
type Override struct {
	Repository  string `json:"repository"`
	LLMProvider string `json:"llmProvider"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	Version     string `json:"version"`
}

// New returns an Override for repository targeting the Copilot
// provider, stamped with creator and now.
func New(repository, creator string, now time.Time) Override {
	return Override{
		Repository:  repository,
		LLMProvider: "copilot",
		CreatedBy:   creator,
		CreatedAt:   now.UTC().Format("2006-01-02T15:04:05.000Z"),
		Version:     Version,
	}
}

// Store reads project configuration from room state. found is false
// when the room has no configuration.
type Store interface {
	ProjectConfig(ctx context.Context, roomID string) (o Override, found bool, err error)
}

// StoreFunc adapts a function to [Store].
type StoreFunc func(ctx context.Context, roomID string) (Override, bool, error)

// ProjectConfig calls f.
func (f StoreFunc) ProjectConfig(ctx context.Context, roomID string) (Override, bool, error) {
	return f(ctx, roomID)
}

// Resolver looks up room overrides through a Store and caches hits.
// Misses and lookup errors are not cached, so a room that gains a
// configuration later is picked up on its next message.
type Resolver struct {
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]Override
}

// NewResolver creates a Resolver backed by store.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		logger: logger,
		cache:  make(map[string]Override),
	}
}

// Resolve returns the override for roomID, if any.
func (r *Resolver) Resolve(ctx context.Context, roomID string) (Override, bool) {
	if roomID == "" {
		return Override{}, false
	}

	r.mu.Lock()
	o, ok := r.cache[roomID]
	r.mu.Unlock()
	if ok {
		return o, true
	}

	if r.store == nil {
		return Override{}, false
	}
	o, found, err := r.store.ProjectConfig(ctx, roomID)
	if err != nil {
		r.logger.Debug("project config lookup failed", "room", roomID, "error", err)
		return Override{}, false
	}
	if !found {
		return Override{}, false
	}

	r.Remember(roomID, o)
	return o, true
}

// Remember records o as roomID's override, as when the bot has just
// created the room itself.
func (r *Resolver) Remember(roomID string, o Override) {
	r.mu.Lock()
	r.cache[roomID] = o
	r.mu.Unlock()
	r.logger.Debug("project config cached", "room", roomID, "repository", o.Repository)
}

// Cached reports how many rooms have a cached override.
func (r *Resolver) Cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
