// Package matrix connects the bot to a Matrix homeserver: the sync
// loop, invite handling, mention routing, ordered message delivery,
// project room state and access token upkeep.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/anicolao/morpheum/internal/buildinfo"
	"github.com/anicolao/morpheum/internal/format"
	"github.com/anicolao/morpheum/internal/httpkit"
	"github.com/anicolao/morpheum/internal/project"
	"github.com/anicolao/morpheum/internal/roomconfig"
)

// ProjectConfigType is the state event carrying a room's project
// configuration.
var ProjectConfigType = event.Type{Type: roomconfig.EventType, Class: event.StateEventType}

// Message is an inbound message addressed to the bot.
type Message struct {
	RoomID  string
	EventID string
	Sender  string
	// Body is the routed text: the command, or the task with the
	// mention stripped.
	Body string
}

// Handler processes routed messages. Replies go through send.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message, send format.Sender)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, msg Message, send format.Sender)

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg Message, send format.Sender) {
	f(ctx, msg, send)
}

// Options configures a Client.
type Options struct {
	HomeserverURL string
	// UserID may be empty; Init asks the homeserver.
	UserID string
	// Tokens supplies and refreshes the access token. When nil the
	// client runs in static mode with AccessToken.
	Tokens      *TokenManager
	AccessToken string
	// Store persists the sync position. Nil keeps it in memory.
	Store mautrix.SyncStore
	// RateLimit caps handled messages per sender per minute. Zero
	// disables the limit.
	RateLimit int
	Logger    *slog.Logger
}

// Client is the bot's Matrix connection.
type Client struct {
	cli     *mautrix.Client
	tokens  *TokenManager
	queue   *Queue
	limiter *senderLimiter
	logger  *slog.Logger

	mu       sync.RWMutex
	identity Identity
	// roomNames holds the bot's display name per room; "" means the
	// room has none and the global name applies.
	roomNames map[id.RoomID]string

	handlers conc.WaitGroup
}

var (
	_ project.Rooms    = (*Client)(nil)
	_ roomconfig.Store = (*Client)(nil)
)

// NewClient builds a client. It does not contact the homeserver.
func NewClient(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "matrix")

	token := func() string { return opts.AccessToken }
	if opts.Tokens != nil {
		token = opts.Tokens.AccessToken
	}

	// Long-poll syncs hold the response for up to 30 seconds.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 90 * time.Second

	cli, err := mautrix.NewClient(opts.HomeserverURL, id.UserID(opts.UserID), "")
	if err != nil {
		return nil, fmt.Errorf("matrix client: %w", err)
	}
	cli.Client = httpkit.NewClient(
		httpkit.WithTimeout(0),
		httpkit.WithTransport(t),
		httpkit.WithUserAgent(buildinfo.ServiceUserAgent("matrix")),
		httpkit.WithBearer(token),
	)
	cli.Log = newZerolog(logger)
	if opts.Store != nil {
		cli.Store = opts.Store
	}

	c := &Client{
		cli:       cli,
		tokens:    opts.Tokens,
		limiter:   newSenderLimiter(opts.RateLimit),
		logger:    logger,
		identity:  Identity{UserID: opts.UserID},
		roomNames: make(map[id.RoomID]string),
	}
	c.queue = NewQueue(c.post, logger)
	return c, nil
}

// Init learns the bot's user ID, when not configured, and display name.
func (c *Client) Init(ctx context.Context) error {
	if c.cli.UserID == "" {
		var who *mautrix.RespWhoami
		err := c.tokens.Do(ctx, func(ctx context.Context) error {
			var err error
			who, err = c.cli.Whoami(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("whoami: %w", err)
		}
		c.cli.UserID = who.UserID
	}

	ident := Identity{UserID: c.cli.UserID.String()}
	err := c.tokens.Do(ctx, func(ctx context.Context) error {
		resp, err := c.cli.GetOwnDisplayName(ctx)
		if err == nil {
			ident.DisplayName = resp.DisplayName
		}
		return err
	})
	if err != nil {
		c.logger.Warn("display name unavailable, answering to user ID and localpart only", "error", err)
	}

	c.mu.Lock()
	c.identity = ident
	c.mu.Unlock()
	c.logger.Info("matrix identity", "user_id", ident.UserID, "display_name", ident.DisplayName)
	return nil
}

// Identity returns the names the bot answers to.
func (c *Client) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// RoomIdentity returns the names the bot answers to in roomID. The
// bot's display name in that room replaces the global one when set.
// Lookups are cached per room and kept current from membership events;
// failed lookups fall back to the global identity and are retried.
func (c *Client) RoomIdentity(ctx context.Context, roomID string) Identity {
	ident := c.Identity()
	rid := id.RoomID(roomID)

	c.mu.RLock()
	name, ok := c.roomNames[rid]
	c.mu.RUnlock()
	if !ok {
		var member event.MemberEventContent
		err := c.tokens.Do(ctx, func(ctx context.Context) error {
			return c.cli.StateEvent(ctx, rid, event.StateMember, c.cli.UserID.String(), &member)
		})
		if err != nil {
			c.logger.Debug("room display name unavailable", "room", roomID, "error", err)
			return ident
		}
		name = member.Displayname
		c.setRoomName(rid, name)
	}
	if name != "" {
		ident.DisplayName = name
	}
	return ident
}

func (c *Client) setRoomName(roomID id.RoomID, name string) {
	c.mu.Lock()
	c.roomNames[roomID] = name
	c.mu.Unlock()
}

// Run syncs until ctx is cancelled, joining rooms the bot is invited to
// and passing routed messages to h. Handlers run concurrently; Run
// waits for them before returning. A rejected access token is
// refreshed and the sync restarted.
func (c *Client) Run(ctx context.Context, h Handler) error {
	syncer, ok := c.cli.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unsupported syncer")
	}
	syncer.OnSync(c.cli.DontProcessOldEvents)
	syncer.OnEventType(event.StateMember, c.handleMember)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		c.handleEvent(ctx, evt, h)
	})

	defer func() {
		c.handlers.Wait()
		c.queue.Close()
	}()

	c.logger.Info("sync started", "homeserver", c.cli.HomeserverURL.String())
	for {
		err := c.cli.SyncWithContext(ctx)
		if ctx.Err() != nil {
			c.logger.Info("sync stopped")
			return nil
		}
		if c.tokens == nil || !errors.Is(err, mautrix.MUnknownToken) {
			return fmt.Errorf("sync: %w", err)
		}
		c.logger.Warn("access token rejected during sync, refreshing", "error", err)
		if _, rerr := c.tokens.Refresh(ctx); rerr != nil && !errors.Is(rerr, ErrRefreshInProgress) {
			return fmt.Errorf("sync: %w (token refresh failed: %v)", err, rerr)
		}
	}
}

// Stop interrupts a running sync.
func (c *Client) Stop() { c.cli.StopSync() }

func (c *Client) handleMember(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != c.cli.UserID.String() {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership == event.MembershipJoin {
		c.setRoomName(evt.RoomID, member.Displayname)
		return
	}
	if member.Membership != event.MembershipInvite {
		return
	}
	err := c.tokens.Do(ctx, func(ctx context.Context) error {
		_, err := c.cli.JoinRoomByID(ctx, evt.RoomID)
		return err
	})
	if err != nil {
		c.logger.Warn("autojoin failed", "room", evt.RoomID, "inviter", evt.Sender, "error", err)
		return
	}
	c.logger.Info("joined room", "room", evt.RoomID, "inviter", evt.Sender)
}

// handleEvent routes one m.room.message event.
func (c *Client) handleEvent(ctx context.Context, evt *event.Event, h Handler) {
	if evt.Sender == c.cli.UserID {
		return
	}
	content := evt.Content.AsMessage()
	if content.Body == "" {
		return
	}
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return
	}

	body, ok := Route(content.Body, c.RoomIdentity(ctx, evt.RoomID.String()))
	if !ok {
		return
	}
	if !c.limiter.allow(evt.Sender.String()) {
		c.logger.Warn("message rate-limited", "sender", evt.Sender, "room", evt.RoomID)
		return
	}

	msg := Message{
		RoomID:  evt.RoomID.String(),
		EventID: evt.ID.String(),
		Sender:  evt.Sender.String(),
		Body:    body,
	}
	c.logger.Debug("message received", "room", msg.RoomID, "sender", msg.Sender, "body", msg.Body)

	c.handlers.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("message handler panicked",
					"room", msg.RoomID, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		h.HandleMessage(ctx, msg, c.queue.Sender(msg.RoomID))
	})
}

func (c *Client) post(ctx context.Context, roomID string, content *event.MessageEventContent) error {
	return c.tokens.Do(ctx, func(ctx context.Context) error {
		_, err := c.cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content)
		return err
	})
}

// SendMessage delivers a message to roomID through the ordered queue.
func (c *Client) SendMessage(ctx context.Context, roomID, text, html string) error {
	return c.queue.Send(ctx, roomID, text, html)
}

// Sender returns a format.Sender for roomID.
func (c *Client) Sender(roomID string) format.Sender {
	return c.queue.Sender(roomID)
}

// ProjectConfig reads roomID's project configuration state event.
func (c *Client) ProjectConfig(ctx context.Context, roomID string) (roomconfig.Override, bool, error) {
	var o roomconfig.Override
	err := c.tokens.Do(ctx, func(ctx context.Context) error {
		return c.cli.StateEvent(ctx, id.RoomID(roomID), ProjectConfigType, "", &o)
	})
	if errors.Is(err, mautrix.MNotFound) {
		return roomconfig.Override{}, false, nil
	}
	if err != nil {
		return roomconfig.Override{}, false, fmt.Errorf("read project config: %w", err)
	}
	return o, o.Repository != "", nil
}

// SetProjectConfig writes roomID's project configuration state event.
func (c *Client) SetProjectConfig(ctx context.Context, roomID string, o roomconfig.Override) error {
	return c.tokens.Do(ctx, func(ctx context.Context) error {
		_, err := c.cli.SendStateEvent(ctx, id.RoomID(roomID), ProjectConfigType, "", &o)
		return err
	})
}

// CreateProjectRoom creates a private room whose initial state shares
// history with members and carries the project configuration.
func (c *Client) CreateProjectRoom(ctx context.Context, req project.RoomRequest) (string, error) {
	cfg := req.Config
	empty := ""
	create := &mautrix.ReqCreateRoom{
		Visibility:    "private",
		Preset:        "private_chat",
		RoomAliasName: req.AliasLocalpart,
		Name:          req.Name,
		Topic:         req.Topic,
		InitialState: []*event.Event{
			{
				Type:     event.StateHistoryVisibility,
				StateKey: &empty,
				Content: event.Content{Parsed: &event.HistoryVisibilityEventContent{
					HistoryVisibility: event.HistoryVisibilityShared,
				}},
			},
			{
				Type:     ProjectConfigType,
				StateKey: &empty,
				Content:  event.Content{Parsed: &cfg},
			},
		},
	}
	var resp *mautrix.RespCreateRoom
	err := c.tokens.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.cli.CreateRoom(ctx, create)
		return err
	})
	if err != nil {
		return "", err
	}
	return resp.RoomID.String(), nil
}

// InviteUser invites userID to roomID.
func (c *Client) InviteUser(ctx context.Context, roomID, userID string) error {
	return c.tokens.Do(ctx, func(ctx context.Context) error {
		_, err := c.cli.InviteUser(ctx, id.RoomID(roomID), &mautrix.ReqInviteUser{UserID: id.UserID(userID)})
		return err
	})
}
