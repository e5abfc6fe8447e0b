package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"maunium.net/go/mautrix"
)

var (
	// ErrRefreshInProgress is returned by Refresh while another refresh
	// is running.
	ErrRefreshInProgress = errors.New("token refresh already in progress")
	// ErrNoCredentials is returned by Refresh without a username and
	// password.
	ErrNoCredentials = errors.New("username and password are required for token refresh")
)

// Authenticator obtains access tokens. *Auth implements it.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*Credentials, error)
	Refresh(ctx context.Context, refreshToken string) (*Credentials, error)
}

// TokenStatus describes the token manager without revealing secrets.
type TokenStatus struct {
	HasAccessToken    bool
	HasRefreshToken   bool
	HasCredentials    bool
	RefreshInProgress bool
}

// TokenManager holds the current access token and replaces it when the
// homeserver rejects it. It is only used when a username and password
// are configured; with a bare ACCESS_TOKEN the bot runs in static mode
// and has no TokenManager.
type TokenManager struct {
	auth     Authenticator
	username string
	password string
	logger   *slog.Logger

	mu         sync.Mutex
	access     string
	refresh    string
	refreshing bool
	onRefresh  []func(*Credentials)
}

// NewTokenManager creates a TokenManager starting with accessToken,
// which may be empty.
func NewTokenManager(auth Authenticator, username, password, accessToken string, logger *slog.Logger) *TokenManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		auth:     auth,
		username: username,
		password: password,
		access:   accessToken,
		logger:   logger.With("component", "matrix_tokens"),
	}
}

// AccessToken returns the current access token.
func (m *TokenManager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access
}

// SetRefreshToken records a refresh token obtained elsewhere.
func (m *TokenManager) SetRefreshToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh = token
}

// OnRefresh registers fn to run after every successful refresh.
func (m *TokenManager) OnRefresh(fn func(*Credentials)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRefresh = append(m.onRefresh, fn)
}

// Status reports what the manager holds.
func (m *TokenManager) Status() TokenStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return TokenStatus{
		HasAccessToken:    m.access != "",
		HasRefreshToken:   m.refresh != "",
		HasCredentials:    m.username != "" && m.password != "",
		RefreshInProgress: m.refreshing,
	}
}

// Login obtains the first access token when none was configured.
func (m *TokenManager) Login(ctx context.Context) (*Credentials, error) {
	return m.Refresh(ctx)
}

// Refresh obtains a new access token, using the refresh token when one
// is held and falling back to a password login.
func (m *TokenManager) Refresh(ctx context.Context) (*Credentials, error) {
	m.mu.Lock()
	if m.username == "" || m.password == "" {
		m.mu.Unlock()
		return nil, ErrNoCredentials
	}
	if m.refreshing {
		m.mu.Unlock()
		return nil, ErrRefreshInProgress
	}
	m.refreshing = true
	refresh := m.refresh
	m.mu.Unlock()

	creds, err := m.obtain(ctx, refresh)

	m.mu.Lock()
	m.refreshing = false
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.access = creds.AccessToken
	if creds.RefreshToken != "" {
		m.refresh = creds.RefreshToken
	}
	hooks := slices.Clone(m.onRefresh)
	m.mu.Unlock()

	m.logger.Info("access token refreshed",
		"refresh_token", creds.RefreshToken != "",
		"expires_in", creds.ExpiresIn(),
		"device_id", creds.DeviceID,
	)
	for _, fn := range hooks {
		fn(creds)
	}
	return creds, nil
}

func (m *TokenManager) obtain(ctx context.Context, refresh string) (*Credentials, error) {
	if refresh != "" {
		creds, err := m.auth.Refresh(ctx, refresh)
		if err == nil {
			return creds, nil
		}
		m.logger.Warn("refresh token rejected, falling back to password login", "error", err)
	}
	creds, err := m.auth.Login(ctx, m.username, m.password)
	if err != nil {
		return nil, fmt.Errorf("password login: %w", err)
	}
	return creds, nil
}

// Do runs fn and, if it fails because the homeserver no longer accepts
// the access token, refreshes the token and runs fn once more. A nil
// manager runs fn once.
func (m *TokenManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if m == nil || !errors.Is(err, mautrix.MUnknownToken) {
		return err
	}
	m.logger.Warn("access token rejected, refreshing", "error", err)
	if _, rerr := m.Refresh(ctx); rerr != nil && !errors.Is(rerr, ErrRefreshInProgress) {
		return fmt.Errorf("%w (token refresh failed: %v)", err, rerr)
	}
	return fn(ctx)
}
