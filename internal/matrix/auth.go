package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"maunium.net/go/mautrix"

	"github.com/anicolao/morpheum/internal/buildinfo"
	"github.com/anicolao/morpheum/internal/httpkit"
)

// DeviceDisplayName is the device name sent on login and registration.
const DeviceDisplayName = "Morpheum Bot"

// Credentials is the result of a login, refresh or registration.
type Credentials struct {
	UserID       string `json:"user_id,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	DeviceID     string `json:"device_id,omitempty"`
	ExpiresInMS  int64  `json:"expires_in_ms,omitempty"`
}

// ExpiresIn returns the access token lifetime, zero when unknown.
func (c *Credentials) ExpiresIn() time.Duration {
	return time.Duration(c.ExpiresInMS) * time.Millisecond
}

// Auth calls the homeserver's login, refresh and registration
// endpoints. Login and refresh are posted directly because they carry
// refresh tokens mautrix does not model; registration goes through
// [mautrix.Client.Register]. Errors returned by the server unwrap to
// [mautrix.RespError], so callers match them with errors.Is against
// sentinels such as [mautrix.MUnknownToken] or [mautrix.MUserInUse].
type Auth struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAuth creates an Auth for homeserverURL.
func NewAuth(homeserverURL string, logger *slog.Logger) *Auth {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auth{
		baseURL: strings.TrimSuffix(homeserverURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithUserAgent(buildinfo.ServiceUserAgent("matrix")),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger.With("component", "matrix_auth"),
	}
}

type userIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type loginRequest struct {
	Type                     string         `json:"type"`
	Identifier               userIdentifier `json:"identifier"`
	Password                 string         `json:"password"`
	RefreshToken             bool           `json:"refresh_token"`
	InitialDeviceDisplayName string         `json:"initial_device_display_name,omitempty"`
}

// Login exchanges a username and password for an access token,
// requesting a refresh token as well.
func (a *Auth) Login(ctx context.Context, username, password string) (*Credentials, error) {
	req := loginRequest{
		Type:                     string(mautrix.AuthTypePassword),
		Identifier:               userIdentifier{Type: string(mautrix.IdentifierTypeUser), User: username},
		Password:                 password,
		RefreshToken:             true,
		InitialDeviceDisplayName: DeviceDisplayName,
	}
	var creds Credentials
	if err := a.post(ctx, "/_matrix/client/v3/login", req, &creds); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &creds, nil
}

// Refresh exchanges a refresh token for a new access token.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	var creds Credentials
	body := map[string]string{"refresh_token": refreshToken}
	if err := a.post(ctx, "/_matrix/client/v3/refresh", body, &creds); err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	return &creds, nil
}

const (
	stageRegistrationToken = "m.login.registration_token"
	stageDummy             = "m.login.dummy"
)

// maxAuthRounds bounds the user-interactive auth exchange.
const maxAuthRounds = 4

// Register creates an account, completing the user-interactive auth
// with a registration token and, when the server asks for it, the dummy
// stage. A nil result with a nil error means the account already
// exists.
func (a *Auth) Register(ctx context.Context, username, password, token string) (*Credentials, error) {
	cli, err := mautrix.NewClient(a.baseURL, "", "")
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	cli.Client = a.httpClient
	cli.Log = newZerolog(a.logger)

	req := &mautrix.ReqRegister{
		Username:                 username,
		Password:                 password,
		InitialDeviceDisplayName: DeviceDisplayName,
		RefreshToken:             true,
	}
	for round := 0; round < maxAuthRounds; round++ {
		resp, uia, err := cli.Register(ctx, req)
		switch {
		case errors.Is(err, mautrix.MUserInUse):
			a.logger.Info("account already exists", "username", username)
			return nil, nil
		case err != nil:
			return nil, fmt.Errorf("register: %w", err)
		case resp != nil:
			a.logger.Info("account registered", "user_id", resp.UserID)
			return &Credentials{
				UserID:       string(resp.UserID),
				AccessToken:  resp.AccessToken,
				RefreshToken: resp.RefreshToken,
				DeviceID:     string(resp.DeviceID),
				ExpiresInMS:  resp.ExpiresInMS,
			}, nil
		case uia == nil:
			return nil, errors.New("register: empty response")
		}

		stage := nextStage(uia)
		if stage == "" {
			return nil, fmt.Errorf("register: no supported auth flow (server offers %v)", uia.Flows)
		}
		auth := map[string]any{"type": stage, "session": uia.Session}
		if stage == stageRegistrationToken {
			auth["token"] = token
		}
		req.Auth = auth
	}
	return nil, errors.New("register: too many authentication rounds")
}

// nextStage picks the first incomplete stage of a flow made only of
// stages Register can answer.
func nextStage(uia *mautrix.RespUserInteractive) mautrix.AuthType {
	supported := []mautrix.AuthType{stageRegistrationToken, stageDummy}
	for _, f := range uia.Flows {
		if slices.ContainsFunc(f.Stages, func(s mautrix.AuthType) bool { return !slices.Contains(supported, s) }) {
			continue
		}
		for _, s := range f.Stages {
			if !slices.Contains(uia.Completed, string(s)) {
				return s
			}
		}
	}
	return ""
}

// post sends body as JSON and decodes a 2xx response into out. Error
// responses are decoded into mautrix.RespError.
func (a *Auth) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	var respErr mautrix.RespError
	if json.Unmarshal(raw, &respErr) != nil || respErr.ErrCode == "" {
		return fmt.Errorf("%s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return respErr
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// RegistrationTokenEnv returns the environment variable holding the
// registration token for server: REGISTRATION_TOKEN_ followed by the
// server name upper-cased, with each run of other characters replaced
// by one underscore.
func RegistrationTokenEnv(server string) string {
	name := strings.Trim(nonAlnum.ReplaceAllString(server, "_"), "_")
	return "REGISTRATION_TOKEN_" + strings.ToUpper(name)
}
