// Package authclient manages the client side of the token lifecycle:
// persisted auth state, transparent refresh, and authenticated requests
// against the portal API.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrReAuthRequired is returned when no valid session can be recovered
// and the user must log in again.
var ErrReAuthRequired = errors.New("authentication required")

// APIError carries a structured error returned by the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type Config struct {
	// BaseURL is the portal API root, e.g. "http://localhost:8080".
	BaseURL string
	// StatePath is where tokens are persisted between runs.
	StatePath string
	// HTTPClient is optional; a 15 second default is used when nil.
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	statePath  string
	httpClient *http.Client

	mu    sync.Mutex
	state *State

	refreshGroup singleflight.Group
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.StatePath == "" {
		return nil, fmt.Errorf("state path is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		statePath:  cfg.StatePath,
		httpClient: httpClient,
	}, nil
}

// Rehydrate loads persisted state from disk. It returns the stored user
// info when a session exists and ErrReAuthRequired when there is none.
// Token validity is not checked here; an expired access token is healed
// lazily by the next request.
func (c *Client) Rehydrate() (*UserInfo, error) {
	s, err := loadState(c.statePath)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrReAuthRequired
	}

	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	user := s.User
	return &user, nil
}

// LoggedIn reports whether the client currently holds a session.
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != nil
}

// User returns the cached user info for the current session.
func (c *Client) User() (*UserInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil, ErrReAuthRequired
	}

	user := c.state.User
	return &user, nil
}

type tokenPair struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	User         UserInfo `json:"user"`
}

// Register creates an account and stores the returned session.
func (c *Client) Register(ctx context.Context, email, password, displayName string) (*UserInfo, error) {
	return c.obtainSession(ctx, "/api/v1/auth/register", map[string]string{
		"email":        email,
		"password":     password,
		"display_name": displayName,
	})
}

// Login authenticates with credentials and stores the returned session.
func (c *Client) Login(ctx context.Context, email, password string) (*UserInfo, error) {
	return c.obtainSession(ctx, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

func (c *Client) obtainSession(ctx context.Context, path string, body map[string]string) (*UserInfo, error) {
	var pair tokenPair
	if err := c.postJSON(ctx, path, body, "", &pair); err != nil {
		return nil, err
	}

	if err := c.adoptPair(&pair); err != nil {
		return nil, err
	}

	user := pair.User
	return &user, nil
}

func (c *Client) adoptPair(pair *tokenPair) error {
	s := &State{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         pair.User,
		SavedAt:      time.Now(),
	}

	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	return saveState(c.statePath, s)
}

// Refresh exchanges the stored refresh token for a new pair. Concurrent
// callers are coalesced into a single server round trip. A rejected
// refresh token clears local state and returns ErrReAuthRequired.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		return ErrReAuthRequired
	}
	refreshToken := c.state.RefreshToken
	c.mu.Unlock()

	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		return nil, c.doRefresh(ctx, refreshToken)
	})
	return err
}

func (c *Client) doRefresh(ctx context.Context, refreshToken string) error {
	c.mu.Lock()
	// Another caller may have rotated the pair between the snapshot and
	// the flight; their result is as good as ours.
	if c.state == nil {
		c.mu.Unlock()
		return ErrReAuthRequired
	}
	if c.state.RefreshToken != refreshToken {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var pair tokenPair
	err := c.postJSON(ctx, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": refreshToken,
	}, "", &pair)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			c.dropLocal()
			return fmt.Errorf("%w: %v", ErrReAuthRequired, err)
		}
		return err
	}

	return c.adoptPair(&pair)
}

// Logout revokes the session on the server and clears local state. Local
// state is cleared even when the server call fails, so a dead server
// cannot pin the client in a logged-in state.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		return nil
	}
	accessToken := c.state.AccessToken
	refreshToken := c.state.RefreshToken
	c.mu.Unlock()

	serverErr := c.postJSON(ctx, "/api/v1/auth/logout", map[string]string{
		"refresh_token": refreshToken,
	}, accessToken, nil)

	if err := c.dropLocal(); err != nil {
		return err
	}

	var apiErr *APIError
	if errors.As(serverErr, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		// The session was already dead server-side; local cleanup is
		// all a logout needs.
		return nil
	}

	return serverErr
}

// ForceLogout discards local state without contacting the server.
func (c *Client) ForceLogout() error {
	return c.dropLocal()
}

func (c *Client) dropLocal() error {
	c.mu.Lock()
	c.state = nil
	c.mu.Unlock()

	return clearState(c.statePath)
}

// Do performs an authenticated API request. On a 401 it refreshes the
// token pair once and retries; if the refresh itself is rejected the
// caller gets ErrReAuthRequired.
func (c *Client) Do(ctx context.Context, method, path string, body any, out any) error {
	err := c.doAuthed(ctx, method, path, body, out)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		return err
	}

	if refreshErr := c.Refresh(ctx); refreshErr != nil {
		return refreshErr
	}

	return c.doAuthed(ctx, method, path, body, out)
}

func (c *Client) doAuthed(ctx context.Context, method, path string, body any, out any) error {
	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		return ErrReAuthRequired
	}
	accessToken := c.state.AccessToken
	c.mu.Unlock()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	return c.send(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, accessToken string, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	return c.send(req, out)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unexpected response (status %d): %w", resp.StatusCode, err)
	}

	if !env.Success || resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: "UNKNOWN", Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}

	return nil
}
