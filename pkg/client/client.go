// Package client provides the Go client for the NoSpoilers backend. A
// companion app or bot embeds it to drive logins, group feeds, and
// spoiler-gated progress over the public HTTP API.
//
// Quick start:
//
//	ns := client.New(client.Config{
//	    AuthURL:    "https://auth.nospoilers.app",
//	    ContentURL: "https://content.nospoilers.app",
//	})
//
//	login, err := ns.EmailLogin(ctx, "reader@example.com", password)
//	if err != nil {
//	    var apiErr *client.APIError
//	    if errors.As(err, &apiErr) && apiErr.Kind == "rate_limited" {
//	        // back off and retry later
//	    }
//	}
//
//	feed, _ := ns.Feed(ctx, login.User.ID, groupID, mediaID)
//	for _, post := range feed.Posts {
//	    if !post.Unlocked {
//	        // render post.PreviewText and post.UnitReference only
//	    }
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the client configuration.
type Config struct {
	// AuthURL is the auth service base URL (required for session calls).
	AuthURL string

	// ContentURL is the content service base URL (required for feed and
	// progress calls).
	ContentURL string

	// Timeout bounds each request (default 30s). Ignored when HTTPClient
	// is set.
	Timeout time.Duration

	// HTTPClient overrides the default client, e.g. to add tracing or a
	// cookie jar for web-style refresh cookies.
	HTTPClient *http.Client
}

// Client talks to the two NoSpoilers services. It is safe for concurrent
// use.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// APIError is a decoded NoSpoilers error response. Kind is the stable
// machine string ("rate_limited", "unknown_user", ...); Field names the
// offending input field when the server identifies one.
type APIError struct {
	Status  int    `json:"-"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("nospoilers: %s (kind=%s, field=%s)", e.Message, e.Kind, e.Field)
	}
	return fmt.Sprintf("nospoilers: %s (kind=%s)", e.Message, e.Kind)
}

// ============================================================================
// SESSIONS
// ============================================================================

// EmailLogin signs in with email and password, creating the account on
// first use.
func (c *Client) EmailLogin(ctx context.Context, email, password string) (*LoginResult, error) {
	body := map[string]string{"email": email, "password": password}
	var result LoginResult
	if err := c.do(ctx, "POST", c.cfg.AuthURL+"/auth/email", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StartPhoneLogin requests an SMS code for the given phone number.
func (c *Client) StartPhoneLogin(ctx context.Context, phone string) (*PhoneChallenge, error) {
	body := map[string]string{"phone": phone}
	var challenge PhoneChallenge
	if err := c.do(ctx, "POST", c.cfg.AuthURL+"/auth/phone/start", body, &challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// VerifyPhoneCode redeems an SMS code for a session.
func (c *Client) VerifyPhoneCode(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	body := map[string]string{"challengeId": challengeID, "code": code}
	var result LoginResult
	if err := c.do(ctx, "POST", c.cfg.AuthURL+"/auth/phone/verify", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RefreshSession rotates a refresh token for a fresh pair. Pass an empty
// token on web, where the HttpOnly cookie carries it instead; that needs
// an HTTPClient with a cookie jar.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*LoginResult, error) {
	var body interface{}
	if refreshToken != "" {
		body = map[string]string{"refreshToken": refreshToken}
	}
	var result LoginResult
	if err := c.do(ctx, "POST", c.cfg.AuthURL+"/auth/session/refresh", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Logout revokes the presented refresh token. Succeeds even when no
// session is live.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	var body interface{}
	if refreshToken != "" {
		body = map[string]string{"refreshToken": refreshToken}
	}
	return c.do(ctx, "POST", c.cfg.AuthURL+"/auth/logout", body, nil)
}

// CheckUsername reports whether a handle is free to claim.
func (c *Client) CheckUsername(ctx context.Context, username string) (*UsernameAvailability, error) {
	endpoint := c.cfg.AuthURL + "/auth/usernames/availability?username=" + url.QueryEscape(username)
	var availability UsernameAvailability
	if err := c.do(ctx, "GET", endpoint, nil, &availability); err != nil {
		return nil, err
	}
	return &availability, nil
}

// GetUser fetches a public profile.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := c.do(ctx, "GET", c.cfg.AuthURL+"/auth/users/"+url.PathEscape(userID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ============================================================================
// FEED AND PROGRESS
// ============================================================================

// ActiveSelection returns what the group is currently reading or
// watching.
func (c *Client) ActiveSelection(ctx context.Context, groupID string) (*Selection, error) {
	endpoint := c.cfg.ContentURL + "/content/groups/" + url.PathEscape(groupID) + "/selection"
	var selection Selection
	if err := c.do(ctx, "GET", endpoint, nil, &selection); err != nil {
		return nil, err
	}
	return &selection, nil
}

// Feed returns the group feed with every post gated against the user's
// progress.
func (c *Client) Feed(ctx context.Context, userID, groupID, mediaItemID string) (*Feed, error) {
	query := url.Values{"user": {userID}, "group": {groupID}, "media": {mediaItemID}}
	var feed Feed
	if err := c.do(ctx, "GET", c.cfg.ContentURL+"/content/feed?"+query.Encode(), nil, &feed); err != nil {
		return nil, err
	}
	return &feed, nil
}

// CreatePost publishes a reaction gated behind a unit.
func (c *Client) CreatePost(ctx context.Context, input PostInput) (*Post, error) {
	var post Post
	if err := c.do(ctx, "POST", c.cfg.ContentURL+"/content/posts", input, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// MarkAsRead advances the user to a unit and reports which posts that
// unlocked. The result carries a short-lived rollback token for undo.
func (c *Client) MarkAsRead(ctx context.Context, input MarkInput) (*MarkResult, error) {
	var result MarkResult
	if err := c.do(ctx, "POST", c.cfg.ContentURL+"/content/progress/mark", input, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RollbackProgress undoes a recent mark using its rollback token.
func (c *Client) RollbackProgress(ctx context.Context, userID, token string) (*RollbackResult, error) {
	body := map[string]string{"userId": userID, "rollbackToken": token}
	var result RollbackResult
	if err := c.do(ctx, "POST", c.cfg.ContentURL+"/content/progress/rollback", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetProgress reads the user's position without changing it.
func (c *Client) GetProgress(ctx context.Context, userID, groupID, mediaItemID string) (*Progress, error) {
	query := url.Values{"user": {userID}, "group": {groupID}, "media": {mediaItemID}}
	var progress Progress
	if err := c.do(ctx, "GET", c.cfg.ContentURL+"/content/progress?"+query.Encode(), nil, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

// ============================================================================
// TRANSPORT
// ============================================================================

func (c *Client) do(ctx context.Context, method, endpoint string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("nospoilers: encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("nospoilers: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("nospoilers: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nospoilers: decode response: %w", err)
	}
	return nil
}

// decodeAPIError turns an error response into an *APIError, falling back
// to the bare status when the body is not the standard envelope.
func decodeAPIError(resp *http.Response) error {
	var envelope struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Kind == "" {
		return &APIError{Status: resp.StatusCode, Kind: "unknown", Message: resp.Status}
	}
	envelope.Error.Status = resp.StatusCode
	return &envelope.Error
}
