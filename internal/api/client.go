// Package api is the HTTP client for the Khelogames backend's session
// endpoints: login, token refresh, and remote session invalidation.
package api

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultBaseURL = "https://api.khelogames.com"

// Credentials is the login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the POST /login response.
type LoginResponse struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	SessionID             string    `json:"session_id"`
	User                  LoginUser `json:"user"`
}

// LoginUser is the profile embedded in the login response.
type LoginUser struct {
	PublicID    string `json:"public_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// RefreshResponse is the POST /refresh response. The expiry is an RFC3339
// string; it may be absent on older servers, in which case the caller falls
// back to the token's own exp claim.
type RefreshResponse struct {
	AccessToken          string    `json:"access_token"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at"`
}

// ClientOpts configures a Client. Zero values fall back to defaults.
type ClientOpts struct {
	BaseURL  string
	DeviceID string
}

// Client talks to the backend's session endpoints.
type Client struct {
	httpClient *resty.Client
	baseURL    string
}

// NewClient creates a session API client.
func NewClient(opts ClientOpts) *Client {
	c := Client{baseURL: DefaultBaseURL}
	if opts.BaseURL != "" {
		c.baseURL = opts.BaseURL
	}

	headers := map[string]string{
		"Accept":     "application/json",
		"User-Agent": "khelogames-client/1.0",
	}
	if opts.DeviceID != "" {
		headers["X-Device-Id"] = opts.DeviceID
	}

	c.httpClient = resty.New().
		SetBaseURL(c.baseURL).
		SetHeaders(headers)

	return &c
}

func (c *Client) req(ctx context.Context, result any) *resty.Request {
	request := c.httpClient.
		NewRequest().
		SetContext(ctx)

	if result != nil {
		request.SetResult(result)
	}
	return request
}

// Login exchanges credentials for a token bundle and session id.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	result := &LoginResponse{}

	_, err := handleError(c.req(ctx, result).
		SetBody(creds).
		Post("/login"))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	result := &RefreshResponse{}

	_, err := handleError(c.req(ctx, result).
		SetBody(map[string]string{"refresh_token": refreshToken}).
		Post("/refresh"))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Logout asks the server to invalidate the session. Callers treat failures
// as best-effort; local teardown proceeds regardless.
func (c *Client) Logout(ctx context.Context, sessionID string) error {
	_, err := handleError(c.req(ctx, nil).
		SetPathParams(map[string]string{
			"sessionId": sessionID,
		}).
		Delete("/session/{sessionId}"))
	return err
}
