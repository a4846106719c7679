package call

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// Token is the credential and endpoint bundle minted by the token
// collaborator. The orchestrator treats it as opaque.
type Token struct {
	Token     string `json:"token"`
	WSURL     string `json:"ws_url"`
	ExpiresAt int64  `json:"expires_at"`
	AgentID   string `json:"agent_id"`
}

// TokenClient requests session credentials from the token collaborator.
type TokenClient struct {
	// BaseURL is the token endpoint.
	BaseURL string

	// HTTPClient is the client used for requests. Defaults to a client
	// with a 10s timeout.
	HTTPClient *http.Client
}

// NewTokenClient creates a token client for the given endpoint.
func NewTokenClient(baseURL string) *TokenClient {
	return &TokenClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Mint requests a session token for the given user. Any non-success
// response yields a TokenError.
func (c *TokenClient) Mint(ctx context.Context, userID string) (*Token, error) {
	body, err := json.Marshal(map[string]string{"userId": userID})
	if err != nil {
		return nil, &TokenError{Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &TokenError{Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TokenError{Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &TokenError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	var token Token
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, &TokenError{Message: "decode response", Err: err}
	}
	return &token, nil
}
