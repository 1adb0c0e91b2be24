// Package matrix provides the HTTP transport for the sync engine: a minimal
// Matrix Client-Server API client covering /sync long-polling and token
// validation. Authentication, sending, and room administration live outside
// this project.
package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRequestTimeout = 15 * time.Second

// Client issues Matrix Client-Server API requests against one homeserver.
type Client struct {
	baseURL        string
	accessToken    string
	userID         string
	requestTimeout time.Duration
	httpClient     *http.Client
}

// NewClient creates a Matrix client with the provided base URL and access
// token. timeout bounds non-long-poll requests; long-poll sync requests get
// the poll duration plus this grace on top.
func NewClient(baseURL, accessToken, userID string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:        cleanBaseURL(baseURL),
		accessToken:    accessToken,
		userID:         userID,
		requestTimeout: timeout,
		httpClient:     &http.Client{},
	}
}

// UserID returns the Matrix user ID for this client.
func (c *Client) UserID() string {
	return c.userID
}

// WhoAmI validates the access token and returns the server's view of the
// authenticated user ID.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	endpoint := c.baseURL + "/_matrix/client/v3/account/whoami"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create whoami request: %w", err)
	}
	c.addAuth(req)

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("whoami failed: %w", err)
	}

	var result WhoAmIResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse whoami response: %w", err)
	}
	if result.UserID == "" {
		return "", fmt.Errorf("whoami response missing user_id")
	}
	return result.UserID, nil
}

// Sync performs a single sync request. since is the cursor from the previous
// response (empty for the initial snapshot); timeout is the server-side
// long-poll hold.
func (c *Client) Sync(ctx context.Context, since string, timeout time.Duration, filter string) (*SyncResponse, error) {
	params := url.Values{}
	if since != "" {
		params.Set("since", since)
	}
	if timeout > 0 {
		params.Set("timeout", fmt.Sprintf("%d", timeout.Milliseconds()))
	}
	if filter != "" {
		params.Set("filter", filter)
	}
	params.Set("set_presence", "offline")

	// Request deadline covers the long-poll hold plus transport grace.
	ctx, cancel := context.WithTimeout(ctx, timeout+c.requestTimeout)
	defer cancel()

	endpoint := c.baseURL + "/_matrix/client/v3/sync?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync request: %w", err)
	}
	c.addAuth(req)

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("sync failed: %w", err)
	}

	var result SyncResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse sync response: %w", err)
	}
	return &result, nil
}

// CloseIdleConnections drops pooled connections. Called after transport
// errors so the next attempt opens a fresh socket instead of reusing a
// poisoned one.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// do executes the request and returns the body on 2xx. Non-success responses
// with a Matrix error body are returned as *Error.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	var matrixErr Error
	if jsonErr := json.Unmarshal(body, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	matrixErr.StatusCode = resp.StatusCode
	return nil, &matrixErr
}

func (c *Client) addAuth(req *http.Request) {
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
}

func cleanBaseURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if idx := strings.Index(trimmed, "/_matrix"); idx != -1 {
		return trimmed[:idx]
	}
	return trimmed
}
