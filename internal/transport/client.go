// Package transport is the HTTP client for the leaderboard server of record.
// It delivers match payloads and classifies failures so the sync engine can
// decide between automatic retry and surfacing a required user action.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nathant8883/mtg-leaderboard/internal/match"
)

const defaultTimeout = 30 * time.Second

// Client talks to the leaderboard server.
type Client struct {
	baseURL  string
	apiToken string
	clientID string
	client   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client (used in tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a Client for the given server. clientID identifies this device
// and is sent with every request for server-side log correlation.
func New(baseURL, apiToken, clientID string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		clientID: clientID,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// createdMatch is the subset of the server's match response we care about.
type createdMatch struct {
	ID string `json:"id"`
}

// problemBody is a best-effort decode of the server's error response.
type problemBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Title   string `json:"title"`
}

// CreateMatch delivers one match result and returns the server-assigned
// identifier. Failures are returned as *DeliveryError.
func (c *Client) CreateMatch(ctx context.Context, result match.Result) (string, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal match: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/matches", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var created createdMatch
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			return "", fmt.Errorf("decode create response: %w", err)
		}
		if created.ID == "" {
			return "", fmt.Errorf("create response missing match id")
		}
		return created.ID, nil
	}

	return "", &DeliveryError{
		Class:   classify(resp.StatusCode),
		Status:  resp.StatusCode,
		Message: errorMessage(resp),
	}
}

// Ping checks connectivity to the server's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return networkError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &DeliveryError{
			Class:   classify(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: "health check failed",
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	if c.clientID != "" {
		req.Header.Set("X-Client-ID", c.clientID)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// errorMessage extracts a human-readable message from an error response.
func errorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		return http.StatusText(resp.StatusCode)
	}

	var problem problemBody
	if err := json.Unmarshal(body, &problem); err == nil {
		switch {
		case problem.Detail != "":
			return problem.Detail
		case problem.Message != "":
			return problem.Message
		case problem.Title != "":
			return problem.Title
		}
	}
	return strings.TrimSpace(string(body))
}
