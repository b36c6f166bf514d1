// Package rosterhub talks to the central roster service that collects the
// face reference sets recorded at each guard post.
package rosterhub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is an authenticated roster service client.
type Client struct {
	apiURL    string
	parsedURL *url.URL
	token     string
	http      *http.Client
}

type authResponse struct {
	AccessToken string `json:"access_token"`
}

// readErrorBody reads the response body for error messages.
// Returns a placeholder if reading fails (we're already in an error path).
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(r)
	if err != nil {
		return "(could not read error body)"
	}
	return string(body)
}

// New creates a client and authenticates against the roster service.
func New(rawURL, username, password string) (*Client, error) {
	apiURL := rawURL + "/api/v1"
	parsed, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid roster service URL: %w", err)
	}
	c := &Client{
		apiURL:    apiURL,
		parsedURL: parsed,
		http:      &http.Client{Timeout: 60 * time.Second},
	}
	if err := c.auth(username, password); err != nil {
		return nil, fmt.Errorf("could not authenticate: %w", err)
	}
	return c, nil
}

// NewFromToken creates a client from an existing session token.
func NewFromToken(rawURL, token string) (*Client, error) {
	apiURL := rawURL + "/api/v1"
	parsed, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid roster service URL: %w", err)
	}
	return &Client{
		apiURL:    apiURL,
		parsedURL: parsed,
		token:     token,
		http:      &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *Client) resolveURL(pathSegments ...string) string {
	return c.parsedURL.JoinPath(pathSegments...).String()
}

func (c *Client) auth(username, password string) error {
	inputBody, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("could not marshal input: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.resolveURL("sessions"), bytes.NewReader(inputBody))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var result authResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("could not unmarshal response: %w", err)
	}
	if result.AccessToken == "" {
		return errors.New("login response carried no access token")
	}
	c.token = result.AccessToken
	return nil
}

// Logout deletes the current session.
func (c *Client) Logout() error {
	if c.token == "" {
		return nil // Already logged out
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, c.resolveURL("session"), nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logout failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	c.token = ""
	return nil
}

// artifactMeta mirrors one captured still in the upload manifest.
type artifactMeta struct {
	SequenceIndex int       `json:"sequence_index"`
	StepTag       string    `json:"step_tag"`
	Handle        string    `json:"handle"`
	CapturedAt    time.Time `json:"captured_at"`
}

type uploadManifest struct {
	SessionID string         `json:"session_id"`
	Badge     string         `json:"badge"`
	Artifacts []artifactMeta `json:"artifacts"`
}
