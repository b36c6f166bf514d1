package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/camera"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/liveness"
)

// Client talks to the face landmark inference service over HTTP.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates an analyzer client for the service at url
// (e.g. http://localhost:8500).
func NewClient(url string) *Client {
	return &Client{
		url: strings.TrimRight(url, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type analyzeRequest struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Luma   string `json:"luma"`             // base64 luminance plane
	Handle string `json:"handle,omitempty"` // full-frame reference if the service stores frames
}

type analyzeResponse struct {
	Faces []liveness.FaceSignals `json:"faces"`
}

// Analyze sends the frame to the inference service and returns one
// FaceSignals per detected face. FaceCount is filled in from the result
// cardinality so downstream code never depends on the service setting it.
func (c *Client) Analyze(ctx context.Context, frame camera.Frame) ([]liveness.FaceSignals, error) {
	reqBody := analyzeRequest{
		Width:  frame.Width,
		Height: frame.Height,
		Luma:   base64.StdEncoding.EncodeToString(frame.Luma),
		Handle: frame.Handle,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("could not marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/analyze", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("analyze request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("could not unmarshal analyze response: %w", err)
	}

	for i := range result.Faces {
		result.Faces[i].FaceCount = len(result.Faces)
	}
	return result.Faces, nil
}
