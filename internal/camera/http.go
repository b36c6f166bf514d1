package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// reconnectDelay is the pause before re-dialing a dropped camera stream.
const reconnectDelay = time.Second

// HTTPCamera consumes the camera sidecar: an MJPEG stream over
// multipart/x-mixed-replace plus a single-shot still endpoint. It implements
// both FrameSource and Device; StopStream closes the stream connection so the
// sidecar stops encoding frames while a still is being taken.
type HTTPCamera struct {
	base   string
	client *http.Client

	mu         sync.Mutex
	cond       *sync.Cond
	streaming  bool
	stopped    bool
	cancelConn context.CancelFunc

	seq atomic.Uint64
}

// NewHTTPCamera creates a client for the camera sidecar at baseURL.
func NewHTTPCamera(baseURL string) *HTTPCamera {
	c := &HTTPCamera{
		base: baseURL,
		// No global timeout: the stream connection is long-lived.
		client: &http.Client{},
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start opens the frame stream and delivers frames until Stop. The reader
// survives dropped connections; only Stop ends it.
func (c *HTTPCamera) Start(ctx context.Context, deliver func(Frame)) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("camera already stopped")
	}
	c.streaming = true
	c.mu.Unlock()

	// Probe the sidecar before committing to the background reader, so a
	// dead camera fails the session start instead of spinning silently.
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("camera sidecar unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("camera sidecar unhealthy: status %d", resp.StatusCode)
	}

	go c.readLoop(ctx, deliver)
	return nil
}

// Stop permanently ends frame delivery.
func (c *HTTPCamera) Stop() error {
	c.mu.Lock()
	c.stopped = true
	if c.cancelConn != nil {
		c.cancelConn()
	}
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

// StartStream resumes frame delivery after StopStream.
func (c *HTTPCamera) StartStream() error {
	c.mu.Lock()
	c.streaming = true
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

// StopStream pauses frame delivery by closing the stream connection.
func (c *HTTPCamera) StopStream() error {
	c.mu.Lock()
	c.streaming = false
	if c.cancelConn != nil {
		c.cancelConn()
	}
	c.mu.Unlock()
	return nil
}

// TakePicture asks the sidecar for a full-resolution still. The sidecar
// stores it locally and answers with the file handle.
func (c *HTTPCamera) TakePicture(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/still", nil)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("still capture failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("could not unmarshal response: %w", err)
	}
	if result.Handle == "" {
		return "", fmt.Errorf("still capture returned no handle")
	}
	return result.Handle, nil
}

// waitStreaming blocks until the stream should run. Returns false when the
// camera is permanently stopped.
func (c *HTTPCamera) waitStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.streaming && !c.stopped {
		c.cond.Wait()
	}
	return !c.stopped
}

func (c *HTTPCamera) readLoop(ctx context.Context, deliver func(Frame)) {
	for c.waitStreaming() {
		if ctx.Err() != nil {
			return
		}
		if err := c.readStream(ctx, deliver); err != nil {
			c.mu.Lock()
			retrying := c.streaming && !c.stopped
			c.mu.Unlock()
			if retrying {
				time.Sleep(reconnectDelay)
			}
		}
	}
}

// readStream opens one stream connection and delivers its frames until the
// connection drops or the stream is paused.
func (c *HTTPCamera) readStream(ctx context.Context, deliver func(Frame)) error {
	connCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelConn = cancel
	c.mu.Unlock()
	defer cancel()

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, c.base+"/stream", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" {
		return fmt.Errorf("unexpected stream content type %q", resp.Header.Get("Content-Type"))
	}

	reader := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := reader.NextPart()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return err
		}

		luma, width, height, err := DecodeLuma(data)
		if err != nil {
			// Corrupt frame, keep the stream alive.
			continue
		}
		deliver(Frame{
			Seq:       c.seq.Add(1),
			Timestamp: time.Now(),
			Width:     width,
			Height:    height,
			Luma:      luma,
		})
	}
}
