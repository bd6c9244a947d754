package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/TheMichaelB/drivesync/internal/config"
	"github.com/TheMichaelB/drivesync/internal/events"
	"github.com/TheMichaelB/drivesync/internal/models"
)

// HTTPClient implements Transport over net/http.
type HTTPClient struct {
	client    *http.Client
	pingURL   string
	userAgent string
	logger    *events.Logger

	// mu guards token; the auth service renews it concurrently with
	// in-flight requests.
	mu    sync.Mutex
	token string

	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		pingURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
		logger:     logger.WithField("component", "http_client"),
	}
}

// SetToken sets the authentication token.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// GetToken returns the current authentication token.
func (c *HTTPClient) GetToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, out interface{}) error {
	body, _, err := c.do(ctx, "GET", url, nil, "")
	if err != nil {
		return err
	}
	return decodeJSON(body, out)
}

// PostJSON issues a POST with a JSON body.
func (c *HTTPClient) PostJSON(ctx context.Context, url string, payload, out interface{}) error {
	body, err := marshalBody(payload)
	if err != nil {
		return err
	}
	respBody, _, err := c.do(ctx, "POST", url, body, "application/json")
	if err != nil {
		return err
	}
	return decodeJSON(respBody, out)
}

// PatchJSON issues a PATCH with a JSON body.
func (c *HTTPClient) PatchJSON(ctx context.Context, url string, payload, out interface{}) error {
	body, err := marshalBody(payload)
	if err != nil {
		return err
	}
	respBody, _, err := c.do(ctx, "PATCH", url, body, "application/json")
	if err != nil {
		return err
	}
	return decodeJSON(respBody, out)
}

// UploadBytes replaces object content with a raw PATCH body.
func (c *HTTPClient) UploadBytes(ctx context.Context, url string, data []byte) error {
	_, _, err := c.do(ctx, "PATCH", url, data, "application/octet-stream")
	return err
}

// DownloadBytes fetches raw content.
func (c *HTTPClient) DownloadBytes(ctx context.Context, url string) ([]byte, error) {
	body, _, err := c.do(ctx, "GET", url, nil, "")
	return body, err
}

// Delete issues a DELETE, returning the status code for 404 handling.
func (c *HTTPClient) Delete(ctx context.Context, url string) (int, error) {
	_, status, err := c.do(ctx, "DELETE", url, nil, "")
	return status, err
}

// Ping checks host reachability with a short deadline. An HTTP error status
// still proves the network path works.
func (c *HTTPClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.pingURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return nil
}

// Close releases resources.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// do runs one request with retries for throttling and server errors.
// Network failures are returned immediately so the caller can flip offline
// without waiting out a backoff loop.
func (c *HTTPClient) do(ctx context.Context, method, url string, body []byte, contentType string) ([]byte, int, error) {
	op := method + " " + trimQuery(url)
	delay := c.retryDelay

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
				"op":      op,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return nil, 0, &models.RemoteOperationError{Op: op, Err: ctx.Err()}
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, 0, &models.RemoteOperationError{Op: op, Err: err}
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if token := c.GetToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, 0, &models.RemoteOperationError{Op: op, Err: err}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, &models.RemoteOperationError{Op: op, Err: readErr}
		}

		if isRetryable(resp.StatusCode) {
			lastErr = &models.RemoteOperationError{
				Op:         op,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("server error: %s", truncate(respBody)),
			}
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return nil, resp.StatusCode, &models.RemoteOperationError{
				Op:         op,
				StatusCode: resp.StatusCode,
				Err:        models.ErrRemoteNotFound,
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, resp.StatusCode, &models.RemoteOperationError{
				Op:         op,
				StatusCode: resp.StatusCode,
				Err:        errors.New(truncate(respBody)),
			}
		}

		return respBody, resp.StatusCode, nil
	}

	return nil, 0, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}

func marshalBody(payload interface{}) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

func decodeJSON(body []byte, out interface{}) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}

func trimQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
