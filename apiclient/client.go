// Package apiclient talks to the REST API of a site under test.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ProcessMaker/testbench/logger"
	"github.com/ProcessMaker/testbench/pkg/metrics"
	"github.com/ProcessMaker/testbench/site"
)

const (
	DefaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of a failed response is kept for the error.
	maxErrorBody = 64 * 1024
)

// APIError is returned for responses with a non-2xx status.
type APIError struct {
	Method  string
	URL     string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.URL, e.Status, e.Message)
}

// Client sends bearer-authenticated JSON requests relative to a base URL.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New returns a client for s. A zero timeout uses DefaultTimeout.
func New(s site.Site, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(s.URL, "/"),
		token:      s.BearerToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Get sends a GET for path and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Put sends body as JSON and decodes the JSON response into out.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

// Do sends a request. body is encoded as JSON when non-nil; out may be nil
// to discard the response.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	url := c.baseURL + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APIRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(method, metrics.StatusClass(0)).Inc()
		logger.Error("API request failed", "method", method, "url", url, "status", "NO_RESPONSE", "error", err)
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	metrics.APIRequestsTotal.WithLabelValues(method, metrics.StatusClass(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			Method:  method,
			URL:     url,
			Status:  resp.StatusCode,
			Message: ErrorMessage(raw),
		}
		logger.Error("API request failed", "method", method, "url", url,
			"status", strconv.Itoa(resp.StatusCode)+" "+http.StatusText(resp.StatusCode),
			"response", apiErr.Message)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s %s: %w", method, url, err)
	}
	return nil
}

// ErrorMessage extracts a human readable message from an error response
// body, trying the message, error and detail fields before falling back to
// the body itself.
func ErrorMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "No response message available"
	}

	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return string(trimmed)
	}
	for _, key := range []string{"message", "error", "detail"} {
		if msg := messageText(obj[key]); msg != "" {
			return msg
		}
	}
	return string(trimmed)
}

func messageText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if !t {
			return ""
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
