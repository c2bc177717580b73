// Package httputil holds the JSON response helpers of the HTTP surface and
// a small client for reading it back.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// HTTPClient abstracts HTTP operations for testability.
// Use http.DefaultClient or *http.Client for production; MockHTTPClient for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned by GetJSON for non-2xx responses.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Msg)
}

// GetJSON fetches url and decodes the JSON body into v. Error bodies in the
// {"error": "..."} shape written by WriteJSONError are surfaced in the
// StatusError.
func GetJSON(ctx context.Context, c HTTPClient, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body)
		return &StatusError{Code: resp.StatusCode, Msg: body.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// MockHTTPClient provides a testable HTTP client implementation.
type MockHTTPClient struct {
	mu           sync.Mutex
	Requests     []*http.Request
	Responses    []*MockResponse
	responseIdx  int
	DefaultError error
}

// MockResponse defines a canned HTTP response for testing.
type MockResponse struct {
	StatusCode int
	Body       string
	Error      error
}

// NewMockHTTPClient creates a new mock HTTP client.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a response to be returned by subsequent requests.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &MockResponse{StatusCode: statusCode, Body: body})
	return m
}

// AddErrorResponse queues a transport error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &MockResponse{Error: err})
	return m
}

// Do records the request and returns the next queued response, or an
// empty 200 once the queue is spent.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	resp := &MockResponse{StatusCode: http.StatusOK}
	if m.responseIdx < len(m.Responses) {
		resp = m.Responses[m.responseIdx]
		m.responseIdx++
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return &http.Response{
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(bytes.NewBufferString(resp.Body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
