package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockTransport is a scriptable Transport for tests. Responses are keyed by
// "METHOD url-prefix"; the longest matching prefix wins.
type MockTransport struct {
	mu        sync.Mutex
	responses map[string]mockResponse
	calls     []string
	token     string

	// PingErr is returned by Ping when set.
	PingErr error
}

type mockResponse struct {
	body   []byte
	status int
	err    error
}

// NewMockTransport creates an empty mock.
func NewMockTransport() *MockTransport {
	return &MockTransport{responses: make(map[string]mockResponse)}
}

// Respond scripts a JSON response for calls matching "METHOD urlPrefix".
func (m *MockTransport) Respond(key string, body interface{}) {
	data, _ := json.Marshal(body)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = mockResponse{body: data, status: 200}
}

// RespondRaw scripts raw bytes.
func (m *MockTransport) RespondRaw(key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = mockResponse{body: body, status: 200}
}

// Fail scripts an error.
func (m *MockTransport) Fail(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = mockResponse{err: err}
}

// Calls returns the recorded "METHOD url" strings in order.
func (m *MockTransport) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockTransport) lookup(method, url string) (mockResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method+" "+url)

	var best string
	full := method + " " + url
	for key := range m.responses {
		if len(key) > len(best) && matchesPrefix(full, key) {
			best = key
		}
	}
	if best == "" {
		return mockResponse{}, fmt.Errorf("no scripted response for %s", full)
	}
	return m.responses[best], nil
}

func matchesPrefix(full, key string) bool {
	return len(full) >= len(key) && full[:len(key)] == key
}

// GetJSON returns the scripted body decoded into result.
func (m *MockTransport) GetJSON(ctx context.Context, url string, result interface{}) error {
	return m.doJSON("GET", url, result)
}

// PostJSON returns the scripted body decoded into result.
func (m *MockTransport) PostJSON(ctx context.Context, url string, body, result interface{}) error {
	return m.doJSON("POST", url, result)
}

// PatchJSON returns the scripted body decoded into result.
func (m *MockTransport) PatchJSON(ctx context.Context, url string, body, result interface{}) error {
	return m.doJSON("PATCH", url, result)
}

func (m *MockTransport) doJSON(method, url string, result interface{}) error {
	resp, err := m.lookup(method, url)
	if err != nil {
		return err
	}
	if resp.err != nil {
		return resp.err
	}
	if result != nil && len(resp.body) > 0 {
		return json.Unmarshal(resp.body, result)
	}
	return nil
}

// UploadBytes consumes the scripted response for PATCH uploads.
func (m *MockTransport) UploadBytes(ctx context.Context, url string, data []byte) error {
	resp, err := m.lookup("UPLOAD", url)
	if err != nil {
		return err
	}
	return resp.err
}

// DownloadBytes returns the scripted raw body.
func (m *MockTransport) DownloadBytes(ctx context.Context, url string) ([]byte, error) {
	resp, err := m.lookup("GET", url)
	if err != nil {
		return nil, err
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return resp.body, nil
}

// Delete consumes the scripted response.
func (m *MockTransport) Delete(ctx context.Context, url string) (int, error) {
	resp, err := m.lookup("DELETE", url)
	if err != nil {
		return 0, err
	}
	if resp.err != nil {
		return resp.status, resp.err
	}
	if resp.status == 0 {
		return 200, nil
	}
	return resp.status, nil
}

// SetToken stores the bearer token.
func (m *MockTransport) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// GetToken returns the stored token.
func (m *MockTransport) GetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Ping returns PingErr.
func (m *MockTransport) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op.
func (m *MockTransport) Close() error {
	return nil
}
