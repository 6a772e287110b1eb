package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockTransport is a mock implementation of Transport for testing
type MockTransport struct {
	mu sync.Mutex

	// Behavior configuration
	StartErr         error
	RequestErr       error
	NotificationErr  error
	ResponseDelay    time.Duration
	RequestResponses map[string]interface{} // method -> response

	// State tracking
	Started       bool
	Closed        bool
	SentRequests  []MockRequest
	Notifications []string
}

// MockRequest records a request sent through the transport
type MockRequest struct {
	Method string
	Params interface{}
}

// NewMockTransport creates a mock that answers initialize like a real server
func NewMockTransport() *MockTransport {
	m := &MockTransport{RequestResponses: make(map[string]interface{})}
	m.SetResponse("initialize", map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
		"serverInfo": map[string]interface{}{
			"name":    "tts-server",
			"version": "1.0.0",
		},
	})
	return m
}

func (m *MockTransport) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return m.StartErr
	}
	m.Started = true
	return nil
}

func (m *MockTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	m.mu.Lock()
	m.SentRequests = append(m.SentRequests, MockRequest{Method: method, Params: params})
	delay := m.ResponseDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RequestErr != nil {
		return nil, m.RequestErr
	}
	if resp, ok := m.RequestResponses[method]; ok {
		data, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal mock response: %w", err)
		}
		return data, nil
	}
	return json.RawMessage(`{}`), nil
}

func (m *MockTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notifications = append(m.Notifications, method)
	return m.NotificationErr
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SetResponse configures a response for a specific method
func (m *MockTransport) SetResponse(method string, response interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestResponses[method] = response
}

// SetRequestErr makes every following request fail with err
func (m *MockTransport) SetRequestErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestErr = err
}

// LastRequest returns the most recent request
func (m *MockTransport) LastRequest() (MockRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.SentRequests) == 0 {
		return MockRequest{}, false
	}
	return m.SentRequests[len(m.SentRequests)-1], true
}

func textResult(text string, isError bool) map[string]interface{} {
	return map[string]interface{}{
		"content": []map[string]interface{}{{"type": "text", "text": text}},
		"isError": isError,
	}
}
