package llm

import (
	"context"
	"sync"
)

// MockClient is a scriptable completion client for tests. It records every
// conversation it receives and returns a canned response.
type MockClient struct {
	mu        sync.Mutex
	response  string
	err       error
	conversed [][]Message
}

// NewMockClient returns a client that always answers with response.
func NewMockClient(response string) *MockClient {
	return &MockClient{response: response}
}

// Fail makes subsequent Complete calls return err.
func (m *MockClient) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Complete records the conversation and returns the canned response.
func (m *MockClient) Complete(ctx context.Context, messages []Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	copied := make([]Message, len(messages))
	copy(copied, messages)
	m.conversed = append(m.conversed, copied)
	return m.response, nil
}

// Calls returns how many completions were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversed)
}

// LastMessages returns the most recent conversation, or nil.
func (m *MockClient) LastMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.conversed) == 0 {
		return nil
	}
	return m.conversed[len(m.conversed)-1]
}
