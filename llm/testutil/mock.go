// Package testutil provides test utilities for the llm package.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/braindump/llm"
)

// MockCompleter is a thread-safe scripted llm.Completer.
// Each call consumes the next step; when the script runs out the last step repeats.
//
//	mock := &MockCompleter{
//	    Steps: []Step{
//	        {Content: "not json"},
//	        {Content: `{"result": "ok"}`},
//	    },
//	}
type MockCompleter struct {
	mu       sync.Mutex
	Steps    []Step
	Err      error // Returned by every call when set
	requests []llm.Request
	ctx      context.Context
}

// Step is one scripted answer.
type Step struct {
	Content string
	Model   string
	Err     error
}

// Complete implements llm.Completer.
func (m *MockCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ctx = ctx
	m.requests = append(m.requests, req)

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Steps) == 0 {
		return &llm.Response{Content: "", Model: "test-model"}, nil
	}

	idx := len(m.requests) - 1
	if idx >= len(m.Steps) {
		idx = len(m.Steps) - 1
	}
	step := m.Steps[idx]
	if step.Err != nil {
		return nil, step.Err
	}

	modelName := step.Model
	if modelName == "" {
		modelName = "test-model"
	}
	return &llm.Response{Content: step.Content, Model: modelName}, nil
}

// Calls returns the number of times Complete was called.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *MockCompleter) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastContext returns the context passed to the most recent call.
func (m *MockCompleter) LastContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// Reset clears recorded calls.
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.ctx = nil
}
