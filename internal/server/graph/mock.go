package graph

import (
	"context"
	"sync"
	"time"
)

// MockCall represents a recorded call on the mock executor.
type MockCall struct {
	Mode      string
	Query     Query
	Timestamp time.Time
}

// MockExecutor is an Executor for tests. It returns queued results in order
// and records every query it receives.
type MockExecutor struct {
	mu      sync.Mutex
	calls   []MockCall
	results []*Result
	err     error
}

// NewMockExecutor creates an empty mock executor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// QueueResult appends a result to be returned by the next call.
func (m *MockExecutor) QueueResult(r *Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
}

// QueueRecords is a shorthand for queueing a result with only records.
func (m *MockExecutor) QueueRecords(records ...map[string]any) {
	m.QueueResult(&Result{Records: records})
}

// SetError makes every subsequent call fail with err.
func (m *MockExecutor) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns a copy of the recorded calls.
func (m *MockExecutor) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ExecuteRead implements Executor.
func (m *MockExecutor) ExecuteRead(ctx context.Context, q Query) (*Result, error) {
	return m.next("read", q)
}

// ExecuteWrite implements Executor.
func (m *MockExecutor) ExecuteWrite(ctx context.Context, q Query) (*Result, error) {
	return m.next("write", q)
}

func (m *MockExecutor) next(mode string, q Query) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{Mode: mode, Query: q, Timestamp: time.Now()})

	if m.err != nil {
		return nil, m.err
	}
	if len(m.results) == 0 {
		return &Result{Records: []map[string]any{}}, nil
	}

	r := m.results[0]
	m.results = m.results[1:]
	if r.Records == nil {
		r.Records = []map[string]any{}
	}
	return r, nil
}
