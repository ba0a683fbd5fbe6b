package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockProviderName = "mock"

// MockOCRProvider is an OCRProvider for testing.
type MockOCRProvider struct {
	// Configurable behavior
	Latency      time.Duration
	ResponseText string

	// FailPages makes ProcessImage return the given error for those page numbers.
	FailPages map[int]error

	// Respond, when set, overrides ResponseText and FailPages.
	Respond func(req *OCRRequest) (string, error)

	// State
	requestCount atomic.Int64
	mu           sync.Mutex
	requests     []OCRRequest
}

// NewMockOCRProvider creates a new mock provider with sensible defaults.
func NewMockOCRProvider() *MockOCRProvider {
	return &MockOCRProvider{
		ResponseText: "mock response",
		FailPages:    make(map[int]error),
	}
}

// Name returns the provider identifier.
func (m *MockOCRProvider) Name() string {
	return MockProviderName
}

// ProcessImage records the request and returns the configured response.
func (m *MockOCRProvider) ProcessImage(ctx context.Context, req *OCRRequest) (*OCRResult, error) {
	start := time.Now()
	count := m.requestCount.Add(1)
	requestID := fmt.Sprintf("mock-%d", count)

	m.mu.Lock()
	m.requests = append(m.requests, *req)
	m.mu.Unlock()

	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			err := &RequestError{Err: ctx.Err()}
			return failed(requestID, start, err), err
		case <-time.After(m.Latency):
		}
	}

	var (
		text string
		err  error
	)
	switch {
	case m.Respond != nil:
		text, err = m.Respond(req)
	case m.FailPages[req.PageNum] != nil:
		err = m.FailPages[req.PageNum]
	default:
		text = m.ResponseText
	}
	if err != nil {
		return failed(requestID, start, err), err
	}

	return &OCRResult{
		Success:       true,
		Text:          text,
		RequestID:     requestID,
		ExecutionTime: time.Since(start),
	}, nil
}

// RequestCount returns the number of ProcessImage calls.
func (m *MockOCRProvider) RequestCount() int64 {
	return m.requestCount.Load()
}

// Requests returns a copy of every request received, in arrival order.
func (m *MockOCRProvider) Requests() []OCRRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OCRRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Verify interface
var _ OCRProvider = (*MockOCRProvider)(nil)
