package estimate

import (
	"context"
	"sync"
)

// MockEstimator is a test double for Estimator.
// If EstimateFunc is not set, Estimate returns a fixed Medium-confidence
// result. Thread-safe for use in concurrent tests.
type MockEstimator struct {
	EstimateFunc func(ctx context.Context, sub Submission) (*Result, error)

	mu sync.Mutex

	// Calls records every submission passed to Estimate
	Calls []Submission
}

var _ Estimator = (*MockEstimator)(nil)

func (m *MockEstimator) Estimate(ctx context.Context, sub Submission) (*Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, sub)
	fn := m.EstimateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, sub)
	}
	return &Result{
		ItemName:       "Mock Item",
		EstimatedPrice: 10,
		PriceRange:     "$5 - $15",
		Confidence:     ConfidenceMedium,
		Reasoning:      "mock estimate",
	}, nil
}

// CallCount returns the number of Estimate calls so far.
func (m *MockEstimator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
