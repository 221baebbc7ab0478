package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"rangecompare/internal/series"
)

// ErrNotFound is returned when the source has no such entity
var ErrNotFound = errors.New("entity not found")

// Source supplies raw history samples for an entity over [from, to)
type Source interface {
	Fetch(ctx context.Context, entityID string, from, to time.Time) ([]series.RawSample, error)
	Name() string
}

// sortSamples orders samples chronologically, keeping the source order for equal timestamps
func sortSamples(samples []series.RawSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
}

// Call records one Fetch made against a MockSource
type Call struct {
	EntityID string
	From, To time.Time
}

// MockSource returns controllable data for development and testing.
// When Hook is set it decides every response; otherwise Samples and Err are returned.
type MockSource struct {
	Samples []series.RawSample
	Err     error
	Hook    func(ctx context.Context, call Call) ([]series.RawSample, error)

	mu    sync.Mutex
	calls []Call
}

func (m *MockSource) Name() string { return "mock" }

func (m *MockSource) Fetch(ctx context.Context, entityID string, from, to time.Time) ([]series.RawSample, error) {
	call := Call{EntityID: entityID, From: from, To: to}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	if m.Hook != nil {
		return m.Hook(ctx, call)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]series.RawSample, len(m.Samples))
	copy(out, m.Samples)
	return out, nil
}

// Calls returns the fetches made so far
func (m *MockSource) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}
