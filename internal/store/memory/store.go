// Package memory provides an in-memory analysis store for tests and
// single-process development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dean-Rough/xray2/internal/analysis"
)

// Store is a mutex-guarded map keyed by analysis ID.
type Store struct {
	mu    sync.RWMutex
	rows  map[string]analysis.Analysis
	clock analysis.Clock
}

// New creates an empty Store.
func New(clock analysis.Clock) *Store {
	return &Store{rows: make(map[string]analysis.Analysis), clock: clock}
}

// Create inserts a new analysis. The ID must be unused.
func (s *Store) Create(_ context.Context, a analysis.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[a.ID]; exists {
		return fmt.Errorf("analysis %s already exists", a.ID)
	}
	s.rows[a.ID] = a
	return nil
}

// Get returns the analysis with the given ID.
func (s *Store) Get(_ context.Context, id string) (analysis.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.rows[id]
	if !ok {
		return analysis.Analysis{}, analysis.ErrNotFound
	}
	return a, nil
}

// SetStatus applies a checkpoint transition, enforcing the lifecycle edges.
// COMPLETED is only accepted together with a result carrying the package
// descriptor.
func (s *Store) SetStatus(_ context.Context, id string, status analysis.Status, result *analysis.Result, errText string, processingTime float64) (analysis.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return analysis.Analysis{}, analysis.ErrNotFound
	}
	if !a.Status.CanTransition(status) {
		return analysis.Analysis{}, fmt.Errorf("illegal transition %s -> %s for analysis %s", a.Status, status, id)
	}
	if status == analysis.StatusCompleted && (result == nil || result.Package == nil) {
		return analysis.Analysis{}, fmt.Errorf("analysis %s cannot complete without a package descriptor", id)
	}
	a.Status = status
	if result != nil {
		a.Result = *result
	}
	a.Error = errText
	if processingTime > 0 {
		a.ProcessingTime = processingTime
	}
	a.UpdatedAt = s.clock.Now().UTC()
	s.rows[id] = a
	return a, nil
}

// ListByStatus returns analyses whose status is in the given set, newest
// first. An empty set returns everything.
func (s *Store) ListByStatus(_ context.Context, statuses []analysis.Status) ([]analysis.Analysis, error) {
	want := make(map[analysis.Status]struct{}, len(statuses))
	for _, st := range statuses {
		want[st] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []analysis.Analysis
	for _, a := range s.rows {
		if len(want) > 0 {
			if _, ok := want[a.Status]; !ok {
				continue
			}
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes an analysis.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return analysis.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

// PurgeTerminal deletes COMPLETED and FAILED analyses last updated before the
// cutoff and reports how many were removed.
func (s *Store) PurgeTerminal(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, a := range s.rows {
		if a.Status.Terminal() && a.UpdatedAt.Before(cutoff) {
			delete(s.rows, id)
			removed++
		}
	}
	return removed, nil
}
