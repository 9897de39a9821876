// Package scheduler holds the durable timers that resume suspended executions
// and the cron registry that fires scheduled workflow triggers.
package scheduler

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// TimerKind names why a timer exists.
type TimerKind string

const (
	TimerDelay           TimerKind = "delay"
	TimerApprovalTimeout TimerKind = "approval_timeout"
	TimerResume          TimerKind = "resume"
)

// Timer is a persisted wake-up for a suspended execution.
type Timer struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	Kind        TimerKind `json:"kind"`
	DueAt       time.Time `json:"due_at"`
	ApprovalID  string    `json:"approval_id,omitempty"`
}

// Store keeps timers until they are due. Removing an unknown timer is not an error.
type Store interface {
	Schedule(ctx context.Context, timer *Timer) error
	// Due returns up to limit timers with DueAt <= now, earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*Timer, error)
	Remove(ctx context.Context, id string) error
	RemoveForExecution(ctx context.Context, executionID string) error
}

func compareTimers(a, b *Timer) int {
	if c := a.DueAt.Compare(b.DueAt); c != 0 {
		return c
	}

	return cmp.Compare(a.ID, b.ID)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	timers map[string]Timer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{timers: make(map[string]Timer)}
}

func (m *MemoryStore) Schedule(_ context.Context, timer *Timer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timers[timer.ID] = *timer

	return nil
}

func (m *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]*Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]*Timer, 0)

	for _, timer := range m.timers {
		if !timer.DueAt.After(now) {
			due = append(due, &timer)
		}
	}

	slices.SortFunc(due, compareTimers)

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (m *MemoryStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.timers, id)

	return nil
}

func (m *MemoryStore) RemoveForExecution(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, timer := range m.timers {
		if timer.ExecutionID == executionID {
			delete(m.timers, id)
		}
	}

	return nil
}

// Pending returns every stored timer, earliest first.
func (m *MemoryStore) Pending() []*Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	timers := make([]*Timer, 0, len(m.timers))
	for _, timer := range m.timers {
		timers = append(timers, &timer)
	}

	slices.SortFunc(timers, compareTimers)

	return timers
}
