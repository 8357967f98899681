// Package store persists queue entries on the device.
package store

import (
	"context"
	"fmt"
	"sync"

	"relief/internal/offlinequeue/models"
	"relief/pkg/platform/sentinel"
)

// InMemory keeps entries in insertion order. Used in tests and as a scratch queue
// when no database path is configured.
type InMemory struct {
	mu      sync.RWMutex
	entries []models.Entry
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(_ context.Context, e models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.entries {
		if existing.ID == e.ID {
			return fmt.Errorf("append entry %s: %w", e.ID, sentinel.ErrConflict)
		}
	}
	s.entries = append(s.entries, copyEntry(e))
	return nil
}

func (s *InMemory) List(_ context.Context) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = copyEntry(e)
	}
	return out, nil
}

func (s *InMemory) Update(_ context.Context, e models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == e.ID {
			s.entries[i] = copyEntry(e)
			return nil
		}
	}
	return fmt.Errorf("update entry %s: %w", e.ID, sentinel.ErrNotFound)
}

// Delete is idempotent.
func (s *InMemory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func copyEntry(e models.Entry) models.Entry {
	e.Payload = append([]byte(nil), e.Payload...)
	return e
}
