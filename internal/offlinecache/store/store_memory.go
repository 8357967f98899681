// Package store holds cached responses for the offline proxy.
package store

import (
	"context"
	"sort"
	"sync"

	"relief/internal/offlinecache/models"
	"relief/pkg/platform/sentinel"
)

type InMemory struct {
	mu     sync.RWMutex
	caches map[string]map[string]models.CachedResponse
}

func NewInMemory() *InMemory {
	return &InMemory{caches: make(map[string]map[string]models.CachedResponse)}
}

func (s *InMemory) Get(_ context.Context, cache, url string) (*models.CachedResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.caches[cache][url]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	entry.Body = append([]byte(nil), entry.Body...)
	return &entry, nil
}

// Put overwrites any previous entry for the same URL.
func (s *InMemory) Put(_ context.Context, resp models.CachedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[resp.Cache]
	if !ok {
		c = make(map[string]models.CachedResponse)
		s.caches[resp.Cache] = c
	}
	resp.Body = append([]byte(nil), resp.Body...)
	c[resp.URL] = resp
	return nil
}

func (s *InMemory) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *InMemory) Drop(_ context.Context, cache string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.caches, cache)
	return nil
}
