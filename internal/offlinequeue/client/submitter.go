// Package client sends queued submissions to the relief server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"relief/internal/offlinequeue/models"
)

const (
	// SyncPath is the idempotent intake endpoint.
	SyncPath = "/beneficiaries/offline-sync"
	// HeaderOfflineID carries the queue entry id.
	HeaderOfflineID = "X-Offline-ID"

	defaultTimeout = 15 * time.Second
)

// Submitter posts entries with resty. Retries are disabled; a failed attempt
// leaves the entry pending and the queue retries it on the next pass.
type Submitter struct {
	http  *resty.Client
	token atomic.Pointer[string]
}

type Option func(*Submitter)

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(s *Submitter) { s.http.SetTimeout(d) }
}

func WithToken(token string) Option {
	return func(s *Submitter) { s.SetToken(token) }
}

func New(origin string, opts ...Option) *Submitter {
	s := &Submitter{
		http: resty.New().
			SetBaseURL(origin).
			SetTimeout(defaultTimeout).
			SetRetryCount(0).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetToken replaces the bearer token, e.g. after the user signs in again.
func (s *Submitter) SetToken(token string) {
	s.token.Store(&token)
}

func (s *Submitter) Submit(ctx context.Context, offlineID string, payload json.RawMessage) (*models.Response, error) {
	req := s.http.R().
		SetContext(ctx).
		SetHeader(HeaderOfflineID, offlineID).
		SetBody([]byte(payload))
	if t := s.token.Load(); t != nil && *t != "" {
		req.SetAuthToken(*t)
	}

	resp, err := req.Post(SyncPath)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", offlineID, err)
	}
	return &models.Response{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}
