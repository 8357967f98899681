// Package models holds the on-device queue entry and the outcome of submitting it.
package models

import (
	"encoding/json"
	"time"
)

// Status of a queued entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Entry is one submission captured while offline. ID doubles as the X-Offline-ID
// header so the server can recognise a replay.
type Entry struct {
	ID            string          `json:"id"`
	QueuedAt      time.Time       `json:"queued_at"`
	Status        Status          `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Response is what the server answered for one submission.
type Response struct {
	StatusCode int
	Body       []byte
}

// Outcome classifies a submission attempt.
type Outcome int

const (
	OutcomeTransient Outcome = iota
	OutcomeAccepted
	OutcomeRejected
	OutcomeAuthExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeAuthExpired:
		return "auth_expired"
	default:
		return "transient"
	}
}

// NoticeKind mirrors the banner colour the field UI shows.
type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is a user-facing message about queue activity.
type Notice struct {
	Text string     `json:"text"`
	Kind NoticeKind `json:"kind"`
}
