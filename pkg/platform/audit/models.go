// Package audit records who changed the registry and how. Events are appended to a
// Store; the server uses a Kafka-backed store when brokers are configured and a
// log-backed one otherwise.
package audit

import (
	"context"
	"time"
)

// Action names a registry change.
type Action string

const (
	ActionBeneficiaryCreated Action = "beneficiary_created"
	ActionBeneficiarySynced  Action = "beneficiary_synced"
	ActionBeneficiaryDeleted Action = "beneficiary_deleted"
	ActionDuplicateMarked    Action = "duplicate_marked"
	ActionDuplicateUnmarked  Action = "duplicate_unmarked"
	ActionRecordsMerged      Action = "records_merged"
	ActionBulkMergeCompleted Action = "bulk_merge_completed"
	ActionRegistryExported   Action = "registry_exported"
)

// Event is transport-agnostic so stores can fan out.
type Event struct {
	ID        string         `json:"id"`
	Action    Action         `json:"action"`
	Subject   string         `json:"subject"`
	ActorID   string         `json:"actor_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store persists or forwards events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
