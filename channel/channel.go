// Package channel provides the shared, origin-scoped slot that sibling
// execution contexts use to coordinate session state. The slot holds at
// most one Record at a time (last-write-wins, not a log); conflict
// resolution is the caller's job and is driven purely by Record.Sequence.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable indicates the underlying shared store cannot be read or
// written. Callers are expected to degrade to single-context operation.
var ErrUnavailable = errors.New("shared channel unavailable")

// Record is the wire representation of the last session transition
// published to the channel. PrincipalID is empty for logout records so a
// context opened after logout never observes a stale authenticated
// identity.
type Record struct {
	Sequence    uint64    `json:"sequence"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	PrincipalID string    `json:"principal_id,omitempty"`
}

// Channel is a single mutable slot shared by sibling contexts. Writers do
// not lock the slot; last-write-wins is tolerated and resolved by the
// sequence rule at the session store.
type Channel interface {
	// Load returns the current record. ok is false when the slot is empty.
	Load() (rec Record, ok bool, err error)
	// Store overwrites the slot with rec.
	Store(rec Record) error
	// Clear empties the slot.
	Clear() error
	// Watch registers fn to be called for writes made by other contexts.
	// By construction fn never fires for this context's own writes.
	// The returned cancel func is idempotent.
	Watch(fn func(Record)) (cancel func(), err error)
	// Close releases watchers and any underlying resources. Idempotent.
	Close() error
}

// Encode serializes a record for the slot.
func Encode(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding channel record: %w", err)
	}
	return data, nil
}

// Decode parses a record previously produced by Encode.
func Decode(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decoding channel record: %w", err)
	}
	return rec, nil
}
