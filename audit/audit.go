package audit

import (
	"context"
	"time"
)

// GenesisHash is the previousHash of the first entry of every chain segment.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// PlaceholderIP is stored instead of the caller address when IP capture is off.
const PlaceholderIP = "unknown"

type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorAPI    ActorType = "api"
	ActorSystem ActorType = "system"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Actor identifies who performed the action.
type Actor struct {
	ID   string    `json:"id" validate:"required"`
	Type ActorType `json:"type" validate:"required,oneof=user api system"`
}

// Target identifies the resource the action touched.
type Target struct {
	ID   string `json:"id" validate:"required"`
	Type string `json:"type" validate:"required"`
}

// Event is what callers hand to the Recorder once an action has completed.
// Events carry no timestamp; the Recorder stamps entries at append time.
type Event struct {
	Actor          Actor   `json:"actor"`
	Action         Action  `json:"action" validate:"required"`
	Target         *Target `json:"target,omitempty" validate:"omitempty"`
	OrganizationID string  `json:"organizationId" validate:"required"`
	Status         Status  `json:"status" validate:"required,oneof=success failure"`
	Changes        Changes `json:"changes,omitempty"`
	IPAddress      string  `json:"ipAddress,omitempty" validate:"omitempty,max=64"`
	APIURL         string  `json:"apiUrl,omitempty" validate:"omitempty,max=2048"`
	EventID        string  `json:"eventId,omitempty" validate:"omitempty,max=128"`
}

// Entry is a persisted, chained audit record. Entries are immutable once appended.
type Entry struct {
	ChainID        string    `json:"chainId"`
	Sequence       uint64    `json:"sequence"`
	Timestamp      time.Time `json:"timestamp"`
	Actor          Actor     `json:"actor"`
	Action         Action    `json:"action"`
	Target         *Target   `json:"target,omitempty"`
	OrganizationID string    `json:"organizationId"`
	Status         Status    `json:"status"`
	Changes        Changes   `json:"changes,omitempty"`
	IPAddress      string    `json:"ipAddress"`
	APIURL         string    `json:"apiUrl,omitempty"`
	EventID        string    `json:"eventId,omitempty"`
	IntegrityHash  string    `json:"integrityHash"`
	PreviousHash   string    `json:"previousHash"`
	ChainStart     bool      `json:"chainStart"`
}

// Store is the append-only durable log.
type Store interface {
	Append(ctx context.Context, entry Entry) error
}

// Reader returns stored entries of one chain ordered by sequence,
// starting strictly after afterSequence.
type Reader interface {
	ReadChain(ctx context.Context, chainID string, afterSequence uint64, limit int) ([]Entry, error)
}

// Sink receives every entry after it has been durably appended.
type Sink interface {
	Emit(ctx context.Context, entry Entry) error
}

// NoopSink is for dev/testing.
type NoopSink struct{}

func (NoopSink) Emit(context.Context, Entry) error {
	return nil
}

// ChainFor returns the chain an event belongs to. Every organization owns one chain.
func ChainFor(e Event) string {
	return e.OrganizationID
}
