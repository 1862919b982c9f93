package relay

import (
	"time"

	"github.com/dkovar/sale-relay/internal/model"
	"github.com/dkovar/sale-relay/internal/target"
)

// Config holds orchestrator configuration.
type Config struct {
	// RetryAttempts is the number of extra attempts per failed field-sync
	// call before the field is reported as Failed. Purchases are never
	// retried: a one-shot action must not be duplicated.
	RetryAttempts int

	// RetryBackoff is the first retry delay, doubled per attempt.
	RetryBackoff time.Duration

	// CallTimeout bounds a single downstream call.
	CallTimeout time.Duration

	// EventBuffer is the capacity of the inbound event queue.
	EventBuffer int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RetryAttempts: 2,
		RetryBackoff:  500 * time.Millisecond,
		CallTimeout:   30 * time.Second,
		EventBuffer:   1000,
	}
}

// State is the sync state of one tracked field.
type State int

const (
	// StateSynced: cached snapshot matches the last confirmed downstream
	// state on every target.
	StateSynced State = iota
	// StatePending: a sync call is in flight.
	StatePending
	// StateFailed: the last sync call errored on at least one target.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSynced:
		return "synced"
	case StatePending:
		return "pending"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Stats contains orchestrator counters.
type Stats struct {
	EventsProcessed   int64
	SyncCalls         int64
	SyncConfirmed     int64
	SyncFailed        int64
	Skipped           int64
	PurchasesRelayed  int64
	PurchasesRejected int64
}

// RecordKind classifies journal records.
type RecordKind string

const (
	RecordSync     RecordKind = "sync"
	RecordPurchase RecordKind = "purchase"
	RecordReject   RecordKind = "reject"
)

// Record is one audit entry describing a relay decision.
type Record struct {
	At      time.Time
	Kind    RecordKind
	Field   model.Field // sync records only
	Target  string
	Value   string
	Receipt string
	Detail  string // error text or reject reason
}

// Recorder persists relay decisions. Implementations must not block and
// must be safe for concurrent use; a nil Recorder disables journaling.
type Recorder interface {
	Record(rec Record)
}

// snapshot holds the last confirmed field values.
type snapshot struct {
	window       model.SaleWindow
	windowKnown  bool
	balance      string
	balanceKnown bool
}

// fieldValue carries the payload of a field sync; only the member matching
// the field is meaningful.
type fieldValue struct {
	window  model.SaleWindow
	balance string
}

// fieldState is the per-field state machine.
type fieldState struct {
	state    State
	inflight bool

	// deferred holds the newest value observed while a sync was in
	// flight; it is re-evaluated once the operation completes, so an
	// in-flight operation can never be corrupted by a newer event.
	deferred *model.Event
}

// pendingOp tracks one in-flight fanout across all targets.
type pendingOp struct {
	value     fieldValue
	remaining int
	failed    int
}

// syncResult is a single target's confirmation or failure.
type syncResult struct {
	field   model.Field
	target  string
	receipt target.Receipt
	err     error
}
