package presence

import "context"

// EventKind distinguishes puts from deletes on the presence change feed.
type EventKind string

const (
	EventPut    EventKind = "put"
	EventDelete EventKind = "delete"
)

// Event describes a single mutation of the presence table.
type Event struct {
	Kind      EventKind
	SessionID string
}

// Store is the shared presence table: a keyed map with last-write-wins
// semantics per session id and a change feed. Concurrent writers on distinct
// keys never conflict; readers may observe slightly stale views, which the
// reaper reconciles.
type Store interface {
	List(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, sessionID string) (Record, bool, error)
	Put(ctx context.Context, record Record) error
	Delete(ctx context.Context, sessionID string) error
	DeleteBatch(ctx context.Context, sessionIDs []string) error
	Subscribe(ctx context.Context) (<-chan Event, func())
}
