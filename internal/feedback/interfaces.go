package feedback

import (
	"context"
	"time"
)

// Datastore persists submissions and exposes the rows the analysis pipeline fills in.
type Datastore interface {
	// Insert creates a row for url and returns its correlation id.
	Insert(ctx context.Context, url string, email *string) (string, error)
	// SelectByID reads one row. The int is the transport status of the read,
	// zero when the backend has no such notion.
	SelectByID(ctx context.Context, id string) (Record, int, error)
}

// Notifier triggers the external analysis pipeline.
type Notifier interface {
	// Notify returns a human readable acknowledgement on success.
	Notify(ctx context.Context, n Notification) (string, error)
}

// KV is one client-side storage tier.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Timer is a pending callback scheduled on a Clock.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so state machines can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// IDGenerator produces identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
