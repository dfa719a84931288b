// Package store persists assignments and live bus positions.
//
// Two backends implement the same contract: KV over a NATS JetStream
// key/value bucket, and Memory for tests and single-process runs.
package store

import (
	"context"
	"errors"
	"fmt"

	"unimap-shuttle/internal/shuttle"
)

var (
	ErrAlreadyExists = errors.New("assignment already exists")
	ErrNotFound      = errors.New("assignment not found")
	// ErrStatusChanged means the stored status was not one of the statuses
	// the caller expected to transition from.
	ErrStatusChanged = errors.New("assignment status changed")
)

// Error wraps a failure of the backing store itself (network, permission,
// corrupt document). Callers see the underlying message verbatim.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Scope selects the assignments a subscription observes. The zero value
// covers every date.
type Scope struct {
	Date shuttle.Date
}

// ForDate scopes a subscription to one date partition.
func ForDate(d shuttle.Date) Scope { return Scope{Date: d} }

// All scopes a subscription to every date.
var All = Scope{}

func (s Scope) matches(d shuttle.Date) bool { return s.Date.IsZero() || s.Date == d }

// Subscription is a running watch. Stop is safe to call more than once.
type Subscription interface {
	Stop()
}

// SnapshotFunc receives the full set of assignments under a scope, in
// schedule order, on start and after every change.
type SnapshotFunc func([]shuttle.Assignment)

// PositionFunc receives each live position write.
type PositionFunc func(shuttle.Route, shuttle.LivePosition)

type Assignments interface {
	// Put creates the assignment under its date partition. It fails with
	// ErrAlreadyExists when a document with the same key is present. A
	// missing status is stored as pending.
	Put(ctx context.Context, a shuttle.Assignment) error
	Get(ctx context.Context, date shuttle.Date, key string) (shuttle.Assignment, error)
	ListForDate(ctx context.Context, date shuttle.Date) ([]shuttle.Assignment, error)
	ListAll(ctx context.Context) ([]shuttle.Assignment, error)
	// UpdateStatus changes only the status field. When from is non-empty the
	// current status must be one of them.
	UpdateStatus(ctx context.Context, date shuttle.Date, key string, to shuttle.Status, from ...shuttle.Status) (shuttle.Assignment, error)
	Delete(ctx context.Context, date shuttle.Date, key string) error
	Subscribe(ctx context.Context, scope Scope, fn SnapshotFunc) (Subscription, error)
}

type Positions interface {
	PutPosition(ctx context.Context, route shuttle.Route, p shuttle.LivePosition) error
	GetPosition(ctx context.Context, route shuttle.Route) (shuttle.LivePosition, error)
	WatchPositions(ctx context.Context, fn PositionFunc) (Subscription, error)
}

// Store is a backend that holds both assignments and positions.
type Store interface {
	Assignments
	Positions
	Close() error
}

// checkFrom validates a transition source against the allowed set.
func checkFrom(cur shuttle.Status, from []shuttle.Status) error {
	if len(from) == 0 {
		return nil
	}
	for _, f := range from {
		if cur == f {
			return nil
		}
	}
	return fmt.Errorf("%w: status is %s", ErrStatusChanged, cur)
}
