// Package notify delivers reload events produced by the watch coordinator
// to whoever is listening: browsers over a websocket, other processes over
// NATS, or both.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Kind distinguishes how a client should react to a Change.
type Kind string

const (
	// KindReload asks the client to reload the page.
	KindReload Kind = "reload"
	// KindInject lists stylesheets to swap in place.
	KindInject Kind = "inject"
	// KindError reports a failed run; clients keep the current page.
	KindError Kind = "error"
)

// Change is one notification, sent at most once per completed task run.
type Change struct {
	Kind  Kind      `json:"type"`
	Task  string    `json:"task"`
	RunID string    `json:"run_id,omitempty"`
	Paths []string  `json:"paths,omitempty"`
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"timestamp"`
}

// Notifier delivers changes. Implementations must be safe for concurrent
// use and should not block for long.
type Notifier interface {
	Notify(ctx context.Context, change Change) error
}

// Func adapts a function into a Notifier.
type Func func(ctx context.Context, change Change) error

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, change Change) error { return f(ctx, change) }

// Multi fans a change out to several notifiers and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, change Change) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every change.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Change) error { return nil }

// Recorder keeps every change it receives. It backs tests and the status
// page's recent activity list.
type Recorder struct {
	mu      sync.Mutex
	limit   int
	changes []Change
}

// NewRecorder keeps at most limit changes; zero means unbounded.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, change Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
	if r.limit > 0 && len(r.changes) > r.limit {
		r.changes = r.changes[len(r.changes)-r.limit:]
	}
	return nil
}

// Changes returns a copy of the recorded changes, oldest first.
func (r *Recorder) Changes() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}
