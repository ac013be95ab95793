// Package replay suppresses redeliveries of already-processed callbacks.
//
// The signature replay window rejects stale deliveries; the Guard rejects
// redeliveries that arrive inside that window, such as the platform's
// at-least-once retries.
package replay

import (
	"context"
	"errors"
	"time"

	"github.com/avaropoint/wpsgate/internal/store"
)

// DefaultTTL is how long a processed message id is remembered.
const DefaultTTL = 300 * time.Second

// ErrEmptyID is returned when a message carries no usable id.
var ErrEmptyID = errors.New("replay: empty message id")

// Guard decides whether a message id has already been handled.
type Guard struct {
	store store.ProcessedStore
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// New creates a Guard backed by s.
func New(s store.ProcessedStore, opts ...Option) *Guard {
	g := &Guard{store: s, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check records id and reports whether it was already seen within the TTL.
// A duplicate must still be acknowledged to the sender so it stops retrying.
func (g *Guard) Check(ctx context.Context, id string) (duplicate bool, err error) {
	if id == "" {
		return false, ErrEmptyID
	}
	first, err := g.store.MarkProcessed(ctx, id, g.now(), g.ttl)
	if err != nil {
		return false, err
	}
	return !first, nil
}

// TTL returns the retention window.
func (g *Guard) TTL() time.Duration { return g.ttl }
