// Package correlate deduplicates and tracks in-flight requests by
// client-supplied identifier, guaranteeing at-most-once side effects for
// retried identical requests.
package correlate

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/pkg/exception"
)

// Operation produces the response payload for a request. It runs at most
// once per live request id.
type Operation func() ([]byte, error)

type entry struct {
	fingerprint string
	done        chan struct{}
	payload     []byte
	err         error
	completedAt time.Time
}

func (e *entry) completed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Correlator collapses duplicate concurrent submissions and caches
// completed responses for a bounded retention window. An optional
// durable store lets retries survive a restart.
type Correlator struct {
	mu        sync.Mutex
	entries   map[string]*entry
	retention time.Duration
	store     *Store
	now       func() time.Time
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithStore attaches a durable backing store.
func WithStore(store *Store) Option {
	return func(c *Correlator) { c.store = store }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// New creates a correlator with the given retention window.
func New(retention time.Duration, opts ...Option) *Correlator {
	c := &Correlator{
		entries:   make(map[string]*entry),
		retention: retention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit runs op under the request id, or returns the prior outcome:
//   - completed with the same fingerprint: the cached payload, op not run;
//   - completed with a different fingerprint: ErrRequestDuplicateConflict;
//   - in flight: blocks until the first caller completes, same response;
//   - expired or unknown: a brand-new operation.
//
// The duplicate flag reports whether a cached or collapsed result was
// returned. A failed op is not cached; a later retry re-executes it.
func (c *Correlator) Submit(ctx context.Context, requestID, fingerprint string, op Operation) (payload []byte, duplicate bool, err error) {
	if requestID == "" {
		return nil, false, exception.ErrRequestEmptyID
	}

	c.mu.Lock()
	now := c.now()
	if e, ok := c.entries[requestID]; ok {
		if e.completed() && now.Sub(e.completedAt) > c.retention {
			delete(c.entries, requestID)
		} else {
			c.mu.Unlock()
			return c.await(ctx, e, fingerprint)
		}
	}

	if c.store != nil {
		rec, ok, err := c.store.Get(context.Background(), requestID)
		if err != nil {
			c.mu.Unlock()
			return nil, false, err
		}
		if ok && now.Sub(rec.CompletedAt) <= c.retention {
			c.mu.Unlock()
			if rec.Fingerprint != fingerprint {
				return nil, true, exception.ErrRequestDuplicateConflict
			}
			return rec.Payload, true, nil
		}
	}

	e := &entry{fingerprint: fingerprint, done: make(chan struct{})}
	c.entries[requestID] = e
	c.mu.Unlock()

	e.payload, e.err = op()
	completedAt := c.now()

	c.mu.Lock()
	if e.err != nil {
		// Not a completed request; the id stays free for retries.
		delete(c.entries, requestID)
	} else {
		e.completedAt = completedAt
		c.pruneLocked(completedAt)
	}
	c.mu.Unlock()
	close(e.done)

	if e.err == nil && c.store != nil {
		if err := c.store.Put(context.Background(), Record{
			RequestID:   requestID,
			Fingerprint: fingerprint,
			Payload:     e.payload,
			CompletedAt: completedAt,
		}); err != nil {
			// Durable caching is best effort; the in-memory entry
			// still guards the retention window.
			logs.Errorf("persist request correlation %s, err: %+v", requestID, err)
		}
	}
	return e.payload, false, e.err
}

func (c *Correlator) await(ctx context.Context, e *entry, fingerprint string) ([]byte, bool, error) {
	if e.fingerprint != fingerprint {
		return nil, true, exception.ErrRequestDuplicateConflict
	}
	select {
	case <-ctx.Done():
		return nil, true, exception.ErrRequestTimeout
	case <-e.done:
		return e.payload, true, e.err
	}
}

// pruneLocked drops entries past the retention window.
func (c *Correlator) pruneLocked(now time.Time) {
	for id, e := range c.entries {
		if e.completed() && now.Sub(e.completedAt) > c.retention {
			delete(c.entries, id)
		}
	}
}

// Len returns the number of live entries, for tests and metrics.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
