// Package correlator implements the pending-response correlator (C7): a
// tenant-scoped map from (organizationId, clientId, messageId) to a
// single-shot suspender, used to join an async Agent reply back to the
// request that caused it.
package correlator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Key identifies one outstanding request.
type Key struct {
	OrganizationID string
	ClientID       string
	MessageID      string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.OrganizationID, k.ClientID, k.MessageID)
}

type pending struct {
	ch     chan any
	once   sync.Once
	cancel context.CancelFunc
}

// Correlator tracks outstanding request/response pairs. All operations are
// mutually exclusive on a single lock; delivery to the waiting caller
// happens over a buffered channel so Complete never runs the caller's
// continuation while holding the lock.
type Correlator struct {
	mu      sync.Mutex
	waiting map[Key]*pending
}

// New returns an empty Correlator.
func New() *Correlator {
	return &Correlator{waiting: make(map[Key]*pending)}
}

// Prepare registers a suspender for key with the given deadline and returns
// a function that blocks for the response (or the deadline/ctx, whichever
// is sooner). Calling the returned function more than once is not
// supported; call Prepare again for a new attempt.
func (c *Correlator) Prepare(ctx context.Context, key Key, deadline time.Duration) (await func() (any, error), cancel func()) {
	ctx, cancelCtx := context.WithTimeout(ctx, deadline)

	p := &pending{
		ch:     make(chan any, 1),
		cancel: cancelCtx,
	}

	c.mu.Lock()
	c.waiting[key] = p
	c.mu.Unlock()

	remove := func() {
		c.mu.Lock()
		if c.waiting[key] == p {
			delete(c.waiting, key)
		}
		c.mu.Unlock()
	}

	await = func() (any, error) {
		defer remove()
		select {
		case resp := <-p.ch:
			return resp, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	cancel = func() {
		cancelCtx()
		remove()
	}

	return await, cancel
}

// Complete fulfills the suspender for key with response, if still pending.
// A duplicate Complete, or one that loses a race with cancellation, is a
// silent no-op.
func (c *Correlator) Complete(key Key, response any) {
	c.mu.Lock()
	p, ok := c.waiting[key]
	if ok {
		delete(c.waiting, key)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	p.once.Do(func() {
		p.ch <- response
	})
}

// Len reports the number of outstanding entries. Intended for tests and
// metrics.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiting)
}
