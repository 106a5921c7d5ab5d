// Package collab keeps the hub-authoritative collections (chat, Q&A, polls)
// consistent on this client: local mutations ride the signaling channel and
// must be confirmed within a timeout; remote push events merge idempotently.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stagecast/engine/internal/signal"
)

const DefaultConfirmTimeout = 5 * time.Second

// ErrMutationTimeout is retryable: the hub may still apply the mutation, so
// no optimistic local state is rolled back here. Reconciling is the
// caller's job.
var ErrMutationTimeout = errors.New("mutation not confirmed in time")

// MutationState is caller-visible so the pending phase can be observed
// directly instead of being inferred from a thrown error.
type MutationState int32

const (
	MutationPending MutationState = iota
	MutationConfirmed
	MutationTimedOut
	MutationCancelled
)

func (s MutationState) String() string {
	switch s {
	case MutationPending:
		return "pending"
	case MutationConfirmed:
		return "confirmed"
	case MutationTimedOut:
		return "timed-out"
	case MutationCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Mutation tracks one in-flight local mutation.
type Mutation struct {
	state atomic.Int32
	done  chan json.RawMessage
}

func (m *Mutation) State() MutationState {
	return MutationState(m.state.Load())
}

// Transport is the slice of the signaling client the stores need.
type Transport interface {
	Send(t signal.MessageType, payload any) error
}

// Confirmer races confirmation events against a fixed timeout. Waiters for
// the same confirmation kind are confirmed in FIFO order, matching the
// relay's per-sender ordering guarantee.
type Confirmer struct {
	timeout time.Duration

	mu      sync.Mutex
	waiters map[signal.MessageType][]*Mutation
}

func NewConfirmer(timeout time.Duration) *Confirmer {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	return &Confirmer{
		timeout: timeout,
		waiters: make(map[signal.MessageType][]*Mutation),
	}
}

// Begin registers a pending mutation awaiting a confirmation of kind t.
func (c *Confirmer) Begin(t signal.MessageType) *Mutation {
	m := &Mutation{done: make(chan json.RawMessage, 1)}
	c.mu.Lock()
	c.waiters[t] = append(c.waiters[t], m)
	c.mu.Unlock()
	return m
}

// Deliver resolves the oldest pending waiter for kind t. Confirmations with
// no waiter are dropped; they belong to an already timed-out mutation.
func (c *Confirmer) Deliver(t signal.MessageType, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.waiters[t]
	if len(q) == 0 {
		return
	}
	m := q[0]
	c.waiters[t] = q[1:]
	m.state.Store(int32(MutationConfirmed))
	m.done <- payload
}

// Cancel withdraws a mutation whose request never made it onto the wire.
// Leaving it queued would misroute the next confirmation of the same kind
// to the stale waiter.
func (c *Confirmer) Cancel(t signal.MessageType, m *Mutation) {
	_, _ = c.abandon(t, m, nil, MutationCancelled)
}

// Await blocks until the mutation confirms, times out, or ctx ends.
func (c *Confirmer) Await(ctx context.Context, t signal.MessageType, m *Mutation) (json.RawMessage, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case payload := <-m.done:
		return payload, nil
	case <-timer.C:
		return c.abandon(t, m, ErrMutationTimeout, MutationTimedOut)
	case <-ctx.Done():
		return c.abandon(t, m, ctx.Err(), MutationTimedOut)
	}
}

// abandon removes m from the waiter queue unless a confirmation slipped in
// between the timer firing and the lock being taken.
func (c *Confirmer) abandon(t signal.MessageType, m *Mutation, cause error, to MutationState) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m.State() == MutationConfirmed {
		return <-m.done, nil
	}
	q := c.waiters[t]
	for i, w := range q {
		if w == m {
			c.waiters[t] = append(q[:i], q[i+1:]...)
			break
		}
	}
	m.state.Store(int32(to))
	return nil, cause
}

// PendingCount reports waiters still registered for kind t.
func (c *Confirmer) PendingCount(t signal.MessageType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters[t])
}
