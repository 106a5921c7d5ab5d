package collab

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stagecast/engine/internal/signal"
)

func TestConfirmerDeliverResolvesWaiter(t *testing.T) {
	c := NewConfirmer(time.Second)
	m := c.Begin(signal.TypeMessageSent)

	if m.State() != MutationPending {
		t.Fatalf("fresh mutation state = %s, want pending", m.State())
	}

	go c.Deliver(signal.TypeMessageSent, json.RawMessage(`{"id":"m1"}`))

	payload, err := c.Await(context.Background(), signal.TypeMessageSent, m)
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != `{"id":"m1"}` {
		t.Fatalf("unexpected payload %s", payload)
	}
	if m.State() != MutationConfirmed {
		t.Fatalf("state = %s, want confirmed", m.State())
	}
	if n := c.PendingCount(signal.TypeMessageSent); n != 0 {
		t.Fatalf("pending count = %d after confirmation", n)
	}
}

func TestConfirmerTimeout(t *testing.T) {
	c := NewConfirmer(30 * time.Millisecond)
	m := c.Begin(signal.TypePollVoted)

	_, err := c.Await(context.Background(), signal.TypePollVoted, m)
	if !errors.Is(err, ErrMutationTimeout) {
		t.Fatalf("err = %v, want ErrMutationTimeout", err)
	}
	if m.State() != MutationTimedOut {
		t.Fatalf("state = %s, want timed-out", m.State())
	}
	if n := c.PendingCount(signal.TypePollVoted); n != 0 {
		t.Fatalf("timed-out waiter still registered, pending = %d", n)
	}

	// A confirmation for an abandoned mutation is dropped silently.
	c.Deliver(signal.TypePollVoted, nil)
	if m.State() != MutationTimedOut {
		t.Fatalf("late confirmation revived a timed-out mutation")
	}
}

func TestConfirmerFIFOOrder(t *testing.T) {
	c := NewConfirmer(time.Second)
	first := c.Begin(signal.TypeQuestionAsked)
	second := c.Begin(signal.TypeQuestionAsked)

	c.Deliver(signal.TypeQuestionAsked, json.RawMessage(`1`))

	if first.State() != MutationConfirmed {
		t.Fatal("oldest waiter was not confirmed first")
	}
	if second.State() != MutationPending {
		t.Fatal("newer waiter confirmed out of order")
	}

	c.Deliver(signal.TypeQuestionAsked, json.RawMessage(`2`))
	if second.State() != MutationConfirmed {
		t.Fatal("second waiter never confirmed")
	}
}

func TestConfirmerCancelRemovesWaiter(t *testing.T) {
	c := NewConfirmer(time.Second)
	stale := c.Begin(signal.TypeMessageSent)
	live := c.Begin(signal.TypeMessageSent)

	c.Cancel(signal.TypeMessageSent, stale)
	if stale.State() != MutationCancelled {
		t.Fatalf("state = %s, want cancelled", stale.State())
	}
	if n := c.PendingCount(signal.TypeMessageSent); n != 1 {
		t.Fatalf("pending = %d after cancel, want 1", n)
	}

	// The confirmation lands on the surviving waiter, not the cancelled one.
	c.Deliver(signal.TypeMessageSent, nil)
	if live.State() != MutationConfirmed {
		t.Fatal("confirmation routed past the cancelled waiter failed")
	}
	if stale.State() != MutationCancelled {
		t.Fatal("cancelled waiter was revived")
	}
}

func TestConfirmerContextCancel(t *testing.T) {
	c := NewConfirmer(time.Hour)
	m := c.Begin(signal.TypeMessageSent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Await(ctx, signal.TypeMessageSent, m)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := c.PendingCount(signal.TypeMessageSent); n != 0 {
		t.Fatalf("cancelled waiter still registered, pending = %d", n)
	}
}
