package transfer

import (
	"bytes"
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stagecast/engine/internal/domain"
	"github.com/stagecast/engine/internal/signal"
)

type sentMsg struct {
	t       signal.MessageType
	payload any
}

type fakeTx struct {
	mu   sync.Mutex
	msgs []sentMsg
}

func (f *fakeTx) Send(t signal.MessageType, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sentMsg{t: t, payload: payload})
	return nil
}

func (f *fakeTx) all() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.msgs...)
}

func randomBytes(n int) []byte {
	data := make([]byte, n)
	rnd := rand.New(rand.NewSource(42))
	rnd.Read(data)
	return data
}

func TestSenderFraming(t *testing.T) {
	tx := &fakeTx{}
	s := NewSender(tx, 16*1024, 8, time.Millisecond)

	data := randomBytes(40 * 1024)
	id, err := s.Send(context.Background(), "slides.pdf", "application/pdf", data)
	if err != nil {
		t.Fatal(err)
	}

	msgs := tx.all()
	if len(msgs) != 5 { // start + 3 chunks + end
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}

	start, ok := msgs[0].payload.(StartPayload)
	if !ok || msgs[0].t != signal.TypeFileStart {
		t.Fatalf("first message is not file-start: %+v", msgs[0])
	}
	if start.ID != id || start.Size != int64(len(data)) || start.Name != "slides.pdf" {
		t.Fatalf("bad start payload: %+v", start)
	}

	for i := 1; i <= 3; i++ {
		c, ok := msgs[i].payload.(ChunkPayload)
		if !ok || msgs[i].t != signal.TypeFileChunk {
			t.Fatalf("message %d is not file-chunk", i)
		}
		if c.Index != i-1 {
			t.Errorf("chunk %d has index %d, want increasing order", i, c.Index)
		}
		if c.Total != 3 {
			t.Errorf("chunk %d has total %d, want 3", i, c.Total)
		}
	}

	if msgs[4].t != signal.TypeFileEnd {
		t.Fatalf("last message is not file-end: %+v", msgs[4])
	}
}

func TestReceiverOutOfOrderReassembly(t *testing.T) {
	tx := &fakeTx{}
	s := NewSender(tx, 16*1024, 8, time.Millisecond)

	data := randomBytes(40 * 1024)
	if _, err := s.Send(context.Background(), "deck.bin", "application/octet-stream", data); err != nil {
		t.Fatal(err)
	}

	msgs := tx.all()
	start := msgs[0].payload.(StartPayload)
	chunks := []ChunkPayload{
		msgs[1].payload.(ChunkPayload),
		msgs[2].payload.(ChunkPayload),
		msgs[3].payload.(ChunkPayload),
	}
	end := msgs[4].payload.(EndPayload)

	var gotMeta domain.FileMeta
	var gotData []byte
	r := NewReceiver(func(meta domain.FileMeta, data []byte) {
		gotMeta = meta
		gotData = data
	})

	r.HandleStart(start)
	// Delivery order [1, 0, 2].
	r.HandleChunk(chunks[1])
	r.HandleChunk(chunks[0])
	r.HandleChunk(chunks[2])
	r.HandleEnd(end)

	if gotData == nil {
		t.Fatal("sink never invoked")
	}
	if len(gotData) != len(data) {
		t.Fatalf("reassembled %d bytes, want %d", len(gotData), len(data))
	}
	if !bytes.Equal(gotData, data) {
		t.Fatal("reassembled bytes differ from original")
	}
	if gotMeta.Name != "deck.bin" || gotMeta.Size != int64(len(data)) {
		t.Fatalf("bad meta: %+v", gotMeta)
	}
}

func TestReceiverDuplicateChunkLastWriteWins(t *testing.T) {
	tx := &fakeTx{}
	s := NewSender(tx, 1024, 8, time.Millisecond)
	data := randomBytes(3 * 1024)
	if _, err := s.Send(context.Background(), "f", "application/octet-stream", data); err != nil {
		t.Fatal(err)
	}
	msgs := tx.all()

	var gotData []byte
	r := NewReceiver(func(_ domain.FileMeta, data []byte) { gotData = data })
	r.HandleStart(msgs[0].payload.(StartPayload))
	for i := 1; i <= 3; i++ {
		r.HandleChunk(msgs[i].payload.(ChunkPayload))
	}
	// Replay of chunk 1 must not corrupt the reassembly.
	r.HandleChunk(msgs[2].payload.(ChunkPayload))
	r.HandleEnd(msgs[4].payload.(EndPayload))

	if !bytes.Equal(gotData, data) {
		t.Fatal("replayed chunk corrupted reassembly")
	}
}

func TestReceiverUnknownIDIgnored(t *testing.T) {
	called := false
	r := NewReceiver(func(domain.FileMeta, []byte) { called = true })

	r.HandleChunk(ChunkPayload{ID: "ghost", Index: 0, Total: 1, Data: "aGk="})
	r.HandleEnd(EndPayload{ID: "ghost"})

	if called {
		t.Fatal("sink invoked for unknown transfer id")
	}
	if n := len(r.Snapshot()); n != 0 {
		t.Fatalf("expected no transfers, got %d", n)
	}
}

func TestReceiverIncompleteEndDiscarded(t *testing.T) {
	called := false
	r := NewReceiver(func(domain.FileMeta, []byte) { called = true })

	r.HandleStart(StartPayload{ID: "t1", Name: "f", Size: 10})
	r.HandleChunk(ChunkPayload{ID: "t1", Index: 0, Total: 2, Data: "aGVsbG8="})
	r.HandleEnd(EndPayload{ID: "t1"})

	if called {
		t.Fatal("sink invoked for incomplete transfer")
	}
	// The id is gone afterwards; a late replayed end stays silent.
	r.HandleEnd(EndPayload{ID: "t1"})
}

func TestSenderEmptyFileStillOneChunk(t *testing.T) {
	tx := &fakeTx{}
	s := NewSender(tx, 1024, 8, time.Millisecond)
	if _, err := s.Send(context.Background(), "empty", "text/plain", nil); err != nil {
		t.Fatal(err)
	}
	msgs := tx.all()
	if len(msgs) != 3 {
		t.Fatalf("expected start+chunk+end, got %d messages", len(msgs))
	}
	c := msgs[1].payload.(ChunkPayload)
	if c.Total != 1 || c.Index != 0 {
		t.Fatalf("bad chunk framing for empty file: %+v", c)
	}
}

func TestSenderPacingAborts(t *testing.T) {
	tx := &fakeTx{}
	s := NewSender(tx, 16, 1, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := s.Send(ctx, "big", "application/octet-stream", randomBytes(16*10))
	if err == nil {
		t.Fatal("expected ctx cancellation error")
	}
}
