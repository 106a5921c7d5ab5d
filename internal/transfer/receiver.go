package transfer

import (
	"encoding/base64"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagecast/engine/internal/domain"
)

// Transfer is one in-flight inbound file. Chunk payloads are written by
// index, never appended, so out-of-order delivery is harmless.
type Transfer struct {
	Meta     domain.FileMeta
	chunks   [][]byte
	received int
	gotBytes int64
}

func (t *Transfer) complete() bool {
	return len(t.chunks) > 0 && t.received == len(t.chunks)
}

// TransferView is a read-only progress snapshot for the status API.
type TransferView struct {
	Meta     domain.FileMeta `json:"meta"`
	Total    int             `json:"totalChunks"`
	Received int             `json:"receivedChunks"`
	Bytes    int64           `json:"receivedBytes"`
}

// Sink receives the reassembled file once every chunk index is present.
type Sink func(meta domain.FileMeta, data []byte)

// Receiver reassembles transfers keyed by id. Unknown ids on chunk/end are
// ignored: the sender may have dropped mid-transfer and that is not an
// error worth surfacing.
type Receiver struct {
	mu        sync.Mutex
	transfers map[domain.TransferID]*Transfer
	sink      Sink
	log       zerolog.Logger
}

func NewReceiver(sink Sink) *Receiver {
	return &Receiver{
		transfers: make(map[domain.TransferID]*Transfer),
		sink:      sink,
		log:       log.With().Str("module", "transfer.receiver").Logger(),
	}
}

func (r *Receiver) HandleStart(p StartPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// A repeated start for a live id restarts the transfer from scratch.
	r.transfers[p.ID] = &Transfer{
		Meta: domain.FileMeta{ID: p.ID, Name: p.Name, Size: p.Size, MIME: p.MIME},
	}
	r.log.Info().Str("transfer", string(p.ID)).Str("name", p.Name).Int64("size", p.Size).Msg("transfer started")
}

func (r *Receiver) HandleChunk(p ChunkPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transfers[p.ID]
	if !ok {
		r.log.Debug().Str("transfer", string(p.ID)).Msg("chunk for unknown transfer, dropped")
		return
	}
	if p.Total <= 0 || p.Index < 0 || p.Index >= p.Total {
		r.log.Debug().Str("transfer", string(p.ID)).Int("index", p.Index).Int("total", p.Total).Msg("chunk out of bounds, dropped")
		return
	}
	if t.chunks == nil {
		t.chunks = make([][]byte, p.Total)
	}
	if p.Total != len(t.chunks) {
		r.log.Debug().Str("transfer", string(p.ID)).Msg("chunk total mismatch, dropped")
		return
	}

	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		r.log.Debug().Err(err).Str("transfer", string(p.ID)).Int("index", p.Index).Msg("undecodable chunk, dropped")
		return
	}

	// Last write wins per index; only the first write counts towards
	// completeness.
	if t.chunks[p.Index] == nil {
		t.received++
	} else {
		t.gotBytes -= int64(len(t.chunks[p.Index]))
	}
	t.chunks[p.Index] = data
	t.gotBytes += int64(len(data))
}

func (r *Receiver) HandleEnd(p EndPayload) {
	r.mu.Lock()
	t, ok := r.transfers[p.ID]
	if !ok {
		r.mu.Unlock()
		r.log.Debug().Str("transfer", string(p.ID)).Msg("end for unknown transfer, dropped")
		return
	}
	delete(r.transfers, p.ID)

	if !t.complete() {
		r.mu.Unlock()
		r.log.Warn().
			Str("transfer", string(p.ID)).
			Int("received", t.received).
			Int("total", len(t.chunks)).
			Msg("transfer ended incomplete, discarded")
		return
	}

	data := make([]byte, 0, t.gotBytes)
	for _, c := range t.chunks {
		data = append(data, c...)
	}
	sink := r.sink
	r.mu.Unlock()

	r.log.Info().Str("transfer", string(p.ID)).Int("bytes", len(data)).Msg("transfer reassembled")
	if sink != nil {
		sink(t.Meta, data)
	}
}

// Drop abandons an in-flight transfer, e.g. when its sender leaves.
func (r *Receiver) Drop(id domain.TransferID) {
	r.mu.Lock()
	delete(r.transfers, id)
	r.mu.Unlock()
}

func (r *Receiver) Snapshot() []TransferView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TransferView, 0, len(r.transfers))
	for _, t := range r.transfers {
		out = append(out, TransferView{
			Meta:     t.Meta,
			Total:    len(t.chunks),
			Received: t.received,
			Bytes:    t.gotBytes,
		})
	}
	return out
}
