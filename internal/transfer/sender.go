// Package transfer moves arbitrary files over the signaling channel in
// ordered, size-bounded chunks: file-start, file-chunk*, file-end.
package transfer

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagecast/engine/internal/domain"
	"github.com/stagecast/engine/internal/signal"
)

const (
	DefaultChunkSize = 16 * 1024
	DefaultPaceEvery = 8
	DefaultPaceDelay = 50 * time.Millisecond
)

type StartPayload struct {
	ID   domain.TransferID `json:"id"`
	Name string            `json:"name"`
	Size int64             `json:"size"`
	MIME string            `json:"mime"`
}

type ChunkPayload struct {
	ID    domain.TransferID `json:"id"`
	Index int               `json:"index"`
	Total int               `json:"total"`
	Data  string            `json:"chunk"`
}

type EndPayload struct {
	ID domain.TransferID `json:"id"`
}

// Broadcaster is the slice of the signaling transport the sender needs.
type Broadcaster interface {
	Send(t signal.MessageType, payload any) error
}

// Sender segments files and paces their chunks onto the transport. There is
// no protocol-level acknowledgement; backpressure is handled by yielding
// every paceEvery chunks.
type Sender struct {
	tx        Broadcaster
	chunkSize int
	paceEvery int
	paceDelay time.Duration
	log       zerolog.Logger
}

func NewSender(tx Broadcaster, chunkSize, paceEvery int, paceDelay time.Duration) *Sender {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if paceEvery <= 0 {
		paceEvery = DefaultPaceEvery
	}
	if paceDelay <= 0 {
		paceDelay = DefaultPaceDelay
	}
	return &Sender{
		tx:        tx,
		chunkSize: chunkSize,
		paceEvery: paceEvery,
		paceDelay: paceDelay,
		log:       log.With().Str("module", "transfer.sender").Logger(),
	}
}

// Send transmits data as one transfer and returns its id. Chunks go out in
// increasing index order; ctx aborts the transfer between chunks.
func (s *Sender) Send(ctx context.Context, name, mime string, data []byte) (domain.TransferID, error) {
	id := domain.NewTransferID()
	total := (len(data) + s.chunkSize - 1) / s.chunkSize
	if total == 0 {
		total = 1
	}

	err := s.tx.Send(signal.TypeFileStart, StartPayload{
		ID:   id,
		Name: name,
		Size: int64(len(data)),
		MIME: mime,
	})
	if err != nil {
		return "", err
	}

	for i := 0; i < total; i++ {
		lo := i * s.chunkSize
		hi := lo + s.chunkSize
		if hi > len(data) {
			hi = len(data)
		}
		p := ChunkPayload{
			ID:    id,
			Index: i,
			Total: total,
			Data:  base64.StdEncoding.EncodeToString(data[lo:hi]),
		}
		if err := s.tx.Send(signal.TypeFileChunk, p); err != nil {
			return id, err
		}

		if (i+1)%s.paceEvery == 0 && i+1 < total {
			select {
			case <-ctx.Done():
				return id, ctx.Err()
			case <-time.After(s.paceDelay):
			}
		}
	}

	if err := s.tx.Send(signal.TypeFileEnd, EndPayload{ID: id}); err != nil {
		return id, err
	}
	s.log.Info().Str("transfer", string(id)).Str("name", name).Int("chunks", total).Msg("transfer sent")
	return id, nil
}
