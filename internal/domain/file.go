package domain

import "github.com/google/uuid"

type TransferID string

func NewTransferID() TransferID { return TransferID(uuid.NewString()) }

// FileMeta describes one in-flight or completed file transfer.
type FileMeta struct {
	ID   TransferID `json:"id"`
	Name string     `json:"name"`
	Size int64      `json:"size"`
	MIME string     `json:"mime"`
}
