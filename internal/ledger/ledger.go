// Package ledger is the port to the hash-registry contract that notarizes
// message digests.
package ledger

import (
	"context"
	"time"

	id "chainrelay/pkg/domain"
)

// HashInfo is the contract's record for one digest.
type HashInfo struct {
	Registered bool
	Timestamp  time.Time
	Registrar  string
}

// ReceiptStatus is the execution outcome of a mined transaction.
type ReceiptStatus int

const (
	ReceiptSuccess ReceiptStatus = iota + 1
	ReceiptReverted
)

// Receipt describes a mined transaction.
type Receipt struct {
	TxRef       string
	Status      ReceiptStatus
	BlockNumber uint64
}

// Ledger talks to the notarization contract.
//
// RegisterHash returns ErrAlreadyRegistered when the contract rejects a digest
// it already holds. TransactionReceipt returns ErrReceiptPending until the
// transaction is mined. Every other failure is classified as ErrTransient or
// ErrPermanent.
type Ledger interface {
	RegisterHash(ctx context.Context, hash id.MessageHash) (txRef string, err error)
	VerifyHash(ctx context.Context, hash id.MessageHash) (bool, error)
	GetHashInfo(ctx context.Context, hash id.MessageHash) (*HashInfo, error)
	TransactionReceipt(ctx context.Context, txRef string) (*Receipt, error)
	Health(ctx context.Context) error
}
