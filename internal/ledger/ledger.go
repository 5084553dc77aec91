// Package ledger settles authorized activities on chain by calling the
// reward contract.
package ledger

import (
	"context"

	"github.com/silvanus-labs/greenchain/internal/gate"
)

// Status is the settlement state reported to clients.
type Status string

const (
	// StatusConfirmed means the transaction was mined successfully.
	StatusConfirmed Status = "confirmed"
	// StatusPending means the transaction was broadcast but no receipt was
	// seen in time. It must not be resubmitted.
	StatusPending Status = "pending"
)

// Receipt identifies a broadcast reward transaction.
type Receipt struct {
	TxHash      string
	Status      Status
	BlockNumber uint64
}

// Settler performs the irreversible reward transfer for an authorization.
type Settler interface {
	Settle(ctx context.Context, auth gate.Authorization) (*Receipt, error)
}

// Score converts a kWh value into the contract's integer score.
func Score(kwh float64) int64 {
	return int64(kwh*100 + 0.5)
}
