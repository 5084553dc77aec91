package ledger

import (
	"context"
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/silvanus-labs/greenchain/internal/apperr"
	"github.com/silvanus-labs/greenchain/internal/gate"
)

// DryRunSettler broadcasts nothing and returns pending receipts with
// deterministic hashes. It is selected when no RPC endpoint is configured.
type DryRunSettler struct {
	logger *zap.Logger
	seq    atomic.Uint64
}

// NewDryRunSettler creates a dry-run settler.
func NewDryRunSettler(logger *zap.Logger) *DryRunSettler {
	return &DryRunSettler{logger: logger}
}

// Settle implements Settler.
func (d *DryRunSettler) Settle(_ context.Context, auth gate.Authorization) (*Receipt, error) {
	if !auth.Valid() {
		return nil, apperr.NewInternal("settlement requires an authorized submission", nil)
	}
	a := auth.Activity()

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], d.seq.Add(1))
	binary.BigEndian.PutUint64(buf[8:], math.Float64bits(a.Value))
	hash := crypto.Keccak256Hash([]byte(a.WalletAddress), buf[:])

	d.logger.Warn("dry-run settlement, no transaction broadcast",
		zap.String("wallet", a.WalletAddress),
		zap.Float64("value", a.Value),
		zap.String("tx_hash", hash.Hex()))
	return &Receipt{TxHash: hash.Hex(), Status: StatusPending}, nil
}
