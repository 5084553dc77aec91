package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"

	"github.com/silvanus-labs/greenchain/internal/apperr"
	"github.com/silvanus-labs/greenchain/internal/gate"
)

const rewardABI = `[{"inputs":[{"internalType":"address","name":"user","type":"address"},{"internalType":"uint256","name":"score","type":"uint256"}],"name":"reward","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

// Transaction parameters of a reward call.
const (
	GasLimit = 300000
)

var (
	maxFeePerGas         = big.NewInt(25 * params.GWei)
	maxPriorityFeePerGas = big.NewInt(2 * params.GWei)
)

// Backend is the subset of an Ethereum JSON-RPC client the settler uses.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthereumSettler signs and broadcasts reward(address,uint256) calls.
type EthereumSettler struct {
	backend  Backend
	key      *ecdsa.PrivateKey
	sender   common.Address
	contract common.Address
	abi      abi.ABI
	logger   *zap.Logger

	receiptTimeout time.Duration
	pollInterval   time.Duration

	// mu serializes nonce allocation and broadcast.
	mu      sync.Mutex
	chainID *big.Int
}

// Option configures an EthereumSettler.
type Option func(*EthereumSettler)

// WithReceiptTimeout bounds the broadcast RPCs and, separately, how long
// Settle waits for a receipt.
func WithReceiptTimeout(d time.Duration) Option {
	return func(s *EthereumSettler) {
		if d > 0 {
			s.receiptTimeout = d
		}
	}
}

// WithPollInterval sets the receipt polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *EthereumSettler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewEthereumSettler creates a settler signing with key and calling
// contract through backend.
func NewEthereumSettler(backend Backend, key *ecdsa.PrivateKey, contract common.Address, logger *zap.Logger, opts ...Option) (*EthereumSettler, error) {
	parsed, err := abi.JSON(strings.NewReader(rewardABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse reward abi: %w", err)
	}
	s := &EthereumSettler{
		backend:        backend,
		key:            key,
		sender:         crypto.PubkeyToAddress(key.PublicKey),
		contract:       contract,
		abi:            parsed,
		logger:         logger,
		receiptTimeout: 30 * time.Second,
		pollInterval:   time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dial connects to rpcURL and returns a settler for the given hex private
// key and contract address.
func Dial(ctx context.Context, rpcURL, privateKey, contract string, logger *zap.Logger, opts ...Option) (*EthereumSettler, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid contract address %q", contract)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid ledger private key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger rpc: %w", err)
	}
	return NewEthereumSettler(client, key, common.HexToAddress(contract), logger, opts...)
}

// Sender returns the signing account.
func (s *EthereumSettler) Sender() common.Address { return s.sender }

// Settle implements Settler. Once a transaction has been broadcast Settle
// never fails for lack of a receipt; it reports StatusPending instead.
func (s *EthereumSettler) Settle(ctx context.Context, auth gate.Authorization) (*Receipt, error) {
	if !auth.Valid() {
		return nil, apperr.NewInternal("settlement requires an authorized submission", nil)
	}
	a := auth.Activity()

	data, err := s.abi.Pack("reward", common.HexToAddress(a.WalletAddress), big.NewInt(Score(a.Value)))
	if err != nil {
		return nil, apperr.NewSettlement("failed to encode reward call", err)
	}

	tx, err := s.broadcast(ctx, data)
	if errors.Is(err, errSendUnconfirmed) {
		hash := tx.Hash()
		s.logger.Warn("reward transaction send outcome unknown",
			zap.String("tx_hash", hash.Hex()), zap.String("wallet", a.WalletAddress), zap.Error(err))
		return &Receipt{TxHash: hash.Hex(), Status: StatusPending}, nil
	}
	if err != nil {
		return nil, err
	}
	hash := tx.Hash()
	log := s.logger.With(zap.String("tx_hash", hash.Hex()), zap.String("wallet", a.WalletAddress))
	log.Info("reward transaction broadcast", zap.Uint64("nonce", tx.Nonce()))

	receipt, err := s.waitMined(ctx, hash)
	if err != nil {
		log.Warn("transaction not confirmed within timeout", zap.Error(err))
		return &Receipt{TxHash: hash.Hex(), Status: StatusPending}, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, apperr.NewSettlement(fmt.Sprintf("reward transaction %s reverted", hash.Hex()), nil)
	}
	log.Info("reward transaction mined", zap.Uint64("block", receipt.BlockNumber.Uint64()))
	return &Receipt{TxHash: hash.Hex(), Status: StatusConfirmed, BlockNumber: receipt.BlockNumber.Uint64()}, nil
}

// errSendUnconfirmed means SendTransaction timed out or lost its connection,
// so the node may or may not have accepted the signed transaction.
var errSendUnconfirmed = errors.New("transaction send not confirmed")

// broadcast signs and sends one reward call. Every RPC it makes is bounded
// by receiptTimeout so a hung node cannot hold the nonce lock forever. When
// the send itself is ambiguous it returns the signed tx with
// errSendUnconfirmed.
func (s *EthereumSettler) broadcast(ctx context.Context, data []byte) (*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	defer cancel()

	if s.chainID == nil {
		id, err := s.backend.ChainID(ctx)
		if err != nil {
			return nil, apperr.NewSettlement("failed to read chain id", err)
		}
		s.chainID = id
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.sender)
	if err != nil {
		return nil, apperr.NewSettlement("failed to read pending nonce", err)
	}

	to := s.contract
	tx, err := types.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: maxPriorityFeePerGas,
		GasFeeCap: maxFeePerGas,
		Gas:       GasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	}), types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, apperr.NewSettlement("failed to sign reward transaction", err)
	}

	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		if isTransportError(err) {
			return tx, fmt.Errorf("%w: %w", errSendUnconfirmed, err)
		}
		return nil, apperr.NewSettlement("failed to broadcast reward transaction", err)
	}
	return tx, nil
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// waitMined polls for the receipt of hash until receiptTimeout elapses.
func (s *EthereumSettler) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			s.logger.Debug("receipt lookup failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
