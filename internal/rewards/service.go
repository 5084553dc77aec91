// Package rewards runs an activity submission through validation, the
// authorization gate and settlement, in that order.
package rewards

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/silvanus-labs/greenchain/internal/activity"
	"github.com/silvanus-labs/greenchain/internal/apperr"
	"github.com/silvanus-labs/greenchain/internal/gate"
	"github.com/silvanus-labs/greenchain/internal/identity"
	"github.com/silvanus-labs/greenchain/internal/ledger"
	"github.com/silvanus-labs/greenchain/internal/logging"
	"github.com/silvanus-labs/greenchain/internal/metrics"
	"github.com/silvanus-labs/greenchain/internal/util"
)

// Result is returned to the submitting client.
type Result struct {
	TxHash        string        `json:"txHash"`
	Status        ledger.Status `json:"status"`
	WalletAddress string        `json:"wallet_address"`
}

// Service is the submission pipeline shared by every endpoint version.
type Service struct {
	settler ledger.Settler
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewService creates a submission pipeline. m may be nil.
func NewService(settler ledger.Settler, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{settler: settler, logger: logger.Named("security"), metrics: m}
}

// Submit validates, authorizes and settles one submission for caller.
// version labels the endpoint in logs and metrics.
func (s *Service) Submit(ctx context.Context, version string, caller identity.Identity, sub activity.Submission) (*Result, error) {
	log := logging.FromContext(ctx, s.logger).With(
		zap.String("endpoint", version),
		zap.String("caller", subject(caller)),
	)

	act, err := activity.Validate(sub)
	if err != nil {
		s.validationFailed(log, sub.WalletAddress, sub.Value, err)
		s.metrics.Submission(version, "invalid")
		return nil, err
	}

	g := gate.New(caller, act)
	if err := g.Validate(); err != nil {
		s.validationFailed(log, act.WalletAddress, act.Value, err)
		s.metrics.Submission(version, "invalid")
		return nil, err
	}
	auth, err := g.Authorize()
	if err != nil {
		s.validationFailed(log, act.WalletAddress, act.Value, err)
		s.metrics.Submission(version, string(apperr.KindOf(err)))
		return nil, err
	}
	log.Info("validation succeeded",
		zap.String("wallet", act.WalletAddress),
		zap.Float64("value", act.Value),
		zap.String("activity_type", string(act.Type)),
		zap.String("details", detailsForLog(act.Details)))

	start := time.Now()
	receipt, err := s.settler.Settle(ctx, auth)
	s.metrics.SettlementSeconds(time.Since(start).Seconds())
	if err != nil {
		log.Error("blockchain transaction failed",
			zap.String("wallet", act.WalletAddress),
			zap.Float64("value", act.Value),
			zap.Error(err))
		s.metrics.Submission(version, "settlement_error")
		if _, ok := apperr.As(err); !ok {
			err = apperr.NewSettlement("Transaction failed", err)
		}
		return nil, err
	}

	log.Info("blockchain transaction",
		zap.String("wallet", act.WalletAddress),
		zap.Float64("value", act.Value),
		zap.String("tx_hash", receipt.TxHash),
		zap.String("status", string(receipt.Status)))
	s.metrics.Submission(version, string(receipt.Status))

	return &Result{
		TxHash:        receipt.TxHash,
		Status:        receipt.Status,
		WalletAddress: act.WalletAddress,
	}, nil
}

func (s *Service) validationFailed(log *zap.Logger, wallet string, value any, err error) {
	log.Warn("validation failed",
		zap.String("wallet", util.TruncateLog(wallet, 64)),
		zap.Any("value", value),
		zap.Error(err))
}

func subject(id identity.Identity) string {
	if id == nil {
		return "anonymous"
	}
	return id.Subject()
}

func detailsForLog(details map[string]any) string {
	b, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	return util.TruncateBytes(b)
}
