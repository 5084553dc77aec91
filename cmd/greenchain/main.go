package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/silvanus-labs/greenchain/internal/auth/token"
	"github.com/silvanus-labs/greenchain/internal/config"
	"github.com/silvanus-labs/greenchain/internal/db"
	"github.com/silvanus-labs/greenchain/internal/identity"
	"github.com/silvanus-labs/greenchain/internal/ledger"
	"github.com/silvanus-labs/greenchain/internal/logging"
	"github.com/silvanus-labs/greenchain/internal/metrics"
	"github.com/silvanus-labs/greenchain/internal/oauth"
	"github.com/silvanus-labs/greenchain/internal/oauth/catalog"
	"github.com/silvanus-labs/greenchain/internal/ratelimit"
	"github.com/silvanus-labs/greenchain/internal/rewards"
	"github.com/silvanus-labs/greenchain/internal/server"
	"github.com/silvanus-labs/greenchain/internal/version"
)

const redisPrefix = "greenchain:"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	grants := db.NewGrantStore(database)

	var (
		counter  ratelimit.Counter
		sessions oauth.SessionBackend
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		counter = ratelimit.NewRedisCounter(rdb, redisPrefix+"ratelimit:")
		sessions = oauth.NewRedisSessions(rdb, redisPrefix+"oauth:")
		logger.Info("using redis for rate limits and oauth sessions")
	} else {
		counter = ratelimit.NewMemoryCounter()
		mem := oauth.NewMemorySessions()
		defer func() { _ = mem.Close() }()
		sessions = mem
	}

	cat, err := catalog.Load(cfg.OAuthProvidersFile, os.Getenv)
	if err != nil {
		return err
	}
	for _, p := range cat.Providers {
		if !p.Configured {
			logger.Warn("oauth provider has no client credentials", zap.String("provider", p.ID))
		}
	}
	providers := oauth.RegistryFromCatalog(cat, oauth.NewStore(sessions, cfg.OAuthSessionTTL), cfg.OAuthTimeout)

	settler, err := newSettler(ctx, cfg.Ledger, logger)
	if err != nil {
		return err
	}

	m := metrics.New()

	refresher := token.NewManager(grants, providers, logger.Named("token"),
		token.WithInterval(cfg.TokenRefreshInterval),
		token.WithMetrics(m))
	go refresher.Run(ctx)

	srv := server.New(server.Deps{
		Logger:    logger,
		Resolver:  identity.NewResolver(cfg.APIKeys, grants),
		Limiter:   ratelimit.New(counter),
		Providers: providers,
		Grants:    grants,
		Rewards:   rewards.NewService(settler, logger, m),
		Metrics:   m,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Settlement may wait up to LEDGER_RECEIPT_TIMEOUT for a receipt.
		WriteTimeout: cfg.Ledger.ReceiptTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("greenchain starting",
			zap.String("addr", cfg.Addr()),
			zap.String("version", version.Version),
			zap.Strings("providers", providers.Names()),
			zap.Int("api_keys", len(cfg.APIKeys)))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newSettler(ctx context.Context, cfg config.Ledger, logger *zap.Logger) (ledger.Settler, error) {
	log := logger.Named("ledger")
	if cfg.RPCURL == "" {
		log.Warn("LEDGER_RPC_URL not set, settlements are simulated")
		return ledger.NewDryRunSettler(log), nil
	}
	s, err := ledger.Dial(ctx, cfg.RPCURL, cfg.PrivateKey, cfg.Contract, log, ledger.WithReceiptTimeout(cfg.ReceiptTimeout))
	if err != nil {
		return nil, err
	}
	log.Info("ledger connected", zap.String("sender", s.Sender().Hex()), zap.String("contract", cfg.Contract))
	return s, nil
}
