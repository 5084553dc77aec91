package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/silvanus-labs/greenchain/internal/auth/token"
	"github.com/silvanus-labs/greenchain/internal/config"
	"github.com/silvanus-labs/greenchain/internal/db"
	"github.com/silvanus-labs/greenchain/internal/logging"
	"github.com/silvanus-labs/greenchain/internal/metrics"
	"github.com/silvanus-labs/greenchain/internal/oauth"
	"github.com/silvanus-labs/greenchain/internal/oauth/catalog"
	"github.com/silvanus-labs/greenchain/internal/poller"
	"github.com/silvanus-labs/greenchain/internal/util"
	"github.com/silvanus-labs/greenchain/internal/version"
)

var (
	providersFile string
	rootCmd       = &cobra.Command{
		Use:     "poller",
		Short:   "Submit energy data from linked provider accounts as activities",
		Version: version.Version,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&providersFile, "providers", os.Getenv("GREENCHAIN_OAUTH_PROVIDERS_FILE"), "OAuth provider catalog file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll every linked account",
		RunE: func(cmd *cobra.Command, args []string) error {
			once, _ := cmd.Flags().GetBool("once")
			return runPoller(cmd, once)
		},
	}
	runCmd.Flags().Bool("once", false, "Run a single pass and exit")
	runCmd.Flags().Duration("interval", 0, "Pass interval (overrides GREENCHAIN_POLL_INTERVAL)")
	runCmd.Flags().Int("concurrency", 0, "Grants polled at once (overrides GREENCHAIN_POLL_CONCURRENCY)")
	runCmd.Flags().Float64("rate", 0, "Submissions per second (overrides GREENCHAIN_POLL_RATE)")
	rootCmd.AddCommand(runCmd)

	grantsCmd := &cobra.Command{
		Use:   "grants",
		Short: "List linked provider accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listGrants(cmd)
		},
	}
	rootCmd.AddCommand(grantsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runPoller(cmd *cobra.Command, once bool) error {
	cfg, err := config.LoadPoller()
	if err != nil {
		return err
	}
	if d, _ := cmd.Flags().GetDuration("interval"); d > 0 {
		cfg.PollInterval = d
	}
	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		cfg.PollConcurrency = n
	}
	if r, _ := cmd.Flags().GetFloat64("rate"); r > 0 {
		cfg.PollRate = r
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	grants := db.NewGrantStore(database)

	cat, err := catalog.Load(providersFile, os.Getenv)
	if err != nil {
		return err
	}
	sessions := oauth.NewMemorySessions()
	defer func() { _ = sessions.Close() }()
	providers := oauth.RegistryFromCatalog(cat, oauth.NewStore(sessions, 0), 0)

	m := metrics.New()
	refresher := token.NewManager(grants, providers, logger.Named("token"), token.WithMetrics(m))

	sources := map[string]poller.DataSource{
		"solaredge": poller.NewSolarEdge(cfg.SolarEdgeAPIURL, 30*time.Second),
	}
	p := poller.New(grants, refresher, sources,
		poller.SDKSubmitter{BaseURL: cfg.APIBaseURL},
		logger.Named("poller"),
		poller.WithInterval(cfg.PollInterval),
		poller.WithConcurrency(cfg.PollConcurrency),
		poller.WithRate(cfg.PollRate),
		poller.WithSkipProviders(cat.IdentityOnly()...),
		poller.WithMetrics(m))

	logger.Info("poller starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("interval", cfg.PollInterval),
		zap.Int("concurrency", cfg.PollConcurrency),
		zap.Strings("skip", cat.IdentityOnly()))

	if once {
		sum, err := p.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "grants=%d submitted=%d skipped=%d failed=%d\n",
			sum.Grants, sum.Submitted, sum.Skipped, sum.Failed)
		return nil
	}
	return p.Run(ctx)
}

func listGrants(cmd *cobra.Command) error {
	cfg, err := config.LoadPoller()
	if err != nil {
		return err
	}
	database, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}

	list, err := db.NewGrantStore(database).List(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROVIDER\tWALLET\tACCESS TOKEN\tEXPIRES")
	for _, g := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", g.ID, g.Provider, g.WalletAddress,
			util.MaskSecret(g.AccessToken), g.ExpiresAt.Format(time.RFC3339))
	}
	return w.Flush()
}
