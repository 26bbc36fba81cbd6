package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pokt-network/pocket-faucet/api"
	"github.com/pokt-network/pocket-faucet/claim"
	"github.com/pokt-network/pocket-faucet/faucet"
	"github.com/pokt-network/pocket-faucet/leader"
	"github.com/pokt-network/pocket-faucet/logging"
	"github.com/pokt-network/pocket-faucet/observability"
	"github.com/pokt-network/pocket-faucet/session"
	"github.com/pokt-network/pocket-faucet/status"
	transportredis "github.com/pokt-network/pocket-faucet/transport/redis"
	"github.com/pokt-network/pocket-faucet/wallet"
)

const (
	flagConfig     = "config"
	flagRedisURL   = "redis-url"
	flagListenAddr = "listen-addr"
	flagTrustProxy = "trust-proxy"
	flagMetrics    = "metrics-addr"

	balanceReportInterval = time.Minute
	redisHealthInterval   = 30 * time.Second
)

// FaucetCmd returns the command that serves the faucet API and drives the
// claim lane.
func FaucetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faucet",
		Short: "Start the faucet (HTTP API, session manager and claim lane)",
		Long: `Start the faucet service.

The faucet admits sessions through the HTTP API under /api/, tracks them in
Redis and pays out claims one at a time from the faucet wallet. Several
instances may share one Redis; a Redis lease elects the single instance that
submits payouts, the others only serve the API.

Configuration:
  --config: Path to faucet config YAML file (required)

Flags override the config file when set.

Example:
  pocket-faucet faucet --config /path/to/faucet.yaml
  pocket-faucet faucet --config faucet.yaml --redis-url redis://localhost:6379 --listen-addr :8080
`,
		RunE: runFaucet,
	}

	cmd.Flags().String(flagConfig, "", "Path to faucet config YAML file")
	cmd.Flags().String(flagRedisURL, "", "Redis connection URL (overrides config)")
	cmd.Flags().String(flagListenAddr, "", "API listen address (overrides config)")
	cmd.Flags().Bool(flagTrustProxy, false, "Take client addresses from proxy headers (overrides config)")
	cmd.Flags().String(flagMetrics, "", "Metrics listen address (overrides config)")
	_ = cmd.MarkFlagRequired(flagConfig)

	return cmd
}

func runFaucet(cmd *cobra.Command, _ []string) (err error) {
	// Panic recovery for production resilience
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("faucet panic: %v", r)
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	config, err := loadFaucetConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.NewLoggerFromConfig(config.Logging)

	hostname, _ := os.Hostname()
	instanceID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])

	redisClient, err := transportredis.NewClient(ctx, transportredis.ClientConfigFrom(config.Redis))
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer func() { _ = redisClient.Close() }()
	logger.Info().Msg("connected to Redis")

	redisHealth := leader.NewRedisHealthMonitor(logger, redisClient, redisHealthInterval)
	if err := redisHealth.Start(ctx); err != nil {
		return fmt.Errorf("failed to start redis health monitor: %w", err)
	}
	defer func() { _ = redisHealth.Close() }()

	obsServer := observability.NewServer(logger, observability.ServerConfig{
		MetricsEnabled: config.Metrics.Enabled,
		MetricsAddr:    config.Metrics.Addr,
		PprofEnabled:   config.PProf.Enabled,
		PprofAddr:      config.PProf.Addr,
	})
	obsServer.SetReadinessCheck(redisHealth.Ready)
	if config.Metrics.Enabled || config.PProf.Enabled {
		if err := obsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		defer func() { _ = obsServer.Stop() }()
	}

	// Lane elector first: every other component logs its replica role.
	laneElector := leader.NewLaneElector(logger, redisClient, instanceID, config.GetLaneElectorConfig())
	logger = logging.ForInstanceDynamic(logger, instanceID, laneElector)

	workerPool := pond.NewPool(config.GetWorkerPoolSize())
	defer workerPool.StopAndWait()

	faucetWallet, err := wallet.Dial(ctx, logger, config.Ethereum)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	logger.Info().
		Str(logging.FieldAddr, faucetWallet.Address()).
		Str(logging.FieldChainID, faucetWallet.ChainID().String()).
		Msg("faucet wallet ready")

	statusService, err := status.NewService(logger, config.StatusFile)
	if err != nil {
		return fmt.Errorf("failed to load status file: %w", err)
	}
	if err := statusService.Watch(ctx); err != nil {
		logger.Warn().Err(err).Msg("status file hot reload disabled")
	}

	sessionStore := session.NewRedisStore(logger, redisClient, config.GetStoreConfig())
	defer func() { _ = sessionStore.Close() }()

	manager := session.NewManager(logger, sessionStore, session.NewHooks(), config.GetManagerConfig(), workerPool)
	queue := claim.NewQueue(
		logger,
		claim.NewStore(logger, redisClient),
		faucetWallet,
		manager,
		laneElector,
		config.GetQueueConfig(),
	)
	manager.SetClaimQueue(queue)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}
	defer manager.Close()

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start claim queue: %w", err)
	}
	defer queue.Close()

	laneElector.OnElected(func(context.Context) {
		queue.Wake()
	})
	if err := laneElector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start lane elector: %w", err)
	}
	defer laneElector.Close()

	apiServer := api.NewServer(logger, apiServerConfig(config), manager, queue, statusService, faucetWallet)
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start api server: %w", err)
	}
	defer func() { _ = apiServer.Close() }()

	logger.Info().
		Str(logging.FieldListenAddr, config.HTTP.ListenAddr).
		Str(logging.FieldInstance, instanceID).
		Msg("faucet started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutdown signal received, stopping faucet...")
			cancel()
		case <-gCtx.Done():
		}
		return nil
	})

	g.Go(func() error {
		reportBalance(gCtx, logger, faucetWallet)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// Graceful shutdown is handled by defers
	logger.Info().Msg("faucet stopped")
	return nil
}

// reportBalance refreshes the wallet balance gauge until ctx is done.
func reportBalance(ctx context.Context, logger logging.Logger, w *wallet.EthWallet) {
	ticker := time.NewTicker(balanceReportInterval)
	defer ticker.Stop()

	for {
		if _, err := w.Balance(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("failed to refresh faucet balance")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func apiServerConfig(config *faucet.Config) api.ServerConfig {
	display := config.Display
	return api.ServerConfig{
		ListenAddr:   config.HTTP.ListenAddr,
		TrustProxy:   config.HTTP.TrustProxy,
		ReadTimeout:  config.GetReadTimeout(),
		WriteTimeout: config.GetWriteTimeout(),
		Client: api.ClientInfo{
			Title:          display.Title,
			Image:          display.Image,
			HomeHTML:       display.HomeHTML,
			CoinSymbol:     display.CoinSymbol,
			CoinType:       display.CoinType,
			CoinContract:   display.CoinContract,
			CoinDecimals:   display.CoinDecimals,
			TxExplorerLink: display.TxExplorerLink,
			ResultSharing:  display.ResultSharing,
		},
	}
}

// loadFaucetConfig loads the config file and applies flag overrides.
func loadFaucetConfig(cmd *cobra.Command) (*faucet.Config, error) {
	configPath, _ := cmd.Flags().GetString(flagConfig)
	if configPath == "" {
		return nil, fmt.Errorf("--%s is required", flagConfig)
	}

	config, err := faucet.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Flags take precedence over the config file
	if cmd.Flags().Changed(flagRedisURL) {
		config.Redis.URL, _ = cmd.Flags().GetString(flagRedisURL)
	}
	if cmd.Flags().Changed(flagListenAddr) {
		config.HTTP.ListenAddr, _ = cmd.Flags().GetString(flagListenAddr)
	}
	if cmd.Flags().Changed(flagTrustProxy) {
		config.HTTP.TrustProxy, _ = cmd.Flags().GetBool(flagTrustProxy)
	}
	if cmd.Flags().Changed(flagMetrics) {
		config.Metrics.Addr, _ = cmd.Flags().GetString(flagMetrics)
		config.Metrics.Enabled = true
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
