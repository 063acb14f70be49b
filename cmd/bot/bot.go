package bot

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/backrunner/bundle"
	"github.com/michaelpento.lv/backrunner/config"
	"github.com/michaelpento.lv/backrunner/decoder"
	"github.com/michaelpento.lv/backrunner/dex"
	"github.com/michaelpento.lv/backrunner/dex/uniswap"
	"github.com/michaelpento.lv/backrunner/flashbots"
	"github.com/michaelpento.lv/backrunner/flashloan"
	"github.com/michaelpento.lv/backrunner/flashloan/aave"
	"github.com/michaelpento.lv/backrunner/flashloan/balancer"
	"github.com/michaelpento.lv/backrunner/gas"
	"github.com/michaelpento.lv/backrunner/journal"
	"github.com/michaelpento.lv/backrunner/mempool"
	"github.com/michaelpento.lv/backrunner/scheduler"
	"github.com/michaelpento.lv/backrunner/simulator"
	"github.com/michaelpento.lv/backrunner/strategies/arbitrage"
	"github.com/michaelpento.lv/backrunner/utils/metrics"
	"github.com/michaelpento.lv/backrunner/utils/monitor"
)

const (
	metricsNamespace = "backrunner"
	resubscribeDelay = 2 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// Bot wires the pipeline: ingestion feeds the analyzer, the analyzer fills
// the store, and the scheduler drains it into bundle submissions.
type Bot struct {
	cfg    *config.Config
	logger *zap.Logger

	rpcClient *rpc.Client
	client    *ethclient.Client
	registry  *prometheus.Registry

	gas       *gas.Estimator
	ingestor  *mempool.Ingestor
	scheduler *scheduler.Scheduler
	submitter *bundle.Submitter
	journal   *journal.Journal
	monitor   *monitor.SystemMonitor
	server    *http.Server

	wg sync.WaitGroup
}

// New connects to the node and constructs every component.
func New(ctx context.Context, cfg *config.Config, secure *config.SecureConfig, logger *zap.Logger) (*Bot, error) {
	endpoint := cfg.WSEndpoint
	if endpoint == "" {
		endpoint = cfg.RPCEndpoint
	}
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		rpcClient: rpcClient,
		client:    ethclient.NewClient(rpcClient),
		registry:  prometheus.NewRegistry(),
	}
	if err := b.build(secure); err != nil {
		rpcClient.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bot) build(secure *config.SecureConfig) error {
	cfg, logger := b.cfg, b.logger
	chainID := new(big.Int).SetUint64(cfg.ChainID)

	routers, err := config.LoadRegistryFile(cfg.RegistryFile)
	if err != nil {
		return err
	}
	registry, err := decoder.NewRegistryFromConfig(routers)
	if err != nil {
		return fmt.Errorf("failed to build router registry: %w", err)
	}
	dec, err := decoder.New(registry, logger)
	if err != nil {
		return err
	}

	var exchanges []dex.Exchange
	for _, rc := range routers {
		if rc.Surface != config.SurfaceUniswapV2 {
			// routers without a reserve curve are decoded but not quoted
			continue
		}
		ex, err := uniswap.NewV2(rc, b.client)
		if err != nil {
			return fmt.Errorf("failed to create exchange %s: %w", rc.Name, err)
		}
		exchanges = append(exchanges, ex)
	}

	var loans *flashloan.Manager
	premiumBps := cfg.FlashLoanPremiumBps
	kind := bundle.KindCombinedCall
	if cfg.BundleMode == config.BundleModeMulti {
		kind = bundle.KindMultiTx
		if loans, err = newLoanManager(cfg, logger); err != nil {
			return err
		}
		cheapest, err := loans.Cheapest()
		if err != nil {
			return err
		}
		premiumBps = cheapest.PremiumBps()
	}

	sandbox, err := simulator.NewRPCSandbox(b.client)
	if err != nil {
		return err
	}
	sim, err := simulator.New(simulator.Config{
		MaxDepth:            cfg.MaxPathDepth,
		CacheSize:           cfg.SimulationCacheSize,
		MaxCandidates:       cfg.MaxCandidates,
		FlashLoanPremiumBps: premiumBps,
		DefaultTradeAmount:  cfg.DefaultTradeAmount,
		BridgeTokens:        cfg.BridgeAddresses(),
		SuccessProbability:  cfg.SuccessProbability,
	}, exchanges, sandbox, logger, metrics.NewSimulatorMetrics(b.registry, metricsNamespace))
	if err != nil {
		return err
	}

	schedMetrics := metrics.NewSchedulerMetrics(b.registry, metricsNamespace)
	store := scheduler.NewStore(cfg.MaxPendingOpportunities, schedMetrics)

	analyzer, err := arbitrage.NewAnalyzer(dec, sim, store, exchanges, arbitrage.Thresholds{
		MinProfit:         cfg.MinProfitThreshold,
		MinPriceImpactBps: cfg.MinPriceImpactBps,
	}, logger, metrics.NewAnalyzerMetrics(b.registry, metricsNamespace))
	if err != nil {
		return err
	}

	dedup, err := mempool.NewDeduper(cfg.DedupCapacity)
	if err != nil {
		return err
	}
	var feed mempool.Feed
	geth := gethclient.New(b.rpcClient)
	if cfg.UseFullTxFeed {
		feed = mempool.NewFullTxFeed(geth)
	} else {
		feed = mempool.NewHashFeed(geth, b.client, cfg.RPCRateLimit, logger)
	}
	b.ingestor = mempool.NewIngestor(feed, dedup, analyzer, chainID, cfg.IngestWindow, cfg.CPUAffinity,
		logger, metrics.NewIngestionMetrics(b.registry, metricsNamespace))

	signer, err := bundle.NewKeySignerFromHex(secure.PrivateKey, chainID)
	if err != nil {
		return err
	}
	authKey, err := crypto.HexToECDSA(strings.TrimPrefix(secure.FlashbotsKey, "0x"))
	if err != nil {
		return fmt.Errorf("invalid flashbots key: %w", err)
	}

	bundleMetrics := metrics.NewBundleMetrics(b.registry, metricsNamespace)
	builder, err := bundle.NewBuilder(bundle.BuilderConfig{
		Kind:         kind,
		ChainID:      chainID,
		Executor:     common.HexToAddress(cfg.ExecutorContract),
		Combined:     common.HexToAddress(cfg.CombinedContract),
		TargetOffset: cfg.TargetBlockOffset,
		Validity:     cfg.BundleValidity,
		Legs:         cfg.Legs,
	}, b.client, loans, signer, logger, bundleMetrics)
	if err != nil {
		return err
	}

	var outcomes bundle.Journal
	if cfg.JournalPath != "" {
		if b.journal, err = journal.Open(cfg.JournalPath, logger); err != nil {
			return err
		}
		outcomes = b.journal
	}

	relay := flashbots.NewClient(cfg.FlashbotsRPC, authKey, b.client, cfg.FlashbotsRateLimit, logger)
	tracker := bundle.NewTracker(relay, outcomes, cfg.StatusPollInterval, cfg.StatusTimeout, logger, bundleMetrics)
	b.submitter = bundle.NewSubmitter(builder, b.client, relay, tracker, cfg.TargetBlockHorizon, logger, bundleMetrics)

	b.gas = gas.NewEstimator(b.client, cfg.GasUpdateInterval, logger)
	b.gas.SetCeiling(cfg.MaxGasPrice)

	b.scheduler, err = scheduler.New(scheduler.Config{
		Interval:        cfg.SchedulerInterval,
		AssumedGasUnits: cfg.AssumedGasUnits,
		MaxConcurrent:   cfg.MaxConcurrentBundles,
	}, store, b.gas, b.submitter, cfg.CircuitBreaker, logger, schedMetrics)
	if err != nil {
		return err
	}

	b.monitor = monitor.NewSystemMonitor(b.registry, metricsNamespace, cfg.MetricsInterval, logger)

	logger.Info("Pipeline ready",
		zap.Int("routers", len(routers)),
		zap.Int("exchanges", len(exchanges)),
		zap.String("bundle_mode", cfg.BundleMode),
		zap.Uint64("flash_loan_premium_bps", premiumBps),
		zap.String("searcher", signer.Address().Hex()),
	)
	return nil
}

func newLoanManager(cfg *config.Config, logger *zap.Logger) (*flashloan.Manager, error) {
	manager := flashloan.NewManager(logger)
	for _, name := range cfg.FlashLoanProviders {
		switch name {
		case config.FlashLoanAave:
			provider, err := aave.NewAaveProvider(&flashloan.ProviderConfig{
				ContractAddress: common.HexToAddress(cfg.LendingPool),
				PremiumBps:      cfg.FlashLoanPremiumBps,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create aave provider: %w", err)
			}
			manager.AddProvider(provider)
		case config.FlashLoanBalancer:
			provider, err := balancer.NewProvider(common.HexToAddress(cfg.BalancerVault))
			if err != nil {
				return nil, fmt.Errorf("failed to create balancer provider: %w", err)
			}
			manager.AddProvider(provider)
		default:
			return nil, fmt.Errorf("unknown flash loan provider %q", name)
		}
	}
	return manager, nil
}

// Start launches every long-running component and returns immediately.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting backrunner...")

	if b.cfg.PrometheusEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{}))
		b.server = &http.Server{Addr: b.cfg.PrometheusEndpoint, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		b.goRun(func() {
			if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.logger.Error("Metrics server stopped", zap.Error(err))
			}
		})
	}

	b.goRun(func() { b.gas.Start(ctx) })
	b.goRun(func() { b.monitor.Run(ctx) })
	b.goRun(func() { b.scheduler.Run(ctx) })
	b.goRun(func() { b.ingest(ctx) })
	return nil
}

// ingest keeps the mempool subscription alive until ctx is done.
func (b *Bot) ingest(ctx context.Context) {
	for {
		err := b.ingestor.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("Mempool subscription ended, resubscribing", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (b *Bot) goRun(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// Stop waits for the components started by Start to exit. The context
// passed to Start must already be cancelled. Bundles in flight are tracked
// to a terminal status before Stop returns.
func (b *Bot) Stop() {
	b.logger.Info("Stopping backrunner...")
	if b.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := b.server.Shutdown(shutdownCtx); err != nil {
			b.logger.Warn("Metrics server shutdown", zap.Error(err))
		}
		cancel()
	}
	b.wg.Wait()
	b.ingestor.Stop()
	b.scheduler.Wait()
	b.submitter.Wait()

	if b.journal != nil {
		if err := b.journal.Close(); err != nil {
			b.logger.Warn("Failed to close journal", zap.Error(err))
		}
	}
	b.rpcClient.Close()
}
