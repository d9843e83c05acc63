package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/solarb/bundler"
	"github.com/michaelpento.lv/solarb/cmd/bot"
	"github.com/michaelpento.lv/solarb/config"
	"github.com/michaelpento.lv/solarb/dex"
	"github.com/michaelpento.lv/solarb/flashloan"
	"github.com/michaelpento.lv/solarb/flashloan/lending"
	"github.com/michaelpento.lv/solarb/gas"
	"github.com/michaelpento.lv/solarb/jito"
	"github.com/michaelpento.lv/solarb/risk"
	"github.com/michaelpento.lv/solarb/signals"
	"github.com/michaelpento.lv/solarb/simulator"
	"github.com/michaelpento.lv/solarb/strategies/arbitrage"
	"github.com/michaelpento.lv/solarb/utils"
	"github.com/michaelpento.lv/solarb/utils/monitor"
	"github.com/michaelpento.lv/solarb/wallet"
)

// engine holds everything start and scan build from a configuration
type engine struct {
	cfg       *config.Config
	logger    *zap.Logger
	client    *rpc.Client
	snapshots dex.SnapshotSource
	estimator *gas.Estimator
	adapters  *dex.AdapterRegistry
	signers   *wallet.Pool
	bot       *bot.Bot

	relay   *jito.Client
	monitor *signals.Monitor
	sources []signals.Source
	rdb     []*redis.Client
}

func snapshotSource(cfg *config.Config, logger *zap.Logger) (dex.SnapshotSource, error) {
	switch {
	case cfg.Network.SnapshotFile != "":
		return dex.NewFileSource(cfg.Network.SnapshotFile, logger), nil
	case cfg.Network.CollectorURL != "":
		return dex.NewHTTPSource(cfg.Network.CollectorURL, cfg.Network.RequestTimeout.Std(), cfg.Network.MaxSnapshotBytes, logger), nil
	default:
		return nil, errors.New("either network.collectorUrl or network.snapshotFile must be set")
	}
}

func botOptions(cfg *config.Config) bot.Options {
	e := cfg.Engine
	return bot.Options{
		MaxExecutionsPerTick: e.MaxExecutionsPerTick,
		MaxSnapshotAge:       e.MaxSnapshotAge.Std(),
		SlippageBps:          e.SlippageBps,
		UseBundles:           cfg.Relay.UseJitoBundles,
		BaseTip:              cfg.Relay.JitoTipAmount,
		MaxTip:               cfg.Relay.MaxTip,
		TrackInterval:        e.TrackInterval.Std(),
		TrackMaxPolls:        e.TrackMaxPolls,
		DryRun:               e.DryRun,
		Attempts: bot.AttemptConfig{
			MaxSize:      e.RecentAttemptsSize,
			EvictionTime: e.RecentAttemptsTTL.Std(),
		},
	}
}

// newDetection builds the read-only half of the engine: snapshots, costs, search and risk
func newDetection(cfg *config.Config, logger *zap.Logger) (*engine, bot.Deps, error) {
	snapshots, err := snapshotSource(cfg, logger)
	if err != nil {
		return nil, bot.Deps{}, err
	}
	client := rpc.New(cfg.Network.RPCEndpoint)

	estimator := gas.NewEstimator(gas.NewRPCFeeSource(client), gas.Config{
		MinPriorityFee: cfg.Network.MinPriorityFee,
		MaxPriorityFee: cfg.Network.MaxPriorityFee,
		Multiplier:     cfg.Network.PriorityFeeMultiplier,
		UpdateInterval: cfg.Network.FeeUpdateInterval.Std(),
		Signatures:     gas.BundleSignatures(cfg.Relay.UseJitoBundles),
	}, logger.Named("gas"))

	var baseTip uint64
	if cfg.Relay.UseJitoBundles {
		baseTip = cfg.Relay.JitoTipAmount
	}
	e := cfg.Engine
	pathfinder := arbitrage.NewPathfinder(arbitrage.Config{
		MaxHops:          e.MaxHops,
		MinProfitPercent: e.MinProfitPercent,
		MaxSlippage:      e.MaxSlippage,
		BaseTipLamports:  baseTip,
		MaxInputAmount:   e.MaxInputAmount,
		RefineInput:      e.RefineInput,
	}, dex.NewValuator(e.ConsiderFees, e.ConsiderSlippage, e.SlippageFactor), estimator, logger.Named("pathfinder"))

	deps := bot.Deps{
		Pathfinder: pathfinder,
		Scorer:     risk.NewScorer(risk.DefaultConfig(), nil, nil, logger.Named("risk")),
		Costs:      estimator,
	}
	return &engine{
		cfg:       cfg,
		logger:    logger,
		client:    client,
		snapshots: snapshots,
		estimator: estimator,
	}, deps, nil
}

// newEngine builds the full engine including signing, funding and submission
func newEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*engine, error) {
	eng, deps, err := newDetection(cfg, logger)
	if err != nil {
		return nil, err
	}

	signers, err := wallet.LoadSigners(cfg.Wallet.KeypairPaths, cfg.Wallet.PrivateKeysEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to load signers: %w", err)
	}
	var locker wallet.Locker
	if cfg.Wallet.LeaseRedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Wallet.LeaseRedisAddr})
		eng.rdb = append(eng.rdb, rdb)
		locker = wallet.NewRedisLocker(rdb)
	}
	pool, err := wallet.NewPool(signers, locker, cfg.Wallet.LeaseTTL.Std(), logger.Named("wallet"), reg)
	if err != nil {
		return nil, err
	}
	deps.Signers = pool
	eng.signers = pool
	deps.Capital = wallet.NewCapital(wallet.NewRPCBalances(eng.client), cfg.Wallet.ReserveLamports)

	if cfg.FlashLoan.UseFlashLoans {
		deps.FlashLoans, err = newFlashLoans(cfg, eng.client, logger, reg)
		if err != nil {
			return nil, err
		}
	}

	tipKeys, err := cfg.TipAccountKeys()
	if err != nil {
		return nil, err
	}
	tips := jito.NewTipSelector(tipKeys)

	var relay bundler.Relay
	if cfg.Relay.UseJitoBundles {
		eng.relay, err = jito.NewClient(ctx, jito.Config{
			URL:         cfg.Relay.URL,
			AuthUUID:    cfg.Relay.AuthUUID,
			Timeout:     cfg.Relay.Timeout.Std(),
			MaxAttempts: cfg.Relay.MaxAttempts,
			BackoffBase: cfg.Relay.BackoffBase.Std(),
			RateLimit:   cfg.RateLimit.RequestsPerSecond,
			RateBurst:   cfg.RateLimit.BurstSize,
		}, logger.Named("jito"), reg)
		if err != nil {
			return nil, err
		}
		relay = eng.relay
		if len(tipKeys) == 0 {
			if accounts, err := eng.relay.GetTipAccounts(ctx); err != nil {
				logger.Warn("Failed to fetch tip accounts, using defaults", zap.Error(err))
			} else {
				tips.Refresh(accounts)
			}
		}
	}

	broadcaster := bundler.NewRPCBroadcaster(eng.client)
	deps.Bundles, err = bundler.NewManager(bundler.Config{
		UseBundles:     cfg.Relay.UseJitoBundles,
		BaseTip:        cfg.Relay.JitoTipAmount,
		MaxTip:         cfg.Relay.MaxTip,
		ComputeUnitCap: cfg.Relay.ComputeUnitCap,
	}, relay, broadcaster, broadcaster,
		simulator.NewSimulator(simulator.NewRPCBackend(eng.client), logger.Named("simulator")),
		tips, logger.Named("bundler"), reg)
	if err != nil {
		return nil, err
	}

	// swap encodings are registered by integrations; without them every plan is abandoned at build
	eng.adapters = dex.NewAdapterRegistry()
	deps.Adapters = eng.adapters

	if cfg.CircuitBreaker.Enabled {
		deps.Breaker = utils.NewCircuitBreaker("execution", cfg.CircuitBreaker, logger.Named("breaker"), reg)
	}

	if cfg.Signals.EnableSignalMonitoring {
		if err := eng.addSignals(reg); err != nil {
			return nil, err
		}
		deps.Signals = eng.monitor
	}

	if err := eng.newBot(deps, reg); err != nil {
		return nil, err
	}
	return eng, nil
}

func (e *engine) newBot(deps bot.Deps, reg prometheus.Registerer) error {
	b, err := bot.New(botOptions(e.cfg), deps, e.logger.Named("engine"), reg)
	if err != nil {
		return err
	}
	starts, err := e.cfg.StartMints()
	if err != nil {
		return err
	}
	if err := b.AddAgent(bot.NewAgent("main", e.snapshots, starts, e.cfg.Engine.ScanInterval.Std(), e.logger)); err != nil {
		return err
	}
	e.bot = b
	return nil
}

func newFlashLoans(cfg *config.Config, client *rpc.Client, logger *zap.Logger, reg prometheus.Registerer) (*flashloan.Manager, error) {
	manager := flashloan.NewManager(flashloan.Config{
		Enabled:      true,
		MaxAmount:    cfg.FlashLoan.MaxFlashLoanAmount,
		MinRetention: decimal.NewFromFloat(cfg.FlashLoan.MinRetention),
	}, logger.Named("flashloan"), reg)

	balances := lending.NewRPCBalanceReader(client)
	for _, pc := range cfg.FlashLoan.Providers {
		lc, err := lendingConfig(pc)
		if err != nil {
			return nil, fmt.Errorf("flash loan provider %q: %w", pc.Name, err)
		}
		provider, err := lending.NewProvider(lc, balances, logger.Named(pc.Name))
		if err != nil {
			return nil, err
		}
		manager.AddProvider(provider)
	}
	return manager, nil
}

func lendingConfig(pc config.LendingProviderConfig) (lending.Config, error) {
	lc := lending.Config{
		Name:     pc.Name,
		FeeBps:   pc.FeeBps,
		Reserves: make(map[solana.PublicKey]lending.Reserve, len(pc.Reserves)),
	}
	var err error
	if lc.ProgramID, err = solana.PublicKeyFromBase58(pc.ProgramID); err != nil {
		return lc, fmt.Errorf("invalid program id: %w", err)
	}
	if lc.LendingMarket, err = solana.PublicKeyFromBase58(pc.LendingMarket); err != nil {
		return lc, fmt.Errorf("invalid lending market: %w", err)
	}
	for _, rc := range pc.Reserves {
		keys := make([]solana.PublicKey, 4)
		for i, s := range []string{rc.Mint, rc.Address, rc.LiquiditySupply, rc.FeeReceiver} {
			if keys[i], err = solana.PublicKeyFromBase58(s); err != nil {
				return lc, fmt.Errorf("invalid reserve account %q: %w", s, err)
			}
		}
		lc.Reserves[keys[0]] = lending.Reserve{
			Address:         keys[1],
			LiquiditySupply: keys[2],
			FeeReceiver:     keys[3],
		}
	}
	return lc, nil
}

func (e *engine) addSignals(reg prometheus.Registerer) error {
	sc := e.cfg.Signals
	pegs := make([]signals.Peg, 0, len(sc.Pegs))
	for _, p := range sc.Pegs {
		derivative, err := solana.PublicKeyFromBase58(p.Derivative)
		if err != nil {
			return fmt.Errorf("invalid peg derivative %q: %w", p.Derivative, err)
		}
		underlying, err := solana.PublicKeyFromBase58(p.Underlying)
		if err != nil {
			return fmt.Errorf("invalid peg underlying %q: %w", p.Underlying, err)
		}
		pegs = append(pegs, signals.Peg{Derivative: derivative, Underlying: underlying, FairRate: p.FairRate})
	}

	logger := e.logger.Named("signals")
	e.monitor = signals.NewMonitor(signals.Config{
		QueueSize:      sc.QueueSize,
		ReconnectDelay: sc.ReconnectDelay.Std(),
	}, logger, reg)

	detector := signals.NewDetector(signals.DetectorConfig{
		LargeSwapThreshold:  sc.LargeSwapThreshold,
		PegDeviationPercent: sc.PegDeviationPercent,
		Pegs:                pegs,
	})
	e.sources = append(e.sources, signals.NewPollingSource(e.snapshots, detector, sc.PollInterval.Std(), logger))
	if sc.WebSocketURL != "" {
		e.sources = append(e.sources, signals.NewWebSocketSource(sc.WebSocketURL, logger))
	}
	if sc.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: sc.RedisAddr})
		e.rdb = append(e.rdb, rdb)
		e.sources = append(e.sources, signals.NewRedisSource(rdb, sc.RedisChannel, logger))
	}
	return nil
}

// run starts background workers and the bot, and blocks until ctx is cancelled
func (e *engine) run(ctx context.Context, reg prometheus.Registerer) error {
	go e.estimator.Run(ctx)

	if e.monitor != nil {
		go e.monitor.Run(ctx)
		for _, src := range e.sources {
			var breaker *utils.CircuitBreaker
			if e.cfg.CircuitBreaker.Enabled {
				breaker = utils.NewCircuitBreaker("signals_"+src.Name(), e.cfg.CircuitBreaker, e.logger.Named("breaker"), reg)
			}
			go e.monitor.RunSource(ctx, src, breaker)
		}
	}

	if interval := e.cfg.Metrics.StatusInterval.Std(); interval > 0 {
		mon := monitor.NewSystemMonitor(interval, e.logger.Named("status"))
		mon.AddStatus("engine", e.status)
		go mon.Run(ctx)
	}

	if err := e.bot.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.bot.Stop()
	return nil
}

func (e *engine) status() []zap.Field {
	fields := []zap.Field{
		zap.Any("outcomes", e.bot.Outcomes().Counts()),
		zap.Uint64("priorityFee", e.estimator.PriorityFee()),
	}
	if e.signers != nil {
		fields = append(fields,
			zap.Int("signers", e.signers.Size()),
			zap.Int("signersAvailable", e.signers.Available()))
	}
	return fields
}

func (e *engine) close() {
	if e.monitor != nil {
		e.monitor.Close()
	}
	if e.relay != nil {
		e.relay.Close()
	}
	for _, rdb := range e.rdb {
		if err := rdb.Close(); err != nil {
			e.logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
}
