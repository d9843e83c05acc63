package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

type Config struct {
	Debug bool `json:"debug" yaml:"debug" toml:"debug"`

	Engine         EngineConfig         `json:"engine" yaml:"engine" toml:"engine"`
	Network        NetworkConfig        `json:"network" yaml:"network" toml:"network"`
	Relay          RelayConfig          `json:"relay" yaml:"relay" toml:"relay"`
	FlashLoan      FlashLoanConfig      `json:"flashLoan" yaml:"flashLoan" toml:"flashLoan"`
	Signals        SignalsConfig        `json:"signals" yaml:"signals" toml:"signals"`
	Wallet         WalletConfig         `json:"wallet" yaml:"wallet" toml:"wallet"`
	Metrics        MetricsConfig        `json:"metrics" yaml:"metrics" toml:"metrics"`
	CircuitBreaker CircuitBreakerConfig `json:"circuitBreaker" yaml:"circuitBreaker" toml:"circuitBreaker"`
	RateLimit      RateLimitConfig      `json:"rateLimit" yaml:"rateLimit" toml:"rateLimit"`
}

// EngineConfig controls detection and the per-tick execution pipeline
type EngineConfig struct {
	MaxHops          int     `json:"maxHops" yaml:"maxHops" toml:"maxHops"`
	MinProfitPercent float64 `json:"minProfitPercent" yaml:"minProfitPercent" toml:"minProfitPercent"`
	// MaxSlippage is the largest tolerated price impact per hop, in percent
	MaxSlippage      float64 `json:"maxSlippage" yaml:"maxSlippage" toml:"maxSlippage"`
	ConsiderFees     bool    `json:"considerFees" yaml:"considerFees" toml:"considerFees"`
	ConsiderSlippage bool    `json:"considerSlippage" yaml:"considerSlippage" toml:"considerSlippage"`
	SlippageFactor   float64 `json:"slippageFactor" yaml:"slippageFactor" toml:"slippageFactor"`
	RefineInput      bool    `json:"refineInput" yaml:"refineInput" toml:"refineInput"`
	MaxInputAmount   uint64  `json:"maxInputAmount" yaml:"maxInputAmount" toml:"maxInputAmount"`
	// SlippageBps bounds the minimum output passed to swap adapters
	SlippageBps uint16 `json:"slippageBps" yaml:"slippageBps" toml:"slippageBps"`

	StartTokens          []string `json:"startTokens" yaml:"startTokens" toml:"startTokens"`
	ScanInterval         Duration `json:"scanInterval" yaml:"scanInterval" toml:"scanInterval"`
	MaxExecutionsPerTick int      `json:"maxExecutionsPerTick" yaml:"maxExecutionsPerTick" toml:"maxExecutionsPerTick"`
	MaxSnapshotAge       Duration `json:"maxSnapshotAge" yaml:"maxSnapshotAge" toml:"maxSnapshotAge"`
	RecentAttemptsSize   int      `json:"recentAttemptsSize" yaml:"recentAttemptsSize" toml:"recentAttemptsSize"`
	RecentAttemptsTTL    Duration `json:"recentAttemptsTTL" yaml:"recentAttemptsTTL" toml:"recentAttemptsTTL"`
	TrackInterval        Duration `json:"trackInterval" yaml:"trackInterval" toml:"trackInterval"`
	TrackMaxPolls        int      `json:"trackMaxPolls" yaml:"trackMaxPolls" toml:"trackMaxPolls"`
	// DryRun stops each plan after simulation
	DryRun bool `json:"dryRun" yaml:"dryRun" toml:"dryRun"`
}

// NetworkConfig points at the Solana node and the pool collector
type NetworkConfig struct {
	RPCEndpoint    string   `json:"rpcEndpoint" yaml:"rpcEndpoint" toml:"rpcEndpoint"`
	CollectorURL   string   `json:"collectorUrl" yaml:"collectorUrl" toml:"collectorUrl"`
	SnapshotFile   string   `json:"snapshotFile" yaml:"snapshotFile" toml:"snapshotFile"`
	RequestTimeout Duration `json:"requestTimeout" yaml:"requestTimeout" toml:"requestTimeout"`
	// MaxSnapshotBytes caps the collector response size
	MaxSnapshotBytes int64 `json:"maxSnapshotBytes" yaml:"maxSnapshotBytes" toml:"maxSnapshotBytes"`

	MinPriorityFee        uint64   `json:"minPriorityFee" yaml:"minPriorityFee" toml:"minPriorityFee"`
	MaxPriorityFee        uint64   `json:"maxPriorityFee" yaml:"maxPriorityFee" toml:"maxPriorityFee"`
	PriorityFeeMultiplier float64  `json:"priorityFeeMultiplier" yaml:"priorityFeeMultiplier" toml:"priorityFeeMultiplier"`
	FeeUpdateInterval     Duration `json:"feeUpdateInterval" yaml:"feeUpdateInterval" toml:"feeUpdateInterval"`
}

// RelayConfig configures bundle submission through the Jito block engine
type RelayConfig struct {
	UseJitoBundles bool     `json:"useJitoBundles" yaml:"useJitoBundles" toml:"useJitoBundles"`
	URL            string   `json:"url" yaml:"url" toml:"url"`
	AuthUUID       string   `json:"authUuid" yaml:"authUuid" toml:"authUuid"`
	JitoTipAmount  uint64   `json:"jitoTipAmount" yaml:"jitoTipAmount" toml:"jitoTipAmount"`
	MaxTip         uint64   `json:"maxTip" yaml:"maxTip" toml:"maxTip"`
	TipAccounts    []string `json:"tipAccounts" yaml:"tipAccounts" toml:"tipAccounts"`
	MaxAttempts    int      `json:"maxAttempts" yaml:"maxAttempts" toml:"maxAttempts"`
	BackoffBase    Duration `json:"backoffBase" yaml:"backoffBase" toml:"backoffBase"`
	Timeout        Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	ComputeUnitCap uint32   `json:"computeUnitCap" yaml:"computeUnitCap" toml:"computeUnitCap"`
}

type FlashLoanConfig struct {
	UseFlashLoans      bool    `json:"useFlashLoans" yaml:"useFlashLoans" toml:"useFlashLoans"`
	MaxFlashLoanAmount uint64  `json:"maxFlashLoanAmount" yaml:"maxFlashLoanAmount" toml:"maxFlashLoanAmount"`
	MinRetention       float64 `json:"minRetention" yaml:"minRetention" toml:"minRetention"`

	Providers []LendingProviderConfig `json:"providers" yaml:"providers" toml:"providers"`
}

// LendingProviderConfig describes one reserve-based lending program
type LendingProviderConfig struct {
	Name          string          `json:"name" yaml:"name" toml:"name"`
	ProgramID     string          `json:"programId" yaml:"programId" toml:"programId"`
	LendingMarket string          `json:"lendingMarket" yaml:"lendingMarket" toml:"lendingMarket"`
	FeeBps        uint16          `json:"feeBps" yaml:"feeBps" toml:"feeBps"`
	Reserves      []ReserveConfig `json:"reserves" yaml:"reserves" toml:"reserves"`
}

type ReserveConfig struct {
	Mint            string `json:"mint" yaml:"mint" toml:"mint"`
	Address         string `json:"address" yaml:"address" toml:"address"`
	LiquiditySupply string `json:"liquiditySupply" yaml:"liquiditySupply" toml:"liquiditySupply"`
	FeeReceiver     string `json:"feeReceiver" yaml:"feeReceiver" toml:"feeReceiver"`
}

type SignalsConfig struct {
	EnableSignalMonitoring bool        `json:"enableSignalMonitoring" yaml:"enableSignalMonitoring" toml:"enableSignalMonitoring"`
	QueueSize              int         `json:"queueSize" yaml:"queueSize" toml:"queueSize"`
	LargeSwapThreshold     float64     `json:"largeSwapThreshold" yaml:"largeSwapThreshold" toml:"largeSwapThreshold"`
	PegDeviationPercent    float64     `json:"pegDeviationPercent" yaml:"pegDeviationPercent" toml:"pegDeviationPercent"`
	Pegs                   []PegConfig `json:"pegs" yaml:"pegs" toml:"pegs"`

	WebSocketURL   string   `json:"webSocketUrl" yaml:"webSocketUrl" toml:"webSocketUrl"`
	RedisAddr      string   `json:"redisAddr" yaml:"redisAddr" toml:"redisAddr"`
	RedisChannel   string   `json:"redisChannel" yaml:"redisChannel" toml:"redisChannel"`
	PollInterval   Duration `json:"pollInterval" yaml:"pollInterval" toml:"pollInterval"`
	ReconnectDelay Duration `json:"reconnectDelay" yaml:"reconnectDelay" toml:"reconnectDelay"`
}

// PegConfig pairs a liquid staking token with its underlying at a fair exchange rate
type PegConfig struct {
	Derivative string  `json:"derivative" yaml:"derivative" toml:"derivative"`
	Underlying string  `json:"underlying" yaml:"underlying" toml:"underlying"`
	FairRate   float64 `json:"fairRate" yaml:"fairRate" toml:"fairRate"`
}

type WalletConfig struct {
	KeypairPaths []string `json:"keypairPaths" yaml:"keypairPaths" toml:"keypairPaths"`
	// PrivateKeysEnv names the environment variable holding comma separated base58 keys
	PrivateKeysEnv string `json:"privateKeysEnv" yaml:"privateKeysEnv" toml:"privateKeysEnv"`
	// LeaseRedisAddr enables cross-process signer leases when set
	LeaseRedisAddr string   `json:"leaseRedisAddr" yaml:"leaseRedisAddr" toml:"leaseRedisAddr"`
	LeaseTTL       Duration `json:"leaseTtl" yaml:"leaseTtl" toml:"leaseTtl"`
	// ReserveLamports stays untouched in each signer for fees and rent
	ReserveLamports uint64 `json:"reserveLamports" yaml:"reserveLamports" toml:"reserveLamports"`
}

type MetricsConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	ListenAddr string `json:"listenAddr" yaml:"listenAddr" toml:"listenAddr"`
	// StatusInterval is how often a status line is logged; 0 disables it
	StatusInterval Duration `json:"statusInterval" yaml:"statusInterval" toml:"statusInterval"`
}

type CircuitBreakerConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	ErrorThreshold int      `json:"errorThreshold" yaml:"errorThreshold" toml:"errorThreshold"`
	ResetInterval  Duration `json:"resetInterval" yaml:"resetInterval" toml:"resetInterval"`
	CooldownPeriod Duration `json:"cooldownPeriod" yaml:"cooldownPeriod" toml:"cooldownPeriod"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requestsPerSecond" yaml:"requestsPerSecond" toml:"requestsPerSecond"`
	BurstSize         int     `json:"burstSize" yaml:"burstSize" toml:"burstSize"`
}

// DefaultConfig returns settings suitable for a mainnet dry run
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxHops:              3,
			MinProfitPercent:     0.1,
			MaxSlippage:          1.0,
			ConsiderFees:         true,
			ConsiderSlippage:     true,
			SlippageFactor:       1.0,
			SlippageBps:          50,
			StartTokens:          []string{solana.SolMint.String()},
			ScanInterval:         Duration(2 * time.Second),
			MaxExecutionsPerTick: 3,
			MaxSnapshotAge:       Duration(5 * time.Second),
			RecentAttemptsSize:   1024,
			RecentAttemptsTTL:    Duration(30 * time.Second),
			TrackInterval:        Duration(time.Second),
			TrackMaxPolls:        30,
		},
		Network: NetworkConfig{
			RPCEndpoint:           "https://api.mainnet-beta.solana.com",
			RequestTimeout:        Duration(5 * time.Second),
			MaxSnapshotBytes:      64 << 20,
			MinPriorityFee:        1_000,
			MaxPriorityFee:        1_000_000,
			PriorityFeeMultiplier: 1.2,
			FeeUpdateInterval:     Duration(10 * time.Second),
		},
		Relay: RelayConfig{
			UseJitoBundles: true,
			URL:            "https://mainnet.block-engine.jito.wtf/api/v1/bundles",
			JitoTipAmount:  10_000,
			MaxTip:         5_000_000,
			MaxAttempts:    3,
			BackoffBase:    Duration(time.Second),
			Timeout:        Duration(5 * time.Second),
			ComputeUnitCap: 400_000,
		},
		FlashLoan: FlashLoanConfig{
			UseFlashLoans:      true,
			MaxFlashLoanAmount: 1_000_000_000_000,
			MinRetention:       0.8,
		},
		Signals: SignalsConfig{
			EnableSignalMonitoring: false,
			QueueSize:              1024,
			LargeSwapThreshold:     1000,
			PegDeviationPercent:    0.5,
			RedisChannel:           "solarb:signals",
			PollInterval:           Duration(time.Second),
			ReconnectDelay:         Duration(5 * time.Second),
		},
		Wallet: WalletConfig{
			PrivateKeysEnv:  EnvPrivateKeys,
			LeaseTTL:        Duration(time.Minute),
			ReserveLamports: 10_000_000,
		},
		Metrics: MetricsConfig{
			Enabled:        false,
			ListenAddr:     ":9464",
			StatusInterval: Duration(time.Minute),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        true,
			ErrorThreshold: 10,
			ResetInterval:  Duration(time.Minute),
			CooldownPeriod: Duration(30 * time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			BurstSize:         5,
		},
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errors []string

	e := c.Engine
	if e.MaxHops < 2 {
		errors = append(errors, "engine.maxHops must be at least 2")
	}
	if e.MinProfitPercent < 0 {
		errors = append(errors, "engine.minProfitPercent must not be negative")
	}
	if e.MaxSlippage < 0 {
		errors = append(errors, "engine.maxSlippage must not be negative")
	}
	if e.SlippageFactor < 0 {
		errors = append(errors, "engine.slippageFactor must not be negative")
	}
	if e.SlippageBps >= 10000 {
		errors = append(errors, "engine.slippageBps must be below 10000")
	}
	if len(e.StartTokens) == 0 {
		errors = append(errors, "engine.startTokens must not be empty")
	}
	for _, mint := range e.StartTokens {
		if _, err := solana.PublicKeyFromBase58(mint); err != nil {
			errors = append(errors, fmt.Sprintf("engine.startTokens: invalid mint %q", mint))
		}
	}
	if e.ScanInterval <= 0 {
		errors = append(errors, "engine.scanInterval must be positive")
	}
	if e.MaxExecutionsPerTick <= 0 {
		errors = append(errors, "engine.maxExecutionsPerTick must be positive")
	}

	if c.Network.RPCEndpoint == "" {
		errors = append(errors, "network.rpcEndpoint must be specified")
	}
	if c.Network.MaxPriorityFee < c.Network.MinPriorityFee {
		errors = append(errors, "network.maxPriorityFee must not be below minPriorityFee")
	}
	if c.Network.MaxSnapshotBytes < 0 {
		errors = append(errors, "network.maxSnapshotBytes must not be negative")
	}

	if c.Relay.UseJitoBundles && c.Relay.URL == "" {
		errors = append(errors, "relay.url must be specified when useJitoBundles is enabled")
	}
	if c.Relay.MaxTip > 0 && c.Relay.JitoTipAmount > c.Relay.MaxTip {
		errors = append(errors, "relay.jitoTipAmount must not exceed relay.maxTip")
	}
	if c.Relay.MaxAttempts <= 0 {
		errors = append(errors, "relay.maxAttempts must be positive")
	}
	for _, acct := range c.Relay.TipAccounts {
		if _, err := solana.PublicKeyFromBase58(acct); err != nil {
			errors = append(errors, fmt.Sprintf("relay.tipAccounts: invalid account %q", acct))
		}
	}

	if c.FlashLoan.MinRetention < 0 || c.FlashLoan.MinRetention > 1 {
		errors = append(errors, "flashLoan.minRetention must be within [0,1]")
	}
	for _, p := range c.FlashLoan.Providers {
		if err := p.Validate(); err != nil {
			errors = append(errors, fmt.Sprintf("flashLoan provider %q: %v", p.Name, err))
		}
	}

	if c.Signals.EnableSignalMonitoring {
		if c.Signals.QueueSize <= 0 {
			errors = append(errors, "signals.queueSize must be positive")
		}
		if c.Signals.PegDeviationPercent < 0 || c.Signals.LargeSwapThreshold < 0 {
			errors = append(errors, "signals thresholds must not be negative")
		}
		for _, peg := range c.Signals.Pegs {
			if peg.FairRate <= 0 {
				errors = append(errors, fmt.Sprintf("signals.pegs: fair rate for %s must be positive", peg.Derivative))
			}
		}
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		errors = append(errors, "metrics.listenAddr must be specified when metrics are enabled")
	}

	if err := c.CircuitBreaker.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("circuit breaker error: %v", err))
	}
	if err := c.RateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("rate limit error: %v", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (p *LendingProviderConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name must be specified")
	}
	if _, err := solana.PublicKeyFromBase58(p.ProgramID); err != nil {
		return fmt.Errorf("invalid program id: %w", err)
	}
	if _, err := solana.PublicKeyFromBase58(p.LendingMarket); err != nil {
		return fmt.Errorf("invalid lending market: %w", err)
	}
	if p.FeeBps >= 10000 {
		return fmt.Errorf("fee must be below 10000 bps")
	}
	return nil
}

func (c *CircuitBreakerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ErrorThreshold <= 0 {
		return fmt.Errorf("error threshold must be positive")
	}
	if c.ResetInterval <= 0 {
		return fmt.Errorf("reset interval must be positive")
	}
	if c.CooldownPeriod <= 0 {
		return fmt.Errorf("cooldown period must be positive")
	}
	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second must not be negative")
	}
	if r.RequestsPerSecond > 0 && r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	return nil
}

// StartMints parses the configured start tokens
func (c *Config) StartMints() ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(c.Engine.StartTokens))
	for _, s := range c.Engine.StartTokens {
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("invalid start token %q: %w", s, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

// TipAccountKeys parses the configured tip accounts
func (c *Config) TipAccountKeys() ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(c.Relay.TipAccounts))
	for _, s := range c.Relay.TipAccounts {
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("invalid tip account %q: %w", s, err)
		}
		out = append(out, pk)
	}
	return out, nil
}
