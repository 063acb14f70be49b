package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Bundle submission shapes.
const (
	BundleModeMulti    = "multi"
	BundleModeCombined = "combined"
)

// Flash loan providers.
const (
	FlashLoanAave     = "aave"
	FlashLoanBalancer = "balancer"
)

type Config struct {
	// Chain and network settings
	ChainID      uint64 `json:"chain_id"`
	RPCEndpoint  string `json:"rpc_endpoint"`
	WSEndpoint   string `json:"ws_endpoint"`
	FlashbotsRPC string `json:"flashbots_rpc"`

	// Contracts the bundle legs are sent to
	LendingPool      string `json:"lending_pool"`
	ExecutorContract string `json:"executor_contract"`
	CombinedContract string `json:"combined_contract"`

	// Flash loan providers in preference order; the cheapest premium wins
	FlashLoanProviders []string `json:"flash_loan_providers"`
	BalancerVault      string   `json:"balancer_vault"`

	// Router registry and path search
	RegistryFile  string   `json:"registry_file"`
	BridgeTokens  []string `json:"bridge_tokens"`
	MaxPathDepth  int      `json:"max_path_depth"`
	MaxCandidates int      `json:"max_candidates"`

	// Intervals
	SchedulerInterval  time.Duration `json:"scheduler_interval"`
	GasUpdateInterval  time.Duration `json:"gas_update_interval"`
	StatusPollInterval time.Duration `json:"status_poll_interval"`
	StatusTimeout      time.Duration `json:"status_timeout"`
	BundleValidity     time.Duration `json:"bundle_validity"`
	MetricsInterval    time.Duration `json:"metrics_interval"`

	// Profitability thresholds
	MinProfitThreshold  *big.Int `json:"min_profit_threshold"`
	MinPriceImpactBps   uint64   `json:"min_price_impact_bps"`
	MaxGasPrice         *big.Int `json:"max_gas_price"`
	AssumedGasUnits     uint64   `json:"assumed_gas_units"`
	DefaultTradeAmount  *big.Int `json:"default_trade_amount"`
	FlashLoanPremiumBps uint64   `json:"flash_loan_premium_bps"`
	SuccessProbability  float64  `json:"success_probability"`

	// Bundle shape
	BundleMode         string    `json:"bundle_mode"`
	TargetBlockOffset  uint64    `json:"target_block_offset"`
	TargetBlockHorizon uint64    `json:"target_block_horizon"`
	Legs               LegPolicy `json:"legs"`

	// Capacities
	MaxPendingOpportunities int   `json:"max_pending_opportunities"`
	MaxConcurrentBundles    int   `json:"max_concurrent_bundles"`
	DedupCapacity           int   `json:"dedup_capacity"`
	SimulationCacheSize     int   `json:"simulation_cache_size"`
	IngestWindow            int   `json:"ingest_window"`
	UseFullTxFeed           bool  `json:"use_full_tx_feed"`
	CPUAffinity             []int `json:"cpu_affinity"`

	CircuitBreaker     CircuitBreakerConfig `json:"circuit_breaker"`
	RPCRateLimit       RateLimitConfig      `json:"rpc_rate_limit"`
	FlashbotsRateLimit RateLimitConfig      `json:"flashbots_rate_limit"`

	// Feature flags
	PrometheusEnabled  bool   `json:"prometheus_enabled"`
	PrometheusEndpoint string `json:"prometheus_endpoint"`
	JournalPath        string `json:"journal_path"`

	// Internal components
	Logger *zap.Logger `json:"-"`
}

// LegPolicy sets the revert-allowed flag of each multi-transaction leg.
type LegPolicy struct {
	FlashLoanRevertAllowed bool `json:"flash_loan_revert_allowed"`
	ArbitrageRevertAllowed bool `json:"arbitrage_revert_allowed"`
	RepayRevertAllowed     bool `json:"repay_revert_allowed"`
}

type CircuitBreakerConfig struct {
	Enabled        bool          `json:"enabled"`
	ErrorThreshold int           `json:"error_threshold"`
	CooldownPeriod time.Duration `json:"cooldown_period"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second"`
	BurstSize         int           `json:"burst_size"`
	WaitTimeout       time.Duration `json:"wait_timeout"`
}

type SecureConfig struct {
	PrivateKey   string
	FlashbotsKey string
}

func (c *Config) ValidateConfig() error {
	var errs []string

	// Validate Chain and Network settings
	if c.ChainID == 0 {
		errs = append(errs, "chain_id must be specified")
	}
	if c.RPCEndpoint == "" {
		errs = append(errs, "rpc_endpoint must be specified")
	}
	if c.FlashbotsRPC == "" {
		errs = append(errs, "flashbots_rpc must be specified")
	}

	// Validate thresholds
	if c.MinProfitThreshold == nil || c.MinProfitThreshold.Sign() <= 0 {
		errs = append(errs, "min_profit_threshold must be positive")
	}
	if c.MaxGasPrice == nil || c.MaxGasPrice.Sign() <= 0 {
		errs = append(errs, "max_gas_price must be positive")
	}
	if c.DefaultTradeAmount == nil || c.DefaultTradeAmount.Sign() <= 0 {
		errs = append(errs, "default_trade_amount must be positive")
	}
	if c.AssumedGasUnits == 0 {
		errs = append(errs, "assumed_gas_units must be positive")
	}
	if c.SuccessProbability < 0 || c.SuccessProbability > 1 {
		errs = append(errs, "success_probability must be within [0, 1]")
	}

	// Validate pipeline shape
	if c.MaxPathDepth < 2 {
		errs = append(errs, "max_path_depth must be at least 2")
	}
	if c.SchedulerInterval <= 0 {
		errs = append(errs, "scheduler_interval must be positive")
	}
	if c.StatusPollInterval <= 0 || c.StatusTimeout <= 0 {
		errs = append(errs, "status_poll_interval and status_timeout must be positive")
	}
	if c.TargetBlockOffset == 0 || c.TargetBlockOffset > c.TargetBlockHorizon {
		errs = append(errs, "target_block_offset must be within [1, target_block_horizon]")
	}
	switch c.BundleMode {
	case BundleModeMulti:
		if !common.IsHexAddress(c.LendingPool) || !common.IsHexAddress(c.ExecutorContract) {
			errs = append(errs, "multi bundle mode needs lending_pool and executor_contract")
		}
		if len(c.FlashLoanProviders) == 0 {
			errs = append(errs, "multi bundle mode needs at least one flash loan provider")
		}
		for _, name := range c.FlashLoanProviders {
			switch name {
			case FlashLoanAave:
			case FlashLoanBalancer:
				if !common.IsHexAddress(c.BalancerVault) {
					errs = append(errs, "balancer flash loans need balancer_vault")
				}
			default:
				errs = append(errs, fmt.Sprintf("unknown flash loan provider %q", name))
			}
		}
	case BundleModeCombined:
		if !common.IsHexAddress(c.CombinedContract) {
			errs = append(errs, "combined bundle mode needs combined_contract")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown bundle_mode %q", c.BundleMode))
	}
	for _, token := range c.BridgeTokens {
		if !common.IsHexAddress(token) {
			errs = append(errs, fmt.Sprintf("bridge token %q is not an address", token))
		}
	}

	// Validate capacities
	if c.MaxPendingOpportunities <= 0 {
		errs = append(errs, "max_pending_opportunities must be positive")
	}
	if c.MaxConcurrentBundles <= 0 {
		errs = append(errs, "max_concurrent_bundles must be positive")
	}
	if c.DedupCapacity <= 0 || c.SimulationCacheSize <= 0 {
		errs = append(errs, "dedup_capacity and simulation_cache_size must be positive")
	}
	if c.IngestWindow <= 0 {
		errs = append(errs, "ingest_window must be positive")
	}

	if err := c.CircuitBreaker.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("circuit breaker error: %v", err))
	}
	if err := c.RPCRateLimit.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("RPC rate limit error: %v", err))
	}
	if err := c.FlashbotsRateLimit.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("Flashbots rate limit error: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
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
	if c.CooldownPeriod <= 0 {
		return fmt.Errorf("cooldown period must be positive")
	}

	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	if r.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}

	return nil
}

// LoadConfig reads cfgFile over DefaultConfig, applies environment overrides
// and validates the result. A missing default file is not an error.
func LoadConfig(cfgFile string, logger *zap.Logger) (*Config, error) {
	explicit := cfgFile != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".backrunner.json")
	}

	config := DefaultConfig()

	file, err := os.Open(cfgFile)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		logger.Debug("No config file, using defaults", zap.String("path", cfgFile))
	default:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.Logger = logger

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyEnv() error {
	c.RPCEndpoint = GetEnvWithDefault(EnvRPCEndpoint, c.RPCEndpoint)
	c.WSEndpoint = GetEnvWithDefault(EnvWSEndpoint, c.WSEndpoint)
	c.FlashbotsRPC = GetEnvWithDefault(EnvFlashbotsRelay, c.FlashbotsRPC)
	c.BundleMode = GetEnvWithDefault(EnvBundleMode, c.BundleMode)
	c.JournalPath = GetEnvWithDefault(EnvJournalPath, c.JournalPath)

	if v := os.Getenv(EnvChainID); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvChainID, err)
		}
		c.ChainID = id
	}
	if v := os.Getenv(EnvMinProfit); v != "" {
		threshold, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return fmt.Errorf("invalid %s: %q", EnvMinProfit, v)
		}
		c.MinProfitThreshold = threshold
	}
	return nil
}

func LoadSecureConfig() (*SecureConfig, error) {
	privateKey, err := GetRequiredEnv(EnvPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key not found: %w", err)
	}

	flashbotsKey, err := GetRequiredEnv(EnvFlashbotsKey)
	if err != nil {
		return nil, fmt.Errorf("flashbots key not found: %w", err)
	}

	return &SecureConfig{
		PrivateKey:   strings.TrimPrefix(privateKey, "0x"),
		FlashbotsKey: strings.TrimPrefix(flashbotsKey, "0x"),
	}, nil
}

func SaveConfig(cfg *Config, cfgFile string) error {
	file, err := os.Create(cfgFile)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ")
	return encoder.Encode(cfg)
}

// BridgeAddresses returns BridgeTokens as addresses.
func (c *Config) BridgeAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.BridgeTokens))
	for _, token := range c.BridgeTokens {
		out = append(out, common.HexToAddress(token))
	}
	return out
}

// DefaultConfig targets Polygon mainnet with the built-in router set.
func DefaultConfig() *Config {
	return &Config{
		Logger:       zap.NewNop(),
		ChainID:      137,
		RPCEndpoint:  "http://localhost:8545",
		WSEndpoint:   "ws://localhost:8546",
		FlashbotsRPC: "https://relay.flashbots.net",

		LendingPool:      "0x8dFf5E27EA6b7AC08EbFdf9eB090F32ee9a30fcf", // Aave V2 Polygon
		ExecutorContract: "0x0000000000000000000000000000000000000000",
		CombinedContract: "0x0000000000000000000000000000000000000000",

		FlashLoanProviders: []string{FlashLoanAave},
		BalancerVault:      "0xBA12222222228d8Ba445958a75a0704d566BF2C8",

		BridgeTokens: []string{
			"0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", // WMATIC
			"0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", // USDC
			"0xc2132D05D31c914a87C6611C10748AEb04B58e8F", // USDT
		},
		MaxPathDepth:  3,
		MaxCandidates: 64,

		SchedulerInterval:  time.Second,
		GasUpdateInterval:  2 * time.Second,
		StatusPollInterval: 2 * time.Second,
		StatusTimeout:      30 * time.Second,
		BundleValidity:     0,
		MetricsInterval:    10 * time.Second,

		MinProfitThreshold:  big.NewInt(1_000_000_000_000_000), // 0.001 ETH
		MinPriceImpactBps:   0,
		MaxGasPrice:         big.NewInt(500_000_000_000), // 500 Gwei
		AssumedGasUnits:     300_000,
		DefaultTradeAmount:  new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		FlashLoanPremiumBps: 9,
		SuccessProbability:  0.85,

		BundleMode:         BundleModeMulti,
		TargetBlockOffset:  1,
		TargetBlockHorizon: 5,
		Legs: LegPolicy{
			FlashLoanRevertAllowed: false,
			ArbitrageRevertAllowed: true,
			RepayRevertAllowed:     false,
		},

		MaxPendingOpportunities: 1024,
		MaxConcurrentBundles:    10,
		DedupCapacity:           1 << 18,
		SimulationCacheSize:     1 << 14,
		IngestWindow:            256,
		UseFullTxFeed:           true,

		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        false,
			ErrorThreshold: 10,
			CooldownPeriod: time.Second * 30,
		},
		RPCRateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			BurstSize:         100,
			WaitTimeout:       time.Second,
		},
		FlashbotsRateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         20,
			WaitTimeout:       time.Second,
		},
		PrometheusEnabled:  false,
		PrometheusEndpoint: ":9090",
	}
}

func GetRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s not set", key)
	}
	return value, nil
}
