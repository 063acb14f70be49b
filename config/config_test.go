package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ValidateConfig())
	assert.Equal(t, uint64(300_000), cfg.AssumedGasUnits)
	assert.Equal(t, uint64(5), cfg.TargetBlockHorizon)
	assert.Len(t, cfg.BridgeAddresses(), 3)
}

func TestValidateConfigCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChainID = 0
	cfg.MinProfitThreshold = big.NewInt(0)
	cfg.BundleMode = "sideways"

	err := cfg.ValidateConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain_id must be specified")
	assert.Contains(t, err.Error(), "min_profit_threshold must be positive")
	assert.Contains(t, err.Error(), `unknown bundle_mode "sideways"`)
}

func TestValidateFlashLoanProviders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FlashLoanProviders = []string{FlashLoanAave, FlashLoanBalancer, "dydx"}
	cfg.BalancerVault = ""

	err := cfg.ValidateConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "balancer flash loans need balancer_vault")
	assert.Contains(t, err.Error(), `unknown flash loan provider "dydx"`)

	cfg.FlashLoanProviders = nil
	assert.ErrorContains(t, cfg.ValidateConfig(), "at least one flash loan provider")

	// combined calls borrow inside the contract
	cfg.BundleMode = BundleModeCombined
	assert.NoError(t, cfg.ValidateConfig())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"chain_id": 80002,
		"min_profit_threshold": 5000,
		"bundle_mode": "combined",
		"combined_contract": "0x00000000000000000000000000000000000000c0"
	}`), 0o600))

	t.Setenv(EnvRPCEndpoint, "http://node:8545")

	cfg, err := LoadConfig(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(80002), cfg.ChainID)
	assert.Equal(t, int64(5000), cfg.MinProfitThreshold.Int64())
	assert.Equal(t, BundleModeCombined, cfg.BundleMode)
	assert.Equal(t, "http://node:8545", cfg.RPCEndpoint)
	// untouched fields keep their defaults
	assert.Equal(t, 256, cfg.IngestWindow)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"), zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestParseRegistry(t *testing.T) {
	routers, err := ParseRegistry([]byte(`
routers:
  - name: QuickSwap
    address: "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"
    surface: uniswap_v2
    factory: "0x5757371414417b8C6CAad45bAeF941aBc7d3Ab32"
    init_code_hash: "0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f"
    fee_bps: 30
  - name: UniswapV3
    address: "0xE592427A0AEce92De3Edee1F18E0157C05861564"
    surface: uniswap_v3
`))
	require.NoError(t, err)
	require.Len(t, routers, 2)
	assert.Equal(t, "QuickSwap", routers[0].Name)
	assert.Equal(t, uint64(30), routers[0].FeeBps)
}

func TestParseRegistryRejectsDuplicatesAndBadSurfaces(t *testing.T) {
	_, err := ParseRegistry([]byte(`
routers:
  - name: A
    address: "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"
    surface: uniswap_v3
  - name: B
    address: "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"
    surface: uniswap_v3
  - name: C
    address: "0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506"
    surface: curve
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reuses address of A")
	assert.Contains(t, err.Error(), `unknown surface "curve"`)
}

func TestDefaultRoutersValidate(t *testing.T) {
	for _, r := range DefaultRouters() {
		r := r
		assert.NoError(t, r.Validate(), r.Name)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	cfg := DefaultConfig()
	cfg.ChainID = 80002
	cfg.MinProfitThreshold = big.NewInt(7e15)
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(80002), loaded.ChainID)
	assert.Equal(t, 0, loaded.MinProfitThreshold.Cmp(big.NewInt(7e15)))
	assert.Equal(t, cfg.SchedulerInterval, loaded.SchedulerInterval)
}
