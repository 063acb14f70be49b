package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"
)

// Call surfaces a router can expose.
const (
	SurfaceUniswapV2 = "uniswap_v2"
	SurfaceUniswapV3 = "uniswap_v3"
)

// RouterConfig describes one exchange router and, for constant-product
// exchanges, the factory used to derive pair addresses.
type RouterConfig struct {
	Name         string `yaml:"name"`
	Address      string `yaml:"address"`
	Surface      string `yaml:"surface"`
	Factory      string `yaml:"factory,omitempty"`
	InitCodeHash string `yaml:"init_code_hash,omitempty"`
	FeeBps       uint64 `yaml:"fee_bps,omitempty"`
}

type registryFile struct {
	Routers []RouterConfig `yaml:"routers"`
}

// DefaultRouters is the Polygon router set.
func DefaultRouters() []RouterConfig {
	return []RouterConfig{
		{
			Name:         "QuickSwap",
			Address:      "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff",
			Surface:      SurfaceUniswapV2,
			Factory:      "0x5757371414417b8C6CAad45bAeF941aBc7d3Ab32",
			InitCodeHash: "0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f",
			FeeBps:       30,
		},
		{
			Name:         "SushiSwap",
			Address:      "0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506",
			Surface:      SurfaceUniswapV2,
			Factory:      "0xc35DADB65012eC5796536bD9864eD8773aBc74C4",
			InitCodeHash: "0xe18a34eb0e04b04f7a0ac29a6e80748dca96319b42c54d679cb821dca90c6303",
			FeeBps:       30,
		},
		{
			Name:    "UniswapV3",
			Address: "0xE592427A0AEce92De3Edee1F18E0157C05861564",
			Surface: SurfaceUniswapV3,
		},
	}
}

// LoadRegistryFile reads a YAML router registry. An empty path yields
// DefaultRouters.
func LoadRegistryFile(path string) ([]RouterConfig, error) {
	if path == "" {
		return DefaultRouters(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return ParseRegistry(raw)
}

// ParseRegistry decodes and validates a YAML router registry.
func ParseRegistry(raw []byte) ([]RouterConfig, error) {
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}
	if len(file.Routers) == 0 {
		return nil, fmt.Errorf("registry lists no routers")
	}

	var errs []string
	seen := make(map[common.Address]string)
	for _, r := range file.Routers {
		if err := r.Validate(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		addr := common.HexToAddress(r.Address)
		if prev, ok := seen[addr]; ok {
			errs = append(errs, fmt.Sprintf("router %s reuses address of %s", r.Name, prev))
		}
		seen[addr] = r.Name
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("registry validation failed: %s", strings.Join(errs, "; "))
	}
	return file.Routers, nil
}

func (r *RouterConfig) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("router %s has no name", r.Address)
	}
	if !common.IsHexAddress(r.Address) {
		return fmt.Errorf("router %s has invalid address %q", r.Name, r.Address)
	}
	switch r.Surface {
	case SurfaceUniswapV2:
		if !common.IsHexAddress(r.Factory) {
			return fmt.Errorf("router %s needs a factory address", r.Name)
		}
		if len(common.FromHex(r.InitCodeHash)) != common.HashLength {
			return fmt.Errorf("router %s needs a 32-byte init code hash", r.Name)
		}
	case SurfaceUniswapV3:
	default:
		return fmt.Errorf("router %s has unknown surface %q", r.Name, r.Surface)
	}
	return nil
}
