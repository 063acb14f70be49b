package uniswap

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/michaelpento.lv/backrunner/config"
	"github.com/michaelpento.lv/backrunner/dex"
	"github.com/michaelpento.lv/backrunner/types"
)

// V2 implements dex.Exchange for Uniswap V2 style forks, which differ only
// by factory, init code hash and fee.
type V2 struct {
	name     string
	caller   bind.ContractCaller
	factory  common.Address
	router   common.Address
	initCode []byte
	feeBps   uint64
}

var _ dex.Exchange = (*V2)(nil)

// NewV2 builds an exchange from a registry entry.
func NewV2(rc config.RouterConfig, caller bind.ContractCaller) (*V2, error) {
	if rc.Surface != config.SurfaceUniswapV2 {
		return nil, fmt.Errorf("router %s is not a %s router", rc.Name, config.SurfaceUniswapV2)
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	feeBps := rc.FeeBps
	if feeBps == 0 {
		feeBps = 30
	}

	return &V2{
		name:     rc.Name,
		caller:   caller,
		factory:  common.HexToAddress(rc.Factory),
		router:   common.HexToAddress(rc.Address),
		initCode: common.FromHex(rc.InitCodeHash),
		feeBps:   feeBps,
	}, nil
}

// Name returns the exchange name
func (u *V2) Name() string {
	return u.name
}

// Router returns the router contract address
func (u *V2) Router() common.Address {
	return u.router
}

// FeeBps is the swap fee charged by every pair.
func (u *V2) FeeBps() uint64 {
	return u.feeBps
}

// GetPoolState reads token order and reserves of a pair
func (u *V2) GetPoolState(ctx context.Context, pool common.Address) (*types.PoolData, error) {
	pair := NewPair(pool, u.caller)

	token0, token1, err := pair.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	reserve0, reserve1, err := pair.Reserves(ctx)
	if err != nil {
		return nil, err
	}

	return &types.PoolData{
		Address:   pool,
		Token0:    token0,
		Token1:    token1,
		Fee:       uint32(u.feeBps * 100),
		Liquidity: new(big.Int).Sqrt(new(big.Int).Mul(reserve0, reserve1)),
		Reserve0:  reserve0,
		Reserve1:  reserve1,
	}, nil
}

// Quote returns the output of swapping amountIn along path before pool
// fees. Fees are accounted for by the caller.
func (u *V2) Quote(ctx context.Context, path []common.Address, amountIn *big.Int) (*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("invalid path length")
	}

	amount := amountIn
	for i := 0; i < len(path)-1; i++ {
		reserveIn, reserveOut, err := u.reserves(ctx, path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		amount = dex.GetAmountOut(amount, reserveIn, reserveOut, 0)
	}

	return amount, nil
}

// reserves returns the pair reserves ordered as (tokenIn, tokenOut)
func (u *V2) reserves(ctx context.Context, tokenIn, tokenOut common.Address) (*big.Int, *big.Int, error) {
	pair := NewPair(u.PoolAddress(tokenIn, tokenOut), u.caller)
	reserve0, reserve1, err := pair.Reserves(ctx)
	if err != nil {
		return nil, nil, err
	}
	if bytes.Compare(tokenIn.Bytes(), tokenOut.Bytes()) < 0 {
		return reserve0, reserve1, nil
	}
	return reserve1, reserve0, nil
}

// PoolAddress calculates the CREATE2 pair address for two tokens
func (u *V2) PoolAddress(tokenA, tokenB common.Address) common.Address {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		tokenA, tokenB = tokenB, tokenA
	}

	salt := crypto.Keccak256(tokenA.Bytes(), tokenB.Bytes())
	return common.BytesToAddress(crypto.Keccak256([]byte{0xff}, u.factory.Bytes(), salt, u.initCode))
}
