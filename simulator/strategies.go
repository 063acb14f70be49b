package simulator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/backrunner/decoder"
	"github.com/michaelpento.lv/backrunner/dex"
)

// Candidate is a closed trading cycle. Routers[i] executes the hop from
// Tokens[i] to Tokens[i+1].
type Candidate struct {
	Tokens  []common.Address
	Routers []common.Address
}

func (c Candidate) Hops() int {
	return len(c.Routers)
}

// PathFinder proposes candidate cycles for a decoded swap.
type PathFinder interface {
	Candidates(action *decoder.SwapAction, maxDepth int) []Candidate
}

// FeeModel prices the exchange fees of a candidate in units of its final
// output.
type FeeModel interface {
	Fees(c Candidate, grossOut *big.Int) *big.Int
}

// SlippageModel estimates how much of grossOut is lost to price movement
// between simulation and execution. liquidity is the shallowest pool on the
// path, or nil when unknown.
type SlippageModel interface {
	Slippage(c Candidate, amountIn, grossOut, liquidity *big.Int) *big.Int
}

// SuccessEstimator scores how likely a candidate is to land.
type SuccessEstimator interface {
	Estimate(c Candidate, impactBps uint64) float64
}

// CyclicPathFinder builds back-run cycles: it buys the victim's output
// token elsewhere, optionally through bridge tokens, then sells it back
// into the victim's router along the reversed victim path.
type CyclicPathFinder struct {
	routers       []common.Address
	bridges       []common.Address
	maxCandidates int
}

func NewCyclicPathFinder(routers, bridges []common.Address, maxCandidates int) *CyclicPathFinder {
	return &CyclicPathFinder{routers: routers, bridges: bridges, maxCandidates: maxCandidates}
}

func (f *CyclicPathFinder) Candidates(action *decoder.SwapAction, maxDepth int) []Candidate {
	if len(action.Path) < 2 {
		return nil
	}
	start, target := action.TokenIn(), action.TokenOut()

	closingTokens := make([]common.Address, len(action.Path))
	for i, token := range action.Path {
		closingTokens[len(action.Path)-1-i] = token
	}
	closingHops := len(closingTokens) - 1
	if closingHops >= maxDepth {
		return nil
	}

	closers := f.closers(action.Router)
	var out []Candidate
	for _, closer := range closers {
		for _, opener := range f.routers {
			if opener == closer {
				continue
			}
			for _, prefix := range f.openings(start, target, maxDepth-closingHops) {
				c := Candidate{
					Tokens:  append(append([]common.Address{}, prefix...), closingTokens[1:]...),
					Routers: make([]common.Address, 0, len(prefix)-1+closingHops),
				}
				for i := 0; i < len(prefix)-1; i++ {
					c.Routers = append(c.Routers, opener)
				}
				for i := 0; i < closingHops; i++ {
					c.Routers = append(c.Routers, closer)
				}
				out = append(out, c)
				if f.maxCandidates > 0 && len(out) >= f.maxCandidates {
					return out
				}
			}
		}
	}
	return out
}

// closers are the routers the cycle may close on: the victim router when it
// is quotable, otherwise any known router.
func (f *CyclicPathFinder) closers(victim common.Address) []common.Address {
	for _, r := range f.routers {
		if r == victim {
			return []common.Address{victim}
		}
	}
	return f.routers
}

// openings lists token paths from start to target using at most maxHops
// hops, with distinct bridge tokens in between. The direct hop comes first.
func (f *CyclicPathFinder) openings(start, target common.Address, maxHops int) [][]common.Address {
	if maxHops < 1 {
		return nil
	}
	var out [][]common.Address
	var extend func(path []common.Address, used map[common.Address]bool)
	extend = func(path []common.Address, used map[common.Address]bool) {
		out = append(out, append(append([]common.Address{}, path...), target))
		if len(path) >= maxHops {
			return
		}
		for _, b := range f.bridges {
			if used[b] || b == target {
				continue
			}
			used[b] = true
			extend(append(append([]common.Address{}, path...), b), used)
			delete(used, b)
		}
	}
	extend([]common.Address{start}, map[common.Address]bool{start: true})
	return out
}

// ExchangeFeeModel compounds the pool fee of every hop.
type ExchangeFeeModel struct {
	feeBps map[common.Address]uint64
}

func NewExchangeFeeModel(exchanges []dex.Exchange) *ExchangeFeeModel {
	m := &ExchangeFeeModel{feeBps: make(map[common.Address]uint64, len(exchanges))}
	for _, ex := range exchanges {
		m.feeBps[ex.Router()] = ex.FeeBps()
	}
	return m
}

func (m *ExchangeFeeModel) Fees(c Candidate, grossOut *big.Int) *big.Int {
	net := new(big.Int).Set(grossOut)
	for _, r := range c.Routers {
		net = dex.ApplyBps(net, 10_000-m.feeBps[r])
	}
	return net.Sub(grossOut, net)
}

// LiquiditySlippage charges a fixed allowance per hop plus the trade size
// relative to the shallowest pool, capped at MaxBps.
type LiquiditySlippage struct {
	PerHopBps uint64
	MaxBps    uint64
}

func (s LiquiditySlippage) Slippage(c Candidate, amountIn, grossOut, liquidity *big.Int) *big.Int {
	bps := s.PerHopBps * uint64(c.Hops())
	if liquidity != nil && liquidity.Sign() > 0 {
		size := new(big.Int).Mul(amountIn, big.NewInt(10_000))
		size.Div(size, liquidity)
		if size.IsUint64() {
			bps += size.Uint64()
		} else {
			bps = s.MaxBps
		}
	}
	if bps > s.MaxBps {
		bps = s.MaxBps
	}
	return dex.ApplyBps(grossOut, bps)
}

// StaticEstimator returns the same probability for every candidate.
type StaticEstimator float64

func (p StaticEstimator) Estimate(Candidate, uint64) float64 {
	return float64(p)
}
