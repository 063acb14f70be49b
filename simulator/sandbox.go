package simulator

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/michaelpento.lv/backrunner/decoder"
	"github.com/michaelpento.lv/backrunner/types"
)

// Sandbox executes a pending transaction against current chain state and
// reports the amount at each hop of its path and the gas it used.
type Sandbox interface {
	Execute(ctx context.Context, tx *types.PendingTransaction, action *decoder.SwapAction) ([]*big.Int, uint64, error)
}

// ChainCaller is the node surface RPCSandbox needs. *ethclient.Client
// satisfies it.
type ChainCaller interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RPCSandbox replays the transaction with eth_call on the latest block.
type RPCSandbox struct {
	client  ChainCaller
	methods map[string]abi.Method
}

func NewRPCSandbox(client ChainCaller) (*RPCSandbox, error) {
	methods := make(map[string]abi.Method)
	for _, raw := range []string{decoder.UniswapV2RouterABI, decoder.UniswapV3RouterABI} {
		parsed, err := abi.JSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse router ABI: %w", err)
		}
		for _, m := range parsed.Methods {
			methods[string(m.ID)] = m
		}
	}
	return &RPCSandbox{client: client, methods: methods}, nil
}

// Execute simulates tx. Any failure is reported as ErrSimulationUnavailable
// so the caller can fall back to reserve math.
func (s *RPCSandbox) Execute(ctx context.Context, tx *types.PendingTransaction, action *decoder.SwapAction) ([]*big.Int, uint64, error) {
	method, ok := s.methods[string(tx.Data[:4])]
	if !ok {
		return nil, 0, fmt.Errorf("%w: no output schema for selector %x", types.ErrSimulationUnavailable, tx.Data[:4])
	}

	msg := ethereum.CallMsg{
		From:     tx.From,
		To:       tx.To,
		Gas:      tx.Gas,
		GasPrice: tx.GasPrice,
		Value:    tx.Value,
		Data:     tx.Data,
	}

	gasUsed, err := s.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: estimate gas: %v", types.ErrSimulationUnavailable, err)
	}

	output, err := s.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: call: %v", types.ErrSimulationUnavailable, err)
	}

	values, err := method.Outputs.UnpackValues(output)
	if err != nil || len(values) != 1 {
		return nil, 0, fmt.Errorf("%w: unreadable %s output", types.ErrSimulationUnavailable, method.Name)
	}

	switch v := values[0].(type) {
	case []*big.Int:
		if len(v) != len(action.Path) {
			return nil, 0, fmt.Errorf("%w: %s returned %d amounts for %d tokens",
				types.ErrSimulationUnavailable, method.Name, len(v), len(action.Path))
		}
		return v, gasUsed, nil
	case *big.Int:
		// single-pool swaps return only the side that was not fixed
		if action.Kind.ExactInput() {
			return []*big.Int{action.AmountIn, v}, gasUsed, nil
		}
		return []*big.Int{v, action.AmountOut}, gasUsed, nil
	default:
		return nil, 0, fmt.Errorf("%w: unexpected %s output %T", types.ErrSimulationUnavailable, method.Name, v)
	}
}
