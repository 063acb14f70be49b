// Package testutils holds helpers shared by package tests.
package testutils

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// NewKey generates a throwaway account key.
func NewKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

// SignedTx signs a dynamic-fee transaction calling to with data.
func SignedTx(t testing.TB, key *ecdsa.PrivateKey, chainID *big.Int, nonce uint64, to common.Address, value *big.Int, data []byte) *types.Transaction {
	t.Helper()
	if value == nil {
		value = new(big.Int)
	}
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(chainID), &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(30_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
		Gas:       250_000,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	require.NoError(t, err)
	return tx
}
