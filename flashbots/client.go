package flashbots

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/backrunner/bundle"
	"github.com/michaelpento.lv/backrunner/config"
)

const (
	contentTypeJSON      = "application/json"
	flashbotsXHeader     = "X-Flashbots-Signature"
	methodSendBundle     = "eth_sendBundle"
	methodGetBundleStats = "flashbots_getBundleStatsV2"
)

// ReceiptReader is the node surface used to infer inclusion.
// *ethclient.Client satisfies it.
type ReceiptReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Client submits bundles to a Flashbots-compatible relay and reports their
// status. It implements bundle.Relay.
type Client struct {
	httpClient  *http.Client
	relayURL    string
	authSigner  *ecdsa.PrivateKey
	receipts    ReceiptReader
	limiter     *rate.Limiter
	waitTimeout time.Duration
	logger      *zap.Logger
	requestID   atomic.Uint64

	mu        sync.Mutex
	submitted map[common.Hash]*submission
}

// submission remembers what is needed to resolve a bundle hash.
type submission struct {
	targetBlock uint64
	txs         []common.Hash
	keyLeg      int
}

// NewClient creates a relay client. authKey signs requests and identifies
// the searcher to the relay; it does not need funds.
func NewClient(relayURL string, authKey *ecdsa.PrivateKey, receipts ReceiptReader, limits config.RateLimitConfig, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Second * 3,
		},
		relayURL:    relayURL,
		authSigner:  authKey,
		receipts:    receipts,
		limiter:     rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), limits.BurstSize),
		waitTimeout: limits.WaitTimeout,
		logger:      logger.Named("flashbots"),
		submitted:   make(map[common.Hash]*submission),
	}
}

type rpcRequest[P any] struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []P    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Code, e.Message)
}

type rpcResponse[R any] struct {
	Result R         `json:"result"`
	Error  *rpcError `json:"error"`
}

type sendBundleArgs struct {
	Txs               []string `json:"txs"`
	BlockNumber       string   `json:"blockNumber"`
	MinTimestamp      uint64   `json:"minTimestamp,omitempty"`
	MaxTimestamp      uint64   `json:"maxTimestamp,omitempty"`
	RevertingTxHashes []string `json:"revertingTxHashes,omitempty"`
}

type sendBundleResult struct {
	BundleHash string `json:"bundleHash"`
}

type bundleStatsArgs struct {
	BundleHash  string `json:"bundleHash"`
	BlockNumber string `json:"blockNumber"`
}

type bundleStatsResult struct {
	IsSimulated    bool   `json:"isSimulated"`
	IsHighPriority bool   `json:"isHighPriority"`
	SimulatedAt    string `json:"simulatedAt"`
	ReceivedAt     string `json:"receivedAt"`
}

// SubmitBundle sends b with eth_sendBundle and returns the relay's bundle
// hash.
func (c *Client) SubmitBundle(ctx context.Context, b *bundle.Bundle) (common.Hash, error) {
	args := sendBundleArgs{
		Txs:          make([]string, 0, len(b.Legs)),
		BlockNumber:  hexutil.EncodeUint64(b.TargetBlock),
		MinTimestamp: b.MinTimestamp,
		MaxTimestamp: b.MaxTimestamp,
	}
	for i, leg := range b.Legs {
		raw, err := leg.Tx.MarshalBinary()
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to encode leg %d: %w", i, err)
		}
		args.Txs = append(args.Txs, hexutil.Encode(raw))
	}
	for _, h := range b.RevertingTxHashes() {
		args.RevertingTxHashes = append(args.RevertingTxHashes, h.Hex())
	}

	var result sendBundleResult
	if err := call(ctx, c, methodSendBundle, args, &result); err != nil {
		return common.Hash{}, err
	}
	if result.BundleHash == "" {
		return common.Hash{}, nil
	}
	bundleHash := common.HexToHash(result.BundleHash)

	c.mu.Lock()
	c.submitted[bundleHash] = &submission{
		targetBlock: b.TargetBlock,
		txs:         b.TxHashes(),
		keyLeg:      b.KeyLeg(),
	}
	c.mu.Unlock()

	return bundleHash, nil
}

// BundleStatus infers the status of a bundle this client submitted from leg
// receipts and the chain head. While the target block is still ahead the
// relay's stats are logged and the bundle is pending.
func (c *Client) BundleStatus(ctx context.Context, bundleHash common.Hash) (bundle.Status, error) {
	c.mu.Lock()
	sub, ok := c.submitted[bundleHash]
	c.mu.Unlock()
	if !ok {
		return bundle.StatusPending, fmt.Errorf("unknown bundle %s", bundleHash.Hex())
	}

	status, err := c.resolve(ctx, bundleHash, sub)
	if err != nil {
		return bundle.StatusPending, err
	}
	if status.Terminal() {
		c.mu.Lock()
		delete(c.submitted, bundleHash)
		c.mu.Unlock()
	}
	return status, nil
}

// Forget drops the record of a bundle whose tracking was abandoned.
func (c *Client) Forget(bundleHash common.Hash) {
	c.mu.Lock()
	delete(c.submitted, bundleHash)
	c.mu.Unlock()
}

func (c *Client) resolve(ctx context.Context, bundleHash common.Hash, sub *submission) (bundle.Status, error) {
	// the head is read before the receipts so a target block mined in
	// between shows up as receipts, never as a passed head without them
	head, err := c.receipts.BlockNumber(ctx)
	if err != nil {
		return bundle.StatusPending, fmt.Errorf("failed to get block number: %w", err)
	}

	receipts := make([]*ethtypes.Receipt, len(sub.txs))
	found := 0
	for i, txHash := range sub.txs {
		receipt, err := c.receipts.TransactionReceipt(ctx, txHash)
		switch {
		case errors.Is(err, ethereum.NotFound):
		case err != nil:
			return bundle.StatusPending, fmt.Errorf("failed to get receipt: %w", err)
		default:
			receipts[i] = receipt
			found++
		}
	}

	if found > 0 {
		for _, r := range receipts {
			if r == nil || r.BlockNumber == nil || r.BlockNumber.Uint64() != sub.targetBlock {
				return bundle.StatusFailed, nil
			}
		}
		if receipts[sub.keyLeg].Status != ethtypes.ReceiptStatusSuccessful {
			return bundle.StatusFailed, nil
		}
		return bundle.StatusIncluded, nil
	}

	if head >= sub.targetBlock {
		return bundle.StatusFailed, nil
	}

	var stats bundleStatsResult
	args := bundleStatsArgs{BundleHash: bundleHash.Hex(), BlockNumber: hexutil.EncodeUint64(sub.targetBlock)}
	if err := call(ctx, c, methodGetBundleStats, args, &stats); err != nil {
		c.logger.Debug("Bundle stats unavailable", zap.String("bundle_hash", bundleHash.Hex()), zap.Error(err))
	} else {
		c.logger.Debug("Bundle stats",
			zap.String("bundle_hash", bundleHash.Hex()),
			zap.Bool("simulated", stats.IsSimulated),
			zap.Bool("high_priority", stats.IsHighPriority),
		)
	}
	return bundle.StatusPending, nil
}

// call performs one signed, rate limited JSON-RPC request.
func call[P, R any](ctx context.Context, c *Client, method string, params P, out *R) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	err := c.limiter.Wait(waitCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	payload, err := sonnet.Marshal(rpcRequest[P]{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  []P{params},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	header, err := c.signPayload(payload)
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", contentTypeJSON)
	req.Header.Add("Accept", contentTypeJSON)
	req.Header.Add(flashbotsXHeader, header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("flashbots request failed: %s: %s", resp.Status, string(body))
	}

	var decoded rpcResponse[R]
	if err := sonnet.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	*out = decoded.Result
	return nil
}

// signPayload produces the "address:signature" header value over the
// keccak of the body.
func (c *Client) signPayload(payload []byte) (string, error) {
	signature, err := crypto.Sign(
		accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(payload)))),
		c.authSigner,
	)
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return fmt.Sprintf("%s:%s",
		crypto.PubkeyToAddress(c.authSigner.PublicKey).Hex(),
		hexutil.Encode(signature),
	), nil
}
