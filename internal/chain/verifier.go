// Package chain verifies settlement transactions against a blockchain node.
//
// Verification is a pure read: the verifier fetches the transaction
// receipt and the current head block, and reports confirmation depth.
// RPC failures of any kind (timeout, outage, malformed response) yield an
// unverified result rather than an error — callers decide whether to
// retry later.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bzeklaf/desynth-sub000/internal/metrics"
)

// DefaultTimeout bounds every verification call.
const DefaultTimeout = 10 * time.Second

// rpcClient is the subset of ethclient.Client the verifier needs.
// Narrowed for testability.
type rpcClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config for the verifier.
type Config struct {
	// RPCURL is the endpoint for the default network.
	RPCURL string
	// Network names the default network (e.g. "base-sepolia").
	Network string
	// NetworkRPCURLs maps additional network names to their endpoints.
	NetworkRPCURLs map[string]string
	// Timeout bounds each verification call. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Result is the outcome of a verification.
//
// Verified is false whenever the receipt is absent, the transaction
// reverted, or the RPC call failed; the zero Result is a safe "not
// verified" answer.
type Result struct {
	Verified      bool   `json:"verified"`
	BlockNumber   uint64 `json:"blockNumber,omitempty"`
	Confirmations int64  `json:"confirmations"`
	GasUsed       uint64 `json:"gasUsed,omitempty"`
}

// Verifier checks transaction receipts over one or more networks.
type Verifier struct {
	clients        map[string]rpcClient
	defaultNetwork string
	timeout        time.Duration
	logger         *slog.Logger
}

// New dials the configured networks and returns a verifier.
func New(cfg Config, logger *slog.Logger) (*Verifier, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("chain: RPCURL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	clients := make(map[string]rpcClient)

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial default network: %w", err)
	}
	clients[cfg.Network] = client

	for network, url := range cfg.NetworkRPCURLs {
		c, err := ethclient.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("chain: dial network %s: %w", network, err)
		}
		clients[network] = c
	}

	return &Verifier{
		clients:        clients,
		defaultNetwork: cfg.Network,
		timeout:        cfg.Timeout,
		logger:         logger,
	}, nil
}

// Verify looks up txHash on the given network and reports its receipt
// status and confirmation depth. An empty network selects the default.
func (v *Verifier) Verify(ctx context.Context, txHash, network string) Result {
	start := time.Now()
	res := v.verify(ctx, txHash, network)

	outcome := "unverified"
	if res.Verified {
		outcome = "verified"
	}
	metrics.VerifierDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	return res
}

func (v *Verifier) verify(ctx context.Context, txHash, network string) Result {
	if network == "" {
		network = v.defaultNetwork
	}
	client, ok := v.clients[network]
	if !ok {
		v.logger.Warn("verification requested for unknown network", "network", network)
		return Result{}
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		// Covers ethereum.NotFound, timeouts and provider outages alike.
		v.logger.Warn("transaction receipt lookup failed", "tx", txHash, "network", network, "error", err)
		return Result{}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		v.logger.Warn("transaction reverted on chain", "tx", txHash, "network", network)
		return Result{}
	}

	head, err := client.BlockNumber(ctx)
	if err != nil {
		v.logger.Warn("head block lookup failed", "network", network, "error", err)
		return Result{}
	}

	txBlock := receipt.BlockNumber.Uint64()
	var confirmations int64
	if head >= txBlock {
		confirmations = int64(head - txBlock)
	}

	return Result{
		Verified:      true,
		BlockNumber:   txBlock,
		Confirmations: confirmations,
		GasUsed:       receipt.GasUsed,
	}
}
