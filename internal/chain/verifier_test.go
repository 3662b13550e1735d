package chain

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testTxHash = "0x9fc76417374aa880d4449a1f7f31ec597f00b1f6f3dd2d66f4c9c6c445836d8b"

// fakeClient scripts receipt and head-block responses.
type fakeClient struct {
	receipt    *types.Receipt
	receiptErr error
	head       uint64
	headErr    error
	delay      time.Duration
}

func (f *fakeClient) TransactionReceipt(ctx context.Context, _ common.Hash) (*types.Receipt, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.receipt, f.receiptErr
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, f.headErr
}

func newTestVerifier(client rpcClient) *Verifier {
	return &Verifier{
		clients:        map[string]rpcClient{"base-sepolia": client},
		defaultNetwork: "base-sepolia",
		timeout:        time.Second,
		logger:         slog.Default(),
	}
}

func successReceipt(block uint64, gasUsed uint64) *types.Receipt {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: new(big.Int).SetUint64(block),
		GasUsed:     gasUsed,
	}
}

func TestVerifySuccessful(t *testing.T) {
	v := newTestVerifier(&fakeClient{
		receipt: successReceipt(100, 21_000),
		head:    105,
	})

	res := v.Verify(context.Background(), testTxHash, "")
	if !res.Verified {
		t.Fatal("expected verified")
	}
	if res.Confirmations != 5 {
		t.Fatalf("confirmations = %d, want 5", res.Confirmations)
	}
	if res.BlockNumber != 100 {
		t.Fatalf("blockNumber = %d, want 100", res.BlockNumber)
	}
	if res.GasUsed != 21_000 {
		t.Fatalf("gasUsed = %d, want 21000", res.GasUsed)
	}
}

func TestVerifyZeroConfirmations(t *testing.T) {
	v := newTestVerifier(&fakeClient{
		receipt: successReceipt(100, 21_000),
		head:    100,
	})

	res := v.Verify(context.Background(), testTxHash, "base-sepolia")
	if !res.Verified {
		t.Fatal("expected verified")
	}
	if res.Confirmations != 0 {
		t.Fatalf("confirmations = %d, want 0", res.Confirmations)
	}
}

func TestVerifyMissingReceipt(t *testing.T) {
	v := newTestVerifier(&fakeClient{receiptErr: errors.New("not found")})

	if res := v.Verify(context.Background(), testTxHash, ""); res.Verified {
		t.Fatal("missing receipt must not verify")
	}
}

func TestVerifyRevertedTransaction(t *testing.T) {
	receipt := successReceipt(100, 21_000)
	receipt.Status = types.ReceiptStatusFailed
	v := newTestVerifier(&fakeClient{receipt: receipt, head: 105})

	if res := v.Verify(context.Background(), testTxHash, ""); res.Verified {
		t.Fatal("reverted transaction must not verify")
	}
}

func TestVerifyHeadLookupFailure(t *testing.T) {
	v := newTestVerifier(&fakeClient{
		receipt: successReceipt(100, 21_000),
		headErr: errors.New("provider outage"),
	})

	if res := v.Verify(context.Background(), testTxHash, ""); res.Verified {
		t.Fatal("head lookup failure must not verify")
	}
}

func TestVerifyTimeoutIsUnverified(t *testing.T) {
	v := newTestVerifier(&fakeClient{
		receipt: successReceipt(100, 21_000),
		head:    105,
		delay:   5 * time.Second, // exceeds the 1s test timeout
	})

	start := time.Now()
	res := v.Verify(context.Background(), testTxHash, "")
	if res.Verified {
		t.Fatal("timed-out verification must not verify")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("verification was not bounded by the timeout (took %s)", elapsed)
	}
}

func TestVerifyUnknownNetwork(t *testing.T) {
	v := newTestVerifier(&fakeClient{receipt: successReceipt(100, 0), head: 105})

	if res := v.Verify(context.Background(), testTxHash, "mainnet"); res.Verified {
		t.Fatal("unknown network must not verify")
	}
}
