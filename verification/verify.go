// Package verification implements the payment verifier: given a
// transaction hash, an expected recipient, and optionally an exact
// expected amount, it decides from chain state alone whether a valid
// token transfer occurred.
package verification

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/paylinc/chainverify/chains"
	"github.com/paylinc/chainverify/logger"
	"github.com/paylinc/chainverify/metrics"
	"github.com/paylinc/chainverify/token"
	"github.com/paylinc/chainverify/types"
)

// Failure reasons shown to payers. Each implies a different corrective
// action, so they are never collapsed into one another.
const (
	ReasonNotFound   = "transaction not found"
	ReasonReverted   = "transaction failed or reverted"
	ReasonNoTransfer = "no transfer found to expected recipient"
)

// Query is one verification request.
type Query struct {
	Chain     string
	TxHash    string
	Recipient string

	// ExpectedAmount is the exact required amount in smallest units.
	// Nil for open-amount payments, where any transfer to the recipient
	// is accepted.
	ExpectedAmount *big.Int
}

// Verifier runs the verification state machine. It is stateless apart
// from the shared cache and is safe for concurrent use.
type Verifier struct {
	chains  chains.Source
	cache   *Cache
	timeout time.Duration
	log     logger.Logger
	metrics metrics.Recorder
}

func NewVerifier(src chains.Source, cache *Cache, timeout time.Duration, log logger.Logger, rec metrics.Recorder) *Verifier {
	return &Verifier{
		chains:  src,
		cache:   cache,
		timeout: timeout,
		log:     log,
		metrics: rec,
	}
}

// Verify fetches the receipt for q.TxHash and decides whether it carries
// a token transfer to q.Recipient of the expected amount.
//
// A non-nil error is always transient (CHAIN_UNAVAILABLE or an
// unsupported chain) and means the verdict is unknown; a nil error with
// result.Valid == false is a definitive negative verdict. The two are
// never conflated. Definitive verdicts are cached by tx hash; transient
// failures are not.
func (v *Verifier) Verify(ctx context.Context, q Query) (*types.VerificationResult, error) {
	start := time.Now()
	labels := map[string]string{"chain": q.Chain}

	if cached, ok := v.cache.Get(q.TxHash); ok && cacheAnswers(cached, q) {
		v.metrics.IncCounter("verify_cache_hit", labels)
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	reader, err := v.chains.Reader(q.Chain)
	if err != nil {
		return nil, err
	}
	tokenAddr, _, err := v.chains.Token(q.Chain)
	if err != nil {
		return nil, err
	}

	// Canonical checksum form; address comparisons below never use raw
	// string equality.
	recipient := common.HexToAddress(q.Recipient)

	receipt, err := reader.TransactionReceipt(ctx, common.HexToHash(q.TxHash))
	if err != nil {
		if chains.IsNotFound(err) {
			return v.invalid(q, ReasonNotFound, nil, labels), nil
		}
		v.metrics.IncCounter("verify_unavailable", labels)
		return nil, chains.Unavailable(q.Chain, "receipt fetch", err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return v.invalid(q, ReasonReverted, nil, labels), nil
	}

	// Timestamp is informational; recipient and amount are the
	// load-bearing facts. A failed block fetch leaves it at zero rather
	// than aborting verification.
	var timestamp int64
	if header, err := reader.HeaderByNumber(ctx, receipt.BlockNumber); err != nil {
		v.log.Warn("block fetch failed, timestamp unresolved", map[string]any{
			"chain": q.Chain, "block": receipt.BlockNumber, "error": err.Error(),
		})
	} else {
		timestamp = int64(header.Time)
	}

	facts := token.DecodeTransfers(receipt.Logs, tokenAddr)

	// First transfer to the expected recipient wins. A well-formed
	// payment transaction carries exactly one; extra matches in a
	// batched call are ignored.
	var match *types.TransferFact
	for i := range facts {
		if common.HexToAddress(facts[i].Recipient) == recipient {
			match = &facts[i]
			break
		}
	}
	if match == nil {
		return v.invalid(q, ReasonNoTransfer, nil, labels), nil
	}

	if q.ExpectedAmount != nil && match.Amount.Cmp(q.ExpectedAmount) != 0 {
		reason := fmt.Sprintf("amount mismatch: expected %s, got %s",
			q.ExpectedAmount.String(), match.Amount.String())
		return v.invalid(q, reason, match, labels), nil
	}

	result := &types.VerificationResult{
		Valid:       true,
		TxHash:      q.TxHash,
		Sender:      match.Sender,
		Recipient:   match.Recipient,
		Amount:      match.Amount.String(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Timestamp:   timestamp,
	}
	v.cache.Put(q.TxHash, result)
	v.metrics.IncCounter("verify_valid", labels)
	v.metrics.ObserveLatency("verify", time.Since(start), labels)
	return result, nil
}

// cacheAnswers reports whether a cached verdict answers q. Entries are
// keyed by tx hash alone, so a hit may have been produced by a query
// with a different recipient or expected amount. Verdicts about the
// transaction itself (missing, reverted) hold for every query; a valid
// verdict holds only for the recipient it names and, on exact-amount
// queries, the amount it carries. Anything else is re-derived from
// chain state, never served across queries.
func cacheAnswers(cached *types.VerificationResult, q Query) bool {
	if !cached.Valid {
		return cached.Reason == ReasonNotFound || cached.Reason == ReasonReverted
	}
	if common.HexToAddress(cached.Recipient) != common.HexToAddress(q.Recipient) {
		return false
	}
	return q.ExpectedAmount == nil || cached.Amount == q.ExpectedAmount.String()
}

// invalid assembles, caches, and counts a definitive negative verdict.
// The observed transfer, if any, is reported for diagnostic display.
func (v *Verifier) invalid(q Query, reason string, observed *types.TransferFact, labels map[string]string) *types.VerificationResult {
	result := &types.VerificationResult{
		Valid:  false,
		Reason: reason,
		TxHash: q.TxHash,
	}
	if observed != nil {
		result.Sender = observed.Sender
		result.Recipient = observed.Recipient
		result.Amount = observed.Amount.String()
		result.BlockNumber = observed.BlockNumber
	}
	v.cache.Put(q.TxHash, result)
	v.metrics.IncCounter("verify_invalid", labels)
	return result
}

// VerifyWithRetry retries Verify on transient chain failures. Definitive
// verdicts and caller errors are returned immediately.
func (v *Verifier) VerifyWithRetry(ctx context.Context, q Query, maxRetries int, retryDelay time.Duration) (*types.VerificationResult, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		result, err := v.Verify(ctx, q)
		if err == nil {
			return result, nil
		}
		if !types.IsChainUnavailable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("verification failed after %d attempts: %w", maxRetries+1, lastErr)
}

// BatchVerify runs the queries concurrently and returns results in
// input order. Ordering of execution between hashes is unspecified.
func (v *Verifier) BatchVerify(ctx context.Context, queries []Query) ([]*types.VerificationResult, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	type indexed struct {
		index  int
		result *types.VerificationResult
		err    error
	}
	resultChan := make(chan indexed, len(queries))

	for i, q := range queries {
		go func(index int, q Query) {
			result, err := v.Verify(ctx, q)
			resultChan <- indexed{index: index, result: result, err: err}
		}(i, q)
	}

	results := make([]*types.VerificationResult, len(queries))
	var firstErr error
	for range queries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-resultChan:
			results[res.index] = res.result
			if res.err != nil && firstErr == nil {
				firstErr = res.err
			}
		}
	}
	return results, firstErr
}
