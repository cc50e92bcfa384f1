// Package chainverify verifies stablecoin payments on chain and
// reconciles them against creator-defined payment items. Given a
// transaction hash it proves, independently of the client's say-so,
// that a token transfer to the right recipient of the right amount
// actually happened, and records it exactly once.
package chainverify

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/paylinc/chainverify/chains"
	"github.com/paylinc/chainverify/ledger"
	"github.com/paylinc/chainverify/logger"
	"github.com/paylinc/chainverify/metrics"
	"github.com/paylinc/chainverify/reconcile"
	"github.com/paylinc/chainverify/scan"
	"github.com/paylinc/chainverify/token"
	"github.com/paylinc/chainverify/types"
	"github.com/paylinc/chainverify/verification"
)

// Engine owns the verification, scanning, and reconciliation services.
// All state (provider connections, the verification cache) lives on the
// instance; create one per process at startup and Close it at shutdown.
type Engine struct {
	cfg      *types.Config
	source   chains.Source
	registry *chains.Registry
	cache    *verification.Cache
	verifier *verification.Verifier
	scanner  *scan.Scanner
	matcher  *reconcile.Matcher
	ledger   ledger.Ledger
	log      logger.Logger
	metrics  metrics.Recorder
}

// New builds an Engine from cfg. Without options it logs nowhere,
// records no metrics, and uses an in-memory ledger; production
// embedders pass WithLedger, WithLogger, and WithMetrics.
func New(cfg *types.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, &types.Error{Code: types.ErrConfigError, Message: "config is required"}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.ledger == nil {
		e.ledger = ledger.NewMemory()
	}
	if e.source == nil {
		e.registry = chains.NewRegistry(cfg.Chains)
		e.source = e.registry
	}

	e.cache = verification.NewCache(cfg.CacheTTL, cfg.CacheSweepInterval)
	e.verifier = verification.NewVerifier(e.source, e.cache, cfg.RPCTimeout, e.log, e.metrics)
	e.scanner = scan.NewScanner(e.source, cfg.LookbackBlocks, cfg.RPCTimeout, e.log)
	e.matcher = reconcile.NewMatcher(e.ledger, e.log, e.metrics)
	return e, nil
}

// VerifyPayment checks whether txHash carries a token transfer to
// expectedRecipient on chain. expectedAmount is a human-readable
// decimal string for fixed-price payments; pass "" for open-amount
// payments, where any transfer to the recipient is accepted.
//
// A nil error with result.Valid == false is a definitive verdict; a
// non-nil error means the chain could not be consulted and the caller
// may retry.
func (e *Engine) VerifyPayment(ctx context.Context, chain, txHash, expectedRecipient, expectedAmount string) (*types.VerificationResult, error) {
	expected, err := e.expectedUnits(chain, expectedAmount)
	if err != nil {
		return nil, err
	}
	return e.verifier.Verify(ctx, verification.Query{
		Chain:          chain,
		TxHash:         txHash,
		Recipient:      expectedRecipient,
		ExpectedAmount: expected,
	})
}

// VerifyRequest is one entry of a BatchVerify call.
type VerifyRequest struct {
	Chain          string `json:"chain"`
	TxHash         string `json:"txHash"`
	Recipient      string `json:"recipient"`
	ExpectedAmount string `json:"expectedAmount,omitempty"`
}

// BatchVerify verifies multiple payments concurrently, preserving input
// order in the results.
func (e *Engine) BatchVerify(ctx context.Context, requests []VerifyRequest) ([]*types.VerificationResult, error) {
	queries := make([]verification.Query, len(requests))
	for i, req := range requests {
		expected, err := e.expectedUnits(req.Chain, req.ExpectedAmount)
		if err != nil {
			return nil, err
		}
		queries[i] = verification.Query{
			Chain:          req.Chain,
			TxHash:         req.TxHash,
			Recipient:      req.Recipient,
			ExpectedAmount: expected,
		}
	}
	return e.verifier.BatchVerify(ctx, queries)
}

// RecordPayment verifies a client-submitted transaction for itemID and
// records it in the ledger. Recording is idempotent on tx hash: if the
// payment already exists, the existing row is returned without error.
func (e *Engine) RecordPayment(ctx context.Context, chain, itemID, txHash string) (*types.Payment, error) {
	item, err := e.ledger.FindItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if existing, err := e.ledger.FindPaymentByTxHash(ctx, txHash); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	// Fixed items require the exact price; open items accept any
	// transfer to the recipient.
	var expected *big.Int
	if item.Kind == types.ItemFixed {
		decimals, err := e.decimals(chain)
		if err != nil {
			return nil, err
		}
		expected, err = token.ToSmallestUnit(item.Price, decimals)
		if err != nil {
			return nil, err
		}
	}

	result, err := e.verifier.Verify(ctx, verification.Query{
		Chain:          chain,
		TxHash:         txHash,
		Recipient:      item.RecipientAddress,
		ExpectedAmount: expected,
	})
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, &types.Error{
			Code:    types.ErrVerificationFailed,
			Message: fmt.Sprintf("payment not recorded: %s", result.Reason),
		}
	}

	payment, err := e.ledger.CreatePayment(ctx, item.ID, result.Sender, result.Amount, txHash)
	if errors.Is(err, ledger.ErrDuplicateTxHash) {
		// Lost the race to a concurrent recorder. Same outcome.
		return e.ledger.FindPaymentByTxHash(ctx, txHash)
	}
	if err != nil {
		return nil, err
	}
	e.metrics.IncCounter("payment_recorded", map[string]string{"chain": chain})
	return payment, nil
}

// CheckAccess decides whether payerAddress has paid for itemID. A
// payment recorded within the freshness window grants access without an
// RPC round-trip (the trust-recent-writes policy); older payments are
// re-verified on chain before access is granted.
func (e *Engine) CheckAccess(ctx context.Context, chain, payerAddress, itemID string) (*types.AccessDecision, error) {
	payment, err := e.ledger.LatestPaymentFor(ctx, payerAddress, itemID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return &types.AccessDecision{HasAccess: false, Reason: "no payment recorded"}, nil
	}

	if time.Since(payment.CreatedAt) <= e.cfg.FreshnessWindow {
		return &types.AccessDecision{HasAccess: true, Reason: "recent payment"}, nil
	}

	item, err := e.ledger.FindItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	var expected *big.Int
	if item.Kind == types.ItemFixed {
		decimals, err := e.decimals(chain)
		if err != nil {
			return nil, err
		}
		expected, err = token.ToSmallestUnit(item.Price, decimals)
		if err != nil {
			return nil, err
		}
	}

	result, err := e.verifier.Verify(ctx, verification.Query{
		Chain:          chain,
		TxHash:         payment.TxHash,
		Recipient:      item.RecipientAddress,
		ExpectedAmount: expected,
	})
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return &types.AccessDecision{HasAccess: false, Reason: result.Reason}, nil
	}
	return &types.AccessDecision{HasAccess: true, Reason: "payment verified"}, nil
}

// ScanAndReconcile sweeps a block range for transfers to recipient and
// matches them against the recipient's items. Nil bounds use the
// default look-back window ending at the chain head.
func (e *Engine) ScanAndReconcile(ctx context.Context, chain, recipient string, fromBlock, toBlock *uint64) (*types.ReconcileReport, error) {
	decimals, err := e.decimals(chain)
	if err != nil {
		return nil, err
	}
	transfers, err := e.scanner.ScanTransfersTo(ctx, chain, recipient, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	items, err := e.ledger.ListItemsForRecipient(ctx, recipient)
	if err != nil {
		return nil, err
	}
	return e.matcher.Reconcile(ctx, chain, decimals, transfers, items)
}

// SupportedChains returns the configured chain identifiers, sorted.
func (e *Engine) SupportedChains() []string {
	chains := make([]string, 0, len(e.cfg.Chains))
	for chain := range e.cfg.Chains {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	return chains
}

// Close tears down provider connections and drops the cache.
func (e *Engine) Close() {
	if e.registry != nil {
		e.registry.Close()
	}
	e.cache.Flush()
}

// decimals resolves the token decimal count through the chain source,
// the same authority that supplies the token address. An unconfigured
// chain surfaces as UNSUPPORTED_CHAIN here, before any amount parsing.
func (e *Engine) decimals(chain string) (int32, error) {
	_, decimals, err := e.source.Token(chain)
	return decimals, err
}

// expectedUnits converts an optional decimal amount to smallest units
// for the chain's token. Empty means open amount.
func (e *Engine) expectedUnits(chain, amount string) (*big.Int, error) {
	if amount == "" {
		return nil, nil
	}
	decimals, err := e.decimals(chain)
	if err != nil {
		return nil, err
	}
	return token.ToSmallestUnit(amount, decimals)
}
