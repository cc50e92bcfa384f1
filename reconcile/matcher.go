// Package reconcile matches scanned transfers against a creator's
// payment items. Fixed-price items match automatically by exact amount;
// open items are inherently ambiguous from chain data alone and are
// surfaced for manual attribution rather than guessed.
package reconcile

import (
	"context"
	"errors"
	"math/big"

	"github.com/paylinc/chainverify/ledger"
	"github.com/paylinc/chainverify/logger"
	"github.com/paylinc/chainverify/metrics"
	"github.com/paylinc/chainverify/token"
	"github.com/paylinc/chainverify/types"
)

type Matcher struct {
	ledger  ledger.Ledger
	log     logger.Logger
	metrics metrics.Recorder
}

func NewMatcher(l ledger.Ledger, log logger.Logger, rec metrics.Recorder) *Matcher {
	return &Matcher{ledger: l, log: log, metrics: rec}
}

// pricedItem is a fixed item with its price converted once to smallest
// units.
type pricedItem struct {
	id     string
	amount *big.Int
}

// Reconcile decides, per transfer and in scan order, whether it pays an
// existing fixed item, is a candidate for an open item, or is unmatched.
// Payments are created only for unambiguous fixed matches, always after
// the ledger duplicate check. Per-transfer failures are recorded, never
// escalated: one bad transfer must not abort the sweep.
func (m *Matcher) Reconcile(ctx context.Context, chain string, decimals int32, transfers []types.TransferFact, items []types.PaymentItem) (*types.ReconcileReport, error) {
	labels := map[string]string{"chain": chain}

	var fixed []pricedItem
	var openIDs []string
	for _, it := range items {
		switch it.Kind {
		case types.ItemFixed:
			amount, err := token.ToSmallestUnit(it.Price, decimals)
			if err != nil {
				// A malformed stored price disables that item for this
				// sweep; it must not poison the others.
				m.log.Warn("skipping fixed item with malformed price", map[string]any{
					"item": it.ID, "price": it.Price, "error": err.Error(),
				})
				continue
			}
			fixed = append(fixed, pricedItem{id: it.ID, amount: amount})
		case types.ItemOpen:
			openIDs = append(openIDs, it.ID)
		}
	}

	report := &types.ReconcileReport{}
	for _, transfer := range transfers {
		m.matchOne(ctx, transfer, fixed, openIDs, report, labels)
	}

	m.log.Info("reconciliation complete", map[string]any{
		"chain":      chain,
		"matched":    len(report.Matched),
		"candidates": len(report.UnmatchedWithCandidate),
		"unmatched":  len(report.Unmatched),
		"skipped":    report.Skipped,
	})
	return report, nil
}

func (m *Matcher) matchOne(ctx context.Context, transfer types.TransferFact, fixed []pricedItem, openIDs []string, report *types.ReconcileReport, labels map[string]string) {
	existing, err := m.ledger.FindPaymentByTxHash(ctx, transfer.TxHash)
	if err != nil {
		m.log.Warn("duplicate check failed, leaving transfer unmatched", map[string]any{
			"tx": transfer.TxHash, "error": err.Error(),
		})
		report.Unmatched = append(report.Unmatched, transfer)
		return
	}
	if existing != nil {
		report.Skipped++
		return
	}

	// First exact amount match wins; remaining fixed items are not
	// considered for this transfer.
	for _, item := range fixed {
		if transfer.Amount.Cmp(item.amount) != 0 {
			continue
		}

		matched := types.MatchedTransfer{Transfer: transfer, ItemID: item.id}
		_, err := m.ledger.CreatePayment(ctx, item.id, transfer.Sender, transfer.Amount.String(), transfer.TxHash)
		switch {
		case errors.Is(err, ledger.ErrDuplicateTxHash):
			// A concurrent writer recorded it between check and write.
			// Same outcome, not an error.
			matched.AlreadyRecorded = true
		case err != nil:
			m.log.Warn("payment insert failed, leaving transfer unmatched", map[string]any{
				"tx": transfer.TxHash, "item": item.id, "error": err.Error(),
			})
			report.Unmatched = append(report.Unmatched, transfer)
			return
		}
		m.metrics.IncCounter("reconcile_matched", labels)
		report.Matched = append(report.Matched, matched)
		return
	}

	if len(openIDs) > 0 {
		report.UnmatchedWithCandidate = append(report.UnmatchedWithCandidate, types.CandidateTransfer{
			Transfer:         transfer,
			CandidateItemIDs: openIDs,
		})
		m.metrics.IncCounter("reconcile_candidate", labels)
		return
	}

	report.Unmatched = append(report.Unmatched, transfer)
	m.metrics.IncCounter("reconcile_unmatched", labels)
}
