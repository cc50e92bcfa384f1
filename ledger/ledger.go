// Package ledger defines the persistence boundary for recorded payments
// and payment items. The ledger is the single source of truth for
// "already recorded": its tx-hash uniqueness constraint, not any
// in-process check, is what makes recording exactly-once across
// concurrent writers.
package ledger

import (
	"context"
	"errors"

	"github.com/paylinc/chainverify/types"
)

// ErrDuplicateTxHash is returned by CreatePayment when a payment with
// the same transaction hash already exists. Callers treat it as an
// idempotent success, never as a fatal error.
var ErrDuplicateTxHash = errors.New("payment already recorded for this transaction hash")

// ErrItemNotFound is returned by FindItem for an unknown item id.
var ErrItemNotFound = errors.New("payment item not found")

// Ledger is the store the engine consults before and after verification.
// Implementations must be safe for concurrent use.
type Ledger interface {
	// FindPaymentByTxHash returns the payment recorded for txHash, or
	// (nil, nil) when none exists.
	FindPaymentByTxHash(ctx context.Context, txHash string) (*types.Payment, error)

	// CreatePayment inserts exactly one payment row. A concurrent
	// writer inserting the same hash first surfaces as
	// ErrDuplicateTxHash.
	CreatePayment(ctx context.Context, itemID, payerAddress, amountSmallestUnit, txHash string) (*types.Payment, error)

	// ListItemsForRecipient returns every item payable to the recipient
	// address, fixed and open.
	ListItemsForRecipient(ctx context.Context, recipientAddress string) ([]types.PaymentItem, error)

	// FindItem returns one item by id, or ErrItemNotFound.
	FindItem(ctx context.Context, itemID string) (*types.PaymentItem, error)

	// LatestPaymentFor returns the most recent payment by payer for
	// item, or (nil, nil) when none exists.
	LatestPaymentFor(ctx context.Context, payerAddress, itemID string) (*types.Payment, error)
}
