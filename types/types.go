package types

import (
	"fmt"
	"math/big"
	"time"
)

// ItemKind distinguishes fixed-price items from open-amount items.
type ItemKind string

const (
	ItemFixed ItemKind = "fixed"
	ItemOpen  ItemKind = "open"
)

// PaymentItem is a payable obligation defined by a creator. Items are
// created and edited by the surrounding CRUD layer; the engine only
// reads them.
type PaymentItem struct {
	ID     string   `json:"id"`
	PageID string   `json:"pageId"`
	Title  string   `json:"title"`
	Kind   ItemKind `json:"kind"`

	// Price is a human-readable decimal string (e.g. "5.00"). Set iff
	// Kind is ItemFixed; open items carry no stored price because the
	// payer chooses the amount.
	Price string `json:"price,omitempty"`

	// RecipientAddress is the wallet the owning page receives payments on.
	RecipientAddress string `json:"recipientAddress"`

	ContentRef string `json:"contentRef,omitempty"`
}

// Validate checks the fixed/open price invariant.
func (i *PaymentItem) Validate() error {
	switch i.Kind {
	case ItemFixed:
		if i.Price == "" {
			return fmt.Errorf("fixed item %s has no price", i.ID)
		}
	case ItemOpen:
		if i.Price != "" {
			return fmt.Errorf("open item %s must not carry a price", i.ID)
		}
	default:
		return fmt.Errorf("item %s has unknown kind %q", i.ID, i.Kind)
	}
	return nil
}

// TransferFact is the decoded, chain-confirmed record of one token
// movement. Facts are produced only by decoding receipt or filter logs,
// never from client input.
type TransferFact struct {
	TxHash    string `json:"txHash"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`

	// Amount is in the token's smallest unit. big.Int because ERC-20
	// values are uint256.
	Amount *big.Int `json:"amount"`

	BlockNumber uint64 `json:"blockNumber"`

	// Timestamp is the block timestamp in unix seconds. Zero means
	// unresolved (scanner output) or unavailable (block fetch failed).
	Timestamp int64 `json:"timestamp"`
}

// VerificationResult is the terminal verdict for one verification query.
// A result is never mutated after creation; callers re-verify by issuing
// a new query.
type VerificationResult struct {
	Valid bool `json:"valid"`

	// Reason is a human-readable failure reason, set iff Valid is false.
	Reason string `json:"reason,omitempty"`

	TxHash    string `json:"txHash"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`

	// Amount is the observed transfer amount in smallest units, as a
	// base-10 integer string. Populated on success and on amount
	// mismatches for diagnostic display.
	Amount string `json:"amount,omitempty"`

	BlockNumber uint64 `json:"blockNumber,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// Payment is one confirmed, recorded payment in the ledger. The tx hash
// is globally unique across all payments; the ledger enforces it.
type Payment struct {
	ID           string    `json:"id"`
	ItemID       string    `json:"itemId"`
	PayerAddress string    `json:"payerAddress"`
	Amount       string    `json:"amount"` // smallest units, base-10 string
	TxHash       string    `json:"txHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AccessDecision is the outcome of a content access check.
type AccessDecision struct {
	HasAccess bool   `json:"hasAccess"`
	Reason    string `json:"reason,omitempty"`
}

// MatchedTransfer is a scanned transfer attributed to a fixed item.
type MatchedTransfer struct {
	Transfer TransferFact `json:"transfer"`
	ItemID   string       `json:"itemId"`

	// AlreadyRecorded is true when a concurrent writer inserted the
	// payment first; the match is still reported.
	AlreadyRecorded bool `json:"alreadyRecorded,omitempty"`
}

// CandidateTransfer is a scanned transfer that matched no fixed item but
// could plausibly pay one of the recipient's open items. Attribution is
// left to the creator.
type CandidateTransfer struct {
	Transfer         TransferFact `json:"transfer"`
	CandidateItemIDs []string     `json:"candidateItemIds"`
}

// ReconcileReport is the outcome of one reconciliation sweep.
type ReconcileReport struct {
	Matched                []MatchedTransfer   `json:"matched"`
	UnmatchedWithCandidate []CandidateTransfer `json:"unmatchedWithCandidate"`
	Unmatched              []TransferFact      `json:"unmatched"`

	// Skipped counts transfers already present in the ledger.
	Skipped int `json:"skipped"`
}
