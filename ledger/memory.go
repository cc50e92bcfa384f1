package ledger

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paylinc/chainverify/types"
)

// Memory is an in-process Ledger. It backs tests and embedders that
// have not wired a database yet; the tx-hash uniqueness invariant is
// enforced under its mutex the same way the database constraint does.
type Memory struct {
	mu       sync.Mutex
	payments map[string]types.Payment // keyed by lowercased tx hash
	items    map[string]types.PaymentItem
	nextID   int
}

var _ Ledger = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		payments: make(map[string]types.Payment),
		items:    make(map[string]types.PaymentItem),
	}
}

// PutItem seeds an item. Items are owned by the external CRUD layer in
// production; this exists for tests and bootstrapping.
func (m *Memory) PutItem(item types.PaymentItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
}

// PutPayment seeds a payment row directly, bypassing verification.
// Test helper only.
func (m *Memory) PutPayment(p types.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[strings.ToLower(p.TxHash)] = p
}

func (m *Memory) FindPaymentByTxHash(_ context.Context, txHash string) (*types.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[strings.ToLower(txHash)]; ok {
		out := p
		return &out, nil
	}
	return nil, nil
}

func (m *Memory) CreatePayment(_ context.Context, itemID, payerAddress, amountSmallestUnit, txHash string) (*types.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(txHash)
	if _, exists := m.payments[key]; exists {
		return nil, ErrDuplicateTxHash
	}

	m.nextID++
	p := types.Payment{
		ID:           strconv.Itoa(m.nextID),
		ItemID:       itemID,
		PayerAddress: payerAddress,
		Amount:       amountSmallestUnit,
		TxHash:       key,
		CreatedAt:    time.Now().UTC(),
	}
	m.payments[key] = p
	out := p
	return &out, nil
}

func (m *Memory) ListItemsForRecipient(_ context.Context, recipientAddress string) ([]types.PaymentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []types.PaymentItem
	for _, it := range m.items {
		if strings.EqualFold(it.RecipientAddress, recipientAddress) {
			items = append(items, it)
		}
	}
	return items, nil
}

func (m *Memory) FindItem(_ context.Context, itemID string) (*types.PaymentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[itemID]; ok {
		out := it
		return &out, nil
	}
	return nil, ErrItemNotFound
}

func (m *Memory) LatestPaymentFor(_ context.Context, payerAddress, itemID string) (*types.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *types.Payment
	for _, p := range m.payments {
		if p.ItemID != itemID || !strings.EqualFold(p.PayerAddress, payerAddress) {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			cp := p
			latest = &cp
		}
	}
	return latest, nil
}
