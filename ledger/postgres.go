package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paylinc/chainverify/types"
)

// Expected schema:
//
//	CREATE TABLE payments (
//	    id            BIGSERIAL PRIMARY KEY,
//	    item_id       TEXT NOT NULL,
//	    payer_address TEXT NOT NULL,
//	    amount        NUMERIC(78,0) NOT NULL,
//	    tx_hash       TEXT NOT NULL UNIQUE,
//	    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE TABLE payment_items (
//	    id                TEXT PRIMARY KEY,
//	    page_id           TEXT NOT NULL,
//	    title             TEXT NOT NULL,
//	    kind              TEXT NOT NULL,
//	    price             TEXT,
//	    recipient_address TEXT NOT NULL,
//	    content_ref       TEXT
//	);
//
// The UNIQUE constraint on tx_hash is what enforces exactly-once
// recording across processes; this code only translates its violation
// into ErrDuplicateTxHash.

const pgUniqueViolation = "23505"

// Postgres is the pgx-backed Ledger.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Ledger = (*Postgres)(nil)

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse ledger config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create ledger pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping ledger: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) FindPaymentByTxHash(ctx context.Context, txHash string) (*types.Payment, error) {
	var pay types.Payment
	err := p.pool.QueryRow(ctx,
		`SELECT id::text, item_id, payer_address, amount::text, tx_hash, created_at
		 FROM payments WHERE tx_hash = $1`,
		normalizeHash(txHash),
	).Scan(&pay.ID, &pay.ItemID, &pay.PayerAddress, &pay.Amount, &pay.TxHash, &pay.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ledgerErr("payment lookup failed", err)
	}
	return &pay, nil
}

func (p *Postgres) CreatePayment(ctx context.Context, itemID, payerAddress, amountSmallestUnit, txHash string) (*types.Payment, error) {
	pay := types.Payment{
		ItemID:       itemID,
		PayerAddress: payerAddress,
		Amount:       amountSmallestUnit,
		TxHash:       normalizeHash(txHash),
	}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO payments (item_id, payer_address, amount, tx_hash)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id::text, created_at`,
		itemID, payerAddress, amountSmallestUnit, pay.TxHash,
	).Scan(&pay.ID, &pay.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDuplicateTxHash
		}
		return nil, ledgerErr("payment insert failed", err)
	}
	return &pay, nil
}

func (p *Postgres) ListItemsForRecipient(ctx context.Context, recipientAddress string) ([]types.PaymentItem, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, page_id, title, kind, COALESCE(price, ''), recipient_address, COALESCE(content_ref, '')
		 FROM payment_items WHERE lower(recipient_address) = lower($1)`,
		recipientAddress,
	)
	if err != nil {
		return nil, ledgerErr("item list failed", err)
	}
	defer rows.Close()

	var items []types.PaymentItem
	for rows.Next() {
		var it types.PaymentItem
		if err := rows.Scan(&it.ID, &it.PageID, &it.Title, &it.Kind, &it.Price, &it.RecipientAddress, &it.ContentRef); err != nil {
			return nil, ledgerErr("item scan failed", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgerErr("item iteration failed", err)
	}
	return items, nil
}

func (p *Postgres) FindItem(ctx context.Context, itemID string) (*types.PaymentItem, error) {
	var it types.PaymentItem
	err := p.pool.QueryRow(ctx,
		`SELECT id, page_id, title, kind, COALESCE(price, ''), recipient_address, COALESCE(content_ref, '')
		 FROM payment_items WHERE id = $1`,
		itemID,
	).Scan(&it.ID, &it.PageID, &it.Title, &it.Kind, &it.Price, &it.RecipientAddress, &it.ContentRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, ledgerErr("item lookup failed", err)
	}
	return &it, nil
}

func (p *Postgres) LatestPaymentFor(ctx context.Context, payerAddress, itemID string) (*types.Payment, error) {
	var pay types.Payment
	err := p.pool.QueryRow(ctx,
		`SELECT id::text, item_id, payer_address, amount::text, tx_hash, created_at
		 FROM payments
		 WHERE lower(payer_address) = lower($1) AND item_id = $2
		 ORDER BY created_at DESC LIMIT 1`,
		payerAddress, itemID,
	).Scan(&pay.ID, &pay.ItemID, &pay.PayerAddress, &pay.Amount, &pay.TxHash, &pay.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ledgerErr("latest payment lookup failed", err)
	}
	return &pay, nil
}

// Tx hashes are stored lowercased so the unique constraint catches the
// same hash in mixed case.
func normalizeHash(h string) string {
	return strings.ToLower(h)
}

func ledgerErr(msg string, err error) error {
	return &types.Error{
		Code:    types.ErrLedgerError,
		Message: fmt.Sprintf("%s: %v", msg, err),
	}
}
