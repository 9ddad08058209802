package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"forge/internal/domain"
)

// CreditLedgerPG implements domain.CreditLedger. The balance column on
// credit_accounts is the available balance: holds debit it on reserve and
// credit it back on release, so reserve is a single decrement-if-sufficient
// statement with no read-then-write window.
type CreditLedgerPG struct {
	pool *pgxpool.Pool
}

// NewCreditLedger creates a new credit ledger backed by PostgreSQL.
func NewCreditLedger(pool *pgxpool.Pool) *CreditLedgerPG {
	return &CreditLedgerPG{pool: pool}
}

// Reserve debits the tenant's available balance and records a HELD hold, all
// in one statement. No row back means the balance was insufficient.
func (l *CreditLedgerPG) Reserve(ctx context.Context, tenantID string, amount int64) (*domain.CreditHold, error) {
	query := `
WITH debit AS (
    UPDATE credit_accounts
    SET balance = balance - $3
    WHERE tenant_id = $2 AND balance >= $3
    RETURNING tenant_id
)
INSERT INTO credit_holds (id, tenant_id, amount, status, created_at)
SELECT $1, tenant_id, $3, 'HELD', now() FROM debit
RETURNING id, tenant_id, amount, status, created_at;
`
	row := l.pool.QueryRow(ctx, query, uuid.NewString(), tenantID, amount)
	var hold domain.CreditHold
	if err := row.Scan(&hold.ID, &hold.TenantID, &hold.Amount, &hold.Status, &hold.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInsufficientCredit
		}
		return nil, err
	}
	return &hold, nil
}

// Commit settles a HELD hold. The debit already happened at reserve time, so
// committing only flips the hold status; repeats match zero rows and no-op.
func (l *CreditLedgerPG) Commit(ctx context.Context, holdID string) error {
	query := `
UPDATE credit_holds
SET status = 'COMMITTED'
WHERE id = $1 AND status = 'HELD';
`
	_, err := l.pool.Exec(ctx, query, holdID)
	return err
}

// Release refunds a HELD hold in full. The status flip and the balance credit
// are one statement, so a duplicate release can never refund twice.
func (l *CreditLedgerPG) Release(ctx context.Context, holdID string) error {
	query := `
WITH released AS (
    UPDATE credit_holds
    SET status = 'RELEASED'
    WHERE id = $1 AND status = 'HELD'
    RETURNING tenant_id, amount
)
UPDATE credit_accounts a
SET balance = a.balance + r.amount
FROM released r
WHERE a.tenant_id = r.tenant_id;
`
	_, err := l.pool.Exec(ctx, query, holdID)
	return err
}

// Available returns the tenant's available balance.
func (l *CreditLedgerPG) Available(ctx context.Context, tenantID string) (int64, error) {
	query := `
SELECT balance
FROM credit_accounts
WHERE tenant_id = $1;
`
	var balance int64
	if err := l.pool.QueryRow(ctx, query, tenantID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

var _ domain.CreditLedger = (*CreditLedgerPG)(nil)
