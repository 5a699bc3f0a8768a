package database

import (
	"context"

	"github.com/shopspring/decimal"
)

const accountColumns = `id, app_id, balance::text, gift_balance::text,
	credit_limit::text, credit_used::text, daily_limit, status, created_at, updated_at`

func scanAccount(row interface{ Scan(dest ...interface{}) error }) (Account, error) {
	var (
		a                                      Account
		balance, gift, creditLimit, creditUsed string
	)
	err := row.Scan(
		&a.ID, &a.AppID, &balance, &gift, &creditLimit, &creditUsed,
		&a.DailyLimit, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return Account{}, err
	}
	if a.GiftBalance, err = decimal.NewFromString(gift); err != nil {
		return Account{}, err
	}
	if a.CreditLimit, err = decimal.NewFromString(creditLimit); err != nil {
		return Account{}, err
	}
	if a.CreditUsed, err = decimal.NewFromString(creditUsed); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (q *Queries) GetAccountByAppID(ctx context.Context, appID string) (Account, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE app_id = $1`,
		appID,
	)
	return scanAccount(row)
}

// GetAccountForUpdate takes a row lock; callers must be inside a transaction.
func (q *Queries) GetAccountForUpdate(ctx context.Context, appID string) (Account, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE app_id = $1 FOR UPDATE`,
		appID,
	)
	return scanAccount(row)
}

type UpdateAccountBalanceParams struct {
	AppID       string
	Balance     decimal.Decimal
	GiftBalance decimal.Decimal
}

func (q *Queries) UpdateAccountBalance(ctx context.Context, arg UpdateAccountBalanceParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE accounts
		SET balance = $2::numeric, gift_balance = $3::numeric, updated_at = now()
		WHERE app_id = $1`,
		arg.AppID, arg.Balance.String(), arg.GiftBalance.String(),
	)
	return err
}

type CreateTransactionParams struct {
	AccountID     int64
	AppID         string
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Type          string
	Description   string
}

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO transactions (account_id, app_id, amount, balance_before,
			balance_after, type, description)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7)`,
		arg.AccountID, arg.AppID, arg.Amount.String(), arg.BalanceBefore.String(),
		arg.BalanceAfter.String(), arg.Type, arg.Description,
	)
	return err
}

type TransactionExistsParams struct {
	AppID       string
	Type        string
	Description string
}

// TransactionExists reports whether a ledger row with this exact
// description was already written. Debits carry a per-destination
// description, which makes this the durable dedup check for billing.
func (q *Queries) TransactionExists(ctx context.Context, arg TransactionExistsParams) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE app_id = $1 AND type = $2 AND description = $3
		)`,
		arg.AppID, arg.Type, arg.Description,
	).Scan(&exists)
	return exists, err
}
