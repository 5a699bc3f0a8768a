package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tutadeploy/smpp-server/internal/config"
	"github.com/tutadeploy/smpp-server/internal/database"
	"github.com/tutadeploy/smpp-server/internal/logging"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Transaction type labels recorded on the append-only transactions table.
const (
	TxTypeDeduct   = "DEDUCT"
	TxTypeRecharge = "RECHARGE"
	TxTypeGift     = "GIFT"
	TxTypeRefund   = "REFUND"
)

// TxRunner abstracts database.Store so the debit path can be exercised
// against an in-memory transaction runner.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(q database.Querier) error) error
}

// Service is the balance ledger. Reads go through the plain querier;
// anything that moves money runs inside a locked transaction.
type Service struct {
	q         database.Querier
	tx        TxRunner
	unitPrice decimal.Decimal
}

func NewService(q database.Querier, tx TxRunner, cfg config.LedgerConfig) (*Service, error) {
	price, err := decimal.NewFromString(cfg.UnitPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid unit price %q: %w", cfg.UnitPrice, err)
	}
	return &Service{q: q, tx: tx, unitPrice: price}, nil
}

// UnitPrice returns the configured per-message price.
func (s *Service) UnitPrice() decimal.Decimal {
	return s.unitPrice
}

// CheckBalance verifies, without locking, that the account can afford
// count messages. The authoritative check happens at dispatch time in
// DeductBalance; this one only rejects obviously unfunded requests early.
func (s *Service) CheckBalance(ctx context.Context, appID string, count int) error {
	account, err := s.q.GetAccountByAppID(ctx, appID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("app %s: %w", appID, ErrAccountNotFound)
		}
		return fmt.Errorf("failed to load account %s: %w", appID, err)
	}

	cost := s.unitPrice.Mul(decimal.NewFromInt(int64(count)))
	available := account.Balance.Add(account.GiftBalance)
	if available.LessThan(cost) {
		return fmt.Errorf("app %s needs %s, has %s: %w",
			appID, cost.String(), available.String(), ErrInsufficientBalance)
	}
	return nil
}

// DeductBalance charges the account for count messages. Gift balance is
// consumed before the main balance. The row lock, the balance update and
// the DEDUCT transaction row commit together or not at all.
func (s *Service) DeductBalance(ctx context.Context, appID string, count int, description string) error {
	logCtx := logging.ContextWithAppID(ctx, appID)
	cost := s.unitPrice.Mul(decimal.NewFromInt(int64(count)))

	return s.tx.WithTx(logCtx, func(q database.Querier) error {
		account, err := q.GetAccountForUpdate(logCtx, appID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("app %s: %w", appID, ErrAccountNotFound)
			}
			return fmt.Errorf("failed to lock account %s: %w", appID, err)
		}

		available := account.Balance.Add(account.GiftBalance)
		if available.LessThan(cost) {
			return fmt.Errorf("app %s needs %s, has %s: %w",
				appID, cost.String(), available.String(), ErrInsufficientBalance)
		}

		fromGift := decimal.Min(account.GiftBalance, cost)
		fromBalance := cost.Sub(fromGift)

		newGift := account.GiftBalance.Sub(fromGift)
		newBalance := account.Balance.Sub(fromBalance)

		if err := q.UpdateAccountBalance(logCtx, database.UpdateAccountBalanceParams{
			AppID:       appID,
			Balance:     newBalance,
			GiftBalance: newGift,
		}); err != nil {
			return fmt.Errorf("failed to update balance for %s: %w", appID, err)
		}

		if err := q.CreateTransaction(logCtx, database.CreateTransactionParams{
			AccountID:     account.ID,
			AppID:         appID,
			Amount:        cost.Neg(),
			BalanceBefore: available,
			BalanceAfter:  newBalance.Add(newGift),
			Type:          TxTypeDeduct,
			Description:   description,
		}); err != nil {
			return fmt.Errorf("failed to record deduct transaction for %s: %w", appID, err)
		}

		slog.InfoContext(logCtx, "Balance deducted",
			slog.String("cost", cost.String()),
			slog.String("balance_after", newBalance.Add(newGift).String()),
			slog.Int("count", count))
		return nil
	})
}

// RechargeBalance credits amount onto the account. TxTypeRecharge and
// TxTypeRefund land on the main balance, TxTypeGift on the gift balance.
func (s *Service) RechargeBalance(ctx context.Context, appID string, amount decimal.Decimal, txType, description string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("recharge amount must be positive, got %s", amount.String())
	}
	if txType != TxTypeRecharge && txType != TxTypeGift && txType != TxTypeRefund {
		return fmt.Errorf("unsupported credit transaction type %q", txType)
	}

	logCtx := logging.ContextWithAppID(ctx, appID)
	return s.tx.WithTx(logCtx, func(q database.Querier) error {
		account, err := q.GetAccountForUpdate(logCtx, appID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("app %s: %w", appID, ErrAccountNotFound)
			}
			return fmt.Errorf("failed to lock account %s: %w", appID, err)
		}

		before := account.Balance.Add(account.GiftBalance)
		newBalance := account.Balance
		newGift := account.GiftBalance
		if txType == TxTypeGift {
			newGift = newGift.Add(amount)
		} else {
			newBalance = newBalance.Add(amount)
		}

		if err := q.UpdateAccountBalance(logCtx, database.UpdateAccountBalanceParams{
			AppID:       appID,
			Balance:     newBalance,
			GiftBalance: newGift,
		}); err != nil {
			return fmt.Errorf("failed to update balance for %s: %w", appID, err)
		}

		if err := q.CreateTransaction(logCtx, database.CreateTransactionParams{
			AccountID:     account.ID,
			AppID:         appID,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  newBalance.Add(newGift),
			Type:          txType,
			Description:   description,
		}); err != nil {
			return fmt.Errorf("failed to record %s transaction for %s: %w", txType, appID, err)
		}

		slog.InfoContext(logCtx, "Balance credited",
			slog.String("amount", amount.String()),
			slog.String("type", txType))
		return nil
	})
}

// GetBalance returns the account without locking it.
func (s *Service) GetBalance(ctx context.Context, appID string) (database.Account, error) {
	account, err := s.q.GetAccountByAppID(ctx, appID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Account{}, fmt.Errorf("app %s: %w", appID, ErrAccountNotFound)
		}
		return database.Account{}, fmt.Errorf("failed to load account %s: %w", appID, err)
	}
	return account, nil
}
