package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/smmpanel/internal/model"
)

const transactionColumns = `id, user_id, type, amount::text, status, payment_method,
	COALESCE(payment_id, ''), description, order_id, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var (
		t      model.Transaction
		typ    string
		status string
		amount string
	)
	err := row.Scan(&t.ID, &t.UserID, &typ, &amount, &status, &t.PaymentMethod, &t.PaymentID, &t.Description, &t.OrderID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	a, err := parseDecimal(amount)
	if err != nil {
		return nil, err
	}
	t.Type = model.TransactionType(typ)
	t.Status = model.TransactionStatus(status)
	t.Amount = a
	return &t, nil
}

type execQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// debit списывает amount одним условным обновлением; при нехватке средств строка не меняется.
func debit(ctx context.Context, q execQuerier, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := q.QueryRow(ctx,
		`UPDATE users SET balance = balance - $2::numeric
		 WHERE id = $1 AND balance >= $2::numeric
		 RETURNING balance::text`,
		userID, amount.String(),
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
				return decimal.Zero, fmt.Errorf("check user: %w", err)
			}
			if !exists {
				return decimal.Zero, ErrUserNotFound
			}
			return decimal.Zero, ErrInsufficientBalance
		}
		return decimal.Zero, fmt.Errorf("debit balance: %w", err)
	}
	return parseDecimal(balance)
}

func credit(ctx context.Context, q execQuerier, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := q.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2::numeric WHERE id = $1 RETURNING balance::text`,
		userID, amount.String(),
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("credit balance: %w", err)
	}
	return parseDecimal(balance)
}

func insertTransaction(ctx context.Context, q execQuerier, t *model.Transaction) (int64, error) {
	var paymentID *string
	if t.PaymentID != "" {
		paymentID = &t.PaymentID
	}

	var id int64
	err := q.QueryRow(ctx,
		`INSERT INTO transactions (user_id, type, amount, status, payment_method, payment_id, description, order_id)
		 VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)
		 RETURNING id`,
		t.UserID, string(t.Type), t.Amount.String(), string(t.Status), t.PaymentMethod, paymentID, t.Description, t.OrderID,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicatePayment
		}
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return id, nil
}

// GetBalance возвращает текущий баланс пользователя.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance string
	err := r.pool.QueryRow(ctx, `SELECT balance::text FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return parseDecimal(balance)
}

// Debit списывает сумму с баланса, если её хватает, и возвращает новый баланс.
func (r *PostgresRepository) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	return debit(ctx, r.pool, userID, amount)
}

// Credit зачисляет сумму на баланс и возвращает новый баланс.
func (r *PostgresRepository) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	return credit(ctx, r.pool, userID, amount)
}

// CreateTransaction добавляет запись в журнал операций.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, t *model.Transaction) (int64, error) {
	return insertTransaction(ctx, r.pool, t)
}

// ApplyDeposit в одной транзакции записывает завершённое пополнение и зачисляет его на баланс.
func (r *PostgresRepository) ApplyDeposit(ctx context.Context, t *model.Transaction) (int64, decimal.Decimal, error) {
	var (
		id      int64
		balance decimal.Decimal
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		id, err = insertTransaction(ctx, tx, t)
		if err != nil {
			return err
		}
		balance, err = credit(ctx, tx, t.UserID, t.Amount)
		return err
	})
	if err != nil {
		return 0, decimal.Zero, err
	}
	return id, balance, nil
}

// ResolvePendingDeposit переводит ожидающее пополнение в completed (с зачислением) или failed.
func (r *PostgresRepository) ResolvePendingDeposit(ctx context.Context, txID int64, status model.TransactionStatus) (*model.Transaction, error) {
	var res *model.Transaction
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		t, err := scanTransaction(tx.QueryRow(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND type = $2 FOR UPDATE`,
			txID, string(model.TransactionTypeDeposit),
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select transaction: %w", err)
		}
		if t.Status != model.TransactionStatusPending {
			return ErrTransactionNotPending
		}

		if _, err := tx.Exec(ctx, `UPDATE transactions SET status = $2 WHERE id = $1`, txID, string(status)); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}

		if status == model.TransactionStatusCompleted {
			if _, err := credit(ctx, tx, t.UserID, t.Amount); err != nil {
				return err
			}
		}

		t.Status = status
		res = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetTransactionsByUser возвращает журнал операций пользователя.
func (r *PostgresRepository) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error) {
	return r.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
}

// GetPendingDeposits возвращает пополнения, ожидающие подтверждения оператором.
func (r *PostgresRepository) GetPendingDeposits(ctx context.Context) ([]model.Transaction, error) {
	return r.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE type = $1 AND status = $2 ORDER BY created_at`,
		string(model.TransactionTypeDeposit), string(model.TransactionStatusPending),
	)
}

func (r *PostgresRepository) queryTransactions(ctx context.Context, sql string, args ...any) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
