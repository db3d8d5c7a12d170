// Package ledger ведёт балансы пользователей; других путей изменить баланс нет.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel/internal/model"
	"github.com/mmeshcher/smmpanel/internal/repository"
)

var (
	// ErrInsufficientFunds возвращается, если списание превысило бы текущий баланс.
	ErrInsufficientFunds = repository.ErrInsufficientBalance
	// ErrDuplicatePayment возвращается при повторном сигнале о том же платеже.
	ErrDuplicatePayment = repository.ErrDuplicatePayment
	// ErrTransactionNotPending возвращается при повторном подтверждении или отклонении пополнения.
	ErrTransactionNotPending = repository.ErrTransactionNotPending
	// ErrCommitUncertain возвращается, если неизвестно, была ли применена транзакция хранилища.
	ErrCommitUncertain = repository.ErrCommitUncertain
	// ErrInvalidAmount возвращается для нулевых и отрицательных сумм.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidTransaction возвращается для записи журнала с неизвестным типом или статусом.
	ErrInvalidTransaction = errors.New("invalid transaction entry")
)

// Repository описывает операции хранилища, на которые опирается журнал.
type Repository interface {
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Debit(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error)
	CreateTransaction(ctx context.Context, t *model.Transaction) (int64, error)
	ApplyDeposit(ctx context.Context, t *model.Transaction) (int64, decimal.Decimal, error)
	ResolvePendingDeposit(ctx context.Context, txID int64, status model.TransactionStatus) (*model.Transaction, error)
	GetTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error)
	GetPendingDeposits(ctx context.Context) ([]model.Transaction, error)
	CreateOrderWithDebit(ctx context.Context, o *model.Order, entry *model.Transaction) (*model.Order, error)
}

// Ledger ведёт балансы пользователей и журнал операций.
type Ledger struct {
	repo   Repository
	logger *zap.Logger
}

// New создаёт журнал поверх хранилища.
func New(repo Repository, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		repo:   repo,
		logger: logger,
	}
}

// Money округляет сумму до центов.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func positive(amount decimal.Decimal) (decimal.Decimal, error) {
	amount = Money(amount)
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

// GetBalance читает актуальный баланс пользователя из хранилища.
func (l *Ledger) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return l.repo.GetBalance(ctx, userID)
}

// Debit списывает сумму условным обновлением; при нехватке средств баланс не меняется
// и возвращается ErrInsufficientFunds.
func (l *Ledger) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	amount, err := positive(amount)
	if err != nil {
		return decimal.Zero, err
	}
	return l.repo.Debit(ctx, userID, amount)
}

// Credit зачисляет сумму на баланс.
func (l *Ledger) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	amount, err := positive(amount)
	if err != nil {
		return decimal.Zero, err
	}
	return l.repo.Credit(ctx, userID, amount)
}

// RecordTransaction добавляет запись в журнал без изменения баланса.
func (l *Ledger) RecordTransaction(ctx context.Context, entry model.Transaction) (int64, error) {
	amount, err := positive(entry.Amount)
	if err != nil {
		return 0, err
	}
	entry.Amount = amount

	switch entry.Type {
	case model.TransactionTypeDeposit, model.TransactionTypeOrder:
	default:
		return 0, fmt.Errorf("%w: type %q", ErrInvalidTransaction, entry.Type)
	}
	switch entry.Status {
	case model.TransactionStatusPending, model.TransactionStatusCompleted, model.TransactionStatusFailed:
	default:
		return 0, fmt.Errorf("%w: status %q", ErrInvalidTransaction, entry.Status)
	}

	return l.repo.CreateTransaction(ctx, &entry)
}

// ApplyPayment проводит завершённый платёж: запись о пополнении и зачисление выполняются вместе.
// Повторный сигнал с тем же идентификатором платежа возвращает ErrDuplicatePayment без зачисления.
func (l *Ledger) ApplyPayment(ctx context.Context, userID int64, p model.Payment) (*model.Transaction, error) {
	amount, err := positive(p.Amount)
	if err != nil {
		return nil, err
	}
	method := strings.ToLower(strings.TrimSpace(p.Method))
	if method == "" {
		return nil, fmt.Errorf("%w: payment method required", ErrInvalidTransaction)
	}

	t := &model.Transaction{
		UserID:        userID,
		Type:          model.TransactionTypeDeposit,
		Amount:        amount,
		Status:        model.TransactionStatusCompleted,
		PaymentMethod: method,
		PaymentID:     strings.TrimSpace(p.ExternalPaymentID),
		Description:   "Deposit via " + method,
	}

	id, balance, err := l.repo.ApplyDeposit(ctx, t)
	if err != nil {
		return nil, err
	}
	t.ID = id

	l.logger.Info("deposit applied",
		zap.Int64("userID", userID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("method", method),
		zap.String("balance", balance.StringFixed(2)),
	)
	return t, nil
}

// RequestDeposit создаёт заявку на ручное пополнение; баланс меняется только после подтверждения.
func (l *Ledger) RequestDeposit(ctx context.Context, userID int64, amount decimal.Decimal, method string) (*model.Transaction, error) {
	amount, err := positive(amount)
	if err != nil {
		return nil, err
	}
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		method = "manual"
	}

	t := model.Transaction{
		UserID:        userID,
		Type:          model.TransactionTypeDeposit,
		Amount:        amount,
		Status:        model.TransactionStatusPending,
		PaymentMethod: method,
		Description:   "Manual deposit request - $" + amount.StringFixed(2),
	}

	id, err := l.repo.CreateTransaction(ctx, &t)
	if err != nil {
		return nil, err
	}
	t.ID = id
	return &t, nil
}

// ApproveDeposit подтверждает ожидающее пополнение и зачисляет его сумму.
func (l *Ledger) ApproveDeposit(ctx context.Context, txID int64) (*model.Transaction, error) {
	t, err := l.repo.ResolvePendingDeposit(ctx, txID, model.TransactionStatusCompleted)
	if err != nil {
		return nil, err
	}
	l.logger.Info("deposit approved", zap.Int64("transactionID", txID), zap.Int64("userID", t.UserID), zap.String("amount", t.Amount.StringFixed(2)))
	return t, nil
}

// RejectDeposit отклоняет ожидающее пополнение без зачисления.
func (l *Ledger) RejectDeposit(ctx context.Context, txID int64) (*model.Transaction, error) {
	t, err := l.repo.ResolvePendingDeposit(ctx, txID, model.TransactionStatusFailed)
	if err != nil {
		return nil, err
	}
	l.logger.Info("deposit rejected", zap.Int64("transactionID", txID), zap.Int64("userID", t.UserID))
	return t, nil
}

// ChargeOrder сохраняет заказ и списывает его стоимость одной транзакцией хранилища.
// Если средств уже не хватает, заказ не сохраняется и возвращается ErrInsufficientFunds.
func (l *Ledger) ChargeOrder(ctx context.Context, o *model.Order) (*model.Order, error) {
	charge, err := positive(o.Charge)
	if err != nil {
		return nil, err
	}
	o.Charge = charge

	entry := &model.Transaction{
		UserID:        o.UserID,
		Type:          model.TransactionTypeOrder,
		Amount:        charge,
		Status:        model.TransactionStatusCompleted,
		PaymentMethod: "balance",
		Description:   fmt.Sprintf("Order %s x%d via %s", o.ExternalOrderID, o.Quantity, o.Provider),
	}

	return l.repo.CreateOrderWithDebit(ctx, o, entry)
}

// ListTransactions возвращает журнал операций пользователя.
func (l *Ledger) ListTransactions(ctx context.Context, userID int64) ([]model.Transaction, error) {
	return l.repo.GetTransactionsByUser(ctx, userID)
}

// ListPendingDeposits возвращает пополнения, ожидающие решения оператора.
func (l *Ledger) ListPendingDeposits(ctx context.Context) ([]model.Transaction, error) {
	return l.repo.GetPendingDeposits(ctx)
}
