// Package model содержит доменные сущности SMM-панели.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// User представляет зарегистрированного пользователя панели.
type User struct {
	ID              int64
	Email           string
	Name            string
	PasswordHash    []byte
	Balance         decimal.Decimal
	IsEmailVerified bool
	IsAdmin         bool
	CreatedAt       time.Time
}

// Service описывает позицию каталога, привязанную к услуге одного провайдера.
type Service struct {
	ID           int64
	Name         string
	Description  string
	Category     string
	Platform     string
	ExternalID   string
	Provider     string
	PricePer1000 decimal.Decimal
	MinQuantity  int64
	MaxQuantity  int64
	IsActive     bool
	UpdatedAt    time.Time
}

// OrderStatus описывает статус выполнения заказа у провайдера.
// Кроме перечисленных значений допускаются произвольные строки провайдера.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusInProgress OrderStatus = "in progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusPartial    OrderStatus = "partial"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusCanceled   OrderStatus = "canceled"
)

// NormalizeOrderStatus приводит статус провайдера к нижнему регистру без лишних пробелов.
func NormalizeOrderStatus(raw string) OrderStatus {
	return OrderStatus(toLowerTrim(raw))
}

// IsFinal сообщает, что заказ больше не требует сверки с провайдером.
func (s OrderStatus) IsFinal() bool {
	switch OrderStatus(toLowerTrim(string(s))) {
	case OrderStatusCompleted, OrderStatusPartial, OrderStatusCancelled, OrderStatusCanceled:
		return true
	}
	return false
}

// Order описывает заказ пользователя, размещённый у провайдера.
type Order struct {
	ID              int64
	UserID          int64
	ServiceID       int64
	Link            string
	Quantity        int64
	Charge          decimal.Decimal
	ExternalOrderID string
	Provider        string
	StartCount      int64
	Remains         int64
	Status          OrderStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Progress возвращает процент выполнения заказа для отображения.
func (o Order) Progress() float64 {
	if OrderStatus(toLowerTrim(string(o.Status))) == OrderStatusCompleted {
		return 100
	}
	if o.Quantity <= 0 {
		return 0
	}
	p := float64(o.Quantity-o.Remains) / float64(o.Quantity) * 100
	if p < 0 {
		return 0
	}
	return p
}

// TransactionType описывает вид записи в журнале операций.
type TransactionType string

const (
	TransactionTypeDeposit TransactionType = "deposit"
	TransactionTypeOrder   TransactionType = "order"
)

// TransactionStatus описывает состояние записи журнала.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction описывает запись журнала операций по балансу.
type Transaction struct {
	ID            int64
	UserID        int64
	Type          TransactionType
	Amount        decimal.Decimal
	Status        TransactionStatus
	PaymentMethod string
	PaymentID     string
	Description   string
	OrderID       *int64
	CreatedAt     time.Time
}

// Payment описывает сигнал внешней платёжной системы о завершённом платеже.
type Payment struct {
	Amount            decimal.Decimal
	Method            string
	ExternalPaymentID string
}

// ProviderBalance содержит баланс аккаунта у одного провайдера.
type ProviderBalance struct {
	Provider string          `json:"provider"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency,omitempty"`
}

// ProviderInfo описывает состояние регистрации провайдера без секретного ключа.
type ProviderInfo struct {
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
	HasKey   bool   `json:"has_api_key"`
}

// EmailVerification описывает токен подтверждения почты.
type EmailVerification struct {
	Token      string
	UserID     int64
	ExpiresAt  time.Time
	VerifiedAt *time.Time
}

func toLowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
