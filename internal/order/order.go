// Package order оформляет заказы: проверка запроса, выбор услуги, размещение у поставщика
// и списание стоимости с баланса.
package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel/internal/ledger"
	"github.com/mmeshcher/smmpanel/internal/model"
	"github.com/mmeshcher/smmpanel/internal/provider"
	"github.com/mmeshcher/smmpanel/internal/repository"
	"github.com/mmeshcher/smmpanel/internal/validation"
)

var (
	// ErrInvalidOrderRequest возвращается при пустой ссылке или недопустимом количестве.
	ErrInvalidOrderRequest = errors.New("invalid order request")
	// ErrServiceNotFound возвращается для неизвестной или выключенной услуги.
	ErrServiceNotFound = errors.New("service not found")
	// ErrInsufficientFunds возвращается, если стоимость заказа больше баланса.
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	// ErrUpstreamPlacementFailed возвращается, если ни один поставщик не принял заказ.
	ErrUpstreamPlacementFailed = errors.New("failed to create order with any provider")
	// ErrPersistenceFailure возвращается, если заказ принят поставщиком, но не сохранён.
	ErrPersistenceFailure = errors.New("failed to save order")
)

// Catalog отдаёт услугу каталога по идентификатору.
type Catalog interface {
	GetService(ctx context.Context, id int64) (*model.Service, error)
}

// Ledger читает баланс и проводит списание за заказ.
type Ledger interface {
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	ChargeOrder(ctx context.Context, o *model.Order) (*model.Order, error)
}

// Gateway размещает заказ у первого доступного поставщика.
type Gateway interface {
	PlaceOrder(ctx context.Context, serviceID, link string, quantity int64) (*provider.Placement, error)
}

// Request описывает заказ пользователя.
type Request struct {
	UserID    int64
	ServiceID int64
	Link      string
	Quantity  int64
}

// Orchestrator оформляет заказы.
type Orchestrator struct {
	catalog Catalog
	ledger  Ledger
	gateway Gateway
	logger  *zap.Logger
}

// NewOrchestrator создаёт оркестратор заказов.
func NewOrchestrator(catalog Catalog, l Ledger, gateway Gateway, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		catalog: catalog,
		ledger:  l,
		gateway: gateway,
		logger:  logger,
	}
}

// ComputeCharge считает стоимость заказа: quantity / 1000 * pricePer1000 с округлением до центов.
func ComputeCharge(quantity int64, pricePer1000 decimal.Decimal) decimal.Decimal {
	return pricePer1000.Mul(decimal.NewFromInt(quantity)).Div(decimal.NewFromInt(1000)).Round(2)
}

// PlaceOrder проверяет запрос, размещает заказ у поставщика и только после этого
// сохраняет его вместе со списанием стоимости.
func (o *Orchestrator) PlaceOrder(ctx context.Context, req Request) (*model.Order, error) {
	if !validation.IsValidLink(req.Link) {
		return nil, fmt.Errorf("%w: link is required", ErrInvalidOrderRequest)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidOrderRequest)
	}

	svc, err := o.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	if !svc.IsActive {
		return nil, ErrServiceNotFound
	}

	if req.Quantity < svc.MinQuantity || req.Quantity > svc.MaxQuantity {
		return nil, fmt.Errorf("%w: quantity must be between %d and %d", ErrInvalidOrderRequest, svc.MinQuantity, svc.MaxQuantity)
	}

	charge := ComputeCharge(req.Quantity, svc.PricePer1000)
	if !charge.IsPositive() {
		return nil, fmt.Errorf("%w: order total is below one cent", ErrInvalidOrderRequest)
	}

	balance, err := o.ledger.GetBalance(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if charge.GreaterThan(balance) {
		return nil, ErrInsufficientFunds
	}

	placement, err := o.gateway.PlaceOrder(ctx, svc.ExternalID, req.Link, req.Quantity)
	if err != nil {
		o.logger.Warn("upstream placement failed",
			zap.Int64("userID", req.UserID),
			zap.String("service", svc.ExternalID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamPlacementFailed, err)
	}

	created, err := o.ledger.ChargeOrder(ctx, &model.Order{
		UserID:          req.UserID,
		ServiceID:       svc.ID,
		Link:            req.Link,
		Quantity:        req.Quantity,
		Charge:          charge,
		ExternalOrderID: placement.OrderID,
		Provider:        placement.Provider,
		StartCount:      placement.StartCount,
		Remains:         req.Quantity,
		Status:          model.OrderStatusPending,
	})
	if errors.Is(err, ledger.ErrCommitUncertain) {
		o.logger.Error("upstream order charge outcome unknown",
			zap.String("provider", placement.Provider),
			zap.String("externalOrderID", placement.OrderID),
			zap.Int64("userID", req.UserID),
			zap.String("charge", charge.StringFixed(2)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	if err != nil {
		o.logger.Error("orphaned upstream order",
			zap.String("provider", placement.Provider),
			zap.String("externalOrderID", placement.OrderID),
			zap.Int64("userID", req.UserID),
			zap.String("charge", charge.StringFixed(2)),
			zap.Error(err),
		)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, fmt.Errorf("%w: balance changed during placement", ErrInsufficientFunds)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	o.logger.Info("order placed",
		zap.Int64("orderID", created.ID),
		zap.Int64("userID", created.UserID),
		zap.String("provider", created.Provider),
		zap.String("externalOrderID", created.ExternalOrderID),
		zap.String("charge", created.Charge.StringFixed(2)),
	)
	return created, nil
}
