// Package reconcile подтягивает статус и остаток заказов у поставщиков.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel/internal/model"
	"github.com/mmeshcher/smmpanel/internal/provider"
	"github.com/mmeshcher/smmpanel/internal/repository"
)

// ErrOrderNotFound возвращается, если заказа нет или он принадлежит другому пользователю.
var ErrOrderNotFound = errors.New("order not found")

// Repository описывает доступ к заказам.
type Repository interface {
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetOpenOrders(ctx context.Context, limit int) ([]model.Order, error)
	UpdateOrderProgress(ctx context.Context, id int64, status model.OrderStatus, remains int64) error
	MarkOrderChecked(ctx context.Context, id int64) error
}

// Gateway отдаёт состояние заказа у поставщиков.
type Gateway interface {
	OrderStatus(ctx context.Context, preferred, externalOrderID string) (*provider.StatusReport, bool)
}

// Sweeper сверяет локальные заказы с поставщиками.
type Sweeper struct {
	repo     Repository
	gateway  Gateway
	logger   *zap.Logger
	interval time.Duration
	batch    int
}

// NewSweeper создаёт сверщик. interval == 0 отключает фоновый обход.
func NewSweeper(repo Repository, gateway Gateway, logger *zap.Logger, interval time.Duration, batch int) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		repo:     repo,
		gateway:  gateway,
		logger:   logger,
		interval: interval,
		batch:    batch,
	}
}

// Refresh обновляет заказ пользователя по данным поставщика.
// Если поставщик недоступен или не знает заказ, возвращается заказ без изменений.
func (s *Sweeper) Refresh(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if o.UserID != userID {
		return nil, ErrOrderNotFound
	}

	if _, err := s.apply(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// apply запрашивает статус и записывает его в заказ; возвращает false, если ответа нет.
// Заказ без ответа только отмечается как проверенный, чтобы обход шёл дальше по очереди.
func (s *Sweeper) apply(ctx context.Context, o *model.Order) (bool, error) {
	var (
		report *provider.StatusReport
		ok     bool
	)
	if o.ExternalOrderID != "" {
		report, ok = s.gateway.OrderStatus(ctx, o.Provider, o.ExternalOrderID)
	}
	if !ok {
		if err := s.repo.MarkOrderChecked(ctx, o.ID); err != nil {
			s.logger.Warn("mark order checked", zap.Int64("orderID", o.ID), zap.Error(err))
		}
		return false, nil
	}

	status := model.NormalizeOrderStatus(report.Status)
	remains := clamp(report.Remains.Int64Or(0), o.Quantity)

	if err := s.repo.UpdateOrderProgress(ctx, o.ID, status, remains); err != nil {
		return false, fmt.Errorf("update order %d: %w", o.ID, err)
	}

	o.Status = status
	o.Remains = remains
	return true, nil
}

func clamp(remains, quantity int64) int64 {
	if remains < 0 {
		return 0
	}
	if remains > quantity {
		return quantity
	}
	return remains
}

// Run периодически обходит незавершённые заказы, пока не отменён ctx.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep выполняет один проход по незавершённым заказам и возвращает число обновлённых.
func (s *Sweeper) Sweep(ctx context.Context) int {
	orders, err := s.repo.GetOpenOrders(ctx, s.batch)
	if err != nil {
		s.logger.Error("load open orders", zap.Error(err))
		return 0
	}

	updated := 0
	for i := range orders {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.apply(ctx, &orders[i])
		if err != nil {
			s.logger.Warn("reconcile order", zap.Int64("orderID", orders[i].ID), zap.Error(err))
			continue
		}
		if ok {
			updated++
		}
	}

	if updated > 0 {
		s.logger.Info("orders reconciled", zap.Int("updated", updated), zap.Int("checked", len(orders)))
	}
	return updated
}
