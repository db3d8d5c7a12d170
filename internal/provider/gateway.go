package provider

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/smmpanel/internal/model"
)

// Gateway обращается к упорядоченному набору провайдеров, переходя к следующему при ошибке.
// Неактивные провайдеры и провайдеры без ключа пропускаются.
type Gateway struct {
	providers []Provider
	logger    *zap.Logger
}

// NewGateway создаёт шлюз; порядок провайдеров задаёт порядок переключения.
func NewGateway(providers []Provider, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	list := make([]Provider, len(providers))
	copy(list, providers)

	return &Gateway{
		providers: list,
		logger:    logger,
	}
}

func (g *Gateway) enabled() []Provider {
	res := make([]Provider, 0, len(g.providers))
	for _, p := range g.providers {
		info := p.Info()
		if info.IsActive && info.HasKey {
			res = append(res, p)
		}
	}
	return res
}

// Providers возвращает состояние всех зарегистрированных провайдеров.
func (g *Gateway) Providers() []model.ProviderInfo {
	res := make([]model.ProviderInfo, 0, len(g.providers))
	for _, p := range g.providers {
		res = append(res, p.Info())
	}
	return res
}

// ListServices объединяет каталоги всех активных провайдеров в порядке конфигурации.
// Ошибка одного провайдера записывается в лог и не прерывает сбор.
func (g *Gateway) ListServices(ctx context.Context) ([]RemoteService, error) {
	providers := g.enabled()
	if len(providers) == 0 {
		return nil, ErrNoProviderAvailable
	}

	results := make([][]RemoteService, len(providers))

	var eg errgroup.Group
	for i, p := range providers {
		eg.Go(func() error {
			name := p.Info().Name
			services, err := p.Services(ctx)
			if err != nil {
				g.logger.Warn("fetch services failed", zap.String("provider", name), zap.Error(err))
				return nil
			}
			for j := range services {
				services[j].Provider = name
			}
			results[i] = services
			return nil
		})
	}
	_ = eg.Wait()

	var all []RemoteService
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// PlaceOrder размещает заказ у первого провайдера, вернувшего непустой идентификатор заказа.
func (g *Gateway) PlaceOrder(ctx context.Context, serviceID, link string, quantity int64) (*Placement, error) {
	for _, p := range g.enabled() {
		name := p.Info().Name

		ack, err := p.AddOrder(ctx, serviceID, link, quantity)
		if err != nil {
			g.logger.Warn("place order failed", zap.String("provider", name), zap.String("service", serviceID), zap.Error(err))
			continue
		}
		if ack == nil || strings.TrimSpace(ack.Order.String()) == "" {
			g.logger.Warn("place order returned no order id", zap.String("provider", name), zap.String("service", serviceID))
			continue
		}

		return &Placement{
			Provider:   name,
			OrderID:    strings.TrimSpace(ack.Order.String()),
			StartCount: ack.StartCount.Int64Or(0),
		}, nil
	}

	return nil, ErrNoProviderAvailable
}

// OrderStatus возвращает первый непустой ответ о состоянии заказа.
// Провайдер preferred, если он задан и активен, опрашивается первым.
// Отсутствие ответа не является ошибкой: второе значение равно false.
func (g *Gateway) OrderStatus(ctx context.Context, preferred, externalOrderID string) (*StatusReport, bool) {
	for _, p := range orderedBy(g.enabled(), preferred) {
		name := p.Info().Name

		report, err := p.Status(ctx, externalOrderID)
		if err != nil {
			g.logger.Debug("order status failed", zap.String("provider", name), zap.String("order", externalOrderID), zap.Error(err))
			continue
		}
		if report == nil || strings.TrimSpace(report.Status) == "" {
			continue
		}
		return report, true
	}

	return nil, false
}

// Balances возвращает балансы указанного провайдера или всех активных, если name пустое.
// Недоступные провайдеры в результат не попадают.
func (g *Gateway) Balances(ctx context.Context, name string) []model.ProviderBalance {
	var targets []Provider
	for _, p := range g.enabled() {
		if name == "" || p.Info().Name == name {
			targets = append(targets, p)
		}
	}

	results := make([]*model.ProviderBalance, len(targets))

	var eg errgroup.Group
	for i, p := range targets {
		eg.Go(func() error {
			pname := p.Info().Name
			bal, err := p.Balance(ctx)
			if err != nil {
				g.logger.Warn("fetch balance failed", zap.String("provider", pname), zap.Error(err))
				return nil
			}
			if bal == nil || bal.Balance == "" {
				return nil
			}
			amount, err := decimal.NewFromString(bal.Balance.String())
			if err != nil {
				g.logger.Warn("unparsable balance", zap.String("provider", pname), zap.String("balance", bal.Balance.String()))
				return nil
			}
			results[i] = &model.ProviderBalance{Provider: pname, Balance: amount, Currency: bal.Currency}
			return nil
		})
	}
	_ = eg.Wait()

	res := make([]model.ProviderBalance, 0, len(results))
	for _, r := range results {
		if r != nil {
			res = append(res, *r)
		}
	}
	return res
}

func orderedBy(providers []Provider, preferred string) []Provider {
	if preferred == "" {
		return providers
	}
	res := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p.Info().Name == preferred {
			res = append(res, p)
		}
	}
	for _, p := range providers {
		if p.Info().Name != preferred {
			res = append(res, p)
		}
	}
	return res
}
