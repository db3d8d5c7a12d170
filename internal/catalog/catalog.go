// Package catalog синхронизирует каталог услуг с поставщиками и отдаёт активные позиции.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel/internal/model"
	"github.com/mmeshcher/smmpanel/internal/provider"
	"github.com/mmeshcher/smmpanel/internal/repository"
)

const (
	activeKey = "catalog:active"

	defaultCategory = "other"
	defaultPlatform = "instagram"
)

// Repository описывает хранилище каталога.
type Repository interface {
	UpsertService(ctx context.Context, s *model.Service) (repository.UpsertOutcome, error)
	GetActiveServices(ctx context.Context) ([]model.Service, error)
	SetServiceActive(ctx context.Context, id int64, active bool) error
}

// Gateway отдаёт каталоги всех активных поставщиков.
type Gateway interface {
	ListServices(ctx context.Context) ([]provider.RemoteService, error)
}

// SyncResult содержит итог синхронизации.
type SyncResult struct {
	Fetched  int `json:"fetched"`
	Upserted int `json:"upserted"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Catalog синхронизирует и отдаёт каталог услуг.
type Catalog struct {
	repo    Repository
	gateway Gateway
	cache   Cache
	ttl     time.Duration
	logger  *zap.Logger

	// gen растёт при каждой инвалидации; чтение из хранилища, начатое
	// до инвалидации, не должно попасть в кэш.
	gen atomic.Uint64
}

// New создаёт каталог. cache может быть nil, тогда чтение идёт напрямую из хранилища.
func New(repo Repository, gateway Gateway, cache Cache, ttl time.Duration, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{
		repo:    repo,
		gateway: gateway,
		cache:   cache,
		ttl:     ttl,
		logger:  logger,
	}
}

// Sync загружает каталоги поставщиков и записывает их по external_id.
// Повторный запуск с теми же данными ничего не меняет.
func (c *Catalog) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult

	remote, err := c.gateway.ListServices(ctx)
	if err != nil {
		return res, fmt.Errorf("list provider services: %w", err)
	}
	res.Fetched = len(remote)

	seen := make(map[string]struct{}, len(remote))
	for _, rs := range remote {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		svc, err := toService(rs)
		if err != nil {
			c.logger.Debug("skip provider service", zap.String("provider", rs.Provider), zap.String("service", rs.Service.String()), zap.Error(err))
			res.Skipped++
			continue
		}
		if _, dup := seen[svc.ExternalID]; dup {
			res.Skipped++
			continue
		}
		seen[svc.ExternalID] = struct{}{}

		outcome, err := c.repo.UpsertService(ctx, svc)
		if err != nil {
			c.logger.Warn("upsert service failed", zap.String("externalID", svc.ExternalID), zap.Error(err))
			res.Skipped++
			continue
		}

		res.Upserted++
		switch outcome {
		case repository.UpsertInserted:
			res.Inserted++
		case repository.UpsertUpdated:
			res.Updated++
		}
	}

	c.invalidate(ctx)

	c.logger.Info("catalog synced",
		zap.Int("fetched", res.Fetched),
		zap.Int("upserted", res.Upserted),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func toService(rs provider.RemoteService) (*model.Service, error) {
	externalID := strings.TrimSpace(rs.Service.String())
	if externalID == "" {
		return nil, errors.New("empty service id")
	}

	rate, err := decimal.NewFromString(strings.TrimSpace(rs.Rate.String()))
	if err != nil {
		return nil, fmt.Errorf("parse rate: %w", err)
	}
	rate = rate.Round(4)
	if !rate.IsPositive() {
		return nil, errors.New("rate must be positive")
	}

	minQty, err := rs.Min.Int64()
	if err != nil {
		return nil, fmt.Errorf("parse min: %w", err)
	}
	maxQty, err := rs.Max.Int64()
	if err != nil {
		return nil, fmt.Errorf("parse max: %w", err)
	}
	if minQty <= 0 || minQty > maxQty {
		return nil, fmt.Errorf("invalid quantity range %d..%d", minQty, maxQty)
	}

	category := strings.TrimSpace(rs.Category)
	if category == "" {
		category = defaultCategory
	}
	platform := strings.TrimSpace(rs.Type)
	if platform == "" {
		platform = defaultPlatform
	}

	return &model.Service{
		Name:         rs.Name,
		Description:  rs.Name,
		Category:     category,
		Platform:     platform,
		ExternalID:   externalID,
		Provider:     rs.Provider,
		PricePer1000: rate,
		MinQuantity:  minQty,
		MaxQuantity:  maxQty,
		IsActive:     true,
	}, nil
}

// ListActive возвращает активные услуги, по возможности из кэша.
func (c *Catalog) ListActive(ctx context.Context) ([]model.Service, error) {
	if c.cache != nil {
		b, ok, err := c.cache.Get(ctx, activeKey)
		switch {
		case err != nil:
			c.logger.Warn("catalog cache read failed", zap.Error(err))
		case ok:
			var services []model.Service
			if err := json.Unmarshal(b, &services); err == nil {
				return services, nil
			}
			c.logger.Warn("catalog cache entry corrupted")
		}
	}

	gen := c.gen.Load()
	services, err := c.repo.GetActiveServices(ctx)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.store(ctx, gen, services)
	}
	return services, nil
}

// store кладёт снимок в кэш, только если с момента чтения не было инвалидации.
func (c *Catalog) store(ctx context.Context, gen uint64, services []model.Service) {
	if c.gen.Load() != gen {
		return
	}
	b, err := json.Marshal(services)
	if err == nil {
		err = c.cache.Set(ctx, activeKey, b, c.ttl)
	}
	if err != nil {
		c.logger.Warn("catalog cache write failed", zap.Error(err))
		return
	}
	// Инвалидация могла пройти между проверкой и записью.
	if c.gen.Load() != gen {
		if err := c.cache.Delete(ctx, activeKey); err != nil {
			c.logger.Warn("catalog cache invalidation failed", zap.Error(err))
		}
	}
}

// SetActive включает или выключает услугу каталога.
func (c *Catalog) SetActive(ctx context.Context, id int64, active bool) error {
	if err := c.repo.SetServiceActive(ctx, id, active); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *Catalog) invalidate(ctx context.Context) {
	c.gen.Add(1)
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, activeKey); err != nil {
		c.logger.Warn("catalog cache invalidation failed", zap.Error(err))
	}
}
