package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/smmpanel/internal/model"
)

// UpsertOutcome описывает результат записи позиции каталога.
type UpsertOutcome int

const (
	UpsertUnchanged UpsertOutcome = iota
	UpsertInserted
	UpsertUpdated
)

const serviceColumns = `id, name, description, category, platform, external_id, provider,
	price_per_1000::text, min_quantity, max_quantity, is_active, updated_at`

func scanService(row pgx.Row) (*model.Service, error) {
	var (
		s     model.Service
		price string
	)
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.Category, &s.Platform, &s.ExternalID, &s.Provider,
		&price, &s.MinQuantity, &s.MaxQuantity, &s.IsActive, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p, err := parseDecimal(price)
	if err != nil {
		return nil, err
	}
	s.PricePer1000 = p
	return &s, nil
}

// UpsertService вставляет позицию каталога или обновляет существующую с тем же external_id.
// Строка не переписывается, если ни одно поле не изменилось.
func (r *PostgresRepository) UpsertService(ctx context.Context, s *model.Service) (UpsertOutcome, error) {
	var inserted bool
	err := r.pool.QueryRow(ctx,
		`INSERT INTO services (external_id, provider, name, description, category, platform,
		                       price_per_1000, min_quantity, max_quantity, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)
		 ON CONFLICT (external_id) DO UPDATE SET
		     provider = EXCLUDED.provider,
		     name = EXCLUDED.name,
		     description = EXCLUDED.description,
		     category = EXCLUDED.category,
		     platform = EXCLUDED.platform,
		     price_per_1000 = EXCLUDED.price_per_1000,
		     min_quantity = EXCLUDED.min_quantity,
		     max_quantity = EXCLUDED.max_quantity,
		     is_active = EXCLUDED.is_active,
		     updated_at = now()
		 WHERE (services.provider, services.name, services.description, services.category, services.platform,
		        services.price_per_1000, services.min_quantity, services.max_quantity, services.is_active)
		       IS DISTINCT FROM
		       (EXCLUDED.provider, EXCLUDED.name, EXCLUDED.description, EXCLUDED.category, EXCLUDED.platform,
		        EXCLUDED.price_per_1000, EXCLUDED.min_quantity, EXCLUDED.max_quantity, EXCLUDED.is_active)
		 RETURNING (xmax = 0)`,
		s.ExternalID, s.Provider, s.Name, s.Description, s.Category, s.Platform,
		s.PricePer1000.String(), s.MinQuantity, s.MaxQuantity, s.IsActive,
	).Scan(&inserted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UpsertUnchanged, nil
		}
		return UpsertUnchanged, fmt.Errorf("upsert service %s: %w", s.ExternalID, err)
	}

	if inserted {
		return UpsertInserted, nil
	}
	return UpsertUpdated, nil
}

// GetService возвращает позицию каталога по идентификатору.
func (r *PostgresRepository) GetService(ctx context.Context, id int64) (*model.Service, error) {
	s, err := scanService(r.pool.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	return s, nil
}

// GetActiveServices возвращает активные позиции каталога.
func (r *PostgresRepository) GetActiveServices(ctx context.Context) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+serviceColumns+`
		 FROM services
		 WHERE is_active
		 ORDER BY platform, category, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("select services: %w", err)
	}
	defer rows.Close()

	var res []model.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		res = append(res, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SetServiceActive включает или выключает позицию каталога.
func (r *PostgresRepository) SetServiceActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE services SET is_active = $2, updated_at = now() WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
