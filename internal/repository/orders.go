package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/smmpanel/internal/model"
)

const orderColumns = `id, user_id, service_id, link, quantity, charge::text, external_order_id, provider,
	start_count, remains, status, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		charge string
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.ServiceID, &o.Link, &o.Quantity, &charge, &o.ExternalOrderID, &o.Provider,
		&o.StartCount, &o.Remains, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c, err := parseDecimal(charge)
	if err != nil {
		return nil, err
	}
	o.Charge = c
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// CreateOrderWithDebit в одной транзакции списывает стоимость заказа, сохраняет заказ
// и добавляет в журнал запись о списании. При нехватке средств ничего не записывается.
func (r *PostgresRepository) CreateOrderWithDebit(ctx context.Context, o *model.Order, entry *model.Transaction) (*model.Order, error) {
	var res *model.Order
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := debit(ctx, tx, o.UserID, o.Charge); err != nil {
			return err
		}

		created, err := scanOrder(tx.QueryRow(ctx,
			`INSERT INTO orders (user_id, service_id, link, quantity, charge, external_order_id, provider,
			                     start_count, remains, status)
			 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)
			 RETURNING `+orderColumns,
			o.UserID, o.ServiceID, o.Link, o.Quantity, o.Charge.String(), o.ExternalOrderID, o.Provider,
			o.StartCount, o.Remains, string(o.Status),
		))
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		e := *entry
		e.OrderID = &created.ID
		if _, err := insertTransaction(ctx, tx, &e); err != nil {
			return err
		}

		res = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrdersByUser возвращает список заказов пользователя.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
}

// GetOpenOrders возвращает заказы, статус которых ещё не окончательный.
// Первыми идут ни разу не проверенные, затем проверенные раньше остальных.
func (r *PostgresRepository) GetOpenOrders(ctx context.Context, limit int) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE lower(status) NOT IN ('completed', 'partial', 'cancelled', 'canceled')
		 ORDER BY checked_at NULLS FIRST, id
		 LIMIT $1`,
		limit,
	)
}

// MarkOrderChecked отмечает время сверки заказа, не меняя его статус и остаток.
func (r *PostgresRepository) MarkOrderChecked(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE orders SET checked_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark order checked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateOrderProgress обновляет статус заказа и остаток к выполнению.
func (r *PostgresRepository) UpdateOrderProgress(ctx context.Context, id int64, status model.OrderStatus, remains int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $2, remains = LEAST(GREATEST($3, 0), quantity), updated_at = now(), checked_at = now()
		 WHERE id = $1`,
		id, string(status), remains,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) queryOrders(ctx context.Context, sql string, args ...any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
