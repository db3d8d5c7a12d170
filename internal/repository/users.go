package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/smmpanel/internal/model"
)

const userColumns = `id, email, name, password_hash, balance::text, is_email_verified, is_admin, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u       model.User
		balance string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &balance, &u.IsEmailVerified, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, err
	}
	b, err := parseDecimal(balance)
	if err != nil {
		return nil, err
	}
	u.Balance = b
	return &u, nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, email, name string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, password_hash) VALUES ($1, $2, $3) RETURNING id`,
		email, name, passwordHash,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByEmail возвращает пользователя по адресу почты.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateEmailVerification сохраняет токен подтверждения почты.
func (r *PostgresRepository) CreateEmailVerification(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO email_verifications (token, user_id, expires_at) VALUES ($1, $2, $3)`,
		token, userID, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert email verification: %w", err)
	}
	return nil
}

// ConfirmEmailVerification погашает действующий токен и отмечает почту пользователя подтверждённой.
func (r *PostgresRepository) ConfirmEmailVerification(ctx context.Context, token string, now time.Time) (int64, error) {
	var userID int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE email_verifications
			 SET verified_at = $2
			 WHERE token = $1 AND verified_at IS NULL AND expires_at > $2
			 RETURNING user_id`,
			token, now,
		).Scan(&userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrVerificationInvalid
			}
			return fmt.Errorf("update email verification: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE users SET is_email_verified = TRUE WHERE id = $1`, userID); err != nil {
			return fmt.Errorf("mark user verified: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return userID, nil
}
