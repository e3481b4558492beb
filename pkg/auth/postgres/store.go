// Package postgres adapts pkg/auth's AccountStore and LoginAttemptStore
// interfaces onto PostgreSQL via pgx. Grounded on
// udisondev-la2go/internal/db/db.go's DB wrapper (pgxpool.Pool, raw SQL
// through pgx, no ORM), generalized from L2's Login/LastServer schema to
// the accounts/login_attempts schema spec §3 and §6 describe.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xl4net/xl4net/pkg/auth"
)

// Store is a pgx-backed implementation of auth.AccountStore and
// auth.LoginAttemptStore sharing one connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pool against dsn. The caller is responsible for running
// migrations (see Migrate) before using the returned Store.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	return s.getBy(ctx, "username", username)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return s.getBy(ctx, "email", email)
}

func (s *Store) getBy(ctx context.Context, column, value string) (*auth.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, metadata, created_at, last_login_at
		   FROM accounts WHERE `+column+` = $1`, value)

	var acc auth.Account
	var lastLogin *time.Time
	err := row.Scan(&acc.ID, &acc.Username, &acc.Email, &acc.PasswordHash, &acc.Metadata, &acc.CreatedAt, &lastLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin != nil {
		acc.LastLoginAt = *lastLogin
	}
	return &acc, nil
}

func (s *Store) Insert(ctx context.Context, acc *auth.Account) (uint64, error) {
	var id uint64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (username, email, password_hash, metadata, created_at)
		   VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		acc.Username, acc.Email, acc.PasswordHash, acc.Metadata, acc.CreatedAt,
	).Scan(&id)
	return id, err
}

func (s *Store) UpdateLastLogin(ctx context.Context, id uint64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE accounts SET last_login_at = $1 WHERE id = $2`, at, id)
	return err
}

func (s *Store) Record(ctx context.Context, attempt auth.LoginAttempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO login_attempts (source_address, username, success, attempted_at)
		   VALUES ($1, $2, $3, $4)`,
		attempt.SourceAddress, attempt.Username, attempt.Success, attempt.At)
	return err
}

func (s *Store) CountFailures(ctx context.Context, sourceAddress string, since time.Time) (int, time.Time, error) {
	var count int
	var oldest *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(attempted_at) FROM login_attempts
		   WHERE source_address = $1 AND success = false AND attempted_at >= $2`,
		sourceAddress, since,
	).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, err
	}
	if oldest == nil {
		return count, time.Time{}, nil
	}
	return count, *oldest, nil
}

func (s *Store) Purge(ctx context.Context, olderThan time.Time) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, olderThan)
	return err
}
