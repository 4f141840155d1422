package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"chainrelay/internal/platform/postgres"
	id "chainrelay/pkg/domain"
	"chainrelay/pkg/platform/sentinel"
)

// PostgresStore reads users from the shared users table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed directory.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (*User, error) {
	var u User
	var raw int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE id = $1`, int64(userID),
	).Scan(&raw, &u.Username, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		if postgres.IsUnavailable(err) {
			return nil, fmt.Errorf("find user: %w: %w", sentinel.ErrUnavailable, err)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.ID = id.UserID(raw)
	return &u, nil
}

// Create inserts a user. Used by the CLI to seed local environments; accounts
// are normally provisioned by the account service.
func (s *PostgresStore) Create(ctx context.Context, username string) (*User, error) {
	var u User
	var raw int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username) VALUES ($1) RETURNING id, username, created_at`, username,
	).Scan(&raw, &u.Username, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("username %q: %w", username, sentinel.ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	u.ID = id.UserID(raw)
	return &u, nil
}
