package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/securedocs/internal/common"
	"github.com/dmitrijs2005/securedocs/internal/dbx"
	"github.com/dmitrijs2005/securedocs/internal/server/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// newID is swapped in tests for deterministic ids.
var newID = func() string { return uuid.NewString() }

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {

	query :=
		`INSERT INTO users (id, email, password_hash)
         VALUES ($1, $2, $3)
		 RETURNING registered_at
		 `

	id := newID()
	err := r.db.QueryRowContext(ctx, query,
		id, user.Email, user.PasswordHash).Scan(&user.RegisteredAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: user %s", common.ErrorAlreadyExists, user.Email)
		}
		return nil, fmt.Errorf("%w: db error: %w", common.ErrorPersistence, err)
	}

	user.ID = id
	return user, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query :=
		`SELECT id, email, password_hash, registered_at FROM users
		 WHERE email = $1
		 `
	return r.getOne(ctx, query, email)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query :=
		`SELECT id, email, password_hash, registered_at FROM users
		 WHERE id = $1
		 `
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.RegisteredAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("%w: db error: %w", common.ErrorPersistence, err)
	}

	return user, nil
}

// AppendLogin records a successful login. The log is append-only.
func (r *PostgresRepository) AppendLogin(ctx context.Context, userID string, at time.Time) error {
	query := `INSERT INTO user_logins (user_id, logged_in_at) VALUES ($1, $2)`

	if _, err := r.db.ExecContext(ctx, query, userID, at); err != nil {
		return fmt.Errorf("%w: db error: %w", common.ErrorPersistence, err)
	}
	return nil
}

// ListLogins returns login timestamps oldest first.
func (r *PostgresRepository) ListLogins(ctx context.Context, userID string) ([]time.Time, error) {
	query :=
		`SELECT logged_in_at FROM user_logins
		 WHERE user_id = $1
		 ORDER BY logged_in_at
		 `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to select logins: %w", common.ErrorPersistence, err)
	}
	defer rows.Close()

	result := []time.Time{}
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrorPersistence, err)
		}
		result = append(result, at)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorPersistence, err)
	}

	return result, nil
}
