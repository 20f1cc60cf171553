package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/securedocs/internal/common"
	"github.com/dmitrijs2005/securedocs/internal/dbx"
	"github.com/dmitrijs2005/securedocs/internal/server/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const selectColumns = `id, owner_id, filename, content_address, pin_id, iv_hex, key_hex, created_at`

// PostgresRepository stores one row per file record over a dbx.DBTX
// (*sql.DB or *sql.Tx). Inserts and deletes touch a single row, so
// concurrent workflows on the same owner never overwrite each other.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var newID = func() string { return uuid.NewString() }

// Create assigns a fresh id and inserts the record. Key and IV are stored hex
// encoded.
func (r *PostgresRepository) Create(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, error) {
	query := `
		INSERT INTO file_records (id, owner_id, filename, content_address, pin_id, iv_hex, key_hex)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	id := newID()
	pin := sql.NullString{String: rec.PinID, Valid: rec.PinID != ""}

	err := r.db.QueryRowContext(ctx, query,
		id, rec.OwnerID, rec.Filename, rec.ContentAddress, pin, rec.IVHex(), rec.KeyHex()).Scan(&rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: pin %s already recorded", common.ErrorAlreadyExists, rec.PinID)
		}
		return nil, fmt.Errorf("%w: db error: %w", common.ErrorPersistence, err)
	}

	rec.ID = id
	return rec, nil
}

// Find returns the owner's record by id.
func (r *PostgresRepository) Find(ctx context.Context, ownerID, recordID string) (*models.FileRecord, error) {
	if _, err := uuid.Parse(recordID); err != nil {
		return nil, common.ErrorNotFound
	}
	query := `SELECT ` + selectColumns + ` FROM file_records
		WHERE owner_id=$1 AND id=$2
		`
	return r.scanOne(r.db.QueryRowContext(ctx, query, ownerID, recordID))
}

// FindByPinID returns the owner's record holding pinID.
func (r *PostgresRepository) FindByPinID(ctx context.Context, ownerID, pinID string) (*models.FileRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM file_records
		WHERE owner_id=$1 AND pin_id=$2
		`
	return r.scanOne(r.db.QueryRowContext(ctx, query, ownerID, pinID))
}

// ListByOwner returns all of the owner's records, oldest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.FileRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM file_records
		WHERE owner_id=$1
		ORDER BY created_at, id
		`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to select files: %w", common.ErrorPersistence, err)
	}
	defer rows.Close()

	result := []*models.FileRecord{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorPersistence, err)
	}
	return result, nil
}

// Delete removes exactly one record. Returns common.ErrorNotFound when the
// owner has no such record.
func (r *PostgresRepository) Delete(ctx context.Context, ownerID, recordID string) error {
	if _, err := uuid.Parse(recordID); err != nil {
		return common.ErrorNotFound
	}
	query := `DELETE FROM file_records WHERE owner_id=$1 AND id=$2`
	result, err := r.db.ExecContext(ctx, query, ownerID, recordID)
	if err != nil {
		return fmt.Errorf("%w: failed to delete record: %w", common.ErrorPersistence, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get rows affected: %w", common.ErrorPersistence, err)
	}

	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("%w: unexpected rows affected: %d", common.ErrorPersistence, n)
	}
}

// CountByContentAddress reports how many records, across all owners, point
// at contentAddress.
func (r *PostgresRepository) CountByContentAddress(ctx context.Context, contentAddress string) (int64, error) {
	query := `SELECT count(*) FROM file_records WHERE content_address=$1`

	var n int64
	if err := r.db.QueryRowContext(ctx, query, contentAddress).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: db error: %w", common.ErrorPersistence, err)
	}
	return n, nil
}

// LockContentAddress takes a transaction-scoped advisory lock keyed by the
// content address. Outside a transaction the lock is released immediately.
func (r *PostgresRepository) LockContentAddress(ctx context.Context, contentAddress string) error {
	query := `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := r.db.ExecContext(ctx, query, contentAddress); err != nil {
		return fmt.Errorf("%w: lock content address: %w", common.ErrorPersistence, err)
	}
	return nil
}

func (r *PostgresRepository) RetainPin(ctx context.Context, contentAddress, pinID string) error {
	query := `INSERT INTO retained_pins (pin_id, content_address) VALUES ($1, $2)
		ON CONFLICT (pin_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, pinID, contentAddress); err != nil {
		return fmt.Errorf("%w: retain pin: %w", common.ErrorPersistence, err)
	}
	return nil
}

func (r *PostgresRepository) ListRetainedPins(ctx context.Context, contentAddress string) ([]string, error) {
	query := `SELECT pin_id FROM retained_pins WHERE content_address=$1 ORDER BY retained_at`
	rows, err := r.db.QueryContext(ctx, query, contentAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to select retained pins: %w", common.ErrorPersistence, err)
	}
	defer rows.Close()

	var pins []string
	for rows.Next() {
		var pin string
		if err := rows.Scan(&pin); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrorPersistence, err)
		}
		pins = append(pins, pin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorPersistence, err)
	}
	return pins, nil
}

func (r *PostgresRepository) DropRetainedPin(ctx context.Context, pinID string) error {
	query := `DELETE FROM retained_pins WHERE pin_id=$1`
	if _, err := r.db.ExecContext(ctx, query, pinID); err != nil {
		return fmt.Errorf("%w: drop retained pin: %w", common.ErrorPersistence, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.FileRecord, error) {
	item, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	return item, err
}

func scan(s scanner) (*models.FileRecord, error) {
	var (
		item          models.FileRecord
		pin           sql.NullString
		ivHex, keyHex string
	)
	if err := s.Scan(&item.ID, &item.OwnerID, &item.Filename, &item.ContentAddress, &pin, &ivHex, &keyHex, &item.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: db error: %w", common.ErrorPersistence, err)
	}
	item.PinID = pin.String
	if err := item.SetKeyMaterial(keyHex, ivHex); err != nil {
		return nil, err
	}
	return &item, nil
}
