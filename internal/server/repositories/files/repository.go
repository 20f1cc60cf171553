package files

import (
	"context"

	"github.com/dmitrijs2005/securedocs/internal/server/models"
)

// Repository is the per-owner file record store. Every method is scoped to
// ownerID, so a record owned by someone else reads as not found.
type Repository interface {
	Create(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, error)
	Find(ctx context.Context, ownerID, recordID string) (*models.FileRecord, error)
	FindByPinID(ctx context.Context, ownerID, pinID string) (*models.FileRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.FileRecord, error)
	Delete(ctx context.Context, ownerID, recordID string) error
	CountByContentAddress(ctx context.Context, contentAddress string) (int64, error)

	// LockContentAddress serializes, until the surrounding transaction ends,
	// every workflow that adds or drops references to contentAddress.
	LockContentAddress(ctx context.Context, contentAddress string) error

	// Retained pins belong to deleted records whose content is still
	// referenced by shared copies. They are released with the last copy.
	RetainPin(ctx context.Context, contentAddress, pinID string) error
	ListRetainedPins(ctx context.Context, contentAddress string) ([]string, error)
	DropRetainedPin(ctx context.Context, pinID string) error
}
