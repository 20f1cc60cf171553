package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/securedocs/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	AppendLogin(ctx context.Context, userID string, at time.Time) error
	ListLogins(ctx context.Context, userID string) ([]time.Time, error)
}
