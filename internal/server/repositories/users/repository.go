package users

import (
	"context"

	"github.com/dmitrijs2005/userhub/internal/server/models"
)

// Repository is the credential store. Lookups return common.ErrorNotFound
// for missing rows; Create and Update return common.ErrEmailAlreadyExists
// on a unique-email violation.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Update(ctx context.Context, id int64, upd models.UserUpdate) (int64, error)
	Delete(ctx context.Context, id int64) (int64, error)
}
