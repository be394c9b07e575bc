package repository

import (
	"context"
	"errors"

	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/db/models"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
)

var userColumns = []string{"id", "name", "email", "phone_number", "role", "permissions"}

// UserQueryRepository reads committed users back with the permissions the
// assignment stage granted them.
type UserQueryRepository struct {
	db *gorm.DB
}

func NewUserQueryRepository(db *gorm.DB) *UserQueryRepository {
	return &UserQueryRepository{db: db}
}

func (r *UserQueryRepository) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	var row models.User
	err := r.db.WithContext(ctx).
		Select(userColumns).
		Where("id = ?", userID).
		Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, domain.ErrUserNotFound
	case err != nil:
		return nil, pkgerrors.Wrapf(err, "load user %s", userID)
	}
	return toDomainUser(row), nil
}

func toDomainUser(row models.User) *domain.User {
	return &domain.User{
		ID:          row.ID,
		Name:        row.Name,
		Email:       row.Email,
		PhoneNumber: row.PhoneNumber,
		Role:        row.Role,
		Permissions: domain.NewPermissionSet(row.Permissions...),
	}
}
