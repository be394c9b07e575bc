package repository

import (
	"context"
	"fmt"

	"github.com/mohammadpnp/roster-import/internal/infrastructure/db/models"
	"gorm.io/gorm"
)

// ExistingUserIndex looks identifiers up in the users table.
type ExistingUserIndex struct {
	db *gorm.DB
}

func NewExistingUserIndex(db *gorm.DB) *ExistingUserIndex {
	return &ExistingUserIndex{db: db}
}

func (i *ExistingUserIndex) Exists(ctx context.Context, identifier string) (bool, error) {
	var count int64
	err := i.db.WithContext(ctx).
		Model(&models.User{}).
		Where("LOWER(email) = LOWER(?)", identifier).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("lookup existing user: %w", err)
	}
	return count > 0, nil
}
