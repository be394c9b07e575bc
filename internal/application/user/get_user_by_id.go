package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
)

type GetUserByIDInput struct {
	ID string
}

// GetUserByIDOutput is a committed user as seen after the assignment stage.
type GetUserByIDOutput struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	PhoneNumber string   `json:"phone_number"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type GetUserByID interface {
	Execute(ctx context.Context, in GetUserByIDInput) (GetUserByIDOutput, error)
}

type getUserByID struct {
	repo domain.UserQueryRepository
}

func NewGetUserByID(repo domain.UserQueryRepository) GetUserByID {
	return &getUserByID{repo: repo}
}

func (uc *getUserByID) Execute(ctx context.Context, in GetUserByIDInput) (GetUserByIDOutput, error) {
	id, err := uuid.Parse(in.ID)
	if err != nil {
		return GetUserByIDOutput{}, ErrInvalidUserID
	}

	u, err := uc.repo.GetByID(ctx, id.String())
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return GetUserByIDOutput{}, ErrUserNotFound
	case err != nil:
		return GetUserByIDOutput{}, fmt.Errorf("%w: %v", ErrGetUserByID, err)
	}

	// Never null in JSON, even before permissions are assigned.
	perms := append([]string{}, u.Permissions...)
	return GetUserByIDOutput{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		Role:        u.Role,
		Permissions: perms,
	}, nil
}
