package user

import "errors"

var (
	ErrInvalidImportSource = errors.New("invalid import source")
	ErrInvalidGroup        = errors.New("invalid group")
	ErrReadImportSource    = errors.New("failed to read import source")
	ErrInvalidUserID       = errors.New("invalid user id")
	ErrUserNotFound        = errors.New("user not found")
	ErrGetUserByID         = errors.New("failed to get user by id")
)
