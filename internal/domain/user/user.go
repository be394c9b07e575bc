package user

import (
	"net/mail"
	"strings"
)

// User is the entity a committed candidate record becomes.
type User struct {
	ID          string
	Name        string
	Email       string
	PhoneNumber string
	Role        string
	Permissions PermissionSet
}

func NewUser(id, name, email, phoneNumber, role string) (User, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return User{}, ErrInvalidEmail
	}

	return User{
		ID:          id,
		Name:        strings.TrimSpace(name),
		Email:       strings.TrimSpace(email),
		PhoneNumber: strings.TrimSpace(phoneNumber),
		Role:        role,
	}, nil
}

// UserFromCandidate builds the entity to create for a candidate record.
func UserFromCandidate(rec CandidateRecord) (User, error) {
	return NewUser("", rec.Field(FieldName), rec.Field(FieldEmail), rec.Field(FieldPhone), rec.AssignedGroup)
}
