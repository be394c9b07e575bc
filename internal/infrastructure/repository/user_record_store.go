package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	pkgerrors "github.com/pkg/errors"
)

const uniqueViolation = "23505"

var errEmailTaken = errors.New("email already exists in the system")

// UserRecordStore creates one users row per committed candidate record.
type UserRecordStore struct {
	pool *pgxpool.Pool
}

func NewUserRecordStore(pool *pgxpool.Pool) *UserRecordStore {
	return &UserRecordStore{pool: pool}
}

// Apply inserts the record and returns the new user id. Constraint and
// data errors fail only this record; anything else marks the store
// unavailable.
func (s *UserRecordStore) Apply(ctx context.Context, rec domain.CandidateRecord) (string, error) {
	u, err := domain.UserFromCandidate(rec)
	if err != nil {
		return "", err
	}

	var id string
	err = s.pool.QueryRow(ctx, `
INSERT INTO users (name, email, phone_number, role, permissions, created_at, updated_at)
VALUES ($1, $2, $3, $4, '[]'::jsonb, NOW(), NOW())
RETURNING id::text`,
		u.Name, u.Email, u.PhoneNumber, u.Role,
	).Scan(&id)
	if err != nil {
		return "", classify(err, "insert user")
	}
	return id, nil
}

// Revert deletes the user. Deleting a user that is already gone succeeds.
func (s *UserRecordStore) Revert(ctx context.Context, entityID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", entityID); err != nil {
		return pkgerrors.Wrapf(err, "delete user %s", entityID)
	}
	return nil
}

// AssignPermissions overwrites the permission set of every listed user.
func (s *UserRecordStore) AssignPermissions(ctx context.Context, entityIDs []string, perms domain.PermissionSet) error {
	if len(entityIDs) == 0 {
		return nil
	}
	if perms == nil {
		perms = domain.PermissionSet{}
	}

	_, err := s.pool.Exec(ctx,
		"UPDATE users SET permissions = $1, updated_at = NOW() WHERE id = ANY($2)",
		[]string(perms), entityIDs,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "assign permissions")
	}
	return nil
}

func classify(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolation:
			return errEmailTaken
		case systemicClass(pgErr.Code):
			return pkgerrors.Wrapf(domain.ErrStoreUnavailable, "%s: %s", op, pgErr.Message)
		}
		return pkgerrors.Wrapf(err, "%s: %s", op, pgErr.Code)
	}
	return pkgerrors.Wrapf(domain.ErrStoreUnavailable, "%s: %v", op, err)
}

// systemicClass reports SQLSTATE classes that no other record would survive:
// connection exceptions, insufficient resources and operator intervention.
func systemicClass(code string) bool {
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case "08", "53", "57":
		return true
	}
	return false
}
