package user

import "context"

// ExistingRecordIndex answers whether an identifier is already persisted.
type ExistingRecordIndex interface {
	Exists(ctx context.Context, identifier string) (bool, error)
}

// RecordStore creates and removes the entities a job commits. Apply errors
// wrapping ErrStoreUnavailable are systemic; any other error fails only
// that record.
type RecordStore interface {
	Apply(ctx context.Context, rec CandidateRecord) (string, error)
	Revert(ctx context.Context, entityID string) error
}

// IdentifierInvalidator drops whatever an index cached about identifiers
// whose records were reverted.
type IdentifierInvalidator interface {
	Forget(ctx context.Context, identifiers ...string) error
}

type RoleDefaults interface {
	Resolve(ctx context.Context, group string) (PermissionSet, error)
}

type PermissionWriter interface {
	AssignPermissions(ctx context.Context, entityIDs []string, perms PermissionSet) error
}

type UserQueryRepository interface {
	GetByID(ctx context.Context, userID string) (*User, error)
}

// ImportJobRepository keeps an audit copy of job state. The in-memory
// controller is authoritative while the process lives.
type ImportJobRepository interface {
	Save(ctx context.Context, job ImportJob) error
	RecordApplied(ctx context.Context, jobID string, rec AppliedRecord) error
	MarkReverted(ctx context.Context, jobID string, entityIDs []string) error
}
