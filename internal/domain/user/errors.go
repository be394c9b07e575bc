package user

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidEmail = errors.New("invalid email")
	ErrUserNotFound = errors.New("user not found")

	ErrLimitExceeded         = errors.New("import limit exceeded")
	ErrEmptySource           = errors.New("import source has no header row")
	ErrBatchNotFound         = errors.New("import batch not found")
	ErrRowNotFound           = errors.New("row not found in batch")
	ErrBatchLocked           = errors.New("batch already committed")
	ErrNothingSelected       = errors.New("no records selected")
	ErrJobNotFound           = errors.New("import job not found")
	ErrJobNotRunning         = errors.New("import job is not running")
	ErrJobNotCompleted       = errors.New("import job has not completed")
	ErrNothingCommitted      = errors.New("import job has no committed records")
	ErrStoreUnavailable      = errors.New("record store unavailable")
	ErrCommitFailure         = errors.New("import commit failed")
	ErrRollbackNotAllowed    = errors.New("rollback not allowed for job")
	ErrRollbackWindowExpired = errors.New("rollback window expired")
	ErrRollbackFailure       = errors.New("rollback incomplete")
	ErrAssignmentsApplied    = errors.New("assignments already applied")
	ErrUnknownGroup          = errors.New("group not present in committed records")
)

// LimitError reports which upload limit rejected the source.
type LimitError struct {
	Limit  string
	Max    int64
	Actual int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %d > %d", e.Limit, e.Actual, e.Max)
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }

type RevertFailure struct {
	RowIndex int    `json:"row_index"`
	EntityID string `json:"entity_id"`
	Reason   string `json:"reason"`
}

// RollbackError lists the applied records that could not be reverted.
type RollbackError struct {
	Failures []RevertFailure
}

func (e *RollbackError) Error() string {
	rows := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		rows = append(rows, fmt.Sprintf("row %d", f.RowIndex))
	}
	return fmt.Sprintf("rollback incomplete, could not revert %s", strings.Join(rows, ", "))
}

func (e *RollbackError) Unwrap() error { return ErrRollbackFailure }
