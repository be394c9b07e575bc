package user

import (
	"context"
	"maps"

	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
)

// SelectionManager is the only place that mutates selection and edits of a
// batch. Every operation refuses a batch that a job has already consumed.
type SelectionManager struct {
	validator *Validator
}

func NewSelectionManager(validator *Validator) *SelectionManager {
	return &SelectionManager{validator: validator}
}

func (m *SelectionManager) Toggle(batch *domain.ImportBatch, rowIndex int) (domain.CandidateRecord, error) {
	rec, err := editable(batch, rowIndex)
	if err != nil {
		return domain.CandidateRecord{}, err
	}
	rec.Selected = !rec.Selected
	return rec.Clone(), nil
}

// SelectAllValid selects every valid record and deselects the rest.
func (m *SelectionManager) SelectAllValid(batch *domain.ImportBatch) error {
	if batch.Locked {
		return domain.ErrBatchLocked
	}
	for i := range batch.Records {
		batch.Records[i].Selected = batch.Records[i].IsValid()
	}
	return nil
}

// SkipAllInvalid deselects every record that is not valid. Valid records
// keep the operator's choice.
func (m *SelectionManager) SkipAllInvalid(batch *domain.ImportBatch) error {
	if batch.Locked {
		return domain.ErrBatchLocked
	}
	for i := range batch.Records {
		if !batch.Records[i].IsValid() {
			batch.Records[i].Selected = false
		}
	}
	return nil
}

func (m *SelectionManager) BeginEdit(batch *domain.ImportBatch, rowIndex int) error {
	rec, err := editable(batch, rowIndex)
	if err != nil {
		return err
	}
	rec.Editing = true
	return nil
}

func (m *SelectionManager) CancelEdit(batch *domain.ImportBatch, rowIndex int) error {
	rec, err := editable(batch, rowIndex)
	if err != nil {
		return err
	}
	rec.Editing = false
	return nil
}

// CommitEdit applies fields to the record and re-validates the whole batch
// against its current state. The edited record ends up selected exactly when
// it is valid. Other records whose status changed get their default
// selection back. On a validation error the batch is left unchanged.
func (m *SelectionManager) CommitEdit(ctx context.Context, batch *domain.ImportBatch, rowIndex int, fields map[string]string) (domain.CandidateRecord, error) {
	if _, err := editable(batch, rowIndex); err != nil {
		return domain.CandidateRecord{}, err
	}

	working := make([]domain.CandidateRecord, len(batch.Records))
	for i, rec := range batch.Records {
		working[i] = rec.Clone()
	}

	var edited *domain.CandidateRecord
	for i := range working {
		if working[i].RowIndex == rowIndex {
			edited = &working[i]
			break
		}
	}

	updates := canonicalFields(fields)
	if edited.Fields == nil {
		edited.Fields = emptyFields()
	}
	maps.Copy(edited.Fields, updates)
	if _, hasName := updates[domain.FieldName]; !hasName && (hasKey(updates, domain.FieldFirstName) || hasKey(updates, domain.FieldLastName)) {
		edited.Fields[domain.FieldName] = ""
	}
	composeName(edited.Fields)

	if err := m.validator.Evaluate(ctx, working); err != nil {
		return domain.CandidateRecord{}, err
	}

	for i := range working {
		switch {
		case working[i].RowIndex == rowIndex:
			working[i].Selected = working[i].IsValid()
			working[i].Editing = false
		case working[i].Status != batch.Records[i].Status:
			working[i].Selected = working[i].IsValid()
		}
	}

	batch.Records = working
	return edited.Clone(), nil
}

func editable(batch *domain.ImportBatch, rowIndex int) (*domain.CandidateRecord, error) {
	if batch.Locked {
		return nil, domain.ErrBatchLocked
	}
	return batch.Record(rowIndex)
}

func hasKey(m map[string]string, key string) bool {
	_, ok := m[key]
	return ok
}
