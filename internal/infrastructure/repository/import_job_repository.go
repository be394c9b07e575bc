package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ImportJobRepository struct {
	db *gorm.DB
}

func NewImportJobRepository(db *gorm.DB) *ImportJobRepository {
	return &ImportJobRepository{db: db}
}

// Save upserts the job snapshot.
func (r *ImportJobRepository) Save(ctx context.Context, job domain.ImportJob) error {
	row := toJobModel(job)

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(jobUpdateColumns),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save import job: %w", err)
	}
	return nil
}

func (r *ImportJobRepository) RecordApplied(ctx context.Context, jobID string, rec domain.AppliedRecord) error {
	row := models.ImportJobEntity{
		JobID:     jobID,
		RowIndex:  rec.RowIndex,
		EntityID:  rec.EntityID,
		GroupName: rec.Group,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("record applied entity: %w", err)
	}
	return nil
}

func (r *ImportJobRepository) MarkReverted(ctx context.Context, jobID string, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.ImportJobEntity{}).
		Where("job_id = ? AND entity_id IN ?", jobID, entityIDs).
		Updates(map[string]any{"reverted": true, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("mark entities reverted: %w", err)
	}
	return nil
}

// Find loads a job snapshot persisted by an earlier process.
func (r *ImportJobRepository) Find(ctx context.Context, jobID string) (*domain.ImportJob, error) {
	var row models.ImportJob
	if err := r.db.WithContext(ctx).First(&row, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("find import job: %w", err)
	}
	job := fromJobModel(row)
	return &job, nil
}

// Entities lists the entities a job applied, in row order.
func (r *ImportJobRepository) Entities(ctx context.Context, jobID string) ([]domain.AppliedRecord, error) {
	var rows []models.ImportJobEntity
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("row_index").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list import job entities: %w", err)
	}

	out := make([]domain.AppliedRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.AppliedRecord{
			RowIndex: row.RowIndex,
			EntityID: row.EntityID,
			Group:    row.GroupName,
			Reverted: row.Reverted,
		})
	}
	return out, nil
}

var jobUpdateColumns = []string{
	"status", "processed_rows", "successful_rows", "failed_rows",
	"can_rollback", "rolled_back", "assignments_done", "error_message",
	"finished_at", "rollback_deadline", "updated_at",
}

func toJobModel(job domain.ImportJob) models.ImportJob {
	row := models.ImportJob{
		ID:              job.ID,
		BatchID:         job.BatchID,
		SourceName:      job.SourceName,
		GroupName:       job.Group,
		Status:          string(job.Status),
		TotalRows:       job.TotalRows,
		ProcessedRows:   job.ProcessedRows,
		SuccessfulRows:  job.SuccessfulRows,
		FailedRows:      job.FailedRows,
		CanRollback:     job.CanRollback,
		RolledBack:      job.RolledBack,
		AssignmentsDone: job.AssignmentsDone,
		StartedAt:       job.StartTime,
	}
	if job.ErrorMessage != "" {
		msg := job.ErrorMessage
		row.ErrorMessage = &msg
	}
	if !job.FinishedAt.IsZero() {
		finished := job.FinishedAt
		row.FinishedAt = &finished
	}
	if !job.RollbackDeadline.IsZero() {
		deadline := job.RollbackDeadline
		row.RollbackDeadline = &deadline
	}
	return row
}

func fromJobModel(row models.ImportJob) domain.ImportJob {
	job := domain.ImportJob{
		ID:              row.ID,
		BatchID:         row.BatchID,
		SourceName:      row.SourceName,
		Group:           row.GroupName,
		StartTime:       row.StartedAt,
		Status:          domain.JobStatus(row.Status),
		TotalRows:       row.TotalRows,
		ProcessedRows:   row.ProcessedRows,
		SuccessfulRows:  row.SuccessfulRows,
		FailedRows:      row.FailedRows,
		RolledBack:      row.RolledBack,
		AssignmentsDone: row.AssignmentsDone,
	}
	if row.ErrorMessage != nil {
		job.ErrorMessage = *row.ErrorMessage
	}
	if row.FinishedAt != nil {
		job.FinishedAt = *row.FinishedAt
	}
	if row.RollbackDeadline != nil {
		job.RollbackDeadline = *row.RollbackDeadline
	}
	// Reverting needs the live controller, so a reloaded job never offers it.
	job.CanRollback = false
	return job
}
