package models

import "time"

type ImportJob struct {
	ID               string    `gorm:"type:uuid;primaryKey"`
	BatchID          string    `gorm:"type:uuid;not null"`
	SourceName       string    `gorm:"type:text;not null"`
	GroupName        string    `gorm:"size:64;not null"`
	Status           string    `gorm:"type:text;not null"`
	TotalRows        int       `gorm:"not null;default:0"`
	ProcessedRows    int       `gorm:"not null;default:0"`
	SuccessfulRows   int       `gorm:"not null;default:0"`
	FailedRows       int       `gorm:"not null;default:0"`
	CanRollback      bool      `gorm:"not null;default:false"`
	RolledBack       bool      `gorm:"not null;default:false"`
	AssignmentsDone  bool      `gorm:"not null;default:false"`
	ErrorMessage     *string   `gorm:"type:text"`
	StartedAt        time.Time `gorm:"not null"`
	FinishedAt       *time.Time
	RollbackDeadline *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (ImportJob) TableName() string {
	return "import_jobs"
}

// ImportJobEntity is one user row an import job created.
type ImportJobEntity struct {
	ID        int64  `gorm:"primaryKey"`
	JobID     string `gorm:"type:uuid;not null;uniqueIndex:idx_import_job_entities_job_entity"`
	RowIndex  int    `gorm:"not null"`
	EntityID  string `gorm:"type:uuid;not null;uniqueIndex:idx_import_job_entities_job_entity"`
	GroupName string `gorm:"size:64;not null"`
	Reverted  bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ImportJobEntity) TableName() string {
	return "import_job_entities"
}
