package user

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// ImportJob is one commit attempt of the selected records of a batch.
type ImportJob struct {
	ID               string    `json:"id"`
	BatchID          string    `json:"batch_id"`
	SourceName       string    `json:"source_name"`
	Group            string    `json:"group"`
	StartTime        time.Time `json:"start_time"`
	FinishedAt       time.Time `json:"finished_at,omitempty"`
	Status           JobStatus `json:"status"`
	TotalRows        int       `json:"total_rows"`
	ProcessedRows    int       `json:"processed_rows"`
	SuccessfulRows   int       `json:"successful_rows"`
	FailedRows       int       `json:"failed_rows"`
	CanRollback      bool      `json:"can_rollback"`
	RollbackDeadline time.Time `json:"rollback_deadline,omitempty"`
	RolledBack       bool      `json:"rolled_back"`
	AssignmentsDone  bool      `json:"assignments_applied"`
	ErrorMessage     string    `json:"error_message,omitempty"`
}

func (j ImportJob) Progress() JobProgress {
	p := JobProgress{
		ProcessedRows:  j.ProcessedRows,
		TotalRows:      j.TotalRows,
		SuccessfulRows: j.SuccessfulRows,
		FailedRows:     j.FailedRows,
		Status:         j.Status,
	}
	if j.TotalRows > 0 {
		p.Percentage = float64(j.ProcessedRows) * 100 / float64(j.TotalRows)
	}
	return p
}

// RollbackOpen reports whether a rollback may still be executed at now.
func (j ImportJob) RollbackOpen(now time.Time) bool {
	return j.Status == JobCompleted && j.CanRollback && now.Before(j.RollbackDeadline)
}

// Settled reports whether the job can no longer change: it stopped short of
// completion, or its committed records were rolled back or assigned.
func (j ImportJob) Settled() bool {
	switch j.Status {
	case JobFailed, JobCancelled:
		return true
	case JobCompleted:
		return j.RolledBack || j.AssignmentsDone
	default:
		return false
	}
}

// JobProgress is the status object polled or streamed during commit.
type JobProgress struct {
	ProcessedRows  int       `json:"processed_rows"`
	TotalRows      int       `json:"total_rows"`
	SuccessfulRows int       `json:"successful_rows"`
	FailedRows     int       `json:"failed_rows"`
	Percentage     float64   `json:"percentage"`
	Status         JobStatus `json:"status"`
}

// AppliedRecord links a batch row to the entity the store created for it.
type AppliedRecord struct {
	RowIndex   int    `json:"row_index"`
	EntityID   string `json:"entity_id"`
	Identifier string `json:"-"`
	Group      string `json:"group"`
	Reverted   bool   `json:"reverted"`
}

type RecordFailure struct {
	RowIndex int    `json:"row_index"`
	Reason   string `json:"reason"`
}

// ImportOutcome is the terminal result of a job.
type ImportOutcome struct {
	Job      ImportJob       `json:"job"`
	Applied  []AppliedRecord `json:"applied"`
	Failures []RecordFailure `json:"failures"`
}

type JobEventType string

const (
	EventProgress    JobEventType = "progress"
	EventRecordError JobEventType = "record_failed"
	EventCompleted   JobEventType = "completed"
	EventCancelled   JobEventType = "cancelled"
	EventFailed      JobEventType = "failed"
	EventRolledBack  JobEventType = "rolled_back"
	EventAssigned    JobEventType = "assignments_applied"
)

type JobEvent struct {
	JobID    string       `json:"job_id"`
	Type     JobEventType `json:"type"`
	Progress JobProgress  `json:"progress"`
	RowIndex int          `json:"row_index,omitempty"`
	Message  string       `json:"message,omitempty"`
	At       time.Time    `json:"at"`
}

// Final reports whether no further events follow for the job. A completed
// job keeps streaming until it is rolled back or assigned.
func (e JobEvent) Final() bool {
	switch e.Type {
	case EventCancelled, EventFailed, EventRolledBack, EventAssigned:
		return true
	default:
		return false
	}
}
