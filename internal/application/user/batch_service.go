package user

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
)

// SpreadsheetReader splits a workbook into a header row and data rows.
type SpreadsheetReader interface {
	ReadRows(r io.Reader) ([]string, [][]string, error)
}

type jobFinder interface {
	Find(ctx context.Context, jobID string) (*domain.ImportJob, error)
}

type UploadInput struct {
	SourceName string
	Group      string
	Size       int64
	Content    io.Reader
}

// BatchView is what the operator sees of a batch between upload and commit.
type BatchView struct {
	ID         string                   `json:"id"`
	SourceName string                   `json:"source_name"`
	Group      string                   `json:"group"`
	Locked     bool                     `json:"locked"`
	JobID      string                   `json:"job_id,omitempty"`
	Summary    domain.BatchSummary      `json:"summary"`
	Records    []domain.CandidateRecord `json:"records"`
}

type BatchServiceDeps struct {
	Normalizer  *FieldNormalizer
	Validator   *Validator
	Selection   *SelectionManager
	Jobs        *ImportJobController
	Assignments *AssignmentStage
	Sheets      SpreadsheetReader
	JobFinder   jobFinder
	Now         func() time.Time
}

// BatchService keeps uploaded batches in memory and routes every operator
// action to the component that owns it.
type BatchService struct {
	deps BatchServiceDeps

	mu       sync.RWMutex
	sessions map[string]*batchSession
}

type batchSession struct {
	mu    sync.Mutex
	batch *domain.ImportBatch
	jobID string
}

func NewBatchService(deps BatchServiceDeps) *BatchService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &BatchService{deps: deps, sessions: make(map[string]*batchSession)}
}

// Upload parses, normalizes and validates a source file into a new batch.
// Limit violations reject the whole upload before any record exists.
func (s *BatchService) Upload(ctx context.Context, in UploadInput) (BatchView, error) {
	name := strings.TrimSpace(in.SourceName)
	ext := strings.ToLower(filepath.Ext(name))
	if name == "" || in.Content == nil {
		return BatchView{}, ErrInvalidImportSource
	}
	group := strings.ToLower(strings.TrimSpace(in.Group))
	if group == "" {
		return BatchView{}, ErrInvalidGroup
	}
	if err := s.deps.Normalizer.CheckSize(in.Size); err != nil {
		return BatchView{}, err
	}

	var (
		records []domain.CandidateRecord
		err     error
	)
	switch ext {
	case ".csv", ".tsv", ".txt":
		records, err = s.deps.Normalizer.Normalize(in.Content, group)
	case ".xlsx":
		records, err = s.readSpreadsheet(in.Content, group)
	default:
		return BatchView{}, ErrInvalidImportSource
	}
	if err != nil {
		if errors.Is(err, domain.ErrLimitExceeded) || errors.Is(err, domain.ErrEmptySource) {
			return BatchView{}, err
		}
		return BatchView{}, fmt.Errorf("%w: %v", ErrReadImportSource, err)
	}

	batch := &domain.ImportBatch{
		ID:         uuid.NewString(),
		SourceName: name,
		Group:      group,
		CreatedAt:  s.deps.Now(),
		Records:    records,
	}
	if err := s.deps.Validator.ValidateBatch(ctx, batch); err != nil {
		return BatchView{}, err
	}

	session := &batchSession{batch: batch}
	s.mu.Lock()
	s.sessions[batch.ID] = session
	s.mu.Unlock()

	return session.view(), nil
}

func (s *BatchService) readSpreadsheet(content io.Reader, group string) ([]domain.CandidateRecord, error) {
	if s.deps.Sheets == nil {
		return nil, ErrInvalidImportSource
	}
	limit := s.deps.Normalizer.Config().MaxFileBytes
	data, err := io.ReadAll(io.LimitReader(content, limit+1))
	if err != nil {
		return nil, err
	}
	if err := s.deps.Normalizer.CheckSize(int64(len(data))); err != nil {
		return nil, err
	}

	header, rows, err := s.deps.Sheets.ReadRows(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return s.deps.Normalizer.NormalizeRows(header, rows, group)
}

func (s *BatchService) Batch(batchID string) (BatchView, error) {
	session, err := s.session(batchID)
	if err != nil {
		return BatchView{}, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.view(), nil
}

func (s *BatchService) Toggle(batchID string, rowIndex int) (domain.CandidateRecord, error) {
	var rec domain.CandidateRecord
	err := s.withBatch(batchID, func(b *domain.ImportBatch) error {
		var err error
		rec, err = s.deps.Selection.Toggle(b, rowIndex)
		return err
	})
	return rec, err
}

func (s *BatchService) SelectAllValid(batchID string) (BatchView, error) {
	return s.mutate(batchID, s.deps.Selection.SelectAllValid)
}

func (s *BatchService) SkipAllInvalid(batchID string) (BatchView, error) {
	return s.mutate(batchID, s.deps.Selection.SkipAllInvalid)
}

func (s *BatchService) BeginEdit(batchID string, rowIndex int) (BatchView, error) {
	return s.mutate(batchID, func(b *domain.ImportBatch) error {
		return s.deps.Selection.BeginEdit(b, rowIndex)
	})
}

func (s *BatchService) CancelEdit(batchID string, rowIndex int) (BatchView, error) {
	return s.mutate(batchID, func(b *domain.ImportBatch) error {
		return s.deps.Selection.CancelEdit(b, rowIndex)
	})
}

func (s *BatchService) CommitEdit(ctx context.Context, batchID string, rowIndex int, fields map[string]string) (domain.CandidateRecord, error) {
	var rec domain.CandidateRecord
	err := s.withBatch(batchID, func(b *domain.ImportBatch) error {
		var err error
		rec, err = s.deps.Selection.CommitEdit(ctx, b, rowIndex, fields)
		return err
	})
	return rec, err
}

func (s *BatchService) ErrorReport(batchID string) (domain.ReportTable, error) {
	var table domain.ReportTable
	err := s.withBatch(batchID, func(b *domain.ImportBatch) error {
		table = ErrorReportTable(BuildErrorReport(b))
		return nil
	})
	return table, err
}

func (s *BatchService) SkippedReport(batchID string) (domain.ReportTable, error) {
	var table domain.ReportTable
	err := s.withBatch(batchID, func(b *domain.ImportBatch) error {
		table = SkippedReportTable(BuildSkippedReport(b))
		return nil
	})
	return table, err
}

// Commit starts an import job for the batch's selected records.
func (s *BatchService) Commit(ctx context.Context, batchID string) (domain.ImportJob, error) {
	session, err := s.session(batchID)
	if err != nil {
		return domain.ImportJob{}, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()

	job, err := s.deps.Jobs.Start(ctx, session.batch)
	if err != nil {
		return domain.ImportJob{}, err
	}
	session.jobID = job.ID
	return job, nil
}

func (s *BatchService) Job(ctx context.Context, jobID string) (domain.ImportJob, error) {
	job, err := s.deps.Jobs.Job(jobID)
	if errors.Is(err, domain.ErrJobNotFound) && s.deps.JobFinder != nil {
		stored, findErr := s.deps.JobFinder.Find(ctx, jobID)
		if findErr != nil {
			return domain.ImportJob{}, findErr
		}
		return *stored, nil
	}
	return job, err
}

func (s *BatchService) Outcome(jobID string) (domain.ImportOutcome, error) {
	return s.deps.Jobs.Outcome(jobID)
}

func (s *BatchService) CancelJob(jobID string) (domain.ImportJob, error) {
	return s.deps.Jobs.Cancel(jobID)
}

func (s *BatchService) Subscribe(jobID string) (<-chan domain.JobEvent, func(), error) {
	return s.deps.Jobs.Subscribe(jobID)
}

// Rollback reverts the job and, on success, discards its batch so the
// operator starts again from upload.
func (s *BatchService) Rollback(ctx context.Context, jobID string) (domain.ImportJob, error) {
	job, err := s.deps.Jobs.Rollback(ctx, jobID)
	if err != nil {
		return job, err
	}

	s.mu.Lock()
	delete(s.sessions, job.BatchID)
	s.mu.Unlock()
	return job, nil
}

func (s *BatchService) Assignments(ctx context.Context, jobID string) (AssignmentPlan, error) {
	return s.deps.Assignments.Plan(ctx, jobID)
}

func (s *BatchService) OverrideAssignment(ctx context.Context, jobID, group string, perms []string) (AssignmentPlan, error) {
	return s.deps.Assignments.Override(ctx, jobID, group, domain.NewPermissionSet(perms...))
}

func (s *BatchService) ApplyAssignments(ctx context.Context, jobID string) (AssignmentPlan, error) {
	return s.deps.Assignments.Apply(ctx, jobID)
}

func (s *BatchService) session(batchID string) (*batchSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[batchID]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	return session, nil
}

func (s *BatchService) withBatch(batchID string, fn func(*domain.ImportBatch) error) error {
	session, err := s.session(batchID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return fn(session.batch)
}

func (s *BatchService) mutate(batchID string, fn func(*domain.ImportBatch) error) (BatchView, error) {
	var view BatchView
	err := s.withBatch(batchID, func(b *domain.ImportBatch) error {
		if err := fn(b); err != nil {
			return err
		}
		view = viewOf(b, "")
		return nil
	})
	return view, err
}

func (bs *batchSession) view() BatchView {
	return viewOf(bs.batch, bs.jobID)
}

func viewOf(b *domain.ImportBatch, jobID string) BatchView {
	records := make([]domain.CandidateRecord, len(b.Records))
	for i, rec := range b.Records {
		records[i] = rec.Clone()
	}
	return BatchView{
		ID:         b.ID,
		SourceName: b.SourceName,
		Group:      b.Group,
		Locked:     b.Locked,
		JobID:      jobID,
		Summary:    b.Summary(),
		Records:    records,
	}
}
