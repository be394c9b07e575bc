package user

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultRollbackWindow    = 30 * time.Minute
	DefaultRevertConcurrency = 4
	maxStoredFailures        = 100
)

type JobControllerConfig struct {
	RollbackWindow time.Duration
	// ApplyRate caps RecordStore.Apply calls per second. Zero means no cap.
	ApplyRate         float64
	RevertConcurrency int
	// Invalidator, when set, forgets the identifiers of reverted records so
	// a cached index does not keep reporting them as existing.
	Invalidator domain.IdentifierInvalidator
	Logger      *logrus.Entry
	Now         func() time.Time
}

// ImportJobController drives commit of selected records one at a time in
// batch order, and owns every job it started.
type ImportJobController struct {
	store   domain.RecordStore
	repo    domain.ImportJobRepository
	cfg     JobControllerConfig
	log     *logrus.Entry
	limiter *rate.Limiter
	events  *eventHub

	mu   sync.RWMutex
	runs map[string]*jobRun
}

type jobRun struct {
	mu        sync.Mutex
	job       domain.ImportJob
	records   []domain.CandidateRecord
	applied   []domain.AppliedRecord
	failures  []domain.RecordFailure
	cancelled bool
	done      chan struct{}

	// rollback serializes Rollback and assignment calls for the job.
	rollback sync.Mutex
}

func NewImportJobController(store domain.RecordStore, repo domain.ImportJobRepository, cfg JobControllerConfig) *ImportJobController {
	if cfg.RollbackWindow <= 0 {
		cfg.RollbackWindow = DefaultRollbackWindow
	}
	if cfg.RevertConcurrency <= 0 {
		cfg.RevertConcurrency = DefaultRevertConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.WithField("component", "import_job_controller")
	}

	c := &ImportJobController{
		store:  store,
		repo:   repo,
		cfg:    cfg,
		log:    logger,
		events: newEventHub(),
		runs:   make(map[string]*jobRun),
	}
	if cfg.ApplyRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.ApplyRate), 1)
	}
	return c
}

// Start locks the batch and begins committing its selected records in the
// background. The returned snapshot is already processing.
func (c *ImportJobController) Start(ctx context.Context, batch *domain.ImportBatch) (domain.ImportJob, error) {
	if batch.Locked {
		return domain.ImportJob{}, domain.ErrBatchLocked
	}
	selected := batch.Selected()
	if len(selected) == 0 {
		return domain.ImportJob{}, domain.ErrNothingSelected
	}
	batch.Locked = true
	for i := range selected {
		selected[i].Editing = false
	}

	run := &jobRun{
		job: domain.ImportJob{
			ID:         uuid.NewString(),
			BatchID:    batch.ID,
			SourceName: batch.SourceName,
			Group:      batch.Group,
			StartTime:  c.cfg.Now(),
			Status:     domain.JobPending,
			TotalRows:  len(selected),
		},
		records: selected,
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	c.runs[run.job.ID] = run
	c.mu.Unlock()

	run.mu.Lock()
	run.job.Status = domain.JobProcessing
	snapshot := run.job
	run.mu.Unlock()

	c.save(ctx, snapshot)
	c.log.WithFields(logrus.Fields{
		"job_id":     snapshot.ID,
		"batch_id":   snapshot.BatchID,
		"total_rows": snapshot.TotalRows,
	}).Info("import job started")

	go c.process(context.WithoutCancel(ctx), run)

	return snapshot, nil
}

func (c *ImportJobController) process(ctx context.Context, run *jobRun) {
	defer close(run.done)

	for _, rec := range run.records {
		if run.cancelRequested() {
			c.finish(ctx, run, domain.JobCancelled, "")
			return
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				c.finish(ctx, run, domain.JobCancelled, "")
				return
			}
		}

		if !rec.IsValid() {
			c.recordFailure(ctx, run, rec, fmt.Sprintf("record is %s", rec.Status))
			continue
		}

		started := time.Now()
		entityID, err := c.store.Apply(ctx, rec)
		switch {
		case err == nil:
			getMetrics().applyLatency.WithLabelValues("success").Observe(time.Since(started).Seconds())
			c.recordSuccess(ctx, run, rec, entityID)
		case errors.Is(err, domain.ErrStoreUnavailable):
			getMetrics().applyLatency.WithLabelValues("unavailable").Observe(time.Since(started).Seconds())
			c.fail(ctx, run, rec, err)
			return
		default:
			getMetrics().applyLatency.WithLabelValues("failed").Observe(time.Since(started).Seconds())
			c.recordFailure(ctx, run, rec, err.Error())
		}
	}

	c.finish(ctx, run, domain.JobCompleted, "")
}

func (c *ImportJobController) recordSuccess(ctx context.Context, run *jobRun, rec domain.CandidateRecord, entityID string) {
	applied := domain.AppliedRecord{
		RowIndex:   rec.RowIndex,
		EntityID:   entityID,
		Identifier: rec.Field(domain.FieldEmail),
		Group:      rec.AssignedGroup,
	}

	run.mu.Lock()
	run.applied = append(run.applied, applied)
	run.job.ProcessedRows++
	run.job.SuccessfulRows++
	snapshot := run.job
	run.mu.Unlock()

	getMetrics().recordsTotal.WithLabelValues("success").Inc()
	if c.repo != nil {
		if err := c.repo.RecordApplied(ctx, snapshot.ID, applied); err != nil {
			c.log.WithError(err).WithField("job_id", snapshot.ID).Warn("record applied entity failed")
		}
	}
	c.emit(snapshot, domain.EventProgress, rec.RowIndex, "")
}

func (c *ImportJobController) recordFailure(ctx context.Context, run *jobRun, rec domain.CandidateRecord, reason string) {
	run.mu.Lock()
	if len(run.failures) < maxStoredFailures {
		run.failures = append(run.failures, domain.RecordFailure{RowIndex: rec.RowIndex, Reason: truncateReason(reason)})
	}
	run.job.ProcessedRows++
	run.job.FailedRows++
	snapshot := run.job
	run.mu.Unlock()

	getMetrics().recordsTotal.WithLabelValues("failed").Inc()
	c.log.WithFields(logrus.Fields{
		"job_id":    snapshot.ID,
		"row_index": rec.RowIndex,
	}).Warnf("import record failed: %s", reason)

	c.emit(snapshot, domain.EventRecordError, rec.RowIndex, reason)
	c.emit(snapshot, domain.EventProgress, rec.RowIndex, "")
}

func (c *ImportJobController) fail(ctx context.Context, run *jobRun, rec domain.CandidateRecord, cause error) {
	run.mu.Lock()
	msg := fmt.Sprintf("%v at row %d after %d of %d records: %v; contact support to reconcile the partial import",
		domain.ErrCommitFailure, rec.RowIndex, run.job.ProcessedRows, run.job.TotalRows, cause)
	run.mu.Unlock()

	c.finish(ctx, run, domain.JobFailed, truncateReason(msg))
}

func (c *ImportJobController) finish(ctx context.Context, run *jobRun, status domain.JobStatus, message string) {
	run.mu.Lock()
	// A cancel acknowledged after the last record still wins.
	if status == domain.JobCompleted && run.cancelled {
		status = domain.JobCancelled
	}
	run.job.Status = status
	run.job.FinishedAt = c.cfg.Now()
	run.job.ErrorMessage = message
	if status == domain.JobCompleted {
		run.job.CanRollback = true
		run.job.RollbackDeadline = run.job.FinishedAt.Add(c.cfg.RollbackWindow)
	}
	snapshot := run.job
	run.mu.Unlock()

	getMetrics().jobsTotal.WithLabelValues(string(status)).Inc()
	c.save(ctx, snapshot)

	entry := c.log.WithFields(logrus.Fields{
		"job_id":     snapshot.ID,
		"status":     snapshot.Status,
		"processed":  snapshot.ProcessedRows,
		"successful": snapshot.SuccessfulRows,
		"failed":     snapshot.FailedRows,
	})
	eventType := domain.EventCompleted
	switch status {
	case domain.JobFailed:
		eventType = domain.EventFailed
		entry.Error("import job failed: " + message)
	case domain.JobCancelled:
		eventType = domain.EventCancelled
		entry.Info("import job cancelled")
	default:
		entry.Info("import job completed")
	}
	c.emit(snapshot, eventType, 0, message)
}

// Cancel asks a running job to stop before its next record. Records already
// applied stay applied.
func (c *ImportJobController) Cancel(jobID string) (domain.ImportJob, error) {
	run, err := c.run(jobID)
	if err != nil {
		return domain.ImportJob{}, err
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	if run.job.Status.Terminal() {
		return run.job, domain.ErrJobNotRunning
	}
	run.cancelled = true
	return run.job, nil
}

// Wait blocks until the job reaches a terminal state.
func (c *ImportJobController) Wait(ctx context.Context, jobID string) (domain.ImportOutcome, error) {
	run, err := c.run(jobID)
	if err != nil {
		return domain.ImportOutcome{}, err
	}
	select {
	case <-run.done:
		return run.outcome(), nil
	case <-ctx.Done():
		return domain.ImportOutcome{}, ctx.Err()
	}
}

func (c *ImportJobController) Job(jobID string) (domain.ImportJob, error) {
	run, err := c.run(jobID)
	if err != nil {
		return domain.ImportJob{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.job, nil
}

func (c *ImportJobController) Outcome(jobID string) (domain.ImportOutcome, error) {
	run, err := c.run(jobID)
	if err != nil {
		return domain.ImportOutcome{}, err
	}
	return run.outcome(), nil
}

// Subscribe streams the job's events, starting with one that describes its
// current state. A completed job keeps streaming until it is rolled back or
// assigned. For a settled job the channel holds that one event and is
// already closed.
func (c *ImportJobController) Subscribe(jobID string) (<-chan domain.JobEvent, func(), error) {
	run, err := c.run(jobID)
	if err != nil {
		return nil, nil, err
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	current := domain.JobEvent{
		JobID:    jobID,
		Type:     stateEvent(run.job),
		Progress: run.job.Progress(),
		Message:  run.job.ErrorMessage,
		At:       c.cfg.Now(),
	}
	if run.job.Settled() {
		return closedWith(current), func() {}, nil
	}
	ch, unsubscribe := c.events.subscribe(current)
	return ch, unsubscribe, nil
}

// Rollback reverts every entity the job applied. It is allowed only while
// the job is completed and its rollback window is open. A partial failure
// keeps the window open so the remaining records can be retried.
func (c *ImportJobController) Rollback(ctx context.Context, jobID string) (domain.ImportJob, error) {
	run, err := c.run(jobID)
	if err != nil {
		return domain.ImportJob{}, err
	}
	run.rollback.Lock()
	defer run.rollback.Unlock()

	run.mu.Lock()
	job := run.job
	if job.Status != domain.JobCompleted || !job.CanRollback {
		run.mu.Unlock()
		return job, domain.ErrRollbackNotAllowed
	}
	if !job.RollbackOpen(c.cfg.Now()) {
		run.mu.Unlock()
		getMetrics().rollbacksTotal.WithLabelValues("expired").Inc()
		return job, domain.ErrRollbackWindowExpired
	}
	pending := make([]int, 0, len(run.applied))
	for i, applied := range run.applied {
		if !applied.Reverted {
			pending = append(pending, i)
		}
	}
	targets := make([]domain.AppliedRecord, len(run.applied))
	copy(targets, run.applied)
	run.mu.Unlock()

	var (
		mu       sync.Mutex
		reverted []int
		failures []domain.RevertFailure
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.RevertConcurrency)
	for _, idx := range pending {
		idx := idx
		g.Go(func() error {
			target := targets[idx]
			err := c.store.Revert(gctx, target.EntityID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, domain.RevertFailure{RowIndex: target.RowIndex, EntityID: target.EntityID, Reason: err.Error()})
				return nil
			}
			reverted = append(reverted, idx)
			return nil
		})
	}
	_ = g.Wait()

	revertedIDs := make([]string, 0, len(reverted))
	identifiers := make([]string, 0, len(reverted))
	run.mu.Lock()
	for _, idx := range reverted {
		run.applied[idx].Reverted = true
		revertedIDs = append(revertedIDs, run.applied[idx].EntityID)
		if id := run.applied[idx].Identifier; id != "" {
			identifiers = append(identifiers, id)
		}
	}
	if len(failures) == 0 {
		run.job.CanRollback = false
		run.job.RolledBack = true
	}
	snapshot := run.job
	run.mu.Unlock()

	if c.repo != nil && len(revertedIDs) > 0 {
		if err := c.repo.MarkReverted(ctx, jobID, revertedIDs); err != nil {
			c.log.WithError(err).WithField("job_id", jobID).Warn("mark reverted entities failed")
		}
	}
	c.forget(ctx, jobID, identifiers)
	c.save(ctx, snapshot)

	entry := c.log.WithFields(logrus.Fields{"job_id": jobID, "reverted": len(revertedIDs), "failed": len(failures)})
	if len(failures) > 0 {
		sortRevertFailures(failures)
		getMetrics().rollbacksTotal.WithLabelValues("partial").Inc()
		entry.Warn("import rollback incomplete")
		return snapshot, &domain.RollbackError{Failures: failures}
	}

	getMetrics().rollbacksTotal.WithLabelValues("success").Inc()
	entry.Info("import job rolled back")
	c.emit(snapshot, domain.EventRolledBack, 0, "")
	return snapshot, nil
}

// closeRollback ends the rollback window ahead of post-commit assignment.
func (c *ImportJobController) closeRollback(ctx context.Context, jobID string) ([]domain.AppliedRecord, error) {
	run, err := c.run(jobID)
	if err != nil {
		return nil, err
	}
	run.rollback.Lock()
	defer run.rollback.Unlock()

	run.mu.Lock()
	if run.job.Status != domain.JobCompleted {
		run.mu.Unlock()
		return nil, domain.ErrJobNotCompleted
	}
	if run.job.RolledBack {
		run.mu.Unlock()
		return nil, domain.ErrNothingCommitted
	}
	changed := run.job.CanRollback
	run.job.CanRollback = false
	snapshot := run.job
	applied := run.committed()
	run.mu.Unlock()

	if changed {
		c.save(ctx, snapshot)
	}
	return applied, nil
}

func (c *ImportJobController) markAssigned(ctx context.Context, jobID string) {
	run, err := c.run(jobID)
	if err != nil {
		return
	}
	run.mu.Lock()
	run.job.AssignmentsDone = true
	snapshot := run.job
	run.mu.Unlock()

	c.save(ctx, snapshot)
	c.emit(snapshot, domain.EventAssigned, 0, "")
}

// committed returns the applied, not reverted records in batch order.
func (c *ImportJobController) committed(jobID string) (domain.ImportJob, []domain.AppliedRecord, error) {
	run, err := c.run(jobID)
	if err != nil {
		return domain.ImportJob{}, nil, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.job, run.committed(), nil
}

func (c *ImportJobController) run(jobID string) (*jobRun, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	run, ok := c.runs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return run, nil
}

func (c *ImportJobController) forget(ctx context.Context, jobID string, identifiers []string) {
	if c.cfg.Invalidator == nil || len(identifiers) == 0 {
		return
	}
	if err := c.cfg.Invalidator.Forget(ctx, identifiers...); err != nil {
		c.log.WithError(err).WithField("job_id", jobID).Warn("forget reverted identifiers failed")
	}
}

func (c *ImportJobController) save(ctx context.Context, job domain.ImportJob) {
	if c.repo == nil {
		return
	}
	if err := c.repo.Save(ctx, job); err != nil {
		c.log.WithError(err).WithField("job_id", job.ID).Warn("persist import job failed")
	}
}

func (c *ImportJobController) emit(job domain.ImportJob, typ domain.JobEventType, rowIndex int, message string) {
	c.events.publish(domain.JobEvent{
		JobID:    job.ID,
		Type:     typ,
		Progress: job.Progress(),
		RowIndex: rowIndex,
		Message:  message,
		At:       c.cfg.Now(),
	})
}

func (r *jobRun) cancelRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *jobRun) committed() []domain.AppliedRecord {
	out := make([]domain.AppliedRecord, 0, len(r.applied))
	for _, a := range r.applied {
		if !a.Reverted {
			out = append(out, a)
		}
	}
	return out
}

func (r *jobRun) outcome() domain.ImportOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.ImportOutcome{
		Job:      r.job,
		Applied:  append([]domain.AppliedRecord(nil), r.applied...),
		Failures: append([]domain.RecordFailure(nil), r.failures...),
	}
}

func stateEvent(job domain.ImportJob) domain.JobEventType {
	switch {
	case job.Status == domain.JobFailed:
		return domain.EventFailed
	case job.Status == domain.JobCancelled:
		return domain.EventCancelled
	case job.RolledBack:
		return domain.EventRolledBack
	case job.AssignmentsDone:
		return domain.EventAssigned
	case job.Status == domain.JobCompleted:
		return domain.EventCompleted
	default:
		return domain.EventProgress
	}
}

func sortRevertFailures(failures []domain.RevertFailure) {
	slices.SortFunc(failures, func(a, b domain.RevertFailure) int {
		return cmp.Compare(a.RowIndex, b.RowIndex)
	})
}

func truncateReason(reason string) string {
	const maxLen = 1000
	reason = strings.TrimSpace(reason)
	if len(reason) <= maxLen {
		return reason
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
