package user_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	app "github.com/mohammadpnp/roster-import/internal/application/user"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController(store domain.RecordStore, repo domain.ImportJobRepository, clock *fakeClock) *app.ImportJobController {
	cfg := app.JobControllerConfig{}
	if clock != nil {
		cfg.Now = clock.Now
	}
	return app.NewImportJobController(store, repo, cfg)
}

func runToEnd(t *testing.T, c *app.ImportJobController, batch *domain.ImportBatch) domain.ImportOutcome {
	t.Helper()

	job, err := c.Start(context.Background(), batch)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := c.Wait(ctx, job.ID)
	require.NoError(t, err)
	return outcome
}

func TestJobCommitsSelectedRecordsInOrder(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch(cleanRows(5), newFakeIndex())
	require.NoError(t, err)
	store := newFakeStore()
	repo := &fakeJobRepo{}
	c := newController(store, repo, nil)

	outcome := runToEnd(t, c, batch)

	job := outcome.Job
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, 5, job.TotalRows)
	assert.Equal(t, 5, job.ProcessedRows)
	assert.Equal(t, 5, job.SuccessfulRows)
	assert.Equal(t, 0, job.FailedRows)
	assert.True(t, job.CanRollback)
	assert.Equal(t, job.FinishedAt.Add(app.DefaultRollbackWindow), job.RollbackDeadline)
	assert.True(t, batch.Locked)

	require.Len(t, outcome.Applied, 5)
	for i, a := range outcome.Applied {
		assert.Equal(t, i+1, a.RowIndex)
		assert.Equal(t, "student", a.Group)
	}
	assert.Equal(t, 5, store.liveCount())
	assert.Len(t, repo.applied, 5)
	assert.Equal(t, domain.JobCompleted, repo.last().Status)
}

func TestJobCountersAlwaysBalance(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch("email,name\nok@school.edu,Okay Person\n,No Mail\nbad@school.edu,Bad Apple\nfine@school.edu,Fine Person\n", newFakeIndex())
	require.NoError(t, err)
	// Row 2 is invalid but forced on.
	batch.Records[1].Selected = true

	store := newFakeStore()
	store.applyErr = func(call int, rec domain.CandidateRecord) error {
		if rec.Field(domain.FieldEmail) == "bad@school.edu" {
			return errors.New("unique violation")
		}
		return nil
	}

	c := newController(store, nil, nil)
	job, err := c.Start(context.Background(), batch)
	require.NoError(t, err)

	events, unsubscribe, err := c.Subscribe(job.ID)
	require.NoError(t, err)
	defer unsubscribe()

	for ev := range events {
		p := ev.Progress
		assert.Equal(t, p.ProcessedRows, p.SuccessfulRows+p.FailedRows)
	}

	outcome, err := c.Outcome(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, outcome.Job.Status)
	assert.Equal(t, 4, outcome.Job.ProcessedRows)
	assert.Equal(t, 2, outcome.Job.SuccessfulRows)
	assert.Equal(t, 2, outcome.Job.FailedRows)

	require.Len(t, outcome.Failures, 2)
	assert.Equal(t, 2, outcome.Failures[0].RowIndex)
	assert.Equal(t, "record is missingData", outcome.Failures[0].Reason)
	assert.Equal(t, 3, outcome.Failures[1].RowIndex)
	assert.Equal(t, "unique violation", outcome.Failures[1].Reason)
}

func TestJobStartRefusesEmptySelectionAndLockedBatch(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch(cleanRows(2), newFakeIndex())
	require.NoError(t, err)
	for i := range batch.Records {
		batch.Records[i].Selected = false
	}

	c := newController(newFakeStore(), nil, nil)
	_, err = c.Start(context.Background(), batch)
	assert.ErrorIs(t, err, domain.ErrNothingSelected)
	assert.False(t, batch.Locked)

	batch.Records[0].Selected = true
	runToEnd(t, c, batch)

	_, err = c.Start(context.Background(), batch)
	assert.ErrorIs(t, err, domain.ErrBatchLocked)
}

func TestJobCancelAfterThreeRecords(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch(cleanRows(10), newFakeIndex())
	require.NoError(t, err)

	store := newFakeStore()
	store.gate = make(chan struct{})
	c := newController(store, nil, nil)

	job, err := c.Start(context.Background(), batch)
	require.NoError(t, err)
	store.onApply = func(call int) {
		if call == 3 {
			_, _ = c.Cancel(job.ID)
		}
	}
	close(store.gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := c.Wait(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.JobCancelled, outcome.Job.Status)
	assert.Equal(t, 3, outcome.Job.ProcessedRows)
	assert.Equal(t, 3, outcome.Job.SuccessfulRows)
	assert.False(t, outcome.Job.CanRollback)
	assert.Equal(t, 3, store.liveCount())
	assert.Equal(t, 0, store.revertCount())

	_, err = c.Cancel(job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotRunning)

	_, err = c.Rollback(context.Background(), job.ID)
	assert.ErrorIs(t, err, domain.ErrRollbackNotAllowed)
}

func TestJobStoreUnavailableFailsJob(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch(cleanRows(4), newFakeIndex())
	require.NoError(t, err)

	store := newFakeStore()
	store.applyErr = func(call int, rec domain.CandidateRecord) error {
		if call == 2 {
			return fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
		}
		return nil
	}
	c := newController(store, nil, nil)

	outcome := runToEnd(t, c, batch)
	assert.Equal(t, domain.JobFailed, outcome.Job.Status)
	assert.Equal(t, 1, outcome.Job.ProcessedRows)
	assert.False(t, outcome.Job.CanRollback)
	assert.Contains(t, outcome.Job.ErrorMessage, domain.ErrCommitFailure.Error())
	assert.Contains(t, outcome.Job.ErrorMessage, "contact support")
	assert.Equal(t, 1, store.liveCount())
}

func TestRollbackWithinWindow(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch(cleanRows(3), newFakeIndex())
	require.NoError(t, err)
	store := newFakeStore()
	repo := &fakeJobRepo{}
	clock := newFakeClock()
	c := newController(store, repo, clock)

	outcome := runToEnd(t, c, batch)
	clock.Set(outcome.Job.RollbackDeadline.Add(-time.Millisecond))

	job, err := c.Rollback(context.Background(), outcome.Job.ID)
	require.NoError(t, err)
	assert.True(t, job.RolledBack)
	assert.False(t, job.CanRollback)
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, 0, store.liveCount())
	assert.ElementsMatch(t, []string{"e-1", "e-2", "e-3"}, repo.reverted)

	_, err = c.Rollback(context.Background(), outcome.Job.ID)
	assert.ErrorIs(t, err, domain.ErrRollbackNotAllowed)
}

func TestRollbackAfterDeadlineExpires(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch(cleanRows(3), newFakeIndex())
	require.NoError(t, err)
	store := newFakeStore()
	clock := newFakeClock()
	c := newController(store, nil, clock)

	outcome := runToEnd(t, c, batch)
	clock.Set(outcome.Job.RollbackDeadline.Add(time.Millisecond))

	_, err = c.Rollback(context.Background(), outcome.Job.ID)
	assert.ErrorIs(t, err, domain.ErrRollbackWindowExpired)

	job, err := c.Job(outcome.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.False(t, job.RolledBack)
	assert.Equal(t, 3, store.liveCount())
}

func TestRollbackPartialFailureCanBeRetried(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch(cleanRows(4), newFakeIndex())
	require.NoError(t, err)
	store := newFakeStore()
	store.setRevertErr("e-3", errors.New("row locked"))
	c := newController(store, nil, newFakeClock())

	outcome := runToEnd(t, c, batch)

	job, err := c.Rollback(context.Background(), outcome.Job.ID)
	require.ErrorIs(t, err, domain.ErrRollbackFailure)

	var rbErr *domain.RollbackError
	require.True(t, errors.As(err, &rbErr))
	require.Len(t, rbErr.Failures, 1)
	assert.Equal(t, 3, rbErr.Failures[0].RowIndex)
	assert.True(t, job.CanRollback)
	assert.False(t, job.RolledBack)
	assert.Equal(t, 1, store.liveCount())

	store.setRevertErr("e-3", nil)
	job, err = c.Rollback(context.Background(), outcome.Job.ID)
	require.NoError(t, err)
	assert.True(t, job.RolledBack)
	assert.Equal(t, 4, store.revertCount())
	assert.Equal(t, 0, store.liveCount())
}

func TestCancelDuringLastRecordEndsCancelled(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch(cleanRows(3), newFakeIndex())
	require.NoError(t, err)

	store := newFakeStore()
	store.gate = make(chan struct{})
	c := newController(store, nil, nil)

	job, err := c.Start(context.Background(), batch)
	require.NoError(t, err)
	cancelErr := make(chan error, 1)
	store.onApply = func(call int) {
		if call == 3 {
			_, err := c.Cancel(job.ID)
			cancelErr <- err
		}
	}
	close(store.gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := c.Wait(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, <-cancelErr)

	assert.Equal(t, domain.JobCancelled, outcome.Job.Status)
	assert.Equal(t, 3, outcome.Job.ProcessedRows)
	assert.Equal(t, 3, outcome.Job.SuccessfulRows)
	assert.False(t, outcome.Job.CanRollback)
}

func TestFailureReasonTruncatedOnRuneBoundary(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch(cleanRows(1), newFakeIndex())
	require.NoError(t, err)

	// One ASCII byte shifts the two-byte runes so byte 1000 is mid-rune.
	reason := "x" + strings.Repeat("é", 600)
	store := newFakeStore()
	store.applyErr = func(call int, rec domain.CandidateRecord) error {
		return errors.New(reason)
	}
	c := newController(store, nil, nil)

	outcome := runToEnd(t, c, batch)
	require.Len(t, outcome.Failures, 1)
	got := outcome.Failures[0].Reason
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, 999)
	assert.True(t, strings.HasPrefix(reason, got))
}

type fakeInvalidator struct {
	mu        sync.Mutex
	forgotten []string
}

func (f *fakeInvalidator) Forget(ctx context.Context, identifiers ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, identifiers...)
	return nil
}

func TestRollbackForgetsRevertedIdentifiers(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch(cleanRows(3), newFakeIndex())
	require.NoError(t, err)
	store := newFakeStore()
	store.setRevertErr("e-3", errors.New("row locked"))
	invalidator := &fakeInvalidator{}
	c := app.NewImportJobController(store, nil, app.JobControllerConfig{
		Invalidator: invalidator,
		Now:         newFakeClock().Now,
	})

	outcome := runToEnd(t, c, batch)
	_, err = c.Rollback(context.Background(), outcome.Job.ID)
	require.ErrorIs(t, err, domain.ErrRollbackFailure)
	assert.ElementsMatch(t, []string{"user1@school.edu", "user2@school.edu"}, invalidator.forgotten)

	store.setRevertErr("e-3", nil)
	_, err = c.Rollback(context.Background(), outcome.Job.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user1@school.edu", "user2@school.edu", "user3@school.edu"}, invalidator.forgotten)
}

func TestSubscribeAfterCompletionStreamsUntilRolledBack(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch(cleanRows(2), newFakeIndex())
	require.NoError(t, err)
	c := newController(newFakeStore(), nil, newFakeClock())
	outcome := runToEnd(t, c, batch)

	events, unsubscribe, err := c.Subscribe(outcome.Job.ID)
	require.NoError(t, err)
	defer unsubscribe()

	ev := <-events
	assert.Equal(t, domain.EventCompleted, ev.Type)
	assert.Equal(t, 100.0, ev.Progress.Percentage)

	_, err = c.Rollback(context.Background(), outcome.Job.ID)
	require.NoError(t, err)

	ev, ok := <-events
	require.True(t, ok)
	assert.Equal(t, domain.EventRolledBack, ev.Type)
	_, ok = <-events
	assert.False(t, ok)

	// A settled job hands back its last state on a closed channel.
	late, _, err := c.Subscribe(outcome.Job.ID)
	require.NoError(t, err)
	ev, ok = <-late
	require.True(t, ok)
	assert.Equal(t, domain.EventRolledBack, ev.Type)
	_, ok = <-late
	assert.False(t, ok)

	_, _, err = c.Subscribe("missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestSubscribeStreamsProgressInOrder(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch(cleanRows(3), newFakeIndex())
	require.NoError(t, err)
	store := newFakeStore()
	store.gate = make(chan struct{})
	c := newController(store, nil, nil)

	job, err := c.Start(context.Background(), batch)
	require.NoError(t, err)
	events, unsubscribe, err := c.Subscribe(job.ID)
	require.NoError(t, err)
	defer unsubscribe()
	close(store.gate)

	first := <-events
	assert.Equal(t, domain.EventProgress, first.Type)
	assert.Zero(t, first.Progress.ProcessedRows)

	var rows []int
	for ev := range events {
		if ev.Type == domain.EventCompleted {
			break
		}
		if ev.Type == domain.EventProgress {
			rows = append(rows, ev.RowIndex)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, rows)
}
