package user_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	app "github.com/mohammadpnp/roster-import/internal/application/user"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
)

type fakeIndex struct {
	ids   map[string]bool
	err   error
	calls int
}

func newFakeIndex(ids ...string) *fakeIndex {
	idx := &fakeIndex{ids: make(map[string]bool)}
	for _, id := range ids {
		idx.ids[app.NormalizeIdentifier(id)] = true
	}
	return idx
}

func (f *fakeIndex) Exists(ctx context.Context, id string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.ids[id], nil
}

type fakeStore struct {
	mu        sync.Mutex
	gate      chan struct{}
	applyErr  func(call int, rec domain.CandidateRecord) error
	onApply   func(call int)
	revertErr map[string]error
	calls     int
	live      map[string]domain.CandidateRecord
	reverts   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{live: make(map[string]domain.CandidateRecord), revertErr: make(map[string]error)}
}

func (f *fakeStore) Apply(ctx context.Context, rec domain.CandidateRecord) (string, error) {
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	f.calls++
	call := f.calls
	var err error
	if f.applyErr != nil {
		err = f.applyErr(call, rec)
	}
	id := fmt.Sprintf("e-%d", rec.RowIndex)
	if err == nil {
		f.live[id] = rec
	}
	hook := f.onApply
	f.mu.Unlock()

	if err != nil {
		return "", err
	}
	if hook != nil {
		hook(call)
	}
	return id, nil
}

func (f *fakeStore) Revert(ctx context.Context, entityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.revertErr[entityID]; err != nil {
		return err
	}
	f.reverts = append(f.reverts, entityID)
	delete(f.live, entityID)
	return nil
}

func (f *fakeStore) setRevertErr(entityID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.revertErr, entityID)
		return
	}
	f.revertErr[entityID] = err
}

func (f *fakeStore) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *fakeStore) revertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reverts)
}

type fakeJobRepo struct {
	mu       sync.Mutex
	saved    []domain.ImportJob
	applied  []domain.AppliedRecord
	reverted []string
}

func (f *fakeJobRepo) Save(ctx context.Context, job domain.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, job)
	return nil
}

func (f *fakeJobRepo) RecordApplied(ctx context.Context, jobID string, rec domain.AppliedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, rec)
	return nil
}

func (f *fakeJobRepo) MarkReverted(ctx context.Context, jobID string, entityIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverted = append(f.reverted, entityIDs...)
	return nil
}

func (f *fakeJobRepo) last() domain.ImportJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[len(f.saved)-1]
}

type fakeRoleDefaults map[string][]string

func (f fakeRoleDefaults) Resolve(ctx context.Context, group string) (domain.PermissionSet, error) {
	return domain.NewPermissionSet(f[group]...), nil
}

type permissionWrite struct {
	ids   []string
	perms domain.PermissionSet
}

type fakePermissionWriter struct {
	writes []permissionWrite
	err    error
}

func (f *fakePermissionWriter) AssignPermissions(ctx context.Context, ids []string, perms domain.PermissionSet) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, permissionWrite{ids: ids, perms: perms})
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// validatedBatch normalizes csv and validates it against index.
func validatedBatch(csv string, index domain.ExistingRecordIndex) (*domain.ImportBatch, error) {
	records, err := app.NewFieldNormalizer(app.NormalizerConfig{}).Normalize(strings.NewReader(csv), "student")
	if err != nil {
		return nil, err
	}
	batch := &domain.ImportBatch{ID: "batch-1", SourceName: "roster.csv", Group: "student", Records: records}
	if err := app.NewValidator(index, app.ValidatorConfig{}).ValidateBatch(context.Background(), batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func cleanRows(n int) string {
	var b strings.Builder
	b.WriteString("email,name\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "user%d@school.edu,User Number %d\n", i, i)
	}
	return b.String()
}
