package user

import (
	"context"
	"fmt"
	"slices"
	"sync"

	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/sirupsen/logrus"
)

type GroupAssignment struct {
	Group       string               `json:"group"`
	Permissions domain.PermissionSet `json:"permissions"`
	Overridden  bool                 `json:"overridden"`
	EntityIDs   []string             `json:"-"`
	Count       int                  `json:"count"`
}

type AssignmentPlan struct {
	JobID   string            `json:"job_id"`
	Groups  []GroupAssignment `json:"groups"`
	Applied bool              `json:"applied"`
}

func (p *AssignmentPlan) group(name string) *GroupAssignment {
	for i := range p.Groups {
		if p.Groups[i].Group == name {
			return &p.Groups[i]
		}
	}
	return nil
}

func (p *AssignmentPlan) clone() AssignmentPlan {
	out := *p
	out.Groups = make([]GroupAssignment, len(p.Groups))
	for i, g := range p.Groups {
		g.Permissions = slices.Clone(g.Permissions)
		g.EntityIDs = slices.Clone(g.EntityIDs)
		out.Groups[i] = g
	}
	return out
}

// AssignmentStage writes role permissions onto the records a completed job
// committed. It never revisits validation or selection.
type AssignmentStage struct {
	jobs     *ImportJobController
	defaults domain.RoleDefaults
	writer   domain.PermissionWriter
	log      *logrus.Entry

	mu    sync.Mutex
	plans map[string]*AssignmentPlan
}

func NewAssignmentStage(jobs *ImportJobController, defaults domain.RoleDefaults, writer domain.PermissionWriter, logger *logrus.Entry) *AssignmentStage {
	if logger == nil {
		logger = logrus.WithField("component", "assignment_stage")
	}
	return &AssignmentStage{
		jobs:     jobs,
		defaults: defaults,
		writer:   writer,
		log:      logger,
		plans:    make(map[string]*AssignmentPlan),
	}
}

// Plan resolves the default permission set for every group present among
// the job's committed records. The plan is kept until applied.
func (s *AssignmentStage) Plan(ctx context.Context, jobID string) (AssignmentPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.planLocked(ctx, jobID)
	if err != nil {
		return AssignmentPlan{}, err
	}
	return plan.clone(), nil
}

// Override replaces the resolved permission set of one group.
func (s *AssignmentStage) Override(ctx context.Context, jobID, group string, perms domain.PermissionSet) (AssignmentPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.planLocked(ctx, jobID)
	if err != nil {
		return AssignmentPlan{}, err
	}
	if plan.Applied {
		return plan.clone(), domain.ErrAssignmentsApplied
	}
	g := plan.group(group)
	if g == nil {
		return plan.clone(), fmt.Errorf("%w: %s", domain.ErrUnknownGroup, group)
	}
	g.Permissions = domain.NewPermissionSet(perms...)
	g.Overridden = true
	return plan.clone(), nil
}

// Apply closes the job's rollback window and writes each group's resolved
// set onto every committed record of that group.
func (s *AssignmentStage) Apply(ctx context.Context, jobID string) (AssignmentPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.planLocked(ctx, jobID)
	if err != nil {
		return AssignmentPlan{}, err
	}
	if plan.Applied {
		return plan.clone(), domain.ErrAssignmentsApplied
	}

	if _, err := s.jobs.closeRollback(ctx, jobID); err != nil {
		return plan.clone(), err
	}
	// A rollback may have reverted records since the plan was read.
	if plan, err = s.planLocked(ctx, jobID); err != nil {
		return AssignmentPlan{}, err
	}

	for _, g := range plan.Groups {
		if err := s.writer.AssignPermissions(ctx, g.EntityIDs, g.Permissions); err != nil {
			return plan.clone(), fmt.Errorf("assign permissions for group %s: %w", g.Group, err)
		}
		s.log.WithFields(logrus.Fields{
			"job_id":      jobID,
			"group":       g.Group,
			"records":     g.Count,
			"permissions": len(g.Permissions),
			"overridden":  g.Overridden,
		}).Info("permissions assigned")
	}

	plan.Applied = true
	s.jobs.markAssigned(ctx, jobID)
	return plan.clone(), nil
}

// planLocked rebuilds the plan from the job's live records. Only the
// resolved permission sets and overrides carry over between calls, so a
// partial rollback shrinks the plan instead of leaving reverted IDs in it.
func (s *AssignmentStage) planLocked(ctx context.Context, jobID string) (*AssignmentPlan, error) {
	job, committed, err := s.jobs.committed(jobID)
	if err != nil {
		return nil, err
	}
	if job.RolledBack {
		delete(s.plans, jobID)
		return nil, domain.ErrNothingCommitted
	}
	prev, cached := s.plans[jobID]
	if cached && prev.Applied {
		return prev, nil
	}
	if job.Status != domain.JobCompleted {
		return nil, domain.ErrJobNotCompleted
	}
	if len(committed) == 0 {
		delete(s.plans, jobID)
		return nil, domain.ErrNothingCommitted
	}

	byGroup := make(map[string][]string)
	for _, rec := range committed {
		byGroup[rec.Group] = append(byGroup[rec.Group], rec.EntityID)
	}
	groups := make([]string, 0, len(byGroup))
	for g := range byGroup {
		groups = append(groups, g)
	}
	slices.Sort(groups)

	plan := &AssignmentPlan{JobID: jobID, Groups: make([]GroupAssignment, 0, len(groups))}
	for _, g := range groups {
		assignment := GroupAssignment{
			Group:     g,
			EntityIDs: byGroup[g],
			Count:     len(byGroup[g]),
		}
		if old := prevGroup(prev, g); old != nil {
			assignment.Permissions = old.Permissions
			assignment.Overridden = old.Overridden
		} else {
			perms, err := s.defaults.Resolve(ctx, g)
			if err != nil {
				return nil, fmt.Errorf("resolve default permissions for %s: %w", g, err)
			}
			assignment.Permissions = perms
		}
		plan.Groups = append(plan.Groups, assignment)
	}

	s.plans[jobID] = plan
	return plan, nil
}

func prevGroup(plan *AssignmentPlan, name string) *GroupAssignment {
	if plan == nil {
		return nil
	}
	return plan.group(name)
}
