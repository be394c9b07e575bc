package echo

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	app "github.com/mohammadpnp/roster-import/internal/application/user"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/sirupsen/logrus"
)

const eventWriteTimeout = 10 * time.Second

// JobService commits batches and manages the resulting jobs.
type JobService interface {
	Commit(ctx context.Context, batchID string) (domain.ImportJob, error)
	Job(ctx context.Context, jobID string) (domain.ImportJob, error)
	Outcome(jobID string) (domain.ImportOutcome, error)
	CancelJob(jobID string) (domain.ImportJob, error)
	Subscribe(jobID string) (<-chan domain.JobEvent, func(), error)
	Rollback(ctx context.Context, jobID string) (domain.ImportJob, error)
	Assignments(ctx context.Context, jobID string) (app.AssignmentPlan, error)
	OverrideAssignment(ctx context.Context, jobID, group string, perms []string) (app.AssignmentPlan, error)
	ApplyAssignments(ctx context.Context, jobID string) (app.AssignmentPlan, error)
}

type JobHandler struct {
	jobs     JobService
	upgrader websocket.Upgrader
	logger   *logrus.Entry
}

type jobStatus struct {
	Job      domain.ImportJob       `json:"job"`
	Progress domain.JobProgress     `json:"progress"`
	Failures []domain.RecordFailure `json:"failures,omitempty"`
}

type overrideRequest struct {
	JobID       string   `param:"jobID" json:"-" validate:"required"`
	Group       string   `param:"group" json:"-" validate:"required,max=64"`
	Permissions []string `json:"permissions" validate:"dive,required"`
}

func NewJobHandler(jobs JobService, logger *logrus.Entry) *JobHandler {
	if logger == nil {
		logger = logrus.WithField("component", "job_handler")
	}
	return &JobHandler{
		jobs: jobs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

func (h *JobHandler) Commit(c echo.Context) error {
	job, err := h.jobs.Commit(c.Request().Context(), c.Param("batchID"))
	if err != nil {
		return respondError(c, err, "failed to start import job")
	}
	return c.JSON(http.StatusAccepted, apiResponse{Data: h.status(job)})
}

func (h *JobHandler) GetJob(c echo.Context) error {
	job, err := h.jobs.Job(c.Request().Context(), c.Param("jobID"))
	if err != nil {
		return respondError(c, err, "failed to load import job")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: h.status(job)})
}

func (h *JobHandler) Cancel(c echo.Context) error {
	job, err := h.jobs.CancelJob(c.Param("jobID"))
	if err != nil {
		return respondError(c, err, "failed to cancel import job")
	}
	return c.JSON(http.StatusAccepted, apiResponse{Data: h.status(job)})
}

func (h *JobHandler) Rollback(c echo.Context) error {
	job, err := h.jobs.Rollback(c.Request().Context(), c.Param("jobID"))
	if err != nil {
		return respondError(c, err, "failed to roll back import job")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: h.status(job)})
}

func (h *JobHandler) Assignments(c echo.Context) error {
	plan, err := h.jobs.Assignments(c.Request().Context(), c.Param("jobID"))
	if err != nil {
		return respondError(c, err, "failed to resolve assignments")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: plan})
}

func (h *JobHandler) OverrideAssignment(c echo.Context) error {
	var req overrideRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err, "failed to read override")
	}
	plan, err := h.jobs.OverrideAssignment(c.Request().Context(), req.JobID, req.Group, req.Permissions)
	if err != nil {
		return respondError(c, err, "failed to override assignment")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: plan})
}

func (h *JobHandler) ApplyAssignments(c echo.Context) error {
	plan, err := h.jobs.ApplyAssignments(c.Request().Context(), c.Param("jobID"))
	if err != nil {
		return respondError(c, err, "failed to apply assignments")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: plan})
}

// Events streams job events over a websocket until the job settles or the
// client goes away. A completed job stays on the stream until it is rolled
// back or assigned.
func (h *JobHandler) Events(c echo.Context) error {
	jobID := c.Param("jobID")
	events, unsubscribe, err := h.jobs.Subscribe(jobID)
	if err != nil {
		return respondError(c, err, "failed to subscribe to import job")
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.WithError(err).WithField("job_id", jobID).Warn("websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
					time.Now().Add(eventWriteTimeout))
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.WithError(err).WithField("job_id", jobID).Warn("failed to send job event to websocket connection")
				return nil
			}
		case <-gone:
			return nil
		}
	}
}

func (h *JobHandler) status(job domain.ImportJob) jobStatus {
	out := jobStatus{Job: job, Progress: job.Progress()}
	if job.Status.Terminal() {
		if outcome, err := h.jobs.Outcome(job.ID); err == nil {
			out.Failures = outcome.Failures
		}
	}
	return out
}
