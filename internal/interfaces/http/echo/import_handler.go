package echo

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	app "github.com/mohammadpnp/roster-import/internal/application/user"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/export"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/file"
)

// BatchService is the part of the import workflow that runs before commit.
type BatchService interface {
	Upload(ctx context.Context, in app.UploadInput) (app.BatchView, error)
	Batch(batchID string) (app.BatchView, error)
	Toggle(batchID string, rowIndex int) (domain.CandidateRecord, error)
	SelectAllValid(batchID string) (app.BatchView, error)
	SkipAllInvalid(batchID string) (app.BatchView, error)
	BeginEdit(batchID string, rowIndex int) (app.BatchView, error)
	CancelEdit(batchID string, rowIndex int) (app.BatchView, error)
	CommitEdit(ctx context.Context, batchID string, rowIndex int, fields map[string]string) (domain.CandidateRecord, error)
	ErrorReport(batchID string) (domain.ReportTable, error)
	SkippedReport(batchID string) (domain.ReportTable, error)
}

type ImportHandler struct {
	batches BatchService
}

type uploadRequest struct {
	Group string `form:"group" validate:"required,max=64"`
}

type editRequest struct {
	BatchID string            `param:"batchID" json:"-" validate:"required"`
	Row     int               `param:"row" json:"-" validate:"gt=0"`
	Fields  map[string]string `json:"fields" validate:"required,min=1"`
}

func NewImportHandler(batches BatchService) *ImportHandler {
	return &ImportHandler{batches: batches}
}

func (h *ImportHandler) Upload(c echo.Context) error {
	var req uploadRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err, "failed to read upload form")
	}

	header, err := c.FormFile("file")
	if err != nil {
		return writeError(c, http.StatusBadRequest, "missing_file", "multipart field 'file' is required")
	}
	src, err := header.Open()
	if err != nil {
		return respondError(c, err, "failed to open uploaded file")
	}
	defer src.Close()

	content, err := file.Sniff(header.Filename, src)
	if err != nil {
		return respondError(c, err, "failed to inspect uploaded file")
	}

	view, err := h.batches.Upload(c.Request().Context(), app.UploadInput{
		SourceName: header.Filename,
		Group:      req.Group,
		Size:       header.Size,
		Content:    content,
	})
	if err != nil {
		return respondError(c, err, "failed to import file")
	}
	return c.JSON(http.StatusCreated, apiResponse{Data: view})
}

func (h *ImportHandler) GetBatch(c echo.Context) error {
	view, err := h.batches.Batch(c.Param("batchID"))
	if err != nil {
		return respondError(c, err, "failed to load batch")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: view})
}

func (h *ImportHandler) Toggle(c echo.Context) error {
	row, ok := rowParam(c)
	if !ok {
		return invalidRow(c)
	}
	rec, err := h.batches.Toggle(c.Param("batchID"), row)
	if err != nil {
		return respondError(c, err, "failed to toggle row")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: rec})
}

func (h *ImportHandler) SelectAllValid(c echo.Context) error {
	view, err := h.batches.SelectAllValid(c.Param("batchID"))
	if err != nil {
		return respondError(c, err, "failed to select valid rows")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: view})
}

func (h *ImportHandler) SkipAllInvalid(c echo.Context) error {
	view, err := h.batches.SkipAllInvalid(c.Param("batchID"))
	if err != nil {
		return respondError(c, err, "failed to skip invalid rows")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: view})
}

func (h *ImportHandler) BeginEdit(c echo.Context) error {
	row, ok := rowParam(c)
	if !ok {
		return invalidRow(c)
	}
	view, err := h.batches.BeginEdit(c.Param("batchID"), row)
	if err != nil {
		return respondError(c, err, "failed to start edit")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: view})
}

func (h *ImportHandler) CancelEdit(c echo.Context) error {
	row, ok := rowParam(c)
	if !ok {
		return invalidRow(c)
	}
	view, err := h.batches.CancelEdit(c.Param("batchID"), row)
	if err != nil {
		return respondError(c, err, "failed to cancel edit")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: view})
}

func (h *ImportHandler) CommitEdit(c echo.Context) error {
	var req editRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err, "failed to read edit")
	}
	rec, err := h.batches.CommitEdit(c.Request().Context(), req.BatchID, req.Row, req.Fields)
	if err != nil {
		return respondError(c, err, "failed to save edit")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: rec})
}

func (h *ImportHandler) ErrorReport(c echo.Context) error {
	return h.report(c, "errors", h.batches.ErrorReport)
}

func (h *ImportHandler) SkippedReport(c echo.Context) error {
	return h.report(c, "skipped", h.batches.SkippedReport)
}

func (h *ImportHandler) report(c echo.Context, kind string, build func(string) (domain.ReportTable, error)) error {
	format, err := export.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_format", "format must be csv or xlsx")
	}

	batchID := c.Param("batchID")
	table, err := build(batchID)
	if err != nil {
		return respondError(c, err, "failed to build report")
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, table); err != nil {
		return respondError(c, err, "failed to write report")
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s-%s.%s", kind, batchID, format)))
	return c.Blob(http.StatusOK, format.ContentType(), buf.Bytes())
}

func rowParam(c echo.Context) (int, bool) {
	row, err := strconv.Atoi(c.Param("row"))
	return row, err == nil && row > 0
}

func invalidRow(c echo.Context) error {
	return writeError(c, http.StatusBadRequest, "invalid_row", "row must be a positive integer")
}
