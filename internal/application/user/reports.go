package user

import (
	"strconv"
	"strings"

	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
)

type ErrorReportRow struct {
	RowIndex int              `json:"row_index"`
	Field    string           `json:"field"`
	Kind     domain.IssueKind `json:"kind"`
	Message  string           `json:"message"`
	Severity domain.Severity  `json:"severity"`
}

type SkippedReportRow struct {
	RowIndex int                     `json:"row_index"`
	Email    string                  `json:"email"`
	Name     string                  `json:"name"`
	Status   domain.ValidationStatus `json:"status"`
	Reason   string                  `json:"reason"`
}

// BuildErrorReport lists every validation issue of the batch in row order.
func BuildErrorReport(batch *domain.ImportBatch) []ErrorReportRow {
	rows := make([]ErrorReportRow, 0)
	for _, rec := range batch.Records {
		for _, issue := range rec.Issues {
			rows = append(rows, ErrorReportRow{
				RowIndex: issue.RowIndex,
				Field:    issue.Field,
				Kind:     issue.Kind,
				Message:  issue.Message,
				Severity: issue.Severity,
			})
		}
	}
	return rows
}

// BuildSkippedReport lists records that will not be committed: unselected
// records and invalid ones.
func BuildSkippedReport(batch *domain.ImportBatch) []SkippedReportRow {
	rows := make([]SkippedReportRow, 0)
	for _, rec := range batch.Records {
		if rec.Selected && rec.IsValid() {
			continue
		}

		reason := strings.Join(rec.Errors, "; ")
		switch {
		case rec.IsValid():
			reason = "Skipped by operator"
		case rec.Selected:
			reason = "Selected but invalid: " + reason
		}

		rows = append(rows, SkippedReportRow{
			RowIndex: rec.RowIndex,
			Email:    rec.Field(domain.FieldEmail),
			Name:     rec.Field(domain.FieldName),
			Status:   rec.Status,
			Reason:   reason,
		})
	}
	return rows
}

func ErrorReportTable(rows []ErrorReportRow) domain.ReportTable {
	t := domain.ReportTable{
		Name:   "Errors",
		Header: []string{"Row", "Field", "Issue", "Message", "Severity"},
		Rows:   make([][]string, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{strconv.Itoa(r.RowIndex), r.Field, string(r.Kind), r.Message, string(r.Severity)})
	}
	return t
}

func SkippedReportTable(rows []SkippedReportRow) domain.ReportTable {
	t := domain.ReportTable{
		Name:   "Skipped",
		Header: []string{"Row", "Email", "Name", "Status", "Reason"},
		Rows:   make([][]string, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{strconv.Itoa(r.RowIndex), r.Email, r.Name, string(r.Status), r.Reason})
	}
	return t
}
