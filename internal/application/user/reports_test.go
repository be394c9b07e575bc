package user_test

import (
	"testing"

	app "github.com/mohammadpnp/roster-import/internal/application/user"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorReportListsEveryIssue(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch("email,name,phone\nana@school.edu,Ana Lima,abc\n,,555-0100\nana@school.edu,Ana Two,\n", newFakeIndex())
	require.NoError(t, err)

	rows := app.BuildErrorReport(batch)
	require.Len(t, rows, 4)

	assert.Equal(t, app.ErrorReportRow{RowIndex: 1, Field: domain.FieldPhone, Kind: domain.IssueFormat, Message: "Invalid phone number format", Severity: domain.SeverityWarning}, rows[0])
	assert.Equal(t, "Email is required", rows[1].Message)
	assert.Equal(t, "Name is required", rows[2].Message)
	assert.Equal(t, domain.IssueDuplicate, rows[3].Kind)

	table := app.ErrorReportTable(rows)
	assert.Equal(t, []string{"Row", "Field", "Issue", "Message", "Severity"}, table.Header)
	assert.Equal(t, []string{"3", "email", "duplicate", "Duplicate email (same as row 1)", "error"}, table.Rows[3])
}

func TestSkippedReportReasons(t *testing.T) {
	t.Parallel()

	batch, err := validatedBatch("email,name\nana@school.edu,Ana Lima\n,Bo Chen\ncy@school.edu,Cy Young\n,Dee Park\n", newFakeIndex())
	require.NoError(t, err)
	batch.Records[0].Selected = false
	batch.Records[3].Selected = true

	rows := app.BuildSkippedReport(batch)
	require.Len(t, rows, 3)

	assert.Equal(t, 1, rows[0].RowIndex)
	assert.Equal(t, "Skipped by operator", rows[0].Reason)
	assert.Equal(t, 2, rows[1].RowIndex)
	assert.Equal(t, "Email is required", rows[1].Reason)
	assert.Equal(t, 4, rows[2].RowIndex)
	assert.Equal(t, "Selected but invalid: Email is required", rows[2].Reason)

	table := app.SkippedReportTable(rows)
	assert.Equal(t, "Skipped", table.Name)
	assert.Equal(t, []string{"2", "", "Bo Chen", "missingData", "Email is required"}, table.Rows[1])
}
