package export_test

import (
	"bytes"
	"testing"

	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/export"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var table = domain.ReportTable{
	Name:   "Skipped",
	Header: []string{"Row", "Email", "Reason"},
	Rows: [][]string{
		{"2", "", "Email is required"},
		{"4", "a@b.co", "Skipped, by operator"},
	},
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, export.WriteCSV(&buf, table))
	assert.Equal(t, "Row,Email,Reason\n2,,Email is required\n4,a@b.co,\"Skipped, by operator\"\n", buf.String())
}

func TestWriteXLSXRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, export.WriteXLSX(&buf, table))

	header, rows, err := file.NewSpreadsheetReader().ReadRows(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, table.Header, header)
	require.Len(t, rows, 2)
	assert.Equal(t, "Skipped, by operator", rows[1][2])
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := export.ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, export.FormatCSV, f)

	f, err = export.ParseFormat("xlsx")
	require.NoError(t, err)
	assert.Contains(t, f.ContentType(), "spreadsheetml")

	_, err = export.ParseFormat("pdf")
	assert.Error(t, err)
}
