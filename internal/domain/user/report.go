package user

// ReportTable is a downloadable tabular report.
type ReportTable struct {
	Name   string
	Header []string
	Rows   [][]string
}
