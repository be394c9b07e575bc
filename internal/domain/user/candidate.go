package user

import "maps"

// Normalized field names.
const (
	FieldEmail     = "email"
	FieldName      = "name"
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldPhone     = "phone"
)

type ValidationStatus string

const (
	StatusValid         ValidationStatus = "valid"
	StatusDuplicate     ValidationStatus = "duplicate"
	StatusExists        ValidationStatus = "exists"
	StatusMissingData   ValidationStatus = "missingData"
	StatusInvalidFormat ValidationStatus = "invalidFormat"
)

type IssueKind string

const (
	IssueDuplicate  IssueKind = "duplicate"
	IssueExists     IssueKind = "exists"
	IssueMissing    IssueKind = "missing"
	IssueFormat     IssueKind = "format"
	IssueValidation IssueKind = "validation"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is the structured form of one entry in CandidateRecord.Errors.
type ValidationIssue struct {
	RowIndex int       `json:"row_index"`
	Field    string    `json:"field"`
	Kind     IssueKind `json:"kind"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
}

// CandidateRecord is one normalized source row. RowIndex is 1-based and
// never changes after parsing.
type CandidateRecord struct {
	RowIndex      int               `json:"row_index"`
	Fields        map[string]string `json:"fields"`
	AssignedGroup string            `json:"assigned_group"`
	Status        ValidationStatus  `json:"validation_status"`
	Errors        []string          `json:"errors"`
	Issues        []ValidationIssue `json:"-"`
	Selected      bool              `json:"selected"`
	Editing       bool              `json:"editing"`
}

func (r CandidateRecord) Field(name string) string {
	return r.Fields[name]
}

func (r CandidateRecord) IsValid() bool {
	return r.Status == StatusValid
}

// Clone returns a copy that shares no maps or slices with r.
func (r CandidateRecord) Clone() CandidateRecord {
	c := r
	c.Fields = maps.Clone(r.Fields)
	c.Errors = append([]string(nil), r.Errors...)
	c.Issues = append([]ValidationIssue(nil), r.Issues...)
	return c
}
