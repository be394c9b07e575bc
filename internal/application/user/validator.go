package user

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9\s\-().]{5,19}$`)
)

// StatusPriority decides which fired rule class becomes the record status.
type StatusPriority string

const (
	// PriorityLastFired keeps the status of the last rule class that fired,
	// in rule order: missing, format, existence, duplicate.
	PriorityLastFired StatusPriority = "last-fired"
	// PriorityConflictFirst ranks exists over duplicate over invalidFormat
	// over missingData.
	PriorityConflictFirst StatusPriority = "conflict-first"
)

var conflictRank = map[domain.ValidationStatus]int{
	domain.StatusMissingData:   1,
	domain.StatusInvalidFormat: 2,
	domain.StatusDuplicate:     3,
	domain.StatusExists:        4,
}

type ValidatorConfig struct {
	NameMinLength int
	NameMaxLength int
	Priority      StatusPriority
}

// Validator runs the ordered rule set over a batch.
type Validator struct {
	index domain.ExistingRecordIndex
	cfg   ValidatorConfig
	rules []rule
}

type ruleResult struct {
	status domain.ValidationStatus
	issues []domain.ValidationIssue
}

func (r ruleResult) fired() bool {
	return r.status != ""
}

type rule func(ctx context.Context, rec domain.CandidateRecord, d *conflictDetector) (ruleResult, error)

func NewValidator(index domain.ExistingRecordIndex, cfg ValidatorConfig) *Validator {
	if cfg.NameMinLength <= 0 {
		cfg.NameMinLength = 2
	}
	if cfg.NameMaxLength <= 0 {
		cfg.NameMaxLength = 60
	}
	if cfg.Priority == "" {
		cfg.Priority = PriorityLastFired
	}

	v := &Validator{index: index, cfg: cfg}
	v.rules = []rule{v.requiredFields, v.formats, v.existence, v.duplicates}
	return v
}

// ValidateBatch evaluates every record and resets selection to the default:
// selected exactly when valid.
func (v *Validator) ValidateBatch(ctx context.Context, batch *domain.ImportBatch) error {
	if err := v.Evaluate(ctx, batch.Records); err != nil {
		return err
	}
	for i := range batch.Records {
		batch.Records[i].Selected = batch.Records[i].IsValid()
		getMetrics().validationStatus.WithLabelValues(string(batch.Records[i].Status)).Inc()
	}
	return nil
}

// Evaluate recomputes status, errors and issues for records in order. It
// leaves selection untouched. An index failure aborts the pass.
func (v *Validator) Evaluate(ctx context.Context, records []domain.CandidateRecord) error {
	detector := newConflictDetector(v.index, len(records))

	for i := range records {
		rec := &records[i]

		status := domain.StatusValid
		var issues []domain.ValidationIssue

		for _, r := range v.rules {
			res, err := r(ctx, *rec, detector)
			if err != nil {
				return fmt.Errorf("validate row %d: %w", rec.RowIndex, err)
			}
			issues = append(issues, res.issues...)
			if res.fired() {
				status = v.pick(status, res.status)
			}
		}

		rec.Status = status
		rec.Issues = issues
		rec.Errors = make([]string, 0, len(issues))
		for _, issue := range issues {
			rec.Errors = append(rec.Errors, issue.Message)
		}
	}
	return nil
}

func (v *Validator) pick(current, fired domain.ValidationStatus) domain.ValidationStatus {
	if v.cfg.Priority == PriorityConflictFirst && conflictRank[current] > conflictRank[fired] {
		return current
	}
	return fired
}

func (v *Validator) requiredFields(_ context.Context, rec domain.CandidateRecord, _ *conflictDetector) (ruleResult, error) {
	var res ruleResult

	if rec.Field(domain.FieldEmail) == "" {
		res.issues = append(res.issues, issue(rec, domain.FieldEmail, domain.IssueMissing, "Email is required"))
	}

	name := rec.Field(domain.FieldName)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		res.issues = append(res.issues, issue(rec, domain.FieldName, domain.IssueMissing, "Name is required"))
	case n < v.cfg.NameMinLength || n > v.cfg.NameMaxLength:
		res.issues = append(res.issues, issue(rec, domain.FieldName, domain.IssueValidation,
			fmt.Sprintf("Name must be between %d and %d characters", v.cfg.NameMinLength, v.cfg.NameMaxLength)))
	}

	if len(res.issues) > 0 {
		res.status = domain.StatusMissingData
	}
	return res, nil
}

func (v *Validator) formats(_ context.Context, rec domain.CandidateRecord, _ *conflictDetector) (ruleResult, error) {
	var res ruleResult

	if email := rec.Field(domain.FieldEmail); email != "" && !emailPattern.MatchString(email) {
		res.status = domain.StatusInvalidFormat
		res.issues = append(res.issues, issue(rec, domain.FieldEmail, domain.IssueFormat, "Invalid email format"))
	}

	// Phone problems are reported but never change the status.
	if phone := rec.Field(domain.FieldPhone); phone != "" && !phonePattern.MatchString(phone) {
		i := issue(rec, domain.FieldPhone, domain.IssueFormat, "Invalid phone number format")
		i.Severity = domain.SeverityWarning
		res.issues = append(res.issues, i)
	}
	return res, nil
}

func (v *Validator) existence(ctx context.Context, rec domain.CandidateRecord, d *conflictDetector) (ruleResult, error) {
	email := rec.Field(domain.FieldEmail)
	if email == "" {
		return ruleResult{}, nil
	}

	found, err := d.exists(ctx, email)
	if err != nil {
		return ruleResult{}, fmt.Errorf("existing record lookup: %w", err)
	}
	if !found {
		return ruleResult{}, nil
	}
	return ruleResult{
		status: domain.StatusExists,
		issues: []domain.ValidationIssue{issue(rec, domain.FieldEmail, domain.IssueExists, "Email already exists in the system")},
	}, nil
}

func (v *Validator) duplicates(_ context.Context, rec domain.CandidateRecord, d *conflictDetector) (ruleResult, error) {
	email := rec.Field(domain.FieldEmail)
	if email == "" {
		return ruleResult{}, nil
	}

	first, dup := d.firstSeen(email, rec.RowIndex)
	if !dup {
		return ruleResult{}, nil
	}
	return ruleResult{
		status: domain.StatusDuplicate,
		issues: []domain.ValidationIssue{issue(rec, domain.FieldEmail, domain.IssueDuplicate,
			fmt.Sprintf("Duplicate email (same as row %d)", first))},
	}, nil
}

func issue(rec domain.CandidateRecord, field string, kind domain.IssueKind, msg string) domain.ValidationIssue {
	return domain.ValidationIssue{
		RowIndex: rec.RowIndex,
		Field:    field,
		Kind:     kind,
		Message:  msg,
		Severity: domain.SeverityError,
	}
}
