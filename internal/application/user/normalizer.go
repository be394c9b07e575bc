package user

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultMaxFileBytes int64 = 2 << 20
	DefaultMaxRows            = 250
)

// headerAliases maps lower-cased source headers to normalized field names.
var headerAliases = map[string]string{
	"email":         domain.FieldEmail,
	"e-mail":        domain.FieldEmail,
	"email address": domain.FieldEmail,
	"mail":          domain.FieldEmail,

	"name":         domain.FieldName,
	"full name":    domain.FieldName,
	"display name": domain.FieldName,

	"first name": domain.FieldFirstName,
	"firstname":  domain.FieldFirstName,
	"given name": domain.FieldFirstName,

	"last name":   domain.FieldLastName,
	"lastname":    domain.FieldLastName,
	"surname":     domain.FieldLastName,
	"family name": domain.FieldLastName,

	"phone":        domain.FieldPhone,
	"phone number": domain.FieldPhone,
	"mobile":       domain.FieldPhone,
	"telephone":    domain.FieldPhone,
}

type NormalizerConfig struct {
	MaxFileBytes int64
	MaxRows      int
}

// FieldNormalizer turns delimited text into candidate records. It never
// validates values.
type FieldNormalizer struct {
	cfg NormalizerConfig
}

func NewFieldNormalizer(cfg NormalizerConfig) *FieldNormalizer {
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	return &FieldNormalizer{cfg: cfg}
}

func (n *FieldNormalizer) Config() NormalizerConfig {
	return n.cfg
}

// CheckSize rejects a source whose declared size is over the limit.
func (n *FieldNormalizer) CheckSize(size int64) error {
	if size > n.cfg.MaxFileBytes {
		return &domain.LimitError{Limit: "file size", Max: n.cfg.MaxFileBytes, Actual: size}
	}
	return nil
}

// Normalize reads delimited text with a header row. The delimiter is
// sniffed from the header line; a UTF-8 or UTF-16 byte order mark is honored.
func (n *FieldNormalizer) Normalize(r io.Reader, group string) ([]domain.CandidateRecord, error) {
	data, err := io.ReadAll(io.LimitReader(r, n.cfg.MaxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read import source: %w", err)
	}
	if err := n.CheckSize(int64(len(data))); err != nil {
		return nil, err
	}

	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return nil, fmt.Errorf("decode import source: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.Comma = sniffDelimiter(decoded)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	// A tab delimiter would be eaten as leading space.
	reader.TrimLeadingSpace = reader.Comma != '\t'

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse import source: %w", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrEmptySource
	}

	return n.NormalizeRows(rows[0], rows[1:], group)
}

// NormalizeRows maps already split rows onto normalized fields. Rows whose
// cells are all blank are dropped before the row limit is checked.
func (n *FieldNormalizer) NormalizeRows(header []string, rows [][]string, group string) ([]domain.CandidateRecord, error) {
	if len(header) == 0 {
		return nil, domain.ErrEmptySource
	}

	dataRows := make([][]string, 0, len(rows))
	for _, row := range rows {
		if !blankRow(row) {
			dataRows = append(dataRows, row)
		}
	}
	if len(dataRows) > n.cfg.MaxRows {
		return nil, &domain.LimitError{Limit: "row count", Max: int64(n.cfg.MaxRows), Actual: int64(len(dataRows))}
	}

	columns := mapHeader(header)
	group = strings.TrimSpace(group)

	records := make([]domain.CandidateRecord, 0, len(dataRows))
	for i, row := range dataRows {
		fields := emptyFields()
		for col, field := range columns {
			if col < len(row) {
				fields[field] = cleanValue(row[col])
			}
		}
		composeName(fields)

		records = append(records, domain.CandidateRecord{
			RowIndex:      i + 1,
			Fields:        fields,
			AssignedGroup: group,
		})
	}
	return records, nil
}

// mapHeader returns column index -> field for every recognized header.
// When two columns map to the same field the first one wins.
func mapHeader(header []string) map[int]string {
	columns := make(map[int]string, len(header))
	taken := make(map[string]bool, len(header))

	for i, h := range header {
		field, ok := CanonicalField(h)
		if !ok || taken[field] {
			continue
		}
		columns[i] = field
		taken[field] = true
	}

	if !taken[domain.FieldEmail] {
		for i, h := range header {
			if _, mapped := columns[i]; mapped {
				continue
			}
			if fuzzy.MatchNormalizedFold("email", h) {
				columns[i] = domain.FieldEmail
				break
			}
		}
	}
	return columns
}

// CanonicalField resolves a source header or field key to its normalized
// field name.
func CanonicalField(header string) (string, bool) {
	key := strings.ToLower(strings.Trim(strings.TrimSpace(header), "\"'"))
	key = strings.NewReplacer("_", " ", "-", " ").Replace(key)
	key = strings.Join(strings.Fields(key), " ")

	if field, ok := headerAliases[key]; ok {
		return field, true
	}
	if key == "e mail" {
		return domain.FieldEmail, true
	}
	return "", false
}

// canonicalFields normalizes operator-supplied field edits the same way
// source headers are normalized. Unknown keys are dropped.
func canonicalFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		field, ok := CanonicalField(k)
		if !ok {
			continue
		}
		out[field] = cleanValue(v)
	}
	return out
}

func emptyFields() map[string]string {
	return map[string]string{
		domain.FieldEmail: "",
		domain.FieldName:  "",
		domain.FieldPhone: "",
	}
}

// composeName fills name from first/last name columns when the source has
// no usable name column.
func composeName(fields map[string]string) {
	if fields[domain.FieldName] != "" {
		return
	}
	parts := make([]string, 0, 2)
	for _, key := range []string{domain.FieldFirstName, domain.FieldLastName} {
		if v := fields[key]; v != "" {
			parts = append(parts, v)
		}
	}
	fields[domain.FieldName] = strings.Join(parts, " ")
}

func cleanValue(v string) string {
	return norm.NFC.String(strings.TrimSpace(v))
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}

	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if c := bytes.Count(line, []byte(string(d))); c > bestCount {
			best, bestCount = d, c
		}
	}
	return best
}
