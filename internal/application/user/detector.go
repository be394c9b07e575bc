package user

import (
	"context"
	"strings"

	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"golang.org/x/text/cases"
)

// NormalizeIdentifier is the key used for duplicate and existence checks.
func NormalizeIdentifier(id string) string {
	return cases.Fold().String(strings.TrimSpace(id))
}

// conflictDetector is created per validation pass. The first row to use an
// identifier owns it; later rows are duplicates of that row.
type conflictDetector struct {
	index domain.ExistingRecordIndex
	seen  map[string]int
}

func newConflictDetector(index domain.ExistingRecordIndex, size int) *conflictDetector {
	return &conflictDetector{index: index, seen: make(map[string]int, size)}
}

func (d *conflictDetector) exists(ctx context.Context, id string) (bool, error) {
	if d.index == nil {
		return false, nil
	}
	return d.index.Exists(ctx, NormalizeIdentifier(id))
}

// firstSeen registers id for rowIndex unless an earlier row already holds it.
func (d *conflictDetector) firstSeen(id string, rowIndex int) (int, bool) {
	key := NormalizeIdentifier(id)
	if first, ok := d.seen[key]; ok {
		return first, true
	}
	d.seen[key] = rowIndex
	return 0, false
}
