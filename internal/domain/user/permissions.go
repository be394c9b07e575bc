package user

import (
	"slices"
	"strings"
)

// PermissionSet is a sorted, de-duplicated list of permission names.
type PermissionSet []string

func NewPermissionSet(perms ...string) PermissionSet {
	out := make(PermissionSet, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (p PermissionSet) Has(perm string) bool {
	_, found := slices.BinarySearch(p, perm)
	return found
}
