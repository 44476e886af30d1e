package workflow

import (
	"strings"

	"golang.org/x/text/cases"
)

// DepartmentKey folds a department name for comparison. Role-derived names
// and route-stored names are often cased differently (and may be Cyrillic),
// so all department matching goes through full Unicode case folding.
func DepartmentKey(name string) string {
	// A Caser is stateful; build one per call.
	return cases.Fold().String(strings.TrimSpace(name))
}

// SameDepartment reports whether a and b name the same department.
// Empty names never match.
func SameDepartment(a, b string) bool {
	ka, kb := DepartmentKey(a), DepartmentKey(b)
	return ka != "" && ka == kb
}
