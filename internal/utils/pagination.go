// Package utils provides small query-parameter helpers shared by the HTTP
// handlers. They carry no workflow logic.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s (surrounding spaces ignored) as an int, returning def
// when s is blank or not a valid integer.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("", 10)  // 10
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampInt bounds n to [lo, hi].
func ClampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// IntQuery parses a query value with a default and bounds it to [lo, hi].
// Page numbers have no upper bound; pass hi <= 0 for that.
func IntQuery(raw string, def, lo, hi int) int {
	n := AtoiDefault(raw, def)
	if hi <= 0 {
		if n < lo {
			return lo
		}
		return n
	}
	return ClampInt(n, lo, hi)
}
