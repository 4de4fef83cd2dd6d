// Package utils provides small helpers shared by the HTTP and service layers.
// They carry no domain knowledge.
package utils

import "strconv"

// Page bounds used by list endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault converts s with strconv.Atoi, returning def when s is empty or
// not an integer.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage bounds a 1-based page and its size: page >= 1 and
// 1 <= size <= MaxPageSize. A size <= 0 falls back to DefaultPageSize.
func ClampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size
}

// ParsePage reads raw query values and clamps them with ClampPage.
// Unparseable values use the defaults; an explicit "0" size becomes 1.
func ParsePage(pageRaw, sizeRaw string) (page, size int) {
	page = AtoiDefault(pageRaw, 1)
	size = AtoiDefault(sizeRaw, DefaultPageSize)
	if size < 1 {
		size = 1
	}
	return ClampPage(page, size)
}

// Offset is the row offset of a clamped page.
func Offset(page, size int) int { return (page - 1) * size }

// TotalPages is ceil(total/size); zero for an empty result.
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
