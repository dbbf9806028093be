package mysql

import "strings"

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// pageBounds applies the default page size of 20 and caps it at 100
func pageBounds(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

// maxNameLength matches the VARCHAR(255) name columns
const maxNameLength = 255

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// nameKey is the stored form of a lookup key. The key columns use utf8mb4_bin,
// which still ignores trailing spaces, so those are trimmed after clipping.
func nameKey(s string) string {
	return strings.TrimRight(clip(s, maxNameLength), " ")
}
