package ingest

import (
	"sort"
	"strings"
)

// TruncateText cuts a string to max length, appending ellipsis if truncated.
func TruncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	if maxLen > 3 {
		return text[:maxLen-3] + "..."
	}
	return text[:maxLen]
}

// normalizeSpace collapses multiple spaces into one and trims the string.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sortIntsDesc(values []int) {
	sort.Sort(sort.Reverse(sort.IntSlice(values)))
}

func sortStringsAsc(values []string) {
	sort.Strings(values)
}
