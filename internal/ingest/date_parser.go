package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layouts a dateConvention cell has been observed in. ISO first, then
// timestamped variants, then the French day-first form.
var conventionDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
}

var isoYearRegex = regexp.MustCompile(`^(\d{4})-\d{2}-\d{2}$`)

// parseYear extracts the calendar year from a raw convention date. A
// full date parse is attempted first; when every layout fails, a direct
// extraction of the 4-digit year prefix of an ISO-like YYYY-MM-DD string
// is tried, which tolerates out-of-range month/day tokens.
func parseYear(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "N/A" {
		return 0, false
	}

	for _, layout := range conventionDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Year(), true
		}
	}

	if m := isoYearRegex.FindStringSubmatch(s); len(m) == 2 {
		if year, err := strconv.Atoi(m[1]); err == nil {
			return year, true
		}
	}

	return 0, false
}
