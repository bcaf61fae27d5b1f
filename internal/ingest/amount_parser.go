package ingest

import (
	"math"
	"strconv"
	"strings"
)

// parseAmount converts a raw amount cell into euros. French exports use
// a comma decimal separator, so "1500,50" parses as 1500.5. The second
// return value is false when the cell is empty or not a finite number.
func parseAmount(raw string) (float64, bool) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
