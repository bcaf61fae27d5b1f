package ingest

import (
	"strings"

	"github.com/ia-france-revolution/ademe-dashboard/internal/models"
)

// ApplyFilters returns the records matching every active criterion. It
// is a pure function: the input slice is never mutated and identical
// inputs produce element-wise identical output.
func ApplyFilters(all []models.GrantRecord, criteria models.FilterCriteria) []models.GrantRecord {
	term := strings.ToLower(strings.TrimSpace(criteria.SearchTerm))
	maxAmount := criteria.EffectiveMax()

	out := make([]models.GrantRecord, 0, len(all))
	for _, rec := range all {
		if criteria.Year != nil && rec.Year != *criteria.Year {
			continue
		}
		if criteria.Scheme != "" && rec.Scheme != criteria.Scheme {
			continue
		}
		// Bounds are inclusive on both ends.
		if rec.Amount < criteria.MinAmount || rec.Amount > maxAmount {
			continue
		}
		if term != "" && !matchesSearch(rec, term) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func matchesSearch(rec models.GrantRecord, lowerTerm string) bool {
	return strings.Contains(strings.ToLower(rec.Purpose), lowerTerm) ||
		strings.Contains(strings.ToLower(rec.BeneficiaryName), lowerTerm) ||
		strings.Contains(strings.ToLower(rec.Scheme), lowerTerm) ||
		strings.Contains(strings.ToLower(rec.BeneficiaryID), lowerTerm) ||
		strings.Contains(strings.ToLower(rec.ID), lowerTerm)
}

// DistinctYears lists the years present in the dataset, newest first,
// for the year filter dropdown.
func DistinctYears(records []models.GrantRecord) []int {
	seen := make(map[int]struct{})
	var years []int
	for _, rec := range records {
		if _, ok := seen[rec.Year]; !ok {
			seen[rec.Year] = struct{}{}
			years = append(years, rec.Year)
		}
	}
	sortIntsDesc(years)
	return years
}

// DistinctSchemes lists the aid schemes present in the dataset sorted
// ascending, excluding the unspecified sentinel, for the scheme
// filter dropdown.
func DistinctSchemes(records []models.GrantRecord) []string {
	seen := make(map[string]struct{})
	var schemes []string
	for _, rec := range records {
		s := strings.TrimSpace(rec.Scheme)
		if s == "" || s == models.Unspecified {
			continue
		}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			schemes = append(schemes, s)
		}
	}
	sortStringsAsc(schemes)
	return schemes
}
