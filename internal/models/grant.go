package models

import "math"

// Sentinel values carried over from the source CSV conventions. The
// ADEME export is French; missing descriptive fields are published as
// "Non spécifié" and missing identifiers/dates as "N/A".
const (
	Unspecified  = "Non spécifié"
	NotAvailable = "N/A"
)

// GrantRecord is the canonical representation of one ADEME subsidy row.
// Records are immutable once constructed: filtering produces new slices
// and never mutates. The retention rules in the normalizer guarantee
// Amount and Year are always present on a retained record, so they are
// concrete values rather than optionals.
type GrantRecord struct {
	ID                  string  `json:"id"`
	Purpose             string  `json:"purpose"`
	BeneficiaryName     string  `json:"beneficiary_name"`
	BeneficiaryID       string  `json:"beneficiary_id"`
	Scheme              string  `json:"scheme"`
	Amount              float64 `json:"amount"`
	ConventionDateRaw   string  `json:"convention_date_raw"`
	Year                int     `json:"year"`
	AidNature           string  `json:"aid_nature"`
	PaymentConditions   string  `json:"payment_conditions"`
	DisbursementPeriods string  `json:"disbursement_periods"`
	EUNotification      string  `json:"eu_notification"`
}

// BeneficiaryKey identifies the receiving entity for distinct counts,
// preferring the beneficiary id and falling back to the name when the
// id is absent.
func (r GrantRecord) BeneficiaryKey() string {
	if r.BeneficiaryID != "" && r.BeneficiaryID != NotAvailable {
		return r.BeneficiaryID
	}
	return r.BeneficiaryName
}

// FilterCriteria is the single mutable filter state of the dashboard.
// Zero values mean "unset": an empty SearchTerm or Scheme and a nil Year
// impose no constraint, and a zero MaxAmount behaves as +Inf so that an
// empty max-amount input never filters everything out.
type FilterCriteria struct {
	SearchTerm string  `json:"search_term"`
	Year       *int    `json:"year"`
	Scheme     string  `json:"scheme"`
	MinAmount  float64 `json:"min_amount"`
	MaxAmount  float64 `json:"max_amount"`
}

// EffectiveMax returns the upper amount bound, mapping the unset zero
// value to positive infinity.
func (c FilterCriteria) EffectiveMax() float64 {
	if c.MaxAmount <= 0 {
		return math.Inf(1)
	}
	return c.MaxAmount
}

// IsZero reports whether no filter is active.
func (c FilterCriteria) IsZero() bool {
	return c.SearchTerm == "" && c.Year == nil && c.Scheme == "" &&
		c.MinAmount == 0 && c.MaxAmount <= 0
}
