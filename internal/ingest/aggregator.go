package ingest

import (
	"sort"

	"github.com/ia-france-revolution/ademe-dashboard/internal/models"
)

// Display buckets for values the source left unfilled.
const (
	bucketOther       = "Autre/Non spécifié"
	bucketNotNotified = "Non renseigné"
	topEntryLimit     = 10
)

// Statistics are the scalar figures shown on the dashboard metric cards.
type Statistics struct {
	Count                 int       `json:"count"`
	TotalAmount           float64   `json:"total_amount"`
	AverageAmount         float64   `json:"average_amount"`
	MedianAmount          float64   `json:"median_amount"`
	DistinctBeneficiaries int       `json:"distinct_beneficiaries"`
	MinAmount             float64   `json:"min_amount"`
	MaxAmount             float64   `json:"max_amount"`
	YearRange             YearRange `json:"year_range"`
}

// YearRange describes the span of convention years in a record set. All
// fields are zero when the set is empty.
type YearRange struct {
	Min           int `json:"min"`
	Max           int `json:"max"`
	DistinctCount int `json:"distinct_count"`
}

// BucketCount is one bar of the amount-distribution histogram.
type BucketCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// YearAggregate is one point of the timeline chart.
type YearAggregate struct {
	Year        int     `json:"year"`
	Count       int     `json:"count"`
	TotalAmount float64 `json:"total_amount"`
}

// FacetCount is a single value/frequency pair in a grouped aggregate.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// BeneficiaryTotal ranks one beneficiary by the sum of amounts received.
type BeneficiaryTotal struct {
	Name        string  `json:"name"`
	Count       int     `json:"count"`
	TotalAmount float64 `json:"total_amount"`
}

// Aggregates are the grouped figures feeding the dashboard charts.
type Aggregates struct {
	AmountBuckets     []BucketCount      `json:"amount_buckets"`
	Timeline          []YearAggregate    `json:"timeline"`
	TopSchemes        []FacetCount       `json:"top_schemes"`
	TopBeneficiaries  []BeneficiaryTotal `json:"top_beneficiaries"`
	PaymentConditions []FacetCount       `json:"payment_conditions"`
	EUNotifications   []FacetCount       `json:"eu_notifications"`
}

// Histogram boundaries in euros. A record lands in bucket i when
// bounds[i] <= amount < bounds[i+1].
var amountBucketBounds = []float64{0, 1_000, 5_000, 10_000, 25_000, 50_000, 100_000, 500_000}
var amountBucketLabels = []string{"<1k €", "1-5k €", "5-10k €", "10-25k €", "25-50k €", "50-100k €", "100-500k €", ">500k €"}

// ComputeStatistics derives the scalar statistics for a record set. An
// empty input yields zeroed values, never an error.
func ComputeStatistics(records []models.GrantRecord) Statistics {
	stats := Statistics{Count: len(records)}
	if len(records) == 0 {
		return stats
	}

	amounts := make([]float64, len(records))
	beneficiaries := make(map[string]struct{})
	years := make(map[int]struct{})
	stats.MinAmount = records[0].Amount
	stats.MaxAmount = records[0].Amount
	for i, rec := range records {
		amounts[i] = rec.Amount
		stats.TotalAmount += rec.Amount
		if rec.Amount < stats.MinAmount {
			stats.MinAmount = rec.Amount
		}
		if rec.Amount > stats.MaxAmount {
			stats.MaxAmount = rec.Amount
		}
		beneficiaries[rec.BeneficiaryKey()] = struct{}{}
		years[rec.Year] = struct{}{}
	}

	stats.AverageAmount = stats.TotalAmount / float64(len(records))
	stats.MedianAmount = median(amounts)
	stats.DistinctBeneficiaries = len(beneficiaries)

	first := true
	for y := range years {
		if first || y < stats.YearRange.Min {
			stats.YearRange.Min = y
		}
		if first || y > stats.YearRange.Max {
			stats.YearRange.Max = y
		}
		first = false
	}
	stats.YearRange.DistinctCount = len(years)

	return stats
}

// median sorts a copy of the amounts ascending and returns the middle
// value, averaging the two middle values for even-sized input.
func median(amounts []float64) float64 {
	if len(amounts) == 0 {
		return 0
	}
	sorted := make([]float64, len(amounts))
	copy(sorted, amounts)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// ComputeAggregates derives every grouped figure the charts consume.
// Output ordering is fully deterministic: numeric groups sort by their
// key, frequency groups sort by count descending with first-encounter
// order breaking ties.
func ComputeAggregates(records []models.GrantRecord) Aggregates {
	return Aggregates{
		AmountBuckets:     bucketAmounts(records),
		Timeline:          timelineByYear(records),
		TopSchemes:        topFacets(records, schemeLabel, topEntryLimit),
		TopBeneficiaries:  topBeneficiaries(records),
		PaymentConditions: topFacets(records, paymentConditionLabel, 0),
		EUNotifications:   topFacets(records, euNotificationLabel, 0),
	}
}

func bucketAmounts(records []models.GrantRecord) []BucketCount {
	buckets := make([]BucketCount, len(amountBucketLabels))
	for i, label := range amountBucketLabels {
		buckets[i].Label = label
	}
	for _, rec := range records {
		idx := len(amountBucketBounds) - 1
		for i := 0; i < len(amountBucketBounds)-1; i++ {
			if rec.Amount >= amountBucketBounds[i] && rec.Amount < amountBucketBounds[i+1] {
				idx = i
				break
			}
		}
		buckets[idx].Count++
	}
	return buckets
}

func timelineByYear(records []models.GrantRecord) []YearAggregate {
	byYear := make(map[int]*YearAggregate)
	for _, rec := range records {
		agg, ok := byYear[rec.Year]
		if !ok {
			agg = &YearAggregate{Year: rec.Year}
			byYear[rec.Year] = agg
		}
		agg.Count++
		agg.TotalAmount += rec.Amount
	}

	out := make([]YearAggregate, 0, len(byYear))
	for _, agg := range byYear {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

func schemeLabel(rec models.GrantRecord) string {
	if rec.Scheme == models.Unspecified {
		return bucketOther
	}
	return rec.Scheme
}

func paymentConditionLabel(rec models.GrantRecord) string {
	if rec.PaymentConditions == models.Unspecified {
		return bucketOther
	}
	return rec.PaymentConditions
}

func euNotificationLabel(rec models.GrantRecord) string {
	if rec.EUNotification == models.NotAvailable {
		return bucketNotNotified
	}
	return rec.EUNotification
}

// topFacets counts records per label and returns them ordered by count
// descending, ties broken by first encounter. A limit of 0 keeps all.
func topFacets(records []models.GrantRecord, label func(models.GrantRecord) string, limit int) []FacetCount {
	type counter struct {
		value string
		count int
		first int
	}
	byValue := make(map[string]*counter)
	var order []*counter
	for i, rec := range records {
		v := label(rec)
		c, ok := byValue[v]
		if !ok {
			c = &counter{value: v, first: i}
			byValue[v] = c
			order = append(order, c)
		}
		c.count++
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].first < order[j].first
	})

	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	out := make([]FacetCount, len(order))
	for i, c := range order {
		out[i] = FacetCount{Value: c.value, Count: c.count}
	}
	return out
}

func topBeneficiaries(records []models.GrantRecord) []BeneficiaryTotal {
	type total struct {
		name   string
		count  int
		amount float64
		first  int
	}
	byName := make(map[string]*total)
	var order []*total
	for i, rec := range records {
		name := rec.BeneficiaryName
		if name == models.Unspecified {
			name = bucketOther
		}
		t, ok := byName[name]
		if !ok {
			t = &total{name: name, first: i}
			byName[name] = t
			order = append(order, t)
		}
		t.count++
		t.amount += rec.Amount
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].amount != order[j].amount {
			return order[i].amount > order[j].amount
		}
		return order[i].first < order[j].first
	})

	if len(order) > topEntryLimit {
		order = order[:topEntryLimit]
	}
	out := make([]BeneficiaryTotal, len(order))
	for i, t := range order {
		out[i] = BeneficiaryTotal{Name: t.name, Count: t.count, TotalAmount: t.amount}
	}
	return out
}
