package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ia-france-revolution/ademe-dashboard/internal/models"
)

// Canonical field names used by the alias table.
const (
	FieldReference           = "reference"
	FieldPurpose             = "purpose"
	FieldBeneficiaryName     = "beneficiary_name"
	FieldBeneficiaryID       = "beneficiary_id"
	FieldScheme              = "scheme"
	FieldAmount              = "amount"
	FieldConventionDate      = "convention_date"
	FieldAidNature           = "aid_nature"
	FieldPaymentConditions   = "payment_conditions"
	FieldDisbursementPeriods = "disbursement_periods"
	FieldEUNotification      = "eu_notification"
)

// Normalizer maps raw CSV rows to canonical GrantRecords using a
// declarative alias table: per canonical field, an ordered list of
// source column names is consulted and the first non-empty value wins.
type Normalizer struct {
	aliases map[string][]string
}

func NewNormalizer(aliases []FieldAliases) *Normalizer {
	m := make(map[string][]string, len(aliases))
	for _, a := range aliases {
		m[a.Field] = a.Keys
	}
	return &Normalizer{aliases: m}
}

// resolve returns the first non-empty value for a canonical field,
// trying each alias key exactly and then case-insensitively.
func (n *Normalizer) resolve(row RawRow, field string) string {
	keys := n.aliases[field]
	for _, k := range keys {
		if v := normalizeSpace(row[k]); v != "" {
			return v
		}
	}
	// Header casing varies between export revisions. Columns are
	// consulted in sorted order so the winner among several
	// case-variants of the same alias is deterministic.
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, k := range keys {
		for _, col := range cols {
			if strings.EqualFold(col, k) {
				if v := normalizeSpace(row[col]); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// Normalize converts raw rows into retained GrantRecords, preserving
// input order. Rows failing the retention rules are silently dropped:
// that is expected data cleaning, not an error.
func (n *Normalizer) Normalize(rows []RawRow) []models.GrantRecord {
	out := make([]models.GrantRecord, 0, len(rows))
	for i, row := range rows {
		rec, ok := n.normalizeRow(row, i)
		if ok {
			out = append(out, rec)
		}
	}
	return out
}

// normalizeRow maps one raw row. Any panic during coercion demotes the
// row to a rejection, so a single pathological row never takes down the
// whole import.
func (n *Normalizer) normalizeRow(row RawRow, index int) (rec models.GrantRecord, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	rec = models.GrantRecord{
		Purpose:             defaultTo(n.resolve(row, FieldPurpose), models.Unspecified),
		BeneficiaryName:     defaultTo(n.resolve(row, FieldBeneficiaryName), models.Unspecified),
		BeneficiaryID:       defaultTo(n.resolve(row, FieldBeneficiaryID), models.NotAvailable),
		Scheme:              defaultTo(n.resolve(row, FieldScheme), models.Unspecified),
		ConventionDateRaw:   defaultTo(n.resolve(row, FieldConventionDate), models.NotAvailable),
		AidNature:           defaultTo(n.resolve(row, FieldAidNature), models.Unspecified),
		PaymentConditions:   defaultTo(n.resolve(row, FieldPaymentConditions), models.Unspecified),
		DisbursementPeriods: defaultTo(n.resolve(row, FieldDisbursementPeriods), models.NotAvailable),
		EUNotification:      defaultTo(n.resolve(row, FieldEUNotification), models.NotAvailable),
	}

	// Stable identifier: decision reference, then beneficiary id, then a
	// synthetic index-based fallback.
	switch {
	case n.resolve(row, FieldReference) != "":
		rec.ID = n.resolve(row, FieldReference)
	case rec.BeneficiaryID != models.NotAvailable:
		rec.ID = rec.BeneficiaryID
	default:
		rec.ID = fmt.Sprintf("ademe_%d", index)
	}

	amount, amountOK := parseAmount(n.resolve(row, FieldAmount))
	year, yearOK := parseYear(rec.ConventionDateRaw)

	// Retention rules: a record without a usable amount, year,
	// beneficiary or purpose is dropped, not hidden.
	if !amountOK || amount < 0 || !yearOK {
		return rec, false
	}
	if rec.BeneficiaryName == models.Unspecified || rec.Purpose == models.Unspecified {
		return rec, false
	}

	rec.Amount = amount
	rec.Year = year
	return rec, true
}

func defaultTo(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
