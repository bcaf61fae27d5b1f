package ingest

import (
	"strconv"
	"strings"

	"github.com/ia-france-revolution/ademe-dashboard/internal/models"
)

// exportColumns are the source column names the download reproduces, in
// the order the original export publishes them.
var exportColumns = []string{
	"referenceDecision", "objet", "nomBeneficiaire", "montant",
	"dateConvention", "dispositifAide", "natureAide",
	"conditionsVersement", "datesPeriodeVersement", "notificationUE",
	"idBeneficiaire",
}

// ExportCSV re-serializes a record set the way the dashboard's download
// button does: every field quoted, embedded quotes doubled, rows joined
// with \n.
func ExportCSV(records []models.GrantRecord) string {
	var b strings.Builder
	writeRow(&b, exportColumns)
	for _, rec := range records {
		b.WriteByte('\n')
		writeRow(&b, []string{
			rec.ID,
			rec.Purpose,
			rec.BeneficiaryName,
			strconv.FormatFloat(rec.Amount, 'f', -1, 64),
			rec.ConventionDateRaw,
			rec.Scheme,
			rec.AidNature,
			rec.PaymentConditions,
			rec.DisbursementPeriods,
			rec.EUNotification,
			rec.BeneficiaryID,
		})
	}
	return b.String()
}

func writeRow(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
}
