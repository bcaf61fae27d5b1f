// preview fetches the ADEME dataset, applies optional filters and
// prints the top rows as a terminal table. Useful for eyeballing the
// data without starting the server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"

	"github.com/ia-france-revolution/ademe-dashboard/internal/format"
	"github.com/ia-france-revolution/ademe-dashboard/internal/ingest"
	"github.com/ia-france-revolution/ademe-dashboard/internal/models"
)

func main() {
	_ = godotenv.Load()

	var (
		search     = flag.String("q", "", "substring search across purpose, beneficiary, scheme and ids")
		year       = flag.Int("year", 0, "filter by convention year")
		scheme     = flag.String("scheme", "", "filter by exact aid scheme")
		minAmount  = flag.Float64("min", 0, "minimum amount in euros (inclusive)")
		maxAmount  = flag.Float64("max", 0, "maximum amount in euros (inclusive, 0 = unbounded)")
		limit      = flag.Int("limit", 20, "number of rows to print")
		exportPath = flag.String("export", "", "write the filtered set as CSV to this file")
	)
	flag.Parse()

	cfg, err := ingest.LoadConfig(os.Getenv("DATASET_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load dataset config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fetcher := ingest.NewHTTPFetcher(cfg.Dataset.Fetch)
	doc, err := fetcher.Fetch(ctx, cfg.Dataset.URL)
	if err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}
	defer doc.Body.Close()

	result, err := ingest.ParseCSV(doc.Body)
	if err != nil {
		log.Fatalf("Parse failed: %v", err)
	}
	if rowErr := result.FirstError(); rowErr != nil {
		log.Printf("%d malformed rows skipped, first: %v", len(result.RowErrors), rowErr)
	}

	records := ingest.NewNormalizer(cfg.Aliases).Normalize(result.Rows)

	criteria := models.FilterCriteria{
		SearchTerm: *search,
		Scheme:     *scheme,
		MinAmount:  *minAmount,
		MaxAmount:  *maxAmount,
	}
	if *year > 0 {
		criteria.Year = year
	}
	filtered := ingest.ApplyFilters(records, criteria)
	stats := ingest.ComputeStatistics(filtered)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Beneficiary", "Purpose", "Scheme", "Amount", "Date"})

	shown := 0
	for _, rec := range filtered {
		if shown >= *limit {
			break
		}
		t.AppendRow(table.Row{
			rec.ID,
			ingest.TruncateText(rec.BeneficiaryName, 30),
			ingest.TruncateText(rec.Purpose, 45),
			ingest.TruncateText(rec.Scheme, 25),
			format.EUR(rec.Amount),
			format.Date(rec.ConventionDateRaw),
		})
		shown++
	}
	t.Render()

	log.Printf("%s grants match (of %s retained), total %s, median %s",
		format.Number(stats.Count), format.Number(len(records)),
		format.EUR(stats.TotalAmount), format.EUR(stats.MedianAmount))

	if *exportPath != "" {
		if err := os.WriteFile(*exportPath, []byte(ingest.ExportCSV(filtered)), 0o644); err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		log.Printf("Exported %d rows to %s", len(filtered), *exportPath)
	}
}
