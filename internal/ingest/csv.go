package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseCSV reads a comma-delimited document with a header row into raw
// row maps. Quoting is lenient and rows may carry a varying number of
// fields; a row that still fails to parse is recorded in RowErrors and
// skipped rather than aborting the whole document.
func ParseCSV(r io.Reader) (*ParseResult, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return &ParseResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) > 0 {
		header[0] = stripBOM(header[0])
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	result := &ParseResult{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.RowErrors = append(result.RowErrors, err)
				continue
			}
			// Not a row-level error; the reader cannot make progress.
			return result, fmt.Errorf("CSV read failed: %w", err)
		}

		if isEmptyRecord(record) {
			continue
		}

		row := make(RawRow, len(header))
		for i, col := range header {
			if col == "" {
				continue
			}
			if i < len(record) {
				row[col] = record[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}

	return result, nil
}

func stripBOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}

func isEmptyRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
