package ingest

import (
	"context"
	"io"
	"time"
)

// RawRow is one CSV data row keyed by header name, untrusted and
// unnormalized.
type RawRow map[string]string

// ParseResult carries the rows a CSV parse produced plus any row-level
// errors encountered along the way. Partial results are expected: a
// malformed row does not abort the parse.
type ParseResult struct {
	Rows      []RawRow
	RowErrors []error
}

// FirstError returns the first row-level parse error, or nil.
func (r *ParseResult) FirstError() error {
	if len(r.RowErrors) == 0 {
		return nil
	}
	return r.RowErrors[0]
}

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}
