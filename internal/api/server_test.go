package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ia-france-revolution/ademe-dashboard/internal/cache"
	"github.com/ia-france-revolution/ademe-dashboard/internal/dataset"
	"github.com/ia-france-revolution/ademe-dashboard/internal/ingest"
)

const datasetURL = "https://example.org/ademe.csv"

const sampleCSV = "referenceDecision,objet,nomBeneficiaire,idBeneficiaire,dispositifAide,montant,dateConvention\n" +
	"DEC-1,Rénovation énergétique,Commune de Lyon,217,Fonds Chaleur,1000,2020-06-01\n" +
	"DEC-2,Aide vélo électrique,Jean Dupont,N/A,Bonus Vélo,2000,2021-03-15\n" +
	"DEC-3,Isolation thermique,SCI Les Pins,842,Fonds Chaleur,3000,2021-09-30\n"

type mockFetcher struct {
	data map[string][]byte
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) (*ingest.FetchedDocument, error) {
	content, ok := m.data[url]
	if !ok {
		return nil, fmt.Errorf("mock 404: %s", url)
	}
	return &ingest.FetchedDocument{
		URL:         url,
		StatusCode:  200,
		ContentType: "text/csv",
		Body:        io.NopCloser(bytes.NewReader(content)),
		Headers:     make(http.Header),
		FetchedAt:   time.Now(),
	}, nil
}

func newTestServer(t *testing.T, load bool) *Server {
	t.Helper()
	cfg, err := ingest.LoadConfig("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg.Dataset.URL = datasetURL

	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), cfg.Dataset.SchemaVersion)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	fetcher := &mockFetcher{data: map[string][]byte{datasetURL: []byte(sampleCSV)}}
	ds := dataset.NewService(cfg, fetcher, store)
	if load {
		if err := ds.Load(context.Background(), false); err != nil {
			t.Fatalf("failed to load dataset: %v", err)
		}
	}
	return NewServer(ds, store)
}

func doRequest(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, true)
	rec := doRequest(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestListGrants(t *testing.T) {
	srv := newTestServer(t, true)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/grants", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp grantListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Total != 3 {
		t.Errorf("expected total 3, got %d", resp.Total)
	}
	if resp.TotalAmount != 6000 {
		t.Errorf("expected total amount 6000, got %v", resp.TotalAmount)
	}
	if len(resp.Grants) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(resp.Grants))
	}
	// Default ordering is amount descending.
	if resp.Grants[0].ID != "DEC-3" || resp.Grants[2].ID != "DEC-1" {
		t.Errorf("unexpected order: %s .. %s", resp.Grants[0].ID, resp.Grants[2].ID)
	}
	if !strings.Contains(resp.Grants[0].AmountDisplay, "€") {
		t.Errorf("expected formatted amount, got %q", resp.Grants[0].AmountDisplay)
	}
	if resp.Grants[0].DateDisplay != "30 sept. 2021" {
		t.Errorf("expected French date, got %q", resp.Grants[0].DateDisplay)
	}
}

func TestListGrantsFiltering(t *testing.T) {
	srv := newTestServer(t, true)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/grants?year=2021&min_amount=2500", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp grantListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Grants[0].ID != "DEC-3" {
		t.Errorf("expected only DEC-3, got %+v", resp.Grants)
	}
}

func TestListGrantsPreservesCriteriaWithoutParams(t *testing.T) {
	srv := newTestServer(t, true)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/grants?year=2021", "")
	var resp grantListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 {
		t.Fatalf("expected 2 grants for 2021, got %d", resp.Total)
	}

	// A bare request must reflect the shared criteria, not reset it,
	// matching how stats and aggregations behave.
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/grants", "")
	resp = grantListResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 {
		t.Errorf("bare request reset the shared criteria, got total %d", resp.Total)
	}
}

func TestListGrantsPagination(t *testing.T) {
	srv := newTestServer(t, true)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/grants?limit=2&offset=2", "")
	var resp grantListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 {
		t.Errorf("total should ignore pagination, got %d", resp.Total)
	}
	if len(resp.Grants) != 1 {
		t.Errorf("expected 1 row on last page, got %d", len(resp.Grants))
	}
	if resp.Grants[0].ID != "DEC-1" {
		t.Errorf("expected DEC-1 on last page, got %s", resp.Grants[0].ID)
	}
}

func TestGetGrant(t *testing.T) {
	srv := newTestServer(t, true)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/grants/DEC-2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var row grantRow
	if err := json.Unmarshal(rec.Body.Bytes(), &row); err != nil {
		t.Fatal(err)
	}
	if row.BeneficiaryName != "Jean Dupont" {
		t.Errorf("unexpected record: %+v", row.GrantRecord)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/grants/unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestStatsAndAggregations(t *testing.T) {
	srv := newTestServer(t, true)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats ingest.Statistics
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Count != 3 || stats.MedianAmount != 2000 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/aggregations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var aggs ingest.Aggregates
	if err := json.Unmarshal(rec.Body.Bytes(), &aggs); err != nil {
		t.Fatal(err)
	}
	if len(aggs.AmountBuckets) != 8 {
		t.Errorf("expected 8 amount buckets, got %d", len(aggs.AmountBuckets))
	}
	if len(aggs.Timeline) != 2 {
		t.Errorf("expected 2 timeline points, got %d", len(aggs.Timeline))
	}
}

func TestStatsHonorFilterParams(t *testing.T) {
	srv := newTestServer(t, true)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/stats?year=2021", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats ingest.Statistics
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Count != 2 || stats.TotalAmount != 5000 {
		t.Errorf("expected filtered stats for 2021, got %+v", stats)
	}
}

func TestFilters(t *testing.T) {
	srv := newTestServer(t, true)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/filters", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Years   []int    `json:"years"`
		Schemes []string `json:"schemes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Years) != 2 || resp.Years[0] != 2021 {
		t.Errorf("expected years newest first, got %v", resp.Years)
	}
	if len(resp.Schemes) != 2 || resp.Schemes[0] != "Bonus Vélo" {
		t.Errorf("expected schemes sorted ascending, got %v", resp.Schemes)
	}
}

func TestExportCSVEndpoint(t *testing.T) {
	srv := newTestServer(t, true)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/export.csv", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/csv") {
		t.Errorf("expected CSV content type, got %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "aides_ademe_") {
		t.Errorf("expected dated filename, got %q", cd)
	}
	if !strings.Contains(rec.Body.String(), `"referenceDecision"`) {
		t.Errorf("expected CSV header in body")
	}
}

func TestUnloadedDatasetReturns503(t *testing.T) {
	srv := newTestServer(t, false)
	for _, target := range []string{"/api/v1/grants", "/api/v1/stats", "/api/v1/aggregations", "/api/v1/filters", "/api/v1/export.csv"} {
		rec := doRequest(t, srv, http.MethodGet, target, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", target, rec.Code)
		}
	}
}

func TestRefresh(t *testing.T) {
	srv := newTestServer(t, true)
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var status dataset.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if !status.Loaded || status.FromCache {
		t.Errorf("refresh should bypass the cache: %+v", status)
	}
}

func TestPreferencesRoundtrip(t *testing.T) {
	srv := newTestServer(t, true)

	rec := doRequest(t, srv, http.MethodPut, "/api/v1/preferences",
		`{"panel_collapsed":true,"interaction_patterns":{"clicks":4}}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/preferences", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp preferencesPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.PanelCollapsed == nil || !*resp.PanelCollapsed {
		t.Errorf("expected panel_collapsed true, got %+v", resp.PanelCollapsed)
	}
	if !strings.Contains(string(resp.InteractionPatterns), `"clicks"`) {
		t.Errorf("expected interaction patterns preserved, got %s", resp.InteractionPatterns)
	}
}

func TestPreferencesRejectsInvalidJSON(t *testing.T) {
	srv := newTestServer(t, true)
	rec := doRequest(t, srv, http.MethodPut, "/api/v1/preferences", `{"interaction_patterns":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestJobNotFound(t *testing.T) {
	srv := newTestServer(t, true)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/jobs/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
