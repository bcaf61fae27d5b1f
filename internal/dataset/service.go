// Package dataset owns the loaded ADEME grant data and the single
// mutable filter state derived from it. All reads go through an
// immutable View snapshot; mutation happens only by swapping snapshots
// under the service mutex.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ia-france-revolution/ademe-dashboard/internal/cache"
	"github.com/ia-france-revolution/ademe-dashboard/internal/ingest"
	"github.com/ia-france-revolution/ademe-dashboard/internal/models"
)

var (
	// ErrLoadInFlight is returned when a load is requested while another
	// load is already running. Callers should retry later, not queue.
	ErrLoadInFlight = errors.New("dataset load already in progress")

	// ErrNoData indicates the dataset has not been loaded yet.
	ErrNoData = errors.New("dataset not loaded")

	// ErrEmptySource indicates the fetched CSV contained no data rows.
	ErrEmptySource = errors.New("dataset source is empty")

	// ErrAllRowsRejected indicates every row failed the retention rules,
	// which almost always means the export format changed.
	ErrAllRowsRejected = errors.New("all dataset rows were rejected")
)

// View is an immutable snapshot of the filtered dataset with its
// derived figures. Filtering and aggregation always happen together so
// a snapshot is never internally inconsistent.
type View struct {
	Records    []models.GrantRecord
	Stats      ingest.Statistics
	Aggregates ingest.Aggregates
}

// RefreshJob tracks one background refresh, mirroring the async job
// pattern of long-running imports: fire, poll by id.
type RefreshJob struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RecordCount int        `json:"record_count,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Service loads, caches and filters the grant dataset.
type Service struct {
	cfg        *ingest.Config
	fetcher    ingest.Fetcher
	normalizer *ingest.Normalizer
	store      *cache.Store

	mu         sync.Mutex
	loading    bool
	records    []models.GrantRecord
	criteria   models.FilterCriteria
	generation uint64
	view       View
	loadedAt   time.Time
	fromCache  bool
	warning    string
	jobs       map[string]*RefreshJob
	lastJobID  string
}

// NewService wires a dataset service. store may be nil, in which case
// caching is disabled and every load hits the network.
func NewService(cfg *ingest.Config, fetcher ingest.Fetcher, store *cache.Store) *Service {
	return &Service{
		cfg:        cfg,
		fetcher:    fetcher,
		normalizer: ingest.NewNormalizer(cfg.Aliases),
		store:      store,
		jobs:       make(map[string]*RefreshJob),
	}
}

// acquireLoad claims the single in-flight slot. Exactly one fetch of
// the dataset URL may hold it at a time, whether a foreground Load or
// a background refresh.
func (s *Service) acquireLoad() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		return false
	}
	s.loading = true
	return true
}

func (s *Service) releaseLoad() {
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
}

// Load populates the dataset, preferring a fresh cached payload over
// the network. A stale cached payload is installed immediately and a
// background refresh is started, so the caller never waits on the
// network when any usable data exists. bypassCache forces a fetch.
//
// Only one fetch is in flight at a time; while a load or a background
// refresh is running, concurrent calls fail fast with ErrLoadInFlight.
func (s *Service) Load(ctx context.Context, bypassCache bool) error {
	if !s.acquireLoad() {
		return ErrLoadInFlight
	}
	handoff := false
	defer func() {
		if !handoff {
			s.releaseLoad()
		}
	}()

	ds := s.cfg.Dataset

	if !bypassCache && s.store != nil {
		if entry := s.store.Get(ctx, ds.CacheKey); entry != nil {
			if entry.FreshWithin(ds.CacheTTL()) {
				log.Printf("[dataset] using cached payload (age %s)", time.Since(entry.Timestamp).Round(time.Second))
				return s.install(entry.Payload, true, "")
			}
			// Stale but usable: serve it now, refresh behind the scenes.
			log.Printf("[dataset] cached payload is stale, refreshing in background")
			if err := s.install(entry.Payload, true, "données en cache, actualisation en cours"); err == nil {
				// The in-flight slot passes to the refresh goroutine.
				handoff = true
				s.startBackgroundRefresh()
				return nil
			}
		}
	}

	payload, err := s.fetchPayload(ctx)
	if err != nil {
		// Network down: fall back to any cached payload.
		if s.store != nil {
			if entry := s.store.Get(ctx, ds.CacheKey); entry != nil {
				log.Printf("[dataset] fetch failed, falling back to cache: %v", err)
				return s.install(entry.Payload, true, "données potentiellement obsolètes (serveur inaccessible)")
			}
		}
		return fmt.Errorf("failed to load dataset: %w", err)
	}

	if err := s.install(payload, false, ""); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.Set(ctx, ds.CacheKey, payload); err != nil {
			log.Printf("[dataset] cache write skipped: %v", err)
		}
	}
	return nil
}

func (s *Service) fetchPayload(ctx context.Context) (string, error) {
	doc, err := s.fetcher.Fetch(ctx, s.cfg.Dataset.URL)
	if err != nil {
		return "", err
	}
	defer doc.Body.Close()

	if !ingest.IsCSVContentType(doc.ContentType) {
		log.Printf("[dataset] unexpected content type %q, parsing anyway", doc.ContentType)
	}

	body, err := io.ReadAll(doc.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	return string(body), nil
}

// install parses and normalizes a CSV payload and, on success, swaps it
// in as the current dataset. It distinguishes an empty source from a
// source where every row was rejected: the two need different fixes.
func (s *Service) install(payload string, fromCache bool, warning string) error {
	result, err := ingest.ParseCSV(strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to parse dataset: %w", err)
	}
	if rowErr := result.FirstError(); rowErr != nil {
		log.Printf("[dataset] %d malformed rows skipped, first: %v", len(result.RowErrors), rowErr)
	}
	if len(result.Rows) == 0 {
		return ErrEmptySource
	}

	records := s.normalizer.Normalize(result.Rows)
	if len(records) == 0 {
		return ErrAllRowsRejected
	}
	dropped := len(result.Rows) - len(records)
	if dropped > 0 {
		log.Printf("[dataset] retained %d/%d rows (%d dropped by retention rules)", len(records), len(result.Rows), dropped)
	}

	s.mu.Lock()
	s.records = records
	s.loadedAt = time.Now()
	s.fromCache = fromCache
	s.warning = warning
	s.generation++
	gen := s.generation
	criteria := s.criteria
	s.mu.Unlock()

	s.recompute(gen, records, criteria)
	return nil
}

// SetCriteria replaces the filter state and recomputes the view. When
// calls race, the last writer wins: a recompute for superseded criteria
// finishes but its result is discarded.
func (s *Service) SetCriteria(criteria models.FilterCriteria) {
	s.mu.Lock()
	s.criteria = criteria
	s.generation++
	gen := s.generation
	records := s.records
	s.mu.Unlock()

	s.recompute(gen, records, criteria)
}

// ResetCriteria clears every filter.
func (s *Service) ResetCriteria() {
	s.SetCriteria(models.FilterCriteria{})
}

// recompute derives the view for one generation of (records, criteria)
// and installs it only if no newer generation arrived meanwhile.
func (s *Service) recompute(gen uint64, records []models.GrantRecord, criteria models.FilterCriteria) {
	filtered := ingest.ApplyFilters(records, criteria)
	view := View{
		Records:    filtered,
		Stats:      ingest.ComputeStatistics(filtered),
		Aggregates: ingest.ComputeAggregates(filtered),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.view = view
}

// startBackgroundRefresh fetches a new payload without blocking the
// caller. The caller must hold the in-flight slot; the goroutine
// releases it when the refresh finishes. The job is tracked by id so
// clients can poll its outcome.
func (s *Service) startBackgroundRefresh() *RefreshJob {
	job := &RefreshJob{
		ID:        uuid.New().String(),
		Status:    "running",
		StartedAt: time.Now(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.lastJobID = job.ID
	s.mu.Unlock()

	go func() {
		defer s.releaseLoad()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		err := s.refresh(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		now := time.Now()
		job.CompletedAt = &now
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			log.Printf("[dataset] background refresh %s failed: %v", job.ID, err)
			return
		}
		job.Status = "completed"
		job.RecordCount = len(s.records)
		log.Printf("[dataset] background refresh %s completed, %d records", job.ID, job.RecordCount)
	}()

	return job
}

func (s *Service) refresh(ctx context.Context) error {
	payload, err := s.fetchPayload(ctx)
	if err != nil {
		return err
	}
	if err := s.install(payload, false, ""); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.Set(ctx, s.cfg.Dataset.CacheKey, payload); err != nil {
			log.Printf("[dataset] cache write skipped: %v", err)
		}
	}
	return nil
}

// Job returns the refresh job with the given id, if known.
func (s *Service) Job(id string) (*RefreshJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	copied := *job
	return &copied, true
}

// View returns the current filtered snapshot.
func (s *Service) View() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		return View{}, ErrNoData
	}
	return s.view, nil
}

// All returns every retained record regardless of the active filters.
func (s *Service) All() ([]models.GrantRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		return nil, ErrNoData
	}
	return s.records, nil
}

// Find returns the first retained record whose id matches. Synthetic
// fallback ids can collide with beneficiary ids, so first match wins.
func (s *Service) Find(id string) (models.GrantRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return models.GrantRecord{}, false
}

// Criteria returns the active filter state.
func (s *Service) Criteria() models.FilterCriteria {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.criteria
}

// Status describes the provenance of the loaded dataset.
type Status struct {
	Loaded       bool      `json:"loaded"`
	Loading      bool      `json:"loading"`
	RecordCount  int       `json:"record_count"`
	LoadedAt     time.Time `json:"loaded_at,omitempty"`
	FromCache    bool      `json:"from_cache"`
	Warning      string    `json:"warning,omitempty"`
	Dataset      string    `json:"dataset"`
	RefreshJobID string    `json:"refresh_job_id,omitempty"`
}

// Status reports whether data is loaded, where it came from and any
// staleness warning to surface to users.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Loaded:       s.records != nil,
		Loading:      s.loading,
		RecordCount:  len(s.records),
		LoadedAt:     s.loadedAt,
		FromCache:    s.fromCache,
		Warning:      s.warning,
		Dataset:      s.cfg.Dataset.Name,
		RefreshJobID: s.lastJobID,
	}
}
