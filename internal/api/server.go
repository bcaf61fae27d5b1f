package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ia-france-revolution/ademe-dashboard/internal/cache"
	"github.com/ia-france-revolution/ademe-dashboard/internal/dataset"
	"github.com/ia-france-revolution/ademe-dashboard/internal/format"
	"github.com/ia-france-revolution/ademe-dashboard/internal/ingest"
	"github.com/ia-france-revolution/ademe-dashboard/internal/models"
)

const (
	prefPanelCollapsed      = "panel_collapsed"
	prefInteractionPatterns = "interaction_patterns"
)

type Server struct {
	Dataset *dataset.Service
	Store   *cache.Store
	Echo    *echo.Echo
}

func NewServer(ds *dataset.Service, store *cache.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// CORS: allow frontend origins from env or default to localhost
	allowedOrigins := []string{"http://localhost:4200", "http://localhost:3000"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	s := &Server{
		Dataset: ds,
		Store:   store,
		Echo:    e,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/grants", s.handleListGrants)
	api.GET("/grants/:id", s.handleGetGrant)
	api.GET("/stats", s.handleGetStats)
	api.GET("/aggregations", s.handleGetAggregations)
	api.GET("/filters", s.handleGetFilters)
	api.GET("/export.csv", s.handleExportCSV)
	api.GET("/status", s.handleGetStatus)
	api.POST("/refresh", s.handleRefresh)
	api.GET("/jobs/:id", s.handleJobStatus)
	api.GET("/preferences", s.handleGetPreferences)
	api.PUT("/preferences", s.handlePutPreferences)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// grantRow is one table row: the canonical record plus the display
// strings the frontend would otherwise have to localize itself.
type grantRow struct {
	models.GrantRecord
	AmountDisplay string `json:"amount_display"`
	DateDisplay   string `json:"date_display"`
	PurposeShort  string `json:"purpose_short"`
}

type grantListResponse struct {
	Grants      []grantRow `json:"grants"`
	Total       int        `json:"total"`
	Limit       int        `json:"limit"`
	Offset      int        `json:"offset"`
	TotalAmount float64    `json:"total_amount"`
}

// criteriaFromQuery maps the filter query parameters onto a
// FilterCriteria. Unparseable numbers behave as unset, matching how the
// dashboard ignores garbage typed into the amount inputs.
func criteriaFromQuery(c echo.Context) models.FilterCriteria {
	criteria := models.FilterCriteria{
		SearchTerm: c.QueryParam("q"),
		Scheme:     c.QueryParam("scheme"),
	}
	if v, err := strconv.Atoi(c.QueryParam("year")); err == nil {
		criteria.Year = &v
	}
	if v, err := strconv.ParseFloat(c.QueryParam("min_amount"), 64); err == nil && v > 0 {
		criteria.MinAmount = v
	}
	if v, err := strconv.ParseFloat(c.QueryParam("max_amount"), 64); err == nil && v > 0 {
		criteria.MaxAmount = v
	}
	return criteria
}

func (s *Server) handleListGrants(c echo.Context) error {
	if hasCriteriaParams(c) {
		s.Dataset.SetCriteria(criteriaFromQuery(c))
	}

	view, err := s.Dataset.View()
	if err != nil {
		return s.dataError(c, err)
	}

	limit := 20
	offset := 0
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		offset = o
	}

	records := sortRecords(view.Records, c.QueryParam("sort"))

	total := len(records)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	rows := make([]grantRow, 0, end-offset)
	for _, rec := range records[offset:end] {
		rows = append(rows, grantRow{
			GrantRecord:   rec,
			AmountDisplay: format.EUR(rec.Amount),
			DateDisplay:   format.Date(rec.ConventionDateRaw),
			PurposeShort:  ingest.TruncateText(rec.Purpose, 80),
		})
	}

	return c.JSON(http.StatusOK, grantListResponse{
		Grants:      rows,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
		TotalAmount: view.Stats.TotalAmount,
	})
}

// sortRecords orders a copy of records for the table. The default is
// amount descending, which is what the dashboard opens on.
func sortRecords(records []models.GrantRecord, key string) []models.GrantRecord {
	out := make([]models.GrantRecord, len(records))
	copy(out, records)
	switch key {
	case "amount_asc":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Amount < out[j].Amount })
	case "year":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Year > out[j].Year })
	case "year_asc":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	case "beneficiary":
		sort.SliceStable(out, func(i, j int) bool { return out[i].BeneficiaryName < out[j].BeneficiaryName })
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Amount > out[j].Amount })
	}
	return out
}

func (s *Server) handleGetGrant(c echo.Context) error {
	id := c.Param("id")
	rec, ok := s.Dataset.Find(id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	return c.JSON(http.StatusOK, grantRow{
		GrantRecord:   rec,
		AmountDisplay: format.EUR(rec.Amount),
		DateDisplay:   format.Date(rec.ConventionDateRaw),
		PurposeShort:  ingest.TruncateText(rec.Purpose, 80),
	})
}

// hasCriteriaParams reports whether the request carries any filter
// parameter. Handlers replace the shared criteria only when one is
// present, so a bare request reflects the current filter state.
func hasCriteriaParams(c echo.Context) bool {
	for _, p := range []string{"q", "year", "scheme", "min_amount", "max_amount"} {
		if c.QueryParam(p) != "" {
			return true
		}
	}
	return false
}

func (s *Server) handleGetStats(c echo.Context) error {
	if hasCriteriaParams(c) {
		s.Dataset.SetCriteria(criteriaFromQuery(c))
	}
	view, err := s.Dataset.View()
	if err != nil {
		return s.dataError(c, err)
	}
	return c.JSON(http.StatusOK, view.Stats)
}

func (s *Server) handleGetAggregations(c echo.Context) error {
	if hasCriteriaParams(c) {
		s.Dataset.SetCriteria(criteriaFromQuery(c))
	}
	view, err := s.Dataset.View()
	if err != nil {
		return s.dataError(c, err)
	}
	return c.JSON(http.StatusOK, view.Aggregates)
}

// handleGetFilters serves the dropdown options: the full dataset's
// distinct years and schemes, never narrowed by the active filters.
func (s *Server) handleGetFilters(c echo.Context) error {
	all, err := s.Dataset.All()
	if err != nil {
		return s.dataError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"years":   ingest.DistinctYears(all),
		"schemes": ingest.DistinctSchemes(all),
	})
}

func (s *Server) handleExportCSV(c echo.Context) error {
	if hasCriteriaParams(c) {
		s.Dataset.SetCriteria(criteriaFromQuery(c))
	}
	view, err := s.Dataset.View()
	if err != nil {
		return s.dataError(c, err)
	}
	filename := fmt.Sprintf("aides_ademe_%s.csv", time.Now().Format("2006-01-02"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", []byte(ingest.ExportCSV(view.Records)))
}

func (s *Server) handleGetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Dataset.Status())
}

func (s *Server) handleRefresh(c echo.Context) error {
	err := s.Dataset.Load(c.Request().Context(), true)
	if err != nil {
		if errors.Is(err, dataset.ErrLoadInFlight) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "A refresh is already running"})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, s.Dataset.Status())
}

func (s *Server) handleJobStatus(c echo.Context) error {
	job, ok := s.Dataset.Job(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	return c.JSON(http.StatusOK, job)
}

type preferencesPayload struct {
	PanelCollapsed      *bool           `json:"panel_collapsed,omitempty"`
	InteractionPatterns json.RawMessage `json:"interaction_patterns,omitempty"`
}

func (s *Server) handleGetPreferences(c echo.Context) error {
	resp := preferencesPayload{}
	if s.Store == nil {
		return c.JSON(http.StatusOK, resp)
	}
	ctx := c.Request().Context()
	if v, ok := s.Store.GetPreference(ctx, prefPanelCollapsed); ok {
		collapsed := v == "true"
		resp.PanelCollapsed = &collapsed
	}
	if v, ok := s.Store.GetPreference(ctx, prefInteractionPatterns); ok && json.Valid([]byte(v)) {
		resp.InteractionPatterns = json.RawMessage(v)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePutPreferences(c echo.Context) error {
	var req preferencesPayload
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if s.Store == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Preference storage unavailable"})
	}

	ctx := c.Request().Context()
	if req.PanelCollapsed != nil {
		if err := s.Store.SetPreference(ctx, prefPanelCollapsed, strconv.FormatBool(*req.PanelCollapsed)); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}
	if len(req.InteractionPatterns) > 0 {
		if !json.Valid(req.InteractionPatterns) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "interaction_patterns must be valid JSON"})
		}
		if err := s.Store.SetPreference(ctx, prefInteractionPatterns, string(req.InteractionPatterns)); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// dataError maps dataset-layer sentinels onto HTTP statuses.
func (s *Server) dataError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, dataset.ErrNoData):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Dataset not loaded yet"})
	case errors.Is(err, dataset.ErrLoadInFlight):
		return c.JSON(http.StatusConflict, map[string]string{"error": "Dataset load in progress"})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}
