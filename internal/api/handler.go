package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/opensource-finance/fraudlens/internal/cache"
	"github.com/opensource-finance/fraudlens/internal/calibrate"
	"github.com/opensource-finance/fraudlens/internal/dataset"
	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/explain"
	"github.com/opensource-finance/fraudlens/internal/metrics"
	"github.com/opensource-finance/fraudlens/internal/pipeline"
	"github.com/opensource-finance/fraudlens/internal/report"
	"github.com/opensource-finance/fraudlens/internal/repository"
	"github.com/opensource-finance/fraudlens/internal/rules"
	"github.com/opensource-finance/fraudlens/internal/velocity"
	"github.com/opensource-finance/fraudlens/internal/worker"
)

// statusTimeout bounds the wait for a worker to report a pending run.
const statusTimeout = 500 * time.Millisecond

var validate = validator.New()

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	pipeline   *pipeline.Pipeline
	engine     *rules.Engine
	quota      *velocity.Service
	limits     domain.LimitsConfig
	summaryTTL time.Duration
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, limits domain.LimitsConfig, summaryTTL time.Duration, version string) *Handler {
	if summaryTTL <= 0 {
		summaryTTL = 10 * time.Minute
	}
	if limits.MaxUploadBytes <= 0 {
		limits.MaxUploadBytes = domain.DefaultConfig().Limits.MaxUploadBytes
	}
	return &Handler{
		repo:       deps.Repo,
		cache:      deps.Cache,
		bus:        deps.Bus,
		pipeline:   deps.Pipeline,
		engine:     deps.Engine,
		quota:      velocity.NewService(deps.Repo, deps.Cache, limits.RunsPerHour, time.Hour),
		limits:     limits,
		summaryTTL: summaryTTL,
		version:    version,
	}
}

// AnalyzeResponse is the response for POST /analyze.
type AnalyzeResponse struct {
	RunID    string             `json:"runId"`
	Status   string             `json:"status"`
	Summary  *domain.RunSummary `json:"summary,omitempty"`
	Message  string             `json:"message,omitempty"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// RunResponse is the response for GET /runs/{id}.
type RunResponse struct {
	RunID   string             `json:"runId"`
	Status  string             `json:"status"`
	Summary *domain.RunSummary `json:"summary,omitempty"`
	Failure *domain.RunFailure `json:"failure,omitempty"`

	// Progress is the live state reported by the worker holding a pending run.
	Progress *domain.RunProgress `json:"progress,omitempty"`
}

// TransactionsResponse is the response for GET /runs/{id}/transactions.
type TransactionsResponse struct {
	RunID        string       `json:"runId"`
	Count        int          `json:"count"`
	Transactions []report.Row `json:"transactions"`
	Message      string       `json:"message,omitempty"`
}

// TransactionDetail is the response for GET /runs/{id}/transactions/{txId}.
type TransactionDetail struct {
	report.Row
	TopContributions []domain.Contribution `json:"topContributions"`
}

// ClassifierRequest is the request body for PUT /classifiers/{feature}.
type ClassifierRequest struct {
	Expression string `json:"expression" validate:"required"`
}

// Analyze handles POST /analyze. The body is the CSV itself or a multipart
// form with the CSV in field "file".
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	delim, err := parseDelimiter(r.URL.Query().Get("delimiter"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	async := false
	if v := r.URL.Query().Get("async"); v != "" {
		if async, err = strconv.ParseBool(v); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid async value"})
			return
		}
	}

	data, source, err := h.readUpload(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("upload exceeds %d bytes", maxErr.Limit),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "dataset is empty"})
		return
	}

	runID := uuid.New().String()
	resp := AnalyzeResponse{RunID: runID}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.Version = h.version

	if async {
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "event bus not available",
			})
			return
		}
		// The async body is parsed by the worker, so the run counts once queued
		if !h.allowRun(w, r, tenantID) {
			return
		}
		job := &domain.DatasetJob{
			RunID:       runID,
			TenantID:    tenantID,
			Source:      source,
			Delimiter:   string(delim),
			Data:        data,
			SubmittedAt: time.Now().UTC(),
		}
		if err := worker.Submit(ctx, h.bus, job); err != nil {
			slog.Error("failed to submit dataset", "run_id", runID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to queue dataset",
			})
			return
		}
		h.markPending(r, tenantID, runID)

		resp.Status = domain.RunStatusPending
		resp.Metadata.TotalMs = time.Since(start).Milliseconds()
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	if h.pipeline == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "pipeline not available",
		})
		return
	}

	ds, err := dataset.Load(bytes.NewReader(data),
		dataset.WithDelimiter(delim),
		dataset.WithMaxRows(h.limits.MaxRows),
	)
	if err != nil {
		metrics.ObserveFailure(metrics.ModeSync, err)
		writeRunError(w, runID, err)
		return
	}
	if !h.allowRun(w, r, tenantID) {
		return
	}

	table, err := h.pipeline.Run(ctx, tenantID, ds.Records,
		pipeline.WithRunID(runID),
		pipeline.WithSource(source),
		pipeline.WithExtraColumns(ds.ExtraColumns),
	)
	if err != nil {
		metrics.ObserveFailure(metrics.ModeSync, err)
		writeRunError(w, runID, err)
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRun(ctx, tenantID, table); err != nil {
			slog.Error("failed to save run", "run_id", runID, "error", err)
			metrics.ObserveFailure(metrics.ModeSync, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save run",
			})
			return
		}
	}

	summary := table.Summary()
	if h.cache != nil {
		if err := h.cache.SetRunSummary(ctx, tenantID, runID, summary, h.summaryTTL); err != nil {
			slog.Warn("failed to cache run summary", "run_id", runID, "error", err)
		}
	}
	metrics.ObserveRun(metrics.ModeSync, table)

	resp.Status = domain.RunStatusCompleted
	resp.Summary = summary
	if table.FlaggedCount == 0 {
		resp.Message = report.NoFraudMessage
	}
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	writeJSON(w, http.StatusOK, resp)
}

// readUpload returns the uploaded CSV and its source name.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxUploadBytes)
	source := r.URL.Query().Get("source")

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(h.limits.MaxUploadBytes); err != nil {
			return nil, "", fmt.Errorf("invalid multipart form: %w", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("multipart field \"file\" is required")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}
		if source == "" {
			source = header.Filename
		}
		return data, source, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	return data, source, nil
}

// allowRun enforces the hourly run quota. It writes the response and
// returns false when the tenant is over quota.
func (h *Handler) allowRun(w http.ResponseWriter, r *http.Request, tenantID string) bool {
	_, err := h.quota.Allow(r.Context(), tenantID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, velocity.ErrQuotaExceeded):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": fmt.Sprintf("run quota of %d per hour exceeded", h.quota.Limit()),
		})
		return false
	default:
		// Quota is best effort when no counter is reachable
		slog.Warn("failed to check run quota", "tenant_id", tenantID, "error", err)
		return true
	}
}

func pendingKey(runID string) string {
	return "pending:" + runID
}

func (h *Handler) markPending(r *http.Request, tenantID, runID string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(r.Context(), tenantID, pendingKey(runID), []byte(domain.RunStatusPending), h.summaryTTL); err != nil {
		slog.Warn("failed to mark run pending", "run_id", runID, "error", err)
	}
}

// progress asks the workers for the live state of a pending run. It returns
// nil when no worker answers in time.
func (h *Handler) progress(r *http.Request, tenantID, runID string) *domain.RunProgress {
	if h.bus == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	p, found, err := worker.QueryProgress(ctx, h.bus, tenantID, runID)
	if err != nil {
		slog.Warn("failed to query run progress", "run_id", runID, "error", err)
		return nil
	}
	if !found {
		return nil
	}
	return &p
}

// Health returns the health status of the server.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRuns handles GET /runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	runs, err := h.repo.ListRuns(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list runs", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}
	if runs == nil {
		runs = []*domain.RunSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /runs/{id}. Summaries are served from the cache when
// present; failed and still pending async runs report their status.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if h.cache != nil {
		summary, err := h.cache.GetRunSummary(ctx, tenantID, runID)
		if err != nil {
			slog.Warn("failed to read cached run summary", "run_id", runID, "error", err)
		}
		if summary != nil {
			writeJSON(w, http.StatusOK, RunResponse{RunID: runID, Status: domain.RunStatusCompleted, Summary: summary})
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	summary, err := h.repo.GetRunSummary(ctx, tenantID, runID)
	switch {
	case err == nil:
		if h.cache != nil {
			if err := h.cache.SetRunSummary(ctx, tenantID, runID, summary, h.summaryTTL); err != nil {
				slog.Warn("failed to cache run summary", "run_id", runID, "error", err)
			}
		}
		writeJSON(w, http.StatusOK, RunResponse{RunID: runID, Status: domain.RunStatusCompleted, Summary: summary})
		return
	case !errors.Is(err, repository.ErrNotFound):
		slog.Error("failed to get run", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get run",
		})
		return
	}

	if failure, err := h.repo.GetRunFailure(ctx, tenantID, runID); err == nil {
		writeJSON(w, http.StatusOK, RunResponse{RunID: runID, Status: domain.RunStatusFailed, Failure: failure})
		return
	}

	if h.cache != nil {
		if v, err := h.cache.Get(ctx, tenantID, pendingKey(runID)); err == nil && v != nil {
			writeJSON(w, http.StatusOK, RunResponse{
				RunID:    runID,
				Status:   domain.RunStatusPending,
				Progress: h.progress(r, tenantID, runID),
			})
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "run not found",
	})
}

// DeleteRun handles DELETE /runs/{id}.
func (h *Handler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeleteRun(ctx, tenantID, runID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "run not found",
			})
			return
		}
		slog.Error("failed to delete run", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete run",
		})
		return
	}

	if h.cache != nil {
		if err := h.cache.Delete(ctx, tenantID, cache.RunKey(runID)); err != nil {
			slog.Warn("failed to evict run summary", "run_id", runID, "error", err)
		}
	}

	slog.Info("run deleted", "run_id", runID, "tenant_id", tenantID)
	w.WriteHeader(http.StatusNoContent)
}

// ListTransactions handles GET /runs/{id}/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := report.ParseFilter(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	table, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	rows := report.Apply(table, filter)
	resp := TransactionsResponse{
		RunID:        table.RunID,
		Count:        len(rows),
		Transactions: rows,
	}
	if filter.FlaggedOnly && table.FlaggedCount == 0 {
		resp.Message = report.NoFraudMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTransaction handles GET /runs/{id}/transactions/{txId}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	table, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	txID := chi.URLParam(r, "txId")
	rec, found := table.Find(txID)
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	detail := TransactionDetail{
		Row: report.Row{
			ScoredRecord: *rec,
			RiskTier:     calibrate.RiskTier(rec.FraudProbability),
		},
		TopContributions: []domain.Contribution{},
	}
	if rec.Attribution != nil {
		detail.TopContributions = explain.Rank(*rec.Attribution, table.Params.TopN)
	}
	writeJSON(w, http.StatusOK, detail)
}

// GetTrends handles GET /runs/{id}/trends.
func (h *Handler) GetTrends(w http.ResponseWriter, r *http.Request) {
	table, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.ComputeTrends(table))
}

// GetReport handles GET /runs/{id}/report. The report lists flagged rows
// matching the transaction filters, with ?highlight=Location,Channel
// adding highlighted columns. ?format=pdf returns the PDF rendering.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := report.ParseFilter(q)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	filter.FlaggedOnly = true

	table, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	var highlight []string
	if v := q.Get("highlight"); v != "" {
		highlight = strings.Split(v, ",")
	}

	write, contentType := report.WriteHTML, "text/html; charset=utf-8"
	switch q.Get("format") {
	case "", "html":
	case "pdf":
		write, contentType = report.WritePDF, "application/pdf"
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unsupported report format %q", q.Get("format")),
		})
		return
	}

	var buf bytes.Buffer
	opts := report.Options{Title: q.Get("title"), Highlight: highlight}
	if err := write(&buf, table, report.Apply(table, filter), opts); err != nil {
		slog.Error("failed to render report", "run_id", table.RunID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to render report",
		})
		return
	}

	w.Header().Set("Content-Type", contentType)
	if contentType == "application/pdf" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "fraud_report_"+table.RunID+".pdf"))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Export handles GET /runs/{id}/export, returning the result table as CSV.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	table, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := dataset.WriteResults(&buf, table); err != nil {
		slog.Error("failed to export run", "run_id", table.RunID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to export run",
		})
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", table.RunID+".csv"))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Simulate handles POST /simulate.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	var in pipeline.SimulationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := validate.Struct(in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": validationMessage(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, pipeline.Simulate(in))
}

// ListClassifiers handles GET /classifiers.
func (h *Handler) ListClassifiers(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rules engine not available",
		})
		return
	}

	exprs := h.engine.Expressions()
	features := make([]domain.Feature, 0, len(exprs))
	for f := range exprs {
		features = append(features, f)
	}
	slices.Sort(features)

	out := make([]map[string]string, 0, len(features))
	for _, f := range features {
		out = append(out, map[string]string{
			"feature":    f.String(),
			"expression": exprs[f],
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"classifiers": out,
		"count":       len(out),
	})
}

// UpdateClassifier handles PUT /classifiers/{feature}. The expression is
// compiled before it replaces the current one, and applies to later runs.
// With ?dryRun=true it is only compiled.
func (h *Handler) UpdateClassifier(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rules engine not available",
		})
		return
	}

	f, err := domain.ParseFeature(chi.URLParam(r, "feature"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	var req ClassifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": validationMessage(err),
		})
		return
	}

	dryRun := false
	if v := r.URL.Query().Get("dryRun"); v != "" {
		if dryRun, err = strconv.ParseBool(v); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid dryRun value"})
			return
		}
	}

	install := h.engine.Load
	if dryRun {
		install = h.engine.Validate
	}
	if err := install(f, req.Expression); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}
	if dryRun {
		writeJSON(w, http.StatusOK, map[string]string{
			"feature":    f.String(),
			"expression": req.Expression,
			"status":     "valid",
		})
		return
	}

	slog.Info("classifier updated", "feature", f.String(), "tenant_id", GetTenantID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]string{
		"feature":    f.String(),
		"expression": req.Expression,
	})
}

// loadRun fetches the run named by the {id} URL parameter. It writes the
// error response and returns false when the run cannot be served.
func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*domain.ResultTable, bool) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return nil, false
	}

	table, err := h.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "run not found",
			})
			return nil, false
		}
		slog.Error("failed to get run", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get run",
		})
		return nil, false
	}
	return table, true
}

// writeRunError maps pipeline errors to 422 with their kind and anything
// else to 500.
func writeRunError(w http.ResponseWriter, runID string, err error) {
	kind := domain.ErrorKind(err)
	if kind == "" {
		slog.Error("run failed", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal error",
		})
		return
	}

	slog.Warn("run rejected", "run_id", runID, "kind", kind, "error", err)
	writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
		"error": err.Error(),
		"kind":  kind,
	})
}

// parseDelimiter reads the ?delimiter parameter: a single character, or
// "tab". Empty means comma.
func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return ',', nil
	case "tab", `\t`:
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character")
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("invalid delimiter %q", s)
	}
	return r, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
