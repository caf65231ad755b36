// Package worker runs submitted datasets through the pipeline asynchronously.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/opensource-finance/fraudlens/internal/bus"
	"github.com/opensource-finance/fraudlens/internal/dataset"
	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/explain"
	"github.com/opensource-finance/fraudlens/internal/metrics"
	"github.com/opensource-finance/fraudlens/internal/pipeline"
)

// ErrStopped is returned for jobs that arrive after Stop.
var ErrStopped = errors.New("worker stopped")

// Worker consumes DatasetJobs from the EventBus.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	cache    domain.Cache
	pipeline *pipeline.Pipeline

	summaryTTL time.Duration
	maxRows    int

	sem           chan struct{}
	subscriptions []domain.Subscription
	wg            sync.WaitGroup

	mu       sync.Mutex
	stopping bool
	inflight map[string]*domain.RunProgress
	ctx      context.Context
	cancel   context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs are tenants whose jobs are published under their own key,
	// in addition to the shared dispatch key.
	TenantIDs []string

	// WorkerCount bounds concurrent runs; 0 means GOMAXPROCS.
	WorkerCount int
}

// Option configures a Worker.
type Option func(*Worker)

// WithCache caches run summaries after each completed run.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(w *Worker) {
		w.cache = c
		w.summaryTTL = ttl
	}
}

// WithMaxRows rejects datasets larger than n rows.
func WithMaxRows(n int) Option {
	return func(w *Worker) { w.maxRows = n }
}

// NewWorker creates a new async worker. repo may be nil, in which case
// results are only published.
func NewWorker(eventBus domain.EventBus, repo domain.Repository, p *pipeline.Pipeline, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		bus:        eventBus,
		repo:       repo,
		pipeline:   p,
		summaryTTL: 10 * time.Minute,
		inflight:   make(map[string]*domain.RunProgress),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start subscribes to the dispatch key and to each configured tenant.
func (w *Worker) Start(cfg Config) error {
	n := cfg.WorkerCount
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	w.sem = make(chan struct{}, n)

	sub, err := w.bus.Subscribe(w.ctx, domain.DispatchTenant, domain.TopicDatasetSubmitted, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to dispatch topic: %w", err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	statusSub, err := w.bus.Subscribe(w.ctx, domain.DispatchTenant, domain.TopicRunStatus, w.handleStatus)
	if err != nil {
		return fmt.Errorf("failed to subscribe to status topic: %w", err)
	}
	w.subscriptions = append(w.subscriptions, statusSub)

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"concurrency", n,
	)

	return nil
}

// startTenantWorker subscribes to jobs published under one tenant's key.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicDatasetSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicDatasetSubmitted,
	)

	return nil
}

// Submit queues a dataset for asynchronous analysis.
func Submit(ctx context.Context, eventBus domain.EventBus, job *domain.DatasetJob) error {
	if job.TenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return bus.PublishJSON(ctx, eventBus, domain.DispatchTenant, domain.TopicDatasetSubmitted, job)
}

// handleMessage decodes a job and runs it on the bounded pool.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var job domain.DatasetJob
	if err := bus.Decode(msg, &job); err != nil {
		slog.Error("failed to parse dataset job",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Jobs on a tenant key belong to that tenant
	if msg.TenantID != domain.DispatchTenant {
		job.TenantID = msg.TenantID
	}
	if job.TenantID == "" {
		slog.Error("dataset job without tenant", "run_id", job.RunID)
		return fmt.Errorf("job %s has no tenant", job.RunID)
	}

	if !w.track(&job) {
		return ErrStopped
	}

	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		w.untrack(job.RunID)
		return ctx.Err()
	case <-w.ctx.Done():
		w.untrack(job.RunID)
		return w.ctx.Err()
	}

	// Stop may have begun while this job waited for a slot
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		<-w.sem
		w.untrack(job.RunID)
		return ErrStopped
	}
	w.wg.Add(1)
	now := time.Now().UTC()
	w.inflight[job.RunID].State = domain.RunStateRunning
	w.inflight[job.RunID].StartedAt = &now
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		defer w.untrack(job.RunID)
		w.Process(w.ctx, &job)
	}()
	return nil
}

// track records an accepted job as queued. It refuses jobs once Stop began.
func (w *Worker) track(job *domain.DatasetJob) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopping {
		return false
	}
	submitted := job.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now().UTC()
	}
	w.inflight[job.RunID] = &domain.RunProgress{
		RunID:       job.RunID,
		TenantID:    job.TenantID,
		State:       domain.RunStateQueued,
		SubmittedAt: submitted,
	}
	return true
}

func (w *Worker) untrack(runID string) {
	w.mu.Lock()
	delete(w.inflight, runID)
	w.mu.Unlock()
}

// Progress returns the live state of a run this worker holds.
func (w *Worker) Progress(tenantID, runID string) (domain.RunProgress, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.inflight[runID]
	if !ok || p.TenantID != tenantID {
		return domain.RunProgress{}, false
	}
	return *p, true
}

// handleStatus answers run status queries for runs this worker holds.
// Unknown runs get no reply so another worker can answer.
func (w *Worker) handleStatus(ctx context.Context, msg *domain.Message) error {
	var q domain.RunStatusQuery
	if err := bus.Decode(msg, &q); err != nil {
		return err
	}
	p, ok := w.Progress(q.TenantID, q.RunID)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return w.bus.Reply(ctx, msg, payload)
}

// QueryProgress asks the workers behind eventBus for the live state of a
// run. found is false when no worker holds it.
func QueryProgress(ctx context.Context, eventBus domain.EventBus, tenantID, runID string) (p domain.RunProgress, found bool, err error) {
	q, err := json.Marshal(domain.RunStatusQuery{RunID: runID, TenantID: tenantID})
	if err != nil {
		return p, false, err
	}
	reply, err := eventBus.Request(ctx, domain.DispatchTenant, domain.TopicRunStatus, q)
	switch {
	case errors.Is(err, bus.ErrNoResponders), errors.Is(err, context.DeadlineExceeded):
		return p, false, nil
	case err != nil:
		return p, false, err
	}
	if err := json.Unmarshal(reply, &p); err != nil {
		return p, false, fmt.Errorf("failed to decode run progress: %w", err)
	}
	return p, true, nil
}

// Process runs one job to completion, persisting and publishing the outcome.
func (w *Worker) Process(ctx context.Context, job *domain.DatasetJob) (*domain.ResultTable, error) {
	start := time.Now()

	slog.Debug("processing dataset",
		"run_id", job.RunID,
		"tenant_id", job.TenantID,
		"bytes", len(job.Data),
	)

	table, err := w.run(ctx, job)
	if err != nil {
		w.fail(ctx, job, err)
		return nil, err
	}

	// 1. Save run
	if w.repo != nil {
		if err := w.repo.SaveRun(ctx, job.TenantID, table); err != nil {
			slog.Error("failed to save run",
				"run_id", job.RunID,
				"error", err,
			)
			w.fail(ctx, job, err)
			return nil, err
		}
	}

	// 2. Cache summary
	summary := table.Summary()
	if w.cache != nil {
		if err := w.cache.SetRunSummary(ctx, job.TenantID, table.RunID, summary, w.summaryTTL); err != nil {
			slog.Warn("failed to cache run summary",
				"run_id", job.RunID,
				"error", err,
			)
		}
	}
	metrics.ObserveRun(metrics.ModeAsync, table)

	// 3. Publish completion
	event := domain.RunEvent{
		RunID:    table.RunID,
		TenantID: job.TenantID,
		Status:   domain.RunStatusCompleted,
		Summary:  summary,
	}
	if err := bus.PublishJSON(ctx, w.bus, job.TenantID, domain.TopicRunCompleted, event); err != nil {
		slog.Error("failed to publish run completion",
			"run_id", job.RunID,
			"error", err,
		)
	}

	// 4. One alert per flagged transaction
	w.publishAlerts(ctx, table)

	slog.Info("dataset processed",
		"run_id", table.RunID,
		"tenant_id", job.TenantID,
		"rows", len(table.Records),
		"flagged", table.FlaggedCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return table, nil
}

func (w *Worker) run(ctx context.Context, job *domain.DatasetJob) (*domain.ResultTable, error) {
	var opts []dataset.Option
	if job.Delimiter != "" {
		r, _ := utf8.DecodeRuneInString(job.Delimiter)
		opts = append(opts, dataset.WithDelimiter(r))
	}
	if w.maxRows > 0 {
		opts = append(opts, dataset.WithMaxRows(w.maxRows))
	}

	ds, err := dataset.Load(bytes.NewReader(job.Data), opts...)
	if err != nil {
		return nil, err
	}

	return w.pipeline.Run(ctx, job.TenantID, ds.Records,
		pipeline.WithRunID(job.RunID),
		pipeline.WithSource(job.Source),
		pipeline.WithExtraColumns(ds.ExtraColumns),
	)
}

func (w *Worker) publishAlerts(ctx context.Context, table *domain.ResultTable) {
	topN := w.pipeline.Config().TopN
	for _, rec := range table.Flagged() {
		alert := domain.AlertEvent{
			RunID:            table.RunID,
			TenantID:         table.TenantID,
			TransactionID:    rec.TransactionID,
			Amount:           rec.Amount,
			AnomalyScore:     rec.AnomalyScore,
			FraudProbability: rec.FraudProbability,
		}
		if rec.Attribution != nil {
			for _, c := range explain.Rank(*rec.Attribution, topN) {
				alert.Reasons = append(alert.Reasons, c.Feature.String())
			}
		}

		if err := bus.PublishJSON(ctx, w.bus, table.TenantID, domain.TopicAlert, alert); err != nil {
			slog.Error("failed to publish alert",
				"run_id", table.RunID,
				"tx_id", rec.TransactionID,
				"error", err,
			)
			continue
		}
		metrics.ObserveAlert()
	}
}

func (w *Worker) fail(ctx context.Context, job *domain.DatasetJob, err error) {
	kind := domain.ErrorKind(err)
	metrics.ObserveFailure(metrics.ModeAsync, err)

	slog.Error("dataset processing failed",
		"run_id", job.RunID,
		"tenant_id", job.TenantID,
		"kind", kind,
		"error", err,
	)

	if w.repo != nil {
		failure := &domain.RunFailure{
			RunID:     job.RunID,
			TenantID:  job.TenantID,
			Kind:      kind,
			Message:   err.Error(),
			CreatedAt: time.Now().UTC(),
		}
		if saveErr := w.repo.SaveRunFailure(ctx, job.TenantID, failure); saveErr != nil {
			slog.Error("failed to save run failure",
				"run_id", job.RunID,
				"error", saveErr,
			)
		}
	}

	event := domain.RunEvent{
		RunID:    job.RunID,
		TenantID: job.TenantID,
		Status:   domain.RunStatusFailed,
		Kind:     kind,
		Error:    err.Error(),
	}
	if pubErr := bus.PublishJSON(ctx, w.bus, job.TenantID, domain.TopicRunFailed, event); pubErr != nil {
		slog.Error("failed to publish run failure",
			"run_id", job.RunID,
			"error", pubErr,
		)
	}
}

// Stop gracefully stops all workers, waiting for in-flight runs. Jobs that
// arrive after Stop begins are refused.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopping = true
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Queued            int      `json:"queued"`
	Running           int      `json:"running"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            make([]string, len(w.subscriptions)),
	}
	for i, sub := range w.subscriptions {
		stats.Topics[i] = sub.Topic()
	}
	for _, p := range w.inflight {
		if p.State == domain.RunStateRunning {
			stats.Running++
		} else {
			stats.Queued++
		}
	}
	return stats
}
