// Package pipeline runs one batch through feature preparation, isolation
// forest scoring, probability calibration, attribution and narrative
// generation, producing a complete ResultTable.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/fraudlens/internal/calibrate"
	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/explain"
	"github.com/opensource-finance/fraudlens/internal/features"
	"github.com/opensource-finance/fraudlens/internal/iforest"
	"github.com/opensource-finance/fraudlens/internal/narrative"
	"github.com/opensource-finance/fraudlens/internal/rules"
)

// Pipeline holds the read-only collaborators shared by every run.
// Fitted state never lives here; each Run builds its own.
type Pipeline struct {
	cfg       domain.DetectionConfig
	generator *narrative.Generator
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a pipeline. The dictionary is validated against every feature.
func New(cfg domain.DetectionConfig, engine *rules.Engine, dict narrative.Dictionary) (*Pipeline, error) {
	gen, err := narrative.NewGenerator(dict, engine)
	if err != nil {
		return nil, fmt.Errorf("failed to create narrative generator: %w", err)
	}
	if cfg.TopN <= 0 {
		cfg.TopN = explain.DefaultTopN
	}
	if cfg.BackgroundSize <= 0 {
		cfg.BackgroundSize = explain.DefaultBackgroundSize
	}
	return &Pipeline{
		cfg:       cfg,
		generator: gen,
		tracer:    otel.Tracer("fraudlens/pipeline"),
		now:       time.Now,
	}, nil
}

// Config returns the detection settings in use.
func (p *Pipeline) Config() domain.DetectionConfig { return p.cfg }

type runOptions struct {
	runID        string
	source       string
	extraColumns []string
}

// RunOption customises a single run.
type RunOption func(*runOptions)

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// WithSource records where the dataset came from, e.g. an uploaded file name.
func WithSource(source string) RunOption {
	return func(o *runOptions) { o.source = source }
}

// WithExtraColumns keeps the order of non-model input columns for output.
func WithExtraColumns(cols []string) RunOption {
	return func(o *runOptions) { o.extraColumns = cols }
}

// runContext is the state of one run. It is discarded when Run returns.
type runContext struct {
	raw       *features.Matrix
	scaler    *features.Scaler
	scaled    *features.Matrix
	forest    *iforest.Forest
	explainer *explain.Explainer

	scores   []float64
	outliers []bool
	probs    []float64
	flagged  []int
	attrs    []domain.Attribution
}

// Run scores a batch and returns one ScoredRecord per input row, in order.
// It returns either a complete table or an error, never a partial table.
func (p *Pipeline) Run(ctx context.Context, tenantID string, records []domain.TransactionRecord, opts ...RunOption) (*domain.ResultTable, error) {
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.New().String()
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("run.id", o.runID),
			attribute.String("tenant.id", tenantID),
			attribute.Int("rows", len(records)),
		),
	)
	defer span.End()

	start := p.now()
	rc := &runContext{}
	var timings domain.RunTimings

	stages := []struct {
		name string
		ms   *int64
		fn   func(context.Context, *runContext, []domain.TransactionRecord) error
	}{
		{"features", &timings.FeaturesMs, p.buildFeatures},
		{"scoring", &timings.ScoringMs, p.score},
		{"calibration", &timings.CalibrationMs, p.calibrateScores},
		{"attribution", &timings.AttributionMs, p.attribute},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, p.fail(span, o.runID, st.name, fmt.Errorf("run cancelled: %w", err))
		}

		stageCtx, stageSpan := p.tracer.Start(ctx, "pipeline."+st.name)
		t0 := time.Now()
		err := st.fn(stageCtx, rc, records)
		*st.ms = time.Since(t0).Milliseconds()
		if err != nil {
			stageSpan.RecordError(err)
			stageSpan.SetStatus(codes.Error, err.Error())
			stageSpan.End()
			return nil, p.fail(span, o.runID, st.name, err)
		}
		stageSpan.End()

		slog.Debug("pipeline stage finished",
			"run_id", o.runID,
			"stage", st.name,
			"duration_ms", *st.ms,
		)
	}

	_, narrSpan := p.tracer.Start(ctx, "pipeline.narrative")
	t0 := time.Now()
	table := p.assemble(rc, records)
	timings.NarrativeMs = time.Since(t0).Milliseconds()
	narrSpan.End()

	table.RunID = o.runID
	table.TenantID = tenantID
	table.Source = o.source
	table.CreatedAt = start.UTC()
	table.ExtraColumns = o.extraColumns
	table.Params = domain.RunParams{
		Contamination: rc.forest.Contamination(),
		Trees:         rc.forest.NumTrees(),
		SampleSize:    rc.forest.SampleSize(),
		Seed:          rc.forest.Seed(),
		Offset:        rc.forest.Offset(),
		TopN:          p.cfg.TopN,
	}
	if rc.explainer != nil {
		table.Params.Background = rc.explainer.BackgroundSize()
	}
	timings.TotalMs = p.now().Sub(start).Milliseconds()
	table.Timings = timings

	span.SetAttributes(attribute.Int("flagged", table.FlaggedCount))
	slog.Info("pipeline run completed",
		"run_id", table.RunID,
		"tenant_id", tenantID,
		"rows", len(table.Records),
		"flagged", table.FlaggedCount,
		"duration_ms", timings.TotalMs,
	)

	return table, nil
}

func (p *Pipeline) fail(span trace.Span, runID, stage string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	slog.Debug("pipeline stage failed",
		"run_id", runID,
		"stage", stage,
		"error", err,
	)
	return fmt.Errorf("%s stage: %w", stage, err)
}

func (p *Pipeline) buildFeatures(_ context.Context, rc *runContext, records []domain.TransactionRecord) error {
	raw, err := features.Build(records)
	if err != nil {
		return err
	}
	rc.raw = raw
	rc.scaler = features.FitScaler(raw)
	rc.scaled, err = rc.scaler.Transform(raw)
	return err
}

func (p *Pipeline) score(_ context.Context, rc *runContext, _ []domain.TransactionRecord) error {
	rc.forest = iforest.New(
		iforest.WithTrees(p.cfg.Trees),
		iforest.WithSampleSize(p.cfg.SampleSize),
		iforest.WithContamination(p.cfg.Contamination),
		iforest.WithSeed(p.cfg.Seed),
		iforest.WithWorkers(p.cfg.Workers),
	)
	if err := rc.forest.Fit(rc.scaled.Values()); err != nil {
		return err
	}

	var err error
	rc.scores, err = rc.forest.DecisionFunction(rc.scaled.Values())
	if err != nil {
		return err
	}
	rc.outliers = make([]bool, len(rc.scores))
	for i, s := range rc.scores {
		rc.outliers[i] = s < 0
		if rc.outliers[i] {
			rc.flagged = append(rc.flagged, i)
		}
	}
	return nil
}

func (p *Pipeline) calibrateScores(_ context.Context, rc *runContext, _ []domain.TransactionRecord) error {
	rc.probs = calibrate.Probabilities(rc.scores)
	return nil
}

// attribute explains the flagged subset. No flagged rows is not an error.
func (p *Pipeline) attribute(ctx context.Context, rc *runContext, _ []domain.TransactionRecord) error {
	if len(rc.flagged) == 0 {
		return nil
	}

	subset, err := rc.scaler.Transform(rc.raw.Subset(rc.flagged))
	if err != nil {
		return err
	}

	rc.explainer = explain.NewExplainer(rc.forest, rc.scaled.Values(),
		explain.WithBackgroundSize(p.cfg.BackgroundSize),
		explain.WithSeed(p.cfg.Seed),
		explain.WithWorkers(p.cfg.Workers),
	)
	rc.attrs, err = rc.explainer.ExplainContext(ctx, subset.Values())
	return err
}

// assemble builds the table and the narratives of flagged rows.
func (p *Pipeline) assemble(rc *runContext, records []domain.TransactionRecord) *domain.ResultTable {
	table := &domain.ResultTable{
		Records:      make([]domain.ScoredRecord, len(records)),
		FlaggedCount: len(rc.flagged),
	}
	for i := range records {
		table.Records[i] = domain.ScoredRecord{
			TransactionRecord: records[i],
			AnomalyScore:      rc.scores[i],
			IsFraud:           rc.outliers[i],
			FraudProbability:  rc.probs[i],
		}
	}

	for k, i := range rc.flagged {
		attr := rc.attrs[k]
		top := explain.Rank(attr, p.cfg.TopN)
		story := p.generator.Generate(top, rc.raw.Row(i))

		rec := &table.Records[i]
		rec.Attribution = &attr
		rec.FraudExplanation = story.HTML()
	}
	return table
}
