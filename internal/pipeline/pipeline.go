// Package pipeline drives one ingestion run through crawl, parse and
// analysis, persisting every stage to the lake and every transition to the
// run's snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/analysis"
	"github.com/JakeFAU/hidden-spot/internal/crawler"
	"github.com/JakeFAU/hidden-spot/internal/embedding"
	"github.com/JakeFAU/hidden-spot/internal/keys"
	"github.com/JakeFAU/hidden-spot/internal/lake"
	"github.com/JakeFAU/hidden-spot/internal/logging"
	"github.com/JakeFAU/hidden-spot/internal/metrics"
	"github.com/JakeFAU/hidden-spot/internal/queue"
	"github.com/JakeFAU/hidden-spot/internal/review"
	"github.com/JakeFAU/hidden-spot/internal/store"
	"github.com/JakeFAU/hidden-spot/internal/telemetry"
)

var errInvalidJob = errors.New("invalid job")

// Progress checkpoints written with each transition.
const (
	ProgressQueued    = 0
	ProgressCrawling  = 10
	ProgressCrawled   = 35
	ProgressParsing   = 45
	ProgressParsed    = 65
	ProgressAnalyzing = 75
	ProgressDone      = 100
)

// ReviewParser turns raw HTML into reviews.
type ReviewParser interface {
	Parse(rawHTML string, fallback []string) ([]review.Review, error)
}

// Validator is the data-quality gate.
type Validator interface {
	Validate(reviews []review.Review, storeID, collectedAt string) error
}

// Analyzer produces the structured result for a review batch.
type Analyzer interface {
	Analyze(ctx context.Context, in analysis.Input) (analysis.Output, error)
}

// Embedder vectorizes a store document.
type Embedder interface {
	Embed(ctx context.Context, text string) (embedding.Vector, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Deps are the capabilities a run uses. Embedder may be nil.
type Deps struct {
	Repo     store.Repository
	Lake     *lake.Lake
	Crawler  crawler.Crawler
	Parser   ReviewParser
	Gate     Validator
	Analyzer Analyzer
	Embedder Embedder
	Clock    Clock
}

// Config tunes the orchestrator.
type Config struct {
	CrawlerVersion string
	ParserVersion  string
	// ReviewLogCap bounds the per-store review log.
	ReviewLogCap int
}

// Orchestrator runs jobs. It holds no per-run state and is safe for
// concurrent use by several workers.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and builds an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Repo == nil:
		return nil, errors.New("pipeline: repository is required")
	case deps.Lake == nil:
		return nil, errors.New("pipeline: lake is required")
	case deps.Crawler == nil:
		return nil, errors.New("pipeline: crawler is required")
	case deps.Parser == nil:
		return nil, errors.New("pipeline: parser is required")
	case deps.Gate == nil:
		return nil, errors.New("pipeline: quality gate is required")
	case deps.Analyzer == nil:
		return nil, errors.New("pipeline: analyzer is required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CrawlerVersion == "" {
		cfg.CrawlerVersion = "v1"
	}
	if cfg.ParserVersion == "" {
		cfg.ParserVersion = "v1"
	}
	if cfg.ReviewLogCap <= 0 {
		cfg.ReviewLogCap = 50
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger.Named("pipeline")}, nil
}

// run carries one job through the stages.
type run struct {
	job         queue.Job
	parts       keys.Parts
	collectedAt time.Time
	logger      *zap.Logger

	bronzePath string
	silverPath string
	goldPath   string
	evidence   string
}

// Run executes job from queued to a terminal snapshot. A failed run always
// leaves a failed snapshot behind before returning.
func (o *Orchestrator) Run(ctx context.Context, job queue.Job) Outcome {
	r := &run{
		job:    job,
		logger: logging.ForRun(o.logger, job.RunID, job.StoreID),
	}
	if err := job.Validate(); err != nil {
		return o.fail(ctx, r, "", fmt.Errorf("%w: %v", errInvalidJob, err))
	}
	collectedAt, err := keys.ParseTimestamp(job.CollectedAt)
	if err != nil {
		return o.fail(ctx, r, "", fmt.Errorf("%w: %v", errInvalidJob, err))
	}
	r.collectedAt = collectedAt
	r.parts = keys.Parts{
		StoreID:     job.StoreID,
		CollectedAt: job.CollectedAt,
		RunID:       job.RunID,
		DT:          keys.DatePartition(collectedAt),
	}

	if err := o.deps.Repo.UpsertSnapshot(ctx, store.Snapshot{
		RunID:         job.RunID,
		StoreID:       job.StoreID,
		URL:           job.URL,
		CollectedAt:   collectedAt,
		Status:        store.StatusQueued,
		Progress:      ProgressQueued,
		EvidencePaths: []string{},
		UpdatedAt:     o.deps.Clock.Now(),
	}); err != nil {
		return o.fail(ctx, r, "", err)
	}

	r.logger.Info("run started", zap.String("url", job.URL), zap.Int("attempt", job.Attempt))

	if _, err := o.stage(ctx, r, StageCrawl, func(ctx context.Context) (map[string]any, error) {
		meta, err := o.crawl(ctx, r)
		if err != nil {
			return nil, err
		}
		return map[string]any{"review_count": meta.ReviewCount, "html_saved": meta.HTMLSaved}, nil
	}); err != nil {
		return o.fail(ctx, r, StageCrawl, err)
	}

	var reviews []review.Review
	if _, err := o.stage(ctx, r, StageParse, func(ctx context.Context) (map[string]any, error) {
		parsed, err := o.parse(ctx, r)
		if err != nil {
			return nil, err
		}
		reviews = parsed
		return map[string]any{"review_count": len(reviews)}, nil
	}); err != nil {
		return o.fail(ctx, r, stageOf(err), err)
	}

	if _, err := o.stage(ctx, r, StageLLM, func(ctx context.Context) (map[string]any, error) {
		out, err := o.analyze(ctx, r, reviews)
		if err != nil {
			return nil, err
		}
		return map[string]any{"chunk_count": out.ChunkCount, "token_total": out.Usage.TotalTokens, "model": out.Model}, nil
	}); err != nil {
		return o.fail(ctx, r, stageOf(err), err)
	}

	if err := o.transition(ctx, r, store.SnapshotUpdate{
		Status:   store.StatusCompleted,
		Progress: ProgressDone,
		GoldPath: r.goldPath,
	}); err != nil {
		return o.fail(ctx, r, StageServing, err)
	}
	metrics.ObserveRun(string(store.StatusCompleted), "")
	r.logger.Info("run completed", zap.String("gold_path", r.goldPath))
	return Outcome{Kind: Succeeded, RunID: job.RunID, GoldPath: r.goldPath}
}

// stage wraps fn with a span, stage metrics and the structured event log.
func (o *Orchestrator) stage(
	ctx context.Context,
	r *run,
	name string,
	fn func(ctx context.Context) (map[string]any, error),
) (map[string]any, error) {
	ctx, span := telemetry.StartStage(ctx, name, r.job.RunID, r.job.StoreID)
	start := time.Now()
	payload, err := fn(ctx)
	elapsed := time.Since(start)
	telemetry.EndSpan(span, err)

	status := "ok"
	if err != nil {
		status = "failed"
		err = atStage(name, err)
		payload = map[string]any{"error": err.Error()}
	}
	metrics.ObserveStage(name, status, elapsed)
	o.event(r, name, status, elapsed, payload, span)
	return payload, err
}

func (o *Orchestrator) event(r *run, name, status string, d time.Duration, payload map[string]any, span trace.Span) {
	fields := []zap.Field{
		zap.String("stage", name),
		zap.String("status", status),
		zap.Int64("duration_ms", d.Milliseconds()),
		zap.Any("payload", payload),
		zap.Time("timestamp", o.deps.Clock.Now()),
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	r.logger.Info("stage event", fields...)
}

func (o *Orchestrator) transition(ctx context.Context, r *run, upd store.SnapshotUpdate) error {
	upd.At = o.deps.Clock.Now()
	if err := o.deps.Repo.UpdateSnapshot(ctx, r.job.RunID, upd); err != nil {
		return fmt.Errorf("snapshot %s -> %s: %w", r.job.RunID, upd.Status, err)
	}
	return nil
}

func (o *Orchestrator) crawl(ctx context.Context, r *run) (BronzeMeta, error) {
	if err := o.transition(ctx, r, store.SnapshotUpdate{Status: store.StatusCrawling, Progress: ProgressCrawling}); err != nil {
		return BronzeMeta{}, err
	}

	res, err := o.deps.Crawler.Crawl(ctx, r.job.URL)
	if err != nil {
		o.saveEvidence(ctx, r, crawler.EvidenceFrom(err))
		return BronzeMeta{}, err
	}

	ref, err := o.deps.Lake.StoreRawHTML(ctx, r.parts, res.RawHTML)
	if err != nil {
		return BronzeMeta{}, err
	}
	metrics.ObserveRawHTMLWrite(ref.Saved)

	meta := BronzeMeta{
		RunID:       r.job.RunID,
		StoreID:     r.job.StoreID,
		CollectedAt: r.parts.CollectedAt,
		SourceURL:   r.job.URL,
		FinalURL:    res.FinalURL,
		PlaceID:     res.PlaceID,
		Name:        res.Name,
		Address:     res.Address,
		Latitude:    res.Latitude,
		Longitude:   res.Longitude,
		ReviewCount: len(res.Reviews),
		Reviews:     nonNil(res.Reviews),
		ContentHash: ref.Digest,
		HTMLKey:     ref.HTMLKey,
		HTMLSaved:   ref.Saved,
	}
	metaKey, err := r.parts.BronzeMeta()
	if err != nil {
		return BronzeMeta{}, err
	}
	if err := o.deps.Lake.PutJSON(ctx, lake.LayerBronze, metaKey, meta); err != nil {
		return BronzeMeta{}, err
	}
	r.bronzePath = o.deps.Lake.URI(lake.LayerBronze, metaKey)

	if err := o.deps.Repo.UpsertStore(ctx, store.Store{
		StoreID:   r.job.StoreID,
		URL:       r.job.URL,
		Name:      res.Name,
		Address:   res.Address,
		Lat:       res.Latitude,
		Lng:       res.Longitude,
		UpdatedAt: o.deps.Clock.Now(),
	}); err != nil {
		return BronzeMeta{}, err
	}

	if err := o.transition(ctx, r, store.SnapshotUpdate{
		Status:     store.StatusCrawled,
		Progress:   ProgressCrawled,
		BronzePath: r.bronzePath,
	}); err != nil {
		return BronzeMeta{}, err
	}
	return meta, nil
}

func (o *Orchestrator) saveEvidence(ctx context.Context, r *run, png []byte) {
	if len(png) == 0 {
		return
	}
	key, err := r.parts.DebugFailure()
	if err != nil {
		return
	}
	if err := o.deps.Lake.PutBytes(context.WithoutCancel(ctx), lake.LayerArtifacts, key, lake.ContentTypePNG, png); err != nil {
		r.logger.Warn("failed to store crawl evidence", zap.Error(err))
		return
	}
	r.evidence = o.deps.Lake.URI(lake.LayerArtifacts, key)
}

func (o *Orchestrator) parse(ctx context.Context, r *run) ([]review.Review, error) {
	if err := o.transition(ctx, r, store.SnapshotUpdate{Status: store.StatusParsing, Progress: ProgressParsing}); err != nil {
		return nil, err
	}

	metaKey, err := r.parts.BronzeMeta()
	if err != nil {
		return nil, err
	}
	var meta BronzeMeta
	if err := o.deps.Lake.GetJSON(ctx, lake.LayerBronze, metaKey, &meta); err != nil {
		return nil, err
	}
	html, err := o.deps.Lake.ResolveRawHTML(ctx, meta.HTMLSaved, meta.HTMLKey, meta.ContentHash)
	if err != nil {
		return nil, err
	}
	reviews, err := o.deps.Parser.Parse(html, meta.Reviews)
	if err != nil {
		return nil, err
	}

	if err := o.deps.Gate.Validate(reviews, r.job.StoreID, r.parts.CollectedAt); err != nil {
		metrics.ObserveQualityRejection()
		return nil, atStage(StageDQ, err)
	}

	silverKey, err := r.parts.SilverReviews()
	if err != nil {
		return nil, err
	}
	data, err := review.MarshalJSONL(reviews)
	if err != nil {
		return nil, err
	}
	if err := o.deps.Lake.PutBytes(ctx, lake.LayerSilver, silverKey, lake.ContentTypeNDJSON, data); err != nil {
		return nil, err
	}
	r.silverPath = o.deps.Lake.URI(lake.LayerSilver, silverKey)

	if err := o.transition(ctx, r, store.SnapshotUpdate{
		Status:     store.StatusParsed,
		Progress:   ProgressParsed,
		SilverPath: r.silverPath,
	}); err != nil {
		return nil, err
	}
	return reviews, nil
}

func (o *Orchestrator) analyze(ctx context.Context, r *run, parsed []review.Review) (analysis.Output, error) {
	if err := o.transition(ctx, r, store.SnapshotUpdate{Status: store.StatusAnalyzing, Progress: ProgressAnalyzing}); err != nil {
		return analysis.Output{}, err
	}

	silverKey, err := r.parts.SilverReviews()
	if err != nil {
		return analysis.Output{}, err
	}
	data, err := o.deps.Lake.GetBytes(ctx, lake.LayerSilver, silverKey)
	if err != nil {
		return analysis.Output{}, err
	}
	reviews, err := review.UnmarshalJSONL(data)
	if err != nil {
		return analysis.Output{}, fmt.Errorf("read silver reviews: %w", err)
	}

	current, err := o.deps.Repo.GetStore(ctx, r.job.StoreID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return analysis.Output{}, err
	}

	out, err := o.deps.Analyzer.Analyze(ctx, analysis.Input{
		Reviews: review.Texts(reviews),
		Store:   analysis.StoreContext{Name: current.Name, Address: current.Address},
	})
	if err != nil {
		return analysis.Output{}, err
	}

	chunkKey, err := r.parts.ChunkSummaries()
	if err != nil {
		return analysis.Output{}, err
	}
	if err := o.deps.Lake.PutJSON(ctx, lake.LayerArtifacts, chunkKey, out.ChunkSummaries); err != nil {
		return analysis.Output{}, err
	}

	gold := GoldPayload{
		RunID:             r.job.RunID,
		CollectedAt:       r.parts.CollectedAt,
		StoreID:           r.job.StoreID,
		CrawlerVersion:    o.cfg.CrawlerVersion,
		ParserVersion:     o.cfg.ParserVersion,
		LLMModel:          out.Model,
		PromptVersion:     out.PromptVersion,
		PromptHash:        out.PromptHash,
		InputSnapshotPath: r.silverPath,
		Tokens:            out.Usage,
		ChunkCount:        out.ChunkCount,
		FallbackChunks:    out.FallbackChunks,
		FallbackFinal:     out.FallbackFinal,
		Store: &GoldStore{
			URL:       firstNonEmpty(current.URL, r.job.URL),
			Name:      current.Name,
			Address:   current.Address,
			Latitude:  current.Lat,
			Longitude: current.Lng,
		},
		Analysis: out.Result,
	}
	goldKey, err := r.parts.GoldAnalysis()
	if err != nil {
		return analysis.Output{}, err
	}
	if err := o.deps.Lake.PutJSON(ctx, lake.LayerGold, goldKey, gold); err != nil {
		return analysis.Output{}, err
	}
	r.goldPath = o.deps.Lake.URI(lake.LayerGold, goldKey)

	if err := o.serve(ctx, r, out, parsed); err != nil {
		return analysis.Output{}, atStage(StageServing, err)
	}
	return out, nil
}

// serve updates the serving tables for a finished analysis. Embedding
// failures are logged and never fail the run.
func (o *Orchestrator) serve(ctx context.Context, r *run, out analysis.Output, parsed []review.Review) error {
	now := o.deps.Clock.Now()
	res := out.Result
	var category string
	if len(res.Categories) > 0 {
		category = res.Categories[0]
	}
	if err := o.deps.Repo.UpsertStore(ctx, store.Store{
		StoreID:       r.job.StoreID,
		URL:           r.job.URL,
		Category:      category,
		TransportInfo: res.TransportInfo,
		UpdatedAt:     now,
	}); err != nil {
		return err
	}
	if err := o.deps.Repo.UpsertAnalysis(ctx, store.Analysis{
		RunID:         r.job.RunID,
		StoreID:       r.job.StoreID,
		CollectedAt:   r.collectedAt,
		Model:         out.Model,
		PromptVersion: out.PromptVersion,
		Result:        res,
		UpdatedAt:     now,
	}); err != nil {
		return err
	}
	if err := o.deps.Repo.UpsertReviews(ctx, r.job.StoreID, parsed, o.cfg.ReviewLogCap, now); err != nil {
		return err
	}
	o.embed(ctx, r, res)
	return nil
}

func (o *Orchestrator) embed(ctx context.Context, r *run, res analysis.Result) {
	if o.deps.Embedder == nil {
		return
	}
	current, err := o.deps.Repo.GetStore(ctx, r.job.StoreID)
	if err != nil {
		r.logger.Warn("embedding skipped: store lookup failed", zap.Error(err))
		return
	}
	doc := embedding.Document{
		Name:    firstNonEmpty(res.RestaurantName, current.Name),
		Address: current.Address,
		Summary: res.Summary,
		Menus:   res.SignatureMenu,
		Tags:    res.ReviewSummary.Tags,
	}
	vec, err := o.deps.Embedder.Embed(ctx, doc.Text())
	if err != nil {
		r.logger.Warn("embedding failed", zap.Error(err))
		return
	}
	if err := o.deps.Repo.UpsertEmbedding(ctx, store.Embedding{
		StoreID:   r.job.StoreID,
		DocType:   embedding.DocTypeStoreProfile,
		Model:     vec.Model,
		Vector:    vec.Values,
		UpdatedAt: o.deps.Clock.Now(),
	}); err != nil {
		r.logger.Warn("embedding upsert failed", zap.Error(err))
	}
}

// fail writes the terminal failed snapshot and classifies err. The write
// ignores cancellation of ctx so a shutdown still records the failure.
func (o *Orchestrator) fail(ctx context.Context, r *run, stage string, err error) Outcome {
	errType, kind := Classify(err)
	if s := stageOf(err); s != "" {
		stage = s
	}
	if stage == "" {
		stage = "orchestrator"
	}
	reason := strings.TrimSpace(err.Error())
	if reason == "" {
		reason = errType
	}

	if r.job.RunID != "" {
		writeCtx := context.WithoutCancel(ctx)
		upd := store.SnapshotUpdate{
			Status:       store.StatusFailed,
			Progress:     ProgressDone,
			ErrorReason:  reason,
			ErrorType:    errType,
			ErrorStage:   stage,
			EvidencePath: r.evidence,
			At:           o.deps.Clock.Now(),
		}
		werr := o.deps.Repo.UpdateSnapshot(writeCtx, r.job.RunID, upd)
		switch {
		case errors.Is(werr, store.ErrNotFound):
			r.logger.Debug("no snapshot to mark failed")
		case werr != nil:
			r.logger.Error("failed to record failed snapshot", zap.Error(werr))
		}
	}

	metrics.ObserveRun(string(store.StatusFailed), errType)
	r.logger.Error("run failed",
		zap.String("stage", stage),
		zap.String("error_type", errType),
		zap.Stringer("outcome", kind),
		zap.Error(err),
	)
	return Outcome{Kind: kind, RunID: r.job.RunID, ErrorType: errType, Stage: stage, Err: err}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
