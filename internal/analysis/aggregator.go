package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/hidden-spot/internal/llm"
	"github.com/JakeFAU/hidden-spot/internal/metrics"
	"github.com/JakeFAU/hidden-spot/internal/ratelimit"
)

// DisabledModel is reported as the model name when no generator is wired.
const DisabledModel = "disabled"

const (
	defaultChunkSize   = 80
	defaultConcurrency = 2
	limiterKey         = "generative"
)

// Options configures an Aggregator.
type Options struct {
	// Generator may be nil, in which case every stage uses fallbacks.
	Generator      llm.Generator
	Lister         llm.ModelLister
	Model          string
	FallbackModels []string
	Prompts        Prompts
	ChunkSize      int
	Concurrency    int
	RequestTimeout time.Duration
	Limiter        *ratelimit.Limiter
	Logger         *zap.Logger
}

// Aggregator summarizes review batches with a map stage per chunk and a
// single reduce call.
type Aggregator struct {
	gen         llm.Generator
	models      *ModelSelector
	prompts     Prompts
	chunkSize   int
	concurrency int
	timeout     time.Duration
	limiter     *ratelimit.Limiter
	logger      *zap.Logger
}

// Input is one analysis request.
type Input struct {
	Reviews []string
	Store   StoreContext
}

// Output carries the normalized result with its provenance.
type Output struct {
	Result         Result
	ChunkSummaries []ChunkSummary
	ChunkCount     int
	Model          string
	PromptVersion  string
	PromptHash     string
	Usage          llm.Usage
	FallbackChunks int
	FallbackFinal  bool
}

// New builds an Aggregator.
func New(opts Options) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("analysis")
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Aggregator{
		gen:         opts.Generator,
		models:      NewModelSelector(opts.Lister, llm.CapabilityGenerate, opts.Model, opts.FallbackModels, logger),
		prompts:     opts.Prompts,
		chunkSize:   chunkSize,
		concurrency: concurrency,
		timeout:     opts.RequestTimeout,
		limiter:     opts.Limiter,
		logger:      logger,
	}
}

// Model returns the model currently selected, or DisabledModel.
func (a *Aggregator) Model() string {
	if a.gen == nil {
		return DisabledModel
	}
	return a.models.Current()
}

// Analyze runs the map and reduce stages. Generative failures never fail
// the call; only context cancellation does.
func (a *Aggregator) Analyze(ctx context.Context, in Input) (Output, error) {
	chunks := Partition(in.Reviews, a.chunkSize)
	summaries := make([]ChunkSummary, len(chunks))
	usages := make([]llm.Usage, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			summaries[i], usages[i] = a.summarizeChunk(gctx, i, chunk)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Output{}, err
	}
	if err := ctx.Err(); err != nil {
		return Output{}, fmt.Errorf("analyze: %w", err)
	}

	out := Output{
		ChunkSummaries: summaries,
		ChunkCount:     len(chunks),
		PromptVersion:  a.prompts.Version,
		PromptHash:     a.prompts.Hash,
	}
	for i := range summaries {
		out.Usage = out.Usage.Add(usages[i])
		if summaries[i].Fallback {
			out.FallbackChunks++
		}
	}

	raw, usage, err := a.reduce(ctx, in.Store, summaries)
	out.Usage = out.Usage.Add(usage)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Output{}, fmt.Errorf("analyze: %w", ctxErr)
		}
		a.logger.Warn("reduce failed, using fallback", zap.Error(err))
		raw = FallbackFinal(summaries)
		out.FallbackFinal = true
	}
	out.Result = Normalize(raw, in.Store)
	out.Model = a.Model()
	return out, nil
}

func (a *Aggregator) summarizeChunk(ctx context.Context, index int, reviews []string) (ChunkSummary, llm.Usage) {
	prompt := a.prompts.Chunk + "\n\n리뷰 묶음:\n" + strings.Join(reviews, "\n")
	resp, err := a.generate(ctx, "chunk", prompt)
	if err != nil {
		a.logger.Warn("chunk summary failed, using fallback", zap.Int("chunk", index), zap.Error(err))
		return FallbackChunk(reviews), resp.Usage
	}
	m, err := DecodeObject(resp.Text)
	if err != nil {
		a.logger.Warn("chunk summary unparseable, using fallback", zap.Int("chunk", index), zap.Error(err))
		return FallbackChunk(reviews), resp.Usage
	}
	return ChunkSummary{
		Vibe:          str(m["vibe"]),
		SignatureMenu: firstList(m["signature_menu"], m["must_eat_menus"]),
		Tips:          strList(m["tips"]),
		Summary:       str(m["summary"]),
	}, resp.Usage
}

type reducePayload struct {
	Store  reduceStore    `json:"store"`
	Chunks []ChunkSummary `json:"chunks"`
}

type reduceStore struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

var errNoChunks = errors.New("no chunk summaries to reduce")

func (a *Aggregator) reduce(ctx context.Context, store StoreContext, summaries []ChunkSummary) (map[string]any, llm.Usage, error) {
	if len(summaries) == 0 {
		return nil, llm.Usage{}, errNoChunks
	}
	payload, err := json.Marshal(reducePayload{
		Store:  reduceStore{Name: store.Name, Address: store.Address},
		Chunks: summaries,
	})
	if err != nil {
		return nil, llm.Usage{}, fmt.Errorf("encode chunk summaries: %w", err)
	}
	prompt := a.prompts.Analysis + "\n\nchunk summaries:\n" + string(payload)
	resp, err := a.generate(ctx, "reduce", prompt)
	if err != nil {
		return nil, resp.Usage, err
	}
	m, err := DecodeObject(resp.Text)
	if err != nil {
		return nil, resp.Usage, err
	}
	return m, resp.Usage, nil
}

// generate issues one request, retrying once on a switched model when the
// backend rejects the current one.
func (a *Aggregator) generate(ctx context.Context, phase, prompt string) (llm.Response, error) {
	if a.gen == nil {
		return llm.Response{}, errors.New("generative backend disabled")
	}
	model := a.models.Current()
	resp, err := a.call(ctx, phase, model, prompt)
	if err == nil || !llm.IsModelUnavailable(err) {
		return resp, err
	}
	next, ok := a.models.Fallback(ctx, model)
	if !ok {
		return resp, err
	}
	return a.call(ctx, phase, next, prompt)
}

func (a *Aggregator) call(ctx context.Context, phase, model, prompt string) (llm.Response, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, limiterKey); err != nil {
			return llm.Response{}, err
		}
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	resp, err := a.gen.Generate(ctx, llm.Request{Model: model, Prompt: prompt, JSON: true})
	outcome := "ok"
	switch {
	case llm.IsModelUnavailable(err):
		outcome = "model_unavailable"
	case err != nil:
		outcome = "error"
	}
	metrics.ObserveGenerative(phase, model, outcome)
	if err != nil {
		return resp, fmt.Errorf("%s request on %s: %w", phase, model, err)
	}
	return resp, nil
}

// Partition splits items into consecutive chunks of at most size.
func Partition(items []string, size int) [][]string {
	if size <= 0 {
		size = defaultChunkSize
	}
	chunks := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
