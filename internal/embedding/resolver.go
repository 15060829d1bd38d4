// Package embedding resolves a working embedding model at runtime and turns
// store profiles into vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/llm"
	"github.com/JakeFAU/hidden-spot/internal/metrics"
)

// DocTypeStoreProfile is the document type for a store's summary vector.
const DocTypeStoreProfile = "store_profile"

var (
	// ErrNoModel means every candidate model has been rejected.
	ErrNoModel = errors.New("no embedding model available")
	// ErrShortVector means the backend returned fewer values than required.
	ErrShortVector = errors.New("embedding shorter than target dimension")
)

// Vector is an embedding together with the model that produced it.
type Vector struct {
	Model  string
	Values []float32
}

// Resolver tries the configured model, then ranked fallbacks. Models the
// backend rejects by name are skipped for the life of the Resolver.
type Resolver struct {
	embedder   llm.Embedder
	candidates []string
	dimension  int
	logger     *zap.Logger

	mu      sync.Mutex
	skipped map[string]struct{}
}

// NewResolver builds a Resolver. dimension <= 0 accepts any length.
func NewResolver(embedder llm.Embedder, model string, fallbacks []string, dimension int, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	seen := make(map[string]struct{})
	candidates := make([]string, 0, len(fallbacks)+1)
	for _, m := range append([]string{model}, fallbacks...) {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		candidates = append(candidates, m)
	}
	return &Resolver{
		embedder:   embedder,
		candidates: candidates,
		dimension:  dimension,
		logger:     logger.Named("embedding"),
		skipped:    make(map[string]struct{}),
	}
}

// Embed returns a vector of exactly the target dimension.
func (r *Resolver) Embed(ctx context.Context, text string) (Vector, error) {
	if r.embedder == nil {
		return Vector{}, ErrNoModel
	}
	var prev string
	for _, model := range r.candidates {
		if r.isSkipped(model) {
			continue
		}
		if prev != "" {
			metrics.ObserveModelFallback(string(llm.CapabilityEmbed), prev, model)
		}
		values, err := r.embedder.Embed(ctx, model, text, r.dimension)
		if err != nil {
			if llm.IsModelUnavailable(err) {
				r.skip(model)
				r.logger.Warn("embedding model unavailable, skipping", zap.String("model", model), zap.Error(err))
				prev = model
				continue
			}
			metrics.ObserveEmbedding("error")
			return Vector{}, fmt.Errorf("embed with %s: %w", model, err)
		}
		values, err = r.fit(values)
		if err != nil {
			metrics.ObserveEmbedding("rejected")
			return Vector{}, fmt.Errorf("embed with %s: %w", model, err)
		}
		metrics.ObserveEmbedding("ok")
		return Vector{Model: model, Values: values}, nil
	}
	metrics.ObserveEmbedding("no_model")
	return Vector{}, ErrNoModel
}

// fit truncates long vectors and rejects short ones.
func (r *Resolver) fit(values []float32) ([]float32, error) {
	if r.dimension <= 0 {
		return values, nil
	}
	if len(values) < r.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrShortVector, len(values), r.dimension)
	}
	return values[:r.dimension:r.dimension], nil
}

func (r *Resolver) isSkipped(model string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.skipped[model]
	return ok
}

func (r *Resolver) skip(model string) {
	r.mu.Lock()
	r.skipped[model] = struct{}{}
	r.mu.Unlock()
}

// Document is the text embedded for a store.
type Document struct {
	Name    string
	Address string
	Summary string
	Menus   []string
	Tags    []string
}

// Text renders the document as newline-separated labelled fields, omitting
// empty ones.
func (d Document) Text() string {
	lines := make([]string, 0, 5)
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	add("name", d.Name)
	add("address", d.Address)
	add("summary", d.Summary)
	add("menus", strings.Join(d.Menus, ", "))
	add("tags", strings.Join(d.Tags, " "))
	return strings.Join(lines, "\n")
}
