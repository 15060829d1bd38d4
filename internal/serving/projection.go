// Package serving builds the client-facing restaurant view from the
// relational tables. It reconciles the current analysis, the canonical store
// row and any legacy import, and hides projections with no usable content.
package serving

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/analysis"
	"github.com/JakeFAU/hidden-spot/internal/quality"
	"github.com/JakeFAU/hidden-spot/internal/store"
)

// ErrNotFound is returned for missing or filtered restaurants.
var ErrNotFound = errors.New("restaurant not found")

// Restaurant is the served shape of one place.
type Restaurant struct {
	ID            string                 `json:"id"`
	StoreID       string                 `json:"store_id"`
	Name          string                 `json:"name"`
	Address       string                 `json:"address"`
	Latitude      *float64               `json:"latitude"`
	Longitude     *float64               `json:"longitude"`
	Score         int                    `json:"ai_score"`
	TransportInfo string                 `json:"transport_info"`
	Summary       string                 `json:"summary_3lines"`
	Vibe          string                 `json:"vibe"`
	Menus         []string               `json:"must_eat_menus"`
	Tips          []string               `json:"tips"`
	Tags          []string               `json:"search_tags"`
	Categories    []string               `json:"categories"`
	ReviewSummary analysis.ReviewSummary `json:"summary_json"`
	AdReviewRatio float64                `json:"ad_review_ratio"`
	OriginalURL   string                 `json:"original_url"`
	RawReviews    []string               `json:"raw_reviews"`
	RunID         string                 `json:"run_id,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Config tunes the projection.
type Config struct {
	// ReviewWindow caps the raw reviews attached to each restaurant.
	ReviewWindow int
	// LowQualityMarkers are portal chrome phrases; a summary carrying
	// MinMarkerHits of them is boilerplate.
	LowQualityMarkers []string
	MinMarkerHits     int
}

// Query filters List.
type Query struct {
	MinScore int
	Keyword  string
	Limit    int
}

// Projection reads restaurants from a ServingRepository.
type Projection struct {
	repo   store.ServingRepository
	cfg    Config
	logger *zap.Logger
}

// New builds a Projection.
func New(repo store.ServingRepository, cfg Config, logger *zap.Logger) *Projection {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinMarkerHits <= 0 {
		cfg.MinMarkerHits = 2
	}
	return &Projection{repo: repo, cfg: cfg, logger: logger.Named("serving")}
}

// Get returns one restaurant, or ErrNotFound when it is missing or fails
// the low-quality filter.
func (p *Projection) Get(ctx context.Context, storeID string) (Restaurant, error) {
	if strings.TrimSpace(storeID) == "" {
		return Restaurant{}, ErrNotFound
	}
	rows, err := p.repo.ListProjection(ctx, storeID, p.cfg.ReviewWindow)
	if err != nil {
		return Restaurant{}, fmt.Errorf("load restaurant %s: %w", storeID, err)
	}
	for _, row := range rows {
		if row.Store.StoreID != storeID {
			continue
		}
		r := Reconcile(row)
		if p.LowQuality(r) {
			p.logger.Debug("hiding low-quality restaurant", zap.String("store_id", storeID))
			return Restaurant{}, ErrNotFound
		}
		return r, nil
	}
	return Restaurant{}, ErrNotFound
}

// List returns every servable restaurant matching q, most recently updated
// first.
func (p *Projection) List(ctx context.Context, q Query) ([]Restaurant, error) {
	rows, err := p.repo.ListProjection(ctx, "", p.cfg.ReviewWindow)
	if err != nil {
		return nil, fmt.Errorf("list restaurants: %w", err)
	}
	keywords := ExpandKeyword(q.Keyword)
	out := make([]Restaurant, 0, len(rows))
	hidden := 0
	for _, row := range rows {
		r := Reconcile(row)
		if p.LowQuality(r) {
			hidden++
			continue
		}
		if r.Score < q.MinScore {
			continue
		}
		if len(keywords) > 0 && !Matches(r, keywords) {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	if hidden > 0 {
		p.logger.Debug("hid low-quality restaurants", zap.Int("count", hidden))
	}
	return out, nil
}

// Reconcile resolves each field from the latest analysis, then the store
// row, then the legacy record, taking the first non-empty value.
func Reconcile(row store.ProjectionRow) Restaurant {
	s := row.Store
	var (
		res    analysis.Result
		legacy store.LegacyRecord
	)
	if row.Analysis != nil {
		res = row.Analysis.Result
	}
	if row.Legacy != nil {
		legacy = *row.Legacy
	}

	r := Restaurant{
		ID:            s.StoreID,
		StoreID:       s.StoreID,
		Name:          firstText(res.RestaurantName, s.Name, legacy.Name),
		Address:       firstText(s.Address, legacy.Address),
		Latitude:      firstFloat(s.Lat, legacy.Lat),
		Longitude:     firstFloat(s.Lng, legacy.Lng),
		TransportInfo: firstText(res.TransportInfo, s.TransportInfo, legacy.TransportInfo),
		Summary:       firstText(res.Summary, legacy.Summary),
		Vibe:          firstText(res.Vibe, s.Category),
		Menus:         firstList(res.SignatureMenu, legacy.Menus),
		Tips:          firstList(res.Tips),
		Tags:          firstList(res.ReviewSummary.Tags, legacy.SearchTags),
		Categories:    firstList(res.Categories, single(s.Category)),
		ReviewSummary: res.ReviewSummary,
		AdReviewRatio: res.AdReviewRatio,
		OriginalURL:   firstText(s.URL, legacy.URL),
		RawReviews:    firstList(row.Reviews),
		UpdatedAt:     s.UpdatedAt,
	}
	switch {
	case row.Analysis != nil:
		r.Score = res.RecommendationScore
		r.RunID = row.Analysis.RunID
		if row.Analysis.UpdatedAt.After(r.UpdatedAt) {
			r.UpdatedAt = row.Analysis.UpdatedAt
		}
	case legacy.Score != nil:
		r.Score = *legacy.Score
	}
	if r.ReviewSummary.Tags == nil {
		r.ReviewSummary.Tags = r.Tags
	}
	return r
}

// LowQuality reports whether r lacks the content to be served as a
// settled restaurant.
func (p *Projection) LowQuality(r Restaurant) bool {
	name := strings.TrimSpace(r.Name)
	hasMenus := len(r.Menus) > 0
	hasSummary := meaningfulSummary(r.Summary)

	if name == "" && !hasMenus && !hasSummary {
		return true
	}
	if name == r.StoreID && !hasMenus && !hasSummary {
		return true
	}
	if !hasMenus && quality.MarkerHits(r.Summary, p.cfg.LowQualityMarkers) >= p.cfg.MinMarkerHits {
		return true
	}
	return false
}

func meaningfulSummary(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != analysis.PlaceholderFinalSummary && s != analysis.PlaceholderChunkSummary
}

func firstText(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstFloat(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstList(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return []string{}
}

func single(v string) []string {
	if v = strings.TrimSpace(v); v == "" {
		return nil
	}
	return []string{v}
}
