// Package backfill replays gold analysis artifacts into the serving tables.
// Replays are idempotent: each payload is keyed by its own run id.
package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/analysis"
	"github.com/JakeFAU/hidden-spot/internal/keys"
	"github.com/JakeFAU/hidden-spot/internal/lake"
	"github.com/JakeFAU/hidden-spot/internal/pipeline"
	"github.com/JakeFAU/hidden-spot/internal/store"
)

// PlaceURLPrefix builds a canonical place URL when a payload carries none.
const PlaceURLPrefix = "https://map.naver.com/p/entry/place/"

// Report summarizes one backfill pass.
type Report struct {
	OK       bool `json:"ok"`
	GoldKeys int  `json:"gold_keys"`
	Upserted int  `json:"upserted"`
	Skipped  int  `json:"skipped"`
	Failures int  `json:"failures"`
	DryRun   bool `json:"dry_run"`
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Backfiller replays gold payloads.
type Backfiller struct {
	lake   *lake.Lake
	repo   store.Repository
	clock  Clock
	logger *zap.Logger
}

// New builds a Backfiller.
func New(l *lake.Lake, repo store.Repository, clock Clock, logger *zap.Logger) *Backfiller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backfiller{lake: l, repo: repo, clock: clock, logger: logger.Named("backfill")}
}

// goldRecord is the subset of a gold payload the replay reads. Analysis and
// legacy_source are decoded leniently; older payloads carry other shapes.
type goldRecord struct {
	RunID         string          `json:"run_id"`
	StoreID       string          `json:"store_id"`
	CollectedAt   string          `json:"collected_at"`
	LLMModel      string          `json:"llm_model"`
	PromptVersion string          `json:"prompt_version"`
	Store         json.RawMessage `json:"store"`
	Analysis      json.RawMessage `json:"analysis"`
	Legacy        json.RawMessage `json:"legacy_source"`
}

var errSkip = errors.New("payload lacks run_id, store_id or collected_at")

// Run replays up to limit gold keys in lexical order; zero means all. With
// dryRun set, payloads are decoded and counted but nothing is written.
func (b *Backfiller) Run(ctx context.Context, limit int, dryRun bool) (Report, error) {
	goldKeys, err := b.lake.ListKeys(ctx, lake.LayerGold, keys.GoldPrefix)
	if err != nil {
		return Report{}, fmt.Errorf("list gold keys: %w", err)
	}
	if limit > 0 && len(goldKeys) > limit {
		goldKeys = goldKeys[:limit]
	}

	report := Report{GoldKeys: len(goldKeys), DryRun: dryRun}
	for _, key := range goldKeys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		err := b.replay(ctx, key, dryRun)
		switch {
		case err == nil:
			report.Upserted++
		case errors.Is(err, errSkip):
			report.Skipped++
			b.logger.Debug("skipped gold payload", zap.String("key", key))
		default:
			report.Failures++
			b.logger.Warn("gold replay failed", zap.String("key", key), zap.Error(err))
		}
	}
	report.OK = report.Failures == 0
	b.logger.Info("backfill finished",
		zap.Int("gold_keys", report.GoldKeys),
		zap.Int("upserted", report.Upserted),
		zap.Int("skipped", report.Skipped),
		zap.Int("failures", report.Failures),
		zap.Bool("dry_run", dryRun),
	)
	return report, nil
}

func (b *Backfiller) replay(ctx context.Context, key string, dryRun bool) error {
	var rec goldRecord
	if err := b.lake.GetJSON(ctx, lake.LayerGold, key, &rec); err != nil {
		if errors.Is(err, lake.ErrObjectNotFound) {
			return err
		}
		var se *lake.StorageError
		if errors.As(err, &se) {
			return err
		}
		return errSkip
	}
	rec.RunID = strings.TrimSpace(rec.RunID)
	rec.StoreID = strings.TrimSpace(rec.StoreID)
	if rec.RunID == "" || rec.StoreID == "" || strings.TrimSpace(rec.CollectedAt) == "" {
		return errSkip
	}
	collectedAt, err := keys.ParseTimestamp(rec.CollectedAt)
	if err != nil {
		return fmt.Errorf("gold %s: %w", key, err)
	}

	var crawled pipeline.GoldStore
	_ = json.Unmarshal(rec.Store, &crawled)
	legacy := object(rec.Legacy)
	result := analysis.Normalize(object(rec.Analysis), analysis.StoreContext{
		Name:    firstNonEmpty(crawled.Name, text(legacy["name"])),
		Address: firstNonEmpty(crawled.Address, text(legacy["address"])),
	})

	url := firstNonEmpty(text(legacy["original_url"]), text(legacy["url"]), crawled.URL, PlaceURLPrefix+rec.StoreID)
	lat := firstFloat(crawled.Latitude, number(legacy["latitude"]))
	lng := firstFloat(crawled.Longitude, number(legacy["longitude"]))
	if dryRun {
		return nil
	}

	now := b.clock.Now()
	if err := b.repo.UpsertStore(ctx, store.Store{
		StoreID:       rec.StoreID,
		URL:           url,
		Name:          firstNonEmpty(crawled.Name, text(legacy["name"])),
		Address:       firstNonEmpty(crawled.Address, text(legacy["address"])),
		Lat:           lat,
		Lng:           lng,
		Category:      result.Vibe,
		TransportInfo: firstNonEmpty(result.TransportInfo, text(legacy["transport_info"])),
		UpdatedAt:     now,
	}); err != nil {
		return err
	}
	if err := b.repo.UpsertAnalysis(ctx, store.Analysis{
		RunID:         rec.RunID,
		StoreID:       rec.StoreID,
		CollectedAt:   collectedAt,
		Model:         rec.LLMModel,
		PromptVersion: rec.PromptVersion,
		Result:        result,
		UpdatedAt:     now,
	}); err != nil {
		return err
	}

	snap := store.Snapshot{
		RunID:         rec.RunID,
		StoreID:       rec.StoreID,
		URL:           url,
		CollectedAt:   collectedAt,
		Status:        store.StatusCompleted,
		Progress:      pipeline.ProgressDone,
		GoldPath:      b.lake.URI(lake.LayerGold, key),
		EvidencePaths: []string{},
		UpdatedAt:     now,
	}
	prev, err := b.repo.GetSnapshot(ctx, rec.RunID)
	switch {
	case err == nil:
		snap.BronzePath = prev.BronzePath
		snap.SilverPath = prev.SilverPath
		snap.EvidencePaths = prev.EvidencePaths
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	if err := b.repo.UpsertSnapshot(ctx, snap); err != nil {
		return err
	}

	if len(legacy) > 0 {
		lr := store.LegacyRecord{
			StoreID:       rec.StoreID,
			URL:           firstNonEmpty(text(legacy["original_url"]), text(legacy["url"])),
			Name:          text(legacy["name"]),
			Address:       text(legacy["address"]),
			Lat:           number(legacy["latitude"]),
			Lng:           number(legacy["longitude"]),
			TransportInfo: text(legacy["transport_info"]),
			SearchTags:    list(legacy["search_tags"]),
			Summary:       firstNonEmpty(text(legacy["summary"]), text(legacy["summary_3lines"])),
			Menus:         list(legacy["must_eat_menus"]),
		}
		if v := number(legacy["ai_score"]); v != nil {
			score := int(*v)
			lr.Score = &score
		}
		if err := b.repo.UpsertLegacy(ctx, lr); err != nil {
			return err
		}
	}
	return nil
}

func object(raw json.RawMessage) map[string]any {
	var m map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil {
		return map[string]any{}
	}
	return m
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func number(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func list(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := text(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstFloat(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
