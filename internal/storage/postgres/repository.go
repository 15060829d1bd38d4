// Package postgres provides the Postgres-backed snapshot and serving
// repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/review"
	"github.com/JakeFAU/hidden-spot/internal/store"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the repository uses; pgxmock
// satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Repository implements store.Repository.
type Repository struct {
	db     pool
	logger *zap.Logger
}

var _ store.Repository = (*Repository)(nil)

// New connects to Postgres.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, logger)
}

// NewWithPool builds a Repository over an existing pool.
func NewWithPool(p pool, logger *zap.Logger) (*Repository, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: p, logger: logger.Named("postgres")}, nil
}

// Close releases the pool.
func (r *Repository) Close() {
	if r == nil || r.db == nil {
		return
	}
	r.db.Close()
}

func relErr(op string, err error) error {
	return &store.RelationalError{Op: op, Err: err}
}

const upsertStoreSQL = `
INSERT INTO stores (store_id, url, name, address, lat, lng, category, transport_info, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $9)
ON CONFLICT (store_id) DO UPDATE SET
	url            = COALESCE(NULLIF(EXCLUDED.url, ''), stores.url),
	name           = COALESCE(EXCLUDED.name, stores.name),
	address        = COALESCE(EXCLUDED.address, stores.address),
	lat            = COALESCE(EXCLUDED.lat, stores.lat),
	lng            = COALESCE(EXCLUDED.lng, stores.lng),
	category       = COALESCE(EXCLUDED.category, stores.category),
	transport_info = COALESCE(EXCLUDED.transport_info, stores.transport_info),
	updated_at     = GREATEST(EXCLUDED.updated_at, stores.updated_at)`

// UpsertStore inserts s or merges it into the existing row.
func (r *Repository) UpsertStore(ctx context.Context, s store.Store) error {
	if strings.TrimSpace(s.StoreID) == "" {
		return relErr("upsert store", errors.New("store_id is required"))
	}
	_, err := r.db.Exec(ctx, upsertStoreSQL,
		s.StoreID,
		strings.TrimSpace(s.URL),
		strings.TrimSpace(s.Name),
		strings.TrimSpace(s.Address),
		s.Lat,
		s.Lng,
		strings.TrimSpace(s.Category),
		strings.TrimSpace(s.TransportInfo),
		stamp(s.UpdatedAt),
	)
	if err != nil {
		return relErr("upsert store", err)
	}
	return nil
}

const getStoreSQL = `
SELECT store_id, url, name, address, lat, lng, category, transport_info, created_at, updated_at
FROM stores WHERE store_id = $1`

// GetStore loads one store.
func (r *Repository) GetStore(ctx context.Context, storeID string) (store.Store, error) {
	var (
		s                                  store.Store
		name, address, category, transport *string
	)
	err := r.db.QueryRow(ctx, getStoreSQL, storeID).Scan(
		&s.StoreID, &s.URL, &name, &address, &s.Lat, &s.Lng, &category, &transport, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Store{}, store.ErrNotFound
	}
	if err != nil {
		return store.Store{}, relErr("get store", err)
	}
	s.Name, s.Address, s.Category, s.TransportInfo = deref(name), deref(address), deref(category), deref(transport)
	return s, nil
}

const upsertSnapshotSQL = `
INSERT INTO store_snapshots (
	run_id, store_id, url, collected_at, status, progress,
	bronze_path, silver_path, gold_path, error_reason, error_type, error_stage,
	evidence_paths, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''),
	$13, $14, $14
)
ON CONFLICT (run_id) DO UPDATE SET
	store_id       = EXCLUDED.store_id,
	url            = EXCLUDED.url,
	collected_at   = EXCLUDED.collected_at,
	status         = EXCLUDED.status,
	progress       = EXCLUDED.progress,
	bronze_path    = EXCLUDED.bronze_path,
	silver_path    = EXCLUDED.silver_path,
	gold_path      = EXCLUDED.gold_path,
	error_reason   = EXCLUDED.error_reason,
	error_type     = EXCLUDED.error_type,
	error_stage    = EXCLUDED.error_stage,
	evidence_paths = EXCLUDED.evidence_paths,
	updated_at     = EXCLUDED.updated_at`

// UpsertSnapshot inserts the snapshot or replaces the row for its run.
func (r *Repository) UpsertSnapshot(ctx context.Context, snap store.Snapshot) error {
	if snap.RunID == "" || snap.StoreID == "" {
		return relErr("upsert snapshot", errors.New("run_id and store_id are required"))
	}
	evidence, err := jsonb(nonNil(snap.EvidencePaths))
	if err != nil {
		return relErr("upsert snapshot", err)
	}
	_, err = r.db.Exec(ctx, upsertSnapshotSQL,
		snap.RunID, snap.StoreID, snap.URL, snap.CollectedAt, string(snap.Status), snap.Progress,
		snap.BronzePath, snap.SilverPath, snap.GoldPath, snap.ErrorReason, snap.ErrorType, snap.ErrorStage,
		evidence, stamp(snap.UpdatedAt),
	)
	if err != nil {
		return relErr("upsert snapshot", err)
	}
	return nil
}

const updateSnapshotSQL = `
UPDATE store_snapshots SET
	status         = $2,
	progress       = GREATEST(progress, $3),
	bronze_path    = COALESCE(NULLIF($4, ''), bronze_path),
	silver_path    = COALESCE(NULLIF($5, ''), silver_path),
	gold_path      = COALESCE(NULLIF($6, ''), gold_path),
	error_reason   = NULLIF($7, ''),
	error_type     = NULLIF($8, ''),
	error_stage    = NULLIF($9, ''),
	evidence_paths = CASE WHEN $10::text = '' THEN evidence_paths
	                      ELSE evidence_paths || jsonb_build_array($10::text) END,
	updated_at     = $11
WHERE run_id = $1 AND status NOT IN ('completed', 'failed')`

const snapshotStatusSQL = `SELECT status FROM store_snapshots WHERE run_id = $1`

// UpdateSnapshot writes status and progress in one statement. Updates to
// terminal snapshots are ignored.
func (r *Repository) UpdateSnapshot(ctx context.Context, runID string, upd store.SnapshotUpdate) error {
	tag, err := r.db.Exec(ctx, updateSnapshotSQL,
		runID, string(upd.Status), upd.Progress,
		upd.BronzePath, upd.SilverPath, upd.GoldPath,
		upd.ErrorReason, upd.ErrorType, upd.ErrorStage,
		upd.EvidencePath, stamp(upd.At),
	)
	if err != nil {
		return relErr("update snapshot", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	err = r.db.QueryRow(ctx, snapshotStatusSQL, runID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return relErr("update snapshot", err)
	}
	r.logger.Debug("ignoring update to terminal snapshot",
		zap.String("run_id", runID),
		zap.String("status", status),
		zap.String("requested", string(upd.Status)),
	)
	return nil
}

const getSnapshotSQL = `
SELECT run_id, store_id, url, collected_at, status, progress,
	bronze_path, silver_path, gold_path, error_reason, error_type, error_stage,
	evidence_paths, created_at, updated_at
FROM store_snapshots WHERE run_id = $1`

// GetSnapshot loads one snapshot.
func (r *Repository) GetSnapshot(ctx context.Context, runID string) (store.Snapshot, error) {
	var (
		snap                                          store.Snapshot
		status                                        string
		bronze, silver, gold, reason, errType, errStg *string
		evidence                                      []byte
	)
	err := r.db.QueryRow(ctx, getSnapshotSQL, runID).Scan(
		&snap.RunID, &snap.StoreID, &snap.URL, &snap.CollectedAt, &status, &snap.Progress,
		&bronze, &silver, &gold, &reason, &errType, &errStg,
		&evidence, &snap.CreatedAt, &snap.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Snapshot{}, store.ErrNotFound
	}
	if err != nil {
		return store.Snapshot{}, relErr("get snapshot", err)
	}
	snap.Status = store.Status(status)
	snap.BronzePath, snap.SilverPath, snap.GoldPath = deref(bronze), deref(silver), deref(gold)
	snap.ErrorReason, snap.ErrorType, snap.ErrorStage = deref(reason), deref(errType), deref(errStg)
	snap.EvidencePaths = []string{}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &snap.EvidencePaths); err != nil {
			return store.Snapshot{}, relErr("get snapshot", fmt.Errorf("decode evidence_paths: %w", err))
		}
	}
	return snap, nil
}

const upsertAnalysisSQL = `
INSERT INTO analysis (
	run_id, store_id, collected_at, restaurant_name, summary_3lines, vibe,
	signature_menu_json, tips_json, score, ad_review_ratio, review_summary_json, categories_json,
	transport_info, model, prompt_version, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (run_id) DO UPDATE SET
	store_id            = EXCLUDED.store_id,
	collected_at        = EXCLUDED.collected_at,
	restaurant_name     = EXCLUDED.restaurant_name,
	summary_3lines      = EXCLUDED.summary_3lines,
	vibe                = EXCLUDED.vibe,
	signature_menu_json = EXCLUDED.signature_menu_json,
	tips_json           = EXCLUDED.tips_json,
	score               = EXCLUDED.score,
	ad_review_ratio     = EXCLUDED.ad_review_ratio,
	review_summary_json = EXCLUDED.review_summary_json,
	categories_json     = EXCLUDED.categories_json,
	transport_info      = EXCLUDED.transport_info,
	model               = EXCLUDED.model,
	prompt_version      = EXCLUDED.prompt_version,
	updated_at          = EXCLUDED.updated_at`

// UpsertAnalysis inserts the run's analysis or replaces it entirely.
func (r *Repository) UpsertAnalysis(ctx context.Context, a store.Analysis) error {
	if a.RunID == "" || a.StoreID == "" {
		return relErr("upsert analysis", errors.New("run_id and store_id are required"))
	}
	res := a.Result
	menus, err := jsonb(nonNil(res.SignatureMenu))
	if err != nil {
		return relErr("upsert analysis", err)
	}
	tips, err := jsonb(nonNil(res.Tips))
	if err != nil {
		return relErr("upsert analysis", err)
	}
	summary, err := jsonb(res.ReviewSummary)
	if err != nil {
		return relErr("upsert analysis", err)
	}
	categories, err := jsonb(nonNil(res.Categories))
	if err != nil {
		return relErr("upsert analysis", err)
	}
	_, err = r.db.Exec(ctx, upsertAnalysisSQL,
		a.RunID, a.StoreID, a.CollectedAt, res.RestaurantName, res.Summary, res.Vibe,
		menus, tips, res.RecommendationScore, res.AdReviewRatio, summary, categories,
		res.TransportInfo, a.Model, a.PromptVersion, stamp(a.UpdatedAt),
	)
	if err != nil {
		return relErr("upsert analysis", err)
	}
	return nil
}

const upsertReviewSQL = `
INSERT INTO reviews (store_id, review_key, date, rating, text, is_ad_suspect, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (store_id, review_key) DO UPDATE SET
	date          = COALESCE(EXCLUDED.date, reviews.date),
	rating        = COALESCE(EXCLUDED.rating, reviews.rating),
	text          = EXCLUDED.text,
	is_ad_suspect = EXCLUDED.is_ad_suspect`

const trimReviewsSQL = `
DELETE FROM reviews
WHERE store_id = $1 AND review_key IN (
	SELECT review_key FROM reviews
	WHERE store_id = $1
	ORDER BY created_at DESC, review_key
	OFFSET $2
)`

// UpsertReviews writes reviews in one transaction and trims the store's
// log to the keep most recent rows. Earlier reviews in the slice are
// treated as newer.
func (r *Repository) UpsertReviews(ctx context.Context, storeID string, reviews []review.Review, keep int, at time.Time) (err error) {
	if len(reviews) == 0 {
		return nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return relErr("upsert reviews", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				r.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()
	at = stamp(at)
	for i, rv := range reviews {
		created := at.Add(-time.Duration(i) * time.Microsecond)
		if _, err = tx.Exec(ctx, upsertReviewSQL,
			storeID, rv.ReviewKey, rv.Date, rv.Rating, rv.Text, rv.IsAdSuspect, created,
		); err != nil {
			return relErr("upsert reviews", err)
		}
	}
	if keep > 0 {
		if _, err = tx.Exec(ctx, trimReviewsSQL, storeID, keep); err != nil {
			return relErr("trim reviews", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return relErr("upsert reviews", err)
	}
	return nil
}

const upsertEmbeddingSQL = `
INSERT INTO embeddings (store_id, doc_type, model, vector, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (store_id, doc_type) DO UPDATE SET
	model      = EXCLUDED.model,
	vector     = EXCLUDED.vector,
	updated_at = EXCLUDED.updated_at`

// UpsertEmbedding stores or replaces a document vector.
func (r *Repository) UpsertEmbedding(ctx context.Context, e store.Embedding) error {
	if _, err := r.db.Exec(ctx, upsertEmbeddingSQL, e.StoreID, e.DocType, e.Model, e.Vector, stamp(e.UpdatedAt)); err != nil {
		return relErr("upsert embedding", err)
	}
	return nil
}

const upsertLegacySQL = `
INSERT INTO legacy_stores (store_id, payload, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (store_id) DO UPDATE SET
	payload    = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at`

// UpsertLegacy stores the imported record for a store.
func (r *Repository) UpsertLegacy(ctx context.Context, l store.LegacyRecord) error {
	payload, err := jsonb(l)
	if err != nil {
		return relErr("upsert legacy", err)
	}
	if _, err := r.db.Exec(ctx, upsertLegacySQL, l.StoreID, payload, time.Now().UTC()); err != nil {
		return relErr("upsert legacy", err)
	}
	return nil
}

// DeleteStore removes the store and all rows keyed by it.
func (r *Repository) DeleteStore(ctx context.Context, storeID string) (deleted bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, relErr("delete store", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				r.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()
	for _, table := range []string{"analysis", "store_snapshots", "reviews", "embeddings", "legacy_stores"} {
		if _, err = tx.Exec(ctx, "DELETE FROM "+table+" WHERE store_id = $1", storeID); err != nil {
			return false, relErr("delete "+table, err)
		}
	}
	tag, err := tx.Exec(ctx, "DELETE FROM stores WHERE store_id = $1", storeID)
	if err != nil {
		return false, relErr("delete store", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return false, relErr("delete store", err)
	}
	return tag.RowsAffected() > 0, nil
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func jsonb(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb: %w", err)
	}
	return data, nil
}
