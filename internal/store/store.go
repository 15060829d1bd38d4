// Package store declares the relational records of the ingestion pipeline
// and the repositories that persist them. Implementations live in
// internal/storage; this package must not import database drivers.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/hidden-spot/internal/analysis"
	"github.com/JakeFAU/hidden-spot/internal/review"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RelationalError wraps a failed database operation.
type RelationalError struct {
	Op  string
	Err error
}

func (e *RelationalError) Error() string {
	return fmt.Sprintf("relational %s: %v", e.Op, e.Err)
}

func (e *RelationalError) Unwrap() error {
	return e.Err
}

// Status is a snapshot lifecycle state.
type Status string

// Snapshot states in pipeline order.
const (
	StatusQueued    Status = "queued"
	StatusCrawling  Status = "crawling"
	StatusCrawled   Status = "crawled"
	StatusParsing   Status = "parsing"
	StatusParsed    Status = "parsed"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition may follow s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Store is the canonical, long-lived record of a place. Upserts merge
// field by field: an empty incoming value never overwrites a stored one.
type Store struct {
	StoreID       string    `json:"store_id"`
	URL           string    `json:"url"`
	Name          string    `json:"name,omitempty"`
	Address       string    `json:"address,omitempty"`
	Lat           *float64  `json:"lat,omitempty"`
	Lng           *float64  `json:"lng,omitempty"`
	Category      string    `json:"category,omitempty"`
	TransportInfo string    `json:"transport_info,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Snapshot tracks one pipeline run.
type Snapshot struct {
	RunID         string    `json:"run_id"`
	StoreID       string    `json:"store_id"`
	URL           string    `json:"url"`
	CollectedAt   time.Time `json:"collected_at"`
	Status        Status    `json:"status"`
	Progress      int       `json:"progress"`
	BronzePath    string    `json:"bronze_path,omitempty"`
	SilverPath    string    `json:"silver_path,omitempty"`
	GoldPath      string    `json:"gold_path,omitempty"`
	ErrorReason   string    `json:"error_reason,omitempty"`
	ErrorType     string    `json:"error_type,omitempty"`
	ErrorStage    string    `json:"error_stage,omitempty"`
	EvidencePaths []string  `json:"evidence_paths"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SnapshotUpdate is one status transition. Empty path fields keep the
// stored value; EvidencePath, when set, is appended. Status and progress
// are always written together.
type SnapshotUpdate struct {
	Status       Status
	Progress     int
	BronzePath   string
	SilverPath   string
	GoldPath     string
	ErrorReason  string
	ErrorType    string
	ErrorStage   string
	EvidencePath string
	At           time.Time
}

// Analysis is the persisted result of one run. Upserts replace.
type Analysis struct {
	RunID         string          `json:"run_id"`
	StoreID       string          `json:"store_id"`
	CollectedAt   time.Time       `json:"collected_at"`
	Model         string          `json:"model,omitempty"`
	PromptVersion string          `json:"prompt_version,omitempty"`
	Result        analysis.Result `json:"result"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Embedding is a store-level document vector.
type Embedding struct {
	StoreID   string
	DocType   string
	Model     string
	Vector    []float32
	UpdatedAt time.Time
}

// LegacyRecord is a store imported from the previous system, used only to
// fill fields the current tables lack.
type LegacyRecord struct {
	StoreID       string   `json:"store_id"`
	URL           string   `json:"url,omitempty"`
	Name          string   `json:"name,omitempty"`
	Address       string   `json:"address,omitempty"`
	Lat           *float64 `json:"latitude,omitempty"`
	Lng           *float64 `json:"longitude,omitempty"`
	TransportInfo string   `json:"transport_info,omitempty"`
	SearchTags    []string `json:"search_tags,omitempty"`
	Score         *int     `json:"score,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	Menus         []string `json:"menus,omitempty"`
}

// ProjectionRow is the raw material for one served restaurant.
type ProjectionRow struct {
	Store    Store
	Analysis *Analysis
	Legacy   *LegacyRecord
	// Reviews are the most recent review texts, newest first.
	Reviews []string
}

// SnapshotRepository persists run snapshots.
type SnapshotRepository interface {
	// UpsertSnapshot inserts or fully replaces the snapshot for RunID.
	UpsertSnapshot(ctx context.Context, snap Snapshot) error
	// UpdateSnapshot applies a transition. Terminal snapshots are left as is.
	UpdateSnapshot(ctx context.Context, runID string, upd SnapshotUpdate) error
	GetSnapshot(ctx context.Context, runID string) (Snapshot, error)
}

// ServingRepository persists and reads the serving tables.
type ServingRepository interface {
	UpsertStore(ctx context.Context, s Store) error
	UpsertAnalysis(ctx context.Context, a Analysis) error
	// UpsertReviews adds reviews to the store's log and trims it to keep rows.
	UpsertReviews(ctx context.Context, storeID string, reviews []review.Review, keep int, at time.Time) error
	UpsertEmbedding(ctx context.Context, e Embedding) error
	UpsertLegacy(ctx context.Context, l LegacyRecord) error
	GetStore(ctx context.Context, storeID string) (Store, error)
	// ListProjection returns rows for every store, or only storeID when set.
	ListProjection(ctx context.Context, storeID string, reviewWindow int) ([]ProjectionRow, error)
	// DeleteStore removes the store and everything keyed by it.
	DeleteStore(ctx context.Context, storeID string) (bool, error)
}

// Repository is the full relational surface used by the pipeline and API.
type Repository interface {
	SnapshotRepository
	ServingRepository
	Close()
}
