package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/hidden-spot/internal/review"
	"github.com/JakeFAU/hidden-spot/internal/store"
)

type reviewRow struct {
	review  review.Review
	created time.Time
}

// Repository is an in-memory store.Repository for development and tests.
// It applies the same merge and replace rules as the Postgres repository.
type Repository struct {
	mu         sync.RWMutex
	stores     map[string]store.Store
	snapshots  map[string]store.Snapshot
	analyses   map[string]store.Analysis
	reviews    map[string]map[string]reviewRow
	embeddings map[string]store.Embedding
	legacy     map[string]store.LegacyRecord
	now        func() time.Time
}

var _ store.Repository = (*Repository)(nil)

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		stores:     make(map[string]store.Store),
		snapshots:  make(map[string]store.Snapshot),
		analyses:   make(map[string]store.Analysis),
		reviews:    make(map[string]map[string]reviewRow),
		embeddings: make(map[string]store.Embedding),
		legacy:     make(map[string]store.LegacyRecord),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op.
func (r *Repository) Close() {}

func (r *Repository) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return r.now()
	}
	return t.UTC()
}

// UpsertStore merges s into the stored row field by field.
func (r *Repository) UpsertStore(_ context.Context, s store.Store) error {
	if strings.TrimSpace(s.StoreID) == "" {
		return &store.RelationalError{Op: "upsert store", Err: errors.New("store_id is required")}
	}
	at := r.stamp(s.UpdatedAt)
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.stores[s.StoreID]
	if !ok {
		cur = store.Store{StoreID: s.StoreID, CreatedAt: at, UpdatedAt: at}
	}
	cur.URL = keep(cur.URL, s.URL)
	cur.Name = keep(cur.Name, s.Name)
	cur.Address = keep(cur.Address, s.Address)
	cur.Category = keep(cur.Category, s.Category)
	cur.TransportInfo = keep(cur.TransportInfo, s.TransportInfo)
	if s.Lat != nil {
		cur.Lat = copyFloat(s.Lat)
	}
	if s.Lng != nil {
		cur.Lng = copyFloat(s.Lng)
	}
	if at.After(cur.UpdatedAt) {
		cur.UpdatedAt = at
	}
	r.stores[s.StoreID] = cur
	return nil
}

// GetStore loads one store.
func (r *Repository) GetStore(_ context.Context, storeID string) (store.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[storeID]
	if !ok {
		return store.Store{}, store.ErrNotFound
	}
	return s, nil
}

// UpsertSnapshot inserts or replaces the snapshot for its run.
func (r *Repository) UpsertSnapshot(_ context.Context, snap store.Snapshot) error {
	if snap.RunID == "" || snap.StoreID == "" {
		return &store.RelationalError{Op: "upsert snapshot", Err: errors.New("run_id and store_id are required")}
	}
	at := r.stamp(snap.UpdatedAt)
	r.mu.Lock()
	defer r.mu.Unlock()
	created := at
	if prev, ok := r.snapshots[snap.RunID]; ok {
		created = prev.CreatedAt
	}
	snap.CreatedAt = created
	snap.UpdatedAt = at
	snap.EvidencePaths = append([]string{}, snap.EvidencePaths...)
	r.snapshots[snap.RunID] = snap
	return nil
}

// UpdateSnapshot applies one transition; terminal snapshots are left as is.
func (r *Repository) UpdateSnapshot(_ context.Context, runID string, upd store.SnapshotUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[runID]
	if !ok {
		return store.ErrNotFound
	}
	if snap.Status.Terminal() {
		return nil
	}
	snap.Status = upd.Status
	if upd.Progress > snap.Progress {
		snap.Progress = upd.Progress
	}
	snap.BronzePath = keep(snap.BronzePath, upd.BronzePath)
	snap.SilverPath = keep(snap.SilverPath, upd.SilverPath)
	snap.GoldPath = keep(snap.GoldPath, upd.GoldPath)
	snap.ErrorReason = upd.ErrorReason
	snap.ErrorType = upd.ErrorType
	snap.ErrorStage = upd.ErrorStage
	if upd.EvidencePath != "" {
		snap.EvidencePaths = append(snap.EvidencePaths, upd.EvidencePath)
	}
	snap.UpdatedAt = r.stamp(upd.At)
	r.snapshots[runID] = snap
	return nil
}

// GetSnapshot loads one snapshot.
func (r *Repository) GetSnapshot(_ context.Context, runID string) (store.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[runID]
	if !ok {
		return store.Snapshot{}, store.ErrNotFound
	}
	snap.EvidencePaths = append([]string{}, snap.EvidencePaths...)
	return snap, nil
}

// UpsertAnalysis inserts or replaces the analysis for its run.
func (r *Repository) UpsertAnalysis(_ context.Context, a store.Analysis) error {
	if a.RunID == "" || a.StoreID == "" {
		return &store.RelationalError{Op: "upsert analysis", Err: errors.New("run_id and store_id are required")}
	}
	a.UpdatedAt = r.stamp(a.UpdatedAt)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyses[a.RunID] = a
	return nil
}

// UpsertReviews adds reviews to the store's log and trims it to keep rows.
func (r *Repository) UpsertReviews(_ context.Context, storeID string, reviews []review.Review, keepN int, at time.Time) error {
	if len(reviews) == 0 {
		return nil
	}
	at = r.stamp(at)
	r.mu.Lock()
	defer r.mu.Unlock()
	log, ok := r.reviews[storeID]
	if !ok {
		log = make(map[string]reviewRow)
		r.reviews[storeID] = log
	}
	for i, rv := range reviews {
		row, exists := log[rv.ReviewKey]
		if !exists {
			row.created = at.Add(-time.Duration(i) * time.Microsecond)
		} else {
			if rv.Date == nil {
				rv.Date = row.review.Date
			}
			if rv.Rating == nil {
				rv.Rating = row.review.Rating
			}
		}
		row.review = rv
		log[rv.ReviewKey] = row
	}
	if keepN > 0 && len(log) > keepN {
		for _, row := range sortedReviews(log)[keepN:] {
			delete(log, row.review.ReviewKey)
		}
	}
	return nil
}

// UpsertEmbedding stores or replaces a document vector.
func (r *Repository) UpsertEmbedding(_ context.Context, e store.Embedding) error {
	e.UpdatedAt = r.stamp(e.UpdatedAt)
	e.Vector = append([]float32(nil), e.Vector...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[e.StoreID+"/"+e.DocType] = e
	return nil
}

// Embedding returns the stored vector for a store document.
func (r *Repository) Embedding(storeID, docType string) (store.Embedding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.embeddings[storeID+"/"+docType]
	return e, ok
}

// UpsertLegacy stores the imported record for a store.
func (r *Repository) UpsertLegacy(_ context.Context, l store.LegacyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.legacy[l.StoreID] = l
	return nil
}

// ListProjection mirrors the Postgres projection query.
func (r *Repository) ListProjection(_ context.Context, storeID string, reviewWindow int) ([]store.ProjectionRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := make(map[string]store.Analysis)
	for _, a := range r.analyses {
		cur, ok := latest[a.StoreID]
		if !ok || a.UpdatedAt.After(cur.UpdatedAt) || (a.UpdatedAt.Equal(cur.UpdatedAt) && a.RunID > cur.RunID) {
			latest[a.StoreID] = a
		}
	}

	out := make([]store.ProjectionRow, 0, len(r.stores))
	for id, s := range r.stores {
		if storeID != "" && id != storeID {
			continue
		}
		row := store.ProjectionRow{Store: s, Reviews: []string{}}
		if a, ok := latest[id]; ok {
			row.Analysis = &a
		}
		if l, ok := r.legacy[id]; ok {
			row.Legacy = &l
		}
		if reviewWindow > 0 {
			for i, rv := range sortedReviews(r.reviews[id]) {
				if i >= reviewWindow {
					break
				}
				row.Reviews = append(row.Reviews, rv.review.Text)
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := rowTime(out[i]), rowTime(out[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].Store.StoreID < out[j].Store.StoreID
	})
	return out, nil
}

// DeleteStore removes the store and all rows keyed by it.
func (r *Repository) DeleteStore(_ context.Context, storeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for runID, a := range r.analyses {
		if a.StoreID == storeID {
			delete(r.analyses, runID)
		}
	}
	for runID, snap := range r.snapshots {
		if snap.StoreID == storeID {
			delete(r.snapshots, runID)
		}
	}
	for key, e := range r.embeddings {
		if e.StoreID == storeID {
			delete(r.embeddings, key)
		}
	}
	delete(r.reviews, storeID)
	delete(r.legacy, storeID)
	_, ok := r.stores[storeID]
	delete(r.stores, storeID)
	return ok, nil
}

func sortedReviews(log map[string]reviewRow) []reviewRow {
	rows := make([]reviewRow, 0, len(log))
	for _, row := range log {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].created.Equal(rows[j].created) {
			return rows[i].created.After(rows[j].created)
		}
		return rows[i].review.ReviewKey < rows[j].review.ReviewKey
	})
	return rows
}

func rowTime(row store.ProjectionRow) time.Time {
	if row.Analysis != nil {
		return row.Analysis.UpdatedAt
	}
	return row.Store.UpdatedAt
}

func keep(current, incoming string) string {
	if v := strings.TrimSpace(incoming); v != "" {
		return v
	}
	return current
}

func copyFloat(v *float64) *float64 {
	out := *v
	return &out
}
