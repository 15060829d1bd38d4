package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/hidden-spot/internal/analysis"
	"github.com/JakeFAU/hidden-spot/internal/store"
)

const listProjectionSQL = `
SELECT
	s.store_id, s.url, s.name, s.address, s.lat, s.lng, s.category, s.transport_info, s.created_at, s.updated_at,
	a.run_id, a.collected_at, a.restaurant_name, a.summary_3lines, a.vibe,
	a.signature_menu_json, a.tips_json, a.score, a.ad_review_ratio,
	a.review_summary_json, a.categories_json, a.transport_info, a.model, a.prompt_version, a.updated_at,
	l.payload
FROM stores s
LEFT JOIN LATERAL (
	SELECT * FROM analysis
	WHERE analysis.store_id = s.store_id
	ORDER BY analysis.updated_at DESC, analysis.run_id DESC
	LIMIT 1
) a ON TRUE
LEFT JOIN legacy_stores l ON l.store_id = s.store_id
WHERE ($1::text = '' OR s.store_id = $1)
ORDER BY COALESCE(a.updated_at, s.updated_at) DESC, s.store_id`

const recentReviewsSQL = `
SELECT store_id, text FROM (
	SELECT store_id, text,
		ROW_NUMBER() OVER (PARTITION BY store_id ORDER BY created_at DESC, review_key) AS rn
	FROM reviews
	WHERE store_id = ANY($1)
) ranked
WHERE rn <= $2
ORDER BY store_id, rn`

// ListProjection joins each store with its latest analysis and legacy
// record, then attaches up to reviewWindow recent review texts.
func (r *Repository) ListProjection(ctx context.Context, storeID string, reviewWindow int) ([]store.ProjectionRow, error) {
	rows, err := r.db.Query(ctx, listProjectionSQL, storeID)
	if err != nil {
		return nil, relErr("list projection", err)
	}
	out, err := pgx.CollectRows(rows, scanProjection)
	if err != nil {
		return nil, relErr("list projection", err)
	}
	if reviewWindow <= 0 || len(out) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(out))
	index := make(map[string]int, len(out))
	for i, row := range out {
		ids = append(ids, row.Store.StoreID)
		index[row.Store.StoreID] = i
	}
	reviewRows, err := r.db.Query(ctx, recentReviewsSQL, ids, reviewWindow)
	if err != nil {
		return nil, relErr("list reviews", err)
	}
	defer reviewRows.Close()
	for reviewRows.Next() {
		var id, text string
		if err := reviewRows.Scan(&id, &text); err != nil {
			return nil, relErr("list reviews", err)
		}
		if i, ok := index[id]; ok {
			out[i].Reviews = append(out[i].Reviews, text)
		}
	}
	if err := reviewRows.Err(); err != nil {
		return nil, relErr("list reviews", err)
	}
	return out, nil
}

func scanProjection(row pgx.CollectableRow) (store.ProjectionRow, error) {
	var (
		s                                  store.Store
		name, address, category, transport *string
		runID, aName, aSummary, aVibe      *string
		aTransport, aModel, aPromptVersion *string
		collectedAt, aUpdatedAt            *time.Time
		menus, tips, summaryJSON, catsJSON []byte
		score                              *int
		adRatio                            *float64
		legacy                             []byte
	)
	if err := row.Scan(
		&s.StoreID, &s.URL, &name, &address, &s.Lat, &s.Lng, &category, &transport, &s.CreatedAt, &s.UpdatedAt,
		&runID, &collectedAt, &aName, &aSummary, &aVibe,
		&menus, &tips, &score, &adRatio,
		&summaryJSON, &catsJSON, &aTransport, &aModel, &aPromptVersion, &aUpdatedAt,
		&legacy,
	); err != nil {
		return store.ProjectionRow{}, err
	}
	s.Name, s.Address, s.Category, s.TransportInfo = deref(name), deref(address), deref(category), deref(transport)
	out := store.ProjectionRow{Store: s, Reviews: []string{}}

	if runID != nil {
		res := analysis.Result{
			RestaurantName: deref(aName),
			Summary:        deref(aSummary),
			Vibe:           deref(aVibe),
			TransportInfo:  deref(aTransport),
		}
		if score != nil {
			res.RecommendationScore = *score
		}
		if adRatio != nil {
			res.AdReviewRatio = *adRatio
		}
		for _, part := range []struct {
			name string
			data []byte
			dst  any
		}{
			{"signature_menu_json", menus, &res.SignatureMenu},
			{"tips_json", tips, &res.Tips},
			{"review_summary_json", summaryJSON, &res.ReviewSummary},
			{"categories_json", catsJSON, &res.Categories},
		} {
			if len(part.data) == 0 {
				continue
			}
			if err := json.Unmarshal(part.data, part.dst); err != nil {
				return store.ProjectionRow{}, fmt.Errorf("decode %s: %w", part.name, err)
			}
		}
		a := &store.Analysis{
			RunID:         *runID,
			StoreID:       s.StoreID,
			Model:         deref(aModel),
			PromptVersion: deref(aPromptVersion),
			Result:        res,
		}
		if collectedAt != nil {
			a.CollectedAt = *collectedAt
		}
		if aUpdatedAt != nil {
			a.UpdatedAt = *aUpdatedAt
		}
		out.Analysis = a
	}

	if len(legacy) > 0 {
		var rec store.LegacyRecord
		if err := json.Unmarshal(legacy, &rec); err != nil {
			return store.ProjectionRow{}, fmt.Errorf("decode legacy payload: %w", err)
		}
		out.Legacy = &rec
	}
	return out, nil
}
