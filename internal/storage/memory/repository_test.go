package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hidden-spot/internal/analysis"
	"github.com/JakeFAU/hidden-spot/internal/review"
	"github.com/JakeFAU/hidden-spot/internal/store"
)

func TestRepositoryStoreMergeKeepsKnownFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewRepository()
	t0 := time.Unix(1700000000, 0).UTC()
	lat := 37.5

	require.NoError(t, repo.UpsertStore(ctx, store.Store{
		StoreID: "1001", URL: "https://x", Name: "국밥집", Address: "서울", Lat: &lat, UpdatedAt: t0,
	}))
	require.NoError(t, repo.UpsertStore(ctx, store.Store{
		StoreID: "1001", Name: "", Category: "한식", UpdatedAt: t0.Add(time.Hour),
	}))
	require.NoError(t, repo.UpsertStore(ctx, store.Store{StoreID: "1001", UpdatedAt: t0.Add(-time.Hour)}))

	got, err := repo.GetStore(ctx, "1001")
	require.NoError(t, err)
	require.Equal(t, "https://x", got.URL)
	require.Equal(t, "국밥집", got.Name)
	require.Equal(t, "서울", got.Address)
	require.Equal(t, "한식", got.Category)
	require.InDelta(t, 37.5, *got.Lat, 1e-9)
	require.Equal(t, t0, got.CreatedAt)
	require.Equal(t, t0.Add(time.Hour), got.UpdatedAt)
}

func TestRepositorySnapshotLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewRepository()
	require.ErrorIs(t, repo.UpdateSnapshot(ctx, "run-1", store.SnapshotUpdate{Status: store.StatusCrawling}), store.ErrNotFound)

	require.NoError(t, repo.UpsertSnapshot(ctx, store.Snapshot{
		RunID: "run-1", StoreID: "1001", Status: store.StatusQueued,
	}))
	require.NoError(t, repo.UpdateSnapshot(ctx, "run-1", store.SnapshotUpdate{
		Status: store.StatusCrawled, Progress: 35, BronzePath: "bronze/a",
	}))
	require.NoError(t, repo.UpdateSnapshot(ctx, "run-1", store.SnapshotUpdate{
		Status: store.StatusParsing, Progress: 10,
	}))
	snap, err := repo.GetSnapshot(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, store.StatusParsing, snap.Status)
	require.Equal(t, 35, snap.Progress)
	require.Equal(t, "bronze/a", snap.BronzePath)

	require.NoError(t, repo.UpdateSnapshot(ctx, "run-1", store.SnapshotUpdate{
		Status: store.StatusFailed, Progress: 100, ErrorReason: "boom", EvidencePath: "artifacts/debug/x.png",
	}))
	require.NoError(t, repo.UpdateSnapshot(ctx, "run-1", store.SnapshotUpdate{
		Status: store.StatusCompleted, Progress: 100, GoldPath: "gold/a",
	}))
	snap, err = repo.GetSnapshot(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, snap.Status)
	require.Empty(t, snap.GoldPath)
	require.Equal(t, []string{"artifacts/debug/x.png"}, snap.EvidencePaths)

	require.NoError(t, repo.UpsertSnapshot(ctx, store.Snapshot{
		RunID: "run-1", StoreID: "1001", Status: store.StatusQueued,
	}))
	snap, err = repo.GetSnapshot(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, store.StatusQueued, snap.Status)
	require.Zero(t, snap.Progress)
	require.Empty(t, snap.EvidencePaths)
}

func TestRepositoryReviewLogTrimsOldest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewRepository()
	t0 := time.Unix(1700000000, 0).UTC()
	require.NoError(t, repo.UpsertStore(ctx, store.Store{StoreID: "1001", URL: "u"}))

	require.NoError(t, repo.UpsertReviews(ctx, "1001", []review.Review{
		{ReviewKey: "a", Text: "old-1"},
		{ReviewKey: "b", Text: "old-2"},
	}, 3, t0))
	require.NoError(t, repo.UpsertReviews(ctx, "1001", []review.Review{
		{ReviewKey: "c", Text: "new-1"},
		{ReviewKey: "d", Text: "new-2"},
	}, 3, t0.Add(time.Hour)))

	rows, err := repo.ListProjection(ctx, "1001", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []string{"new-1", "new-2", "old-1"}, rows[0].Reviews)

	rows, err = repo.ListProjection(ctx, "1001", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"new-1", "new-2"}, rows[0].Reviews)
}

func TestRepositoryProjectionPicksLatestAnalysis(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewRepository()
	t0 := time.Unix(1700000000, 0).UTC()
	require.NoError(t, repo.UpsertStore(ctx, store.Store{StoreID: "1001", URL: "u", UpdatedAt: t0}))
	require.NoError(t, repo.UpsertStore(ctx, store.Store{StoreID: "2002", URL: "v", UpdatedAt: t0}))
	require.NoError(t, repo.UpsertAnalysis(ctx, store.Analysis{
		RunID: "r1", StoreID: "1001", UpdatedAt: t0.Add(time.Minute),
		Result: analysis.Result{RecommendationScore: 50},
	}))
	require.NoError(t, repo.UpsertAnalysis(ctx, store.Analysis{
		RunID: "r2", StoreID: "1001", UpdatedAt: t0.Add(2 * time.Minute),
		Result: analysis.Result{RecommendationScore: 90},
	}))
	require.NoError(t, repo.UpsertLegacy(ctx, store.LegacyRecord{StoreID: "2002", Name: "옛 가게"}))

	rows, err := repo.ListProjection(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "1001", rows[0].Store.StoreID)
	require.Equal(t, "r2", rows[0].Analysis.RunID)
	require.Equal(t, 90, rows[0].Analysis.Result.RecommendationScore)
	require.Nil(t, rows[1].Analysis)
	require.Equal(t, "옛 가게", rows[1].Legacy.Name)
}

func TestRepositoryDeleteStoreCascades(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewRepository()
	require.NoError(t, repo.UpsertStore(ctx, store.Store{StoreID: "1001", URL: "u"}))
	require.NoError(t, repo.UpsertSnapshot(ctx, store.Snapshot{RunID: "r1", StoreID: "1001", Status: store.StatusQueued}))
	require.NoError(t, repo.UpsertAnalysis(ctx, store.Analysis{RunID: "r1", StoreID: "1001"}))
	require.NoError(t, repo.UpsertEmbedding(ctx, store.Embedding{StoreID: "1001", DocType: "store_profile", Vector: []float32{1}}))

	deleted, err := repo.DeleteStore(ctx, "1001")
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = repo.GetStore(ctx, "1001")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.GetSnapshot(ctx, "r1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, ok := repo.Embedding("1001", "store_profile")
	require.False(t, ok)

	deleted, err = repo.DeleteStore(ctx, "1001")
	require.NoError(t, err)
	require.False(t, deleted)
}
