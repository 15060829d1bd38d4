package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hidden-spot/internal/analysis"
	"github.com/JakeFAU/hidden-spot/internal/review"
	"github.com/JakeFAU/hidden-spot/internal/store"
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	repo, err := NewWithPool(mock, nil)
	require.NoError(t, err)
	return repo, mock
}

func ptr[T any](v T) *T { return &v }

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, nil)
	require.Error(t, err)
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS stores").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, repo.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertStoreTrimsAndMerges(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	at := time.Unix(1700000000, 0).UTC()
	lat := ptr(37.5)

	mock.ExpectExec("INSERT INTO stores").
		WithArgs("1001", "https://map.naver.com/p/entry/place/1001", "국밥집", "", lat, (*float64)(nil), "한식", "", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.UpsertStore(context.Background(), store.Store{
		StoreID:   "1001",
		URL:       "https://map.naver.com/p/entry/place/1001",
		Name:      "  국밥집 ",
		Address:   "   ",
		Lat:       lat,
		Category:  "한식",
		UpdatedAt: at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertStoreRequiresID(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	err := repo.UpsertStore(context.Background(), store.Store{URL: "https://example.com"})

	var relErr *store.RelationalError
	require.ErrorAs(t, err, &relErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertStoreWrapsDriverError(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO stores").WillReturnError(boom)

	err := repo.UpsertStore(context.Background(), store.Store{StoreID: "1", URL: "u"})
	var relErr *store.RelationalError
	require.ErrorAs(t, err, &relErr)
	require.Equal(t, "upsert store", relErr.Op)
	require.ErrorIs(t, err, boom)
}

func TestGetStoreNotFound(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT store_id, url, name").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetStore(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetStoreScansNullableColumns(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT store_id, url, name").
		WithArgs("1001").
		WillReturnRows(pgxmock.NewRows([]string{
			"store_id", "url", "name", "address", "lat", "lng", "category", "transport_info", "created_at", "updated_at",
		}).AddRow("1001", "https://x", ptr("국밥집"), nil, ptr(37.5), ptr(127.0), nil, nil, at, at))

	got, err := repo.GetStore(context.Background(), "1001")
	require.NoError(t, err)
	require.Equal(t, "국밥집", got.Name)
	require.Empty(t, got.Address)
	require.InDelta(t, 37.5, *got.Lat, 1e-9)
	require.Equal(t, at, got.UpdatedAt)
}

func TestUpsertSnapshotReplacesRow(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO store_snapshots").
		WithArgs("run-1", "1001", "https://x", at, "queued", 0,
			"", "", "", "", "", "",
			[]byte("[]"), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.UpsertSnapshot(context.Background(), store.Snapshot{
		RunID:       "run-1",
		StoreID:     "1001",
		URL:         "https://x",
		CollectedAt: at,
		Status:      store.StatusQueued,
		UpdatedAt:   at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSnapshotApplied(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE store_snapshots SET").
		WithArgs("run-1", "crawled", 35, "bronze/x.html.gz", "", "", "", "", "", "", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.UpdateSnapshot(context.Background(), "run-1", store.SnapshotUpdate{
		Status:     store.StatusCrawled,
		Progress:   35,
		BronzePath: "bronze/x.html.gz",
		At:         at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSnapshotIgnoredWhenTerminal(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE store_snapshots SET").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM store_snapshots").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("completed"))

	err := repo.UpdateSnapshot(context.Background(), "run-1", store.SnapshotUpdate{
		Status:   store.StatusAnalyzing,
		Progress: 65,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSnapshotMissingRun(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE store_snapshots SET").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM store_snapshots").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	err := repo.UpdateSnapshot(context.Background(), "ghost", store.SnapshotUpdate{Status: store.StatusFailed, Progress: 100})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetSnapshotDecodesEvidence(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("FROM store_snapshots WHERE run_id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"run_id", "store_id", "url", "collected_at", "status", "progress",
			"bronze_path", "silver_path", "gold_path", "error_reason", "error_type", "error_stage",
			"evidence_paths", "created_at", "updated_at",
		}).AddRow("run-1", "1001", "https://x", at, "failed", 100,
			ptr("bronze/a"), nil, nil, ptr("timeout"), ptr("CrawlTransient"), ptr("crawl"),
			[]byte(`["evidence/a.png"]`), at, at))

	snap, err := repo.GetSnapshot(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, snap.Status)
	require.Equal(t, 100, snap.Progress)
	require.Equal(t, "bronze/a", snap.BronzePath)
	require.Empty(t, snap.SilverPath)
	require.Equal(t, "crawl", snap.ErrorStage)
	require.Equal(t, []string{"evidence/a.png"}, snap.EvidencePaths)
}

func TestUpsertAnalysisEncodesJSONColumns(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	at := time.Unix(1700000000, 0).UTC()
	res := analysis.Result{
		RestaurantName:      "국밥집",
		Summary:             "진한 국물",
		Vibe:                "한식",
		SignatureMenu:       []string{"순대국"},
		RecommendationScore: 88,
		AdReviewRatio:       0.1,
		Categories:          []string{"한식"},
	}
	mock.ExpectExec("INSERT INTO analysis").
		WithArgs("run-1", "1001", at, "국밥집", "진한 국물", "한식",
			[]byte(`["순대국"]`), []byte(`[]`), 88, 0.1, pgxmock.AnyArg(), []byte(`["한식"]`),
			"", "gemini-x", "v1", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.UpsertAnalysis(context.Background(), store.Analysis{
		RunID: "run-1", StoreID: "1001", CollectedAt: at,
		Model: "gemini-x", PromptVersion: "v1", Result: res, UpdatedAt: at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReviewsCommitsAndTrims(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	at := time.Unix(1700000000, 0).UTC()
	reviews := []review.Review{
		{ReviewKey: "k1", Text: "국물이 진하고 맛있어요"},
		{ReviewKey: "k2", Text: "대기가 길어요", Rating: ptr(4.0)},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reviews").
		WithArgs("1001", "k1", (*string)(nil), (*float64)(nil), "국물이 진하고 맛있어요", false, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO reviews").
		WithArgs("1001", "k2", (*string)(nil), ptr(4.0), "대기가 길어요", false, at.Add(-time.Microsecond)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM reviews").
		WithArgs("1001", 50).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	require.NoError(t, repo.UpsertReviews(context.Background(), "1001", reviews, 50, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReviewsRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reviews").WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	err := repo.UpsertReviews(context.Background(), "1001", []review.Review{{ReviewKey: "k", Text: "t"}}, 10, time.Now())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReviewsEmptyIsNoop(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	require.NoError(t, repo.UpsertReviews(context.Background(), "1001", nil, 10, time.Now()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEmbedding(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	at := time.Unix(1700000000, 0).UTC()
	vec := []float32{0.1, 0.2}
	mock.ExpectExec("INSERT INTO embeddings").
		WithArgs("1001", "store_profile", "embed-1", vec, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.UpsertEmbedding(context.Background(), store.Embedding{
		StoreID: "1001", DocType: "store_profile", Model: "embed-1", Vector: vec, UpdatedAt: at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertLegacyStoresPayload(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO legacy_stores").
		WithArgs("1001", []byte(`{"store_id":"1001","name":"옛집"}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertLegacy(context.Background(), store.LegacyRecord{StoreID: "1001", Name: "옛집"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteStoreCascades(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	for _, table := range []string{"analysis", "store_snapshots", "reviews", "embeddings", "legacy_stores"} {
		mock.ExpectExec("DELETE FROM " + table).
			WithArgs("1001").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
	}
	mock.ExpectExec("DELETE FROM stores").
		WithArgs("1001").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	deleted, err := repo.DeleteStore(context.Background(), "1001")
	require.NoError(t, err)
	require.True(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteStoreMissing(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	for _, table := range []string{"analysis", "store_snapshots", "reviews", "embeddings", "legacy_stores"} {
		mock.ExpectExec("DELETE FROM " + table).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	}
	mock.ExpectExec("DELETE FROM stores").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	deleted, err := repo.DeleteStore(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, deleted)
}

func projectionColumns() []string {
	return []string{
		"store_id", "url", "name", "address", "lat", "lng", "category", "transport_info", "created_at", "updated_at",
		"run_id", "collected_at", "restaurant_name", "summary_3lines", "vibe",
		"signature_menu_json", "tips_json", "score", "ad_review_ratio",
		"review_summary_json", "categories_json", "transport_info", "model", "prompt_version", "updated_at",
		"payload",
	}
}

func TestListProjectionJoinsAnalysisLegacyAndReviews(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	at := time.Unix(1700000000, 0).UTC()
	later := at.Add(time.Hour)

	rows := pgxmock.NewRows(projectionColumns()).
		AddRow("1001", "https://x", ptr("국밥집"), ptr("서울"), nil, nil, nil, nil, at, at,
			ptr("run-2"), ptr(at), ptr("국밥집"), ptr("진한 국물"), ptr("한식"),
			[]byte(`["순대국"]`), []byte(`["점심 피크 피하기"]`), ptr(91), ptr(0.05),
			[]byte(`{"one_line_copy":"진한 국물","tags":["#국밥"]}`), []byte(`["한식"]`), nil, ptr("m"), ptr("v1"), ptr(later),
			nil).
		AddRow("2002", "https://y", nil, nil, nil, nil, nil, nil, at, at,
			nil, nil, nil, nil, nil,
			nil, nil, nil, nil,
			nil, nil, nil, nil, nil, nil,
			[]byte(`{"store_id":"2002","name":"옛 가게","address":"부산"}`))
	mock.ExpectQuery("FROM stores s").
		WithArgs("").
		WillReturnRows(rows)
	mock.ExpectQuery("ROW_NUMBER").
		WithArgs([]string{"1001", "2002"}, 5).
		WillReturnRows(pgxmock.NewRows([]string{"store_id", "text"}).
			AddRow("1001", "최근 리뷰").
			AddRow("1001", "이전 리뷰"))

	got, err := repo.ListProjection(context.Background(), "", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	require.NotNil(t, first.Analysis)
	require.Equal(t, "run-2", first.Analysis.RunID)
	require.Equal(t, 91, first.Analysis.Result.RecommendationScore)
	require.Equal(t, []string{"순대국"}, first.Analysis.Result.SignatureMenu)
	require.Equal(t, []string{"#국밥"}, first.Analysis.Result.ReviewSummary.Tags)
	require.Equal(t, later, first.Analysis.UpdatedAt)
	require.Equal(t, []string{"최근 리뷰", "이전 리뷰"}, first.Reviews)
	require.Nil(t, first.Legacy)

	second := got[1]
	require.Nil(t, second.Analysis)
	require.NotNil(t, second.Legacy)
	require.Equal(t, "옛 가게", second.Legacy.Name)
	require.Empty(t, second.Reviews)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListProjectionSkipsReviewsWithoutWindow(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("FROM stores s").
		WithArgs("1001").
		WillReturnRows(pgxmock.NewRows(projectionColumns()).
			AddRow("1001", "https://x", nil, nil, nil, nil, nil, nil, at, at,
				nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil))

	got, err := repo.ListProjection(context.Background(), "1001", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
