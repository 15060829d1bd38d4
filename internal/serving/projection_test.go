package serving

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hidden-spot/internal/analysis"
	"github.com/JakeFAU/hidden-spot/internal/storage/memory"
	"github.com/JakeFAU/hidden-spot/internal/store"
)

var testMarkers = []string{"지도", "길찾기", "저장", "공유", "로그인"}

func newProjection(repo store.ServingRepository) *Projection {
	return New(repo, Config{ReviewWindow: 5, LowQualityMarkers: testMarkers, MinMarkerHits: 2}, nil)
}

func fptr(v float64) *float64 { return &v }

func TestReconcilePrecedence(t *testing.T) {
	t.Parallel()

	score := 77
	row := store.ProjectionRow{
		Store: store.Store{
			StoreID: "1001", URL: "https://x", Name: "가게 이름", Address: "", Category: "한식",
			TransportInfo: "역에서 도보 5분",
		},
		Analysis: &store.Analysis{
			RunID: "run-1",
			Result: analysis.Result{
				RestaurantName:      "분석 이름",
				Summary:             "진한 국물",
				SignatureMenu:       []string{"순대국"},
				RecommendationScore: 88,
			},
		},
		Legacy: &store.LegacyRecord{
			StoreID: "1001", Name: "옛 이름", Address: "서울 마포구", Lat: fptr(37.5), Lng: fptr(126.9),
			Score: &score, Menus: []string{"옛 메뉴"}, SearchTags: []string{"#옛태그"},
		},
		Reviews: []string{"맛있어요"},
	}

	r := Reconcile(row)
	require.Equal(t, "분석 이름", r.Name)
	require.Equal(t, "서울 마포구", r.Address)
	require.InDelta(t, 37.5, *r.Latitude, 1e-9)
	require.Equal(t, 88, r.Score)
	require.Equal(t, "역에서 도보 5분", r.TransportInfo)
	require.Equal(t, []string{"순대국"}, r.Menus)
	require.Equal(t, []string{"#옛태그"}, r.Tags)
	require.Equal(t, []string{"한식"}, r.Categories)
	require.Equal(t, "한식", r.Vibe)
	require.Equal(t, "https://x", r.OriginalURL)
	require.Equal(t, "run-1", r.RunID)
	require.Equal(t, []string{"맛있어요"}, r.RawReviews)
}

func TestReconcileLegacyOnly(t *testing.T) {
	t.Parallel()

	score := 64
	r := Reconcile(store.ProjectionRow{
		Store:  store.Store{StoreID: "2002"},
		Legacy: &store.LegacyRecord{StoreID: "2002", Name: "옛 가게", URL: "https://old", Score: &score, Summary: "옛 요약"},
	})
	require.Equal(t, "옛 가게", r.Name)
	require.Equal(t, 64, r.Score)
	require.Equal(t, "옛 요약", r.Summary)
	require.Equal(t, "https://old", r.OriginalURL)
	require.NotNil(t, r.Menus)
	require.NotNil(t, r.RawReviews)
	require.Nil(t, r.Latitude)
}

func TestLowQualityFilter(t *testing.T) {
	t.Parallel()

	p := newProjection(memory.NewRepository())
	cases := []struct {
		name string
		r    Restaurant
		want bool
	}{
		{"empty", Restaurant{StoreID: "1"}, true},
		{"placeholder summary only", Restaurant{StoreID: "1", Summary: analysis.PlaceholderFinalSummary}, true},
		{"name is store id", Restaurant{StoreID: "1001", Name: "1001"}, true},
		{"store id name with menus", Restaurant{StoreID: "1001", Name: "1001", Menus: []string{"국밥"}}, false},
		{"boilerplate summary", Restaurant{StoreID: "1", Name: "가게", Summary: "지도 길찾기 저장 공유"}, true},
		{"boilerplate summary with menus", Restaurant{StoreID: "1", Name: "가게", Summary: "지도 길찾기", Menus: []string{"국밥"}}, false},
		{"named with summary", Restaurant{StoreID: "1", Name: "가게", Summary: "국물이 진해요"}, false},
		{"name only", Restaurant{StoreID: "1", Name: "가게"}, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, p.LowQuality(tc.r), tc.name)
	}
}

func seed(t *testing.T) *memory.Repository {
	t.Helper()
	ctx := context.Background()
	repo := memory.NewRepository()
	t0 := time.Unix(1700000000, 0).UTC()

	require.NoError(t, repo.UpsertStore(ctx, store.Store{StoreID: "1001", URL: "https://a", Name: "국밥집", UpdatedAt: t0}))
	require.NoError(t, repo.UpsertAnalysis(ctx, store.Analysis{
		RunID: "r1", StoreID: "1001", UpdatedAt: t0.Add(time.Minute),
		Result: analysis.Result{
			RestaurantName: "국밥집", Summary: "진한 국물", SignatureMenu: []string{"순대국밥"},
			RecommendationScore: 85, ReviewSummary: analysis.ReviewSummary{Tags: []string{"#순대국밥"}},
		},
	}))

	require.NoError(t, repo.UpsertStore(ctx, store.Store{StoreID: "2002", URL: "https://b", Name: "스시야", UpdatedAt: t0}))
	require.NoError(t, repo.UpsertAnalysis(ctx, store.Analysis{
		RunID: "r2", StoreID: "2002", UpdatedAt: t0.Add(2 * time.Minute),
		Result: analysis.Result{
			RestaurantName: "스시야", Summary: "신선한 초밥", SignatureMenu: []string{"모둠초밥"},
			RecommendationScore: 92,
		},
	}))

	require.NoError(t, repo.UpsertStore(ctx, store.Store{StoreID: "3003", URL: "https://c", UpdatedAt: t0}))
	return repo
}

func TestListFiltersAndOrders(t *testing.T) {
	t.Parallel()

	p := newProjection(seed(t))
	all, err := p.List(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "2002", all[0].StoreID)
	require.Equal(t, "1001", all[1].StoreID)

	high, err := p.List(context.Background(), Query{MinScore: 90})
	require.NoError(t, err)
	require.Len(t, high, 1)
	require.Equal(t, "2002", high[0].StoreID)

	limited, err := p.List(context.Background(), Query{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestListKeywordUsesSynonyms(t *testing.T) {
	t.Parallel()

	p := newProjection(seed(t))
	got, err := p.List(context.Background(), Query{Keyword: "피자"})
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = p.List(context.Background(), Query{Keyword: "회"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "2002", got[0].StoreID)

	got, err = p.List(context.Background(), Query{Keyword: "국물"})
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = p.List(context.Background(), Query{Keyword: "국밥"})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestGetHidesLowQualityAndMissing(t *testing.T) {
	t.Parallel()

	p := newProjection(seed(t))
	r, err := p.Get(context.Background(), "1001")
	require.NoError(t, err)
	require.Equal(t, "국밥집", r.Name)

	_, err = p.Get(context.Background(), "3003")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = p.Get(context.Background(), "9999")
	require.ErrorIs(t, err, ErrNotFound)
}
