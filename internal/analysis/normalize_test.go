package analysis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeClampsRanges(t *testing.T) {
	t.Parallel()

	res := Normalize(map[string]any{
		"recommendation_score": 180.4,
		"ad_review_ratio":      -0.3,
		"review_summary": map[string]any{
			"taste_profile": map[string]any{
				"category_name": "국밥",
				"metrics": []any{
					map[string]any{"label": "국물", "score": 9, "text": "진함"},
					map[string]any{"label": "양", "score": 0},
					map[string]any{"label": "가성비", "score": "4.6"},
					map[string]any{"label": "친절", "score": 3},
					map[string]any{"label": "청결", "score": 5},
				},
			},
		},
	}, StoreContext{})

	require.Equal(t, 100, res.RecommendationScore)
	require.Zero(t, res.AdReviewRatio)
	metrics := res.ReviewSummary.TasteProfile.Metrics
	require.Len(t, metrics, MetricCount)
	require.Equal(t, 5, metrics[0].Score)
	require.Equal(t, 1, metrics[1].Score)
	require.Equal(t, 5, metrics[2].Score)
	require.Equal(t, "친절", metrics[3].Label)
}

func TestNormalizeDefaultsWhenEmpty(t *testing.T) {
	t.Parallel()

	res := Normalize(nil, StoreContext{Name: "을지면옥"})
	require.Equal(t, DefaultScore, res.RecommendationScore)
	require.Zero(t, res.AdReviewRatio)
	require.Equal(t, "을지면옥", res.RestaurantName)
	require.Len(t, res.ReviewSummary.TasteProfile.Metrics, MetricCount)
	for _, m := range res.ReviewSummary.TasteProfile.Metrics {
		require.Equal(t, 3, m.Score)
		require.NotEmpty(t, m.Label)
	}
	require.NotNil(t, res.ReviewSummary.Tags)
	require.NotNil(t, res.Categories)
	require.NotNil(t, res.SignatureMenu)
}

func TestNormalizeBackfillsTagsAndCategories(t *testing.T) {
	t.Parallel()

	res := Normalize(map[string]any{
		"score":          "88",
		"must_eat_menus": []any{"⭐ 물냉면", "수육", "녹두전", "만두"},
		"summary":        "첫 줄\n둘째 줄",
		"review_summary": map[string]any{
			"taste_profile": map[string]any{"category_name": "평양 냉면"},
		},
	}, StoreContext{})

	require.Equal(t, 88, res.RecommendationScore)
	require.Equal(t, []string{"#물냉면", "#수육", "#녹두전", "#평양냉면"}, res.ReviewSummary.Tags)
	require.Equal(t, []string{"평양 냉면"}, res.Categories)
	require.Equal(t, "평양 냉면", res.Vibe)
	require.Equal(t, "첫 줄", res.ReviewSummary.OneLineCopy)
	require.Equal(t, "첫 줄\n둘째 줄", res.Summary)
}

func TestNormalizeSummaryFromOneLineCopy(t *testing.T) {
	t.Parallel()

	res := Normalize(map[string]any{
		"review_summary": map[string]any{"one_line_copy": "줄 서는 노포", "pro_tips": []any{"오픈런"}},
	}, StoreContext{})
	require.Equal(t, "줄 서는 노포", res.Summary)
	require.Equal(t, []string{"오픈런"}, res.Tips)
}

func TestDecodeObjectAcceptsFencesAndArrays(t *testing.T) {
	t.Parallel()

	m, err := DecodeObject("```json\n[{\"recommendation_score\": 42, \"ad_review_ratio\": 0.25}]\n```")
	require.NoError(t, err)
	res := Normalize(m, StoreContext{})
	require.Equal(t, 42, res.RecommendationScore)
	require.InDelta(t, 0.25, res.AdReviewRatio, 1e-9)

	_, err = DecodeObject(`"just a string"`)
	require.ErrorIs(t, err, ErrNotObject)

	_, err = DecodeObject(`{broken`)
	require.Error(t, err)
}

func TestNormalizeRejectsNonFiniteNumbers(t *testing.T) {
	t.Parallel()

	res := Normalize(map[string]any{"score": "NaN", "ad_review_ratio": "Inf"}, StoreContext{})
	require.Equal(t, DefaultScore, res.RecommendationScore)
	require.Zero(t, res.AdReviewRatio)
}
