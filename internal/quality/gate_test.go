package quality

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hidden-spot/internal/review"
)

var markers = []string{"길찾기", "거리뷰", "공유", "저장"}

func rv(text string) review.Review {
	return review.New(text, nil, nil, nil)
}

func TestValidateEmpty(t *testing.T) {
	t.Parallel()

	err := New(Config{Markers: markers}).Validate(nil, "s", "2025-01-01T00:00:00Z")
	require.Error(t, err)
	assert.True(t, IsDQ(err))
}

func TestValidateRequiresIdentity(t *testing.T) {
	t.Parallel()

	g := New(Config{Markers: markers})
	reviews := []review.Review{rv("맛있는 집")}
	assert.True(t, IsDQ(g.Validate(reviews, "", "ts")))
	assert.True(t, IsDQ(g.Validate(reviews, "s", "")))
}

func TestValidateRatingRange(t *testing.T) {
	t.Parallel()

	bad := 5.5
	r := review.New("별점이 이상한 리뷰", nil, nil, &bad)
	err := New(Config{Markers: markers}).Validate([]review.Review{r}, "s", "ts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rating out of range")

	ok := 0.0
	r = review.New("별점 0점", nil, nil, &ok)
	assert.NoError(t, New(Config{Markers: markers}).Validate([]review.Review{r}, "s", "ts"))
}

func TestValidateSingleSpecificReview(t *testing.T) {
	t.Parallel()

	err := New(Config{Markers: markers}).Validate([]review.Review{rv("순대국이 진하고 깍두기가 맛있어요")}, "s", "ts")
	assert.NoError(t, err)
}

func TestValidateBoilerplateDominates(t *testing.T) {
	t.Parallel()

	reviews := []review.Review{
		rv("길찾기 거리뷰 공유"),
		rv("저장 길찾기"),
		rv("공유 저장 메뉴"),
		rv("진짜 맛있는 칼국수 집"),
	}
	err := New(Config{Markers: markers}).Validate(reviews, "s", "ts")
	require.Error(t, err)
	assert.True(t, IsDQ(err))
	assert.Contains(t, err.Error(), "boilerplate")
}

func TestValidateBoilerplateBelowFloor(t *testing.T) {
	t.Parallel()

	// Two boilerplate reviews never trip the gate even when they are the majority.
	reviews := []review.Review{rv("길찾기 거리뷰"), rv("공유 저장"), rv("좋아요")}
	assert.NoError(t, New(Config{Markers: markers}).Validate(reviews, "s", "ts"))
}

func TestValidateBoilerplateMinority(t *testing.T) {
	t.Parallel()

	reviews := make([]review.Review, 0, 10)
	for i := 0; i < 4; i++ {
		reviews = append(reviews, rv(fmt.Sprintf("길찾기 거리뷰 %d", i)))
	}
	for i := 0; i < 6; i++ {
		reviews = append(reviews, rv(fmt.Sprintf("분위기 좋은 카페 %d", i)))
	}
	assert.NoError(t, New(Config{Markers: markers}).Validate(reviews, "s", "ts"))
}

func TestSingleMarkerIsNotBoilerplate(t *testing.T) {
	t.Parallel()

	g := New(Config{Markers: markers})
	assert.False(t, g.IsBoilerplate("리뷰 저장해두고 또 올게요"))
	assert.True(t, g.IsBoilerplate("리뷰 저장 공유"))
	assert.Equal(t, 0, MarkerHits("", markers))
}

func TestThreshold(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, boilerplateThreshold(1))
	assert.Equal(t, 3, boilerplateThreshold(6))
	assert.Equal(t, 4, boilerplateThreshold(7))
	assert.Equal(t, 5, boilerplateThreshold(10))
}
