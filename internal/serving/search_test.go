package serving

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandKeyword(t *testing.T) {
	t.Parallel()

	require.Nil(t, ExpandKeyword("  "))
	require.Equal(t, []string{"pizza"}, ExpandKeyword(" Pizza "))
	require.Equal(t, []string{"국물", "탕", "찌개", "전골", "라멘", "샤브"}, ExpandKeyword("국물"))
	require.Equal(t, []string{"스시", "초밥", "사시미", "회"}, ExpandKeyword("스시"))
}

func TestMatchesSearchesNameAddressMenusTags(t *testing.T) {
	t.Parallel()

	r := Restaurant{Name: "Ramen House", Address: "서울 마포구", Menus: []string{"돈코츠 라멘"}, Tags: []string{"#심야"}}
	require.True(t, Matches(r, []string{"ramen"}))
	require.True(t, Matches(r, []string{"마포"}))
	require.True(t, Matches(r, ExpandKeyword("국물")))
	require.True(t, Matches(r, []string{"심야"}))
	require.False(t, Matches(r, []string{"초밥"}))
}
