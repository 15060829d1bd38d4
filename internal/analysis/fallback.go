package analysis

import (
	"strings"
	"unicode/utf8"
)

// Summaries written when no review text could be summarized.
const (
	PlaceholderChunkSummary = "리뷰 데이터가 제한적입니다."
	PlaceholderFinalSummary = "리뷰 기반 자동 요약을 생성하지 못했습니다."
)

const (
	fallbackChunkReviews = 2
	fallbackSummaryRunes = 300
	fallbackMaxItems     = 5
	fallbackSummaryLines = 3
)

// FallbackChunk synthesizes a chunk summary from the first reviews when the
// model call for that chunk fails.
func FallbackChunk(reviews []string) ChunkSummary {
	top := reviews
	if len(top) > fallbackChunkReviews {
		top = top[:fallbackChunkReviews]
	}
	summary := PlaceholderChunkSummary
	if len(top) > 0 {
		summary = truncateRunes(strings.Join(top, " "), fallbackSummaryRunes)
	}
	return ChunkSummary{
		Vibe:          "담백하고 실사용자 중심 리뷰가 많은 분위기",
		SignatureMenu: []string{},
		Tips:          []string{"피크타임 대기 가능성 확인"},
		Summary:       summary,
		Fallback:      true,
	}
}

// FallbackFinal merges chunk summaries into an unnormalized final result.
func FallbackFinal(chunks []ChunkSummary) map[string]any {
	lines := make([]string, 0, fallbackSummaryLines)
	menus := make([]string, 0)
	tips := make([]string, 0)
	for _, c := range chunks {
		if s := strings.TrimSpace(c.Summary); s != "" && len(lines) < fallbackSummaryLines {
			lines = append(lines, s)
		}
		menus = append(menus, c.SignatureMenu...)
		tips = append(tips, c.Tips...)
	}
	summary := strings.Join(lines, "\n")
	if summary == "" {
		summary = PlaceholderFinalSummary
	}
	return map[string]any{
		"summary_3lines":  summary,
		"vibe":            "실사용 기반 후기 혼합",
		"signature_menu":  toAny(capList(dedupe(trimAll(menus)), fallbackMaxItems)),
		"tips":            toAny(capList(dedupe(trimAll(tips)), fallbackMaxItems)),
		"score":           float64(DefaultScore),
		"ad_review_ratio": 0.0,
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func capList(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
