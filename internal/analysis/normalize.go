package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Normalization bounds and defaults.
const (
	DefaultScore   = 70
	MetricCount    = 4
	MinMetricScore = 1
	MaxMetricScore = 5

	defaultMetricScore = 3
	maxListItems       = 10
	maxDerivedTags     = 3
)

// ErrNotObject is returned when a model response is not a JSON object.
var ErrNotObject = errors.New("response is not a JSON object")

var placeholderMetrics = []Metric{
	{Label: "맛", Score: defaultMetricScore, Text: "리뷰 근거가 부족해 기본값으로 표시합니다."},
	{Label: "가성비", Score: defaultMetricScore, Text: "리뷰 근거가 부족해 기본값으로 표시합니다."},
	{Label: "분위기", Score: defaultMetricScore, Text: "리뷰 근거가 부족해 기본값으로 표시합니다."},
	{Label: "서비스", Score: defaultMetricScore, Text: "리뷰 근거가 부족해 기본값으로 표시합니다."},
}

// DecodeObject parses model output into a raw JSON object. Code fences are
// stripped and a top-level array yields its first object.
func DecodeObject(text string) (map[string]any, error) {
	text = stripFences(text)
	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if m := asMap(raw); m != nil {
		return m, nil
	}
	return nil, ErrNotObject
}

// Normalize coerces an untyped result into a Result that satisfies every
// range and cardinality rule. Aliases used by older payloads are accepted.
func Normalize(raw map[string]any, store StoreContext) Result {
	if raw == nil {
		raw = map[string]any{}
	}
	rs := asMap(raw["review_summary"])
	tp := asMap(rs["taste_profile"])

	menus := firstList(raw["must_eat_menus"], raw["signature_menu"])
	categories := strList(raw["categories"])
	categoryName := firstString(str(tp["category_name"]), first(categories))

	summary := firstString(str(raw["summary_3lines"]), str(raw["summary"]))
	oneLine := firstString(str(rs["one_line_copy"]), firstLine(summary))
	if summary == "" {
		summary = oneLine
	}

	proTips := strList(rs["pro_tips"])
	tips := strList(raw["tips"])
	if len(tips) == 0 {
		tips = proTips
	}
	if len(proTips) == 0 {
		proTips = tips
	}

	tags := firstList(rs["tags"], raw["tags"], raw["search_tags"])
	if len(tags) == 0 {
		tags = deriveTags(menus, categoryName)
	}
	if len(categories) == 0 && categoryName != "" {
		categories = []string{categoryName}
	}

	score := DefaultScore
	if v, ok := firstNumber(raw["recommendation_score"], raw["score"]); ok {
		score = clampInt(int(math.Round(v)), 0, 100)
	}
	ratio := 0.0
	if v, ok := firstNumber(raw["ad_review_ratio"]); ok {
		ratio = clampFloat(v, 0, 1)
	}

	return Result{
		RestaurantName:      firstString(str(raw["restaurant_name"]), str(raw["name"]), strings.TrimSpace(store.Name)),
		Summary:             summary,
		Vibe:                firstString(str(raw["vibe"]), categoryName),
		SignatureMenu:       menus,
		Tips:                tips,
		RecommendationScore: score,
		AdReviewRatio:       ratio,
		ReviewSummary: ReviewSummary{
			OneLineCopy: oneLine,
			Tags:        tags,
			TasteProfile: TasteProfile{
				CategoryName: categoryName,
				Metrics:      normalizeMetrics(tp["metrics"]),
			},
			ProTips:        proTips,
			NegativePoints: strList(rs["negative_points"]),
		},
		Categories:    categories,
		TransportInfo: str(raw["transport_info"]),
	}
}

// normalizeMetrics keeps the first four labelled metrics, clamps scores and
// fills the remainder with placeholders whose labels are not already used.
func normalizeMetrics(v any) []Metric {
	out := make([]Metric, 0, MetricCount)
	used := make(map[string]struct{}, MetricCount)
	list, _ := v.([]any)
	for _, item := range list {
		if len(out) == MetricCount {
			break
		}
		m := asMap(item)
		label := str(m["label"])
		if label == "" {
			continue
		}
		if _, dup := used[label]; dup {
			continue
		}
		score := defaultMetricScore
		if n, ok := number(m["score"]); ok {
			score = clampInt(int(math.Round(n)), MinMetricScore, MaxMetricScore)
		}
		used[label] = struct{}{}
		out = append(out, Metric{Label: label, Score: score, Text: str(m["text"])})
	}
	for _, p := range placeholderMetrics {
		if len(out) == MetricCount {
			break
		}
		if _, dup := used[p.Label]; dup {
			continue
		}
		used[p.Label] = struct{}{}
		out = append(out, p)
	}
	return out
}

func deriveTags(menus []string, category string) []string {
	tags := make([]string, 0, maxDerivedTags+1)
	for _, m := range menus {
		if len(tags) == maxDerivedTags {
			break
		}
		name := strings.TrimSpace(strings.ReplaceAll(m, "⭐", ""))
		if name != "" {
			tags = append(tags, "#"+strings.ReplaceAll(name, " ", ""))
		}
	}
	if category != "" {
		tags = append(tags, "#"+strings.ReplaceAll(category, " ", ""))
	}
	return dedupe(tags)
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}

func asMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	return ""
}

// strList accepts a list of scalars or a single delimited string.
func strList(v any) []string {
	out := make([]string, 0)
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s := str(item); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	out = dedupe(out)
	if len(out) > maxListItems {
		out = out[:maxListItems]
	}
	return out
}

func number(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func firstNumber(vals ...any) (float64, bool) {
	for _, v := range vals {
		if n, ok := number(v); ok {
			return n, true
		}
	}
	return 0, false
}

func firstList(vals ...any) []string {
	for _, v := range vals {
		if l := strList(v); len(l) > 0 {
			return l
		}
	}
	return []string{}
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func first(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
