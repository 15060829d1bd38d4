// Package analysis turns review texts into a normalized structured summary
// via chunked map-reduce over a generative backend.
package analysis

// ChunkSummary is the map-stage output for one batch of reviews.
type ChunkSummary struct {
	Vibe          string   `json:"vibe"`
	SignatureMenu []string `json:"signature_menu"`
	Tips          []string `json:"tips"`
	Summary       string   `json:"summary"`
	// Fallback marks a summary synthesized without the model.
	Fallback bool `json:"fallback,omitempty"`
}

// Metric is one category-specific taste score.
type Metric struct {
	Label string `json:"label"`
	Score int    `json:"score"`
	Text  string `json:"text"`
}

// TasteProfile groups the inferred category with its four metrics.
type TasteProfile struct {
	CategoryName string   `json:"category_name"`
	Metrics      []Metric `json:"metrics"`
}

// ReviewSummary is the structured client-facing summary.
type ReviewSummary struct {
	OneLineCopy    string       `json:"one_line_copy"`
	Tags           []string     `json:"tags"`
	TasteProfile   TasteProfile `json:"taste_profile"`
	ProTips        []string     `json:"pro_tips"`
	NegativePoints []string     `json:"negative_points"`
}

// Result is a normalized analysis. Every field satisfies the ranges and
// cardinalities enforced by Normalize.
type Result struct {
	RestaurantName      string        `json:"restaurant_name"`
	Summary             string        `json:"summary_3lines"`
	Vibe                string        `json:"vibe"`
	SignatureMenu       []string      `json:"signature_menu"`
	Tips                []string      `json:"tips"`
	RecommendationScore int           `json:"recommendation_score"`
	AdReviewRatio       float64       `json:"ad_review_ratio"`
	ReviewSummary       ReviewSummary `json:"review_summary"`
	Categories          []string      `json:"categories"`
	TransportInfo       string        `json:"transport_info"`
}

// StoreContext is optional grounding passed to the reduce prompt.
type StoreContext struct {
	Name    string
	Address string
}
