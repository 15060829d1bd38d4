package pipeline

import (
	"github.com/JakeFAU/hidden-spot/internal/analysis"
	"github.com/JakeFAU/hidden-spot/internal/llm"
)

// BronzeMeta is the per-run crawl record written next to the raw HTML.
type BronzeMeta struct {
	RunID       string   `json:"run_id"`
	StoreID     string   `json:"store_id"`
	CollectedAt string   `json:"collected_at"`
	SourceURL   string   `json:"source_url"`
	FinalURL    string   `json:"final_url"`
	PlaceID     string   `json:"place_id,omitempty"`
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	ReviewCount int      `json:"review_count"`
	Reviews     []string `json:"reviews"`
	ContentHash string   `json:"content_hash"`
	HTMLKey     string   `json:"html_key"`
	HTMLSaved   bool     `json:"html_saved"`
}

// GoldStore carries the crawl-side store fields into the gold record so a
// replay can rebuild the store row without the bronze layer.
type GoldStore struct {
	URL       string   `json:"url"`
	Name      string   `json:"name,omitempty"`
	Address   string   `json:"address,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// GoldPayload is the final, provenance-carrying analysis artifact.
type GoldPayload struct {
	RunID             string          `json:"run_id"`
	CollectedAt       string          `json:"collected_at"`
	StoreID           string          `json:"store_id"`
	CrawlerVersion    string          `json:"crawler_version"`
	ParserVersion     string          `json:"parser_version"`
	LLMModel          string          `json:"llm_model"`
	PromptVersion     string          `json:"prompt_version"`
	PromptHash        string          `json:"prompt_hash"`
	InputSnapshotPath string          `json:"input_snapshot_path"`
	Cost              *float64        `json:"cost"`
	Tokens            llm.Usage       `json:"tokens"`
	ChunkCount        int             `json:"chunk_count"`
	FallbackChunks    int             `json:"fallback_chunks"`
	FallbackFinal     bool            `json:"fallback_final"`
	Store             *GoldStore      `json:"store,omitempty"`
	Analysis          analysis.Result `json:"analysis"`
}
