// Package keys derives store/run identifiers and the partitioned object keys
// used by every layer of the data lake.
package keys

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/hidden-spot/internal/hash/sha256"
)

// ErrInvalidKeyInput is returned when a required key component is empty.
var ErrInvalidKeyInput = errors.New("store_id, collected_at, run_id are required")

const (
	// SourceName partitions bronze objects by the upstream site family.
	SourceName = "place_page"

	maxStoreIDLen = 64
	tmpPrefix     = "tmp_"
)

var (
	placeSegment = regexp.MustCompile(`/(?:entry/)?place/([A-Za-z0-9_-]+)`)
	queryParam   = regexp.MustCompile(`[?&](?:query|q)=([^&#]+)`)
)

// Parts identifies one run of one store at one logical capture time.
type Parts struct {
	StoreID     string
	CollectedAt string
	RunID       string
	DT          string
}

// NewParts builds Parts from a capture timestamp, formatting it the way all
// object keys and artifacts expect.
func NewParts(storeID, runID string, collectedAt time.Time) Parts {
	return Parts{
		StoreID:     storeID,
		CollectedAt: FormatTimestamp(collectedAt),
		RunID:       runID,
		DT:          DatePartition(collectedAt),
	}
}

// Validate reports ErrInvalidKeyInput when a required component is missing.
func (p Parts) Validate() error {
	if p.StoreID == "" || p.CollectedAt == "" || p.RunID == "" {
		return ErrInvalidKeyInput
	}
	return nil
}

func (p Parts) dt() string {
	if p.DT != "" {
		return p.DT
	}
	ts, err := ParseTimestamp(p.CollectedAt)
	if err != nil {
		return "unknown"
	}
	return DatePartition(ts)
}

// BronzeHTML is the gzip-compressed raw page captured for the run.
func (p Parts) BronzeHTML() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("bronze/%s/store_id=%s/collected_at=%s/run_id=%s/reviews.html.gz",
		SourceName, p.StoreID, p.CollectedAt, p.RunID), nil
}

// BronzeMeta is the JSON metadata document describing the crawl.
func (p Parts) BronzeMeta() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("bronze/%s/store_id=%s/collected_at=%s/run_id=%s/store_meta.json",
		SourceName, p.StoreID, p.CollectedAt, p.RunID), nil
}

// SilverReviews is the parsed review batch (JSONL).
func (p Parts) SilverReviews() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("silver/reviews/store_id=%s/dt=%s/run_id=%s/reviews.jsonl", p.StoreID, p.dt(), p.RunID), nil
}

// GoldAnalysis is the final normalized analysis with provenance.
func (p Parts) GoldAnalysis() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("gold/analysis/store_id=%s/dt=%s/run_id=%s/analysis.json", p.StoreID, p.dt(), p.RunID), nil
}

// ChunkSummaries holds the intermediate per-chunk map results.
func (p Parts) ChunkSummaries() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("artifacts/chunks/store_id=%s/dt=%s/run_id=%s/chunk_summaries.json", p.StoreID, p.dt(), p.RunID), nil
}

// DebugFailure is where the crawler's final-failure screenshot lands.
func (p Parts) DebugFailure() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("artifacts/debug/store_id=%s/dt=%s/run_id=%s/final_failure.png", p.StoreID, p.dt(), p.RunID), nil
}

// HashIndex is the global content-addressed entry for a raw HTML digest.
func HashIndex(digest string) string {
	return fmt.Sprintf("artifacts/hash_index/bronze_reviews/%s.json", digest)
}

// GoldPrefix lists every gold analysis object.
const GoldPrefix = "gold/analysis/"

// FormatTimestamp renders ts as second-precision UTC with a Z suffix.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

// ParseTimestamp accepts RFC 3339 timestamps with or without fractional seconds.
func ParseTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return ts.UTC(), nil
}

// DatePartition renders the UTC calendar date used for dt= partitions.
func DatePartition(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

// ExtractStoreID returns the place identifier embedded in rawURL, or "" when
// none of the known patterns match. Patterns are tried in priority order:
// an explicit place segment, a query parameter, then the last path segment.
func ExtractStoreID(rawURL string) string {
	if m := placeSegment.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if m := queryParam.FindStringSubmatch(rawURL); m != nil {
		return truncate(m[1], maxStoreIDLen)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	var tail string
	for _, seg := range strings.Split(parsed.Path, "/") {
		if seg != "" {
			tail = seg
		}
	}
	return truncate(tail, maxStoreIDLen)
}

// DeriveStoreID is the pure, deterministic join key between crawl, analysis
// and serving. URLs without a recognizable identifier get a synthetic id
// built from the URL digest.
func DeriveStoreID(rawURL string) string {
	if id := ExtractStoreID(rawURL); id != "" {
		return id
	}
	return tmpPrefix + sha256.Short(rawURL, 16)
}

// IsSynthetic reports whether storeID came from the digest fallback.
func IsSynthetic(storeID string) bool {
	return strings.HasPrefix(storeID, tmpPrefix)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
