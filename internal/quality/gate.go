// Package quality rejects review batches that cannot be trusted as place
// content before they reach analysis.
package quality

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/hidden-spot/internal/review"
)

// DQError reports a data-quality failure. It is never retryable.
type DQError struct {
	Reason string
}

func (e *DQError) Error() string {
	return "DQ failed: " + e.Reason
}

// IsDQ reports whether err is or wraps a DQError.
func IsDQ(err error) bool {
	var dq *DQError
	return errors.As(err, &dq)
}

// Gate validates parsed review batches.
type Gate struct {
	markers []string
	minHits int
}

// Config tunes the boilerplate signature.
type Config struct {
	// Markers are chrome phrases of the source portal.
	Markers []string
	// MinHits is how many distinct markers make a review boilerplate.
	MinHits int
}

// New builds a Gate. MinHits defaults to 2.
func New(cfg Config) *Gate {
	minHits := cfg.MinHits
	if minHits <= 0 {
		minHits = 2
	}
	markers := make([]string, 0, len(cfg.Markers))
	for _, m := range cfg.Markers {
		if m = strings.TrimSpace(m); m != "" {
			markers = append(markers, m)
		}
	}
	return &Gate{markers: markers, minHits: minHits}
}

// Validate applies the rules in order and returns the first failure.
func (g *Gate) Validate(reviews []review.Review, storeID, collectedAt string) error {
	if len(reviews) == 0 {
		return &DQError{Reason: "review_count must be > 0"}
	}
	if storeID == "" {
		return &DQError{Reason: "store_id is required"}
	}
	if collectedAt == "" {
		return &DQError{Reason: "collected_at is required"}
	}
	for _, r := range reviews {
		if r.Rating != nil && (*r.Rating < 0 || *r.Rating > 5) {
			return &DQError{Reason: "rating out of range [0, 5]"}
		}
	}
	boiler := 0
	for _, r := range reviews {
		if g.IsBoilerplate(r.Text) {
			boiler++
		}
	}
	if threshold := boilerplateThreshold(len(reviews)); boiler >= threshold {
		return &DQError{Reason: fmt.Sprintf("portal boilerplate dominates reviews (%d of %d, threshold %d)", boiler, len(reviews), threshold)}
	}
	return nil
}

// IsBoilerplate reports whether text carries at least MinHits distinct
// markers.
func (g *Gate) IsBoilerplate(text string) bool {
	return MarkerHits(text, g.markers) >= g.minHits
}

// MarkerHits counts the distinct markers present in text.
func MarkerHits(text string, markers []string) int {
	if text == "" {
		return 0
	}
	lowered := strings.ToLower(text)
	hits := 0
	for _, m := range markers {
		if strings.Contains(lowered, strings.ToLower(m)) {
			hits++
		}
	}
	return hits
}

// max(3, ceil(0.5 * n))
func boilerplateThreshold(n int) int {
	half := (n + 1) / 2
	if half < 3 {
		return 3
	}
	return half
}
