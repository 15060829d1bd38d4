// Package review models parsed reviews and their silver-layer JSONL form.
package review

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/hidden-spot/internal/hash/sha256"
)

const surrogateKeyLen = 24

// Review is one parsed review. Optional fields encode as JSON null.
type Review struct {
	ReviewKey   string   `json:"review_key"`
	Text        string   `json:"text"`
	Date        *string  `json:"date"`
	Author      *string  `json:"author"`
	Rating      *float64 `json:"rating"`
	IsAdSuspect bool     `json:"is_ad_suspect"`
}

// SurrogateKey digests text, date and author into a stable review key.
func SurrogateKey(text string, date, author *string) string {
	var d, a string
	if date != nil {
		d = *date
	}
	if author != nil {
		a = *author
	}
	return sha256.Short(text+"|"+d+"|"+a, surrogateKeyLen)
}

// New builds a Review with its surrogate key populated.
func New(text string, date, author *string, rating *float64) Review {
	return Review{
		ReviewKey: SurrogateKey(text, date, author),
		Text:      text,
		Date:      date,
		Author:    author,
		Rating:    rating,
	}
}

// Dedupe drops later reviews whose surrogate key was already seen.
func Dedupe(reviews []Review) []Review {
	seen := make(map[string]struct{}, len(reviews))
	out := make([]Review, 0, len(reviews))
	for _, r := range reviews {
		key := r.ReviewKey
		if key == "" {
			key = SurrogateKey(r.Text, r.Date, r.Author)
			r.ReviewKey = key
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Texts returns the non-empty review texts in order.
func Texts(reviews []Review) []string {
	out := make([]string, 0, len(reviews))
	for _, r := range reviews {
		if strings.TrimSpace(r.Text) != "" {
			out = append(out, r.Text)
		}
	}
	return out
}

// MarshalJSONL encodes one review per line without HTML escaping.
func MarshalJSONL(reviews []Review) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, r := range reviews {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("encode review %d: %w", i, err)
		}
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSONL decodes a JSONL artifact, skipping blank lines.
func UnmarshalJSONL(data []byte) ([]Review, error) {
	out := make([]Review, 0)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var r Review
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode line %d: %w", line, err)
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan jsonl: %w", err)
	}
	return out, nil
}
