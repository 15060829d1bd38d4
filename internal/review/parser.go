package review

import (
	"fmt"
	stdhtml "html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

const (
	minCandidateRunes = 12
	maxParsedReviews  = 1000
)

var (
	ratingPattern = regexp.MustCompile(`(\d(?:\.\d)?)\s*점`)

	// Fragments of reply widgets and expanders, not review bodies.
	noiseFragments = []string{"더보기", "답글", "사장님", "접기"}

	// Sponsored-post disclosures.
	adFragments = []string{"협찬", "원고료", "제공받아", "소정의", "광고"}
)

// Parser extracts reviews from a captured place page.
type Parser struct {
	selector string
	maxItems int
	strip    *bluemonday.Policy
}

// NewParser returns a parser over the block-level elements review widgets
// are rendered into.
func NewParser() *Parser {
	return &Parser{selector: "li, div, span, p", maxItems: maxParsedReviews, strip: bluemonday.StrictPolicy()}
}

// Parse scans html for review-like text blocks. When none qualify it falls
// back to the crawler's extracted texts. Output is deduplicated by
// surrogate key in first-seen order.
func (p *Parser) Parse(rawHTML string, fallback []string) ([]Review, error) {
	candidates := make([]string, 0)
	if strings.TrimSpace(rawHTML) != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
		if err != nil {
			return nil, fmt.Errorf("parse html: %w", err)
		}
		doc.Find(p.selector).Each(func(_ int, s *goquery.Selection) {
			text := joinedText(s)
			if utf8.RuneCountInString(text) < minCandidateRunes || containsAny(text, noiseFragments) {
				return
			}
			candidates = append(candidates, text)
		})
	}
	if len(candidates) == 0 {
		for _, text := range fallback {
			if text = p.plain(text); text != "" {
				candidates = append(candidates, text)
			}
		}
	}

	reviews := make([]Review, 0, len(candidates))
	for _, text := range candidates {
		r := New(text, nil, nil, ExtractRating(text))
		r.IsAdSuspect = containsAny(text, adFragments)
		reviews = append(reviews, r)
	}
	out := Dedupe(reviews)
	if len(out) > p.maxItems {
		out = out[:p.maxItems]
	}
	return out, nil
}

// ExtractRating reads a "4.5점" style rating from text.
func ExtractRating(text string) *float64 {
	m := ratingPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}

// joinedText concatenates the trimmed text nodes under s with single spaces.
func joinedText(s *goquery.Selection) string {
	parts := make([]string, 0, 8)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

// plain strips markup that leaked into crawler-extracted texts.
func (p *Parser) plain(text string) string {
	text = stdhtml.UnescapeString(p.strip.Sanitize(text))
	return strings.Join(strings.Fields(text), " ")
}

func containsAny(text string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(text, f) {
			return true
		}
	}
	return false
}
