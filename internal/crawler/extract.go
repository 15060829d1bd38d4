package crawler

import (
	"encoding/json"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxReviews        = 500
	maxBlocks         = 400
	minBlockRunes     = 20
	minLineRunes      = 8
	minCleanedRunes   = 25
	maxPlaceNameRunes = 80
)

var (
	placeIDPattern  = regexp.MustCompile(`/(?:entry/)?place/([A-Za-z0-9_-]+)`)
	restaurantIDPat = regexp.MustCompile(`/restaurant/([A-Za-z0-9_-]+)`)
	whitespace      = regexp.MustCompile(`\s+`)
	titleSuffix     = regexp.MustCompile(`\s*[:\-|]\s*네이버.*$`)
	reviewCountLine = regexp.MustCompile(`^리뷰\s*[\d,]+`)
	visitDateLine   = regexp.MustCompile(`^\d{4}년 \d{1,2}월 \d{1,2}일`)
	visitNthLine    = regexp.MustCompile(`^\d+번째 방문$`)

	latPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"y"\s*:\s*"?(-?[\d.]+)"?`),
		regexp.MustCompile(`"lat(?:itude)?"\s*:\s*"?(-?[\d.]+)"?`),
		regexp.MustCompile(`"mapy"\s*:\s*"?(-?[\d.]+)"?`),
	}
	lngPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"x"\s*:\s*"?(-?[\d.]+)"?`),
		regexp.MustCompile(`"(?:lng|longitude)"\s*:\s*"?(-?[\d.]+)"?`),
		regexp.MustCompile(`"mapx"\s*:\s*"?(-?[\d.]+)"?`),
	}

	nameKeys    = []string{"businessName", "name", "title", "placeName"}
	addressKeys = []string{"roadAddress", "address", "jibunAddress"}

	// Widget chrome that appears inside review list items.
	chromeLineMarkers = []string{
		"이 키워드를 선택한 인원",
		"개의 리뷰가 더 있습니다",
		"펼쳐보기",
		"반응 남기기",
		"방문일",
		"인증 수단",
		"알림받기",
		"홈 메뉴 예약 리뷰 사진 정보",
		"방문자 리뷰",
		"블로그 리뷰",
		"저장 거리뷰 공유 예약",
	}
	addressTokens = []string{"시", "군", "구", "로", "길", "동", "읍", "면"}
)

// ExtractPlaceID returns the place identifier in a map or mobile place URL.
func ExtractPlaceID(rawURL string) string {
	if m := placeIDPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if m := restaurantIDPat.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

// ExtractNameAddress reads the place name and address from embedded JSON
// state, falling back to the document title for the name.
func ExtractNameAddress(doc string) (name, address string) {
	if doc == "" {
		return "", ""
	}
	for _, key := range nameKeys {
		if v := jsonString(doc, key); LooksLikePlaceName(v) {
			name = v
			break
		}
	}
	for _, key := range addressKeys {
		if v := jsonString(doc, key); LooksLikeAddress(v) {
			address = v
			break
		}
	}
	if name == "" {
		name = TitleName(doc)
	}
	return name, address
}

// ExtractCoordinates scans text for latitude/longitude pairs.
func ExtractCoordinates(text string) (lat, lng *float64) {
	la := firstFloat(text, latPatterns)
	lo := firstFloat(text, lngPatterns)
	if la == nil || lo == nil {
		return nil, nil
	}
	return la, lo
}

// TitleName returns the <title> text with the portal suffix removed.
func TitleName(doc string) string {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return ""
	}
	title := collapse(d.Find("title").First().Text())
	title = strings.TrimSpace(titleSuffix.ReplaceAllString(title, ""))
	if !LooksLikePlaceName(title) {
		return ""
	}
	return title
}

// ReviewBlocks collects cleaned review texts from list items in doc.
func ReviewBlocks(doc, selector string) []string {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return nil
	}
	blocks := make([]string, 0)
	d.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(blockText(s))
		if utf8.RuneCountInString(text) >= minBlockRunes {
			blocks = append(blocks, text)
		}
		return len(blocks) < maxBlocks
	})
	cleaned := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if c := CleanReviewBlock(b); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	return capTexts(DedupeTexts(cleaned))
}

// CleanReviewBlock strips widget chrome lines from a list item's text and
// returns "" when too little review text remains.
func CleanReviewBlock(raw string) string {
	text := strings.ReplaceAll(raw, "\r", "\n")
	if before, _, found := strings.Cut(text, "더보기"); found {
		text = before
	}
	kept := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) < minLineRunes || isChromeLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	merged := collapse(strings.Join(kept, " "))
	if utf8.RuneCountInString(merged) < minCleanedRunes {
		return ""
	}
	return merged
}

// DedupeTexts collapses whitespace and drops empty and repeated texts,
// keeping first-seen order.
func DedupeTexts(texts []string) []string {
	seen := make(map[string]struct{}, len(texts))
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		t = collapse(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// LooksLikePlaceName rejects portal titles and implausible lengths.
func LooksLikePlaceName(text string) bool {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < 2 || utf8.RuneCountInString(text) > maxPlaceNameRunes {
		return false
	}
	lower := strings.ToLower(text)
	for _, marker := range []string{"naver", "네이버 지도", "localhost"} {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}

// LooksLikeAddress reports whether text carries a Korean address unit.
func LooksLikeAddress(text string) bool {
	if text == "" {
		return false
	}
	for _, tok := range addressTokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}

func isChromeLine(line string) bool {
	for _, m := range chromeLineMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	if line == "팔로우" || line == "다음" {
		return true
	}
	return reviewCountLine.MatchString(line) || visitDateLine.MatchString(line) || visitNthLine.MatchString(line)
}

// blockText renders a selection's text with line breaks between block
// children so CleanReviewBlock can work line by line.
func blockText(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
			return
		}
		switch goquery.NodeName(c) {
		case "script", "style":
			return
		case "br", "div", "p", "li", "span", "a":
			b.WriteString("\n")
		}
		b.WriteString(blockText(c))
	})
	return b.String()
}

func jsonString(doc, key string) string {
	pattern := regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	m := pattern.FindStringSubmatch(doc)
	if m == nil {
		return ""
	}
	var value string
	if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &value); err != nil {
		value = strings.ReplaceAll(html.UnescapeString(m[1]), `\n`, " ")
	}
	return collapse(value)
}

func firstFloat(text string, patterns []*regexp.Regexp) *float64 {
	for _, p := range patterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return &v
		}
	}
	return nil
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func capTexts(texts []string) []string {
	if len(texts) > maxReviews {
		return texts[:maxReviews]
	}
	return texts
}
