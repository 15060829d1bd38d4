package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultMobileBaseURL hosts the server-rendered place pages used when the
// desktop entry page yields too little.
const DefaultMobileBaseURL = "https://m.place.naver.com"

// NormalizeURL trims the input, lowercases scheme and host, drops default
// ports and the fragment, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, map[string]string{"http": ":80", "https": ":443"}[u.Scheme])
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String(), nil
}

// MobileReviewURL is the visitor review page for placeID.
func MobileReviewURL(base, placeID string) string {
	return strings.TrimRight(base, "/") + "/restaurant/" + url.PathEscape(placeID) + "/review/visitor"
}

// BuildResult assembles a Result from the entry page and an optional review
// page. Fields missing from one page are filled from the other.
func BuildResult(sourceURL, finalURL, mainHTML, reviewHTML string) Result {
	placeID := ExtractPlaceID(finalURL)
	if placeID == "" {
		placeID = ExtractPlaceID(sourceURL)
	}
	name, address := ExtractNameAddress(mainHTML)
	if name == "" || address == "" {
		rName, rAddr := ExtractNameAddress(reviewHTML)
		if name == "" {
			name = rName
		}
		if address == "" {
			address = rAddr
		}
	}
	if name == "" {
		name = placeID
	}
	lat, lng := ExtractCoordinates(mainHTML)
	if lat == nil {
		lat, lng = ExtractCoordinates(reviewHTML)
	}

	reviews := ReviewBlocks(mainHTML, "li")
	if reviewHTML != "" {
		reviews = capTexts(DedupeTexts(append(reviews, ReviewBlocks(reviewHTML, "li, div")...)))
	}
	raw := mainHTML
	if reviewHTML != "" {
		raw = reviewHTML
	}
	return Result{
		SourceURL: sourceURL,
		FinalURL:  finalURL,
		PlaceID:   placeID,
		Name:      name,
		Address:   address,
		Latitude:  lat,
		Longitude: lng,
		Reviews:   reviews,
		RawHTML:   raw,
	}
}
