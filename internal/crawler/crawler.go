// Package crawler fetches place pages and extracts the fields the pipeline
// needs: identity, location and raw review texts.
package crawler

import (
	"context"
	"errors"
	"fmt"
)

// Result is what one successful crawl captured.
type Result struct {
	SourceURL string   `json:"source_url"`
	FinalURL  string   `json:"final_url"`
	PlaceID   string   `json:"place_id"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Reviews   []string `json:"reviews"`
	RawHTML   string   `json:"-"`
}

// Crawler captures a place page.
type Crawler interface {
	Crawl(ctx context.Context, rawURL string) (Result, error)
}

// AttemptError is a single failed attempt. Evidence is an optional PNG
// screenshot of the page at failure time.
type AttemptError struct {
	URL      string
	Evidence []byte
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("crawl %s: %v", e.URL, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// TransientError is returned once every retry has been spent.
type TransientError struct {
	URL      string
	Attempts int
	// Evidence is the screenshot from the last attempt that produced one.
	Evidence []byte
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("crawl failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// EvidenceFrom returns the screenshot carried by err, if any.
func EvidenceFrom(err error) []byte {
	var te *TransientError
	if errors.As(err, &te) && len(te.Evidence) > 0 {
		return te.Evidence
	}
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Evidence
	}
	return nil
}
