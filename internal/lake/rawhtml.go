package lake

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/hash/sha256"
	"github.com/JakeFAU/hidden-spot/internal/keys"
)

// HashIndexEntry is the append-only record mapping a content digest to the
// first object that carried it.
type HashIndexEntry struct {
	ContentHash      string `json:"content_hash"`
	FirstSeenHTMLKey string `json:"first_seen_html_key"`
}

// RawHTMLRef describes where a run's raw HTML ended up.
type RawHTMLRef struct {
	Digest string
	// HTMLKey is the run's own bronze HTML key, written or not.
	HTMLKey string
	// Saved is false when identical content was already indexed.
	Saved bool
	// ResolvedKey is the key readers should fetch.
	ResolvedKey string
}

// StoreRawHTML writes html under the run's bronze key unless byte-identical
// content is already indexed. Concurrent writers of the same digest may both
// write; the payloads are identical so the race is harmless.
func (l *Lake) StoreRawHTML(ctx context.Context, parts keys.Parts, html string) (RawHTMLRef, error) {
	htmlKey, err := parts.BronzeHTML()
	if err != nil {
		return RawHTMLRef{}, err
	}
	digest := sha256.SumText(html)
	indexKey := keys.HashIndex(digest)

	var entry HashIndexEntry
	err = l.GetJSON(ctx, LayerArtifacts, indexKey, &entry)
	switch {
	case err == nil && entry.FirstSeenHTMLKey != "":
		l.logger.Info("raw html deduplicated",
			zap.String("digest", digest),
			zap.String("first_seen_html_key", entry.FirstSeenHTMLKey),
			zap.String("run_id", parts.RunID),
		)
		return RawHTMLRef{
			Digest:      digest,
			HTMLKey:     htmlKey,
			Saved:       false,
			ResolvedKey: entry.FirstSeenHTMLKey,
		}, nil
	case err != nil && !errors.Is(err, ErrObjectNotFound):
		return RawHTMLRef{}, fmt.Errorf("read hash index: %w", err)
	}

	// Artifact first so the index never points at a missing object.
	if err := l.PutCompressedText(ctx, LayerBronze, htmlKey, html); err != nil {
		return RawHTMLRef{}, err
	}
	if err := l.PutJSON(ctx, LayerArtifacts, indexKey, HashIndexEntry{
		ContentHash:      digest,
		FirstSeenHTMLKey: htmlKey,
	}); err != nil {
		return RawHTMLRef{}, err
	}
	return RawHTMLRef{Digest: digest, HTMLKey: htmlKey, Saved: true, ResolvedKey: htmlKey}, nil
}

// ResolveRawHTML loads the HTML a bronze record refers to. When the run did
// not save its own copy the hash index is consulted for the first-seen key.
func (l *Lake) ResolveRawHTML(ctx context.Context, saved bool, htmlKey, digest string) (string, error) {
	key := htmlKey
	if !saved {
		if digest == "" {
			return "", fmt.Errorf("resolve raw html: digest required when html was not saved")
		}
		var entry HashIndexEntry
		if err := l.GetJSON(ctx, LayerArtifacts, keys.HashIndex(digest), &entry); err != nil {
			return "", fmt.Errorf("resolve hash index %s: %w", digest, err)
		}
		if entry.FirstSeenHTMLKey == "" {
			return "", fmt.Errorf("hash index %s: %w", digest, ErrObjectNotFound)
		}
		key = entry.FirstSeenHTMLKey
	}
	return l.GetCompressedText(ctx, LayerBronze, key)
}
