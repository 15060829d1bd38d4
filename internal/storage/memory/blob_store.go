// Package memory provides in-memory lake and repository backends for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/hidden-spot/internal/lake"
)

type object struct {
	contentType string
	data        []byte
}

// BlobStore keeps objects per bucket behind a RWMutex.
type BlobStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]object
	puts    int
}

var _ lake.Backend = (*BlobStore)(nil)

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{buckets: make(map[string]map[string]object)}
}

// Put stores a private copy of data.
func (s *BlobStore) Put(_ context.Context, bucket, key, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucket]
	if !ok {
		b = make(map[string]object)
		s.buckets[bucket] = b
	}
	b[key] = object{contentType: contentType, data: append([]byte(nil), data...)}
	s.puts++
	return nil
}

// Get returns a copy of the object.
func (s *BlobStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("memory://%s/%s: %w", bucket, key, lake.ErrObjectNotFound)
	}
	return append([]byte(nil), obj.data...), nil
}

// Exists reports whether the key is present.
func (s *BlobStore) Exists(_ context.Context, bucket, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[bucket][key]
	return ok, nil
}

// List returns keys with the given prefix in lexical order.
func (s *BlobStore) List(_ context.Context, bucket, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0)
	for key := range s.buckets[bucket] {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Scheme implements lake.Backend.
func (s *BlobStore) Scheme() string {
	return "memory"
}

// Count returns the number of objects held in bucket.
func (s *BlobStore) Count(bucket string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets[bucket])
}

// Puts returns the number of Put calls served.
func (s *BlobStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// ContentType returns the content type recorded for key.
func (s *BlobStore) ContentType(bucket, key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buckets[bucket][key].contentType
}
