// Package lake implements the bronze/silver/gold object lake on top of a
// bucket-scoped blob Backend.
package lake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// ErrObjectNotFound is returned (wrapped) when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Layer names a logical lake layer. Each layer maps to one bucket.
type Layer string

// Lake layers.
const (
	LayerBronze    Layer = "bronze"
	LayerSilver    Layer = "silver"
	LayerGold      Layer = "gold"
	LayerArtifacts Layer = "artifacts"
)

// Content types written by the lake.
const (
	ContentTypeJSON   = "application/json"
	ContentTypeGzip   = "application/gzip"
	ContentTypeNDJSON = "application/x-ndjson"
	ContentTypePNG    = "image/png"
	ContentTypeBinary = "application/octet-stream"
)

// Backend is the blob-store capability the lake is built on. Implementations
// must return an error wrapping ErrObjectNotFound from Get for missing keys.
type Backend interface {
	Put(ctx context.Context, bucket, key, contentType string, data []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Scheme() string
}

// Buckets maps layers to bucket names.
type Buckets struct {
	Bronze    string `mapstructure:"bronze"`
	Silver    string `mapstructure:"silver"`
	Gold      string `mapstructure:"gold"`
	Artifacts string `mapstructure:"artifacts"`
}

// DefaultBuckets mirrors the bucket names used by the deployed lake.
func DefaultBuckets() Buckets {
	return Buckets{
		Bronze:    "hidden-spot-bronze",
		Silver:    "hidden-spot-silver",
		Gold:      "hidden-spot-gold",
		Artifacts: "hidden-spot-artifacts",
	}
}

// StorageError marks a failure of the backing blob store.
type StorageError struct {
	Op    string
	Layer Layer
	Key   string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("lake %s %s/%s: %v", e.Op, e.Layer, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Lake reads and writes layered objects.
type Lake struct {
	backend Backend
	buckets Buckets
	logger  *zap.Logger
}

// New constructs a Lake. Empty bucket names fall back to DefaultBuckets.
func New(backend Backend, buckets Buckets, logger *zap.Logger) (*Lake, error) {
	if backend == nil {
		return nil, fmt.Errorf("lake backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultBuckets()
	if buckets.Bronze == "" {
		buckets.Bronze = def.Bronze
	}
	if buckets.Silver == "" {
		buckets.Silver = def.Silver
	}
	if buckets.Gold == "" {
		buckets.Gold = def.Gold
	}
	if buckets.Artifacts == "" {
		buckets.Artifacts = def.Artifacts
	}
	return &Lake{backend: backend, buckets: buckets, logger: logger}, nil
}

// Bucket returns the bucket that backs layer.
func (l *Lake) Bucket(layer Layer) string {
	switch layer {
	case LayerBronze:
		return l.buckets.Bronze
	case LayerSilver:
		return l.buckets.Silver
	case LayerGold:
		return l.buckets.Gold
	default:
		return l.buckets.Artifacts
	}
}

// URI renders a pointer such as s3://bucket/key for persistence in snapshots.
func (l *Lake) URI(layer Layer, key string) string {
	return fmt.Sprintf("%s://%s/%s", l.backend.Scheme(), l.Bucket(layer), key)
}

// PutBytes writes data under key in layer.
func (l *Lake) PutBytes(ctx context.Context, layer Layer, key, contentType string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return &StorageError{Op: "put", Layer: layer, Key: key, Err: errors.New("key is required")}
	}
	if contentType == "" {
		contentType = ContentTypeBinary
	}
	if err := l.backend.Put(ctx, l.Bucket(layer), key, contentType, data); err != nil {
		return &StorageError{Op: "put", Layer: layer, Key: key, Err: err}
	}
	l.logger.Debug("object written",
		zap.String("layer", string(layer)),
		zap.String("key", key),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// PutJSON encodes v as UTF-8 JSON without HTML escaping.
func (l *Lake) PutJSON(ctx context.Context, layer Layer, key string, v any) error {
	data, err := EncodeJSON(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return l.PutBytes(ctx, layer, key, ContentTypeJSON, data)
}

// PutCompressedText gzips text before writing it.
func (l *Lake) PutCompressedText(ctx context.Context, layer Layer, key, text string) error {
	data, err := Compress([]byte(text))
	if err != nil {
		return fmt.Errorf("compress %s: %w", key, err)
	}
	return l.PutBytes(ctx, layer, key, ContentTypeGzip, data)
}

// GetBytes reads the object at key. Missing keys yield ErrObjectNotFound.
func (l *Lake) GetBytes(ctx context.Context, layer Layer, key string) ([]byte, error) {
	data, err := l.backend.Get(ctx, l.Bucket(layer), key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, fmt.Errorf("%s/%s: %w", layer, key, ErrObjectNotFound)
		}
		return nil, &StorageError{Op: "get", Layer: layer, Key: key, Err: err}
	}
	return data, nil
}

// GetJSON decodes the object at key into out.
func (l *Lake) GetJSON(ctx context.Context, layer Layer, key string, out any) error {
	data, err := l.GetBytes(ctx, layer, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s/%s: %w", layer, key, err)
	}
	return nil
}

// GetCompressedText reads and gunzips the object at key.
func (l *Lake) GetCompressedText(ctx context.Context, layer Layer, key string) (string, error) {
	data, err := l.GetBytes(ctx, layer, key)
	if err != nil {
		return "", err
	}
	text, err := Decompress(data)
	if err != nil {
		return "", fmt.Errorf("decompress %s/%s: %w", layer, key, err)
	}
	return string(text), nil
}

// Exists reports whether key is present in layer.
func (l *Lake) Exists(ctx context.Context, layer Layer, key string) (bool, error) {
	ok, err := l.backend.Exists(ctx, l.Bucket(layer), key)
	if err != nil {
		return false, &StorageError{Op: "exists", Layer: layer, Key: key, Err: err}
	}
	return ok, nil
}

// ListKeys returns every key in layer that starts with prefix.
func (l *Lake) ListKeys(ctx context.Context, layer Layer, prefix string) ([]string, error) {
	keys, err := l.backend.List(ctx, l.Bucket(layer), prefix)
	if err != nil {
		return nil, &StorageError{Op: "list", Layer: layer, Key: prefix, Err: err}
	}
	return keys, nil
}

// EncodeJSON marshals v the way every lake JSON object is written: UTF-8,
// no HTML escaping, no trailing newline.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Compress gzips data.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress gunzips data.
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer zr.Close() //nolint:errcheck // read-only
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}
