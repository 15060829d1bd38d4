package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hidden-spot/internal/llm"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls []string
	fn    func(model string) ([]float32, error)
}

func (f *fakeEmbedder) Embed(_ context.Context, model, _ string, _ int) ([]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, model)
	f.mu.Unlock()
	return f.fn(model)
}

func unavailable(model string) error {
	return &llm.ModelUnavailableError{Model: model, Err: errors.New("not found")}
}

func TestResolverFallsBackAndSkipsPermanently(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{fn: func(model string) ([]float32, error) {
		if model == "old" {
			return nil, unavailable(model)
		}
		return []float32{1, 2, 3, 4}, nil
	}}
	r := NewResolver(emb, "old", []string{"new", "old"}, 3, nil)

	v, err := r.Embed(context.Background(), "doc")
	require.NoError(t, err)
	require.Equal(t, "new", v.Model)
	require.Equal(t, []float32{1, 2, 3}, v.Values)

	_, err = r.Embed(context.Background(), "doc")
	require.NoError(t, err)
	require.Equal(t, []string{"old", "new", "new"}, emb.calls)
}

func TestResolverRejectsShortVectors(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{fn: func(string) ([]float32, error) { return []float32{1}, nil }}
	r := NewResolver(emb, "m", nil, 768, nil)
	_, err := r.Embed(context.Background(), "doc")
	require.ErrorIs(t, err, ErrShortVector)
}

func TestResolverExhaustsCandidates(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{fn: func(model string) ([]float32, error) { return nil, unavailable(model) }}
	r := NewResolver(emb, "a", []string{"b"}, 0, nil)
	_, err := r.Embed(context.Background(), "doc")
	require.ErrorIs(t, err, ErrNoModel)

	_, err = r.Embed(context.Background(), "doc")
	require.ErrorIs(t, err, ErrNoModel)
	require.Len(t, emb.calls, 2)
}

func TestResolverPropagatesOtherErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota")
	emb := &fakeEmbedder{fn: func(string) ([]float32, error) { return nil, boom }}
	r := NewResolver(emb, "a", []string{"b"}, 0, nil)
	_, err := r.Embed(context.Background(), "doc")
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"a"}, emb.calls)
}

func TestResolverWithoutEmbedder(t *testing.T) {
	t.Parallel()

	_, err := NewResolver(nil, "a", nil, 0, nil).Embed(context.Background(), "doc")
	require.ErrorIs(t, err, ErrNoModel)
}

func TestDocumentText(t *testing.T) {
	t.Parallel()

	doc := Document{Name: "을지면옥", Menus: []string{"냉면", "수육"}, Tags: []string{"#노포"}}
	require.Equal(t, "name: 을지면옥\nmenus: 냉면, 수육\ntags: #노포", doc.Text())
}
