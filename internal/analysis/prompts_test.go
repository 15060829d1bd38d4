package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hidden-spot/internal/hash/sha256"
)

func TestLoadPromptsEmbedded(t *testing.T) {
	t.Parallel()

	p, err := LoadPrompts("", "v1")
	require.NoError(t, err)
	require.NotEmpty(t, p.Chunk)
	require.NotEmpty(t, p.Analysis)
	require.Equal(t, sha256.SumText(p.Chunk+p.Analysis), p.Hash)
}

func TestLoadPromptsOverride(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "v1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v1", chunkPromptFile), []byte("custom chunk"), 0o600))

	p, err := LoadPrompts(dir, "v1")
	require.NoError(t, err)
	require.Equal(t, "custom chunk", p.Chunk)

	base, err := LoadPrompts("", "v1")
	require.NoError(t, err)
	require.Equal(t, base.Analysis, p.Analysis)
	require.NotEqual(t, base.Hash, p.Hash)
}

func TestLoadPromptsUnknownVersion(t *testing.T) {
	t.Parallel()

	_, err := LoadPrompts(t.TempDir(), "v99")
	require.Error(t, err)
	_, err = LoadPrompts("", "")
	require.Error(t, err)
}
