package analysis

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/JakeFAU/hidden-spot/internal/hash/sha256"
)

const (
	chunkPromptFile    = "chunk_prompt.md"
	analysisPromptFile = "analysis_prompt.md"
)

//go:embed prompts
var embeddedPrompts embed.FS

// Prompts is a versioned pair of prompt templates plus their digest.
type Prompts struct {
	Version  string
	Chunk    string
	Analysis string
	// Hash is the SHA-256 of Chunk followed by Analysis.
	Hash string
}

// LoadPrompts reads <dir>/<version>/{chunk,analysis}_prompt.md, falling back
// per file to the built-in templates for the same version.
func LoadPrompts(dir, version string) (Prompts, error) {
	if version == "" {
		return Prompts{}, errors.New("prompt version is required")
	}
	chunk, err := readPrompt(dir, version, chunkPromptFile)
	if err != nil {
		return Prompts{}, err
	}
	analysis, err := readPrompt(dir, version, analysisPromptFile)
	if err != nil {
		return Prompts{}, err
	}
	return Prompts{
		Version:  version,
		Chunk:    chunk,
		Analysis: analysis,
		Hash:     sha256.SumText(chunk + analysis),
	}, nil
}

func readPrompt(dir, version, name string) (string, error) {
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, version, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read prompt %s: %w", name, err)
		}
	}
	data, err := embeddedPrompts.ReadFile("prompts/" + version + "/" + name)
	if err != nil {
		return "", fmt.Errorf("prompt %s for version %q not found: %w", name, version, err)
	}
	return string(data), nil
}
