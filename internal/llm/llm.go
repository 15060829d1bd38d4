// Package llm defines the request/response contract for generative and
// embedding backends.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Request asks a model for a completion.
type Request struct {
	Model  string
	Prompt string
	// JSON asks the backend to constrain output to a JSON document.
	JSON bool
}

// Usage reports token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input"`
	OutputTokens int `json:"output"`
	TotalTokens  int `json:"total"`
}

// Add accumulates u2 into u.
func (u Usage) Add(u2 Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + u2.InputTokens,
		OutputTokens: u.OutputTokens + u2.OutputTokens,
		TotalTokens:  u.TotalTokens + u2.TotalTokens,
	}
}

// Response is a completion.
type Response struct {
	Text  string
	Usage Usage
}

// Generator produces completions.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// ModelLister enumerates the models a backend accepts for a capability.
type ModelLister interface {
	ListModels(ctx context.Context, capability Capability) ([]string, error)
}

// Embedder turns text into a vector. Dimension is a hint the backend may
// ignore.
type Embedder interface {
	Embed(ctx context.Context, model, text string, dimension int) ([]float32, error)
}

// Capability names a backend method a model may support.
type Capability string

// Capabilities used by this module.
const (
	CapabilityGenerate Capability = "generateContent"
	CapabilityEmbed    Capability = "embedContent"
)

// ModelUnavailableError means the backend rejected the model name itself
// (unknown or unsupported for the method), as opposed to the request.
type ModelUnavailableError struct {
	Model string
	Err   error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %q unavailable: %v", e.Model, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Err
}

// IsModelUnavailable reports whether err is or wraps ModelUnavailableError.
func IsModelUnavailable(err error) bool {
	var mu *ModelUnavailableError
	return errors.As(err, &mu)
}
