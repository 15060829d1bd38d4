// Package gemini is a REST client for the Generative Language API covering
// content generation, embeddings and model listing.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/llm"
)

// DefaultBaseURL is the public v1beta endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ErrNoAPIKey is returned by New when no key is configured.
var ErrNoAPIKey = errors.New("gemini api key is required")

// Config configures the client.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the Generative Language REST API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

var (
	_ llm.Generator   = (*Client)(nil)
	_ llm.Embedder    = (*Client)(nil)
	_ llm.ModelLister = (*Client)(nil)
)

// New validates cfg and builds a client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{apiKey: cfg.APIKey, baseURL: base, http: hc, logger: logger.Named("gemini")}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type embedRequest struct {
	Model                string  `json:"model"`
	Content              content `json:"content"`
	OutputDimensionality int     `json:"outputDimensionality,omitempty"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

type listModelsResponse struct {
	Models []struct {
		Name                       string   `json:"name"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
	NextPageToken string `json:"nextPageToken"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// StatusError is a non-2xx API response.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini api %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// Generate calls models/{model}:generateContent.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
	}
	if req.JSON {
		body.GenerationConfig = &generationConfig{ResponseMIMEType: "application/json"}
	}
	var out generateResponse
	if err := c.post(ctx, req.Model, "generateContent", body, &out); err != nil {
		return llm.Response{}, err
	}
	if len(out.Candidates) == 0 {
		reason := "no candidates"
		if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
			reason = "blocked: " + out.PromptFeedback.BlockReason
		}
		return llm.Response{}, fmt.Errorf("generate %s: %s", req.Model, reason)
	}
	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	usage := llm.Usage{
		InputTokens:  out.UsageMetadata.PromptTokenCount,
		OutputTokens: out.UsageMetadata.CandidatesTokenCount,
		TotalTokens:  out.UsageMetadata.TotalTokenCount,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return llm.Response{Text: sb.String(), Usage: usage}, nil
}

// Embed calls models/{model}:embedContent.
func (c *Client) Embed(ctx context.Context, model, text string, dimension int) ([]float32, error) {
	body := embedRequest{
		Model:                modelPath(model),
		Content:              content{Parts: []part{{Text: text}}},
		OutputDimensionality: dimension,
	}
	var out embedResponse
	if err := c.post(ctx, model, "embedContent", body, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding.Values) == 0 {
		return nil, fmt.Errorf("embed %s: empty embedding", model)
	}
	return out.Embedding.Values, nil
}

// ListModels returns model ids (without the "models/" prefix) supporting
// capability, sorted lexically.
func (c *Client) ListModels(ctx context.Context, capability llm.Capability) ([]string, error) {
	names := make([]string, 0)
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("pageSize", "1000")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var out listModelsResponse
		if err := c.do(ctx, http.MethodGet, c.baseURL+"/models?"+q.Encode(), nil, &out); err != nil {
			return nil, fmt.Errorf("list models: %w", err)
		}
		for _, m := range out.Models {
			if supports(m.SupportedGenerationMethods, string(capability)) {
				names = append(names, strings.TrimPrefix(m.Name, "models/"))
			}
		}
		if out.NextPageToken == "" {
			break
		}
		pageToken = out.NextPageToken
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) post(ctx context.Context, model, method string, body, out any) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("%s: model is required", method)
	}
	endpoint := fmt.Sprintf("%s/%s:%s", c.baseURL, modelPath(model), method)
	err := c.do(ctx, http.MethodPost, endpoint, body, out)
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) && isModelRejection(se) {
		return &llm.ModelUnavailableError{Model: model, Err: err}
	}
	return fmt.Errorf("%s %s: %w", method, model, err)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("gemini call",
		zap.String("method", method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(data))}
		var ae apiError
		if json.Unmarshal(data, &ae) == nil && ae.Error.Message != "" {
			se.Message = ae.Error.Message
			if ae.Error.Status != "" {
				se.Status = ae.Error.Status
			}
		}
		return se
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isModelRejection(se *StatusError) bool {
	if se.StatusCode == http.StatusNotFound {
		return true
	}
	if se.StatusCode != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(se.Message)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "not supported") || strings.Contains(msg, "unsupported")
}

func modelPath(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

func supports(methods []string, capability string) bool {
	if capability == "" {
		return true
	}
	for _, m := range methods {
		if m == capability {
			return true
		}
	}
	return false
}
