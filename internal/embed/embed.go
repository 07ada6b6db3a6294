// Package embed turns event content into fixed-dimension vectors through an
// OpenAI-compatible embeddings API. A missing backend is a degraded mode, not
// a failure: NewClient reports ErrEmbeddingUnavailable and callers skip the
// semantic path.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/hpungsan/scribe/internal/config"
	"github.com/hpungsan/scribe/internal/errors"
)

// Embedder turns a batch of texts into one vector per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Client calls an OpenAI-compatible POST {base}/embeddings endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dims       int
	maxTokens  int
	tokenizer  *tiktoken.Tiktoken
}

// NewClient builds a client from the embedding settings. An empty base URL
// means embeddings are disabled; the returned error carries the
// EMBEDDING_UNAVAILABLE code so callers can treat it as degraded mode rather
// than a fault. The API key is read from the configured environment variable
// and may be absent for local backends.
func NewClient(cfg *config.Config) (*Client, error) {
	if strings.TrimSpace(cfg.EmbeddingBaseURL) == "" {
		return nil, errors.NewEmbeddingUnavailable()
	}

	apiKey := ""
	if cfg.EmbeddingAPIKeyEnv != "" {
		apiKey = os.Getenv(cfg.EmbeddingAPIKeyEnv)
	}

	// The cl100k_base vocabulary is fetched and cached on first use. When
	// that fails (offline host), the tokenizer stays nil and Truncate falls
	// back to a character budget instead of refusing to embed at all.
	tokenizer, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		tokenizer = nil
	}

	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(cfg.EmbeddingBaseURL, "/"),
		apiKey:     apiKey,
		model:      cfg.EmbeddingModel,
		dims:       cfg.EmbeddingDims,
		maxTokens:  cfg.EmbeddingMaxTokens,
		tokenizer:  tokenizer,
	}, nil
}

// Model returns the model name sent with each request.
func (c *Client) Model() string {
	return c.model
}

// Dims returns the requested vector dimensionality, 0 when unset.
func (c *Client) Dims() int {
	return c.dims
}

// Truncate clips text to the configured token budget so oversized tool
// output cannot blow past the backend's input limit. Without a loaded
// tokenizer it approximates the budget at four characters per token.
func (c *Client) Truncate(text string) string {
	if c.maxTokens <= 0 {
		return text
	}
	if c.tokenizer == nil {
		runes := []rune(text)
		if limit := c.maxTokens * 4; len(runes) > limit {
			return string(runes[:limit])
		}
		return text
	}
	tokens := c.tokenizer.Encode(text, nil, nil)
	if len(tokens) <= c.maxTokens {
		return text
	}
	return c.tokenizer.Decode(tokens[:c.maxTokens])
}

// Embed sends one batched request and returns vectors in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = c.Truncate(t)
	}

	reqBody := map[string]any{
		"model": c.model,
		"input": input,
	}
	if c.dims > 0 {
		reqBody["dimensions"] = c.dims
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embeddings", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embeddings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embeddings request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	// Responses are allowed to arrive out of order; the index field maps
	// each vector back to its input.
	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embeddings response index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
