package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hpungsan/scribe/internal/config"
	"github.com/hpungsan/scribe/internal/errors"
)

func testConfig(baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.EmbeddingBaseURL = baseURL
	return cfg
}

func TestNewClientDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := NewClient(cfg)
	if err == nil {
		t.Fatal("expected error for empty base URL")
	}
	if !errors.Is(err, errors.ErrEmbeddingUnavailable) {
		t.Errorf("error code = %v, want EMBEDDING_UNAVAILABLE", err)
	}
}

func TestClientEmbed(t *testing.T) {
	t.Setenv("SCRIBE_EMBED_API_KEY", "test-key")

	var gotBody struct {
		Model      string   `json:"model"`
		Input      []string `json:"input"`
		Dimensions int      `json:"dimensions"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %s, want /v1/embeddings", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}

		// Vectors deliberately out of order; the index field maps them back.
		resp := map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.4, 0.5}, "index": 1},
				{"embedding": []float32{0.1, 0.2}, "index": 0},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL + "/v1"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	vectors, err := client.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if vectors[0][0] != 0.1 || vectors[1][0] != 0.4 {
		t.Errorf("vectors not reordered by index: %v", vectors)
	}

	if gotBody.Model != "text-embedding-3-small" {
		t.Errorf("model = %q", gotBody.Model)
	}
	if len(gotBody.Input) != 2 || gotBody.Input[0] != "first" {
		t.Errorf("input = %v", gotBody.Input)
	}
	if gotBody.Dimensions != 384 {
		t.Errorf("dimensions = %d, want 384", gotBody.Dimensions)
	}
}

func TestClientEmbedServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "model overloaded"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.Embed(context.Background(), []string{"text"})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("error = %v, want status in message", err)
	}
}

func TestClientEmbedCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1}, "index": 0}},
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.Embed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error when response is short a vector")
	}
}

func TestClientEmbedEmptyInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called for empty input")
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	vectors, err := client.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vectors != nil {
		t.Errorf("got %v, want nil", vectors)
	}
}

func TestTruncateCharacterFallback(t *testing.T) {
	// Without a loaded tokenizer the budget approximates four characters
	// per token.
	client := &Client{maxTokens: 2}

	long := strings.Repeat("x", 20)
	if got := client.Truncate(long); len(got) != 8 {
		t.Errorf("len = %d, want 8", len(got))
	}
	if got := client.Truncate("short"); got != "short" {
		t.Errorf("short text changed: %q", got)
	}
}

func TestTruncateDisabled(t *testing.T) {
	client := &Client{}
	long := strings.Repeat("x", 5000)
	if got := client.Truncate(long); got != long {
		t.Error("truncation should be disabled at zero budget")
	}
}
