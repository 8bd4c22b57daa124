package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMockProvider_Deterministic(t *testing.T) {
	p := NewMockProvider(64)
	ctx := context.Background()

	a, err := p.Embed(ctx, "funny cat meme")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	b, err := p.Embed(ctx, "funny cat meme")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if len(a) != 64 {
		t.Fatalf("vector width = %d, want 64", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same text produced different vectors at index %d", i)
		}
	}
	if IsZero(a) {
		t.Error("mock vector should not be zero")
	}

	sim, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if sim < 0.999 {
		t.Errorf("identical text similarity = %v, want ~1", sim)
	}
}

func TestMockProvider_ZeroOutput(t *testing.T) {
	p := NewMockProvider(16)
	p.SetZeroOutput(true)

	v, err := p.Embed(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if !IsZero(v) {
		t.Error("expected zero vector")
	}
}

func TestOllamaProvider_Embed(t *testing.T) {
	want := []float32{0.1, 0.2, 0.3}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embeddings":
			var req ollamaEmbedRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decoding request: %v", err)
			}
			if req.Model != "test-model" {
				t.Errorf("model = %q, want test-model", req.Model)
			}
			json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: want})
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"test-model"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	p := NewOllamaProvider(
		WithOllamaURL(server.URL),
		WithOllamaModel("test-model"),
		WithOllamaDimensions(3),
		WithOllamaTimeout(5*time.Second),
	)

	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	got, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOllamaProvider_InitMissingModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"other-model"}]}`))
	}))
	defer server.Close()

	p := NewOllamaProvider(WithOllamaURL(server.URL), WithOllamaModel("test-model"))
	if err := p.Init(context.Background()); err == nil {
		t.Error("expected Init to fail for a model that is not pulled")
	}
}

func TestOllamaProvider_DimensionCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2}})
	}))
	defer server.Close()

	p := NewOllamaProvider(WithOllamaURL(server.URL), WithOllamaDimensions(3))
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected dimension mismatch error")
	}
}
