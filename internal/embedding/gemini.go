package embedding

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	defaultGeminiModel = "gemini-embedding-001"
	defaultGeminiDim   = 768
)

// GeminiProvider generates embeddings through the Gemini API.
type GeminiProvider struct {
	client     *genai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
}

// NewGeminiProvider creates a Gemini embedding provider. rps > 0 enables
// client-side rate limiting of API calls.
func NewGeminiProvider(ctx context.Context, apiKey, model string, dims int, rps float64) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("Gemini API key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	if dims <= 0 {
		dims = defaultGeminiDim
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	p := &GeminiProvider{
		client:     client,
		model:      model,
		dimensions: dims,
	}
	if rps > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return p, nil
}

func (p *GeminiProvider) ModelVersion() string {
	return "gemini/" + p.model
}

func (p *GeminiProvider) Dimensions() int {
	return p.dimensions
}

// Init probes the API with a minimal embedding request.
func (p *GeminiProvider) Init(ctx context.Context) error {
	if _, err := p.Embed(ctx, "ping"); err != nil {
		return fmt.Errorf("gemini probe failed: %w", err)
	}
	return nil
}

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	dim := int32(p.dimensions)
	resp, err := p.client.Models.EmbedContent(ctx, p.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings request: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("gemini returned no embedding data")
	}

	vector := resp.Embeddings[0].Values
	if len(vector) != p.dimensions {
		return nil, fmt.Errorf("unexpected embedding dimensions: got %d, want %d", len(vector), p.dimensions)
	}
	return vector, nil
}
