package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

const (
	defaultOpenAIModel = string(openai.EmbeddingModelTextEmbedding3Small)
	defaultOpenAIDim   = 1536
)

// OpenAIProvider generates embeddings through the OpenAI embeddings API.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
}

// NewOpenAIProvider creates an OpenAI embedding provider. rps > 0 enables
// client-side rate limiting of API calls.
func NewOpenAIProvider(apiKey, model string, dims int, rps float64) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI token is required")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if dims <= 0 {
		dims = defaultOpenAIDim
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	p := &OpenAIProvider{
		client:     &client,
		model:      model,
		dimensions: dims,
	}
	if rps > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return p, nil
}

func (p *OpenAIProvider) ModelVersion() string {
	return "openai/" + p.model
}

func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

// Init probes the API with a minimal embedding request so a bad token or
// model name fails at warm-up instead of mid-indexing.
func (p *OpenAIProvider) Init(ctx context.Context) error {
	if _, err := p.Embed(ctx, "ping"); err != nil {
		return fmt.Errorf("openai probe failed: %w", err)
	}
	return nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
		Model: openai.EmbeddingModel(p.model),
	}
	// text-embedding-3 models support truncated output widths.
	if p.dimensions != defaultOpenAIDim {
		params.Dimensions = openai.Int(int64(p.dimensions))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai returned no embedding data")
	}

	raw := resp.Data[0].Embedding
	vector := make([]float32, len(raw))
	for i, v := range raw {
		vector[i] = float32(v)
	}
	if len(vector) != p.dimensions {
		return nil, fmt.Errorf("unexpected embedding dimensions: got %d, want %d", len(vector), p.dimensions)
	}
	return vector, nil
}
