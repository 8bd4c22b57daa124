package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// MockProvider is a deterministic in-process provider for tests and offline
// development. The vector is derived from the text hash so the same text
// always embeds identically; unit-normalized so cosine similarity behaves.
type MockProvider struct {
	mu         sync.Mutex
	dimensions int
	version    string
	initErr    error
	embedErr   error
	zeroOutput bool
	embedCalls int
}

// NewMockProvider returns a mock provider with the given vector width.
func NewMockProvider(dims int) *MockProvider {
	if dims <= 0 {
		dims = 384
	}
	return &MockProvider{dimensions: dims, version: "mock/v1"}
}

func (p *MockProvider) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initErr
}

func (p *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embedCalls++

	if p.embedErr != nil {
		return nil, p.embedErr
	}
	if p.zeroOutput {
		return make([]float32, p.dimensions), nil
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vector := make([]float32, p.dimensions)
	for i := range vector {
		vector[i] = float32(math.Sin(float64(seed%1000)*float64(i+1))*0.1 + 0.01)
	}

	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range vector {
			vector[i] *= float32(norm)
		}
	}
	return vector, nil
}

func (p *MockProvider) ModelVersion() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

func (p *MockProvider) Dimensions() int {
	return p.dimensions
}

// SetVersion changes the reported model version, simulating a model upgrade.
func (p *MockProvider) SetVersion(v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.version = v
}

// SetInitError makes Init fail, simulating a backend that is down.
func (p *MockProvider) SetInitError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initErr = err
}

// SetEmbedError makes Embed fail.
func (p *MockProvider) SetEmbedError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embedErr = err
}

// SetZeroOutput makes Embed return all-zero vectors, simulating a model that
// loaded but produces no usable signal.
func (p *MockProvider) SetZeroOutput(zero bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.zeroOutput = zero
}

// EmbedCalls reports how many times Embed was invoked.
func (p *MockProvider) EmbedCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedCalls
}
