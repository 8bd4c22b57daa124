package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrNoProvider is returned when no embedding provider is configured.
var ErrNoProvider = errors.New("no embedding provider configured")

// Provider defines the interface for text embedding backends. A provider is a
// single shared model instance and is not required to be safe for concurrent
// Embed calls; callers serialize access.
type Provider interface {
	// Init verifies the backend is reachable and the model is usable.
	// Called once during warm-up; an error here marks the semantic path
	// unavailable until the next warm-up attempt.
	Init(ctx context.Context) error

	// Embed converts text into a vector. The vector width must equal
	// Dimensions() for every successful call.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ModelVersion identifies the provider and model, e.g.
	// "ollama/all-minilm:l6-v2". Rows stamped with a different version are
	// stale and scheduled for regeneration.
	ModelVersion() string

	// Dimensions returns the vector width the provider produces.
	Dimensions() int
}

// HashText returns the hex-encoded SHA-256 digest of the text a vector was
// generated from, stored alongside the vector to detect source-text drift.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
