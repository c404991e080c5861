package ports

import "context"

// SynthesisClient turns text into a raw contract-format waveform.
// Implementations are treated as opaque, rate-limited and failure-prone;
// retries are the caller's decision, never implicit.
type SynthesisClient interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}
