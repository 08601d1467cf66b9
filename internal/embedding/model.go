package embedding

import "context"

// Model is a heavyweight embedding backend.
type Model interface {
	// Name identifies the model (recorded next to persisted vectors).
	Name() string

	// Load prepares the model and returns its vector dimension. Provider
	// calls it at most once.
	Load(ctx context.Context) (int, error)

	// Embed encodes a batch of texts. The result has one vector per input,
	// in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
