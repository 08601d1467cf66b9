package embedding

import (
	"fmt"
	"time"
)

// Model names accepted by NewModel.
const (
	ModelLocal  = "local"
	ModelOllama = "ollama"
	ModelNone   = "none"
)

// ModelConfig selects and configures an embedding model.
type ModelConfig struct {
	Model             string // local, ollama or none
	LocalDimension    int
	OllamaURL         string
	OllamaModel       string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// NewModel builds the configured Model. It returns (nil, nil) for "none",
// which yields a permanently unavailable Provider.
func NewModel(cfg ModelConfig) (Model, error) {
	switch cfg.Model {
	case ModelLocal, "":
		return NewLocalModel(cfg.LocalDimension), nil
	case ModelOllama:
		return NewOllamaModel(OllamaConfig{
			BaseURL:           cfg.OllamaURL,
			Model:             cfg.OllamaModel,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}), nil
	case ModelNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported embedding model: %q", cfg.Model)
	}
}
