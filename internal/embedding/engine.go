// Package embedding provides vector embedding generation for chunk
// similarity search. Supports a local Ollama server and Google GenAI.
// The embedding service is optional: when no engine is configured the
// pipeline skips re-embedding and the similarity tool is unavailable.
package embedding

import (
	"context"
	"fmt"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "ollama", "genai", or "" (disabled)
	Provider string `yaml:"provider"`

	// Ollama configuration
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	// GenAI configuration
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:       "",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
	}
}

// NewEngine creates an embedding engine based on configuration. Returns
// (nil, nil) when no provider is configured.
func NewEngine(cfg Config) (Engine, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
