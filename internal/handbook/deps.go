package handbook

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sha1n/mcp-handbook-server/internal/config"
	"github.com/sha1n/mcp-handbook-server/internal/llm"
	"github.com/sha1n/mcp-handbook-server/internal/vector"
	"google.golang.org/api/option"
)

// NewGeminiDependencies builds the Gemini-backed completer and the configured
// embedder. The returned function closes the Gemini client.
func NewGeminiDependencies(ctx context.Context, settings *config.HandbookSettings, reg prometheus.Registerer) (Dependencies, func() error, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(settings.Gemini.APIKey))
	if err != nil {
		return Dependencies{}, nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	completer, err := llm.NewGemini(client, llm.GeminiConfig{
		Model:             settings.Gemini.ChatModel,
		RequestsPerMinute: settings.Gemini.RequestsPerMinute,
		Timeout:           settings.Gemini.Timeout,
	})
	if err != nil {
		_ = client.Close()
		return Dependencies{}, nil, err
	}

	var embedder vector.Embedder
	switch settings.EmbeddingsProvider {
	case config.EmbeddingsHash:
		embedder = vector.NewHashEmbedder(settings.HashDimension)
	default:
		embedder, err = vector.NewGeminiEmbedder(client, settings.Gemini.EmbeddingModel)
		if err != nil {
			_ = client.Close()
			return Dependencies{}, nil, err
		}
	}

	return Dependencies{
		Completer:  completer,
		Embedder:   embedder,
		Registerer: reg,
	}, client.Close, nil
}
