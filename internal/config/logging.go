package config

import (
	"context"
	"log/slog"
)

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == "sse" {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
	}

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
	switch s.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", "****")
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
	}

	logger.InfoContext(ctx, "Config: handbook.enabled", "value", s.Handbook.Enabled)
	if !s.Handbook.Enabled {
		return
	}
	h := s.Handbook
	logger.InfoContext(ctx, "Config: handbook.document", "value", h.Document)
	logger.InfoContext(ctx, "Config: handbook.source_tag", "value", h.SourceTag)
	logger.InfoContext(ctx, "Config: handbook.base_dir", "value", h.BaseDir)
	if h.DocumentsDir != "" {
		logger.InfoContext(ctx, "Config: handbook.documents_dir", "value", h.DocumentsDir)
	}
	logger.InfoContext(ctx, "Config: handbook.embeddings_provider", "value", h.EmbeddingsProvider)
	logger.InfoContext(ctx, "Config: handbook.gemini.api_key", "value", maskSecret(h.Gemini.APIKey))
	logger.InfoContext(ctx, "Config: handbook.gemini.chat_model", "value", h.Gemini.ChatModel)
	if h.EmbeddingsProvider == EmbeddingsGemini {
		logger.InfoContext(ctx, "Config: handbook.gemini.embedding_model", "value", h.Gemini.EmbeddingModel)
	}
	logger.InfoContext(ctx, "Config: handbook.chunking",
		"target_chars", h.Chunking.TargetChars,
		"max_chunk_chars", h.Chunking.MaxChunkChars,
		"overlap_pages", h.Chunking.OverlapPages)
	logger.InfoContext(ctx, "Config: handbook.retrieval",
		"vector_top_k", h.Retrieval.VectorTopK,
		"keyword_top_k", h.Retrieval.KeywordTopK,
		"final_context_chunks", h.Retrieval.FinalContextChunks)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = "****"
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", "****"),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.Any("handbook", HandbookSettingsLogValue(s.Handbook)),
	)
}

// HandbookSettingsLogValue returns a slog.Value for HandbookSettings with masked data
func HandbookSettingsLogValue(s HandbookSettings) slog.Value {
	return slog.GroupValue(
		slog.Bool("enabled", s.Enabled),
		slog.String("document", s.Document),
		slog.String("source_tag", s.SourceTag),
		slog.String("base_dir", s.BaseDir),
		slog.String("embeddings_provider", s.EmbeddingsProvider),
		slog.Group("gemini",
			slog.String("api_key", maskSecret(s.Gemini.APIKey)),
			slog.String("chat_model", s.Gemini.ChatModel),
			slog.String("embedding_model", s.Gemini.EmbeddingModel),
		),
	)
}
