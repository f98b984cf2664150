package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")

	// Handbook flags
	flags.Bool("handbook-enabled", false, "Enable the handbook tools")
	flags.String("handbook-document", "", "Handbook PDF to index at startup")
	flags.String("handbook-source", "", "Default handbook source tag")
	flags.String("handbook-base-dir", "", "Base directory for indexes, vectors and locks")
	flags.Duration("handbook-lock-timeout", 0, "How long an indexing run waits for its source lock")
	flags.String("handbook-documents-dir", "", "Directory the index_handbook tool may read PDFs from (defaults to the handbook document's directory)")
	flags.String("handbook-embeddings", "", "Embeddings provider: gemini or hash")
	flags.String("gemini-api-key", "", "Gemini API key")
	flags.String("gemini-chat-model", "", "Gemini model for index notes and answers")
	flags.String("gemini-embedding-model", "", "Gemini embedding model")
	flags.Int("gemini-rpm", 0, "Maximum Gemini requests per minute")
	flags.Duration("gemini-timeout", 0, "Timeout for a single Gemini request")
}
