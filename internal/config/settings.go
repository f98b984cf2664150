package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Embeddings provider constants
const (
	EmbeddingsGemini = "gemini"
	EmbeddingsHash   = "hash"
)

// HandbookSettings configuration for handbook indexing and retrieval
type HandbookSettings struct {
	Enabled            bool          `mapstructure:"enabled"`
	Document           string        `mapstructure:"document"`
	SourceTag          string        `mapstructure:"source_tag"`
	BaseDir            string        `mapstructure:"base_dir"`
	LockTimeout        time.Duration `mapstructure:"lock_timeout"`
	OpenTimeout        time.Duration `mapstructure:"open_timeout"`
	DocumentsDir       string        `mapstructure:"documents_dir"`
	EmbeddingsProvider string        `mapstructure:"embeddings_provider"`
	HashDimension      int           `mapstructure:"hash_dimension"`

	Gemini    GeminiSettings    `mapstructure:"gemini"`
	Chunking  ChunkingSettings  `mapstructure:"chunking"`
	Retrieval RetrievalSettings `mapstructure:"retrieval"`
}

// GeminiSettings configuration for the Google Generative AI client
type GeminiSettings struct {
	APIKey            string        `mapstructure:"api_key"`
	ChatModel         string        `mapstructure:"chat_model"`
	EmbeddingModel    string        `mapstructure:"embedding_model"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// ChunkingSettings character budgets for chunking and index notes
type ChunkingSettings struct {
	TargetChars       int `mapstructure:"target_chars"`
	MaxChunkChars     int `mapstructure:"max_chunk_chars"`
	OverlapPages      int `mapstructure:"overlap_pages"`
	SummaryInputChars int `mapstructure:"summary_input_chars"`
}

// MaxVectorTopK is the largest vector result size whose every rank keeps a
// positive position score (1.0 - rank*0.08).
const MaxVectorTopK = 13

// RetrievalSettings result sizes for hybrid retrieval
type RetrievalSettings struct {
	VectorTopK         int     `mapstructure:"vector_top_k"`
	KeywordTopK        int     `mapstructure:"keyword_top_k"`
	FinalContextChunks int     `mapstructure:"final_context_chunks"`
	MinSimilarity      float64 `mapstructure:"min_similarity"`
}

// Settings application settings
type Settings struct {
	Transport string           `mapstructure:"transport"`
	Host      string           `mapstructure:"host"`
	Port      int              `mapstructure:"port"`
	Auth      AuthSettings     `mapstructure:"auth"`
	Handbook  HandbookSettings `mapstructure:"handbook"`
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("auth.type", AuthTypeNone)

	// Handbook defaults
	v.SetDefault("handbook.enabled", false)
	v.SetDefault("handbook.document", "")
	v.SetDefault("handbook.source_tag", "handbook")
	v.SetDefault("handbook.base_dir", defaultHandbookBaseDir())
	v.SetDefault("handbook.lock_timeout", 5*time.Minute)
	v.SetDefault("handbook.open_timeout", 5*time.Second)
	v.SetDefault("handbook.documents_dir", "")
	v.SetDefault("handbook.embeddings_provider", EmbeddingsGemini)
	v.SetDefault("handbook.hash_dimension", 512)
	v.SetDefault("handbook.gemini.chat_model", "gemini-2.0-flash")
	v.SetDefault("handbook.gemini.embedding_model", "text-embedding-004")
	v.SetDefault("handbook.gemini.requests_per_minute", 60)
	v.SetDefault("handbook.gemini.timeout", 60*time.Second)
	v.SetDefault("handbook.chunking.target_chars", 16000)
	v.SetDefault("handbook.chunking.max_chunk_chars", 22000)
	v.SetDefault("handbook.chunking.overlap_pages", 1)
	v.SetDefault("handbook.chunking.summary_input_chars", 12000)
	v.SetDefault("handbook.retrieval.vector_top_k", 8)
	v.SetDefault("handbook.retrieval.keyword_top_k", 8)
	v.SetDefault("handbook.retrieval.final_context_chunks", 4)
	v.SetDefault("handbook.retrieval.min_similarity", 0.0)

	// Environment variables
	v.SetEnvPrefix("HANDBOOK_MCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific env vars for nested config
	_ = v.BindEnv("auth.type", "HANDBOOK_MCP_AUTH_TYPE")
	_ = v.BindEnv("auth.basic.username", "HANDBOOK_MCP_AUTH_BASIC_USERNAME")
	_ = v.BindEnv("auth.basic.password", "HANDBOOK_MCP_AUTH_BASIC_PASSWORD")
	_ = v.BindEnv("auth.api_keys", "HANDBOOK_MCP_AUTH_API_KEYS")

	// Handbook env var bindings
	_ = v.BindEnv("handbook.enabled", "HANDBOOK_MCP_ENABLED")
	_ = v.BindEnv("handbook.document", "HANDBOOK_MCP_DOCUMENT")
	_ = v.BindEnv("handbook.source_tag", "HANDBOOK_MCP_SOURCE_TAG")
	_ = v.BindEnv("handbook.base_dir", "HANDBOOK_MCP_BASE_DIR")
	_ = v.BindEnv("handbook.lock_timeout", "HANDBOOK_MCP_LOCK_TIMEOUT")
	_ = v.BindEnv("handbook.open_timeout", "HANDBOOK_MCP_OPEN_TIMEOUT")
	_ = v.BindEnv("handbook.documents_dir", "HANDBOOK_MCP_DOCUMENTS_DIR")
	_ = v.BindEnv("handbook.embeddings_provider", "HANDBOOK_MCP_EMBEDDINGS_PROVIDER")
	_ = v.BindEnv("handbook.hash_dimension", "HANDBOOK_MCP_HASH_DIMENSION")
	_ = v.BindEnv("handbook.gemini.api_key", "HANDBOOK_MCP_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("handbook.gemini.chat_model", "HANDBOOK_MCP_GEMINI_CHAT_MODEL")
	_ = v.BindEnv("handbook.gemini.embedding_model", "HANDBOOK_MCP_GEMINI_EMBEDDING_MODEL")
	_ = v.BindEnv("handbook.gemini.requests_per_minute", "HANDBOOK_MCP_GEMINI_REQUESTS_PER_MINUTE")
	_ = v.BindEnv("handbook.gemini.timeout", "HANDBOOK_MCP_GEMINI_TIMEOUT")
	_ = v.BindEnv("handbook.chunking.target_chars", "HANDBOOK_MCP_CHUNKING_TARGET_CHARS")
	_ = v.BindEnv("handbook.chunking.max_chunk_chars", "HANDBOOK_MCP_CHUNKING_MAX_CHUNK_CHARS")
	_ = v.BindEnv("handbook.chunking.overlap_pages", "HANDBOOK_MCP_CHUNKING_OVERLAP_PAGES")
	_ = v.BindEnv("handbook.chunking.summary_input_chars", "HANDBOOK_MCP_CHUNKING_SUMMARY_INPUT_CHARS")
	_ = v.BindEnv("handbook.retrieval.vector_top_k", "HANDBOOK_MCP_RETRIEVAL_VECTOR_TOP_K")
	_ = v.BindEnv("handbook.retrieval.keyword_top_k", "HANDBOOK_MCP_RETRIEVAL_KEYWORD_TOP_K")
	_ = v.BindEnv("handbook.retrieval.final_context_chunks", "HANDBOOK_MCP_RETRIEVAL_FINAL_CONTEXT_CHUNKS")
	_ = v.BindEnv("handbook.retrieval.min_similarity", "HANDBOOK_MCP_RETRIEVAL_MIN_SIMILARITY")

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		_ = v.BindPFlag("transport", flags.Lookup("transport"))
		_ = v.BindPFlag("host", flags.Lookup("host"))
		_ = v.BindPFlag("port", flags.Lookup("port"))
		_ = v.BindPFlag("auth.type", flags.Lookup("auth-type"))
		_ = v.BindPFlag("auth.basic.username", flags.Lookup("auth-basic-username"))
		_ = v.BindPFlag("auth.basic.password", flags.Lookup("auth-basic-password"))
		_ = v.BindPFlag("auth.api_keys", flags.Lookup("auth-api-keys"))

		// Handbook CLI flags
		_ = v.BindPFlag("handbook.enabled", flags.Lookup("handbook-enabled"))
		_ = v.BindPFlag("handbook.document", flags.Lookup("handbook-document"))
		_ = v.BindPFlag("handbook.source_tag", flags.Lookup("handbook-source"))
		_ = v.BindPFlag("handbook.base_dir", flags.Lookup("handbook-base-dir"))
		_ = v.BindPFlag("handbook.lock_timeout", flags.Lookup("handbook-lock-timeout"))
		_ = v.BindPFlag("handbook.documents_dir", flags.Lookup("handbook-documents-dir"))
		_ = v.BindPFlag("handbook.embeddings_provider", flags.Lookup("handbook-embeddings"))
		_ = v.BindPFlag("handbook.gemini.api_key", flags.Lookup("gemini-api-key"))
		_ = v.BindPFlag("handbook.gemini.chat_model", flags.Lookup("gemini-chat-model"))
		_ = v.BindPFlag("handbook.gemini.embedding_model", flags.Lookup("gemini-embedding-model"))
		_ = v.BindPFlag("handbook.gemini.requests_per_minute", flags.Lookup("gemini-rpm"))
		_ = v.BindPFlag("handbook.gemini.timeout", flags.Lookup("gemini-timeout"))
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Handle explicit parsing of API keys if provided via env var as comma-separated string
	apiKeysEnv := os.Getenv("HANDBOOK_MCP_AUTH_API_KEYS")
	if apiKeysEnv != "" {
		if len(settings.Auth.APIKeys) == 0 || (len(settings.Auth.APIKeys) == 1 && strings.Contains(settings.Auth.APIKeys[0], ",")) {
			settings.Auth.APIKeys = strings.Split(apiKeysEnv, ",")
		}
	}

	// Trim spaces from API keys
	for i := range settings.Auth.APIKeys {
		settings.Auth.APIKeys[i] = strings.TrimSpace(settings.Auth.APIKeys[i])
	}

	settings.Handbook.SourceTag = strings.TrimSpace(settings.Handbook.SourceTag)
	settings.Handbook.EmbeddingsProvider = strings.ToLower(strings.TrimSpace(settings.Handbook.EmbeddingsProvider))

	// Expand home directory in paths
	settings.Handbook.BaseDir = expandHomeDir(settings.Handbook.BaseDir)
	settings.Handbook.Document = expandHomeDir(settings.Handbook.Document)
	settings.Handbook.DocumentsDir = expandHomeDir(settings.Handbook.DocumentsDir)

	return &settings, nil
}

// defaultHandbookBaseDir returns the default base directory for handbook indexes
func defaultHandbookBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".handbook-mcp"
	}
	return filepath.Join(home, ".handbook-mcp")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	// Validate transport type
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	// Validate handbook settings
	if err := validateHandbookSettings(&s.Handbook); err != nil {
		return err
	}

	return nil
}

// validateHandbookSettings validates the handbook configuration
func validateHandbookSettings(h *HandbookSettings) error {
	if !h.Enabled {
		return nil // No validation needed when disabled
	}

	if h.BaseDir == "" {
		return errors.New("handbook-base-dir cannot be empty")
	}

	if h.SourceTag == "" {
		return errors.New("handbook-source cannot be empty")
	}

	if h.LockTimeout <= 0 {
		return errors.New("handbook-lock-timeout must be positive")
	}

	if h.OpenTimeout <= 0 {
		return errors.New("handbook.open_timeout must be positive")
	}

	switch h.EmbeddingsProvider {
	case EmbeddingsGemini:
	case EmbeddingsHash:
		if h.HashDimension <= 0 {
			return errors.New("handbook.hash_dimension must be positive")
		}
	default:
		return errors.New("handbook-embeddings must be 'gemini' or 'hash', got: " + h.EmbeddingsProvider)
	}

	// Index notes and answers always go through Gemini
	if h.Gemini.APIKey == "" {
		return errors.New("handbook-enabled requires a Gemini API key (gemini-api-key)")
	}

	if h.Gemini.RequestsPerMinute <= 0 {
		return errors.New("gemini-rpm must be positive")
	}

	if h.Gemini.Timeout <= 0 {
		return errors.New("gemini-timeout must be positive")
	}

	c := h.Chunking
	if c.TargetChars <= 0 || c.MaxChunkChars <= 0 || c.SummaryInputChars <= 0 {
		return errors.New("handbook chunking budgets must be positive")
	}

	if c.OverlapPages < 0 {
		return errors.New("handbook.chunking.overlap_pages cannot be negative")
	}

	if c.TargetChars > c.MaxChunkChars {
		return errors.New("handbook.chunking.target_chars cannot exceed max_chunk_chars")
	}

	r := h.Retrieval
	if r.VectorTopK <= 0 || r.KeywordTopK <= 0 || r.FinalContextChunks <= 0 {
		return errors.New("handbook retrieval top-k values must be positive")
	}

	if r.VectorTopK > MaxVectorTopK {
		return fmt.Errorf("handbook.retrieval.vector_top_k cannot exceed %d, got %d", MaxVectorTopK, r.VectorTopK)
	}

	return nil
}
