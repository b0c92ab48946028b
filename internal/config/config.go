// Package config loads memoriad's runtime configuration: compiled defaults,
// optionally overridden by a TOML file, optionally overridden by
// MEMORIA_*-prefixed environment variables (env wins).
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the closed set of tunables memoriad accepts. Section names and
// field names mirror the option groups the storage engine and retrieval
// pipeline expose as Go-level defaults (see store/postgres, retrieve,
// backfill) so operators tune the same knobs the code documents.
type Config struct {
	Database     DatabaseConfig     `toml:"database"`
	Embedding    EmbeddingConfig    `toml:"embedding"`
	Classifier   ClassifierConfig   `toml:"classifier"`
	Retrieval    RetrievalConfig    `toml:"retrieval"`
	Supersession SupersessionConfig `toml:"supersession"`
	Backfill     BackfillConfig     `toml:"backfill"`
	Features     FeaturesConfig     `toml:"features"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	Driver     string `toml:"driver"`      // "postgres" or "sqlite"
	DSN        string `toml:"dsn"`         // postgres connection string
	SQLitePath string `toml:"sqlite_path"` // sqlite file path
}

// EmbeddingConfig configures the OpenAI-compatible embeddings client.
type EmbeddingConfig struct {
	BaseURL           string `toml:"base_url"`
	Model             string `toml:"model"`
	APIKey            string `toml:"api_key"`
	Dimensions        int    `toml:"dimensions"`
	InlineTimeoutMs   int    `toml:"inline_timeout_ms"`
	BackfillTimeoutMs int    `toml:"backfill_timeout_ms"`
	MaxContentChars   int    `toml:"max_content_chars"`
}

// ClassifierConfig configures the optional bounded LLM fallback the
// fingerprint classifier calls when its deterministic rules find nothing.
// Only consulted when Features.ClassifierFallback is true.
type ClassifierConfig struct {
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
}

// RetrievalConfig mirrors retrieve.Config's documented defaults.
type RetrievalConfig struct {
	MaxCandidates           int     `toml:"max_candidates"`
	DefaultTopK             int     `toml:"default_top_k"`
	MinSimilarity           float64 `toml:"min_similarity"`
	MinSimilarityPersonal   float64 `toml:"min_similarity_personal"`
	MinSimilarityRecall     float64 `toml:"min_similarity_recall"`
	RecencyBoostDays        int     `toml:"recency_boost_days"`
	RecencyBoostWeight      float64 `toml:"recency_boost_weight"`
	ConfidenceWeight        float64 `toml:"confidence_weight"`
	QueryEmbeddingTimeoutMs int     `toml:"query_embedding_timeout_ms"`
	DefaultTokenBudget      int     `toml:"default_token_budget"`
}

// SupersessionConfig holds the retry/confidence settings for the
// fingerprint-gated supersession transaction; its defaults carry the
// storage engine's attempt count and confidence floor. store/postgres and
// store/sqlite use their own compiled constants rather than these fields,
// and retry without a delay between attempts.
type SupersessionConfig struct {
	MaxRetries        int     `toml:"max_retries"`
	RetryDelayMs      int     `toml:"retry_delay_ms"`
	MinConfidence     float64 `toml:"min_confidence"`
}

// BackfillConfig mirrors backfill.Config plus the daemon's poll interval.
type BackfillConfig struct {
	DefaultLimit       int     `toml:"default_limit"`
	DefaultMaxSeconds  float64 `toml:"default_max_seconds"`
	IntervalSeconds    int     `toml:"interval_seconds"`
	StaleProcessingMin int     `toml:"stale_processing_minutes"`
}

// FeaturesConfig gates optional behavior left to the deployer.
type FeaturesConfig struct {
	AllowCrossModeTransfer bool `toml:"allow_cross_mode_transfer"`
	ClassifierFallback     bool `toml:"classifier_fallback"`
	AdaptiveCentroid       bool `toml:"adaptive_centroid"`
}

// Default returns a Config with all compiled defaults applied. Values match
// retrieve.DefaultConfig and backfill.DefaultConfig so a deployment that
// supplies no TOML file and no env overrides behaves exactly like the
// package-level zero-config defaults.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: "memoria.db",
		},
		Embedding: EmbeddingConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "text-embedding-3-small",
			Dimensions:        1536,
			InlineTimeoutMs:   3000,
			BackfillTimeoutMs: 10000,
			MaxContentChars:   8000,
		},
		Classifier: ClassifierConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Retrieval: RetrievalConfig{
			MaxCandidates:           500,
			DefaultTopK:             10,
			MinSimilarity:           0.25,
			MinSimilarityPersonal:   0.18,
			MinSimilarityRecall:     0.10,
			RecencyBoostDays:        7,
			RecencyBoostWeight:      0.10,
			ConfidenceWeight:        0.05,
			QueryEmbeddingTimeoutMs: 5000,
			DefaultTokenBudget:      2000,
		},
		Supersession: SupersessionConfig{
			MaxRetries:    3,
			RetryDelayMs:  100,
			MinConfidence: 0.85,
		},
		Backfill: BackfillConfig{
			DefaultLimit:       20,
			DefaultMaxSeconds:  20,
			IntervalSeconds:    30,
			StaleProcessingMin: 5,
		},
		Features: FeaturesConfig{
			AllowCrossModeTransfer: false,
			ClassifierFallback:     false,
			AdaptiveCentroid:       false,
		},
	}
}

// Load reads config: defaults -> TOML file (if present) -> env vars (env
// wins). path defaults to "memoria.toml" in the working directory; a
// missing file is not an error, since compiled defaults alone are a valid
// configuration.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "memoria.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("MEMORIA_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("MEMORIA_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("MEMORIA_DATABASE_SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("MEMORIA_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MEMORIA_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("MEMORIA_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("MEMORIA_CLASSIFIER_API_KEY"); v != "" {
		cfg.Classifier.APIKey = v
	}
	if v := os.Getenv("MEMORIA_CLASSIFIER_BASE_URL"); v != "" {
		cfg.Classifier.BaseURL = v
	}
	if v := os.Getenv("MEMORIA_CLASSIFIER_MODEL"); v != "" {
		cfg.Classifier.Model = v
	}
	if v := os.Getenv("MEMORIA_FEATURES_CLASSIFIER_FALLBACK"); v != "" {
		cfg.Features.ClassifierFallback = parseBool(v)
	}
	if v := os.Getenv("MEMORIA_FEATURES_ALLOW_CROSS_MODE_TRANSFER"); v != "" {
		cfg.Features.AllowCrossModeTransfer = parseBool(v)
	}
	if v := os.Getenv("MEMORIA_FEATURES_ADAPTIVE_CENTROID"); v != "" {
		cfg.Features.AdaptiveCentroid = parseBool(v)
	}

	// Classifier fallback shares the embedding deployment's credentials
	// when no dedicated ones are set, since both are typically the same
	// OpenAI-compatible endpoint.
	if cfg.Classifier.APIKey == "" {
		cfg.Classifier.APIKey = cfg.Embedding.APIKey
	}

	return cfg
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
