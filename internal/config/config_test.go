package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Database.Driver)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("expected 1536, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Retrieval.MaxCandidates != 500 {
		t.Errorf("expected 500, got %d", cfg.Retrieval.MaxCandidates)
	}
	if cfg.Retrieval.DefaultTokenBudget != 2000 {
		t.Errorf("expected 2000, got %d", cfg.Retrieval.DefaultTokenBudget)
	}
	if cfg.Features.ClassifierFallback {
		t.Error("expected classifier fallback disabled by default")
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[database]
driver = "postgres"
dsn = "postgres://localhost/memoria"

[retrieval]
default_top_k = 5
`), 0644)

	cfg := Load(path)
	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Database.Driver)
	}
	if cfg.Database.DSN != "postgres://localhost/memoria" {
		t.Errorf("expected dsn to be set, got %s", cfg.Database.DSN)
	}
	if cfg.Retrieval.DefaultTopK != 5 {
		t.Errorf("expected 5, got %d", cfg.Retrieval.DefaultTopK)
	}
	// Defaults preserved for fields the TOML file didn't touch.
	if cfg.Retrieval.MaxCandidates != 500 {
		t.Errorf("default should be preserved, got %d", cfg.Retrieval.MaxCandidates)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MEMORIA_DATABASE_DRIVER", "postgres")
	t.Setenv("MEMORIA_DATABASE_DSN", "postgres://env/memoria")
	t.Setenv("MEMORIA_EMBEDDING_API_KEY", "env-key")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Database.Driver)
	}
	if cfg.Database.DSN != "postgres://env/memoria" {
		t.Errorf("expected dsn override, got %s", cfg.Database.DSN)
	}
	if cfg.Embedding.APIKey != "env-key" {
		t.Errorf("expected env-key, got %s", cfg.Embedding.APIKey)
	}
	// Fallback: classifier gets the embedding key when none is set.
	if cfg.Classifier.APIKey != "env-key" {
		t.Errorf("expected classifier fallback to env-key, got %s", cfg.Classifier.APIKey)
	}
}

func TestEnvOverride_FeatureFlags(t *testing.T) {
	t.Setenv("MEMORIA_FEATURES_CLASSIFIER_FALLBACK", "true")
	t.Setenv("MEMORIA_FEATURES_ADAPTIVE_CENTROID", "1")

	cfg := Load("/nonexistent/path.toml")
	if !cfg.Features.ClassifierFallback {
		t.Error("expected classifier fallback enabled")
	}
	if !cfg.Features.AdaptiveCentroid {
		t.Error("expected adaptive centroid enabled")
	}
}

func TestClassifierKeyFallsBackToEmbeddingKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[embedding]
api_key = "shared-key"
`), 0644)

	cfg := Load(path)
	if cfg.Classifier.APIKey != "shared-key" {
		t.Errorf("expected classifier api key to fall back to embedding key, got %s", cfg.Classifier.APIKey)
	}
}
