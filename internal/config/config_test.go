package config

import (
	"strings"
	"testing"
	"time"
)

// setRequired provides the two keys Load refuses to start without.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("KNOWD_EMBEDDING_API_KEY", "sk-test")
	t.Setenv("KNOWD_API_TOKEN", "token-test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 4700 {
		t.Errorf("port = %d, want 4700", cfg.Server.Port)
	}
	if cfg.Embedding.BaseURL != "https://api.openai.com" {
		t.Errorf("base URL = %q", cfg.Embedding.BaseURL)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("model = %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.Timeout != 30*time.Second {
		t.Errorf("timeout = %v", cfg.Embedding.Timeout)
	}
	if cfg.VectorStore.Namespace != "documents" {
		t.Errorf("namespace = %q", cfg.VectorStore.Namespace)
	}
	if cfg.Ingest.Workers != 4 || cfg.Ingest.PollInterval != 500*time.Millisecond {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
	if cfg.Ingest.DefaultChunkSize != 500 || cfg.Ingest.DefaultChunkOverlap != 50 {
		t.Errorf("chunk defaults = %d/%d", cfg.Ingest.DefaultChunkSize, cfg.Ingest.DefaultChunkOverlap)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if !strings.HasSuffix(cfg.Storage.DataDir, ".knowd") {
		t.Errorf("data dir = %q", cfg.Storage.DataDir)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("KNOWD_SERVER_PORT", "9100")
	t.Setenv("KNOWD_EMBEDDING_BASE_URL", "https://embeddings.internal")
	t.Setenv("KNOWD_EMBEDDING_MODEL", "custom-model")
	t.Setenv("KNOWD_EMBEDDING_TIMEOUT", "10s")
	t.Setenv("KNOWD_VECTOR_STORE_URL", "https://vectors.internal")
	t.Setenv("KNOWD_VECTOR_STORE_API_KEY", "vk-test")
	t.Setenv("KNOWD_VECTOR_STORE_NAMESPACE", "notes")
	t.Setenv("KNOWD_INGEST_WORKERS", "8")
	t.Setenv("KNOWD_INGEST_POLL_INTERVAL", "2s")
	t.Setenv("KNOWD_CHUNK_SIZE", "1000")
	t.Setenv("KNOWD_CHUNK_OVERLAP", "200")
	t.Setenv("KNOWD_DATA_DIR", "/tmp/knowd-test")
	t.Setenv("KNOWD_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Embedding.BaseURL != "https://embeddings.internal" || cfg.Embedding.Model != "custom-model" {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Embedding.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", cfg.Embedding.Timeout)
	}
	if cfg.VectorStore.RemoteURL != "https://vectors.internal" || cfg.VectorStore.RemoteAPIKey != "vk-test" {
		t.Errorf("vector store = %+v", cfg.VectorStore)
	}
	if cfg.VectorStore.Namespace != "notes" {
		t.Errorf("namespace = %q", cfg.VectorStore.Namespace)
	}
	if cfg.Ingest.Workers != 8 || cfg.Ingest.PollInterval != 2*time.Second {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
	if cfg.Ingest.DefaultChunkSize != 1000 || cfg.Ingest.DefaultChunkOverlap != 200 {
		t.Errorf("chunk = %d/%d", cfg.Ingest.DefaultChunkSize, cfg.Ingest.DefaultChunkOverlap)
	}
	if cfg.Storage.DataDir != "/tmp/knowd-test" {
		t.Errorf("data dir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoad_MissingEmbeddingKey(t *testing.T) {
	t.Setenv("KNOWD_EMBEDDING_API_KEY", "")
	t.Setenv("KNOWD_API_TOKEN", "token-test")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing embedding API key")
	}
}

func TestLoad_MissingAPIToken(t *testing.T) {
	t.Setenv("KNOWD_EMBEDDING_API_KEY", "sk-test")
	t.Setenv("KNOWD_API_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing API token")
	}
}

func TestLoad_OverlapMustBeSmallerThanSize(t *testing.T) {
	setRequired(t)
	t.Setenv("KNOWD_CHUNK_SIZE", "100")
	t.Setenv("KNOWD_CHUNK_OVERLAP", "100")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for overlap >= chunk size")
	}
}

func TestLoad_BadIntFallsBackToDefault(t *testing.T) {
	setRequired(t)
	t.Setenv("KNOWD_SERVER_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4700 {
		t.Errorf("port = %d, want default 4700", cfg.Server.Port)
	}
}

func TestLoad_BadDurationFallsBackToDefault(t *testing.T) {
	setRequired(t)
	t.Setenv("KNOWD_EMBEDDING_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want default 30s", cfg.Embedding.Timeout)
	}
}
