// Package config loads daemon configuration from an optional .env file and
// KNOWD_* environment variables layered over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Embedding   EmbeddingConfig
	VectorStore VectorStoreConfig
	Ingest      IngestConfig
	Storage     StorageConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// VectorStoreConfig selects the vector backend. A non-empty RemoteURL picks
// the remote service; otherwise vectors live in the local database.
type VectorStoreConfig struct {
	RemoteURL    string
	RemoteAPIKey string
	Namespace    string
}

type IngestConfig struct {
	Workers             int
	PollInterval        time.Duration
	DefaultChunkSize    int
	DefaultChunkOverlap int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4700,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "https://api.openai.com",
			Model:   "text-embedding-3-small",
			Timeout: 30 * time.Second,
		},
		VectorStore: VectorStoreConfig{
			Namespace: "documents",
		},
		Ingest: IngestConfig{
			Workers:             4,
			PollInterval:        500 * time.Millisecond,
			DefaultChunkSize:    500,
			DefaultChunkOverlap: 50,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".knowd"
	}
	return filepath.Join(home, ".knowd")
}

// Load reads configuration for the daemon. A .env file in the working
// directory is loaded first (missing is fine), then KNOWD_* environment
// variables override the defaults.
//
// The embedding API key and the server API token are required: the daemon
// refuses to start without them rather than failing on the first request.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Embedding.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: embedding API key (set KNOWD_EMBEDDING_API_KEY)")
	}
	if cfg.Server.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: server API token (set KNOWD_API_TOKEN)")
	}
	if cfg.Ingest.DefaultChunkOverlap >= cfg.Ingest.DefaultChunkSize {
		return Config{}, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d",
			cfg.Ingest.DefaultChunkOverlap, cfg.Ingest.DefaultChunkSize)
	}

	return cfg, nil
}
