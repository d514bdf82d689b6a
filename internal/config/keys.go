package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "KNOWD_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "KNOWD_API_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
	},
	{
		env: "KNOWD_EMBEDDING_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
	},
	{
		env: "KNOWD_EMBEDDING_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Embedding.APIKey = v.(string) },
	},
	{
		env: "KNOWD_EMBEDDING_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
	},
	{
		env: "KNOWD_EMBEDDING_TIMEOUT", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Embedding.Timeout = v.(time.Duration) },
	},
	{
		env: "KNOWD_VECTOR_STORE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.VectorStore.RemoteURL = v.(string) },
	},
	{
		env: "KNOWD_VECTOR_STORE_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.VectorStore.RemoteAPIKey = v.(string) },
	},
	{
		env: "KNOWD_VECTOR_STORE_NAMESPACE", typ: kString,
		apply: func(cfg *Config, v any) { cfg.VectorStore.Namespace = v.(string) },
	},
	{
		env: "KNOWD_INGEST_WORKERS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Ingest.Workers = v.(int) },
	},
	{
		env: "KNOWD_INGEST_POLL_INTERVAL", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Ingest.PollInterval = v.(time.Duration) },
	},
	{
		env: "KNOWD_CHUNK_SIZE", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Ingest.DefaultChunkSize = v.(int) },
	},
	{
		env: "KNOWD_CHUNK_OVERLAP", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Ingest.DefaultChunkOverlap = v.(int) },
	},
	{
		env: "KNOWD_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "KNOWD_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
