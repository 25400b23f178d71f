package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DOCCHAT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.bind", typ: kString, env: "DOCCHAT_SERVER_BIND",
		apply:   func(cfg *Config, v any) { cfg.Server.Bind = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Bind },
	},
	{
		key: "server.api_token", typ: kString, env: "DOCCHAT_SERVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DOCCHAT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.chunk_backend", typ: kString, env: "DOCCHAT_STORAGE_CHUNK_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.ChunkBackend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.ChunkBackend },
	},
	{
		key: "qdrant.url", typ: kString, env: "DOCCHAT_QDRANT_URL",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.URL },
	},
	{
		key: "qdrant.collection", typ: kString, env: "DOCCHAT_QDRANT_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.Collection },
	},
	{
		key: "qdrant.api_key", typ: kString, env: "DOCCHAT_QDRANT_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Qdrant.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.APIKey },
	},
	{
		key: "objects.backend", typ: kString, env: "DOCCHAT_OBJECTS_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Objects.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.Backend },
	},
	{
		key: "objects.local_dir", typ: kString, env: "DOCCHAT_OBJECTS_LOCAL_DIR",
		apply:   func(cfg *Config, v any) { cfg.Objects.LocalDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.LocalDir },
	},
	{
		key: "objects.base_url", typ: kString, env: "DOCCHAT_OBJECTS_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Objects.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.BaseURL },
	},
	{
		key: "objects.gcs_bucket", typ: kString, env: "DOCCHAT_OBJECTS_GCS_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Objects.GCSBucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.GCSBucket },
	},
	{
		key: "objects.gcs_credentials_file", typ: kString, env: "DOCCHAT_OBJECTS_GCS_CREDENTIALS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Objects.GCSCredentialsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.GCSCredentialsFile },
	},
	{
		key: "embedding.provider", typ: kString, env: "DOCCHAT_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "DOCCHAT_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.base_url", typ: kString, env: "DOCCHAT_EMBEDDING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.BaseURL },
	},
	{
		key: "embedding.api_key", typ: kString, env: "DOCCHAT_EMBEDDING_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Embedding.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.APIKey },
	},
	{
		key: "embedding.requests_per_second", typ: kFloat, env: "DOCCHAT_EMBEDDING_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Embedding.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Embedding.RequestsPerSecond },
	},
	{
		key: "llm.provider", typ: kString, env: "DOCCHAT_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "DOCCHAT_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.base_url", typ: kString, env: "DOCCHAT_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "DOCCHAT_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "DOCCHAT_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "chunking.chunk_size", typ: kInt, env: "DOCCHAT_CHUNKING_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunking.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.ChunkSize },
	},
	{
		key: "chunking.overlap", typ: kInt, env: "DOCCHAT_CHUNKING_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Overlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.Overlap },
	},
	{
		key: "ingestion.batch_size", typ: kInt, env: "DOCCHAT_INGESTION_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingestion.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingestion.BatchSize },
	},
	{
		key: "ingestion.concurrency", typ: kInt, env: "DOCCHAT_INGESTION_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Ingestion.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingestion.Concurrency },
	},
	{
		key: "ingestion.max_retries", typ: kInt, env: "DOCCHAT_INGESTION_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Ingestion.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingestion.MaxRetries },
	},
	{
		key: "ingestion.lock", typ: kString, env: "DOCCHAT_INGESTION_LOCK",
		apply:   func(cfg *Config, v any) { cfg.Ingestion.Lock = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingestion.Lock },
	},
	{
		key: "redis.addr", typ: kString, env: "DOCCHAT_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Redis.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Addr },
	},
	{
		key: "redis.password", typ: kString, env: "DOCCHAT_REDIS_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Redis.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Password },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "DOCCHAT_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.max_context_chars", typ: kInt, env: "DOCCHAT_RETRIEVAL_MAX_CONTEXT_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MaxContextChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.MaxContextChars },
	},
	{
		key: "upload.max_bytes", typ: kInt, env: "DOCCHAT_UPLOAD_MAX_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Upload.MaxBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Upload.MaxBytes },
	},
	{
		key: "log.level", typ: kString, env: "DOCCHAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "DOCCHAT_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool, kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				applyParsed(cfg, s, v, "config key "+s.key)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		applyParsed(cfg, s, raw, "env var "+s.env)
	}
}

// applyParsed converts raw to the key's type and applies it. Unparseable
// values are reported on stderr and leave the current value in place.
func applyParsed(cfg *Config, s keySpec, raw, source string) {
	switch s.typ {
	case kString:
		s.apply(cfg, raw)
	case kInt:
		if i, err := strconv.Atoi(raw); err == nil {
			s.apply(cfg, i)
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from %s=%q: %v. Using default value.\n", source, raw, err)
		}
	case kBool:
		if b, err := strconv.ParseBool(raw); err == nil {
			s.apply(cfg, b)
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from %s=%q: %v. Using default value.\n", source, raw, err)
		}
	case kFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			s.apply(cfg, f)
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse float from %s=%q: %v. Using default value.\n", source, raw, err)
		}
	}
}
