package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Qdrant    QdrantConfig
	Objects   ObjectsConfig
	Embedding EmbeddingConfig
	LLM       LLMConfig
	Chunking  ChunkingConfig
	Ingestion IngestionConfig
	Redis     RedisConfig
	Retrieval RetrievalConfig
	Upload    UploadConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	Bind     string
	APIToken string
}

type StorageConfig struct {
	DataDir      string
	ChunkBackend string
}

type QdrantConfig struct {
	URL        string
	Collection string
	APIKey     string
}

type ObjectsConfig struct {
	Backend            string
	LocalDir           string
	BaseURL            string
	GCSBucket          string
	GCSCredentialsFile string
}

type EmbeddingConfig struct {
	Provider          string
	Model             string
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
}

type LLMConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
}

type ChunkingConfig struct {
	ChunkSize int
	Overlap   int
}

type IngestionConfig struct {
	BatchSize   int
	Concurrency int
	MaxRetries  int
	Lock        string
}

type RedisConfig struct {
	Addr     string
	Password string
}

type RetrievalConfig struct {
	TopK int
	// MaxContextChars caps the prompt context in code points. Zero disables the cap.
	MaxContextChars int
}

type UploadConfig struct {
	MaxBytes int
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
			Bind: "127.0.0.1",
		},
		Storage: StorageConfig{
			DataDir:      defaultDataDir(),
			ChunkBackend: "sqlite",
		},
		Qdrant: QdrantConfig{
			Collection: "docchat_chunks",
		},
		Objects: ObjectsConfig{
			Backend: "local",
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			Temperature: 0.7,
		},
		Chunking: ChunkingConfig{
			ChunkSize: 10000,
			Overlap:   2000,
		},
		Ingestion: IngestionConfig{
			BatchSize:   10,
			Concurrency: 4,
			MaxRetries:  3,
			Lock:        "memory",
		},
		Retrieval: RetrievalConfig{
			TopK:            3,
			MaxContextChars: 40000,
		},
		Upload: UploadConfig{
			MaxBytes: 10 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the config file, a .env file
// in the working directory and DOCCHAT_* environment variables, in that
// order of precedence (last wins).
//
// The config file is $XDG_CONFIG_HOME/docchat/config.json unless
// DOCCHAT_CONFIG names another file; a .yaml or .yml extension selects YAML.
// Secrets are never read from the config file.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), ".env")
}

func loadWith(b ConfigBackend, dotenv string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if dotenv != "" {
		// godotenv.Load never overwrites variables that are already set.
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v. Ignoring it.\n", dotenv, err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.resolve()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolve fills values derived from other keys.
func (c *Config) resolve() {
	if c.Objects.LocalDir == "" {
		c.Objects.LocalDir = filepath.Join(c.Storage.DataDir, "objects")
	}
	if c.Objects.BaseURL == "" {
		c.Objects.BaseURL = fmt.Sprintf("http://%s:%d/files", c.Server.Bind, c.Server.Port)
	}
	c.Embedding.Provider = strings.ToLower(c.Embedding.Provider)
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
}

func (c Config) validate() error {
	var errs []error
	oneOf := func(key, val string, allowed ...string) bool {
		for _, a := range allowed {
			if val == a {
				return true
			}
		}
		errs = append(errs, fmt.Errorf("%s: %q is not one of %s", key, val, strings.Join(allowed, ", ")))
		return false
	}
	positive := func(key string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, v))
		}
	}

	if oneOf("embedding.provider", c.Embedding.Provider, "openai", "ollama") &&
		c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		errs = append(errs, fmt.Errorf("missing required config: embedding API key. Set it via environment variable DOCCHAT_EMBEDDING_API_KEY"))
	}
	if oneOf("llm.provider", c.LLM.Provider, "openai", "ollama") &&
		c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("missing required config: LLM API key. Set it via environment variable DOCCHAT_LLM_API_KEY"))
	}
	if oneOf("storage.chunk_backend", c.Storage.ChunkBackend, "sqlite", "qdrant") &&
		c.Storage.ChunkBackend == "qdrant" && c.Qdrant.URL == "" {
		errs = append(errs, fmt.Errorf("qdrant.url is required when storage.chunk_backend is qdrant"))
	}
	if oneOf("objects.backend", c.Objects.Backend, "local", "gcs") &&
		c.Objects.Backend == "gcs" && c.Objects.GCSBucket == "" {
		errs = append(errs, fmt.Errorf("objects.gcs_bucket is required when objects.backend is gcs"))
	}
	if oneOf("ingestion.lock", c.Ingestion.Lock, "memory", "redis") &&
		c.Ingestion.Lock == "redis" && c.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("redis.addr is required when ingestion.lock is redis"))
	}
	oneOf("log.format", c.Log.Format, "text", "json")
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	positive("chunking.chunk_size", c.Chunking.ChunkSize)
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		errs = append(errs, fmt.Errorf("chunking.overlap must be in [0, chunk_size), got %d", c.Chunking.Overlap))
	}
	positive("ingestion.batch_size", c.Ingestion.BatchSize)
	positive("ingestion.concurrency", c.Ingestion.Concurrency)
	positive("ingestion.max_retries", c.Ingestion.MaxRetries)
	positive("retrieval.top_k", c.Retrieval.TopK)
	if c.Retrieval.MaxContextChars < 0 {
		errs = append(errs, fmt.Errorf("retrieval.max_context_chars must not be negative, got %d", c.Retrieval.MaxContextChars))
	}
	positive("upload.max_bytes", c.Upload.MaxBytes)
	positive("server.port", c.Server.Port)

	return errors.Join(errs...)
}

// ParseLevel maps a log.level value to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %q is not one of debug, info, warn, error", s)
	}
	return l, nil
}

// Addr returns the host:port the HTTP server listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "docchat-data"
		}
	}
	return filepath.Join(dir, "docchat")
}

func configFilePath() string {
	if p := os.Getenv("DOCCHAT_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "docchat", "config.json")
}
