// Package config provides configuration management for Tessera.
// It loads settings from environment variables with the TESSERA_ prefix,
// optionally layered over a YAML file, and provides sensible defaults for all
// configuration options.
//
// Precedence, highest first: environment, YAML file, defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig indicates a setting outside its accepted range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration settings for the Tessera application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port      int     `yaml:"port"`       // Server port (default: 6464)
	Host      string  `yaml:"host"`       // Server host (default: 127.0.0.1)
	RateLimit float64 `yaml:"rate_limit"` // API requests per second, 0 disables (default: 20)
	RateBurst int     `yaml:"rate_burst"` // API burst size (default: 40)
}

// StorageConfig contains entity storage configuration.
type StorageConfig struct {
	Engine   string `yaml:"engine"`    // Storage engine: sqlite or memory (default: sqlite)
	DataPath string `yaml:"data_path"` // Path to data directory (default: ./data)
}

// VectorConfig selects the vector tier of the similarity index.
type VectorConfig struct {
	Backend     string `yaml:"backend"`      // sqlitevec, pgvector or none (default: sqlitevec)
	PostgresDSN string `yaml:"postgres_dsn"` // Required for pgvector
}

// EmbeddingConfig contains embedding model configuration.
type EmbeddingConfig struct {
	Model          string        `yaml:"model"`           // local, ollama or none (default: local)
	LocalDimension int           `yaml:"local_dimension"` // Local model dimension (default: 384)
	OllamaURL      string        `yaml:"ollama_url"`      // Ollama API URL (default: http://localhost:11434)
	OllamaModel    string        `yaml:"ollama_model"`    // Ollama embedding model (default: nomic-embed-text)
	Timeout        time.Duration `yaml:"timeout"`         // Per-request timeout (default: 30s)
	RateLimit      float64       `yaml:"rate_limit"`      // Ollama requests per second, 0 disables
}

// ReconcileConfig contains the detector, clusterer and alias thresholds.
type ReconcileConfig struct {
	SimilarityThreshold      float64       `yaml:"similarity_threshold"`      // default: 0.80
	AutoMergeThreshold       float64       `yaml:"auto_merge_threshold"`      // default: 0.95, above 1 disables
	VerifyAutoMerge          bool          `yaml:"verify_auto_merge"`         // default: true
	RejectionTTL             time.Duration `yaml:"rejection_ttl"`             // default: 10m
	ClusterStrategy          string        `yaml:"cluster_strategy"`          // kmeans or greedy (default: kmeans)
	ClusterThreshold         float64       `yaml:"cluster_threshold"`         // default: 0.70
	AliasContextThreshold    float64       `yaml:"alias_context_threshold"`   // default: 0.95
	TransliterationThreshold float64       `yaml:"transliteration_threshold"` // default: 0.90
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"` // Expose /metrics (default: true)
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      6464,
			Host:      "127.0.0.1",
			RateLimit: 20,
			RateBurst: 40,
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Vector: VectorConfig{
			Backend: "sqlitevec",
		},
		Embedding: EmbeddingConfig{
			Model:          "local",
			LocalDimension: 384,
			OllamaURL:      "http://localhost:11434",
			OllamaModel:    "nomic-embed-text",
			Timeout:        30 * time.Second,
		},
		Reconcile: ReconcileConfig{
			SimilarityThreshold:      0.80,
			AutoMergeThreshold:       0.95,
			VerifyAutoMerge:          true,
			RejectionTTL:             10 * time.Minute,
			ClusterStrategy:          "kmeans",
			ClusterThreshold:         0.70,
			AliasContextThreshold:    0.95,
			TransliterationThreshold: 0.90,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. When path is empty, TESSERA_CONFIG names the YAML file, if any.
func LoadConfig(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		path = os.Getenv("TESSERA_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides cfg with any TESSERA_ environment variables that are set.
func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("TESSERA_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("TESSERA_HOST", cfg.Server.Host)
	cfg.Server.RateLimit = getEnvFloat("TESSERA_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.RateBurst = getEnvInt("TESSERA_RATE_BURST", cfg.Server.RateBurst)

	cfg.Storage.Engine = getEnv("TESSERA_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("TESSERA_DATA_PATH", cfg.Storage.DataPath)

	cfg.Vector.Backend = getEnv("TESSERA_VECTOR_BACKEND", cfg.Vector.Backend)
	cfg.Vector.PostgresDSN = getEnv("TESSERA_POSTGRES_DSN", cfg.Vector.PostgresDSN)

	cfg.Embedding.Model = getEnv("TESSERA_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.LocalDimension = getEnvInt("TESSERA_EMBEDDING_DIMENSION", cfg.Embedding.LocalDimension)
	cfg.Embedding.OllamaURL = getEnv("TESSERA_OLLAMA_URL", cfg.Embedding.OllamaURL)
	cfg.Embedding.OllamaModel = getEnv("TESSERA_OLLAMA_MODEL", cfg.Embedding.OllamaModel)
	cfg.Embedding.Timeout = getEnvDuration("TESSERA_EMBEDDING_TIMEOUT", cfg.Embedding.Timeout)
	cfg.Embedding.RateLimit = getEnvFloat("TESSERA_EMBEDDING_RATE_LIMIT", cfg.Embedding.RateLimit)

	r := &cfg.Reconcile
	r.SimilarityThreshold = getEnvFloat("TESSERA_SIMILARITY_THRESHOLD", r.SimilarityThreshold)
	r.AutoMergeThreshold = getEnvFloat("TESSERA_AUTO_MERGE_THRESHOLD", r.AutoMergeThreshold)
	r.VerifyAutoMerge = getEnvBool("TESSERA_VERIFY_AUTO_MERGE", r.VerifyAutoMerge)
	r.RejectionTTL = getEnvDuration("TESSERA_REJECTION_TTL", r.RejectionTTL)
	r.ClusterStrategy = getEnv("TESSERA_CLUSTER_STRATEGY", r.ClusterStrategy)
	r.ClusterThreshold = getEnvFloat("TESSERA_CLUSTER_THRESHOLD", r.ClusterThreshold)
	r.AliasContextThreshold = getEnvFloat("TESSERA_ALIAS_CONTEXT_THRESHOLD", r.AliasContextThreshold)
	r.TransliterationThreshold = getEnvFloat("TESSERA_TRANSLITERATION_THRESHOLD", r.TransliterationThreshold)

	cfg.Metrics.Enabled = getEnvBool("TESSERA_METRICS_ENABLED", cfg.Metrics.Enabled)
}

// normalize lower-cases the enumerated settings.
func (c *Config) normalize() {
	for _, v := range []*string{
		&c.Storage.Engine,
		&c.Vector.Backend,
		&c.Embedding.Model,
		&c.Reconcile.ClusterStrategy,
	} {
		*v = strings.ToLower(strings.TrimSpace(*v))
	}
}

// Validate rejects out-of-range settings. Enumerated values must already
// be lower case.
func (c *Config) Validate() error {
	unit := map[string]float64{
		"similarity_threshold":      c.Reconcile.SimilarityThreshold,
		"cluster_threshold":         c.Reconcile.ClusterThreshold,
		"alias_context_threshold":   c.Reconcile.AliasContextThreshold,
		"transliteration_threshold": c.Reconcile.TransliterationThreshold,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be within [0,1], got %v", ErrInvalidConfig, name, v)
		}
	}
	if c.Reconcile.AutoMergeThreshold < 0 {
		return fmt.Errorf("%w: auto_merge_threshold must not be negative", ErrInvalidConfig)
	}
	if c.Reconcile.RejectionTTL < 0 {
		return fmt.Errorf("%w: rejection_ttl must not be negative", ErrInvalidConfig)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if !oneOf(c.Storage.Engine, "sqlite", "memory") {
		return fmt.Errorf("%w: unsupported storage engine %q", ErrInvalidConfig, c.Storage.Engine)
	}
	if !oneOf(c.Vector.Backend, "sqlitevec", "pgvector", "none") {
		return fmt.Errorf("%w: unsupported vector backend %q", ErrInvalidConfig, c.Vector.Backend)
	}
	if c.Vector.Backend == "pgvector" && c.Vector.PostgresDSN == "" {
		return fmt.Errorf("%w: pgvector requires TESSERA_POSTGRES_DSN", ErrInvalidConfig)
	}
	if !oneOf(c.Embedding.Model, "local", "ollama", "none") {
		return fmt.Errorf("%w: unsupported embedding model %q", ErrInvalidConfig, c.Embedding.Model)
	}
	if !oneOf(c.Reconcile.ClusterStrategy, "kmeans", "greedy") {
		return fmt.Errorf("%w: unsupported cluster strategy %q", ErrInvalidConfig, c.Reconcile.ClusterStrategy)
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration parses values such as "30s" or "10m".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
