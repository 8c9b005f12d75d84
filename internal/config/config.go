// Package config provides configuration loading and structs for the Kaiseki server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Inference InferenceConfig `yaml:"inference"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Index     IndexConfig     `yaml:"index"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the snapshot database path.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// InferenceConfig holds settings for the external inference service
// (embeddings and completions). APIKey is never read from YAML; it comes
// from the environment (KAISEKI_INFERENCE_API_KEY), optionally via .env.
type InferenceConfig struct {
	BaseURL           string  `yaml:"base_url"`
	EmbedModel        string  `yaml:"embed_model"`
	CompleteModel     string  `yaml:"complete_model"`
	Dimensions        int     `yaml:"dimensions"`
	BatchSize         int     `yaml:"batch_size"`
	MaxParallel       int     `yaml:"max_parallel"`
	MaxAttempts       int     `yaml:"max_attempts"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	CacheSize         int     `yaml:"cache_size"`
	APIKey            string  `yaml:"-"`
}

// ChunkingConfig holds chunk boundary settings.
type ChunkingConfig struct {
	MaxChunkChars int `yaml:"max_chunk_chars"`
	MinChunkChars int `yaml:"min_chunk_chars"`
	OverlapLines  int `yaml:"overlap_lines"`
}

// RetrievalConfig holds retrieval and answer synthesis settings.
type RetrievalConfig struct {
	TopK               int     `yaml:"top_k"`
	MinScore           float64 `yaml:"min_score"`
	ContextBudgetChars int     `yaml:"context_budget_chars"`
}

// IndexConfig holds knowledge index capacity settings.
type IndexConfig struct {
	// Capacity is the maximum number of repository indexes kept in memory;
	// the least-recently-queried fingerprint is evicted when exceeded.
	Capacity int `yaml:"capacity"`
}

// Load reads and parses the config file at path, applies defaults, expands
// paths, and overlays environment variables (loading .env if present).
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)

	applyEnv(&cfg)

	return &cfg, nil
}

// Default returns a config with defaults and environment overlays applied,
// for running without a config file.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg
}

// applyEnv overlays environment variables onto cfg. A .env file in the
// working directory is loaded first if it exists; real environment variables
// win over .env entries (godotenv does not override).
func applyEnv(cfg *Config) {
	_ = godotenv.Load()
	if v := os.Getenv("KAISEKI_INFERENCE_API_KEY"); v != "" {
		cfg.Inference.APIKey = v
	}
	if v := os.Getenv("KAISEKI_INFERENCE_URL"); v != "" {
		cfg.Inference.BaseURL = v
	}
	if v := os.Getenv("KAISEKI_DATABASE_PATH"); v != "" {
		cfg.Storage.DatabasePath = v
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative
// to configDir; other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
