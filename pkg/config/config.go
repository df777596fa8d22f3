// Package config provides YAML configuration loading for the services and
// CLIs, with defaults and environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/quantumvision/quantum-image-search/engine/quantum"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Blob      BlobConfig      `yaml:"blob"`
	Quantum   quantum.Config  `yaml:"quantum"`
	NATS      NATSConfig      `yaml:"nats"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Search    SearchConfig    `yaml:"search"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// IndexConfig holds vector store settings.
type IndexConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
}

// ExtractorConfig holds feature extraction service settings.
type ExtractorConfig struct {
	BaseURL   string  `yaml:"base_url"`
	Model     string  `yaml:"model"`
	Dimension int     `yaml:"dimension"`
	RPS       float64 `yaml:"rps"`
}

// BlobConfig holds media CDN credentials.
type BlobConfig struct {
	BaseURL   string  `yaml:"base_url"`
	CloudName string  `yaml:"cloud_name"`
	APIKey    string  `yaml:"api_key"`
	APISecret string  `yaml:"api_secret"`
	Folder    string  `yaml:"folder"`
	RPS       float64 `yaml:"rps"`
}

// NATSConfig holds event bus settings. An empty URL disables eventing.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// IngestConfig holds bulk upload settings.
type IngestConfig struct {
	Concurrency int `yaml:"concurrency"`
	BatchSize   int `yaml:"batch_size"`
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	TopK          int     `yaml:"top_k"`
	CandidatePool int     `yaml:"candidate_pool"`
	MinScore      float64 `yaml:"min_score"`
}

// Default returns the baseline configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path (skipped when path is empty), applies
// defaults, then environment overrides. Environment always wins.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyDefaults(&cfg)
	applyEnv(&cfg)
	if err := cfg.Quantum.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.CORSOrigin == "" {
		cfg.Server.CORSOrigin = "*"
	}
	if cfg.Index.Addr == "" {
		cfg.Index.Addr = "localhost:6334"
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "quantum-images"
	}
	if cfg.Extractor.BaseURL == "" {
		cfg.Extractor.BaseURL = "http://localhost:9090"
	}
	if cfg.Extractor.Dimension == 0 {
		cfg.Extractor.Dimension = 2048
	}
	if cfg.Blob.BaseURL == "" {
		cfg.Blob.BaseURL = "https://api.cloudinary.com/v1_1"
	}
	if cfg.Blob.Folder == "" {
		cfg.Blob.Folder = "quantum-images"
	}
	if cfg.Quantum == (quantum.Config{}) {
		cfg.Quantum = quantum.DefaultConfig()
	}
	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 20
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 100
	}
	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 10
	}
	if cfg.Search.CandidatePool == 0 {
		cfg.Search.CandidatePool = 50
	}
	if cfg.Search.MinScore == 0 {
		cfg.Search.MinScore = 0.70
	}
}

// applyEnv overrides fields from QIS_* environment variables. Only the
// deployment-sensitive knobs are exposed this way; tuning stays in YAML.
func applyEnv(cfg *Config) {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr("QIS_SERVER_HOST", &cfg.Server.Host)
	if v := os.Getenv("QIS_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	setStr("QIS_QDRANT_ADDR", &cfg.Index.Addr)
	setStr("QIS_COLLECTION", &cfg.Index.Collection)
	setStr("QIS_EXTRACTOR_URL", &cfg.Extractor.BaseURL)
	setStr("QIS_BLOB_CLOUD_NAME", &cfg.Blob.CloudName)
	setStr("QIS_BLOB_API_KEY", &cfg.Blob.APIKey)
	setStr("QIS_BLOB_API_SECRET", &cfg.Blob.APISecret)
	setStr("QIS_NATS_URL", &cfg.NATS.URL)
}
