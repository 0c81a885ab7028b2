// Package config loads and validates regscope configuration.
//
// Configuration is layered:
//  1. Built-in defaults
//  2. YAML file (regscope.yaml)
//  3. Environment variables (REGSCOPE_*, plus service credentials)
//
// A .env file in the working directory is loaded first, so local
// development credentials never need to be exported by hand.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/regscope/regscope/internal/errors"
)

// DefaultConfigFile is the config filename looked up in the working directory.
const DefaultConfigFile = "regscope.yaml"

// Config is the complete regscope configuration.
type Config struct {
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	LLM         LLMConfig         `yaml:"llm"`
	Geocoder    GeocoderConfig    `yaml:"geocoder"`
	Renderer    RendererConfig    `yaml:"renderer"`
	AppDB       AppDBConfig       `yaml:"app_db"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	LogLevel    string            `yaml:"log_level"`
	LogFile     string            `yaml:"log_file"`
}

// ObjectStoreConfig configures the S3-compatible object store.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"` // custom endpoint; empty uses AWS default
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"-"` // env only
	SecretKey string `yaml:"-"` // env only
}

// VectorIndexConfig configures the vector index.
type VectorIndexConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Name      string `yaml:"name"`
	Dimension int    `yaml:"dimension"`
	APIKey    string `yaml:"-"` // env only
}

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	Endpoint string `yaml:"endpoint"` // empty uses the provider default
	Model    string `yaml:"model"`
	// HardTokenLimit is the service's hard per-input limit; texts over
	// this are rejected before any request is made.
	HardTokenLimit int    `yaml:"hard_token_limit"`
	BatchSize      int    `yaml:"batch_size"`
	APIKey         string `yaml:"-"` // env only
}

// LLMConfig configures the answer-generation model.
type LLMConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	APIKey    string `yaml:"-"` // env only
}

// GeocoderConfig configures the address geocoder.
type GeocoderConfig struct {
	Endpoint  string `yaml:"endpoint"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// RendererConfig configures the HTML-to-Markdown rendering service.
type RendererConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"-"` // env only
}

// AppDBConfig configures the application database (Postgres).
type AppDBConfig struct {
	URL string `yaml:"-"` // env only (contains credentials)
}

// IngestionConfig tunes the ingestion pipelines.
type IngestionConfig struct {
	// EnabledSources lists the source families to ingest:
	// federal, state, county, municipal.
	EnabledSources []string `yaml:"enabled_sources"`

	// FederalTitles lists the CFR titles to ingest.
	FederalTitles []int `yaml:"federal_titles"`

	// StatuteCodes lists the Texas statute code abbreviations (e.g., PE, HS).
	StatuteCodes []string `yaml:"statute_codes"`

	// TACTitles lists the Texas Administrative Code titles.
	TACTitles []int `yaml:"tac_titles"`

	PerHostDelayMS  int     `yaml:"per_host_delay_ms"`
	UpsertBatchSize int     `yaml:"upsert_batch_size"`
	MaxChunkTokens  int     `yaml:"max_chunk_tokens"`
	OverlapRatio    float64 `yaml:"overlap_ratio"`
}

// RetrievalConfig tunes the retrieval pipeline.
type RetrievalConfig struct {
	TopK              int     `yaml:"top_k"`
	FinalTopK         int     `yaml:"final_top_k"`
	MinRetrievalScore float64 `yaml:"min_retrieval_score"`
	RecencyWeight     float64 `yaml:"recency_weight"`
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		ObjectStore: ObjectStoreConfig{Region: "us-east-1", Bucket: "regscope-corpus"},
		VectorIndex: VectorIndexConfig{Name: "regulations", Dimension: 1536},
		Embedding: EmbeddingConfig{
			Model:          "text-embedding-3-small",
			HardTokenLimit: 8191,
			BatchSize:      64,
		},
		LLM:      LLMConfig{Model: "claude-sonnet-4-20250514", MaxTokens: 4096},
		Geocoder: GeocoderConfig{Endpoint: "https://geocoding.geo.census.gov/geocoder", TimeoutMS: 5000},
		Renderer: RendererConfig{},
		Ingestion: IngestionConfig{
			EnabledSources:  []string{"federal", "state", "county", "municipal"},
			FederalTitles:   []int{21},
			StatuteCodes:    []string{"PE", "HS", "AL", "BC"},
			TACTitles:       []int{16, 25},
			PerHostDelayMS:  200,
			UpsertBatchSize: 100,
			MaxChunkTokens:  1500,
			OverlapRatio:    0.15,
		},
		Retrieval: RetrievalConfig{
			TopK:              50,
			FinalTopK:         12,
			MinRetrievalScore: 0.5,
			RecencyWeight:     0.2,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from path (or DefaultConfigFile when empty),
// applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	// Best-effort .env; absence is normal outside development.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("parse %s", path), err)
		}
	case os.IsNotExist(err):
		// Defaults + env only.
	default:
		return nil, errors.ConfigError(fmt.Sprintf("read %s", path), err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML. An existing file is
// first copied to path + ".bak" so a bad edit can be rolled back.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigFile
	}
	if prev, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", prev, 0o644); err != nil {
			return errors.ConfigError(fmt.Sprintf("back up %s", path), err)
		}
	} else if !os.IsNotExist(err) {
		return errors.ConfigError(fmt.Sprintf("read %s", path), err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.ConfigError("encode config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.ConfigError(fmt.Sprintf("write %s", path), err)
	}
	return nil
}

// applyEnv layers environment variables over the loaded values.
func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr(&c.ObjectStore.Endpoint, "REGSCOPE_S3_ENDPOINT")
	setStr(&c.ObjectStore.Bucket, "REGSCOPE_S3_BUCKET")
	setStr(&c.ObjectStore.Region, "AWS_REGION")
	setStr(&c.ObjectStore.AccessKey, "AWS_ACCESS_KEY_ID")
	setStr(&c.ObjectStore.SecretKey, "AWS_SECRET_ACCESS_KEY")

	setStr(&c.VectorIndex.Endpoint, "REGSCOPE_VECTOR_ENDPOINT")
	setStr(&c.VectorIndex.Name, "REGSCOPE_VECTOR_INDEX")
	setInt(&c.VectorIndex.Dimension, "REGSCOPE_VECTOR_DIMENSION")
	setStr(&c.VectorIndex.APIKey, "VECTOR_INDEX_API_KEY")

	setStr(&c.Embedding.Endpoint, "REGSCOPE_EMBEDDING_ENDPOINT")
	setStr(&c.Embedding.Model, "REGSCOPE_EMBEDDING_MODEL")
	setStr(&c.Embedding.APIKey, "OPENAI_API_KEY")

	setStr(&c.LLM.Model, "REGSCOPE_LLM_MODEL")
	setStr(&c.LLM.APIKey, "ANTHROPIC_API_KEY")

	setStr(&c.Geocoder.Endpoint, "REGSCOPE_GEOCODER_ENDPOINT")
	setStr(&c.Renderer.Endpoint, "REGSCOPE_RENDERER_ENDPOINT")
	setStr(&c.Renderer.APIKey, "RENDERER_API_KEY")

	setStr(&c.AppDB.URL, "DATABASE_URL")

	setStr(&c.LogLevel, "REGSCOPE_LOG_LEVEL")
	setStr(&c.LogFile, "REGSCOPE_LOG_FILE")
}

// Validate checks invariants that would otherwise surface deep inside a
// pipeline run. Credential presence is checked separately per command,
// since validate-only commands need no LLM key.
func (c *Config) Validate() error {
	if c.VectorIndex.Dimension <= 0 {
		return errors.ConfigError("vector_index.dimension must be positive", nil)
	}
	if c.Ingestion.MaxChunkTokens <= 0 {
		return errors.ConfigError("ingestion.max_chunk_tokens must be positive", nil)
	}
	if c.Ingestion.OverlapRatio < 0 || c.Ingestion.OverlapRatio >= 1 {
		return errors.ConfigError("ingestion.overlap_ratio must be in [0, 1)", nil)
	}
	if c.Embedding.BatchSize <= 0 || c.Embedding.BatchSize > 256 {
		return errors.ConfigError("embedding.batch_size must be in 1..256", nil)
	}
	if c.Retrieval.TopK <= 0 || c.Retrieval.FinalTopK <= 0 {
		return errors.ConfigError("retrieval top_k values must be positive", nil)
	}
	if c.Retrieval.FinalTopK > c.Retrieval.TopK {
		return errors.ConfigError("retrieval.final_top_k must not exceed top_k", nil)
	}
	for _, s := range c.Ingestion.EnabledSources {
		switch s {
		case "federal", "state", "county", "municipal":
		default:
			return errors.ConfigError(fmt.Sprintf("unknown source family %q", s), nil)
		}
	}
	return nil
}

// RequireIngestCredentials checks the credentials an ingestion run needs.
func (c *Config) RequireIngestCredentials() error {
	var missing []string
	if c.Embedding.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.VectorIndex.APIKey == "" {
		missing = append(missing, "VECTOR_INDEX_API_KEY")
	}
	if c.ObjectStore.Bucket == "" {
		missing = append(missing, "REGSCOPE_S3_BUCKET")
	}
	return c.missingErr(missing)
}

// RequireQueryCredentials checks the credentials a query needs.
func (c *Config) RequireQueryCredentials() error {
	var missing []string
	if c.Embedding.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.VectorIndex.APIKey == "" {
		missing = append(missing, "VECTOR_INDEX_API_KEY")
	}
	if c.LLM.APIKey == "" {
		missing = append(missing, "ANTHROPIC_API_KEY")
	}
	if c.AppDB.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	return c.missingErr(missing)
}

func (c *Config) missingErr(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return errors.ConfigError("missing required credentials: "+strings.Join(missing, ", "), nil)
}

// SourceEnabled reports whether a source family is enabled.
func (c *Config) SourceEnabled(family string) bool {
	for _, s := range c.Ingestion.EnabledSources {
		if s == family {
			return true
		}
	}
	return false
}
