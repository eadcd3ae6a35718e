package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rankfuse/rankfuse/internal/meta"
)

// Config represents the complete RankFuse configuration.
type Config struct {
	Version    int               `yaml:"version" json:"version"`
	Storage    StorageConfig     `yaml:"storage" json:"storage"`
	Search     SearchConfig      `yaml:"search" json:"search"`
	Index      IndexConfig       `yaml:"index" json:"index"`
	Embeddings EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Cache      CacheConfig       `yaml:"cache" json:"cache"`
	Logging    LoggingConfig     `yaml:"logging" json:"logging"`
	Schema     map[string]string `yaml:"schema" json:"schema"`
}

// StorageConfig configures where durable state lives.
type StorageConfig struct {
	// DataDir holds the document database and index snapshots.
	// Defaults to ~/.rankfuse/data.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// SearchConfig configures retrieval and fusion parameters.
// All of these are tunable via:
//  1. User config (~/.config/rankfuse/config.yaml) - personal defaults
//  2. Project config (.rankfuse.yaml) - per-corpus tuning
//  3. Env vars (RANKFUSE_RRF_CONSTANT, RANKFUSE_MAX_RESULTS, ...) - highest priority
type SearchConfig struct {
	// RRFConstant is the fusion smoothing parameter (k).
	// Default: 60. Higher values reduce the impact of rank differences.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// FusionHeadroom is the per-source over-fetch multiplier applied
	// before fusion. Default: 4.
	FusionHeadroom int `yaml:"fusion_headroom" json:"fusion_headroom"`

	// MaxResults is the default result count when a query does not
	// specify one. Default: 10.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// MMRLambda balances relevance against diversity when
	// diversification is requested. Range 0.0-1.0, default 0.7.
	MMRLambda float64 `yaml:"mmr_lambda" json:"mmr_lambda"`

	// SimilarityThreshold is the minimum cosine similarity for a
	// cached response to be reused for a near-duplicate query.
	// 0 disables similarity reuse. Default: 0.95.
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`

	RetrievalTimeout string `yaml:"retrieval_timeout" json:"retrieval_timeout"`
	RerankTimeout    string `yaml:"rerank_timeout" json:"rerank_timeout"`

	// Synonyms maps a query term to its alternatives for query
	// expansion. Empty means expansion is unavailable.
	Synonyms map[string][]string `yaml:"synonyms,omitempty" json:"synonyms,omitempty"`
}

// IndexConfig configures the lexical and vector index internals.
type IndexConfig struct {
	// BM25K1 controls term-frequency saturation. Default: 1.2.
	BM25K1 float64 `yaml:"bm25_k1" json:"bm25_k1"`
	// BM25B controls document-length normalization. Default: 0.75.
	BM25B float64 `yaml:"bm25_b" json:"bm25_b"`
	// HNSWM is the graph connectivity parameter. Default: 16.
	HNSWM int `yaml:"hnsw_m" json:"hnsw_m"`
	// HNSWEfSearch is the search-time beam width. Default: 64.
	HNSWEfSearch int `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "ollama" or "static".
	// Empty triggers auto-detection: Ollama if reachable, else static.
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"` // 0 = auto-detect
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`

	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	Timeout string `yaml:"timeout" json:"timeout"`
}

// CacheConfig configures the embedding and query response caches.
type CacheConfig struct {
	EmbeddingSize int    `yaml:"embedding_size" json:"embedding_size"`
	EmbeddingTTL  string `yaml:"embedding_ttl" json:"embedding_ttl"`
	QuerySize     int    `yaml:"query_size" json:"query_size"`
	QueryTTL      string `yaml:"query_ttl" json:"query_ttl"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "text" or "json"
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Search: SearchConfig{
			// k=60 is the original RRF paper constant and the industry
			// default (Azure AI Search, OpenSearch)
			RRFConstant:         60,
			FusionHeadroom:      4,
			MaxResults:          10,
			MMRLambda:           0.7,
			SimilarityThreshold: 0.95,
			RetrievalTimeout:    "2s",
			RerankTimeout:       "5s",
		},
		Index: IndexConfig{
			BM25K1:       1.2,
			BM25B:        0.75,
			HNSWM:        16,
			HNSWEfSearch: 64,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "", // Empty triggers auto-detection: Ollama -> Static
			Model:      "nomic-embed-text",
			Dimensions: 0, // Auto-detect from embedder
			BatchSize:  32,
			MaxRetries: 3,
			OllamaHost: "", // Empty uses default http://localhost:11434
			Timeout:    "60s",
		},
		Cache: CacheConfig{
			EmbeddingSize: 10000,
			EmbeddingTTL:  "24h",
			QuerySize:     1000,
			QueryTTL:      "5m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Schema: nil,
	}
}

// defaultDataDir returns the default durable storage path.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".rankfuse", "data")
	}
	return filepath.Join(home, ".rankfuse", "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/rankfuse/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/rankfuse/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rankfuse", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "rankfuse", "config.yaml")
	}
	return filepath.Join(home, ".config", "rankfuse", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration for the specified project directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/rankfuse/config.yaml)
//  3. Project config (.rankfuse.yaml in project root)
//  4. Environment variables (RANKFUSE_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .rankfuse.yaml or .rankfuse.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".rankfuse.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".rankfuse.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Storage.DataDir != "" {
		c.Storage.DataDir = other.Storage.DataDir
	}

	// Search tuning
	// Note: 0 is not a practical value for any of these, so we only
	// merge non-zero values
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.FusionHeadroom != 0 {
		c.Search.FusionHeadroom = other.Search.FusionHeadroom
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.MMRLambda != 0 {
		c.Search.MMRLambda = other.Search.MMRLambda
	}
	if other.Search.SimilarityThreshold != 0 {
		c.Search.SimilarityThreshold = other.Search.SimilarityThreshold
	}
	if other.Search.RetrievalTimeout != "" {
		c.Search.RetrievalTimeout = other.Search.RetrievalTimeout
	}
	if other.Search.RerankTimeout != "" {
		c.Search.RerankTimeout = other.Search.RerankTimeout
	}
	if len(other.Search.Synonyms) > 0 {
		c.Search.Synonyms = other.Search.Synonyms
	}

	// Index tuning
	if other.Index.BM25K1 != 0 {
		c.Index.BM25K1 = other.Index.BM25K1
	}
	if other.Index.BM25B != 0 {
		c.Index.BM25B = other.Index.BM25B
	}
	if other.Index.HNSWM != 0 {
		c.Index.HNSWM = other.Index.HNSWM
	}
	if other.Index.HNSWEfSearch != 0 {
		c.Index.HNSWEfSearch = other.Index.HNSWEfSearch
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.MaxRetries != 0 {
		c.Embeddings.MaxRetries = other.Embeddings.MaxRetries
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.Timeout != "" {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}

	// Caches
	if other.Cache.EmbeddingSize != 0 {
		c.Cache.EmbeddingSize = other.Cache.EmbeddingSize
	}
	if other.Cache.EmbeddingTTL != "" {
		c.Cache.EmbeddingTTL = other.Cache.EmbeddingTTL
	}
	if other.Cache.QuerySize != 0 {
		c.Cache.QuerySize = other.Cache.QuerySize
	}
	if other.Cache.QueryTTL != "" {
		c.Cache.QueryTTL = other.Cache.QueryTTL
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Format != "" {
		c.Logging.Format = other.Logging.Format
	}

	// Schema: replace wholesale, partial merges would be surprising
	if len(other.Schema) > 0 {
		c.Schema = other.Schema
	}
}

// applyEnvOverrides applies RANKFUSE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RANKFUSE_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}

	if v := os.Getenv("RANKFUSE_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("RANKFUSE_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxResults = n
		}
	}
	if v := os.Getenv("RANKFUSE_MMR_LAMBDA"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 && f <= 1 {
			c.Search.MMRLambda = f
		}
	}
	if v := os.Getenv("RANKFUSE_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 && f <= 1 {
			c.Search.SimilarityThreshold = f
		}
	}

	if v := os.Getenv("RANKFUSE_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	// RANKFUSE_EMBEDDER is an alias for RANKFUSE_EMBEDDINGS_PROVIDER
	if v := os.Getenv("RANKFUSE_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("RANKFUSE_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("RANKFUSE_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}

	if v := os.Getenv("RANKFUSE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RANKFUSE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// FindProjectRoot finds the project root directory. It looks for a .git
// directory or a .rankfuse.yaml/.yml file by walking up the tree.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".rankfuse.yaml")) ||
			fileExists(filepath.Join(currentDir, ".rankfuse.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached root, return original directory
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.RRFConstant < 1 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.FusionHeadroom < 1 {
		return fmt.Errorf("search.fusion_headroom must be positive, got %d", c.Search.FusionHeadroom)
	}
	if c.Search.MaxResults < 1 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	if c.Search.MMRLambda < 0 || c.Search.MMRLambda > 1 {
		return fmt.Errorf("search.mmr_lambda must be between 0 and 1, got %f", c.Search.MMRLambda)
	}
	if c.Search.SimilarityThreshold < 0 || c.Search.SimilarityThreshold > 1 {
		return fmt.Errorf("search.similarity_threshold must be between 0 and 1, got %f", c.Search.SimilarityThreshold)
	}
	for name, field := range map[string]string{
		"search.retrieval_timeout": c.Search.RetrievalTimeout,
		"search.rerank_timeout":    c.Search.RerankTimeout,
		"embeddings.timeout":       c.Embeddings.Timeout,
		"cache.embedding_ttl":      c.Cache.EmbeddingTTL,
		"cache.query_ttl":          c.Cache.QueryTTL,
	} {
		if field == "" {
			continue
		}
		if _, err := time.ParseDuration(field); err != nil {
			return fmt.Errorf("%s is not a valid duration: %q", name, field)
		}
	}

	if c.Index.BM25K1 <= 0 {
		return fmt.Errorf("index.bm25_k1 must be positive, got %f", c.Index.BM25K1)
	}
	if c.Index.BM25B < 0 || c.Index.BM25B > 1 {
		return fmt.Errorf("index.bm25_b must be between 0 and 1, got %f", c.Index.BM25B)
	}

	if c.Embeddings.Provider != "" { // Empty string triggers auto-detection
		validProviders := map[string]bool{"static": true, "ollama": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %s", c.Logging.Format)
	}

	if _, err := c.MetadataSchema(); err != nil {
		return err
	}

	return nil
}

// MetadataSchema converts the declared schema block into a typed schema.
// A nil or empty block yields an empty schema, which accepts no
// metadata fields.
func (c *Config) MetadataSchema() (meta.Schema, error) {
	if len(c.Schema) == 0 {
		return meta.Schema{}, nil
	}
	schema := make(meta.Schema, len(c.Schema))
	for field, typ := range c.Schema {
		ft, err := fieldTypeFromName(typ)
		if err != nil {
			return nil, fmt.Errorf("schema field %q: %w", field, err)
		}
		schema[field] = ft
	}
	return schema, nil
}

func fieldTypeFromName(name string) (meta.FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "string":
		return meta.TypeString, nil
	case "number":
		return meta.TypeNumber, nil
	case "bool", "boolean":
		return meta.TypeBool, nil
	case "string_set", "stringset", "set":
		return meta.TypeStringSet, nil
	case "timestamp", "time", "datetime":
		return meta.TypeTime, nil
	default:
		return "", fmt.Errorf("unknown metadata type %q", name)
	}
}

// Duration helpers. Validate guarantees these parse; a zero value is
// returned for empty fields so callers can apply their own defaults.

func (c *Config) RetrievalTimeout() time.Duration { return parseDur(c.Search.RetrievalTimeout) }
func (c *Config) RerankTimeout() time.Duration    { return parseDur(c.Search.RerankTimeout) }
func (c *Config) EmbeddingTimeout() time.Duration { return parseDur(c.Embeddings.Timeout) }
func (c *Config) EmbeddingTTL() time.Duration     { return parseDur(c.Cache.EmbeddingTTL) }
func (c *Config) QueryTTL() time.Duration         { return parseDur(c.Cache.QueryTTL) }

func parseDur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}
