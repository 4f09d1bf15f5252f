package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig   BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Databases     map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis         RedisConfig               `json:"redis" yaml:"redis"`
	Providers     map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Generator     GeneratorConfig           `json:"generator" yaml:"generator"`
	Embedding     EmbeddingConfig           `json:"embedding" yaml:"embedding"`
	VectorStore   VectorStoreConfig         `json:"vector_store" yaml:"vector_store"`
	Ingestion     IngestionConfig           `json:"ingestion" yaml:"ingestion"`
	Retrieval     RetrievalConfig           `json:"retrieval" yaml:"retrieval"`
	Observability ObservabilityConfig       `json:"observability" yaml:"observability"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address" yaml:"server_address"`
	LogMode           string `json:"log_mode" yaml:"log_mode"`
	Database          string `json:"database" yaml:"database"`
	FileBaseDir       string `json:"file_base_dir" yaml:"file_base_dir"`
	MinWorkers        int    `json:"min_workers" yaml:"min_workers"`
	MaxWorkers        int    `json:"max_workers" yaml:"max_workers"`
	QueueSize         int    `json:"queue_size" yaml:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout" yaml:"worker_idle_timeout"` // minutes
	FileRetention     int    `json:"file_retention" yaml:"file_retention"`           // minutes
	CleanInterval     int    `json:"clean_interval" yaml:"clean_interval"`           // minutes
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

// GeneratorConfig selects the chat model used for answers.
type GeneratorConfig struct {
	Provider       string  `json:"provider" yaml:"provider"`
	Model          string  `json:"model" yaml:"model"`
	Temperature    float32 `json:"temperature" yaml:"temperature"`
	MaxTokens      int     `json:"max_tokens" yaml:"max_tokens"`
	TimeoutSeconds int     `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type EmbeddingConfig struct {
	Provider       string `json:"provider" yaml:"provider"` // local | openai | compatible
	Model          string `json:"model" yaml:"model"`
	BaseURL        string `json:"base_url" yaml:"base_url"`
	APIKey         string `json:"api_key" yaml:"api_key"`
	Dimensions     int    `json:"dimensions" yaml:"dimensions"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type VectorStoreConfig struct {
	Type     string         `json:"type" yaml:"type"` // pinecone | qdrant | memory
	Pinecone PineconeConfig `json:"pinecone" yaml:"pinecone"`
	Qdrant   QdrantConfig   `json:"qdrant" yaml:"qdrant"`
}

type PineconeConfig struct {
	APIKey     string `json:"api_key" yaml:"api_key"`
	IndexName  string `json:"index_name" yaml:"index_name"`
	Host       string `json:"host" yaml:"host"`
	Namespace  string `json:"namespace" yaml:"namespace"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
	APIVersion string `json:"api_version" yaml:"api_version"`
}

type QdrantConfig struct {
	URL              string `json:"url" yaml:"url"`
	APIKey           string `json:"api_key" yaml:"api_key"`
	Collection       string `json:"collection" yaml:"collection"`
	CreateCollection bool   `json:"create_collection" yaml:"create_collection"`
}

type IngestionConfig struct {
	ChunkSize          int      `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap       int      `json:"chunk_overlap" yaml:"chunk_overlap"`
	BatchSize          int      `json:"batch_size" yaml:"batch_size"`
	BatchPauseMillis   int      `json:"batch_pause_ms" yaml:"batch_pause_ms"`
	MaxRetries         int      `json:"max_retries" yaml:"max_retries"`
	RetryBackoffMillis int      `json:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	CallTimeoutSeconds int      `json:"call_timeout_seconds" yaml:"call_timeout_seconds"`
	MaxUploadBytes     int64    `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	AllowedTypes       []string `json:"allowed_types" yaml:"allowed_types"`
}

type RetrievalConfig struct {
	CandidatePool     int     `json:"candidate_pool" yaml:"candidate_pool"`
	MaxResults        int     `json:"max_results" yaml:"max_results"`
	MaxCharsPerResult int     `json:"max_chars_per_result" yaml:"max_chars_per_result"`
	RelevanceFloor    float64 `json:"relevance_floor" yaml:"relevance_floor"`
}

type ObservabilityConfig struct {
	ServiceName string `json:"service_name" yaml:"service_name"`
	Environment string `json:"environment" yaml:"environment"`
}

// Load reads configuration from the provided path (defaults to config.yaml).
// Files ending in .json are decoded as JSON, everything else as YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	cfg.presetTunables()
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".json":
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	cfg.resolvePaths(filepath.Dir(absPath))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration usable without a file: sqlite storage,
// in-memory vectors and local embeddings.
func Default() *Config {
	cfg := &Config{}
	cfg.presetTunables()
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	return cfg
}

// presetTunables seeds the settings for which zero is a meaningful value.
// It runs before decoding so only keys present in the file override them.
func (c *Config) presetTunables() {
	c.Ingestion.ChunkOverlap = 200
	c.Ingestion.BatchPauseMillis = 500
	c.Ingestion.MaxRetries = 2
	c.Retrieval.RelevanceFloor = 0.5
}

// ApplyEnv overrides secrets and the database driver from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("EDURAG_DB")); v != "" {
		c.BasicConfig.Database = v
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	for name, env := range map[string]string{
		"deepseek": "DEEPSEEK_API_KEY",
		"openai":   "OPENAI_API_KEY",
		"claude":   "ANTHROPIC_API_KEY",
		"gemini":   "GEMINI_API_KEY",
	} {
		key := strings.TrimSpace(os.Getenv(env))
		if key == "" {
			continue
		}
		p := c.Providers[name]
		if p.APIKey == "" {
			p.APIKey = key
		}
		c.Providers[name] = p
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if c.VectorStore.Pinecone.APIKey == "" {
		c.VectorStore.Pinecone.APIKey = strings.TrimSpace(os.Getenv("PINECONE_API_KEY"))
	}
	if c.VectorStore.Pinecone.IndexName == "" {
		c.VectorStore.Pinecone.IndexName = strings.TrimSpace(os.Getenv("PINECONE_INDEX_NAME"))
	}
	if c.VectorStore.Pinecone.Host == "" {
		c.VectorStore.Pinecone.Host = strings.TrimSpace(os.Getenv("PINECONE_HOST"))
	}
	if c.VectorStore.Qdrant.APIKey == "" {
		c.VectorStore.Qdrant.APIKey = strings.TrimSpace(os.Getenv("QDRANT_API_KEY"))
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.LogMode == "" {
		b.LogMode = "dev"
	}
	if b.Database == "" {
		b.Database = "sqlite3"
	}
	if b.FileBaseDir == "" {
		b.FileBaseDir = "./data/uploads"
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 1
	}
	if b.MaxWorkers <= 0 {
		b.MaxWorkers = 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.FileRetention <= 0 {
		b.FileRetention = 24 * 60
	}
	if b.CleanInterval <= 0 {
		b.CleanInterval = 60
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	for _, name := range []string{"sqlite3", "sqlite"} {
		if _, ok := c.Databases[name]; !ok {
			c.Databases[name] = DatabaseConfig{DSN: "./data/edurag.db"}
		}
	}

	g := &c.Generator
	if g.Provider == "" {
		g.Provider = "deepseek"
	}
	if g.Temperature == 0 {
		g.Temperature = 0.7
	}
	if g.MaxTokens <= 0 {
		g.MaxTokens = 2000
	}
	if g.TimeoutSeconds <= 0 {
		g.TimeoutSeconds = 30
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if p, ok := c.Providers["deepseek"]; !ok || p.BaseURL == "" || p.Model == "" {
		if p.BaseURL == "" {
			p.BaseURL = "https://api.deepseek.com/v1"
		}
		if p.Model == "" {
			p.Model = "deepseek-chat"
		}
		c.Providers["deepseek"] = p
	}

	e := &c.Embedding
	if e.Provider == "" {
		e.Provider = "local"
	}
	if e.Model == "" && e.Provider == "openai" {
		e.Model = "text-embedding-ada-002"
	}
	if e.Dimensions <= 0 {
		if e.Provider == "openai" {
			e.Dimensions = 1536
		} else {
			e.Dimensions = 384
		}
	}
	if e.TimeoutSeconds <= 0 {
		e.TimeoutSeconds = 30
	}

	v := &c.VectorStore
	if v.Type == "" {
		v.Type = "memory"
	}
	if v.Pinecone.IndexName == "" {
		v.Pinecone.IndexName = "educational-docs"
	}
	if v.Qdrant.URL == "" {
		v.Qdrant.URL = "http://localhost:6333"
	}
	if v.Qdrant.Collection == "" {
		v.Qdrant.Collection = "educational-docs"
	}

	in := &c.Ingestion
	if in.ChunkSize <= 0 {
		in.ChunkSize = 1000
	}
	if in.BatchSize <= 0 {
		in.BatchSize = 5
	}
	if in.RetryBackoffMillis <= 0 {
		in.RetryBackoffMillis = 2000
	}
	if in.CallTimeoutSeconds <= 0 {
		in.CallTimeoutSeconds = 30
	}
	if in.MaxUploadBytes <= 0 {
		in.MaxUploadBytes = 10 << 20
	}
	if len(in.AllowedTypes) == 0 {
		in.AllowedTypes = []string{"pdf", "docx", "doc", "txt", "csv", "xlsx"}
	}

	r := &c.Retrieval
	if r.CandidatePool <= 0 {
		r.CandidatePool = 5
	}
	if r.MaxResults <= 0 {
		r.MaxResults = 3
	}
	if r.MaxCharsPerResult <= 0 {
		r.MaxCharsPerResult = 300
	}

	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "edurag"
	}
}

// Validate reports configuration errors that would otherwise surface late.
func (c *Config) Validate() error {
	in := c.Ingestion
	if in.ChunkOverlap < 0 {
		return fmt.Errorf("ingestion.chunk_overlap (%d) must not be negative", in.ChunkOverlap)
	}
	if in.BatchPauseMillis < 0 || in.MaxRetries < 0 {
		return fmt.Errorf("ingestion.batch_pause_ms and ingestion.max_retries must not be negative")
	}
	if in.ChunkOverlap >= in.ChunkSize {
		return fmt.Errorf("ingestion.chunk_overlap (%d) must be smaller than chunk_size (%d)", in.ChunkOverlap, in.ChunkSize)
	}
	if c.Retrieval.RelevanceFloor < 0 || c.Retrieval.RelevanceFloor > 1 {
		return fmt.Errorf("retrieval.relevance_floor must be within [0,1]")
	}
	switch strings.ToLower(c.VectorStore.Type) {
	case "memory", "pinecone", "qdrant":
	default:
		return fmt.Errorf("unsupported vector_store.type: %s", c.VectorStore.Type)
	}
	switch strings.ToLower(c.Embedding.Provider) {
	case "local", "openai":
	case "compatible":
		if c.Embedding.BaseURL == "" {
			return fmt.Errorf("embedding.base_url is required for the compatible provider")
		}
	default:
		return fmt.Errorf("unsupported embedding.provider: %s", c.Embedding.Provider)
	}
	if _, ok := c.Databases[c.BasicConfig.Database]; !ok {
		return fmt.Errorf("database config for %s not found", c.BasicConfig.Database)
	}
	return nil
}

func (c *Config) resolvePaths(baseDir string) {
	if c.BasicConfig.FileBaseDir != "" && !filepath.IsAbs(c.BasicConfig.FileBaseDir) {
		c.BasicConfig.FileBaseDir = filepath.Join(baseDir, c.BasicConfig.FileBaseDir)
	}
	for name, db := range c.Databases {
		if !strings.HasPrefix(name, "sqlite") || db.DSN == "" {
			continue
		}
		if strings.Contains(db.DSN, ":memory:") || strings.HasPrefix(db.DSN, "file:") || filepath.IsAbs(db.DSN) {
			continue
		}
		db.DSN = filepath.Join(baseDir, db.DSN)
		c.Databases[name] = db
	}
}
