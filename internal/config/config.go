package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port          int                 `json:"port"`
	TempDir       string              `json:"temp_dir"`
	MaxUploadMB   int64               `json:"max_upload_mb"`
	CORSOrigins   []string            `json:"cors_origins"`
	LogConfig     logger.LogConfig    `json:"log_config"`
	AI            AIConfig            `json:"ai"`
	Embedding     EmbeddingConfig     `json:"embedding"`
	Chunk         ChunkConfig         `json:"chunk"`
	Index         IndexConfig         `json:"index"`
	Retrieval     RetrievalConfig     `json:"retrieval"`
	VectorStore   VectorStoreConfig   `json:"vector_store"`
	Transcription TranscriptionConfig `json:"transcription"`
	YouTube       YouTubeConfig       `json:"youtube"`
	Session       SessionConfig       `json:"session"`
	Archive       FileStoreConfig     `json:"archive"`
}

type AIConfig struct {
	Providers     []ProviderConfig `json:"providers"`
	Generators    []ModelRef       `json:"generators"`
	Embedders     []ModelRef       `json:"embedders"`
	Timeout       int              `json:"timeout"`
	MaxInputChars int              `json:"max_input_chars"`
	CacheSize     int              `json:"cache_size"`
	CacheTTLMins  int              `json:"cache_ttl_minutes"`
}

// ProviderConfig names one provider instance. Data is passed to the
// provider factory untouched.
type ProviderConfig struct {
	Name string      `json:"name"`
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type EmbeddingConfig struct {
	Dimension         int     `json:"dimension"`
	BatchSize         int     `json:"batch_size"`
	Workers           int     `json:"workers"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
	CacheSize         int     `json:"cache_size"`
	CacheTTLMinutes   int     `json:"cache_ttl_minutes"`
}

type ChunkConfig struct {
	Chars int `json:"chars"`
}

type IndexConfig struct {
	InsertBatchSize int `json:"insert_batch_size"`
}

type RetrievalConfig struct {
	TopK            int  `json:"top_k"`
	ExcludeDegraded bool `json:"exclude_degraded"`
}

type VectorStoreConfig struct {
	Type       string         `json:"type"`
	SQLitePath string         `json:"sqlite_path"`
	Database   DatabaseConfig `json:"database"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type TranscriptionConfig struct {
	APIKey              string `json:"api_key"`
	BaseURL             string `json:"base_url"`
	SpeechModel         string `json:"speech_model"`
	PollAttempts        int    `json:"poll_attempts"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	Timestamps          bool   `json:"timestamps"`
}

type YouTubeConfig struct {
	APIKey    string   `json:"api_key"`
	Languages []string `json:"languages"`
}

type SessionConfig struct {
	MaxIdleMinutes int    `json:"max_idle_minutes"`
	ExpiryCron     string `json:"expiry_cron"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	defaultGenerateModel = "gemini-2.0-flash"
	defaultEmbedModel    = "text-embedding-004"
)

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		raw, err = yamlToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// yamlToJSON lets one set of json tags serve both formats.
func yamlToJSON(raw []byte) ([]byte, error) {
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	if tree == nil {
		tree = map[string]interface{}{}
	}
	return json.Marshal(tree)
}

func (c *Config) applyEnv() {
	if c.Transcription.APIKey == "" {
		c.Transcription.APIKey = os.Getenv("ASSEMBLYAI_API_KEY")
	}
	if c.YouTube.APIKey == "" {
		c.YouTube.APIKey = os.Getenv("YOUTUBE_API_KEY")
	}
	envKeys := map[string]string{
		"gemini": os.Getenv("GEMINI_API_KEY"),
		"openai": os.Getenv("OPENAI_API_KEY"),
	}
	for i := range c.AI.Providers {
		p := &c.AI.Providers[i]
		key := envKeys[strings.ToLower(p.Type)]
		if key == "" {
			continue
		}
		data, ok := p.Data.(map[string]interface{})
		if !ok {
			if p.Data != nil {
				continue
			}
			data = map[string]interface{}{}
		}
		if v, _ := data["api_key"].(string); v == "" {
			data["api_key"] = key
		}
		p.Data = data
	}
	if len(c.AI.Providers) == 0 && envKeys["gemini"] != "" {
		c.AI.Providers = []ProviderConfig{{
			Name: "gemini",
			Type: "gemini",
			Data: map[string]interface{}{"api_key": envKeys["gemini"]},
		}}
		if len(c.AI.Generators) == 0 {
			c.AI.Generators = []ModelRef{{Provider: "gemini", Model: defaultGenerateModel}}
		}
		if len(c.AI.Embedders) == 0 {
			c.AI.Embedders = []ModelRef{{Provider: "gemini", Model: defaultEmbedModel}}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), "rag_sessions")
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = 100
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = 120
	}
	if c.AI.MaxInputChars <= 0 {
		c.AI.MaxInputChars = 200000
	}
	if c.AI.CacheSize <= 0 {
		c.AI.CacheSize = 1000
	}
	if c.AI.CacheTTLMins <= 0 {
		c.AI.CacheTTLMins = 120
	}
	if c.Embedding.Dimension <= 0 {
		c.Embedding.Dimension = 768
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 32
	}
	if c.Embedding.Workers <= 0 {
		c.Embedding.Workers = 10
	}
	if c.Embedding.TimeoutSeconds <= 0 {
		c.Embedding.TimeoutSeconds = 60
	}
	if c.Embedding.RequestsPerSecond > 0 && c.Embedding.Burst <= 0 {
		c.Embedding.Burst = c.Embedding.Workers
	}
	if c.Embedding.CacheSize < 0 {
		c.Embedding.CacheSize = 0
	}
	if c.Embedding.CacheTTLMinutes <= 0 {
		c.Embedding.CacheTTLMinutes = 60
	}
	if c.Chunk.Chars <= 0 {
		c.Chunk.Chars = 800
	}
	if c.Index.InsertBatchSize <= 0 {
		c.Index.InsertBatchSize = 256
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 5
	}
	if c.VectorStore.Type == "" {
		c.VectorStore.Type = "memory"
	}
	if c.VectorStore.Database.Driver == "" {
		c.VectorStore.Database.Driver = "postgres"
	}
	if c.Transcription.BaseURL == "" {
		c.Transcription.BaseURL = "https://api.assemblyai.com"
	}
	if c.Transcription.SpeechModel == "" {
		c.Transcription.SpeechModel = "universal"
	}
	if c.Transcription.PollAttempts <= 0 {
		c.Transcription.PollAttempts = 30
	}
	if c.Transcription.PollIntervalSeconds <= 0 {
		c.Transcription.PollIntervalSeconds = 3
	}
	if len(c.YouTube.Languages) == 0 {
		c.YouTube.Languages = []string{"en"}
	}
	if c.Session.MaxIdleMinutes < 0 {
		c.Session.MaxIdleMinutes = 0
	}
	if c.Session.ExpiryCron == "" {
		c.Session.ExpiryCron = "*/10 * * * *"
	}
}

func (c *Config) Validate() error {
	switch c.VectorStore.Type {
	case "memory":
	case "sqlite":
		if c.VectorStore.SQLitePath == "" {
			return fmt.Errorf("vector_store.sqlite_path is required for sqlite store")
		}
	case "postgres":
		db := c.VectorStore.Database
		if db.DSN == "" && (db.Host == "" || db.DBName == "") {
			return fmt.Errorf("vector_store.database dsn or host/dbname is required for postgres store")
		}
		if db.Driver != "postgres" && db.Driver != "pgx" {
			return fmt.Errorf("vector_store.database.driver must be postgres or pgx")
		}
	default:
		return fmt.Errorf("vector_store.type must be memory, sqlite or postgres")
	}
	names := make(map[string]struct{}, len(c.AI.Providers))
	for _, p := range c.AI.Providers {
		if p.Name == "" || p.Type == "" {
			return fmt.Errorf("ai.providers entries need name and type")
		}
		if _, ok := names[p.Name]; ok {
			return fmt.Errorf("duplicate ai provider name: %s", p.Name)
		}
		names[p.Name] = struct{}{}
	}
	for _, ref := range append(append([]ModelRef{}, c.AI.Generators...), c.AI.Embedders...) {
		if _, ok := names[ref.Provider]; !ok {
			return fmt.Errorf("ai model %q references unknown provider %q", ref.Model, ref.Provider)
		}
		if ref.Model == "" {
			return fmt.Errorf("ai model for provider %q is empty", ref.Provider)
		}
	}
	switch c.Archive.Type {
	case "", "local", "s3":
	default:
		return fmt.Errorf("archive.type must be empty, local or s3")
	}
	return nil
}
