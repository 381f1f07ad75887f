package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendChromem  = "chromem"
	BackendPGVector = "pgvector"
	BackendQdrant   = "qdrant"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	DecodingGreedy = "greedy"
	DecodingSample = "sample"

	defaultChunkOverlap = 200
)

type Config struct {
	Server       ServerConfig     `yaml:"server"`
	RAG          RAGConfig        `yaml:"rag"`
	EmbedLLM     LLMConfig        `yaml:"embed_llm"`
	InferenceLLM LLMConfig        `yaml:"inference_llm"`
	Generation   GenerationConfig `yaml:"generation"`
	Database     DatabaseConfig   `yaml:"database"`
	Qdrant       QdrantConfig     `yaml:"qdrant"`
	Log          LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ServiceName     string        `yaml:"service_name"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RAGConfig struct {
	DataDir        string `yaml:"data_dir"`
	DBDir          string `yaml:"db_dir"`
	ChunkSize      int    `yaml:"chunk_size"`
	ChunkOverlap   int    `yaml:"chunk_overlap"`
	TopK           int    `yaml:"top_k"`
	CollectionName string `yaml:"collection_name"`
	Backend        string `yaml:"backend"`
	Compress       bool   `yaml:"compress"`
	EncryptionKey  string `yaml:"encryption_key"`
	Watch          bool   `yaml:"watch"`
}

// LLMConfig describes one model endpoint. For the inference model the base URL
// and key are taken from Credentials instead.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	BaseURL           string        `yaml:"base_url"`
	Key               string        `yaml:"key"`
	Model             string        `yaml:"model"`
	BatchSize         int           `yaml:"batch_size"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

// GenerationConfig is fixed at startup and reused for every request.
type GenerationConfig struct {
	DecodingMethod    string  `yaml:"decoding_method"`
	MinNewTokens      int     `yaml:"min_new_tokens"`
	MaxNewTokens      int     `yaml:"max_new_tokens"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`
	Temperature       float64 `yaml:"temperature"`
	Stream            bool    `yaml:"stream"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type QdrantConfig struct {
	Addr      string `yaml:"addr"`
	// BatchSize caps the points sent in one upsert request.
	BatchSize int    `yaml:"batch_size"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads the YAML config at path. A missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	// zero is a valid overlap, so its default is set before decoding
	cfg := &Config{
		RAG: RAGConfig{ChunkOverlap: defaultChunkOverlap},
		Log: LogConfig{Console: true},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.RAG.Backend {
	case BackendChromem, BackendPGVector, BackendQdrant:
	default:
		return fmt.Errorf("unknown vector backend: %q", c.RAG.Backend)
	}
	switch c.EmbedLLM.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown embedding provider: %q", c.EmbedLLM.Provider)
	}
	switch c.Generation.DecodingMethod {
	case DecodingGreedy, DecodingSample:
	default:
		return fmt.Errorf("unknown decoding method: %q", c.Generation.DecodingMethod)
	}
	if c.RAG.ChunkOverlap < 0 {
		return fmt.Errorf("chunk overlap %d must not be negative", c.RAG.ChunkOverlap)
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.ServiceName == "" {
		cfg.Server.ServiceName = "quikbot"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.RAG.DataDir == "" {
		cfg.RAG.DataDir = "./data"
	}
	if cfg.RAG.DBDir == "" {
		cfg.RAG.DBDir = "./db"
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 1000
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 2
	}
	if cfg.RAG.CollectionName == "" {
		cfg.RAG.CollectionName = "pdf_collection"
	}
	if cfg.RAG.Backend == "" {
		cfg.RAG.Backend = BackendChromem
	}

	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = ProviderOllama
	}
	if cfg.EmbedLLM.BaseURL == "" && cfg.EmbedLLM.Provider == ProviderOllama {
		cfg.EmbedLLM.BaseURL = "http://localhost:11434"
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = "all-minilm"
	}
	if cfg.EmbedLLM.BatchSize == 0 {
		cfg.EmbedLLM.BatchSize = 16
	}

	if cfg.InferenceLLM.Model == "" {
		cfg.InferenceLLM.Model = "meta-llama/llama-2-13b-chat-beam"
	}
	if cfg.InferenceLLM.Timeout == 0 {
		cfg.InferenceLLM.Timeout = 60 * time.Second
	}

	if cfg.Generation.DecodingMethod == "" {
		cfg.Generation.DecodingMethod = DecodingGreedy
	}
	if cfg.Generation.MinNewTokens == 0 {
		cfg.Generation.MinNewTokens = 1
	}
	if cfg.Generation.MaxNewTokens == 0 {
		cfg.Generation.MaxNewTokens = 200
	}
	if cfg.Generation.RepetitionPenalty == 0 {
		cfg.Generation.RepetitionPenalty = 1.2
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pg"
	}
	if cfg.Qdrant.Addr == "" {
		cfg.Qdrant.Addr = "localhost:6334"
	}
	if cfg.Qdrant.BatchSize <= 0 {
		cfg.Qdrant.BatchSize = 256
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
