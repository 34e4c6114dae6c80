package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the retrieval agent
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Pipe      PipeConfig      `mapstructure:"pipe"`
	Valves    Valves          `mapstructure:"valves"`
	Search    SearchConfig    `mapstructure:"search"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Events    EventsConfig    `mapstructure:"events"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	StreamEvents bool   `mapstructure:"stream_events"`
}

// PipeConfig describes how the agent presents itself to the host.
type PipeConfig struct {
	ID            string        `mapstructure:"id"`
	Name          string        `mapstructure:"name"`
	ExecutorTurns int           `mapstructure:"executor_turns"`
	LLMTimeout    time.Duration `mapstructure:"llm_timeout"`
	LLMRetries    int           `mapstructure:"llm_retries"`
}

func (p PipeConfig) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("pipe.id required")
	}
	if p.ExecutorTurns < 1 {
		return fmt.Errorf("pipe.executor_turns must be >= 1")
	}
	return nil
}

// SearchConfig selects and tunes the web search backend
type SearchConfig struct {
	Provider     string        `mapstructure:"provider"` // searx, brave, serper
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "searx":
	case "brave":
		if strings.TrimSpace(s.BraveAPIKey) == "" {
			return fmt.Errorf("search.brave_api_key required for the brave provider")
		}
	case "serper":
		if strings.TrimSpace(s.SerperAPIKey) == "" {
			return fmt.Errorf("search.serper_api_key required for the serper provider")
		}
	default:
		return fmt.Errorf("search.provider %q is not supported", s.Provider)
	}
	if s.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be > 0")
	}
	return nil
}

// KnowledgeConfig controls knowledge collection storage and retrieval
type KnowledgeConfig struct {
	Store          string        `mapstructure:"store"` // inmemory, redis
	TopK           int           `mapstructure:"top_k"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	ChunkOverlap   int           `mapstructure:"chunk_overlap"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Fetcher        string        `mapstructure:"fetcher"` // chromedp, static
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	MaxChars       int           `mapstructure:"max_chars"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
}

// Normalize applies defaults for unset knowledge values.
func (k KnowledgeConfig) Normalize() KnowledgeConfig {
	if k.TopK <= 0 {
		k.TopK = 5
	}
	if k.ChunkSize <= 0 {
		k.ChunkSize = 1000
	}
	if k.ChunkOverlap < 0 || k.ChunkOverlap >= k.ChunkSize {
		k.ChunkOverlap = k.ChunkSize / 5
	}
	if k.Fetcher == "" {
		k.Fetcher = "chromedp"
	}
	if k.FetchTimeout <= 0 {
		k.FetchTimeout = 30 * time.Second
	}
	if strings.TrimSpace(k.KeyPrefix) == "" {
		k.KeyPrefix = "ragpipe:knowledge"
	}
	return k
}

func (k KnowledgeConfig) Validate() error {
	switch k.Store {
	case "inmemory", "redis":
	default:
		return fmt.Errorf("knowledge.store %q is not supported", k.Store)
	}
	switch k.Fetcher {
	case "chromedp", "static":
	default:
		return fmt.Errorf("knowledge.fetcher %q is not supported", k.Fetcher)
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis host is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Postgres database is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

// DSN builds a connection string, preferring URL when set.
func (p PostgresConfig) DSN() (string, error) {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

func (p PostgresConfig) Validate() error {
	if !p.Enabled() || strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// EventsConfig controls fan-out of progress events to a Redis stream
type EventsConfig struct {
	RedisStream string `mapstructure:"redis_stream"`
	MaxLen      int64  `mapstructure:"max_len"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.request_timeout", 10*time.Minute)

	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.stream_events", true)

	v.SetDefault("pipe.id", "granite_retrieval_agent")
	v.SetDefault("pipe.name", "Granite Retrieval Agent")
	v.SetDefault("pipe.executor_turns", 3)
	v.SetDefault("pipe.llm_timeout", 2*time.Minute)
	v.SetDefault("pipe.llm_retries", 2)

	d := DefaultValves()
	v.SetDefault("valves.searx_host", d.SearxHost)
	v.SetDefault("valves.task_model_id", d.TaskModelID)
	v.SetDefault("valves.openai_api_url", d.OpenAIAPIURL)
	v.SetDefault("valves.openai_api_key", d.OpenAIAPIKey)
	v.SetDefault("valves.model_temperature", d.ModelTemperature)
	v.SetDefault("valves.max_plan_steps", d.MaxPlanSteps)

	v.SetDefault("search.provider", "searx")
	v.SetDefault("search.max_results", 10)
	v.SetDefault("search.timeout", 20*time.Second)
	v.SetDefault("search.retries", 1)

	v.SetDefault("knowledge.store", "inmemory")
	v.SetDefault("knowledge.top_k", 5)
	v.SetDefault("knowledge.chunk_size", 1000)
	v.SetDefault("knowledge.chunk_overlap", 200)
	v.SetDefault("knowledge.fetcher", "chromedp")
	v.SetDefault("knowledge.fetch_timeout", 30*time.Second)
	v.SetDefault("knowledge.max_chars", 20000)
	v.SetDefault("knowledge.key_prefix", "ragpipe:knowledge")

	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)

	v.SetDefault("events.max_len", 10000)
	v.SetDefault("telemetry.enabled", true)
}

func overrideFromEnv(v *viper.Viper) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		v.Set("valves.openai_api_key", apiKey)
	}
	if url := os.Getenv("OPENAI_API_URL"); url != "" {
		v.Set("valves.openai_api_url", url)
	}
	if host := os.Getenv("SEARX_HOST"); host != "" {
		v.Set("valves.searx_host", host)
	}
	if apiKey := os.Getenv("BRAVE_SEARCH_KEY"); apiKey != "" {
		v.Set("search.brave_api_key", apiKey)
	}
	if apiKey := os.Getenv("SERPER_API_KEY"); apiKey != "" {
		v.Set("search.serper_api_key", apiKey)
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		v.Set("storage.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		v.Set("storage.redis.port", port)
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		v.Set("storage.redis.password", password)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		v.Set("storage.postgres.url", url)
	}
}

// LoadConfig loads configuration from path (or the usual search locations when
// path is empty), environment variables prefixed with RAGPIPE_ and defaults.
// A missing config file is not an error when no explicit path is given.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("RAGPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Knowledge = cfg.Knowledge.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs every section validator.
func (c *Config) Validate() error {
	validators := []func() error{
		c.Pipe.Validate,
		c.Valves.Validate,
		c.Search.Validate,
		c.Knowledge.Validate,
		c.Storage.Redis.Validate,
		c.Storage.Postgres.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	if c.Knowledge.Store == "redis" && !c.Storage.Redis.Enabled() {
		return fmt.Errorf("knowledge.store=redis requires storage.redis.host")
	}
	return nil
}
