package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
	Search  SearchConfig  `mapstructure:"search"`
	Indexer IndexerConfig `mapstructure:"indexer"`
	History HistoryConfig `mapstructure:"history"`
	Events  EventsConfig  `mapstructure:"events"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host      string  `mapstructure:"host"`
	Port      int     `mapstructure:"port"`
	RateLimit float64 `mapstructure:"rate_limit"` // searches per second per requester, 0 disables
	RateBurst int     `mapstructure:"rate_burst"`
	HookToken string  `mapstructure:"hook_token"` // shared secret for /api/index hooks, empty disables them
}

// LoggingConfig selects the zap preset and level
type LoggingConfig struct {
	Env   string `mapstructure:"env"` // production or development
	Level string `mapstructure:"level"`
}

// MongoDBConfig contains MongoDB connection settings
type MongoDBConfig struct {
	URI           string `mapstructure:"uri"`
	Database      string `mapstructure:"database"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	Timeout       int    `mapstructure:"timeout"` // in seconds
	DocumentsColl string `mapstructure:"documents_collection"`
	SectionsColl  string `mapstructure:"sections_collection"`
	HistoryColl   string `mapstructure:"history_collection"`
}

// SearchConfig contains search engine settings
type SearchConfig struct {
	IndexPath     string `mapstructure:"index_path"`
	Analyzer      string `mapstructure:"analyzer"`
	BatchSize     int    `mapstructure:"batch_size"`      // Rebuild batch size
	TimeoutMs     int    `mapstructure:"timeout_ms"`      // Per-search deadline
	DefaultLimit  int    `mapstructure:"default_limit"`
	MaxLimit      int    `mapstructure:"max_limit"`
	SyncStatePath string `mapstructure:"sync_state_path"` // Path to store poll state for persistence
	PollInterval  int    `mapstructure:"poll_interval"`   // in seconds
	Reconcile     bool   `mapstructure:"reconcile"`       // Poll the primary store for missed changes
}

// IndexerConfig contains index writer settings
type IndexerConfig struct {
	WorkerCount    int `mapstructure:"worker_count"`     // Number of concurrent indexing workers
	QueueSize      int `mapstructure:"queue_size"`       // Buffered jobs per worker
	WriteTimeoutMs int `mapstructure:"write_timeout_ms"` // Per-job engine deadline
}

// HistoryConfig contains history store settings
type HistoryConfig struct {
	Backend         string `mapstructure:"backend"` // mongodb or memory
	AppendTimeoutMs int    `mapstructure:"append_timeout_ms"`
	TopN            int    `mapstructure:"top_n"`
}

// EventsConfig selects the permission-change bus
type EventsConfig struct {
	Backend       string `mapstructure:"backend"` // memory or redis
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisKey      string `mapstructure:"redis_key"`
	Buffer        int    `mapstructure:"buffer"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/docvault-search")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("DOCSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.hook_token", "")
	v.SetDefault("logging.env", "production")
	v.SetDefault("logging.level", "info")
	v.SetDefault("mongodb.database", "docvault")
	v.SetDefault("mongodb.timeout", 30)
	v.SetDefault("mongodb.documents_collection", "documents")
	v.SetDefault("mongodb.sections_collection", "sections")
	v.SetDefault("mongodb.history_collection", "searchhistories")
	v.SetDefault("search.index_path", "./indexes")
	v.SetDefault("search.analyzer", "standard")
	v.SetDefault("search.batch_size", 1000)
	v.SetDefault("search.timeout_ms", 2000)
	v.SetDefault("search.default_limit", 10)
	v.SetDefault("search.max_limit", 100)
	v.SetDefault("search.sync_state_path", "./sync_state.json")
	v.SetDefault("search.poll_interval", 30)
	v.SetDefault("search.reconcile", true)
	v.SetDefault("indexer.worker_count", 4)
	v.SetDefault("indexer.queue_size", 256)
	v.SetDefault("indexer.write_timeout_ms", 5000)
	v.SetDefault("history.backend", "mongodb")
	v.SetDefault("history.append_timeout_ms", 500)
	v.SetDefault("history.top_n", 10)
	v.SetDefault("events.backend", "memory")
	v.SetDefault("events.redis_addr", "localhost:6379")
	v.SetDefault("events.redis_key", "docsearch:permissions")
	v.SetDefault("events.buffer", 128)
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	if c.Search.DefaultLimit < 1 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("invalid search limits: default %d, max %d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Indexer.WorkerCount < 1 {
		return fmt.Errorf("indexer.worker_count must be positive, got %d", c.Indexer.WorkerCount)
	}
	switch c.History.Backend {
	case "mongodb", "memory":
	default:
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}
	switch c.Events.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown events backend %q", c.Events.Backend)
	}
	return nil
}

// GetMongoURI returns the complete MongoDB connection URI
func (c *MongoDBConfig) GetMongoURI() string {
	if c.URI != "" {
		return c.URI
	}

	// Build URI from components if not provided directly
	uri := "mongodb://"
	if c.Username != "" && c.Password != "" {
		uri += fmt.Sprintf("%s:%s@", c.Username, c.Password)
	}
	uri += "localhost:27017"
	return uri
}

// SearchTimeout returns the per-search deadline
func (c *SearchConfig) SearchTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// PollEvery returns the reconciler interval
func (c *SearchConfig) PollEvery() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// WriteTimeout returns the per-job engine deadline
func (c *IndexerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// AppendTimeout returns the history append deadline
func (c *HistoryConfig) AppendTimeout() time.Duration {
	return time.Duration(c.AppendTimeoutMs) * time.Millisecond
}
