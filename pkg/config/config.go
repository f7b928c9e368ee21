package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development"`
	Log         LogConfig        `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Window      WindowConfig     `yaml:"window"`
	Backend     BackendConfig    `yaml:"backend"`
	Upstream    UpstreamConfig   `yaml:"upstream"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Cache       CacheConfig      `yaml:"cache"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	RateLimit   RateLimitConfig  `yaml:"ratelimit"`
}

type LogConfig struct {
	Level     string `yaml:"level" default:"info"`
	Format    string `yaml:"format" default:"json"`
	Output    string `yaml:"output" default:"stdout"`
	Collector struct {
		Enabled   bool          `yaml:"enabled"`
		Interval  time.Duration `yaml:"interval" default:"30s"`
		Threshold int           `yaml:"threshold" default:"100"`
	} `yaml:"collector"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"1s"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	WebSocket       struct {
		PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
		PongWait     time.Duration `yaml:"pong_wait" default:"75s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"websocket"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// WindowConfig drives every chart session.
type WindowConfig struct {
	DefaultWindowDays int           `yaml:"default_window_days" default:"365"`
	Debounce          time.Duration `yaml:"debounce" default:"300ms"`
	IdleTTL           time.Duration `yaml:"idle_ttl" default:"30m"`
	EvictSchedule     string        `yaml:"evict_schedule" default:"@every 1m"`
}

type BackendConfig struct {
	// Type selects the history source: http or clickhouse.
	Type string `yaml:"type" default:"http"`
}

type UpstreamConfig struct {
	BaseURL     string        `yaml:"base_url"`
	HistoryPath string        `yaml:"history_path" default:"/api/portfolios/{portfolio}/history"`
	Timeout     time.Duration `yaml:"timeout" default:"15s"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"default"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	Table            string        `yaml:"table" default:"portfolio_history"`
	MetricColumns    []string      `yaml:"metric_columns" default:"[\"value\"]"`
	InitSchema       bool          `yaml:"init_schema"`
}

type CacheConfig struct {
	// Type is none, memory, redis or layered.
	Type          string        `yaml:"type" default:"memory"`
	TTL           time.Duration `yaml:"ttl" default:"5m"`
	MemoryMaxSize int           `yaml:"memory_max_size" default:"1000"`
	MemoryTTL     time.Duration `yaml:"memory_ttl" default:"1m"`
	MemoryCleanup time.Duration `yaml:"memory_cleanup" default:"5m"`
	Redis         struct {
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		Prefix   string `yaml:"prefix" default:"finwindow"`
	} `yaml:"redis"`
}

type KafkaConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Brokers           []string `yaml:"brokers"`
	Compression       string   `yaml:"compression" default:"snappy"`
	RequiredAcks      int      `yaml:"required_acks" default:"1"`
	EventsTopic       string   `yaml:"events_topic" default:"finwindow.window-events"`
	LogsTopic         string   `yaml:"logs_topic" default:"finwindow.logs"`
	InvalidationTopic string   `yaml:"invalidation_topic" default:"finwindow.history-invalidated"`
	Producer          struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID       string        `yaml:"group_id" default:"finwindow"`
		Workers       int           `yaml:"workers" default:"2"`
		RetryMax      int           `yaml:"retry_max" default:"3"`
		BackoffMin    time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax    time.Duration `yaml:"backoff_max" default:"2s"`
		HandleTimeout time.Duration `yaml:"handle_timeout" default:"30s"`
		DLQTopic      string        `yaml:"dlq_topic"`
	} `yaml:"consumer"`
}

// RateLimitConfig bounds zoom reports per session; a zero burst disables the limit.
type RateLimitConfig struct {
	ZoomBurst     float64 `yaml:"zoom_burst" default:"20"`
	ZoomPerSecond float64 `yaml:"zoom_per_second" default:"10"`
}

// Load reads and parses a YAML configuration file. Unset fields take their defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FINWINDOW_UPSTREAM_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Window.DefaultWindowDays <= 0 {
		return fmt.Errorf("window.default_window_days must be positive, got %d", c.Window.DefaultWindowDays)
	}
	if c.Window.Debounce < 0 {
		return fmt.Errorf("window.debounce cannot be negative")
	}

	switch c.Backend.Type {
	case "http":
		if c.Upstream.BaseURL == "" {
			return fmt.Errorf("upstream.base_url is required for the http backend")
		}
		if !strings.Contains(c.Upstream.HistoryPath, "{portfolio}") {
			return fmt.Errorf("upstream.history_path must contain {portfolio}")
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required for the clickhouse backend")
		}
		if len(c.ClickHouse.MetricColumns) == 0 {
			return fmt.Errorf("clickhouse.metric_columns cannot be empty")
		}
	default:
		return fmt.Errorf("backend.type must be 'http' or 'clickhouse', got '%s'", c.Backend.Type)
	}

	switch c.Cache.Type {
	case "none", "memory", "redis", "layered":
	default:
		return fmt.Errorf("cache.type must be one of none, memory, redis, layered, got '%s'", c.Cache.Type)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Log.Collector.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("log.collector requires kafka")
	}
	return nil
}
