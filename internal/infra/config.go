package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"crypto_feed/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultInboxSize   = 4096
	defaultMetricsAddr = "localhost:6060"
	defaultDBPath      = "data/feed.db"
	defaultKafkaTopic  = "market-events"
	defaultRedisPrefix = "feed"
)

// Config holds all application settings.
// Values loaded by LoadConfig are overridden by environment variables afterwards.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Storage struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"storage"`

	Sinks struct {
		Kafka struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
		Redis struct {
			Addr          string `yaml:"addr"`
			ChannelPrefix string `yaml:"channel_prefix"`
		} `yaml:"redis"`
	} `yaml:"sinks"`

	Dispatcher struct {
		InboxSize int `yaml:"inbox_size"`
	} `yaml:"dispatcher"`

	Connectors []domain.ConnectorConfig `yaml:"connectors"`

	// Symbols maps "<exchange>:<native symbol>" (or the bare native symbol)
	// to the canonical symbol published downstream.
	Symbols map[string]string `yaml:"symbols"`
}

// LoadConfig reads .env (if present), parses the YAML file at path, applies
// environment overrides and defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML bytes and finishes the config like LoadConfig does.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = defaultMetricsAddr
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultDBPath
	}
	if c.Sinks.Kafka.Topic == "" {
		c.Sinks.Kafka.Topic = defaultKafkaTopic
	}
	if c.Sinks.Redis.ChannelPrefix == "" {
		c.Sinks.Redis.ChannelPrefix = defaultRedisPrefix
	}
	if c.Dispatcher.InboxSize <= 0 {
		c.Dispatcher.InboxSize = defaultInboxSize
	}
	for i := range c.Connectors {
		cc := &c.Connectors[i]
		cc.Exchange = strings.ToLower(cc.Exchange)
		if cc.Group == "" {
			cc.Group = domain.GroupSpot
		}
		if cc.Backoff == "" {
			cc.Backoff = "fixed"
		}
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &domain.ConfigError{Field: "logging.level", Err: fmt.Errorf("unknown level %q", c.Logging.Level)}
	}

	if len(c.Connectors) == 0 {
		return &domain.ConfigError{Field: "connectors", Err: errors.New("at least one connector is required")}
	}

	seen := make(map[string]struct{}, len(c.Connectors))
	for i, cc := range c.Connectors {
		field := func(name string) string { return fmt.Sprintf("connectors[%d].%s", i, name) }

		switch cc.Exchange {
		case domain.ExchangeBitfinex, domain.ExchangeDeribit:
		default:
			return &domain.ConfigError{Field: field("exchange"), Err: fmt.Errorf("unsupported exchange %q", cc.Exchange)}
		}
		if cc.Symbol == "" {
			return &domain.ConfigError{Field: field("symbol"), Err: domain.ErrInvalidSymbol}
		}
		if cc.URL != "" && !strings.HasPrefix(cc.URL, "ws://") && !strings.HasPrefix(cc.URL, "wss://") {
			return &domain.ConfigError{Field: field("ws_url"), Err: fmt.Errorf("invalid websocket URL %q", cc.URL)}
		}
		if cc.MaxRetries != nil && *cc.MaxRetries < 0 {
			return &domain.ConfigError{Field: field("max_retries"), Err: errors.New("must not be negative")}
		}
		if cc.Timeout < 0 || cc.ReconnectDelay < 0 {
			return &domain.ConfigError{Field: field("timeout"), Err: errors.New("durations must not be negative")}
		}
		switch cc.Backoff {
		case "fixed", "exponential":
		default:
			return &domain.ConfigError{Field: field("backoff"), Err: fmt.Errorf("unknown backoff %q", cc.Backoff)}
		}
		if _, dup := seen[cc.Key()]; dup {
			return &domain.ConfigError{Field: field("symbol"), Err: fmt.Errorf("duplicate connector %s", cc.Key())}
		}
		seen[cc.Key()] = struct{}{}
	}

	return nil
}

// overrideWithEnv overwrites config values with environment variables when set.
func overrideWithEnv(cfg *Config) {
	if level := os.Getenv("FEED_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
	if brokers := os.Getenv("FEED_KAFKA_BROKERS"); brokers != "" {
		cfg.Sinks.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if addr := os.Getenv("FEED_REDIS_ADDR"); addr != "" {
		cfg.Sinks.Redis.Addr = addr
	}
	if path := os.Getenv("FEED_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
}
