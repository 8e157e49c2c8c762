package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"depthsync/internal/exchange"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Symbol    string          `yaml:"symbol"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Orderbook OrderbookConfig `yaml:"orderbook"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Server    ServerConfig    `yaml:"server"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	App       AppConfig       `yaml:"app"`
}

// ExchangeConfig holds exchange endpoints and request parameters
type ExchangeConfig struct {
	Name          exchange.ExchangeName `yaml:"name"`
	RestURL       string                `yaml:"rest_url"`
	StreamURL     string                `yaml:"stream_url"`
	SnapshotLimit int                   `yaml:"snapshot_limit"`
	UpdateSpeed   string                `yaml:"update_speed"`
}

// OrderbookConfig holds reconciliation and batching parameters
type OrderbookConfig struct {
	MaxLevels        int           `yaml:"max_levels"`
	BatchInterval    time.Duration `yaml:"batch_interval"`
	MaxPendingDeltas int           `yaml:"max_pending_deltas"`
}

// ReconnectConfig holds the reconnect backoff policy
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// ServerConfig holds the consumer-facing HTTP/WebSocket server configuration
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// KafkaConfig holds the optional Kafka publisher configuration
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether book views should be published to Kafka
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// AppConfig holds general application configuration
type AppConfig struct {
	LogInterval       time.Duration `yaml:"log_interval"`
	UpdateChannelSize int           `yaml:"update_channel_size"`
}

// Default returns the default configuration for BTCUSDT on Binance Spot
func Default() Config {
	return Config{
		Symbol: "BTCUSDT",
		Exchange: ExchangeConfig{
			Name:          exchange.Binance,
			RestURL:       "https://api.binance.com",
			StreamURL:     "wss://stream.binance.com:9443/ws",
			SnapshotLimit: 1000,
			UpdateSpeed:   "1000ms",
		},
		Orderbook: OrderbookConfig{
			MaxLevels:        10,
			BatchInterval:    1000 * time.Millisecond,
			MaxPendingDeltas: 50,
		},
		Reconnect: ReconnectConfig{
			InitialDelay: 1000 * time.Millisecond,
			MaxDelay:     10000 * time.Millisecond,
			MaxAttempts:  5,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8086",
		},
		Kafka: KafkaConfig{
			Topic: "depthsync.book",
		},
		App: AppConfig{
			LogInterval:       10 * time.Second,
			UpdateChannelSize: 1000,
		},
	}
}

// NewCustom creates a default configuration for a custom trading pair
func NewCustom(symbol string) Config {
	cfg := Default()
	cfg.Symbol = strings.ToUpper(symbol)
	return cfg
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !strings.HasPrefix(c.Exchange.StreamURL, "ws://") && !strings.HasPrefix(c.Exchange.StreamURL, "wss://") {
		return fmt.Errorf("invalid stream URL: %s", c.Exchange.StreamURL)
	}
	if !strings.HasPrefix(c.Exchange.RestURL, "http://") && !strings.HasPrefix(c.Exchange.RestURL, "https://") {
		return fmt.Errorf("invalid REST URL: %s", c.Exchange.RestURL)
	}
	if c.Orderbook.MaxLevels <= 0 {
		return fmt.Errorf("max levels must be positive")
	}
	if c.Orderbook.BatchInterval <= 0 {
		return fmt.Errorf("batch interval must be positive")
	}
	if c.Orderbook.MaxPendingDeltas < 0 {
		return fmt.Errorf("max pending deltas must not be negative")
	}
	if c.Reconnect.InitialDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("invalid reconnect delays: initial %s, max %s", c.Reconnect.InitialDelay, c.Reconnect.MaxDelay)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must not be negative")
	}
	if c.App.UpdateChannelSize <= 0 {
		return fmt.Errorf("update channel size must be positive")
	}
	return nil
}

// overrideWithEnv applies DEPTHSYNC_* environment variables. Unparseable
// numbers leave the current value in place.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("DEPTHSYNC_SYMBOL"); v != "" {
		cfg.Symbol = strings.ToUpper(v)
	}
	if v := os.Getenv("DEPTHSYNC_BINANCE_REST_URL"); v != "" {
		cfg.Exchange.RestURL = v
	}
	if v := os.Getenv("DEPTHSYNC_BINANCE_WS_URL"); v != "" {
		cfg.Exchange.StreamURL = v
	}
	if v := os.Getenv("DEPTHSYNC_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DEPTHSYNC_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	envInt("DEPTHSYNC_MAX_LEVELS", &cfg.Orderbook.MaxLevels)
	envInt("DEPTHSYNC_MAX_PENDING_DELTAS", &cfg.Orderbook.MaxPendingDeltas)
	envInt("DEPTHSYNC_RECONNECT_MAX_ATTEMPTS", &cfg.Reconnect.MaxAttempts)
	envMillis("DEPTHSYNC_BATCH_INTERVAL_MS", &cfg.Orderbook.BatchInterval)
	envMillis("DEPTHSYNC_RECONNECT_INITIAL_DELAY_MS", &cfg.Reconnect.InitialDelay)
	envMillis("DEPTHSYNC_RECONNECT_MAX_DELAY_MS", &cfg.Reconnect.MaxDelay)
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func envMillis(key string, dst *time.Duration) {
	var ms int
	envInt(key, &ms)
	if ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

// SetMaxLevels updates the visible depth
func (c *Config) SetMaxLevels(levels int) {
	c.Orderbook.MaxLevels = levels
}

// SetBatchInterval updates the batch flush interval
func (c *Config) SetBatchInterval(interval time.Duration) {
	c.Orderbook.BatchInterval = interval
}

// SetSymbol updates the initial trading symbol
func (c *Config) SetSymbol(symbol string) {
	c.Symbol = strings.ToUpper(symbol)
}
