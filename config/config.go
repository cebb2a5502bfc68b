package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Binance      BinanceConfig      `yaml:"binance"`
	Kline        KlineConfig        `yaml:"kline"`
	OrderBook    OrderBookConfig    `yaml:"order_book"`
	Throttle     ThrottleConfig     `yaml:"throttle"`
	Rest         RestConfig         `yaml:"rest"`
	Volume       VolumeConfig       `yaml:"volume"`
	Technical    TechnicalConfig    `yaml:"technical"`
	Stream       StreamConfig       `yaml:"stream"`
	Presentation PresentationConfig `yaml:"presentation"`
	Dashboard    DashboardConfig    `yaml:"dashboard"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type BinanceConfig struct {
	RestURL       string   `yaml:"rest_url"`
	StreamURL     string   `yaml:"stream_url"`
	Symbols       []string `yaml:"symbols"`
	DefaultSymbol string   `yaml:"default_symbol"`
	// DepthSpeed is appended to the partial depth stream name, e.g. "100ms".
	DepthSpeed string `yaml:"depth_speed"`
}

type KlineConfig struct {
	Interval string `yaml:"interval"`
	Limit    int    `yaml:"limit"`
}

type OrderBookConfig struct {
	Presets []int `yaml:"presets"`
	Default int   `yaml:"default"`
}

type ThrottleConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type RestConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	Retries           int           `yaml:"retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

type VolumeConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Windows         []string      `yaml:"windows"`
}

type TechnicalConfig struct {
	Limit     int `yaml:"limit"`
	SMAPeriod int `yaml:"sma_period"`
	EMAPeriod int `yaml:"ema_period"`
}

type StreamConfig struct {
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout"`
	Reconnect        ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	Enabled   bool          `yaml:"enabled"`
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

type PresentationConfig struct {
	MailboxSize int `yaml:"mailbox_size"`
}

type DashboardConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Address        string `yaml:"address"`
	LogHistory     int    `yaml:"log_history"`
	MetricsHistory int    `yaml:"metrics_history"`
}

type MetricsConfig struct {
	UsedWeight bool             `yaml:"used_weight"`
	Streams    bool             `yaml:"streams"`
	Prometheus bool             `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Region          string        `yaml:"region"`
	Namespace       string        `yaml:"namespace"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	MaxAge    int    `yaml:"max_age"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	Compress  bool   `yaml:"compress"`
}

// Default returns the configuration used when no file overrides a value.
func Default() Config {
	return Config{
		App: AppConfig{Name: "marketdash", Version: "dev"},
		Binance: BinanceConfig{
			RestURL:       "https://api.binance.com",
			StreamURL:     "wss://stream.binance.com:9443/ws",
			Symbols:       []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "ADAUSDT"},
			DefaultSymbol: "BTCUSDT",
			DepthSpeed:    "100ms",
		},
		Kline:        KlineConfig{Interval: "1h", Limit: 50},
		OrderBook:    OrderBookConfig{Presets: []int{10, 20}, Default: 10},
		Throttle:     ThrottleConfig{Interval: 100 * time.Millisecond},
		Rest:         RestConfig{Timeout: 10 * time.Second, Retries: 3, RequestsPerSecond: 10, Burst: 5},
		Volume:       VolumeConfig{RefreshInterval: 30 * time.Second, Windows: []string{"5m", "1h"}},
		Technical:    TechnicalConfig{Limit: 100, SMAPeriod: 10, EMAPeriod: 20},
		Stream:       StreamConfig{HandshakeTimeout: 10 * time.Second, Reconnect: ReconnectConfig{BaseDelay: time.Second, MaxDelay: 30 * time.Second}},
		Presentation: PresentationConfig{MailboxSize: 256},
		Dashboard:    DashboardConfig{Enabled: true, Address: ":8080", LogHistory: 200, MetricsHistory: 200},
		Metrics: MetricsConfig{
			UsedWeight: true,
			Streams:    true,
			Prometheus: true,
			CloudWatch: CloudWatchConfig{Namespace: "MarketDash", PublishInterval: time.Minute},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout", MaxSizeMB: 100, Compress: true},
	}
}

func LoadConfig(path string) (*Config, error) {
	path = resolveConfigPath(path, DefaultConfigPath)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)
	normalize(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MARKETDASH_SYMBOLS"); v != "" {
		cfg.Binance.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("MARKETDASH_DEFAULT_SYMBOL"); v != "" {
		cfg.Binance.DefaultSymbol = v
	}

	if cfg.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Metrics.CloudWatch.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Metrics.CloudWatch.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}
}

func normalize(cfg *Config) {
	symbols := make([]string, 0, len(cfg.Binance.Symbols))
	seen := make(map[string]struct{}, len(cfg.Binance.Symbols))
	for _, s := range cfg.Binance.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}
	cfg.Binance.Symbols = symbols
	cfg.Binance.DefaultSymbol = strings.ToUpper(strings.TrimSpace(cfg.Binance.DefaultSymbol))
	if cfg.Binance.DefaultSymbol == "" && len(symbols) > 0 {
		cfg.Binance.DefaultSymbol = symbols[0]
	}
	cfg.Binance.RestURL = strings.TrimRight(strings.TrimSpace(cfg.Binance.RestURL), "/")
	cfg.Binance.StreamURL = strings.TrimRight(strings.TrimSpace(cfg.Binance.StreamURL), "/")
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if cfg.Binance.RestURL == "" {
		return fmt.Errorf("binance.rest_url is required")
	}
	if cfg.Binance.StreamURL == "" {
		return fmt.Errorf("binance.stream_url is required")
	}
	if len(cfg.Binance.Symbols) == 0 {
		return fmt.Errorf("binance.symbols must contain at least one symbol")
	}
	if !contains(cfg.Binance.Symbols, cfg.Binance.DefaultSymbol) {
		return fmt.Errorf("binance.default_symbol '%s' is not listed in binance.symbols", cfg.Binance.DefaultSymbol)
	}

	if cfg.Kline.Interval == "" {
		return fmt.Errorf("kline.interval is required")
	}
	if cfg.Kline.Limit <= 0 {
		return fmt.Errorf("kline.limit must be greater than 0")
	}

	if len(cfg.OrderBook.Presets) == 0 {
		return fmt.Errorf("order_book.presets must contain at least one level count")
	}
	for _, p := range cfg.OrderBook.Presets {
		if p <= 0 {
			return fmt.Errorf("order_book.presets must be greater than 0")
		}
	}
	if !containsInt(cfg.OrderBook.Presets, cfg.OrderBook.Default) {
		return fmt.Errorf("order_book.default %d is not one of order_book.presets", cfg.OrderBook.Default)
	}

	if cfg.Throttle.Interval <= 0 {
		return fmt.Errorf("throttle.interval must be greater than 0")
	}

	if cfg.Rest.Timeout <= 0 {
		return fmt.Errorf("rest.timeout must be greater than 0")
	}
	if cfg.Rest.Retries <= 0 {
		return fmt.Errorf("rest.retries must be greater than 0")
	}
	if cfg.Rest.RequestsPerSecond < 0 {
		return fmt.Errorf("rest.requests_per_second must not be negative")
	}

	if cfg.Volume.RefreshInterval <= 0 {
		return fmt.Errorf("volume.refresh_interval must be greater than 0")
	}
	if len(cfg.Volume.Windows) == 0 {
		return fmt.Errorf("volume.windows must contain at least one interval")
	}

	if cfg.Technical.Limit <= 0 {
		return fmt.Errorf("technical.limit must be greater than 0")
	}
	if cfg.Technical.SMAPeriod <= 0 {
		return fmt.Errorf("technical.sma_period must be greater than 0")
	}
	if cfg.Technical.EMAPeriod <= 0 {
		return fmt.Errorf("technical.ema_period must be greater than 0")
	}

	if cfg.Stream.Reconnect.Enabled {
		if cfg.Stream.Reconnect.BaseDelay <= 0 {
			return fmt.Errorf("stream.reconnect.base_delay must be greater than 0")
		}
		if cfg.Stream.Reconnect.MaxDelay < cfg.Stream.Reconnect.BaseDelay {
			return fmt.Errorf("stream.reconnect.max_delay must not be lower than base_delay")
		}
	}

	if cfg.Presentation.MailboxSize <= 0 {
		return fmt.Errorf("presentation.mailbox_size must be greater than 0")
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.PublishInterval <= 0 {
		return fmt.Errorf("metrics.cloudwatch.publish_interval must be greater than 0")
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(values []int, v int) bool {
	for _, n := range values {
		if n == v {
			return true
		}
	}
	return false
}
