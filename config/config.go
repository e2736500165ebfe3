package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Deriflow      DeriflowConfig      `yaml:"deriflow"`
	Exchange      ExchangeConfig      `yaml:"exchange"`
	Auth          AuthConfig          `yaml:"auth"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Record        RecordConfig        `yaml:"record"`
	Validation    ValidationConfig    `yaml:"validation"`
	Storage       StorageConfig       `yaml:"storage"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type DeriflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ExchangeConfig struct {
	URL            string          `yaml:"url"`
	TestNetURL     string          `yaml:"testnet_url"`
	TestNet        bool            `yaml:"test_net"`
	ConnectTimeout time.Duration   `yaml:"connect_timeout"`
	HeartbeatSec   int             `yaml:"heartbeat_interval_sec"`
	SendInterval   time.Duration   `yaml:"send_interval"`
	Reconnect      ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier int           `yaml:"multiplier"`
}

type AuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type SubscriptionsConfig struct {
	Depth               int      `yaml:"depth"`
	Group               string   `yaml:"group"`
	Interval            string   `yaml:"interval"`
	Instruments         []string `yaml:"instruments"`
	ExtraInstruments    []string `yaml:"extra_instruments"`
	Trades              bool     `yaml:"trades"`
	OwnOrders           bool     `yaml:"own_orders"`
	PortfolioCurrencies []string `yaml:"portfolio_currencies"`
}

type RecordConfig struct {
	Enabled           bool   `yaml:"enabled"`
	NumberOfSlots     int    `yaml:"number_of_slots"`
	BatchSize         int    `yaml:"batch_size"`
	HandoffBuffer     int    `yaml:"handoff_buffer"`
	InstrumentMapFile string `yaml:"instrument_map_file"`
}

type ValidationConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Currencies []string      `yaml:"currencies"`
}

type StorageConfig struct {
	S3      S3Config      `yaml:"s3"`
	Parquet ParquetConfig `yaml:"parquet"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression"`
}

type MetricsConfig struct {
	CloudWatch bool          `yaml:"cloudwatch"`
	Namespace  string        `yaml:"namespace"`
	Interval   time.Duration `yaml:"interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// WebsocketURL returns the endpoint matching the test_net flag.
func (e ExchangeConfig) WebsocketURL() string {
	if e.TestNet {
		return e.TestNetURL
	}
	return e.URL
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Exchange: ExchangeConfig{
			URL:            "wss://www.deribit.com/ws/api/v2",
			TestNetURL:     "wss://test.deribit.com/ws/api/v2",
			ConnectTimeout: 10 * time.Second,
			HeartbeatSec:   15,
			SendInterval:   100 * time.Millisecond,
			Reconnect: ReconnectConfig{
				BaseDelay:  time.Second,
				MaxDelay:   time.Minute,
				Multiplier: 2,
			},
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Credentials come from the environment when set; the file values are
	// a fallback for local runs.
	if v := os.Getenv("DERIBIT_CLIENT_ID"); v != "" {
		config.Auth.ClientID = strings.TrimSpace(v)
	}
	if v := os.Getenv("DERIBIT_CLIENT_SECRET"); v != "" {
		config.Auth.ClientSecret = strings.TrimSpace(v)
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Deriflow.Name == "" {
		return fmt.Errorf("deriflow.name is required")
	}
	if cfg.Deriflow.Version == "" {
		return fmt.Errorf("deriflow.version is required")
	}

	if cfg.Exchange.WebsocketURL() == "" {
		return fmt.Errorf("exchange.url is required")
	}
	if cfg.Exchange.HeartbeatSec < 10 {
		return fmt.Errorf("exchange.heartbeat_interval_sec must be at least 10")
	}
	if cfg.Exchange.SendInterval <= 0 {
		return fmt.Errorf("exchange.send_interval must be greater than 0")
	}
	if cfg.Exchange.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("exchange.reconnect.base_delay must be greater than 0")
	}
	if cfg.Exchange.Reconnect.MaxDelay < cfg.Exchange.Reconnect.BaseDelay {
		return fmt.Errorf("exchange.reconnect.max_delay must not be below base_delay")
	}
	// A multiplier below 1 collapses the delay and turns the reconnect
	// loop into a tight retry against the exchange.
	if cfg.Exchange.Reconnect.Multiplier < 1 {
		return fmt.Errorf("exchange.reconnect.multiplier must be at least 1")
	}

	// Depth 0 means the unbounded order book mode, which the fixed-width
	// record system deliberately does not support.
	if cfg.Subscriptions.Depth <= 0 {
		return fmt.Errorf("subscriptions.depth must be a positive constant depth; unbounded order books are not supported in fixed-depth mode")
	}
	if cfg.Subscriptions.Interval == "" {
		cfg.Subscriptions.Interval = "100ms"
	}
	if cfg.Subscriptions.Group == "" {
		cfg.Subscriptions.Group = "none"
	}
	if len(cfg.Subscriptions.Instruments)+len(cfg.Subscriptions.ExtraInstruments) == 0 {
		return fmt.Errorf("subscriptions.instruments must not be empty")
	}

	if cfg.Record.Enabled {
		if cfg.Record.NumberOfSlots <= 0 {
			return fmt.Errorf("record.number_of_slots must be greater than 0")
		}
		if cfg.Record.BatchSize <= 0 {
			return fmt.Errorf("record.batch_size must be greater than 0")
		}
		if cfg.Record.InstrumentMapFile == "" {
			return fmt.Errorf("record.instrument_map_file is required when recording is enabled")
		}
	}

	if cfg.Subscriptions.OwnOrders || len(cfg.Subscriptions.PortfolioCurrencies) > 0 {
		if cfg.Auth.ClientID == "" || cfg.Auth.ClientSecret == "" {
			return fmt.Errorf("auth.client_id and auth.client_secret are required for private subscriptions")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
	}

	return nil
}
