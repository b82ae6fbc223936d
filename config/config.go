package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mdfeed/models"
)

type Config struct {
	App           AppConfig            `yaml:"app"`
	Logging       LoggingConfig        `yaml:"logging"`
	Feed          FeedConfig           `yaml:"feed"`
	Channels      ChannelsConfig       `yaml:"channels"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Kafka         KafkaConfig          `yaml:"kafka"`
	CloudWatch    CloudWatchConfig     `yaml:"cloudwatch"`
	Dashboard     DashboardConfig      `yaml:"dashboard"`
	Snapshots     SnapshotsConfig      `yaml:"snapshots"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
	// ReportInterval enables the periodic runtime report when the level is
	// "report".
	ReportInterval time.Duration `yaml:"report_interval"`
}

type FeedConfig struct {
	URL              string          `yaml:"url"`
	Connection       string          `yaml:"connection"`
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout"`
	PingInterval     time.Duration   `yaml:"ping_interval"`
	ReadBufferBytes  int             `yaml:"read_buffer_bytes"`
	Reconnect        RateLimitConfig `yaml:"reconnect"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type ChannelsConfig struct {
	RawBuffer     int `yaml:"raw_buffer"`
	PublishBuffer int `yaml:"publish_buffer"`
}

type MetricsConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Address             string        `yaml:"address"`
	ChannelSize         bool          `yaml:"channel_size"`
	ChannelSizeInterval time.Duration `yaml:"channel_size_interval"`
	Drops               bool          `yaml:"drops"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
	// Static keys; when empty the default AWS credential chain is used.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// DashboardConfig configures the embedded monitoring API.
type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

// SnapshotsConfig lists the snapshots opened at startup, inline or through a
// separate plan file.
type SnapshotsConfig struct {
	PlanFile string          `yaml:"plan_file"`
	Entries  []SnapshotEntry `yaml:"entries"`
}

type SnapshotEntry struct {
	Kind     string `yaml:"kind"`
	Symbol   string `yaml:"symbol"`
	Source   string `yaml:"source"`
	FromTime int64  `yaml:"from_time"`
	// Publish forwards committed transactions to Kafka.
	Publish bool `yaml:"publish"`
}

// SubscriptionConfig is a raw event subscription opened at startup.
type SubscriptionConfig struct {
	Kinds        []string `yaml:"kinds"`
	Symbols      []string `yaml:"symbols"`
	Sources      []string `yaml:"sources"`
	FromTime     int64    `yaml:"from_time"`
	SingleRecord bool     `yaml:"single_record"`
	TimeSeries   bool     `yaml:"time_series"`
}

// KindMask resolves the configured kind names into one mask.
func (s SubscriptionConfig) KindMask() (models.EventKind, error) {
	var mask models.EventKind
	for _, name := range s.Kinds {
		kind, ok := models.KindByName(name)
		if !ok {
			return 0, fmt.Errorf("unknown event kind '%s'", name)
		}
		mask |= kind
	}
	return mask, nil
}

// EventKind resolves the entry's kind name.
func (e SnapshotEntry) EventKind() (models.EventKind, error) {
	kind, ok := models.KindByName(e.Kind)
	if !ok {
		return 0, fmt.Errorf("unknown event kind '%s'", e.Kind)
	}
	return kind, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stdout",
			ReportInterval: 30 * time.Second,
		},
		Feed: FeedConfig{
			Connection:       "default",
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     20 * time.Second,
			Reconnect:        RateLimitConfig{RequestsPerSecond: 0.2, BurstSize: 1},
		},
		Metrics: MetricsConfig{
			Address:             "0.0.0.0:2112",
			ChannelSize:         true,
			ChannelSizeInterval: 10 * time.Second,
			Drops:               true,
		},
		Kafka: KafkaConfig{
			BatchTimeout: 50 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		},
		CloudWatch: CloudWatchConfig{
			Namespace: "mdfeed",
			Dashboard: "mdfeed",
		},
		Dashboard: DashboardConfig{
			Address:         "0.0.0.0:8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      200,
			MetricsHistory:  200,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FEED_URL"); v != "" {
		cfg.Feed.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers := make([]string, 0)
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.Kafka.Brokers = brokers
	}
	if v := os.Getenv("AWS_REGION"); v != "" && cfg.CloudWatch.Region == "" {
		cfg.CloudWatch.Region = strings.TrimSpace(v)
	}
	if v := os.Getenv("CLOUDWATCH_ACCESS_KEY_ID"); v != "" {
		cfg.CloudWatch.AccessKeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("CLOUDWATCH_SECRET_ACCESS_KEY"); v != "" {
		cfg.CloudWatch.SecretAccessKey = strings.TrimSpace(v)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("app.version is required")
	}

	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	u, err := url.Parse(cfg.Feed.URL)
	if err != nil {
		return fmt.Errorf("feed.url '%s' is invalid: %w", cfg.Feed.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("feed.url must use ws or wss, got '%s'", u.Scheme)
	}
	if cfg.Feed.Reconnect.RequestsPerSecond <= 0 {
		return fmt.Errorf("feed.reconnect.requests_per_second must be greater than 0")
	}
	if cfg.Feed.Reconnect.BurstSize <= 0 {
		return fmt.Errorf("feed.reconnect.burst_size must be greater than 0")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Kafka.Enabled {
		if cfg.Channels.PublishBuffer <= 0 {
			return fmt.Errorf("channels.publish_buffer must be greater than 0 when kafka is enabled")
		}
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if cfg.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}

	if (cfg.CloudWatch.AccessKeyID == "") != (cfg.CloudWatch.SecretAccessKey == "") {
		return fmt.Errorf("cloudwatch.access_key_id and cloudwatch.secret_access_key must be set together")
	}

	for i, entry := range cfg.Snapshots.Entries {
		if err := validateSnapshotEntry(entry); err != nil {
			return fmt.Errorf("snapshots.entries[%d]: %w", i, err)
		}
	}

	for i, sub := range cfg.Subscriptions {
		mask, err := sub.KindMask()
		if err != nil {
			return fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
		if mask == 0 {
			return fmt.Errorf("subscriptions[%d]: at least one kind is required", i)
		}
		if len(sub.Symbols) == 0 {
			return fmt.Errorf("subscriptions[%d]: at least one symbol is required", i)
		}
	}

	return nil
}

func validateSnapshotEntry(entry SnapshotEntry) error {
	kind, err := entry.EventKind()
	if err != nil {
		return err
	}
	if !kind.Indexed() {
		return fmt.Errorf("kind '%s' cannot be snapshotted", entry.Kind)
	}
	if strings.TrimSpace(entry.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	return nil
}
