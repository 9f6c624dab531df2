package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultPublicBaseURL     = "http://localhost:8080"
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "gateway"
	DefaultPGSSLMode         = "disable"
	DefaultBridgeURL         = "ws://127.0.0.1:8090/sessions"
	DefaultReconnectDelay    = 5 * time.Second
	DefaultRestoreStagger    = 2 * time.Second
	DefaultGroupCacheTTL     = time.Hour
	DefaultAddressCacheTTL   = 24 * time.Hour
	DefaultHiddenIDCacheTTL  = 24 * time.Hour
	DefaultCacheSize         = 10000
	DefaultWebhookTimeout    = 30 * time.Second
	DefaultMediaDataRoot     = "data/media"
	DefaultMediaTimeout      = 60 * time.Second
	DefaultProviderTimeout   = 30 * time.Second
	DefaultEventLogRetention = 30 * 24 * time.Hour
	DefaultEventLogSchedule  = "@daily"
	DefaultAMQPExchange      = "gateway.events"
	DefaultMetricsPath       = "/metrics"
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Session   SessionConfig   `toml:"session"`
	Cache     CacheConfig     `toml:"cache"`
	Webhook   WebhookConfig   `toml:"webhook"`
	Media     MediaConfig     `toml:"media"`
	EventLog  EventLogConfig  `toml:"eventlog"`
	AMQP      AMQPConfig      `toml:"amqp"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Providers ProvidersConfig `toml:"providers"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// PublicBaseURL is the externally reachable origin used to build media URLs.
	PublicBaseURL string `toml:"public_base_url"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN returns a postgres connection URL.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type SessionConfig struct {
	BridgeURL      string   `toml:"bridge_url"`
	BridgeToken    string   `toml:"bridge_token"`
	ReconnectDelay Duration `toml:"reconnect_delay"`
	RestoreStagger Duration `toml:"restore_stagger"`
}

type CacheConfig struct {
	GroupTTL    Duration `toml:"group_ttl"`
	AddressTTL  Duration `toml:"address_ttl"`
	HiddenIDTTL Duration `toml:"hidden_id_ttl"`
	Size        int      `toml:"size"`
}

type WebhookConfig struct {
	Timeout Duration `toml:"timeout"`
}

type MediaConfig struct {
	DataRoot string   `toml:"data_root"`
	MaxBytes int64    `toml:"max_bytes"`
	Timeout  Duration `toml:"timeout"`
}

type EventLogConfig struct {
	Retention Duration `toml:"retention"`
	Schedule  string   `toml:"schedule"`
}

type AMQPConfig struct {
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

// Enabled reports whether an AMQP broker is configured.
func (c AMQPConfig) Enabled() bool {
	return c.URL != ""
}

type MetricsConfig struct {
	Path string `toml:"path"`
}

type ProvidersConfig struct {
	Timeout      Duration `toml:"timeout"`
	SlackBaseURL string   `toml:"slack_base_url"`
	CallBaseURL  string   `toml:"call_base_url"`
}

// Duration decodes TOML strings such as "5s" or "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:          DefaultHTTPAddr,
			PublicBaseURL: DefaultPublicBaseURL,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Session: SessionConfig{
			BridgeURL:      DefaultBridgeURL,
			ReconnectDelay: Duration{DefaultReconnectDelay},
			RestoreStagger: Duration{DefaultRestoreStagger},
		},
		Cache: CacheConfig{
			GroupTTL:    Duration{DefaultGroupCacheTTL},
			AddressTTL:  Duration{DefaultAddressCacheTTL},
			HiddenIDTTL: Duration{DefaultHiddenIDCacheTTL},
			Size:        DefaultCacheSize,
		},
		Webhook: WebhookConfig{
			Timeout: Duration{DefaultWebhookTimeout},
		},
		Media: MediaConfig{
			DataRoot: DefaultMediaDataRoot,
			Timeout:  Duration{DefaultMediaTimeout},
		},
		EventLog: EventLogConfig{
			Retention: Duration{DefaultEventLogRetention},
			Schedule:  DefaultEventLogSchedule,
		},
		AMQP: AMQPConfig{
			Exchange: DefaultAMQPExchange,
		},
		Metrics: MetricsConfig{
			Path: DefaultMetricsPath,
		},
		Providers: ProvidersConfig{
			Timeout: Duration{DefaultProviderTimeout},
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
