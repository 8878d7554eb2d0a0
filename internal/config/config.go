// Package config handles configuration loading for sqlsentry.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"sqlsentry/internal/bridge"
	"sqlsentry/internal/checkpoint"
	"sqlsentry/internal/logstore"
	"sqlsentry/internal/monitor"
	"sqlsentry/internal/notify"
	"sqlsentry/internal/tui"
)

// Config holds the complete application configuration. Every binary
// loads the same file and reads the sections it needs.
type Config struct {
	Logging    LoggingConfig     `yaml:"logging"`
	Store      StoreConfig       `yaml:"store"`
	Monitor    monitor.Config    `yaml:"monitor"`
	Checkpoint checkpoint.Config `yaml:"checkpoint"`
	Telegram   notify.Config     `yaml:"telegram"`
	Bridge     bridge.Config     `yaml:"bridge"`
	Viewer     tui.Config        `yaml:"viewer"`
}

// StoreConfig groups the query-log store settings.
type StoreConfig struct {
	ClickHouse logstore.Config       `yaml:"clickhouse"`
	Mapping    logstore.Mapping      `yaml:"mapping"`
	Reader     logstore.ReaderConfig `yaml:"reader"`
	Writer     logstore.WriterConfig `yaml:"writer"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			ClickHouse: logstore.DefaultConfig(),
			Mapping:    logstore.DefaultMapping(),
			Reader:     logstore.DefaultReaderConfig(),
			Writer:     logstore.DefaultWriterConfig(),
		},
		Monitor:    monitor.DefaultConfig(),
		Checkpoint: checkpoint.DefaultConfig(),
		Telegram:   notify.DefaultConfig(),
		Bridge:     bridge.DefaultConfig(),
		Viewer:     tui.DefaultConfig(),
	}
}

// Load reads configuration from path, falling back to the SQLSENTRY_CONFIG
// environment variable and then to configs/config.yaml. A missing file is
// not an error; defaults and environment overrides still apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("SQLSENTRY_CONFIG")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Credentials
// in particular are expected to arrive this way rather than in the file.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("SQLSENTRY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("SQLSENTRY_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if addrs := os.Getenv("CLICKHOUSE_ADDR"); addrs != "" {
		c.Store.ClickHouse.Addrs = splitAndTrim(addrs)
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Store.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Store.ClickHouse.Username = user
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Store.ClickHouse.Password = pass
	}

	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		c.Telegram.Token = token
	}
	if chat := os.Getenv("TELEGRAM_CHAT_ID"); chat != "" {
		if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}

	if backend := os.Getenv("SQLSENTRY_CHECKPOINT_BACKEND"); backend != "" {
		c.Checkpoint.Backend = backend
	}
	if path := os.Getenv("SQLSENTRY_CHECKPOINT_PATH"); path != "" {
		c.Checkpoint.Path = path
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Checkpoint.Redis.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Checkpoint.Redis.Password = pass
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Bridge.Brokers = splitAndTrim(brokers)
	}
}

// splitAndTrim splits a comma separated list and drops empty entries.
func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return logstore.ValidIdentifier(fl.Field().String())
	})
	return v
}

// Validate checks the settings shared by every binary.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if len(c.Store.ClickHouse.Addrs) == 0 {
		return fmt.Errorf("at least one clickhouse address is required")
	}

	switch c.Checkpoint.Backend {
	case "", "file", "redis", "s3":
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.Backend == "redis" && c.Checkpoint.Redis.Addr == "" {
		return fmt.Errorf("checkpoint backend redis requires an address")
	}
	if c.Checkpoint.Backend == "s3" && c.Checkpoint.S3.Bucket == "" {
		return fmt.Errorf("checkpoint backend s3 requires a bucket")
	}

	return nil
}

// ValidateMonitor adds the checks only the monitor binary needs. Alerts
// cannot be delivered without telegram credentials, so their absence is
// fatal at startup rather than at the first dangerous query.
func (c *Config) ValidateMonitor() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required (telegram.token or TELEGRAM_BOT_TOKEN)")
	}
	if c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram chat id is required (telegram.chat_id or TELEGRAM_CHAT_ID)")
	}
	return nil
}

// NewLogger builds the slog logger the configuration describes.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
