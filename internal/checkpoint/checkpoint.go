// Package checkpoint persists the monitor's cursor: the timestamp of the
// last processed query-log record. This single scalar is the only state that
// survives restarts.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCorrupt indicates a stored value that does not parse as a timestamp.
var ErrCorrupt = errors.New("checkpoint: corrupt stored value")

// Store persists the cursor. Load returning ok=false means no checkpoint
// exists yet; that is a valid initial state, not an error.
type Store interface {
	Load(ctx context.Context) (t time.Time, ok bool, err error)
	Save(ctx context.Context, t time.Time) error
	Close() error
}

// Config selects and configures the backend.
type Config struct {
	Backend string      `yaml:"backend"` // file, redis, or s3
	Path    string      `yaml:"path"`    // file backend
	Redis   RedisConfig `yaml:"redis"`
	S3      S3Config    `yaml:"s3"`
}

// DefaultConfig returns the file backend with its conventional path.
func DefaultConfig() Config {
	return Config{
		Backend: "file",
		Path:    "last_checked_time.txt",
		Redis:   DefaultRedisConfig(),
		S3:      DefaultS3Config(),
	}
}

// New builds the configured Store.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case "redis":
		return NewRedisStore(cfg.Redis)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("checkpoint: unknown backend %q", cfg.Backend)
	}
}

// format is the stored wire form of the cursor.
const format = time.RFC3339Nano

func parseValue(raw string) (time.Time, error) {
	t, err := time.Parse(format, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return t, nil
}
