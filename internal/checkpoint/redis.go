package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// DefaultRedisConfig returns settings for a local redis instance.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr: "localhost:6379",
		Key:  "sqlsentry:checkpoint",
	}
}

// RedisStore keeps the cursor under a single redis key so multiple
// monitor hosts can share it.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	key := cfg.Key
	if key == "" {
		key = DefaultRedisConfig().Key
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("checkpoint: connect to redis %s: %w", cfg.Addr, err)
	}

	return &RedisStore{client: client, key: key}, nil
}

// Load reads the cursor. A missing key means no checkpoint yet.
func (s *RedisStore) Load(ctx context.Context) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("checkpoint: get %s: %w", s.key, err)
	}

	t, err := parseValue(val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w (key %s)", err, s.key)
	}
	return t, true, nil
}

// Save writes the cursor. The key never expires.
func (s *RedisStore) Save(ctx context.Context, t time.Time) error {
	if err := s.client.Set(ctx, s.key, t.Format(format), 0).Err(); err != nil {
		return fmt.Errorf("checkpoint: set %s: %w", s.key, err)
	}
	return nil
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
