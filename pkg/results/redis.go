package results

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/callflow/callflow/pkg/errors"
)

// RedisConfig configures the Redis result store.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	Password string
	Database int

	// Prefix is prepended to every key (e.g., "callflow:run:")
	Prefix string

	// TTL is the lifetime of a stored run (0 = no expiration)
	TTL time.Duration

	// Timeout bounds each Redis operation
	Timeout time.Duration

	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns defaults for a local Redis.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:      address,
		Prefix:       "callflow:run:",
		TTL:          24 * time.Hour,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisStore shares completed runs between API instances.
type RedisStore struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to connect to Redis").
			WithContext("address", cfg.Address)
	}

	return &RedisStore{cfg: cfg, client: client}, nil
}

func (s *RedisStore) key(id string) string {
	return s.cfg.Prefix + id
}

func (s *RedisStore) latestKey() string {
	return s.cfg.Prefix + "latest"
}

// Put stores rec and points the latest marker at it in one transaction.
func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return errors.New(errors.CodeStoreFailed, "run has no id")
	}
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(rec.ID), data, s.cfg.TTL)
	pipe.Set(ctx, s.latestKey(), rec.ID, s.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "failed to store run").WithContext("run", rec.ID)
	}
	return nil
}

// Get returns the run with id.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.NotFound("run", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to load run").WithContext("run", id)
	}
	return Decode(data)
}

// Latest returns the most recently stored run.
func (s *RedisStore) Latest(ctx context.Context) (*Record, error) {
	id, err := s.client.Get(ctx, s.latestKey()).Result()
	if err == redis.Nil {
		return nil, errors.NotFound("run", "latest")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to load latest run")
	}
	return s.Get(ctx, id)
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
