package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dotbeacon/internal/pairing"
)

const redisSessionPrefix = "dotbeacon:session:"

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address  string
	Password string
	DB       int
	// TTL expires an idle session. Zero keeps it until cleared.
	TTL time.Duration
}

// RedisStore keeps the paired session in Redis so several service instances
// share one wallet pairing
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and checks it is reachable
func NewRedisStore(ctx context.Context, cfg RedisConfig, sessionKey string, logger logrus.FieldLogger) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if sessionKey == "" {
		sessionKey = DefaultSessionKey
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	logger.WithFields(logrus.Fields{
		"address": cfg.Address,
		"db":      cfg.DB,
	}).Info("Session store connected to Redis")

	return &RedisStore{
		client: client,
		key:    redisSessionPrefix + sessionKey,
		ttl:    cfg.TTL,
	}, nil
}

func (s *RedisStore) Load(ctx context.Context) (*pairing.AccountInfo, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var account pairing.AccountInfo
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &account, nil
}

func (s *RedisStore) Save(ctx context.Context, account *pairing.AccountInfo) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
