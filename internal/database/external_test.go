package database

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// These tests need live services and skip unless pointed at one.

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx := context.Background()
	store, err := NewRedisStore(ctx, RedisConfig{Address: addr, TTL: time.Hour}, uuid.NewString(), nil)
	require.NoError(t, err)
	defer store.Close()

	testSessionStore(t, store)
}

func postgresTestConfig(t *testing.T) Config {
	host := os.Getenv("POSTGRES_TEST_HOST")
	if host == "" {
		t.Skip("POSTGRES_TEST_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("POSTGRES_TEST_PORT"))
	if port == 0 {
		port = 5432
	}
	return Config{
		Host:     host,
		Port:     port,
		User:     os.Getenv("POSTGRES_TEST_USER"),
		Password: os.Getenv("POSTGRES_TEST_PASSWORD"),
		Database: os.Getenv("POSTGRES_TEST_DB"),
		MaxConns: 4,
	}
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenPostgresStore(ctx, postgresTestConfig(t), uuid.NewString())
	require.NoError(t, err)
	defer store.Close()

	testSessionStore(t, store)

	_, err = store.db.GetPool().Exec(ctx, "TRUNCATE transfers")
	require.NoError(t, err)
	testTransferLog(t, store)
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := New(ctx, postgresTestConfig(t), nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, InitSchema(ctx, db))
	require.NoError(t, InitSchema(ctx, db))
}

func TestConfigValidate(t *testing.T) {
	valid := Config{Host: "localhost", Port: 5432, User: "dotbeacon", Database: "dotbeacon"}
	require.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*Config){
		"no host":   func(c *Config) { c.Host = "" },
		"bad port":  func(c *Config) { c.Port = 70000 },
		"no user":   func(c *Config) { c.User = "" },
		"no db":     func(c *Config) { c.Database = "" },
		"neg conns": func(c *Config) { c.MaxConns = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
