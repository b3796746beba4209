// Package store is the durable key/value adapter underneath the engine.
//
// Each entity lives under one string key. Values are opaque strings; callers
// own serialization and decide what a value that fails to decode means.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Store is a flat, per-user key/value namespace.
type Store interface {
	// Get returns the raw value and true, or "" and false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Clear deletes every key.
	Clear(ctx context.Context) error
	// Keys lists all keys in lexical order.
	Keys(ctx context.Context) ([]string, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	// sqlite
	Path string

	// redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// postgres
	PostgresDSN string
}

// Open constructs the backend named by opts.Backend.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite, "":
		return NewSQLiteStore(opts.Path, logger)
	case BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Prefix:   opts.RedisPrefix,
		}, logger)
	case BackendPostgres:
		return NewPostgresStore(ctx, opts.PostgresDSN, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// KeysWithPrefix filters Keys down to those starting with prefix.
func KeysWithPrefix(ctx context.Context, s Store, prefix string) ([]string, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := keys[:0:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}
