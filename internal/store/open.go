package store

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Options selects and configures a storage backend.
type Options struct {
	Backend     string
	RedisURL    string
	RedisPrefix string
	DatabaseURL string
}

// ResolveBackend applies the selection rule used when no backend is named explicitly:
// Redis when a Redis URL is configured, then PostgreSQL, then memory.
func ResolveBackend(opts Options) string {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend != "" {
		return backend
	}
	switch {
	case strings.TrimSpace(opts.RedisURL) != "":
		return BackendRedis
	case strings.TrimSpace(opts.DatabaseURL) != "":
		return BackendPostgres
	default:
		return BackendMemory
	}
}

// Open connects the selected backend and verifies it is reachable.
func Open(ctx context.Context, opts Options) (Store, error) {
	backend := ResolveBackend(opts)
	switch backend {
	case BackendMemory:
		log.Printf("level=warn component=store msg=\"using in-memory store; state is lost on restart and cannot be shared between instances\"")
		return NewMemoryStore(), nil

	case BackendRedis:
		if strings.TrimSpace(opts.RedisURL) == "" {
			return nil, fmt.Errorf("redis backend selected but REDIS_URL is empty")
		}
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("unable to connect to redis: %w", err)
		}
		log.Printf("level=info component=store msg=\"redis store connected\" prefix=%s", opts.RedisPrefix)
		return NewRedisStore(client, opts.RedisPrefix), nil

	case BackendPostgres:
		if strings.TrimSpace(opts.DatabaseURL) == "" {
			return nil, fmt.Errorf("postgres backend selected but DATABASE_URL is empty")
		}
		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("unable to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("unable to connect to database: %w", err)
		}
		pg := NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		log.Printf("level=info component=store msg=\"postgres store connected\"")
		return pg, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
