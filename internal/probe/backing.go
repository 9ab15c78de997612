package probe

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

// n8n settings naming its backing services.
const (
	keyDBType         = "DB_TYPE"
	keyPostgresHost   = "DB_POSTGRESDB_HOST"
	keyPostgresPort   = "DB_POSTGRESDB_PORT"
	keyPostgresDB     = "DB_POSTGRESDB_DATABASE"
	keyPostgresUser   = "DB_POSTGRESDB_USER"
	keyPostgresPass   = "DB_POSTGRESDB_PASSWORD"
	keyPostgresSSL    = "DB_POSTGRESDB_SSL_ENABLED"
	keyExecutionsMode = "EXECUTIONS_MODE"
	keyRedisHost      = "QUEUE_BULL_REDIS_HOST"
	keyRedisPort      = "QUEUE_BULL_REDIS_PORT"
	keyRedisPassword  = "QUEUE_BULL_REDIS_PASSWORD"
	keyRedisDB        = "QUEUE_BULL_REDIS_DB"
)

// UsesPostgres reports whether the application is configured for Postgres.
func UsesPostgres(values map[string]string) bool {
	return strings.EqualFold(strings.TrimSpace(values[keyDBType]), "postgresdb")
}

// UsesQueue reports whether the application runs in queue mode on Redis.
func UsesQueue(values map[string]string) bool {
	return strings.EqualFold(strings.TrimSpace(values[keyExecutionsMode]), "queue")
}

// Postgres connects to the application database and pings it.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (p Postgres) Run(ctx context.Context, target Target, timeout time.Duration) Result {
	return run(ctx, p.Name(), timeout, func(ctx context.Context) (string, error) {
		dsn := postgresDSN(target.Values)
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return "", fmt.Errorf("connect: %w", err)
		}
		defer conn.Close(context.WithoutCancel(ctx))
		if err := conn.Ping(ctx); err != nil {
			return "", fmt.Errorf("ping: %w", err)
		}
		return "connected to " + conn.Config().Host, nil
	})
}

func postgresDSN(values map[string]string) string {
	host := valueOr(values, keyPostgresHost, "localhost")
	port := valueOr(values, keyPostgresPort, "5432")
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + valueOr(values, keyPostgresDB, "n8n"),
	}
	if user := values[keyPostgresUser]; user != "" {
		u.User = url.UserPassword(user, values[keyPostgresPass])
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	if strings.EqualFold(values[keyPostgresSSL], "true") {
		q.Set("sslmode", "require")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Redis pings the queue-mode Redis instance.
type Redis struct{}

func (Redis) Name() string { return "redis" }

func (p Redis) Run(ctx context.Context, target Target, timeout time.Duration) Result {
	return run(ctx, p.Name(), timeout, func(ctx context.Context) (string, error) {
		opts := redisOptions(target.Values)
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.MaxRetries = -1
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return "", fmt.Errorf("ping %s: %w", opts.Addr, err)
		}
		return "PONG from " + opts.Addr, nil
	})
}

func redisOptions(values map[string]string) *redis.Options {
	db, _ := strconv.Atoi(values[keyRedisDB])
	return &redis.Options{
		Addr:     net.JoinHostPort(valueOr(values, keyRedisHost, "localhost"), valueOr(values, keyRedisPort, "6379")),
		Password: values[keyRedisPassword],
		DB:       db,
	}
}

func valueOr(values map[string]string, key, fallback string) string {
	if v := strings.TrimSpace(values[key]); v != "" {
		return v
	}
	return fallback
}
