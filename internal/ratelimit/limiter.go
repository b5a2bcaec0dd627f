// Package ratelimit implements a per-client fixed-window request limiter
// backed by Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "loanflash:ratelimit:"

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per client key in fixed windows. A Redis failure
// allows the request.
type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *slog.Logger
}

// NewRedisClient builds a pooled client with the timeouts the limiter expects.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}

func New(client *redis.Client, limit int, window time.Duration, logger *slog.Logger) (*Limiter, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client must not be nil")
	}
	if limit <= 0 {
		return nil, errors.New("ratelimit: limit must be positive")
	}
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{client: client, limit: limit, window: window, logger: logger}, nil
}

// Allow records one request for key and reports whether it is within the limit.
// A counter found without a TTL gets the window re-applied, so a lost EXPIRE
// cannot lock a client out.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	rk := keyPrefix + key

	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, rk)
		pttl = pipe.PTTL(ctx, rk)
		return nil
	})
	if err != nil {
		l.logger.Warn("rate limiter unavailable, allowing request", "key", key, "err", err)
		return Decision{Allowed: true, Remaining: l.limit}
	}

	retry := pttl.Val()
	if retry < 0 {
		if err := l.client.PExpire(ctx, rk, l.window).Err(); err != nil {
			l.logger.Warn("rate limiter expire failed", "key", key, "err", err)
		}
		retry = l.window
	}

	count := int(incr.Val())
	if count <= l.limit {
		return Decision{Allowed: true, Remaining: l.limit - count}
	}
	return Decision{Allowed: false, RetryAfter: retry}
}

func (l *Limiter) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis ping failed: %w", err)
	}
	return nil
}

func (l *Limiter) Close() error {
	return l.client.Close()
}

// ClientKey identifies the caller. Behind a trusted proxy it is the last
// X-Forwarded-For hop, the address that proxy saw; otherwise it is the host
// part of RemoteAddr and the header is ignored.
func ClientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			hops := strings.Split(xff, ",")
			if last := strings.TrimSpace(hops[len(hops)-1]); last != "" {
				return last
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
