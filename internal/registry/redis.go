package registry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "safegate:conn:"

// redisStore implements Store backed by a Redis instance. Entry expiry is
// delegated to Redis key TTLs so stale connections age out without a
// sweeper.
type redisStore struct {
	client redis.UniversalClient
}

// NewClient connects to the given Redis URL. The same client can back
// both the connection registry and the work-order store.
func NewClient(addr string) (redis.UniversalClient, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewRedisStore connects to the given Redis URL and returns a Store.
func NewRedisStore(addr string) (Store, error) {
	c, err := NewClient(addr)
	if err != nil {
		return nil, err
	}
	return &redisStore{client: c}, nil
}

// NewRedisStoreWithClient wraps an existing client as a Store.
func NewRedisStoreWithClient(client redis.UniversalClient) Store {
	return &redisStore{client: client}
}

// parseRedisURL parses addr into UniversalOptions supporting single,
// cluster, and sentinel Redis deployments. If no scheme is present, addr
// is treated as a plain host:port string.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = strings.Split(u.Host, ",")

	q := u.Query()
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	switch u.Scheme {
	case "redis", "rediss":
		if u.Path != "" && u.Path != "/" {
			if db, err := strconv.Atoi(strings.TrimPrefix(u.Path, "/")); err == nil {
				opts.DB = db
			} else {
				return nil, fmt.Errorf("redis: invalid db: %v", err)
			}
		} else if dbStr := q.Get("db"); dbStr != "" {
			if db, err := strconv.Atoi(dbStr); err == nil {
				opts.DB = db
			} else {
				return nil, fmt.Errorf("redis: invalid db: %v", err)
			}
		}
		if u.Scheme == "rediss" {
			opts.TLSConfig = tlsCfg
		}
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = strings.TrimPrefix(u.Path, "/")
		if dbStr := q.Get("db"); dbStr != "" {
			if db, err := strconv.Atoi(dbStr); err == nil {
				opts.DB = db
			} else {
				return nil, fmt.Errorf("redis: invalid db: %v", err)
			}
		}
		if v := q.Get("sentinel_username"); v != "" {
			opts.SentinelUsername = v
		}
		if v := q.Get("sentinel_password"); v != "" {
			opts.SentinelPassword = v
		}
		if u.Scheme == "rediss-sentinel" {
			opts.TLSConfig = tlsCfg
		}
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}

	return opts, nil
}

func (r *redisStore) Put(ctx context.Context, connectionID string, ttl time.Duration) error {
	now := time.Now()
	b, err := json.Marshal(Entry{
		ConnectionID: connectionID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, keyPrefix+connectionID, b, ttl).Err()
}

func (r *redisStore) Delete(ctx context.Context, connectionID string) error {
	return r.client.Del(ctx, keyPrefix+connectionID).Err()
}

func (r *redisStore) Exists(ctx context.Context, connectionID string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+connectionID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
