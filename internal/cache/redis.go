package cache

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v7"

	"github.com/swingbuddy/swingbuddy/internal/errs"
)

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis instance named by url and prefixes
// every key with prefix + ":".
func NewRedisStore(url, prefix string) (Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errs.Wrap(errs.ErrConfig, err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping().Err(); err != nil {
		return nil, errs.Wrap(errs.ErrTransient, err, "ping redis")
	}
	return &redisStore{client: client, prefix: prefix}, nil
}

func (s *redisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *redisStore) stripPrefix(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+":")
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.WithContext(ctx).Get(s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, errs.Wrapf(errs.ErrTransient, err, "get %s", key)
	}
	return data, nil
}

func (s *redisStore) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.WithContext(ctx).Set(s.key(key), value, ttl).Err(); err != nil {
		return errs.Wrapf(errs.ErrTransient, err, "set %s", key)
	}
	return nil
}

func (s *redisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}
	if err := s.client.WithContext(ctx).Del(prefixed...).Err(); err != nil {
		return errs.Wrap(errs.ErrTransient, err, "del")
	}
	return nil
}

func (s *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.WithContext(ctx).Exists(s.key(key)).Result()
	if err != nil {
		return false, errs.Wrapf(errs.ErrTransient, err, "exists %s", key)
	}
	return n > 0, nil
}

func (s *redisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.client.WithContext(ctx).Keys(s.key(pattern)).Result()
	if err != nil {
		return nil, errs.Wrapf(errs.ErrTransient, err, "keys %s", pattern)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.stripPrefix(k))
	}
	return out, nil
}

func (s *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.WithContext(ctx).Incr(s.key(key)).Result()
	if err != nil {
		return 0, errs.Wrapf(errs.ErrTransient, err, "incr %s", key)
	}
	return n, nil
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.WithContext(ctx).Expire(s.key(key), ttl).Err(); err != nil {
		return errs.Wrapf(errs.ErrTransient, err, "expire %s", key)
	}
	return nil
}

func (s *redisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.WithContext(ctx).TTL(s.key(key)).Result()
	if err != nil {
		return 0, errs.Wrapf(errs.ErrTransient, err, "ttl %s", key)
	}
	return ttl, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.WithContext(ctx).Ping().Err(); err != nil {
		return errs.Wrap(errs.ErrTransient, err, "ping")
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
