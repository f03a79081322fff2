package cache

import (
	"context"
	"encoding/binary"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/swingbuddy/swingbuddy/internal/errs"
)

// memoryStore serves redis-less development and tests. bigcache evicts per
// cache, not per entry, so every value carries an expiry envelope that Get
// checks before returning.
type memoryStore struct {
	cache *bigcache.BigCache
	mu    sync.Mutex
	now   func() time.Time
}

const envelopeHeaderLen = 8

// NewMemoryStore builds an in-process Store with the given upper bound on
// entry lifetime.
func NewMemoryStore(maxTTL time.Duration) (Store, error) {
	cfg := bigcache.DefaultConfig(maxTTL)
	cfg.CleanWindow = time.Minute
	cache, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrConfig, err, "init bigcache")
	}
	return &memoryStore{cache: cache, now: time.Now}, nil
}

func seal(value []byte, expiresAt time.Time) []byte {
	out := make([]byte, envelopeHeaderLen+len(value))
	binary.BigEndian.PutUint64(out, uint64(expiresAt.UnixNano()))
	copy(out[envelopeHeaderLen:], value)
	return out
}

func unseal(data []byte) (value []byte, expiresAt time.Time, ok bool) {
	if len(data) < envelopeHeaderLen {
		return nil, time.Time{}, false
	}
	nanos := int64(binary.BigEndian.Uint64(data))
	return data[envelopeHeaderLen:], time.Unix(0, nanos), true
}

func (s *memoryStore) get(key string) ([]byte, time.Time, error) {
	data, err := s.cache.Get(key)
	if err != nil {
		return nil, time.Time{}, ErrMiss
	}
	value, expiresAt, ok := unseal(data)
	if !ok || !expiresAt.After(s.now()) {
		_ = s.cache.Delete(key)
		return nil, time.Time{}, ErrMiss
	}
	return value, expiresAt, nil
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, _, err := s.get(key)
	return value, err
}

func (s *memoryStore) SetEx(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Set(key, seal(value, s.now().Add(ttl)))
}

func (s *memoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		_ = s.cache.Delete(key)
	}
	return nil
}

func (s *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _, err := s.get(key)
	return err == nil, nil
}

func (s *memoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	it := s.cache.Iterator()
	for it.SetNext() {
		entry, err := it.Value()
		if err != nil {
			continue
		}
		matched, err := path.Match(pattern, entry.Key())
		if err != nil || !matched {
			continue
		}
		if _, _, err := s.get(entry.Key()); err == nil {
			keys = append(keys, entry.Key())
		}
	}
	return keys, nil
}

func (s *memoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counter int64
	value, expiresAt, err := s.get(key)
	if err == nil {
		counter, err = strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			counter = 0
		}
	} else {
		// New counters live until Expire narrows them, as redis INCR does.
		expiresAt = s.now().Add(24 * time.Hour)
	}
	counter++
	if err := s.cache.Set(key, seal([]byte(strconv.FormatInt(counter, 10)), expiresAt)); err != nil {
		return 0, errs.Wrapf(errs.ErrTransient, err, "incr %s", key)
	}
	return counter, nil
}

func (s *memoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, _, err := s.get(key)
	if err != nil {
		return nil
	}
	return s.cache.Set(key, seal(value, s.now().Add(ttl)))
}

func (s *memoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, expiresAt, err := s.get(key)
	if err != nil {
		return -2 * time.Second, nil
	}
	return expiresAt.Sub(s.now()), nil
}

func (s *memoryStore) Ping(context.Context) error { return nil }

func (s *memoryStore) Close() error {
	return s.cache.Close()
}
