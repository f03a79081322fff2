package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/swingbuddy/swingbuddy/internal/cache"
	"github.com/swingbuddy/swingbuddy/internal/errs"
)

const (
	contextKeyPrefix = "context:"
	minSaveTTL       = time.Minute
)

// Store persists conversation contexts in the TTL cache under
// context:<user_id> keys.
type Store struct {
	cache      cache.Store
	defaultTTL time.Duration
	now        func() time.Time
}

// Snapshot is the export format of all non-expired contexts.
type Snapshot struct {
	ID       string     `json:"id"`
	TakenAt  time.Time  `json:"taken_at"`
	Contexts []*Context `json:"contexts"`
}

func NewStore(c cache.Store, defaultTTL time.Duration) *Store {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Store{cache: c, defaultTTL: defaultTTL, now: time.Now}
}

func contextKey(userID int64) string {
	return contextKeyPrefix + strconv.FormatInt(userID, 10)
}

// Save serializes the context. The stored TTL follows the context expiry
// when one is set, with a one-minute floor so a near-expired context is
// still observable until swept.
func (s *Store) Save(ctx context.Context, conv *Context) error {
	if conv == nil {
		return errs.New(errs.ErrInvalidInput, "nil context")
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return errs.Wrap(errs.ErrInvalidInput, err, "marshal context")
	}
	if len(data) > MaxContextBytes {
		return errs.Newf(errs.ErrInvalidInput, "context exceeds %d bytes", MaxContextBytes)
	}
	ttl := s.defaultTTL
	if conv.ExpiresAt != nil {
		ttl = conv.ExpiresAt.Sub(s.now())
		if ttl < minSaveTTL {
			ttl = minSaveTTL
		}
	}
	return s.cache.SetEx(ctx, contextKey(conv.UserID), data, ttl)
}

// Load returns nil,nil when no live context exists. Expired contexts are
// deleted on read; malformed blobs are deleted and treated as absent.
func (s *Store) Load(ctx context.Context, userID int64) (*Context, error) {
	data, err := s.cache.Get(ctx, contextKey(userID))
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	conv := &Context{}
	if err := json.Unmarshal(data, conv); err != nil {
		log.WithFields(log.Fields{"user_id": userID, "error": err.Error()}).Warn("dropping malformed context blob")
		_ = s.cache.Del(ctx, contextKey(userID))
		return nil, nil
	}
	if conv.Expired(s.now()) {
		_ = s.cache.Del(ctx, contextKey(userID))
		return nil, nil
	}
	return conv, nil
}

func (s *Store) Delete(ctx context.Context, userID int64) error {
	return s.cache.Del(ctx, contextKey(userID))
}

func (s *Store) Exists(ctx context.Context, userID int64) (bool, error) {
	conv, err := s.Load(ctx, userID)
	if err != nil {
		return false, err
	}
	return conv != nil, nil
}

// Sweep walks all context keys and drops the expired and the undecodable
// ones. Per-key failures are counted, not fatal.
func (s *Store) Sweep(ctx context.Context) (removed int, err error) {
	keys, err := s.cache.Keys(ctx, contextKeyPrefix+"*")
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		data, err := s.cache.Get(ctx, key)
		if errors.Is(err, cache.ErrMiss) {
			continue
		}
		if err != nil {
			log.WithFields(log.Fields{"key": key, "error": err.Error()}).Warn("sweep: cant read context")
			continue
		}
		conv := &Context{}
		if err := json.Unmarshal(data, conv); err != nil || conv.Expired(s.now()) {
			if err := s.cache.Del(ctx, key); err != nil {
				log.WithFields(log.Fields{"key": key, "error": err.Error()}).Warn("sweep: cant delete context")
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// Snapshot exports every non-expired context as one blob.
func (s *Store) Snapshot(ctx context.Context) ([]byte, error) {
	keys, err := s.cache.Keys(ctx, contextKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		ID:      uuid.NewString(),
		TakenAt: s.now().UTC(),
	}
	for _, key := range keys {
		userID, err := strconv.ParseInt(strings.TrimPrefix(key, contextKeyPrefix), 10, 64)
		if err != nil {
			continue
		}
		conv, err := s.Load(ctx, userID)
		if err != nil || conv == nil {
			continue
		}
		snap.Contexts = append(snap.Contexts, conv)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Restore re-ingests a snapshot blob, skipping entries that expired since.
func (s *Store) Restore(ctx context.Context, blob []byte) (restored int, err error) {
	snap := &Snapshot{}
	if err := json.Unmarshal(blob, snap); err != nil {
		return 0, errs.Wrap(errs.ErrProtocol, err, "unmarshal snapshot")
	}
	for _, conv := range snap.Contexts {
		if conv == nil || conv.Expired(s.now()) {
			continue
		}
		if err := s.Save(ctx, conv); err != nil {
			log.WithFields(log.Fields{"user_id": conv.UserID, "error": err.Error()}).Warn("restore: cant save context")
			continue
		}
		restored++
	}
	return restored, nil
}
