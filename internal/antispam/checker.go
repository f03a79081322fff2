package antispam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/swingbuddy/swingbuddy/internal/cache"
	"github.com/swingbuddy/swingbuddy/internal/errs"
)

const (
	cacheKeyPrefix = "cas:check:"

	batchChunkSize  = 10
	batchReqSpacing = 100 * time.Millisecond
)

// Verdict is the cached answer of the anti-spam oracle for one user. It is
// the sole source of truth for auto-ban decisions within its TTL window.
type Verdict struct {
	IsBanned   bool       `json:"is_banned"`
	Offenses   int        `json:"offenses"`
	Reasons    []string   `json:"reasons,omitempty"`
	SourceTime *time.Time `json:"source_time,omitempty"`
	CheckedAt  time.Time  `json:"checked_at"`
}

// Checker asks the external CAS-style oracle whether a user is a known
// spammer, caching verdicts and coalescing concurrent lookups.
type Checker struct {
	baseURL    string
	httpClient *http.Client
	cache      cache.Store
	ttl        time.Duration
	flight     singleflight.Group
	now        func() time.Time
}

func NewChecker(baseURL string, timeout time.Duration, store cache.Store, ttl time.Duration) *Checker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Checker{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      store,
		ttl:        ttl,
		now:        time.Now,
	}
}

func verdictKey(userID int64) string {
	return cacheKeyPrefix + strconv.FormatInt(userID, 10)
}

// Check returns the cached verdict when fresh, otherwise asks the oracle.
// Concurrent calls for the same user share one in-flight request. A
// Transient or Protocol error means "unknown": callers must fail open.
func (c *Checker) Check(ctx context.Context, userID int64) (*Verdict, error) {
	if verdict := c.cached(ctx, userID); verdict != nil {
		return verdict, nil
	}
	return c.refresh(userID)
}

// ForceCheck bypasses the cache and refreshes the entry.
func (c *Checker) ForceCheck(_ context.Context, userID int64) (*Verdict, error) {
	return c.refresh(userID)
}

func (c *Checker) cached(ctx context.Context, userID int64) *Verdict {
	data, err := c.cache.Get(ctx, verdictKey(userID))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			log.WithFields(log.Fields{"user_id": userID, "error": err.Error()}).Debug("cas cache read failed")
		}
		return nil
	}
	verdict := &Verdict{}
	if err := json.Unmarshal(data, verdict); err != nil {
		// Self-healing: purge entries we can no longer decode.
		_ = c.cache.Del(ctx, verdictKey(userID))
		return nil
	}
	return verdict
}

// refresh runs the oracle request under singleflight. The request context
// is detached from any single caller so one cancelled waiter cannot fail
// the shared flight.
func (c *Checker) refresh(userID int64) (*Verdict, error) {
	result, err, _ := c.flight.Do(verdictKey(userID), func() (any, error) {
		reqCtx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
		defer cancel()

		verdict, err := c.fetch(reqCtx, userID)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(verdict)
		if err == nil {
			if err := c.cache.SetEx(reqCtx, verdictKey(userID), data, c.ttl); err != nil {
				log.WithFields(log.Fields{"user_id": userID, "error": err.Error()}).Warn("cant cache cas verdict")
			}
		}
		return verdict, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Verdict), nil
}

type oracleResponse struct {
	OK     bool `json:"ok"`
	Result *struct {
		Offenses  int      `json:"offenses"`
		Messages  []string `json:"messages"`
		TimeAdded string   `json:"time_added"`
	} `json:"result"`
}

func (c *Checker) fetch(ctx context.Context, userID int64) (*Verdict, error) {
	endpoint := c.baseURL + "/check?user_id=" + url.QueryEscape(strconv.FormatInt(userID, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransient, err, "create oracle request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransient, err, "oracle request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, errs.Newf(errs.ErrTransient, "oracle status %d", resp.StatusCode)
	}

	var body oracleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errs.Wrap(errs.ErrProtocol, err, "decode oracle response")
	}
	if !body.OK {
		return nil, errs.New(errs.ErrProtocol, "oracle replied ok=false")
	}

	verdict := &Verdict{CheckedAt: c.now().UTC()}
	if body.Result != nil {
		verdict.Offenses = body.Result.Offenses
		verdict.IsBanned = body.Result.Offenses > 0
		verdict.Reasons = body.Result.Messages
		if body.Result.TimeAdded != "" {
			if ts, err := time.Parse(time.RFC3339, body.Result.TimeAdded); err == nil {
				verdict.SourceTime = &ts
			}
		}
	}
	return verdict, nil
}

// CheckBatch looks up many users in chunks of at most ten, spacing
// consecutive requests apart. Per-user failures are skipped.
func (c *Checker) CheckBatch(ctx context.Context, userIDs []int64) map[int64]*Verdict {
	verdicts := make(map[int64]*Verdict, len(userIDs))
	for start := 0; start < len(userIDs); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(userIDs) {
			end = len(userIDs)
		}
		for i, userID := range userIDs[start:end] {
			if start+i > 0 {
				select {
				case <-ctx.Done():
					return verdicts
				case <-time.After(batchReqSpacing):
				}
			}
			verdict, err := c.Check(ctx, userID)
			if err != nil {
				log.WithFields(log.Fields{"user_id": userID, "error": err.Error()}).Debug("batch check failed for user")
				continue
			}
			verdicts[userID] = verdict
		}
	}
	return verdicts
}

// ClearUser drops one cached verdict.
func (c *Checker) ClearUser(ctx context.Context, userID int64) error {
	return c.cache.Del(ctx, verdictKey(userID))
}

// ClearAll drops every cached verdict.
func (c *Checker) ClearAll(ctx context.Context) error {
	keys, err := c.cache.Keys(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return err
	}
	return c.cache.Del(ctx, keys...)
}

// Sweep removes undecodable verdict entries; expiry itself is handled by
// the store TTL. Returns the number of removed entries.
func (c *Checker) Sweep(ctx context.Context) (removed int, err error) {
	keys, err := c.cache.Keys(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		data, err := c.cache.Get(ctx, key)
		if errors.Is(err, cache.ErrMiss) {
			continue
		}
		if err != nil {
			log.WithFields(log.Fields{"key": key, "error": err.Error()}).Warn("sweep: cant read verdict")
			continue
		}
		verdict := &Verdict{}
		if err := json.Unmarshal(data, verdict); err != nil {
			if err := c.cache.Del(ctx, key); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
