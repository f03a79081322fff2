package scenario

import (
	"encoding/json"
	"time"

	"github.com/swingbuddy/swingbuddy/internal/errs"
)

// Size limits for the per-user data bag.
const (
	MaxDataEntries  = 50
	MaxEntryBytes   = 10 << 10
	MaxContextBytes = 100 << 10
	MaxExpiry       = 7 * 24 * time.Hour
)

// Context is the per-user record of where the user is inside a scenario
// plus the inputs accumulated so far. Scenario and Step are either both set
// (in-dialog) or both empty (idle).
type Context struct {
	UserID    int64                      `json:"user_id"`
	Scenario  string                     `json:"scenario,omitempty"`
	Step      string                     `json:"step,omitempty"`
	Data      map[string]json.RawMessage `json:"data,omitempty"`
	ExpiresAt *time.Time                 `json:"expires_at,omitempty"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

func NewContext(userID int64) *Context {
	return &Context{
		UserID:    userID,
		Data:      map[string]json.RawMessage{},
		UpdatedAt: time.Now().UTC(),
	}
}

func (c *Context) Idle() bool {
	return c.Scenario == "" && c.Step == ""
}

// At reports whether the context currently sits on the given step.
func (c *Context) At(scenarioID, stepID string) bool {
	return c.Scenario == scenarioID && c.Step == stepID
}

// Expired treats an expiry exactly at now as expired.
func (c *Context) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

func (c *Context) touch() {
	c.UpdatedAt = time.Now().UTC()
}

// Start enters the scenario at its initial step. The caller resolves sc
// through the registry; a nil sc means the scenario is not registered.
func (c *Context) Start(sc *Scenario) error {
	if sc == nil {
		return errs.New(errs.ErrInvalidTransition, "scenario is not registered")
	}
	c.Scenario = sc.ID
	c.Step = sc.InitialStep
	if c.Data == nil {
		c.Data = map[string]json.RawMessage{}
	}
	if sc.MaxDuration > 0 {
		d := sc.MaxDuration
		if d > MaxExpiry {
			d = MaxExpiry
		}
		expiresAt := time.Now().UTC().Add(d)
		c.ExpiresAt = &expiresAt
	} else {
		c.ExpiresAt = nil
	}
	c.touch()
	return nil
}

// Advance moves to next, which must be a declared transition of the
// current step in sc.
func (c *Context) Advance(sc *Scenario, next string) error {
	if c.Idle() {
		return errs.New(errs.ErrInvalidTransition, "no active scenario")
	}
	if sc == nil || sc.ID != c.Scenario {
		return errs.Newf(errs.ErrInvalidTransition, "scenario %q is not active", c.Scenario)
	}
	step := sc.Steps[c.Step]
	if step == nil {
		return errs.Newf(errs.ErrInvalidTransition, "unknown current step %q", c.Step)
	}
	if !step.CanTransitionTo(next) {
		return errs.Newf(errs.ErrInvalidTransition, "no transition %s -> %s in %s", c.Step, next, c.Scenario)
	}
	c.Step = next
	c.touch()
	return nil
}

// Complete leaves the dialog. The data bag survives on the value so that
// completion side effects can still read accumulated inputs before the
// stored copy is deleted.
func (c *Context) Complete() {
	c.Scenario = ""
	c.Step = ""
	c.ExpiresAt = nil
	c.touch()
}

// Cancel leaves the dialog and drops accumulated inputs.
func (c *Context) Cancel() {
	c.Scenario = ""
	c.Step = ""
	c.ExpiresAt = nil
	c.Data = map[string]json.RawMessage{}
	c.touch()
}

// SetData stores a value under key, enforcing the entry and total size
// limits before mutating anything.
func (c *Context) SetData(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errs.Wrapf(errs.ErrInvalidInput, err, "marshal data %q", key)
	}
	if len(raw) > MaxEntryBytes {
		return errs.Newf(errs.ErrInvalidInput, "data entry %q exceeds %d bytes", key, MaxEntryBytes)
	}
	if c.Data == nil {
		c.Data = map[string]json.RawMessage{}
	}
	if _, exists := c.Data[key]; !exists && len(c.Data) >= MaxDataEntries {
		return errs.Newf(errs.ErrInvalidInput, "data bag is full (%d entries)", MaxDataEntries)
	}

	previous, hadPrevious := c.Data[key]
	c.Data[key] = raw
	total, err := json.Marshal(c)
	if err == nil && len(total) > MaxContextBytes {
		err = errs.Newf(errs.ErrInvalidInput, "context exceeds %d bytes", MaxContextBytes)
	}
	if err != nil {
		if hadPrevious {
			c.Data[key] = previous
		} else {
			delete(c.Data, key)
		}
		return err
	}
	c.touch()
	return nil
}

// GetData decodes the value under key into target.
func (c *Context) GetData(key string, target any) error {
	raw, ok := c.Data[key]
	if !ok {
		return errs.Newf(errs.ErrNotFound, "no data %q", key)
	}
	return json.Unmarshal(raw, target)
}

// GetString is a convenience accessor for string-typed entries.
func (c *Context) GetString(key string) (string, bool) {
	var s string
	if err := c.GetData(key, &s); err != nil {
		return "", false
	}
	return s, true
}

// GetInt is a convenience accessor for integer-typed entries.
func (c *Context) GetInt(key string) (int64, bool) {
	var n int64
	if err := c.GetData(key, &n); err != nil {
		return 0, false
	}
	return n, true
}

func (c *Context) DeleteData(key string) {
	delete(c.Data, key)
	c.touch()
}

// ExtendExpiry pushes the expiry d into the future, capped at MaxExpiry.
func (c *Context) ExtendExpiry(d time.Duration) error {
	if d <= 0 {
		return errs.New(errs.ErrInvalidInput, "expiry extension must be positive")
	}
	if d > MaxExpiry {
		d = MaxExpiry
	}
	expiresAt := time.Now().UTC().Add(d)
	c.ExpiresAt = &expiresAt
	c.touch()
	return nil
}

func (c *Context) ClearExpiry() {
	c.ExpiresAt = nil
	c.touch()
}
