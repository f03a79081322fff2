package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type (
	// User is the bot's own profile record, keyed by an internal id with
	// the Telegram id held separately.
	User struct {
		ID           int64      `db:"id"`
		TelegramID   int64      `db:"telegram_id"`
		UserName     string     `db:"username"`
		FirstName    string     `db:"first_name"`
		LastName     string     `db:"last_name"`
		LanguageCode string     `db:"language_code"`
		Location     *string    `db:"location"`
		IsBanned     bool       `db:"is_banned"`
		CreatedAt    time.Time  `db:"created_at"`
		UpdatedAt    time.Time  `db:"updated_at"`
		BannedAt     *time.Time `db:"banned_at"`
	}

	// UserPatch carries partial profile updates; nil fields are left as-is.
	UserPatch struct {
		UserName     *string
		FirstName    *string
		LastName     *string
		LanguageCode *string
		Location     *string
	}

	Group struct {
		ID         int64     `db:"id"`
		TelegramID int64     `db:"telegram_id"`
		Title      string    `db:"title"`
		Language   string    `db:"language"`
		CreatedAt  time.Time `db:"created_at"`
		UpdatedAt  time.Time `db:"updated_at"`
	}

	GroupMember struct {
		GroupID  int64     `db:"group_id"`
		UserID   int64     `db:"user_id"`
		Role     string    `db:"role"`
		JoinedAt time.Time `db:"joined_at"`
	}

	Event struct {
		ID          int64     `db:"id"`
		GroupID     *int64    `db:"group_id"`
		Title       string    `db:"title"`
		Description string    `db:"description"`
		StartsAt    time.Time `db:"starts_at"`
		Location    string    `db:"location"`
		CreatedBy   int64     `db:"created_by"`
		CreatedAt   time.Time `db:"created_at"`
		UpdatedAt   time.Time `db:"updated_at"`
	}

	EventParticipant struct {
		EventID      int64     `db:"event_id"`
		UserID       int64     `db:"user_id"`
		RegisteredAt time.Time `db:"registered_at"`
	}

	// UserState is the relational mirror of transient per-user admin state.
	UserState struct {
		UserID    int64     `db:"user_id"`
		State     string    `db:"state"`
		Payload   JSONDict  `db:"payload"`
		ExpiresAt time.Time `db:"expires_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}

	// CasRecord logs a single anti-spam verdict that led to action.
	CasRecord struct {
		ID        int64      `db:"id"`
		UserID    int64      `db:"user_id"`
		Offenses  int        `db:"offenses"`
		Reasons   StringList `db:"reasons"`
		IsBanned  bool       `db:"is_banned"`
		CreatedAt time.Time  `db:"created_at"`
	}

	JSONDict   map[string]json.RawMessage
	StringList []string
)

const (
	RoleMember    = "member"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

func (d JSONDict) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	data, err := json.Marshal(d)
	return string(data), err
}

func (d *JSONDict) Scan(v any) error {
	return scanJSON(v, d)
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	return string(data), err
}

func (l *StringList) Scan(v any) error {
	return scanJSON(v, l)
}

func scanJSON(v, target any) error {
	switch data := v.(type) {
	case nil:
		return nil
	case string:
		return json.Unmarshal([]byte(data), target)
	case []byte:
		return json.Unmarshal(data, target)
	default:
		return fmt.Errorf("cannot scan type %T", v)
	}
}

// FullName renders the display name stored on the profile.
func (u *User) FullName() string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.UserName
	}
	return name
}
