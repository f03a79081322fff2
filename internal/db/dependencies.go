package db

import (
	"context"
	"time"
)

// UserRepo persists bot user profiles. Storage failures surface as
// errs.ErrTransient; absent rows as errs.ErrNotFound.
type UserRepo interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error)
	UpdateUser(ctx context.Context, id int64, patch UserPatch) error
	SetUserBanned(ctx context.Context, id int64, banned bool) error
	ListUsers(ctx context.Context, offset, limit int) ([]*User, error)
	SearchUsersByUsername(ctx context.Context, prefix string, limit int) ([]*User, error)
	CountUsers(ctx context.Context) (int64, error)
}

type GroupRepo interface {
	CreateGroup(ctx context.Context, group *Group) (*Group, error)
	GetGroupByTelegramID(ctx context.Context, telegramID int64) (*Group, error)
	UpdateGroup(ctx context.Context, group *Group) error
	AddGroupMember(ctx context.Context, groupID, userID int64, role string) error
	RemoveGroupMember(ctx context.Context, groupID, userID int64) error
	SetGroupMemberRole(ctx context.Context, groupID, userID int64, role string) error
	GetUserGroups(ctx context.Context, userID int64) ([]*Group, error)
	CountGroups(ctx context.Context) (int64, error)
}

type EventRepo interface {
	CreateEvent(ctx context.Context, event *Event) (*Event, error)
	GetEvent(ctx context.Context, id int64) (*Event, error)
	UpdateEvent(ctx context.Context, event *Event) error
	DeleteEvent(ctx context.Context, id int64) error
	ListUpcomingEvents(ctx context.Context, after time.Time, limit int) ([]*Event, error)
	ListGroupEvents(ctx context.Context, groupID int64) ([]*Event, error)
	AddParticipant(ctx context.Context, eventID, userID int64) error
	RemoveParticipant(ctx context.Context, eventID, userID int64) error
	CountParticipants(ctx context.Context, eventID int64) (int64, error)
	GetUserEvents(ctx context.Context, userID int64) ([]*Event, error)
	CountEvents(ctx context.Context) (int64, error)
}

// StateRepo keeps the relational mirror of per-user admin state plus the
// anti-spam action log.
type StateRepo interface {
	UpsertUserState(ctx context.Context, state *UserState) error
	GetUserState(ctx context.Context, userID int64) (*UserState, error)
	DeleteUserState(ctx context.Context, userID int64) error
	CleanExpiredStates(ctx context.Context, now time.Time) (int64, error)

	CreateCasRecord(ctx context.Context, record *CasRecord) error
	GetCasRecords(ctx context.Context, userID int64) ([]*CasRecord, error)
	CleanCasRecords(ctx context.Context, olderThan time.Time) (int64, error)
}

// Client bundles every repository the application touches.
type Client interface {
	UserRepo
	GroupRepo
	EventRepo
	StateRepo
	Close() error
}
