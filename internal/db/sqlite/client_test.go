package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/swingbuddy/swingbuddy/internal/db"
	"github.com/swingbuddy/swingbuddy/internal/errs"
)

func newTestClient(t *testing.T) db.Client {
	t.Helper()
	client, err := NewSQLiteClient(context.Background(), filepath.Join(t.TempDir(), "test.db"), 2)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func seedUser(t *testing.T, client db.Client, telegramID int64, username string) *db.User {
	t.Helper()
	user, err := client.CreateUser(context.Background(), &db.User{
		TelegramID:   telegramID,
		UserName:     username,
		FirstName:    "Test",
		LanguageCode: "en",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func TestUserLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)

	user := seedUser(t, client, 111, "ann")
	if user.ID == 0 {
		t.Fatal("created user should have an id")
	}

	got, err := client.GetUserByTelegramID(ctx, 111)
	if err != nil {
		t.Fatalf("get by telegram id: %v", err)
	}
	if got.UserName != "ann" || got.LanguageCode != "en" {
		t.Fatalf("unexpected user %+v", got)
	}

	name := "Anna"
	location := "Berlin"
	lang := "ru"
	if err := client.UpdateUser(ctx, user.ID, db.UserPatch{
		FirstName:    &name,
		Location:     &location,
		LanguageCode: &lang,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = client.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FirstName != "Anna" || got.LanguageCode != "ru" {
		t.Fatalf("patch not applied: %+v", got)
	}
	if got.Location == nil || *got.Location != "Berlin" {
		t.Fatalf("location not applied: %+v", got.Location)
	}
	if got.UserName != "ann" {
		t.Fatal("nil patch fields must stay untouched")
	}

	if err := client.SetUserBanned(ctx, user.ID, true); err != nil {
		t.Fatalf("ban: %v", err)
	}
	got, _ = client.GetUser(ctx, user.ID)
	if !got.IsBanned || got.BannedAt == nil {
		t.Fatalf("ban not recorded: %+v", got)
	}

	if _, err := client.GetUserByTelegramID(ctx, 999); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUserSearchAndCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)
	seedUser(t, client, 1, "alice")
	seedUser(t, client, 2, "albert")
	seedUser(t, client, 3, "bob")

	found, err := client.SearchUsersByUsername(ctx, "al", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(found))
	}

	// LIKE metacharacters in the prefix must be literal.
	found, err = client.SearchUsersByUsername(ctx, "%", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("%% should match nothing literally, got %d", len(found))
	}

	total, err := client.CountUsers(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 users, got %d", total)
	}

	page, err := client.ListUsers(ctx, 1, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected 1 user on the page, got %d", len(page))
	}
}

func TestGroupMembership(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)
	user := seedUser(t, client, 10, "dancer")

	group, err := client.CreateGroup(ctx, &db.Group{TelegramID: -100, Title: "Swing Hall", Language: "en"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	group.Language = "ru"
	group.Title = "Swing Hall Berlin"
	if err := client.UpdateGroup(ctx, group); err != nil {
		t.Fatalf("update group: %v", err)
	}
	got, err := client.GetGroupByTelegramID(ctx, -100)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if got.Language != "ru" || got.Title != "Swing Hall Berlin" {
		t.Fatalf("group language should persist: %+v", got)
	}

	if err := client.AddGroupMember(ctx, group.ID, user.ID, db.RoleMember); err != nil {
		t.Fatalf("add member: %v", err)
	}
	// Upsert with a new role promotes in place.
	if err := client.AddGroupMember(ctx, group.ID, user.ID, db.RoleAdmin); err != nil {
		t.Fatalf("re-add member: %v", err)
	}

	groups, err := client.GetUserGroups(ctx, user.ID)
	if err != nil {
		t.Fatalf("user groups: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != group.ID {
		t.Fatalf("unexpected groups %+v", groups)
	}

	if err := client.SetGroupMemberRole(ctx, group.ID, user.ID, db.RoleModerator); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if err := client.RemoveGroupMember(ctx, group.ID, user.ID); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	groups, _ = client.GetUserGroups(ctx, user.ID)
	if len(groups) != 0 {
		t.Fatalf("membership should be gone, got %+v", groups)
	}
}

func TestEventLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)
	creator := seedUser(t, client, 20, "host")
	guest := seedUser(t, client, 21, "guest")

	past, err := client.CreateEvent(ctx, &db.Event{
		Title:     "Old Social",
		StartsAt:  time.Now().Add(-24 * time.Hour),
		Location:  "Studio A",
		CreatedBy: creator.ID,
	})
	if err != nil {
		t.Fatalf("create past event: %v", err)
	}
	upcoming, err := client.CreateEvent(ctx, &db.Event{
		Title:       "Lindy Night",
		Description: "Beginner friendly",
		StartsAt:    time.Now().Add(24 * time.Hour),
		Location:    "Studio B",
		CreatedBy:   creator.ID,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	list, err := client.ListUpcomingEvents(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("list upcoming: %v", err)
	}
	if len(list) != 1 || list[0].ID != upcoming.ID {
		t.Fatalf("only the future event should be listed, got %+v", list)
	}

	if err := client.AddParticipant(ctx, upcoming.ID, guest.ID); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	// Registering twice is fine.
	if err := client.AddParticipant(ctx, upcoming.ID, guest.ID); err != nil {
		t.Fatalf("re-add participant: %v", err)
	}
	count, err := client.CountParticipants(ctx, upcoming.ID)
	if err != nil {
		t.Fatalf("count participants: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 participant, got %d", count)
	}

	mine, err := client.GetUserEvents(ctx, guest.ID)
	if err != nil {
		t.Fatalf("user events: %v", err)
	}
	if len(mine) != 1 || mine[0].Title != "Lindy Night" {
		t.Fatalf("unexpected user events %+v", mine)
	}

	if err := client.RemoveParticipant(ctx, upcoming.ID, guest.ID); err != nil {
		t.Fatalf("remove participant: %v", err)
	}
	count, _ = client.CountParticipants(ctx, upcoming.ID)
	if count != 0 {
		t.Fatalf("expected 0 participants, got %d", count)
	}

	if err := client.DeleteEvent(ctx, past.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := client.GetEvent(ctx, past.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestStateAndCasRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)
	user := seedUser(t, client, 30, "stateful")

	state := &db.UserState{
		UserID:    user.ID,
		State:     "reviewing",
		Payload:   db.JSONDict{"page": []byte("2")},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := client.UpsertUserState(ctx, state); err != nil {
		t.Fatalf("upsert state: %v", err)
	}
	state.State = "closing"
	if err := client.UpsertUserState(ctx, state); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err := client.GetUserState(ctx, user.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if got.State != "closing" {
		t.Fatalf("upsert should replace, got %q", got.State)
	}

	expired := &db.UserState{
		UserID:    user.ID + 1000,
		State:     "stale",
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	if err := client.UpsertUserState(ctx, expired); err != nil {
		t.Fatalf("upsert expired: %v", err)
	}
	cleaned, err := client.CleanExpiredStates(ctx, time.Now())
	if err != nil {
		t.Fatalf("clean states: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("expected 1 cleaned state, got %d", cleaned)
	}
	if _, err := client.GetUserState(ctx, user.ID); err != nil {
		t.Fatalf("live state should survive: %v", err)
	}

	if err := client.CreateCasRecord(ctx, &db.CasRecord{
		UserID:   user.TelegramID,
		Offenses: 2,
		Reasons:  db.StringList{"spam", "flood"},
		IsBanned: true,
	}); err != nil {
		t.Fatalf("create record: %v", err)
	}
	records, err := client.GetCasRecords(ctx, user.TelegramID)
	if err != nil {
		t.Fatalf("get records: %v", err)
	}
	if len(records) != 1 || len(records[0].Reasons) != 2 {
		t.Fatalf("unexpected records %+v", records)
	}

	// Backdated rows keep their timestamp so retention cleanup can see them.
	old := time.Now().Add(-48 * time.Hour)
	if err := client.CreateCasRecord(ctx, &db.CasRecord{
		UserID:    user.TelegramID,
		Offenses:  1,
		Reasons:   db.StringList{"spam"},
		IsBanned:  true,
		CreatedAt: old,
	}); err != nil {
		t.Fatalf("create backdated record: %v", err)
	}
	removed, err := client.CleanCasRecords(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("clean records: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected the backdated record removed, got %d", removed)
	}

	removed, err = client.CleanCasRecords(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("clean records: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed record, got %d", removed)
	}
}
