package bot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/swingbuddy/swingbuddy/internal/antispam"
	"github.com/swingbuddy/swingbuddy/internal/cache"
	"github.com/swingbuddy/swingbuddy/internal/config"
	"github.com/swingbuddy/swingbuddy/internal/db"
	"github.com/swingbuddy/swingbuddy/internal/db/sqlite"
	"github.com/swingbuddy/swingbuddy/internal/scenario"
)

type sentMessage struct {
	chatID int64
	text   string
	rows   [][]Button
}

type fakeGateway struct {
	mu      sync.Mutex
	self    api.User
	members map[string]*api.ChatMember

	sent    []sentMessage
	deleted []int
	banned  []int64
	nextID  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		self:    api.User{ID: 999, UserName: "swingbuddy_bot", IsBot: true},
		members: map[string]*api.ChatMember{},
	}
}

func memberKey(chatID, userID int64) string {
	return fmt.Sprintf("%d/%d", chatID, userID)
}

func (g *fakeGateway) SendText(_ context.Context, chatID int64, text string) (int, error) {
	return g.record(chatID, text, nil), nil
}

func (g *fakeGateway) SendTextWithKeyboard(_ context.Context, chatID int64, text string, rows [][]Button) (int, error) {
	return g.record(chatID, text, rows), nil
}

func (g *fakeGateway) record(chatID int64, text string, rows [][]Button) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.sent = append(g.sent, sentMessage{chatID: chatID, text: text, rows: rows})
	return g.nextID
}

func (g *fakeGateway) EditMessageText(_ context.Context, chatID int64, _ int, text string) error {
	g.record(chatID, text, nil)
	return nil
}

func (g *fakeGateway) AnswerButtonPress(context.Context, string, string) error { return nil }

func (g *fakeGateway) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, messageID)
	return nil
}

func (g *fakeGateway) BanChatMember(_ context.Context, _, userID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.banned = append(g.banned, userID)
	return nil
}

func (g *fakeGateway) GetChatMember(_ context.Context, chatID, userID int64) (*api.ChatMember, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if member, ok := g.members[memberKey(chatID, userID)]; ok {
		return member, nil
	}
	return &api.ChatMember{Status: "member"}, nil
}

func (g *fakeGateway) GetSelf() *api.User { return &g.self }

func (g *fakeGateway) lastMessage(t *testing.T) sentMessage {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return g.sent[len(g.sent)-1]
}

type testHarness struct {
	d       *Dispatcher
	gateway *fakeGateway
	db      db.Client
	store   *scenario.Store
}

func newTestHarness(t *testing.T, oracle http.HandlerFunc) *testHarness {
	t.Helper()

	cfg := *config.Defaults()
	cfg.Bot.Token = "test"
	cfg.Bot.AdminIDs = []int64{9000}
	cfg.Database.URL = "unused"
	cfg.Redis.URL = "unused"
	cfg.CAS.AutoBan = true

	if oracle == nil {
		oracle = func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"ok":true,"result":null}`)
		}
	}
	server := httptest.NewServer(oracle)
	t.Cleanup(server.Close)

	mem, err := cache.NewMemoryStore(scenario.MaxExpiry)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })

	dbClient, err := sqlite.NewSQLiteClient(context.Background(), filepath.Join(t.TempDir(), "bot.db"), 2)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbClient.Close() })

	registry := scenario.NewRegistry()
	if err := scenario.RegisterCatalog(registry, cfg.I18n.SupportedLanguages); err != nil {
		t.Fatalf("register catalog: %v", err)
	}
	store := scenario.NewStore(mem, time.Hour)
	runner := scenario.NewRunner(store, registry)
	checker := antispam.NewChecker(server.URL, time.Second, mem, time.Hour)

	gateway := newFakeGateway()
	service := NewService(gateway, dbClient, mem, cfg)
	return &testHarness{
		d:       NewDispatcher(service, runner, checker),
		gateway: gateway,
		db:      dbClient,
		store:   store,
	}
}

func privateUpdate(kind UpdateKind, userID int64) *Update {
	return &Update{
		Kind:       kind,
		UserID:     userID,
		ChatID:     userID,
		ChatKind:   ChatPrivate,
		ReceivedAt: time.Now(),
		From:       &api.User{ID: userID, FirstName: "Fresh", LanguageCode: "en"},
	}
}

func command(userID int64, name string) *Update {
	u := privateUpdate(KindCommand, userID)
	u.Command = name
	return u
}

func text(userID int64, body string) *Update {
	u := privateUpdate(KindFreeText, userID)
	u.Text = body
	return u
}

func buttonPress(userID int64, data string) *Update {
	u := privateUpdate(KindButtonPress, userID)
	u.CallbackID = "cb"
	u.CallbackData = data
	return u
}

func TestOnboardingHappyPath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, nil)

	if err := h.d.dispatch(ctx, command(42, "start")); err != nil {
		t.Fatalf("/start: %v", err)
	}
	welcome := h.gateway.lastMessage(t)
	if len(welcome.rows) == 0 {
		t.Fatal("language step should offer a keyboard")
	}

	if err := h.d.dispatch(ctx, buttonPress(42, "lang:ru")); err != nil {
		t.Fatalf("pick language: %v", err)
	}
	if err := h.d.dispatch(ctx, text(42, "Анна")); err != nil {
		t.Fatalf("send name: %v", err)
	}
	if err := h.d.dispatch(ctx, text(42, "Берлин")); err != nil {
		t.Fatalf("send location: %v", err)
	}

	user, err := h.db.GetUserByTelegramID(ctx, 42)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.FirstName != "Анна" || user.LanguageCode != "ru" {
		t.Fatalf("profile not committed: %+v", user)
	}
	if user.Location == nil || *user.Location != "Берлин" {
		t.Fatalf("location not committed: %+v", user.Location)
	}
	if exists, _ := h.store.Exists(ctx, 42); exists {
		t.Fatal("finished onboarding should leave no context behind")
	}
}

func TestOnboardingSkipLocation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, nil)

	if err := h.d.dispatch(ctx, command(43, "start")); err != nil {
		t.Fatalf("/start: %v", err)
	}
	if err := h.d.dispatch(ctx, buttonPress(43, "lang:en")); err != nil {
		t.Fatalf("pick language: %v", err)
	}
	if err := h.d.dispatch(ctx, text(43, "Ann")); err != nil {
		t.Fatalf("send name: %v", err)
	}
	if err := h.d.dispatch(ctx, buttonPress(43, "location:skip")); err != nil {
		t.Fatalf("skip location: %v", err)
	}

	user, err := h.db.GetUserByTelegramID(ctx, 43)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.Location != nil {
		t.Fatalf("skipped location should stay empty: %v", *user.Location)
	}
	if user.FirstName != "Ann" {
		t.Fatalf("name not committed: %+v", user)
	}
}

func TestOnboardingLocationButton(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, nil)

	if err := h.d.dispatch(ctx, command(47, "start")); err != nil {
		t.Fatalf("/start: %v", err)
	}
	if err := h.d.dispatch(ctx, buttonPress(47, "lang:en")); err != nil {
		t.Fatalf("pick language: %v", err)
	}
	if err := h.d.dispatch(ctx, text(47, "John Doe")); err != nil {
		t.Fatalf("send name: %v", err)
	}
	if err := h.d.dispatch(ctx, buttonPress(47, "location:Moscow")); err != nil {
		t.Fatalf("press location: %v", err)
	}

	user, err := h.db.GetUserByTelegramID(ctx, 47)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.Location == nil || *user.Location != "Moscow" {
		t.Fatalf("location not committed: %+v", user.Location)
	}
	if exists, _ := h.store.Exists(ctx, 47); exists {
		t.Fatal("finished onboarding should leave no context behind")
	}
}

func TestOnboardingInvalidNameKeepsStep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, nil)

	if err := h.d.dispatch(ctx, command(44, "start")); err != nil {
		t.Fatalf("/start: %v", err)
	}
	if err := h.d.dispatch(ctx, buttonPress(44, "lang:en")); err != nil {
		t.Fatalf("pick language: %v", err)
	}
	if err := h.d.dispatch(ctx, text(44, "123")); err != nil {
		t.Fatalf("send bad name: %v", err)
	}

	conv, err := h.store.Load(ctx, 44)
	if err != nil || conv == nil {
		t.Fatalf("load context: %v", err)
	}
	if !conv.At(scenario.Onboarding, scenario.StepNameInput) {
		t.Fatalf("invalid input must not advance, at %s/%s", conv.Scenario, conv.Step)
	}
}

func TestStaleLanguageButtonDoesNotMutate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, nil)

	// Seed a user with no active conversation.
	if err := h.d.dispatch(ctx, command(45, "help")); err != nil {
		t.Fatalf("/help: %v", err)
	}
	before, err := h.db.GetUserByTelegramID(ctx, 45)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}

	if err := h.d.dispatch(ctx, buttonPress(45, "lang:ru")); err != nil {
		t.Fatalf("stale press: %v", err)
	}
	after, err := h.db.GetUserByTelegramID(ctx, 45)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if after.LanguageCode != before.LanguageCode {
		t.Fatal("a stale onboarding button must not change the profile")
	}
	if msg := h.gateway.lastMessage(t); !strings.Contains(msg.text, "expired") {
		t.Fatalf("expected the expired-menu notice, got %q", msg.text)
	}
}

func TestLanguageCommandSetsLanguage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, nil)

	if err := h.d.dispatch(ctx, command(46, "language")); err != nil {
		t.Fatalf("/language: %v", err)
	}
	if err := h.d.dispatch(ctx, buttonPress(46, "lang:set:ru")); err != nil {
		t.Fatalf("set language: %v", err)
	}
	user, err := h.db.GetUserByTelegramID(ctx, 46)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.LanguageCode != "ru" {
		t.Fatalf("language not switched: %q", user.LanguageCode)
	}
}

func TestGroupMessageFromSpammerIsRemoved(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") == "666" {
			fmt.Fprint(w, `{"ok":true,"result":{"offenses":5,"messages":["spam"]}}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":null}`)
	})

	update := &Update{
		Kind:       KindFreeText,
		UserID:     666,
		ChatID:     -100,
		ChatKind:   ChatGroup,
		MessageID:  77,
		ReceivedAt: time.Now(),
		Text:       "buy cheap stuff",
		From:       &api.User{ID: 666},
	}
	if err := h.d.dispatch(ctx, update); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	h.gateway.mu.Lock()
	defer h.gateway.mu.Unlock()
	if len(h.gateway.banned) != 1 || h.gateway.banned[0] != 666 {
		t.Fatalf("spammer should be banned, got %v", h.gateway.banned)
	}
	if len(h.gateway.deleted) != 1 || h.gateway.deleted[0] != 77 {
		t.Fatalf("spam message should be deleted, got %v", h.gateway.deleted)
	}
	records, err := h.db.GetCasRecords(ctx, 666)
	if err != nil || len(records) != 1 {
		t.Fatalf("ban should be logged: %v %v", records, err)
	}
}

func TestGroupMessageOracleFailureFailsOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	update := &Update{
		Kind:       KindFreeText,
		UserID:     70,
		ChatID:     -100,
		ChatKind:   ChatGroup,
		MessageID:  5,
		ReceivedAt: time.Now(),
		Text:       "hello",
		From:       &api.User{ID: 70},
	}
	if err := h.d.dispatch(ctx, update); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	h.gateway.mu.Lock()
	defer h.gateway.mu.Unlock()
	if len(h.gateway.banned) != 0 || len(h.gateway.deleted) != 0 {
		t.Fatal("oracle failure must not punish anybody")
	}
}

func TestCancelCommand(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, nil)

	if err := h.d.dispatch(ctx, command(50, "start")); err != nil {
		t.Fatalf("/start: %v", err)
	}
	if err := h.d.dispatch(ctx, command(50, "cancel")); err != nil {
		t.Fatalf("/cancel: %v", err)
	}
	if exists, _ := h.store.Exists(ctx, 50); exists {
		t.Fatal("cancel should drop the context")
	}
}

func TestUnknownCallbackIsIgnored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, nil)
	if err := h.d.dispatch(ctx, buttonPress(51, "mystery:thing")); err != nil {
		t.Fatalf("unknown callback should be a no-op: %v", err)
	}
}

func TestAdminCommandRequiresRank(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, nil)

	if err := h.d.dispatch(ctx, command(52, "admin")); err != nil {
		t.Fatalf("/admin: %v", err)
	}
	if msg := h.gateway.lastMessage(t); !strings.Contains(msg.text, "admins only") {
		t.Fatalf("regular user should be refused, got %q", msg.text)
	}

	if err := h.d.dispatch(ctx, command(9000, "admin")); err != nil {
		t.Fatalf("/admin as admin: %v", err)
	}
	if msg := h.gateway.lastMessage(t); len(msg.rows) == 0 {
		t.Fatalf("admin should see the panel keyboard, got %q", msg.text)
	}

	if err := h.d.dispatch(ctx, buttonPress(9000, "admin:"+scenario.StepStatistics)); err != nil {
		t.Fatalf("open statistics: %v", err)
	}
	admin, err := h.db.GetUserByTelegramID(ctx, 9000)
	if err != nil {
		t.Fatalf("load admin: %v", err)
	}
	state, err := h.db.GetUserState(ctx, admin.ID)
	if err != nil {
		t.Fatalf("panel section should be recorded: %v", err)
	}
	if state.State != scenario.StepStatistics {
		t.Fatalf("recorded section %q", state.State)
	}

	if err := h.d.dispatch(ctx, buttonPress(9000, "admin:close")); err != nil {
		t.Fatalf("close panel: %v", err)
	}
	if _, err := h.db.GetUserState(ctx, admin.ID); err == nil {
		t.Fatal("closing the panel should drop the recorded section")
	}
	if exists, _ := h.store.Exists(ctx, 9000); exists {
		t.Fatal("closing the panel should drop the context")
	}
}

func TestEventCreationFlow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, nil)

	// The configured bot admin may create events anywhere.
	creator := command(9000, "create_event")
	if err := h.d.dispatch(ctx, creator); err != nil {
		t.Fatalf("/create_event: %v", err)
	}
	steps := []string{"Lindy Night", "A friendly social for all levels.", "2026-10-01", "19:30", "Studio B"}
	for _, input := range steps {
		if err := h.d.dispatch(ctx, text(9000, input)); err != nil {
			t.Fatalf("input %q: %v", input, err)
		}
	}
	if err := h.d.dispatch(ctx, buttonPress(9000, "calendar:confirm")); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	events, err := h.db.ListUpcomingEvents(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Title != "Lindy Night" {
		t.Fatalf("event not created: %+v", events)
	}
	if events[0].StartsAt.Format("2006-01-02 15:04") != "2026-10-01 19:30" {
		t.Fatalf("unexpected start %s", events[0].StartsAt)
	}

	// Register and unregister via the list buttons.
	if err := h.d.dispatch(ctx, command(60, "start")); err != nil {
		t.Fatalf("guest /start: %v", err)
	}
	if err := h.d.dispatch(ctx, command(60, "cancel")); err != nil {
		t.Fatalf("guest /cancel: %v", err)
	}
	if err := h.d.dispatch(ctx, buttonPress(60, fmt.Sprintf("event_register:%d", events[0].ID))); err != nil {
		t.Fatalf("register: %v", err)
	}
	count, err := h.db.CountParticipants(ctx, events[0].ID)
	if err != nil || count != 1 {
		t.Fatalf("expected 1 participant, got %d (%v)", count, err)
	}
	if err := h.d.dispatch(ctx, buttonPress(60, fmt.Sprintf("event_unregister:%d", events[0].ID))); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	count, _ = h.db.CountParticipants(ctx, events[0].ID)
	if count != 0 {
		t.Fatalf("expected 0 participants, got %d", count)
	}
}

func TestGroupSetupOnBotJoin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, nil)

	join := &Update{
		Kind:          KindMemberJoined,
		UserID:        80,
		ChatID:        -200,
		ChatKind:      ChatGroup,
		ChatTitle:     "Swing Hall",
		ReceivedAt:    time.Now(),
		From:          &api.User{ID: 80, FirstName: "Host"},
		JoinedUserIDs: []int64{999}, // the bot itself
	}
	if err := h.d.dispatch(ctx, join); err != nil {
		t.Fatalf("bot join: %v", err)
	}

	// Not an admin yet: the bot asks for promotion.
	msg := h.gateway.lastMessage(t)
	if msg.chatID != -200 || len(msg.rows) == 0 {
		t.Fatalf("expected a setup prompt in the group, got %+v", msg)
	}

	// Promote the bot, then press recheck.
	h.gateway.mu.Lock()
	h.gateway.members[memberKey(-200, 999)] = &api.ChatMember{Status: "administrator"}
	h.gateway.mu.Unlock()

	recheck := buttonPress(80, "group_setup:recheck")
	recheck.ChatID = -200
	recheck.ChatKind = ChatGroup
	if err := h.d.dispatch(ctx, recheck); err != nil {
		t.Fatalf("recheck: %v", err)
	}

	pick := buttonPress(80, "group_setup:lang:ru")
	pick.ChatID = -200
	pick.ChatKind = ChatGroup
	pick.ChatTitle = "Swing Hall"
	if err := h.d.dispatch(ctx, pick); err != nil {
		t.Fatalf("pick group language: %v", err)
	}

	group, err := h.db.GetGroupByTelegramID(ctx, -200)
	if err != nil {
		t.Fatalf("load group: %v", err)
	}
	if group.Language != "ru" {
		t.Fatalf("group language not persisted: %q", group.Language)
	}
	if exists, _ := h.store.Exists(ctx, 80); exists {
		t.Fatal("finished setup should leave no context behind")
	}
}

func TestMemberEventsSerializeWithUserLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, nil)

	join := &Update{
		Kind:          KindMemberJoined,
		UserID:        555,
		ChatID:        -400,
		ChatKind:      ChatGroup,
		ChatTitle:     "Back Room",
		ReceivedAt:    time.Now(),
		From:          &api.User{ID: 555},
		JoinedUserIDs: []int64{999},
	}

	h.d.locks.Lock(555)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.d.dispatch(ctx, join)
	}()

	select {
	case <-done:
		t.Fatal("member event must wait for the initiator's lock")
	case <-time.After(50 * time.Millisecond):
	}
	if exists, _ := h.store.Exists(ctx, 555); exists {
		t.Fatal("no context should appear while the lock is held")
	}

	h.d.locks.Unlock(555)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("member event never ran after the lock was released")
	}
	if exists, _ := h.store.Exists(ctx, 555); !exists {
		t.Fatal("group setup should have started once the lock was free")
	}
}

func TestMemberJoinSpammerIsBanned(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") == "777" {
			fmt.Fprint(w, `{"ok":true,"result":{"offenses":2,"messages":["spam"]}}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":null}`)
	})

	join := &Update{
		Kind:          KindMemberJoined,
		UserID:        81,
		ChatID:        -300,
		ChatKind:      ChatGroup,
		ChatTitle:     "Open Floor",
		ReceivedAt:    time.Now(),
		From:          &api.User{ID: 81},
		JoinedUserIDs: []int64{777, 778},
	}
	if err := h.d.dispatch(ctx, join); err != nil {
		t.Fatalf("join: %v", err)
	}

	h.gateway.mu.Lock()
	banned := append([]int64(nil), h.gateway.banned...)
	h.gateway.mu.Unlock()
	if len(banned) != 1 || banned[0] != 777 {
		t.Fatalf("only the listed spammer should be banned, got %v", banned)
	}

	// The clean member is on the books.
	group, err := h.db.GetGroupByTelegramID(ctx, -300)
	if err != nil {
		t.Fatalf("load group: %v", err)
	}
	clean, err := h.db.GetUserByTelegramID(ctx, 778)
	if err != nil {
		t.Fatalf("clean member should have a profile row: %v", err)
	}
	groups, err := h.db.GetUserGroups(ctx, clean.ID)
	if err != nil || len(groups) != 1 || groups[0].ID != group.ID {
		t.Fatalf("membership not recorded: %v %v", groups, err)
	}
}
