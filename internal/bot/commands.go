package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/swingbuddy/swingbuddy/internal/db"
	"github.com/swingbuddy/swingbuddy/internal/errs"
	"github.com/swingbuddy/swingbuddy/internal/i18n"
	"github.com/swingbuddy/swingbuddy/internal/policy/permissions"
	"github.com/swingbuddy/swingbuddy/internal/scenario"
)

const upcomingEventsLimit = 10

func (d *Dispatcher) handleCommand(ctx context.Context, update *Update, user *db.User) error {
	switch update.Command {
	case "start":
		return d.cmdStart(ctx, update, user)
	case "help":
		return d.cmdHelp(ctx, update, user)
	case "events":
		return d.cmdEvents(ctx, update, user)
	case "create_event":
		return d.cmdCreateEvent(ctx, update, user)
	case "register":
		return d.cmdRegister(ctx, update, user)
	case "admin":
		return d.cmdAdmin(ctx, update, user)
	case "language":
		return d.cmdLanguage(ctx, update, user)
	case "profile":
		return d.cmdProfile(ctx, update, user)
	case "stats":
		return d.cmdStats(ctx, update, user)
	case "cancel":
		return d.cmdCancel(ctx, update, user)
	default:
		if update.ChatKind != ChatPrivate {
			return nil
		}
		return d.reply(ctx, update, user, "Unknown command. Send /help for the list.")
	}
}

// cmdStart greets returning users and takes new ones through onboarding.
func (d *Dispatcher) cmdStart(ctx context.Context, update *Update, user *db.User) error {
	if update.ChatKind != ChatPrivate {
		return nil
	}
	if !update.NewUser {
		if conv, err := d.runner.Store().Load(ctx, user.TelegramID); err == nil && conv != nil {
			return d.sendStepPrompt(ctx, update.ChatID, user, conv)
		}
		if err := d.reply(ctx, update, user, "Welcome back! Send /events to see what is coming up."); err != nil {
			return err
		}
		return nil
	}
	conv, err := d.runner.Start(ctx, user.TelegramID, scenario.Onboarding)
	if err != nil {
		return err
	}
	return d.sendStepPrompt(ctx, update.ChatID, user, conv)
}

func (d *Dispatcher) cmdHelp(ctx context.Context, update *Update, user *db.User) error {
	lang := userLang(user)
	lines := []string{
		i18n.Get("Here is what I can do:", lang),
		"/events — " + i18n.Get("list upcoming events", lang),
		"/create_event — " + i18n.Get("create a new event", lang),
		"/register — " + i18n.Get("register for an event", lang),
		"/language — " + i18n.Get("change your language", lang),
		"/profile — " + i18n.Get("show your profile", lang),
		"/cancel — " + i18n.Get("cancel the current conversation", lang),
	}
	if d.admins.IsBotAdmin(user.TelegramID) {
		lines = append(lines,
			"/admin — "+i18n.Get("open the admin panel", lang),
			"/stats — "+i18n.Get("show bot statistics", lang),
		)
	}
	_, err := d.s.GetGateway().SendText(ctx, update.ChatID, strings.Join(lines, "\n"))
	return err
}

func (d *Dispatcher) cmdEvents(ctx context.Context, update *Update, user *db.User) error {
	lang := userLang(user)
	events, err := d.s.GetDB().ListUpcomingEvents(ctx, time.Now(), upcomingEventsLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return d.reply(ctx, update, user, "No upcoming events yet.")
	}
	gw := d.s.GetGateway()
	for _, event := range events {
		text := formatEvent(event, lang)
		rows := [][]Button{{
			{Text: i18n.Get("Register", lang), Data: "event_register:" + i64(event.ID)},
			{Text: i18n.Get("Unregister", lang), Data: "event_unregister:" + i64(event.ID)},
		}}
		if _, err := gw.SendTextWithKeyboard(ctx, update.ChatID, text, rows); err != nil {
			return err
		}
	}
	return nil
}

func formatEvent(event *db.Event, lang string) string {
	var b strings.Builder
	b.WriteString(event.Title)
	b.WriteString("\n")
	b.WriteString(i18n.Get("When:", lang) + " " + event.StartsAt.Format("2006-01-02 15:04"))
	b.WriteString("\n")
	b.WriteString(i18n.Get("Where:", lang) + " " + event.Location)
	if event.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(event.Description)
	}
	return b.String()
}

func (d *Dispatcher) cmdCreateEvent(ctx context.Context, update *Update, user *db.User) error {
	if update.ChatKind != ChatPrivate {
		return d.reply(ctx, update, user, "Let's do that in a private chat.")
	}
	level, err := d.eventManagerLevel(ctx, user)
	if err != nil {
		log.WithError(err).WithField("user_id", user.TelegramID).Debug("cant resolve group roles")
	}
	if !permissions.Allows(level, permissions.RequiredForEventManage) {
		return d.reply(ctx, update, user, "You need to be a group admin to create events.")
	}
	conv, err := d.runner.Start(ctx, user.TelegramID, scenario.EventCreation)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidTransition) {
			return d.reply(ctx, update, user, "Please finish the current conversation first, or send /cancel.")
		}
		return err
	}
	return d.sendStepPrompt(ctx, update.ChatID, user, conv)
}

// eventManagerLevel finds the highest rank the user holds across the
// groups the bot knows them in.
func (d *Dispatcher) eventManagerLevel(ctx context.Context, user *db.User) (permissions.Level, error) {
	if level := d.admins.Resolve(user.TelegramID, nil); level >= permissions.BotAdmin {
		return level, nil
	}
	groups, err := d.s.GetDB().GetUserGroups(ctx, user.ID)
	if err != nil {
		return permissions.User, err
	}
	best := permissions.User
	for _, group := range groups {
		member, err := d.s.GetGateway().GetChatMember(ctx, group.TelegramID, user.TelegramID)
		if err != nil {
			continue
		}
		if level := d.admins.Resolve(user.TelegramID, member); level > best {
			best = level
		}
	}
	return best, nil
}

func (d *Dispatcher) cmdRegister(ctx context.Context, update *Update, user *db.User) error {
	arg := strings.TrimSpace(update.CommandArgs)
	if arg == "" {
		return d.reply(ctx, update, user, "Usage: /register <event id>. Send /events to get the list.")
	}
	eventID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return d.reply(ctx, update, user, "Usage: /register <event id>. Send /events to get the list.")
	}
	return d.registerForEvent(ctx, update, user, eventID)
}

func (d *Dispatcher) registerForEvent(ctx context.Context, update *Update, user *db.User, eventID int64) error {
	dbc := d.s.GetDB()
	event, err := dbc.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return d.reply(ctx, update, user, "That event does not exist.")
		}
		return err
	}
	if err := dbc.AddParticipant(ctx, event.ID, user.ID); err != nil {
		return err
	}
	lang := userLang(user)
	text := fmt.Sprintf(i18n.Get("You are registered for %q.", lang), event.Title)
	_, err = d.s.GetGateway().SendText(ctx, update.ChatID, text)
	return err
}

func (d *Dispatcher) cmdAdmin(ctx context.Context, update *Update, user *db.User) error {
	if update.ChatKind != ChatPrivate {
		return nil
	}
	cfg := d.s.GetConfig()
	if !cfg.Features.AdminPanel {
		return d.reply(ctx, update, user, "The admin panel is disabled.")
	}
	if !permissions.Allows(d.admins.Resolve(user.TelegramID, nil), permissions.RequiredForAdminPanel) {
		return d.reply(ctx, update, user, "This command is for bot admins only.")
	}
	conv, err := d.runner.Start(ctx, user.TelegramID, scenario.AdminPanel)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidTransition) {
			return d.reply(ctx, update, user, "Please finish the current conversation first, or send /cancel.")
		}
		return err
	}
	return d.sendStepPrompt(ctx, update.ChatID, user, conv)
}

func (d *Dispatcher) cmdLanguage(ctx context.Context, update *Update, user *db.User) error {
	lang := userLang(user)
	rows := languageKeyboard(d.s.GetConfig().I18n.SupportedLanguages, "lang:set:")
	_, err := d.s.GetGateway().SendTextWithKeyboard(ctx, update.ChatID,
		i18n.Get("Choose your language:", lang), rows)
	return err
}

func (d *Dispatcher) cmdProfile(ctx context.Context, update *Update, user *db.User) error {
	lang := userLang(user)
	lines := []string{
		i18n.Get("Name:", lang) + " " + user.FullName(),
		i18n.Get("Language:", lang) + " " + i18n.GetLanguageName(user.LanguageCode),
	}
	if user.Location != nil && *user.Location != "" {
		lines = append(lines, i18n.Get("Location:", lang)+" "+*user.Location)
	}
	events, err := d.s.GetDB().GetUserEvents(ctx, user.ID)
	if err == nil && len(events) > 0 {
		lines = append(lines, "", i18n.Get("Your events:", lang))
		for _, event := range events {
			lines = append(lines, "• "+event.Title+" ("+event.StartsAt.Format("2006-01-02")+")")
		}
	}
	_, err = d.s.GetGateway().SendText(ctx, update.ChatID, strings.Join(lines, "\n"))
	return err
}

func (d *Dispatcher) cmdStats(ctx context.Context, update *Update, user *db.User) error {
	if !permissions.Allows(d.admins.Resolve(user.TelegramID, nil), permissions.RequiredForAdminPanel) {
		return d.reply(ctx, update, user, "This command is for bot admins only.")
	}
	text, err := d.renderStats(ctx, userLang(user))
	if err != nil {
		return err
	}
	_, err = d.s.GetGateway().SendText(ctx, update.ChatID, text)
	return err
}

const statsCacheTTL = time.Minute

type statsSnapshot struct {
	Users  int64 `json:"users"`
	Groups int64 `json:"groups"`
	Events int64 `json:"events"`
}

func (d *Dispatcher) renderStats(ctx context.Context, lang string) (string, error) {
	snap, err := d.loadStats(ctx)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		i18n.Get("Users:", lang) + " " + i64(snap.Users),
		i18n.Get("Groups:", lang) + " " + i64(snap.Groups),
		i18n.Get("Events:", lang) + " " + i64(snap.Events),
	}, "\n"), nil
}

// loadStats serves the counters from a short-lived cache entry so a canned
// admin panel cannot hammer the counting queries.
func (d *Dispatcher) loadStats(ctx context.Context) (*statsSnapshot, error) {
	const key = "query:stats"
	snap := &statsSnapshot{}
	if data, err := d.s.GetCache().Get(ctx, key); err == nil {
		if err := json.Unmarshal(data, snap); err == nil {
			return snap, nil
		}
	}

	dbc := d.s.GetDB()
	var err error
	if snap.Users, err = dbc.CountUsers(ctx); err != nil {
		return nil, err
	}
	if snap.Groups, err = dbc.CountGroups(ctx); err != nil {
		return nil, err
	}
	if snap.Events, err = dbc.CountEvents(ctx); err != nil {
		return nil, err
	}
	if data, err := json.Marshal(snap); err == nil {
		if err := d.s.GetCache().SetEx(ctx, key, data, statsCacheTTL); err != nil {
			log.WithError(err).Debug("stats cache write failed")
		}
	}
	return snap, nil
}


func (d *Dispatcher) cmdCancel(ctx context.Context, update *Update, user *db.User) error {
	if err := d.runner.Cancel(ctx, user.TelegramID); err != nil {
		return err
	}
	return d.reply(ctx, update, user, "Okay, cancelled.")
}
