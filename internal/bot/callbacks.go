package bot

import (
	"context"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/swingbuddy/swingbuddy/internal/db"
	"github.com/swingbuddy/swingbuddy/internal/i18n"
	"github.com/swingbuddy/swingbuddy/internal/policy/permissions"
	"github.com/swingbuddy/swingbuddy/internal/scenario"
)

// handleCallback routes a button press by its payload namespace. Payloads
// from messages that outlived their conversation answer politely and
// change nothing.
func (d *Dispatcher) handleCallback(ctx context.Context, update *Update, user *db.User) error {
	namespace, action, args := ParseCallback(update.CallbackData)
	switch namespace {
	case "lang":
		return d.callbackLanguage(ctx, update, user, action, args)
	case "location":
		return d.callbackLocation(ctx, update, user, action)
	case "event_register":
		return d.callbackRegistration(ctx, update, user, true, action)
	case "event_unregister":
		return d.callbackRegistration(ctx, update, user, false, action)
	case "calendar":
		return d.callbackEventCreation(ctx, update, user, action)
	case "admin":
		return d.callbackAdmin(ctx, update, user, action)
	case "group_setup":
		return d.callbackGroupSetup(ctx, update, user, action, args)
	default:
		log.WithField("data", update.CallbackData).Warn("unknown callback payload")
		return nil
	}
}

func (d *Dispatcher) expiredMenu(ctx context.Context, update *Update, user *db.User) error {
	return d.reply(ctx, update, user, "That menu has expired.")
}

// callbackLanguage handles both the onboarding picker (lang:<code>) and
// the /language picker (lang:set:<code>). Only the latter touches the
// profile directly; an onboarding button without a live onboarding context
// is a stale press.
func (d *Dispatcher) callbackLanguage(ctx context.Context, update *Update, user *db.User, action string, args []string) error {
	cfg := d.s.GetConfig()
	if action == "set" {
		if len(args) != 1 || !cfg.IsSupportedLanguage(args[0]) {
			return d.expiredMenu(ctx, update, user)
		}
		code := args[0]
		if err := d.s.GetDB().UpdateUser(ctx, user.ID, db.UserPatch{LanguageCode: &code}); err != nil {
			return err
		}
		text := i18n.Get("Language switched to %s.", code)
		_, err := d.s.GetGateway().SendText(ctx, update.ChatID,
			strings.Replace(text, "%s", i18n.GetLanguageName(code), 1))
		return err
	}

	code := action
	if !cfg.IsSupportedLanguage(code) {
		return d.expiredMenu(ctx, update, user)
	}
	conv, err := d.runner.Store().Load(ctx, user.TelegramID)
	if err != nil {
		return err
	}
	if conv == nil || !conv.At(scenario.Onboarding, scenario.StepLanguageSelection) {
		return d.expiredMenu(ctx, update, user)
	}
	// Answer the rest of onboarding in the chosen language right away.
	user.LanguageCode = code
	return d.advanceInput(ctx, update.ChatID, user, conv, code)
}

// callbackLocation accepts location:skip and location:<value> presses on
// the onboarding location step. Any other value rides the same validation
// as typed input.
func (d *Dispatcher) callbackLocation(ctx context.Context, update *Update, user *db.User, action string) error {
	conv, err := d.runner.Store().Load(ctx, user.TelegramID)
	if err != nil {
		return err
	}
	if conv == nil || !conv.At(scenario.Onboarding, scenario.StepLocationInput) {
		return d.expiredMenu(ctx, update, user)
	}
	if action == "skip" {
		return d.advanceInput(ctx, update.ChatID, user, conv, "")
	}
	step := d.runner.Registry().StepOf(conv)
	if step == nil {
		return d.expiredMenu(ctx, update, user)
	}
	if err := scenario.Validate(step.Validation, action); err != nil {
		return d.expiredMenu(ctx, update, user)
	}
	return d.advanceInput(ctx, update.ChatID, user, conv, action)
}

// callbackRegistration covers event_register:<id> and event_unregister:<id>.
func (d *Dispatcher) callbackRegistration(ctx context.Context, update *Update, user *db.User, join bool, rawID string) error {
	eventID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil
	}
	if join {
		return d.registerForEvent(ctx, update, user, eventID)
	}
	if err := d.s.GetDB().RemoveParticipant(ctx, eventID, user.ID); err != nil {
		return err
	}
	return d.reply(ctx, update, user, "You are off the list.")
}

// callbackEventCreation drives the event creation dialog buttons:
// calendar:skip on the description step, calendar:confirm and
// calendar:cancel on the summary.
func (d *Dispatcher) callbackEventCreation(ctx context.Context, update *Update, user *db.User, action string) error {
	switch action {
	case "skip":
		conv, err := d.runner.Store().Load(ctx, user.TelegramID)
		if err != nil {
			return err
		}
		if conv == nil || !conv.At(scenario.EventCreation, scenario.StepDescriptionInput) {
			return d.expiredMenu(ctx, update, user)
		}
		return d.advanceInput(ctx, update.ChatID, user, conv, "")
	case scenario.ChoiceConfirm, scenario.ChoiceCancel:
		conv, err := d.runner.Store().Load(ctx, user.TelegramID)
		if err != nil {
			return err
		}
		if conv == nil || !conv.At(scenario.EventCreation, scenario.StepConfirmation) {
			return d.expiredMenu(ctx, update, user)
		}
		return d.advanceInput(ctx, update.ChatID, user, conv, action)
	default:
		return nil
	}
}

func (d *Dispatcher) callbackAdmin(ctx context.Context, update *Update, user *db.User, action string) error {
	if !d.admins.IsBotAdmin(user.TelegramID) {
		return d.reply(ctx, update, user, "This command is for bot admins only.")
	}
	if action == "close" {
		if err := d.runner.Cancel(ctx, user.TelegramID); err != nil {
			return err
		}
		d.clearAdminState(ctx, user)
		return d.reply(ctx, update, user, "Admin panel closed.")
	}
	conv, err := d.runner.Store().Load(ctx, user.TelegramID)
	if err != nil {
		return err
	}
	if conv == nil || conv.Scenario != scenario.AdminPanel {
		return d.expiredMenu(ctx, update, user)
	}
	advanced, err := d.runner.Advance(ctx, user.TelegramID, action)
	if err != nil {
		return d.expiredMenu(ctx, update, user)
	}
	d.rememberAdminState(ctx, user, action)
	if action == scenario.StepMainMenu {
		return d.sendStepPrompt(ctx, update.ChatID, user, advanced)
	}
	return d.sendAdminSection(ctx, update.ChatID, user, action)
}

const adminStateTTL = time.Hour

// rememberAdminState mirrors the admin's current panel section into the
// relational state table and the cache, so a restart can tell where the
// panel was left and the sweeper can expire abandoned sessions.
func (d *Dispatcher) rememberAdminState(ctx context.Context, user *db.User, section string) {
	now := time.Now()
	if err := d.s.GetDB().UpsertUserState(ctx, &db.UserState{
		UserID:    user.ID,
		State:     section,
		ExpiresAt: now.Add(adminStateTTL),
		UpdatedAt: now,
	}); err != nil {
		log.WithError(err).Warn("cant record admin state")
	}
	if err := d.s.GetCache().SetEx(ctx, "user_state:"+i64(user.ID), []byte(section), adminStateTTL); err != nil {
		log.WithError(err).Debug("cant cache admin state")
	}
}

func (d *Dispatcher) clearAdminState(ctx context.Context, user *db.User) {
	if err := d.s.GetDB().DeleteUserState(ctx, user.ID); err != nil {
		log.WithError(err).Debug("cant drop admin state")
	}
	if err := d.s.GetCache().Del(ctx, "user_state:"+i64(user.ID)); err != nil {
		log.WithError(err).Debug("cant drop cached admin state")
	}
}

func (d *Dispatcher) sendAdminSection(ctx context.Context, chatID int64, user *db.User, section string) error {
	lang := userLang(user)
	dbc := d.s.GetDB()
	var text string

	switch section {
	case scenario.StepUserManagement:
		total, err := dbc.CountUsers(ctx)
		if err != nil {
			return err
		}
		recent, err := dbc.ListUsers(ctx, 0, 5)
		if err != nil {
			return err
		}
		lines := []string{i18n.Get("Users:", lang) + " " + i64(total), ""}
		for _, u := range recent {
			lines = append(lines, "• "+u.FullName()+" (@"+u.UserName+")")
		}
		text = strings.Join(lines, "\n")
	case scenario.StepGroupManagement:
		total, err := dbc.CountGroups(ctx)
		if err != nil {
			return err
		}
		text = i18n.Get("Groups:", lang) + " " + i64(total)
	case scenario.StepEventManagement:
		total, err := dbc.CountEvents(ctx)
		if err != nil {
			return err
		}
		text = i18n.Get("Events:", lang) + " " + i64(total)
	case scenario.StepSystemSettings:
		cfg := d.s.GetConfig()
		if !permissions.Allows(d.admins.Resolve(user.TelegramID, nil), permissions.RequiredForSettingsEdit) {
			text = i18n.Get("Settings are visible to the super admin only.", lang)
			break
		}
		text = strings.Join([]string{
			i18n.Get("Spam protection:", lang) + " " + onOff(cfg.Features.CASProtection, lang),
			i18n.Get("Auto-ban:", lang) + " " + onOff(cfg.CAS.AutoBan, lang),
			i18n.Get("Admin panel:", lang) + " " + onOff(cfg.Features.AdminPanel, lang),
		}, "\n")
	case scenario.StepStatistics:
		stats, err := d.renderStats(ctx, lang)
		if err != nil {
			return err
		}
		text = stats
	default:
		text = i18n.Get("Admin panel:", lang)
	}

	_, err := d.s.GetGateway().SendTextWithKeyboard(ctx, chatID, text, adminBackKeyboard(lang))
	return err
}

func onOff(v bool, lang string) string {
	if v {
		return i18n.Get("on", lang)
	}
	return i18n.Get("off", lang)
}
