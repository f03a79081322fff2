package bot

import (
	"context"
	"errors"
	"strconv"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/swingbuddy/swingbuddy/internal/antispam"
	"github.com/swingbuddy/swingbuddy/internal/db"
	"github.com/swingbuddy/swingbuddy/internal/errs"
	"github.com/swingbuddy/swingbuddy/internal/i18n"
	"github.com/swingbuddy/swingbuddy/internal/observability"
	"github.com/swingbuddy/swingbuddy/internal/policy/permissions"
	"github.com/swingbuddy/swingbuddy/internal/scenario"
)

const (
	staleUpdateAge = 5 * time.Minute

	userRateLimit  = 20
	rateWindowSize = time.Minute
)

// Dispatcher routes classified updates to handlers. All per-user work runs
// under that user's lock so concurrent updates cannot interleave context
// writes.
type Dispatcher struct {
	s       Service
	runner  *scenario.Runner
	checker *antispam.Checker
	admins  *permissions.AdminSet
	limiter *rateLimiter
	locks   *userLocks
}

func NewDispatcher(s Service, runner *scenario.Runner, checker *antispam.Checker) *Dispatcher {
	cfg := s.GetConfig()
	return &Dispatcher{
		s:       s,
		runner:  runner,
		checker: checker,
		admins:  permissions.NewAdminSet(cfg.Bot.AdminIDs),
		limiter: newRateLimiter(s.GetCache(), userRateLimit, rateWindowSize),
		locks:   newUserLocks(),
	}
}

// Process handles one raw platform update end to end. It never returns an
// error: failures are logged and counted, the poll loop keeps going.
func (d *Dispatcher) Process(ctx context.Context, raw *api.Update) {
	update := Classify(raw)
	if update.Kind == KindIgnored {
		observability.UpdatesProcessed.WithLabelValues(string(KindIgnored), "skipped").Inc()
		return
	}
	if age := time.Since(update.ReceivedAt); age > staleUpdateAge && update.Kind != KindButtonPress {
		log.WithFields(log.Fields{"kind": update.Kind, "age": age.String()}).Debug("skipping stale update")
		observability.UpdatesProcessed.WithLabelValues(string(update.Kind), "stale").Inc()
		return
	}

	timer := prometheus.NewTimer(observability.UpdateDuration.WithLabelValues(string(update.Kind)))
	defer timer.ObserveDuration()

	status := "ok"
	if err := d.dispatch(ctx, update); err != nil {
		status = "error"
		log.WithFields(log.Fields{
			"kind":    update.Kind,
			"user_id": update.UserID,
			"chat_id": update.ChatID,
		}).WithError(err).Error("cant process update")
	}
	observability.UpdatesProcessed.WithLabelValues(string(update.Kind), status).Inc()
}

func (d *Dispatcher) dispatch(ctx context.Context, update *Update) error {
	switch update.Kind {
	case KindMemberJoined, KindMemberStatus:
		// Group setup runs the scenario engine for the initiating user,
		// so member traffic takes the same per-user lock as their
		// commands and button presses.
		if update.UserID != 0 {
			d.locks.Lock(update.UserID)
			defer d.locks.Unlock(update.UserID)
		}
		if update.Kind == KindMemberJoined {
			return d.handleMemberJoined(ctx, update)
		}
		return d.handleMemberStatus(ctx, update)
	}

	if update.UserID == 0 {
		return nil
	}

	// Group traffic goes through the spam gate before anything else.
	if update.ChatKind == ChatGroup && update.Kind != KindButtonPress {
		banned, err := d.screenGroupMessage(ctx, update)
		if err != nil {
			log.WithError(err).WithField("user_id", update.UserID).Warn("spam screen failed, letting message through")
		}
		if banned {
			return nil
		}
	}

	// Callbacks are acknowledged immediately so the client stops its
	// spinner even when the handler takes a while.
	if update.Kind == KindButtonPress {
		if err := d.s.GetGateway().AnswerButtonPress(ctx, update.CallbackID, ""); err != nil {
			log.WithError(err).Debug("cant ack callback")
		}
	}

	d.locks.Lock(update.UserID)
	defer d.locks.Unlock(update.UserID)

	user, created, err := d.ensureUser(ctx, update)
	if err != nil {
		return err
	}
	update.NewUser = created

	switch update.Kind {
	case KindCommand:
		if !d.limiter.Allow(ctx, "user:"+i64(update.UserID)) {
			return d.reply(ctx, update, user, "Too many requests, please slow down.")
		}
		return d.handleCommand(ctx, update, user)
	case KindFreeText:
		if update.ChatKind != ChatPrivate {
			return nil
		}
		if !d.limiter.Allow(ctx, "user:"+i64(update.UserID)) {
			return d.reply(ctx, update, user, "Too many requests, please slow down.")
		}
		return d.handleFreeText(ctx, update, user)
	case KindButtonPress:
		return d.handleCallback(ctx, update, user)
	}
	return nil
}

// screenGroupMessage asks the anti-spam oracle about the author of a group
// message. A positive verdict removes the message and the member; an oracle
// failure lets the message through.
func (d *Dispatcher) screenGroupMessage(ctx context.Context, update *Update) (banned bool, err error) {
	cfg := d.s.GetConfig()
	if !cfg.Features.CASProtection {
		return false, nil
	}
	verdict, err := d.checker.Check(ctx, update.UserID)
	if err != nil {
		observability.SpamVerdicts.WithLabelValues("unknown").Inc()
		return false, err
	}
	if !verdict.IsBanned {
		observability.SpamVerdicts.WithLabelValues("clean").Inc()
		return false, nil
	}
	observability.SpamVerdicts.WithLabelValues("banned").Inc()
	if !cfg.CAS.AutoBan {
		log.WithField("user_id", update.UserID).Warn("known spammer posted, auto-ban disabled")
		return false, nil
	}
	return true, d.banSpammer(ctx, update.ChatID, update.UserID, update.MessageID, verdict)
}

func (d *Dispatcher) banSpammer(ctx context.Context, chatID, userID int64, messageID int, verdict *antispam.Verdict) error {
	gw := d.s.GetGateway()
	if messageID != 0 {
		if err := gw.DeleteMessage(ctx, chatID, messageID); err != nil {
			log.WithError(err).WithField("user_id", userID).Warn("cant delete spammer message")
		}
	}
	if err := gw.BanChatMember(ctx, chatID, userID); err != nil {
		return err
	}
	log.WithFields(log.Fields{"user_id": userID, "chat_id": chatID, "offenses": verdict.Offenses}).Info("banned known spammer")

	dbc := d.s.GetDB()
	record := &db.CasRecord{
		UserID:   userID,
		Offenses: verdict.Offenses,
		Reasons:  verdict.Reasons,
		IsBanned: true,
	}
	if err := dbc.CreateCasRecord(ctx, record); err != nil {
		log.WithError(err).Warn("cant log ban record")
	}
	if user, err := dbc.GetUserByTelegramID(ctx, userID); err == nil {
		if err := dbc.SetUserBanned(ctx, user.ID, true); err != nil {
			log.WithError(err).Warn("cant flag user banned")
		}
	}
	return nil
}

// ensureUser upserts the sender's profile row and returns it. Profile
// fields follow the platform between visits until onboarding overrides
// them.
func (d *Dispatcher) ensureUser(ctx context.Context, update *Update) (*db.User, bool, error) {
	dbc := d.s.GetDB()
	user, err := dbc.GetUserByTelegramID(ctx, update.UserID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, false, err
	}
	cfg := d.s.GetConfig()
	fresh := &db.User{TelegramID: update.UserID}
	if update.From != nil {
		fresh.UserName = update.From.UserName
		fresh.FirstName = update.From.FirstName
		fresh.LastName = update.From.LastName
		if cfg.IsSupportedLanguage(update.From.LanguageCode) {
			fresh.LanguageCode = update.From.LanguageCode
		}
	}
	if fresh.LanguageCode == "" {
		fresh.LanguageCode = cfg.I18n.DefaultLanguage
	}
	user, err = dbc.CreateUser(ctx, fresh)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// resolveLevel computes the sender's rank, consulting the chat only for
// group updates.
func (d *Dispatcher) resolveLevel(ctx context.Context, update *Update) permissions.Level {
	var member *api.ChatMember
	if update.ChatKind == ChatGroup {
		m, err := d.s.GetGateway().GetChatMember(ctx, update.ChatID, update.UserID)
		if err != nil {
			log.WithError(err).Debug("cant resolve chat member")
		} else {
			member = m
		}
	}
	return d.admins.Resolve(update.UserID, member)
}

func (d *Dispatcher) reply(ctx context.Context, update *Update, user *db.User, key string) error {
	_, err := d.s.GetGateway().SendText(ctx, update.ChatID, i18n.Get(key, userLang(user)))
	return err
}

func userLang(user *db.User) string {
	if user == nil {
		return ""
	}
	return user.LanguageCode
}

func i64(v int64) string {
	return strconv.FormatInt(v, 10)
}
