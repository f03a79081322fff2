package bot

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/swingbuddy/swingbuddy/internal/db"
	"github.com/swingbuddy/swingbuddy/internal/errs"
	"github.com/swingbuddy/swingbuddy/internal/i18n"
	"github.com/swingbuddy/swingbuddy/internal/observability"
	"github.com/swingbuddy/swingbuddy/internal/scenario"
)

// handleMemberJoined screens newcomers against the anti-spam oracle and
// records the membership. The bot joining a group starts the setup flow.
func (d *Dispatcher) handleMemberJoined(ctx context.Context, update *Update) error {
	self := d.s.GetGateway().GetSelf()
	cfg := d.s.GetConfig()

	for _, joinedID := range update.JoinedUserIDs {
		if self != nil && joinedID == self.ID {
			if err := d.startGroupSetup(ctx, update); err != nil {
				log.WithError(err).WithField("chat_id", update.ChatID).Error("cant start group setup")
			}
			continue
		}

		if cfg.Features.CASProtection {
			verdict, err := d.checker.Check(ctx, joinedID)
			if err != nil {
				observability.SpamVerdicts.WithLabelValues("unknown").Inc()
				log.WithError(err).WithField("user_id", joinedID).Warn("spam check failed, letting member in")
			} else if verdict.IsBanned {
				observability.SpamVerdicts.WithLabelValues("banned").Inc()
				if cfg.CAS.AutoBan {
					if err := d.banSpammer(ctx, update.ChatID, joinedID, 0, verdict); err != nil {
						log.WithError(err).WithField("user_id", joinedID).Error("cant ban joining spammer")
					}
					continue
				}
				log.WithField("user_id", joinedID).Warn("known spammer joined, auto-ban disabled")
			} else {
				observability.SpamVerdicts.WithLabelValues("clean").Inc()
			}
		}

		if err := d.recordMembership(ctx, update, joinedID, db.RoleMember); err != nil {
			log.WithError(err).WithField("user_id", joinedID).Warn("cant record group membership")
		}
	}
	return nil
}

// handleMemberStatus keeps the membership table in sync with promotions,
// demotions and departures. A status change of the bot itself in a group
// it just entered also starts the setup flow.
func (d *Dispatcher) handleMemberStatus(ctx context.Context, update *Update) error {
	if update.ChatKind != ChatGroup {
		return nil
	}
	self := d.s.GetGateway().GetSelf()
	if self != nil && update.StatusUserID == self.ID {
		switch update.NewStatus {
		case "member", "administrator":
			return d.startGroupSetup(ctx, update)
		default:
			return nil
		}
	}

	switch update.NewStatus {
	case "left", "kicked":
		group, err := d.s.GetDB().GetGroupByTelegramID(ctx, update.ChatID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil
			}
			return err
		}
		member, err := d.ensureUserByID(ctx, update.StatusUserID)
		if err != nil {
			return err
		}
		return d.s.GetDB().RemoveGroupMember(ctx, group.ID, member.ID)
	case "administrator", "creator":
		return d.recordMembership(ctx, update, update.StatusUserID, db.RoleAdmin)
	case "member":
		return d.recordMembership(ctx, update, update.StatusUserID, db.RoleMember)
	}
	return nil
}

func (d *Dispatcher) recordMembership(ctx context.Context, update *Update, telegramID int64, role string) error {
	group, err := d.ensureGroup(ctx, update.ChatID, update.ChatTitle)
	if err != nil {
		return err
	}
	member, err := d.ensureUserByID(ctx, telegramID)
	if err != nil {
		return err
	}
	return d.s.GetDB().AddGroupMember(ctx, group.ID, member.ID, role)
}

func (d *Dispatcher) ensureGroup(ctx context.Context, telegramID int64, title string) (*db.Group, error) {
	dbc := d.s.GetDB()
	group, err := dbc.GetGroupByTelegramID(ctx, telegramID)
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	return dbc.CreateGroup(ctx, &db.Group{
		TelegramID: telegramID,
		Title:      title,
		Language:   d.s.GetConfig().I18n.DefaultLanguage,
	})
}

// ensureUserByID creates a minimal profile row for users we only know by
// id, e.g. group members who never spoke to the bot directly.
func (d *Dispatcher) ensureUserByID(ctx context.Context, telegramID int64) (*db.User, error) {
	dbc := d.s.GetDB()
	user, err := dbc.GetUserByTelegramID(ctx, telegramID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	return dbc.CreateUser(ctx, &db.User{
		TelegramID:   telegramID,
		LanguageCode: d.s.GetConfig().I18n.DefaultLanguage,
	})
}

// startGroupSetup begins the setup conversation for the person who added
// the bot and posts the setup message in the group.
func (d *Dispatcher) startGroupSetup(ctx context.Context, update *Update) error {
	if update.UserID == 0 {
		return nil
	}
	group, err := d.ensureGroup(ctx, update.ChatID, update.ChatTitle)
	if err != nil {
		return err
	}
	initiator, err := d.ensureUserByID(ctx, update.UserID)
	if err != nil {
		return err
	}
	if err := d.s.GetDB().AddGroupMember(ctx, group.ID, initiator.ID, db.RoleAdmin); err != nil {
		log.WithError(err).Warn("cant record setup initiator")
	}

	if _, err := d.runner.Start(ctx, update.UserID, scenario.GroupSetup); err != nil {
		if errors.Is(err, errs.ErrInvalidTransition) {
			log.WithField("user_id", update.UserID).Debug("initiator busy with another conversation, skipping setup")
			return nil
		}
		return err
	}
	if _, err := d.runner.Mutate(ctx, update.UserID, scenario.SetData(scenario.DataSetupGroupID, update.ChatID)); err != nil {
		return err
	}
	return d.runGroupSetupCheck(ctx, update.UserID, update.ChatID, initiator)
}

// runGroupSetupCheck inspects the bot's own rights in the group and either
// moves on to configuration or asks for promotion. The posted setup
// message id is tracked in the context so the flow can clean it up at the
// end.
func (d *Dispatcher) runGroupSetupCheck(ctx context.Context, userID, groupChatID int64, initiator *db.User) error {
	gw := d.s.GetGateway()
	lang := userLang(initiator)
	self := gw.GetSelf()

	isAdmin := false
	if self != nil {
		member, err := gw.GetChatMember(ctx, groupChatID, self.ID)
		if err != nil {
			log.WithError(err).WithField("chat_id", groupChatID).Warn("cant check own rights")
		} else {
			isAdmin = member.IsAdministrator() || member.IsCreator()
		}
	}

	if err := d.deleteSetupMessage(ctx, userID, groupChatID); err != nil {
		log.WithError(err).Debug("cant delete previous setup message")
	}

	if !isAdmin {
		if _, err := d.runner.Advance(ctx, userID, scenario.StepPermissionRequest); err != nil {
			return err
		}
		msgID, err := gw.SendTextWithKeyboard(ctx, groupChatID,
			i18n.Get("Thanks for adding me! Please promote me to admin so I can keep spammers out, then press the button.", lang),
			[][]Button{{{Text: i18n.Get("I did it", lang), Data: "group_setup:recheck"}}})
		if err != nil {
			return err
		}
		_, err = d.runner.Mutate(ctx, userID, scenario.SetData(scenario.DataSetupMessageID, msgID))
		return err
	}

	if _, err := d.runner.Advance(ctx, userID, scenario.StepConfiguration); err != nil {
		return err
	}
	msgID, err := gw.SendTextWithKeyboard(ctx, groupChatID,
		i18n.Get("Almost done. Which language should I speak in this group?", lang),
		languageKeyboard(d.s.GetConfig().I18n.SupportedLanguages, "group_setup:lang:"))
	if err != nil {
		return err
	}
	_, err = d.runner.Mutate(ctx, userID, scenario.SetData(scenario.DataSetupMessageID, msgID))
	return err
}

func (d *Dispatcher) deleteSetupMessage(ctx context.Context, userID, groupChatID int64) error {
	conv, err := d.runner.Store().Load(ctx, userID)
	if err != nil || conv == nil {
		return err
	}
	msgID, ok := conv.GetInt(scenario.DataSetupMessageID)
	if !ok || msgID == 0 {
		return nil
	}
	return d.s.GetGateway().DeleteMessage(ctx, groupChatID, int(msgID))
}

// callbackGroupSetup handles the buttons of the in-group setup message.
func (d *Dispatcher) callbackGroupSetup(ctx context.Context, update *Update, user *db.User, action string, args []string) error {
	conv, err := d.runner.Store().Load(ctx, user.TelegramID)
	if err != nil {
		return err
	}
	if conv == nil || conv.Scenario != scenario.GroupSetup {
		return d.expiredMenu(ctx, update, user)
	}
	groupChatID, ok := conv.GetInt(scenario.DataSetupGroupID)
	if !ok {
		groupChatID = update.ChatID
	}

	switch action {
	case "recheck":
		if !conv.At(scenario.GroupSetup, scenario.StepPermissionRequest) {
			return d.expiredMenu(ctx, update, user)
		}
		if _, err := d.runner.Advance(ctx, user.TelegramID, scenario.StepPermissionCheck); err != nil {
			return err
		}
		return d.runGroupSetupCheck(ctx, user.TelegramID, groupChatID, user)
	case "lang":
		cfg := d.s.GetConfig()
		if len(args) != 1 || !cfg.IsSupportedLanguage(args[0]) {
			return nil
		}
		if !conv.At(scenario.GroupSetup, scenario.StepConfiguration) {
			return d.expiredMenu(ctx, update, user)
		}
		return d.finishGroupSetup(ctx, update, user, groupChatID, args[0])
	default:
		return nil
	}
}

func (d *Dispatcher) finishGroupSetup(ctx context.Context, update *Update, user *db.User, groupChatID int64, lang string) error {
	group, err := d.ensureGroup(ctx, groupChatID, update.ChatTitle)
	if err != nil {
		return err
	}
	group.Language = lang
	if err := d.s.GetDB().UpdateGroup(ctx, group); err != nil {
		return err
	}
	if _, err := d.runner.Advance(ctx, user.TelegramID, scenario.StepComplete); err != nil {
		return err
	}
	if err := d.deleteSetupMessage(ctx, user.TelegramID, groupChatID); err != nil {
		log.WithError(err).Debug("cant delete setup message")
	}
	if _, err := d.runner.Complete(ctx, user.TelegramID); err != nil {
		return err
	}
	_, err = d.s.GetGateway().SendText(ctx, groupChatID,
		i18n.Get("All set! I will watch over this group now.", lang))
	return err
}
