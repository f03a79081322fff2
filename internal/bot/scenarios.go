package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/swingbuddy/swingbuddy/internal/db"
	"github.com/swingbuddy/swingbuddy/internal/errs"
	"github.com/swingbuddy/swingbuddy/internal/i18n"
	"github.com/swingbuddy/swingbuddy/internal/scenario"
)

// handleFreeText feeds a private message into the user's active scenario.
func (d *Dispatcher) handleFreeText(ctx context.Context, update *Update, user *db.User) error {
	conv, err := d.runner.Store().Load(ctx, user.TelegramID)
	if err != nil {
		return err
	}
	if conv == nil || conv.Idle() {
		return d.reply(ctx, update, user, "I am not sure what you mean. Send /help for the list of commands.")
	}
	step := d.runner.Registry().StepOf(conv)
	if step == nil {
		// The registered flow changed under a stored context. Drop it.
		_ = d.runner.Cancel(ctx, user.TelegramID)
		return d.reply(ctx, update, user, "Sorry, that conversation is no longer available. Let's start over.")
	}
	if !step.RequiresInput {
		return d.sendStepPrompt(ctx, update.ChatID, user, conv)
	}

	input := strings.TrimSpace(update.Text)
	if step.Skippable && strings.EqualFold(input, "skip") {
		return d.advanceInput(ctx, update.ChatID, user, conv, "")
	}
	if step.Validation != nil {
		if err := scenario.Validate(step.Validation, input); err != nil {
			if errors.Is(err, errs.ErrInvalidInput) {
				_, sendErr := d.s.GetGateway().SendText(ctx, update.ChatID, i18n.Get(err.Error(), userLang(user)))
				return sendErr
			}
			return err
		}
	}
	return d.advanceInput(ctx, update.ChatID, user, conv, input)
}

// advanceInput records validated input, moves to the scenario's next step
// and runs either the next prompt or the completion side effects. An empty
// input means the step was skipped.
func (d *Dispatcher) advanceInput(ctx context.Context, chatID int64, user *db.User, conv *scenario.Context, input string) error {
	dataKey, next := stepRoute(conv, input)
	if next == "" {
		return d.sendStepPrompt(ctx, chatID, user, conv)
	}
	var mutators []scenario.Mutator
	if dataKey != "" && input != "" {
		mutators = append(mutators, scenario.SetData(dataKey, input))
	}
	advanced, err := d.runner.Advance(ctx, user.TelegramID, next, mutators...)
	if err != nil {
		return err
	}
	if step := d.runner.Registry().StepOf(advanced); step != nil && step.Terminal() {
		return d.finishScenario(ctx, chatID, user, advanced)
	}
	return d.sendStepPrompt(ctx, chatID, user, advanced)
}

// stepRoute maps the current position to the data key the input lands in
// and the step to move to. Empty next means "stay and re-prompt".
func stepRoute(conv *scenario.Context, input string) (dataKey, next string) {
	switch conv.Scenario {
	case scenario.Onboarding:
		switch conv.Step {
		case scenario.StepLanguageSelection:
			return scenario.DataLanguage, scenario.StepNameInput
		case scenario.StepNameInput:
			return scenario.DataName, scenario.StepLocationInput
		case scenario.StepLocationInput:
			return scenario.DataLocation, scenario.StepWelcome
		}
	case scenario.EventCreation:
		switch conv.Step {
		case scenario.StepTitleInput:
			return scenario.DataEventTitle, scenario.StepDescriptionInput
		case scenario.StepDescriptionInput:
			return scenario.DataEventDesc, scenario.StepDateInput
		case scenario.StepDateInput:
			return scenario.DataEventDate, scenario.StepTimeInput
		case scenario.StepTimeInput:
			return scenario.DataEventTime, scenario.StepEventLocation
		case scenario.StepEventLocation:
			return scenario.DataEventLocation, scenario.StepConfirmation
		case scenario.StepConfirmation:
			if input == scenario.ChoiceConfirm {
				return "", scenario.StepCreate
			}
			return "", scenario.StepCancel
		}
	case scenario.AdminPanel:
		if conv.Step == scenario.StepMainMenu {
			return "", input
		}
	}
	return "", ""
}

// finishScenario completes the stored context and runs the side effects of
// its terminal step. Persistence happens first: if the process dies before
// the side effect, the user simply redoes the last confirmation.
func (d *Dispatcher) finishScenario(ctx context.Context, chatID int64, user *db.User, conv *scenario.Context) error {
	if _, err := d.runner.Complete(ctx, user.TelegramID); err != nil {
		return err
	}
	switch conv.Scenario {
	case scenario.Onboarding:
		return d.finishOnboarding(ctx, chatID, user, conv)
	case scenario.EventCreation:
		return d.finishEventCreation(ctx, chatID, user, conv)
	default:
		log.WithField("scenario", conv.Scenario).Debug("scenario finished without side effects")
		return nil
	}
}

func (d *Dispatcher) finishOnboarding(ctx context.Context, chatID int64, user *db.User, conv *scenario.Context) error {
	patch := db.UserPatch{}
	lang := userLang(user)
	if v, ok := conv.GetString(scenario.DataLanguage); ok {
		patch.LanguageCode = &v
		lang = v
	}
	if v, ok := conv.GetString(scenario.DataName); ok {
		patch.FirstName = &v
	}
	if v, ok := conv.GetString(scenario.DataLocation); ok {
		patch.Location = &v
	}
	if err := d.s.GetDB().UpdateUser(ctx, user.ID, patch); err != nil {
		return err
	}
	text := i18n.Get("You are all set! Send /events to see upcoming parties, or /help for everything I can do.", lang)
	_, err := d.s.GetGateway().SendText(ctx, chatID, text)
	return err
}

func (d *Dispatcher) finishEventCreation(ctx context.Context, chatID int64, user *db.User, conv *scenario.Context) error {
	lang := userLang(user)
	if conv.Step == scenario.StepCancel {
		_, err := d.s.GetGateway().SendText(ctx, chatID, i18n.Get("Event creation cancelled.", lang))
		return err
	}
	event, err := eventFromContext(conv, user)
	if err != nil {
		return err
	}
	created, err := d.s.GetDB().CreateEvent(ctx, event)
	if err != nil {
		return err
	}
	text := fmt.Sprintf(i18n.Get("Event %q created. Attendees can join with /register %d.", lang), created.Title, created.ID)
	_, err = d.s.GetGateway().SendText(ctx, chatID, text)
	return err
}

func eventFromContext(conv *scenario.Context, user *db.User) (*db.Event, error) {
	title, ok := conv.GetString(scenario.DataEventTitle)
	if !ok {
		return nil, errs.New(errs.ErrInvalidInput, "event title missing")
	}
	date, ok := conv.GetString(scenario.DataEventDate)
	if !ok {
		return nil, errs.New(errs.ErrInvalidInput, "event date missing")
	}
	timeOfDay, ok := conv.GetString(scenario.DataEventTime)
	if !ok {
		return nil, errs.New(errs.ErrInvalidInput, "event time missing")
	}
	startsAt, err := time.ParseInLocation("2006-01-02 15:04", date+" "+timeOfDay, time.Local)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInvalidInput, err, "parse event start")
	}
	location, _ := conv.GetString(scenario.DataEventLocation)
	description, _ := conv.GetString(scenario.DataEventDesc)
	event := &db.Event{
		Title:       title,
		Description: description,
		StartsAt:    startsAt,
		Location:    location,
		CreatedBy:   user.ID,
	}
	if groupID, ok := conv.GetInt(scenario.DataEventGroupID); ok {
		event.GroupID = &groupID
	}
	return event, nil
}

// sendStepPrompt renders the message and keyboard for the step the context
// currently sits on.
func (d *Dispatcher) sendStepPrompt(ctx context.Context, chatID int64, user *db.User, conv *scenario.Context) error {
	lang := userLang(user)
	gw := d.s.GetGateway()

	switch conv.Scenario {
	case scenario.Onboarding:
		switch conv.Step {
		case scenario.StepLanguageSelection:
			rows := languageKeyboard(d.s.GetConfig().I18n.SupportedLanguages, "lang:")
			_, err := gw.SendTextWithKeyboard(ctx, chatID,
				i18n.Get("Welcome to SwingBuddy! Choose your language:", lang), rows)
			return err
		case scenario.StepNameInput:
			_, err := gw.SendText(ctx, chatID, i18n.Get("Great! What is your name?", lang))
			return err
		case scenario.StepLocationInput:
			rows := [][]Button{{{Text: i18n.Get("Skip", lang), Data: "location:skip"}}}
			_, err := gw.SendTextWithKeyboard(ctx, chatID,
				i18n.Get("Which city are you dancing in? You can skip this.", lang), rows)
			return err
		}
	case scenario.EventCreation:
		switch conv.Step {
		case scenario.StepTitleInput:
			_, err := gw.SendText(ctx, chatID, i18n.Get("Let's create an event. What is the title?", lang))
			return err
		case scenario.StepDescriptionInput:
			rows := [][]Button{{{Text: i18n.Get("Skip", lang), Data: "calendar:skip"}}}
			_, err := gw.SendTextWithKeyboard(ctx, chatID,
				i18n.Get("Add a description, or skip.", lang), rows)
			return err
		case scenario.StepDateInput:
			_, err := gw.SendText(ctx, chatID, i18n.Get("What date? Use YYYY-MM-DD.", lang))
			return err
		case scenario.StepTimeInput:
			_, err := gw.SendText(ctx, chatID, i18n.Get("What time does it start? Use HH:MM.", lang))
			return err
		case scenario.StepEventLocation:
			_, err := gw.SendText(ctx, chatID, i18n.Get("Where does it take place?", lang))
			return err
		case scenario.StepConfirmation:
			return d.sendEventSummary(ctx, chatID, lang, conv)
		}
	case scenario.AdminPanel:
		if conv.Step == scenario.StepMainMenu {
			rows := adminMenuKeyboard(lang)
			_, err := gw.SendTextWithKeyboard(ctx, chatID, i18n.Get("Admin panel:", lang), rows)
			return err
		}
	}
	log.WithFields(log.Fields{"scenario": conv.Scenario, "step": conv.Step}).Warn("no prompt for step")
	return nil
}

func (d *Dispatcher) sendEventSummary(ctx context.Context, chatID int64, lang string, conv *scenario.Context) error {
	title, _ := conv.GetString(scenario.DataEventTitle)
	date, _ := conv.GetString(scenario.DataEventDate)
	timeOfDay, _ := conv.GetString(scenario.DataEventTime)
	location, _ := conv.GetString(scenario.DataEventLocation)
	description, _ := conv.GetString(scenario.DataEventDesc)

	lines := []string{
		i18n.Get("Here is your event:", lang),
		"",
		title,
		i18n.Get("When:", lang) + " " + date + " " + timeOfDay,
		i18n.Get("Where:", lang) + " " + location,
	}
	if description != "" {
		lines = append(lines, "", description)
	}
	rows := [][]Button{{
		{Text: i18n.Get("Create", lang), Data: "calendar:confirm"},
		{Text: i18n.Get("Cancel", lang), Data: "calendar:cancel"},
	}}
	_, err := d.s.GetGateway().SendTextWithKeyboard(ctx, chatID, strings.Join(lines, "\n"), rows)
	return err
}
