package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"

	"github.com/swingbuddy/swingbuddy/internal/errs"
)

// Button is one inline keyboard button carrying a callback payload.
type Button struct {
	Text string
	Data string
}

// ChatGateway is the narrow surface the core needs from the chat platform.
type ChatGateway interface {
	SendText(ctx context.Context, chatID int64, text string) (messageID int, err error)
	SendTextWithKeyboard(ctx context.Context, chatID int64, text string, rows [][]Button) (messageID int, err error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error
	AnswerButtonPress(ctx context.Context, callbackID, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	BanChatMember(ctx context.Context, chatID, userID int64) error
	GetChatMember(ctx context.Context, chatID, userID int64) (*api.ChatMember, error)
	GetSelf() *api.User
}

type telegramGateway struct {
	bot *api.BotAPI
}

func NewTelegramGateway(bot *api.BotAPI) ChatGateway {
	return &telegramGateway{bot: bot}
}

func (g *telegramGateway) send(ctx context.Context, c api.Chattable) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	msg, err := g.bot.Send(c)
	if err != nil {
		return 0, errs.Wrap(errs.ErrTransient, err, "send message")
	}
	return msg.MessageID, nil
}

func (g *telegramGateway) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	return g.send(ctx, api.NewMessage(chatID, text))
}

func (g *telegramGateway) SendTextWithKeyboard(ctx context.Context, chatID int64, text string, rows [][]Button) (int, error) {
	msg := api.NewMessage(chatID, text)
	msg.ReplyMarkup = buildKeyboard(rows)
	return g.send(ctx, msg)
}

func buildKeyboard(rows [][]Button) api.InlineKeyboardMarkup {
	kbRows := make([][]api.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		kbRow := make([]api.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			kbRow = append(kbRow, api.NewInlineKeyboardButtonData(btn.Text, btn.Data))
		}
		kbRows = append(kbRows, kbRow)
	}
	return api.NewInlineKeyboardMarkup(kbRows...)
}

func (g *telegramGateway) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := g.send(ctx, api.NewEditMessageText(chatID, messageID, text))
	return err
}

func (g *telegramGateway) AnswerButtonPress(ctx context.Context, callbackID, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := g.bot.Request(api.NewCallback(callbackID, text)); err != nil {
		return errs.Wrap(errs.ErrTransient, err, "answer callback")
	}
	return nil
}

func (g *telegramGateway) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := g.bot.Request(api.NewDeleteMessage(chatID, messageID)); err != nil {
		return errs.Wrap(errs.ErrTransient, err, "delete message")
	}
	return nil
}

func (g *telegramGateway) BanChatMember(ctx context.Context, chatID, userID int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := g.bot.Request(api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
		RevokeMessages: true,
	}); err != nil {
		return errors.WithMessage(err, "cant ban")
	}
	return nil
}

func (g *telegramGateway) GetChatMember(ctx context.Context, chatID, userID int64) (*api.ChatMember, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	member, err := g.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransient, err, "get chat member")
	}
	return &member, nil
}

func (g *telegramGateway) GetSelf() *api.User {
	return &g.bot.Self
}

// GetUpdatesChans starts the long-poll loop and streams updates until the
// context is cancelled or the API fails.
func GetUpdatesChans(ctx context.Context, bot *api.BotAPI, config api.UpdateConfig) (api.UpdatesChannel, chan error) {
	ch := make(chan api.Update, bot.Buffer)
	chErr := make(chan error)

	go func() {
		defer close(ch)
		defer close(chErr)
		for {
			select {
			case <-ctx.Done():
				chErr <- ctx.Err()
				return
			default:
				updates, err := bot.GetUpdates(config)
				if err != nil {
					chErr <- err
					return
				}

				for _, update := range updates {
					if update.UpdateID >= config.Offset {
						config.Offset = update.UpdateID + 1
						select {
						case ch <- update:
						case <-ctx.Done():
							chErr <- ctx.Err()
							return
						}
					}
				}
			}
		}
	}()

	return ch, chErr
}
