package bot

import (
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
)

type (
	UpdateKind string
	ChatKind   string
)

const (
	KindCommand      UpdateKind = "command"
	KindFreeText     UpdateKind = "free_text"
	KindButtonPress  UpdateKind = "button_press"
	KindMemberJoined UpdateKind = "member_joined"
	KindMemberStatus UpdateKind = "member_status"
	KindIgnored      UpdateKind = "ignored"

	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
)

// Update is the classified form of one inbound platform event.
type Update struct {
	Kind       UpdateKind
	UserID     int64
	ChatID     int64
	ChatKind   ChatKind
	ChatTitle  string
	MessageID  int
	ReceivedAt time.Time
	From       *api.User

	// NewUser is set by the dispatcher once the sender's profile row is
	// known to have been created by this very update.
	NewUser bool

	// Command fields.
	Command     string
	CommandArgs string

	// Free-text field.
	Text string

	// Button-press fields.
	CallbackID   string
	CallbackData string

	// Member event fields.
	JoinedUserIDs []int64
	NewStatus     string
	StatusUserID  int64
}

// Classify maps a raw Telegram update onto the five kinds the dispatcher
// understands; everything else is KindIgnored.
func Classify(u *api.Update) *Update {
	switch {
	case u.Message != nil:
		return classifyMessage(u.Message)
	case u.CallbackQuery != nil:
		return classifyCallback(u.CallbackQuery)
	case u.ChatMember != nil:
		return classifyMemberStatus(u.ChatMember)
	case u.MyChatMember != nil:
		return classifyMemberStatus(u.MyChatMember)
	default:
		return &Update{Kind: KindIgnored, ReceivedAt: time.Now()}
	}
}

func chatKindOf(chat *api.Chat) ChatKind {
	if chat != nil && chat.IsPrivate() {
		return ChatPrivate
	}
	return ChatGroup
}

func classifyMessage(msg *api.Message) *Update {
	update := &Update{
		ChatID:     msg.Chat.ID,
		ChatKind:   chatKindOf(&msg.Chat),
		ChatTitle:  msg.Chat.Title,
		MessageID:  msg.MessageID,
		ReceivedAt: time.Unix(int64(msg.Date), 0),
		From:       msg.From,
	}
	if msg.From != nil {
		update.UserID = msg.From.ID
	}

	switch {
	case len(msg.NewChatMembers) > 0:
		update.Kind = KindMemberJoined
		for _, member := range msg.NewChatMembers {
			update.JoinedUserIDs = append(update.JoinedUserIDs, member.ID)
		}
	case msg.IsCommand():
		update.Kind = KindCommand
		update.Command = strings.ToLower(msg.Command())
		update.CommandArgs = msg.CommandArguments()
	case msg.Text != "":
		update.Kind = KindFreeText
		update.Text = msg.Text
	default:
		update.Kind = KindIgnored
	}
	return update
}

func classifyCallback(cq *api.CallbackQuery) *Update {
	update := &Update{
		Kind:         KindButtonPress,
		UserID:       cq.From.ID,
		ReceivedAt:   time.Now(),
		From:         cq.From,
		CallbackID:   cq.ID,
		CallbackData: cq.Data,
	}
	if cq.Message != nil {
		update.ChatID = cq.Message.Chat.ID
		update.ChatKind = chatKindOf(&cq.Message.Chat)
		update.MessageID = cq.Message.MessageID
	}
	return update
}

func classifyMemberStatus(cm *api.ChatMemberUpdated) *Update {
	return &Update{
		Kind:         KindMemberStatus,
		UserID:       cm.From.ID,
		ChatID:       cm.Chat.ID,
		ChatKind:     chatKindOf(&cm.Chat),
		ChatTitle:    cm.Chat.Title,
		ReceivedAt:   time.Unix(int64(cm.Date), 0),
		From:         &cm.From,
		NewStatus:    cm.NewChatMember.Status,
		StatusUserID: cm.NewChatMember.User.ID,
	}
}

// ParseCallback splits a payload into namespace, action and trailing args
// per the namespace ":" action [":" arg]... grammar.
func ParseCallback(data string) (namespace, action string, args []string) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 {
		return data, "", nil
	}
	return parts[0], parts[1], parts[2:]
}

// GetUN renders the best short name for a user.
func GetUN(user *api.User) string {
	if user == nil {
		return ""
	}
	userName := user.UserName
	if len(userName) == 0 {
		userName = strings.TrimSpace(user.FirstName + " " + user.LastName)
	}
	return userName
}
