package permissions

import (
	api "github.com/OvyFlash/telegram-bot-api"
)

// Level is a totally ordered permission rank.
type Level int

const (
	User Level = iota
	GroupModerator
	GroupAdmin
	BotAdmin
	SuperAdmin
)

func (l Level) String() string {
	switch l {
	case SuperAdmin:
		return "super_admin"
	case BotAdmin:
		return "bot_admin"
	case GroupAdmin:
		return "group_admin"
	case GroupModerator:
		return "group_moderator"
	default:
		return "user"
	}
}

// Action-to-level requirements.
const (
	RequiredForEventManage  = GroupAdmin
	RequiredForUserBan      = BotAdmin
	RequiredForAdminPanel   = BotAdmin
	RequiredForSettingsEdit = SuperAdmin
)

// AdminSet resolves the bot-level ranks from the configured admin id list;
// the first id is the super admin.
type AdminSet struct {
	ids []int64
}

func NewAdminSet(adminIDs []int64) *AdminSet {
	return &AdminSet{ids: adminIDs}
}

func (s *AdminSet) IsBotAdmin(userID int64) bool {
	for _, id := range s.ids {
		if id == userID {
			return true
		}
	}
	return false
}

func (s *AdminSet) IsSuperAdmin(userID int64) bool {
	return len(s.ids) > 0 && s.ids[0] == userID
}

// Resolve derives the effective level for a user, optionally taking the
// platform's per-chat member record into account.
func (s *AdminSet) Resolve(userID int64, member *api.ChatMember) Level {
	switch {
	case s.IsSuperAdmin(userID):
		return SuperAdmin
	case s.IsBotAdmin(userID):
		return BotAdmin
	case isChatAdmin(member):
		return GroupAdmin
	case isChatModerator(member):
		return GroupModerator
	default:
		return User
	}
}

// Allows reports whether a holder of level may perform an action gated at
// required.
func Allows(level, required Level) bool {
	return level >= required
}

// isChatAdmin requires real management rights; a restrict-only admin ranks
// as a moderator instead.
func isChatAdmin(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if member.IsCreator() {
		return true
	}
	return member.IsAdministrator() && (member.CanManageChat || member.CanPromoteMembers)
}

func isChatModerator(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	return member.IsAdministrator() && member.CanRestrictMembers
}
