package sqlite

import (
	"context"

	"github.com/iamwavecut/tool"

	"github.com/swingbuddy/swingbuddy/internal/db"
)

func (c *sqliteClient) CreateGroup(ctx context.Context, group *db.Group) (*db.Group, error) {
	ts := now()
	group.CreatedAt = ts
	group.UpdatedAt = ts
	res, err := c.db.NamedExecContext(ctx, `
		INSERT INTO groups (telegram_id, title, language, created_at, updated_at)
		VALUES (:telegram_id, :title, :language, :created_at, :updated_at)
	`, group)
	if err != nil {
		return nil, wrapExec(err, "insert group")
	}
	group.ID, err = res.LastInsertId()
	if err != nil {
		return nil, wrapExec(err, "insert group id")
	}
	return group, nil
}

func (c *sqliteClient) GetGroupByTelegramID(ctx context.Context, telegramID int64) (*db.Group, error) {
	group := &db.Group{}
	err := c.db.GetContext(ctx, group, `SELECT * FROM groups WHERE telegram_id = ?`, telegramID)
	if err != nil {
		return nil, wrapGet(err, "group")
	}
	return group, nil
}

func (c *sqliteClient) UpdateGroup(ctx context.Context, group *db.Group) error {
	group.UpdatedAt = now()
	return wrapExec(tool.Err(c.db.NamedExecContext(ctx, `
		UPDATE groups SET title = :title, language = :language, updated_at = :updated_at
		WHERE id = :id
	`, group)), "update group")
}

func (c *sqliteClient) AddGroupMember(ctx context.Context, groupID, userID int64, role string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (group_id, user_id) DO UPDATE SET role = excluded.role
	`, groupID, userID, role, now())
	return wrapExec(err, "add group member")
}

func (c *sqliteClient) RemoveGroupMember(ctx context.Context, groupID, userID int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	return wrapExec(err, "remove group member")
}

func (c *sqliteClient) SetGroupMemberRole(ctx context.Context, groupID, userID int64, role string) error {
	_, err := c.db.ExecContext(ctx, `UPDATE group_members SET role = ? WHERE group_id = ? AND user_id = ?`, role, groupID, userID)
	return wrapExec(err, "set member role")
}

func (c *sqliteClient) GetUserGroups(ctx context.Context, userID int64) ([]*db.Group, error) {
	var groups []*db.Group
	err := c.db.SelectContext(ctx, &groups, `
		SELECT g.* FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = ?
		ORDER BY g.title
	`, userID)
	if err != nil {
		return nil, wrapExec(err, "user groups")
	}
	return groups, nil
}

func (c *sqliteClient) CountGroups(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM groups`)
	return count, wrapExec(err, "count groups")
}
