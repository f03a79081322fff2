package sqlite

import (
	"context"

	"github.com/iamwavecut/tool"

	"github.com/swingbuddy/swingbuddy/internal/db"
)

func (c *sqliteClient) CreateUser(ctx context.Context, user *db.User) (*db.User, error) {
	ts := now()
	user.CreatedAt = ts
	user.UpdatedAt = ts
	res, err := c.db.NamedExecContext(ctx, `
		INSERT INTO users (telegram_id, username, first_name, last_name, language_code, location, is_banned, created_at, updated_at)
		VALUES (:telegram_id, :username, :first_name, :last_name, :language_code, :location, :is_banned, :created_at, :updated_at)
	`, user)
	if err != nil {
		return nil, wrapExec(err, "insert user")
	}
	user.ID, err = res.LastInsertId()
	if err != nil {
		return nil, wrapExec(err, "insert user id")
	}
	return user, nil
}

func (c *sqliteClient) GetUser(ctx context.Context, id int64) (*db.User, error) {
	user := &db.User{}
	err := c.db.GetContext(ctx, user, `SELECT * FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, wrapGet(err, "user")
	}
	return user, nil
}

func (c *sqliteClient) GetUserByTelegramID(ctx context.Context, telegramID int64) (*db.User, error) {
	user := &db.User{}
	err := c.db.GetContext(ctx, user, `SELECT * FROM users WHERE telegram_id = ?`, telegramID)
	if err != nil {
		return nil, wrapGet(err, "user")
	}
	return user, nil
}

func (c *sqliteClient) UpdateUser(ctx context.Context, id int64, patch db.UserPatch) error {
	query := `UPDATE users SET updated_at = ?`
	args := []any{now()}
	if patch.UserName != nil {
		query += `, username = ?`
		args = append(args, *patch.UserName)
	}
	if patch.FirstName != nil {
		query += `, first_name = ?`
		args = append(args, *patch.FirstName)
	}
	if patch.LastName != nil {
		query += `, last_name = ?`
		args = append(args, *patch.LastName)
	}
	if patch.LanguageCode != nil {
		query += `, language_code = ?`
		args = append(args, *patch.LanguageCode)
	}
	if patch.Location != nil {
		query += `, location = ?`
		args = append(args, *patch.Location)
	}
	query += ` WHERE id = ?`
	args = append(args, id)
	return wrapExec(tool.Err(c.db.ExecContext(ctx, query, args...)), "update user")
}

func (c *sqliteClient) SetUserBanned(ctx context.Context, id int64, banned bool) error {
	var err error
	if banned {
		ts := now()
		_, err = c.db.ExecContext(ctx, `UPDATE users SET is_banned = 1, banned_at = ?, updated_at = ? WHERE id = ?`, ts, ts, id)
	} else {
		_, err = c.db.ExecContext(ctx, `UPDATE users SET is_banned = 0, banned_at = NULL, updated_at = ? WHERE id = ?`, now(), id)
	}
	return wrapExec(err, "set user ban")
}

func (c *sqliteClient) ListUsers(ctx context.Context, offset, limit int) ([]*db.User, error) {
	var users []*db.User
	err := c.db.SelectContext(ctx, &users, `SELECT * FROM users ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, wrapExec(err, "list users")
	}
	return users, nil
}

func (c *sqliteClient) SearchUsersByUsername(ctx context.Context, prefix string, limit int) ([]*db.User, error) {
	var users []*db.User
	err := c.db.SelectContext(ctx, &users,
		`SELECT * FROM users WHERE username LIKE ? ESCAPE '\' ORDER BY username LIMIT ?`,
		escapeLike(prefix)+"%", limit)
	if err != nil {
		return nil, wrapExec(err, "search users")
	}
	return users, nil
}

func (c *sqliteClient) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`)
	return count, wrapExec(err, "count users")
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
