package sqlite

import (
	"context"
	"time"

	"github.com/iamwavecut/tool"

	"github.com/swingbuddy/swingbuddy/internal/db"
)

func (c *sqliteClient) UpsertUserState(ctx context.Context, state *db.UserState) error {
	state.UpdatedAt = now()
	return wrapExec(tool.Err(c.db.NamedExecContext(ctx, `
		INSERT INTO user_states (user_id, state, payload, expires_at, updated_at)
		VALUES (:user_id, :state, :payload, :expires_at, :updated_at)
		ON CONFLICT (user_id) DO UPDATE SET
			state = excluded.state,
			payload = excluded.payload,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, state)), "upsert user state")
}

func (c *sqliteClient) GetUserState(ctx context.Context, userID int64) (*db.UserState, error) {
	state := &db.UserState{}
	err := c.db.GetContext(ctx, state, `SELECT * FROM user_states WHERE user_id = ?`, userID)
	if err != nil {
		return nil, wrapGet(err, "user state")
	}
	return state, nil
}

func (c *sqliteClient) DeleteUserState(ctx context.Context, userID int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM user_states WHERE user_id = ?`, userID)
	return wrapExec(err, "delete user state")
}

func (c *sqliteClient) CleanExpiredStates(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM user_states WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, wrapExec(err, "clean expired states")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *sqliteClient) CreateCasRecord(ctx context.Context, record *db.CasRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now()
	}
	return wrapExec(tool.Err(c.db.NamedExecContext(ctx, `
		INSERT INTO cas_records (user_id, offenses, reasons, is_banned, created_at)
		VALUES (:user_id, :offenses, :reasons, :is_banned, :created_at)
	`, record)), "insert cas record")
}

func (c *sqliteClient) GetCasRecords(ctx context.Context, userID int64) ([]*db.CasRecord, error) {
	var records []*db.CasRecord
	err := c.db.SelectContext(ctx, &records,
		`SELECT * FROM cas_records WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, wrapExec(err, "cas records")
	}
	return records, nil
}

// CleanCasRecords binds the cutoff as a parameter; the retention window is
// computed by the caller, never interpolated into SQL text.
func (c *sqliteClient) CleanCasRecords(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cas_records WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, wrapExec(err, "clean cas records")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
