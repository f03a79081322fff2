package sqlite

import (
	"context"
	"time"

	"github.com/iamwavecut/tool"

	"github.com/swingbuddy/swingbuddy/internal/db"
)

func (c *sqliteClient) CreateEvent(ctx context.Context, event *db.Event) (*db.Event, error) {
	ts := now()
	event.CreatedAt = ts
	event.UpdatedAt = ts
	res, err := c.db.NamedExecContext(ctx, `
		INSERT INTO events (group_id, title, description, starts_at, location, created_by, created_at, updated_at)
		VALUES (:group_id, :title, :description, :starts_at, :location, :created_by, :created_at, :updated_at)
	`, event)
	if err != nil {
		return nil, wrapExec(err, "insert event")
	}
	event.ID, err = res.LastInsertId()
	if err != nil {
		return nil, wrapExec(err, "insert event id")
	}
	return event, nil
}

func (c *sqliteClient) GetEvent(ctx context.Context, id int64) (*db.Event, error) {
	event := &db.Event{}
	err := c.db.GetContext(ctx, event, `SELECT * FROM events WHERE id = ?`, id)
	if err != nil {
		return nil, wrapGet(err, "event")
	}
	return event, nil
}

func (c *sqliteClient) UpdateEvent(ctx context.Context, event *db.Event) error {
	event.UpdatedAt = now()
	return wrapExec(tool.Err(c.db.NamedExecContext(ctx, `
		UPDATE events SET group_id = :group_id, title = :title, description = :description,
			starts_at = :starts_at, location = :location, updated_at = :updated_at
		WHERE id = :id
	`, event)), "update event")
}

func (c *sqliteClient) DeleteEvent(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	return wrapExec(err, "delete event")
}

func (c *sqliteClient) ListUpcomingEvents(ctx context.Context, after time.Time, limit int) ([]*db.Event, error) {
	var events []*db.Event
	err := c.db.SelectContext(ctx, &events,
		`SELECT * FROM events WHERE starts_at > ? ORDER BY starts_at LIMIT ?`, after, limit)
	if err != nil {
		return nil, wrapExec(err, "list upcoming events")
	}
	return events, nil
}

func (c *sqliteClient) ListGroupEvents(ctx context.Context, groupID int64) ([]*db.Event, error) {
	var events []*db.Event
	err := c.db.SelectContext(ctx, &events,
		`SELECT * FROM events WHERE group_id = ? ORDER BY starts_at`, groupID)
	if err != nil {
		return nil, wrapExec(err, "list group events")
	}
	return events, nil
}

func (c *sqliteClient) AddParticipant(ctx context.Context, eventID, userID int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO event_participants (event_id, user_id, registered_at) VALUES (?, ?, ?)
	`, eventID, userID, now())
	return wrapExec(err, "add participant")
}

func (c *sqliteClient) RemoveParticipant(ctx context.Context, eventID, userID int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM event_participants WHERE event_id = ? AND user_id = ?`, eventID, userID)
	return wrapExec(err, "remove participant")
}

func (c *sqliteClient) CountParticipants(ctx context.Context, eventID int64) (int64, error) {
	var count int64
	err := c.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM event_participants WHERE event_id = ?`, eventID)
	return count, wrapExec(err, "count participants")
}

func (c *sqliteClient) GetUserEvents(ctx context.Context, userID int64) ([]*db.Event, error) {
	var events []*db.Event
	err := c.db.SelectContext(ctx, &events, `
		SELECT e.* FROM events e
		JOIN event_participants p ON p.event_id = e.id
		WHERE p.user_id = ?
		ORDER BY e.starts_at
	`, userID)
	if err != nil {
		return nil, wrapExec(err, "user events")
	}
	return events, nil
}

func (c *sqliteClient) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM events`)
	return count, wrapExec(err, "count events")
}
