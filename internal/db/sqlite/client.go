package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/swingbuddy/swingbuddy/internal/errs"
	"github.com/swingbuddy/swingbuddy/resources"
)

type sqliteClient struct {
	db *sqlx.DB
}

// NewSQLiteClient opens (and migrates) the database at dbPath.
func NewSQLiteClient(ctx context.Context, dbPath string, maxConns int) (*sqliteClient, error) {
	dbx, err := sqlx.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransient, err, "open db")
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	dbx.SetMaxOpenConns(maxConns)

	if err := dbx.PingContext(ctx); err != nil {
		return nil, errs.Wrap(errs.ErrTransient, err, "ping db")
	}

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	n, err := migrate.Exec(dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransient, err, "migrate up")
	}
	if n > 0 {
		log.Infof("applied %d migrations", n)
	}

	return &sqliteClient{db: dbx}, nil
}

func (c *sqliteClient) Close() error {
	return c.db.Close()
}

func now() time.Time {
	return time.Now().UTC()
}

// wrapGet maps row lookups onto the error taxonomy.
func wrapGet(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Newf(errs.ErrNotFound, "%s not found", what)
	}
	return errs.Wrapf(errs.ErrTransient, err, "get %s", what)
}

func wrapExec(err error, what string) error {
	if err == nil {
		return nil
	}
	return errs.Wrapf(errs.ErrTransient, err, "%s", what)
}
