package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/gcobena-dev/lechefacil-frontend-sub000/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// Every connection to :memory: is a separate database, and SQLite
	// allows one writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SaveNotificationPage replaces the cached page of tenantID in one
// transaction. Item order is kept.
func (s *SQLiteStore) SaveNotificationPage(
	ctx context.Context,
	tenantID string,
	page model.NotificationPage,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cached_pages (tenant_id, total, unread_count, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			total = excluded.total,
			unread_count = excluded.unread_count,
			saved_at = excluded.saved_at`,
		tenantID, page.Total, page.UnreadCount, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving page for tenant %s: %w", tenantID, err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cached_notifications WHERE tenant_id = ?", tenantID,
	); err != nil {
		return fmt.Errorf("clearing cached notifications: %w", err)
	}

	const query = `
		INSERT OR REPLACE INTO cached_notifications (
			tenant_id, id, position, user_id, type,
			title, message, data, read,
			created_at, read_at
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?
		)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for i, n := range page.Notifications {
		var readAt interface{}
		if n.ReadAt != nil {
			readAt = n.ReadAt.UTC()
		}
		_, err = stmt.ExecContext(ctx,
			tenantID, n.ID, i, n.UserID, n.Type,
			n.Title, n.Message, string(n.Data), boolToInt(n.Read),
			n.CreatedAt.UTC(), readAt,
		)
		if err != nil {
			return fmt.Errorf("caching notification %s: %w", n.ID, err)
		}
	}

	return tx.Commit()
}

// LoadNotificationPage returns the cached page of tenantID, or nil.
func (s *SQLiteStore) LoadNotificationPage(
	ctx context.Context,
	tenantID string,
) (*CachedPage, error) {
	var header struct {
		Total       int       `db:"total"`
		UnreadCount int       `db:"unread_count"`
		SavedAt     time.Time `db:"saved_at"`
	}
	err := s.db.GetContext(ctx, &header,
		"SELECT total, unread_count, saved_at FROM cached_pages WHERE tenant_id = ?",
		tenantID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading page for tenant %s: %w", tenantID, err)
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, user_id, type, title, message, data, read, created_at, read_at
		FROM cached_notifications
		WHERE tenant_id = ?
		ORDER BY position`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cached notifications: %w", err)
	}
	defer rows.Close()

	notifications := []model.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		n.TenantID = tenantID
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading cached notifications: %w", err)
	}

	return &CachedPage{
		Page: model.NotificationPage{
			Notifications: notifications,
			Total:         header.Total,
			UnreadCount:   header.UnreadCount,
		},
		SavedAt: header.SavedAt,
	}, nil
}

// DeleteTenant removes the cached page of tenantID and its items.
func (s *SQLiteStore) DeleteTenant(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cached_pages WHERE tenant_id = ?", tenantID)
	if err != nil {
		return fmt.Errorf("deleting cache for tenant %s: %w", tenantID, err)
	}
	return nil
}

// scanNotification scans a cached notification row.
func scanNotification(rows *sqlx.Rows) (model.Notification, error) {
	var (
		n         model.Notification
		data      string
		readInt   int
		createdAt time.Time
		readAt    sql.NullTime
	)

	err := rows.Scan(
		&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message,
		&data, &readInt, &createdAt, &readAt,
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("scanning notification row: %w", err)
	}

	if data != "" && json.Valid([]byte(data)) {
		n.Data = json.RawMessage(data)
	}
	n.Read = readInt != 0
	n.CreatedAt = createdAt
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}

	return n, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
