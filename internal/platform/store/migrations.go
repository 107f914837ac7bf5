package store

import (
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	stmts   []string
}

// migrations is append-only. Adding a new entry at the tail is the only
// forward-compatible schema change.
var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE subscriptions (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				webhook_url TEXT NOT NULL,
				secret TEXT NOT NULL DEFAULT '',
				signature_header TEXT NOT NULL DEFAULT '',
				display_name TEXT NOT NULL DEFAULT '',
				service_tag TEXT NOT NULL DEFAULT '',
				prompt TEXT NOT NULL DEFAULT '',
				gate_expr TEXT NOT NULL DEFAULT '',
				summary_expr TEXT NOT NULL DEFAULT '',
				one_shot INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'active',
				created_at INTEGER NOT NULL,
				event_count INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE events (
				id TEXT PRIMARY KEY,
				subscription_id TEXT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
				received_at INTEGER NOT NULL,
				payload TEXT NOT NULL,
				verification_result TEXT NOT NULL,
				injected INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX idx_events_subscription ON events(subscription_id, received_at)`,
			`CREATE TABLE queued_events (
				id TEXT PRIMARY KEY,
				subscription_id TEXT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
				session_id TEXT NOT NULL,
				framed_payload TEXT NOT NULL,
				enqueued_at INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_queued_session ON queued_events(session_id, enqueued_at)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE INDEX idx_subscriptions_session ON subscriptions(session_id)`,
		},
	},
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, strftime('%s','now'))`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}
