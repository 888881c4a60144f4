package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "syncd/pkg/logx"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS job_schedules (
		seq              INTEGER PRIMARY KEY AUTOINCREMENT,
		id               TEXT NOT NULL UNIQUE,
		type             TEXT NOT NULL,
		interval_minutes INTEGER NOT NULL,
		is_active        INTEGER NOT NULL DEFAULT 0,
		priority         TEXT NOT NULL,
		max_retries      INTEGER NOT NULL DEFAULT 0,
		retry_count      INTEGER NOT NULL DEFAULT 0,
		last_run         TEXT,
		next_run         TEXT,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_schedules_type ON job_schedules(type)`,
	`CREATE TABLE IF NOT EXISTS job_runs (
		seq               INTEGER PRIMARY KEY AUTOINCREMENT,
		id                TEXT NOT NULL UNIQUE,
		type              TEXT NOT NULL,
		status            TEXT NOT NULL,
		start_time        TEXT NOT NULL,
		end_time          TEXT,
		duration_ms       INTEGER NOT NULL DEFAULT 0,
		records_processed INTEGER NOT NULL DEFAULT 0,
		records_failed    INTEGER NOT NULL DEFAULT 0,
		error_message     TEXT,
		priority          TEXT NOT NULL,
		source            TEXT NOT NULL,
		item_id           TEXT,
		attempt           INTEGER NOT NULL DEFAULT 0
	)`,
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also keeps transactions on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st, err := newSQLStore(ctx, db, log, sqliteSchema)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}
