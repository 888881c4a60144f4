package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	logx "syncd/pkg/logx"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS job_schedules (
		seq              BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		id               VARCHAR(64) NOT NULL UNIQUE,
		type             VARCHAR(64) NOT NULL,
		interval_minutes INT NOT NULL,
		is_active        TINYINT NOT NULL DEFAULT 0,
		priority         VARCHAR(16) NOT NULL,
		max_retries      INT NOT NULL DEFAULT 0,
		retry_count      INT NOT NULL DEFAULT 0,
		last_run         VARCHAR(40) NULL,
		next_run         VARCHAR(40) NULL,
		created_at       VARCHAR(40) NOT NULL,
		updated_at       VARCHAR(40) NOT NULL,
		INDEX idx_job_schedules_type (type)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS job_runs (
		seq               BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		id                VARCHAR(64) NOT NULL UNIQUE,
		type              VARCHAR(64) NOT NULL,
		status            VARCHAR(16) NOT NULL,
		start_time        VARCHAR(40) NOT NULL,
		end_time          VARCHAR(40) NULL,
		duration_ms       BIGINT NOT NULL DEFAULT 0,
		records_processed INT NOT NULL DEFAULT 0,
		records_failed    INT NOT NULL DEFAULT 0,
		error_message     TEXT NULL,
		priority          VARCHAR(16) NOT NULL,
		source            VARCHAR(16) NOT NULL,
		item_id           VARCHAR(64) NULL,
		attempt           INT NOT NULL DEFAULT 0
	) ENGINE=InnoDB`,
}

func openMySQL(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("mysql dsn is required")
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	// Report matched rows so unchanged UPDATEs are not mistaken for missing ids.
	mc.ClientFoundRows = true
	mc.ParseTime = false

	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(conn)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	st, err := newSQLStore(ctx, db, log, mysqlSchema)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("mysql store opened", logx.String("addr", mc.Addr), logx.String("db", mc.DBName))
	return st, nil
}
