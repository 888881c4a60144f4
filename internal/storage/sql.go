package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"syncd/internal/job"
	logx "syncd/pkg/logx"
)

const timeLayout = time.RFC3339Nano

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// sqlStore is shared by the sqlite and mysql drivers. Both use '?' placeholders
// and store times as RFC3339 text, so only the DDL differs.
type sqlStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func newSQLStore(ctx context.Context, db *sql.DB, log logx.Logger, ddl []string) (*sqlStore, error) {
	st := &sqlStore{db: db, log: log, now: time.Now}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return st, nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const scheduleColumns = `id, type, interval_minutes, is_active, priority, max_retries, retry_count, last_run, next_run, created_at, updated_at`

func (s *sqlStore) ListSchedules(ctx context.Context) ([]job.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM job_schedules ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []job.Schedule{}
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetSchedule(ctx context.Context, id string) (job.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM job_schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Schedule{}, fmt.Errorf("schedule %q: %w", id, ErrNotFound)
	}
	return sc, err
}

func (s *sqlStore) InsertSchedule(ctx context.Context, sc job.Schedule) (job.Schedule, error) {
	return s.insertSchedule(ctx, s.db, sc)
}

func (s *sqlStore) UpdateSchedule(ctx context.Context, id string, p job.SchedulePatch) error {
	return s.updateSchedule(ctx, s.db, id, p)
}

func (s *sqlStore) DeleteSchedule(ctx context.Context, id string) error {
	return s.deleteSchedule(ctx, s.db, id)
}

func (s *sqlStore) ApplySchedules(ctx context.Context, ops []ScheduleOp) (err error) {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.log.Warn("rollback failed", logx.Err(rbErr))
			}
		}
	}()

	for _, op := range ops {
		switch op.Kind {
		case OpInsert:
			_, err = s.insertSchedule(ctx, tx, op.Schedule)
		case OpUpdate:
			err = s.updateSchedule(ctx, tx, op.ID, op.Patch)
		case OpDelete:
			err = s.deleteSchedule(ctx, tx, op.ID)
		default:
			err = fmt.Errorf("unsupported schedule op %d", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", op.Kind, op.ID, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) insertSchedule(ctx context.Context, ex execer, sc job.Schedule) (job.Schedule, error) {
	now := s.now()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	if sc.UpdatedAt.IsZero() {
		sc.UpdatedAt = now
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO job_schedules(`+scheduleColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		sc.ID, string(sc.Type), sc.Interval, boolInt(sc.IsActive), string(sc.Priority), sc.MaxRetries, sc.RetryCount,
		nullTime(sc.LastRun), nullTime(sc.NextRun), sc.CreatedAt.UTC().Format(timeLayout), sc.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return job.Schedule{}, err
	}
	return sc, nil
}

func (s *sqlStore) updateSchedule(ctx context.Context, ex execer, id string, p job.SchedulePatch) error {
	if err := p.Validate(); err != nil {
		return err
	}
	sets := make([]string, 0, 8)
	args := make([]any, 0, 9)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Interval != nil {
		add("interval_minutes", *p.Interval)
	}
	if p.IsActive != nil {
		add("is_active", boolInt(*p.IsActive))
	}
	if p.Priority != nil {
		add("priority", string(*p.Priority))
	}
	if p.MaxRetries != nil {
		add("max_retries", *p.MaxRetries)
	}
	if p.RetryCount != nil {
		add("retry_count", *p.RetryCount)
	}
	if p.LastRun != nil {
		add("last_run", nullTime(p.LastRun))
	}
	if p.NextRun != nil {
		add("next_run", nullTime(p.NextRun))
	}
	add("updated_at", s.now().UTC().Format(timeLayout))
	args = append(args, id)

	res, err := ex.ExecContext(ctx, `UPDATE job_schedules SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return requireRow(res, "schedule", id)
}

func (s *sqlStore) deleteSchedule(ctx context.Context, ex execer, id string) error {
	res, err := ex.ExecContext(ctx, `DELETE FROM job_schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "schedule", id)
}

const runColumns = `id, type, status, start_time, end_time, duration_ms, records_processed, records_failed, error_message, priority, source, item_id, attempt`

func (s *sqlStore) AppendRun(ctx context.Context, r job.RunRecord) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartTime.IsZero() {
		r.StartTime = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs(`+runColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, string(r.Type), string(r.Status), r.StartTime.UTC().Format(timeLayout), nullTime(r.EndTime),
		r.Duration.Milliseconds(), r.RecordsProcessed, r.RecordsFailed, nullStr(r.Error),
		string(r.Priority), string(r.Source), nullStr(r.ItemID), r.Attempt,
	)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *sqlStore) PatchRun(ctx context.Context, id string, p job.RunPatch) error {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.EndTime != nil {
		add("end_time", nullTime(p.EndTime))
	}
	if p.Duration != nil {
		add("duration_ms", p.Duration.Milliseconds())
	}
	if p.RecordsProcessed != nil {
		add("records_processed", *p.RecordsProcessed)
	}
	if p.RecordsFailed != nil {
		add("records_failed", *p.RecordsFailed)
	}
	if p.Error != nil {
		add("error_message", nullStr(*p.Error))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE job_runs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return requireRow(res, "run", id)
}

func (s *sqlStore) RecentRuns(ctx context.Context, limit int) ([]job.RunRecord, error) {
	q := `SELECT ` + runColumns + ` FROM job_runs ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []job.RunRecord{}
	for rows.Next() {
		var (
			r                             job.RunRecord
			typ, status, start, prio, src string
			end, errText, itemID          sql.NullString
			durMS                         int64
		)
		if err := rows.Scan(&r.ID, &typ, &status, &start, &end, &durMS, &r.RecordsProcessed, &r.RecordsFailed,
			&errText, &prio, &src, &itemID, &r.Attempt); err != nil {
			return nil, err
		}
		r.Type = job.Type(typ)
		r.Status = job.RunStatus(status)
		r.Priority = job.Priority(prio)
		r.Source = job.Source(src)
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.Error = errText.String
		r.ItemID = itemID.String
		if r.StartTime, err = time.Parse(timeLayout, start); err != nil {
			return nil, fmt.Errorf("run %s start_time: %w", r.ID, err)
		}
		if r.EndTime, err = parseNullTime(end); err != nil {
			return nil, fmt.Errorf("run %s end_time: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (job.Schedule, error) {
	var (
		sc               job.Schedule
		typ, prio        string
		active           int
		last, next       sql.NullString
		created, updated string
	)
	if err := row.Scan(&sc.ID, &typ, &sc.Interval, &active, &prio, &sc.MaxRetries, &sc.RetryCount,
		&last, &next, &created, &updated); err != nil {
		return job.Schedule{}, err
	}
	sc.Type = job.Type(typ)
	sc.Priority = job.Priority(prio)
	sc.IsActive = active != 0

	var err error
	if sc.LastRun, err = parseNullTime(last); err != nil {
		return job.Schedule{}, fmt.Errorf("schedule %s last_run: %w", sc.ID, err)
	}
	if sc.NextRun, err = parseNullTime(next); err != nil {
		return job.Schedule{}, fmt.Errorf("schedule %s next_run: %w", sc.ID, err)
	}
	if sc.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return job.Schedule{}, fmt.Errorf("schedule %s created_at: %w", sc.ID, err)
	}
	if sc.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return job.Schedule{}, fmt.Errorf("schedule %s updated_at: %w", sc.ID, err)
	}
	return sc, nil
}

func requireRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
