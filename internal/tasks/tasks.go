package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/seat-scheduler/internal/cronexpr"
	"github.com/example/seat-scheduler/internal/db"
)

// Task types.
const (
	TypeReserve = "reserve"
	TypeSignin  = "signin"
)

// Last-run statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Task is a user-owned, cron-scheduled unit of recurring automation.
type Task struct {
	ID             int64
	UserID         int64
	Type           string
	CronExpression string
	Config         json.RawMessage
	Enabled        bool

	LastRun     *time.Time
	LastStatus  *string
	LastMessage *string
	Remark      *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t Task) Validate() error {
	switch t.Type {
	case TypeReserve, TypeSignin:
	default:
		return fmt.Errorf("unknown task type %q", t.Type)
	}
	if t.CronExpression != "" {
		if _, err := cronexpr.Parse(t.CronExpression); err != nil {
			return err
		}
	}
	if t.Type == TypeReserve {
		if _, err := ParseConfig(t.Config); err != nil {
			return err
		}
	}
	return nil
}

const taskColumns = `id, user_id, task_type, cron_expression, config, is_enabled,
last_run, last_status, last_message, remark, created_at, updated_at`

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

func (r *Repo) Create(ctx context.Context, t Task) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
INSERT INTO tasks(user_id, task_type, cron_expression, config, is_enabled, remark)
VALUES ($1,$2,NULLIF($3,''),$4,$5,$6)
RETURNING id`,
		t.UserID, t.Type, t.CronExpression, t.Config, t.Enabled, t.Remark,
	).Scan(&id)
	return id, db.WrapNotFound(err)
}

func (r *Repo) Update(ctx context.Context, t Task) error {
	return r.db.Exec(ctx, `
UPDATE tasks SET task_type=$2, cron_expression=NULLIF($3,''), config=$4,
  is_enabled=$5, remark=$6, updated_at=now()
WHERE id=$1`, t.ID, t.Type, t.CronExpression, t.Config, t.Enabled, t.Remark)
}

func (r *Repo) Delete(ctx context.Context, id, userID int64) error {
	return r.db.Exec(ctx, `DELETE FROM tasks WHERE id=$1 AND user_id=$2`, id, userID)
}

func (r *Repo) Get(ctx context.Context, id int64) (Task, error) {
	row := r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id)
	return scanTask(row)
}

func (r *Repo) GetForUser(ctx context.Context, id, userID int64) (Task, error) {
	row := r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 AND user_id=$2`, id, userID)
	return scanTask(row)
}

func (r *Repo) ListByUser(ctx context.Context, userID int64) ([]Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id=$1 ORDER BY created_at`, userID)
}

func (r *Repo) ListEnabled(ctx context.Context) ([]Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE is_enabled ORDER BY id`)
}

func (r *Repo) list(ctx context.Context, sql string, args ...any) ([]Task, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row db.Row) (Task, error) {
	var t Task
	var cron *string
	err := row.Scan(&t.ID, &t.UserID, &t.Type, &cron, &t.Config, &t.Enabled,
		&t.LastRun, &t.LastStatus, &t.LastMessage, &t.Remark, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Task{}, db.WrapNotFound(err)
	}
	if cron != nil {
		t.CronExpression = *cron
	}
	return t, nil
}

// SetResult records the outcome of one execution.
func (r *Repo) SetResult(ctx context.Context, id int64, status, message string) error {
	return r.db.Exec(ctx, `
UPDATE tasks SET last_status=$2, last_message=$3, updated_at=now() WHERE id=$1`, id, status, message)
}

// StampLastRun marks the execution time. Executors call this
// unconditionally as their final step so overlapping scheduler ticks in
// the same period do not pile up duplicate runs.
func (r *Repo) StampLastRun(ctx context.Context, id int64) error {
	return r.db.Exec(ctx, `UPDATE tasks SET last_run=now() WHERE id=$1`, id)
}
