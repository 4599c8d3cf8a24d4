// Package statuscache persists per-user monitoring state across
// polling cycles: the last observed reservation status, one-shot
// notification flags, and the keep-alive failure bookkeeping.
package statuscache

import (
	"context"
	"time"

	"github.com/example/seat-scheduler/internal/db"
)

// Row is one user's memoized monitoring state. Each notified flag
// guards a notification so a persisting condition fires it at most
// once; the flag must drop back to false as soon as the condition it
// guards is gone, so a recurring condition can notify again.
type Row struct {
	UserID     int64
	LastStatus *int
	LastExp    *string

	SupervisedNotified     bool
	ExpirationNotified     bool
	SessionInvalidNotified bool

	DelayedSigninAt *time.Time

	KeepAliveFailCount    int
	KeepAliveBackoffUntil *time.Time

	UpdatedAt time.Time
}

const cacheColumns = `user_id, last_status, last_exp_date,
supervised_notified, expiration_notified, session_invalid_notified,
delayed_signin_at, keepalive_fail_count, keepalive_backoff_until, updated_at`

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

// Get returns the user's row, creating an empty one on first
// observation.
func (r *Repo) Get(ctx context.Context, userID int64) (Row, error) {
	row := r.db.QueryRow(ctx, `SELECT `+cacheColumns+` FROM seat_status_cache WHERE user_id=$1`, userID)
	c, err := scanRow(row)
	if db.IsNotFound(err) {
		c = Row{UserID: userID}
		if err := r.Put(ctx, c); err != nil {
			return Row{}, err
		}
		return c, nil
	}
	return c, err
}

// Put writes the whole row back.
func (r *Repo) Put(ctx context.Context, c Row) error {
	return r.db.Exec(ctx, `
INSERT INTO seat_status_cache(user_id, last_status, last_exp_date,
  supervised_notified, expiration_notified, session_invalid_notified,
  delayed_signin_at, keepalive_fail_count, keepalive_backoff_until, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
ON CONFLICT (user_id) DO UPDATE SET
  last_status=EXCLUDED.last_status,
  last_exp_date=EXCLUDED.last_exp_date,
  supervised_notified=EXCLUDED.supervised_notified,
  expiration_notified=EXCLUDED.expiration_notified,
  session_invalid_notified=EXCLUDED.session_invalid_notified,
  delayed_signin_at=EXCLUDED.delayed_signin_at,
  keepalive_fail_count=EXCLUDED.keepalive_fail_count,
  keepalive_backoff_until=EXCLUDED.keepalive_backoff_until,
  updated_at=now()`,
		c.UserID, c.LastStatus, c.LastExp,
		c.SupervisedNotified, c.ExpirationNotified, c.SessionInvalidNotified,
		c.DelayedSigninAt, c.KeepAliveFailCount, c.KeepAliveBackoffUntil)
}

// DueDelayedSignins returns every row whose delayed-action timestamp
// has passed, regardless of which user a monitor cycle is iterating.
func (r *Repo) DueDelayedSignins(ctx context.Context, now time.Time) ([]Row, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+cacheColumns+` FROM seat_status_cache
WHERE delayed_signin_at IS NOT NULL AND delayed_signin_at <= $1
ORDER BY user_id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		c, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanRow(row db.Row) (Row, error) {
	var c Row
	err := row.Scan(&c.UserID, &c.LastStatus, &c.LastExp,
		&c.SupervisedNotified, &c.ExpirationNotified, &c.SessionInvalidNotified,
		&c.DelayedSigninAt, &c.KeepAliveFailCount, &c.KeepAliveBackoffUntil, &c.UpdatedAt)
	return c, err
}
