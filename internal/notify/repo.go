package notify

import (
	"context"
	"time"

	"github.com/example/seat-scheduler/internal/db"
)

// Repo is the Postgres-backed ConfigSource and HistoryRecorder.
type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

func (r *Repo) Get(ctx context.Context, userID int64) (Config, bool, error) {
	var c Config
	err := r.db.QueryRow(ctx, `
SELECT user_id, device_token, server_url, is_enabled, subscriptions, updated_at
FROM push_configs WHERE user_id=$1`, userID).
		Scan(&c.UserID, &c.DeviceToken, &c.ServerURL, &c.Enabled, &c.Subscriptions, &c.UpdatedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return Config{}, false, nil
		}
		return Config{}, false, err
	}
	return c, true, nil
}

func (r *Repo) Put(ctx context.Context, c Config) error {
	return r.db.Exec(ctx, `
INSERT INTO push_configs(user_id, device_token, server_url, is_enabled, subscriptions, updated_at)
VALUES ($1,$2,$3,$4,$5,now())
ON CONFLICT (user_id) DO UPDATE SET
  device_token=EXCLUDED.device_token, server_url=EXCLUDED.server_url,
  is_enabled=EXCLUDED.is_enabled, subscriptions=EXCLUDED.subscriptions,
  updated_at=now()`,
		c.UserID, c.DeviceToken, c.ServerURL, c.Enabled, c.Subscriptions)
}

func (r *Repo) Record(ctx context.Context, rec Record) error {
	return r.db.Exec(ctx, `
INSERT INTO push_notifications(user_id, notification_type, title, content, icon, url, status, error_message)
VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,NULLIF($8,''))`,
		rec.UserID, string(rec.Type), rec.Title, rec.Content, rec.Icon, rec.URL, rec.Status, rec.Error)
}

// HistoryEntry is a stored delivery attempt, as exposed to the API.
type HistoryEntry struct {
	ID        int64
	Record
	CreatedAt time.Time
}

func (r *Repo) History(ctx context.Context, userID int64, limit, offset int) ([]HistoryEntry, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM push_notifications WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
SELECT id, user_id, notification_type, title, content,
  COALESCE(icon,''), COALESCE(url,''), status, COALESCE(error_message,''), created_at
FROM push_notifications
WHERE user_id=$1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &e.Title, &e.Content,
			&e.Icon, &e.URL, &e.Status, &e.Error, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Type = Type(typ)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// EnabledUserIDs lists users with push delivery enabled; the
// seat-status monitor iterates exactly this set.
func (r *Repo) EnabledUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id FROM push_configs WHERE is_enabled ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
