package users

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/example/seat-scheduler/internal/db"
)

type User struct {
	ID        int64
	Username  string
	IsAdmin   bool
	CreatedAt time.Time
}

var (
	ErrInviteInvalid = errors.New("邀请码无效")
	ErrInviteUsed    = errors.New("邀请码已被使用")
)

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

// Create registers a user against an unused invite code. The code
// redemption and the user row commit atomically, so a raced code is
// never burned without an account.
func (r *Repo) Create(ctx context.Context, username, passwordBcrypt, inviteCode string, admin bool) (int64, error) {
	var id int64
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var codeID int64
		var used bool
		err := tx.QueryRow(ctx, `SELECT id, is_used FROM invite_codes WHERE code=$1 FOR UPDATE`, inviteCode).
			Scan(&codeID, &used)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInviteInvalid
			}
			return err
		}
		if used {
			return ErrInviteUsed
		}

		if err := tx.QueryRow(ctx, `
INSERT INTO users(username, password_bcrypt, is_admin, invite_code_id)
VALUES ($1,$2,$3,$4)
RETURNING id`, username, passwordBcrypt, admin, codeID).Scan(&id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
UPDATE invite_codes SET is_used=TRUE, used_by_user_id=$2, used_at=now() WHERE id=$1`, codeID, id); err != nil {
			return err
		}
		// every account starts with an empty credential row
		_, err = tx.Exec(ctx, `INSERT INTO wechat_credentials(user_id) VALUES ($1)`, id)
		return err
	})
	return id, err
}

func (r *Repo) Get(ctx context.Context, id int64) (User, error) {
	var u User
	err := r.db.QueryRow(ctx, `SELECT id, username, is_admin, created_at FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Username, &u.IsAdmin, &u.CreatedAt)
	return u, db.WrapNotFound(err)
}

func (r *Repo) GetByUsername(ctx context.Context, username string) (User, string, error) {
	var u User
	var hash string
	err := r.db.QueryRow(ctx, `SELECT id, username, is_admin, created_at, password_bcrypt FROM users WHERE username=$1`, username).
		Scan(&u.ID, &u.Username, &u.IsAdmin, &u.CreatedAt, &hash)
	return u, hash, db.WrapNotFound(err)
}

// NewInviteCodes mints n single-use invite codes.
func (r *Repo) NewInviteCodes(ctx context.Context, n int) ([]string, error) {
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		code := uuid.NewString()
		if err := r.db.Exec(ctx, `INSERT INTO invite_codes(code) VALUES ($1)`, code); err != nil {
			return codes, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}
