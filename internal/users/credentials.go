package users

import (
	"context"
	"fmt"

	"github.com/gorilla/securecookie"

	"github.com/example/seat-scheduler/internal/db"
)

// Credential is a user's session material for the reservation backend:
// the primary authorization cookie, the secondary sign-in session
// identifier, and the bluetooth beacon parameters the check-in call
// needs. Clearing Cookie and SessID is what "invalidating the session"
// means; it stops all automation for the user until they re-authorize.
type Credential struct {
	UserID int64
	Cookie string
	SessID string
	Major  string
	Minor  string
}

func (c Credential) HasCookie() bool { return c.Cookie != "" }
func (c Credential) HasSessID() bool { return c.SessID != "" }
func (c Credential) HasBeacon() bool { return c.Major != "" && c.Minor != "" }

// CredentialRepo stores credentials with the cookie and session id
// encoded at rest through a securecookie codec (HMAC + AES), so a
// database dump alone does not leak live sessions.
type CredentialRepo struct {
	db *db.DB
	sc *securecookie.SecureCookie
}

const credCodecName = "trace-cred"

func NewCredentialRepo(d *db.DB, hashKey, blockKey []byte) *CredentialRepo {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(0) // stored values never expire on their own
	return &CredentialRepo{db: d, sc: sc}
}

func (r *CredentialRepo) encode(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return r.sc.Encode(credCodecName, v)
}

func (r *CredentialRepo) decode(enc string) (string, error) {
	if enc == "" {
		return "", nil
	}
	var v string
	if err := r.sc.Decode(credCodecName, enc, &v); err != nil {
		return "", fmt.Errorf("credential decode: %w", err)
	}
	return v, nil
}

func (r *CredentialRepo) Get(ctx context.Context, userID int64) (Credential, error) {
	var c Credential
	var cookieEnc, sessEnc, major, minor *string
	err := r.db.QueryRow(ctx, `
SELECT user_id, cookie_enc, sess_enc, major, minor FROM wechat_credentials WHERE user_id=$1`, userID).
		Scan(&c.UserID, &cookieEnc, &sessEnc, &major, &minor)
	if err != nil {
		return Credential{}, db.WrapNotFound(err)
	}
	if cookieEnc != nil {
		if c.Cookie, err = r.decode(*cookieEnc); err != nil {
			return Credential{}, err
		}
	}
	if sessEnc != nil {
		if c.SessID, err = r.decode(*sessEnc); err != nil {
			return Credential{}, err
		}
	}
	if major != nil {
		c.Major = *major
	}
	if minor != nil {
		c.Minor = *minor
	}
	return c, nil
}

// Put upserts the whole credential row.
func (r *CredentialRepo) Put(ctx context.Context, c Credential) error {
	cookieEnc, err := r.encode(c.Cookie)
	if err != nil {
		return err
	}
	sessEnc, err := r.encode(c.SessID)
	if err != nil {
		return err
	}
	return r.db.Exec(ctx, `
INSERT INTO wechat_credentials(user_id, cookie_enc, sess_enc, major, minor, updated_at)
VALUES ($1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), now())
ON CONFLICT (user_id) DO UPDATE SET
  cookie_enc=EXCLUDED.cookie_enc, sess_enc=EXCLUDED.sess_enc,
  major=EXCLUDED.major, minor=EXCLUDED.minor, updated_at=now()`,
		c.UserID, cookieEnc, sessEnc, c.Major, c.Minor)
}

// SetCookie persists a rotated cookie without touching other fields.
// The backend client calls this through its save callback whenever the
// server-affinity token rotates.
func (r *CredentialRepo) SetCookie(ctx context.Context, userID int64, cookie string) error {
	enc, err := r.encode(cookie)
	if err != nil {
		return err
	}
	return r.db.Exec(ctx, `
UPDATE wechat_credentials SET cookie_enc=NULLIF($2,''), updated_at=now() WHERE user_id=$1`, userID, enc)
}

// Clear wipes both session strings. This is the terminal transition
// that stops automation for the user.
func (r *CredentialRepo) Clear(ctx context.Context, userID int64) error {
	return r.db.Exec(ctx, `
UPDATE wechat_credentials SET cookie_enc=NULL, sess_enc=NULL, updated_at=now() WHERE user_id=$1`, userID)
}

// ListWithCookie returns every credential that still has a primary
// cookie, decoded, for the keep-alive sweep.
func (r *CredentialRepo) ListWithCookie(ctx context.Context) ([]Credential, error) {
	rows, err := r.db.Query(ctx, `
SELECT user_id, cookie_enc, sess_enc, major, minor
FROM wechat_credentials
WHERE cookie_enc IS NOT NULL AND cookie_enc <> ''
ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		var cookieEnc, sessEnc, major, minor *string
		if err := rows.Scan(&c.UserID, &cookieEnc, &sessEnc, &major, &minor); err != nil {
			return nil, err
		}
		if cookieEnc != nil {
			if c.Cookie, err = r.decode(*cookieEnc); err != nil {
				// one undecodable row must not hide every other user
				continue
			}
		}
		if sessEnc != nil {
			if c.SessID, err = r.decode(*sessEnc); err != nil {
				c.SessID = ""
			}
		}
		if major != nil {
			c.Major = *major
		}
		if minor != nil {
			c.Minor = *minor
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
