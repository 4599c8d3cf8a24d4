package scheduler

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/example/seat-scheduler/internal/notify"
	"github.com/example/seat-scheduler/internal/statuscache"
	"github.com/example/seat-scheduler/internal/traceint"
	"github.com/example/seat-scheduler/internal/users"
)

// RunKeepAlive exercises every stored primary session once. Users are
// visited in randomized order with a small delay between them so the
// sweep does not hit the backend as a synchronized spike.
func (s *Scheduler) RunKeepAlive(ctx context.Context) {
	creds, err := s.Creds.ListWithCookie(ctx)
	if err != nil {
		log.Printf("keepalive: list users: %v", err)
		return
	}
	log.Printf("keepalive: checking %d users", len(creds))

	s.shuffle(len(creds), func(i, j int) { creds[i], creds[j] = creds[j], creds[i] })

	for _, cred := range creds {
		if ctx.Err() != nil {
			return
		}
		s.sleep(200*time.Millisecond + time.Duration(rand.Int63n(int64(800*time.Millisecond))))
		if err := s.keepAliveUser(ctx, cred); err != nil {
			log.Printf("keepalive: user %d: %v", cred.UserID, err)
		}

		// independent liveness touch for the secondary sign-in session;
		// stale failures here are harmless, log only
		if cred.HasSessID() {
			if err := s.Backend.KeepAliveSess(ctx, cred.SessID); err != nil {
				log.Printf("keepalive: sess touch for user %d: %v", cred.UserID, err)
			}
		}
	}
}

func (s *Scheduler) keepAliveUser(ctx context.Context, cred users.Credential) error {
	cache, err := s.Cache.Get(ctx, cred.UserID)
	if err != nil {
		return err
	}
	now := s.now()

	// backoff gates the maintenance query only; the cheap liveness
	// touch still runs every cycle
	doQuery := cache.KeepAliveBackoffUntil == nil || !cache.KeepAliveBackoffUntil.After(now)

	sess := s.session(ctx, cred)
	st, err := s.Backend.KeepAlive(ctx, sess, doQuery)
	if err != nil {
		if traceint.IsSessionInvalid(err) {
			return s.confirmedFailure(ctx, cred.UserID, cache)
		}
		return err
	}

	switch {
	case st.QuerySkipped:
		// liveness ok while under backoff: healthy enough
		cache.KeepAliveFailCount = 0
		return s.Cache.Put(ctx, cache)

	case st.APIOK:
		cache.KeepAliveFailCount = 0
		cache.KeepAliveBackoffUntil = nil
		return s.Cache.Put(ctx, cache)

	case st.PageOK && !st.APIOK:
		// the maintenance query failed; check whether the session is
		// actually dead before counting it against the user
		if verr := s.Backend.VerifySession(ctx, sess); verr == nil {
			log.Printf("keepalive: user %d partial: page ok, maintenance query failed, session verified alive", cred.UserID)
			cache.KeepAliveFailCount = 0
			until := now.Add(keepAliveBackoff)
			cache.KeepAliveBackoffUntil = &until
			return s.Cache.Put(ctx, cache)
		}
		log.Printf("keepalive: user %d failed: maintenance query and verification both failed", cred.UserID)
		return s.confirmedFailure(ctx, cred.UserID, cache)

	default:
		// page itself unreachable; transient backend trouble, try again
		// next cycle without counting it
		log.Printf("keepalive: user %d page touch failed", cred.UserID)
		return nil
	}
}

// confirmedFailure advances the consecutive-failure counter and, on the
// second confirmed failure, escalates: session-invalid notification,
// credential invalidation, then the distinct restricted-account
// notification. Tolerating the first failure absorbs transient backend
// hiccups without disabling a healthy account.
func (s *Scheduler) confirmedFailure(ctx context.Context, userID int64, cache statuscache.Row) error {
	cache.KeepAliveFailCount++
	if cache.KeepAliveFailCount >= keepAliveFailThreshold {
		notify.CookieInvalid(ctx, s.Notify, userID)
		if err := s.Creds.Clear(ctx, userID); err != nil {
			log.Printf("keepalive: clear credentials for user %d: %v", userID, err)
		} else {
			log.Printf("keepalive: invalidated credentials for user %d after persistent failures", userID)
			notify.AccountRestricted(ctx, s.Notify, userID)
		}
	}
	return s.Cache.Put(ctx, cache)
}
