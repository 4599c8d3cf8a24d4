package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/example/seat-scheduler/internal/notify"
	"github.com/example/seat-scheduler/internal/traceint"
)

// expiry reminder window (minutes remaining, inclusive both ends) and
// the threshold above which the reminder re-arms
const (
	expiryWindowLow  = 8.0
	expiryWindowHigh = 12.0
	expiryResetMins  = 15.0
)

// MonitorResult summarizes one monitoring sweep.
type MonitorResult struct {
	CheckedUsers      int
	NotificationsSent int
	Errors            []string
}

// RunSeatMonitor performs one sweep over all monitored users: due
// delayed sign-ins first, then per-user status transition detection.
// One user's failure never aborts the batch.
func (s *Scheduler) RunSeatMonitor(ctx context.Context) MonitorResult {
	var res MonitorResult

	s.runDelayedSignins(ctx, &res)

	ids, err := s.Monitored.EnabledUserIDs(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("list users: %v", err))
		return res
	}
	for _, userID := range ids {
		if err := s.monitorUser(ctx, userID, &res); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("用户%d: %v", userID, err))
			log.Printf("monitor: user %d: %v", userID, err)
		}
	}
	return res
}

// runDelayedSignins executes every delayed action that has come due,
// across all users. The timestamp and its triggering flag are cleared
// success or failure, so a broken sign-in cannot cause a retry storm.
func (s *Scheduler) runDelayedSignins(ctx context.Context, res *MonitorResult) {
	rows, err := s.Cache.DueDelayedSignins(ctx, s.now())
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("delayed signins: %v", err))
		return
	}
	for _, cache := range rows {
		if err := s.executeDelayedSignin(ctx, cache.UserID); err != nil {
			log.Printf("monitor: delayed signin for user %d: %v", cache.UserID, err)
		} else {
			res.NotificationsSent++
		}
		cache.DelayedSigninAt = nil
		cache.SupervisedNotified = false
		if err := s.Cache.Put(ctx, cache); err != nil {
			log.Printf("monitor: clear delayed signin for user %d: %v", cache.UserID, err)
		}
	}
}

func (s *Scheduler) executeDelayedSignin(ctx context.Context, userID int64) error {
	cred, err := s.Creds.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !cred.HasSessID() || !cred.HasBeacon() {
		return fmt.Errorf("用户未配置蓝牙参数")
	}
	major, merr := strconv.Atoi(cred.Major)
	minor, nerr := strconv.Atoi(cred.Minor)
	if merr != nil || nerr != nil {
		return fmt.Errorf("用户蓝牙参数无效")
	}
	result, err := s.Backend.SignIn(ctx, cred.SessID, major, minor)
	if err != nil {
		return err
	}
	notify.AutoSigninDone(ctx, s.Notify, userID, result)
	return nil
}

func (s *Scheduler) monitorUser(ctx context.Context, userID int64, res *MonitorResult) error {
	cred, err := s.Creds.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !cred.HasCookie() {
		return nil
	}
	res.CheckedUsers++

	sess := s.session(ctx, cred)
	info, rerr := s.Backend.ReserveInfo(ctx, sess)
	if rerr != nil {
		if traceint.IsSessionInvalid(rerr) {
			// notify once; other flags stay untouched until the
			// session comes back
			cache, cerr := s.Cache.Get(ctx, userID)
			if cerr != nil {
				return cerr
			}
			if !cache.SessionInvalidNotified {
				if notify.CookieInvalid(ctx, s.Notify, userID) {
					res.NotificationsSent++
				}
				cache.SessionInvalidNotified = true
				return s.Cache.Put(ctx, cache)
			}
			return nil
		}
		return rerr
	}

	cache, err := s.Cache.Get(ctx, userID)
	if err != nil {
		return err
	}

	if info == nil {
		// no reservation: any future transition is "new" again
		cache.SupervisedNotified = false
		cache.ExpirationNotified = false
		cache.SessionInvalidNotified = false
		cache.LastStatus = nil
		cache.LastExp = nil
		return s.Cache.Put(ctx, cache)
	}

	// the read worked, so the session is alive again
	cache.SessionInvalidNotified = false

	now := s.now()
	status := int(info.Status)

	// leaving code 5 re-arms the supervised notice even while the
	// reservation persists
	if info.Status != traceint.StatusSupervised {
		cache.SupervisedNotified = false
	}

	if info.Status == traceint.StatusSupervised &&
		(cache.LastStatus == nil || *cache.LastStatus != status) {
		if !cache.SupervisedNotified {
			if notify.Supervised(ctx, s.Notify, userID) {
				res.NotificationsSent++
			}
			cache.SupervisedNotified = true
			at := now.Add(supervisedSigninDelay)
			cache.DelayedSigninAt = &at
			log.Printf("monitor: user %d supervised, auto signin at %s", userID, at.Format(time.RFC3339))
		}
	}

	if info.ExpDate != "" {
		if exp, perr := parseExpiry(info.ExpDate, now.Location()); perr != nil {
			log.Printf("monitor: user %d expiry %q: %v", userID, info.ExpDate, perr)
		} else {
			minutesLeft := exp.Sub(now).Minutes()
			if minutesLeft >= expiryWindowLow && minutesLeft <= expiryWindowHigh && !cache.ExpirationNotified {
				if notify.Expiring(ctx, s.Notify, userID, int(minutesLeft)) {
					res.NotificationsSent++
				}
				cache.ExpirationNotified = true
			}
			if minutesLeft > expiryResetMins {
				cache.ExpirationNotified = false
			}
		}
	}

	// the cache always reflects the latest read; transition detection
	// next cycle depends on it
	cache.LastStatus = &status
	exp := info.ExpDate
	if exp == "" {
		cache.LastExp = nil
	} else {
		cache.LastExp = &exp
	}
	return s.Cache.Put(ctx, cache)
}

// parseExpiry accepts the three formats the backend has been seen to
// produce: epoch seconds as a numeric string, epoch seconds with a
// fractional part, or an ISO timestamp.
func parseExpiry(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(sec, 0).In(loc), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Unix(int64(f), 0).In(loc), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized expiry %q", raw)
}
