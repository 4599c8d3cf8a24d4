package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/example/seat-scheduler/internal/notify"
	"github.com/example/seat-scheduler/internal/tasks"
	"github.com/example/seat-scheduler/internal/traceint"
)

// RunReserveTask executes one reservation attempt cycle for a task.
// All failures are absorbed here and translated into the task's
// last-status/last-message; nothing escapes to the scheduler loop. The
// last-run stamp is the unconditional final step, so repeated ticks in
// the same period do not pile up duplicate runs.
func (s *Scheduler) RunReserveTask(ctx context.Context, userID, taskID int64) {
	defer func() {
		if err := s.Tasks.StampLastRun(ctx, taskID); err != nil {
			log.Printf("reserve: stamp last run for task %d: %v", taskID, err)
		}
	}()

	cred, err := s.Creds.Get(ctx, userID)
	if err != nil || !cred.HasCookie() {
		log.Printf("reserve: user %d not ready for seat task", userID)
		s.recordResult(ctx, taskID, tasks.StatusFailed, "用户未绑定微信 Cookie")
		notify.CookieInvalid(ctx, s.Notify, userID)
		return
	}

	task, err := s.Tasks.Get(ctx, taskID)
	if err != nil {
		log.Printf("reserve: load task %d: %v", taskID, err)
		return
	}

	sess := s.session(ctx, cred)

	// Idempotence: running twice in one day must not double-book.
	// A failed read is tolerated and the attempt continues, matching
	// the trust-the-read policy on the mutation side.
	if info, rerr := s.Backend.ReserveInfo(ctx, sess); rerr == nil && info.Active(s.now()) {
		s.recordResult(ctx, taskID, tasks.StatusSkipped, "用户当前已有预约，跳过任务")
		return
	} else if rerr != nil {
		log.Printf("reserve: pre-check read for user %d: %v", userID, rerr)
	}

	cfg, err := tasks.ParseConfig(task.Config)
	if err != nil {
		s.recordResult(ctx, taskID, tasks.StatusFailed, err.Error())
		notify.ReserveFailed(ctx, s.Notify, userID, err.Error())
		return
	}

	targets, err := s.selectTargets(ctx, sess, cfg)
	if err != nil {
		msg := fmt.Sprintf("获取预选座位失败: %v", err)
		s.recordResult(ctx, taskID, tasks.StatusFailed, msg)
		s.notifyFatal(ctx, userID, err, msg)
		return
	}
	if len(targets) == 0 {
		msg := "没有可用的目标座位"
		s.recordResult(ctx, taskID, tasks.StatusFailed, msg)
		notify.ReserveFailed(ctx, s.Notify, userID, msg)
		return
	}

	var fatal error
	var won *traceint.Seat
	for i, seat := range targets {
		if i%2 == 0 {
			// amortized session warm-up; best effort, result discarded
			_ = s.Backend.RefreshPage(ctx, sess)
		}
		aerr := s.Backend.ReserveSeat(ctx, sess, seat.LibID, seat.SeatKey)
		if aerr == nil {
			won = &targets[i]
			break
		}
		if traceint.IsFatalForAttempts(aerr) {
			// dead session or sanctioned account: no other target can
			// succeed, stop immediately
			fatal = aerr
			break
		}
		log.Printf("reserve: task %d target %d/%s: %v", taskID, seat.LibID, seat.SeatKey, aerr)
	}

	switch {
	case won != nil:
		s.recordResult(ctx, taskID, tasks.StatusSuccess, "执行成功")
		info, rerr := s.Backend.ReserveInfo(ctx, sess)
		if rerr != nil || info == nil {
			// confirm read gave nothing; push the target we booked
			// instead of a placeholder snapshot
			log.Printf("reserve: confirm read for user %d: %v", userID, rerr)
			info = &traceint.Reservation{
				Status: traceint.StatusReserved, LibID: won.LibID, SeatKey: won.SeatKey,
			}
		}
		notify.ReserveSuccess(ctx, s.Notify, userID, info)
	case fatal != nil:
		s.recordResult(ctx, taskID, tasks.StatusFailed, fatal.Error())
		s.notifyFatal(ctx, userID, fatal, fatal.Error())
	default:
		// every target occupied or transiently failing; next tick retries
		s.recordResult(ctx, taskID, tasks.StatusSkipped, "目标座位今日已被占用或无可用座位，跳过任务")
	}
}

func (s *Scheduler) selectTargets(ctx context.Context, sess *traceint.Session, cfg tasks.Config) ([]traceint.Seat, error) {
	if cfg.Strategy == tasks.StrategyDefaultAll {
		return s.Backend.OftenSeats(ctx, sess)
	}
	return []traceint.Seat{{LibID: cfg.LibID, SeatKey: cfg.SeatKey}}, nil
}

// notifyFatal branches the failure notification: a dead session means
// "fix your credentials", anything else is a generic failure.
func (s *Scheduler) notifyFatal(ctx context.Context, userID int64, err error, msg string) {
	if traceint.IsSessionInvalid(err) {
		notify.CookieInvalid(ctx, s.Notify, userID)
		return
	}
	notify.ReserveFailed(ctx, s.Notify, userID, msg)
}

func (s *Scheduler) recordResult(ctx context.Context, taskID int64, status, message string) {
	if err := s.Tasks.SetResult(ctx, taskID, status, message); err != nil {
		log.Printf("scheduler: record result for task %d: %v", taskID, err)
	}
}
