package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/example/seat-scheduler/internal/cronexpr"
)

// ExecutedTask identifies one task run triggered by an external tick.
type ExecutedTask struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Scheduled time.Time `json:"scheduled"`
}

// TickResult is the summary returned to the external tick caller.
type TickResult struct {
	ServerTime time.Time      `json:"server_time"`
	Executed   []ExecutedTask `json:"executed"`
}

// EvaluateTick runs every enabled task whose most recent cron slot
// falls inside the tick window ending at now. External cron services
// deliver at best minute granularity and sometimes late or twice, so
// dueness is judged against the schedule's last slot rather than exact
// equality, and a task whose last run already covers the window is not
// run again.
func (s *Scheduler) EvaluateTick(ctx context.Context, now time.Time) TickResult {
	if s.Loc != nil {
		now = now.In(s.Loc)
	}
	res := TickResult{ServerTime: now}

	ts, err := s.Tasks.ListEnabled(ctx)
	if err != nil {
		log.Printf("tick: list tasks: %v", err)
		return res
	}
	window := s.tickWindow()

	for _, t := range ts {
		if t.CronExpression == "" {
			continue
		}
		sched, err := cronexpr.Parse(t.CronExpression)
		if err != nil {
			log.Printf("tick: task %d: bad cron expression: %v", t.ID, err)
			continue
		}
		slot := sched.Prev(now)
		if slot.IsZero() {
			continue
		}
		if age := now.Sub(slot); age < 0 || age >= window {
			continue
		}
		// overlapping ticks both see the same slot; the run stamp from
		// the first one suppresses the second
		if t.LastRun != nil && now.Sub(*t.LastRun) < window {
			continue
		}
		if !s.acquire(t.ID) {
			continue
		}
		s.runTask(ctx, t.Type, t.UserID, t.ID)
		s.release(t.ID)
		res.Executed = append(res.Executed, ExecutedTask{ID: t.ID, Type: t.Type, Scheduled: slot})
	}
	return res
}
