// Package scheduler hosts the job registry, the task executors, the
// seat-status monitor and the session keep-alive loop. One Scheduler
// value is constructed at startup and owned by the composition root;
// there is no ambient global.
package scheduler

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/example/seat-scheduler/internal/cronexpr"
	"github.com/example/seat-scheduler/internal/notify"
	"github.com/example/seat-scheduler/internal/tasks"
	"github.com/example/seat-scheduler/internal/traceint"
	"github.com/example/seat-scheduler/internal/users"
)

const (
	defaultMonitorInterval   = 3 * time.Minute
	defaultKeepAliveInterval = 107 * time.Second
	defaultTickWindow        = 65 * time.Second

	// how long after a supervised flag the remedial sign-in runs
	supervisedSigninDelay = 5 * time.Minute
	// consecutive confirmed keep-alive failures before invalidation
	keepAliveFailThreshold = 2
	// maintenance-query backoff after a transient failure
	keepAliveBackoff = 30 * time.Minute
)

// in-flight slot IDs for the interval loops; task IDs are positive so
// the negative range is free
const (
	jobMonitor   int64 = -1
	jobKeepAlive int64 = -2
)

type Scheduler struct {
	Tasks     TaskStore
	Creds     CredentialStore
	Cache     StatusStore
	Monitored MonitorRoster
	Backend   Backend
	Notify    notify.Sink

	// Loc is the single timezone all cron math happens in.
	Loc *time.Location

	MonitorInterval   time.Duration
	KeepAliveInterval time.Duration
	TickWindow        time.Duration

	// test seams; nil means the real thing
	Clock   func() time.Time
	Sleep   func(time.Duration)
	Shuffle func(n int, swap func(i, j int))

	mu       sync.Mutex
	entries  map[int64]*entry
	inflight map[int64]bool
	wg       sync.WaitGroup
}

type entry struct {
	taskID   int64
	userID   int64
	taskType string
	sched    cronexpr.Schedule
	next     time.Time
}

func (s *Scheduler) now() time.Time {
	var t time.Time
	if s.Clock != nil {
		t = s.Clock()
	} else {
		t = time.Now()
	}
	if s.Loc != nil {
		t = t.In(s.Loc)
	}
	return t
}

func (s *Scheduler) sleep(d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (s *Scheduler) shuffle(n int, swap func(i, j int)) {
	if s.Shuffle != nil {
		s.Shuffle(n, swap)
		return
	}
	rand.Shuffle(n, swap)
}

func (s *Scheduler) tickWindow() time.Duration {
	if s.TickWindow > 0 {
		return s.TickWindow
	}
	return defaultTickWindow
}

// session builds a backend session whose server-affinity rotations are
// persisted back through the credential store.
func (s *Scheduler) session(ctx context.Context, cred users.Credential) *traceint.Session {
	userID := cred.UserID
	return traceint.NewSession(cred.Cookie, func(cookie string) error {
		return s.Creds.SetCookie(ctx, userID, cookie)
	})
}

// Upsert registers (or re-registers) a task's schedule. Any existing
// entry for the id is removed first, so there is never more than one
// trigger per task. Disabled tasks and tasks without a cron expression
// end up unregistered; a malformed expression is an error.
func (s *Scheduler) Upsert(t tasks.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[int64]*entry)
	}
	delete(s.entries, t.ID)

	if !t.Enabled || t.CronExpression == "" {
		return nil
	}
	sched, err := cronexpr.Parse(t.CronExpression)
	if err != nil {
		return err
	}
	s.entries[t.ID] = &entry{
		taskID:   t.ID,
		userID:   t.UserID,
		taskType: t.Type,
		sched:    sched,
		next:     sched.Next(s.now()),
	}
	return nil
}

// Remove drops a task's schedule entry, if any.
func (s *Scheduler) Remove(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, taskID)
}

// Registered reports whether a trigger exists for the task, and its
// next fire time.
func (s *Scheduler) Registered(taskID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[taskID]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

// ReloadAll re-registers every enabled task. Schedules do not survive
// a restart on their own; the server calls this once at startup.
func (s *Scheduler) ReloadAll(ctx context.Context) error {
	ts, err := s.Tasks.ListEnabled(ctx)
	if err != nil {
		return err
	}
	for _, t := range ts {
		if err := s.Upsert(t); err != nil {
			log.Printf("scheduler: register task %d: %v", t.ID, err)
		}
	}
	return nil
}

// NextFireTime computes a task's next fire time after now without
// registering anything. Read APIs use it to display upcoming runs.
func NextFireTime(t tasks.Task, now time.Time) (time.Time, bool) {
	if !t.Enabled || t.CronExpression == "" {
		return time.Time{}, false
	}
	sched, err := cronexpr.Parse(t.CronExpression)
	if err != nil {
		return time.Time{}, false
	}
	next := sched.Next(now)
	return next, !next.IsZero()
}

// Run drives the cron entries plus the two fixed-interval loops until
// ctx is cancelled. Triggered jobs run on their own goroutines; the
// timer loop itself never blocks on backend calls.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.ReloadAll(ctx); err != nil {
		log.Printf("scheduler: initial task load: %v", err)
	}

	monitorEvery := s.MonitorInterval
	if monitorEvery <= 0 {
		monitorEvery = defaultMonitorInterval
	}
	keepAliveEvery := s.KeepAliveInterval
	if keepAliveEvery <= 0 {
		keepAliveEvery = defaultKeepAliveInterval
	}

	cronTick := time.NewTicker(15 * time.Second)
	defer cronTick.Stop()
	monitorTick := time.NewTicker(monitorEvery)
	defer monitorTick.Stop()
	keepAliveTick := time.NewTicker(keepAliveEvery)
	defer keepAliveTick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-cronTick.C:
			s.fireDue(ctx)
		case <-monitorTick.C:
			s.spawnLoopJob(jobMonitor, func() {
				res := s.RunSeatMonitor(ctx)
				log.Printf("scheduler: monitor checked=%d notified=%d errors=%d",
					res.CheckedUsers, res.NotificationsSent, len(res.Errors))
			})
		case <-keepAliveTick.C:
			s.spawnLoopJob(jobKeepAlive, func() { s.RunKeepAlive(ctx) })
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if e.next.IsZero() || e.next.After(now) {
			continue
		}
		e.next = e.sched.Next(now)
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		e := e
		if !s.acquire(e.taskID) {
			continue
		}
		s.spawn(func() {
			defer s.release(e.taskID)
			s.runTask(ctx, e.taskType, e.userID, e.taskID)
		})
	}
}

func (s *Scheduler) runTask(ctx context.Context, taskType string, userID, taskID int64) {
	switch taskType {
	case tasks.TypeReserve:
		s.RunReserveTask(ctx, userID, taskID)
	case tasks.TypeSignin:
		s.RunSigninTask(ctx, userID, taskID)
	default:
		log.Printf("scheduler: task %d has unknown type %q", taskID, taskType)
	}
}

// spawn runs fn on a tracked goroutine with a panic boundary: a
// panicking job must not take down the process or the other loops.
func (s *Scheduler) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("scheduler: job panic: %v", r)
			}
		}()
		fn()
	}()
}

// spawnLoopJob runs an interval sweep under its single-flight slot. A
// sweep slower than its interval drops the overlapping tick instead of
// racing the first run over the per-user cache.
func (s *Scheduler) spawnLoopJob(id int64, fn func()) {
	if !s.acquire(id) {
		return
	}
	s.spawn(func() {
		defer s.release(id)
		fn()
	})
}

// acquire claims the per-task single-flight slot. Jobs for different
// tasks run concurrently; two runs of the same task never overlap.
func (s *Scheduler) acquire(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == nil {
		s.inflight = make(map[int64]bool)
	}
	if s.inflight[taskID] {
		return false
	}
	s.inflight[taskID] = true
	return true
}

func (s *Scheduler) release(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, taskID)
}
