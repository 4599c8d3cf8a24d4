package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/seat-scheduler/internal/tasks"
	"github.com/example/seat-scheduler/internal/users"
)

func tickTask(id int64, cron string, lastRun *time.Time) tasks.Task {
	t := reserveTask(id)
	t.CronExpression = cron
	t.LastRun = lastRun
	return t
}

func TestEvaluateTickRunsDueTask(t *testing.T) {
	// 30 seconds into the window of the 07:00 slot
	now := time.Date(2026, 3, 2, 7, 0, 30, 0, time.UTC)
	ft := newFakeTasks(tickTask(10, "0 7 * * *", nil))
	fc := newFakeCreds(users.Credential{UserID: 1, Cookie: "c"})
	s := testScheduler(now, ft, fc, newFakeCache(), nil, &fakeBackend{}, &fakeSink{})

	res := s.EvaluateTick(context.Background(), now)

	if len(res.Executed) != 1 || res.Executed[0].ID != 10 {
		t.Fatalf("executed = %+v, want task 10", res.Executed)
	}
	want := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	if !res.Executed[0].Scheduled.Equal(want) {
		t.Errorf("scheduled = %s, want %s", res.Executed[0].Scheduled, want)
	}
	if len(ft.stamps) != 1 {
		t.Errorf("stamps = %v, want one run", ft.stamps)
	}
}

func TestEvaluateTickDedupsRecentRun(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 30, 0, time.UTC)
	ran := now.Add(-10 * time.Second)
	ft := newFakeTasks(tickTask(10, "0 7 * * *", &ran))
	fc := newFakeCreds(users.Credential{UserID: 1, Cookie: "c"})
	s := testScheduler(now, ft, fc, newFakeCache(), nil, &fakeBackend{}, &fakeSink{})

	res := s.EvaluateTick(context.Background(), now)

	if len(res.Executed) != 0 {
		t.Fatalf("executed = %+v, want none (task ran 10s ago)", res.Executed)
	}
	if len(ft.stamps) != 0 {
		t.Errorf("stamps = %v, want none", ft.stamps)
	}
}

func TestEvaluateTickIgnoresStaleSlot(t *testing.T) {
	// 07:02:00 is 120s after the slot, outside the window
	now := time.Date(2026, 3, 2, 7, 2, 0, 0, time.UTC)
	ft := newFakeTasks(tickTask(10, "0 7 * * *", nil))
	fc := newFakeCreds(users.Credential{UserID: 1, Cookie: "c"})
	s := testScheduler(now, ft, fc, newFakeCache(), nil, &fakeBackend{}, &fakeSink{})

	if res := s.EvaluateTick(context.Background(), now); len(res.Executed) != 0 {
		t.Fatalf("executed = %+v, want none", res.Executed)
	}
}

func TestEvaluateTickOldLastRunStillFires(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 30, 0, time.UTC)
	ran := now.Add(-24 * time.Hour)
	ft := newFakeTasks(tickTask(10, "0 7 * * *", &ran))
	fc := newFakeCreds(users.Credential{UserID: 1, Cookie: "c"})
	s := testScheduler(now, ft, fc, newFakeCache(), nil, &fakeBackend{}, &fakeSink{})

	if res := s.EvaluateTick(context.Background(), now); len(res.Executed) != 1 {
		t.Fatalf("executed = %+v, want one (yesterday's run does not block)", res.Executed)
	}
}

func TestEvaluateTickSkipsMalformedCron(t *testing.T) {
	ft := newFakeTasks(tickTask(10, "not a cron", nil))
	fc := newFakeCreds(users.Credential{UserID: 1, Cookie: "c"})
	now := time.Date(2026, 3, 2, 7, 0, 30, 0, time.UTC)
	s := testScheduler(now, ft, fc, newFakeCache(), nil, &fakeBackend{}, &fakeSink{})

	if res := s.EvaluateTick(context.Background(), now); len(res.Executed) != 0 {
		t.Fatalf("executed = %+v, want none", res.Executed)
	}
}

func TestUpsertReplacesTrigger(t *testing.T) {
	s := testScheduler(testNow, newFakeTasks(), newFakeCreds(), newFakeCache(), nil, &fakeBackend{}, &fakeSink{})

	task := tickTask(10, "0 7 * * *", nil)
	if err := s.Upsert(task); err != nil {
		t.Fatal(err)
	}
	first, ok := s.Registered(10)
	if !ok {
		t.Fatal("task not registered")
	}

	task.CronExpression = "0 9 * * *"
	if err := s.Upsert(task); err != nil {
		t.Fatal(err)
	}
	second, ok := s.Registered(10)
	if !ok {
		t.Fatal("task lost after re-registration")
	}
	if first.Equal(second) {
		t.Error("next fire time unchanged after schedule change")
	}
	if second.Hour() != 9 {
		t.Errorf("next fire hour = %d, want 9", second.Hour())
	}

	task.Enabled = false
	if err := s.Upsert(task); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Registered(10); ok {
		t.Error("disabled task still registered")
	}
}

func TestUpsertRejectsMalformedCron(t *testing.T) {
	s := testScheduler(testNow, newFakeTasks(), newFakeCreds(), newFakeCache(), nil, &fakeBackend{}, &fakeSink{})
	if err := s.Upsert(tickTask(10, "61 * * * *", nil)); err == nil {
		t.Fatal("expected an error for a malformed expression")
	}
	if _, ok := s.Registered(10); ok {
		t.Error("malformed task must not end up registered")
	}
}

func TestNextFireTime(t *testing.T) {
	task := tickTask(10, "30 8 * * *", nil)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	next, ok := NextFireTime(task, now)
	if !ok {
		t.Fatal("expected a next fire time")
	}
	want := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %s, want %s", next, want)
	}

	task.Enabled = false
	if _, ok := NextFireTime(task, now); ok {
		t.Error("disabled task should have no fire time")
	}
}

func TestSpawnLoopJobSkipsOverlap(t *testing.T) {
	s := &Scheduler{}
	started := make(chan struct{})
	block := make(chan struct{})
	var runs int32

	s.spawnLoopJob(jobMonitor, func() {
		atomic.AddInt32(&runs, 1)
		close(started)
		<-block
	})
	<-started

	// the interval fires again while the first sweep is still running
	s.spawnLoopJob(jobMonitor, func() { atomic.AddInt32(&runs, 1) })

	// an unrelated loop is not blocked by the monitor's slot
	s.spawnLoopJob(jobKeepAlive, func() { atomic.AddInt32(&runs, 1) })

	close(block)
	s.wg.Wait()
	if got := atomic.LoadInt32(&runs); got != 2 {
		t.Errorf("runs = %d, want 2 (overlapping monitor tick dropped)", got)
	}

	// the slot frees once the sweep ends
	s.spawnLoopJob(jobMonitor, func() { atomic.AddInt32(&runs, 1) })
	s.wg.Wait()
	if got := atomic.LoadInt32(&runs); got != 3 {
		t.Errorf("runs = %d, want 3 after the slot is released", got)
	}
}
