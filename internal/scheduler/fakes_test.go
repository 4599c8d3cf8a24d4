package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/example/seat-scheduler/internal/notify"
	"github.com/example/seat-scheduler/internal/statuscache"
	"github.com/example/seat-scheduler/internal/tasks"
	"github.com/example/seat-scheduler/internal/traceint"
	"github.com/example/seat-scheduler/internal/users"
)

type taskResult struct {
	TaskID  int64
	Status  string
	Message string
}

type fakeTasks struct {
	tasks   map[int64]tasks.Task
	results []taskResult
	stamps  []int64

	stampAt time.Time
}

func newFakeTasks(ts ...tasks.Task) *fakeTasks {
	f := &fakeTasks{tasks: make(map[int64]tasks.Task)}
	for _, t := range ts {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeTasks) Get(ctx context.Context, id int64) (tasks.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return tasks.Task{}, fmt.Errorf("task %d not found", id)
	}
	return t, nil
}

func (f *fakeTasks) ListEnabled(ctx context.Context) ([]tasks.Task, error) {
	var out []tasks.Task
	for _, t := range f.tasks {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTasks) SetResult(ctx context.Context, id int64, status, message string) error {
	f.results = append(f.results, taskResult{TaskID: id, Status: status, Message: message})
	if t, ok := f.tasks[id]; ok {
		t.LastStatus = &status
		t.LastMessage = &message
		f.tasks[id] = t
	}
	return nil
}

func (f *fakeTasks) StampLastRun(ctx context.Context, id int64) error {
	f.stamps = append(f.stamps, id)
	if t, ok := f.tasks[id]; ok {
		at := f.stampAt
		t.LastRun = &at
		f.tasks[id] = t
	}
	return nil
}

func (f *fakeTasks) lastResult() (taskResult, bool) {
	if len(f.results) == 0 {
		return taskResult{}, false
	}
	return f.results[len(f.results)-1], true
}

type fakeCreds struct {
	creds   map[int64]users.Credential
	cleared []int64
}

func newFakeCreds(cs ...users.Credential) *fakeCreds {
	f := &fakeCreds{creds: make(map[int64]users.Credential)}
	for _, c := range cs {
		f.creds[c.UserID] = c
	}
	return f
}

func (f *fakeCreds) Get(ctx context.Context, userID int64) (users.Credential, error) {
	return f.creds[userID], nil
}

func (f *fakeCreds) SetCookie(ctx context.Context, userID int64, cookie string) error {
	c := f.creds[userID]
	c.UserID = userID
	c.Cookie = cookie
	f.creds[userID] = c
	return nil
}

func (f *fakeCreds) Clear(ctx context.Context, userID int64) error {
	f.cleared = append(f.cleared, userID)
	c := f.creds[userID]
	c.Cookie = ""
	c.SessID = ""
	f.creds[userID] = c
	return nil
}

func (f *fakeCreds) ListWithCookie(ctx context.Context) ([]users.Credential, error) {
	var out []users.Credential
	for _, c := range f.creds {
		if c.HasCookie() {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeCache struct {
	rows map[int64]statuscache.Row
}

func newFakeCache(rows ...statuscache.Row) *fakeCache {
	f := &fakeCache{rows: make(map[int64]statuscache.Row)}
	for _, r := range rows {
		f.rows[r.UserID] = r
	}
	return f
}

func (f *fakeCache) Get(ctx context.Context, userID int64) (statuscache.Row, error) {
	if r, ok := f.rows[userID]; ok {
		return r, nil
	}
	return statuscache.Row{UserID: userID}, nil
}

func (f *fakeCache) Put(ctx context.Context, row statuscache.Row) error {
	f.rows[row.UserID] = row
	return nil
}

func (f *fakeCache) DueDelayedSignins(ctx context.Context, now time.Time) ([]statuscache.Row, error) {
	var out []statuscache.Row
	for _, r := range f.rows {
		if r.DelayedSigninAt != nil && !r.DelayedSigninAt.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeRoster []int64

func (f fakeRoster) EnabledUserIDs(ctx context.Context) ([]int64, error) { return f, nil }

// fakeBackend answers each call from its function field, or a benign
// default when the field is nil, and counts calls by method.
type fakeBackend struct {
	reserveInfo   func(ctx context.Context) (*traceint.Reservation, error)
	oftenSeats    func(ctx context.Context) ([]traceint.Seat, error)
	reserveSeat   func(ctx context.Context, libID int, seatKey string) error
	refreshPage   func(ctx context.Context) error
	verifySession func(ctx context.Context) error
	keepAlive     func(ctx context.Context, doQuery bool) (traceint.KeepAliveStatus, error)
	signIn        func(ctx context.Context, sessID string, major, minor int) (string, error)
	keepAliveSess func(ctx context.Context, sessID string) error

	calls map[string]int
}

func (f *fakeBackend) count(method string) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
}

func (f *fakeBackend) ReserveInfo(ctx context.Context, s *traceint.Session) (*traceint.Reservation, error) {
	f.count("ReserveInfo")
	if f.reserveInfo == nil {
		return nil, nil
	}
	return f.reserveInfo(ctx)
}

func (f *fakeBackend) OftenSeats(ctx context.Context, s *traceint.Session) ([]traceint.Seat, error) {
	f.count("OftenSeats")
	if f.oftenSeats == nil {
		return nil, nil
	}
	return f.oftenSeats(ctx)
}

func (f *fakeBackend) ReserveSeat(ctx context.Context, s *traceint.Session, libID int, seatKey string) error {
	f.count("ReserveSeat")
	if f.reserveSeat == nil {
		return nil
	}
	return f.reserveSeat(ctx, libID, seatKey)
}

func (f *fakeBackend) RefreshPage(ctx context.Context, s *traceint.Session) error {
	f.count("RefreshPage")
	if f.refreshPage == nil {
		return nil
	}
	return f.refreshPage(ctx)
}

func (f *fakeBackend) VerifySession(ctx context.Context, s *traceint.Session) error {
	f.count("VerifySession")
	if f.verifySession == nil {
		return nil
	}
	return f.verifySession(ctx)
}

func (f *fakeBackend) KeepAlive(ctx context.Context, s *traceint.Session, doQuery bool) (traceint.KeepAliveStatus, error) {
	f.count("KeepAlive")
	if f.keepAlive == nil {
		return traceint.KeepAliveStatus{PageOK: true, APIOK: true}, nil
	}
	return f.keepAlive(ctx, doQuery)
}

func (f *fakeBackend) SignIn(ctx context.Context, sessID string, major, minor int) (string, error) {
	f.count("SignIn")
	if f.signIn == nil {
		return "打卡成功", nil
	}
	return f.signIn(ctx, sessID, major, minor)
}

func (f *fakeBackend) KeepAliveSess(ctx context.Context, sessID string) error {
	f.count("KeepAliveSess")
	if f.keepAliveSess == nil {
		return nil
	}
	return f.keepAliveSess(ctx, sessID)
}

type sentNote struct {
	UserID  int64
	Type    notify.Type
	Content string
}

type fakeSink struct {
	sent []sentNote
}

func (f *fakeSink) Send(ctx context.Context, userID int64, typ notify.Type, title, content string, opts notify.Options) bool {
	f.sent = append(f.sent, sentNote{UserID: userID, Type: typ, Content: content})
	return true
}

func (f *fakeSink) countType(typ notify.Type) int {
	n := 0
	for _, s := range f.sent {
		if s.Type == typ {
			n++
		}
	}
	return n
}

// testScheduler wires a Scheduler onto fakes with a fixed clock, a
// no-op sleep and a stable shuffle.
func testScheduler(now time.Time, ft *fakeTasks, fc *fakeCreds, cache *fakeCache, roster fakeRoster, b *fakeBackend, sink *fakeSink) *Scheduler {
	ft.stampAt = now
	return &Scheduler{
		Tasks:     ft,
		Creds:     fc,
		Cache:     cache,
		Monitored: roster,
		Backend:   b,
		Notify:    sink,
		Loc:       now.Location(),
		Clock:     func() time.Time { return now },
		Sleep:     func(time.Duration) {},
		Shuffle:   func(n int, swap func(i, j int)) {},
	}
}
