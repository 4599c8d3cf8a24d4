package scheduler

import (
	"context"
	"time"

	"github.com/example/seat-scheduler/internal/statuscache"
	"github.com/example/seat-scheduler/internal/tasks"
	"github.com/example/seat-scheduler/internal/traceint"
	"github.com/example/seat-scheduler/internal/users"
)

// TaskStore is the durable Task access the executors and the registry
// need.
type TaskStore interface {
	Get(ctx context.Context, id int64) (tasks.Task, error)
	ListEnabled(ctx context.Context) ([]tasks.Task, error)
	SetResult(ctx context.Context, id int64, status, message string) error
	StampLastRun(ctx context.Context, id int64) error
}

// CredentialStore hands out and mutates per-user backend credentials.
// SetCookie is what the backend client's save callback funnels into
// when the server-affinity token rotates.
type CredentialStore interface {
	Get(ctx context.Context, userID int64) (users.Credential, error)
	SetCookie(ctx context.Context, userID int64, cookie string) error
	Clear(ctx context.Context, userID int64) error
	ListWithCookie(ctx context.Context) ([]users.Credential, error)
}

// StatusStore persists the per-user monitoring cache.
type StatusStore interface {
	Get(ctx context.Context, userID int64) (statuscache.Row, error)
	Put(ctx context.Context, row statuscache.Row) error
	DueDelayedSignins(ctx context.Context, now time.Time) ([]statuscache.Row, error)
}

// MonitorRoster lists the users the seat-status monitor sweeps.
type MonitorRoster interface {
	EnabledUserIDs(ctx context.Context) ([]int64, error)
}

// Backend is the external seat-reservation service capability.
// *traceint.Client implements it.
type Backend interface {
	ReserveInfo(ctx context.Context, s *traceint.Session) (*traceint.Reservation, error)
	OftenSeats(ctx context.Context, s *traceint.Session) ([]traceint.Seat, error)
	ReserveSeat(ctx context.Context, s *traceint.Session, libID int, seatKey string) error
	RefreshPage(ctx context.Context, s *traceint.Session) error
	VerifySession(ctx context.Context, s *traceint.Session) error
	KeepAlive(ctx context.Context, s *traceint.Session, doQuery bool) (traceint.KeepAliveStatus, error)
	SignIn(ctx context.Context, sessID string, major, minor int) (string, error)
	KeepAliveSess(ctx context.Context, sessID string) error
}

var _ Backend = (*traceint.Client)(nil)
