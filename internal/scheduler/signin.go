package scheduler

import (
	"context"
	"log"
	"strconv"

	"github.com/example/seat-scheduler/internal/notify"
	"github.com/example/seat-scheduler/internal/tasks"
)

// RunSigninTask executes one bluetooth check-in for a task. The
// preconditions each produce their own failure notification; a missing
// secondary session wins over a missing beacon config.
func (s *Scheduler) RunSigninTask(ctx context.Context, userID, taskID int64) {
	defer func() {
		if err := s.Tasks.StampLastRun(ctx, taskID); err != nil {
			log.Printf("signin: stamp last run for task %d: %v", taskID, err)
		}
	}()

	cred, err := s.Creds.Get(ctx, userID)
	if err != nil || !cred.HasSessID() {
		log.Printf("signin: user %d not ready for signin task", userID)
		s.recordResult(ctx, taskID, tasks.StatusFailed, "用户未绑定微信 SessID")
		notify.SessIDMissing(ctx, s.Notify, userID)
		return
	}

	major, merr := strconv.Atoi(cred.Major)
	minor, nerr := strconv.Atoi(cred.Minor)
	if !cred.HasBeacon() || merr != nil || nerr != nil {
		s.recordResult(ctx, taskID, tasks.StatusFailed, "蓝牙打卡配置缺失（major/minor）")
		notify.BluetoothMissing(ctx, s.Notify, userID)
		return
	}

	if cred.HasCookie() {
		// keep the primary session warm; failure never aborts sign-in
		_ = s.Backend.RefreshPage(ctx, s.session(ctx, cred))
	}

	result, err := s.Backend.SignIn(ctx, cred.SessID, major, minor)
	if err != nil {
		s.recordResult(ctx, taskID, tasks.StatusFailed, err.Error())
		notify.SigninFailed(ctx, s.Notify, userID, err.Error())
		return
	}

	s.recordResult(ctx, taskID, tasks.StatusSuccess, result)
	notify.SigninSuccess(ctx, s.Notify, userID)
}
