package web

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// cronTick lets an external cron service drive task execution when the
// process-internal timers are not trusted to survive (e.g. platforms
// that suspend idle processes). Tasks run synchronously so the caller's
// timeout bounds the whole batch.
func (s *Server) cronTick(c echo.Context) error {
	res := s.Sched.EvaluateTick(c.Request().Context(), time.Now())
	return c.JSON(http.StatusOK, res)
}

func (s *Server) cronSeatMonitor(c echo.Context) error {
	res := s.Sched.RunSeatMonitor(c.Request().Context())
	if res.Errors == nil {
		res.Errors = []string{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"checked_users":      res.CheckedUsers,
		"notifications_sent": res.NotificationsSent,
		"errors":             res.Errors,
	})
}
