// Package web is the HTTP surface: account endpoints, task CRUD kept
// in sync with the in-process job registry, credential and push
// configuration, and secret-guarded hooks for external cron services.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/example/seat-scheduler/internal/notify"
	"github.com/example/seat-scheduler/internal/scheduler"
	"github.com/example/seat-scheduler/internal/tasks"
	"github.com/example/seat-scheduler/internal/traceint"
	"github.com/example/seat-scheduler/internal/users"
)

type Server struct {
	Users *users.Repo
	Creds *users.CredentialRepo
	Tasks *tasks.Repo
	Push  *notify.Repo

	Notify notify.Sink
	Sched  *scheduler.Scheduler
	Client *traceint.Client

	JWTSecret  []byte
	CronSecret string
}

// Handler assembles the echo engine with all routes registered.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	api := e.Group("/api")
	api.POST("/register", s.register)
	api.POST("/login", s.login)

	authed := api.Group("", s.requireAuth)
	authed.GET("/me", s.me)

	authed.GET("/tasks", s.listTasks)
	authed.POST("/tasks", s.createTask)
	authed.PUT("/tasks/:id", s.updateTask)
	authed.DELETE("/tasks/:id", s.deleteTask)

	authed.GET("/reservation", s.getReservation)
	authed.DELETE("/reservation", s.deleteReservation)
	authed.POST("/reservation/hold", s.holdReservation)
	authed.GET("/seats", s.listOftenSeats)

	authed.GET("/credentials", s.getCredentials)
	authed.PUT("/credentials", s.putCredentials)

	authed.GET("/push/config", s.getPushConfig)
	authed.PUT("/push/config", s.putPushConfig)
	authed.GET("/push/history", s.pushHistory)
	authed.POST("/push/test", s.pushTest)

	cron := api.Group("/cron", s.requireCronSecret)
	cron.GET("/tick", s.cronTick)
	cron.POST("/seat-monitor", s.cronSeatMonitor)

	return e
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, addr string, e *echo.Echo) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()
	err := e.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
