package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/example/seat-scheduler/internal/db"
	"github.com/example/seat-scheduler/internal/scheduler"
	"github.com/example/seat-scheduler/internal/tasks"
)

type taskPayload struct {
	Type           string          `json:"type"`
	CronExpression string          `json:"cron_expression"`
	Config         json.RawMessage `json:"config"`
	Enabled        bool            `json:"enabled"`
	Remark         *string         `json:"remark"`
}

type taskView struct {
	ID             int64           `json:"id"`
	Type           string          `json:"type"`
	CronExpression string          `json:"cron_expression"`
	Config         json.RawMessage `json:"config"`
	Enabled        bool            `json:"enabled"`
	Remark         *string         `json:"remark"`
	LastRun        *time.Time      `json:"last_run"`
	LastStatus     *string         `json:"last_status"`
	LastMessage    *string         `json:"last_message"`
	NextRun        *time.Time      `json:"next_run"`
}

func (s *Server) taskView(t tasks.Task) taskView {
	v := taskView{
		ID:             t.ID,
		Type:           t.Type,
		CronExpression: t.CronExpression,
		Config:         t.Config,
		Enabled:        t.Enabled,
		Remark:         t.Remark,
		LastRun:        t.LastRun,
		LastStatus:     t.LastStatus,
		LastMessage:    t.LastMessage,
	}
	if next, ok := scheduler.NextFireTime(t, time.Now()); ok {
		v.NextRun = &next
	}
	return v
}

func (s *Server) listTasks(c echo.Context) error {
	ts, err := s.Tasks.ListByUser(c.Request().Context(), userID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	views := make([]taskView, 0, len(ts))
	for _, t := range ts {
		views = append(views, s.taskView(t))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) createTask(c echo.Context) error {
	var req taskPayload
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad request"})
	}
	t := tasks.Task{
		UserID:         userID(c),
		Type:           req.Type,
		CronExpression: req.CronExpression,
		Config:         req.Config,
		Enabled:        req.Enabled,
		Remark:         req.Remark,
	}
	if err := t.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	id, err := s.Tasks.Create(c.Request().Context(), t)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	t.ID = id

	// the registry and the table must agree; a task that cannot be
	// registered is not kept
	if err := s.Sched.Upsert(t); err != nil {
		_ = s.Tasks.Delete(c.Request().Context(), id, t.UserID)
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, s.taskView(t))
}

func (s *Server) updateTask(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad task id"})
	}
	uid := userID(c)

	prev, err := s.Tasks.GetForUser(c.Request().Context(), id, uid)
	if err != nil {
		if db.IsNotFound(err) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	var req taskPayload
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad request"})
	}
	t := prev
	t.Type = req.Type
	t.CronExpression = req.CronExpression
	t.Config = req.Config
	t.Enabled = req.Enabled
	t.Remark = req.Remark
	if err := t.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	if err := s.Tasks.Update(c.Request().Context(), t); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if err := s.Sched.Upsert(t); err != nil {
		// restore the previous row and its trigger
		_ = s.Tasks.Update(c.Request().Context(), prev)
		_ = s.Sched.Upsert(prev)
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, s.taskView(t))
}

func (s *Server) deleteTask(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad task id"})
	}
	if err := s.Tasks.Delete(c.Request().Context(), id, userID(c)); err != nil {
		if db.IsNotFound(err) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	s.Sched.Remove(id)
	return c.NoContent(http.StatusNoContent)
}
