package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/example/seat-scheduler/internal/notify"
)

type pushConfigPayload struct {
	DeviceToken   string   `json:"device_token"`
	ServerURL     string   `json:"server_url"`
	Enabled       bool     `json:"enabled"`
	Subscriptions []string `json:"subscriptions"`
}

func (s *Server) getPushConfig(c echo.Context) error {
	cfg, ok, err := s.Push.Get(c.Request().Context(), userID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if !ok {
		return c.JSON(http.StatusOK, echo.Map{"configured": false})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"configured":    true,
		"device_token":  cfg.DeviceToken,
		"server_url":    cfg.ServerURL,
		"enabled":       cfg.Enabled,
		"subscriptions": cfg.Subscriptions,
	})
}

func (s *Server) putPushConfig(c echo.Context) error {
	var req pushConfigPayload
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad request"})
	}
	if req.DeviceToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "device_token 不能为空"})
	}
	cfg := notify.Config{
		UserID:        userID(c),
		DeviceToken:   req.DeviceToken,
		ServerURL:     req.ServerURL,
		Enabled:       req.Enabled,
		Subscriptions: req.Subscriptions,
	}
	if err := s.Push.Put(c.Request().Context(), cfg); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"configured": true})
}

func (s *Server) pushHistory(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	entries, total, err := s.Push.History(c.Request().Context(), userID(c), limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	type entryView struct {
		ID        int64     `json:"id"`
		Type      string    `json:"type"`
		Title     string    `json:"title"`
		Content   string    `json:"content"`
		Status    string    `json:"status"`
		Error     string    `json:"error,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{
			ID:        e.ID,
			Type:      string(e.Type),
			Title:     e.Title,
			Content:   e.Content,
			Status:    e.Status,
			Error:     e.Error,
			CreatedAt: e.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"total": total, "items": views})
}

// pushTest sends a forced notification so the user can confirm their
// device token works before relying on it.
func (s *Server) pushTest(c echo.Context) error {
	ok := s.Notify.Send(c.Request().Context(), userID(c), notify.TypeTest,
		"测试通知", "如果你看到这条消息，推送配置正常。", notify.Options{Force: true})
	return c.JSON(http.StatusOK, echo.Map{"delivered": ok})
}
