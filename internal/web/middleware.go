package web

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/example/seat-scheduler/internal/auth"
)

const userIDKey = "user_id"

func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, ok := bearer(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
		}
		uid, err := auth.Verify(s.JWTSecret, raw)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}
		c.Set(userIDKey, uid)
		return next(c)
	}
}

// requireCronSecret guards the hooks an external cron service calls.
// The shared secret is a bearer credential, compared in constant time.
func (s *Server) requireCronSecret(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, ok := bearer(c)
		if !ok || subtle.ConstantTimeCompare([]byte(raw), []byte(s.CronSecret)) != 1 {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid cron secret"})
		}
		return next(c)
	}
}

func bearer(c echo.Context) (string, bool) {
	h := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}

func userID(c echo.Context) int64 {
	uid, _ := c.Get(userIDKey).(int64)
	return uid
}
