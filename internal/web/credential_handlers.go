package web

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/example/seat-scheduler/internal/users"
)

type credentialPayload struct {
	Cookie string `json:"cookie"`
	SessID string `json:"sess_id"`
	Major  string `json:"major"`
	Minor  string `json:"minor"`
}

// getCredentials reveals presence only, never the stored secrets.
func (s *Server) getCredentials(c echo.Context) error {
	cred, err := s.Creds.Get(c.Request().Context(), userID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"has_cookie":  cred.HasCookie(),
		"has_sess_id": cred.HasSessID(),
		"has_beacon":  cred.HasBeacon(),
		"major":       cred.Major,
		"minor":       cred.Minor,
	})
}

func (s *Server) putCredentials(c echo.Context) error {
	var req credentialPayload
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad request"})
	}
	cred := users.Credential{
		UserID: userID(c),
		Cookie: strings.TrimSpace(req.Cookie),
		SessID: strings.TrimSpace(req.SessID),
		Major:  strings.TrimSpace(req.Major),
		Minor:  strings.TrimSpace(req.Minor),
	}
	if err := s.Creds.Put(c.Request().Context(), cred); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"has_cookie":  cred.HasCookie(),
		"has_sess_id": cred.HasSessID(),
		"has_beacon":  cred.HasBeacon(),
	})
}
