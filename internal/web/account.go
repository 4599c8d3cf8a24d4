package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/example/seat-scheduler/internal/auth"
	"github.com/example/seat-scheduler/internal/db"
	"github.com/example/seat-scheduler/internal/users"
)

type registerRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	InviteCode string `json:"invite_code"`
}

func (s *Server) register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad request"})
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(req.Password) < 8 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "用户名不能为空，密码至少 8 位"})
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	uid, err := s.Users.Create(c.Request().Context(), req.Username, hash, req.InviteCode, false)
	switch {
	case errors.Is(err, users.ErrInviteInvalid), errors.Is(err, users.ErrInviteUsed):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case err != nil:
		return c.JSON(http.StatusConflict, echo.Map{"error": "用户名已存在"})
	}

	token, err := auth.Issue(s.JWTSecret, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"token": token, "user_id": uid})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad request"})
	}
	u, hash, err := s.Users.GetByUsername(c.Request().Context(), req.Username)
	if err != nil || !auth.CheckPassword(hash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "用户名或密码错误"})
	}
	token, err := auth.Issue(s.JWTSecret, u.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"token": token, "user_id": u.ID})
}

func (s *Server) me(c echo.Context) error {
	u, err := s.Users.Get(c.Request().Context(), userID(c))
	if err != nil {
		if db.IsNotFound(err) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":       u.ID,
		"username": u.Username,
		"is_admin": u.IsAdmin,
	})
}
