package web

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/example/seat-scheduler/internal/traceint"
)

func (s *Server) backendSession(c echo.Context) (*traceint.Session, error) {
	uid := userID(c)
	cred, err := s.Creds.Get(c.Request().Context(), uid)
	if err != nil {
		return nil, err
	}
	if !cred.HasCookie() {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "用户未绑定微信 Cookie")
	}
	return traceint.NewSession(cred.Cookie, func(cookie string) error {
		return s.Creds.SetCookie(c.Request().Context(), uid, cookie)
	}), nil
}

// getReservation reads the live snapshot straight from the backend.
func (s *Server) getReservation(c echo.Context) error {
	sess, err := s.backendSession(c)
	if err != nil {
		return err
	}
	info, err := s.Client.ReserveInfo(c.Request().Context(), sess)
	if err != nil {
		if traceint.IsSessionInvalid(err) {
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "Cookie已失效，请重新绑定"})
		}
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	}
	if info == nil {
		return c.JSON(http.StatusOK, echo.Map{"held": false})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"held":      true,
		"status":    int(info.Status),
		"lib_id":    info.LibID,
		"lib_name":  info.LibName,
		"seat_name": info.SeatName,
		"seat_key":  info.SeatKey,
		"date":      info.Date,
		"exp":       info.ExpString,
	})
}

// deleteReservation releases the current seat: a reservation that has
// not been checked in is cancelled, a checked-in one is withdrawn.
func (s *Server) deleteReservation(c echo.Context) error {
	sess, err := s.backendSession(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	info, err := s.Client.ReserveInfo(ctx, sess)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	}
	if info == nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": "当前没有可释放的预约"})
	}

	switch info.Status {
	case traceint.StatusReserved:
		err = s.Client.CancelReserve(ctx, sess)
	default:
		err = s.Client.Withdraw(ctx, sess)
	}
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// holdReservation marks a temporary leave on an in-use seat.
func (s *Server) holdReservation(c echo.Context) error {
	sess, err := s.backendSession(c)
	if err != nil {
		return err
	}
	held, err := s.Client.Hold(c.Request().Context(), sess)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	}
	if !held {
		return c.JSON(http.StatusConflict, echo.Map{"error": "座位当前不在使用中，无法暂离"})
	}
	return c.JSON(http.StatusOK, echo.Map{"held": true})
}

// listOftenSeats exposes the saved-seat list tasks pick targets from.
func (s *Server) listOftenSeats(c echo.Context) error {
	sess, err := s.backendSession(c)
	if err != nil {
		return err
	}
	seats, err := s.Client.OftenSeats(c.Request().Context(), sess)
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	}
	type seatView struct {
		LibID   int    `json:"lib_id"`
		SeatKey string `json:"seat_key"`
		Info    string `json:"info"`
	}
	views := make([]seatView, 0, len(seats))
	for _, seat := range seats {
		views = append(views, seatView{LibID: seat.LibID, SeatKey: seat.SeatKey, Info: seat.Info})
	}
	return c.JSON(http.StatusOK, views)
}
