package traceint

import "time"

// Status is the backend's reservation state code.
type Status int

const (
	StatusNone      Status = 0
	StatusReserved  Status = 1
	StatusCheckedIn Status = 2
	StatusInUse     Status = 3
	StatusAway      Status = 4
	// The backend reports both "finished" and "flagged by a supervisor"
	// through code 5; a seat that was in use and flips to 5 during the
	// day is the supervised case.
	StatusFinished   Status = 5
	StatusSupervised Status = StatusFinished
)

// Reservation is the authoritative snapshot of a user's current seat
// holding, as returned by the index query. It is never persisted.
type Reservation struct {
	Status    Status
	LibID     int
	LibName   string
	LibFloor  string
	SeatKey   string
	SeatName  string
	Date      string // YYYY-MM-DD
	ExpDate   string // epoch seconds or ISO timestamp, format varies
	ExpString string
}

// Active reports whether the reservation means "this user holds a seat
// right now" for scheduling purposes: one of the live statuses, with a
// seat assigned, dated today or later. Code 5 is excluded: a finished
// or supervised seat does not block a new attempt.
func (r *Reservation) Active(today time.Time) bool {
	if r == nil || r.SeatKey == "" {
		return false
	}
	switch r.Status {
	case StatusReserved, StatusCheckedIn, StatusInUse, StatusAway:
	default:
		return false
	}
	d, err := time.ParseInLocation("2006-01-02", r.Date, today.Location())
	if err != nil {
		// malformed date from the backend; trust the status
		return true
	}
	y, m, day := today.Date()
	return !d.Before(time.Date(y, m, day, 0, 0, 0, 0, today.Location()))
}

// Seat is an entry from the user's saved-seat list.
type Seat struct {
	LibID   int
	SeatKey string
	Info    string
}

// KeepAliveStatus is the outcome of one keep-alive cycle against the
// primary session.
type KeepAliveStatus struct {
	PageOK bool
	// APIOK reflects the maintenance query; it is reported true when
	// the query was skipped under backoff, with QuerySkipped set.
	APIOK        bool
	QuerySkipped bool
}
