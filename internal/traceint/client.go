package traceint

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultGraphQLURL = "https://wechat.v2.traceint.com/index.php/graphql/"
	defaultSignURL    = "https://wechat.v2.traceint.com/index.php/wxApp/sign.html"
	defaultTimeURL    = "https://wechat.v2.traceint.com/index.php/wxApp/getTime.html"

	userAgent = "Mozilla/5.0 (Linux; Android 11; M2012K11AC) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Version/4.0 Chrome/86.0.4240.99 XWEB/3149 Mobile Safari/537.36 " +
		"MicroMessenger/8.0.16.2040(0x28001053) WeChat/arm64 Weixin NetType/WIFI Language/zh_CN"
)

// Client executes operations against the seat-reservation backend. It
// is stateless across users; per-user credential state lives in
// Session values.
type Client struct {
	hc         *http.Client
	graphqlURL string
	signURL    string
	timeURL    string

	now   func() time.Time
	sleep func(time.Duration)
}

func New() *Client {
	return NewWithEndpoints(defaultGraphQLURL, defaultSignURL, defaultTimeURL)
}

// NewWithEndpoints exists for tests that point the client at a local
// server.
func NewWithEndpoints(graphqlURL, signURL, timeURL string) *Client {
	return &Client{
		hc:         &http.Client{Timeout: 10 * time.Second},
		graphqlURL: graphqlURL,
		signURL:    signURL,
		timeURL:    timeURL,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

type gqlError struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Message string `json:"message"`
}

func (e gqlError) text() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Message
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// firstError converts the response's error list into a classified
// error, or nil when the backend reported none.
func (r *gqlResponse) firstError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	e := r.Errors[0]
	return &Error{Class: classifyBackendError(e.Code, e.text()), Code: e.Code, Message: e.text()}
}

// post runs one GraphQL operation. Transport failures and HTTP 403 are
// returned as classified errors; backend errors that classify as
// session-invalid or identity-unbound abort immediately. Other backend
// errors are left in the response for the caller to interpret, because
// several mutations report spurious errors alongside usable data.
func (c *Client) post(ctx context.Context, s *Session, operationName, query string, variables map[string]any) (*gqlResponse, error) {
	payload := map[string]any{
		"operationName": operationName,
		"query":         query,
		"variables":     variables,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("App-Version", "2.0.14")
	req.Header.Set("Origin", "https://web.traceint.com")
	req.Header.Set("Referer", "https://web.traceint.com/web/index.html")
	req.Header.Set("Cookie", s.Cookie())

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, &Error{Class: ClassTransport, Message: err.Error()}
	}
	defer res.Body.Close()

	for _, ck := range res.Cookies() {
		if ck.Name == "SERVERID" {
			if err := s.adoptServerID(ck.Value); err != nil {
				log.Printf("traceint: persist SERVERID: %v", err)
			}
		}
	}

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &Error{Class: ClassTransport, Message: err.Error()}
	}
	if res.StatusCode == http.StatusForbidden {
		return nil, &Error{Class: ClassRestricted, Code: 403, Message: "http 403"}
	}
	if res.StatusCode >= 400 {
		return nil, &Error{Class: ClassTransport, Code: res.StatusCode, Message: "http " + strconv.Itoa(res.StatusCode)}
	}

	var out gqlResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, &Error{Class: ClassTransport, Message: "bad response: " + err.Error()}
	}
	for _, e := range out.Errors {
		switch classifyBackendError(e.Code, e.text()) {
		case ClassSessionInvalid:
			return &out, &Error{Class: ClassSessionInvalid, Code: e.Code, Message: "Cookie失效或账号被临时限制(40001)"}
		case ClassIdentityUnbound:
			return &out, &Error{Class: ClassIdentityUnbound, Code: e.Code, Message: "需要绑定学号(40005)"}
		case ClassRestricted:
			return &out, &Error{Class: ClassRestricted, Code: e.Code, Message: e.text()}
		}
	}
	return &out, nil
}

// VerifySession performs the cheapest authenticated read. A nil error
// means the primary session is alive.
func (c *Client) VerifySession(ctx context.Context, s *Session) error {
	res, err := c.post(ctx, s, "index",
		"query index { userAuth { currentUser { user_id } } }", nil)
	if err != nil {
		return err
	}
	return res.firstError()
}

// RefreshPage issues the lightweight page query the web client fires on
// load. It keeps the primary session warm; callers that use it as a
// best-effort warm-up discard the error explicitly.
func (c *Client) RefreshPage(ctx context.Context, s *Session) error {
	res, err := c.post(ctx, s, "index",
		"query index { userAuth { currentUser { user_id } prereserve { prereserveCheckMsg } } }", nil)
	if err != nil {
		return err
	}
	return res.firstError()
}

type indexData struct {
	UserAuth struct {
		Reserve struct {
			Reserve *struct {
				Status   Status `json:"status"`
				LibID    int    `json:"lib_id"`
				LibName  string `json:"lib_name"`
				LibFloor string `json:"lib_floor"`
				SeatKey  string `json:"seat_key"`
				SeatName string `json:"seat_name"`
				Date     string `json:"date"`
				// format varies between epoch seconds and ISO text
				ExpDate    json.RawMessage `json:"exp_date"`
				ExpDateStr string          `json:"exp_date_str"`
			} `json:"reserve"`
			SToken string `json:"getSToken"`
		} `json:"reserve"`
		OftenSeat struct {
			List []struct {
				ID      int    `json:"id"`
				Info    string `json:"info"`
				LibID   int    `json:"lib_id"`
				SeatKey string `json:"seat_key"`
			} `json:"list"`
		} `json:"oftenseat"`
	} `json:"userAuth"`
}

const reserveInfoQuery = "query index { userAuth { reserve { reserve { status lib_id lib_name lib_floor seat_key seat_name date exp_date exp_date_str } getSToken } } }"

// ReserveInfo reads the authoritative reservation snapshot. It returns
// nil when the user holds nothing: no record, no seat key, or a record
// dated before today (the backend keeps stale rows around).
func (c *Client) ReserveInfo(ctx context.Context, s *Session) (*Reservation, error) {
	res, err := c.post(ctx, s, "index", reserveInfoQuery, nil)
	if err != nil {
		return nil, err
	}
	if err := res.firstError(); err != nil {
		return nil, err
	}

	var data indexData
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return nil, &Error{Class: ClassUnknown, Message: "bad index payload: " + err.Error()}
	}
	raw := data.UserAuth.Reserve.Reserve
	if raw == nil || raw.Status == StatusNone || raw.SeatKey == "" || raw.Date == "" {
		return nil, nil
	}
	if d, perr := time.ParseInLocation("2006-01-02", raw.Date, c.now().Location()); perr == nil {
		now := c.now()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		if d.Before(today) {
			return nil, nil
		}
	}
	return &Reservation{
		Status:    raw.Status,
		LibID:     raw.LibID,
		LibName:   raw.LibName,
		LibFloor:  raw.LibFloor,
		SeatKey:   raw.SeatKey,
		SeatName:  raw.SeatName,
		Date:      raw.Date,
		ExpDate:   rawScalar(raw.ExpDate),
		ExpString: raw.ExpDateStr,
	}, nil
}

// rawScalar renders a JSON scalar (string or number) as its plain text.
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// OftenSeats returns the user's saved-seat list in its stored order.
func (c *Client) OftenSeats(ctx context.Context, s *Session) ([]Seat, error) {
	res, err := c.post(ctx, s, "index",
		"query index { userAuth { oftenseat { list { id info lib_id seat_key status } } } }", nil)
	if err != nil {
		return nil, err
	}
	if err := res.firstError(); err != nil {
		return nil, err
	}
	var data indexData
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return nil, &Error{Class: ClassUnknown, Message: "bad oftenseat payload: " + err.Error()}
	}
	var seats []Seat
	for _, it := range data.UserAuth.OftenSeat.List {
		seats = append(seats, Seat{LibID: it.LibID, SeatKey: it.SeatKey, Info: it.Info})
	}
	return seats, nil
}

const reserveSeatMutation = "mutation reserueSeat($libId: Int!, $seatKey: String!, $captchaCode: String, $captcha: String!) { userAuth { reserve { reserueSeat(libId: $libId seatKey: $seatKey captchaCode: $captchaCode captcha: $captcha) } } }"

// ReserveSeat attempts to take a specific seat. The backend's own
// mutation acknowledgement is unreliable in both directions, so success
// is decided solely by an authoritative follow-up read: the call
// succeeds iff the read shows the requested seat held.
func (c *Client) ReserveSeat(ctx context.Context, s *Session, libID int, seatKey string) error {
	if !s.libWasSeen(libID) {
		// the real client loads the room layout before its first attempt
		// in a room; the backend rejects cold mutations
		_, _ = c.post(ctx, s, "libLayout",
			"query libLayout($libId: Int, $libType: Int) { userAuth { reserve { libs(libType: $libType, libId: $libId) { lib_id } } } }",
			map[string]any{"libId": libID})
		s.markLibSeen(libID)
	}

	res, err := c.post(ctx, s, "reserueSeat", reserveSeatMutation, map[string]any{
		"libId":       libID,
		"seatKey":     seatKey,
		"captchaCode": "",
		"captcha":     "",
	})
	if err != nil {
		return err
	}

	// give the backend a moment to settle before the verifying read
	c.sleep(500 * time.Millisecond)

	info, rerr := c.ReserveInfo(ctx, s)
	if rerr == nil && info != nil && info.LibID == libID && info.SeatKey == seatKey {
		return nil
	}
	if merr := res.firstError(); merr != nil {
		return merr
	}
	return &Error{Class: ClassUnknown, Message: "预约失败：系统未确认座位，请稍后重试"}
}

// CancelReserve drops the current reservation before check-in.
func (c *Client) CancelReserve(ctx context.Context, s *Session) error {
	res, err := c.post(ctx, s, "cancelReserve",
		"mutation cancelReserve{cancelReserve{success msg}}", nil)
	if err != nil {
		return err
	}
	return res.firstError()
}

// Withdraw releases a seat that is already checked in, using the
// one-shot sToken the index query hands out.
func (c *Client) Withdraw(ctx context.Context, s *Session) error {
	res, err := c.post(ctx, s, "index",
		"query index { userAuth { reserve { getSToken } } }", nil)
	if err != nil {
		return err
	}
	if err := res.firstError(); err != nil {
		return err
	}
	var data indexData
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return &Error{Class: ClassUnknown, Message: "bad sToken payload: " + err.Error()}
	}
	token := data.UserAuth.Reserve.SToken
	if token == "" {
		return &Error{Class: ClassUnknown, Message: "no sToken, nothing to withdraw"}
	}
	res, err = c.post(ctx, s, "reserveCancle",
		"mutation reserveCancle($sToken: String!) { userAuth { reserve { reserveCancle(sToken: $sToken) { timerange } } } }",
		map[string]any{"sToken": token})
	if err != nil {
		return err
	}
	return res.firstError()
}

// Hold marks a temporary leave. It is a no-op unless the seat is
// currently in use.
func (c *Client) Hold(ctx context.Context, s *Session) (bool, error) {
	info, err := c.ReserveInfo(ctx, s)
	if err != nil {
		return false, err
	}
	if info == nil || info.Status != StatusInUse {
		return false, nil
	}
	res, err := c.post(ctx, s, "reserveHold",
		"mutation reserveHold { userAuth { reserve { reserveHold } } }", nil)
	if err != nil {
		return false, err
	}
	return true, res.firstError()
}

// KeepAlive exercises the primary session. The page touch always runs;
// the heavier maintenance query only runs when doQuery is true (the
// caller gates it with a per-user backoff). Session-invalid failures
// are returned as errors; other failures are reported in the status.
func (c *Client) KeepAlive(ctx context.Context, s *Session, doQuery bool) (KeepAliveStatus, error) {
	var st KeepAliveStatus

	pageErr := c.RefreshPage(ctx, s)
	if IsSessionInvalid(pageErr) {
		return st, pageErr
	}
	st.PageOK = pageErr == nil

	if !doQuery {
		st.APIOK = true
		st.QuerySkipped = true
		return st, nil
	}

	res, err := c.post(ctx, s, "getUserCancleConfig",
		"query getUserCancleConfig { userAuth { user { getUserCancleConfig } } }", nil)
	if err != nil {
		if IsSessionInvalid(err) {
			return st, err
		}
		return st, nil
	}
	if ferr := res.firstError(); ferr != nil {
		if IsSessionInvalid(ferr) {
			return st, ferr
		}
		return st, nil
	}
	st.APIOK = true
	return st, nil
}
