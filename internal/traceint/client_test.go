package traceint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(srv *httptest.Server) *Client {
	c := NewWithEndpoints(srv.URL+"/graphql", srv.URL+"/sign", srv.URL+"/time")
	c.now = func() time.Time { return time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC) }
	c.sleep = func(time.Duration) {}
	return c
}

func gqlRequest(t *testing.T, r *http.Request) (operation string, variables map[string]any) {
	t.Helper()
	var payload struct {
		OperationName string         `json:"operationName"`
		Variables     map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		t.Errorf("decode graphql payload: %v", err)
	}
	return payload.OperationName, payload.Variables
}

func reserveJSON(status int, libID int, seatKey, date string) string {
	return fmt.Sprintf(`{"data":{"userAuth":{"reserve":{"reserve":{
		"status":%d,"lib_id":%d,"lib_name":"三楼自习室","seat_key":%q,
		"seat_name":"046","date":%q,"exp_date":"1770000000","exp_date_str":"07:30"}}}}}`,
		status, libID, seatKey, date)
}

func TestPostAdoptsServerID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "SERVERID", Value: "node-b|123"})
		fmt.Fprint(w, `{"data":{"userAuth":{"currentUser":{"user_id":7}}}}`)
	}))
	defer srv.Close()

	var saved string
	sess := NewSession("wechatSESS_ID=abc; SERVERID=node-a|000", func(cookie string) error {
		saved = cookie
		return nil
	})
	c := testClient(srv)

	if err := c.VerifySession(context.Background(), sess); err != nil {
		t.Fatalf("VerifySession: %v", err)
	}
	want := "wechatSESS_ID=abc; SERVERID=node-b|123"
	if saved != want {
		t.Errorf("saved cookie = %q, want %q", saved, want)
	}
	if got := sess.Cookie(); got != want+"; FROM_TYPE=weixin; v=5.5" {
		t.Errorf("Cookie() = %q", got)
	}
}

func TestPostClassifiesErrors(t *testing.T) {
	cases := []struct {
		name  string
		reply func(w http.ResponseWriter)
		class Classification
	}{
		{
			"session invalid code",
			func(w http.ResponseWriter) {
				fmt.Fprint(w, `{"errors":[{"code":40001,"msg":"当前用户操作存在安全风险"}]}`)
			},
			ClassSessionInvalid,
		},
		{
			"access denied text",
			func(w http.ResponseWriter) {
				fmt.Fprint(w, `{"errors":[{"code":0,"message":"Access Denied"}]}`)
			},
			ClassSessionInvalid,
		},
		{
			"identity unbound",
			func(w http.ResponseWriter) {
				fmt.Fprint(w, `{"errors":[{"code":40005,"msg":"请先绑定学号"}]}`)
			},
			ClassIdentityUnbound,
		},
		{
			"http forbidden",
			func(w http.ResponseWriter) { w.WriteHeader(http.StatusForbidden) },
			ClassRestricted,
		},
		{
			"restricted message",
			func(w http.ResponseWriter) {
				fmt.Fprint(w, `{"errors":[{"code":1,"msg":"违规预约,账号受限"}]}`)
			},
			ClassRestricted,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tc.reply(w)
			}))
			defer srv.Close()

			err := testClient(srv).VerifySession(context.Background(), NewSession("k=v", nil))
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := Classify(err); got != tc.class {
				t.Errorf("Classify = %v, want %v", got, tc.class)
			}
		})
	}
}

func TestReserveInfo(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"held today", reserveJSON(1, 101, "28,46.", "2026-03-02"), true},
		{"held tomorrow", reserveJSON(1, 101, "28,46.", "2026-03-03"), true},
		{"stale record", reserveJSON(1, 101, "28,46.", "2026-03-01"), false},
		{"no record", `{"data":{"userAuth":{"reserve":{"reserve":null}}}}`, false},
		{"no seat key", reserveJSON(1, 101, "", "2026-03-02"), false},
		{"status zero", reserveJSON(0, 101, "28,46.", "2026-03-02"), false},
		{"finished", reserveJSON(5, 101, "28,46.", "2026-03-02"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			info, err := testClient(srv).ReserveInfo(context.Background(), NewSession("k=v", nil))
			if err != nil {
				t.Fatalf("ReserveInfo: %v", err)
			}
			if (info != nil) != tc.want {
				t.Errorf("info = %+v, want present=%v", info, tc.want)
			}
		})
	}
}

func TestReserveSeatTrustsTheRead(t *testing.T) {
	t.Run("mutation error but seat held", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, _ := gqlRequest(t, r)
			switch op {
			case "reserueSeat":
				// spurious failure alongside a booking that went through
				fmt.Fprint(w, `{"errors":[{"code":1,"msg":"系统繁忙"}]}`)
			default:
				fmt.Fprint(w, reserveJSON(1, 101, "28,46.", "2026-03-02"))
			}
		}))
		defer srv.Close()

		err := testClient(srv).ReserveSeat(context.Background(), NewSession("k=v", nil), 101, "28,46.")
		if err != nil {
			t.Fatalf("ReserveSeat: %v, want success when the read confirms the hold", err)
		}
	})

	t.Run("mutation ok but seat not held", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, _ := gqlRequest(t, r)
			switch op {
			case "reserueSeat":
				fmt.Fprint(w, `{"data":{"userAuth":{"reserve":{"reserueSeat":true}}}}`)
			default:
				fmt.Fprint(w, `{"data":{"userAuth":{"reserve":{"reserve":null}}}}`)
			}
		}))
		defer srv.Close()

		err := testClient(srv).ReserveSeat(context.Background(), NewSession("k=v", nil), 101, "28,46.")
		if err == nil {
			t.Fatal("expected failure when the read does not confirm the hold")
		}
	})

	t.Run("room layout loaded once per session", func(t *testing.T) {
		layouts := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, _ := gqlRequest(t, r)
			switch op {
			case "libLayout":
				layouts++
				fmt.Fprint(w, `{"data":{}}`)
			case "reserueSeat":
				fmt.Fprint(w, `{"data":{}}`)
			default:
				fmt.Fprint(w, reserveJSON(1, 101, "28,46.", "2026-03-02"))
			}
		}))
		defer srv.Close()

		c := testClient(srv)
		sess := NewSession("k=v", nil)
		_ = c.ReserveSeat(context.Background(), sess, 101, "28,46.")
		_ = c.ReserveSeat(context.Background(), sess, 101, "28,47.")
		if layouts != 1 {
			t.Errorf("libLayout calls = %d, want 1", layouts)
		}
	})
}

func TestOftenSeats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"userAuth":{"oftenseat":{"list":[
			{"id":1,"info":"三楼 046","lib_id":101,"seat_key":"28,46."},
			{"id":2,"info":"四楼 012","lib_id":102,"seat_key":"10,12."}]}}}}`)
	}))
	defer srv.Close()

	seats, err := testClient(srv).OftenSeats(context.Background(), NewSession("k=v", nil))
	if err != nil {
		t.Fatalf("OftenSeats: %v", err)
	}
	if len(seats) != 2 || seats[0].LibID != 101 || seats[1].SeatKey != "10,12." {
		t.Errorf("seats = %+v", seats)
	}
}

func TestKeepAlive(t *testing.T) {
	t.Run("skips query under backoff", func(t *testing.T) {
		queries := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, _ := gqlRequest(t, r)
			if op == "getUserCancleConfig" {
				queries++
			}
			fmt.Fprint(w, `{"data":{}}`)
		}))
		defer srv.Close()

		st, err := testClient(srv).KeepAlive(context.Background(), NewSession("k=v", nil), false)
		if err != nil {
			t.Fatal(err)
		}
		if !st.QuerySkipped || !st.APIOK || !st.PageOK {
			t.Errorf("status = %+v", st)
		}
		if queries != 0 {
			t.Errorf("maintenance queries = %d, want 0", queries)
		}
	})

	t.Run("reports query failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, _ := gqlRequest(t, r)
			if op == "getUserCancleConfig" {
				fmt.Fprint(w, `{"errors":[{"code":1,"msg":"系统繁忙"}]}`)
				return
			}
			fmt.Fprint(w, `{"data":{}}`)
		}))
		defer srv.Close()

		st, err := testClient(srv).KeepAlive(context.Background(), NewSession("k=v", nil), true)
		if err != nil {
			t.Fatal(err)
		}
		if !st.PageOK || st.APIOK {
			t.Errorf("status = %+v, want page ok and api failed", st)
		}
	})

	t.Run("dead session is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"errors":[{"code":40001,"msg":"Access Denied"}]}`)
		}))
		defer srv.Close()

		_, err := testClient(srv).KeepAlive(context.Background(), NewSession("k=v", nil), true)
		if !IsSessionInvalid(err) {
			t.Errorf("err = %v, want session-invalid", err)
		}
	})
}

func TestWithdraw(t *testing.T) {
	t.Run("with token", func(t *testing.T) {
		var cancelVars map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, vars := gqlRequest(t, r)
			if op == "reserveCancle" {
				cancelVars = vars
				fmt.Fprint(w, `{"data":{"userAuth":{"reserve":{"reserveCancle":{"timerange":"x"}}}}}`)
				return
			}
			fmt.Fprint(w, `{"data":{"userAuth":{"reserve":{"getSToken":"tok-1"}}}}`)
		}))
		defer srv.Close()

		if err := testClient(srv).Withdraw(context.Background(), NewSession("k=v", nil)); err != nil {
			t.Fatalf("Withdraw: %v", err)
		}
		if cancelVars["sToken"] != "tok-1" {
			t.Errorf("sToken = %v, want the one the index query issued", cancelVars["sToken"])
		}
	})

	t.Run("no token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"data":{"userAuth":{"reserve":{"getSToken":""}}}}`)
		}))
		defer srv.Close()

		if err := testClient(srv).Withdraw(context.Background(), NewSession("k=v", nil)); err == nil {
			t.Fatal("expected an error with nothing to withdraw")
		}
	})
}

func TestHold(t *testing.T) {
	holds := 0
	status := 1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, _ := gqlRequest(t, r)
		if op == "reserveHold" {
			holds++
			fmt.Fprint(w, `{"data":{}}`)
			return
		}
		fmt.Fprint(w, reserveJSON(status, 101, "28,46.", "2026-03-02"))
	}))
	defer srv.Close()
	c := testClient(srv)

	// only an in-use seat can be held
	held, err := c.Hold(context.Background(), NewSession("k=v", nil))
	if err != nil || held {
		t.Fatalf("Hold on a reserved seat = (%v, %v), want no-op", held, err)
	}
	status = 3
	held, err = c.Hold(context.Background(), NewSession("k=v", nil))
	if err != nil || !held {
		t.Fatalf("Hold on an in-use seat = (%v, %v), want held", held, err)
	}
	if holds != 1 {
		t.Errorf("hold mutations = %d, want 1", holds)
	}
}

func TestReservationActive(t *testing.T) {
	today := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		r    *Reservation
		want bool
	}{
		{"nil", nil, false},
		{"reserved today", &Reservation{Status: StatusReserved, SeatKey: "1,1.", Date: "2026-03-02"}, true},
		{"checked in tomorrow", &Reservation{Status: StatusCheckedIn, SeatKey: "1,1.", Date: "2026-03-03"}, true},
		{"finished", &Reservation{Status: StatusFinished, SeatKey: "1,1.", Date: "2026-03-02"}, false},
		{"yesterday", &Reservation{Status: StatusReserved, SeatKey: "1,1.", Date: "2026-03-01"}, false},
		{"no seat key", &Reservation{Status: StatusReserved, Date: "2026-03-02"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.Active(today); got != tc.want {
				t.Errorf("Active = %v, want %v", got, tc.want)
			}
		})
	}
}
