// Package notify delivers categorized push notifications to users
// through a Bark-compatible push server, subject to per-user
// subscription filtering, and records every delivery attempt.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"
)

// Type identifies what a notification is about. Types map onto
// categories, which is what users subscribe to.
type Type string

const (
	TypeReserveSuccess  Type = "reserve_success"
	TypeReserveFailed   Type = "reserve_failed"
	TypeReserveOccupied Type = "reserve_occupied"
	TypeReserveExpiring Type = "reserve_expiring"

	TypeSigninSuccess   Type = "signin_success"
	TypeSigninFailed    Type = "signin_failed"
	TypeSeatSupervised  Type = "seat_supervised"
	TypeAutoSigninDone  Type = "auto_signin_after_supervised"

	TypeCookieInvalid     Type = "cookie_invalid"
	TypeSessIDMissing     Type = "sessid_missing"
	TypeBluetoothMissing  Type = "bluetooth_missing"
	TypeAccountRestricted Type = "account_restricted"

	TypeTest Type = "test"
)

// CategoryOf maps a type onto its subscription category.
func CategoryOf(t Type) string {
	switch t {
	case TypeReserveSuccess, TypeReserveFailed, TypeReserveOccupied, TypeReserveExpiring:
		return "reserve"
	case TypeSigninSuccess, TypeSigninFailed, TypeSeatSupervised, TypeAutoSigninDone:
		return "signin"
	case TypeCookieInvalid, TypeSessIDMissing, TypeBluetoothMissing, TypeAccountRestricted:
		return "config"
	default:
		return "other"
	}
}

// Options are the optional parts of a send. Force bypasses the user's
// subscription filter and enabled flag; it is reserved for
// safety-critical conditions.
type Options struct {
	Icon  string
	URL   string
	Force bool
}

// Sink is the one-way send capability the schedulers depend on. The
// boolean result reports delivery, never an error: notification
// failures must not fail the operation that triggered them.
type Sink interface {
	Send(ctx context.Context, userID int64, typ Type, title, content string, opts Options) bool
}

// Config is a user's push endpoint and subscription selection.
type Config struct {
	UserID        int64
	DeviceToken   string
	ServerURL     string
	Enabled       bool
	Subscriptions []string
	UpdatedAt     time.Time
}

func (c Config) subscribed(category string) bool {
	for _, s := range c.Subscriptions {
		if s == category || s == "all" {
			return true
		}
	}
	return false
}

// Record is one immutable delivery-history entry.
type Record struct {
	UserID  int64
	Type    Type
	Title   string
	Content string
	Icon    string
	URL     string
	Status  string // "success" | "failed"
	Error   string
}

type ConfigSource interface {
	Get(ctx context.Context, userID int64) (Config, bool, error)
}

type HistoryRecorder interface {
	Record(ctx context.Context, rec Record) error
}

// Notifier is the production Sink.
type Notifier struct {
	Configs ConfigSource
	History HistoryRecorder

	hc *http.Client
}

func New(cfgs ConfigSource, history HistoryRecorder) *Notifier {
	return &Notifier{
		Configs: cfgs,
		History: history,
		hc:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Send pushes one notification. Unconfigured users, disabled configs
// and unsubscribed categories drop the send (returning false) unless
// opts.Force is set. Every actual attempt is recorded, success or not.
func (n *Notifier) Send(ctx context.Context, userID int64, typ Type, title, content string, opts Options) bool {
	cfg, ok, err := n.Configs.Get(ctx, userID)
	if err != nil {
		log.Printf("notify: load config for user %d: %v", userID, err)
		return false
	}
	if !ok {
		return false
	}
	if !opts.Force {
		if !cfg.Enabled || !cfg.subscribed(CategoryOf(typ)) {
			return false
		}
	}

	delivered, derr := n.push(ctx, cfg, title, content, opts)

	rec := Record{
		UserID: userID, Type: typ, Title: title, Content: content,
		Icon: opts.Icon, URL: opts.URL, Status: "success",
	}
	if !delivered {
		rec.Status = "failed"
		if derr != nil {
			rec.Error = derr.Error()
		}
	}
	if err := n.History.Record(ctx, rec); err != nil {
		log.Printf("notify: record history for user %d: %v", userID, err)
	}
	if derr != nil {
		log.Printf("notify: push to user %d failed: %v", userID, derr)
	}
	return delivered
}

func (n *Notifier) push(ctx context.Context, cfg Config, title, content string, opts Options) (bool, error) {
	server := cfg.ServerURL
	if server == "" {
		server = "https://api.day.app"
	}
	pushURL := fmt.Sprintf("%s/%s/%s/%s", server, cfg.DeviceToken,
		url.PathEscape(title), url.PathEscape(content))

	q := url.Values{}
	if opts.Icon != "" {
		q.Set("icon", opts.Icon)
	}
	if opts.URL != "" {
		q.Set("url", opts.URL)
	}
	q.Set("group", "图书馆助手")
	pushURL += "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pushURL, nil)
	if err != nil {
		return false, err
	}
	res, err := n.hc.Do(req)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return false, fmt.Errorf("push server returned %d", res.StatusCode)
	}

	var body struct {
		Code int `json:"code"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return false, err
	}
	if body.Code != 200 {
		return false, fmt.Errorf("push server code %d", body.Code)
	}
	return true, nil
}
