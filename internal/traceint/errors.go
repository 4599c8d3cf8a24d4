package traceint

import (
	"errors"
	"fmt"
	"strings"
)

// Classification buckets every failure the backend can produce into the
// handful of cases the schedulers care about.
type Classification int

const (
	ClassUnknown Classification = iota
	ClassSessionInvalid
	ClassRestricted
	ClassIdentityUnbound
	ClassTransport
)

func (c Classification) String() string {
	switch c {
	case ClassSessionInvalid:
		return "session-invalid"
	case ClassRestricted:
		return "restricted"
	case ClassIdentityUnbound:
		return "identity-unbound"
	case ClassTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error is a classified backend failure. Code is the backend's numeric
// error code when one was present (0 otherwise).
type Error struct {
	Class   Classification
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("traceint: %s (%d): %s", e.Class, e.Code, e.Message)
	}
	return fmt.Sprintf("traceint: %s: %s", e.Class, e.Message)
}

// Classify extracts the classification from err, unwrapping as needed.
// A nil error and errors that did not come from this package report
// ClassUnknown.
func Classify(err error) Classification {
	var te *Error
	if errors.As(err, &te) {
		return te.Class
	}
	return ClassUnknown
}

// IsSessionInvalid reports whether err means the stored credentials are
// dead and further calls for this user cannot succeed.
func IsSessionInvalid(err error) bool { return Classify(err) == ClassSessionInvalid }

// IsFatalForAttempts reports whether err aborts a multi-target attempt
// loop: trying further targets cannot succeed under this failure.
func IsFatalForAttempts(err error) bool {
	c := Classify(err)
	return c == ClassSessionInvalid || c == ClassRestricted
}

// classifyBackendError maps a backend error code/message pair onto the
// taxonomy (codes and substrings observed from the live service).
func classifyBackendError(code int, msg string) Classification {
	lower := strings.ToLower(msg)
	switch {
	case code == 40001, strings.Contains(lower, "access denied"), strings.Contains(lower, "cookie失效"):
		return ClassSessionInvalid
	case code == 40005, strings.Contains(msg, "绑定学号"):
		return ClassIdentityUnbound
	case code == 403, strings.Contains(lower, "restricted"), strings.Contains(msg, "违规预约"):
		return ClassRestricted
	default:
		return ClassUnknown
	}
}
