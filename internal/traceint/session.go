package traceint

import (
	"strings"
	"sync"
)

// Session carries one user's primary credential cookie across calls.
// The backend rotates a SERVERID server-affinity token via Set-Cookie;
// the session folds it back into the cookie and reports it through the
// save callback so it survives the process (losing it can route the
// next call to a stale replica and produce spurious failures).
type Session struct {
	mu      sync.Mutex
	cookie  string
	save    func(cookie string) error
	libSeen map[int]bool
}

// NewSession wraps a stored credential cookie. save may be nil; when
// set it is invoked with the full updated cookie after every
// server-affinity rotation.
func NewSession(cookie string, save func(string) error) *Session {
	return &Session{cookie: cookie, save: save, libSeen: make(map[int]bool)}
}

// Cookie returns the header value to send, with the static client
// markers the web client always carries appended.
func (s *Session) Cookie() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cookie + "; FROM_TYPE=weixin; v=5.5"
}

// adoptServerID merges a rotated SERVERID into the stored cookie and
// persists it. Errors from the save callback are returned so callers
// can log them; the in-memory cookie is updated regardless.
func (s *Session) adoptServerID(serverID string) error {
	if serverID == "" {
		return nil
	}
	s.mu.Lock()
	parts := strings.Split(s.cookie, ";")
	found := false
	for i, p := range parts {
		if strings.HasPrefix(strings.TrimSpace(p), "SERVERID=") {
			parts[i] = " SERVERID=" + serverID
			found = true
			break
		}
	}
	if !found {
		parts = append(parts, " SERVERID="+serverID)
	}
	s.cookie = strings.Join(parts, ";")
	cookie := s.cookie
	save := s.save
	s.mu.Unlock()

	if save != nil {
		return save(cookie)
	}
	return nil
}

func (s *Session) markLibSeen(libID int) {
	s.mu.Lock()
	s.libSeen[libID] = true
	s.mu.Unlock()
}

func (s *Session) libWasSeen(libID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.libSeen[libID]
}
