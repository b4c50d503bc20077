// ABOUTME: Session record correlating one chat thread to one backend conversation.
// ABOUTME: Owns the connection handle, reply callback, and per-session send guard.

package conversation

import (
	"sync"

	"github.com/yourself-q/slack-openhands-bot/internal/openhands"
)

// Callback receives rendered notification text for a thread. The most
// recently registered callback wins; earlier ones stop receiving.
type Callback func(text, threadID string)

// Session correlates one chat thread with one backend conversation. The
// conversation ID is immutable once assigned; everything else is mutable
// per-session state guarded by the session's own mutex.
type Session struct {
	ThreadID       string
	ConversationID string

	mu         sync.Mutex
	conn       *Conn
	callback   Callback
	hasStarted bool
	sending    bool
}

// SetCallback replaces the session's reply callback. Callbacks are
// overwritten, not queued: only the most recent caller receives forwarding.
func (s *Session) SetCallback(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// notify forwards a classified notification to the current callback, if any.
// The callback is invoked outside the lock so a slow chat sender cannot
// block the session.
func (s *Session) notify(n openhands.Notification) {
	s.mu.Lock()
	cb := s.callback
	s.mu.Unlock()

	if cb != nil {
		cb(n.Render(), s.ThreadID)
	}
}

// liveConn returns the session's connection if one exists and is alive.
func (s *Session) liveConn() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.conn.Alive() {
		return s.conn
	}
	return nil
}

// adoptConn records a freshly dialed connection, unless another live one won
// the race, in which case the new connection is closed and the existing one
// returned. At most one live connection per session.
func (s *Session) adoptConn(c *Conn) *Conn {
	s.mu.Lock()
	if s.conn != nil && s.conn.Alive() {
		existing := s.conn
		s.mu.Unlock()
		c.Close()
		return existing
	}
	s.conn = c
	s.mu.Unlock()
	return c
}

// closeConn releases the session's connection. Safe to call when no
// connection exists.
func (s *Session) closeConn() {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()

	if c != nil {
		c.Close()
	}
}

// beginSend claims the session's single in-flight send slot. Returns false
// if a send is already pending.
func (s *Session) beginSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending {
		return false
	}
	s.sending = true
	return true
}

// endSend releases the in-flight send slot.
func (s *Session) endSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = false
}

// markStarted records a completed send and reports whether it was the
// session's first. The first send changes acknowledgement phrasing.
func (s *Session) markStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := !s.hasStarted
	s.hasStarted = true
	return first
}
