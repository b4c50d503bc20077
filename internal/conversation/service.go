// ABOUTME: Service facade wiring the registry, state tracker, and delivery protocol.
// ABOUTME: The surface the chat-event dispatcher drives; one instance per process.

package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/yourself-q/slack-openhands-bot/internal/openhands"
)

// Timing holds the delivery protocol's timer bounds. The defaults are the
// production values; tests shrink them.
type Timing struct {
	// ConnectTimeout bounds streaming connection establishment.
	ConnectTimeout time.Duration
	// ReadyTimeout bounds the wait for the agent's readiness edge on a
	// new-session send.
	ReadyTimeout time.Duration
	// SettleDelay is the fixed wait between readiness and emission, giving
	// the backend time to finish in-flight setup.
	SettleDelay time.Duration
	// FallbackDelay bounds how long a follow-up send waits for readiness
	// before emitting best-effort.
	FallbackDelay time.Duration
}

// DefaultTiming returns the production timer bounds.
func DefaultTiming() Timing {
	return Timing{
		ConnectTimeout: 5 * time.Second,
		ReadyTimeout:   120 * time.Second,
		SettleDelay:    5 * time.Second,
		FallbackDelay:  time.Second,
	}
}

// writeTimeout bounds a single outbound frame write.
const writeTimeout = 10 * time.Second

// Service is the session correlation and delivery engine. It maps chat
// threads to backend conversations, owns one streaming connection per
// session, and sequences outbound messages against agent readiness.
type Service struct {
	client   *openhands.Client
	registry *Registry
	tracker  *StateTracker
	timing   Timing
	logger   *slog.Logger
}

// NewService creates the engine. convReq is the configuration bundle used
// for every backend conversation the service creates.
func NewService(client *openhands.Client, convReq openhands.ConversationRequest, timing Timing, logger *slog.Logger) *Service {
	return &Service{
		client:   client,
		registry: NewRegistry(client, convReq, logger.With("component", "registry")),
		tracker:  NewStateTracker(logger.With("component", "state-tracker")),
		timing:   timing,
		logger:   logger.With("component", "conversation"),
	}
}

// ensureConnected returns the session's live streaming connection, dialing
// one if needed. Idempotent: an existing live connection is returned as-is.
func (s *Service) ensureConnected(ctx context.Context, sess *Session) (*Conn, error) {
	if c := sess.liveConn(); c != nil {
		return c, nil
	}

	// A fresh dial means the previous stream's last reported state is stale.
	// Reset to connecting so a replayed readiness report on the new stream
	// registers as a transition; this also clears a sticky error state.
	s.tracker.Observe(sess.ThreadID, openhands.StateConnecting)

	wsURL := s.client.WebSocketURL(sess.ConversationID)
	c, err := dialConn(ctx, wsURL, sess.ThreadID, s.tracker, sess.notify, s.timing.ConnectTimeout,
		s.logger.With("conversation_id", sess.ConversationID))
	if err != nil {
		return nil, err
	}
	return sess.adoptConn(c), nil
}

// HealthCheck reports whether the backend is reachable.
func (s *Service) HealthCheck(ctx context.Context) bool {
	return s.client.Health(ctx)
}

// HasSession reports whether the thread has a session with a live connection.
func (s *Service) HasSession(threadID string) bool {
	sess := s.registry.Get(threadID)
	return sess != nil && sess.liveConn() != nil
}

// Get returns the session for threadID without creating one, or nil.
func (s *Service) Get(threadID string) *Session {
	return s.registry.Get(threadID)
}

// URLFor returns the backend web URL for the thread's conversation, or the
// backend base URL if the thread has no session.
func (s *Service) URLFor(threadID string) string {
	return s.registry.URLFor(threadID)
}

// List returns introspection records for all sessions.
func (s *Service) List() []SessionInfo {
	return s.registry.List()
}

// Disconnect tears down the thread's session: the streaming connection is
// released and all tracked state dropped. No-op for unknown threads.
func (s *Service) Disconnect(threadID string) {
	sess := s.registry.Remove(threadID)
	if sess == nil {
		return
	}
	sess.closeConn()
	s.tracker.Forget(threadID)
	s.logger.Info("session disconnected", "thread_id", threadID, "conversation_id", sess.ConversationID)
}

// DisconnectAll tears down every session.
func (s *Service) DisconnectAll() {
	for _, threadID := range s.registry.ThreadIDs() {
		s.Disconnect(threadID)
	}
}
