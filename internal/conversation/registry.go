// ABOUTME: Thread-to-session registry with idempotent backend conversation creation.
// ABOUTME: Serializes creation per thread so concurrent resolves create one conversation.

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/yourself-q/slack-openhands-bot/internal/openhands"
)

// SessionInfo is the introspection view of one session.
type SessionInfo struct {
	ThreadID       string
	ConversationID string
	URL            string
	Connected      bool
}

// Registry maps thread identifiers to sessions, creating backend
// conversations on demand.
type Registry struct {
	client  *openhands.Client
	convReq openhands.ConversationRequest
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	// creating serializes conversation creation per thread ID so that
	// concurrent resolves for a never-seen thread create exactly one
	// backend conversation.
	creating singleflight.Group
}

// NewRegistry creates a registry backed by the given client. All sessions
// created through it use convReq as the conversation configuration.
func NewRegistry(client *openhands.Client, convReq openhands.ConversationRequest, logger *slog.Logger) *Registry {
	return &Registry{
		client:   client,
		convReq:  convReq,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Resolve returns the session for threadID, creating a backend conversation
// if the thread has none. Creation failures leave no partial session behind.
func (r *Registry) Resolve(ctx context.Context, threadID string) (*Session, error) {
	if s := r.Get(threadID); s != nil {
		return s, nil
	}

	// The creation call is shared by every caller in the flight, so it must
	// not die with whichever caller happened to start it.
	createCtx := context.WithoutCancel(ctx)

	v, err, _ := r.creating.Do(threadID, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have finished.
		if s := r.Get(threadID); s != nil {
			return s, nil
		}

		conversationID, err := r.client.CreateConversation(createCtx, r.convReq)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}

		s := &Session{ThreadID: threadID, ConversationID: conversationID}
		r.mu.Lock()
		r.sessions[threadID] = s
		r.mu.Unlock()

		r.logger.Info("conversation created",
			"thread_id", threadID,
			"conversation_id", conversationID,
		)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Get returns the session for threadID, or nil if none exists. Never creates.
func (r *Registry) Get(threadID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[threadID]
}

// Remove deletes and returns the session for threadID, or nil.
func (r *Registry) Remove(threadID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[threadID]
	delete(r.sessions, threadID)
	return s
}

// ThreadIDs returns the thread IDs of all registered sessions.
func (r *Registry) ThreadIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// List returns introspection records for all registered sessions.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, SessionInfo{
			ThreadID:       s.ThreadID,
			ConversationID: s.ConversationID,
			URL:            r.client.ConversationURL(s.ConversationID),
			Connected:      s.liveConn() != nil,
		})
	}
	return infos
}

// URLFor returns the backend web URL for the thread's conversation, or the
// backend base URL if the thread has no session.
func (r *Registry) URLFor(threadID string) string {
	if s := r.Get(threadID); s != nil {
		return r.client.ConversationURL(s.ConversationID)
	}
	return r.client.BaseURL()
}
