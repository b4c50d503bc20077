// ABOUTME: Per-session agent readiness tracking with edge-triggered signaling.
// ABOUTME: Waiters fire only on the transition into awaiting-input, never on the level.

package conversation

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/yourself-q/slack-openhands-bot/internal/openhands"
)

// trackedState holds one session's current agent state and the waiters to
// signal on the next transition into awaiting-input.
type trackedState struct {
	current openhands.AgentState
	waiters map[string]chan struct{}
}

// StateTracker consumes state-bearing frames and exposes the agent's current
// readiness per session. The delivery protocol reacts to the transition into
// awaiting-input, not the level, so redundant "still waiting" frames never
// re-trigger a send.
type StateTracker struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*trackedState
}

// NewStateTracker creates an empty tracker.
func NewStateTracker(logger *slog.Logger) *StateTracker {
	return &StateTracker{
		logger:   logger,
		sessions: make(map[string]*trackedState),
	}
}

// state returns the tracked state for threadID, creating it. Caller holds mu.
func (t *StateTracker) state(threadID string) *trackedState {
	st, ok := t.sessions[threadID]
	if !ok {
		st = &trackedState{
			current: openhands.StateUnknown,
			waiters: make(map[string]chan struct{}),
		}
		t.sessions[threadID] = st
	}
	return st
}

// Observe applies one state-bearing frame. A repeated state is a no-op, and
// an error state is sticky until the backend reports connecting again. On a
// genuine transition into awaiting-input every registered waiter is signaled
// exactly once and removed.
func (t *StateTracker) Observe(threadID string, next openhands.AgentState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(threadID)
	if st.current == next {
		return
	}
	if st.current == openhands.StateError && next != openhands.StateConnecting {
		return
	}

	prev := st.current
	st.current = next
	t.logger.Debug("agent state changed",
		"thread_id", threadID,
		"from", prev.String(),
		"to", next.String(),
	)

	if next == openhands.StateAwaitingInput {
		for id, ch := range st.waiters {
			close(ch)
			delete(st.waiters, id)
		}
	}
}

// Current returns the session's current agent state.
func (t *StateTracker) Current(threadID string) openhands.AgentState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.sessions[threadID]; ok {
		return st.current
	}
	return openhands.StateUnknown
}

// AwaitInputEdge registers a one-shot waiter for the next transition into
// awaiting-input. The returned channel is closed when the edge fires; the
// cancel function removes the waiter without firing and is safe to call
// after the edge.
func (t *StateTracker) AwaitInputEdge(threadID string) (<-chan struct{}, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(threadID)
	id := uuid.NewString()
	ch := make(chan struct{})
	st.waiters[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if st, ok := t.sessions[threadID]; ok {
			delete(st.waiters, id)
		}
	}
	return ch, cancel
}

// Forget drops all tracked state for a session. Outstanding waiters are
// discarded without firing; their owners time out on their own bounds.
func (t *StateTracker) Forget(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, threadID)
}
