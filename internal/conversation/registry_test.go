// ABOUTME: Tests for the thread-to-session registry.
// ABOUTME: Covers idempotent creation under concurrency, failure cleanup, and introspection.

package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourself-q/slack-openhands-bot/internal/openhands"
)

func newTestRegistry(t *testing.T, handler http.Handler) (*Registry, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := openhands.NewClient(srv.URL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(client, openhands.ConversationRequest{Model: "m", Agent: "CodeActAgent"}, logger), srv
}

func TestRegistry_ResolveCreatesOnce(t *testing.T) {
	var creates int32
	reg, _ := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&creates, 1)
		json.NewEncoder(w).Encode(map[string]string{"conversation_id": fmt.Sprintf("conv-%d", n)})
	}))

	ctx := context.Background()

	s1, err := reg.Resolve(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, s1)
	assert.Equal(t, "conv-1", s1.ConversationID)

	// Second resolve reuses the session
	s2, err := reg.Resolve(ctx, "t1")
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&creates))

	// A different thread gets its own conversation
	s3, err := reg.Resolve(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, "conv-2", s3.ConversationID)
}

func TestRegistry_ResolveSurvivesCallerCancellation(t *testing.T) {
	reg, _ := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"conversation_id": "conv-1"})
	}))

	// The creation call is shared across callers, so one caller's
	// cancellation must not abort it for the rest of the flight.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := reg.Resolve(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "conv-1", s.ConversationID)
}

func TestRegistry_ConcurrentResolveSingleCreate(t *testing.T) {
	var creates int32
	reg, _ := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&creates, 1)
		json.NewEncoder(w).Encode(map[string]string{"conversation_id": "conv-shared"})
	}))

	const numGoroutines = 20
	sessions := make([]*Session, numGoroutines)

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			s, err := reg.Resolve(context.Background(), "contested")
			if err != nil {
				t.Errorf("Resolve() error = %v", err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&creates),
		"concurrent resolves for one thread must create exactly one conversation")
	for i := 1; i < numGoroutines; i++ {
		assert.Same(t, sessions[0], sessions[i], "all resolvers should share one session")
	}
}

func TestRegistry_CreateFailureLeavesNoSession(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	reg, _ := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"conversation_id": "conv-later"})
	}))

	_, err := reg.Resolve(context.Background(), "t1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Nil(t, reg.Get("t1"), "failed creation must not leave a partial session")

	// A retry after recovery succeeds
	fail.Store(false)
	s, err := reg.Resolve(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "conv-later", s.ConversationID)
}

func TestRegistry_RemoveAndThreadIDs(t *testing.T) {
	var creates int32
	reg, _ := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&creates, 1)
		json.NewEncoder(w).Encode(map[string]string{"conversation_id": fmt.Sprintf("conv-%d", n)})
	}))

	ctx := context.Background()
	_, err := reg.Resolve(ctx, "t1")
	require.NoError(t, err)
	_, err = reg.Resolve(ctx, "t2")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"t1", "t2"}, reg.ThreadIDs())

	removed := reg.Remove("t1")
	require.NotNil(t, removed)
	assert.Equal(t, "t1", removed.ThreadID)
	assert.Nil(t, reg.Get("t1"))
	assert.Nil(t, reg.Remove("t1"), "removing twice returns nil")

	assert.ElementsMatch(t, []string{"t2"}, reg.ThreadIDs())
}

func TestRegistry_ListAndURLFor(t *testing.T) {
	reg, srv := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"conversation_id": "conv-9"})
	}))

	// No session yet: URLFor falls back to the backend base URL
	assert.Equal(t, srv.URL, reg.URLFor("t1"))

	_, err := reg.Resolve(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/conversations/conv-9", reg.URLFor("t1"))

	infos := reg.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "t1", infos[0].ThreadID)
	assert.Equal(t, "conv-9", infos[0].ConversationID)
	assert.Equal(t, srv.URL+"/conversations/conv-9", infos[0].URL)
	assert.False(t, infos[0].Connected, "no stream dialed yet")
}
