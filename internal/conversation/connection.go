// ABOUTME: Streaming connection to one backend conversation over websocket.
// ABOUTME: Reads frames in arrival order and dispatches to the state tracker and classifier.

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/yourself-q/slack-openhands-bot/internal/openhands"
)

// Conn is the live streaming connection for one session. The session owns
// at most one; a dead Conn is replaced by a fresh dial, never revived.
type Conn struct {
	threadID string
	ws       *websocket.Conn
	tracker  *StateTracker
	notify   func(n openhands.Notification)
	logger   *slog.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

// dialConn opens a streaming connection for a session and starts its read
// loop. Establishment is bounded by timeout; failures wrap ErrConnectionFailed.
func dialConn(ctx context.Context, wsURL, threadID string, tracker *StateTracker, notify func(openhands.Notification), timeout time.Duration, logger *slog.Logger) (*Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c := &Conn{
		threadID: threadID,
		ws:       ws,
		tracker:  tracker,
		notify:   notify,
		logger:   logger,
		closed:   make(chan struct{}),
	}

	go c.readLoop()

	logger.Info("stream connected", "thread_id", threadID)
	return c, nil
}

// readLoop consumes inbound frames until the connection dies. Frames are
// processed strictly in arrival order: the state tracker sees each record
// before its notification is forwarded, and both consumers see every record
// since a single frame may carry both state and content.
func (c *Conn) readLoop() {
	defer c.markClosed()

	for {
		_, data, err := c.ws.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.logger.Debug("stream closed", "thread_id", c.threadID)
			} else {
				c.logger.Warn("stream read error", "thread_id", c.threadID, "error", err)
			}
			return
		}

		events, err := openhands.DecodeEvents(data)
		if err != nil {
			c.logger.Warn("undecodable frame dropped", "thread_id", c.threadID, "error", err)
			continue
		}

		for _, event := range events {
			if state, ok := event.StateChange(); ok {
				c.tracker.Observe(c.threadID, state)
			}
			if n, ok := openhands.Classify(event); ok {
				c.notify(n)
			}
		}
	}
}

// SendUserMessage emits one user-action frame carrying the message text.
func (c *Conn) SendUserMessage(ctx context.Context, text string) error {
	if !c.Alive() {
		return fmt.Errorf("%w: stream is closed", ErrConnectionFailed)
	}
	if err := wsjson.Write(ctx, c.ws, openhands.NewMessageAction(text)); err != nil {
		return fmt.Errorf("writing user action: %w", err)
	}
	return nil
}

// Alive reports whether the connection is still usable.
func (c *Conn) Alive() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// markClosed flags the connection as dead. Idempotent; both the read loop
// and Close funnel through here.
func (c *Conn) markClosed() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// Close releases the connection. Safe to call on an already-closed Conn.
func (c *Conn) Close() {
	c.markClosed()
	_ = c.ws.Close(websocket.StatusNormalClosure, "session closed")
}
