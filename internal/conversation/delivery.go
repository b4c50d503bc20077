// ABOUTME: The delivery protocol: sequences outbound messages against agent readiness.
// ABOUTME: Enforces at-most-once emission per send with timeout and settle-delay policy.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourself-q/slack-openhands-bot/internal/openhands"
)

// Ack statuses returned by SendMessage.
const (
	// StatusSent confirms the message reached the backend stream.
	StatusSent = "sent"
	// StatusUnconfirmed means the conversation exists but delivery could not
	// be confirmed; the user should follow up via the backend web UI.
	StatusUnconfirmed = "unconfirmed"
)

// Ack acknowledges a SendMessage call.
type Ack struct {
	Message        string
	ConversationID string
	URL            string
	Status         string
}

// SendMessage delivers text to the thread's backend conversation, creating
// the session and streaming connection as needed. It blocks until the agent
// reaches awaiting-input, waits the settle delay, emits the message exactly
// once, and returns a sent acknowledgement.
//
// cb becomes the session's reply callback and receives every notification
// the backend produces from here on, replacing any earlier callback.
//
// Failure modes: creation failures return ErrBackendUnavailable; a missed
// readiness window returns ErrAgentNotReady with the connection left open
// for a retry; connection or emission failures after the conversation ID is
// known degrade to an unconfirmed acknowledgement carrying the web URL.
func (s *Service) SendMessage(ctx context.Context, threadID, text string, cb Callback) (*Ack, error) {
	sess, err := s.registry.Resolve(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if !sess.beginSend() {
		return nil, fmt.Errorf("%w: thread %s", ErrSendInFlight, threadID)
	}
	defer sess.endSend()

	ack, err := s.deliverWhenReady(ctx, sess, text, cb)
	if err != nil {
		if errors.Is(err, ErrAgentNotReady) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		// The conversation exists even though delivery failed; hand the
		// caller the web URL instead of the error.
		s.logger.Error("send failed, acknowledging unconfirmed",
			"thread_id", threadID,
			"conversation_id", sess.ConversationID,
			"error", err,
		)
		return s.unconfirmedAck(sess, text), nil
	}
	return ack, nil
}

// deliverWhenReady runs the new-session timing protocol for one send.
func (s *Service) deliverWhenReady(ctx context.Context, sess *Session, text string, cb Callback) (*Ack, error) {
	// Register the callback before dialing so notifications arriving on the
	// very first frames are not dropped.
	sess.SetCallback(cb)

	conn, err := s.ensureConnected(ctx, sess)
	if err != nil {
		return nil, err
	}

	// One-shot subscription: the edge channel fires at most once per call,
	// so the settle delay and emission below cannot be scheduled twice even
	// if the backend reports readiness repeatedly.
	ready, cancelWait := s.tracker.AwaitInputEdge(sess.ThreadID)
	defer cancelWait()

	s.logger.Info("waiting for agent readiness",
		"thread_id", sess.ThreadID,
		"conversation_id", sess.ConversationID,
	)

	readyTimer := time.NewTimer(s.timing.ReadyTimeout)
	defer readyTimer.Stop()

	select {
	case <-ready:
	case <-readyTimer.C:
		return nil, fmt.Errorf("%w: no readiness within %s", ErrAgentNotReady, s.timing.ReadyTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	settle := time.NewTimer(s.timing.SettleDelay)
	defer settle.Stop()
	select {
	case <-settle.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.SendUserMessage(writeCtx, text); err != nil {
		return nil, err
	}

	first := sess.markStarted()
	s.logger.Info("message delivered",
		"thread_id", sess.ThreadID,
		"conversation_id", sess.ConversationID,
		"first", first,
	)
	return s.sentAck(sess, text, first), nil
}

// SendDirectMessage delivers a follow-up message on an existing session.
// Fire-and-forget: failures surface through cb as error notifications, not
// return values, since the user is mid-conversation.
//
// If the agent is already awaiting input the message is emitted after the
// settle delay; otherwise a short fallback timer emits best-effort, relying
// on the backend to queue input while busy. Exactly one of the two branches
// emits.
func (s *Service) SendDirectMessage(threadID, text string, cb Callback) {
	sess := s.registry.Get(threadID)
	if sess == nil || sess.liveConn() == nil {
		s.logger.Warn("direct send without live session", "thread_id", threadID)
		if cb != nil {
			n := openhands.Notification{Kind: openhands.KindError, Text: ErrNoActiveSession.Error() + " for this thread"}
			cb(n.Render(), threadID)
		}
		return
	}

	sess.SetCallback(cb)
	conn := sess.liveConn()

	go s.deliverDirect(sess, conn, text)
}

// deliverDirect races the readiness level-check against the fallback timer.
// A single select chooses the winner, so the emission happens at most once
// per call; the losing branch's timer and waiter are torn down.
func (s *Service) deliverDirect(sess *Session, conn *Conn, text string) {
	if s.tracker.Current(sess.ThreadID) == openhands.StateAwaitingInput {
		s.settleAndEmit(sess, conn, text)
		return
	}

	ready, cancelWait := s.tracker.AwaitInputEdge(sess.ThreadID)
	defer cancelWait()

	fallback := time.NewTimer(s.timing.FallbackDelay)
	defer fallback.Stop()

	select {
	case <-ready:
		s.settleAndEmit(sess, conn, text)
	case <-fallback.C:
		s.logger.Debug("readiness unknown, emitting immediately", "thread_id", sess.ThreadID)
		s.emitDirect(sess, conn, text)
	}
}

// settleAndEmit waits the settle delay, then emits.
func (s *Service) settleAndEmit(sess *Session, conn *Conn, text string) {
	settle := time.NewTimer(s.timing.SettleDelay)
	defer settle.Stop()
	<-settle.C
	s.emitDirect(sess, conn, text)
}

// emitDirect writes the user-action frame for a follow-up send. Errors go
// to the session callback rather than the caller.
func (s *Service) emitDirect(sess *Session, conn *Conn, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := conn.SendUserMessage(ctx, text); err != nil {
		s.logger.Error("direct send failed",
			"thread_id", sess.ThreadID,
			"conversation_id", sess.ConversationID,
			"error", err,
		)
		sess.notify(openhands.Notification{
			Kind: openhands.KindError,
			Text: "message delivery failed: " + err.Error(),
		})
		return
	}
	sess.markStarted()
	s.logger.Info("follow-up delivered",
		"thread_id", sess.ThreadID,
		"conversation_id", sess.ConversationID,
	)
}

// sentAck builds the acknowledgement for a confirmed delivery. The first
// completed send for a session gets the fuller "processing started" phrasing.
func (s *Service) sentAck(sess *Session, text string, first bool) *Ack {
	url := s.client.ConversationURL(sess.ConversationID)
	var msg string
	if first {
		msg = fmt.Sprintf("🤖 *OpenHands processing started*\n\n💬 *Question*: %q\n\n🚀 *View on OpenHands*: %s\n\n✨ *Status*: message sent, waiting for response", text, url)
	} else {
		msg = fmt.Sprintf("📤 *Message sent*: %q", text)
	}
	return &Ack{
		Message:        msg,
		ConversationID: sess.ConversationID,
		URL:            url,
		Status:         StatusSent,
	}
}

// unconfirmedAck builds the degraded acknowledgement used when the
// conversation exists but delivery could not be confirmed.
func (s *Service) unconfirmedAck(sess *Session, text string) *Ack {
	url := s.client.ConversationURL(sess.ConversationID)
	msg := fmt.Sprintf("🤖 *OpenHands conversation ready* (delivery unconfirmed)\n\n📝 *Question*: %q\n🚀 *Open it here and paste your question*: %s", text, url)
	return &Ack{
		Message:        msg,
		ConversationID: sess.ConversationID,
		URL:            url,
		Status:         StatusUnconfirmed,
	}
}
