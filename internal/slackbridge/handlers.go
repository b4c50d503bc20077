// ABOUTME: Handlers for Slack mention and message events.
// ABOUTME: Maps mentions and DMs to thread identifiers and routes them to the conversation engine.

package slackbridge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/slack-go/slack/slackevents"

	"github.com/yourself-q/slack-openhands-bot/internal/conversation"
)

var mentionPattern = regexp.MustCompile(`<@[^>]+>`)

// stripMentions removes Slack user-mention markup from message text.
func stripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// handleMention processes an @-mention in a channel. The Slack thread
// timestamp doubles as the thread identifier: a mention at the top level
// starts a thread keyed by its own ts, a mention inside a thread joins the
// thread's session.
func (b *Bridge) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	if !b.channelAllowed(ev.Channel) {
		b.logger.Debug("mention in disallowed channel ignored", "channel", ev.Channel)
		return
	}
	if b.dedupe.Seen(fmt.Sprintf("mention:%s:%s", ev.Channel, ev.TimeStamp)) {
		b.logger.Debug("duplicate mention ignored", "channel", ev.Channel, "ts", ev.TimeStamp)
		return
	}

	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}

	text := stripMentions(ev.Text)
	if text == "" {
		b.post(ev.Channel, threadTS, "👋 Ask me something and I'll start an OpenHands session in this thread.")
		return
	}

	b.logger.Info("mention received",
		"channel", ev.Channel,
		"thread_id", threadTS,
		"user", ev.User,
	)
	b.startOrForward(ctx, ev.Channel, threadTS, threadTS, text)
}

// handleMessage processes plain message events: DMs to the bot and
// follow-ups inside threads that already have a session.
func (b *Bridge) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Skip bot messages (our own posts included) and edits/joins/etc.
	if ev.BotID != "" || ev.SubType != "" {
		return
	}
	// Channel mentions arrive as both app_mention and message events; the
	// mention handler owns those.
	if b.botUserID != "" && strings.Contains(ev.Text, "<@"+b.botUserID+">") {
		return
	}
	if b.dedupe.Seen(fmt.Sprintf("message:%s:%s", ev.Channel, ev.TimeStamp)) {
		return
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	if ev.ChannelType == "im" {
		// Each DM gets its own session, keyed by sender and message ts.
		threadID := fmt.Sprintf("dm_%s_%s", ev.User, ev.TimeStamp)
		b.logger.Info("direct message received", "user", ev.User, "thread_id", threadID)
		b.startOrForward(ctx, ev.Channel, ev.TimeStamp, threadID, text)
		return
	}

	// Thread follow-ups are picked up only when the thread already has a
	// session, so ordinary channel chatter is left alone.
	if ev.ThreadTimeStamp != "" && b.channelAllowed(ev.Channel) && b.core.HasSession(ev.ThreadTimeStamp) {
		b.logger.Info("thread follow-up received",
			"channel", ev.Channel,
			"thread_id", ev.ThreadTimeStamp,
			"user", ev.User,
		)
		b.core.SendDirectMessage(ev.ThreadTimeStamp, text, b.callbackFor(ev.Channel, ev.ThreadTimeStamp))
	}
}

// startOrForward routes text to the thread's session: follow-ups on live
// sessions go straight to the stream, everything else runs the full
// create-connect-wait-deliver protocol in the background.
func (b *Bridge) startOrForward(ctx context.Context, channel, threadTS, threadID, text string) {
	if !b.core.HealthCheck(ctx) {
		b.post(channel, threadTS, "❌ OpenHands backend is not reachable right now. Please try again later.")
		return
	}

	cb := b.callbackFor(channel, threadTS)

	if b.core.HasSession(threadID) {
		b.core.SendDirectMessage(threadID, text, cb)
		return
	}

	// SendMessage blocks until the agent is ready, which can take minutes
	// on a cold backend. Run it off the dispatch goroutine.
	go func() {
		ack, err := b.core.SendMessage(ctx, threadID, text, cb)
		if err != nil {
			b.post(channel, threadTS, errorReply(err, b.core.URLFor(threadID)))
			return
		}
		b.post(channel, threadTS, ack.Message)
	}()
}

// errorReply maps delivery errors to user-facing replies.
func errorReply(err error, url string) string {
	switch {
	case errors.Is(err, conversation.ErrSendInFlight):
		return "⏳ Still delivering your previous message to this thread. Give it a moment."
	case errors.Is(err, conversation.ErrAgentNotReady):
		return fmt.Sprintf("⚠️ The agent did not become ready in time. Your session is still open: %s", url)
	case errors.Is(err, conversation.ErrBackendUnavailable):
		return "❌ Could not create an OpenHands conversation. Is the backend running?"
	default:
		return fmt.Sprintf("❌ Something went wrong: %v", err)
	}
}
