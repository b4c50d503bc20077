// ABOUTME: Slack socket-mode bridge: receives workspace events and drives the conversation engine.
// ABOUTME: Deduplicates Slack's event retries and posts agent replies back into threads.

package slackbridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/yourself-q/slack-openhands-bot/internal/conversation"
	"github.com/yourself-q/slack-openhands-bot/internal/dedupe"
)

const (
	dedupeTTL     = 5 * time.Minute
	dedupeMaxSize = 10_000
)

// Core is the conversation engine surface the bridge drives.
type Core interface {
	SendMessage(ctx context.Context, threadID, text string, cb conversation.Callback) (*conversation.Ack, error)
	SendDirectMessage(threadID, text string, cb conversation.Callback)
	HasSession(threadID string) bool
	HealthCheck(ctx context.Context) bool
	URLFor(threadID string) string
	List() []conversation.SessionInfo
}

// Sender posts messages to Slack. Satisfied by *slack.Client.
type Sender interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// Bridge connects a Slack workspace to the conversation engine over socket
// mode. Mentions and DMs become backend sends; agent notifications flow back
// through per-session callbacks into the originating thread.
type Bridge struct {
	sender    Sender
	socket    *socketmode.Client
	core      Core
	dedupe    *dedupe.Cache
	allowed   map[string]struct{}
	botUserID string
	logger    *slog.Logger
}

// New builds the bridge and resolves the bot's own user ID, which the
// message handler needs to skip mention events it would otherwise double
// handle. An empty allowedChannels list permits every channel.
func New(api *slack.Client, socket *socketmode.Client, core Core, allowedChannels []string, logger *slog.Logger) (*Bridge, error) {
	auth, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack auth test: %w", err)
	}

	allowed := make(map[string]struct{}, len(allowedChannels))
	for _, ch := range allowedChannels {
		allowed[ch] = struct{}{}
	}

	return &Bridge{
		sender:    api,
		socket:    socket,
		core:      core,
		dedupe:    dedupe.New(dedupeTTL, dedupeMaxSize),
		allowed:   allowed,
		botUserID: auth.UserID,
		logger:    logger.With("component", "slack-bridge"),
	}, nil
}

// Run starts the event dispatcher and the socket-mode connection. It blocks
// until ctx is cancelled or the connection fails permanently.
func (b *Bridge) Run(ctx context.Context) error {
	go b.dispatch(ctx)
	return b.socket.RunContext(ctx)
}

// Close releases bridge-owned resources.
func (b *Bridge) Close() {
	b.dedupe.Close()
}

func (b *Bridge) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socket.Events:
			if !ok {
				return
			}
			b.route(ctx, evt)
		}
	}
}

// route fans a socket-mode event out to the matching handler. Events API
// payloads are acked before handling: Slack retries unacked events, and the
// dedupe cache covers the remaining window.
func (b *Bridge) route(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		b.logger.Info("connecting to slack")
	case socketmode.EventTypeConnectionError:
		b.logger.Warn("slack connection error, retrying", "error", evt.Data)
	case socketmode.EventTypeConnected:
		b.logger.Info("connected to slack")
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		b.socket.Ack(*evt.Request)
		b.handleEventsAPI(ctx, apiEvent)
	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		b.socket.Ack(*evt.Request, b.handleSlashCommand(ctx, cmd))
	}
}

func (b *Bridge) handleEventsAPI(ctx context.Context, apiEvent slackevents.EventsAPIEvent) {
	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		b.handleMention(ctx, ev)
	case *slackevents.MessageEvent:
		b.handleMessage(ctx, ev)
	}
}

func (b *Bridge) channelAllowed(channel string) bool {
	if len(b.allowed) == 0 {
		return true
	}
	_, ok := b.allowed[channel]
	return ok
}

// callbackFor builds the session callback that posts agent notifications
// into the given Slack thread.
func (b *Bridge) callbackFor(channel, threadTS string) conversation.Callback {
	return func(text, threadID string) {
		b.post(channel, threadTS, text)
	}
}

func (b *Bridge) post(channel, threadTS, text string) {
	_, _, err := b.sender.PostMessage(channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		b.logger.Error("posting to slack failed",
			"channel", channel,
			"thread_ts", threadTS,
			"error", err,
		)
	}
}
