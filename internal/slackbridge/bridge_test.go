// ABOUTME: Tests for the Slack bridge's event handlers and slash commands.
// ABOUTME: Uses fake engine and sender implementations; no Slack connection involved.

package slackbridge

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourself-q/slack-openhands-bot/internal/conversation"
	"github.com/yourself-q/slack-openhands-bot/internal/dedupe"
)

type sendCall struct {
	threadID string
	text     string
}

type fakeCore struct {
	mu          sync.Mutex
	healthy     bool
	sessions    map[string]bool
	sendCalls   []sendCall
	directCalls []sendCall
	ack         *conversation.Ack
	sendErr     error
	list        []conversation.SessionInfo
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		healthy:  true,
		sessions: make(map[string]bool),
		ack: &conversation.Ack{
			Message: "ack-message",
			Status:  conversation.StatusSent,
		},
	}
}

func (f *fakeCore) SendMessage(ctx context.Context, threadID, text string, cb conversation.Callback) (*conversation.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls = append(f.sendCalls, sendCall{threadID, text})
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.ack, nil
}

func (f *fakeCore) SendDirectMessage(threadID, text string, cb conversation.Callback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directCalls = append(f.directCalls, sendCall{threadID, text})
}

func (f *fakeCore) HasSession(threadID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[threadID]
}

func (f *fakeCore) HealthCheck(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeCore) URLFor(threadID string) string {
	return "http://openhands.test/conversations/conv-" + threadID
}

func (f *fakeCore) List() []conversation.SessionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list
}

func (f *fakeCore) sends() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.sendCalls...)
}

func (f *fakeCore) directs() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.directCalls...)
}

type postRecord struct {
	channel  string
	threadTS string
	text     string
}

type fakeSender struct {
	posts chan postRecord
}

func newFakeSender() *fakeSender {
	return &fakeSender{posts: make(chan postRecord, 16)}
}

func (f *fakeSender) PostMessage(channelID string, options ...slack.MsgOption) (string, string, error) {
	// Decode the options the same way the real client would
	_, values, err := slack.UnsafeApplyMsgOptions("test-token", channelID, "https://slack.test/api/", options...)
	if err != nil {
		return "", "", err
	}
	f.posts <- postRecord{
		channel:  channelID,
		threadTS: values.Get("thread_ts"),
		text:     values.Get("text"),
	}
	return channelID, "1.0", nil
}

func (f *fakeSender) waitPost(t *testing.T) postRecord {
	t.Helper()
	select {
	case p := <-f.posts:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a slack post")
		return postRecord{}
	}
}

func (f *fakeSender) assertNoPost(t *testing.T) {
	t.Helper()
	select {
	case p := <-f.posts:
		t.Fatalf("unexpected slack post: %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestBridge(core *fakeCore, sender *fakeSender) *Bridge {
	cache := dedupe.New(time.Minute, 100)
	return &Bridge{
		sender:    sender,
		core:      core,
		dedupe:    cache,
		allowed:   map[string]struct{}{},
		botUserID: "UBOT123",
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func mention(channel, user, ts, threadTS, text string) *slackevents.AppMentionEvent {
	return &slackevents.AppMentionEvent{
		Channel:         channel,
		User:            user,
		TimeStamp:       ts,
		ThreadTimeStamp: threadTS,
		Text:            text,
	}
}

func TestStripMentions(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"leading mention", "<@UBOT123> fix the build", "fix the build"},
		{"multiple mentions", "<@UBOT123> ask <@U999> about it", "ask  about it"},
		{"no mention", "plain text", "plain text"},
		{"mention only", "<@UBOT123>", ""},
		{"surrounding whitespace", "  <@UBOT123>  hello  ", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripMentions(tt.input))
		})
	}
}

func TestHandleMention_StartsSession(t *testing.T) {
	core := newFakeCore()
	sender := newFakeSender()
	b := newTestBridge(core, sender)
	defer b.Close()

	b.handleMention(context.Background(), mention("C1", "U1", "100.1", "", "<@UBOT123> hello there"))

	// The ack from SendMessage is posted into the thread
	p := sender.waitPost(t)
	assert.Equal(t, "C1", p.channel)
	assert.Equal(t, "100.1", p.threadTS)
	assert.Equal(t, "ack-message", p.text)

	sends := core.sends()
	require.Len(t, sends, 1)
	assert.Equal(t, "100.1", sends[0].threadID, "top-level mention keys the thread by its own ts")
	assert.Equal(t, "hello there", sends[0].text)
}

func TestHandleMention_InThreadUsesThreadTS(t *testing.T) {
	core := newFakeCore()
	sender := newFakeSender()
	b := newTestBridge(core, sender)
	defer b.Close()

	b.handleMention(context.Background(), mention("C1", "U1", "100.2", "99.9", "<@UBOT123> question"))

	sender.waitPost(t)
	sends := core.sends()
	require.Len(t, sends, 1)
	assert.Equal(t, "99.9", sends[0].threadID)
}

func TestHandleMention_ExistingSessionGoesDirect(t *testing.T) {
	core := newFakeCore()
	core.sessions["99.9"] = true
	sender := newFakeSender()
	b := newTestBridge(core, sender)
	defer b.Close()

	b.handleMention(context.Background(), mention("C1", "U1", "100.3", "99.9", "<@UBOT123> follow up"))

	directs := core.directs()
	require.Len(t, directs, 1)
	assert.Equal(t, "99.9", directs[0].threadID)
	assert.Equal(t, "follow up", directs[0].text)
	assert.Empty(t, core.sends(), "existing session should not trigger a full send")
}

func TestHandleMention_Duplicate(t *testing.T) {
	core := newFakeCore()
	sender := newFakeSender()
	b := newTestBridge(core, sender)
	defer b.Close()

	ev := mention("C1", "U1", "100.4", "", "<@UBOT123> once")
	b.handleMention(context.Background(), ev)
	sender.waitPost(t)

	// Slack retry of the same event
	b.handleMention(context.Background(), ev)
	sender.assertNoPost(t)

	assert.Len(t, core.sends(), 1, "retried event must not trigger a second send")
}

func TestHandleMention_DisallowedChannel(t *testing.T) {
	core := newFakeCore()
	sender := newFakeSender()
	b := newTestBridge(core, sender)
	defer b.Close()
	b.allowed = map[string]struct{}{"C-ALLOWED": {}}

	b.handleMention(context.Background(), mention("C-OTHER", "U1", "100.5", "", "<@UBOT123> hi"))

	sender.assertNoPost(t)
	assert.Empty(t, core.sends())
}

func TestHandleMention_EmptyText(t *testing.T) {
	core := newFakeCore()
	sender := newFakeSender()
	b := newTestBridge(core, sender)
	defer b.Close()

	b.handleMention(context.Background(), mention("C1", "U1", "100.6", "", "<@UBOT123>"))

	p := sender.waitPost(t)
	assert.Contains(t, p.text, "👋")
	assert.Empty(t, core.sends())
}

func TestHandleMention_BackendUnhealthy(t *testing.T) {
	core := newFakeCore()
	core.healthy = false
	sender := newFakeSender()
	b := newTestBridge(core, sender)
	defer b.Close()

	b.handleMention(context.Background(), mention("C1", "U1", "100.7", "", "<@UBOT123> hello"))

	p := sender.waitPost(t)
	assert.Contains(t, p.text, "not reachable")
	assert.Empty(t, core.sends())
}

func TestHandleMention_SendErrorPostsReply(t *testing.T) {
	core := newFakeCore()
	core.sendErr = conversation.ErrAgentNotReady
	sender := newFakeSender()
	b := newTestBridge(core, sender)
	defer b.Close()

	b.handleMention(context.Background(), mention("C1", "U1", "100.8", "", "<@UBOT123> hello"))

	p := sender.waitPost(t)
	assert.Contains(t, p.text, "did not become ready")
	assert.Contains(t, p.text, "http://openhands.test/conversations/conv-100.8")
}

func TestHandleMessage_DMStartsFreshSession(t *testing.T) {
	core := newFakeCore()
	sender := newFakeSender()
	b := newTestBridge(core, sender)
	defer b.Close()

	b.handleMessage(context.Background(), &slackevents.MessageEvent{
		Channel:     "D1",
		ChannelType: "im",
		User:        "U7",
		TimeStamp:   "200.1",
		Text:        "private question",
	})

	sender.waitPost(t)
	sends := core.sends()
	require.Len(t, sends, 1)
	assert.Equal(t, "dm_U7_200.1", sends[0].threadID)
	assert.Equal(t, "private question", sends[0].text)
}

func TestHandleMessage_ThreadFollowUp(t *testing.T) {
	core := newFakeCore()
	core.sessions["99.9"] = true
	sender := newFakeSender()
	b := newTestBridge(core, sender)
	defer b.Close()

	b.handleMessage(context.Background(), &slackevents.MessageEvent{
		Channel:         "C1",
		ChannelType:     "channel",
		User:            "U1",
		TimeStamp:       "200.2",
		ThreadTimeStamp: "99.9",
		Text:            "and another thing",
	})

	directs := core.directs()
	require.Len(t, directs, 1)
	assert.Equal(t, "99.9", directs[0].threadID)
	assert.Equal(t, "and another thing", directs[0].text)
}

func TestHandleMessage_ThreadWithoutSessionIgnored(t *testing.T) {
	core := newFakeCore()
	sender := newFakeSender()
	b := newTestBridge(core, sender)
	defer b.Close()

	b.handleMessage(context.Background(), &slackevents.MessageEvent{
		Channel:         "C1",
		ChannelType:     "channel",
		User:            "U1",
		TimeStamp:       "200.3",
		ThreadTimeStamp: "98.8",
		Text:            "random thread chatter",
	})

	sender.assertNoPost(t)
	assert.Empty(t, core.sends())
	assert.Empty(t, core.directs())
}

func TestHandleMessage_SkipsBotsAndEdits(t *testing.T) {
	core := newFakeCore()
	core.sessions["99.9"] = true
	sender := newFakeSender()
	b := newTestBridge(core, sender)
	defer b.Close()

	// Bot message
	b.handleMessage(context.Background(), &slackevents.MessageEvent{
		Channel: "C1", ChannelType: "channel", BotID: "B1",
		TimeStamp: "200.4", ThreadTimeStamp: "99.9", Text: "bot noise",
	})
	// Edited message
	b.handleMessage(context.Background(), &slackevents.MessageEvent{
		Channel: "C1", ChannelType: "channel", SubType: "message_changed",
		TimeStamp: "200.5", ThreadTimeStamp: "99.9", Text: "edited",
	})

	assert.Empty(t, core.directs())
}

func TestHandleMessage_SkipsMentionText(t *testing.T) {
	core := newFakeCore()
	core.sessions["99.9"] = true
	sender := newFakeSender()
	b := newTestBridge(core, sender)
	defer b.Close()

	// A channel mention also fires a message event; the mention handler
	// owns it, so the message handler must not double-forward.
	b.handleMessage(context.Background(), &slackevents.MessageEvent{
		Channel: "C1", ChannelType: "channel", User: "U1",
		TimeStamp: "200.6", ThreadTimeStamp: "99.9",
		Text: "<@UBOT123> do the thing",
	})

	assert.Empty(t, core.directs())
	assert.Empty(t, core.sends())
}

func TestErrorReply(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"send in flight", conversation.ErrSendInFlight, "previous message"},
		{"agent not ready", conversation.ErrAgentNotReady, "did not become ready"},
		{"backend unavailable", conversation.ErrBackendUnavailable, "Is the backend running"},
		{"unknown", io.ErrUnexpectedEOF, "Something went wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, errorReply(tt.err, "http://x"), tt.want)
		})
	}
}

func TestHandleSlashCommand(t *testing.T) {
	core := newFakeCore()
	core.list = []conversation.SessionInfo{
		{ThreadID: "99.9", ConversationID: "conv-1", URL: "http://openhands.test/conversations/conv-1", Connected: true},
		{ThreadID: "dm_U7_200.1", ConversationID: "conv-2", URL: "http://openhands.test/conversations/conv-2", Connected: false},
	}
	sender := newFakeSender()
	b := newTestBridge(core, sender)
	defer b.Close()

	ctx := context.Background()

	t.Run("help", func(t *testing.T) {
		payload := b.handleSlashCommand(ctx, slack.SlashCommand{Command: "/openhands-help"})
		assert.Equal(t, "ephemeral", payload["response_type"])
		assert.Contains(t, payload["text"], "/openhands-status")
	})

	t.Run("status healthy", func(t *testing.T) {
		payload := b.handleSlashCommand(ctx, slack.SlashCommand{Command: "/openhands-status"})
		assert.Contains(t, payload["text"], "healthy")
	})

	t.Run("status unhealthy", func(t *testing.T) {
		core.mu.Lock()
		core.healthy = false
		core.mu.Unlock()
		payload := b.handleSlashCommand(ctx, slack.SlashCommand{Command: "/openhands-status"})
		assert.Contains(t, payload["text"], "not reachable")
		core.mu.Lock()
		core.healthy = true
		core.mu.Unlock()
	})

	t.Run("sessions", func(t *testing.T) {
		payload := b.handleSlashCommand(ctx, slack.SlashCommand{Command: "/openhands-sessions"})
		text := payload["text"].(string)
		assert.Contains(t, text, "2 active session(s)")
		assert.Contains(t, text, "conv-1")
		assert.Contains(t, text, "connected")
		assert.Contains(t, text, "disconnected")
	})

	t.Run("sessions empty", func(t *testing.T) {
		core.mu.Lock()
		core.list = nil
		core.mu.Unlock()
		payload := b.handleSlashCommand(ctx, slack.SlashCommand{Command: "/openhands-sessions"})
		assert.Contains(t, payload["text"], "No active")
	})

	t.Run("open", func(t *testing.T) {
		payload := b.handleSlashCommand(ctx, slack.SlashCommand{Command: "/openhands-open", Text: "99.9"})
		assert.Contains(t, payload["text"], "conv-99.9")
	})

	t.Run("unknown", func(t *testing.T) {
		payload := b.handleSlashCommand(ctx, slack.SlashCommand{Command: "/openhands-nope"})
		assert.Contains(t, payload["text"], "Unknown command")
	})
}
