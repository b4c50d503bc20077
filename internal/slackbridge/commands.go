// ABOUTME: Slash command handlers for the Slack bridge.
// ABOUTME: Help, backend status, session listing, and conversation links, all as ephemeral replies.

package slackbridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

const helpText = `*OpenHands Slack bot*

• Mention me in a channel to start a session in that thread.
• Reply in the thread to continue the conversation.
• DM me to start a private session per message.

*Commands*
• ` + "`/openhands-help`" + ` — this message
• ` + "`/openhands-status`" + ` — backend health
• ` + "`/openhands-sessions`" + ` — active sessions
• ` + "`/openhands-open [thread-id]`" + ` — link to a session's web UI (or the backend itself)`

// handleSlashCommand returns the ack payload for a slash command. All
// replies are ephemeral so commands never clutter the channel.
func (b *Bridge) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) map[string]interface{} {
	b.logger.Info("slash command", "command", cmd.Command, "user", cmd.UserID)

	switch cmd.Command {
	case "/openhands-help":
		return ephemeral(helpText)
	case "/openhands-status":
		if b.core.HealthCheck(ctx) {
			return ephemeral("✅ OpenHands backend is healthy")
		}
		return ephemeral("❌ OpenHands backend is not reachable")
	case "/openhands-sessions":
		return ephemeral(b.sessionsSummary())
	case "/openhands-open":
		return ephemeral("🚀 " + b.core.URLFor(strings.TrimSpace(cmd.Text)))
	default:
		return ephemeral(fmt.Sprintf("Unknown command %s. Try /openhands-help.", cmd.Command))
	}
}

func ephemeral(text string) map[string]interface{} {
	return map[string]interface{}{
		"response_type": "ephemeral",
		"text":          text,
	}
}

func (b *Bridge) sessionsSummary() string {
	sessions := b.core.List()
	if len(sessions) == 0 {
		return "No active OpenHands sessions."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*%d active session(s)*\n", len(sessions))
	for _, s := range sessions {
		status := "disconnected"
		if s.Connected {
			status = "connected"
		}
		fmt.Fprintf(&sb, "• `%s` → <%s|%s> (%s)\n", s.ThreadID, s.URL, s.ConversationID, status)
	}
	return sb.String()
}
