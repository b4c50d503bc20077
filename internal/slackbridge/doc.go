// Package slackbridge connects a Slack workspace to the conversation engine.
//
// The bridge runs over Slack socket mode: app mentions and DMs become
// backend sends, thread replies become follow-ups on the thread's session,
// and agent notifications are posted back into the originating thread via
// per-session callbacks. Slash commands provide help, backend status, and
// session introspection.
//
// Slack redelivers events when an ack is slow, so every mention and message
// is gated through a dedupe cache before processing.
package slackbridge
