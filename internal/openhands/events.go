// ABOUTME: Event envelope and classification for the OpenHands event stream.
// ABOUTME: Normalizes loosely-structured backend payloads into forwardable notifications.

package openhands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// commandOutputLimit caps forwarded command output length.
const commandOutputLimit = 1000

// AgentState describes the backend agent's readiness.
type AgentState int

const (
	StateUnknown AgentState = iota
	StateConnecting
	StateAwaitingInput
	StateProcessing
	StateError
)

// String returns a human-readable state name for logging.
func (s AgentState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateProcessing:
		return "processing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseAgentState maps a backend state tag to an AgentState.
// Returns false for tags the bridge does not track (e.g. "paused").
func ParseAgentState(tag string) (AgentState, bool) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "awaiting_user_input":
		return StateAwaitingInput, true
	case "running":
		return StateProcessing, true
	case "init", "loading", "connecting":
		return StateConnecting, true
	case "error", "rate_limited":
		return StateError, true
	default:
		return StateUnknown, false
	}
}

// EventArgs carries the nested argument payload of an event record.
type EventArgs struct {
	Content string `json:"content,omitempty"`
	Path    string `json:"path,omitempty"`
	Command string `json:"command,omitempty"`
}

// EventExtras carries auxiliary event metadata, notably agent state tags.
type EventExtras struct {
	AgentState string `json:"agent_state,omitempty"`
}

// Event is the normalized envelope for one record from the backend stream.
// The wire protocol is weakly typed: a single record may carry a state tag,
// message content, or both, under several different field names.
type Event struct {
	Message     string       `json:"message,omitempty"`
	Action      string       `json:"action,omitempty"`
	Args        *EventArgs   `json:"args,omitempty"`
	Content     string       `json:"content,omitempty"`
	Source      string       `json:"source,omitempty"`
	Type        string       `json:"type,omitempty"`
	Observation string       `json:"observation,omitempty"`
	Extras      *EventExtras `json:"extras,omitempty"`
	State       string       `json:"state,omitempty"`
}

// StateChange returns the agent state this record carries, if any.
// Both dedicated state frames ({"state": ...}) and generic events tagged
// with extras.agent_state count as state-bearing.
func (e Event) StateChange() (AgentState, bool) {
	if e.State != "" {
		return ParseAgentState(e.State)
	}
	if e.Extras != nil && e.Extras.AgentState != "" {
		return ParseAgentState(e.Extras.AgentState)
	}
	return StateUnknown, false
}

// isStateChangeMarker reports whether the record is internal state bookkeeping.
// Such records must never be re-emitted as chat messages even when they carry
// content-shaped fields.
func (e Event) isStateChangeMarker() bool {
	return strings.Contains(e.Observation, "agent_state_changed")
}

// DecodeEvents parses one raw stream payload into a slice of records.
// The backend sends either a single JSON object or a batch array; a single
// record is normalized to a one-element slice.
func DecodeEvents(data []byte) ([]Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var events []Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decoding event batch: %w", err)
		}
		return events, nil
	}
	var event Event
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	return []Event{event}, nil
}

// NotificationKind indicates the type of a forwardable notification.
type NotificationKind int

const (
	KindMessage NotificationKind = iota
	KindFileOp
	KindCommandOutput
	KindError
)

// Notification is a classified unit of backend output destined for the chat
// thread. At most one notification is produced per event record.
type Notification struct {
	Kind   NotificationKind
	Text   string
	Action string // file operation verb, for KindFileOp
	Path   string // file path, for KindFileOp
}

// Render produces the chat text for a notification.
func (n Notification) Render() string {
	switch n.Kind {
	case KindFileOp:
		return fmt.Sprintf("📁 *%s completed*: %s", n.Action, n.Path)
	case KindCommandOutput:
		return "⚡ *Command output*:\n```\n" + n.Text + "\n```"
	case KindError:
		return "❌ *Error*: " + n.Text
	default:
		return n.Text
	}
}

// fileOpActions are the agent file operations forwarded as summaries.
var fileOpActions = map[string]bool{
	"edit":  true,
	"write": true,
	"read":  true,
}

// Classify turns one event record into at most one notification.
//
// Rules are applied in fixed priority order, first match wins. Records
// marked as state-change bookkeeping are excluded from the generic
// content rules so internal frames never surface as chat messages.
func Classify(e Event) (Notification, bool) {
	// Explicit chat-message action.
	if e.Message != "" && e.Action == "message" && e.Args != nil && e.Args.Content != "" {
		return Notification{Kind: KindMessage, Text: e.Args.Content}, true
	}

	// Generic content-bearing shapes, skipping state bookkeeping.
	if !e.isStateChangeMarker() {
		if e.Args != nil && strings.TrimSpace(e.Args.Content) != "" {
			return Notification{Kind: KindMessage, Text: e.Args.Content}, true
		}
		if strings.TrimSpace(e.Message) != "" {
			return Notification{Kind: KindMessage, Text: e.Message}, true
		}
		if strings.TrimSpace(e.Content) != "" {
			return Notification{Kind: KindMessage, Text: e.Content}, true
		}
	}

	// Agent-sourced records.
	if e.Source == "agent" {
		if e.Type == "message" && strings.TrimSpace(e.Message) != "" {
			return Notification{Kind: KindMessage, Text: e.Message}, true
		}
		if fileOpActions[e.Action] {
			n := Notification{Kind: KindFileOp, Action: e.Action}
			if e.Args != nil {
				n.Path = e.Args.Path
			}
			return n, true
		}
		if e.Action == "run" {
			output := e.Observation
			if output == "" {
				output = e.Content
			}
			if strings.TrimSpace(output) == "" {
				return Notification{}, false
			}
			return Notification{Kind: KindCommandOutput, Text: truncate(output, commandOutputLimit)}, true
		}
	}

	// Error records.
	if e.Observation == "ErrorObservation" || e.Type == "error" {
		text := e.Message
		if text == "" {
			text = e.Content
		}
		return Notification{Kind: KindError, Text: text}, true
	}

	return Notification{}, false
}

// truncate limits s to at most limit characters.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// UserAction is the single outbound frame emitted on the stream: one user
// message for the agent to process.
type UserAction struct {
	Action string         `json:"action"`
	Args   UserActionArgs `json:"args"`
}

// UserActionArgs carries the user message content.
type UserActionArgs struct {
	Content string `json:"content"`
}

// NewMessageAction builds the outbound frame for a user message.
func NewMessageAction(content string) UserAction {
	return UserAction{Action: "message", Args: UserActionArgs{Content: content}}
}
