// Package openhands speaks the OpenHands backend's wire surface.
//
// It has two halves:
//
//   - Client: a small REST client for conversation creation, liveness
//     checks, and capability listings.
//   - Event/Classify: the normalized envelope for records arriving on a
//     conversation's event stream, and the fixed-priority classifier that
//     turns records into forwardable Notifications.
//
// # Classification
//
// The event stream is weakly typed: message content may arrive under
// args.content, message, or content, and the same record shapes are reused
// for internal state bookkeeping. Classify applies its rules in a fixed
// order, first match wins, at most one notification per record:
//
//  1. Explicit chat-message action with args.content
//  2. args.content, unless the record is a state-change marker
//  3. message field, unless a state-change marker
//  4. content field, unless a state-change marker
//  5. Agent-sourced typed message
//  6. Agent file operation (edit/write/read) — summary only
//  7. Agent command execution — output truncated to 1000 characters
//  8. Error records
//  9. Anything else is dropped silently
//
// The state-change exclusion in rules 2-4 keeps bookkeeping frames from
// surfacing as chat messages; dropping unmatched records is deliberate and
// is not an error.
package openhands
