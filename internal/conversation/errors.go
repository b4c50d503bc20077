// ABOUTME: Sentinel errors for the session correlation and delivery engine.
// ABOUTME: Matches the bridge's error taxonomy; callers branch with errors.Is.

package conversation

import "errors"

// ErrBackendUnavailable indicates the backend health check or conversation
// creation failed. Surfaced to the user as a degraded message, never fatal.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrConnectionFailed indicates the streaming connection could not be
// established within the connect timeout.
var ErrConnectionFailed = errors.New("connection failed")

// ErrAgentNotReady indicates the agent never reached awaiting-input state
// within the readiness timeout. The connection stays open for a later retry.
var ErrAgentNotReady = errors.New("agent not ready")

// ErrNoActiveSession indicates a follow-up send was attempted for a thread
// with no live session.
var ErrNoActiveSession = errors.New("no active session")

// ErrSendInFlight indicates a send is already pending for the session.
// A second send for the same session is rejected rather than superseded.
var ErrSendInFlight = errors.New("send already in flight")
