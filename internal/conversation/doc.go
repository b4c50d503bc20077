// Package conversation is the session correlation and delivery engine.
//
// It reconciles an event-driven, race-prone backend stream with an
// at-most-once delivery guarantee, per session, without cross-session
// interference.
//
// # Components
//
//   - Session: in-memory record correlating one chat thread to one backend
//     conversation, its streaming connection, and its reply callback.
//   - Registry: threadID -> Session map; backend conversations are created
//     on demand, serialized per thread via singleflight so concurrent
//     resolves never create two.
//   - StateTracker: per-session agent readiness, driven solely by
//     state-bearing frames. Exposes the current state and an edge-triggered
//     signal for the transition into awaiting-input.
//   - Conn: one websocket connection per session. Its read loop dispatches
//     every frame, in arrival order, first to the StateTracker and then to
//     the event classifier; classified notifications reach the session's
//     current callback.
//   - Service: the facade and delivery protocol.
//
// # Delivery protocol
//
// SendMessage (new session): wait for the readiness edge (bounded), wait
// the settle delay, emit the user action exactly once, acknowledge. The
// edge subscription is one-shot, so duplicate readiness reports during the
// settle delay cannot schedule a second emission.
//
// SendDirectMessage (follow-up): if the agent is already awaiting input,
// settle then emit; otherwise a short fallback timer emits best-effort. A
// single select picks one branch, so each call emits at most once.
//
// # Concurrency
//
// All state, timers, and guards are per-session. A slow or stuck session
// never blocks delivery or forwarding for another. Nothing is persisted;
// sessions do not survive a restart.
package conversation
