// Package core provides the foundational domain types and contracts of
// convoflow:
//
//   - Events (a closed set of immutable conversation log entries)
//   - Trackers (per-conversation event log plus a replayable projection)
//   - Slots (conversational variables derived from SlotSet events)
//   - Contracts for the collaborators around the orchestration core: tracker
//     stores, interpreters, output channels, response generators and
//     diagnostics sinks
//
// The package keeps implementation concerns (persistence, scheduling,
// prediction) out of scope, exposing small interfaces so that backends can be
// swapped without touching the message processor.
package core
