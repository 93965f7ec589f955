package testutil

import (
	"time"

	"github.com/hupe1980/convoflow/core"
)

// TrackerBuilder helps construct trackers with fluent chaining for tests.
// Example:
//
//	tr := NewTrackerBuilder("s1").SessionStarted().User("hi", "greet").Action("utter_greet").Build()
//
// Chain only the parts you need; events are applied in order.
type TrackerBuilder struct {
	senderID string
	slots    []core.Slot
	events   []core.Event
}

// NewTrackerBuilder creates a builder for the given sender id.
func NewTrackerBuilder(senderID string) *TrackerBuilder {
	return &TrackerBuilder{senderID: senderID}
}

// Slots sets the slot declarations (chainable).
func (b *TrackerBuilder) Slots(slots ...core.Slot) *TrackerBuilder {
	b.slots = append(b.slots, slots...)
	return b
}

// Event appends arbitrary events (chainable).
func (b *TrackerBuilder) Event(evs ...core.Event) *TrackerBuilder {
	b.events = append(b.events, evs...)
	return b
}

// SessionStarted appends a session start stamped now (chainable).
func (b *TrackerBuilder) SessionStarted() *TrackerBuilder {
	return b.Event(core.NewSessionStarted())
}

// SessionStartedAt appends a session start with a fixed timestamp (chainable).
func (b *TrackerBuilder) SessionStartedAt(at time.Time) *TrackerBuilder {
	e := core.NewSessionStarted()
	e.Timestamp = at
	return b.Event(e)
}

// User appends a user utterance with the given intent (chainable).
func (b *TrackerBuilder) User(text, intent string) *TrackerBuilder {
	var parse *core.ParseResult
	if intent != "" {
		parse = &core.ParseResult{Text: text, Intent: core.Intent{Name: intent, Confidence: 1}}
	}
	return b.Event(core.NewUserUttered(text, parse, core.NewID()))
}

// Action appends an executed action (chainable).
func (b *TrackerBuilder) Action(name string) *TrackerBuilder {
	return b.Event(core.NewActionExecuted(name))
}

// Listen appends ActionExecuted(action_listen) (chainable).
func (b *TrackerBuilder) Listen() *TrackerBuilder { return b.Action(core.ActionListenName) }

// Slot appends a SlotSet (chainable).
func (b *TrackerBuilder) Slot(name string, value any) *TrackerBuilder {
	return b.Event(core.NewSlotSet(name, value))
}

// Build replays the collected events into a new tracker.
func (b *TrackerBuilder) Build() *core.Tracker {
	return core.TrackerFromEvents(b.senderID, b.events, b.slots)
}

// Reminder creates a reminder event for tests.
func Reminder(action string, at time.Time, name string, kill bool) *core.ReminderScheduled {
	return core.NewReminderScheduled(action, at, name, kill)
}

// ActionNames returns the names of all ActionExecuted events in order.
func ActionNames(events []core.Event) []string {
	var out []string
	for _, e := range events {
		if a, ok := e.(*core.ActionExecuted); ok {
			out = append(out, a.ActionName)
		}
	}
	return out
}

// EventTypes returns the wire type of each event in order.
func EventTypes(events []core.Event) []core.EventType {
	out := make([]core.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type()
	}
	return out
}
