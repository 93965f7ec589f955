package core

import (
	"time"
)

// Names of the built-in actions the tracker projection refers to.
const (
	ActionListenName       = "action_listen"
	ActionSessionStartName = "action_session_start"
	ActionRestartName      = "action_restart"
)

// Tracker is the per-conversation aggregate: an append-only event log plus a
// projection (slots, latest message, session marker, ...) that is always
// reproducible by replaying the log from an empty tracker.
//
// A Tracker is not safe for concurrent use. Callers check it out of a
// TrackerStore, mutate it through Update and check it back in with Save.
type Tracker struct {
	SenderID string

	events    []Event
	slotDecls []Slot
	slots     map[string]*Slot

	latestMessage      *UserUttered
	latestMessageID    string
	latestActionName   string
	actionsSinceUser   int
	latestBotUtterance *BotUttered
	followupAction     string
	paused             bool
	sessionStart       time.Time
}

// NewTracker creates an empty tracker for senderID with the declared slots.
func NewTracker(senderID string, slots []Slot) *Tracker {
	t := &Tracker{SenderID: senderID, events: []Event{}}
	t.slotDecls = make([]Slot, 0, len(slots))
	t.slots = make(map[string]*Slot, len(slots))
	for _, s := range slots {
		decl := s.Declaration()
		t.slotDecls = append(t.slotDecls, decl)
		slot := decl
		t.slots[decl.Name] = &slot
	}
	t.resetProjection()
	return t
}

// TrackerFromEvents rebuilds a tracker by replaying events in order.
func TrackerFromEvents(senderID string, events []Event, slots []Slot) *Tracker {
	t := NewTracker(senderID, slots)
	for _, e := range events {
		t.Update(e)
	}
	return t
}

// TrackerFromDict rebuilds a tracker from the output of Serialize.
func TrackerFromDict(senderID string, serialized []byte, slots []Slot) (*Tracker, error) {
	events, err := UnmarshalEvents(serialized)
	if err != nil {
		return nil, err
	}
	return TrackerFromEvents(senderID, events, slots), nil
}

// Serialize encodes the full event log; TrackerFromDict is its inverse.
func (t *Tracker) Serialize() ([]byte, error) { return MarshalEvents(t.events) }

// Update appends e to the log and applies its projection rule. Events without
// a timestamp are stamped with the current time.
func (t *Tracker) Update(e Event) {
	if e.Meta().Timestamp.IsZero() {
		e.Meta().Timestamp = time.Now().UTC()
	}
	t.events = append(t.events, e)
	e.Accept(projector{t})
}

// UpdateAll applies events in order.
func (t *Tracker) UpdateAll(events []Event) {
	for _, e := range events {
		t.Update(e)
	}
}

// Events returns a copy of the event log.
func (t *Tracker) Events() []Event {
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Len returns the number of logged events.
func (t *Tracker) Len() int { return len(t.events) }

// EventsSince returns the events logged at or after index n.
func (t *Tracker) EventsSince(n int) []Event {
	if n >= len(t.events) {
		return nil
	}
	out := make([]Event, len(t.events)-n)
	copy(out, t.events[n:])
	return out
}

// AppliedEvents returns the events after the latest Restarted.
func (t *Tracker) AppliedEvents() []Event {
	for i := len(t.events) - 1; i >= 0; i-- {
		if _, ok := t.events[i].(*Restarted); ok {
			return t.EventsSince(i + 1)
		}
	}
	return t.Events()
}

// SlotDeclarations returns the declared slots with their initial values.
func (t *Tracker) SlotDeclarations() []Slot {
	out := make([]Slot, len(t.slotDecls))
	for i, s := range t.slotDecls {
		out[i] = s.Declaration()
	}
	return out
}

// Slot returns the named slot.
func (t *Tracker) Slot(name string) (Slot, bool) {
	s, ok := t.slots[name]
	if !ok {
		return Slot{}, false
	}
	return *s, true
}

// SlotValue returns the value of the named slot or nil.
func (t *Tracker) SlotValue(name string) any {
	if s, ok := t.slots[name]; ok {
		return s.Value
	}
	return nil
}

// CurrentSlotValues returns every declared slot with its current value.
func (t *Tracker) CurrentSlotValues() map[string]any {
	out := make(map[string]any, len(t.slots))
	for name, s := range t.slots {
		out[name] = s.Value
	}
	return out
}

// SetSlot writes a slot value without logging an event. The value is not
// reproducible by replay; production code logs a SlotSet instead.
func (t *Tracker) SetSlot(name string, value any) {
	if s, ok := t.slots[name]; ok {
		s.Value = value
	}
}

// LatestMessage returns the most recent user utterance of the current
// session, or an empty utterance.
func (t *Tracker) LatestMessage() *UserUttered { return t.latestMessage }

// LatestMessageID returns the message id of the most recent user utterance.
func (t *Tracker) LatestMessageID() string { return t.latestMessageID }

// LatestActionName returns the name of the most recently executed action.
func (t *Tracker) LatestActionName() string { return t.latestActionName }

// ActionsSinceLatestMessage counts the actions executed after the most recent
// user utterance. Zero means the user turn still awaits a response.
func (t *Tracker) ActionsSinceLatestMessage() int { return t.actionsSinceUser }

// LatestBotUtterance returns the most recent bot utterance or nil.
func (t *Tracker) LatestBotUtterance() *BotUttered { return t.latestBotUtterance }

// FollowupAction returns the pending forced action or "".
func (t *Tracker) FollowupAction() string { return t.followupAction }

// ClearFollowupAction drops a pending forced action once it is consumed.
// It is a transient prediction flag; the next ActionExecuted clears it on
// replay as well.
func (t *Tracker) ClearFollowupAction() { t.followupAction = "" }

// IsPaused reports whether prediction is paused.
func (t *Tracker) IsPaused() bool { return t.paused }

// LatestSessionStart returns the timestamp of the most recent SessionStarted
// and false for a legacy tracker.
func (t *Tracker) LatestSessionStart() (time.Time, bool) {
	return t.sessionStart, !t.sessionStart.IsZero()
}

// Clone returns an independent copy sharing the immutable events.
func (t *Tracker) Clone() *Tracker {
	c := *t
	c.events = t.Events()
	c.slotDecls = t.SlotDeclarations()
	c.slots = make(map[string]*Slot, len(t.slots))
	for name, s := range t.slots {
		slot := *s
		c.slots[name] = &slot
	}
	return &c
}

func (t *Tracker) resetSlots() {
	for _, s := range t.slots {
		s.Reset()
	}
}

func (t *Tracker) resetProjection() {
	t.resetSlots()
	t.latestMessage = &UserUttered{}
	t.latestActionName = ""
	t.actionsSinceUser = 0
	t.latestBotUtterance = nil
	t.followupAction = ""
	t.paused = false
}

// projector applies the per-kind projection rules.
type projector struct{ t *Tracker }

func (p projector) VisitUserUttered(e *UserUttered) {
	p.t.latestMessage = e
	p.t.actionsSinceUser = 0
	if e.MessageID != "" {
		p.t.latestMessageID = e.MessageID
	}
	if p.t.followupAction == ActionListenName {
		p.t.followupAction = ""
	}
}

func (p projector) VisitBotUttered(e *BotUttered) { p.t.latestBotUtterance = e }

func (p projector) VisitActionExecuted(e *ActionExecuted) {
	p.t.latestActionName = e.ActionName
	p.t.actionsSinceUser++
	if p.t.followupAction == e.ActionName {
		p.t.followupAction = ""
	}
}

func (p projector) VisitSessionStarted(e *SessionStarted) {
	p.t.resetProjection()
	p.t.sessionStart = e.Timestamp
}

func (p projector) VisitRestarted(*Restarted) {
	p.t.resetProjection()
	p.t.followupAction = ActionSessionStartName
}

func (p projector) VisitFollowupAction(e *FollowupAction) { p.t.followupAction = e.ActionName }

func (projector) VisitReminderScheduled(*ReminderScheduled) {}

func (projector) VisitReminderCancelled(*ReminderCancelled) {}

func (p projector) VisitSlotSet(e *SlotSet) {
	if s, ok := p.t.slots[e.Key]; ok && s.Accepts(e.Value) {
		s.Value = NormalizeValue(e.Value)
	}
}

func (p projector) VisitAllSlotsReset(*AllSlotsReset) { p.t.resetSlots() }

func (p projector) VisitConversationPaused(*ConversationPaused) { p.t.paused = true }

func (p projector) VisitConversationResumed(*ConversationResumed) { p.t.paused = false }
