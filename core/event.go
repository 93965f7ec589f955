package core

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// EventType is the wire discriminator of an event kind.
type EventType string

const (
	EventTypeUserUttered         EventType = "user"
	EventTypeBotUttered          EventType = "bot"
	EventTypeActionExecuted      EventType = "action"
	EventTypeSessionStarted      EventType = "session_started"
	EventTypeRestarted           EventType = "restart"
	EventTypeFollowupAction      EventType = "followup"
	EventTypeReminderScheduled   EventType = "reminder"
	EventTypeReminderCancelled   EventType = "cancel_reminder"
	EventTypeSlotSet             EventType = "slot"
	EventTypeAllSlotsReset       EventType = "reset_slots"
	EventTypeConversationPaused  EventType = "pause"
	EventTypeConversationResumed EventType = "resume"
)

// EventMeta carries the fields shared by every event kind.
type EventMeta struct {
	Timestamp time.Time `json:"timestamp"`
	// MessageID correlates the event with the inbound message that caused it.
	MessageID string `json:"message_id,omitempty"`
}

// Meta gives access to the shared event fields.
func (m *EventMeta) Meta() *EventMeta { return m }

// Time returns the event timestamp.
func (m *EventMeta) Time() time.Time { return m.Timestamp }

// isEvent seals the Event interface to the kinds declared in this package.
func (*EventMeta) isEvent() {}

func newMeta() EventMeta { return EventMeta{Timestamp: time.Now().UTC()} }

// Event is one immutable entry of a conversation log. The set of kinds is
// closed: every kind implements Accept and every EventVisitor must handle all
// of them, so adding a kind breaks the build until each replay and handling
// site is updated.
type Event interface {
	Type() EventType
	Time() time.Time
	Meta() *EventMeta
	Accept(v EventVisitor)
	// Equal compares kind and semantic fields, ignoring timestamps and
	// message ids.
	Equal(other Event) bool
	isEvent()
}

// EventVisitor dispatches on the concrete event kind.
type EventVisitor interface {
	VisitUserUttered(e *UserUttered)
	VisitBotUttered(e *BotUttered)
	VisitActionExecuted(e *ActionExecuted)
	VisitSessionStarted(e *SessionStarted)
	VisitRestarted(e *Restarted)
	VisitFollowupAction(e *FollowupAction)
	VisitReminderScheduled(e *ReminderScheduled)
	VisitReminderCancelled(e *ReminderCancelled)
	VisitSlotSet(e *SlotSet)
	VisitAllSlotsReset(e *AllSlotsReset)
	VisitConversationPaused(e *ConversationPaused)
	VisitConversationResumed(e *ConversationResumed)
}

// UserUttered records an inbound user message together with its parse data.
type UserUttered struct {
	EventMeta
	Text         string       `json:"text"`
	ParseData    *ParseResult `json:"parse_data,omitempty"`
	InputChannel string       `json:"input_channel,omitempty"`
}

// NewUserUttered creates a user utterance event. parse may be nil.
func NewUserUttered(text string, parse *ParseResult, messageID string) *UserUttered {
	e := &UserUttered{EventMeta: newMeta(), Text: text, ParseData: parse}
	e.MessageID = messageID
	return e
}

// IntentName returns the parsed intent name or "".
func (e *UserUttered) IntentName() string {
	if e.ParseData == nil {
		return ""
	}
	return e.ParseData.Intent.Name
}

// Entities returns the parsed entities.
func (e *UserUttered) Entities() []Entity {
	if e.ParseData == nil {
		return nil
	}
	return e.ParseData.Entities
}

func (e *UserUttered) Type() EventType        { return EventTypeUserUttered }
func (e *UserUttered) Accept(v EventVisitor) { v.VisitUserUttered(e) }

func (e *UserUttered) Equal(other Event) bool {
	o, ok := other.(*UserUttered)
	if !ok {
		return false
	}
	return e.Text == o.Text && e.IntentName() == o.IntentName() && entitiesEqual(e.Entities(), o.Entities())
}

// BotData holds the rich fields of a bot utterance.
type BotData struct {
	Elements     any `json:"elements,omitempty"`
	Buttons      any `json:"buttons,omitempty"`
	QuickReplies any `json:"quick_replies,omitempty"`
	Attachment   any `json:"attachment,omitempty"`
	Image        any `json:"image,omitempty"`
	Custom       any `json:"custom,omitempty"`
}

// BotUttered records a message sent to the user.
type BotUttered struct {
	EventMeta
	Text string  `json:"text"`
	Data BotData `json:"data"`
}

// NewBotUttered creates a bot utterance event.
func NewBotUttered(text string, data BotData) *BotUttered {
	return &BotUttered{EventMeta: newMeta(), Text: text, Data: data}
}

func (e *BotUttered) Type() EventType        { return EventTypeBotUttered }
func (e *BotUttered) Accept(v EventVisitor) { v.VisitBotUttered(e) }

func (e *BotUttered) Equal(other Event) bool {
	o, ok := other.(*BotUttered)
	return ok && e.Text == o.Text && reflect.DeepEqual(e.Data, o.Data)
}

// ActionExecuted records that an action ran.
type ActionExecuted struct {
	EventMeta
	ActionName string   `json:"name"`
	Policy     string   `json:"policy,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// NewActionExecuted creates an action execution event.
func NewActionExecuted(name string) *ActionExecuted {
	return &ActionExecuted{EventMeta: newMeta(), ActionName: name}
}

func (e *ActionExecuted) Type() EventType        { return EventTypeActionExecuted }
func (e *ActionExecuted) Accept(v EventVisitor) { v.VisitActionExecuted(e) }

func (e *ActionExecuted) Equal(other Event) bool {
	o, ok := other.(*ActionExecuted)
	return ok && e.ActionName == o.ActionName
}

// SessionStarted marks the beginning of a conversation session.
type SessionStarted struct{ EventMeta }

// NewSessionStarted creates a session start marker stamped now.
func NewSessionStarted() *SessionStarted { return &SessionStarted{EventMeta: newMeta()} }

func (e *SessionStarted) Type() EventType        { return EventTypeSessionStarted }
func (e *SessionStarted) Accept(v EventVisitor) { v.VisitSessionStarted(e) }

func (e *SessionStarted) Equal(other Event) bool {
	_, ok := other.(*SessionStarted)
	return ok
}

// Restarted resets the conversation. Pending reminders are superseded.
type Restarted struct{ EventMeta }

// NewRestarted creates a restart event.
func NewRestarted() *Restarted { return &Restarted{EventMeta: newMeta()} }

func (e *Restarted) Type() EventType        { return EventTypeRestarted }
func (e *Restarted) Accept(v EventVisitor) { v.VisitRestarted(e) }

func (e *Restarted) Equal(other Event) bool {
	_, ok := other.(*Restarted)
	return ok
}

// FollowupAction forces the next action to run regardless of the policy.
type FollowupAction struct {
	EventMeta
	ActionName string `json:"name"`
}

// NewFollowupAction creates a followup event for the named action.
func NewFollowupAction(name string) *FollowupAction {
	return &FollowupAction{EventMeta: newMeta(), ActionName: name}
}

func (e *FollowupAction) Type() EventType        { return EventTypeFollowupAction }
func (e *FollowupAction) Accept(v EventVisitor) { v.VisitFollowupAction(e) }

func (e *FollowupAction) Equal(other Event) bool {
	o, ok := other.(*FollowupAction)
	return ok && e.ActionName == o.ActionName
}

// ReminderScheduled asks for ActionName to run at TriggerAt.
type ReminderScheduled struct {
	EventMeta
	ActionName string    `json:"action"`
	TriggerAt  time.Time `json:"date_time"`
	// Name identifies the reminder within its conversation; it is the handle
	// used for selective cancellation and for superseding.
	Name              string `json:"name"`
	KillOnUserMessage bool   `json:"kill_on_user_msg"`
}

// NewReminderScheduled creates a reminder. An empty name is replaced by a UUID.
func NewReminderScheduled(actionName string, triggerAt time.Time, name string, killOnUserMessage bool) *ReminderScheduled {
	if name == "" {
		name = uuid.NewString()
	}
	return &ReminderScheduled{
		EventMeta:         newMeta(),
		ActionName:        actionName,
		TriggerAt:         triggerAt,
		Name:              name,
		KillOnUserMessage: killOnUserMessage,
	}
}

func (e *ReminderScheduled) Type() EventType        { return EventTypeReminderScheduled }
func (e *ReminderScheduled) Accept(v EventVisitor) { v.VisitReminderScheduled(e) }

func (e *ReminderScheduled) Equal(other Event) bool {
	o, ok := other.(*ReminderScheduled)
	return ok && e.Name == o.Name && e.ActionName == o.ActionName && e.KillOnUserMessage == o.KillOnUserMessage
}

// SameReminder reports whether o is the very entry e was logged as. Unlike
// Equal it also compares the trigger time and the log timestamp, so a
// re-registration under the same name is a different reminder.
func (e *ReminderScheduled) SameReminder(o *ReminderScheduled) bool {
	return o != nil && e.Equal(o) && e.TriggerAt.Equal(o.TriggerAt) && e.Timestamp.Equal(o.Timestamp)
}

// ReminderCancelled cancels pending reminders of the same conversation.
// Name takes precedence over ActionName; with both empty every reminder of
// the conversation matches.
type ReminderCancelled struct {
	EventMeta
	Name       string `json:"name,omitempty"`
	ActionName string `json:"action,omitempty"`
}

// NewReminderCancelled creates a cancellation matching reminders by target
// action name.
func NewReminderCancelled(actionName string) *ReminderCancelled {
	return &ReminderCancelled{EventMeta: newMeta(), ActionName: actionName}
}

// NewReminderCancelledByName creates a cancellation matching one reminder name.
func NewReminderCancelledByName(name string) *ReminderCancelled {
	return &ReminderCancelled{EventMeta: newMeta(), Name: name}
}

// Matches reports whether the selector applies to the reminder.
func (e *ReminderCancelled) Matches(r *ReminderScheduled) bool {
	return MatchesReminder(e.Name, e.ActionName, r.Name, r.ActionName)
}

// MatchesReminder applies a cancellation selector to a reminder identity.
func MatchesReminder(selName, selAction, name, action string) bool {
	switch {
	case selName != "":
		return selName == name
	case selAction != "":
		return selAction == action
	default:
		return true
	}
}

func (e *ReminderCancelled) Type() EventType        { return EventTypeReminderCancelled }
func (e *ReminderCancelled) Accept(v EventVisitor) { v.VisitReminderCancelled(e) }

func (e *ReminderCancelled) Equal(other Event) bool {
	o, ok := other.(*ReminderCancelled)
	return ok && e.Name == o.Name && e.ActionName == o.ActionName
}

// SlotSet assigns a slot value.
type SlotSet struct {
	EventMeta
	Key   string `json:"name"`
	Value any    `json:"value"`
}

// NewSlotSet creates a slot assignment. The value is normalized with
// NormalizeValue so it survives a trip through the codec unchanged.
func NewSlotSet(key string, value any) *SlotSet {
	return &SlotSet{EventMeta: newMeta(), Key: key, Value: NormalizeValue(value)}
}

func (e *SlotSet) Type() EventType        { return EventTypeSlotSet }
func (e *SlotSet) Accept(v EventVisitor) { v.VisitSlotSet(e) }

func (e *SlotSet) Equal(other Event) bool {
	o, ok := other.(*SlotSet)
	return ok && e.Key == o.Key && reflect.DeepEqual(NormalizeValue(e.Value), NormalizeValue(o.Value))
}

// AllSlotsReset resets every slot to its initial value.
type AllSlotsReset struct{ EventMeta }

// NewAllSlotsReset creates a slot reset event.
func NewAllSlotsReset() *AllSlotsReset { return &AllSlotsReset{EventMeta: newMeta()} }

func (e *AllSlotsReset) Type() EventType        { return EventTypeAllSlotsReset }
func (e *AllSlotsReset) Accept(v EventVisitor) { v.VisitAllSlotsReset(e) }

func (e *AllSlotsReset) Equal(other Event) bool {
	_, ok := other.(*AllSlotsReset)
	return ok
}

// ConversationPaused stops action prediction until resumed.
type ConversationPaused struct{ EventMeta }

// NewConversationPaused creates a pause event.
func NewConversationPaused() *ConversationPaused {
	return &ConversationPaused{EventMeta: newMeta()}
}

func (e *ConversationPaused) Type() EventType        { return EventTypeConversationPaused }
func (e *ConversationPaused) Accept(v EventVisitor) { v.VisitConversationPaused(e) }

func (e *ConversationPaused) Equal(other Event) bool {
	_, ok := other.(*ConversationPaused)
	return ok
}

// ConversationResumed re-enables action prediction.
type ConversationResumed struct{ EventMeta }

// NewConversationResumed creates a resume event.
func NewConversationResumed() *ConversationResumed {
	return &ConversationResumed{EventMeta: newMeta()}
}

func (e *ConversationResumed) Type() EventType        { return EventTypeConversationResumed }
func (e *ConversationResumed) Accept(v EventVisitor) { v.VisitConversationResumed(e) }

func (e *ConversationResumed) Equal(other Event) bool {
	_, ok := other.(*ConversationResumed)
	return ok
}

// EventsEqual compares two event sequences with Event.Equal.
func EventsEqual(a, b []Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// ContainsEvent reports whether any event in events equals e.
func ContainsEvent(events []Event, e Event) bool {
	for _, ev := range events {
		if ev.Equal(e) {
			return true
		}
	}
	return false
}

func entitiesEqual(a, b []Entity) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Entity != b[i].Entity || !reflect.DeepEqual(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}

// NewID generates a new unique identifier.
func NewID() string { return uuid.NewString() }
