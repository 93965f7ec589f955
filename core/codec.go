package core

import (
	"encoding/json"
	"fmt"
	"strconv"
)

const eventKey = "event"

// NormalizeValue returns v in the shape the codec decodes it to: numbers
// become float64, structs and typed maps become map[string]any, slices
// become []any. Values that cannot be encoded are returned unchanged.
func NormalizeValue(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// newEventOfType allocates an empty event for a wire discriminator.
func newEventOfType(t EventType) (Event, error) {
	switch t {
	case EventTypeUserUttered:
		return &UserUttered{}, nil
	case EventTypeBotUttered:
		return &BotUttered{}, nil
	case EventTypeActionExecuted:
		return &ActionExecuted{}, nil
	case EventTypeSessionStarted:
		return &SessionStarted{}, nil
	case EventTypeRestarted:
		return &Restarted{}, nil
	case EventTypeFollowupAction:
		return &FollowupAction{}, nil
	case EventTypeReminderScheduled:
		return &ReminderScheduled{}, nil
	case EventTypeReminderCancelled:
		return &ReminderCancelled{}, nil
	case EventTypeSlotSet:
		return &SlotSet{}, nil
	case EventTypeAllSlotsReset:
		return &AllSlotsReset{}, nil
	case EventTypeConversationPaused:
		return &ConversationPaused{}, nil
	case EventTypeConversationResumed:
		return &ConversationResumed{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

// MarshalEvent encodes an event as a flat JSON object with an "event"
// discriminator.
func MarshalEvent(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Type(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Type(), err)
	}
	fields[eventKey] = json.RawMessage(strconv.Quote(string(e.Type())))
	return json.Marshal(fields)
}

// UnmarshalEvent decodes an event produced by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var head struct {
		Event EventType `json:"event"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	e, err := newEventOfType(head.Event)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Event, err)
	}
	return e, nil
}

// MarshalEvents encodes an ordered event log as a JSON array.
func MarshalEvents(events []Event) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(events))
	for _, e := range events {
		b, err := MarshalEvent(e)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return json.Marshal(raw)
}

// UnmarshalEvents decodes a JSON array produced by MarshalEvents. Empty input
// yields an empty log.
func UnmarshalEvents(data []byte) ([]Event, error) {
	if len(data) == 0 {
		return []Event{}, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode event log: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for i, r := range raw {
		e, err := UnmarshalEvent(r)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}
