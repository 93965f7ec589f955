package action

import (
	"context"
	"reflect"

	"github.com/hupe1980/convoflow/core"
)

// Names of the built-in actions.
const (
	ListenName          = core.ActionListenName
	SessionStartName    = core.ActionSessionStartName
	RestartName         = core.ActionRestartName
	DefaultFallbackName = "action_default_fallback"
)

// Listen does nothing; executing it ends the prediction loop.
type Listen struct{}

// Name implements core.Action.
func (Listen) Name() string { return ListenName }

// Run implements core.Action.
func (Listen) Run(context.Context, core.OutputChannel, core.NaturalLanguageGenerator, *core.Tracker, core.Domain) ([]core.Event, error) {
	return nil, nil
}

// SessionStart opens a new session. With carry-over enabled in the domain's
// session config, slot values of the previous session are re-applied.
type SessionStart struct{}

// Name implements core.Action.
func (SessionStart) Name() string { return SessionStartName }

// Run implements core.Action.
func (SessionStart) Run(_ context.Context, _ core.OutputChannel, _ core.NaturalLanguageGenerator, tracker *core.Tracker, domain core.Domain) ([]core.Event, error) {
	events := []core.Event{core.NewSessionStarted()}
	if domain != nil && domain.SessionConfig().CarryOverSlots {
		events = append(events, carriedSlots(tracker)...)
	}
	return append(events, core.NewFollowupAction(ListenName)), nil
}

// carriedSlots returns a SlotSet for every slot whose value differs from its
// initial value, in declaration order.
func carriedSlots(tracker *core.Tracker) []core.Event {
	var out []core.Event
	for _, decl := range tracker.SlotDeclarations() {
		s, ok := tracker.Slot(decl.Name)
		if !ok || s.Value == nil || reflect.DeepEqual(s.Value, decl.InitialValue) {
			continue
		}
		out = append(out, core.NewSlotSet(s.Name, s.Value))
	}
	return out
}

// Restart utters utter_restart when declared and resets the conversation.
type Restart struct{}

// Name implements core.Action.
func (Restart) Name() string { return RestartName }

// Run implements core.Action.
func (Restart) Run(ctx context.Context, output core.OutputChannel, nlg core.NaturalLanguageGenerator, tracker *core.Tracker, _ core.Domain) ([]core.Event, error) {
	events, err := utter(ctx, "utter_restart", output, nlg, tracker)
	if err != nil {
		return nil, err
	}
	return append(events, core.NewRestarted()), nil
}

// DefaultFallback utters utter_default when declared.
type DefaultFallback struct{}

// Name implements core.Action.
func (DefaultFallback) Name() string { return DefaultFallbackName }

// Run implements core.Action.
func (DefaultFallback) Run(ctx context.Context, output core.OutputChannel, nlg core.NaturalLanguageGenerator, tracker *core.Tracker, _ core.Domain) ([]core.Event, error) {
	return utter(ctx, "utter_default", output, nlg, tracker)
}
