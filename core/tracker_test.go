package core

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSlots() []Slot {
	name := NewSlot("name", SlotTypeText)
	lang := NewSlot("language", SlotTypeCategorical)
	lang.Values = []string{"en", "de"}
	lang.InitialValue = "en"
	age := NewSlot("age", SlotTypeAny)
	prefs := NewSlot("preferences", SlotTypeAny)
	return []Slot{name, lang, age, prefs}
}

func sampleEvents() []Event {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []Event{
		NewSessionStarted(),
		NewActionExecuted(ActionListenName),
		NewUserUttered("hi, I'm Ada", &ParseResult{
			Text:     "hi, I'm Ada",
			Intent:   Intent{Name: "greet", Confidence: 0.9},
			Entities: []Entity{{Entity: "name", Value: "Ada", Start: 8, End: 11}},
		}, "m-1"),
		NewSlotSet("name", "Ada"),
		NewSlotSet("language", "de"),
		NewSlotSet("language", "fr"),
		&SlotSet{Key: "age", Value: 3},
		&SlotSet{Key: "preferences", Value: map[string]int{"spicy": 2}},
		NewSlotSet("undeclared", "ignored"),
		NewActionExecuted("utter_greet"),
		NewBotUttered("Hallo Ada", BotData{Buttons: []any{"ok"}}),
		NewReminderScheduled("utter_remind", at, "r1", true),
		NewReminderCancelledByName("r1"),
		NewConversationPaused(),
	}
}

func TestTracker_ReplayDeterminism(t *testing.T) {
	events := sampleEvents()
	a := TrackerFromEvents("s1", events, testSlots())
	b := TrackerFromEvents("s1", events, testSlots())

	if diff := cmp.Diff(a.CurrentSlotValues(), b.CurrentSlotValues()); diff != "" {
		t.Fatalf("slot projection differs (-a +b):\n%s", diff)
	}
	startA, okA := a.LatestSessionStart()
	startB, okB := b.LatestSessionStart()
	assert.True(t, okA)
	assert.Equal(t, okA, okB)
	assert.True(t, startA.Equal(startB))
	assert.Equal(t, "m-1", a.LatestMessageID())
	assert.Equal(t, a.LatestMessageID(), b.LatestMessageID())
	assert.Equal(t, "utter_greet", a.LatestActionName())
	assert.True(t, a.IsPaused())
	assert.Equal(t, "Ada", a.SlotValue("name"))
	assert.Equal(t, "de", a.SlotValue("language"))
	assert.Nil(t, a.SlotValue("undeclared"))
}

func TestTracker_RoundTrip(t *testing.T) {
	original := TrackerFromEvents("s1", sampleEvents(), testSlots())
	data, err := original.Serialize()
	require.NoError(t, err)

	restored, err := TrackerFromDict("s1", data, testSlots())
	require.NoError(t, err)

	assert.True(t, EventsEqual(original.Events(), restored.Events()))
	for i, e := range original.Events() {
		assert.True(t, e.Time().Equal(restored.Events()[i].Time()), "timestamp %d", i)
		assert.Equal(t, e.Meta().MessageID, restored.Events()[i].Meta().MessageID)
	}
	if diff := cmp.Diff(original.CurrentSlotValues(), restored.CurrentSlotValues()); diff != "" {
		t.Fatalf("slots differ after round trip (-want +got):\n%s", diff)
	}
	wantStart, _ := original.LatestSessionStart()
	gotStart, ok := restored.LatestSessionStart()
	assert.True(t, ok)
	assert.True(t, wantStart.Equal(gotStart))
	assert.Equal(t, original.IsPaused(), restored.IsPaused())
	assert.Equal(t, 3.0, restored.SlotValue("age"))
	assert.Equal(t, map[string]any{"spicy": 2.0}, restored.SlotValue("preferences"))
}

func TestTracker_SlotValuesKeepTheirTypeAcrossStorage(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"int", 3, 3.0},
		{"int64", int64(7), 7.0},
		{"float", 1.5, 1.5},
		{"string slice", []string{"a", "b"}, []any{"a", "b"}},
		{"typed map", map[string]int{"x": 1}, map[string]any{"x": 1.0}},
		{"struct", struct {
			City string `json:"city"`
		}{"Berlin"}, map[string]any{"city": "Berlin"}},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := []Event{NewSessionStarted(), &SlotSet{Key: "age", Value: tt.value}}
			inMemory := TrackerFromEvents("s1", events, testSlots())
			data, err := inMemory.Serialize()
			require.NoError(t, err)
			stored, err := TrackerFromDict("s1", data, testSlots())
			require.NoError(t, err)

			if diff := cmp.Diff(inMemory.CurrentSlotValues(), stored.CurrentSlotValues()); diff != "" {
				t.Fatalf("projection differs (-memory +storage):\n%s", diff)
			}
			assert.Equal(t, tt.want, stored.SlotValue("age"))
			assert.True(t, events[1].Equal(stored.Events()[1]))
		})
	}
}

func TestTracker_CategoricalSlotIgnoresUnknownValues(t *testing.T) {
	tr := NewTracker("s1", testSlots())
	tr.Update(NewSlotSet("language", "de"))
	tr.Update(NewSlotSet("language", "fr"))
	tr.Update(NewSlotSet("language", 1))

	assert.Equal(t, "de", tr.SlotValue("language"))
	assert.Equal(t, 3, tr.Len())
}

func TestTrackerFromDict_Empty(t *testing.T) {
	tr, err := TrackerFromDict("s1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, tr.Len())
	_, ok := tr.LatestSessionStart()
	assert.False(t, ok)
}

func TestTracker_SessionStartedResetsSlots(t *testing.T) {
	tr := NewTracker("s1", testSlots())
	tr.Update(NewSlotSet("name", "Ada"))
	tr.Update(NewSlotSet("language", "de"))
	tr.Update(NewSessionStarted())

	assert.Nil(t, tr.SlotValue("name"))
	assert.Equal(t, "en", tr.SlotValue("language"))
}

func TestTracker_RestartedSetsSessionStartFollowup(t *testing.T) {
	tr := NewTracker("s1", testSlots())
	tr.Update(NewSessionStarted())
	tr.Update(NewSlotSet("name", "Ada"))
	tr.Update(NewConversationPaused())
	tr.Update(NewRestarted())

	assert.Nil(t, tr.SlotValue("name"))
	assert.False(t, tr.IsPaused())
	assert.Equal(t, ActionSessionStartName, tr.FollowupAction())

	tr.Update(NewActionExecuted(ActionSessionStartName))
	assert.Empty(t, tr.FollowupAction())
}

func TestTracker_UserUtteredClearsListenFollowup(t *testing.T) {
	tr := NewTracker("s1", nil)
	tr.Update(NewFollowupAction(ActionListenName))
	assert.Equal(t, ActionListenName, tr.FollowupAction())

	tr.Update(NewUserUttered("hi", nil, ""))
	assert.Empty(t, tr.FollowupAction())

	tr.Update(NewFollowupAction("utter_greet"))
	tr.Update(NewUserUttered("again", nil, ""))
	assert.Equal(t, "utter_greet", tr.FollowupAction())
}

func TestTracker_AppliedEvents(t *testing.T) {
	tr := NewTracker("s1", nil)
	tr.Update(NewUserUttered("before", nil, ""))
	tr.Update(NewRestarted())
	tr.Update(NewUserUttered("after", nil, ""))

	applied := tr.AppliedEvents()
	require.Len(t, applied, 1)
	assert.Equal(t, "after", applied[0].(*UserUttered).Text)

	plain := NewTracker("s2", nil)
	plain.Update(NewUserUttered("only", nil, ""))
	assert.Len(t, plain.AppliedEvents(), 1)
}

func TestTracker_UpdateStampsZeroTimestamp(t *testing.T) {
	tr := NewTracker("s1", nil)
	tr.Update(&SessionStarted{})
	start, ok := tr.LatestSessionStart()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), start, time.Minute)
}

func TestTracker_CloneIsolation(t *testing.T) {
	tr := NewTracker("s1", testSlots())
	tr.Update(NewSlotSet("name", "Ada"))

	clone := tr.Clone()
	clone.Update(NewSlotSet("name", "Grace"))

	assert.Equal(t, "Ada", tr.SlotValue("name"))
	assert.Equal(t, "Grace", clone.SlotValue("name"))
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, 2, clone.Len())
}

func TestTracker_EventsSince(t *testing.T) {
	tr := TrackerFromEvents("s1", sampleEvents(), nil)
	n := tr.Len()
	assert.Nil(t, tr.EventsSince(n))
	tr.Update(NewActionExecuted(ActionListenName))
	assert.Len(t, tr.EventsSince(n), 1)
}

func TestEventEqualityIgnoresTimestampAndMessageID(t *testing.T) {
	a := NewUserUttered("hi", &ParseResult{Intent: Intent{Name: "greet"}}, "m-1")
	b := NewUserUttered("hi", &ParseResult{Intent: Intent{Name: "greet"}}, "m-2")
	b.Timestamp = a.Timestamp.Add(time.Hour)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(NewUserUttered("hi", nil, "m-1")))
	assert.False(t, NewActionExecuted("a").Equal(NewFollowupAction("a")))
	assert.True(t, ContainsEvent([]Event{NewSessionStarted(), NewActionExecuted("x")}, NewActionExecuted("x")))
}

func TestReminderCancelled_Matches(t *testing.T) {
	r := NewReminderScheduled("utter_remind", time.Now(), "r1", false)
	other := NewReminderScheduled("utter_other", time.Now(), "r2", false)

	byName := NewReminderCancelledByName("r1")
	assert.True(t, byName.Matches(r))
	assert.False(t, byName.Matches(other))

	byAction := NewReminderCancelled("utter_other")
	assert.False(t, byAction.Matches(r))
	assert.True(t, byAction.Matches(other))

	all := &ReminderCancelled{}
	assert.True(t, all.Matches(r))
	assert.True(t, all.Matches(other))
}

func TestNewReminderScheduled_DefaultName(t *testing.T) {
	a := NewReminderScheduled("utter_remind", time.Now(), "", false)
	b := NewReminderScheduled("utter_remind", time.Now(), "", false)
	assert.NotEmpty(t, a.Name)
	assert.NotEqual(t, a.Name, b.Name)
}

func TestSlot_Accepts(t *testing.T) {
	slots := testSlots()
	assert.True(t, slots[0].Accepts(42))
	assert.True(t, slots[1].Accepts("de"))
	assert.False(t, slots[1].Accepts("fr"))
	assert.False(t, slots[1].Accepts(1))
}
