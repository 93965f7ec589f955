package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/domain"
	"github.com/hupe1980/convoflow/nlg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testDomain = `
slots:
  name:
    type: text
  mood:
    type: text
    initial_value: neutral
responses:
  utter_greet:
    - text: "hey there {{ .name }}!"
  utter_restart:
    - text: "starting over"
session_config:
  session_expiration_time: 60
  carry_over_slots_to_new_session: true
`

func fixture(t *testing.T) (*domain.Domain, core.NaturalLanguageGenerator, *core.CollectingOutputChannel) {
	t.Helper()
	d, err := domain.Parse([]byte(testDomain))
	require.NoError(t, err)
	return d, nlg.NewTemplates(d, func(o *nlg.Options) { o.Pick = func(int) int { return 0 } }), core.NewCollectingOutputChannel()
}

func TestSessionStart_CarriesSlots(t *testing.T) {
	d, gen, out := fixture(t)
	tracker := core.NewTracker("s1", d.Slots())
	tracker.Update(core.NewSlotSet("name", "Ada"))

	events, err := SessionStart{}.Run(context.Background(), out, gen, tracker, d)
	require.NoError(t, err)
	assert.True(t, core.EventsEqual([]core.Event{
		core.NewSessionStarted(),
		core.NewSlotSet("name", "Ada"),
		core.NewFollowupAction(ListenName),
	}, events))
}

func TestSessionStart_NoCarryOver(t *testing.T) {
	tracker := core.NewTracker("s1", []core.Slot{core.NewSlot("name", core.SlotTypeText)})
	tracker.Update(core.NewSlotSet("name", "Ada"))

	events, err := SessionStart{}.Run(context.Background(), nil, nil, tracker, domain.Empty())
	require.NoError(t, err)
	assert.True(t, core.EventsEqual([]core.Event{core.NewSessionStarted(), core.NewFollowupAction(ListenName)}, events))
}

func TestResponse_SendsAndLogs(t *testing.T) {
	d, gen, out := fixture(t)
	tracker := core.NewTracker("s1", d.Slots())
	tracker.Update(core.NewSlotSet("name", "Core"))

	events, err := NewResponse("utter_greet").Run(context.Background(), out, gen, tracker, d)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "hey there Core!", events[0].(*core.BotUttered).Text)
	assert.Equal(t, &core.BotMessage{RecipientID: "s1", Text: "hey there Core!"}, out.LatestOutput())
}

func TestResponse_Missing(t *testing.T) {
	d, gen, out := fixture(t)
	events, err := NewResponse("utter_nothing").Run(context.Background(), out, gen, core.NewTracker("s1", nil), d)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, out.Messages())
}

func TestRestart(t *testing.T) {
	d, gen, out := fixture(t)
	events, err := Restart{}.Run(context.Background(), out, gen, core.NewTracker("s1", nil), d)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.IsType(t, &core.BotUttered{}, events[0])
	assert.IsType(t, &core.Restarted{}, events[1])
}

type mockOutput struct{ mock.Mock }

func (m *mockOutput) Name() string { return "mock" }

func (m *mockOutput) SendResponse(ctx context.Context, msg core.BotMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func TestResponse_SendError(t *testing.T) {
	d, gen, _ := fixture(t)
	out := &mockOutput{}
	out.On("SendResponse", mock.Anything, mock.Anything).Return(errors.New("offline"))

	_, err := NewResponse("utter_greet").Run(context.Background(), out, gen, core.NewTracker("s1", d.Slots()), d)
	assert.ErrorContains(t, err, "offline")
	out.AssertExpectations(t)
}

func TestFuncAction(t *testing.T) {
	d, gen, out := fixture(t)
	at := time.Now().Add(time.Hour)
	remind := NewFunc("action_set_reminder", func(_ context.Context, dispatcher *Dispatcher, _ *core.Tracker, _ core.Domain) ([]core.Event, error) {
		dispatcher.Utter("I will remind you.")
		return []core.Event{core.NewReminderScheduled("utter_greet", at, "greet_later", true)}, nil
	})

	events, err := remind.Run(context.Background(), out, gen, core.NewTracker("s1", nil), d)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "I will remind you.", events[0].(*core.BotUttered).Text)
	assert.Equal(t, "greet_later", events[1].(*core.ReminderScheduled).Name)
	assert.Len(t, out.Messages(), 1)
}

func TestRegistry(t *testing.T) {
	custom := NewFunc("action_custom", func(context.Context, *Dispatcher, *core.Tracker, core.Domain) ([]core.Event, error) {
		return nil, nil
	})
	r := NewRegistry(custom)

	a, err := r.Get(ListenName)
	require.NoError(t, err)
	assert.Equal(t, ListenName, a.Name())

	a, err = r.Get("utter_anything")
	require.NoError(t, err)
	assert.IsType(t, &Response{}, a)

	a, err = r.Get("action_custom")
	require.NoError(t, err)
	assert.Same(t, custom, a)

	_, err = r.Get("action_unknown")
	assert.ErrorIs(t, err, core.ErrActionNotFound)

	assert.Contains(t, r.Names(), DefaultFallbackName)
}
