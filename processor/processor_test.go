package processor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/convoflow/action"
	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/domain"
	"github.com/hupe1980/convoflow/internal/testutil"
	"github.com/hupe1980/convoflow/interpreter"
	"github.com/hupe1980/convoflow/nlg"
	"github.com/hupe1980/convoflow/policy"
	"github.com/hupe1980/convoflow/scheduler"
	"github.com/hupe1980/convoflow/trackerstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testDomain = `
intents:
  - greet
  - goodbye
entities:
  - name
slots:
  name:
    type: text
responses:
  utter_greet:
    - text: "hey there {{ .name }}!"
  utter_goodbye:
    - text: "bye"
`

type fixture struct {
	proc   *MessageProcessor
	store  *trackerstore.InMemory
	sched  *scheduler.Scheduler
	domain *domain.Domain
	output *core.CollectingOutputChannel
	sink   *core.CollectingSink
}

func newFixture(t *testing.T, optFns ...func(o *Options)) *fixture {
	t.Helper()
	d, err := domain.Parse([]byte(testDomain))
	require.NoError(t, err)

	f := &fixture{
		store:  trackerstore.NewInMemory(func(o *trackerstore.Options) { o.Slots = d.Slots() }),
		sched:  scheduler.New(),
		domain: d,
		output: core.NewCollectingOutputChannel(),
		sink:   &core.CollectingSink{},
	}
	t.Cleanup(func() { _ = f.sched.Stop(context.Background()) })

	interp := core.InterpreterFunc(func(_ context.Context, text, _ string, _ *core.Tracker) (*core.ParseResult, error) {
		return &core.ParseResult{Text: text}, nil
	})
	opts := append([]func(o *Options){func(o *Options) {
		o.Scheduler = f.sched
		o.Diagnostics = f.sink
	}}, optFns...)
	f.proc = New(interp, policy.NewMapping(map[string]string{"greet": "utter_greet", "goodbye": "utter_goodbye"}), d, f.store, nlg.NewTemplates(d), opts...)
	return f
}

func (f *fixture) retrieve(t *testing.T, senderID string) *core.Tracker {
	t.Helper()
	tr, err := f.store.Retrieve(context.Background(), senderID)
	require.NoError(t, err)
	return tr
}

func TestMessageProcessor_HandleMessage(t *testing.T) {
	f := newFixture(t)

	out, err := f.proc.HandleMessage(context.Background(), core.NewUserMessage(`/greet{"name":"Core"}`, f.output, ""))
	require.NoError(t, err)

	want := &core.BotMessage{RecipientID: "default", Text: "hey there Core!"}
	assert.Equal(t, want, f.output.LatestOutput())
	assert.Equal(t, []core.BotMessage{*want}, out)

	tr := f.retrieve(t, core.DefaultSenderID)
	assert.Equal(t, []core.EventType{
		core.EventTypeSessionStarted,
		core.EventTypeActionExecuted,
		core.EventTypeActionExecuted,
		core.EventTypeSessionStarted,
		core.EventTypeFollowupAction,
		core.EventTypeUserUttered,
		core.EventTypeSlotSet,
		core.EventTypeActionExecuted,
		core.EventTypeBotUttered,
		core.EventTypeActionExecuted,
	}, testutil.EventTypes(tr.Events()))
	assert.Equal(t, []string{
		action.ListenName, action.SessionStartName, "utter_greet", action.ListenName,
	}, testutil.ActionNames(tr.Events()))
	assert.Equal(t, "Core", tr.SlotValue("name"))
}

func TestMessageProcessor_MessageIDLogging(t *testing.T) {
	f := newFixture(t)
	msg := core.NewUserMessage("If Meg was an egg would she still have a leg?", nil, "1")

	tr, err := f.proc.LogMessage(context.Background(), msg)
	require.NoError(t, err)

	events := tr.Events()
	logged, ok := events[len(events)-1].(*core.UserUttered)
	require.True(t, ok)
	assert.NotEmpty(t, logged.MessageID)
	assert.Equal(t, msg.MessageID, logged.MessageID)
	assert.Equal(t, msg.MessageID, f.retrieve(t, "1").LatestMessageID())
}

func TestMessageProcessor_Parsing(t *testing.T) {
	f := newFixture(t)

	parsed, err := f.proc.ParseMessage(context.Background(), core.NewUserMessage(`/greet{"name": "boy"}`, nil, ""), nil)
	require.NoError(t, err)
	assert.Equal(t, "greet", parsed.Intent.Name)
	require.NotEmpty(t, parsed.Entities)
	assert.Equal(t, "name", parsed.Entities[0].Entity)
}

func TestMessageProcessor_LogUnseenFeatures(t *testing.T) {
	f := newFixture(t)

	parsed, err := f.proc.ParseMessage(context.Background(), core.NewUserMessage(`/dislike{"test_entity": "RASA"}`, nil, ""), nil)
	require.NoError(t, err)
	f.proc.LogUnseenFeatures(parsed)

	records := f.sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "Interpreter parsed an intent 'dislike' that is not defined in the domain.", records[0].Message)
	assert.Equal(t, core.DiagnosticUnseenIntent, records[0].Kind)
	assert.Equal(t, "Interpreter parsed an entity 'test_entity' that is not defined in the domain.", records[1].Message)
	assert.Equal(t, core.DiagnosticUnseenEntity, records[1].Kind)
}

func TestMessageProcessor_LogUnseenFeaturesDeduplicatesEntities(t *testing.T) {
	f := newFixture(t)
	f.proc.LogUnseenFeatures(&core.ParseResult{
		Intent: core.Intent{Name: ""},
		Entities: []core.Entity{
			{Entity: "city"}, {Entity: "name"}, {Entity: "city"},
		},
	})

	records := f.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "city", records[0].Name)
}

func TestMessageProcessor_DefaultIntentRecognized(t *testing.T) {
	f := newFixture(t)

	parsed, err := f.proc.ParseMessage(context.Background(), core.NewUserMessage("/restart", nil, ""), nil)
	require.NoError(t, err)
	f.proc.LogUnseenFeatures(parsed)
	assert.Empty(t, f.sink.Records())
}

func TestMessageProcessor_HTTPParsing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/model/parse", r.URL.Path)
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	proc := New(interpreter.NewHTTP(srv.URL), nil, nil, nil, nil)
	_, err := proc.ParseMessage(context.Background(), core.NewUserMessage("lunch?", nil, ""), nil)

	assert.ErrorIs(t, err, core.ErrParse)
	assert.Equal(t, int32(1), hits.Load())
}

func TestMessageProcessor_ParsingWithTracker(t *testing.T) {
	tr, err := core.TrackerFromDict("1", nil, []core.Slot{core.NewSlot("requested_language", core.SlotTypeText)})
	require.NoError(t, err)
	tr.SetSlot("requested_language", "en")

	interp := core.InterpreterFunc(func(_ context.Context, text, _ string, tracker *core.Tracker) (*core.ParseResult, error) {
		return &core.ParseResult{
			Text:  text,
			Extra: map[string]any{"requested_language": tracker.SlotValue("requested_language")},
		}, nil
	})
	proc := New(interp, nil, nil, nil, nil)

	parsed, err := proc.ParseMessage(context.Background(), core.NewUserMessage("lunch?", nil, "1"), tr)
	require.NoError(t, err)
	assert.Equal(t, "en", parsed.Extra["requested_language"])
}

func TestMessageProcessor_ParseFailureSavesNothing(t *testing.T) {
	d := domain.Empty()
	store := trackerstore.NewInMemory()
	failing := core.InterpreterFunc(func(context.Context, string, string, *core.Tracker) (*core.ParseResult, error) {
		return nil, errors.New("nlu down")
	})
	proc := New(failing, nil, d, store, nil)

	_, err := proc.HandleMessage(context.Background(), core.NewUserMessage("hello", nil, "s1"))
	assert.ErrorIs(t, err, core.ErrParse)

	_, err = store.Retrieve(context.Background(), "s1")
	assert.ErrorIs(t, err, core.ErrTrackerNotFound)
}

func TestMessageProcessor_NilParseResult(t *testing.T) {
	proc := New(core.InterpreterFunc(func(context.Context, string, string, *core.Tracker) (*core.ParseResult, error) {
		return nil, nil
	}), nil, nil, nil, nil)

	_, err := proc.ParseMessage(context.Background(), core.NewUserMessage("hello", nil, ""), nil)
	assert.ErrorIs(t, err, core.ErrParse)
}

func TestMessageProcessor_ConfigurationErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.HandleMessage(context.Background(), core.UserMessage{Text: "hi"})
	assert.ErrorIs(t, err, core.ErrConfiguration)

	noDomain := New(core.InterpreterFunc(nil), nil, nil, f.store, nil)
	_, err = noDomain.HandleMessage(context.Background(), core.NewUserMessage("hi", nil, "s1"))
	assert.ErrorIs(t, err, core.ErrConfiguration)

	noInterpreter := New(nil, nil, f.domain, f.store, nil)
	_, err = noInterpreter.HandleMessage(context.Background(), core.NewUserMessage("hi", nil, "s1"))
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

type failingStore struct {
	*trackerstore.InMemory
}

func (failingStore) Save(context.Context, *core.Tracker) error { return errors.New("disk full") }

func TestMessageProcessor_SaveFailure(t *testing.T) {
	f := newFixture(t)
	proc := New(f.proc.interpreter, nil, f.domain, failingStore{trackerstore.NewInMemory()}, nil)

	_, err := proc.HandleMessage(context.Background(), core.NewUserMessage("hi", nil, "s1"))
	assert.ErrorIs(t, err, core.ErrPersistence)
}

func TestMessageProcessor_PausedConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, testutil.NewTrackerBuilder("s1").SessionStarted().Listen().Event(core.NewConversationPaused()).Build()))

	out, err := f.proc.HandleMessage(ctx, core.NewUserMessage(`/greet{"name":"Core"}`, f.output, "s1"))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NotContains(t, testutil.ActionNames(f.retrieve(t, "s1").Events()), "utter_greet")

	_, err = f.proc.HandleMessage(ctx, core.NewUserMessage("/restart", f.output, "s1"))
	require.NoError(t, err)
	tr := f.retrieve(t, "s1")
	assert.Contains(t, testutil.ActionNames(tr.Events()), action.RestartName)
	assert.False(t, tr.IsPaused())
}

func TestMessageProcessor_CircuitBreaker(t *testing.T) {
	var breaks atomic.Int32
	f := newFixture(t, func(o *Options) {
		o.MaxNumberOfPredictions = 3
		o.OnCircuitBreak = func(*core.Tracker) { breaks.Add(1) }
	})
	f.proc.policy = core.PolicyFunc(func(context.Context, *core.Tracker, core.Domain) (core.Prediction, error) {
		return core.Prediction{ActionName: "utter_goodbye", PolicyName: "loop", Confidence: 1}, nil
	})

	out, err := f.proc.HandleMessage(context.Background(), core.NewUserMessage("bye", f.output, "s1"))
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, int32(1), breaks.Load())
}

func TestMessageProcessor_PredictNextAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr := testutil.NewTrackerBuilder("s1").SessionStarted().Event(core.NewFollowupAction("utter_goodbye")).Build()
	a, pred, err := f.proc.PredictNextAction(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, "utter_goodbye", a.Name())
	assert.Equal(t, "followup", pred.PolicyName)
	assert.Empty(t, tr.FollowupAction())

	noPolicy := New(nil, nil, f.domain, f.store, nil)
	a, _, err = noPolicy.PredictNextAction(ctx, testutil.NewTrackerBuilder("s1").User("hi", "greet").Build())
	require.NoError(t, err)
	assert.Equal(t, action.ListenName, a.Name())

	f.proc.policy = core.PolicyFunc(func(context.Context, *core.Tracker, core.Domain) (core.Prediction, error) {
		return core.Prediction{ActionName: "action_unknown"}, nil
	})
	_, _, err = f.proc.PredictNextAction(ctx, testutil.NewTrackerBuilder("s1").Build())
	assert.ErrorIs(t, err, core.ErrActionNotFound)
}

func TestMessageProcessor_AutoFillSkipsUnknownCategories(t *testing.T) {
	f := newFixture(t)
	lang := core.NewSlot("language", core.SlotTypeCategorical)
	lang.Values = []string{"en", "de"}
	tr := core.NewTracker("s1", []core.Slot{lang})

	assert.Empty(t, f.proc.slotsForEntities(tr, []core.Entity{{Entity: "language", Value: "fr"}}))

	events := f.proc.slotsForEntities(tr, []core.Entity{{Entity: "language", Value: "de"}})
	require.Len(t, events, 1)
	assert.True(t, events[0].Equal(core.NewSlotSet("language", "de")))
}

func TestMessageProcessor_ConsumedFollowupAgreesWithReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr := testutil.NewTrackerBuilder("s1").SessionStarted().Listen().Event(core.NewFollowupAction("utter_goodbye")).Build()
	a, pred, err := f.proc.PredictNextAction(ctx, tr)
	require.NoError(t, err)
	f.proc.runAction(ctx, tr, a, f.output, pred)

	replayed := core.TrackerFromEvents("s1", tr.Events(), nil)
	assert.Empty(t, tr.FollowupAction())
	assert.Equal(t, tr.FollowupAction(), replayed.FollowupAction())
	assert.Equal(t, tr.LatestActionName(), replayed.LatestActionName())
}

func TestMessageProcessor_ExecuteAction(t *testing.T) {
	f := newFixture(t)

	out, err := f.proc.ExecuteAction(context.Background(), "s1", "utter_goodbye", f.output, "manual", 0.7)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "bye", out[0].Text)

	events := f.retrieve(t, "s1").Events()
	require.Len(t, events, 2)
	executed := events[0].(*core.ActionExecuted)
	assert.Equal(t, "manual", executed.Policy)
	require.NotNil(t, executed.Confidence)
	assert.InDelta(t, 0.7, *executed.Confidence, 1e-9)

	_, err = f.proc.ExecuteAction(context.Background(), "s1", "action_unknown", f.output, "", 0)
	assert.ErrorIs(t, err, core.ErrActionNotFound)
}

func TestMessageProcessor_FailingActionLosesEvents(t *testing.T) {
	registry := action.NewRegistry(action.NewFunc("action_broken", func(context.Context, *action.Dispatcher, *core.Tracker, core.Domain) ([]core.Event, error) {
		return []core.Event{core.NewSlotSet("name", "x")}, errors.New("boom")
	}))
	f := newFixture(t, func(o *Options) { o.Actions = registry })

	_, err := f.proc.ExecuteAction(context.Background(), "s1", "action_broken", f.output, "", 0)
	require.NoError(t, err)

	tr := f.retrieve(t, "s1")
	assert.Equal(t, []core.EventType{core.EventTypeActionExecuted}, testutil.EventTypes(tr.Events()))
	assert.Nil(t, tr.SlotValue("name"))
}

func TestMessageProcessor_SameSenderIsSerialized(t *testing.T) {
	f := newFixture(t)

	var inFlight, maxInFlight atomic.Int32
	f.proc.interpreter = core.InterpreterFunc(func(_ context.Context, text, _ string, _ *core.Tracker) (*core.ParseResult, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return &core.ParseResult{Text: text}, nil
	})

	const n = 10
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := f.proc.HandleMessage(ctx, core.NewUserMessage("hello", nil, "same"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), maxInFlight.Load())
	users := 0
	for _, e := range f.retrieve(t, "same").Events() {
		if _, ok := e.(*core.UserUttered); ok {
			users++
		}
	}
	assert.Equal(t, n, users)
	assert.Equal(t, 0, f.proc.locks.size())
}

func TestMessageProcessor_DifferentSendersRunConcurrently(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	var entered sync.WaitGroup
	entered.Add(2)
	f.proc.interpreter = core.InterpreterFunc(func(_ context.Context, text, _ string, _ *core.Tracker) (*core.ParseResult, error) {
		entered.Done()
		<-release
		return &core.ParseResult{Text: text}, nil
	})

	g, ctx := errgroup.WithContext(context.Background())
	for _, sender := range []string{"a", "b"} {
		sender := sender
		g.Go(func() error {
			_, err := f.proc.HandleMessage(ctx, core.NewUserMessage("hi", nil, sender))
			return err
		})
	}
	entered.Wait()
	close(release)
	require.NoError(t, g.Wait())

	keys, err := f.store.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}
