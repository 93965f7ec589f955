package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/convoflow/action"
	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/domain"
	"github.com/hupe1980/convoflow/interpreter"
	"github.com/hupe1980/convoflow/logging"
	"github.com/hupe1980/convoflow/metrics"
	"github.com/hupe1980/convoflow/scheduler"
)

// DefaultMaxNumberOfPredictions bounds the predict/execute loop of one turn.
const DefaultMaxNumberOfPredictions = 10

// restartIntent lets a restart through to a paused conversation.
const restartIntent = "restart"

// ReminderScheduler registers and cancels reminder jobs. *scheduler.Scheduler
// implements it.
type ReminderScheduler interface {
	Schedule(job scheduler.Job) error
	CancelMatching(match func(scheduler.JobInfo) bool) int
	Len() int
}

// Options configure a MessageProcessor.
type Options struct {
	// Logger receives processor logs. A *logging.ConversationLogger also gets
	// per-action and per-reminder records.
	Logger logging.Logger
	// Scheduler runs reminders. Without one, reminders are logged and ignored.
	Scheduler ReminderScheduler
	// Actions resolves action names. Defaults to the built-ins.
	Actions *action.Registry
	// MaxNumberOfPredictions stops runaway prediction loops.
	MaxNumberOfPredictions int
	// SessionExpirationMinutes overrides the domain's session length.
	// Values <= 0 disable expiry.
	SessionExpirationMinutes *float64
	// Diagnostics receives unseen intent and entity reports. Defaults to a
	// LoggingSink on Logger.
	Diagnostics core.DiagnosticSink
	// OnCircuitBreak is called when the prediction limit is hit.
	OnCircuitBreak func(tracker *core.Tracker)
	Metrics        *metrics.Metrics
	// Now is the clock used for session expiry.
	Now func() time.Time
}

// MessageProcessor handles inbound messages and reminder firings.
// It is safe for concurrent use.
type MessageProcessor struct {
	interpreter core.Interpreter
	regex       core.Interpreter
	policy      core.Policy
	domain      core.Domain
	store       core.TrackerStore
	nlg         core.NaturalLanguageGenerator

	logger      logging.Logger
	scheduler   ReminderScheduler
	actions     *action.Registry
	diagnostics core.DiagnosticSink
	metrics     *metrics.Metrics
	opts        Options
	locks       *senderLocks
}

// New creates a processor. Collaborators may be nil; operations that need a
// missing one fail with core.ErrConfiguration.
func New(
	interp core.Interpreter,
	policy core.Policy,
	dom core.Domain,
	store core.TrackerStore,
	nlg core.NaturalLanguageGenerator,
	optFns ...func(o *Options),
) *MessageProcessor {
	opts := Options{
		MaxNumberOfPredictions: DefaultMaxNumberOfPredictions,
		Now:                    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNop(opts.Logger)
	if opts.Actions == nil {
		opts.Actions = action.NewRegistry()
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = core.LoggingSink{Logger: opts.Logger}
	}
	if opts.MaxNumberOfPredictions <= 0 {
		opts.MaxNumberOfPredictions = DefaultMaxNumberOfPredictions
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MessageProcessor{
		interpreter: interp,
		regex:       interpreter.NewRegex(),
		policy:      policy,
		domain:      dom,
		store:       store,
		nlg:         nlg,
		logger:      opts.Logger,
		scheduler:   opts.Scheduler,
		actions:     opts.Actions,
		diagnostics: opts.Diagnostics,
		metrics:     opts.Metrics,
		opts:        opts,
		locks:       newSenderLocks(),
	}
}

// HandleMessage runs a full turn for msg and returns the messages sent to
// msg.Output during it. Nothing is saved when parsing fails.
func (p *MessageProcessor) HandleMessage(ctx context.Context, msg core.UserMessage) (out []core.BotMessage, err error) {
	start := time.Now()
	defer func() {
		p.metrics.ObserveMessage(time.Since(start), err)
	}()

	if err := p.checkConfigured(msg.SenderID); err != nil {
		return nil, err
	}
	unlock, err := p.locks.lock(ctx, msg.SenderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tracker, err := p.store.GetOrCreateTracker(ctx, msg.SenderID)
	if err != nil {
		return nil, persistenceError("get tracker "+msg.SenderID, err)
	}

	rec := newRecorder(msg.Output)
	if err := p.handleMessageWithTracker(ctx, msg, tracker, rec); err != nil {
		return nil, err
	}
	if p.ShouldHandleMessage(tracker) {
		if err := p.predictAndExecute(ctx, tracker, rec); err != nil {
			return nil, err
		}
	} else {
		p.logger.Info("Conversation is paused, not predicting actions", "sender_id", tracker.SenderID)
	}
	if err := p.save(ctx, tracker); err != nil {
		return nil, err
	}

	p.logMessage(tracker, rec.count(), time.Since(start))
	return rec.messages(), nil
}

// LogMessage records msg on the sender's tracker without predicting actions
// and returns the saved tracker.
func (p *MessageProcessor) LogMessage(ctx context.Context, msg core.UserMessage) (*core.Tracker, error) {
	if err := p.checkConfigured(msg.SenderID); err != nil {
		return nil, err
	}
	unlock, err := p.locks.lock(ctx, msg.SenderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tracker, err := p.store.GetOrCreateTracker(ctx, msg.SenderID)
	if err != nil {
		return nil, persistenceError("get tracker "+msg.SenderID, err)
	}
	if err := p.handleMessageWithTracker(ctx, msg, tracker, newRecorder(msg.Output)); err != nil {
		return nil, err
	}
	if err := p.save(ctx, tracker); err != nil {
		return nil, err
	}
	return tracker, nil
}

// ExecuteAction runs a single named action on the sender's tracker, logs it
// with the given policy attribution and saves the tracker.
func (p *MessageProcessor) ExecuteAction(ctx context.Context, senderID, actionName string, output core.OutputChannel, policyName string, confidence float64) ([]core.BotMessage, error) {
	if senderID == "" {
		return nil, fmt.Errorf("%w: sender id is required", core.ErrConfiguration)
	}
	if p.store == nil {
		return nil, fmt.Errorf("%w: no tracker store", core.ErrConfiguration)
	}
	a, err := p.actions.Get(actionName)
	if err != nil {
		return nil, err
	}
	unlock, err := p.locks.lock(ctx, senderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tracker, err := p.store.GetOrCreateTracker(ctx, senderID)
	if err != nil {
		return nil, persistenceError("get tracker "+senderID, err)
	}
	rec := newRecorder(output)
	p.runAction(ctx, tracker, a, rec, core.Prediction{ActionName: actionName, PolicyName: policyName, Confidence: confidence})
	if err := p.save(ctx, tracker); err != nil {
		return nil, err
	}
	return rec.messages(), nil
}

// PredictNextAction resolves the action to run next. A pending followup
// action wins over the policy; without a policy the bot listens.
func (p *MessageProcessor) PredictNextAction(ctx context.Context, tracker *core.Tracker) (core.Action, core.Prediction, error) {
	if followup := tracker.FollowupAction(); followup != "" {
		a, err := p.actions.Get(followup)
		if err == nil {
			// Consumed in memory only. runAction logs ActionExecuted for it
			// right away, which clears the followup on replay as well.
			tracker.ClearFollowupAction()
			return a, core.Prediction{ActionName: followup, PolicyName: "followup", Confidence: 1}, nil
		}
		p.logger.Error("Trying to run unknown follow up action", "sender_id", tracker.SenderID, "action", followup, "error", err)
	}

	if p.policy == nil {
		return action.Listen{}, core.Prediction{ActionName: action.ListenName}, nil
	}
	pred, err := p.policy.Predict(ctx, tracker, p.domain)
	if err != nil {
		return nil, core.Prediction{}, fmt.Errorf("predict next action: %w", err)
	}
	if pred.ActionName == "" {
		p.logger.Debug("No action predicted, listening", "sender_id", tracker.SenderID)
		return action.Listen{}, core.Prediction{ActionName: action.ListenName, PolicyName: pred.PolicyName}, nil
	}
	a, err := p.actions.Get(pred.ActionName)
	if err != nil {
		return nil, core.Prediction{}, err
	}
	p.logger.Debug("Predicted next action", "sender_id", tracker.SenderID, "action", pred.ActionName, "policy", pred.PolicyName, "confidence", pred.Confidence)
	return a, pred, nil
}

// ParseMessage structures msg.Text. Text starting with "/" is parsed by the
// regex interpreter, anything else by the configured one. The tracker is
// passed on as slot context and may be nil.
func (p *MessageProcessor) ParseMessage(ctx context.Context, msg core.UserMessage, tracker *core.Tracker) (*core.ParseResult, error) {
	interp := p.interpreter
	if interpreter.IsIntentMessage(msg.Text) {
		interp = p.regex
	}
	if interp == nil {
		return nil, fmt.Errorf("%w: no interpreter", core.ErrConfiguration)
	}
	parsed, err := interp.Parse(ctx, msg.Text, msg.MessageID, tracker)
	if err != nil {
		if errors.Is(err, core.ErrParse) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", core.ErrParse, err)
	}
	if parsed == nil {
		return nil, fmt.Errorf("%w: interpreter returned no result", core.ErrParse)
	}
	p.logger.Debug("Received user message",
		"sender_id", msg.SenderID,
		"message_id", msg.MessageID,
		"intent", parsed.Intent.Name,
		"confidence", parsed.Intent.Confidence,
		"entities", len(parsed.Entities),
	)
	return parsed, nil
}

// LogUnseenFeatures reports each distinct intent or entity name the domain
// does not declare: the intent first, then entities in order.
func (p *MessageProcessor) LogUnseenFeatures(parsed *core.ParseResult) {
	if parsed == nil || p.domain == nil {
		return
	}
	if name := parsed.Intent.Name; name != "" && !p.knowsIntent(name) {
		p.diagnostics.Report(core.Diagnostic{
			Kind:    core.DiagnosticUnseenIntent,
			Name:    name,
			Message: fmt.Sprintf("Interpreter parsed an intent '%s' that is not defined in the domain.", name),
		})
	}
	seen := map[string]bool{}
	for _, e := range parsed.Entities {
		if e.Entity == "" || seen[e.Entity] || p.domain.HasEntity(e.Entity) {
			continue
		}
		seen[e.Entity] = true
		p.diagnostics.Report(core.Diagnostic{
			Kind:    core.DiagnosticUnseenEntity,
			Name:    e.Entity,
			Message: fmt.Sprintf("Interpreter parsed an entity '%s' that is not defined in the domain.", e.Entity),
		})
	}
}

func (p *MessageProcessor) knowsIntent(name string) bool {
	if p.domain.HasIntent(name) {
		return true
	}
	for _, d := range domain.DefaultIntents {
		if d == name {
			return true
		}
	}
	return false
}

// ShouldHandleMessage reports whether the bot should act on the latest
// message: always, unless the conversation is paused and the message is not
// a restart.
func (p *MessageProcessor) ShouldHandleMessage(tracker *core.Tracker) bool {
	return !tracker.IsPaused() || tracker.LatestMessage().IntentName() == restartIntent
}

func (p *MessageProcessor) checkConfigured(senderID string) error {
	switch {
	case senderID == "":
		return fmt.Errorf("%w: sender id is required", core.ErrConfiguration)
	case p.interpreter == nil:
		return fmt.Errorf("%w: no interpreter", core.ErrConfiguration)
	case p.domain == nil:
		return fmt.Errorf("%w: no domain", core.ErrConfiguration)
	case p.store == nil:
		return fmt.Errorf("%w: no tracker store", core.ErrConfiguration)
	}
	return nil
}

// handleMessageWithTracker updates the session, parses msg and appends the
// user utterance plus slot fills from its entities.
func (p *MessageProcessor) handleMessageWithTracker(ctx context.Context, msg core.UserMessage, tracker *core.Tracker, output core.OutputChannel) error {
	if err := p.UpdateTrackerSession(ctx, tracker, output, p.sessionExpirationMinutes()); err != nil {
		return err
	}
	parsed, err := p.ParseMessage(ctx, msg, tracker)
	if err != nil {
		return err
	}
	p.LogUnseenFeatures(parsed)

	uttered := core.NewUserUttered(msg.Text, parsed, msg.MessageID)
	uttered.InputChannel = msg.InputChannel
	tracker.Update(uttered)
	for _, e := range p.slotsForEntities(tracker, parsed.Entities) {
		tracker.Update(e)
	}
	p.logger.Debug("Logged user message", "sender_id", tracker.SenderID, "message_id", msg.MessageID, "events", tracker.Len())
	return nil
}

// slotsForEntities fills auto-fill slots from entities of the same name.
// A list slot collects every value, other slots take the last one.
func (p *MessageProcessor) slotsForEntities(tracker *core.Tracker, entities []core.Entity) []core.Event {
	var events []core.Event
	for _, decl := range tracker.SlotDeclarations() {
		if !decl.AutoFill {
			continue
		}
		var values []any
		for _, e := range entities {
			if e.Entity == decl.Name {
				values = append(values, e.Value)
			}
		}
		switch {
		case len(values) == 0:
			continue
		case decl.Type == core.SlotTypeList:
			events = append(events, core.NewSlotSet(decl.Name, values))
		case !decl.Accepts(values[len(values)-1]):
			p.logger.Debug("Entity value is not a category of the slot", "sender_id", tracker.SenderID, "slot", decl.Name, "value", values[len(values)-1])
		default:
			events = append(events, core.NewSlotSet(decl.Name, values[len(values)-1]))
		}
	}
	return events
}

// predictAndExecute runs the prediction loop until the bot listens or the
// prediction limit is reached.
func (p *MessageProcessor) predictAndExecute(ctx context.Context, tracker *core.Tracker, output core.OutputChannel) error {
	numPredicted := 0
	shouldPredictAnother := true
	for shouldPredictAnother && p.ShouldHandleMessage(tracker) && numPredicted < p.opts.MaxNumberOfPredictions {
		a, pred, err := p.PredictNextAction(ctx, tracker)
		if err != nil {
			return err
		}
		shouldPredictAnother = p.runAction(ctx, tracker, a, output, pred)
		numPredicted++
	}
	if shouldPredictAnother && numPredicted == p.opts.MaxNumberOfPredictions {
		p.logger.Warn("Circuit breaker tripped. Stopped predicting more actions", "sender_id", tracker.SenderID, "max_predictions", p.opts.MaxNumberOfPredictions)
		p.metrics.IncCircuitBreak()
		if p.opts.OnCircuitBreak != nil {
			p.opts.OnCircuitBreak(tracker)
		}
	}
	return nil
}

// runAction executes a, logs ActionExecuted followed by the action's events
// and registers or cancels reminders among them. A failing action is logged
// and contributes no events. It reports whether another action should be
// predicted.
func (p *MessageProcessor) runAction(ctx context.Context, tracker *core.Tracker, a core.Action, output core.OutputChannel, pred core.Prediction) bool {
	start := time.Now()
	events, err := a.Run(ctx, output, p.nlg, tracker, p.domain)
	p.metrics.IncAction(a.Name(), err)
	p.logAction(tracker, a.Name(), len(events), time.Since(start), err)
	if err != nil {
		events = nil
	}

	executed := core.NewActionExecuted(a.Name())
	executed.Policy = pred.PolicyName
	if pred.Confidence != 0 {
		conf := pred.Confidence
		executed.Confidence = &conf
	}
	tracker.Update(executed)
	tracker.UpdateAll(events)

	p.updateReminders(events, tracker, output)
	return a.Name() != action.ListenName
}

func (p *MessageProcessor) save(ctx context.Context, tracker *core.Tracker) error {
	if err := p.store.Save(ctx, tracker); err != nil {
		return persistenceError("save tracker "+tracker.SenderID, err)
	}
	return nil
}

func persistenceError(op string, err error) error {
	if errors.Is(err, core.ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", core.ErrPersistence, op, err)
}

// recorder forwards to an output channel and remembers what was sent.
type recorder struct {
	core.OutputChannel
	mu   sync.Mutex
	sent []core.BotMessage
}

func newRecorder(out core.OutputChannel) *recorder {
	if out == nil {
		out = core.NewCollectingOutputChannel()
	}
	if r, ok := out.(*recorder); ok {
		out = r.OutputChannel
	}
	return &recorder{OutputChannel: out}
}

func (r *recorder) SendResponse(ctx context.Context, msg core.BotMessage) error {
	if err := r.OutputChannel.SendResponse(ctx, msg); err != nil {
		return err
	}
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
	return nil
}

func (r *recorder) messages() []core.BotMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.BotMessage(nil), r.sent...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (p *MessageProcessor) logAction(tracker *core.Tracker, name string, events int, d time.Duration, err error) {
	if cl, ok := p.logger.(*logging.ConversationLogger); ok {
		cl.WithComponent("processor").WithSender(tracker.SenderID, tracker.LatestMessageID()).LogAction(name, events, d, err)
		return
	}
	if err != nil {
		p.logger.Error("Encountered an exception while running action, the action's events are lost", "sender_id", tracker.SenderID, "action", name, "error", err)
		return
	}
	p.logger.Debug("Action executed", "sender_id", tracker.SenderID, "action", name, "events", events, "duration", d)
}

func (p *MessageProcessor) logReminder(senderID, name, actionName, outcome string) {
	if cl, ok := p.logger.(*logging.ConversationLogger); ok {
		cl.WithComponent("processor").WithSender(senderID, "").LogReminder(name, actionName, outcome)
		return
	}
	p.logger.Debug("Reminder "+outcome, "sender_id", senderID, "reminder", name, "action", actionName)
}

func (p *MessageProcessor) logMessage(tracker *core.Tracker, sent int, d time.Duration) {
	if cl, ok := p.logger.(*logging.ConversationLogger); ok {
		cl.WithComponent("processor").WithSender(tracker.SenderID, tracker.LatestMessageID()).LogMessage(tracker.LatestMessage().IntentName(), sent, d, nil)
		return
	}
	p.logger.Debug("Message handled", "sender_id", tracker.SenderID, "intent", tracker.LatestMessage().IntentName(), "messages", sent, "duration", d)
}
