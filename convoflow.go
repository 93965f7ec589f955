// Package convoflow provides a high-level façade over the message processor,
// the reminder scheduler and the default collaborators (regex interpreter,
// mapping policy, template NLG and in-memory tracker store). Most
// applications interact with this package by:
//  1. Loading a domain (domain.Load) and creating an Agent via New()
//  2. Starting the reminder scheduler with Start
//  3. Feeding user messages through HandleText or HandleMessage
//  4. Calling Stop on shutdown
//
// Every collaborator can be replaced through Options; production deployments
// typically supply a durable tracker store and a structured logger.
package convoflow

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/convoflow/action"
	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/domain"
	"github.com/hupe1980/convoflow/interpreter"
	"github.com/hupe1980/convoflow/logging"
	"github.com/hupe1980/convoflow/metrics"
	"github.com/hupe1980/convoflow/nlg"
	"github.com/hupe1980/convoflow/policy"
	"github.com/hupe1980/convoflow/processor"
	"github.com/hupe1980/convoflow/scheduler"
	"github.com/hupe1980/convoflow/trackerstore"
)

// Options configures an Agent. Unset collaborators get defaults.
type Options struct {
	// Interpreter parses free text. Defaults to the regex interpreter.
	Interpreter core.Interpreter
	// Policy predicts actions. Defaults to a mapping policy built from
	// IntentActions.
	Policy core.Policy
	// IntentActions maps intents to actions for the default policy.
	IntentActions map[string]string
	// TrackerStore defaults to an in-memory store.
	TrackerStore core.TrackerStore
	// NLG defaults to rendering domain responses.
	NLG core.NaturalLanguageGenerator
	// Actions are registered next to the built-ins.
	Actions []core.Action

	MaxNumberOfPredictions   int
	SessionExpirationMinutes *float64
	Diagnostics              core.DiagnosticSink
	OnCircuitBreak           func(tracker *core.Tracker)
	Metrics                  *metrics.Metrics
	// Location is the time zone reminder times are evaluated in.
	Location *time.Location

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Agent is the high-level façade aggregating processor, scheduler and
// collaborators.
type Agent struct {
	domain      *domain.Domain
	interpreter core.Interpreter
	store       core.TrackerStore
	scheduler   *scheduler.Scheduler
	processor   *processor.MessageProcessor
	logger      logging.Logger
}

// New creates an Agent for the domain d.
func New(d *domain.Domain, optFns ...func(o *Options)) *Agent {
	if d == nil {
		d = domain.Empty()
	}
	opts := Options{
		Location: time.Local,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNop(opts.Logger)
	if opts.Interpreter == nil {
		opts.Interpreter = interpreter.NewRegex()
	}
	if opts.Policy == nil {
		opts.Policy = policy.NewMapping(opts.IntentActions)
	}
	if opts.TrackerStore == nil {
		opts.TrackerStore = trackerstore.NewInMemory(func(o *trackerstore.Options) { o.Slots = d.Slots() })
	}
	if opts.NLG == nil {
		opts.NLG = nlg.NewTemplates(d)
	}

	sched := scheduler.New(func(o *scheduler.Options) {
		o.Logger = opts.Logger
		o.Location = opts.Location
	})
	proc := processor.New(opts.Interpreter, opts.Policy, d, opts.TrackerStore, opts.NLG, func(o *processor.Options) {
		o.Logger = opts.Logger
		o.Scheduler = sched
		o.Actions = action.NewRegistry(opts.Actions...)
		o.MaxNumberOfPredictions = opts.MaxNumberOfPredictions
		o.SessionExpirationMinutes = opts.SessionExpirationMinutes
		o.Diagnostics = opts.Diagnostics
		o.OnCircuitBreak = opts.OnCircuitBreak
		o.Metrics = opts.Metrics
	})

	return &Agent{
		domain:      d,
		interpreter: opts.Interpreter,
		store:       opts.TrackerStore,
		scheduler:   sched,
		processor:   proc,
		logger:      opts.Logger,
	}
}

// Start starts the reminder scheduler.
func (a *Agent) Start() { a.scheduler.Start() }

// Stop stops the reminder scheduler, waits for running reminders and closes
// the tracker store if it can be closed.
func (a *Agent) Stop(ctx context.Context) error {
	if err := a.scheduler.Stop(ctx); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	switch c := a.store.(type) {
	case interface{ Close() error }:
		if err := c.Close(); err != nil {
			return fmt.Errorf("close tracker store: %w", err)
		}
	case interface{ Close() }:
		c.Close()
	}
	return nil
}

// HandleText handles text from senderID and returns the bot's replies. A nil
// output collects the replies in memory.
func (a *Agent) HandleText(ctx context.Context, text, senderID string, output core.OutputChannel) ([]core.BotMessage, error) {
	return a.HandleMessage(ctx, core.NewUserMessage(text, output, senderID))
}

// HandleMessage handles one inbound message.
func (a *Agent) HandleMessage(ctx context.Context, msg core.UserMessage) ([]core.BotMessage, error) {
	return a.processor.HandleMessage(ctx, msg)
}

// LogMessage records a message without predicting actions.
func (a *Agent) LogMessage(ctx context.Context, msg core.UserMessage) (*core.Tracker, error) {
	return a.processor.LogMessage(ctx, msg)
}

// ExecuteAction runs a named action for senderID.
func (a *Agent) ExecuteAction(ctx context.Context, senderID, actionName string, output core.OutputChannel, policyName string, confidence float64) ([]core.BotMessage, error) {
	return a.processor.ExecuteAction(ctx, senderID, actionName, output, policyName, confidence)
}

// ParseMessageUsingInterpreter parses text with the agent's interpreter,
// passing tracker on as slot context. tracker may be nil.
func (a *Agent) ParseMessageUsingInterpreter(ctx context.Context, text string, tracker *core.Tracker) (*core.ParseResult, error) {
	msg := core.UserMessage{Text: text, MessageID: core.NewID()}
	if tracker != nil {
		msg.SenderID = tracker.SenderID
	}
	return a.processor.ParseMessage(ctx, msg, tracker)
}

// Tracker returns the stored tracker of senderID.
func (a *Agent) Tracker(ctx context.Context, senderID string) (*core.Tracker, error) {
	return a.store.Retrieve(ctx, senderID)
}

// Domain returns the agent's domain.
func (a *Agent) Domain() *domain.Domain { return a.domain }

// Processor exposes the underlying message processor.
func (a *Agent) Processor() *processor.MessageProcessor { return a.processor }

// PendingReminders lists the reminder jobs waiting to fire.
func (a *Agent) PendingReminders() []scheduler.JobInfo { return a.scheduler.Jobs() }
