package action

import (
	"context"

	"github.com/hupe1980/convoflow/core"
)

// Func is the signature of a custom action implemented as a plain function.
type Func func(ctx context.Context, dispatcher *Dispatcher, tracker *core.Tracker, domain core.Domain) ([]core.Event, error)

// FuncAction exposes a function as a core.Action.
type FuncAction struct {
	name string
	fn   Func
}

// NewFunc creates a custom action.
func NewFunc(name string, fn Func) *FuncAction { return &FuncAction{name: name, fn: fn} }

// Name implements core.Action.
func (a *FuncAction) Name() string { return a.name }

// Run implements core.Action. Messages queued on the dispatcher are sent and
// logged before the events returned by the function.
func (a *FuncAction) Run(ctx context.Context, output core.OutputChannel, nlg core.NaturalLanguageGenerator, tracker *core.Tracker, domain core.Domain) ([]core.Event, error) {
	d := &Dispatcher{ctx: ctx, output: output, nlg: nlg, tracker: tracker}
	events, err := a.fn(ctx, d, tracker, domain)
	if err != nil {
		return nil, err
	}
	if d.err != nil {
		return nil, d.err
	}
	return append(d.events, events...), nil
}

// Dispatcher lets a custom action talk to the user.
type Dispatcher struct {
	ctx     context.Context
	output  core.OutputChannel
	nlg     core.NaturalLanguageGenerator
	tracker *core.Tracker
	events  []core.Event
	err     error
}

// Utter sends a plain text message.
func (d *Dispatcher) Utter(text string) {
	if d.err != nil || d.output == nil {
		return
	}
	msg := core.BotMessage{RecipientID: d.tracker.SenderID, Text: text}
	if err := d.output.SendResponse(d.ctx, msg); err != nil {
		d.err = err
		return
	}
	d.events = append(d.events, core.NewBotUttered(text, msg.Data()))
}

// UtterResponse renders and sends a domain response.
func (d *Dispatcher) UtterResponse(name string) {
	if d.err != nil {
		return
	}
	events, err := utter(d.ctx, name, d.output, d.nlg, d.tracker)
	if err != nil {
		d.err = err
		return
	}
	d.events = append(d.events, events...)
}
