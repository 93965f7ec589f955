package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/convoflow/core"
)

// ResponsePrefix marks action names that render a domain response.
const ResponsePrefix = "utter_"

// Response renders the domain response of the same name, sends it and logs
// a BotUttered event.
type Response struct {
	name string
}

// NewResponse creates a response action.
func NewResponse(name string) *Response { return &Response{name: name} }

// IsResponseName reports whether name refers to a response action.
func IsResponseName(name string) bool { return strings.HasPrefix(name, ResponsePrefix) }

// Name implements core.Action.
func (r *Response) Name() string { return r.name }

// Run implements core.Action. A response missing from the domain produces
// no events.
func (r *Response) Run(ctx context.Context, output core.OutputChannel, nlg core.NaturalLanguageGenerator, tracker *core.Tracker, _ core.Domain) ([]core.Event, error) {
	return utter(ctx, r.name, output, nlg, tracker)
}

func utter(ctx context.Context, template string, output core.OutputChannel, nlg core.NaturalLanguageGenerator, tracker *core.Tracker) ([]core.Event, error) {
	if nlg == nil || output == nil {
		return nil, nil
	}
	msg, err := nlg.Generate(ctx, template, tracker, output.Name())
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", template, err)
	}
	if msg == nil {
		return nil, nil
	}
	msg.RecipientID = tracker.SenderID
	if err := output.SendResponse(ctx, *msg); err != nil {
		return nil, fmt.Errorf("send %s: %w", template, err)
	}
	return []core.Event{core.NewBotUttered(msg.Text, msg.Data())}, nil
}
