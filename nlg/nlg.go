// Package nlg renders domain response templates into bot messages.
package nlg

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/domain"
	"github.com/hupe1980/convoflow/internal/util"
)

// Options configure the template generator.
type Options struct {
	// Pick chooses one of n variations. Defaults to a uniform random choice.
	Pick func(n int) int
}

// Templates renders responses declared in a domain. Text fields are
// text/template strings evaluated against the tracker's slot values.
type Templates struct {
	domain *domain.Domain
	opts   Options
}

// NewTemplates creates a generator for the responses of d.
func NewTemplates(d *domain.Domain, optFns ...func(o *Options)) *Templates {
	opts := Options{Pick: rand.Intn}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Templates{domain: d, opts: opts}
}

// Generate implements core.NaturalLanguageGenerator.
func (g *Templates) Generate(_ context.Context, template string, tracker *core.Tracker, outputChannel string) (*core.BotMessage, error) {
	variations, ok := g.domain.Responses(template)
	if !ok || len(variations) == 0 {
		return nil, nil
	}
	candidates := forChannel(variations, outputChannel)
	if len(candidates) == 0 {
		return nil, nil
	}
	r := candidates[g.opts.Pick(len(candidates))]

	var values map[string]any
	if tracker != nil {
		values = tracker.CurrentSlotValues()
	}
	text, err := util.RenderTemplate(r.Text, values)
	if err != nil {
		return nil, fmt.Errorf("response %s: %w", template, err)
	}
	msg := &core.BotMessage{Text: text}
	if len(r.Buttons) > 0 {
		msg.Buttons = r.Buttons
	}
	if len(r.QuickReplies) > 0 {
		msg.QuickReplies = r.QuickReplies
	}
	if len(r.Elements) > 0 {
		msg.Elements = r.Elements
	}
	if r.Image != "" {
		msg.Image = r.Image
	}
	if r.Attachment != nil {
		msg.Attachment = r.Attachment
	}
	if len(r.Custom) > 0 {
		msg.Custom = r.Custom
	}
	return msg, nil
}

// forChannel prefers variations bound to the channel and falls back to the
// unbound ones.
func forChannel(variations []domain.Response, channel string) []domain.Response {
	var bound, generic []domain.Response
	for _, v := range variations {
		switch v.Channel {
		case "":
			generic = append(generic, v)
		case channel:
			bound = append(bound, v)
		}
	}
	if len(bound) > 0 {
		return bound
	}
	return generic
}
