// Package anthropic provides a core.Interpreter backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/interpreter"
)

// Options configure the Anthropic interpreter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	// Prompt is a text/template rendered with intents, entities and slots.
	Prompt string
}

// Interpreter classifies messages with a Claude model.
type Interpreter struct {
	client *anthropic.Client
	vocab  interpreter.Vocabulary
	opts   Options
}

// New creates an interpreter using the official client.
func New(vocab interpreter.Vocabulary, optFns ...func(o *Options)) *Interpreter {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Interpreter{client: &client, vocab: vocab, opts: opts}
}

// NewFromClient creates an interpreter from an existing client.
func NewFromClient(client *anthropic.Client, vocab interpreter.Vocabulary, optFns ...func(o *Options)) *Interpreter {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Interpreter{client: client, vocab: vocab, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 512,
		Prompt:    interpreter.DefaultClassificationPrompt,
	}
}

// Parse implements core.Interpreter.
func (i *Interpreter) Parse(ctx context.Context, text, _ string, tracker *core.Tracker) (*core.ParseResult, error) {
	system, err := interpreter.RenderPrompt(i.opts.Prompt, i.vocab, tracker)
	if err != nil {
		return nil, fmt.Errorf("%w: render prompt: %v", core.ErrParse, err)
	}
	params := anthropic.MessageNewParams{
		Model:       i.opts.Model,
		MaxTokens:   i.opts.MaxTokens,
		Temperature: anthropic.Float(i.opts.Temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	}
	msg, err := i.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: %v", core.ErrParse, err)
	}
	var answer strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			answer.WriteString(block.AsText().Text)
		}
	}
	return interpreter.DecodeModelAnswer(text, answer.String())
}
