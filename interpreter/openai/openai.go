// Package openai provides a core.Interpreter backed by the OpenAI Chat
// Completions API. The model classifies each message into the domain
// vocabulary and answers with a JSON parse result.
package openai

import (
	"context"
	"fmt"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/interpreter"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configure the OpenAI interpreter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	// Prompt is a text/template rendered with intents, entities and slots.
	Prompt string
}

// Interpreter classifies messages with an OpenAI chat model.
type Interpreter struct {
	client *openai.Client
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
	client := openai.NewClient(clientOpts...)
	return &Interpreter{client: &client, vocab: vocab, opts: opts}
}

// NewFromClient creates an interpreter from an existing client.
func NewFromClient(client *openai.Client, vocab interpreter.Vocabulary, optFns ...func(o *Options)) *Interpreter {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Interpreter{client: client, vocab: vocab, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0,
		MaxCompletionTokens: 512,
		Prompt:              interpreter.DefaultClassificationPrompt,
	}
}

// Parse implements core.Interpreter.
func (i *Interpreter) Parse(ctx context.Context, text, _ string, tracker *core.Tracker) (*core.ParseResult, error) {
	system, err := interpreter.RenderPrompt(i.opts.Prompt, i.vocab, tracker)
	if err != nil {
		return nil, fmt.Errorf("%w: render prompt: %v", core.ErrParse, err)
	}
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(text),
		},
		Model:               i.opts.Model,
		Temperature:         openai.Float(i.opts.Temperature),
		MaxCompletionTokens: openai.Int(i.opts.MaxCompletionTokens),
	}
	resp, err := i.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", core.ErrParse, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", core.ErrParse)
	}
	return interpreter.DecodeModelAnswer(text, resp.Choices[0].Message.Content)
}
