package core

import "context"

// NaturalLanguageGenerator renders a response template for a tracker.
// A nil message with a nil error means the template does not exist.
type NaturalLanguageGenerator interface {
	Generate(ctx context.Context, template string, tracker *Tracker, outputChannel string) (*BotMessage, error)
}
