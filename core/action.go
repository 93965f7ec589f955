package core

import "context"

// SessionConfig controls session expiry and slot carry-over.
type SessionConfig struct {
	// ExpirationMinutes is the inactivity window; values <= 0 disable expiry.
	ExpirationMinutes float64 `json:"session_expiration_time" yaml:"session_expiration_time"`
	// CarryOverSlots copies slot values into a new session.
	CarryOverSlots bool `json:"carry_over_slots_to_new_session" yaml:"carry_over_slots_to_new_session"`
}

// Domain is the read-only view of the assistant vocabulary the orchestration
// core depends on.
type Domain interface {
	HasIntent(name string) bool
	HasEntity(name string) bool
	Slots() []Slot
	SessionConfig() SessionConfig
}

// Action is a named unit of bot behaviour. Run returns the events to append;
// it may send messages through output but must not mutate the tracker.
type Action interface {
	Name() string
	Run(ctx context.Context, output OutputChannel, nlg NaturalLanguageGenerator, tracker *Tracker, domain Domain) ([]Event, error)
}

// Prediction is a policy decision.
type Prediction struct {
	ActionName string
	PolicyName string
	Confidence float64
}

// Policy predicts the next action for a tracker.
type Policy interface {
	Predict(ctx context.Context, tracker *Tracker, domain Domain) (Prediction, error)
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(ctx context.Context, tracker *Tracker, domain Domain) (Prediction, error)

// Predict implements Policy.
func (f PolicyFunc) Predict(ctx context.Context, tracker *Tracker, domain Domain) (Prediction, error) {
	return f(ctx, tracker, domain)
}
