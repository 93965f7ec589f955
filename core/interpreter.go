package core

import (
	"context"
	"encoding/json"
)

// Intent is a classified user goal.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Entity is a span of structured information extracted from the text.
type Entity struct {
	Entity     string  `json:"entity"`
	Value      any     `json:"value"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
	Extractor  string  `json:"extractor,omitempty"`
}

// ParseResult is the structured form of a user message. Keys an interpreter
// returns beyond the known ones are kept in Extra and written back inline.
type ParseResult struct {
	Text          string
	Intent        Intent
	Entities      []Entity
	IntentRanking []Intent
	Extra         map[string]any
}

type parseResultWire struct {
	Text          string   `json:"text"`
	Intent        Intent   `json:"intent"`
	Entities      []Entity `json:"entities"`
	IntentRanking []Intent `json:"intent_ranking,omitempty"`
}

var knownParseKeys = map[string]bool{"text": true, "intent": true, "entities": true, "intent_ranking": true}

// MarshalJSON implements json.Marshaler.
func (p ParseResult) MarshalJSON() ([]byte, error) {
	entities := p.Entities
	if entities == nil {
		entities = []Entity{}
	}
	body, err := json.Marshal(parseResultWire{Text: p.Text, Intent: p.Intent, Entities: entities, IntentRanking: p.IntentRanking})
	if err != nil || len(p.Extra) == 0 {
		return body, err
	}
	fields := map[string]any{}
	for k, v := range p.Extra {
		if !knownParseKeys[k] {
			fields[k] = v
		}
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(body, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		fields[k] = v
	}
	return json.Marshal(fields)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *ParseResult) UnmarshalJSON(data []byte) error {
	var wire parseResultWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*p = ParseResult{Text: wire.Text, Intent: wire.Intent, Entities: wire.Entities, IntentRanking: wire.IntentRanking}
	for k, v := range all {
		if knownParseKeys[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = map[string]any{}
		}
		p.Extra[k] = v
	}
	return nil
}

// Interpreter turns raw text into a ParseResult. The tracker carries slot
// context (e.g. a language preference) and may be nil.
type Interpreter interface {
	Parse(ctx context.Context, text, messageID string, tracker *Tracker) (*ParseResult, error)
}

// InterpreterFunc adapts a function to the Interpreter interface.
type InterpreterFunc func(ctx context.Context, text, messageID string, tracker *Tracker) (*ParseResult, error)

// Parse implements Interpreter.
func (f InterpreterFunc) Parse(ctx context.Context, text, messageID string, tracker *Tracker) (*ParseResult, error) {
	return f(ctx, text, messageID, tracker)
}
