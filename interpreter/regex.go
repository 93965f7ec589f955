package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hupe1980/convoflow/core"
)

// IntentPrefix marks text that should be parsed by the Regex interpreter.
const IntentPrefix = "/"

var intentMessage = regexp.MustCompile(`^/([^{@]+)(@[0-9.]+)?(\{.*\})?$`)

// Regex parses messages of the form "/intent", "/intent@0.8" and
// "/intent{"entity": "value"}". Text that does not match yields an empty intent.
type Regex struct{}

// NewRegex creates a regex interpreter.
func NewRegex() *Regex { return &Regex{} }

// IsIntentMessage reports whether text uses the regex shorthand.
func IsIntentMessage(text string) bool { return strings.HasPrefix(strings.TrimSpace(text), IntentPrefix) }

// Parse implements core.Interpreter.
func (r *Regex) Parse(_ context.Context, text, _ string, _ *core.Tracker) (*core.ParseResult, error) {
	text = strings.TrimSpace(text)
	m := intentMessage.FindStringSubmatch(text)
	if m == nil {
		return &core.ParseResult{Text: text}, nil
	}
	intent := core.Intent{Name: strings.TrimSpace(m[1]), Confidence: 1.0}
	if m[2] != "" {
		c, err := strconv.ParseFloat(m[2][1:], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid confidence %q", core.ErrParse, m[2][1:])
		}
		intent.Confidence = c
	}
	entities, err := parseEntities(m[3], len(text))
	if err != nil {
		return nil, err
	}
	return &core.ParseResult{
		Text:          text,
		Intent:        intent,
		Entities:      entities,
		IntentRanking: []core.Intent{intent},
	}, nil
}

func parseEntities(raw string, end int) ([]core.Entity, error) {
	if raw == "" {
		return []core.Entity{}, nil
	}
	var values map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("%w: invalid entity json %q: %v", core.ErrParse, raw, err)
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	// Keep the order in which the entities were written.
	sort.SliceStable(names, func(i, j int) bool {
		return strings.Index(raw, strconv.Quote(names[i])) < strings.Index(raw, strconv.Quote(names[j]))
	})
	start := end - len(raw)
	out := make([]core.Entity, 0, len(names))
	for _, name := range names {
		v := values[name]
		if list, ok := v.([]any); ok {
			for _, item := range list {
				out = append(out, core.Entity{Entity: name, Value: normalize(item), Start: start, End: end})
			}
			continue
		}
		out = append(out, core.Entity{Entity: name, Value: normalize(v), Start: start, End: end})
	}
	return out, nil
}

func normalize(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, _ := n.Float64()
	return f
}
