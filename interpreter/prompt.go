package interpreter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/internal/util"
)

// DefaultClassificationPrompt instructs a language model to answer with a
// parse result. It is rendered with the vocabulary and the tracker slots.
const DefaultClassificationPrompt = `You classify user messages for a conversational assistant.
Known intents: {{ join ", " .intents }}.
Known entities: {{ default "none" (join ", " .entities) }}.
{{- if .slots }}
Conversation state: {{ .slots }}.
{{- end }}
Answer with a single JSON object and nothing else, using this shape:
{"intent": {"name": "<intent>", "confidence": <0..1>}, "entities": [{"entity": "<name>", "value": "<value>", "start": <offset>, "end": <offset>}]}
Use an intent from the list. Use "out_of_scope" if none fits.`

// Vocabulary is the label set an LLM interpreter classifies into.
type Vocabulary struct {
	Intents  []string
	Entities []string
}

// RenderPrompt fills a classification prompt template.
func RenderPrompt(tmpl string, vocab Vocabulary, tracker *core.Tracker) (string, error) {
	values := map[string]any{
		"intents":  sorted(vocab.Intents),
		"entities": sorted(vocab.Entities),
	}
	if tracker != nil {
		var parts []string
		for name, v := range tracker.CurrentSlotValues() {
			if v == nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%v", name, v))
		}
		sort.Strings(parts)
		if len(parts) > 0 {
			values["slots"] = strings.Join(parts, ", ")
		}
	}
	return util.RenderTemplate(tmpl, values)
}

// ExtractJSON returns the outermost JSON object of a model answer, dropping
// markdown fences and surrounding prose.
func ExtractJSON(answer string) string {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end < start {
		return ""
	}
	return answer[start : end+1]
}

// DecodeModelAnswer turns an LLM answer into a parse result for text.
func DecodeModelAnswer(text, answer string) (*core.ParseResult, error) {
	result, err := DecodeParseResult([]byte(ExtractJSON(answer)))
	if err != nil {
		return nil, err
	}
	result.Text = text
	return result, nil
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
