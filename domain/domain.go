// Package domain holds the assistant vocabulary: intents, entities, slots,
// responses, custom actions and session settings. A Domain is immutable once
// loaded and safe for concurrent use.
package domain

import (
	"fmt"
	"os"
	"sort"

	"github.com/hupe1980/convoflow/core"
	"gopkg.in/yaml.v3"
)

// DefaultIntents are always part of the vocabulary.
var DefaultIntents = []string{"restart", "back", "out_of_scope", "session_start"}

// DefaultSessionConfig is used when a domain file has no session_config block.
var DefaultSessionConfig = core.SessionConfig{ExpirationMinutes: 60, CarryOverSlots: true}

// Response is one variation of a response template.
type Response struct {
	Text         string           `yaml:"text"`
	Buttons      []map[string]any `yaml:"buttons,omitempty"`
	QuickReplies []map[string]any `yaml:"quick_replies,omitempty"`
	Image        string           `yaml:"image,omitempty"`
	Attachment   any              `yaml:"attachment,omitempty"`
	Elements     []map[string]any `yaml:"elements,omitempty"`
	Custom       map[string]any   `yaml:"custom,omitempty"`
	// Channel restricts the variation to one output channel.
	Channel string `yaml:"channel,omitempty"`
}

// Domain is the loaded vocabulary. It implements core.Domain.
type Domain struct {
	intents   map[string]bool
	entities  map[string]bool
	slots     []core.Slot
	responses map[string][]Response
	actions   []string
	session   core.SessionConfig
}

// SlotConfig is the YAML shape of a slot declaration. AutoFill defaults to true.
type SlotConfig struct {
	Type         core.SlotType `yaml:"type"`
	InitialValue any           `yaml:"initial_value"`
	Values       []string      `yaml:"values"`
	AutoFill     *bool         `yaml:"auto_fill"`
}

// Config is the YAML shape of a domain file.
type Config struct {
	Intents       []string              `yaml:"intents"`
	Entities      []string              `yaml:"entities"`
	Slots         map[string]SlotConfig `yaml:"slots"`
	Responses     map[string][]Response `yaml:"responses"`
	Actions       []string              `yaml:"actions"`
	SessionConfig *core.SessionConfig   `yaml:"session_config"`
}

// New builds a domain from a config.
func New(cfg Config) *Domain {
	d := &Domain{
		intents:   map[string]bool{},
		entities:  map[string]bool{},
		responses: map[string][]Response{},
		session:   DefaultSessionConfig,
	}
	for _, name := range DefaultIntents {
		d.intents[name] = true
	}
	for _, name := range cfg.Intents {
		d.intents[name] = true
	}
	for _, name := range cfg.Entities {
		d.entities[name] = true
	}
	names := make([]string, 0, len(cfg.Slots))
	for name := range cfg.Slots {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sc := cfg.Slots[name]
		s := core.NewSlot(name, sc.Type)
		s.InitialValue = core.NormalizeValue(sc.InitialValue)
		s.Values = sc.Values
		if sc.AutoFill != nil {
			s.AutoFill = *sc.AutoFill
		}
		d.slots = append(d.slots, s.Declaration())
	}
	for name, variations := range cfg.Responses {
		d.responses[name] = append([]Response(nil), variations...)
	}
	d.actions = append(d.actions, cfg.Actions...)
	if cfg.SessionConfig != nil {
		d.session = *cfg.SessionConfig
	}
	return d
}

// Empty returns a domain that only knows the default intents.
func Empty() *Domain { return New(Config{}) }

// Parse decodes a YAML domain definition.
func Parse(data []byte) (*Domain, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: decode domain: %v", core.ErrConfiguration, err)
	}
	for name, s := range cfg.Slots {
		if s.Type == core.SlotTypeCategorical && len(s.Values) == 0 {
			return nil, fmt.Errorf("%w: categorical slot %q has no values", core.ErrConfiguration, name)
		}
	}
	return New(cfg), nil
}

// Load reads and parses a YAML domain file.
func Load(path string) (*Domain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read domain: %v", core.ErrConfiguration, err)
	}
	return Parse(data)
}

// HasIntent implements core.Domain.
func (d *Domain) HasIntent(name string) bool { return d.intents[name] }

// HasEntity implements core.Domain.
func (d *Domain) HasEntity(name string) bool { return d.entities[name] }

// Slots implements core.Domain. Declarations are sorted by name.
func (d *Domain) Slots() []core.Slot {
	out := make([]core.Slot, len(d.slots))
	for i, s := range d.slots {
		out[i] = s.Declaration()
	}
	return out
}

// SessionConfig implements core.Domain.
func (d *Domain) SessionConfig() core.SessionConfig { return d.session }

// Intents returns the sorted intent names, default intents included.
func (d *Domain) Intents() []string { return sortedKeys(d.intents) }

// Entities returns the sorted entity names.
func (d *Domain) Entities() []string { return sortedKeys(d.entities) }

// Responses returns the variations of a response template.
func (d *Domain) Responses(name string) ([]Response, bool) {
	r, ok := d.responses[name]
	return r, ok
}

// ResponseNames returns the sorted response template names.
func (d *Domain) ResponseNames() []string {
	out := make([]string, 0, len(d.responses))
	for name := range d.responses {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Actions returns the declared custom action names.
func (d *Domain) Actions() []string { return append([]string(nil), d.actions...) }

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
