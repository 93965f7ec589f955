package core

// SlotType names the value kind a slot holds.
type SlotType string

const (
	SlotTypeText        SlotType = "text"
	SlotTypeBool        SlotType = "bool"
	SlotTypeFloat       SlotType = "float"
	SlotTypeCategorical SlotType = "categorical"
	SlotTypeList        SlotType = "list"
	SlotTypeAny         SlotType = "any"
)

// Slot is a named conversational variable. Its Value is only ever changed by
// applying events to a tracker.
type Slot struct {
	Name         string   `json:"name" yaml:"-"`
	Type         SlotType `json:"type" yaml:"type"`
	InitialValue any      `json:"initial_value,omitempty" yaml:"initial_value"`
	// Values lists the allowed categories of a categorical slot.
	Values []string `json:"values,omitempty" yaml:"values"`
	// AutoFill fills the slot from an entity of the same name.
	AutoFill bool `json:"auto_fill" yaml:"auto_fill"`
	Value    any  `json:"value,omitempty" yaml:"-"`
}

// NewSlot declares an auto-filled slot without an initial value.
func NewSlot(name string, typ SlotType) Slot {
	if typ == "" {
		typ = SlotTypeText
	}
	return Slot{Name: name, Type: typ, AutoFill: true}
}

// Reset restores the initial value.
func (s *Slot) Reset() { s.Value = s.InitialValue }

// Declaration returns a copy of the slot holding its initial value.
func (s Slot) Declaration() Slot {
	s.Value = s.InitialValue
	if s.Values != nil {
		s.Values = append([]string(nil), s.Values...)
	}
	return s
}

// Accepts reports whether v is valid for a categorical slot. Other types
// accept any value. Trackers ignore SlotSet events a slot does not accept.
func (s Slot) Accepts(v any) bool {
	if s.Type != SlotTypeCategorical || v == nil || len(s.Values) == 0 {
		return true
	}
	str, ok := v.(string)
	if !ok {
		return false
	}
	for _, allowed := range s.Values {
		if allowed == str {
			return true
		}
	}
	return false
}
