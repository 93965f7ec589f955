package action

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/convoflow/core"
)

// Registry resolves action names. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]core.Action
}

// NewRegistry creates a registry holding the built-ins and the given actions.
func NewRegistry(actions ...core.Action) *Registry {
	r := &Registry{actions: map[string]core.Action{}}
	r.Register(Listen{}, SessionStart{}, Restart{}, DefaultFallback{})
	r.Register(actions...)
	return r
}

// Register adds or replaces actions by name.
func (r *Registry) Register(actions ...core.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range actions {
		r.actions[a.Name()] = a
	}
}

// Get returns the action for name. Unregistered "utter_" names resolve to a
// Response action.
func (r *Registry) Get(name string) (core.Action, error) {
	r.mu.RLock()
	a, ok := r.actions[name]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}
	if IsResponseName(name) {
		return NewResponse(name), nil
	}
	return nil, fmt.Errorf("%w: %q", core.ErrActionNotFound, name)
}

// Names returns the sorted registered action names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
