package flow

import (
	"fmt"
	"maps"
	"sort"
	"strings"
)

const (
	// DefaultResultKey is the key read at the end of a pipeline unless configured otherwise
	DefaultResultKey = "value"
	// InputKey holds the raw argument an operation was called with
	InputKey = "input"
	// ParamsKey is where validation stores the validated input
	ParamsKey = "params"
)

// StateOption configures a state on construction
type StateOption func(*State)

// ResultKey sets the key Result reads
func ResultKey(key string) StateOption {
	return func(s *State) {
		if key != "" {
			s.resultKey = key
		}
	}
}

// State is the ordered key value container threaded through the steps of one call.
//
// A state is owned by a single running call and is not safe for concurrent use.
// Keys are only ever added or overwritten, never removed.
type State struct {
	values    map[string]any
	keys      []string
	resultKey string
}

// NewState merges the operation context with the per call values, values win on conflict.
func NewState(context map[string]any, values map[string]any, opts ...StateOption) *State {
	s := &State{
		values:    make(map[string]any, len(context)+len(values)),
		resultKey: DefaultResultKey,
	}
	for _, o := range opts {
		o(s)
	}
	s.Update(context)
	s.Update(values)
	return s
}

// Get the value for key, nil when absent
func (s *State) Get(key string) any {
	return s.values[key]
}

// Fetch the value for key and whether it is present
func (s *State) Fetch(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Set the key to value, returns the state for chaining
func (s *State) Set(key string, value any) *State {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
	return s
}

// Includes is true when the key is present
func (s *State) Includes(key string) bool {
	_, ok := s.values[key]
	return ok
}

// ValuesAt returns the values for the keys in order, nil for absent keys
func (s *State) ValuesAt(keys ...string) []any {
	res := make([]any, len(keys))
	for i, k := range keys {
		res[i] = s.values[k]
	}
	return res
}

// Update merges the patch into the state and returns the same state.
// New keys are appended in sorted order so the key order stays deterministic.
func (s *State) Update(patch map[string]any) *State {
	if len(patch) == 0 {
		return s
	}
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.Set(k, patch[k])
	}
	return s
}

// Input the operation was called with
func (s *State) Input() any {
	return s.values[InputKey]
}

// ResultKey is the key Result reads
func (s *State) ResultKey() string {
	return s.resultKey
}

// Result is the value at the result key, nil when it was never set
func (s *State) Result() any {
	return s.values[s.resultKey]
}

// Keys in insertion order
func (s *State) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Len is the number of keys
func (s *State) Len() int {
	return len(s.keys)
}

// ToMap returns a copy of the values
func (s *State) ToMap() map[string]any {
	return maps.Clone(s.values)
}

// Slice returns a map with only the given keys that are present
func (s *State) Slice(keys ...string) map[string]any {
	res := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			res[k] = v
		}
	}
	return res
}

// Clone returns an independent shallow copy: later updates on either side don't leak
// into the other one. The values themselves are shared.
func (s *State) Clone() *State {
	return &State{
		values:    maps.Clone(s.values),
		keys:      append([]string(nil), s.keys...),
		resultKey: s.resultKey,
	}
}

func (s *State) String() string {
	var b strings.Builder
	b.WriteString("State{")
	for i, k := range s.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, s.values[k])
	}
	b.WriteString("}")
	return b.String()
}
