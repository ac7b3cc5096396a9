// Package control holds the process-wide realtime-session configuration:
// environment-derived defaults plus runtime overrides, served as ready-to-send
// session.update event payloads.
package control

import (
	"encoding/json"
	"sync"
)

// State is safe for concurrent use. Writes go through the admin endpoint and
// are serialized; readers get an independent deep copy.
type State struct {
	mu       sync.RWMutex
	defaults map[string]any
	override map[string]any // nil until set; replaces defaults wholesale
}

func NewState(defaults map[string]any) *State {
	if defaults == nil {
		defaults = map[string]any{}
	}
	return &State{defaults: deepCopy(defaults)}
}

// Session returns the effective session payload: the override if one has been
// set, otherwise the startup defaults.
func (s *State) Session() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.override != nil {
		return deepCopy(s.override)
	}
	return deepCopy(s.defaults)
}

// SessionUpdate returns a session.update event ready to send on a model
// WebSocket.
func (s *State) SessionUpdate() map[string]any {
	return map[string]any{
		"type":    "session.update",
		"session": s.Session(),
	}
}

// SetOverride installs a runtime override. It lasts for the process lifetime;
// restart reverts to defaults.
func (s *State) SetOverride(session map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = deepCopy(session)
}

// ClearOverride reverts to the startup defaults.
func (s *State) ClearOverride() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = nil
}

// Override returns the current override, if any.
func (s *State) Override() (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.override == nil {
		return nil, false
	}
	return deepCopy(s.override), true
}

// deepCopy round-trips through JSON: the payloads are JSON-shaped by
// construction and this keeps snapshots fully detached from internal state.
func deepCopy(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
