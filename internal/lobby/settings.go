// internal/lobby/settings.go
package lobby

import (
	"github.com/jason-s-yu/tablesync/internal/game/uno"
	"github.com/jason-s-yu/tablesync/internal/protocol"
)

// Preference keys with a dedicated settings field. Any other key names a
// boolean feature flag.
const (
	PrefMaxPlayers = "maxPlayers"
	PrefMode       = "mode"
)

// DefaultMode is the mode of a lobby created without preferences.
const DefaultMode = "classic"

// Settings are chosen at creation and used for matchmaking.
type Settings struct {
	MaxPlayers int             `json:"maxPlayers"`
	Mode       string          `json:"mode"`
	Flags      map[string]bool `json:"flags,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{MaxPlayers: uno.MaxPlayers, Mode: DefaultMode}
}

// Matches is a field-equality check over the provided preference keys only.
func (s Settings) Matches(prefs map[string]interface{}) bool {
	for key, want := range prefs {
		switch key {
		case PrefMaxPlayers:
			n, ok := asInt(want)
			if !ok || n != s.MaxPlayers {
				return false
			}
		case PrefMode:
			mode, ok := want.(string)
			if !ok || mode != s.Mode {
				return false
			}
		default:
			flag, ok := want.(bool)
			if !ok || flag != s.Flags[key] {
				return false
			}
		}
	}
	return true
}

// WithPreferences returns a copy of s overridden by prefs.
func (s Settings) WithPreferences(prefs map[string]interface{}) (Settings, error) {
	out := Settings{MaxPlayers: s.MaxPlayers, Mode: s.Mode}
	if len(s.Flags) > 0 {
		out.Flags = make(map[string]bool, len(s.Flags))
		for k, v := range s.Flags {
			out.Flags[k] = v
		}
	}
	for key, val := range prefs {
		switch key {
		case PrefMaxPlayers:
			n, ok := asInt(val)
			if !ok || n < uno.MinPlayers || n > uno.MaxPlayers {
				return s, protocol.Errorf(protocol.CodeProtocol, "maxPlayers must be %d-%d", uno.MinPlayers, uno.MaxPlayers)
			}
			out.MaxPlayers = n
		case PrefMode:
			mode, ok := val.(string)
			if !ok || mode == "" {
				return s, protocol.Errorf(protocol.CodeProtocol, "mode must be a non-empty string")
			}
			out.Mode = mode
		default:
			flag, ok := val.(bool)
			if !ok {
				return s, protocol.Errorf(protocol.CodeProtocol, "feature flag %q must be a boolean", key)
			}
			if out.Flags == nil {
				out.Flags = make(map[string]bool)
			}
			out.Flags[key] = flag
		}
	}
	return out, nil
}

// asInt accepts the float64 that encoding/json produces as well as Go ints.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}
