package bot

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Selectors is the per-platform UI element configuration. Exact selector
// values are configuration data, not design: the compiled-in defaults in
// meet.go/zoom.go/teams.go track the current web clients, and an operator
// can override any set from a TOML file when a platform ships a UI change
// faster than we ship a binary.
type Selectors struct {
	NameInput      []string `toml:"name_input"`
	PreJoinMicMute []string `toml:"pre_join_mic_mute"`
	PreJoinCamMute []string `toml:"pre_join_cam_mute"`
	JoinButtons    []string `toml:"join_buttons"`
	JoinedSignals  []string `toml:"joined_signals"`
	LeaveButtons   []string `toml:"leave_buttons"`
	KickedSignals  []string `toml:"kicked_signals"`
	EndedSignals   []string `toml:"ended_signals"`
}

// merge returns s with every empty set filled from base.
func (s Selectors) merge(base Selectors) Selectors {
	pick := func(override, def []string) []string {
		if len(override) > 0 {
			return override
		}
		return def
	}
	return Selectors{
		NameInput:      pick(s.NameInput, base.NameInput),
		PreJoinMicMute: pick(s.PreJoinMicMute, base.PreJoinMicMute),
		PreJoinCamMute: pick(s.PreJoinCamMute, base.PreJoinCamMute),
		JoinButtons:    pick(s.JoinButtons, base.JoinButtons),
		JoinedSignals:  pick(s.JoinedSignals, base.JoinedSignals),
		LeaveButtons:   pick(s.LeaveButtons, base.LeaveButtons),
		KickedSignals:  pick(s.KickedSignals, base.KickedSignals),
		EndedSignals:   pick(s.EndedSignals, base.EndedSignals),
	}
}

// SelectorOverrides holds optional operator-supplied selector sets.
type SelectorOverrides struct {
	Meet  Selectors `toml:"meet"`
	Zoom  Selectors `toml:"zoom"`
	Teams Selectors `toml:"teams"`
}

// LoadSelectorOverrides reads a TOML override file. A missing path is not
// an error; it yields empty overrides.
func LoadSelectorOverrides(path string) (SelectorOverrides, error) {
	var ov SelectorOverrides
	if path == "" {
		return ov, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ov, nil
	}
	if _, err := toml.DecodeFile(path, &ov); err != nil {
		return SelectorOverrides{}, fmt.Errorf("parsing selector overrides %s: %w", path, err)
	}
	return ov, nil
}
