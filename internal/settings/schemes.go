package settings

import "strings"

// ControlSchemeType selects one of the built-in control schemes or a custom one.
type ControlSchemeType int

const (
	SchemePhotoshop ControlSchemeType = iota
	SchemeMaya
	SchemeBlender
	SchemeCustom
)

func (t ControlSchemeType) String() string {
	switch t {
	case SchemePhotoshop:
		return "PHOTOSHOP"
	case SchemeMaya:
		return "MAYA"
	case SchemeBlender:
		return "BLENDER"
	case SchemeCustom:
		return "CUSTOM"
	}
	return "UNKNOWN"
}

// MouseButton numbers match DOM MouseEvent.button.
type MouseButton int

const (
	MouseLeft MouseButton = iota
	MouseMiddle
	MouseRight
)

// InputCombination is an optional held key plus a mouse button.
type InputCombination struct {
	Key         string      `json:"key,omitempty"`
	MouseButton MouseButton `json:"mouseButton"`
}

// ControlScheme binds camera actions to inputs.
type ControlScheme struct {
	ScrollZoomEnabled bool              `json:"scrollZoomEnabled"`
	Pan               *InputCombination `json:"pan,omitempty"`
	Zoom              *InputCombination `json:"zoom,omitempty"`
	Rotate            *InputCombination `json:"rotate,omitempty"`
	Light             *InputCombination `json:"light,omitempty"`
}

// Action is a camera action an input resolves to.
type Action int

const (
	ActionNone Action = iota
	ActionPan
	ActionZoom
	ActionRotate
	ActionLight
)

// BuiltInSchemes are the schemes selectable without a custom definition.
var BuiltInSchemes = map[ControlSchemeType]ControlScheme{
	SchemeMaya: {
		Pan:               &InputCombination{Key: "Alt", MouseButton: MouseMiddle},
		Rotate:            &InputCombination{Key: "Alt", MouseButton: MouseLeft},
		Zoom:              &InputCombination{Key: "Alt", MouseButton: MouseRight},
		Light:             &InputCombination{Key: "l", MouseButton: MouseLeft},
		ScrollZoomEnabled: true,
	},
	SchemeBlender: {
		Pan:               &InputCombination{Key: "Shift", MouseButton: MouseMiddle},
		Rotate:            &InputCombination{MouseButton: MouseMiddle},
		Zoom:              &InputCombination{Key: "Control", MouseButton: MouseMiddle},
		Light:             &InputCombination{Key: "l", MouseButton: MouseLeft},
		ScrollZoomEnabled: true,
	},
	SchemePhotoshop: {
		Pan:               &InputCombination{Key: " ", MouseButton: MouseLeft},
		Rotate:            &InputCombination{Key: "r", MouseButton: MouseLeft},
		Zoom:              &InputCombination{Key: "z", MouseButton: MouseLeft},
		Light:             &InputCombination{Key: "l", MouseButton: MouseLeft},
		ScrollZoomEnabled: true,
	},
}

// ActiveScheme resolves the scheme currently selected.
func (c ControlsSettings) ActiveScheme() ControlScheme {
	if c.Scheme == SchemeCustom && c.CustomScheme != nil {
		return *c.CustomScheme
	}
	if s, ok := BuiltInSchemes[c.Scheme]; ok {
		return s
	}
	return BuiltInSchemes[SchemePhotoshop]
}

// ActionFor maps a held key (empty for none) and a pressed button to an action.
// Bindings that require a key win over bindings that only need the button.
func (s ControlScheme) ActionFor(key string, button MouseButton) Action {
	bindings := []struct {
		action Action
		combo  *InputCombination
	}{
		{ActionPan, s.Pan},
		{ActionZoom, s.Zoom},
		{ActionRotate, s.Rotate},
		{ActionLight, s.Light},
	}

	fallback := ActionNone
	for _, b := range bindings {
		if b.combo == nil || b.combo.MouseButton != button {
			continue
		}
		if b.combo.Key == "" {
			if fallback == ActionNone {
				fallback = b.action
			}
			continue
		}
		if key != "" && strings.EqualFold(b.combo.Key, key) {
			return b.action
		}
	}
	// A held key that binds nothing leaves the plain button binding usable.
	return fallback
}

func (s ControlScheme) clone() ControlScheme {
	cp := func(c *InputCombination) *InputCombination {
		if c == nil {
			return nil
		}
		v := *c
		return &v
	}
	return ControlScheme{
		ScrollZoomEnabled: s.ScrollZoomEnabled,
		Pan:               cp(s.Pan),
		Zoom:              cp(s.Zoom),
		Rotate:            cp(s.Rotate),
		Light:             cp(s.Light),
	}
}
