// Package settings holds the user-facing settings record shared by the
// producer and the viewer, its validation and its JSON persistence.
package settings

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSettings is returned when a settings record fails validation.
var ErrInvalidSettings = errors.New("invalid settings")

// UserSettings is the persisted settings record.
type UserSettings struct {
	Grid     GridSettings     `json:"gridSettings"`
	Display  DisplaySettings  `json:"displaySettings"`
	Controls ControlsSettings `json:"controlsSettings"`
}

// GridSettings configures the ground grid helper.
type GridSettings struct {
	Size      float64 `json:"size"`
	Divisions int     `json:"divisions"`
	Visible   bool    `json:"visible"`
}

// DisplaySettings configures the camera and captured texture size.
type DisplaySettings struct {
	CameraFOV float64 `json:"cameraFOV"`
	// TextureResolutionScale is applied to the document's native size when capturing.
	TextureResolutionScale float64 `json:"textureResolutionScale"`
}

// ControlsSettings selects the camera control scheme.
type ControlsSettings struct {
	Scheme       ControlSchemeType `json:"scheme"`
	CustomScheme *ControlScheme    `json:"customScheme,omitempty"`
}

// Default returns the settings used when nothing is persisted.
func Default() UserSettings {
	return UserSettings{
		Grid: GridSettings{
			Size:      10,
			Divisions: 10,
			Visible:   true,
		},
		Display: DisplaySettings{
			CameraFOV:              75,
			TextureResolutionScale: 0.5,
		},
		Controls: ControlsSettings{
			Scheme: SchemePhotoshop,
		},
	}
}

// Validate checks every field against its allowed range.
func (s UserSettings) Validate() error {
	if s.Grid.Size <= 0 {
		return fmt.Errorf("%w: grid size %v", ErrInvalidSettings, s.Grid.Size)
	}
	if s.Grid.Divisions < 1 {
		return fmt.Errorf("%w: grid divisions %d", ErrInvalidSettings, s.Grid.Divisions)
	}
	if s.Display.CameraFOV <= 0 || s.Display.CameraFOV >= 180 {
		return fmt.Errorf("%w: camera fov %v", ErrInvalidSettings, s.Display.CameraFOV)
	}
	if s.Display.TextureResolutionScale <= 0 || s.Display.TextureResolutionScale > 1 {
		return fmt.Errorf("%w: texture resolution scale %v", ErrInvalidSettings, s.Display.TextureResolutionScale)
	}
	switch s.Controls.Scheme {
	case SchemePhotoshop, SchemeMaya, SchemeBlender:
	case SchemeCustom:
		if s.Controls.CustomScheme == nil {
			return fmt.Errorf("%w: custom scheme selected without a definition", ErrInvalidSettings)
		}
	default:
		return fmt.Errorf("%w: unknown control scheme %d", ErrInvalidSettings, s.Controls.Scheme)
	}
	return nil
}

// Clone returns a deep copy.
func (s UserSettings) Clone() UserSettings {
	out := s
	if s.Controls.CustomScheme != nil {
		cs := s.Controls.CustomScheme.clone()
		out.Controls.CustomScheme = &cs
	}
	return out
}

// TargetSize scales a native document size by the resolution scale,
// rounding to the nearest integer and never going below one pixel.
func (d DisplaySettings) TargetSize(width, height int) (int, int) {
	scale := d.TextureResolutionScale
	if scale <= 0 {
		scale = 1
	}
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	return max(w, 1), max(h, 1)
}
