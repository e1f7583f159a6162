// Package camera drives the viewer's orbit camera from pointer input, using
// whichever control scheme the user selected.
package camera

import (
	gomath "math"

	"github.com/Faultbox/texlink/internal/settings"
	"github.com/Faultbox/texlink/pkg/math"
)

const (
	nearPlane = 0.01
	farPlane  = 1000
)

// Orbit circles a center point.
type Orbit struct {
	Center   math.Vec3
	Distance float32
	Pitch    float32 // radians above the XZ plane
	Yaw      float32 // radians around +Y

	MinDistance float32
	MaxDistance float32
	MinPitch    float32
	MaxPitch    float32
}

// NewOrbit returns a camera framing a unit quad at the origin.
func NewOrbit() *Orbit {
	return &Orbit{
		Distance:    2,
		MinDistance: 0.1,
		MaxDistance: 100,
		MinPitch:    -1.5,
		MaxPitch:    1.5,
	}
}

// Position returns the eye in world space.
func (o *Orbit) Position() math.Vec3 {
	return o.Center.Add(math.Spherical(o.Pitch, o.Yaw).Scale(o.Distance))
}

// View returns the view matrix.
func (o *Orbit) View() math.Mat4 {
	return math.LookAt(o.Position(), o.Center, math.Vec3{Y: 1})
}

// Rotate turns the camera by the given angles, keeping pitch in range.
func (o *Orbit) Rotate(dYaw, dPitch float32) {
	o.Yaw -= dYaw
	o.Pitch = clamp(o.Pitch+dPitch, o.MinPitch, o.MaxPitch)
}

// Zoom moves toward the center by a fraction of the current distance.
func (o *Orbit) Zoom(fraction float32) {
	o.Distance = clamp(o.Distance*(1-fraction), o.MinDistance, o.MaxDistance)
}

// Pan slides the center in the view plane; dx and dy are in units of the
// current distance.
func (o *Orbit) Pan(dx, dy float32) {
	forward := o.Center.Sub(o.Position()).Normalize()
	right := forward.Cross(math.Vec3{Y: 1}).Normalize()
	up := right.Cross(forward)
	o.Center = o.Center.
		Add(right.Scale(-dx * o.Distance)).
		Add(up.Scale(dy * o.Distance))
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}

// Controller maps drags and scrolls to camera and light motion.
type Controller struct {
	Camera *Orbit

	// LightPitch and LightYaw aim the directional light.
	LightPitch float32
	LightYaw   float32

	// Sensitivity converts pointer pixels to radians or distance fractions.
	Sensitivity float32

	scheme settings.ControlScheme
	fov    float64
	active settings.Action
}

// NewController creates a controller using the given settings.
func NewController(us settings.UserSettings) *Controller {
	c := &Controller{
		Camera:      NewOrbit(),
		LightPitch:  0.8,
		LightYaw:    0.6,
		Sensitivity: 0.005,
	}
	c.Apply(us)
	return c
}

// Apply takes the control scheme and field of view from us.
func (c *Controller) Apply(us settings.UserSettings) {
	c.scheme = us.Controls.ActiveScheme()
	c.fov = us.Display.CameraFOV
}

// FOV returns the vertical field of view in degrees.
func (c *Controller) FOV() float64 { return c.fov }

// Press starts a drag with key held (empty for none) and reports the action
// the drag performs.
func (c *Controller) Press(key string, button settings.MouseButton) settings.Action {
	c.active = c.scheme.ActionFor(key, button)
	return c.active
}

// Release ends the drag.
func (c *Controller) Release() { c.active = settings.ActionNone }

// Drag applies pointer motion in pixels to the active action.
func (c *Controller) Drag(dx, dy float32) {
	s := c.Sensitivity
	switch c.active {
	case settings.ActionRotate:
		c.Camera.Rotate(dx*s, dy*s)
	case settings.ActionPan:
		c.Camera.Pan(dx*s, dy*s)
	case settings.ActionZoom:
		c.Camera.Zoom(-dy * s)
	case settings.ActionLight:
		c.LightYaw -= dx * s
		c.LightPitch = clamp(c.LightPitch+dy*s, -1.5, 1.5)
	}
}

// Scroll zooms by wheel notches when the scheme allows it and reports
// whether it did.
func (c *Controller) Scroll(notches float32) bool {
	if !c.scheme.ScrollZoomEnabled {
		return false
	}
	c.Camera.Zoom(notches * 0.1)
	return true
}

// Projection returns the projection matrix for a viewport aspect ratio.
func (c *Controller) Projection(aspect float32) math.Mat4 {
	fovY := float32(c.fov * gomath.Pi / 180)
	return math.Perspective(fovY, aspect, nearPlane, farPlane)
}

// LightDirection returns the unit vector pointing toward the light.
func (c *Controller) LightDirection() math.Vec3 {
	return math.Spherical(c.LightPitch, c.LightYaw)
}
