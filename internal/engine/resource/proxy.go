package resource

import "github.com/Faultbox/texlink/internal/engine/scene"

// LightingMode selects which face of every material proxy is drawn.
type LightingMode int

const (
	Lit LightingMode = iota
	Unlit
)

func (m LightingMode) String() string {
	if m == Unlit {
		return "unlit"
	}
	return "lit"
}

// MaterialProxy is one logical material with a lit and an unlit face. The
// proxy takes the lit material's identity; the unlit face is a flat
// BasicMaterial sharing its color, opacity and color/alpha maps. Basic
// materials are their own unlit face.
type MaterialProxy struct {
	id    string
	lit   scene.Material
	unlit scene.Material
}

func newProxy(m scene.Material) *MaterialProxy {
	p := &MaterialProxy{id: m.UUID(), lit: m, unlit: m}
	if !m.Kind().Lit() {
		return p
	}
	src := m.Common()
	flat := scene.NewBasicMaterial(src.Name + " (unlit)")
	flat.Color = src.Color
	flat.Opacity = src.Opacity
	flat.Transparent = src.Transparent
	for _, s := range m.TextureSlots() {
		switch s.Name {
		case "map":
			flat.Map = *s.Ref
		case "alphaMap":
			flat.AlphaMap = *s.Ref
		}
	}
	p.unlit = flat
	return p
}

// ID returns the proxy identity, which is the lit material's UUID.
func (p *MaterialProxy) ID() string { return p.id }

// Lit returns the lit face.
func (p *MaterialProxy) Lit() scene.Material { return p.lit }

// Unlit returns the unlit face.
func (p *MaterialProxy) Unlit() scene.Material { return p.unlit }

// Face selects the face drawn in mode.
func (p *MaterialProxy) Face(mode LightingMode) scene.Material {
	if mode == Unlit {
		return p.unlit
	}
	return p.lit
}

// faces returns the distinct faces.
func (p *MaterialProxy) faces() []scene.Material {
	if p.unlit == p.lit {
		return []scene.Material{p.lit}
	}
	return []scene.Material{p.lit, p.unlit}
}

// textures returns every texture referenced by either face.
func (p *MaterialProxy) textures() []*scene.Texture {
	var out []*scene.Texture
	seen := make(map[*scene.Texture]bool)
	for _, f := range p.faces() {
		for _, t := range scene.Textures(f) {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// setSlot assigns tex to the named slot on every face that has it.
func (p *MaterialProxy) setSlot(name string, tex *scene.Texture) (old []*scene.Texture, found bool) {
	for _, f := range p.faces() {
		for _, s := range f.TextureSlots() {
			if s.Name != name {
				continue
			}
			found = true
			if *s.Ref != nil && *s.Ref != tex {
				old = append(old, *s.Ref)
			}
			*s.Ref = tex
		}
	}
	return old, found
}

func (p *MaterialProxy) dispose() {
	for _, f := range p.faces() {
		f.Dispose()
	}
}

// supported reports whether a material kind can be proxied.
func supported(k scene.Kind) bool {
	switch k {
	case scene.KindBasic, scene.KindLambert, scene.KindPhong, scene.KindStandard, scene.KindPhysical:
		return true
	}
	return false
}
