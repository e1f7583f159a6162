package scene

import "github.com/google/uuid"

// Kind names a material model.
type Kind string

const (
	KindBasic    Kind = "basic"
	KindLambert  Kind = "lambert"
	KindPhong    Kind = "phong"
	KindStandard Kind = "standard"
	KindPhysical Kind = "physical"
	KindShader   Kind = "shader"
	KindPoints   Kind = "points"
)

// Lit reports whether the model reacts to scene lights.
func (k Kind) Lit() bool {
	switch k {
	case KindLambert, KindPhong, KindStandard, KindPhysical:
		return true
	}
	return false
}

// Color is a linear RGB color.
type Color struct {
	R, G, B float32
}

// White is the default material color.
var White = Color{1, 1, 1}

// TextureSlot is one texture-valued field of a material.
type TextureSlot struct {
	Name string
	Ref  **Texture
}

// Material is anything a mesh can be drawn with.
type Material interface {
	UUID() string
	Kind() Kind
	// Common returns the properties every material shares.
	Common() *MaterialBase
	// TextureSlots lists every texture field of the material, set or not.
	TextureSlots() []TextureSlot
	Dispose()
	Disposed() bool
}

// Textures returns the distinct textures a material currently references.
func Textures(m Material) []*Texture {
	var out []*Texture
	seen := make(map[*Texture]bool)
	for _, s := range m.TextureSlots() {
		if t := *s.Ref; t != nil && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// ReplaceTexture points every slot holding old at replacement and reports how
// many slots changed.
func ReplaceTexture(m Material, old, replacement *Texture) int {
	n := 0
	for _, s := range m.TextureSlots() {
		if *s.Ref == old {
			*s.Ref = replacement
			n++
		}
	}
	return n
}

// MaterialBase holds what every material has.
type MaterialBase struct {
	uuid        string
	Name        string
	Color       Color
	Opacity     float32
	Transparent bool
	disposed    bool
}

func newBase(name string) MaterialBase {
	return MaterialBase{uuid: uuid.NewString(), Name: name, Color: White, Opacity: 1}
}

// UUID returns the material identity.
func (m *MaterialBase) UUID() string { return m.uuid }

// Common returns m.
func (m *MaterialBase) Common() *MaterialBase { return m }

// Dispose releases the material.
func (m *MaterialBase) Dispose() { m.disposed = true }

// Disposed reports whether Dispose was called.
func (m *MaterialBase) Disposed() bool { return m.disposed }

// BasicMaps are the texture slots every mesh material has.
type BasicMaps struct {
	Map         *Texture
	AlphaMap    *Texture
	AOMap       *Texture
	EnvMap      *Texture
	LightMap    *Texture
	SpecularMap *Texture
}

func (b *BasicMaps) slots() []TextureSlot {
	return []TextureSlot{
		{"map", &b.Map},
		{"alphaMap", &b.AlphaMap},
		{"aoMap", &b.AOMap},
		{"envMap", &b.EnvMap},
		{"lightMap", &b.LightMap},
		{"specularMap", &b.SpecularMap},
	}
}

// SurfaceMaps are the slots of lit materials.
type SurfaceMaps struct {
	DisplacementMap *Texture
	EmissiveMap     *Texture
	BumpMap         *Texture
	NormalMap       *Texture
}

func (s *SurfaceMaps) slots() []TextureSlot {
	return []TextureSlot{
		{"displacementMap", &s.DisplacementMap},
		{"emissiveMap", &s.EmissiveMap},
		{"bumpMap", &s.BumpMap},
		{"normalMap", &s.NormalMap},
	}
}

// BasicMaterial ignores lights.
type BasicMaterial struct {
	MaterialBase
	BasicMaps
}

// NewBasicMaterial creates an unlit material.
func NewBasicMaterial(name string) *BasicMaterial {
	return &BasicMaterial{MaterialBase: newBase(name)}
}

func (m *BasicMaterial) Kind() Kind                  { return KindBasic }
func (m *BasicMaterial) TextureSlots() []TextureSlot { return m.BasicMaps.slots() }

// LambertMaterial is diffuse-only lighting.
type LambertMaterial struct {
	MaterialBase
	BasicMaps
	SurfaceMaps
}

// NewLambertMaterial creates a Lambert material.
func NewLambertMaterial(name string) *LambertMaterial {
	return &LambertMaterial{MaterialBase: newBase(name)}
}

func (m *LambertMaterial) Kind() Kind { return KindLambert }
func (m *LambertMaterial) TextureSlots() []TextureSlot {
	return append(m.BasicMaps.slots(), m.SurfaceMaps.slots()...)
}

// PhongMaterial adds specular highlights.
type PhongMaterial struct {
	MaterialBase
	BasicMaps
	SurfaceMaps
	Shininess float32
}

// NewPhongMaterial creates a Phong material.
func NewPhongMaterial(name string) *PhongMaterial {
	return &PhongMaterial{MaterialBase: newBase(name), Shininess: 30}
}

func (m *PhongMaterial) Kind() Kind { return KindPhong }
func (m *PhongMaterial) TextureSlots() []TextureSlot {
	return append(m.BasicMaps.slots(), m.SurfaceMaps.slots()...)
}

// StandardMaterial is metallic-roughness PBR.
type StandardMaterial struct {
	MaterialBase
	BasicMaps
	SurfaceMaps
	Roughness    float32
	Metalness    float32
	RoughnessMap *Texture
	MetalnessMap *Texture
}

// NewStandardMaterial creates a standard PBR material.
func NewStandardMaterial(name string) *StandardMaterial {
	return &StandardMaterial{MaterialBase: newBase(name), Roughness: 1}
}

func (m *StandardMaterial) Kind() Kind { return KindStandard }
func (m *StandardMaterial) TextureSlots() []TextureSlot {
	return m.standardSlots()
}

func (m *StandardMaterial) standardSlots() []TextureSlot {
	s := append(m.BasicMaps.slots(), m.SurfaceMaps.slots()...)
	return append(s,
		TextureSlot{"roughnessMap", &m.RoughnessMap},
		TextureSlot{"metalnessMap", &m.MetalnessMap},
	)
}

// PhysicalMaterial extends StandardMaterial with clearcoat, sheen,
// iridescence, anisotropy and transmission.
type PhysicalMaterial struct {
	StandardMaterial
	AnisotropyMap           *Texture
	ClearcoatMap            *Texture
	ClearcoatNormalMap      *Texture
	ClearcoatRoughnessMap   *Texture
	IridescenceMap          *Texture
	IridescenceThicknessMap *Texture
	SheenRoughnessMap       *Texture
	SheenColorMap           *Texture
	SpecularIntensityMap    *Texture
	SpecularColorMap        *Texture
	ThicknessMap            *Texture
	TransmissionMap         *Texture
}

// NewPhysicalMaterial creates a physical PBR material.
func NewPhysicalMaterial(name string) *PhysicalMaterial {
	return &PhysicalMaterial{StandardMaterial: StandardMaterial{MaterialBase: newBase(name), Roughness: 1}}
}

func (m *PhysicalMaterial) Kind() Kind { return KindPhysical }
func (m *PhysicalMaterial) TextureSlots() []TextureSlot {
	return append(m.standardSlots(),
		TextureSlot{"anisotropyMap", &m.AnisotropyMap},
		TextureSlot{"clearcoatMap", &m.ClearcoatMap},
		TextureSlot{"clearcoatNormalMap", &m.ClearcoatNormalMap},
		TextureSlot{"clearcoatRoughnessMap", &m.ClearcoatRoughnessMap},
		TextureSlot{"iridescenceMap", &m.IridescenceMap},
		TextureSlot{"iridescenceThicknessMap", &m.IridescenceThicknessMap},
		TextureSlot{"sheenRoughnessMap", &m.SheenRoughnessMap},
		TextureSlot{"sheenColorMap", &m.SheenColorMap},
		TextureSlot{"specularIntensityMap", &m.SpecularIntensityMap},
		TextureSlot{"specularColorMap", &m.SpecularColorMap},
		TextureSlot{"thicknessMap", &m.ThicknessMap},
		TextureSlot{"transmissionMap", &m.TransmissionMap},
	)
}

// ShaderMaterial runs custom shader code; its inputs are opaque.
type ShaderMaterial struct {
	MaterialBase
	VertexShader   string
	FragmentShader string
	Uniforms       map[string]any
}

// NewShaderMaterial creates a shader material.
func NewShaderMaterial(name, vertex, fragment string) *ShaderMaterial {
	return &ShaderMaterial{MaterialBase: newBase(name), VertexShader: vertex, FragmentShader: fragment}
}

func (m *ShaderMaterial) Kind() Kind                  { return KindShader }
func (m *ShaderMaterial) TextureSlots() []TextureSlot { return nil }

// PointsMaterial draws point sprites.
type PointsMaterial struct {
	MaterialBase
	Size float32
	Map  *Texture
}

// NewPointsMaterial creates a points material.
func NewPointsMaterial(name string) *PointsMaterial {
	return &PointsMaterial{MaterialBase: newBase(name), Size: 1}
}

func (m *PointsMaterial) Kind() Kind { return KindPoints }
func (m *PointsMaterial) TextureSlots() []TextureSlot {
	return []TextureSlot{{"map", &m.Map}}
}
