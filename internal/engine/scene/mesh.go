package scene

import "github.com/google/uuid"

// Geometry is vertex data that meshes may share.
type Geometry struct {
	uuid      string
	Name      string
	Positions []float32
	Normals   []float32
	UVs       []float32
	Indices   []uint32
	disposed  bool
}

// NewGeometry creates geometry with a fresh identity.
func NewGeometry(name string) *Geometry {
	return &Geometry{uuid: uuid.NewString(), Name: name}
}

// UUID returns the geometry identity.
func (g *Geometry) UUID() string { return g.uuid }

// Dispose releases the geometry.
func (g *Geometry) Dispose() { g.disposed = true }

// Disposed reports whether Dispose was called.
func (g *Geometry) Disposed() bool { return g.disposed }

// Mesh draws a geometry with one material per group.
type Mesh struct {
	Object
	Geometry  *Geometry
	Materials []Material
}

// NewMesh creates a mesh. A mesh needs at least one material.
func NewMesh(name string, g *Geometry, materials ...Material) *Mesh {
	return &Mesh{Object: newObject(name), Geometry: g, Materials: materials}
}

// NewQuad returns a unit plane facing +Z, the surface documents are usually
// previewed on.
func NewQuad(name string) *Geometry {
	g := NewGeometry(name)
	g.Positions = []float32{-0.5, -0.5, 0, 0.5, -0.5, 0, 0.5, 0.5, 0, -0.5, 0.5, 0}
	g.Normals = []float32{0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1}
	g.UVs = []float32{0, 0, 1, 0, 1, 1, 0, 1}
	g.Indices = []uint32{0, 1, 2, 0, 2, 3}
	return g
}
