// Package resource tracks which meshes, materials, geometries, textures and
// documents reference each other, and disposes each resource exactly when
// nothing references it any more.
package resource

import (
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/Faultbox/texlink/internal/engine/scene"
	"github.com/Faultbox/texlink/internal/logger"
)

var (
	// ErrUnknownEntity is returned for ids the manager does not track.
	ErrUnknownEntity = errors.New("unknown resource")

	// ErrUnsupportedMaterial is returned when wrapping a material kind that
	// cannot be proxied.
	ErrUnsupportedMaterial = errors.New("unsupported material kind")

	// ErrDuplicateEntity is returned when adding an object already in the scene.
	ErrDuplicateEntity = errors.New("resource already tracked")
)

// Manager owns the scene graph's resource bookkeeping. Every mutation of
// scene membership, mesh materials or document textures must go through it.
// It is not safe for concurrent use.
type Manager struct {
	scene *scene.Scene
	graph *graph
	// faces maps each face material's UUID to its proxy id.
	faces    map[string]string
	mode     LightingMode
	fallback *MaterialProxy
	log      *zap.Logger
}

// NewManager creates a manager for sc. A nil log uses the package logger.
func NewManager(sc *scene.Scene, log *zap.Logger) *Manager {
	if log == nil {
		log = logger.Named("resource")
	}
	m := &Manager{
		scene: sc,
		graph: newGraph(),
		faces: make(map[string]string),
		log:   log,
	}
	def := scene.NewStandardMaterial("default")
	def.Color = scene.Color{R: 0.8, G: 0.8, B: 0.8}
	m.fallback = m.register(def)
	return m
}

func objectKey(id string) key   { return key{kindObject, id} }
func geometryKey(id string) key { return key{kindGeometry, id} }
func materialKey(id string) key { return key{kindMaterial, id} }
func textureKey(id string) key  { return key{kindTexture, id} }
func documentKey(id int) key    { return key{kindDocument, strconv.Itoa(id)} }

// Scene returns the managed scene.
func (m *Manager) Scene() *scene.Scene { return m.scene }

// DefaultMaterial returns the material substituted for unsupported or removed ones.
func (m *Manager) DefaultMaterial() *MaterialProxy { return m.fallback }

// Mode returns the current lighting mode.
func (m *Manager) Mode() LightingMode { return m.mode }

func (m *Manager) unknown(what, id string) error {
	err := fmt.Errorf("%w: %s %s", ErrUnknownEntity, what, id)
	m.log.Error("resource not found", zap.String("kind", what), zap.String("uuid", id))
	return err
}

// register adds a proxy for mat and records the textures it uses.
func (m *Manager) register(mat scene.Material) *MaterialProxy {
	p := newProxy(mat)
	mk := materialKey(p.id)
	m.graph.put(mk, p)
	for _, f := range p.faces() {
		m.faces[f.UUID()] = p.id
	}
	for _, t := range p.textures() {
		m.graph.put(textureKey(t.UUID()), t)
		m.graph.link(mk, textureKey(t.UUID()))
	}
	return p
}

// proxyOf returns the proxy a face material belongs to.
func (m *Manager) proxyOf(mat scene.Material) (*MaterialProxy, bool) {
	id, ok := m.faces[mat.UUID()]
	if !ok {
		return nil, false
	}
	return m.Material(id)
}

// WrapMaterial returns the proxy for mat, registering it on first use.
func (m *Manager) WrapMaterial(mat scene.Material) (*MaterialProxy, error) {
	if p, ok := m.proxyOf(mat); ok {
		return p, nil
	}
	if !supported(mat.Kind()) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMaterial, mat.Kind())
	}
	p := m.register(mat)
	m.publish()
	return p, nil
}

// AddObjectToScene attaches root to the scene and registers every mesh,
// geometry, material and texture below it. Meshes are switched to the
// proxy face of the current lighting mode; unsupported materials are
// replaced by the default material.
func (m *Manager) AddObjectToScene(root scene.Node) error {
	rootID := root.Base().UUID()
	if m.graph.has(objectKey(rootID)) {
		m.log.Error("object already in scene", zap.String("uuid", rootID))
		return fmt.Errorf("%w: object %s", ErrDuplicateEntity, rootID)
	}
	m.scene.Add(root)

	scene.Traverse(root, func(n scene.Node) {
		nk := objectKey(n.Base().UUID())
		m.graph.put(nk, n)
		mesh, isMesh := n.(*scene.Mesh)
		if !isMesh {
			return
		}
		if mesh.Geometry != nil {
			gk := geometryKey(mesh.Geometry.UUID())
			m.graph.put(gk, mesh.Geometry)
			m.graph.link(nk, gk)
		}
		if len(mesh.Materials) == 0 {
			mesh.Materials = []scene.Material{nil}
		}
		for i, mat := range mesh.Materials {
			p := m.fallback
			if mat != nil {
				if existing, known := m.proxyOf(mat); known {
					p = existing
				} else if supported(mat.Kind()) {
					p = m.register(mat)
				} else {
					m.log.Error("unsupported material, using default",
						zap.String("uuid", mat.UUID()),
						zap.String("kind", string(mat.Kind())),
						zap.String("mesh", mesh.UUID()))
				}
			}
			mesh.Materials[i] = p.Face(m.mode)
			m.graph.link(nk, materialKey(p.id))
		}
	})
	m.publish()
	return nil
}

// SetMeshMaterial points every group of a mesh at p. Materials the mesh no
// longer uses are removed once no mesh uses them.
func (m *Manager) SetMeshMaterial(meshID string, p *MaterialProxy) error {
	n, ok := m.graph.get(objectKey(meshID))
	if !ok {
		return m.unknown("mesh", meshID)
	}
	mesh, isMesh := n.value.(*scene.Mesh)
	if !isMesh {
		return m.unknown("mesh", meshID)
	}
	if p == nil || !m.graph.has(materialKey(p.id)) {
		id := ""
		if p != nil {
			id = p.id
		}
		return m.unknown("material", id)
	}

	mk := materialKey(p.id)
	for _, old := range m.graph.uses(n.key, kindMaterial) {
		if old == mk {
			continue
		}
		m.graph.unlink(n.key, old)
		if len(m.graph.users(old, kindObject)) == 0 {
			m.removeMaterial(old.id)
		}
	}
	m.graph.link(n.key, mk)
	mesh.Materials = []scene.Material{p.Face(m.mode)}
	m.publish()
	return nil
}

// SetMaterialTexture assigns tex to a named slot on both faces of a material.
// A texture dropped from the slot is released if nothing else uses it.
func (m *Manager) SetMaterialTexture(materialID, slot string, tex *scene.Texture) error {
	p, ok := m.Material(materialID)
	if !ok {
		return m.unknown("material", materialID)
	}
	old, found := p.setSlot(slot, tex)
	if !found {
		return fmt.Errorf("%w: material %s has no slot %q", ErrUnknownEntity, materialID, slot)
	}
	mk := materialKey(p.id)
	if tex != nil {
		m.graph.put(textureKey(tex.UUID()), tex)
		m.graph.link(mk, textureKey(tex.UUID()))
	}
	still := make(map[*scene.Texture]bool)
	for _, t := range p.textures() {
		still[t] = true
	}
	for _, t := range old {
		if still[t] {
			continue
		}
		tk := textureKey(t.UUID())
		m.graph.unlink(mk, tk)
		m.releaseTexture(tk)
	}
	m.publish()
	return nil
}

// SetDocumentTexture makes tex the document's texture. Every material slot
// holding the previous texture, on both faces, is re-pointed at tex before
// the previous texture is disposed.
func (m *Manager) SetDocumentTexture(documentID int, tex *scene.Texture) error {
	if tex == nil {
		return fmt.Errorf("%w: nil texture for document %d", ErrUnknownEntity, documentID)
	}
	dk := documentKey(documentID)
	tk := textureKey(tex.UUID())
	current := m.graph.uses(dk, kindTexture)
	if len(current) == 1 && current[0] == tk {
		return nil
	}

	m.graph.put(dk, documentID)
	m.graph.put(tk, tex)
	m.graph.link(dk, tk)

	for _, oldKey := range current {
		oldNode, _ := m.graph.get(oldKey)
		old := oldNode.value.(*scene.Texture)
		for _, mk := range m.graph.users(oldKey, kindMaterial) {
			mn, _ := m.graph.get(mk)
			p := mn.value.(*MaterialProxy)
			for _, f := range p.faces() {
				scene.ReplaceTexture(f, old, tex)
			}
			m.graph.unlink(mk, oldKey)
			m.graph.link(mk, tk)
		}
		m.graph.unlink(dk, oldKey)
		m.releaseTexture(oldKey)
	}
	m.publish()
	return nil
}

// RemoveMaterial moves every mesh still using the material to the default
// material, releases textures nothing else uses and disposes both faces.
func (m *Manager) RemoveMaterial(id string) error {
	if !m.graph.has(materialKey(id)) {
		return m.unknown("material", id)
	}
	m.removeMaterial(id)
	m.publish()
	return nil
}

func (m *Manager) removeMaterial(id string) {
	if id == m.fallback.id {
		m.log.Debug("default material is never removed")
		return
	}
	mk := materialKey(id)
	n, ok := m.graph.get(mk)
	if !ok {
		return
	}
	p := n.value.(*MaterialProxy)

	fk := materialKey(m.fallback.id)
	for _, meshKey := range m.graph.users(mk, kindObject) {
		mn, _ := m.graph.get(meshKey)
		if mesh, isMesh := mn.value.(*scene.Mesh); isMesh {
			for i, f := range mesh.Materials {
				if f == p.lit || f == p.unlit {
					mesh.Materials[i] = m.fallback.Face(m.mode)
				}
			}
		}
		m.graph.unlink(meshKey, mk)
		m.graph.link(meshKey, fk)
	}

	textures := m.graph.uses(mk, kindTexture)
	m.graph.remove(mk)
	for _, tk := range textures {
		m.releaseTexture(tk)
	}

	for _, f := range p.faces() {
		delete(m.faces, f.UUID())
	}
	p.dispose()
	m.log.Debug("material removed", zap.String("uuid", id))
}

// releaseTexture disposes a texture no material or document references.
func (m *Manager) releaseTexture(tk key) {
	n, ok := m.graph.get(tk)
	if !ok || m.graph.referenced(tk) {
		return
	}
	m.graph.remove(tk)
	n.value.(*scene.Texture).Dispose()
	m.log.Debug("texture disposed", zap.String("uuid", tk.id))
}

// RemoveObjectFromScene detaches an object and its descendants, removing the
// materials and geometries only they used.
func (m *Manager) RemoveObjectFromScene(id string) error {
	n, ok := m.graph.get(objectKey(id))
	if !ok {
		return m.unknown("object", id)
	}
	root := n.value.(scene.Node)

	materials := make(map[key]bool)
	geometries := make(map[key]bool)
	scene.Traverse(root, func(child scene.Node) {
		ck := objectKey(child.Base().UUID())
		for _, mk := range m.graph.uses(ck, kindMaterial) {
			materials[mk] = true
		}
		for _, gk := range m.graph.uses(ck, kindGeometry) {
			geometries[gk] = true
		}
		m.graph.remove(ck)
	})

	for mk := range materials {
		if len(m.graph.users(mk, kindObject)) == 0 {
			m.removeMaterial(mk.id)
		}
	}
	for gk := range geometries {
		gn, ok := m.graph.get(gk)
		if !ok || m.graph.referenced(gk) {
			continue
		}
		m.graph.remove(gk)
		gn.value.(*scene.Geometry).Dispose()
	}

	root.Base().Detach()
	m.publish()
	return nil
}

// RemoveDocument drops a document's texture mapping. Materials using the
// texture that no mesh uses are removed; the texture is disposed once no
// material uses it. Removing an unknown document is a no-op.
func (m *Manager) RemoveDocument(documentID int) error {
	dk := documentKey(documentID)
	if !m.graph.has(dk) {
		return nil
	}
	textures := m.graph.uses(dk, kindTexture)
	m.graph.remove(dk)

	for _, tk := range textures {
		for _, mk := range m.graph.users(tk, kindMaterial) {
			if len(m.graph.users(mk, kindObject)) == 0 {
				m.removeMaterial(mk.id)
			}
		}
		m.releaseTexture(tk)
	}
	m.publish()
	return nil
}

// ToggleLightingMode flips between lit and unlit.
func (m *Manager) ToggleLightingMode() LightingMode {
	next := Lit
	if m.mode == Lit {
		next = Unlit
	}
	m.SetLightingMode(next)
	return next
}

// SetLightingMode swaps every mesh to the face of mode in one pass.
func (m *Manager) SetLightingMode(mode LightingMode) {
	if mode == m.mode {
		return
	}
	m.mode = mode
	for k, n := range m.graph.nodes {
		if k.kind != kindObject {
			continue
		}
		mesh, isMesh := n.value.(*scene.Mesh)
		if !isMesh {
			continue
		}
		for i, f := range mesh.Materials {
			if p, ok := m.proxyOf(f); ok {
				mesh.Materials[i] = p.Face(mode)
			}
		}
	}
	m.log.Debug("lighting mode changed", zap.Stringer("mode", mode))
}
