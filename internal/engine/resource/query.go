package resource

import (
	"github.com/Faultbox/texlink/internal/engine/scene"
	"github.com/Faultbox/texlink/internal/metrics"
)

// Material returns a tracked material proxy.
func (m *Manager) Material(id string) (*MaterialProxy, bool) {
	n, ok := m.graph.get(materialKey(id))
	if !ok {
		return nil, false
	}
	return n.value.(*MaterialProxy), true
}

// Texture returns a tracked texture.
func (m *Manager) Texture(id string) (*scene.Texture, bool) {
	n, ok := m.graph.get(textureKey(id))
	if !ok {
		return nil, false
	}
	return n.value.(*scene.Texture), true
}

// Object returns a tracked scene node.
func (m *Manager) Object(id string) (scene.Node, bool) {
	n, ok := m.graph.get(objectKey(id))
	if !ok {
		return nil, false
	}
	return n.value.(scene.Node), true
}

// DocumentTexture returns the texture currently mapped to a document.
func (m *Manager) DocumentTexture(documentID int) (*scene.Texture, bool) {
	for _, tk := range m.graph.uses(documentKey(documentID), kindTexture) {
		return m.Texture(tk.id)
	}
	return nil, false
}

// MaterialsUsingTexture returns the proxies referencing a texture.
func (m *Manager) MaterialsUsingTexture(textureID string) []*MaterialProxy {
	var out []*MaterialProxy
	for _, mk := range m.graph.users(textureKey(textureID), kindMaterial) {
		if p, ok := m.Material(mk.id); ok {
			out = append(out, p)
		}
	}
	return out
}

// TexturesUsedByMaterial returns the textures a proxy references.
func (m *Manager) TexturesUsedByMaterial(materialID string) []*scene.Texture {
	var out []*scene.Texture
	for _, tk := range m.graph.uses(materialKey(materialID), kindTexture) {
		if t, ok := m.Texture(tk.id); ok {
			out = append(out, t)
		}
	}
	return out
}

// MaterialsUsedByMesh returns the proxies a mesh is drawn with.
func (m *Manager) MaterialsUsedByMesh(meshID string) []*MaterialProxy {
	var out []*MaterialProxy
	for _, mk := range m.graph.uses(objectKey(meshID), kindMaterial) {
		if p, ok := m.Material(mk.id); ok {
			out = append(out, p)
		}
	}
	return out
}

// MeshesUsingMaterial returns the ids of meshes drawn with a proxy.
func (m *Manager) MeshesUsingMaterial(materialID string) []string {
	var out []string
	for _, k := range m.graph.users(materialKey(materialID), kindObject) {
		out = append(out, k.id)
	}
	return out
}

// Stats counts tracked resources.
type Stats struct {
	Objects    int
	Geometries int
	Materials  int
	Textures   int
	Documents  int
}

// Stats returns the current resource counts.
func (m *Manager) Stats() Stats {
	return Stats{
		Objects:    m.graph.count(kindObject),
		Geometries: m.graph.count(kindGeometry),
		Materials:  m.graph.count(kindMaterial),
		Textures:   m.graph.count(kindTexture),
		Documents:  m.graph.count(kindDocument),
	}
}

// publish mirrors the counts into the live resource gauges.
func (m *Manager) publish() {
	s := m.Stats()
	metrics.LiveResources.WithLabelValues(kindObject.String()).Set(float64(s.Objects))
	metrics.LiveResources.WithLabelValues(kindGeometry.String()).Set(float64(s.Geometries))
	metrics.LiveResources.WithLabelValues(kindMaterial.String()).Set(float64(s.Materials))
	metrics.LiveResources.WithLabelValues(kindTexture.String()).Set(float64(s.Textures))
	metrics.LiveResources.WithLabelValues(kindDocument.String()).Set(float64(s.Documents))
}
