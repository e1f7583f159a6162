// Package scene holds the scene-graph primitives the viewer hands to the
// renderer: objects, meshes, geometry, materials and data textures.
package scene

import "github.com/google/uuid"

// Node is anything that can be placed in the scene graph.
type Node interface {
	Base() *Object
}

// Object is a named node with children.
type Object struct {
	uuid     string
	Name     string
	parent   *Object
	children []Node
}

// NewObject creates an empty group node.
func NewObject(name string) *Object {
	return &Object{uuid: uuid.NewString(), Name: name}
}

func newObject(name string) Object {
	return Object{uuid: uuid.NewString(), Name: name}
}

// Base returns the object itself.
func (o *Object) Base() *Object { return o }

// UUID returns the node identity.
func (o *Object) UUID() string { return o.uuid }

// Parent returns the parent node, or nil for a root.
func (o *Object) Parent() *Object { return o.parent }

// Children returns the direct children.
func (o *Object) Children() []Node { return o.children }

// Add attaches children, detaching each from its previous parent first.
func (o *Object) Add(children ...Node) {
	for _, c := range children {
		b := c.Base()
		if b == o {
			continue
		}
		if b.parent != nil {
			b.parent.Remove(c)
		}
		b.parent = o
		o.children = append(o.children, c)
	}
}

// Remove detaches a direct child. It reports whether child was attached.
func (o *Object) Remove(child Node) bool {
	b := child.Base()
	for i, c := range o.children {
		if c.Base() == b {
			o.children = append(o.children[:i], o.children[i+1:]...)
			b.parent = nil
			return true
		}
	}
	return false
}

// Detach removes the object from its parent.
func (o *Object) Detach() {
	if o.parent != nil {
		o.parent.Remove(o)
	}
}

// Traverse calls fn for n and every descendant, depth first, parents first.
func Traverse(n Node, fn func(Node)) {
	fn(n)
	for _, c := range n.Base().children {
		Traverse(c, fn)
	}
}

// Scene is the root of a scene graph.
type Scene struct {
	Object
}

// NewScene creates an empty scene.
func NewScene() *Scene {
	return &Scene{Object: newObject("scene")}
}
