package scene

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/achilleasa/raypick/mesh"
	"github.com/achilleasa/raypick/types"
)

// ErrSingularTransform is reported for instances whose world transform cannot
// be inverted.
var ErrSingularTransform = errors.New("scene: singular instance transform")

// An Instance places a shared geometry in world space. All instances of the
// same geometry share its BVH; each keeps the matrices needed to move rays
// into local space and hits back into world space.
type Instance struct {
	name     string
	geometry *mesh.Geometry

	transform    types.Mat4
	worldToLocal types.Mat4
	normalMatrix types.Mat3
	singular     bool

	bounds atomic.Pointer[instanceBounds]
}

// A world bounding box and the geometry bounds revision it was derived from.
type instanceBounds struct {
	bbox     types.AABB
	revision uint64
}

// Create a new instance of g positioned by transform.
func NewInstance(name string, g *mesh.Geometry, transform types.Mat4) *Instance {
	in := &Instance{
		name:     name,
		geometry: g,
	}
	in.SetTransform(transform)
	return in
}

// Update the world transform and the matrices and bounds derived from it.
func (in *Instance) SetTransform(transform types.Mat4) {
	in.transform = transform
	in.singular = transform.IsSingular()
	if in.singular {
		in.worldToLocal = types.Mat4{}
		in.normalMatrix = types.Mat3{}
		in.bounds.Store(nil)
		return
	}

	in.worldToLocal = transform.Inv()
	in.normalMatrix = transform.NormalMatrix()
	in.UpdateBounds()
}

// Recompute the world bounding box from the geometry's current local bounds.
// BBox does this on its own once the geometry bounds change; calling it
// explicitly moves the work out of the query path.
func (in *Instance) UpdateBounds() {
	if in.singular {
		return
	}
	in.refreshBounds()
}

func (in *Instance) refreshBounds() *instanceBounds {
	bbox, revision := in.geometry.Bounds()
	b := &instanceBounds{bbox: bbox.Transform(in.transform), revision: revision}
	in.bounds.Store(b)
	return b
}

// Get the instance name.
func (in *Instance) Name() string {
	return in.name
}

// Get the instanced geometry.
func (in *Instance) Geometry() *mesh.Geometry {
	return in.geometry
}

// Get the local to world transform.
func (in *Instance) Transform() types.Mat4 {
	return in.transform
}

// Get the world to local transform.
func (in *Instance) WorldToLocal() types.Mat4 {
	return in.worldToLocal
}

// Get the matrix for transforming local normals into world space.
func (in *Instance) NormalMatrix() types.Mat3 {
	return in.normalMatrix
}

// Get the world-space bounding box. Singular instances report an empty box.
// The box is recomputed if the geometry was deformed since it was last
// derived.
func (in *Instance) BBox() types.AABB {
	if in.singular {
		return types.EmptyAABB()
	}
	b := in.bounds.Load()
	if b == nil || b.revision != in.geometry.BoundsRevision() {
		b = in.refreshBounds()
	}
	return b.bbox
}

// Returns true if the instance transform is not invertible. Such instances
// are never hit.
func (in *Instance) Singular() bool {
	return in.singular
}

// Returns ErrSingularTransform if the instance cannot take part in queries.
func (in *Instance) Validate() error {
	if in.singular {
		return fmt.Errorf("instance %q: %w", in.name, ErrSingularTransform)
	}
	return nil
}
