package mesh

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/achilleasa/raypick/bvh"
	"github.com/achilleasa/raypick/types"
)

var nextGeometryID atomic.Uint64

// The BVH cached on a geometry together with the topology revision it was
// built from.
type cacheEntry struct {
	tree     *bvh.MeshBVH
	revision uint64
}

// A triangle mesh. Positions hold 3 floats per vertex and indices 3 vertex
// indices per triangle. The geometry owns the slot where the Store caches its
// BVH; all instances referencing the geometry share that BVH.
type Geometry struct {
	id   uint64
	name string

	mu        sync.RWMutex
	positions []float32
	indices   []uint32
	bbox      types.AABB

	// Bumped whenever the index buffer is replaced.
	revision atomic.Uint64

	// Bumped whenever bbox changes.
	boundsRevision atomic.Uint64

	// Set when positions change after the cached BVH was built or refit.
	deformed atomic.Bool

	cache atomic.Pointer[cacheEntry]
}

// Create a new geometry. The buffers are retained, not copied; callers must
// not modify them afterwards except through SetPositions and SetIndices.
func NewGeometry(name string, positions []float32, indices []uint32) (*Geometry, error) {
	if err := bvh.Validate(positions, indices); err != nil {
		return nil, fmt.Errorf("geometry %q: %w", name, err)
	}

	g := &Geometry{
		id:        nextGeometryID.Add(1),
		name:      name,
		positions: positions,
		indices:   indices,
	}
	g.bbox = computeBBox(positions, indices)
	return g, nil
}

// Get the unique geometry id.
func (g *Geometry) ID() uint64 {
	return g.id
}

// Get the geometry name.
func (g *Geometry) Name() string {
	return g.name
}

// Get the current vertex positions.
func (g *Geometry) Positions() []float32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.positions
}

// Get the index buffer.
func (g *Geometry) Indices() []uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.indices
}

// Get the local-space bounding box of all referenced vertices.
func (g *Geometry) BBox() types.AABB {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bbox
}

// Get the local-space bounding box together with its revision. The revision
// changes every time the positions or indices are replaced, allowing callers
// that derive data from the box to detect when it is stale.
func (g *Geometry) Bounds() (types.AABB, uint64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bbox, g.boundsRevision.Load()
}

// Get the current bounding box revision.
func (g *Geometry) BoundsRevision() uint64 {
	return g.boundsRevision.Load()
}

// Get the number of triangles.
func (g *Geometry) TriangleCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.indices) / 3
}

// Get the vertices of triangle tri.
func (g *Geometry) Triangle(tri uint32) (v0, v1, v2 types.Vec3) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	base := tri * 3
	return vertex(g.positions, g.indices[base]), vertex(g.positions, g.indices[base+1]), vertex(g.positions, g.indices[base+2])
}

// Replace the vertex positions with a deformed set of the same length, as
// produced by skinning. The cached BVH is refit on the next query instead of
// being rebuilt.
func (g *Geometry) SetPositions(positions []float32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(positions) != len(g.positions) {
		return fmt.Errorf("geometry %q: %w: expected %d position values; got %d", g.name, bvh.ErrInvalidGeometry, len(g.positions), len(positions))
	}
	g.positions = positions
	g.bbox = computeBBox(positions, g.indices)
	g.boundsRevision.Add(1)
	g.deformed.Store(true)
	return nil
}

// Replace the index buffer. The cached BVH becomes stale and is rebuilt by
// the Store on the next query.
func (g *Geometry) SetIndices(indices []uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := bvh.Validate(g.positions, indices); err != nil {
		return fmt.Errorf("geometry %q: %w", g.name, err)
	}
	g.indices = indices
	g.bbox = computeBBox(g.positions, indices)
	g.boundsRevision.Add(1)
	g.revision.Add(1)
	return nil
}

// Returns true if a positions update has not yet been applied to the cached BVH.
func (g *Geometry) Deformed() bool {
	return g.deformed.Load()
}

func (g *Geometry) snapshot() (positions []float32, indices []uint32, revision uint64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.positions, g.indices, g.revision.Load()
}

func computeBBox(positions []float32, indices []uint32) types.AABB {
	bbox := types.EmptyAABB()
	for _, index := range indices {
		bbox = bbox.Grow(vertex(positions, index))
	}
	return bbox
}

func vertex(positions []float32, index uint32) types.Vec3 {
	offset := index * 3
	return types.Vec3{positions[offset], positions[offset+1], positions[offset+2]}
}
