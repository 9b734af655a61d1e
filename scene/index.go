package scene

import (
	"github.com/achilleasa/raypick/bvh"
	"github.com/achilleasa/raypick/log"
	"github.com/achilleasa/raypick/mesh"
	"github.com/achilleasa/raypick/types"
)

// Scenes with fewer instances than this are scanned linearly.
const DefaultLinearThreshold = 5000

// A callback invoked for each candidate instance. It receives the current
// distance bound and returns the (possibly shrunk) bound and whether the
// search should continue.
type CandidateFunc func(in *Instance, tMax float32) (float32, bool)

// Index provides coarse ray rejection over instance world bounds. Small
// scenes use a linear scan; larger ones a BVH built over the instance boxes.
// Singular instances are excluded.
//
// Deforming an indexed geometry refits the index on the next query, so
// queries against the same index must not run concurrently with geometry
// updates.
type Index struct {
	logger log.Logger

	threshold int
	instances []*Instance

	// Non-singular instances and their bounds, indexed identically.
	entries []*Instance
	bounds  []types.AABB

	tree *bvh.Tree

	// Geometry bounds revisions the stored bounds were derived from.
	geometries []geometryRevision
}

type geometryRevision struct {
	geometry *mesh.Geometry
	revision uint64
}

// Create an index over the given instances. A non-positive threshold selects
// DefaultLinearThreshold.
func NewIndex(instances []*Instance, threshold int) (*Index, error) {
	if threshold <= 0 {
		threshold = DefaultLinearThreshold
	}

	idx := &Index{
		logger:    log.New("scene index"),
		threshold: threshold,
		instances: instances,
	}
	if err := idx.rebuild(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) rebuild() error {
	idx.entries = idx.entries[:0]
	idx.bounds = idx.bounds[:0]
	idx.trackGeometries()
	for _, in := range idx.instances {
		if in.Singular() {
			idx.logger.Debugf("skipping instance %q with singular transform", in.Name())
			continue
		}
		idx.entries = append(idx.entries, in)
		idx.bounds = append(idx.bounds, in.BBox())
	}

	idx.tree = nil
	if len(idx.entries) < idx.threshold {
		return nil
	}

	tree, err := bvh.BuildTree(idx.bounds, bvh.Options{MaxLeafItems: 1})
	if err != nil {
		return err
	}
	idx.tree = tree
	idx.logger.Debugf("built instance BVH over %d instances (nodes: %d, depth: %d)", len(idx.entries), len(tree.Nodes), tree.Depth)
	return nil
}

// Returns true if the index uses a BVH instead of a linear scan.
func (idx *Index) Hierarchical() bool {
	return idx.tree != nil
}

// Get the indexed instances, including singular ones.
func (idx *Index) Instances() []*Instance {
	return idx.instances
}

// Refresh the index after instances moved or their geometry deformed. The
// BVH is refit in place unless the set of singular instances changed, in
// which case the index is rebuilt.
func (idx *Index) Refit() error {
	idx.trackGeometries()
	active := 0
	for _, in := range idx.instances {
		in.UpdateBounds()
		if in.Singular() {
			continue
		}
		if active >= len(idx.entries) || idx.entries[active] != in {
			return idx.rebuild()
		}
		idx.bounds[active] = in.BBox()
		active++
	}
	if active != len(idx.entries) {
		return idx.rebuild()
	}

	if idx.tree != nil {
		return idx.tree.Refit(idx.bounds)
	}
	return nil
}

// Record the current bounds revision of every indexed geometry. Called before
// instance bounds are read so that a concurrent deformation is caught by the
// next staleness check.
func (idx *Index) trackGeometries() {
	idx.geometries = idx.geometries[:0]
	seen := make(map[*mesh.Geometry]struct{})
	for _, in := range idx.instances {
		g := in.Geometry()
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		idx.geometries = append(idx.geometries, geometryRevision{geometry: g, revision: g.BoundsRevision()})
	}
}

// Returns true if any indexed geometry changed its bounds since the index
// was last built or refit.
func (idx *Index) Stale() bool {
	for _, gr := range idx.geometries {
		if gr.geometry.BoundsRevision() != gr.revision {
			return true
		}
	}
	return false
}

// Invoke fn for every instance whose world bounds the ray enters within
// [0, tMax]. The BVH variant visits instances roughly near-first. The index
// is refit first if an indexed geometry was deformed.
func (idx *Index) Candidates(ray *types.Ray, tMax float32, stack *bvh.Stack, fn CandidateFunc) error {
	if idx.Stale() {
		idx.logger.Debugf("geometry bounds changed; refitting index over %d instances", len(idx.instances))
		if err := idx.Refit(); err != nil {
			return err
		}
	}

	if idx.tree == nil {
		for entry, in := range idx.entries {
			box := &idx.bounds[entry]
			if _, hit := bvh.IntersectAABB(ray, box.Min, box.Max, 0, tMax); !hit {
				continue
			}
			var more bool
			if tMax, more = fn(in, tMax); !more {
				return nil
			}
		}
		return nil
	}

	return idx.tree.Visit(ray, tMax, stack, func(item uint32, tMax float32) (float32, bool) {
		box := &idx.bounds[item]
		if _, hit := bvh.IntersectAABB(ray, box.Min, box.Max, 0, tMax); !hit {
			return tMax, true
		}
		return fn(idx.entries[item], tMax)
	})
}
