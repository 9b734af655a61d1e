package scene

import (
	"sort"

	"github.com/chewxy/math32"

	"github.com/achilleasa/raypick/bvh"
	"github.com/achilleasa/raypick/log"
	"github.com/achilleasa/raypick/mesh"
	"github.com/achilleasa/raypick/types"
)

// A ray hit in world space.
type WorldHit struct {
	// Ray parameter of the hit. For unit-length ray directions this is the
	// world-space distance from the ray origin.
	Distance float32

	// Hit point and unit geometric normal in world space. The normal
	// follows the triangle winding and is not flipped towards the ray.
	Point  types.Vec3
	Normal types.Vec3

	// Hit triangle index within the instance geometry.
	Triangle uint32

	Instance *Instance
}

// The Raycaster answers world-space ray queries against mesh instances. It
// keeps reusable traversal scratch space and is therefore not safe for
// concurrent use; create one raycaster per goroutine.
type Raycaster struct {
	logger log.Logger
	store  *mesh.Store

	linearThreshold int

	stack      *bvh.Stack
	indexStack *bvh.Stack
	scratch    []bvh.Hit
}

// Raycaster configuration. Zero values select the defaults.
type RaycasterOptions struct {
	// Capacity of the traversal stacks.
	StackCapacity int

	// Instance lists with at least this many entries are indexed with a
	// BVH before querying.
	LinearThreshold int
}

// Create a new raycaster that obtains mesh BVHs from store.
func NewRaycaster(store *mesh.Store, opts RaycasterOptions) *Raycaster {
	if opts.LinearThreshold <= 0 {
		opts.LinearThreshold = DefaultLinearThreshold
	}
	return &Raycaster{
		logger:          log.New("raycaster"),
		store:           store,
		linearThreshold: opts.LinearThreshold,
		stack:           bvh.NewStack(opts.StackCapacity),
		indexStack:      bvh.NewStack(opts.StackCapacity),
	}
}

// Find every hit along the ray against the given instances, sorted by
// ascending distance.
func (rc *Raycaster) Intersect(ray types.Ray, instances []*Instance, q bvh.Query) ([]WorldHit, error) {
	return rc.intersect(&ray, instances, nil, q)
}

// Find the closest hit along the ray against the given instances.
func (rc *Raycaster) IntersectFirst(ray types.Ray, instances []*Instance, q bvh.Query) (WorldHit, bool, error) {
	return rc.intersectFirst(&ray, instances, nil, q)
}

// Report whether the ray hits any of the given instances.
func (rc *Raycaster) IntersectAny(ray types.Ray, instances []*Instance, q bvh.Query) (bool, error) {
	return rc.intersectAny(&ray, instances, nil, q)
}

// Intersect against a prebuilt index.
func (rc *Raycaster) IntersectIndex(ray types.Ray, idx *Index, q bvh.Query) ([]WorldHit, error) {
	return rc.intersect(&ray, nil, idx, q)
}

// IntersectFirst against a prebuilt index.
func (rc *Raycaster) IntersectFirstIndex(ray types.Ray, idx *Index, q bvh.Query) (WorldHit, bool, error) {
	return rc.intersectFirst(&ray, nil, idx, q)
}

// IntersectAny against a prebuilt index.
func (rc *Raycaster) IntersectAnyIndex(ray types.Ray, idx *Index, q bvh.Query) (bool, error) {
	return rc.intersectAny(&ray, nil, idx, q)
}

func (rc *Raycaster) intersect(ray *types.Ray, instances []*Instance, idx *Index, q bvh.Query) ([]WorldHit, error) {
	if err := checkRay(ray); err != nil {
		return nil, err
	}

	var (
		out      []WorldHit
		queryErr error
	)
	err := rc.candidates(ray, queryTMax(q), instances, idx, func(in *Instance, tMax float32) (float32, bool) {
		tree, positions, local, err := rc.prepare(ray, in)
		if err != nil {
			queryErr = err
			return tMax, false
		}

		rc.scratch, err = tree.All(&local, positions, q, rc.stack, rc.scratch[:0])
		if err != nil {
			queryErr = err
			return tMax, false
		}
		for _, hit := range rc.scratch {
			out = append(out, rc.worldHit(in, hit))
		}
		return tMax, true
	})
	if err != nil {
		return nil, err
	}
	if queryErr != nil {
		return nil, queryErr
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

func (rc *Raycaster) intersectFirst(ray *types.Ray, instances []*Instance, idx *Index, q bvh.Query) (WorldHit, bool, error) {
	var (
		best     WorldHit
		found    bool
		queryErr error
	)

	if err := checkRay(ray); err != nil {
		return best, false, err
	}

	err := rc.candidates(ray, queryTMax(q), instances, idx, func(in *Instance, tMax float32) (float32, bool) {
		tree, positions, local, err := rc.prepare(ray, in)
		if err != nil {
			queryErr = err
			return tMax, false
		}

		// Only hits closer than the best one so far are of interest
		instQuery := q
		instQuery.MaxDistance = tMax
		hit, ok, err := tree.Closest(&local, positions, instQuery, rc.stack)
		if err != nil {
			queryErr = err
			return tMax, false
		}
		if ok && (!found || hit.Distance < best.Distance) {
			best = rc.worldHit(in, hit)
			found = true
			tMax = hit.Distance
		}
		return tMax, true
	})
	if err != nil {
		return WorldHit{}, false, err
	}
	if queryErr != nil {
		return WorldHit{}, false, queryErr
	}
	return best, found, nil
}

func (rc *Raycaster) intersectAny(ray *types.Ray, instances []*Instance, idx *Index, q bvh.Query) (bool, error) {
	if err := checkRay(ray); err != nil {
		return false, err
	}

	var (
		found    bool
		queryErr error
	)
	err := rc.candidates(ray, queryTMax(q), instances, idx, func(in *Instance, tMax float32) (float32, bool) {
		tree, positions, local, err := rc.prepare(ray, in)
		if err != nil {
			queryErr = err
			return tMax, false
		}

		found, err = tree.Any(&local, positions, q, rc.stack)
		if err != nil {
			queryErr = err
			return tMax, false
		}
		return tMax, !found
	})
	if err != nil {
		return false, err
	}
	if queryErr != nil {
		return false, queryErr
	}
	return found, nil
}

// Enumerate candidate instances either from a prebuilt index or from an
// instance list. Large lists are indexed on the fly.
func (rc *Raycaster) candidates(ray *types.Ray, tMax float32, instances []*Instance, idx *Index, fn CandidateFunc) error {
	if idx == nil && len(instances) >= rc.linearThreshold {
		rc.logger.Debugf("indexing %d instances for a single query; consider caching an Index", len(instances))
		var err error
		if idx, err = NewIndex(instances, rc.linearThreshold); err != nil {
			return err
		}
	}
	if idx != nil {
		return idx.Candidates(ray, tMax, rc.indexStack, fn)
	}

	for _, in := range instances {
		if in.Singular() {
			continue
		}
		box := in.BBox()
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

// Obtain the instance BVH and move the ray into instance space. The local
// direction is not renormalized so hit distances stay comparable across
// instances.
func (rc *Raycaster) prepare(ray *types.Ray, in *Instance) (*bvh.MeshBVH, []float32, types.Ray, error) {
	tree, positions, err := rc.store.Acquire(in.Geometry())
	if err != nil {
		return nil, nil, types.Ray{}, err
	}
	return tree, positions, ray.Transform(in.WorldToLocal()), nil
}

func (rc *Raycaster) worldHit(in *Instance, hit bvh.Hit) WorldHit {
	v0, v1, v2 := in.Geometry().Triangle(hit.Triangle)
	localPoint := v0.Mul(1 - hit.U - hit.V).Add(v1.Mul(hit.U)).Add(v2.Mul(hit.V))
	localNormal := v1.Sub(v0).Cross(v2.Sub(v0)).Normalize()

	return WorldHit{
		Distance: hit.Distance,
		Point:    in.Transform().TransformPoint(localPoint),
		Normal:   in.NormalMatrix().Mul3x1(localNormal).Normalize(),
		Triangle: hit.Triangle,
		Instance: in,
	}
}

// Validate the ray and recompute its reciprocal direction so that rays not
// created through types.NewRay are traversed correctly.
func checkRay(ray *types.Ray) error {
	if ray.Dir.LenSq() == 0 || ray.Dir.IsNaNOrInf() || ray.Origin.IsNaNOrInf() {
		return types.ErrDegenerateRay
	}
	ray.InvDir = ray.Dir.Reciprocal()
	return nil
}

func queryTMax(q bvh.Query) float32 {
	if q.MaxDistance <= 0 {
		return math32.Inf(1)
	}
	return q.MaxDistance
}
