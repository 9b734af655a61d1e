package bvh

import (
	"github.com/chewxy/math32"

	"github.com/achilleasa/raypick/types"
)

const (
	// Determinants below this magnitude mean the ray is parallel to the
	// triangle plane.
	detEpsilon float32 = 1e-8

	// Hits closer than this distance to the ray origin are rejected.
	minHitDistance float32 = 1e-6
)

// Intersect a ray with an AABB using the slab method. The ray is restricted
// to [tMin, tMax]. Returns the entry distance into the box and whether the
// clipped interval is non-empty with a positive far bound.
//
// Zero direction components produce infinite reciprocals. If the origin also
// lies on a slab plane the product is NaN; comparisons against NaN are false
// so such an axis leaves the interval untouched.
func IntersectAABB(ray *types.Ray, bmin, bmax types.Vec3, tMin, tMax float32) (float32, bool) {
	for axis := 0; axis < 3; axis++ {
		t0 := (bmin[axis] - ray.Origin[axis]) * ray.InvDir[axis]
		t1 := (bmax[axis] - ray.Origin[axis]) * ray.InvDir[axis]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tMin {
			tMin = t0
		}
		if t1 < tMax {
			tMax = t1
		}
	}

	return tMin, tMin <= tMax && tMax > 0
}

// Intersect a ray with triangle (v0, v1, v2) using the Möller-Trumbore
// algorithm. Hits beyond tMax are rejected. When cullBackface is set,
// triangles whose counter-clockwise winding faces away from the ray are
// rejected.
func IntersectTriangle(ray *types.Ray, v0, v1, v2 types.Vec3, tMax float32, cullBackface bool) (t, u, v float32, hit bool) {
	e1 := v1.Sub(v0)
	e2 := v2.Sub(v0)
	p := ray.Dir.Cross(e2)
	det := e1.Dot(p)

	if cullBackface {
		if det < detEpsilon {
			return 0, 0, 0, false
		}
	} else if math32.Abs(det) < detEpsilon {
		return 0, 0, 0, false
	}

	invDet := 1.0 / det
	s := ray.Origin.Sub(v0)
	u = s.Dot(p) * invDet
	if u < 0 || u > 1 {
		return 0, 0, 0, false
	}

	q := s.Cross(e1)
	v = ray.Dir.Dot(q) * invDet
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false
	}

	t = e2.Dot(q) * invDet
	if t < minHitDistance || t > tMax {
		return 0, 0, 0, false
	}

	return t, u, v, true
}
