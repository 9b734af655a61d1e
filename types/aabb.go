package types

import "github.com/chewxy/math32"

// An axis-aligned bounding box.
type AABB struct {
	Min Vec3
	Max Vec3
}

// Create an inverted box that acts as the identity element for Union and Grow.
func EmptyAABB() AABB {
	return AABB{
		Min: Vec3{math32.MaxFloat32, math32.MaxFloat32, math32.MaxFloat32},
		Max: Vec3{-math32.MaxFloat32, -math32.MaxFloat32, -math32.MaxFloat32},
	}
}

// Create the tightest box enclosing the given points.
func AABBFromPoints(points ...Vec3) AABB {
	box := EmptyAABB()
	for _, p := range points {
		box = box.Grow(p)
	}
	return box
}

// Returns true if the box encloses no points (as produced by EmptyAABB).
func (b AABB) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// Expand box to include point p.
func (b AABB) Grow(p Vec3) AABB {
	return AABB{MinVec3(b.Min, p), MaxVec3(b.Max, p)}
}

// Get the union of two boxes.
func (b AABB) Union(b2 AABB) AABB {
	return AABB{MinVec3(b.Min, b2.Min), MaxVec3(b.Max, b2.Max)}
}

// Get box center.
func (b AABB) Center() Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Get box side lengths.
func (b AABB) Extent() Vec3 {
	return b.Max.Sub(b.Min)
}

// Get the total surface area of the box. Empty boxes report zero.
func (b AABB) SurfaceArea() float32 {
	if b.IsEmpty() {
		return 0
	}
	side := b.Extent()
	return 2 * (side[0]*side[1] + side[1]*side[2] + side[0]*side[2])
}

// Returns true if b2 lies inside b (boundaries included).
func (b AABB) Contains(b2 AABB) bool {
	return b.ContainsPoint(b2.Min) && b.ContainsPoint(b2.Max)
}

// Returns true if p lies inside the box (boundaries included).
func (b AABB) ContainsPoint(p Vec3) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] &&
		p[1] >= b.Min[1] && p[1] <= b.Max[1] &&
		p[2] >= b.Min[2] && p[2] <= b.Max[2]
}

// Transform box by m and return the axis-aligned box that encloses the
// eight transformed corners.
func (b AABB) Transform(m Mat4) AABB {
	if b.IsEmpty() {
		return b
	}

	out := EmptyAABB()
	for corner := 0; corner < 8; corner++ {
		p := b.Min
		if corner&1 != 0 {
			p[0] = b.Max[0]
		}
		if corner&2 != 0 {
			p[1] = b.Max[1]
		}
		if corner&4 != 0 {
			p[2] = b.Max[2]
		}
		out = out.Grow(m.TransformPoint(p))
	}
	return out
}
