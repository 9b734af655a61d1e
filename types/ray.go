package types

import "errors"

// ErrDegenerateRay is returned when a ray is created with a zero-length direction.
var ErrDegenerateRay = errors.New("types: ray direction has zero length")

// A ray with a precomputed reciprocal direction. The direction does not need
// to be unit length; hit distances are expressed in units of the direction's
// length.
type Ray struct {
	Origin Vec3
	Dir    Vec3
	InvDir Vec3
}

// Create a new ray. A zero or non-finite direction is rejected with
// ErrDegenerateRay.
func NewRay(origin, dir Vec3) (Ray, error) {
	if dir.LenSq() == 0 || dir.IsNaNOrInf() || origin.IsNaNOrInf() {
		return Ray{}, ErrDegenerateRay
	}

	return Ray{
		Origin: origin,
		Dir:    dir,
		InvDir: dir.Reciprocal(),
	}, nil
}

// Get the point at distance t along the ray.
func (r Ray) At(t float32) Vec3 {
	return r.Origin.Add(r.Dir.Mul(t))
}

// Transform ray by m. The direction is transformed without translation and
// is not renormalized so that distances along the transformed ray match
// distances along the original one.
func (r Ray) Transform(m Mat4) Ray {
	dir := m.TransformDir(r.Dir)
	return Ray{
		Origin: m.TransformPoint(r.Origin),
		Dir:    dir,
		InvDir: dir.Reciprocal(),
	}
}
