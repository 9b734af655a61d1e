package types

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Matrices are stored in column-major order and transform column vectors:
// p' = M * p.
type Mat3 mgl32.Mat3
type Mat4 mgl32.Mat4

// Matrices whose determinant, relative to the product of their column
// lengths, falls below this value are considered non-invertible. The ratio is
// scale independent: it is 1 for any rotation or uniform scale and 0 for a
// degenerate basis.
const singularDetThreshold float32 = 1e-6

// Create a 4x4 identity matrix.
func Ident4() Mat4 {
	return Mat4(mgl32.Ident4())
}

// Create a translation matrix.
func Translate4(t Vec3) Mat4 {
	return Mat4(mgl32.Translate3D(t[0], t[1], t[2]))
}

// Create a scale matrix.
func Scale4(s Vec3) Mat4 {
	return Mat4(mgl32.Scale3D(s[0], s[1], s[2]))
}

// Create a rotation matrix for rotating angle radians around axis.
func Rotate4(angle float32, axis Vec3) Mat4 {
	return Mat4(mgl32.HomogRotate3D(angle, mgl32.Vec3(axis.Normalize())))
}

// Compose a T * R * S transformation.
func TRS(translation Vec3, rotation Quat, scale Vec3) Mat4 {
	return Translate4(translation).Mul4(rotation.Mat4()).Mul4(Scale4(scale))
}

// Multiply two matrices.
func (m Mat4) Mul4(m2 Mat4) Mat4 {
	return Mat4(mgl32.Mat4(m).Mul4(mgl32.Mat4(m2)))
}

// Multiply matrix with a 4 component vector.
func (m Mat4) Mul4x1(v Vec4) Vec4 {
	return Vec4(mgl32.Mat4(m).Mul4x1(mgl32.Vec4(v)))
}

// Transform a point (w = 1).
func (m Mat4) TransformPoint(p Vec3) Vec3 {
	return Vec3{
		m[0]*p[0] + m[4]*p[1] + m[8]*p[2] + m[12],
		m[1]*p[0] + m[5]*p[1] + m[9]*p[2] + m[13],
		m[2]*p[0] + m[6]*p[1] + m[10]*p[2] + m[14],
	}
}

// Transform a direction (w = 0); translation is ignored.
func (m Mat4) TransformDir(d Vec3) Vec3 {
	return Vec3{
		m[0]*d[0] + m[4]*d[1] + m[8]*d[2],
		m[1]*d[0] + m[5]*d[1] + m[9]*d[2],
		m[2]*d[0] + m[6]*d[1] + m[10]*d[2],
	}
}

// Get matrix determinant.
func (m Mat4) Det() float32 {
	return mgl32.Mat4(m).Det()
}

// Returns true if the matrix cannot be inverted or contains non-finite values.
// Affine matrices are judged by their upper 3x3 block so that large
// translations do not affect the outcome.
func (m Mat4) IsSingular() bool {
	if m.IsAffine() {
		return m.Mat3().IsSingular()
	}

	norms := float32(1)
	for c := 0; c < 4; c++ {
		norms *= mgl32.Vec4{m[c*4], m[c*4+1], m[c*4+2], m[c*4+3]}.Len()
	}
	return isSingular(m.Det(), norms)
}

// Returns true if the bottom row of the matrix is (0, 0, 0, 1).
func (m Mat4) IsAffine() bool {
	return m[3] == 0 && m[7] == 0 && m[11] == 0 && m[15] == 1
}

// Invert matrix. The result is undefined if the matrix is singular.
func (m Mat4) Inv() Mat4 {
	if !m.IsAffine() {
		return Mat4(mgl32.Mat4(m).Inv())
	}

	// [A t]^-1 = [A^-1 -A^-1*t]
	a := m.Mat3().Inv()
	t := a.Mul3x1(Vec3{m[12], m[13], m[14]})
	return Mat4{
		a[0], a[1], a[2], 0,
		a[3], a[4], a[5], 0,
		a[6], a[7], a[8], 0,
		-t[0], -t[1], -t[2], 1,
	}
}

// Transpose matrix.
func (m Mat4) Transpose() Mat4 {
	return Mat4(mgl32.Mat4(m).Transpose())
}

// Extract the top-left 3x3 matrix from a 4x4 matrix.
func (m Mat4) Mat3() Mat3 {
	return Mat3(mgl32.Mat4(m).Mat3())
}

// Calculate the matrix for transforming normals: the inverse-transpose of
// the upper 3x3 block.
func (m Mat4) NormalMatrix() Mat3 {
	return m.Mat3().Inv().Transpose()
}

// Returns true if no pair of matching elements differs by more than eps.
func (m Mat4) ApproxEqual(m2 Mat4, eps float32) bool {
	for i := range m {
		if !(math32.Abs(m[i]-m2[i]) <= eps) {
			return false
		}
	}
	return true
}

// Multiply matrix with a 3 component vector.
func (m Mat3) Mul3x1(v Vec3) Vec3 {
	return Vec3(mgl32.Mat3(m).Mul3x1(mgl32.Vec3(v)))
}

// Get matrix determinant.
func (m Mat3) Det() float32 {
	return mgl32.Mat3(m).Det()
}

// Returns true if the matrix cannot be inverted or contains non-finite values.
func (m Mat3) IsSingular() bool {
	n := m.columnLengths()
	return isSingular(m.Det(), n[0]*n[1]*n[2])
}

// Invert matrix. The result is undefined if the matrix is singular.
//
// The columns are scaled to unit length before inverting, as the underlying
// inverse treats determinants close to zero in absolute terms as singular.
// With A*D having unit columns, A^-1 = D * (A*D)^-1.
func (m Mat3) Inv() Mat3 {
	n := m.columnLengths()
	if n[0] == 0 || n[1] == 0 || n[2] == 0 {
		return Mat3{}
	}

	var unit Mat3
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			unit[c*3+r] = m[c*3+r] / n[c]
		}
	}

	inv := Mat3(mgl32.Mat3(unit).Inv())
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			inv[c*3+r] /= n[r]
		}
	}
	return inv
}

func (m Mat3) columnLengths() Vec3 {
	return Vec3{
		Vec3{m[0], m[1], m[2]}.Len(),
		Vec3{m[3], m[4], m[5]}.Len(),
		Vec3{m[6], m[7], m[8]}.Len(),
	}
}

// Transpose matrix.
func (m Mat3) Transpose() Mat3 {
	return Mat3(mgl32.Mat3(m).Transpose())
}

func isSingular(det, columnLengths float32) bool {
	if math32.IsNaN(det) || math32.IsInf(det, 0) || math32.IsNaN(columnLengths) || math32.IsInf(columnLengths, 0) || columnLengths == 0 {
		return true
	}
	return math32.Abs(det) < singularDetThreshold*columnLengths
}
