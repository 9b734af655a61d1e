package bvh

import (
	"fmt"

	"github.com/achilleasa/raypick/types"
)

// A BVH over the triangles of a single mesh. The tree only references the
// index buffer it was built from; vertex positions are supplied on each query
// so that deformed positions can be traversed after a Refit.
type MeshBVH struct {
	// The flattened tree. The root is always at index 0.
	Nodes []Node

	// Original triangle numbers reordered so that each leaf owns a
	// contiguous range.
	Triangles []uint32

	NodeCount int
	Depth     int

	indices     []uint32
	vertexCount int
}

// Build a BVH over the triangle soup described by positions (3 floats per
// vertex) and indices (3 vertex indices per triangle). Neither buffer is
// modified. Degenerate triangles are kept; malformed buffers are rejected
// with ErrInvalidGeometry.
func Build(positions []float32, indices []uint32, opts Options) (*MeshBVH, error) {
	vertexCount, err := validateBuffers(positions, indices)
	if err != nil {
		return nil, err
	}

	triCount := len(indices) / 3
	bounds := make([]types.AABB, triCount)
	centroids := make([]types.Vec3, triCount)
	for tri := 0; tri < triCount; tri++ {
		v0, v1, v2 := triangleVertices(positions, indices, uint32(tri))
		bounds[tri] = types.AABBFromPoints(v0, v1, v2)
		centroids[tri] = v0.Add(v1).Add(v2).Mul(1.0 / 3.0)
	}

	nodes, items, depth := buildTree(bounds, centroids, opts)
	return &MeshBVH{
		Nodes:       nodes,
		Triangles:   items,
		NodeCount:   len(nodes),
		Depth:       depth,
		indices:     indices,
		vertexCount: vertexCount,
	}, nil
}

// Get the root bounding box.
func (b *MeshBVH) BBox() types.AABB {
	return b.Nodes[0].BBox()
}

// Check that positions and indices describe a well-formed, non-empty
// triangle soup. Violations are reported as ErrInvalidGeometry.
func Validate(positions []float32, indices []uint32) error {
	_, err := validateBuffers(positions, indices)
	return err
}

func validateBuffers(positions []float32, indices []uint32) (vertexCount int, err error) {
	switch {
	case len(indices) == 0:
		return 0, fmt.Errorf("%w: empty index buffer", ErrInvalidGeometry)
	case len(indices)%3 != 0:
		return 0, fmt.Errorf("%w: index count %d is not a multiple of 3", ErrInvalidGeometry, len(indices))
	case len(positions)%3 != 0:
		return 0, fmt.Errorf("%w: position count %d is not a multiple of 3", ErrInvalidGeometry, len(positions))
	}

	available := uint32(len(positions) / 3)
	var maxIndex uint32
	for offset, index := range indices {
		if index >= available {
			return 0, fmt.Errorf("%w: index %d at offset %d exceeds vertex count %d", ErrInvalidGeometry, index, offset, available)
		}
		if index > maxIndex {
			maxIndex = index
		}
	}
	return int(maxIndex) + 1, nil
}

// Ensure that a positions buffer supplied at query or refit time still covers
// every vertex referenced by the tree.
func (b *MeshBVH) checkPositions(positions []float32) error {
	if len(positions) < b.vertexCount*3 {
		return fmt.Errorf("%w: positions cover %d vertices; tree references %d", ErrInvalidGeometry, len(positions)/3, b.vertexCount)
	}
	return nil
}

func triangleVertices(positions []float32, indices []uint32, tri uint32) (v0, v1, v2 types.Vec3) {
	base := tri * 3
	return vertex(positions, indices[base]), vertex(positions, indices[base+1]), vertex(positions, indices[base+2])
}

func vertex(positions []float32, index uint32) types.Vec3 {
	offset := index * 3
	return types.Vec3{positions[offset], positions[offset+1], positions[offset+2]}
}
