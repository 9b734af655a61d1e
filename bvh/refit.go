package bvh

import "github.com/achilleasa/raypick/types"

// Recompute the node bounds from the current vertex positions without
// touching the tree topology or the triangle order. The positions buffer
// must cover every vertex referenced by the tree.
//
// Refit must not run concurrently with traversals of the same tree.
func (b *MeshBVH) Refit(positions []float32) error {
	if err := b.checkPositions(positions); err != nil {
		return err
	}

	refitNodes(b.Nodes, func(first, count uint32) types.AABB {
		box := types.EmptyAABB()
		for _, tri := range b.Triangles[first : first+count] {
			v0, v1, v2 := triangleVertices(positions, b.indices, tri)
			box = box.Grow(v0).Grow(v1).Grow(v2)
		}
		return box
	})
	return nil
}

// Children are always created after their parent so walking the node list
// backwards refreshes both children before the parent that unions them.
func refitNodes(nodes []Node, leafBBox func(first, count uint32) types.AABB) {
	for index := len(nodes) - 1; index >= 0; index-- {
		node := &nodes[index]
		if node.IsLeaf() {
			node.SetBBox(leafBBox(node.Items()))
			continue
		}

		left, right := node.ChildNodes()
		node.SetBBox(nodes[left].BBox().Union(nodes[right].BBox()))
	}
}
