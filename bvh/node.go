package bvh

import "github.com/achilleasa/raypick/types"

// Nodes are comprised of two Vec3 and two multipurpose int32 parameters
// whose value depends on the node type:
//
//   - For internal nodes RData is >= 0; LData and RData hold the indices of
//     the left and right child nodes. Children are always stored after their
//     parent so both indices are > 0.
//   - For leafs RData is < 0; LData holds the offset of the first item in the
//     reordered item list and -RData the number of items in the leaf.
//
// Each node takes 32 bytes so two nodes fit in a 64-byte cache line.
type Node struct {
	Min   types.Vec3
	LData int32

	Max   types.Vec3
	RData int32
}

// Set bounding box.
func (n *Node) SetBBox(bbox types.AABB) {
	n.Min = bbox.Min
	n.Max = bbox.Max
}

// Get bounding box.
func (n *Node) BBox() types.AABB {
	return types.AABB{Min: n.Min, Max: n.Max}
}

// Set left and right child node indices.
func (n *Node) SetChildNodes(left, right uint32) {
	n.LData = int32(left)
	n.RData = int32(right)
}

// Get left and right child node indices.
func (n *Node) ChildNodes() (left, right uint32) {
	return uint32(n.LData), uint32(n.RData)
}

// Set first item offset and count. Count must be >= 1.
func (n *Node) SetItems(first, count uint32) {
	n.LData = int32(first)
	n.RData = -int32(count)
}

// Get first item offset and count.
func (n *Node) Items() (first, count uint32) {
	return uint32(n.LData), uint32(-n.RData)
}

// Returns true if this is a leaf node.
func (n *Node) IsLeaf() bool {
	return n.RData < 0
}
