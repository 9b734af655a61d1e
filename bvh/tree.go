package bvh

import (
	"fmt"

	"github.com/achilleasa/raypick/types"
)

// A BVH over arbitrary bounded items such as mesh instances. Leafs reference
// items by their position in the bounds slice the tree was built from.
type Tree struct {
	Nodes []Node
	Items []uint32
	Depth int
}

// A callback invoked for each candidate item. It receives the current
// distance bound and returns the (possibly shrunk) bound and whether
// traversal should continue.
type VisitFunc func(item uint32, tMax float32) (float32, bool)

// Build a tree over a list of item bounds. Item centroids are taken from the
// box centers.
func BuildTree(bounds []types.AABB, opts Options) (*Tree, error) {
	if len(bounds) == 0 {
		return nil, fmt.Errorf("%w: no items to partition", ErrInvalidGeometry)
	}

	centroids := make([]types.Vec3, len(bounds))
	for index, box := range bounds {
		centroids[index] = box.Center()
	}

	nodes, items, depth := buildTree(bounds, centroids, opts)
	return &Tree{Nodes: nodes, Items: items, Depth: depth}, nil
}

// Visit the items of every leaf entered by the ray within [0, tMax]. Leafs
// holding more than one item may report items whose own bounds the ray
// misses. Children are visited near-first.
func (tr *Tree) Visit(ray *types.Ray, tMax float32, stack *Stack, fn VisitFunc) error {
	stack.reset()
	if err := stack.push(0); err != nil {
		return err
	}

	for {
		nodeIndex, ok := stack.pop()
		if !ok {
			return nil
		}

		node := &tr.Nodes[nodeIndex]
		if _, hit := IntersectAABB(ray, node.Min, node.Max, 0, tMax); !hit {
			continue
		}

		if node.IsLeaf() {
			first, count := node.Items()
			for _, item := range tr.Items[first : first+count] {
				var more bool
				if tMax, more = fn(item, tMax); !more {
					return nil
				}
			}
			continue
		}

		if err := pushOrdered(tr.Nodes, ray, node, tMax, stack); err != nil {
			return err
		}
	}
}

// Recompute node bounds after the items moved. The bounds slice must be
// indexed the same way as the one passed to BuildTree.
func (tr *Tree) Refit(bounds []types.AABB) error {
	if len(bounds) != len(tr.Items) {
		return fmt.Errorf("%w: refit with %d bounds; tree holds %d items", ErrInvalidGeometry, len(bounds), len(tr.Items))
	}

	refitNodes(tr.Nodes, func(first, count uint32) types.AABB {
		box := types.EmptyAABB()
		for _, item := range tr.Items[first : first+count] {
			box = box.Union(bounds[item])
		}
		return box
	})
	return nil
}
