package bvh

import (
	"github.com/chewxy/math32"

	"github.com/achilleasa/raypick/types"
)

// A ray hit against a mesh BVH.
type Hit struct {
	// Distance along the ray in units of the ray direction length.
	Distance float32

	// Barycentric coordinates of the hit point relative to v1 and v2.
	U, V float32

	// Index of the hit triangle in the original index buffer.
	Triangle uint32
}

// Optional instrumentation for traversal calls.
type Counters struct {
	NodesVisited  uint64
	TriangleTests uint64
}

func (c *Counters) visitNode() {
	if c != nil {
		c.NodesVisited++
	}
}

func (c *Counters) testTriangle() {
	if c != nil {
		c.TriangleTests++
	}
}

// Query parameters shared by all traversal modes.
type Query struct {
	// Hits further than this distance are ignored. Zero means unbounded.
	MaxDistance float32

	// Reject triangles facing away from the ray.
	CullBackface bool

	// If set, receives node visit and triangle test counts.
	Counters *Counters
}

func (q Query) maxDistance() float32 {
	if q.MaxDistance <= 0 {
		return math32.Inf(1)
	}
	return q.MaxDistance
}

// Find the closest triangle hit along the ray. Children are visited
// near-first so the distance bound shrinks as early as possible.
func (b *MeshBVH) Closest(ray *types.Ray, positions []float32, q Query, stack *Stack) (Hit, bool, error) {
	var (
		best  Hit
		found bool
	)

	if err := b.checkPositions(positions); err != nil {
		return best, false, err
	}

	tMax := q.maxDistance()
	stack.reset()
	if err := stack.push(0); err != nil {
		return best, false, err
	}

	for {
		nodeIndex, ok := stack.pop()
		if !ok {
			break
		}

		node := &b.Nodes[nodeIndex]
		q.Counters.visitNode()
		if _, hit := IntersectAABB(ray, node.Min, node.Max, 0, tMax); !hit {
			continue
		}

		if node.IsLeaf() {
			first, count := node.Items()
			for _, tri := range b.Triangles[first : first+count] {
				q.Counters.testTriangle()
				v0, v1, v2 := triangleVertices(positions, b.indices, tri)
				t, u, v, hit := IntersectTriangle(ray, v0, v1, v2, tMax, q.CullBackface)
				if !hit || (found && t >= best.Distance) {
					continue
				}
				best = Hit{Distance: t, U: u, V: v, Triangle: tri}
				found = true
				tMax = t
			}
			continue
		}

		if err := pushOrdered(b.Nodes, ray, node, tMax, stack); err != nil {
			return Hit{}, false, err
		}
	}

	return best, found, nil
}

// Report whether any triangle is hit within the query distance. Returns on
// the first hit found; which triangle that is depends on traversal order.
func (b *MeshBVH) Any(ray *types.Ray, positions []float32, q Query, stack *Stack) (bool, error) {
	if err := b.checkPositions(positions); err != nil {
		return false, err
	}

	tMax := q.maxDistance()
	stack.reset()
	if err := stack.push(0); err != nil {
		return false, err
	}

	for {
		nodeIndex, ok := stack.pop()
		if !ok {
			return false, nil
		}

		node := &b.Nodes[nodeIndex]
		q.Counters.visitNode()
		if _, hit := IntersectAABB(ray, node.Min, node.Max, 0, tMax); !hit {
			continue
		}

		if node.IsLeaf() {
			first, count := node.Items()
			for _, tri := range b.Triangles[first : first+count] {
				q.Counters.testTriangle()
				v0, v1, v2 := triangleVertices(positions, b.indices, tri)
				if _, _, _, hit := IntersectTriangle(ray, v0, v1, v2, tMax, q.CullBackface); hit {
					return true, nil
				}
			}
			continue
		}

		left, right := node.ChildNodes()
		if err := stack.push(right); err != nil {
			return false, err
		}
		if err := stack.push(left); err != nil {
			return false, err
		}
	}
}

// Append every triangle hit within the query distance to out and return the
// extended slice. Hits are appended in traversal order; callers needing them
// sorted must sort the result.
func (b *MeshBVH) All(ray *types.Ray, positions []float32, q Query, stack *Stack, out []Hit) ([]Hit, error) {
	if err := b.checkPositions(positions); err != nil {
		return out, err
	}

	tMax := q.maxDistance()
	stack.reset()
	if err := stack.push(0); err != nil {
		return out, err
	}

	for {
		nodeIndex, ok := stack.pop()
		if !ok {
			return out, nil
		}

		node := &b.Nodes[nodeIndex]
		q.Counters.visitNode()
		if _, hit := IntersectAABB(ray, node.Min, node.Max, 0, tMax); !hit {
			continue
		}

		if node.IsLeaf() {
			first, count := node.Items()
			for _, tri := range b.Triangles[first : first+count] {
				q.Counters.testTriangle()
				v0, v1, v2 := triangleVertices(positions, b.indices, tri)
				if t, u, v, hit := IntersectTriangle(ray, v0, v1, v2, tMax, q.CullBackface); hit {
					out = append(out, Hit{Distance: t, U: u, V: v, Triangle: tri})
				}
			}
			continue
		}

		left, right := node.ChildNodes()
		if err := stack.push(right); err != nil {
			return out, err
		}
		if err := stack.push(left); err != nil {
			return out, err
		}
	}
}

// Push the children of an internal node that the ray enters, farther child
// first so that the nearer one is popped next.
func pushOrdered(nodes []Node, ray *types.Ray, node *Node, tMax float32, stack *Stack) error {
	left, right := node.ChildNodes()
	tLeft, hitLeft := IntersectAABB(ray, nodes[left].Min, nodes[left].Max, 0, tMax)
	tRight, hitRight := IntersectAABB(ray, nodes[right].Min, nodes[right].Max, 0, tMax)

	switch {
	case hitLeft && hitRight:
		near, far := left, right
		if tRight < tLeft {
			near, far = right, left
		}
		if err := stack.push(far); err != nil {
			return err
		}
		return stack.push(near)
	case hitLeft:
		return stack.push(left)
	case hitRight:
		return stack.push(right)
	}
	return nil
}
