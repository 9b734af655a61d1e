package bvh

import "unsafe"

// Summary of a mesh BVH's shape and memory footprint.
type Stats struct {
	Triangles   int
	Nodes       int
	Leafs       int
	Depth       int
	MaxLeafSize int
	AvgLeafSize float32
	SizeBytes   int
}

// Collect tree statistics.
func (b *MeshBVH) Stats() Stats {
	st := Stats{
		Triangles: len(b.Triangles),
		Nodes:     len(b.Nodes),
		Depth:     b.Depth,
		SizeBytes: len(b.Nodes)*int(unsafe.Sizeof(Node{})) + len(b.Triangles)*int(unsafe.Sizeof(uint32(0))),
	}

	for index := range b.Nodes {
		if !b.Nodes[index].IsLeaf() {
			continue
		}
		_, count := b.Nodes[index].Items()
		st.Leafs++
		if int(count) > st.MaxLeafSize {
			st.MaxLeafSize = int(count)
		}
	}
	if st.Leafs > 0 {
		st.AvgLeafSize = float32(st.Triangles) / float32(st.Leafs)
	}
	return st
}
