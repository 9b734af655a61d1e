package bvh

import (
	"time"

	"github.com/achilleasa/raypick/log"
	"github.com/achilleasa/raypick/types"
)

const (
	// Default number of items below which the builder emits a leaf.
	DefaultMaxLeafItems = 4

	// Default number of SAH bins evaluated per axis.
	DefaultBinCount = 12

	// SAH cost of visiting a node relative to testing an item.
	traversalCost float32 = 1.0
	intersectCost float32 = 1.5

	// The builder will not attempt to bin an axis if the centroid extent
	// along it is less than this threshold.
	minCentroidExtent float32 = 1e-6
)

// Build options. Zero values select the defaults.
type Options struct {
	// Nodes with this many items or fewer become leafs.
	MaxLeafItems int

	// Number of equal-width SAH bins per axis (>= 2).
	BinCount int
}

func (o Options) withDefaults() Options {
	if o.MaxLeafItems <= 0 {
		o.MaxLeafItems = DefaultMaxLeafItems
	}
	if o.BinCount < 2 {
		o.BinCount = DefaultBinCount
	}
	return o
}

type bin struct {
	bbox  types.AABB
	count int
}

type splitCandidate struct {
	axis     int
	boundary int
	cost     float32
}

type stats struct {
	nodes    int
	leafs    int
	maxDepth int
}

type builder struct {
	logger log.Logger

	// Per item bounds and centroids.
	bounds    []types.AABB
	centroids []types.Vec3

	// Working permutation of item indices. Partitioning happens in place
	// so leaf ranges end up contiguous.
	order []uint32

	// Nodes pre-sized to 2n-1 and filled via nodeCount.
	nodes     []Node
	nodeCount int

	// The item list in leaf order.
	items []uint32

	opts Options

	// Scratch space reused across partition calls.
	bins       []bin
	leftArea   []float32
	leftCounts []int

	// Stats
	stats stats
}

// Construct a BVH over a set of item bounds. Centroids are used for binning
// and must be supplied in the same order as bounds.
//
// The returned node list stores the root at index 0 and every child after
// its parent. The returned item list is a permutation of [0, len(bounds))
// where each leaf owns a contiguous range.
func buildTree(bounds []types.AABB, centroids []types.Vec3, opts Options) (nodes []Node, items []uint32, depth int) {
	opts = opts.withDefaults()
	itemCount := len(bounds)

	b := &builder{
		logger:     log.New("bvh builder"),
		bounds:     bounds,
		centroids:  centroids,
		order:      make([]uint32, itemCount),
		nodes:      make([]Node, 2*itemCount-1),
		items:      make([]uint32, itemCount),
		opts:       opts,
		bins:       make([]bin, opts.BinCount),
		leftArea:   make([]float32, opts.BinCount-1),
		leftCounts: make([]int, opts.BinCount-1),
	}
	for index := range b.order {
		b.order[index] = uint32(index)
	}

	start := time.Now()
	b.partition(0, itemCount, 0)
	b.logger.Debugf(
		"BVH tree build time: %d ms, items: %d, maxDepth: %d, nodes: %d, leafs: %d",
		time.Since(start).Nanoseconds()/1e6,
		itemCount, b.stats.maxDepth, b.stats.nodes, b.stats.leafs,
	)

	return b.nodes[:b.nodeCount], b.items, b.stats.maxDepth
}

// Partition the item range [start, start+count) and return the node index.
func (b *builder) partition(start, count, depth int) uint32 {
	if depth > b.stats.maxDepth {
		b.stats.maxDepth = depth
	}

	nodeIndex := b.nodeCount
	b.nodeCount++
	b.stats.nodes++

	// Calculate node and centroid bounds
	bbox := types.EmptyAABB()
	cbox := types.EmptyAABB()
	for _, item := range b.order[start : start+count] {
		bbox = bbox.Union(b.bounds[item])
		cbox = cbox.Grow(b.centroids[item])
	}

	// Do we have few enough items for a leaf?
	if count <= b.opts.MaxLeafItems {
		return b.createLeaf(nodeIndex, bbox, start, count)
	}

	best, found := b.findSplit(start, count, bbox, cbox)
	if !found || best.cost >= intersectCost*float32(count) {
		return b.createLeaf(nodeIndex, bbox, start, count)
	}

	leftCount := b.partitionRange(start, count, best, cbox)
	if leftCount == 0 || leftCount == count {
		return b.createLeaf(nodeIndex, bbox, start, count)
	}

	// Partition children and update node indices
	leftNodeIndex := b.partition(start, leftCount, depth+1)
	rightNodeIndex := b.partition(start+leftCount, count-leftCount, depth+1)

	node := &b.nodes[nodeIndex]
	node.SetChildNodes(leftNodeIndex, rightNodeIndex)
	node.SetBBox(b.nodes[leftNodeIndex].BBox().Union(b.nodes[rightNodeIndex].BBox()))
	return uint32(nodeIndex)
}

// Evaluate the SAH cost for every bin boundary along each usable axis and
// return the cheapest split.
func (b *builder) findSplit(start, count int, bbox, cbox types.AABB) (best splitCandidate, found bool) {
	// Nodes that collapse to a line or point have no surface area; fall back
	// to a linear measure so the cost ratios stay meaningful.
	useLength := bbox.SurfaceArea() <= 0
	parentMeasure := nodeMeasure(bbox, useLength)

	cextent := cbox.Extent()
	binCount := b.opts.BinCount
	for axis := 0; axis < 3; axis++ {
		if cextent[axis] < minCentroidExtent {
			continue
		}

		for index := range b.bins {
			b.bins[index] = bin{bbox: types.EmptyAABB()}
		}

		scale := float32(binCount) / cextent[axis]
		for _, item := range b.order[start : start+count] {
			binIndex := binFor(b.centroids[item][axis], cbox.Min[axis], scale, binCount)
			b.bins[binIndex].bbox = b.bins[binIndex].bbox.Union(b.bounds[item])
			b.bins[binIndex].count++
		}

		// Sweep left to right
		leftBox := types.EmptyAABB()
		leftCount := 0
		for boundary := 0; boundary < binCount-1; boundary++ {
			leftBox = leftBox.Union(b.bins[boundary].bbox)
			leftCount += b.bins[boundary].count
			b.leftArea[boundary] = nodeMeasure(leftBox, useLength)
			b.leftCounts[boundary] = leftCount
		}

		// Sweep right to left and score each boundary
		rightBox := types.EmptyAABB()
		rightCount := 0
		for boundary := binCount - 2; boundary >= 0; boundary-- {
			rightBox = rightBox.Union(b.bins[boundary+1].bbox)
			rightCount += b.bins[boundary+1].count

			// Make sure that we don't generate empty partitions
			if b.leftCounts[boundary] == 0 || rightCount == 0 {
				continue
			}

			cost := traversalCost +
				(b.leftArea[boundary]/parentMeasure)*float32(b.leftCounts[boundary])*intersectCost +
				(nodeMeasure(rightBox, useLength)/parentMeasure)*float32(rightCount)*intersectCost

			if !found || cost < best.cost {
				best = splitCandidate{axis: axis, boundary: boundary, cost: cost}
				found = true
			}
		}
	}

	return best, found
}

// Reorder the item range so that items whose centroid bin is <= the split
// boundary come first. Returns the number of items on the left side.
func (b *builder) partitionRange(start, count int, split splitCandidate, cbox types.AABB) int {
	binCount := b.opts.BinCount
	scale := float32(binCount) / cbox.Extent()[split.axis]
	minC := cbox.Min[split.axis]

	left, right := start, start+count-1
	for left <= right {
		if binFor(b.centroids[b.order[left]][split.axis], minC, scale, binCount) <= split.boundary {
			left++
			continue
		}
		b.order[left], b.order[right] = b.order[right], b.order[left]
		right--
	}
	return left - start
}

// Setup the node at nodeIndex as a leaf owning the given item range.
// Returns the node index.
func (b *builder) createLeaf(nodeIndex int, bbox types.AABB, start, count int) uint32 {
	copy(b.items[start:start+count], b.order[start:start+count])

	node := &b.nodes[nodeIndex]
	node.SetBBox(bbox)
	node.SetItems(uint32(start), uint32(count))

	b.stats.leafs++
	return uint32(nodeIndex)
}

func binFor(c, minC, scale float32, binCount int) int {
	index := int((c - minC) * scale)
	if index >= binCount {
		index = binCount - 1
	} else if index < 0 {
		index = 0
	}
	return index
}

func nodeMeasure(bbox types.AABB, useLength bool) float32 {
	if bbox.IsEmpty() {
		return 0
	}
	if useLength {
		side := bbox.Extent()
		return side[0] + side[1] + side[2]
	}
	return bbox.SurfaceArea()
}
