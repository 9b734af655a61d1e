package bvh

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"unsafe"

	"github.com/chewxy/math32"

	"github.com/achilleasa/raypick/types"
)

// A unit box centered at the origin with outward facing CCW triangles.
func unitBox() ([]float32, []uint32) {
	positions := make([]float32, 0, 24)
	for index := 0; index < 8; index++ {
		x, y, z := float32(-0.5), float32(-0.5), float32(-0.5)
		if index&1 != 0 {
			x = 0.5
		}
		if index&2 != 0 {
			y = 0.5
		}
		if index&4 != 0 {
			z = 0.5
		}
		positions = append(positions, x, y, z)
	}

	indices := []uint32{
		4, 5, 7, 4, 7, 6, // +Z
		0, 2, 3, 0, 3, 1, // -Z
		1, 3, 7, 1, 7, 5, // +X
		0, 4, 6, 0, 6, 2, // -X
		2, 6, 7, 2, 7, 3, // +Y
		0, 1, 5, 0, 5, 4, // -Y
	}
	return positions, indices
}

func randomSoup(rng *rand.Rand, triCount int) ([]float32, []uint32) {
	positions := make([]float32, 0, triCount*9)
	indices := make([]uint32, 0, triCount*3)
	for tri := 0; tri < triCount; tri++ {
		center := randomPoint(rng, 10)
		for corner := 0; corner < 3; corner++ {
			p := center.Add(randomPoint(rng, 1))
			positions = append(positions, p[0], p[1], p[2])
			indices = append(indices, uint32(tri*3+corner))
		}
	}
	return positions, indices
}

func randomPoint(rng *rand.Rand, halfExtent float32) types.Vec3 {
	return types.Vec3{
		(rng.Float32()*2 - 1) * halfExtent,
		(rng.Float32()*2 - 1) * halfExtent,
		(rng.Float32()*2 - 1) * halfExtent,
	}
}

func randomRay(t *testing.T, rng *rand.Rand) types.Ray {
	origin := randomPoint(rng, 15)
	target := randomPoint(rng, 10)
	ray, err := types.NewRay(origin, target.Sub(origin))
	if err != nil {
		t.Fatal(err)
	}
	return ray
}

func bruteForce(ray *types.Ray, positions []float32, indices []uint32, tMax float32, cull bool) map[uint32]float32 {
	hits := make(map[uint32]float32)
	for tri := uint32(0); tri < uint32(len(indices)/3); tri++ {
		v0, v1, v2 := triangleVertices(positions, indices, tri)
		if t, _, _, hit := IntersectTriangle(ray, v0, v1, v2, tMax, cull); hit {
			hits[tri] = t
		}
	}
	return hits
}

func mustBuild(t *testing.T, positions []float32, indices []uint32, opts Options) *MeshBVH {
	tree, err := Build(positions, indices, opts)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
	return tree
}

func TestNodeLayout(t *testing.T) {
	if size := unsafe.Sizeof(Node{}); size != 32 {
		t.Fatalf("expected node size to be 32 bytes; got %d", size)
	}

	var node Node
	node.SetChildNodes(3, 7)
	if node.IsLeaf() {
		t.Fatal("expected node with child indices not to be a leaf")
	}
	if left, right := node.ChildNodes(); left != 3 || right != 7 {
		t.Fatalf("expected child nodes (3, 7); got (%d, %d)", left, right)
	}

	node.SetItems(0, 1)
	if !node.IsLeaf() {
		t.Fatal("expected node with items to be a leaf")
	}
	if first, count := node.Items(); first != 0 || count != 1 {
		t.Fatalf("expected items (0, 1); got (%d, %d)", first, count)
	}

	node.SetItems(42, 4)
	if first, count := node.Items(); first != 42 || count != 4 {
		t.Fatalf("expected items (42, 4); got (%d, %d)", first, count)
	}
}

func TestBuildRejectsMalformedInput(t *testing.T) {
	positions, _ := unitBox()
	type spec struct {
		positions []float32
		indices   []uint32
	}
	specs := []spec{
		{positions, nil},
		{positions, []uint32{0, 1}},
		{positions[:23], []uint32{0, 1, 2}},
		{positions, []uint32{0, 1, 8}},
	}

	for idx, s := range specs {
		tree, err := Build(s.positions, s.indices, Options{})
		if !errors.Is(err, ErrInvalidGeometry) {
			t.Fatalf("[spec %d] expected ErrInvalidGeometry; got %v", idx, err)
		}
		if tree != nil {
			t.Fatalf("[spec %d] expected no tree to be returned on error", idx)
		}
	}
}

func TestBuildDoesNotMutateInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	positions, indices := randomSoup(rng, 64)
	posCopy := append([]float32(nil), positions...)
	idxCopy := append([]uint32(nil), indices...)

	mustBuild(t, positions, indices, Options{})
	if !reflect.DeepEqual(positions, posCopy) || !reflect.DeepEqual(indices, idxCopy) {
		t.Fatal("expected build to leave the input buffers untouched")
	}
}

func TestContainment(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 10; round++ {
		positions, indices := randomSoup(rng, 1+rng.Intn(500))
		tree := mustBuild(t, positions, indices, Options{})
		checkContainment(t, tree, positions)
	}
}

func checkContainment(t *testing.T, tree *MeshBVH, positions []float32) {
	if tree.NodeCount != len(tree.Nodes) {
		t.Fatalf("expected node count %d to match node list length %d", tree.NodeCount, len(tree.Nodes))
	}

	seen := make([]bool, len(tree.indices)/3)
	for index := range tree.Nodes {
		node := &tree.Nodes[index]
		box := node.BBox()
		if !node.IsLeaf() {
			left, right := node.ChildNodes()
			if int(left) <= index || int(right) <= index {
				t.Fatalf("expected children of node %d to be stored after it; got (%d, %d)", index, left, right)
			}
			if !box.Contains(tree.Nodes[left].BBox()) || !box.Contains(tree.Nodes[right].BBox()) {
				t.Fatalf("expected node %d bbox to contain both child boxes", index)
			}
			continue
		}

		first, count := node.Items()
		if count < 1 {
			t.Fatalf("expected leaf %d to own at least one triangle", index)
		}
		for _, tri := range tree.Triangles[first : first+count] {
			if seen[tri] {
				t.Fatalf("expected triangle %d to appear in exactly one leaf", tri)
			}
			seen[tri] = true
			v0, v1, v2 := triangleVertices(positions, tree.indices, tri)
			if !box.ContainsPoint(v0) || !box.ContainsPoint(v1) || !box.ContainsPoint(v2) {
				t.Fatalf("expected leaf %d bbox to contain the vertices of triangle %d", index, tri)
			}
		}
	}

	for tri, ok := range seen {
		if !ok {
			t.Fatalf("expected triangle %d to be owned by a leaf", tri)
		}
	}
}

func TestTraversalMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	positions, indices := randomSoup(rng, 400)
	tree := mustBuild(t, positions, indices, Options{})
	stack := NewStack(0)

	var hits []Hit
	for round := 0; round < 500; round++ {
		ray := randomRay(t, rng)
		q := Query{CullBackface: round%2 == 1}
		if round%3 == 0 {
			q.MaxDistance = 1
		}

		expHits := bruteForce(&ray, positions, indices, q.maxDistance(), q.CullBackface)

		var err error
		hits, err = tree.All(&ray, positions, q, stack, hits[:0])
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != len(expHits) {
			t.Fatalf("[round %d] expected %d hits; got %d", round, len(expHits), len(hits))
		}
		minDist := math32.Inf(1)
		for _, hit := range hits {
			expDist, ok := expHits[hit.Triangle]
			if !ok {
				t.Fatalf("[round %d] unexpected hit on triangle %d", round, hit.Triangle)
			}
			if math32.Abs(expDist-hit.Distance) > 1e-5 {
				t.Fatalf("[round %d] expected distance %f for triangle %d; got %f", round, expDist, hit.Triangle, hit.Distance)
			}
			minDist = math32.Min(minDist, hit.Distance)
		}

		closest, found, err := tree.Closest(&ray, positions, q, stack)
		if err != nil {
			t.Fatal(err)
		}
		if found != (len(hits) > 0) {
			t.Fatalf("[round %d] expected closest hit found=%t; got %t", round, len(hits) > 0, found)
		}
		if found && closest.Distance != minDist {
			t.Fatalf("[round %d] expected closest distance %f; got %f", round, minDist, closest.Distance)
		}

		anyHit, err := tree.Any(&ray, positions, q, stack)
		if err != nil {
			t.Fatal(err)
		}
		if anyHit != (len(hits) > 0) {
			t.Fatalf("[round %d] expected any hit %t; got %t", round, len(hits) > 0, anyHit)
		}
	}
}

func TestDeterministicBuild(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	positions, indices := randomSoup(rng, 300)

	a := mustBuild(t, positions, indices, Options{})
	b := mustBuild(t, positions, indices, Options{})
	if !reflect.DeepEqual(a.Nodes, b.Nodes) {
		t.Fatal("expected identical node lists from identical input")
	}
	if !reflect.DeepEqual(a.Triangles, b.Triangles) {
		t.Fatal("expected identical triangle order from identical input")
	}
}

func TestRefitMatchesRebuild(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	positions, indices := randomSoup(rng, 300)
	tree := mustBuild(t, positions, indices, Options{})
	topology := append([]Node(nil), tree.Nodes...)
	order := append([]uint32(nil), tree.Triangles...)

	moved := make([]float32, len(positions))
	for index := range positions {
		moved[index] = positions[index] + (rng.Float32()*2-1)*0.5
	}

	if err := tree.Refit(moved); err != nil {
		t.Fatal(err)
	}
	checkContainment(t, tree, moved)
	if !reflect.DeepEqual(order, tree.Triangles) {
		t.Fatal("expected refit to preserve the triangle order")
	}
	for index := range topology {
		if topology[index].LData != tree.Nodes[index].LData || topology[index].RData != tree.Nodes[index].RData {
			t.Fatalf("expected refit to preserve the topology of node %d", index)
		}
	}

	rebuilt := mustBuild(t, moved, indices, Options{})
	stack := NewStack(0)
	for round := 0; round < 200; round++ {
		ray := randomRay(t, rng)
		hit, found, err := tree.Closest(&ray, moved, Query{}, stack)
		if err != nil {
			t.Fatal(err)
		}
		expHit, expFound, err := rebuilt.Closest(&ray, moved, Query{}, stack)
		if err != nil {
			t.Fatal(err)
		}
		if found != expFound {
			t.Fatalf("[round %d] expected refit tree found=%t; got %t", round, expFound, found)
		}
		if found && math32.Abs(hit.Distance-expHit.Distance) > 1e-5 {
			t.Fatalf("[round %d] expected refit distance %f; got %f", round, expHit.Distance, hit.Distance)
		}
	}

	if err := tree.Refit(moved[:9]); !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("expected refit with a short position buffer to fail with ErrInvalidGeometry; got %v", err)
	}
}

func TestDegenerateTriangle(t *testing.T) {
	positions := []float32{
		0, 0, 0,
		1, 0, 0,
		2, 0, 0,
	}
	indices := []uint32{0, 1, 2}
	tree := mustBuild(t, positions, indices, Options{})

	if tree.NodeCount != 1 || !tree.Nodes[0].IsLeaf() {
		t.Fatalf("expected a single leaf; got %d nodes", tree.NodeCount)
	}

	stack := NewStack(0)
	rays := [][2]types.Vec3{
		{{1, 0, 5}, {0, 0, -1}},
		{{-1, 0, 0}, {1, 0, 0}},
		{{1, 5, 0}, {0, -1, 0}},
	}
	for idx, spec := range rays {
		ray, err := types.NewRay(spec[0], spec[1])
		if err != nil {
			t.Fatal(err)
		}
		hit, found, err := tree.Closest(&ray, positions, Query{}, stack)
		if err != nil {
			t.Fatalf("[ray %d] unexpected error: %v", idx, err)
		}
		if !found {
			continue
		}
		for _, f := range []float32{hit.Distance, hit.U, hit.V} {
			if math32.IsNaN(f) || math32.IsInf(f, 0) {
				t.Fatalf("[ray %d] expected finite hit fields; got %+v", idx, hit)
			}
		}
	}
}

func TestUnitBoxClosestHit(t *testing.T) {
	positions, indices := unitBox()
	tree := mustBuild(t, positions, indices, Options{})

	ray, err := types.NewRay(types.Vec3{0, 0, 5}, types.Vec3{0, 0, -1})
	if err != nil {
		t.Fatal(err)
	}

	for _, cull := range []bool{false, true} {
		hit, found, err := tree.Closest(&ray, positions, Query{CullBackface: cull}, NewStack(0))
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatalf("[cull %t] expected ray to hit the box", cull)
		}
		if hit.Distance != 4.5 {
			t.Fatalf("[cull %t] expected hit distance 4.5; got %f", cull, hit.Distance)
		}
		if hit.Triangle > 1 {
			t.Fatalf("[cull %t] expected hit on one of the top face triangles; got triangle %d", cull, hit.Triangle)
		}
	}
}

func TestBackfaceCulling(t *testing.T) {
	positions, indices := unitBox()
	tree := mustBuild(t, positions, indices, Options{})
	stack := NewStack(0)

	// From inside the box every face points away from the ray
	ray, err := types.NewRay(types.Vec3{0.1, 0.2, 0}, types.Vec3{0, 0, 1})
	if err != nil {
		t.Fatal(err)
	}

	hit, found, err := tree.Closest(&ray, positions, Query{}, stack)
	if err != nil {
		t.Fatal(err)
	}
	if !found || math32.Abs(hit.Distance-0.5) > 1e-6 {
		t.Fatalf("expected two-sided query to hit the top face at 0.5; got %+v (found %t)", hit, found)
	}

	_, found, err = tree.Closest(&ray, positions, Query{CullBackface: true}, stack)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected culled query from inside the box to miss")
	}

	anyHit, err := tree.Any(&ray, positions, Query{CullBackface: true}, stack)
	if err != nil {
		t.Fatal(err)
	}
	if anyHit {
		t.Fatal("expected culled any-hit query from inside the box to miss")
	}
}

func TestMaxDistance(t *testing.T) {
	positions, indices := unitBox()
	tree := mustBuild(t, positions, indices, Options{})
	stack := NewStack(0)

	ray, err := types.NewRay(types.Vec3{0.1, 0.2, 5}, types.Vec3{0, 0, -1})
	if err != nil {
		t.Fatal(err)
	}

	hits, err := tree.All(&ray, positions, Query{}, stack, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected unbounded query to cross two faces; got %d hits", len(hits))
	}

	hits, err = tree.All(&ray, positions, Query{MaxDistance: 5}, stack, hits[:0])
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Distance != 4.5 {
		t.Fatalf("expected bounded query to only report the top face; got %+v", hits)
	}
}

func TestMissPerformsNoTriangleTests(t *testing.T) {
	positions, indices := unitBox()
	tree := mustBuild(t, positions, indices, Options{})
	stack := NewStack(0)

	ray, err := types.NewRay(types.Vec3{3, 3, 5}, types.Vec3{0, 0, -1})
	if err != nil {
		t.Fatal(err)
	}

	var counters Counters
	q := Query{Counters: &counters}

	_, found, err := tree.Closest(&ray, positions, q, stack)
	if err != nil || found {
		t.Fatalf("expected closest-hit to miss; got found=%t err=%v", found, err)
	}
	anyHit, err := tree.Any(&ray, positions, q, stack)
	if err != nil || anyHit {
		t.Fatalf("expected any-hit to miss; got %t err=%v", anyHit, err)
	}
	hits, err := tree.All(&ray, positions, q, stack, nil)
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected all-hits to be empty; got %d hits err=%v", len(hits), err)
	}

	if counters.TriangleTests != 0 {
		t.Fatalf("expected zero triangle tests; got %d", counters.TriangleTests)
	}
	if counters.NodesVisited != 3 {
		t.Fatalf("expected only the root to be visited by each query; got %d visits", counters.NodesVisited)
	}
}

func TestStackOverflow(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	positions, indices := randomSoup(rng, 200)
	tree := mustBuild(t, positions, indices, Options{})
	if tree.Nodes[0].IsLeaf() {
		t.Fatal("expected root to be an internal node")
	}

	// Aim at the root box center so the root is entered
	center := tree.BBox().Center()
	ray, err := types.NewRay(center.Add(types.Vec3{0, 0, 50}), types.Vec3{0, 0, -1})
	if err != nil {
		t.Fatal(err)
	}

	_, err = tree.Any(&ray, positions, Query{}, NewStack(1))
	if !errors.Is(err, ErrStackOverflow) || !errors.Is(err, ErrInternal) {
		t.Fatalf("expected stack overflow internal error; got %v", err)
	}
}

func TestShortPositionsBuffer(t *testing.T) {
	positions, indices := unitBox()
	tree := mustBuild(t, positions, indices, Options{})
	ray, _ := types.NewRay(types.Vec3{0, 0, 5}, types.Vec3{0, 0, -1})

	if _, _, err := tree.Closest(&ray, positions[:12], Query{}, NewStack(0)); !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry; got %v", err)
	}
}

func TestIntersectAABBAxisAligned(t *testing.T) {
	bmin := types.Vec3{-0.5, -0.5, -0.5}
	bmax := types.Vec3{0.5, 0.5, 0.5}
	inf := math32.Inf(1)

	type spec struct {
		origin types.Vec3
		dir    types.Vec3
		expHit bool
		expT   float32
	}
	specs := []spec{
		{types.Vec3{0, 0, 5}, types.Vec3{0, 0, -1}, true, 4.5},
		{types.Vec3{5, 0, 0}, types.Vec3{-1, 0, 0}, true, 4.5},
		{types.Vec3{1, 0, 5}, types.Vec3{0, 0, -1}, false, 0},
		{types.Vec3{0, 0, 5}, types.Vec3{0, 0, 1}, false, 0},
		// Origin on a slab plane with a zero direction component
		{types.Vec3{0.5, 0, 5}, types.Vec3{0, 0, -1}, true, 4.5},
	}

	for idx, s := range specs {
		ray, err := types.NewRay(s.origin, s.dir)
		if err != nil {
			t.Fatal(err)
		}
		tNear, hit := IntersectAABB(&ray, bmin, bmax, 0, inf)
		if hit != s.expHit {
			t.Fatalf("[spec %d] expected hit %t; got %t", idx, s.expHit, hit)
		}
		if hit && tNear != s.expT {
			t.Fatalf("[spec %d] expected entry distance %f; got %f", idx, s.expT, tNear)
		}
	}
}

func TestIntersectTriangle(t *testing.T) {
	v0 := types.Vec3{0, 0, 0}
	v1 := types.Vec3{1, 0, 0}
	v2 := types.Vec3{0, 1, 0}
	inf := math32.Inf(1)

	type spec struct {
		origin types.Vec3
		dir    types.Vec3
		tMax   float32
		cull   bool
		expHit bool
	}
	specs := []spec{
		{types.Vec3{0.25, 0.25, 1}, types.Vec3{0, 0, -1}, inf, false, true},
		{types.Vec3{0.25, 0.25, 1}, types.Vec3{0, 0, -1}, inf, true, true},
		{types.Vec3{0.25, 0.25, -1}, types.Vec3{0, 0, 1}, inf, false, true},
		{types.Vec3{0.25, 0.25, -1}, types.Vec3{0, 0, 1}, inf, true, false},
		{types.Vec3{0.25, 0.25, 1}, types.Vec3{0, 0, -1}, 0.5, false, false},
		{types.Vec3{0.25, 0.25, 1}, types.Vec3{0, 0, 1}, inf, false, false},
		{types.Vec3{0.75, 0.75, 1}, types.Vec3{0, 0, -1}, inf, false, false},
		{types.Vec3{-1, 0.25, 0}, types.Vec3{1, 0, 0}, inf, false, false},
	}

	for idx, s := range specs {
		ray, err := types.NewRay(s.origin, s.dir)
		if err != nil {
			t.Fatal(err)
		}
		dist, u, v, hit := IntersectTriangle(&ray, v0, v1, v2, s.tMax, s.cull)
		if hit != s.expHit {
			t.Fatalf("[spec %d] expected hit %t; got %t", idx, s.expHit, hit)
		}
		if hit && (dist != 1 || u != 0.25 || v != 0.25) {
			t.Fatalf("[spec %d] expected (t, u, v) = (1, 0.25, 0.25); got (%f, %f, %f)", idx, dist, u, v)
		}
	}
}

func TestStats(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	positions, indices := randomSoup(rng, 250)
	tree := mustBuild(t, positions, indices, Options{MaxLeafItems: 2})

	st := tree.Stats()
	if st.Triangles != 250 || st.Nodes != tree.NodeCount {
		t.Fatalf("expected 250 triangles and %d nodes; got %+v", tree.NodeCount, st)
	}
	if st.Leafs == 0 || st.Leafs > st.Triangles {
		t.Fatalf("expected leaf count in [1, %d]; got %d", st.Triangles, st.Leafs)
	}
	if st.Nodes != 2*st.Leafs-1 {
		t.Fatalf("expected a full binary tree with %d nodes; got %d", 2*st.Leafs-1, st.Nodes)
	}
	if exp := st.Nodes*32 + st.Triangles*4; st.SizeBytes != exp {
		t.Fatalf("expected size %d bytes; got %d", exp, st.SizeBytes)
	}
}
