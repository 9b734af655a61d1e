package mesh

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"golang.org/x/sync/singleflight"

	"github.com/achilleasa/raypick/bvh"
	"github.com/achilleasa/raypick/log"
)

// Counters describing store activity.
type StoreStats struct {
	Builds        uint64
	Refits        uint64
	Hits          uint64
	Invalidations uint64
}

// The Store lazily builds and caches mesh BVHs on the geometries they belong
// to. At most one build runs per geometry; concurrent first requests for the
// same geometry wait for and share the result of a single build.
type Store struct {
	logger    log.Logger
	buildOpts bvh.Options

	flight singleflight.Group

	workers  int
	poolMu   sync.Mutex
	pool     worker.DynamicWorkerPool

	builds        atomic.Uint64
	refits        atomic.Uint64
	hits          atomic.Uint64
	invalidations atomic.Uint64
}

// Create a new store. Trees are built with buildOpts. Prewarm spreads builds
// over the given number of workers; a non-positive value selects one worker
// per CPU.
func NewStore(buildOpts bvh.Options, workers int) *Store {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Store{
		logger:    log.New("mesh store"),
		buildOpts: buildOpts,
		workers:   workers,
	}
}

// Get the BVH for g, building it on first use or after a topology change.
func (s *Store) GetOrBuild(g *Geometry) (*bvh.MeshBVH, error) {
	if tree := cached(g); tree != nil {
		s.hits.Add(1)
		return tree, nil
	}

	res, err, _ := s.flight.Do(strconv.FormatUint(g.ID(), 10), func() (interface{}, error) {
		// A flight that finished just before this one may have filled the slot
		if tree := cached(g); tree != nil {
			s.hits.Add(1)
			return tree, nil
		}
		return s.build(g)
	})
	if err != nil {
		return nil, err
	}
	return res.(*bvh.MeshBVH), nil
}

func (s *Store) build(g *Geometry) (*bvh.MeshBVH, error) {
	// Clear before taking the snapshot so a concurrent SetPositions is
	// picked up by the next refit.
	g.deformed.Store(false)
	positions, indices, revision := g.snapshot()

	start := time.Now()
	tree, err := bvh.Build(positions, indices, s.buildOpts)
	if err != nil {
		return nil, fmt.Errorf("geometry %q: %w", g.Name(), err)
	}

	g.cache.Store(&cacheEntry{tree: tree, revision: revision})
	s.builds.Add(1)
	s.logger.Debugf(
		"built BVH for geometry %q in %d ms (triangles: %d, nodes: %d, depth: %d)",
		g.Name(), time.Since(start).Nanoseconds()/1e6, len(indices)/3, tree.NodeCount, tree.Depth,
	)
	return tree, nil
}

// Drop the cached BVH for g. The next query rebuilds it.
func (s *Store) Invalidate(g *Geometry) {
	if g.cache.Swap(nil) != nil {
		s.invalidations.Add(1)
		s.logger.Debugf("invalidated BVH for geometry %q", g.Name())
	}
}

// Refit the cached BVH of g if its positions changed since the tree was last
// built or refit. Returns true if a refit was performed. Geometries without
// an up to date cached tree are left alone; GetOrBuild builds them from the
// current positions.
//
// Refit must not run while other goroutines traverse the same tree.
func (s *Store) Refit(g *Geometry) (bool, error) {
	tree := cached(g)
	if tree == nil || !g.deformed.CompareAndSwap(true, false) {
		return false, nil
	}

	if err := tree.Refit(g.Positions()); err != nil {
		g.deformed.Store(true)
		return false, fmt.Errorf("geometry %q: %w", g.Name(), err)
	}
	s.refits.Add(1)
	return true, nil
}

// Get an up to date BVH for g together with the positions it must be
// traversed with. The tree is built on first use and refit if g was
// deformed since the last query.
func (s *Store) Acquire(g *Geometry) (*bvh.MeshBVH, []float32, error) {
	tree, err := s.GetOrBuild(g)
	if err != nil {
		return nil, nil, err
	}
	if _, err = s.Refit(g); err != nil {
		return nil, nil, err
	}
	return tree, g.Positions(), nil
}

// Eagerly build the BVHs for a list of geometries using the store's worker
// pool and wait for all builds to complete. Returns the first build error.
func (s *Store) Prewarm(geometries ...*Geometry) error {
	s.poolMu.Lock()
	if s.pool == nil {
		s.pool = worker.NewDynamicWorkerPool(s.workers, 256, 1*time.Second)
	}
	pool := s.pool
	s.poolMu.Unlock()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)

	start := time.Now()
	for id, g := range geometries {
		wg.Add(1)
		geom := g
		pool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()

				_, err := s.GetOrBuild(geom)
				if err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errMu.Unlock()
				}
				return nil, err
			},
		})
	}
	wg.Wait()

	s.logger.Debugf("prewarmed %d geometries in %d ms", len(geometries), time.Since(start).Nanoseconds()/1e6)
	return firstErr
}

// Stop the prewarm worker pool. Cached trees remain usable and a later
// Prewarm call starts a new pool. Close must not be called while a Prewarm
// call is in progress.
func (s *Store) Close() {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()

	if s.pool != nil {
		s.pool.Stop()
		s.pool = nil
		s.logger.Debug("stopped prewarm worker pool")
	}
}

// Get a snapshot of the store counters.
func (s *Store) Stats() StoreStats {
	return StoreStats{
		Builds:        s.builds.Load(),
		Refits:        s.refits.Load(),
		Hits:          s.hits.Load(),
		Invalidations: s.invalidations.Load(),
	}
}

// Get the cached tree for g if it was built from the current topology.
func cached(g *Geometry) *bvh.MeshBVH {
	entry := g.cache.Load()
	if entry == nil || entry.revision != g.revision.Load() {
		return nil
	}
	return entry.tree
}
