package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/achilleasa/raypick/bvh"
	"github.com/achilleasa/raypick/scene"
	"github.com/achilleasa/raypick/types"
)

// Measure query throughput by casting random rays through the scene bounds.
func Benchmark(ctx *cli.Context) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}

	numRays := ctx.Int("rays")
	if numRays <= 0 {
		return fmt.Errorf("flag --rays must be positive; got %d", numRays)
	}

	sc, store, err := loadScene(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	idx, err := scene.NewIndex(sc.Instances, cfg.Query.LinearThreshold)
	if err != nil {
		return err
	}

	sceneBBox := types.EmptyAABB()
	for _, in := range sc.Instances {
		if !in.Singular() {
			sceneBBox = sceneBBox.Union(in.BBox())
		}
	}
	if sceneBBox.IsEmpty() {
		return errors.New("scene contains no hittable instances")
	}

	rays := randomRays(rand.New(rand.NewSource(ctx.Int64("seed"))), sceneBBox, numRays)
	rc := scene.NewRaycaster(store, cfg.RaycasterOptions())

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Query", "Rays", "Hits", "Time", "Rays/sec", "Nodes/ray", "Tests/ray"})

	type mode struct {
		name string
		fn   func(types.Ray, bvh.Query) (int, error)
	}
	modes := []mode{
		{"all", func(ray types.Ray, q bvh.Query) (int, error) {
			hits, err := rc.IntersectIndex(ray, idx, q)
			return len(hits), err
		}},
		{"first", func(ray types.Ray, q bvh.Query) (int, error) {
			_, found, err := rc.IntersectFirstIndex(ray, idx, q)
			return boolToInt(found), err
		}},
		{"any", func(ray types.Ray, q bvh.Query) (int, error) {
			found, err := rc.IntersectAnyIndex(ray, idx, q)
			return boolToInt(found), err
		}},
	}

	for _, m := range modes {
		counters := &bvh.Counters{}
		q := bvh.Query{Counters: counters}
		hits := 0

		start := time.Now()
		for _, ray := range rays {
			n, err := m.fn(ray, q)
			if err != nil {
				return err
			}
			hits += n
		}
		elapsed := time.Since(start)

		table.Append([]string{
			m.name,
			fmt.Sprintf("%d", len(rays)),
			fmt.Sprintf("%d", hits),
			elapsed.String(),
			fmt.Sprintf("%.0f", float64(len(rays))/elapsed.Seconds()),
			fmt.Sprintf("%.1f", float64(counters.NodesVisited)/float64(len(rays))),
			fmt.Sprintf("%.1f", float64(counters.TriangleTests)/float64(len(rays))),
		})
	}
	table.Render()

	logger.Noticef("benchmark results for %d instances\n%s", len(sc.Instances), buf.String())
	return nil
}

// Generate rays that start on a sphere enclosing the scene bounds and point
// towards random points inside them.
func randomRays(rng *rand.Rand, bbox types.AABB, count int) []types.Ray {
	center := bbox.Center()
	radius := bbox.Extent().Len()
	if radius == 0 {
		radius = 1
	}

	rays := make([]types.Ray, 0, count)
	for len(rays) < count {
		offset := types.Vec3{rng.Float32()*2 - 1, rng.Float32()*2 - 1, rng.Float32()*2 - 1}
		if offset.LenSq() == 0 {
			continue
		}
		origin := center.Add(offset.Normalize().Mul(radius))

		target := types.Vec3{}
		for axis := 0; axis < 3; axis++ {
			target[axis] = bbox.Min[axis] + rng.Float32()*(bbox.Max[axis]-bbox.Min[axis])
		}

		ray, err := types.NewRay(origin, target.Sub(origin).Normalize())
		if err != nil {
			continue
		}
		rays = append(rays, ray)
	}
	return rays
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
