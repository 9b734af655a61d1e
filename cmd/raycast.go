package cmd

import (
	"bytes"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/achilleasa/raypick/bvh"
	"github.com/achilleasa/raypick/scene"
	"github.com/achilleasa/raypick/types"
)

// Cast a single ray into a scene and display the hits.
func Raycast(ctx *cli.Context) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}

	origin, err := parseVec3Flag("origin", ctx.String("origin"))
	if err != nil {
		return err
	}
	dir, err := parseVec3Flag("dir", ctx.String("dir"))
	if err != nil {
		return err
	}
	ray, err := types.NewRay(origin, dir)
	if err != nil {
		return err
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

	rc := scene.NewRaycaster(store, cfg.RaycasterOptions())
	counters := &bvh.Counters{}
	q := bvh.Query{
		MaxDistance:  float32(ctx.Float64("max")),
		CullBackface: ctx.Bool("cull"),
		Counters:     counters,
	}

	var hits []scene.WorldHit
	switch {
	case ctx.Bool("any"):
		occluded, err := rc.IntersectAnyIndex(ray, idx, q)
		if err != nil {
			return err
		}
		logger.Noticef("ray occluded: %t (%d nodes visited, %d triangle tests)", occluded, counters.NodesVisited, counters.TriangleTests)
		return nil
	case ctx.Bool("first"):
		hit, found, err := rc.IntersectFirstIndex(ray, idx, q)
		if err != nil {
			return err
		}
		if found {
			hits = append(hits, hit)
		}
	default:
		if hits, err = rc.IntersectIndex(ray, idx, q); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Instance", "Triangle", "Distance", "Point", "Normal"})
	for _, hit := range hits {
		table.Append([]string{
			hit.Instance.Name(),
			fmt.Sprintf("%d", hit.Triangle),
			fmt.Sprintf("%.4f", hit.Distance),
			fmtVec3(hit.Point),
			fmtVec3(hit.Normal),
		})
	}
	table.SetFooter([]string{"", "", "", "HITS", fmt.Sprintf("%d", len(hits))})
	table.Render()

	logger.Noticef(
		"ray %s -> %s (%d nodes visited, %d triangle tests)\n%s",
		fmtVec3(origin), fmtVec3(dir), counters.NodesVisited, counters.TriangleTests, buf.String(),
	)
	return nil
}
