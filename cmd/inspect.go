package cmd

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/achilleasa/raypick/scene"
)

// Build BVHs for every geometry in a scene and display their statistics.
func InspectScene(ctx *cli.Context) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}

	sc, store, err := loadScene(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Geometry", "Triangles", "Nodes", "Leafs", "Depth", "Max leaf", "Avg leaf", "Size"})

	totalBytes, totalTris := 0, 0
	for _, g := range sc.Geometries {
		tree, err := store.GetOrBuild(g)
		if err != nil {
			return err
		}
		st := tree.Stats()
		totalBytes += st.SizeBytes
		totalTris += st.Triangles
		table.Append([]string{
			g.Name(),
			fmt.Sprintf("%d", st.Triangles),
			fmt.Sprintf("%d", st.Nodes),
			fmt.Sprintf("%d", st.Leafs),
			fmt.Sprintf("%d", st.Depth),
			fmt.Sprintf("%d", st.MaxLeafSize),
			fmt.Sprintf("%.2f", st.AvgLeafSize),
			fmtSize(st.SizeBytes),
		})
	}
	table.SetFooter([]string{"Total", fmt.Sprintf("%d", totalTris), "", "", "", "", "", strings.TrimLeft(fmtSize(totalBytes), " ")})
	table.Render()
	logger.Noticef("geometry BVH statistics\n%s", buf.String())

	idx, err := scene.NewIndex(sc.Instances, cfg.Query.LinearThreshold)
	if err != nil {
		return err
	}
	mode := "linear scan"
	if idx.Hierarchical() {
		mode = "BVH"
	}
	storeStats := store.Stats()
	logger.Noticef(
		"%d instances indexed using %s; store performed %d builds",
		len(sc.Instances), mode, storeStats.Builds,
	)
	return nil
}
