package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli"

	"github.com/achilleasa/raypick/asset/reader"
	"github.com/achilleasa/raypick/config"
	"github.com/achilleasa/raypick/mesh"
	"github.com/achilleasa/raypick/types"
)

// Read the scene file passed as the single command argument and prewarm a
// BVH store for its geometries. Callers must Close the returned store.
func loadScene(ctx *cli.Context, cfg config.Config) (*reader.Scene, *mesh.Store, error) {
	if ctx.NArg() != 1 {
		return nil, nil, errors.New("missing scene file argument")
	}

	sc, err := reader.ReadScene(ctx.Args().First())
	if err != nil {
		return nil, nil, err
	}

	store := mesh.NewStore(cfg.BuildOptions(), cfg.Store.PrewarmWorkers)
	if err = store.Prewarm(sc.Geometries...); err != nil {
		store.Close()
		return nil, nil, err
	}
	return sc, store, nil
}

// Parse a "x,y,z" flag value.
func parseVec3Flag(name, value string) (types.Vec3, error) {
	tokens := strings.Split(value, ",")
	if len(tokens) != 3 {
		return types.Vec3{}, fmt.Errorf(`flag --%s: expected 3 comma-separated components; got %q`, name, value)
	}

	var v types.Vec3
	for index, token := range tokens {
		f, err := strconv.ParseFloat(strings.TrimSpace(token), 32)
		if err != nil {
			return types.Vec3{}, fmt.Errorf("flag --%s: %w", name, err)
		}
		v[index] = float32(f)
	}
	return v, nil
}

func fmtSize(totalBytes int) string {
	if totalBytes < 1e3 {
		return fmt.Sprintf("%3d bytes", totalBytes)
	} else if totalBytes < 1e6 {
		return fmt.Sprintf("%3.1f kb", float32(totalBytes)/1e3)
	}
	return fmt.Sprintf("%5.1f mb", float32(totalBytes)/1e6)
}

func fmtVec3(v types.Vec3) string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v[0], v[1], v[2])
}
