package main

import (
	"os"

	"github.com/urfave/cli"

	"github.com/achilleasa/raypick/cmd"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "raypick"
	app.Usage = "ray queries against instanced triangle meshes"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "load builder and query settings from a YAML file",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "inspect",
			Usage: "build mesh BVHs for a scene and display their statistics",
			Description: `
Parse a scene definition from a wavefront obj file, build a BVH for each mesh
and display node counts, depth, leaf sizes and memory footprint.`,
			ArgsUsage: "scene_file.obj",
			Action:    cmd.InspectScene,
		},
		{
			Name:  "raycast",
			Usage: "cast a single ray into a scene",
			Description: `
Cast a ray into the scene and list all hits sorted by distance. Use --first to
only report the closest hit or --any to run an occlusion query.`,
			ArgsUsage: "scene_file.obj",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "origin, o",
					Value: "0,0,0",
					Usage: "ray origin as x,y,z",
				},
				cli.StringFlag{
					Name:  "dir, d",
					Value: "0,0,-1",
					Usage: "ray direction as x,y,z",
				},
				cli.Float64Flag{
					Name:  "max",
					Value: 0,
					Usage: "maximum hit distance; 0 for unbounded",
				},
				cli.BoolFlag{
					Name:  "cull",
					Usage: "ignore back-facing triangles",
				},
				cli.BoolFlag{
					Name:  "first",
					Usage: "only report the closest hit",
				},
				cli.BoolFlag{
					Name:  "any",
					Usage: "only report whether the ray hits anything",
				},
			},
			Action: cmd.Raycast,
		},
		{
			Name:      "bench",
			Usage:     "measure ray query throughput",
			ArgsUsage: "scene_file.obj",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "rays",
					Value: 100000,
					Usage: "number of random rays to cast per query type",
				},
				cli.Int64Flag{
					Name:  "seed",
					Value: 1,
					Usage: "random seed for ray generation",
				},
			},
			Action: cmd.Benchmark,
		},
	}

	app.Run(os.Args)
}
