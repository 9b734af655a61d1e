package cmd

import (
	"github.com/urfave/cli"

	"github.com/achilleasa/raypick/config"
	"github.com/achilleasa/raypick/log"
)

var logger = log.New("raypick")

// Load the configuration selected by the global --config flag and apply its
// log level. The -v and -vv flags override the configured level.
func setup(ctx *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := ctx.GlobalString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
		logger.Infof("loaded configuration from %s", path)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cfg, err
	}
	log.SetLevel(level)

	if ctx.GlobalBool("v") {
		log.SetLevel(log.Info)
	}

	if ctx.GlobalBool("vv") {
		log.SetLevel(log.Debug)
	}
	return cfg, nil
}
