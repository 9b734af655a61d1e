package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/achilleasa/raypick/bvh"
	"github.com/achilleasa/raypick/log"
	"github.com/achilleasa/raypick/scene"
)

// ErrInvalidConfig is returned when a configuration value is out of range.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// BVH builder settings.
type Builder struct {
	MaxLeafTriangles int `yaml:"max_leaf_triangles"`
	BinCount         int `yaml:"bin_count"`
}

// Raycaster and scene index settings.
type Query struct {
	StackCapacity   int `yaml:"stack_capacity"`
	LinearThreshold int `yaml:"linear_threshold"`
}

// BVH store settings.
type Store struct {
	PrewarmWorkers int `yaml:"prewarm_workers"`
}

// Config holds all tunables. Values omitted from a YAML document keep their
// defaults.
type Config struct {
	Builder  Builder `yaml:"builder"`
	Query    Query   `yaml:"query"`
	Store    Store   `yaml:"store"`
	LogLevel string  `yaml:"log_level"`
}

// Get the default configuration.
func Default() Config {
	return Config{
		Builder: Builder{
			MaxLeafTriangles: bvh.DefaultMaxLeafItems,
			BinCount:         bvh.DefaultBinCount,
		},
		Query: Query{
			StackCapacity:   bvh.DefaultStackCapacity,
			LinearThreshold: scene.DefaultLinearThreshold,
		},
		Store: Store{
			PrewarmWorkers: 0,
		},
		LogLevel: "notice",
	}
}

// Load a YAML configuration file on top of the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse a YAML document on top of the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Check that all values are within range.
func (c Config) Validate() error {
	switch {
	case c.Builder.MaxLeafTriangles < 1:
		return fmt.Errorf("%w: builder.max_leaf_triangles must be >= 1; got %d", ErrInvalidConfig, c.Builder.MaxLeafTriangles)
	case c.Builder.BinCount < 2:
		return fmt.Errorf("%w: builder.bin_count must be >= 2; got %d", ErrInvalidConfig, c.Builder.BinCount)
	case c.Query.StackCapacity < 1:
		return fmt.Errorf("%w: query.stack_capacity must be >= 1; got %d", ErrInvalidConfig, c.Query.StackCapacity)
	case c.Query.LinearThreshold < 1:
		return fmt.Errorf("%w: query.linear_threshold must be >= 1; got %d", ErrInvalidConfig, c.Query.LinearThreshold)
	case c.Store.PrewarmWorkers < 0:
		return fmt.Errorf("%w: store.prewarm_workers must be >= 0; got %d", ErrInvalidConfig, c.Store.PrewarmWorkers)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Get the builder options.
func (c Config) BuildOptions() bvh.Options {
	return bvh.Options{
		MaxLeafItems: c.Builder.MaxLeafTriangles,
		BinCount:     c.Builder.BinCount,
	}
}

// Get the raycaster options.
func (c Config) RaycasterOptions() scene.RaycasterOptions {
	return scene.RaycasterOptions{
		StackCapacity:   c.Query.StackCapacity,
		LinearThreshold: c.Query.LinearThreshold,
	}
}
