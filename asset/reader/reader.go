package reader

import (
	"errors"
	"fmt"

	"github.com/achilleasa/raypick/asset"
	"github.com/achilleasa/raypick/mesh"
	"github.com/achilleasa/raypick/scene"
)

// ErrUnsupportedFormat is returned by ReadScene for unknown file extensions.
var ErrUnsupportedFormat = errors.New("reader: unsupported file format")

// A Scene groups the geometries parsed from a scene file together with the
// instances that place them in the world.
type Scene struct {
	Geometries []*mesh.Geometry
	Instances  []*scene.Instance
}

// The Reader interface is implemented by all scene readers.
type Reader interface {
	// Read scene definition from a resource.
	Read(*asset.Resource) (*Scene, error)
}

// Read scene from a local file or an http(s) URL.
func ReadScene(filename string) (*Scene, error) {
	res, err := asset.NewResource(filename, nil)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var reader Reader
	switch res.Ext() {
	case ".obj":
		reader = newWavefrontReader()
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedFormat, res.Ext())
	}
	return reader.Read(res)
}
