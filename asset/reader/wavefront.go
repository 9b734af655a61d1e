package reader

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chewxy/math32"

	"github.com/achilleasa/raypick/asset"
	"github.com/achilleasa/raypick/log"
	"github.com/achilleasa/raypick/mesh"
	"github.com/achilleasa/raypick/scene"
	"github.com/achilleasa/raypick/types"
)

// A mesh being assembled from "o"/"g" sections. Vertices are shared between
// the faces of the same mesh.
type wavefrontMesh struct {
	name      string
	positions []float32
	indices   []uint32

	// Maps a global vertex index to the local index inside positions.
	remap map[int]uint32
}

func newWavefrontMesh(name string) *wavefrontMesh {
	return &wavefrontMesh{
		name:  name,
		remap: make(map[int]uint32),
	}
}

// Append a vertex from the global vertex list and return its local index.
func (m *wavefrontMesh) localIndex(global int, v types.Vec3) uint32 {
	if index, exists := m.remap[global]; exists {
		return index
	}
	index := uint32(len(m.positions) / 3)
	m.positions = append(m.positions, v[0], v[1], v[2])
	m.remap[global] = index
	return index
}

// An instance definition that is resolved once all meshes have been parsed.
type wavefrontInstance struct {
	meshName  string
	transform types.Mat4
	file      string
	line      int
}

type wavefrontSceneReader struct {
	logger log.Logger

	meshes    []*wavefrontMesh
	instances []wavefrontInstance

	// Parsed vertex coordinates. Normal and uv coordinates are only
	// counted so that face indices referencing them can be validated.
	vertexList  []types.Vec3
	normalCount int
	uvCount     int

	// An error stack that provides additional error information when
	// scene files include other files.
	errStack []string
}

// Create a new wavefront scene reader.
func newWavefrontReader() *wavefrontSceneReader {
	return &wavefrontSceneReader{
		logger:     log.New("wavefront reader"),
		vertexList: make([]types.Vec3, 0),
		errStack:   make([]string, 0),
	}
}

// Read scene definition.
func (r *wavefrontSceneReader) Read(sceneRes *asset.Resource) (*Scene, error) {
	r.logger.Noticef(`parsing scene from "%s"`, sceneRes.Path())
	start := time.Now()

	if err := r.parse(sceneRes); err != nil {
		return nil, err
	}

	out := &Scene{}
	byName := make(map[string]*mesh.Geometry, len(r.meshes))
	for _, m := range r.meshes {
		g, err := mesh.NewGeometry(m.name, m.positions, m.indices)
		if err != nil {
			return nil, r.emitError("", 0, "mesh %q: %s", m.name, err.Error())
		}
		out.Geometries = append(out.Geometries, g)
		if _, exists := byName[m.name]; !exists {
			byName[m.name] = g
		}
	}

	// If no mesh instances are defined, create instances for each defined mesh
	if len(r.instances) == 0 {
		for _, g := range out.Geometries {
			out.Instances = append(out.Instances, scene.NewInstance(g.Name(), g, types.Ident4()))
		}
	}

	for index, def := range r.instances {
		g, exists := byName[def.meshName]
		if !exists {
			return nil, r.emitError(def.file, def.line, `unknown mesh with name "%s"`, def.meshName)
		}
		in := scene.NewInstance(fmt.Sprintf("%s#%d", def.meshName, index), g, def.transform)
		if in.Singular() {
			r.logger.Warningf(`[%s: %d] instance of "%s" has a singular transform and will never be hit`, def.file, def.line, def.meshName)
		}
		out.Instances = append(out.Instances, in)
	}

	r.logger.Noticef(
		"parsed %d meshes and %d instances in %d ms",
		len(out.Geometries), len(out.Instances), time.Since(start).Nanoseconds()/1e6,
	)
	return out, nil
}

// Generate an error message that also includes any data in the error stack.
func (r *wavefrontSceneReader) emitError(file string, line int, msgFormat string, args ...interface{}) error {
	msg := fmt.Sprintf(msgFormat, args...)
	var errMsg string
	if file != "" {
		errMsg = fmt.Sprintf("[%s: %d] error: %s\n%s", file, line, msg, strings.Join(r.errStack, "\n"))
	} else {
		errMsg = fmt.Sprintf("error: %s\n%s", msg, strings.Join(r.errStack, "\n"))
	}
	return errors.New(strings.Trim(errMsg, "\n"))
}

// Push a frame to the error stack.
func (r *wavefrontSceneReader) pushFrame(msg string) {
	r.errStack = append([]string{msg}, r.errStack...)
}

// Pop a frame from the error stack.
func (r *wavefrontSceneReader) popFrame() {
	r.errStack = r.errStack[1:]
}

// Parse wavefront object scene format.
func (r *wavefrontSceneReader) parse(res *asset.Resource) error {
	lineNum := 0

	// The main obj file may include (call) several other object files. Each
	// object file uses 1-based indices (when they are positive) relative to
	// its own vertex list so we track the offsets at the time of inclusion.
	relVertexOffset := len(r.vertexList)
	relUvOffset := r.uvCount
	relNormalOffset := r.normalCount

	scanner := bufio.NewScanner(res)
	for scanner.Scan() {
		lineNum++
		lineTokens := strings.Fields(scanner.Text())
		if len(lineTokens) == 0 || strings.HasPrefix(lineTokens[0], "#") {
			continue
		}

		switch lineTokens[0] {
		case "call":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "call"; expected 1 argument; got %d`, len(lineTokens)-1)
			}

			r.pushFrame(fmt.Sprintf("referenced from %s:%d [call]", res.Path(), lineNum))
			incRes, err := asset.NewResource(lineTokens[1], res)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
			err = r.parse(incRes)
			incRes.Close()
			if err != nil {
				return err
			}
			r.popFrame()
		case "v":
			v, err := parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
			r.vertexList = append(r.vertexList, v)
		case "vn":
			if _, err := parseVec3(lineTokens); err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
			r.normalCount++
		case "vt":
			if len(lineTokens) < 3 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "vt"; expected 2 arguments; got %d`, len(lineTokens)-1)
			}
			r.uvCount++
		case "g", "o":
			if len(lineTokens) < 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "%s"; expected 1 argument for object name; got %d`, lineTokens[0], len(lineTokens)-1)
			}
			r.verifyLastParsedMesh()
			r.meshes = append(r.meshes, newWavefrontMesh(lineTokens[1]))
		case "f":
			// If no object has been defined create a default one
			if len(r.meshes) == 0 {
				r.meshes = append(r.meshes, newWavefrontMesh("default"))
			}
			err := r.parseFace(lineTokens, r.meshes[len(r.meshes)-1], relVertexOffset, relUvOffset, relNormalOffset)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
		case "instance":
			def, err := parseMeshInstance(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err)
			}
			def.file, def.line = res.Path(), lineNum
			r.instances = append(r.instances, def)
		case "mtllib", "usemtl", "s":
			r.logger.Debugf(`[%s: %d] ignoring "%s" directive`, res.Path(), lineNum, lineTokens[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return r.emitError(res.Path(), lineNum, "%s", err)
	}

	r.verifyLastParsedMesh()
	return nil
}

// Drop the last parsed mesh if it contains no triangles.
func (r *wavefrontSceneReader) verifyLastParsedMesh() {
	lastMeshIndex := len(r.meshes) - 1
	if lastMeshIndex >= 0 && len(r.meshes[lastMeshIndex].indices) == 0 {
		r.logger.Warningf(`dropping mesh "%s" as it contains no polygons`, r.meshes[lastMeshIndex].name)
		r.meshes = r.meshes[:lastMeshIndex]
	}
}

// Parse mesh instance definition. Definitions use the following format:
// instance mesh_name tX tY tZ yaw pitch roll sX sY sZ
// where:
// - tX, tY, tZ       : translation vector
// - yaw, pitch, roll : rotation angles in degrees
// - sX, sY, sZ       : scale
func parseMeshInstance(lineTokens []string) (wavefrontInstance, error) {
	if len(lineTokens) != 11 {
		return wavefrontInstance{}, fmt.Errorf(`unsupported syntax for "instance"; expected 10 arguments: mesh_name tX tY tZ yaw pitch roll sX sY sZ; got %d`, len(lineTokens)-1)
	}

	var params [9]float32
	for index := range params {
		v, err := strconv.ParseFloat(lineTokens[index+2], 32)
		if err != nil {
			return wavefrontInstance{}, err
		}
		params[index] = float32(v)
	}

	translation := types.Vec3{params[0], params[1], params[2]}
	rotation := types.QuatFromEuler(
		params[3]*math32.Pi/180,
		params[4]*math32.Pi/180,
		params[5]*math32.Pi/180,
	)
	scale := types.Vec3{params[6], params[7], params[8]}

	return wavefrontInstance{
		meshName:  lineTokens[1],
		transform: types.TRS(translation, rotation, scale),
	}, nil
}

// Parse face definition. Each face definition consists of 3 or 4 arguments,
// one for each vertex. Each one of the vertex arguments is comprised of
// 1, 2 or 3 indices separated by a slash character:
// - vertexIndex
// - vertexIndex/uvIndex
// - vertexIndex//normalIndex
// - vertexIndex/uvIndex/normalIndex
//
// Indices start from 1 and may be negative to indicate an offset off the end
// of the vertex/uv/normal list. Quads are split into two triangles sharing
// the 0-2 diagonal; winding order is preserved.
func (r *wavefrontSceneReader) parseFace(lineTokens []string, m *wavefrontMesh, relVertexOffset, relUvOffset, relNormalOffset int) error {
	if len(lineTokens) < 4 || len(lineTokens) > 5 {
		return fmt.Errorf(`unsupported syntax for "f"; expected 3 arguments for triangular face or 4 arguments for a quad face; got %d. Select the triangulation option in your exporter`, len(lineTokens)-1)
	}

	var corners [4]uint32
	expIndices := 0
	for arg := 0; arg < len(lineTokens)-1; arg++ {
		vTokens := strings.Split(lineTokens[arg+1], "/")

		// The first arg defines the format for the following args
		if arg == 0 {
			expIndices = len(vTokens)
		} else if len(vTokens) != expIndices {
			return fmt.Errorf("expected each face argument to contain %d indices; arg %d contains %d indices", expIndices, arg, len(vTokens))
		}
		if len(vTokens) > 3 {
			return fmt.Errorf("face argument %d contains %d indices; expected at most 3", arg, len(vTokens))
		}

		// Faces must at least define a vertex coord
		if vTokens[0] == "" {
			return fmt.Errorf("face argument %d does not include a vertex index", arg)
		}
		vOffset, err := selectFaceCoordIndex(vTokens[0], len(r.vertexList), relVertexOffset)
		if err != nil {
			return fmt.Errorf("could not parse vertex coord for face argument %d: %s", arg, err.Error())
		}
		corners[arg] = m.localIndex(vOffset, r.vertexList[vOffset])

		if expIndices > 1 && vTokens[1] != "" {
			if _, err = selectFaceCoordIndex(vTokens[1], r.uvCount, relUvOffset); err != nil {
				return fmt.Errorf("could not parse tex coord for face argument %d: %s", arg, err.Error())
			}
		}
		if expIndices > 2 && vTokens[2] != "" {
			if _, err = selectFaceCoordIndex(vTokens[2], r.normalCount, relNormalOffset); err != nil {
				return fmt.Errorf("could not parse normal coord for face argument %d: %s", arg, err.Error())
			}
		}
	}

	m.indices = append(m.indices, corners[0], corners[1], corners[2])
	if len(lineTokens) == 5 {
		m.indices = append(m.indices, corners[0], corners[2], corners[3])
	}
	return nil
}

// Convert a 1-based (or negative, relative to the end) face index token into
// an offset into a coordinate list of the given length.
func selectFaceCoordIndex(indexToken string, coordListLen int, relOffset int) (int, error) {
	index, err := strconv.ParseInt(indexToken, 10, 32)
	if err != nil {
		return -1, err
	}

	var vOffset int
	if index < 0 {
		vOffset = coordListLen + int(index)
	} else {
		vOffset = relOffset + int(index-1)
	}
	if index == 0 || vOffset < 0 || vOffset >= coordListLen {
		return -1, fmt.Errorf("index out of bounds")
	}
	return vOffset, nil
}

// Parse a Vec3 row.
func parseVec3(lineTokens []string) (types.Vec3, error) {
	if len(lineTokens) < 4 {
		return types.Vec3{}, fmt.Errorf(`unsupported syntax for "%s"; expected 3 arguments; got %d`, lineTokens[0], len(lineTokens)-1)
	}

	v := types.Vec3{}
	for tokIdx := 1; tokIdx <= 3; tokIdx++ {
		coord, err := strconv.ParseFloat(lineTokens[tokIdx], 32)
		if err != nil {
			return v, err
		}
		v[tokIdx-1] = float32(coord)
	}
	return v, nil
}
