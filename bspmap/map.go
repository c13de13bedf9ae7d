// Package bspmap composes the lump store and entity table into the
// read-model view spec.md Sec4.D describes: typed slices plus derived
// queries, never mutating. Modeled on the teacher's MapData struct (the
// single composed view q2file.LoadQ2BSP hands back to callers), expanded
// from Quake 2's handful of lumps to the full Half-Life 15.
package bspmap

import (
	"fmt"
	"io"

	"github.com/bspedit/bspedit/bspfile"
	"github.com/bspedit/bspedit/entities"
	"github.com/bspedit/bspedit/geom"
)

// Map is a pure composition over a LumpStore and an entity Table: every
// query here reads, never writes.
type Map struct {
	Store    *bspfile.LumpStore
	Entities *entities.Table
}

// Load reads a BSP file and its entity text into a composed Map.
func Load(r io.ReaderAt) (*Map, error) {
	store, err := bspfile.Load(r)
	if err != nil {
		return nil, err
	}
	table, parseErrs := entities.Parse(store.EntitiesText())
	for _, e := range parseErrs {
		// Non-fatal per spec.md Sec4.C: malformed entities are dropped,
		// not a load failure.
		fmt.Println("warning:", e)
	}
	return &Map{Store: store, Entities: table}, nil
}

// Save regenerates the entity lump text from the (possibly edited) entity
// table and writes the full file.
func (m *Map) Save(w io.Writer) error {
	m.Store.ReplaceEntitiesText(m.Entities.Serialize())
	return m.Store.Save(w)
}

// NumModels returns the Models lump's record count.
func (m *Map) NumModels() (int, error) {
	models, err := m.Store.Models()
	if err != nil {
		return 0, err
	}
	return len(models), nil
}

// GetModelFromFace finds which model owns faceIdx by scanning each
// model's [FirstFace, FirstFace+NumFaces) range.
func (m *Map) GetModelFromFace(faceIdx int) (int, error) {
	models, err := m.Store.Models()
	if err != nil {
		return 0, err
	}
	for i, mdl := range models {
		if faceIdx >= int(mdl.FirstFace) && faceIdx < int(mdl.FirstFace+mdl.NumFaces) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: face %d not owned by any model", bspfile.ErrBadIndex, faceIdx)
}

// GetLeafFromFace scans every leaf's marksurf range for faceIdx. Used by
// callers that need the leaf a given face currently renders from (there is
// no reverse index on disk).
func (m *Map) GetLeafFromFace(faceIdx int) (int, error) {
	leaves, err := m.Store.Leaves()
	if err != nil {
		return 0, err
	}
	markSurfs, err := m.Store.MarkSurfaces()
	if err != nil {
		return 0, err
	}
	for i, leaf := range leaves {
		first := int(leaf.FirstMarkSurf)
		count := int(leaf.NumMarkSurf)
		for o := 0; o < count; o++ {
			if int(markSurfs[first+o]) == faceIdx {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: face %d not referenced by any leaf", bspfile.ErrBadIndex, faceIdx)
}

// GetModelEnts returns every entity whose "model" keyvalue is "*modelIdx".
func (m *Map) GetModelEnts(modelIdx int) []*entities.Entity {
	return m.Entities.ModelEntities(modelIdx)
}

// GetModelVertexBounds walks modelIdx's hull-0 faces and returns the box
// spanned by their live vertices.
func (m *Map) GetModelVertexBounds(modelIdx int) (geom.Box, error) {
	models, err := m.Store.Models()
	if err != nil {
		return geom.Box{}, err
	}
	if modelIdx < 0 || modelIdx >= len(models) {
		return geom.Box{}, fmt.Errorf("%w: model %d", bspfile.ErrBadIndex, modelIdx)
	}
	mdl := models[modelIdx]

	faces, err := m.Store.Faces()
	if err != nil {
		return geom.Box{}, err
	}
	surfedges, err := m.Store.Surfedges()
	if err != nil {
		return geom.Box{}, err
	}
	edges, err := m.Store.Edges()
	if err != nil {
		return geom.Box{}, err
	}
	verts, err := m.Store.Vertices()
	if err != nil {
		return geom.Box{}, err
	}

	box := geom.EmptyBox()
	for f := int(mdl.FirstFace); f < int(mdl.FirstFace+mdl.NumFaces); f++ {
		face := faces[f]
		for s := int(face.FirstSurfedge); s < int(face.FirstSurfedge)+int(face.NumSurfedges); s++ {
			se := surfedges[s]
			edge := edges[absInt32(int32(se))]
			var vIdx uint16
			if se >= 0 {
				vIdx = edge.V[0]
			} else {
				vIdx = edge.V[1]
			}
			v := verts[vIdx].Point
			box.Extend(geom.Vec3{v[0], v[1], v[2]})
		}
	}
	return box, nil
}

// GetModelHullBounds returns modelIdx's Mins/Maxs record fields, offset
// by its Origin -- the bounds used by collision, as opposed to the
// visible-geometry bounds GetModelVertexBounds derives.
func (m *Map) GetModelHullBounds(modelIdx int) (geom.Box, error) {
	models, err := m.Store.Models()
	if err != nil {
		return geom.Box{}, err
	}
	if modelIdx < 0 || modelIdx >= len(models) {
		return geom.Box{}, fmt.Errorf("%w: model %d", bspfile.ErrBadIndex, modelIdx)
	}
	mdl := models[modelIdx]
	origin := geom.Vec3{mdl.Origin[0], mdl.Origin[1], mdl.Origin[2]}
	box := geom.Box{
		Min: geom.Vec3{mdl.Mins[0], mdl.Mins[1], mdl.Mins[2]}.Add(origin),
		Max: geom.Vec3{mdl.Maxs[0], mdl.Maxs[1], mdl.Maxs[2]}.Add(origin),
	}
	return box, nil
}

// GetBoundingBox returns worldspawn's extents (model 0), with origin
// offset applied if includeOrigin is set.
func (m *Map) GetBoundingBox(includeOrigin bool) (geom.Box, error) {
	if includeOrigin {
		return m.GetModelHullBounds(0)
	}
	models, err := m.Store.Models()
	if err != nil {
		return geom.Box{}, err
	}
	mdl := models[0]
	return geom.Box{
		Min: geom.Vec3{mdl.Mins[0], mdl.Mins[1], mdl.Mins[2]},
		Max: geom.Vec3{mdl.Maxs[0], mdl.Maxs[1], mdl.Maxs[2]},
	}, nil
}

// GetModelCenter returns the midpoint of a model's hull bounds.
func (m *Map) GetModelCenter(modelIdx int) (geom.Vec3, error) {
	box, err := m.GetModelHullBounds(modelIdx)
	if err != nil {
		return geom.Vec3{}, err
	}
	return box.Center(), nil
}

// GetFaceCenter averages a face's live vertex positions.
func (m *Map) GetFaceCenter(faceIdx int) (geom.Vec3, error) {
	faces, err := m.Store.Faces()
	if err != nil {
		return geom.Vec3{}, err
	}
	if faceIdx < 0 || faceIdx >= len(faces) {
		return geom.Vec3{}, fmt.Errorf("%w: face %d", bspfile.ErrBadIndex, faceIdx)
	}
	face := faces[faceIdx]
	surfedges, err := m.Store.Surfedges()
	if err != nil {
		return geom.Vec3{}, err
	}
	edges, err := m.Store.Edges()
	if err != nil {
		return geom.Vec3{}, err
	}
	verts, err := m.Store.Vertices()
	if err != nil {
		return geom.Vec3{}, err
	}

	sum := geom.Vec3{}
	count := int(face.NumSurfedges)
	for s := int(face.FirstSurfedge); s < int(face.FirstSurfedge)+count; s++ {
		se := surfedges[s]
		edge := edges[absInt32(int32(se))]
		var vIdx uint16
		if se >= 0 {
			vIdx = edge.V[0]
		} else {
			vIdx = edge.V[1]
		}
		v := verts[vIdx].Point
		sum = sum.Add(geom.Vec3{v[0], v[1], v[2]})
	}
	if count == 0 {
		return geom.Vec3{}, fmt.Errorf("%w: face %d has no edges", bspfile.ErrDegenerateFace, faceIdx)
	}
	return sum.Mul(1.0 / float32(count)), nil
}

// FaceVertices returns the ordered, winding-corrected vertex list for a
// face (spec.md Sec3: surfedge sign selects which endpoint is "first").
func (m *Map) FaceVertices(faceIdx int) ([]geom.Vec3, error) {
	faces, err := m.Store.Faces()
	if err != nil {
		return nil, err
	}
	if faceIdx < 0 || faceIdx >= len(faces) {
		return nil, fmt.Errorf("%w: face %d", bspfile.ErrBadIndex, faceIdx)
	}
	face := faces[faceIdx]
	surfedges, err := m.Store.Surfedges()
	if err != nil {
		return nil, err
	}
	edges, err := m.Store.Edges()
	if err != nil {
		return nil, err
	}
	verts, err := m.Store.Vertices()
	if err != nil {
		return nil, err
	}

	out := make([]geom.Vec3, 0, face.NumSurfedges)
	for s := int(face.FirstSurfedge); s < int(face.FirstSurfedge)+int(face.NumSurfedges); s++ {
		se := surfedges[s]
		edge := edges[absInt32(int32(se))]
		var vIdx uint16
		if se >= 0 {
			vIdx = edge.V[0]
		} else {
			vIdx = edge.V[1]
		}
		v := verts[vIdx].Point
		out = append(out, geom.Vec3{v[0], v[1], v[2]})
	}
	return out, nil
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
