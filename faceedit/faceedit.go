// Package faceedit implements the per-face operations of spec.md Sec4.I:
// Subdivide, FixBadSurfaceExtents, UniqueTexInfo,
// AdjustResizedTextureCoordinates, DeduplicateModels and the
// IsNullTextured predicate. Like modeledit, none of this exists in the
// teacher; each operation is grounded directly on spec.md's description,
// built from bspfile/geom/bspmap primitives written to support it.
package faceedit

import (
	"fmt"

	"github.com/bspedit/bspedit/bspfile"
	"github.com/bspedit/bspedit/env"
	"github.com/bspedit/bspedit/geom"
)

// nullTextureNames lists the conventional Half-Life "invisible collision"
// texture names (original_source bspguy: is_invisible_faces / SKIP-style
// texture checks) -- faces using these never need a lightmap or visible
// rendering pass.
var nullTextureNames = map[string]bool{
	"NULL":       true,
	"SKIP":       true,
	"CLIP":       true,
	"ORIGIN":     true,
	"HINT":       true,
	"SOLIDHINT":  true,
	"BEVEL":      true,
	"BEVELBRUSH": true,
	"AAATRIGGER": true,
}

// IsNullTextured reports whether faceIdx uses a texture name conventionally
// treated as non-visible, by resolving its texinfo's miptex index against
// the Textures lump's embedded names.
func IsNullTextured(s *bspfile.LumpStore, faceIdx int) (bool, error) {
	faces, err := s.Faces()
	if err != nil {
		return false, err
	}
	if faceIdx < 0 || faceIdx >= len(faces) {
		return false, fmt.Errorf("%w: face %d", bspfile.ErrBadIndex, faceIdx)
	}
	texinfos, err := s.TexInfos()
	if err != nil {
		return false, err
	}
	ti := texinfos[faceIdx2TexInfo(faces[faceIdx])]
	if ti.Flags&bspfile.TexInfoFlagSpecial != 0 {
		return true, nil
	}
	name, ok, err := textureName(s, int(ti.MiptexID))
	if err != nil || !ok {
		return false, err
	}
	return nullTextureNames[name], nil
}

func faceIdx2TexInfo(f bspfile.Face) uint16 { return f.TexInfoIndex }

// textureName reads the Textures lump's MIPTEX directory (spec.md Sec3)
// to find miptexIdx's name without decoding any pixel data.
func textureName(s *bspfile.LumpStore, miptexIdx int) (string, bool, error) {
	data := s.Textures()
	if len(data) < 4 {
		return "", false, nil
	}
	numTex := int(le32(data, 0))
	if miptexIdx < 0 || miptexIdx >= numTex {
		return "", false, nil
	}
	offsetPos := 4 + miptexIdx*4
	if offsetPos+4 > len(data) {
		return "", false, nil
	}
	off := int(le32(data, offsetPos))
	if off < 0 || off+16 > len(data) {
		return "", false, nil
	}
	raw := data[off : off+16]
	n := 0
	for n < 16 && raw[n] != 0 {
		n++
	}
	return string(raw[:n]), true, nil
}

func le32(b []byte, at int) uint32 {
	return uint32(b[at]) | uint32(b[at+1])<<8 | uint32(b[at+2])<<16 | uint32(b[at+3])<<24
}

// Subdivide splits faceIdx in two at the midpoint of the longest
// world-space axis (X, Y or Z) of its vertex bounding box; the texinfo's
// S/T axes are not consulted. A face no larger than
// LuxelWorldUnits*MaxLightmapLuxelsPerAxis on every axis is left whole
// (returns 1). When dryRun is true the function only reports whether a
// split would occur (2) or not (1), without mutating any lump --
// FixBadSurfaceExtents uses it that way as a pre-edit estimator.
func Subdivide(s *bspfile.LumpStore, faceIdx int, e *env.Environment, dryRun bool) (splitInto int, err error) {
	faces, err := s.Faces()
	if err != nil {
		return 0, err
	}
	if faceIdx < 0 || faceIdx >= len(faces) {
		return 0, fmt.Errorf("%w: face %d", bspfile.ErrBadIndex, faceIdx)
	}
	pts, err := facePoints(s, faces[faceIdx])
	if err != nil {
		return 0, err
	}
	if len(pts) < 3 {
		return 0, fmt.Errorf("%w: face %d", bspfile.ErrDegenerateFace, faceIdx)
	}

	box := geom.EmptyBox()
	for _, p := range pts {
		box.Extend(p)
	}
	extent := box.Max.Sub(box.Min)
	luxelExtent := float32(e.Limits.LuxelWorldUnits) * float32(e.Limits.MaxLightmapLuxelsPerAxis)
	if extent[0] <= luxelExtent && extent[1] <= luxelExtent && extent[2] <= luxelExtent {
		return 1, nil // already fits in one lightmap block
	}
	if dryRun {
		return 2, nil
	}

	axis := 0
	if extent[1] > extent[axis] {
		axis = 1
	}
	if extent[2] > extent[axis] {
		axis = 2
	}
	mid := (box.Min[axis] + box.Max[axis]) / 2

	var front, back []geom.Vec3
	n := len(pts)
	for i := 0; i < n; i++ {
		a := pts[i]
		b := pts[(i+1)%n]
		da := a[axis] - mid
		db := b[axis] - mid
		if da <= 0 {
			back = append(back, a)
		} else {
			front = append(front, a)
		}
		if (da < 0 && db > 0) || (da > 0 && db < 0) {
			t := da / (da - db)
			cross := a.Add(b.Sub(a).Mul(t))
			front = append(front, cross)
			back = append(back, cross)
		}
	}
	if len(front) < 3 || len(back) < 3 {
		return 1, nil // numerically degenerate split; leave the face whole
	}

	if err := replaceFacePolygon(s, faceIdx, front); err != nil {
		return 0, err
	}
	if err := insertFaceCopyAfter(s, faceIdx, faces[faceIdx], back); err != nil {
		return 0, err
	}
	return 2, nil
}

func facePoints(s *bspfile.LumpStore, f bspfile.Face) ([]geom.Vec3, error) {
	surfedges, err := s.Surfedges()
	if err != nil {
		return nil, err
	}
	edges, err := s.Edges()
	if err != nil {
		return nil, err
	}
	verts, err := s.Vertices()
	if err != nil {
		return nil, err
	}
	out := make([]geom.Vec3, 0, f.NumSurfedges)
	for i := int(f.FirstSurfedge); i < int(f.FirstSurfedge)+int(f.NumSurfedges); i++ {
		se := surfedges[i]
		var vIdx uint16
		if se >= 0 {
			vIdx = edges[se].V[0]
		} else {
			vIdx = edges[-se].V[1]
		}
		p := verts[vIdx].Point
		out = append(out, geom.Vec3{p[0], p[1], p[2]})
	}
	return out, nil
}

// replaceFacePolygon rewrites faceIdx's surfedge run in place to trace the
// given polygon, interning new vertices/edges as needed. It never removes
// existing geometry -- refgraph.Compact reclaims anything orphaned by the
// edit later.
func replaceFacePolygon(s *bspfile.LumpStore, faceIdx int, poly []geom.Vec3) error {
	faces, err := s.Faces()
	if err != nil {
		return err
	}
	verts, err := s.Vertices()
	if err != nil {
		return err
	}
	edges, err := s.Edges()
	if err != nil {
		return err
	}
	surfedges, err := s.Surfedges()
	if err != nil {
		return err
	}

	firstSE := int32(len(surfedges))
	for i := range poly {
		a := internVertex(&verts, poly[i])
		b := internVertex(&verts, poly[(i+1)%len(poly)])
		se := internEdge(&edges, a, b)
		surfedges = append(surfedges, se)
	}

	faces[faceIdx].FirstSurfedge = firstSE
	faces[faceIdx].NumSurfedges = uint16(len(poly))

	s.ReplaceVertices(verts)
	s.ReplaceEdges(edges)
	s.ReplaceSurfedges(surfedges)
	s.ReplaceFaces(faces)
	return nil
}

// insertFaceCopyAfter splices a new face record -- copying template's
// plane/texinfo/styles but tracing poly for its own surfedge run -- into
// the Faces lump immediately after originalIdx, then fixes up every
// structure that references faces by index so the new face is actually
// reachable: the owning node's and model's FirstFace/NumFaces range grows
// to include it, every later range's FirstFace shifts up by one, and every
// leaf marksurf entry pointing at originalIdx gets a sibling entry pointing
// at the new face (spec.md Sec4.I Subdivide).
func insertFaceCopyAfter(s *bspfile.LumpStore, originalIdx int, template bspfile.Face, poly []geom.Vec3) error {
	faces, err := s.Faces()
	if err != nil {
		return err
	}
	verts, err := s.Vertices()
	if err != nil {
		return err
	}
	edges, err := s.Edges()
	if err != nil {
		return err
	}
	surfedges, err := s.Surfedges()
	if err != nil {
		return err
	}

	firstSE := int32(len(surfedges))
	for i := range poly {
		a := internVertex(&verts, poly[i])
		b := internVertex(&verts, poly[(i+1)%len(poly)])
		se := internEdge(&edges, a, b)
		surfedges = append(surfedges, se)
	}

	newFace := template
	newFace.FirstSurfedge = firstSE
	newFace.NumSurfedges = uint16(len(poly))
	newFace.LightmapOff = bspfile.NoLightmapOffset

	newIdx := originalIdx + 1
	faces = append(faces, bspfile.Face{})
	copy(faces[newIdx+1:], faces[newIdx:len(faces)-1])
	faces[newIdx] = newFace

	if err := shiftFaceReferences(s, newIdx); err != nil {
		return err
	}

	s.ReplaceVertices(verts)
	s.ReplaceEdges(edges)
	s.ReplaceSurfedges(surfedges)
	s.ReplaceFaces(faces)
	return nil
}

// shiftFaceReferences accounts for a new face spliced in at newIdx
// (originalIdx = newIdx-1): every Node/Model range that owned originalIdx
// grows by one, every range entirely after newIdx shifts its FirstFace up
// by one, and every leaf marksurf entry for originalIdx gains a matching
// entry for newIdx, with every leaf's FirstMarkSurf/NumMarkSurf adjusted
// for the resulting insertions into the MarkSurfaces lump.
func shiftFaceReferences(s *bspfile.LumpStore, newIdx int) error {
	originalIdx := newIdx - 1

	nodes, err := s.Nodes()
	if err != nil {
		return err
	}
	for i := range nodes {
		ff := int(nodes[i].FirstFace)
		nf := int(nodes[i].NumFaces)
		switch {
		case ff >= newIdx:
			nodes[i].FirstFace++
		case ff <= originalIdx && originalIdx < ff+nf:
			nodes[i].NumFaces++
		}
	}
	s.ReplaceNodes(nodes)

	models, err := s.Models()
	if err != nil {
		return err
	}
	for i := range models {
		ff := int(models[i].FirstFace)
		nf := int(models[i].NumFaces)
		switch {
		case ff >= newIdx:
			models[i].FirstFace++
		case ff <= originalIdx && originalIdx < ff+nf:
			models[i].NumFaces++
		}
	}
	s.ReplaceModels(models)

	marksurfs, err := s.MarkSurfaces()
	if err != nil {
		return err
	}
	leaves, err := s.Leaves()
	if err != nil {
		return err
	}

	var insertAfter []int
	for j, ms := range marksurfs {
		if int(ms) == originalIdx {
			insertAfter = append(insertAfter, j)
		}
	}

	for i := range leaves {
		lo := int(leaves[i].FirstMarkSurf)
		hi := lo + int(leaves[i].NumMarkSurf)
		shift, grow := 0, 0
		for _, p := range insertAfter {
			if p < lo {
				shift++
			} else if p < hi {
				grow++
			}
		}
		leaves[i].FirstMarkSurf = uint16(lo + shift)
		leaves[i].NumMarkSurf = uint16(hi - lo + grow)
	}
	s.ReplaceLeaves(leaves)

	insertSet := make(map[int]bool, len(insertAfter))
	for _, p := range insertAfter {
		insertSet[p] = true
	}
	newMarksurfs := make([]bspfile.MarkSurf, 0, len(marksurfs)+len(insertAfter))
	for j, ms := range marksurfs {
		v := int(ms)
		if v >= newIdx {
			v++
		}
		newMarksurfs = append(newMarksurfs, bspfile.MarkSurf(v))
		if insertSet[j] {
			newMarksurfs = append(newMarksurfs, bspfile.MarkSurf(newIdx))
		}
	}
	s.ReplaceMarkSurfaces(newMarksurfs)
	return nil
}

func internVertex(verts *[]bspfile.Vertex, p geom.Vec3) uint16 {
	for i, v := range *verts {
		vp := geom.Vec3{v.Point[0], v.Point[1], v.Point[2]}
		if geom.VecEqual(vp, p) {
			return uint16(i)
		}
	}
	idx := uint16(len(*verts))
	*verts = append(*verts, bspfile.Vertex{Point: [3]float32{p[0], p[1], p[2]}})
	return idx
}

func internEdge(edges *[]bspfile.Edge, a, b uint16) bspfile.Surfedge {
	for i, e := range *edges {
		if e.V[0] == a && e.V[1] == b {
			return bspfile.Surfedge(i)
		}
		if e.V[0] == b && e.V[1] == a {
			return -bspfile.Surfedge(i)
		}
	}
	idx := bspfile.Surfedge(len(*edges))
	*edges = append(*edges, bspfile.Edge{V: [2]uint16{a, b}})
	return idx
}

// FixBadSurfaceExtents detects faces whose lightmap-luxel extents exceed
// the engine's limit (spec.md Sec4.I) and either subdivides them (if
// subdivide is true) or reports them for the caller to fix by hand.
// Faces are visited from last to first, so the face each split inserts
// after its original never shifts an index still to be visited.
func FixBadSurfaceExtents(s *bspfile.LumpStore, e *env.Environment, subdivide bool) (fixedOrFlagged []int, err error) {
	faces, err := s.Faces()
	if err != nil {
		return nil, err
	}
	for i := len(faces) - 1; i >= 0; i-- {
		n, err := Subdivide(s, i, e, true)
		if err != nil {
			return nil, err
		}
		if n <= 1 {
			continue
		}
		fixedOrFlagged = append(fixedOrFlagged, i)
		if subdivide {
			if _, err := Subdivide(s, i, e, false); err != nil {
				return nil, err
			}
		}
	}
	return fixedOrFlagged, nil
}

// UniqueTexInfo gives faceIdx its own private TexInfo record (copying the
// shared one it currently points at), so that a later per-face UV edit
// doesn't affect every other face sharing that texinfo slot (spec.md
// Sec4.I UniqueTexInfo).
func UniqueTexInfo(s *bspfile.LumpStore, faceIdx int) error {
	faces, err := s.Faces()
	if err != nil {
		return err
	}
	if faceIdx < 0 || faceIdx >= len(faces) {
		return fmt.Errorf("%w: face %d", bspfile.ErrBadIndex, faceIdx)
	}
	texinfos, err := s.TexInfos()
	if err != nil {
		return err
	}
	shared := 0
	for _, f := range faces {
		if f.TexInfoIndex == faces[faceIdx].TexInfoIndex {
			shared++
		}
	}
	if shared <= 1 {
		return nil // already private
	}
	newIdx := uint16(len(texinfos))
	texinfos = append(texinfos, texinfos[faces[faceIdx].TexInfoIndex])
	s.ReplaceTexInfos(texinfos)
	faces[faceIdx].TexInfoIndex = newIdx
	s.ReplaceFaces(faces)
	return nil
}

// AdjustResizedTextureCoordinates multiplies the texinfo's S axis and
// shift by newW/oldW and its T axis and shift by newH/oldH, so every point
// of the face keeps the same normalized UV after the texture's pixel
// dimensions change from (oldW,oldH) to (newW,newH)
// (spec.md Sec4.I AdjustResizedTextureCoordinates). This calls
// UniqueTexInfo first so the rescale cannot bleed into unrelated faces.
func AdjustResizedTextureCoordinates(s *bspfile.LumpStore, faceIdx int, oldW, oldH, newW, newH int) error {
	if oldW <= 0 || oldH <= 0 || newW <= 0 || newH <= 0 {
		return fmt.Errorf("%w: zero texture dimension", bspfile.ErrBadIndex)
	}
	if err := UniqueTexInfo(s, faceIdx); err != nil {
		return err
	}
	faces, err := s.Faces()
	if err != nil {
		return err
	}
	texinfos, err := s.TexInfos()
	if err != nil {
		return err
	}
	ti := &texinfos[faces[faceIdx].TexInfoIndex]

	sx := float32(newW) / float32(oldW)
	sy := float32(newH) / float32(oldH)
	ti.S[0] *= sx
	ti.S[1] *= sx
	ti.S[2] *= sx
	ti.T[0] *= sy
	ti.T[1] *= sy
	ti.T[2] *= sy
	ti.SShift *= sx
	ti.TShift *= sy

	s.ReplaceTexInfos(texinfos)
	return nil
}

// DeduplicateModels finds groups of models whose hull-0 faces share the
// same modelSignature (per face: edge count, plane normal, and plane
// distance measured from the model's bounds center) and returns every
// group of two or more model indices, in first-seen order (spec.md Sec4.I
// DeduplicateModels). It only reports the groups: no entity "model" or
// "origin" keyvalue is rewritten and no model is removed.
func DeduplicateModels(s *bspfile.LumpStore) (groups [][]int, err error) {
	models, err := s.Models()
	if err != nil {
		return nil, err
	}
	signatures := make([]string, len(models))
	for i := range models {
		sig, err := modelSignature(s, i)
		if err != nil {
			return nil, err
		}
		signatures[i] = sig
	}
	seen := map[string][]int{}
	var order []string
	for i, sig := range signatures {
		if _, ok := seen[sig]; !ok {
			order = append(order, sig)
		}
		seen[sig] = append(seen[sig], i)
	}
	for _, sig := range order {
		if len(seen[sig]) > 1 {
			groups = append(groups, seen[sig])
		}
	}
	return groups, nil
}

// modelSignature summarizes a model's hull-0 face count and each face's
// plane normal/distance and vertex count in winding order, translated so
// the model's own center is the origin -- two congruent-but-offset models
// (e.g. a prop instanced twice) hash identically.
func modelSignature(s *bspfile.LumpStore, modelIdx int) (string, error) {
	models, err := s.Models()
	if err != nil {
		return "", err
	}
	mdl := models[modelIdx]
	faces, err := s.Faces()
	if err != nil {
		return "", err
	}
	planes, err := s.Planes()
	if err != nil {
		return "", err
	}
	center := geom.Vec3{
		(mdl.Mins[0] + mdl.Maxs[0]) / 2,
		(mdl.Mins[1] + mdl.Maxs[1]) / 2,
		(mdl.Mins[2] + mdl.Maxs[2]) / 2,
	}

	sig := ""
	for f := int(mdl.FirstFace); f < int(mdl.FirstFace+mdl.NumFaces); f++ {
		face := faces[f]
		pl := planes[face.PlaneIndex]
		n := pl.Normal
		d := pl.Distance - (n[0]*center[0] + n[1]*center[1] + n[2]*center[2])
		sig += fmt.Sprintf("|%d:%.2f,%.2f,%.2f@%.2f", face.NumSurfedges, n[0], n[1], n[2], d)
	}
	return sig, nil
}
