// Package modeledit implements the per-submodel editing operations of
// spec.md Sec4.H: Move, Scale, Duplicate, Delete, RegenerateClipnodes,
// Merge and CreateSolid. Vertex manipulation and origin-only moves are
// not implemented in this package. None of these exist in the
// teacher (a read-only viewer), so each is grounded on spec.md's own
// description of the algorithm, built from the traverse/clipper/geom/
// refgraph primitives those sections were written to support.
package modeledit

import (
	"fmt"

	"github.com/bspedit/bspedit/bspfile"
	"github.com/bspedit/bspedit/entities"
	"github.com/bspedit/bspedit/env"
	"github.com/bspedit/bspedit/faceedit"
	"github.com/bspedit/bspedit/geom"
	"github.com/bspedit/bspedit/refgraph"
)

// Move translates a model's vertices, plane distances and bounding box/
// origin by delta. Planes and vertices shared with another model are
// first split off exclusively for modelIdx via splitSharedModelStructures
// (spec.md Sec4.H Move / "Shared structure"), so Move never leaves a
// moved model referencing stale, unmoved geometry. Moving model 0 also
// shifts every entity's origin/spawnorigin keyvalue by delta, since
// worldspawn has no Model.Origin of its own to carry the offset. Every
// moved face's texinfo shift is compensated so its UVs don't slide.
func Move(s *bspfile.LumpStore, modelIdx int, delta geom.Vec3) error {
	models, err := s.Models()
	if err != nil {
		return err
	}
	if modelIdx < 0 || modelIdx >= len(models) {
		return fmt.Errorf("%w: model %d", bspfile.ErrBadIndex, modelIdx)
	}

	if modelIdx == 0 {
		if err := shiftEntityOrigins(s, delta); err != nil {
			return err
		}
	}

	ownUsage, sharedUsage, err := exclusiveUsage(s, modelIdx)
	if err != nil {
		return err
	}
	if err := splitSharedModelStructures(s, modelIdx, ownUsage, sharedUsage); err != nil {
		return err
	}
	ownUsage, sharedUsage, err = exclusiveUsage(s, modelIdx)
	if err != nil {
		return err
	}

	if err := adjustTexInfoForMove(s, ownUsage, delta); err != nil {
		return err
	}

	verts, err := s.Vertices()
	if err != nil {
		return err
	}
	for i := range verts {
		if !ownUsage.Vertices[i] {
			continue
		}
		p := verts[i].Point
		v := geom.Vec3{p[0], p[1], p[2]}.Add(delta)
		verts[i].Point = [3]float32{v[0], v[1], v[2]}
	}
	s.ReplaceVertices(verts)

	planes, err := s.Planes()
	if err != nil {
		return err
	}
	for i := range planes {
		if !ownUsage.Planes[i] || sharedUsage.Planes[i] {
			continue
		}
		n := planes[i].Normal
		planes[i].Distance += n[0]*delta[0] + n[1]*delta[1] + n[2]*delta[2]
	}
	s.ReplacePlanes(planes)

	mdl := &models[modelIdx]
	mdl.Origin[0] += delta[0]
	mdl.Origin[1] += delta[1]
	mdl.Origin[2] += delta[2]
	mdl.Mins[0] += delta[0]
	mdl.Mins[1] += delta[1]
	mdl.Mins[2] += delta[2]
	mdl.Maxs[0] += delta[0]
	mdl.Maxs[1] += delta[1]
	mdl.Maxs[2] += delta[2]
	s.ReplaceModels(models)
	return nil
}

// shiftEntityOrigins adds delta to every entity's "origin" and
// "spawnorigin" keyvalue (spec.md Sec4.H Move: moving model 0 carries
// every entity along with it, since worldspawn itself has no per-instance
// origin field).
func shiftEntityOrigins(s *bspfile.LumpStore, delta geom.Vec3) error {
	table, _ := entities.Parse(s.EntitiesText())
	d := [3]float64{float64(delta[0]), float64(delta[1]), float64(delta[2])}
	for _, ent := range table.Entities {
		for _, key := range [2]string{"origin", "spawnorigin"} {
			v, ok := ent.GetVectorKey(key)
			if !ok {
				continue
			}
			v[0] += d[0]
			v[1] += d[1]
			v[2] += d[2]
			ent.SetVectorKey(key, v)
		}
	}
	s.ReplaceEntitiesText(table.Serialize())
	return nil
}

// splitSharedModelStructures duplicates every plane and vertex modelIdx's
// exclusive geometry shares with another model, exclusively for modelIdx,
// and repoints modelIdx's own nodes/clipnodes/faces/edges at the copies.
// Without this, Move would translate a shared plane/vertex out from under
// every other model that also references it, or (if it skipped shared
// records) leave modelIdx's faces referencing stale, unmoved geometry
// (spec.md Sec4.H Move / "Shared structure").
func splitSharedModelStructures(s *bspfile.LumpStore, modelIdx int, ownUsage, sharedUsage *refgraph.Usage) error {
	if !anyTrue(sharedUsage.Planes) && !anyTrue(sharedUsage.Vertices) {
		return nil
	}

	planes, err := s.Planes()
	if err != nil {
		return err
	}
	verts, err := s.Vertices()
	if err != nil {
		return err
	}

	planeRemap := map[uint16]uint16{}
	for i, shared := range sharedUsage.Planes {
		if !shared || !ownUsage.Planes[i] {
			continue
		}
		n := uint16(len(planes))
		planes = append(planes, planes[i])
		planeRemap[uint16(i)] = n
	}
	vertRemap := map[uint16]uint16{}
	for i, shared := range sharedUsage.Vertices {
		if !shared || !ownUsage.Vertices[i] {
			continue
		}
		n := uint16(len(verts))
		verts = append(verts, verts[i])
		vertRemap[uint16(i)] = n
	}
	s.ReplacePlanes(planes)
	s.ReplaceVertices(verts)

	nodes, err := s.Nodes()
	if err != nil {
		return err
	}
	for i := range nodes {
		if !ownUsage.Nodes[i] {
			continue
		}
		if n, ok := planeRemap[uint16(nodes[i].PlaneIndex)]; ok {
			nodes[i].PlaneIndex = int32(n)
		}
	}
	s.ReplaceNodes(nodes)

	clipnodes, err := s.ClipNodes()
	if err != nil {
		return err
	}
	for i := range clipnodes {
		if !ownUsage.ClipNodes[i] {
			continue
		}
		if n, ok := planeRemap[uint16(clipnodes[i].PlaneIndex)]; ok {
			clipnodes[i].PlaneIndex = int32(n)
		}
	}
	s.ReplaceClipNodes(clipnodes)

	faces, err := s.Faces()
	if err != nil {
		return err
	}
	for i := range faces {
		if !ownUsage.Faces[i] {
			continue
		}
		if n, ok := planeRemap[faces[i].PlaneIndex]; ok {
			faces[i].PlaneIndex = n
		}
	}
	s.ReplaceFaces(faces)

	edges, err := s.Edges()
	if err != nil {
		return err
	}
	for i := range edges {
		if !ownUsage.Edges[i] {
			continue
		}
		if n, ok := vertRemap[edges[i].V[0]]; ok {
			edges[i].V[0] = n
		}
		if n, ok := vertRemap[edges[i].V[1]]; ok {
			edges[i].V[1] = n
		}
	}
	s.ReplaceEdges(edges)
	return nil
}

// adjustTexInfoForMove gives every face modelIdx's move touches its own
// private texinfo (so the shift below cannot bleed into an unrelated
// model sharing the same texinfo slot) and compensates SShift/TShift so
// the moved surface keeps the same texel alignment it had before delta
// was applied (spec.md Sec4.H Move: "update texinfo shifts so UVs do not
// slide").
func adjustTexInfoForMove(s *bspfile.LumpStore, ownUsage *refgraph.Usage, delta geom.Vec3) error {
	for i, used := range ownUsage.Faces {
		if !used {
			continue
		}
		if err := faceedit.UniqueTexInfo(s, i); err != nil {
			return err
		}
	}

	faces, err := s.Faces()
	if err != nil {
		return err
	}
	texinfos, err := s.TexInfos()
	if err != nil {
		return err
	}
	adjusted := map[uint16]bool{}
	for i, used := range ownUsage.Faces {
		if !used {
			continue
		}
		ti := faces[i].TexInfoIndex
		if adjusted[ti] {
			continue
		}
		adjusted[ti] = true
		t := &texinfos[ti]
		t.SShift -= t.S[0]*delta[0] + t.S[1]*delta[1] + t.S[2]*delta[2]
		t.TShift -= t.T[0]*delta[0] + t.T[1]*delta[1] + t.T[2]*delta[2]
	}
	s.ReplaceTexInfos(texinfos)
	return nil
}

// Scale multiplies a model's vertex positions about its center and
// rebuilds every plane equation its exclusive faces use from the
// transformed vertex set (a plane's normal rotates only under non-
// uniform scale, so it must be re-derived rather than adjusted in
// place; spec.md Sec4.H Scale).
func Scale(s *bspfile.LumpStore, modelIdx int, factor geom.Vec3) error {
	models, err := s.Models()
	if err != nil {
		return err
	}
	if modelIdx < 0 || modelIdx >= len(models) {
		return fmt.Errorf("%w: model %d", bspfile.ErrBadIndex, modelIdx)
	}

	box := geom.Box{
		Min: geom.Vec3{models[modelIdx].Mins[0], models[modelIdx].Mins[1], models[modelIdx].Mins[2]},
		Max: geom.Vec3{models[modelIdx].Maxs[0], models[modelIdx].Maxs[1], models[modelIdx].Maxs[2]},
	}
	center := box.Center()

	ownUsage, sharedUsage, err := exclusiveUsage(s, modelIdx)
	if err != nil {
		return err
	}
	if anyTrue(sharedUsage.Vertices) || anyTrue(sharedUsage.Planes) {
		return fmt.Errorf("%w: model %d shares geometry with another model; Duplicate first", bspfile.ErrSharedStructureUnresolvable, modelIdx)
	}

	verts, err := s.Vertices()
	if err != nil {
		return err
	}
	for i := range verts {
		if !ownUsage.Vertices[i] {
			continue
		}
		p := verts[i].Point
		rel := geom.Vec3{p[0], p[1], p[2]}.Sub(center)
		rel = geom.Vec3{rel[0] * factor[0], rel[1] * factor[1], rel[2] * factor[2]}
		np := center.Add(rel)
		verts[i].Point = [3]float32{np[0], np[1], np[2]}
	}
	s.ReplaceVertices(verts)

	if err := rebuildPlanesFromFaces(s, modelIdx, ownUsage); err != nil {
		return err
	}

	mdl := &models[modelIdx]
	newBox := geom.EmptyBox()
	verts, err = s.Vertices()
	if err != nil {
		return err
	}
	for i := range verts {
		if !ownUsage.Vertices[i] {
			continue
		}
		p := verts[i].Point
		newBox.Extend(geom.Vec3{p[0], p[1], p[2]})
	}
	mdl.Mins = [3]float32{newBox.Min[0], newBox.Min[1], newBox.Min[2]}
	mdl.Maxs = [3]float32{newBox.Max[0], newBox.Max[1], newBox.Max[2]}
	s.ReplaceModels(models)
	return nil
}

// rebuildPlanesFromFaces re-derives each exclusive plane's normal/distance
// from the (already transformed) vertices of one representative face that
// uses it, preserving the plane's original facing convention.
func rebuildPlanesFromFaces(s *bspfile.LumpStore, modelIdx int, ownUsage *refgraph.Usage) error {
	faces, err := s.Faces()
	if err != nil {
		return err
	}
	planes, err := s.Planes()
	if err != nil {
		return err
	}
	surfedges, err := s.Surfedges()
	if err != nil {
		return err
	}
	edges, err := s.Edges()
	if err != nil {
		return err
	}
	verts, err := s.Vertices()
	if err != nil {
		return err
	}

	rebuilt := make([]bool, len(planes))
	for fi, f := range faces {
		if !ownUsage.Faces[fi] || rebuilt[f.PlaneIndex] {
			continue
		}
		pts := facePoints(f, surfedges, edges, verts)
		if len(pts) < 3 {
			continue
		}
		newPlane, ok := geom.PlaneFromPoints(pts[0], pts[1], pts[2])
		if !ok {
			continue
		}
		if f.PlaneSide != 0 {
			newPlane.Normal = newPlane.Normal.Mul(-1)
			newPlane.Dist = -newPlane.Dist
		}
		newPlane.Type = planes[f.PlaneIndex].Type
		planes[f.PlaneIndex] = bspfile.Plane{
			Normal:   [3]float32{newPlane.Normal[0], newPlane.Normal[1], newPlane.Normal[2]},
			Distance: newPlane.Dist,
			Type:     newPlane.Type,
		}
		rebuilt[f.PlaneIndex] = true
	}
	s.ReplacePlanes(planes)
	return nil
}

func facePoints(f bspfile.Face, surfedges []bspfile.Surfedge, edges []bspfile.Edge, verts []bspfile.Vertex) []geom.Vec3 {
	out := make([]geom.Vec3, 0, f.NumSurfedges)
	for s := int(f.FirstSurfedge); s < int(f.FirstSurfedge)+int(f.NumSurfedges); s++ {
		se := surfedges[s]
		var vIdx uint16
		if se >= 0 {
			vIdx = edges[se].V[0]
		} else {
			vIdx = edges[-se].V[1]
		}
		p := verts[vIdx].Point
		out = append(out, geom.Vec3{p[0], p[1], p[2]})
	}
	return out
}

// exclusiveUsage returns (this model's full usage, the subset also used by
// any other model). Shared vertices/planes must not be mutated in place
// by Move/Scale without first duplicating them (spec.md Sec4.H/Sec4.G).
func exclusiveUsage(s *bspfile.LumpStore, modelIdx int) (own, shared *refgraph.Usage, err error) {
	own, err = refgraph.NewUsage(s)
	if err != nil {
		return nil, nil, err
	}
	if err := refgraph.MarkModelStructures(s, modelIdx, own, modelIdx != 0); err != nil {
		return nil, nil, err
	}

	models, err := s.Models()
	if err != nil {
		return nil, nil, err
	}
	others, err := refgraph.NewUsage(s)
	if err != nil {
		return nil, nil, err
	}
	for i := range models {
		if i == modelIdx {
			continue
		}
		u, err := refgraph.NewUsage(s)
		if err != nil {
			return nil, nil, err
		}
		if err := refgraph.MarkModelStructures(s, i, u, i != 0); err != nil {
			return nil, nil, err
		}
		others.Or(u)
	}
	shared = own.And(others)
	return own, shared, nil
}

func anyTrue(bits []bool) bool {
	for _, b := range bits {
		if b {
			return true
		}
	}
	return false
}

// Duplicate deep-copies modelIdx's exclusive geometry (faces, planes,
// vertices, edges, surfedges, texinfos, clipnodes) into new lump records
// and appends a new Model referencing them, leaving the original model
// untouched. Hull-0 leaves referenced by the submodel's visible tree are
// NOT duplicated: per spec.md Sec4.H, brush-entity models share leaf 0 and
// the world's leaf table as boilerplate, so duplication only walks nodes/
// faces/clipnodes, never leaves.
func Duplicate(s *bspfile.LumpStore, modelIdx int) (newModelIdx int, err error) {
	models, err := s.Models()
	if err != nil {
		return 0, err
	}
	if modelIdx < 0 || modelIdx >= len(models) {
		return 0, fmt.Errorf("%w: model %d", bspfile.ErrBadIndex, modelIdx)
	}
	if modelIdx == 0 {
		return 0, fmt.Errorf("%w: cannot duplicate worldspawn", bspfile.ErrBadIndex)
	}

	planes, err := s.Planes()
	if err != nil {
		return 0, err
	}
	verts, err := s.Vertices()
	if err != nil {
		return 0, err
	}
	edges, err := s.Edges()
	if err != nil {
		return 0, err
	}
	surfedges, err := s.Surfedges()
	if err != nil {
		return 0, err
	}
	texinfos, err := s.TexInfos()
	if err != nil {
		return 0, err
	}
	faces, err := s.Faces()
	if err != nil {
		return 0, err
	}
	nodes, err := s.Nodes()
	if err != nil {
		return 0, err
	}
	clipnodes, err := s.ClipNodes()
	if err != nil {
		return 0, err
	}

	d := &duplicator{
		planeMap: map[int32]int32{}, vertMap: map[uint16]uint16{}, edgeMap: map[int32]int32{},
		texinfoMap: map[uint16]uint16{}, faceMap: map[int]int{}, nodeMap: map[int32]int32{}, clipMap: map[int16]int16{},
		planes: planes, verts: verts, edges: edges, surfedges: surfedges,
		texinfos: texinfos, faces: faces, nodes: nodes, clipnodes: clipnodes,
	}

	mdl := models[modelIdx]
	newHead := d.dupNode(mdl.HeadNode[0])
	var newClipHeads [3]int32
	for h := 0; h < 3; h++ {
		newClipHeads[h] = int32(d.dupClip(int16(mdl.HeadNode[h+1])))
	}

	s.ReplacePlanes(d.planes)
	s.ReplaceVertices(d.verts)
	s.ReplaceEdges(d.edges)
	s.ReplaceSurfedges(d.surfedges)
	s.ReplaceTexInfos(d.texinfos)
	s.ReplaceFaces(d.faces)
	s.ReplaceNodes(d.nodes)
	s.ReplaceClipNodes(d.clipnodes)

	newMdl := mdl
	newMdl.HeadNode[0] = newHead
	newMdl.HeadNode[1] = newClipHeads[0]
	newMdl.HeadNode[2] = newClipHeads[1]
	newMdl.HeadNode[3] = newClipHeads[2]
	models = append(models, newMdl)
	s.ReplaceModels(models)
	return len(models) - 1, nil
}

// duplicator deep-copies a visible-tree/clip-tree subgraph, memoizing
// already-copied records so shared substructure within the single model
// (e.g. two faces sharing a plane) is copied once, not once per visit.
type duplicator struct {
	planeMap map[int32]int32
	vertMap  map[uint16]uint16
	edgeMap  map[int32]int32 // keyed by |surfedge|
	texinfoMap map[uint16]uint16
	faceMap  map[int]int
	nodeMap  map[int32]int32
	clipMap  map[int16]int16

	planes    []bspfile.Plane
	verts     []bspfile.Vertex
	edges     []bspfile.Edge
	surfedges []bspfile.Surfedge
	texinfos  []bspfile.TexInfo
	faces     []bspfile.Face
	nodes     []bspfile.Node
	clipnodes []bspfile.ClipNode
}

func (d *duplicator) dupPlane(idx int32) int32 {
	if n, ok := d.planeMap[idx]; ok {
		return n
	}
	n := int32(len(d.planes))
	d.planes = append(d.planes, d.planes[idx])
	d.planeMap[idx] = n
	return n
}

func (d *duplicator) dupVert(idx uint16) uint16 {
	if n, ok := d.vertMap[idx]; ok {
		return n
	}
	n := uint16(len(d.verts))
	d.verts = append(d.verts, d.verts[idx])
	d.vertMap[idx] = n
	return n
}

func (d *duplicator) dupEdge(abs int32) int32 {
	if n, ok := d.edgeMap[abs]; ok {
		return n
	}
	old := d.edges[abs]
	newEdge := bspfile.Edge{V: [2]uint16{d.dupVert(old.V[0]), d.dupVert(old.V[1])}}
	n := int32(len(d.edges))
	d.edges = append(d.edges, newEdge)
	d.edgeMap[abs] = n
	return n
}

func (d *duplicator) dupTexInfo(idx uint16) uint16 {
	if n, ok := d.texinfoMap[idx]; ok {
		return n
	}
	n := uint16(len(d.texinfos))
	d.texinfos = append(d.texinfos, d.texinfos[idx])
	d.texinfoMap[idx] = n
	return n
}

func (d *duplicator) dupFace(idx int) int {
	if n, ok := d.faceMap[idx]; ok {
		return n
	}
	old := d.faces[idx]
	newFace := old
	newFace.PlaneIndex = uint16(d.dupPlane(int32(old.PlaneIndex)))
	newFace.TexInfoIndex = d.dupTexInfo(old.TexInfoIndex)

	firstSE := int32(len(d.surfedges))
	for se := int(old.FirstSurfedge); se < int(old.FirstSurfedge)+int(old.NumSurfedges); se++ {
		val := d.surfedges[se]
		abs := int32(val)
		if abs < 0 {
			abs = -abs
		}
		newAbs := bspfile.Surfedge(d.dupEdge(abs))
		if val < 0 {
			d.surfedges = append(d.surfedges, -newAbs)
		} else {
			d.surfedges = append(d.surfedges, newAbs)
		}
	}
	newFace.FirstSurfedge = firstSE

	n := len(d.faces)
	d.faces = append(d.faces, newFace)
	d.faceMap[idx] = n
	return n
}

func (d *duplicator) dupNode(nodeID int32) int32 {
	if nodeID < 0 {
		return nodeID // leaves are shared boilerplate, never duplicated
	}
	if n, ok := d.nodeMap[nodeID]; ok {
		return n
	}
	old := d.nodes[nodeID]
	newNode := old
	newNode.PlaneIndex = d.dupPlane(old.PlaneIndex)

	firstFace := uint16(len(d.faces))
	for f := int(old.FirstFace); f < int(old.FirstFace)+int(old.NumFaces); f++ {
		d.dupFace(f)
	}
	newNode.FirstFace = firstFace

	n := int32(len(d.nodes))
	d.nodes = append(d.nodes, bspfile.Node{}) // reserve slot before recursing (cycles impossible in a tree, but keeps indices stable)
	d.nodeMap[nodeID] = n
	newNode.Children[0] = int16(d.dupNode(int32(old.Children[0])))
	newNode.Children[1] = int16(d.dupNode(int32(old.Children[1])))
	d.nodes[n] = newNode
	return n
}

func (d *duplicator) dupClip(nodeID int16) int16 {
	if nodeID < 0 {
		return nodeID // content sentinel
	}
	if n, ok := d.clipMap[nodeID]; ok {
		return n
	}
	old := d.clipnodes[nodeID]
	newNode := old
	newNode.PlaneIndex = d.dupPlane(old.PlaneIndex)

	n := int16(len(d.clipnodes))
	d.clipnodes = append(d.clipnodes, bspfile.ClipNode{})
	d.clipMap[nodeID] = n
	newNode.Children[0] = d.dupClip(old.Children[0])
	newNode.Children[1] = d.dupClip(old.Children[1])
	d.clipnodes[n] = newNode
	return n
}

// Delete removes modelIdx from the Models lump; every later model's index
// drops by one. Only the Models lump changes: entity "model" keyvalues
// ("*N") are not rewritten and keep the old numbering. Orphaned
// exclusive geometry is reclaimed by a subsequent refgraph.Compact pass,
// not by this function.
func Delete(s *bspfile.LumpStore, modelIdx int) error {
	models, err := s.Models()
	if err != nil {
		return err
	}
	if modelIdx <= 0 || modelIdx >= len(models) {
		return fmt.Errorf("%w: cannot delete model %d", bspfile.ErrBadIndex, modelIdx)
	}
	models = append(models[:modelIdx], models[modelIdx+1:]...)
	s.ReplaceModels(models)
	return nil
}

// RegenerateClipnodes synthesizes hull 1-3 collision data for a model from
// its hull-0 bounding box: a box hull is built by offsetting each face
// plane of the box outward by the hull's bevel extents (spec.md Sec4.H
// RegenerateClipnodes). This matches the common case (convex, box-like
// brush models) exactly. For a concave model the synthesized hull is the
// box hull of its bounds, not a faithful re-derivation of concave
// clipping planes -- bspguy has the same limitation and spec.md Sec9
// preserves it rather than attempting a general concave-to-hull solver.
func RegenerateClipnodes(s *bspfile.LumpStore, modelIdx int, e *env.Environment) error {
	box, err := modelVertexBounds(s, modelIdx)
	if err != nil {
		return err
	}

	models, err := s.Models()
	if err != nil {
		return err
	}
	if modelIdx < 0 || modelIdx >= len(models) {
		return fmt.Errorf("%w: model %d", bspfile.ErrBadIndex, modelIdx)
	}

	planes, err := s.Planes()
	if err != nil {
		return err
	}
	clipnodes, err := s.ClipNodes()
	if err != nil {
		return err
	}

	for hull := 1; hull <= 3; hull++ {
		ext := bspfile.HullExtents[hull]
		expanded := geom.Box{
			Min: box.Min.Sub(geom.Vec3{ext[0], ext[1], ext[2]}),
			Max: box.Max.Add(geom.Vec3{ext[0], ext[1], ext[2]}),
		}
		head, newPlanes, newClip := buildBoxHull(expanded, planes, clipnodes)
		planes = newPlanes
		clipnodes = newClip
		models[modelIdx].HeadNode[hull] = int32(head)
	}

	s.ReplacePlanes(planes)
	s.ReplaceClipNodes(clipnodes)
	s.ReplaceModels(models)
	return nil
}

// buildBoxHull appends six axis-aligned planes and a chain of six
// clipnodes classifying "inside box" as CONTENTS_SOLID.
func buildBoxHull(box geom.Box, planes []bspfile.Plane, clipnodes []bspfile.ClipNode) (head int, newPlanes []bspfile.Plane, newClip []bspfile.ClipNode) {
	const contentsSolid = -2
	const contentsEmpty = -1

	addPlane := func(normal geom.Vec3, dist float32) int32 {
		idx := int32(len(planes))
		planes = append(planes, bspfile.Plane{
			Normal:   [3]float32{normal[0], normal[1], normal[2]},
			Distance: dist,
		})
		return idx
	}
	addClip := func(planeIdx int32, front, back int16) int16 {
		idx := int16(len(clipnodes))
		clipnodes = append(clipnodes, bspfile.ClipNode{PlaneIndex: planeIdx, Children: [2]int16{front, back}})
		return idx
	}

	// Innermost pair classifies +Z/-Z, wrapped by Y, wrapped by X -- any
	// order works for a box; this one matches the common id-tech box-hull
	// layout referenced by spec.md Sec4.H.
	pz := addPlane(geom.Vec3{0, 0, 1}, box.Max[2])
	nz := addPlane(geom.Vec3{0, 0, -1}, -box.Min[2])
	zNode := addClip(pz, contentsEmpty, int16(addClip(nz, contentsEmpty, contentsSolid)))

	py := addPlane(geom.Vec3{0, 1, 0}, box.Max[1])
	ny := addPlane(geom.Vec3{0, -1, 0}, -box.Min[1])
	yNode := addClip(py, contentsEmpty, int16(addClip(ny, contentsEmpty, int16(zNode))))

	px := addPlane(geom.Vec3{1, 0, 0}, box.Max[0])
	nx := addPlane(geom.Vec3{-1, 0, 0}, -box.Min[0])
	xNode := addClip(px, contentsEmpty, int16(addClip(nx, contentsEmpty, int16(yNode))))

	return int(xNode), planes, clipnodes
}

func modelVertexBounds(s *bspfile.LumpStore, modelIdx int) (geom.Box, error) {
	models, err := s.Models()
	if err != nil {
		return geom.Box{}, err
	}
	if modelIdx < 0 || modelIdx >= len(models) {
		return geom.Box{}, fmt.Errorf("%w: model %d", bspfile.ErrBadIndex, modelIdx)
	}
	mdl := models[modelIdx]
	box := geom.Box{
		Min: geom.Vec3{mdl.Mins[0], mdl.Mins[1], mdl.Mins[2]},
		Max: geom.Vec3{mdl.Maxs[0], mdl.Maxs[1], mdl.Maxs[2]},
	}
	return box, nil
}

// GetSeparationPlane finds a plane that fully separates a's and b's vertex
// sets, trying each face plane of a and b in turn -- the requirement
// Merge needs to confirm two models don't overlap before unioning their
// geometry (spec.md Sec4.H Merge).
func GetSeparationPlane(s *bspfile.LumpStore, modelA, modelB int) (geom.Plane, error) {
	aPts, err := modelVertices(s, modelA)
	if err != nil {
		return geom.Plane{}, err
	}
	bPts, err := modelVertices(s, modelB)
	if err != nil {
		return geom.Plane{}, err
	}

	candidates, err := candidatePlanes(s, modelA)
	if err != nil {
		return geom.Plane{}, err
	}
	bCandidates, err := candidatePlanes(s, modelB)
	if err != nil {
		return geom.Plane{}, err
	}
	candidates = append(candidates, bCandidates...)

	for _, pl := range candidates {
		aBack, aOK := geom.AllOnOneSide(pl, aPts)
		bBack, bOK := geom.AllOnOneSide(pl, bPts)
		if aOK && bOK && aBack != bBack {
			return pl, nil
		}
	}
	return geom.Plane{}, fmt.Errorf("%w: models %d and %d are not separable by a single plane", bspfile.ErrNotSeparable, modelA, modelB)
}

func modelVertices(s *bspfile.LumpStore, modelIdx int) ([]geom.Vec3, error) {
	usage, err := refgraph.NewUsage(s)
	if err != nil {
		return nil, err
	}
	if err := refgraph.MarkModelStructures(s, modelIdx, usage, modelIdx != 0); err != nil {
		return nil, err
	}
	verts, err := s.Vertices()
	if err != nil {
		return nil, err
	}
	var out []geom.Vec3
	for i, used := range usage.Vertices {
		if used {
			p := verts[i].Point
			out = append(out, geom.Vec3{p[0], p[1], p[2]})
		}
	}
	return out, nil
}

func candidatePlanes(s *bspfile.LumpStore, modelIdx int) ([]geom.Plane, error) {
	usage, err := refgraph.NewUsage(s)
	if err != nil {
		return nil, err
	}
	if err := refgraph.MarkModelStructures(s, modelIdx, usage, modelIdx != 0); err != nil {
		return nil, err
	}
	planes, err := s.Planes()
	if err != nil {
		return nil, err
	}
	var out []geom.Plane
	for i, p := range planes {
		if !usage.Planes[i] {
			continue
		}
		out = append(out, geom.Plane{Normal: geom.Vec3{p.Normal[0], p.Normal[1], p.Normal[2]}, Dist: p.Distance})
	}
	return out, nil
}

// Merge unions modelA and modelB into modelA, provided GetSeparationPlane
// finds a plane keeping them apart: a new root node (hull 0) and a new
// root clipnode (hulls 1-3) are appended, each splitting on the separating
// plane with modelA's old subtree on its own side and modelB's old
// subtree on the other. No geometry is duplicated since both submodels
// already live in the same lumps; only one node and three clipnodes
// (one per clip hull) are added
// (spec.md Sec4.H Merge). modelB is then deleted. The merged model's
// FirstFace/NumFaces keep modelA's original range: it is an approximate,
// not exhaustive, face-enumeration hint, since the two models' face
// ranges are almost never contiguous after a merge.
func Merge(s *bspfile.LumpStore, modelA, modelB int) (mergedModelIdx int, err error) {
	pl, err := GetSeparationPlane(s, modelA, modelB)
	if err != nil {
		return 0, err
	}

	models, err := s.Models()
	if err != nil {
		return 0, err
	}
	if modelA < 0 || modelA >= len(models) || modelB < 0 || modelB >= len(models) || modelA == modelB {
		return 0, fmt.Errorf("%w: models %d/%d", bspfile.ErrBadIndex, modelA, modelB)
	}

	aPts, err := modelVertices(s, modelA)
	if err != nil {
		return 0, err
	}
	aOnBack, _ := geom.AllOnOneSide(pl, aPts)

	planes, err := s.Planes()
	if err != nil {
		return 0, err
	}
	planeIdx := int32(len(planes))
	planes = append(planes, bspfile.Plane{
		Normal:   [3]float32{pl.Normal[0], pl.Normal[1], pl.Normal[2]},
		Distance: pl.Dist,
	})
	s.ReplacePlanes(planes)

	mdlA := models[modelA]
	mdlB := models[modelB]

	nodes, err := s.Nodes()
	if err != nil {
		return 0, err
	}
	var frontHead, backHead int32
	if aOnBack {
		frontHead, backHead = mdlB.HeadNode[0], mdlA.HeadNode[0]
	} else {
		frontHead, backHead = mdlA.HeadNode[0], mdlB.HeadNode[0]
	}
	newRoot := bspfile.Node{PlaneIndex: planeIdx, Children: [2]int16{int16(frontHead), int16(backHead)}}
	nodes = append(nodes, newRoot)
	newRootIdx := int32(len(nodes) - 1)
	s.ReplaceNodes(nodes)

	clipnodes, err := s.ClipNodes()
	if err != nil {
		return 0, err
	}
	var newClipHeads [3]int32
	for h := 0; h < 3; h++ {
		var front, back int16
		if aOnBack {
			front, back = int16(mdlB.HeadNode[h+1]), int16(mdlA.HeadNode[h+1])
		} else {
			front, back = int16(mdlA.HeadNode[h+1]), int16(mdlB.HeadNode[h+1])
		}
		clipnodes = append(clipnodes, bspfile.ClipNode{PlaneIndex: planeIdx, Children: [2]int16{front, back}})
		newClipHeads[h] = int32(len(clipnodes) - 1)
	}
	s.ReplaceClipNodes(clipnodes)

	box := geom.Box{
		Min: geom.Vec3{mdlA.Mins[0], mdlA.Mins[1], mdlA.Mins[2]},
		Max: geom.Vec3{mdlA.Maxs[0], mdlA.Maxs[1], mdlA.Maxs[2]},
	}
	box.Extend(geom.Vec3{mdlB.Mins[0], mdlB.Mins[1], mdlB.Mins[2]})
	box.Extend(geom.Vec3{mdlB.Maxs[0], mdlB.Maxs[1], mdlB.Maxs[2]})

	mdlA.HeadNode[0] = newRootIdx
	mdlA.HeadNode[1] = newClipHeads[0]
	mdlA.HeadNode[2] = newClipHeads[1]
	mdlA.HeadNode[3] = newClipHeads[2]
	mdlA.Mins = [3]float32{box.Min[0], box.Min[1], box.Min[2]}
	mdlA.Maxs = [3]float32{box.Max[0], box.Max[1], box.Max[2]}
	models[modelA] = mdlA
	s.ReplaceModels(models)

	if err := Delete(s, modelB); err != nil {
		return 0, err
	}
	if modelB < modelA {
		return modelA - 1, nil
	}
	return modelA, nil
}

// CreateSolid builds a new axis-aligned box brush model from scratch:
// six planes and faces, eight corner vertices and twelve edges for the
// visible hull (a vertex or edge identical to one already in its lump is
// reused rather than appended), plus a
// buildBoxHull-style collision hull for hulls 1-3, and appends a Model
// referencing them. Grounded on bspguy's create_solid primitive
// (original_source), the simplest non-trivial piece of new geometry this
// editor can manufacture without an existing brush to clone.
func CreateSolid(s *bspfile.LumpStore, box geom.Box, texInfoIdx uint16) (modelIdx int, err error) {
	planes, err := s.Planes()
	if err != nil {
		return 0, err
	}
	verts, err := s.Vertices()
	if err != nil {
		return 0, err
	}
	edges, err := s.Edges()
	if err != nil {
		return 0, err
	}
	surfedges, err := s.Surfedges()
	if err != nil {
		return 0, err
	}
	faces, err := s.Faces()
	if err != nil {
		return 0, err
	}
	nodes, err := s.Nodes()
	if err != nil {
		return 0, err
	}
	clipnodes, err := s.ClipNodes()
	if err != nil {
		return 0, err
	}

	type faceSpec struct {
		normal geom.Vec3
		dist   float32
		quad   [4]geom.Vec3
	}
	c := [8]geom.Vec3{
		{box.Min[0], box.Min[1], box.Min[2]}, {box.Max[0], box.Min[1], box.Min[2]},
		{box.Max[0], box.Max[1], box.Min[2]}, {box.Min[0], box.Max[1], box.Min[2]},
		{box.Min[0], box.Min[1], box.Max[2]}, {box.Max[0], box.Min[1], box.Max[2]},
		{box.Max[0], box.Max[1], box.Max[2]}, {box.Min[0], box.Max[1], box.Max[2]},
	}
	specs := []faceSpec{
		{geom.Vec3{0, 0, -1}, -box.Min[2], [4]geom.Vec3{c[0], c[3], c[2], c[1]}},
		{geom.Vec3{0, 0, 1}, box.Max[2], [4]geom.Vec3{c[4], c[5], c[6], c[7]}},
		{geom.Vec3{0, -1, 0}, -box.Min[1], [4]geom.Vec3{c[0], c[1], c[5], c[4]}},
		{geom.Vec3{0, 1, 0}, box.Max[1], [4]geom.Vec3{c[3], c[7], c[6], c[2]}},
		{geom.Vec3{-1, 0, 0}, -box.Min[0], [4]geom.Vec3{c[0], c[4], c[7], c[3]}},
		{geom.Vec3{1, 0, 0}, box.Max[0], [4]geom.Vec3{c[1], c[2], c[6], c[5]}},
	}

	internVert := func(p geom.Vec3) uint16 {
		for i, v := range verts {
			vp := geom.Vec3{v.Point[0], v.Point[1], v.Point[2]}
			if geom.VecEqual(vp, p) {
				return uint16(i)
			}
		}
		idx := uint16(len(verts))
		verts = append(verts, bspfile.Vertex{Point: [3]float32{p[0], p[1], p[2]}})
		return idx
	}
	internEdge := func(a, b uint16) bspfile.Surfedge {
		for i, e := range edges {
			if e.V[0] == a && e.V[1] == b {
				return bspfile.Surfedge(i)
			}
			if e.V[0] == b && e.V[1] == a {
				return -bspfile.Surfedge(i)
			}
		}
		idx := bspfile.Surfedge(len(edges))
		edges = append(edges, bspfile.Edge{V: [2]uint16{a, b}})
		return idx
	}

	firstFace := uint16(len(faces))
	var facePlaneIdxs []int32
	for _, spec := range specs {
		planeIdx := int32(len(planes))
		planes = append(planes, bspfile.Plane{
			Normal:   [3]float32{spec.normal[0], spec.normal[1], spec.normal[2]},
			Distance: spec.dist,
		})
		facePlaneIdxs = append(facePlaneIdxs, planeIdx)

		firstSE := int32(len(surfedges))
		for i := 0; i < 4; i++ {
			a := internVert(spec.quad[i])
			b := internVert(spec.quad[(i+1)%4])
			se := internEdge(a, b)
			surfedges = append(surfedges, se)
		}
		faces = append(faces, bspfile.Face{
			PlaneIndex:    uint16(planeIdx),
			PlaneSide:     0,
			FirstSurfedge: firstSE,
			NumSurfedges:  4,
			TexInfoIndex:  texInfoIdx,
			LightmapOff:   bspfile.NoLightmapOffset,
		})
	}
	numFaces := uint16(len(faces)) - firstFace

	s.ReplacePlanes(planes)
	s.ReplaceVertices(verts)
	s.ReplaceEdges(edges)
	s.ReplaceSurfedges(surfedges)
	s.ReplaceFaces(faces)

	// Hull 0's root node splits on the first face plane, and both of its
	// children point at the shared solid leaf 0 -- an exact empty/solid
	// leaf partition for a single convex box isn't needed for it to
	// render correctly via its face list (spec.md Sec4.H CreateSolid
	// keeps new primitives simple rather than building a full leaf BSP).
	rootNode := bspfile.Node{
		PlaneIndex: facePlaneIdxs[0],
		Children:   [2]int16{^int16(0), ^int16(0)},
		FirstFace:  firstFace,
		NumFaces:   numFaces,
	}
	nodes = append(nodes, rootNode)
	newHead := int32(len(nodes) - 1)
	s.ReplaceNodes(nodes)

	var clipHeads [3]int32
	for h := 1; h <= 3; h++ {
		ext := bspfile.HullExtents[h]
		expanded := geom.Box{
			Min: box.Min.Sub(geom.Vec3{ext[0], ext[1], ext[2]}),
			Max: box.Max.Add(geom.Vec3{ext[0], ext[1], ext[2]}),
		}
		head, newPlanes, newClip := buildBoxHull(expanded, planes, clipnodes)
		planes = newPlanes
		clipnodes = newClip
		clipHeads[h-1] = int32(head)
	}
	s.ReplacePlanes(planes)
	s.ReplaceClipNodes(clipnodes)

	models, err := s.Models()
	if err != nil {
		return 0, err
	}
	newModel := bspfile.Model{
		Mins:      [3]float32{box.Min[0], box.Min[1], box.Min[2]},
		Maxs:      [3]float32{box.Max[0], box.Max[1], box.Max[2]},
		HeadNode:  [4]int32{newHead, clipHeads[0], clipHeads[1], clipHeads[2]},
		VisLeafs:  0,
		FirstFace: int32(firstFace),
		NumFaces:  int32(numFaces),
	}
	models = append(models, newModel)
	s.ReplaceModels(models)
	return len(models) - 1, nil
}

