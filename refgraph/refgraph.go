// Package refgraph implements the cross-lump referential-integrity engine
// of spec.md Sec4.G: mark-live bitsets per lump, old->new index remap
// tables, and lump compaction in the canonical order. There is no teacher
// analog (Quake 2's viewer never edits a map), so the walk order below is
// grounded directly in spec.md's description of the record cross-
// references (Sec3) and the canonical compaction order it specifies.
package refgraph

import (
	"github.com/bspedit/bspedit/bspfile"
	"github.com/bspedit/bspedit/env"
)

// Usage is a mark-live bitset per record lump, populated by walking a
// model's nodes/clipnodes/faces recursively and OR-ing every index reached
// into the matching bitset. The Textures field is not sized by NewUsage
// and not marked by MarkModelStructures.
type Usage struct {
	Planes    []bool
	Vertices  []bool
	Edges     []bool
	Surfedges []bool
	TexInfos  []bool
	Faces     []bool
	Nodes     []bool
	ClipNodes []bool
	Leaves    []bool
	MarkSurfs []bool
	Textures  []bool
}

// NewUsage allocates a Usage sized to the store's current lump counts.
func NewUsage(s *bspfile.LumpStore) (*Usage, error) {
	planes, err := s.Planes()
	if err != nil {
		return nil, err
	}
	verts, err := s.Vertices()
	if err != nil {
		return nil, err
	}
	edges, err := s.Edges()
	if err != nil {
		return nil, err
	}
	surfedges, err := s.Surfedges()
	if err != nil {
		return nil, err
	}
	texinfos, err := s.TexInfos()
	if err != nil {
		return nil, err
	}
	faces, err := s.Faces()
	if err != nil {
		return nil, err
	}
	nodes, err := s.Nodes()
	if err != nil {
		return nil, err
	}
	clipnodes, err := s.ClipNodes()
	if err != nil {
		return nil, err
	}
	leaves, err := s.Leaves()
	if err != nil {
		return nil, err
	}
	marksurfs, err := s.MarkSurfaces()
	if err != nil {
		return nil, err
	}

	return &Usage{
		Planes:    make([]bool, len(planes)),
		Vertices:  make([]bool, len(verts)),
		Edges:     make([]bool, len(edges)),
		Surfedges: make([]bool, len(surfedges)),
		TexInfos:  make([]bool, len(texinfos)),
		Faces:     make([]bool, len(faces)),
		Nodes:     make([]bool, len(nodes)),
		ClipNodes: make([]bool, len(clipnodes)),
		Leaves:    make([]bool, len(leaves)),
		MarkSurfs: make([]bool, len(marksurfs)),
	}, nil
}

// Or merges b's marks into u (used to build the "union of all other
// models" side of shared-structure detection, spec.md Sec4.G).
func (u *Usage) Or(b *Usage) {
	orBits(u.Planes, b.Planes)
	orBits(u.Vertices, b.Vertices)
	orBits(u.Edges, b.Edges)
	orBits(u.Surfedges, b.Surfedges)
	orBits(u.TexInfos, b.TexInfos)
	orBits(u.Faces, b.Faces)
	orBits(u.Nodes, b.Nodes)
	orBits(u.ClipNodes, b.ClipNodes)
	orBits(u.Leaves, b.Leaves)
	orBits(u.MarkSurfs, b.MarkSurfs)
}

func orBits(dst, src []bool) {
	for i := range dst {
		if i < len(src) && src[i] {
			dst[i] = true
		}
	}
}

// And returns a new Usage with only the marks set in both u and b --
// the shared-structure set spec.md Sec4.G uses to decide what must be
// duplicated before a submodel can move independently.
func (u *Usage) And(b *Usage) *Usage {
	out := &Usage{
		Planes:    andBits(u.Planes, b.Planes),
		Vertices:  andBits(u.Vertices, b.Vertices),
		Edges:     andBits(u.Edges, b.Edges),
		Surfedges: andBits(u.Surfedges, b.Surfedges),
		TexInfos:  andBits(u.TexInfos, b.TexInfos),
		Faces:     andBits(u.Faces, b.Faces),
		Nodes:     andBits(u.Nodes, b.Nodes),
		ClipNodes: andBits(u.ClipNodes, b.ClipNodes),
		Leaves:    andBits(u.Leaves, b.Leaves),
		MarkSurfs: andBits(u.MarkSurfs, b.MarkSurfs),
	}
	return out
}

func andBits(a, b []bool) []bool {
	out := make([]bool, len(a))
	for i := range a {
		out[i] = a[i] && i < len(b) && b[i]
	}
	return out
}

// MarkModelStructures walks modelIdx's nodes/clipnodes/faces and OR's
// every index it reaches into usage (spec.md Sec4.G). If skipLeaves is
// set, hull-0 leaves are not walked (used when marking a submodel, whose
// leaf references are shared boilerplate pointing at model 0's leaves per
// spec.md Sec4.H Duplicate).
func MarkModelStructures(s *bspfile.LumpStore, modelIdx int, usage *Usage, skipLeaves bool) error {
	models, err := s.Models()
	if err != nil {
		return err
	}
	nodes, err := s.Nodes()
	if err != nil {
		return err
	}
	leaves, err := s.Leaves()
	if err != nil {
		return err
	}
	faces, err := s.Faces()
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
	clipnodes, err := s.ClipNodes()
	if err != nil {
		return err
	}
	marksurfs, err := s.MarkSurfaces()
	if err != nil {
		return err
	}

	mdl := models[modelIdx]

	markFace := func(faceIdx int) {
		if usage.Faces[faceIdx] {
			return // already visited; cuts cycles per spec.md Sec4.G
		}
		usage.Faces[faceIdx] = true
		f := faces[faceIdx]
		usage.Planes[f.PlaneIndex] = true
		usage.TexInfos[f.TexInfoIndex] = true
		for se := int(f.FirstSurfedge); se < int(f.FirstSurfedge)+int(f.NumSurfedges); se++ {
			usage.Surfedges[se] = true
			edgeIdx := se
			sev := surfedges[edgeIdx]
			abs := int(sev)
			if abs < 0 {
				abs = -abs
			}
			usage.Edges[abs] = true
			e := edges[abs]
			usage.Vertices[e.V[0]] = true
			usage.Vertices[e.V[1]] = true
		}
	}

	var walkNode func(nodeID int32)
	walkNode = func(nodeID int32) {
		if nodeID < 0 {
			if skipLeaves {
				return
			}
			leafIdx := int(^nodeID)
			if leafIdx == 0 {
				// Shared solid leaf: kept live, its marksurfaces are not walked.
				if len(usage.Leaves) > 0 {
					usage.Leaves[0] = true
				}
				return
			}
			if usage.Leaves[leafIdx] {
				return
			}
			usage.Leaves[leafIdx] = true
			leaf := leaves[leafIdx]
			for o := 0; o < int(leaf.NumMarkSurf); o++ {
				msIdx := int(leaf.FirstMarkSurf) + o
				usage.MarkSurfs[msIdx] = true
				markFace(int(marksurfs[msIdx]))
			}
			return
		}
		if usage.Nodes[nodeID] {
			return
		}
		usage.Nodes[nodeID] = true
		node := nodes[nodeID]
		usage.Planes[node.PlaneIndex] = true
		for f := int(node.FirstFace); f < int(node.FirstFace)+int(node.NumFaces); f++ {
			markFace(f)
		}
		walkNode(int32(node.Children[0]))
		walkNode(int32(node.Children[1]))
	}

	var walkClip func(nodeID int32)
	walkClip = func(nodeID int32) {
		if nodeID < 0 {
			return
		}
		if usage.ClipNodes[nodeID] {
			return
		}
		usage.ClipNodes[nodeID] = true
		node := clipnodes[nodeID]
		usage.Planes[node.PlaneIndex] = true
		walkClip(int32(node.Children[0]))
		walkClip(int32(node.Children[1]))
	}

	walkNode(mdl.HeadNode[0])
	for h := 1; h <= 3; h++ {
		walkClip(mdl.HeadNode[h])
	}
	return nil
}

// PinEdgeZero marks edge 0 live unconditionally: signed surfedges cannot
// address index 0, so its removal would corrupt any parser relying on the
// sentinel (spec.md Sec4.G).
func PinEdgeZero(usage *Usage) {
	if len(usage.Edges) > 0 {
		usage.Edges[0] = true
	}
}

// Remap holds, per lump kind, an old-index -> new-index table built by
// RemoveUnusedStructs.
type Remap struct {
	Planes    []int
	Vertices  []int
	Edges     []int
	Surfedges []int
	TexInfos  []int
	Faces     []int
	Nodes     []int
	ClipNodes []int
	Leaves    []int
	MarkSurfs []int
	Textures  []int
}

// RemoveUnusedStructs compacts a lump's records in place according to
// usage, returning the removal count and filling remapOut with the
// old->new table (-1 for removed records). Canonical compaction order
// (spec.md Sec4.G) is enforced by the caller invoking these per-lump
// passes in sequence; this function itself is lump-agnostic.
func RemoveUnusedStructs[T any](records []T, usage []bool) (kept []T, remapOut []int, removed int) {
	remapOut = make([]int, len(records))
	kept = make([]T, 0, len(records))
	for i, rec := range records {
		if i < len(usage) && usage[i] {
			remapOut[i] = len(kept)
			kept = append(kept, rec)
		} else {
			remapOut[i] = -1
			removed++
		}
	}
	return kept, remapOut, removed
}

// Compact compacts planes -> clipnodes -> nodes -> leaves -> marksurfs ->
// faces -> surfedges -> texinfos -> edges -> verts, in that canonical
// order (spec.md Sec4.G), returning the combined Remap. Lightstyles,
// lightmaps and the Textures lump are not compacted here, and
// Remap.Textures is left nil. Models are compacted by the caller
// (modeledit), which alone knows which model indices survived a delete.
//
// Every lump's old->new table is built first in a read-only pass, then a
// second pass rewrites cross-lump index fields using the finished tables
// before anything is written back -- a record can reference a lump that
// compacts later in the canonical order (e.g. a Face's FirstSurfedge
// points into Surfedges, compacted after Faces), so no single top-to-
// bottom pass can fix up references as it goes.
func Compact(s *bspfile.LumpStore, usage *Usage, e *env.Environment) (*Remap, error) {
	planes, err := s.Planes()
	if err != nil {
		return nil, err
	}
	clipnodes, err := s.ClipNodes()
	if err != nil {
		return nil, err
	}
	nodes, err := s.Nodes()
	if err != nil {
		return nil, err
	}
	leaves, err := s.Leaves()
	if err != nil {
		return nil, err
	}
	marksurfs, err := s.MarkSurfaces()
	if err != nil {
		return nil, err
	}
	faces, err := s.Faces()
	if err != nil {
		return nil, err
	}
	surfedges, err := s.Surfedges()
	if err != nil {
		return nil, err
	}
	texinfos, err := s.TexInfos()
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

	remap := &Remap{}
	keptPlanes, remap.Planes, _ := RemoveUnusedStructs(planes, usage.Planes)
	keptCN, remap.ClipNodes, _ := RemoveUnusedStructs(clipnodes, usage.ClipNodes)
	keptN, remap.Nodes, _ := RemoveUnusedStructs(nodes, usage.Nodes)
	keptL, remap.Leaves, _ := RemoveUnusedStructs(leaves, usage.Leaves)
	keptMS, remap.MarkSurfs, _ := RemoveUnusedStructs(marksurfs, usage.MarkSurfs)
	keptF, remap.Faces, _ := RemoveUnusedStructs(faces, usage.Faces)
	keptSE, remap.Surfedges, _ := RemoveUnusedStructs(surfedges, usage.Surfedges)
	keptTI, remap.TexInfos, _ := RemoveUnusedStructs(texinfos, usage.TexInfos)
	keptE, remap.Edges, _ := RemoveUnusedStructs(edges, usage.Edges)
	keptV, remap.Vertices, _ := RemoveUnusedStructs(verts, usage.Vertices)

	// Second pass: rewrite every cross-lump reference using the finished
	// remap tables.
	for i := range keptCN {
		keptCN[i].PlaneIndex = int32(remap.Planes[keptCN[i].PlaneIndex])
		for c := 0; c < 2; c++ {
			if keptCN[i].Children[c] >= 0 {
				keptCN[i].Children[c] = int16(remap.ClipNodes[keptCN[i].Children[c]])
			}
			// Negative children are CONTENTS_* sentinels, not indices.
		}
	}
	for i := range keptN {
		keptN[i].PlaneIndex = int32(remap.Planes[keptN[i].PlaneIndex])
		keptN[i].FirstFace = uint16(remap.Faces[keptN[i].FirstFace])
		for c := 0; c < 2; c++ {
			child := keptN[i].Children[c]
			if child >= 0 {
				keptN[i].Children[c] = int16(remap.Nodes[int(child)])
			} else {
				oldLeaf := int(^child)
				keptN[i].Children[c] = ^int16(remap.Leaves[oldLeaf])
			}
		}
	}
	for i := range keptL {
		keptL[i].FirstMarkSurf = uint16(remap.MarkSurfs[keptL[i].FirstMarkSurf])
	}
	for i := range keptMS {
		keptMS[i] = bspfile.MarkSurf(remap.Faces[int(keptMS[i])])
	}
	for i := range keptF {
		keptF[i].PlaneIndex = uint16(remap.Planes[keptF[i].PlaneIndex])
		keptF[i].TexInfoIndex = uint16(remap.TexInfos[keptF[i].TexInfoIndex])
		keptF[i].FirstSurfedge = int32(remap.Surfedges[keptF[i].FirstSurfedge])
	}
	for i := range keptSE {
		old := keptSE[i]
		abs := old
		if abs < 0 {
			abs = -abs
		}
		newAbs := bspfile.Surfedge(remap.Edges[abs])
		if old < 0 {
			keptSE[i] = -newAbs
		} else {
			keptSE[i] = newAbs
		}
	}
	for i := range keptE {
		keptE[i].V[0] = uint16(remap.Vertices[keptE[i].V[0]])
		keptE[i].V[1] = uint16(remap.Vertices[keptE[i].V[1]])
	}

	s.ReplacePlanes(keptPlanes)
	s.ReplaceClipNodes(keptCN)
	s.ReplaceNodes(keptN)
	s.ReplaceLeaves(keptL)
	s.ReplaceMarkSurfaces(keptMS)
	s.ReplaceFaces(keptF)
	s.ReplaceSurfedges(keptSE)
	s.ReplaceTexInfos(keptTI)
	s.ReplaceEdges(keptE)
	s.ReplaceVertices(keptV)

	return remap, nil
}
