// Package lightmap packs per-face lightmap rectangles into one or more
// fixed-size atlases and rewrites the Faces/Lighting lumps to match
// (spec.md Sec4.K). The packing strategy -- a binary tree of free
// rectangles, split along the longer leftover axis, with a new atlas opened once the
// current one is full -- follows the teacher's render/lightmap.go
// AllocateLightmapRect (read before that file was trimmed out of the
// final tree; its shape survives here, applied headlessly and extended
// to multiple atlases per spec.md's ATLAS_SIZE/ATLAS_ZONE limits).
package lightmap

import (
	"fmt"
	"sort"

	"github.com/bspedit/bspedit/bspfile"
	"github.com/bspedit/bspedit/env"
	"github.com/bspedit/bspedit/geom"
)

// Rect is an allocated atlas region in texel space.
type Rect struct {
	AtlasID int
	X, Y    int32
	W, H    int32
}

// node is one binary-tree cell of an atlas's free-space tree. A leaf with
// Filled==false is available; Insert recurses into Left/Right once a node
// has been split.
type node struct {
	X, Y, W, H int32
	Left       *node
	Right      *node
	Filled     bool
}

// insert attempts to place a w x h rect rooted at n, splitting n along its
// longer remaining axis first so thin strips are not stranded at the far
// end of a wide free cell -- the same heuristic as the teacher's quad-tree
// packer.
func (n *node) insert(w, h int32) *node {
	if n.Left != nil || n.Right != nil {
		if r := n.Left.insert(w, h); r != nil {
			return r
		}
		return n.Right.insert(w, h)
	}
	if n.Filled || w > n.W || h > n.H {
		return nil
	}
	if w == n.W && h == n.H {
		n.Filled = true
		return n
	}

	dw, dh := n.W-w, n.H-h
	if dw > dh {
		n.Left = &node{X: n.X, Y: n.Y, W: w, H: n.H}
		n.Right = &node{X: n.X + w, Y: n.Y, W: n.W - w, H: n.H}
	} else {
		n.Left = &node{X: n.X, Y: n.Y, W: n.W, H: h}
		n.Right = &node{X: n.X, Y: n.Y + h, W: n.W, H: n.H - h}
	}
	return n.Left.insert(w, h)
}

// Atlas is one fixed-size lightmap sheet.
type Atlas struct {
	ID   int
	Size int32
	root *node
}

func newAtlas(id int, size int32) *Atlas {
	return &Atlas{ID: id, Size: size, root: &node{W: size, H: size}}
}

// Insert places a w x h rect (already padded by the caller's zone margin)
// into the atlas, reporting the allocated top-left corner.
func (a *Atlas) Insert(w, h int32) (x, y int32, ok bool) {
	n := a.root.insert(w, h)
	if n == nil {
		return 0, 0, false
	}
	return n.X, n.Y, true
}

// Packer owns the growing list of atlases used for one compaction/build
// pass; Pack opens a new atlas once every existing one rejects a rect.
type Packer struct {
	atlases []*Atlas
	size    int32
	zone    int32
}

// NewPacker builds a Packer sized per e.Limits.AtlasSize, padding every
// allocation by e.Limits.AtlasZone texels on each axis to keep bilinear
// lightmap sampling from bleeding across unrelated faces (spec.md Sec4.K).
func NewPacker(e *env.Environment) *Packer {
	return &Packer{size: e.Limits.AtlasSize, zone: e.Limits.AtlasZone}
}

// Pack allocates a w x h rect (unpadded luxel dimensions), returning the
// atlas id and the *unpadded* top-left corner within it.
func (p *Packer) Pack(w, h int32) (atlasID int, x, y int32, err error) {
	pw, ph := w+p.zone, h+p.zone
	if pw > p.size || ph > p.size {
		return 0, 0, 0, fmt.Errorf("%w: lightmap rect %dx%d (padded %dx%d) exceeds atlas size %d",
			bspfile.ErrLimitExceeded, w, h, pw, ph, p.size)
	}
	for _, a := range p.atlases {
		if x, y, ok := a.Insert(pw, ph); ok {
			return a.ID, x, y, nil
		}
	}
	a := newAtlas(len(p.atlases), p.size)
	p.atlases = append(p.atlases, a)
	x, y, ok := a.Insert(pw, ph)
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: rect %dx%d does not fit a fresh %d atlas", bspfile.ErrLimitExceeded, w, h, p.size)
	}
	return a.ID, x, y, nil
}

// NumAtlases reports how many atlas sheets have been opened so far.
func (p *Packer) NumAtlases() int { return len(p.atlases) }

// FaceLightmap is one face's resolved lightmap placement.
type FaceLightmap struct {
	FaceIndex int
	AtlasID   int
	X, Y      int32 // texel-space top-left within the atlas
	LuxelW    int32
	LuxelH    int32
	MinS      float32 // texture-space s at the lightmap's first luxel
	MinT      float32
	MidU      float32 // atlas-space UV at the rect's mid-texel, for a renderer
	MidV      float32
}

// faceExtent computes a face's lightmap size in luxels (spec.md Sec4.K,
// grounded on the compile tools' CalcFaceExtents behavior referenced by
// spec.md Sec3): project every vertex onto the texinfo's S/T axes, take
// the bounding box in luxel units (LuxelWorldUnits per texel), and round
// up to whole luxels plus one. A face wider or taller than
// MaxLightmapLuxelsPerAxis luxels is not clamped: it yields ErrLimitExceeded.
func faceExtent(verts []geom.Vec3, ti bspfile.TexInfo, limits env.Limits) (lw, lh int32, mins [2]float32, err error) {
	if len(verts) == 0 {
		return 0, 0, mins, bspfile.ErrDegenerateFace
	}
	s := geom.Vec3{ti.S[0], ti.S[1], ti.S[2]}
	t := geom.Vec3{ti.T[0], ti.T[1], ti.T[2]}

	minS, maxS := s.Dot(verts[0])+ti.SShift, s.Dot(verts[0])+ti.SShift
	minT, maxT := t.Dot(verts[0])+ti.TShift, t.Dot(verts[0])+ti.TShift
	for _, v := range verts[1:] {
		vs := s.Dot(v) + ti.SShift
		vt := t.Dot(v) + ti.TShift
		if vs < minS {
			minS = vs
		}
		if vs > maxS {
			maxS = vs
		}
		if vt < minT {
			minT = vt
		}
		if vt > maxT {
			maxT = vt
		}
	}

	unit := float32(limits.LuxelWorldUnits)
	lo0 := floorDiv(minS, unit)
	lo1 := floorDiv(minT, unit)
	hi0 := ceilDiv(maxS, unit)
	hi1 := ceilDiv(maxT, unit)

	w := hi0 - lo0 + 1
	h := hi1 - lo1 + 1
	if int(w) > limits.MaxLightmapLuxelsPerAxis || int(h) > limits.MaxLightmapLuxelsPerAxis {
		return 0, 0, mins, fmt.Errorf("%w: face extent %dx%d luxels exceeds %d", bspfile.ErrLimitExceeded, w, h, limits.MaxLightmapLuxelsPerAxis)
	}
	return w, h, [2]float32{lo0 * unit, lo1 * unit}, nil
}

func floorDiv(v, unit float32) float32 {
	q := v / unit
	f := float32(int32(q))
	if q < f {
		f--
	}
	return f
}

func ceilDiv(v, unit float32) float32 {
	q := v / unit
	c := float32(int32(q))
	if q > c {
		c++
	}
	return c
}

// facePoints resolves a face's world-space vertex loop via the map's
// standard Surfedge/Edge indirection.
func facePoints(s *bspfile.LumpStore, face bspfile.Face) ([]geom.Vec3, error) {
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

	var pts []geom.Vec3
	for i := 0; i < int(face.NumSurfedges); i++ {
		se := surfedges[int(face.FirstSurfedge)+i]
		var vi uint16
		if se >= 0 {
			vi = edges[int(se)].V[0]
		} else {
			vi = edges[int(-se)].V[1]
		}
		v := verts[vi]
		pts = append(pts, geom.Vec3{v.Point[0], v.Point[1], v.Point[2]})
	}
	return pts, nil
}

// PackAll recomputes every non-special face's lightmap extent,
// packs all of them across one or more atlases, rewrites each Face's
// LightmapOff to point into a freshly built Lighting lump, and returns
// the per-face placement table a renderer or atlas exporter needs
// (spec.md Sec4.K PackAll). Faces with TexInfoFlagSpecial are skipped and
// their LightmapOff set to bspfile.NoLightmapOffset.
func PackAll(s *bspfile.LumpStore, e *env.Environment) ([]FaceLightmap, error) {
	faces, err := s.Faces()
	if err != nil {
		return nil, err
	}
	texinfos, err := s.TexInfos()
	if err != nil {
		return nil, err
	}

	type pending struct {
		idx    int
		lw, lh int32
		mins   [2]float32
	}
	var work []pending
	for i, f := range faces {
		ti := texinfos[f.TexInfoIndex]
		if ti.Flags&bspfile.TexInfoFlagSpecial != 0 {
			faces[i].LightmapOff = bspfile.NoLightmapOffset
			continue
		}
		pts, err := facePoints(s, f)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		lw, lh, mins, err := faceExtent(pts, ti, e.Limits)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		work = append(work, pending{i, lw, lh, mins})
	}

	// Pack largest-area first: a classic bin-packing heuristic that keeps
	// small leftover faces from fragmenting an atlas a big one would
	// otherwise have filled cleanly.
	sort.SliceStable(work, func(a, b int) bool {
		return work[a].lw*work[a].lh > work[b].lw*work[b].lh
	})

	packer := NewPacker(e)
	results := make([]FaceLightmap, 0, len(work))
	var lighting []byte

	for n, p := range work {
		if e.ShouldCancel("packing lightmaps", n, len(work)) {
			return nil, bspfile.ErrCancelled
		}
		atlasID, x, y, err := packer.Pack(p.lw, p.lh)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", p.idx, err)
		}

		off := int32(len(lighting))
		numStyles := numActiveStyles(faces[p.idx].Styles)
		lighting = append(lighting, make([]byte, int(p.lw)*int(p.lh)*3*numStyles)...)
		faces[p.idx].LightmapOff = off

		results = append(results, FaceLightmap{
			FaceIndex: p.idx,
			AtlasID:   atlasID,
			X:         x,
			Y:         y,
			LuxelW:    p.lw,
			LuxelH:    p.lh,
			MinS:      p.mins[0],
			MinT:      p.mins[1],
			MidU:      (float32(x) + float32(p.lw)/2) / float32(e.Limits.AtlasSize),
			MidV:      (float32(y) + float32(p.lh)/2) / float32(e.Limits.AtlasSize),
		})
	}

	s.ReplaceFaces(faces)
	s.ReplaceLighting(lighting)
	return results, nil
}

func numActiveStyles(styles [4]uint8) int {
	n := 0
	for _, st := range styles {
		if st != 0xFF {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

// Resize re-derives one face's lightmap extent (after e.g. faceedit's
// AdjustResizedTextureCoordinates or Subdivide changed its texinfo or
// geometry) and allocates a fresh slot for it from packer, which tries each
// of its existing atlases in turn and opens a new one when none fits. It
// does not rewrite the face's LightmapOff or the Lighting lump. ok=false
// means the face is TexInfoFlagSpecial or the rect could not be placed;
// Resize does not repack any other face itself -- a full PackAll discards
// every other face's existing placement (spec.md Sec4.K move/resize).
func Resize(s *bspfile.LumpStore, e *env.Environment, packer *Packer, faceIdx int) (FaceLightmap, bool, error) {
	faces, err := s.Faces()
	if err != nil {
		return FaceLightmap{}, false, err
	}
	texinfos, err := s.TexInfos()
	if err != nil {
		return FaceLightmap{}, false, err
	}
	f := faces[faceIdx]
	ti := texinfos[f.TexInfoIndex]
	if ti.Flags&bspfile.TexInfoFlagSpecial != 0 {
		return FaceLightmap{}, false, nil
	}

	pts, err := facePoints(s, f)
	if err != nil {
		return FaceLightmap{}, false, err
	}
	lw, lh, mins, err := faceExtent(pts, ti, e.Limits)
	if err != nil {
		return FaceLightmap{}, false, err
	}

	atlasID, x, y, err := packer.Pack(lw, lh)
	if err != nil {
		return FaceLightmap{}, false, nil // caller should fall back to PackAll
	}
	return FaceLightmap{
		FaceIndex: faceIdx,
		AtlasID:   atlasID,
		X:         x,
		Y:         y,
		LuxelW:    lw,
		LuxelH:    lh,
		MinS:      mins[0],
		MinT:      mins[1],
		MidU:      (float32(x) + float32(lw)/2) / float32(e.Limits.AtlasSize),
		MidV:      (float32(y) + float32(lh)/2) / float32(e.Limits.AtlasSize),
	}, true, nil
}
