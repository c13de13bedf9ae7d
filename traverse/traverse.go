// Package traverse answers geometric questions about the BSP/clipnode
// trees: point classification, ray-vs-hull tracing, PVS leaf enumeration,
// and volume decomposition (spec.md Sec4.E).
//
// Point classification is grounded directly on the teacher's
// BSPTree.findLeafNode (bsptree.go): "at each node evaluate the plane
// distance; >=0 descends front, <0 descends back; a negative node id
// terminates at a leaf" -- generalized here to also walk the four
// clipnode hulls, whose terminal value is a content code rather than a
// leaf index.
package traverse

import (
	"github.com/bspedit/bspedit/bspfile"
	"github.com/bspedit/bspedit/geom"
)

// Classification is the result of walking a hull to its terminal.
type Classification struct {
	Content bspfile.Content
	Leaf    int // valid only for hull 0 (visible BSP); -1 otherwise
}

// PointContentsHull0 classifies p by walking the visible-BSP tree
// (hull 0) starting at headNode, terminating at a leaf.
func PointContentsHull0(nodes []bspfile.Node, leaves []bspfile.Leaf, planes []bspfile.Plane, headNode int32, p geom.Vec3) Classification {
	nodeID := headNode
	for nodeID >= 0 {
		node := nodes[nodeID]
		pl := planes[node.PlaneIndex]
		d := planeDistance(pl, p)
		if d >= 0 {
			nodeID = int32(node.Children[0])
		} else {
			nodeID = int32(node.Children[1])
		}
	}
	leafIdx := int(^nodeID)
	return Classification{Content: bspfile.Content(leaves[leafIdx].Contents), Leaf: leafIdx}
}

// PointContentsClipHull classifies p by walking one of the clip hulls
// (1..3), terminating at a content code (spec.md Sec4.E).
func PointContentsClipHull(clipNodes []bspfile.ClipNode, planes []bspfile.Plane, headNode int32, p geom.Vec3) bspfile.Content {
	nodeID := headNode
	for nodeID >= 0 {
		node := clipNodes[nodeID]
		pl := planes[node.PlaneIndex]
		d := planeDistance(pl, p)
		if d >= 0 {
			nodeID = int32(node.Children[0])
		} else {
			nodeID = int32(node.Children[1])
		}
	}
	return bspfile.Content(nodeID)
}

func planeDistance(pl bspfile.Plane, p geom.Vec3) float32 {
	// Axial planes (type < 3 in the on-disk record, matching the
	// teacher's fast path in findLeafNode) could skip the dot product,
	// but the normal is always unit length by invariant so the dot
	// product is exact either way -- one code path, no special-casing.
	return pl.Normal[0]*p[0] + pl.Normal[1]*p[1] + pl.Normal[2]*p[2] - pl.Distance
}

// TraceResult reports the outcome of a hull ray trace (spec.md Sec4.E).
type TraceResult struct {
	StartSolid bool
	AllSolid   bool
	InOpen     bool
	InWater    bool
	Fraction   float32
	EndPos     geom.Vec3
	PlaneHit   *bspfile.Plane // nil if the trace didn't end on a surface
}

// clipHullState carries the hull arrays plus the headnode, since the
// "still in solid after the crossing" check (spec.md Sec4.E) must restart
// classification from the hull's headnode, not from the subtree the outer
// recursion happened to be in.
type clipHullState struct {
	clipNodes []bspfile.ClipNode
	planes    []bspfile.Plane
	headNode  int32
}

// TraceHull implements the classic recursive-hull-check used throughout
// id-tech-derived engines (spec.md Sec4.E): split the ray by the current
// plane, recurse into whichever child(ren) the segment actually crosses,
// and report impact data only when the far side is solid.
func TraceHull(clipNodes []bspfile.ClipNode, planes []bspfile.Plane, headNode int32, start, end geom.Vec3) TraceResult {
	st := &clipHullState{clipNodes: clipNodes, planes: planes, headNode: headNode}
	res := TraceResult{Fraction: 1, EndPos: end, AllSolid: true}
	st.recursiveHullCheck(headNode, 0, 1, start, end, &res)
	return res
}

const hullEpsilon = 0.03125 // 1/32 world unit, matches the compile tools' DIST_EPSILON

// pointContentsFrom classifies p by walking the hull from nodeID (a node
// id, not a content code) to its terminal.
func (st *clipHullState) pointContentsFrom(nodeID int32, p geom.Vec3) bspfile.Content {
	for nodeID >= 0 {
		node := st.clipNodes[nodeID]
		pl := st.planes[node.PlaneIndex]
		if planeDistance(pl, p) >= 0 {
			nodeID = int32(node.Children[0])
		} else {
			nodeID = int32(node.Children[1])
		}
	}
	return bspfile.Content(nodeID)
}

// recursiveHullCheck returns true when the segment ends in a terminal
// without an impact being recorded, and false to stop the walk: either
// the impact has been recorded, or the near side never left solid. res is
// filled in along the way. It mirrors
// SV_RecursiveHullCheck: descend only the side(s) the segment actually
// touches, and when the segment crosses from the near side into a solid
// far side, record the crossing plane/fraction as the impact.
func (st *clipHullState) recursiveHullCheck(nodeID int32, p1f, p2f float32, p1, p2 geom.Vec3, res *TraceResult) bool {
	if nodeID < 0 {
		content := bspfile.Content(nodeID)
		if content != bspfile.ContentSolid {
			res.AllSolid = false
			if content == bspfile.ContentEmpty {
				res.InOpen = true
			} else if content == bspfile.ContentWater || content == bspfile.ContentSlime || content == bspfile.ContentLava {
				res.InWater = true
			}
		} else {
			res.StartSolid = true
		}
		return true
	}

	node := st.clipNodes[nodeID]
	pl := st.planes[node.PlaneIndex]

	t1 := planeDistance(pl, p1)
	t2 := planeDistance(pl, p2)

	if t1 >= 0 && t2 >= 0 {
		return st.recursiveHullCheck(int32(node.Children[0]), p1f, p2f, p1, p2, res)
	}
	if t1 < 0 && t2 < 0 {
		return st.recursiveHullCheck(int32(node.Children[1]), p1f, p2f, p1, p2, res)
	}

	// Ray crosses the plane: solve for the fraction, nudging the
	// crosspoint onto the near side by hullEpsilon so float error
	// doesn't re-classify it on the wrong side.
	var frac float32
	nearIdx := 0
	if t1 < 0 {
		frac = (t1 + hullEpsilon) / (t1 - t2)
		nearIdx = 1
	} else {
		frac = (t1 - hullEpsilon) / (t1 - t2)
		nearIdx = 0
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	farIdx := 1 - nearIdx
	nearSide := int32(node.Children[nearIdx])
	farSide := int32(node.Children[farIdx])

	mid := p1.Add(p2.Sub(p1).Mul(frac))
	midf := p1f + (p2f-p1f)*frac

	if !st.recursiveHullCheck(nearSide, p1f, midf, p1, mid, res) {
		return false
	}

	if st.pointContentsFrom(farSide, mid) != bspfile.ContentSolid {
		return st.recursiveHullCheck(farSide, midf, p2f, mid, p2, res)
	}

	if res.AllSolid {
		// Never got out of solid on the near side; no surface to report.
		return false
	}

	// Record the crossing plane, oriented consistently with the side we
	// approached from.
	if nearIdx == 0 {
		planeCopy := pl
		res.PlaneHit = &planeCopy
	} else {
		res.PlaneHit = &bspfile.Plane{
			Normal:   [3]float32{-pl.Normal[0], -pl.Normal[1], -pl.Normal[2]},
			Distance: -pl.Distance,
			Type:     pl.Type,
		}
	}

	// Imprecision may leave mid itself classified as solid from the
	// hull's headnode; back the fraction off by 0.1 at a time, bounded
	// down to 0 (spec.md Sec4.E).
	for st.pointContentsFrom(st.headNode, mid) == bspfile.ContentSolid {
		frac -= 0.1
		if frac < 0 {
			res.Fraction = midf
			res.EndPos = mid
			return false
		}
		midf = p1f + (p2f-p1f)*frac
		mid = p1.Add(p2.Sub(p1).Mul(frac))
	}

	res.Fraction = midf
	res.EndPos = mid
	return false
}

// VolumePredicate selects which terminals a volume decomposition should
// emit (spec.md Sec4.E).
type VolumePredicate func(content bspfile.Content, leafIdx int) bool

func ContentsSolid(c bspfile.Content, _ int) bool     { return c == bspfile.ContentSolid }
func ContentsAny(bspfile.Content, int) bool           { return true }
func ContentsNotSolid(c bspfile.Content, _ int) bool  { return c != bspfile.ContentSolid }
func ContentsNotLeaf0(_ bspfile.Content, leaf int) bool { return leaf != 0 }

// VolumeCut is one emitted terminal and the oriented planes along its
// branch, in reverse branch order. Each plane is oriented so the terminal
// lies on its front side (Distance >= 0); clipper.Build keeps the side
// where Distance <= 0, so the terminal's volume is what Build makes of
// the negated planes. NodeIndex is -1 for hull-0 cuts and the terminal's
// content code for clip-hull cuts.
type VolumeCut struct {
	NodeIndex int
	LeafIndex int // -1 for clipnode-hull decompositions
	Planes    []geom.Plane
}

type frame struct {
	nodeID int32
	planes []geom.Plane
}

// DecomposeHull0 walks the visible-BSP tree from headNode, accumulating
// the oriented planes along each branch and emitting a VolumeCut at every
// leaf matching pred. Uses an explicit work-stack (spec.md Sec9) rather
// than recursion so maps with >1000-deep trees don't overflow the goroutine
// stack.
func DecomposeHull0(nodes []bspfile.Node, leaves []bspfile.Leaf, planes []bspfile.Plane, headNode int32, pred VolumePredicate) []VolumeCut {
	var out []VolumeCut
	stack := []frame{{nodeID: headNode}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.nodeID < 0 {
			leafIdx := int(^f.nodeID)
			content := bspfile.Content(leaves[leafIdx].Contents)
			if pred(content, leafIdx) {
				rev := reversePlanes(f.planes)
				out = append(out, VolumeCut{NodeIndex: -1, LeafIndex: leafIdx, Planes: rev})
			}
			continue
		}

		node := nodes[f.nodeID]
		pl := planes[node.PlaneIndex]
		gp := geom.Plane{Normal: geom.Vec3{pl.Normal[0], pl.Normal[1], pl.Normal[2]}, Dist: pl.Distance}

		frontPlanes := append(append([]geom.Plane{}, f.planes...), gp)
		backPlanes := append(append([]geom.Plane{}, f.planes...), geom.Plane{Normal: gp.Normal.Mul(-1), Dist: -gp.Dist})

		stack = append(stack, frame{nodeID: int32(node.Children[0]), planes: frontPlanes})
		stack = append(stack, frame{nodeID: int32(node.Children[1]), planes: backPlanes})
	}
	return out
}

// DecomposeClipHull walks one of the clipnode hulls (1..3), emitting a
// VolumeCut at every terminal whose content code matches pred.
func DecomposeClipHull(clipNodes []bspfile.ClipNode, planes []bspfile.Plane, headNode int32, pred VolumePredicate) []VolumeCut {
	var out []VolumeCut
	stack := []frame{{nodeID: headNode}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.nodeID < 0 {
			content := bspfile.Content(f.nodeID)
			if pred(content, -1) {
				rev := reversePlanes(f.planes)
				out = append(out, VolumeCut{NodeIndex: int(f.nodeID), LeafIndex: -1, Planes: rev})
			}
			continue
		}

		node := clipNodes[f.nodeID]
		pl := planes[node.PlaneIndex]
		gp := geom.Plane{Normal: geom.Vec3{pl.Normal[0], pl.Normal[1], pl.Normal[2]}, Dist: pl.Distance}

		frontPlanes := append(append([]geom.Plane{}, f.planes...), gp)
		backPlanes := append(append([]geom.Plane{}, f.planes...), geom.Plane{Normal: gp.Normal.Mul(-1), Dist: -gp.Dist})

		stack = append(stack, frame{nodeID: int32(node.Children[0]), planes: frontPlanes})
		stack = append(stack, frame{nodeID: int32(node.Children[1]), planes: backPlanes})
	}
	return out
}

func reversePlanes(in []geom.Plane) []geom.Plane {
	out := make([]geom.Plane, len(in))
	for i, p := range in {
		out[len(in)-1-i] = p
	}
	return out
}

// EnumerateVisibleLeaves decompresses the PVS row for fromLeaf's cluster
// (here, leaf index doubles as cluster index -- Half-Life BSP has no
// separate cluster indirection, unlike Quake 2) and returns every leaf
// index visible from it, following the same zero-run decode the teacher's
// getFacesFromCluster performs inline.
func EnumerateVisibleLeaves(leaves []bspfile.Leaf, visData []byte, fromLeaf int) []int {
	if fromLeaf < 0 || fromLeaf >= len(leaves) {
		return nil
	}
	visOffset := leaves[fromLeaf].VisOffset
	if visOffset < 0 {
		return nil
	}
	numLeaves := len(leaves)
	rowBytes := (numLeaves + 7) / 8

	var out []int
	v := int(visOffset)
	leafIdx := 0
	for leafIdx < numLeaves && v < len(visData) {
		if visData[v] == 0 {
			v++
			run := 0
			if v < len(visData) {
				run = int(visData[v])
				v++
			}
			leafIdx += 8 * run
			continue
		}
		byteVal := visData[v]
		v++
		for bit := 0; bit < 8 && leafIdx < numLeaves; bit++ {
			if byteVal&(1<<uint(bit)) != 0 {
				out = append(out, leafIdx)
			}
			leafIdx++
		}
	}
	_ = rowBytes
	return out
}
