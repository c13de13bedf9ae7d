// Package clipper builds an explicit convex polyhedron (verts/edges/faces)
// from an ordered list of oriented cutting planes, the inverse of
// traverse.DecomposeHull0/DecomposeClipHull (spec.md Sec4.F). It starts
// from a cube far larger than any map and successively splits every face
// against each plane, capping the cut with a new face built from the
// intersection segments.
//
// There is no teacher analog for this (Quake 2's viewer never needs to
// materialize a BSP leaf as a mesh); the clip/cap/mark-invisible strategy
// follows the construction spec.md Sec4.F describes directly, expressed
// with the geom package's CCW-sort and plane predicates built for exactly
// this purpose.
package clipper

import (
	"github.com/bspedit/bspedit/geom"
)

// hugeExtent must dwarf any legal map coordinate (spec.md's engine extent
// is a few thousand units); 1<<20 is 256 times the 4096-unit default map
// extent (env.DefaultLimits' MaxMapExtent).
const hugeExtent = 1 << 20

// Vertex is a clipper-owned point, tracked live/visible across cuts.
type Vertex struct {
	Pos     geom.Vec3
	Visible bool
}

// Edge references two vertices by index and tracks whether any adjoining
// face keeps it on the final hull surface.
type Edge struct {
	V       [2]int
	Visible bool
}

// Face is a CCW polygon: an ordered list of edge indices (with a
// direction flag since an edge can be shared by two faces with opposite
// windings) plus the cutting plane it lies in.
type Face struct {
	Plane   geom.Plane
	Edges   []int  // indices into Mesh.Edges
	Forward []bool // true if this face traverses Edges[i] from V[0]->V[1]
	Visible bool
}

// Mesh is the explicit polyhedron the clipper builds.
type Mesh struct {
	Verts []Vertex
	Edges []Edge
	Faces []Face
}

func cubeMesh() *Mesh {
	const e = hugeExtent
	pts := [8]geom.Vec3{
		{-e, -e, -e}, {e, -e, -e}, {e, e, -e}, {-e, e, -e},
		{-e, -e, e}, {e, -e, e}, {e, e, e}, {-e, e, e},
	}
	m := &Mesh{}
	for _, p := range pts {
		m.Verts = append(m.Verts, Vertex{Pos: p, Visible: true})
	}

	addEdge := func(a, b int) int {
		idx := len(m.Edges)
		m.Edges = append(m.Edges, Edge{V: [2]int{a, b}, Visible: true})
		return idx
	}

	// Six axis-aligned faces, each a quad, CCW as viewed from outside.
	faceVerts := [6][4]int{
		{0, 3, 2, 1}, // -Z (bottom, normal -Z... corrected below per normal calc)
		{4, 5, 6, 7}, // +Z
		{0, 1, 5, 4}, // -Y
		{3, 7, 6, 2}, // +Y
		{0, 4, 7, 3}, // -X
		{1, 2, 6, 5}, // +X
	}
	normals := [6]geom.Vec3{
		{0, 0, -1}, {0, 0, 1}, {0, -1, 0}, {0, 1, 0}, {-1, 0, 0}, {1, 0, 0},
	}

	for fi, verts := range faceVerts {
		var edgeIdx []int
		var fwd []bool
		for i := 0; i < 4; i++ {
			a, b := verts[i], verts[(i+1)%4]
			edgeIdx = append(edgeIdx, addEdge(a, b))
			fwd = append(fwd, true)
		}
		pl := geom.PlaneFromNormalPoint(normals[fi], m.Verts[verts[0]].Pos)
		m.Faces = append(m.Faces, Face{Plane: pl, Edges: edgeIdx, Forward: fwd, Visible: true})
	}
	return m
}

// Build constructs the convex mesh that is the intersection of all the
// half-spaces in planes (each plane's "inside" is where Distance <= 0).
// Planes are applied in order, matching spec.md Sec4.F. Once every plane
// is applied, a vertex or edge stays Visible only if a visible face uses it.
func Build(planes []geom.Plane) *Mesh {
	m := cubeMesh()
	for _, pl := range planes {
		m.clipByPlane(pl)
	}
	for i := range m.Verts {
		m.Verts[i].Visible = false
	}
	for i := range m.Edges {
		m.Edges[i].Visible = false
	}
	for _, f := range m.Faces {
		for _, ei := range f.Edges {
			if f.Visible {
				m.Edges[ei].Visible = true
				m.Verts[m.Edges[ei].V[0]].Visible = true
				m.Verts[m.Edges[ei].V[1]].Visible = true
			}
		}
	}
	return m
}

// clipByPlane splits every visible face against pl, discarding the part
// on the outside (Distance > 0) and capping the cut with one new face
// built from the chain of intersection points.
func (m *Mesh) clipByPlane(pl geom.Plane) {
	var capPoints []geom.Vec3

	for fi := range m.Faces {
		f := &m.Faces[fi]
		if !f.Visible {
			continue
		}
		poly := m.facePolygon(fi)
		if len(poly) == 0 {
			continue
		}

		var kept []geom.Vec3
		var crossPts []geom.Vec3
		n := len(poly)
		for i := 0; i < n; i++ {
			a := poly[i]
			b := poly[(i+1)%n]
			da := pl.Distance(a)
			db := pl.Distance(b)

			if da <= geom.Epsilon {
				kept = append(kept, a)
			}
			if (da < -geom.Epsilon && db > geom.Epsilon) || (da > geom.Epsilon && db < -geom.Epsilon) {
				t := da / (da - db)
				cross := a.Add(b.Sub(a).Mul(t))
				kept = append(kept, cross)
				crossPts = append(crossPts, cross)
			}
		}

		if len(kept) < 3 {
			// Entire face clipped away.
			f.Visible = false
			continue
		}
		if len(kept) == n && len(crossPts) == 0 {
			// Face untouched by this plane (all inside).
			continue
		}

		for _, p := range crossPts {
			dup := false
			for _, q := range capPoints {
				if geom.VecEqual(p, q) {
					dup = true
					break
				}
			}
			if !dup {
				capPoints = append(capPoints, p)
			}
		}
		m.replaceFacePolygon(fi, kept)
	}

	if len(capPoints) < 3 {
		return
	}
	geom.SortCoplanarCCW(pl, capPoints)
	capNormal := pl.Normal.Mul(-1) // the new face looks back into the solid
	m.addFace(geom.Plane{Normal: capNormal, Dist: -pl.Dist}, capPoints)
}

// facePolygon materializes a face's vertex positions in winding order.
func (m *Mesh) facePolygon(faceIdx int) []geom.Vec3 {
	f := m.Faces[faceIdx]
	out := make([]geom.Vec3, 0, len(f.Edges))
	for i, ei := range f.Edges {
		e := m.Edges[ei]
		if f.Forward[i] {
			out = append(out, m.Verts[e.V[0]].Pos)
		} else {
			out = append(out, m.Verts[e.V[1]].Pos)
		}
	}
	return out
}

// replaceFacePolygon rebuilds one face's edge list from a new vertex
// chain (the result of clipping it), allocating new vertices/edges as
// needed. Vertices and edges it stops using are hidden later, by Build.
func (m *Mesh) replaceFacePolygon(faceIdx int, verts []geom.Vec3) {
	f := &m.Faces[faceIdx]
	var edgeIdx []int
	var fwd []bool
	for i := range verts {
		a := m.internVertex(verts[i])
		b := m.internVertex(verts[(i+1)%len(verts)])
		ei, forward := m.internEdge(a, b)
		edgeIdx = append(edgeIdx, ei)
		fwd = append(fwd, forward)
	}
	f.Edges = edgeIdx
	f.Forward = fwd
}

func (m *Mesh) addFace(pl geom.Plane, verts []geom.Vec3) {
	var edgeIdx []int
	var fwd []bool
	for i := range verts {
		a := m.internVertex(verts[i])
		b := m.internVertex(verts[(i+1)%len(verts)])
		ei, forward := m.internEdge(a, b)
		edgeIdx = append(edgeIdx, ei)
		fwd = append(fwd, forward)
	}
	m.Faces = append(m.Faces, Face{Plane: pl, Edges: edgeIdx, Forward: fwd, Visible: true})
}

func (m *Mesh) internVertex(p geom.Vec3) int {
	for i, v := range m.Verts {
		if v.Visible && geom.VecEqual(v.Pos, p) {
			return i
		}
	}
	idx := len(m.Verts)
	m.Verts = append(m.Verts, Vertex{Pos: p, Visible: true})
	return idx
}

// internEdge finds or creates an edge between vertices a,b and reports
// whether it is traversed forward (a->b) from this call's perspective.
func (m *Mesh) internEdge(a, b int) (idx int, forward bool) {
	for i, e := range m.Edges {
		if !e.Visible {
			continue
		}
		if e.V[0] == a && e.V[1] == b {
			return i, true
		}
		if e.V[0] == b && e.V[1] == a {
			return i, false
		}
	}
	idx = len(m.Edges)
	m.Edges = append(m.Edges, Edge{V: [2]int{a, b}, Visible: true})
	return idx, true
}

// Centroid returns the average of all visible vertex positions, used by
// the clipper/traversal duality test (spec.md Sec8 property 4).
func (m *Mesh) Centroid() geom.Vec3 {
	sum := geom.Vec3{}
	n := 0
	for _, v := range m.Verts {
		if !v.Visible {
			continue
		}
		sum = sum.Add(v.Pos)
		n++
	}
	if n == 0 {
		return sum
	}
	return sum.Mul(1.0 / float32(n))
}

// VisibleFaces returns the CCW vertex loops of every face still part of
// the hull (Visible==true), skipping faces fully clipped away.
func (m *Mesh) VisibleFaces() [][]geom.Vec3 {
	var out [][]geom.Vec3
	for i, f := range m.Faces {
		if !f.Visible {
			continue
		}
		out = append(out, m.facePolygon(i))
	}
	return out
}
