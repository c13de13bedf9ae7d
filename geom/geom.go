// Package geom holds the primitives shared by every higher-level package:
// vectors, matrices, planes, axis-aligned boxes, and the geometric
// predicates spec.md Sec4.A calls for. Vector/matrix storage rides on
// mgl32.Vec3/Mat4 (the teacher's own dependency, github.com/go-gl/mathgl);
// scalar math (Sqrt, Abs, trig) uses github.com/chewxy/math32 so plane
// normalization and epsilon comparisons stay float32-native end to end,
// the way soypat/glgl -- the other OpenGL-adjacent repo in this corpus --
// uses math32 throughout its own vector math instead of round-tripping
// through float64.
package geom

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Epsilon is the single small positive constant used throughout for
// degeneracy, coplanarity, and vertex-equality decisions (spec.md Sec4.A).
const Epsilon = 1e-3

type Vec3 = mgl32.Vec3
type Mat4 = mgl32.Mat4

// Plane is n.x = d.
type Plane struct {
	Normal mgl32.Vec3
	Dist   float32
}

// PlaneFromNormalPoint builds a plane from a unit normal and a point it
// passes through.
func PlaneFromNormalPoint(n, p mgl32.Vec3) Plane {
	return Plane{Normal: n, Dist: n.Dot(p)}
}

// PlaneFromPoints computes (normal, distance) from three non-collinear
// points, CCW winding. Returns ok=false if the points are degenerate
// (collinear or coincident within Epsilon).
func PlaneFromPoints(a, b, c mgl32.Vec3) (Plane, bool) {
	e1 := b.Sub(a)
	e2 := c.Sub(a)
	n := e1.Cross(e2)
	length := n.Len()
	if length < Epsilon {
		return Plane{}, false
	}
	n = n.Mul(1.0 / length)
	return Plane{Normal: n, Dist: n.Dot(a)}, true
}

// Distance returns the signed distance from p to the plane.
func (pl Plane) Distance(p mgl32.Vec3) float32 {
	return pl.Normal.Dot(p) - pl.Dist
}

// IsUnit reports whether the plane's normal has length ~1 (spec.md Sec3
// invariant 2).
func (pl Plane) IsUnit() bool {
	return math32.Abs(pl.Normal.Len()-1) < Epsilon
}

// AxialType classifies the plane's dominant axis into the six-way tag
// used by the on-disk Plane record (spec.md Sec3).
func (pl Plane) AxialType() int32 {
	ax, ay, az := math32.Abs(pl.Normal[0]), math32.Abs(pl.Normal[1]), math32.Abs(pl.Normal[2])
	const almostOne = 1 - Epsilon
	if ax > almostOne {
		return 0 // PlaneX
	}
	if ay > almostOne {
		return 1 // PlaneY
	}
	if az > almostOne {
		return 2 // PlaneZ
	}
	if ax >= ay && ax >= az {
		return 3 // PlaneAnyX
	}
	if ay >= ax && ay >= az {
		return 4 // PlaneAnyY
	}
	return 5 // PlaneAnyZ
}

// Box is an axis-aligned bounding box.
type Box struct {
	Min, Max mgl32.Vec3
}

// EmptyBox returns a box primed for Extend (min=+inf, max=-inf).
func EmptyBox() Box {
	const big = 1e30
	return Box{
		Min: mgl32.Vec3{big, big, big},
		Max: mgl32.Vec3{-big, -big, -big},
	}
}

// Extend grows the box to include p.
func (b *Box) Extend(p mgl32.Vec3) {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
}

// Merge returns the union of two boxes.
func Merge(a, b Box) Box {
	out := a
	out.Extend(b.Min)
	out.Extend(b.Max)
	return out
}

// Contains reports whether p lies within the box, inclusive.
func (b Box) Contains(p mgl32.Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] || p[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Center returns the box's midpoint.
func (b Box) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Translate shifts a box by delta.
func (b Box) Translate(delta mgl32.Vec3) Box {
	return Box{Min: b.Min.Add(delta), Max: b.Max.Add(delta)}
}

// AllOnOneSide reports whether every vertex lies on the same side of pl
// (within Epsilon), returning the common side (false=front/on, true=back)
// and ok=true; ok=false means the vertices straddle the plane.
func AllOnOneSide(pl Plane, verts []mgl32.Vec3) (back bool, ok bool) {
	sawFront, sawBack := false, false
	for _, v := range verts {
		d := pl.Distance(v)
		switch {
		case d > Epsilon:
			sawFront = true
		case d < -Epsilon:
			sawBack = true
		}
		if sawFront && sawBack {
			return false, false
		}
	}
	return sawBack, true
}

// RayPlaneIntersect solves p(t) = origin + t*dir for the t where it
// crosses pl. ok=false if the ray is parallel to the plane.
func RayPlaneIntersect(origin, dir mgl32.Vec3, pl Plane) (t float32, ok bool) {
	denom := pl.Normal.Dot(dir)
	if math32.Abs(denom) < Epsilon {
		return 0, false
	}
	t = (pl.Dist - pl.Normal.Dot(origin)) / denom
	return t, true
}

// RayAABBIntersect returns the [tmin,tmax] slab intersection of a ray with
// a box; ok=false if the ray misses the box entirely.
func RayAABBIntersect(origin, dir mgl32.Vec3, b Box) (tmin, tmax float32, ok bool) {
	tmin, tmax = 0, math32.MaxFloat32
	for i := 0; i < 3; i++ {
		if math32.Abs(dir[i]) < Epsilon {
			if origin[i] < b.Min[i] || origin[i] > b.Max[i] {
				return 0, 0, false
			}
			continue
		}
		inv := 1.0 / dir[i]
		t1 := (b.Min[i] - origin[i]) * inv
		t2 := (b.Max[i] - origin[i]) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmin > tmax {
			return 0, 0, false
		}
	}
	return tmin, tmax, true
}

// project2D drops the axis of pl's largest-magnitude normal component,
// i.e. projects onto the coordinate plane that best preserves area, and
// returns the indices of the two remaining axes as (u, v).
func project2D(pl Plane) (u, v int) {
	ax, ay, az := math32.Abs(pl.Normal[0]), math32.Abs(pl.Normal[1]), math32.Abs(pl.Normal[2])
	switch {
	case ax >= ay && ax >= az:
		return 1, 2
	case ay >= ax && ay >= az:
		return 0, 2
	default:
		return 0, 1
	}
}

// PointInConvexPolygon reports whether p (assumed to lie on pl, in world
// space) is inside the CCW polygon verts, via 2D projection + winding.
func PointInConvexPolygon(pl Plane, verts []mgl32.Vec3, p mgl32.Vec3) bool {
	u, v := project2D(pl)
	n := len(verts)
	if n < 3 {
		return false
	}
	sign := 0
	for i := 0; i < n; i++ {
		a := verts[i]
		b := verts[(i+1)%n]
		edgeU, edgeV := b[u]-a[u], b[v]-a[v]
		toPU, toPV := p[u]-a[u], p[v]-a[v]
		cross := edgeU*toPV - edgeV*toPU
		if cross > Epsilon {
			if sign < 0 {
				return false
			}
			sign = 1
		} else if cross < -Epsilon {
			if sign > 0 {
				return false
			}
			sign = -1
		}
	}
	return true
}

// RayConvexPolygonIntersect intersects a ray with a single convex polygon
// face lying in plane pl: first solves the ray/plane crossing, then tests
// containment via 2D projection.
func RayConvexPolygonIntersect(origin, dir mgl32.Vec3, pl Plane, verts []mgl32.Vec3) (t float32, hit bool) {
	t, ok := RayPlaneIntersect(origin, dir, pl)
	if !ok || t < 0 {
		return 0, false
	}
	p := origin.Add(dir.Mul(t))
	return t, PointInConvexPolygon(pl, verts, p)
}

// SortCoplanarCCW sorts verts (all assumed coplanar on pl) into CCW
// winding order about their centroid, as seen from the side the normal
// points to. Used by the clipper when it caps a newly cut face.
func SortCoplanarCCW(pl Plane, verts []mgl32.Vec3) {
	if len(verts) < 3 {
		return
	}
	center := mgl32.Vec3{}
	for _, v := range verts {
		center = center.Add(v)
	}
	center = center.Mul(1.0 / float32(len(verts)))

	u, v := project2D(pl)
	// (u,v) is right-handed about +X and +Z but about -Y; flip the angle
	// where that handedness disagrees with the normal's direction.
	k := 3 - u - v
	dir := float32(1)
	if (k == 1) != (pl.Normal[k] < 0) {
		dir = -1
	}
	angle := func(p mgl32.Vec3) float32 {
		return dir * math32.Atan2(p[v]-center[v], p[u]-center[u])
	}

	// small n (typically <20): insertion sort avoids pulling in sort.Slice
	// closures for a hot inner loop used by the clipper on every cut.
	for i := 1; i < len(verts); i++ {
		key := verts[i]
		ka := angle(key)
		j := i - 1
		for j >= 0 && angle(verts[j]) > ka {
			verts[j+1] = verts[j]
			j--
		}
		verts[j+1] = key
	}
}

// VecEqual reports whether a and b are the same point within Epsilon.
func VecEqual(a, b mgl32.Vec3) bool {
	return a.Sub(b).Len() < Epsilon
}
