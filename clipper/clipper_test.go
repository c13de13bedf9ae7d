package clipper

import (
	"math"
	"testing"

	"github.com/bspedit/bspedit/geom"
)

// unitBoxPlanes returns the six inward-facing half-space planes of the
// axis-aligned box [-1,1]^3, using the same "Distance <= 0 is inside"
// convention Build expects.
func unitBoxPlanes() []geom.Plane {
	return []geom.Plane{
		{Normal: geom.Vec3{1, 0, 0}, Dist: 1},
		{Normal: geom.Vec3{-1, 0, 0}, Dist: 1},
		{Normal: geom.Vec3{0, 1, 0}, Dist: 1},
		{Normal: geom.Vec3{0, -1, 0}, Dist: 1},
		{Normal: geom.Vec3{0, 0, 1}, Dist: 1},
		{Normal: geom.Vec3{0, 0, -1}, Dist: 1},
	}
}

func TestBuildUnitBoxHasSixFaces(t *testing.T) {
	m := Build(unitBoxPlanes())
	faces := m.VisibleFaces()
	if len(faces) != 6 {
		t.Fatalf("got %d visible faces, want 6 for a box", len(faces))
	}
	for i, f := range faces {
		if len(f) != 4 {
			t.Errorf("face %d has %d vertices, want 4", i, len(f))
		}
	}
}

func TestBuildUnitBoxCentroidAtOrigin(t *testing.T) {
	m := Build(unitBoxPlanes())
	c := m.Centroid()
	for i := 0; i < 3; i++ {
		if math.Abs(float64(c[i])) > 1e-2 {
			t.Fatalf("Centroid = %+v, want ~origin", c)
		}
	}
}

func TestBuildUnitBoxVertexBounds(t *testing.T) {
	m := Build(unitBoxPlanes())
	box := geom.EmptyBox()
	for _, v := range m.Verts {
		if v.Visible {
			box.Extend(v.Pos)
		}
	}
	want := geom.Box{Min: geom.Vec3{-1, -1, -1}, Max: geom.Vec3{1, 1, 1}}
	for i := 0; i < 3; i++ {
		if math.Abs(float64(box.Min[i]-want.Min[i])) > 1e-2 || math.Abs(float64(box.Max[i]-want.Max[i])) > 1e-2 {
			t.Fatalf("vertex bounds = %+v, want %+v", box, want)
		}
	}
}

// TestBuildSinglePlaneHalvesTheUniverse exercises Build with just one
// cutting plane: the result should still be the unbounded huge cube with
// one face replaced by the cut, not a degenerate mesh.
func TestBuildSinglePlaneHalvesTheUniverse(t *testing.T) {
	m := Build([]geom.Plane{{Normal: geom.Vec3{0, 0, 1}, Dist: 0}})
	faces := m.VisibleFaces()
	if len(faces) != 6 {
		t.Fatalf("got %d visible faces after one cut, want 6 (five original + the new cap replacing one)", len(faces))
	}
	for _, f := range faces {
		for _, p := range f {
			if p[2] > geom.Epsilon {
				t.Fatalf("vertex %+v lies outside the half-space Z<=0", p)
			}
		}
	}
}

func TestBuildEmptyPlaneListIsTheHugeCube(t *testing.T) {
	m := Build(nil)
	faces := m.VisibleFaces()
	if len(faces) != 6 {
		t.Fatalf("got %d visible faces, want 6 for the unclipped cube", len(faces))
	}
}
