package lightmap

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/bspedit/bspedit/bspfile"
	"github.com/bspedit/bspedit/env"
	"github.com/bspedit/bspedit/geom"
)

// buildStore constructs a minimal valid BSP v30 byte stream with every
// lump empty except the ones given in lumps, then loads it through the
// real bspfile.Load path so tests exercise the same decode logic the
// editor does.
func buildStore(t *testing.T, lumps map[int][]byte) *bspfile.LumpStore {
	t.Helper()
	const headerSize = 4 + bspfile.NumLumps*8

	bodies := make([][]byte, bspfile.NumLumps)
	for i := range bodies {
		bodies[i] = lumps[i]
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, int32(bspfile.BSPVersion))
	offset := int32(headerSize)
	for _, b := range bodies {
		binary.Write(&buf, binary.LittleEndian, offset)
		binary.Write(&buf, binary.LittleEndian, int32(len(b)))
		offset += int32(len(b))
	}
	for _, b := range bodies {
		buf.Write(b)
	}

	s, err := bspfile.Load(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	return s
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestAtlasInsertDoesNotOverlap(t *testing.T) {
	a := newAtlas(0, 64)
	type placed struct{ x, y, w, h int32 }
	var all []placed

	overlaps := func(p placed, x, y, w, h int32) bool {
		return x < p.x+p.w && x+w > p.x && y < p.y+p.h && y+h > p.y
	}

	sizes := [][2]int32{{8, 8}, {16, 8}, {8, 16}, {32, 32}, {4, 4}}
	for _, sz := range sizes {
		x, y, ok := a.Insert(sz[0], sz[1])
		if !ok {
			t.Fatalf("Insert(%d,%d) failed on an empty 64x64 atlas", sz[0], sz[1])
		}
		for _, p := range all {
			if overlaps(p, x, y, sz[0], sz[1]) {
				t.Fatalf("rect at (%d,%d %dx%d) overlaps existing rect %+v", x, y, sz[0], sz[1], p)
			}
		}
		all = append(all, placed{x, y, sz[0], sz[1]})
	}
}

func TestPackerOpensNewAtlasWhenFull(t *testing.T) {
	e := env.New()
	e.Limits.AtlasSize = 32
	e.Limits.AtlasZone = 0
	p := NewPacker(e)

	if _, _, _, err := p.Pack(32, 32); err != nil {
		t.Fatalf("first Pack: %v", err)
	}
	if p.NumAtlases() != 1 {
		t.Fatalf("NumAtlases = %d, want 1", p.NumAtlases())
	}

	if _, _, _, err := p.Pack(32, 32); err != nil {
		t.Fatalf("second Pack: %v", err)
	}
	if p.NumAtlases() != 2 {
		t.Fatalf("NumAtlases = %d, want 2 after the first atlas filled up", p.NumAtlases())
	}
}

func TestPackRejectsOversizedRect(t *testing.T) {
	e := env.New()
	e.Limits.AtlasSize = 32
	e.Limits.AtlasZone = 4
	p := NewPacker(e)
	if _, _, _, err := p.Pack(30, 30); err == nil {
		t.Fatal("expected a zone-padded rect larger than the atlas to be rejected")
	}
}

func TestFaceExtentUnitQuad(t *testing.T) {
	limits := env.DefaultLimits()
	ti := bspfile.TexInfo{
		S: [3]float32{1, 0, 0},
		T: [3]float32{0, 1, 0},
	}
	pts := []geom.Vec3{{0, 0, 0}, {32, 0, 0}, {32, 32, 0}, {0, 32, 0}}
	lw, lh, mins, err := faceExtent(pts, ti, limits)
	if err != nil {
		t.Fatalf("faceExtent: %v", err)
	}
	// 32 world units / 16 units-per-luxel = 2 luxels span, +1 per the
	// inclusive luxel-boundary rule used by the compile tools.
	if lw != 3 || lh != 3 {
		t.Fatalf("got %dx%d luxels, want 3x3", lw, lh)
	}
	if mins[0] != 0 || mins[1] != 0 {
		t.Fatalf("got mins %+v, want (0,0)", mins)
	}
}

func TestPackAllSingleFace(t *testing.T) {
	planes := []bspfile.Plane{{Normal: [3]float32{0, 0, 1}, Distance: 0, Type: bspfile.PlaneZ}}
	verts := []bspfile.Vertex{
		{Point: [3]float32{0, 0, 0}},
		{Point: [3]float32{32, 0, 0}},
		{Point: [3]float32{32, 32, 0}},
		{Point: [3]float32{0, 32, 0}},
	}
	edges := []bspfile.Edge{
		{V: [2]uint16{0, 0}}, // edge 0 reserved
		{V: [2]uint16{0, 1}},
		{V: [2]uint16{1, 2}},
		{V: [2]uint16{2, 3}},
		{V: [2]uint16{3, 0}},
	}
	surfedges := []bspfile.Surfedge{1, 2, 3, 4}
	texinfos := []bspfile.TexInfo{{S: [3]float32{1, 0, 0}, T: [3]float32{0, 1, 0}}}
	faces := []bspfile.Face{
		{PlaneIndex: 0, FirstSurfedge: 0, NumSurfedges: 4, TexInfoIndex: 0, Styles: [4]uint8{0, 0xFF, 0xFF, 0xFF}},
	}

	s := buildStore(t, map[int][]byte{
		bspfile.LumpPlanes:    encode(t, planes),
		bspfile.LumpVertices:  encode(t, verts),
		bspfile.LumpEdges:     encode(t, edges),
		bspfile.LumpSurfedges: encode(t, surfedges),
		bspfile.LumpTexInfo:   encode(t, texinfos),
		bspfile.LumpFaces:     encode(t, faces),
	})

	e := env.New()
	results, err := PackAll(s, e)
	if err != nil {
		t.Fatalf("PackAll: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.LuxelW != 3 || r.LuxelH != 3 {
		t.Fatalf("got %dx%d luxels, want 3x3", r.LuxelW, r.LuxelH)
	}

	gotFaces, err := s.Faces()
	if err != nil {
		t.Fatalf("Faces: %v", err)
	}
	if gotFaces[0].LightmapOff != 0 {
		t.Fatalf("LightmapOff = %d, want 0", gotFaces[0].LightmapOff)
	}
	if len(s.Lighting()) != 3*3*3 {
		t.Fatalf("Lighting len = %d, want %d", len(s.Lighting()), 3*3*3)
	}
}

func TestPackAllSkipsSpecialFaces(t *testing.T) {
	planes := []bspfile.Plane{{Normal: [3]float32{0, 0, 1}, Type: bspfile.PlaneZ}}
	verts := []bspfile.Vertex{{Point: [3]float32{0, 0, 0}}, {Point: [3]float32{16, 0, 0}}, {Point: [3]float32{16, 16, 0}}}
	edges := []bspfile.Edge{{V: [2]uint16{0, 0}}, {V: [2]uint16{0, 1}}, {V: [2]uint16{1, 2}}, {V: [2]uint16{2, 0}}}
	surfedges := []bspfile.Surfedge{1, 2, 3}
	texinfos := []bspfile.TexInfo{{Flags: bspfile.TexInfoFlagSpecial}}
	faces := []bspfile.Face{{PlaneIndex: 0, FirstSurfedge: 0, NumSurfedges: 3, TexInfoIndex: 0}}

	s := buildStore(t, map[int][]byte{
		bspfile.LumpPlanes:    encode(t, planes),
		bspfile.LumpVertices:  encode(t, verts),
		bspfile.LumpEdges:     encode(t, edges),
		bspfile.LumpSurfedges: encode(t, surfedges),
		bspfile.LumpTexInfo:   encode(t, texinfos),
		bspfile.LumpFaces:     encode(t, faces),
	})

	e := env.New()
	results, err := PackAll(s, e)
	if err != nil {
		t.Fatalf("PackAll: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results, want 0 for a sky/no-lightmap face", len(results))
	}
	gotFaces, _ := s.Faces()
	if gotFaces[0].LightmapOff != bspfile.NoLightmapOffset {
		t.Fatalf("LightmapOff = %d, want %d", gotFaces[0].LightmapOff, bspfile.NoLightmapOffset)
	}
}
