package modeledit

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/bspedit/bspedit/bspfile"
	"github.com/bspedit/bspedit/entities"
	"github.com/bspedit/bspedit/env"
	"github.com/bspedit/bspedit/geom"
)

// buildStore mirrors the lightmap/texstore test convention: assemble a
// minimal valid BSP v30 byte stream and load it through bspfile.Load.
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

func floatEq(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-3 }

func vecEq(a, b [3]float32) bool {
	return floatEq(a[0], b[0]) && floatEq(a[1], b[1]) && floatEq(a[2], b[2])
}

// buildEmptyWorld returns a store with an empty worldspawn model 0 and a
// basic entity list, the minimum Load needs to succeed.
func buildEmptyWorld(t *testing.T, entityText string) *bspfile.LumpStore {
	t.Helper()
	// HeadNode = -1 everywhere means "points at leaf/content 0", the
	// shared solid boilerplate walkNode/walkClip special-case without
	// needing any Nodes/Leaves/ClipNodes records to back it.
	models := []bspfile.Model{
		{HeadNode: [4]int32{-1, -1, -1, -1}},
	}
	// CreateSolid's faces all reference texinfo slot 0; seed one record so
	// UniqueTexInfo (called by Move) has something to index/copy.
	texinfos := []bspfile.TexInfo{
		{S: [3]float32{1, 0, 0}, T: [3]float32{0, 1, 0}, MiptexID: 0},
	}
	return buildStore(t, map[int][]byte{
		bspfile.LumpModels:   encode(t, models),
		bspfile.LumpTexInfo:  encode(t, texinfos),
		bspfile.LumpEntities: []byte(entityText),
	})
}

func TestMoveIsOwnInverse(t *testing.T) {
	s := buildEmptyWorld(t, `{"classname" "worldspawn"}`)
	modelIdx, err := CreateSolid(s, geom.Box{Min: geom.Vec3{0, 0, 0}, Max: geom.Vec3{64, 64, 64}}, 0)
	if err != nil {
		t.Fatalf("CreateSolid: %v", err)
	}

	before, err := s.Vertices()
	if err != nil {
		t.Fatalf("Vertices: %v", err)
	}
	beforeCopy := append([]bspfile.Vertex(nil), before...)

	modelsBefore, err := s.Models()
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	originBefore := modelsBefore[modelIdx].Origin

	delta := geom.Vec3{100, -50, 25}
	if err := Move(s, modelIdx, delta); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if err := Move(s, modelIdx, delta.Mul(-1)); err != nil {
		t.Fatalf("Move (inverse): %v", err)
	}

	after, err := s.Vertices()
	if err != nil {
		t.Fatalf("Vertices: %v", err)
	}
	if len(after) < len(beforeCopy) {
		t.Fatalf("got %d vertices after round trip, want at least %d", len(after), len(beforeCopy))
	}
	for i, v := range beforeCopy {
		if !vecEq(after[i].Point, v.Point) {
			t.Fatalf("vertex %d = %+v after move+inverse-move, want %+v", i, after[i].Point, v.Point)
		}
	}

	modelsAfter, err := s.Models()
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if !vecEq(modelsAfter[modelIdx].Origin, originBefore) {
		t.Fatalf("Origin = %+v after move+inverse-move, want %+v", modelsAfter[modelIdx].Origin, originBefore)
	}
}

func TestMoveUpdatesModelBounds(t *testing.T) {
	s := buildEmptyWorld(t, `{"classname" "worldspawn"}`)
	modelIdx, err := CreateSolid(s, geom.Box{Min: geom.Vec3{0, 0, 0}, Max: geom.Vec3{32, 32, 32}}, 0)
	if err != nil {
		t.Fatalf("CreateSolid: %v", err)
	}

	delta := geom.Vec3{16, 0, 0}
	if err := Move(s, modelIdx, delta); err != nil {
		t.Fatalf("Move: %v", err)
	}

	models, err := s.Models()
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	want := [3]float32{16, 0, 0}
	if !vecEq(models[modelIdx].Mins, want) {
		t.Fatalf("Mins = %+v, want %+v", models[modelIdx].Mins, want)
	}
}

// TestMoveModel0ShiftsEntityOrigins is the regression test for the review
// comment: moving worldspawn must shift every entity's origin/spawnorigin
// keyvalue, since model 0 has no Model.Origin of its own to carry delta.
func TestMoveModel0ShiftsEntityOrigins(t *testing.T) {
	text := `{
"classname" "worldspawn"
}
{
"classname" "info_player_start"
"origin" "10 20 30"
}
{
"classname" "monster_generic"
"origin" "0 0 0"
"spawnorigin" "1 1 1"
}`
	s := buildEmptyWorld(t, text)

	delta := geom.Vec3{5, -5, 10}
	if err := Move(s, 0, delta); err != nil {
		t.Fatalf("Move(model 0): %v", err)
	}

	table, errs := entities.Parse(s.EntitiesText())
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	var player, monster *entities.Entity
	for _, e := range table.Entities {
		switch e.Classname() {
		case "info_player_start":
			player = e
		case "monster_generic":
			monster = e
		}
	}
	if player == nil || monster == nil {
		t.Fatal("expected both non-worldspawn entities to survive")
	}
	if got := player.GetOrigin(); got != [3]float64{15, 15, 40} {
		t.Fatalf("info_player_start origin = %+v, want {15,15,40}", got)
	}
	if got := monster.GetOrigin(); got != [3]float64{5, -5, 10} {
		t.Fatalf("monster_generic origin = %+v, want {5,-5,10}", got)
	}
	spawn, ok := monster.GetVectorKey("spawnorigin")
	if !ok || spawn != [3]float64{6, -4, 11} {
		t.Fatalf("monster_generic spawnorigin = (%+v,%v), want ({6,-4,11},true)", spawn, ok)
	}
}

// TestMoveSplitsSharedGeometry is the regression test for the review
// comment: Move must duplicate any plane/vertex modelIdx shares with
// another model rather than silently skipping it, so the other model's
// geometry is never dragged along or left dangling.
func TestMoveSplitsSharedGeometry(t *testing.T) {
	// Two models whose hull-0 root node references the *same* plane
	// record, simulating a brush plane shared by two submodels.
	planes := []bspfile.Plane{
		{Normal: [3]float32{0, 0, 1}, Distance: 0},
	}
	verts := []bspfile.Vertex{
		{Point: [3]float32{0, 0, 0}},
		{Point: [3]float32{10, 0, 0}},
	}
	nodesA := []bspfile.Node{
		{PlaneIndex: 0, Children: [2]int16{^int16(0), ^int16(0)}, FirstFace: 0, NumFaces: 0},
	}
	nodesB := []bspfile.Node{
		{PlaneIndex: 0, Children: [2]int16{^int16(0), ^int16(0)}, FirstFace: 0, NumFaces: 0},
	}
	nodes := append(nodesA, nodesB...)
	models := []bspfile.Model{
		{HeadNode: [4]int32{-1, -1, -1, -1}}, // world: empty tree
		{HeadNode: [4]int32{0, -1, -1, -1}},
		{HeadNode: [4]int32{1, -1, -1, -1}},
	}

	s := buildStore(t, map[int][]byte{
		bspfile.LumpPlanes:   encode(t, planes),
		bspfile.LumpVertices: encode(t, verts),
		bspfile.LumpNodes:    encode(t, nodes),
		bspfile.LumpModels:   encode(t, models),
		bspfile.LumpEntities: []byte(`{"classname" "worldspawn"}`),
	})

	if err := Move(s, 1, geom.Vec3{0, 0, 5}); err != nil {
		t.Fatalf("Move: %v", err)
	}

	planesAfter, err := s.Planes()
	if err != nil {
		t.Fatalf("Planes: %v", err)
	}
	if len(planesAfter) != 2 {
		t.Fatalf("got %d planes, want 2 (shared plane split into an exclusive copy)", len(planesAfter))
	}

	nodesAfter, err := s.Nodes()
	if err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	if nodesAfter[0].PlaneIndex == nodesAfter[1].PlaneIndex {
		t.Fatal("model 1's node still shares a plane index with model 2's node after Move")
	}
	// Model 2's plane (never moved) must be unchanged.
	if planesAfter[nodesAfter[1].PlaneIndex].Distance != 0 {
		t.Fatalf("model 2's plane distance = %v, want 0 (untouched)", planesAfter[nodesAfter[1].PlaneIndex].Distance)
	}
}

func TestDuplicateLeavesOriginalUntouched(t *testing.T) {
	s := buildEmptyWorld(t, `{"classname" "worldspawn"}`)
	modelIdx, err := CreateSolid(s, geom.Box{Min: geom.Vec3{0, 0, 0}, Max: geom.Vec3{16, 16, 16}}, 0)
	if err != nil {
		t.Fatalf("CreateSolid: %v", err)
	}
	facesBefore, _ := s.Faces()
	numFacesBefore := len(facesBefore)

	newIdx, err := Duplicate(s, modelIdx)
	if err != nil {
		t.Fatalf("Duplicate: %v", err)
	}
	if newIdx == modelIdx {
		t.Fatal("Duplicate returned the same model index")
	}

	models, err := s.Models()
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if models[modelIdx].HeadNode[0] == models[newIdx].HeadNode[0] {
		t.Fatal("duplicate shares modelIdx's head node instead of getting its own")
	}

	facesAfter, _ := s.Faces()
	if len(facesAfter) <= numFacesBefore {
		t.Fatalf("got %d faces after Duplicate, want more than %d", len(facesAfter), numFacesBefore)
	}
}

func TestDeleteRejectsWorldspawn(t *testing.T) {
	s := buildEmptyWorld(t, `{"classname" "worldspawn"}`)
	if err := Delete(s, 0); err == nil {
		t.Fatal("expected an error deleting model 0")
	}
}

func TestDeleteRemovesModel(t *testing.T) {
	s := buildEmptyWorld(t, `{"classname" "worldspawn"}`)
	idx, err := CreateSolid(s, geom.Box{Min: geom.Vec3{0, 0, 0}, Max: geom.Vec3{8, 8, 8}}, 0)
	if err != nil {
		t.Fatalf("CreateSolid: %v", err)
	}
	before, _ := s.Models()
	n := len(before)

	if err := Delete(s, idx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	after, err := s.Models()
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(after) != n-1 {
		t.Fatalf("got %d models, want %d", len(after), n-1)
	}
}

func TestRegenerateClipnodesBuildsAllThreeHulls(t *testing.T) {
	s := buildEmptyWorld(t, `{"classname" "worldspawn"}`)
	idx, err := CreateSolid(s, geom.Box{Min: geom.Vec3{0, 0, 0}, Max: geom.Vec3{32, 32, 32}}, 0)
	if err != nil {
		t.Fatalf("CreateSolid: %v", err)
	}
	e := env.New()
	if err := RegenerateClipnodes(s, idx, e); err != nil {
		t.Fatalf("RegenerateClipnodes: %v", err)
	}
	models, err := s.Models()
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	for h := 1; h <= 3; h++ {
		if models[idx].HeadNode[h] < 0 {
			t.Fatalf("hull %d head node = %d, want >= 0", h, models[idx].HeadNode[h])
		}
	}
	if models[idx].HeadNode[1] == models[idx].HeadNode[2] {
		t.Fatal("hull 1 and hull 2 share a head node; expected independently built hulls")
	}
}

func TestGetSeparationPlaneAndMerge(t *testing.T) {
	s := buildEmptyWorld(t, `{"classname" "worldspawn"}`)
	a, err := CreateSolid(s, geom.Box{Min: geom.Vec3{0, 0, 0}, Max: geom.Vec3{16, 16, 16}}, 0)
	if err != nil {
		t.Fatalf("CreateSolid a: %v", err)
	}
	b, err := CreateSolid(s, geom.Box{Min: geom.Vec3{100, 0, 0}, Max: geom.Vec3{116, 16, 16}}, 0)
	if err != nil {
		t.Fatalf("CreateSolid b: %v", err)
	}

	if _, err := GetSeparationPlane(s, a, b); err != nil {
		t.Fatalf("GetSeparationPlane: %v", err)
	}

	merged, err := Merge(s, a, b)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	models, err := s.Models()
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models after Merge, want 2 (world + merged)", len(models))
	}
	box := geom.Box{
		Min: geom.Vec3{models[merged].Mins[0], models[merged].Mins[1], models[merged].Mins[2]},
		Max: geom.Vec3{models[merged].Maxs[0], models[merged].Maxs[1], models[merged].Maxs[2]},
	}
	want := geom.Box{Min: geom.Vec3{0, 0, 0}, Max: geom.Vec3{116, 16, 16}}
	if box != want {
		t.Fatalf("merged bounds = %+v, want %+v", box, want)
	}
}
