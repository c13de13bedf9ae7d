package vis

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	row := []byte{0xff, 0x00, 0x00, 0x00, 0x3c}
	compressed := Compress(row)
	got := Decompress(compressed, len(row)*8)
	if !bytes.Equal(got, row) {
		t.Fatalf("round trip = %v, want %v", got, row)
	}
}

func TestCompressRunLengthEncodesZeros(t *testing.T) {
	row := []byte{0x01, 0x00, 0x00, 0x02}
	got := Compress(row)
	want := []byte{0x01, 0x00, 0x02, 0x02}
	if !bytes.Equal(got, want) {
		t.Fatalf("Compress = %v, want %v", got, want)
	}
}

func TestCompressSplitsLongRunsAt255(t *testing.T) {
	row := make([]byte, 300)
	got := Compress(row)
	want := []byte{0x00, 255, 0x00, 45}
	if !bytes.Equal(got, want) {
		t.Fatalf("Compress of a 300-byte zero row = %v, want %v", got, want)
	}
}

func TestDecompressStopsAtRowBytes(t *testing.T) {
	src := []byte{0x00, 255, 0x00, 255, 0xff}
	got := Decompress(src, 8) // 1 row byte
	if len(got) != 1 {
		t.Fatalf("got %d bytes, want 1 (ceil(8/8))", len(got))
	}
	if got[0] != 0 {
		t.Fatalf("got %v, want all-zero (the run-length skip should dominate)", got)
	}
}

func TestLeafVisibleAndSetLeafVisible(t *testing.T) {
	row := make([]byte, 2)
	if LeafVisible(row, 5) {
		t.Fatal("expected leaf 5 unset initially")
	}
	SetLeafVisible(row, 5, true)
	if !LeafVisible(row, 5) {
		t.Fatal("expected leaf 5 set after SetLeafVisible(true)")
	}
	SetLeafVisible(row, 5, false)
	if LeafVisible(row, 5) {
		t.Fatal("expected leaf 5 cleared after SetLeafVisible(false)")
	}
}

func TestLeafVisibleOutOfRangeIsFalse(t *testing.T) {
	row := make([]byte, 1)
	if LeafVisible(row, 100) {
		t.Fatal("expected an out-of-range leaf index to report not visible")
	}
}

func TestSetLeafVisibleOutOfRangeIsNoop(t *testing.T) {
	row := make([]byte, 1)
	SetLeafVisible(row, 100, true) // must not panic
	if row[0] != 0 {
		t.Fatal("out-of-range SetLeafVisible should not mutate the row")
	}
}

// TestRemapRowFollowsCompaction is spec.md Sec4.L's consistency
// requirement: a vis row reindexed through a compaction remap must mark
// exactly the leaves the old row marked, under their new indices.
func TestRemapRowFollowsCompaction(t *testing.T) {
	oldRow := make([]byte, 1)
	SetLeafVisible(oldRow, 0, true)
	SetLeafVisible(oldRow, 2, true)
	SetLeafVisible(oldRow, 3, true)

	// leaf 1 was removed; 0->0, 2->1, 3->2.
	oldToNew := []int{0, -1, 1, 2}
	newRow := RemapRow(oldRow, 4, 3, oldToNew)

	if !LeafVisible(newRow, 0) || !LeafVisible(newRow, 1) || !LeafVisible(newRow, 2) {
		t.Fatalf("newRow = %v, want leaves 0,1,2 all visible", newRow)
	}
}

func TestRemapRowDropsRemovedLeaves(t *testing.T) {
	oldRow := make([]byte, 1)
	SetLeafVisible(oldRow, 1, true)
	oldToNew := []int{0, -1}
	newRow := RemapRow(oldRow, 2, 1, oldToNew)
	if LeafVisible(newRow, 0) {
		t.Fatal("a removed leaf's visibility bit must not survive remap")
	}
}
