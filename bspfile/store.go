package bspfile

import (
	"fmt"
	"io"
)

// LumpStore owns the 15 raw byte buffers of a loaded BSP file, plus the
// header version. It is the sole owner of lump bytes (spec.md Sec3,
// "Lifecycles & ownership"); everything else in this module holds
// non-owning typed views derived from these buffers.
//
// Mutation is always copy-then-replace: Replace/Append install an entirely
// new byte block for one lump and invalidate that lump's cached typed view.
// No lump is ever mutated in place, matching spec.md Sec5's one-shot
// allocation-per-replace resource discipline.
type LumpStore struct {
	raw   [NumLumps][]byte
	cache [NumLumps]any
}

// Load reads the header and copies each lump's bytes out of r. Mirrors the
// teacher's LoadQ2BSP: read header, then io.NewSectionReader+binary.Read
// per lump, generalized to a raw-byte-copy-first, decode-on-demand model so
// the variable-length Entities/Textures/Visibility lumps don't need a
// format-specific loader at this layer.
func Load(r io.ReaderAt) (*LumpStore, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	s := &LumpStore{}
	for i := 0; i < NumLumps; i++ {
		dir := h.Dirs[i]
		if dir.Length < 0 || dir.Offset < 0 {
			return nil, fmt.Errorf("%w: lump %d has negative offset/length", ErrBadHeader, i)
		}
		buf := make([]byte, dir.Length)
		sec := io.NewSectionReader(r, int64(dir.Offset), int64(dir.Length))
		if _, err := io.ReadFull(sec, buf); err != nil {
			return nil, fmt.Errorf("%w: lump %d: %v", ErrTruncatedLump, i, err)
		}
		s.raw[i] = buf
	}
	return s, nil
}

// Save assigns offsets sequentially after the 124-byte header using each
// lump's current length, then writes header + lumps in lump-index order.
// If no edits were performed the output equals the input bytes only when
// the input already stored its lumps back to back in lump-index order
// directly after the header; the input's own lump offsets, lump order and
// any padding between lumps are not preserved.
func (s *LumpStore) Save(w io.Writer) error {
	h := Header{Version: BSPVersion}
	offset := int32(HeaderSize)
	for i := 0; i < NumLumps; i++ {
		h.Dirs[i] = LumpDir{Offset: offset, Length: int32(len(s.raw[i]))}
		offset += int32(len(s.raw[i]))
	}
	if err := writeHeader(w, h); err != nil {
		return err
	}
	for i := 0; i < NumLumps; i++ {
		if _, err := w.Write(s.raw[i]); err != nil {
			return fmt.Errorf("writing lump %d: %w", i, err)
		}
	}
	return nil
}

// Raw returns the current bytes of a lump (non-owning: callers must not
// mutate the returned slice).
func (s *LumpStore) Raw(lump int) []byte {
	return s.raw[lump]
}

// Replace fully substitutes a lump's bytes. Invalidates the cached typed
// view. Atomic: either the whole block lands or (on a later decode error)
// the store is left holding invalid data for that lump only -- callers
// performing multi-lump edits use DuplicateLumps/ReplaceLumps for atomicity
// across lumps.
func (s *LumpStore) Replace(lump int, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.raw[lump] = cp
	s.cache[lump] = nil
}

// Append adds data to the end of a lump and returns the byte offset it was
// written at (used by callers appending fixed-size records who need the
// resulting record index, i.e. offset/recordSize).
func (s *LumpStore) Append(lump int, data []byte) int {
	off := len(s.raw[lump])
	s.raw[lump] = append(s.raw[lump], data...)
	s.cache[lump] = nil
	return off
}

// Snapshot is an owned copy of a subset of lumps, returned by
// DuplicateLumps and consumed by ReplaceLumps -- the undo/rollback unit
// named in spec.md Sec5.
type Snapshot struct {
	mask int
	data [NumLumps][]byte
}

// DuplicateLumps copies the lumps selected by mask (bit i == lump i) into
// an owned snapshot the caller can later feed to ReplaceLumps.
func (s *LumpStore) DuplicateLumps(mask int) Snapshot {
	snap := Snapshot{mask: mask}
	for i := 0; i < NumLumps; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		cp := make([]byte, len(s.raw[i]))
		copy(cp, s.raw[i])
		snap.data[i] = cp
	}
	return snap
}

// ReplaceLumps restores every lump selected by the snapshot's mask,
// invalidating their cached typed views.
func (s *LumpStore) ReplaceLumps(snap Snapshot) {
	for i := 0; i < NumLumps; i++ {
		if snap.mask&(1<<i) == 0 {
			continue
		}
		s.raw[i] = snap.data[i]
		s.cache[i] = nil
	}
}

// WithRollback captures a snapshot of lumps in mask, runs fn, and restores
// the snapshot if fn returns an error -- the "scoped acquisition pattern"
// called for by spec.md Sec5 for any function that must leave the file
// consistent on failure.
func (s *LumpStore) WithRollback(mask int, fn func() error) error {
	snap := s.DuplicateLumps(mask)
	if err := fn(); err != nil {
		s.ReplaceLumps(snap)
		return err
	}
	return nil
}

func getCached[T any](s *LumpStore, lump int) ([]T, error) {
	if c := s.cache[lump]; c != nil {
		return c.([]T), nil
	}
	recs, err := decodeRecords[T](s.raw[lump], recordSize(lump))
	if err != nil {
		return nil, err
	}
	s.cache[lump] = recs
	return recs, nil
}

// Planes decodes the Planes lump (cached until the next Replace/Append on
// lump index LumpPlanes).
func (s *LumpStore) Planes() ([]Plane, error) { return getCached[Plane](s, LumpPlanes) }

// Vertices decodes the Vertices lump.
func (s *LumpStore) Vertices() ([]Vertex, error) { return getCached[Vertex](s, LumpVertices) }

// Edges decodes the Edges lump.
func (s *LumpStore) Edges() ([]Edge, error) { return getCached[Edge](s, LumpEdges) }

// Surfedges decodes the Surfedges lump.
func (s *LumpStore) Surfedges() ([]Surfedge, error) {
	return getCached[Surfedge](s, LumpSurfedges)
}

// TexInfos decodes the TexInfo lump.
func (s *LumpStore) TexInfos() ([]TexInfo, error) { return getCached[TexInfo](s, LumpTexInfo) }

// Faces decodes the Faces lump.
func (s *LumpStore) Faces() ([]Face, error) { return getCached[Face](s, LumpFaces) }

// Nodes decodes the Nodes lump.
func (s *LumpStore) Nodes() ([]Node, error) { return getCached[Node](s, LumpNodes) }

// ClipNodes decodes the ClipNodes lump.
func (s *LumpStore) ClipNodes() ([]ClipNode, error) { return getCached[ClipNode](s, LumpClipNodes) }

// Leaves decodes the Leaves lump.
func (s *LumpStore) Leaves() ([]Leaf, error) { return getCached[Leaf](s, LumpLeaves) }

// MarkSurfaces decodes the MarkSurfaces lump.
func (s *LumpStore) MarkSurfaces() ([]MarkSurf, error) {
	return getCached[MarkSurf](s, LumpMarkSurfaces)
}

// Models decodes the Models lump.
func (s *LumpStore) Models() ([]Model, error) { return getCached[Model](s, LumpModels) }

// Lighting returns the raw RGB24 lighting bytes (variable-length, no
// record decode needed).
func (s *LumpStore) Lighting() []byte { return s.raw[LumpLighting] }

// Visibility returns the raw compressed PVS bytes.
func (s *LumpStore) Visibility() []byte { return s.raw[LumpVisibility] }

// EntitiesText returns the raw entity-block ASCII text.
func (s *LumpStore) EntitiesText() []byte { return s.raw[LumpEntities] }

// Textures returns the raw texture-header-block bytes.
func (s *LumpStore) Textures() []byte { return s.raw[LumpTextures] }

// ReplacePlanes re-encodes and installs a new Planes lump.
func (s *LumpStore) ReplacePlanes(v []Plane) { s.Replace(LumpPlanes, encodeRecords(v)) }

// ReplaceVertices re-encodes and installs a new Vertices lump.
func (s *LumpStore) ReplaceVertices(v []Vertex) { s.Replace(LumpVertices, encodeRecords(v)) }

// ReplaceEdges re-encodes and installs a new Edges lump.
func (s *LumpStore) ReplaceEdges(v []Edge) { s.Replace(LumpEdges, encodeRecords(v)) }

// ReplaceSurfedges re-encodes and installs a new Surfedges lump.
func (s *LumpStore) ReplaceSurfedges(v []Surfedge) { s.Replace(LumpSurfedges, encodeRecords(v)) }

// ReplaceTexInfos re-encodes and installs a new TexInfo lump.
func (s *LumpStore) ReplaceTexInfos(v []TexInfo) { s.Replace(LumpTexInfo, encodeRecords(v)) }

// ReplaceFaces re-encodes and installs a new Faces lump.
func (s *LumpStore) ReplaceFaces(v []Face) { s.Replace(LumpFaces, encodeRecords(v)) }

// ReplaceNodes re-encodes and installs a new Nodes lump.
func (s *LumpStore) ReplaceNodes(v []Node) { s.Replace(LumpNodes, encodeRecords(v)) }

// ReplaceClipNodes re-encodes and installs a new ClipNodes lump.
func (s *LumpStore) ReplaceClipNodes(v []ClipNode) { s.Replace(LumpClipNodes, encodeRecords(v)) }

// ReplaceLeaves re-encodes and installs a new Leaves lump.
func (s *LumpStore) ReplaceLeaves(v []Leaf) { s.Replace(LumpLeaves, encodeRecords(v)) }

// ReplaceMarkSurfaces re-encodes and installs a new MarkSurfaces lump.
func (s *LumpStore) ReplaceMarkSurfaces(v []MarkSurf) {
	s.Replace(LumpMarkSurfaces, encodeRecords(v))
}

// ReplaceModels re-encodes and installs a new Models lump.
func (s *LumpStore) ReplaceModels(v []Model) { s.Replace(LumpModels, encodeRecords(v)) }

// ReplaceLighting installs new raw lighting bytes.
func (s *LumpStore) ReplaceLighting(v []byte) { s.Replace(LumpLighting, v) }

// ReplaceVisibility installs new raw compressed PVS bytes.
func (s *LumpStore) ReplaceVisibility(v []byte) { s.Replace(LumpVisibility, v) }

// ReplaceEntitiesText installs new raw entity-block ASCII text.
func (s *LumpStore) ReplaceEntitiesText(v []byte) { s.Replace(LumpEntities, v) }

// ReplaceTextures installs a new raw texture-header-block.
func (s *LumpStore) ReplaceTextures(v []byte) { s.Replace(LumpTextures, v) }
