package bspfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// LumpDir is the (offset, length) pair stored per lump in the header.
type LumpDir struct {
	Offset int32
	Length int32
}

// Header: int32 version followed by 15 (offset,length) pairs, 124 bytes
// total. Mirrors the teacher's q2file.Header decode via binary.Read, with
// the Half-Life layout (no 4-byte magic, version 30) instead of Quake 2's
// "IBSP" + version 38.
type Header struct {
	Version int32
	Dirs    [NumLumps]LumpDir
}

const HeaderSize = 4 + NumLumps*8

func readHeader(r io.ReaderAt) (Header, error) {
	var h Header
	sec := io.NewSectionReader(r, 0, HeaderSize)
	if err := binary.Read(sec, byteOrder, &h); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if h.Version != BSPVersion {
		return Header{}, fmt.Errorf("%w: version %d, want %d", ErrBadHeader, h.Version, BSPVersion)
	}
	return h, nil
}

func writeHeader(w io.Writer, h Header) error {
	return binary.Write(w, byteOrder, h)
}

func decodeRecords[T any](data []byte, size int) ([]T, error) {
	if size == 0 || len(data)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes not a multiple of record size %d", ErrBadRecordCount, len(data), size)
	}
	count := len(data) / size
	out := make([]T, count)
	r := bytes.NewReader(data)
	for i := 0; i < count; i++ {
		if err := binary.Read(r, byteOrder, &out[i]); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrTruncatedLump, i, err)
		}
	}
	return out, nil
}

func encodeRecords[T any](records []T) []byte {
	buf := &bytes.Buffer{}
	for i := range records {
		// binary.Write on a fixed-layout struct never fails for the
		// record types in this package (no strings/maps/interfaces).
		_ = binary.Write(buf, byteOrder, &records[i])
	}
	return buf.Bytes()
}
