// Package texstore implements the embedded-texture operations of spec.md
// Sec4.J: decoding/encoding the Textures lump's MIPTEX directory, adding a
// new texture (palette quantization + mip generation), downscaling an
// existing one, and resolving an unembedded texture name against a
// configured WAD search list. There is no teacher analog (the viewer reads
// Quake 2's WAL format, never Half-Life's palette-mip MIPTEX), so the wire
// layout is grounded directly on spec.md Sec3's MIPTEX description; the
// resampling step reuses golang.org/x/image (a dependency of
// g3n-engine/gogpu-gg's texture loaders in the wider corpus) rather than
// hand-rolling a scaler.
package texstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"

	"golang.org/x/image/draw"

	"github.com/bspedit/bspedit/bspfile"
	"github.com/bspedit/bspedit/env"
)

const (
	miptexNameLen = 16
	numMips       = 4
	paletteColors = 256
)

// Palette is a MIPTEX's trailing 256-entry RGB palette.
type Palette [paletteColors][3]byte

// MipTexture is one decoded entry of the Textures lump's MIPTEX directory.
// Embedded==false means only Name/Width/Height are meaningful: the engine
// resolves pixel data from a configured WAD at load time (spec.md Sec3).
type MipTexture struct {
	Name     string
	Width    uint32
	Height   uint32
	Embedded bool
	Mip      [numMips][]byte // palette-index bytes, Mip[0] is Width*Height
	Palette  Palette
}

// ReadAll decodes every MIPTEX entry in the Textures lump.
func ReadAll(s *bspfile.LumpStore) ([]MipTexture, error) {
	data := s.Textures()
	if len(data) < 4 {
		return nil, nil
	}
	numTex := int(le32(data, 0))
	out := make([]MipTexture, 0, numTex)
	for i := 0; i < numTex; i++ {
		offPos := 4 + i*4
		if offPos+4 > len(data) {
			return nil, fmt.Errorf("%w: texture directory entry %d", bspfile.ErrTruncatedLump, i)
		}
		off := int32(le32(data, offPos))
		if off < 0 {
			out = append(out, MipTexture{}) // placeholder; caller rarely hits this
			continue
		}
		tex, err := decodeMiptex(data, int(off))
		if err != nil {
			return nil, fmt.Errorf("texture %d: %w", i, err)
		}
		out = append(out, tex)
	}
	return out, nil
}

func decodeMiptex(data []byte, off int) (MipTexture, error) {
	if off+40 > len(data) {
		return MipTexture{}, bspfile.ErrTruncatedLump
	}
	nameRaw := data[off : off+miptexNameLen]
	n := 0
	for n < miptexNameLen && nameRaw[n] != 0 {
		n++
	}
	tex := MipTexture{
		Name:   string(nameRaw[:n]),
		Width:  le32(data, off+16),
		Height: le32(data, off+20),
	}
	var mipOffsets [4]uint32
	for m := 0; m < 4; m++ {
		mipOffsets[m] = le32(data, off+24+m*4)
	}
	if mipOffsets[0] == 0 {
		return tex, nil // unembedded: resolved externally via ResolveAgainstWads
	}
	tex.Embedded = true
	w, h := int(tex.Width), int(tex.Height)
	for m := 0; m < 4; m++ {
		size := (w >> m) * (h >> m)
		start := off + int(mipOffsets[m])
		if start+size > len(data) {
			return MipTexture{}, fmt.Errorf("%w: mip %d", bspfile.ErrTruncatedLump, m)
		}
		tex.Mip[m] = append([]byte(nil), data[start:start+size]...)
	}
	paletteStart := off + int(mipOffsets[3]) + (w>>3)*(h>>3) + 2 // +2: palette-size uint16
	if paletteStart+paletteColors*3 > len(data) {
		return MipTexture{}, fmt.Errorf("%w: palette", bspfile.ErrTruncatedLump)
	}
	for c := 0; c < paletteColors; c++ {
		copy(tex.Palette[c][:], data[paletteStart+c*3:paletteStart+c*3+3])
	}
	return tex, nil
}

// WriteAll re-encodes every MIPTEX back into a single Textures lump byte
// block and installs it.
func WriteAll(s *bspfile.LumpStore, textures []MipTexture) error {
	var dirOffsets []int32
	var body bytes.Buffer
	headerSize := 4 + 4*len(textures)

	for _, tex := range textures {
		dirOffsets = append(dirOffsets, int32(headerSize+body.Len()))
		if err := encodeMiptex(&body, tex); err != nil {
			return err
		}
	}

	var out bytes.Buffer
	writeLE32(&out, uint32(len(textures)))
	for _, off := range dirOffsets {
		writeLE32(&out, uint32(off))
	}
	out.Write(body.Bytes())

	s.ReplaceTextures(out.Bytes())
	return nil
}

func encodeMiptex(w *bytes.Buffer, tex MipTexture) error {
	var name [miptexNameLen]byte
	copy(name[:], tex.Name)
	w.Write(name[:])
	writeLE32(w, tex.Width)
	writeLE32(w, tex.Height)

	if !tex.Embedded {
		for i := 0; i < 4; i++ {
			writeLE32(w, 0)
		}
		return nil
	}

	base := int32(40) // name(16)+w(4)+h(4)+4*offsets(16) = 40
	offPos := w.Len()
	for i := 0; i < 4; i++ {
		writeLE32(w, 0) // placeholder, patched below
	}
	var mipOffsets [4]uint32
	width, height := int(tex.Width), int(tex.Height)
	for m := 0; m < 4; m++ {
		mipOffsets[m] = uint32(base) + uint32(w.Len()-offPos-16)
		expected := (width >> m) * (height >> m)
		if len(tex.Mip[m]) != expected {
			return fmt.Errorf("%w: texture %q mip %d has %d bytes, want %d", bspfile.ErrBadRecordCount, tex.Name, m, len(tex.Mip[m]), expected)
		}
		w.Write(tex.Mip[m])
	}
	writeLE16(w, paletteColors)
	for _, c := range tex.Palette {
		w.Write(c[:])
	}

	out := w.Bytes()
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(out[offPos+i*4:offPos+i*4+4], mipOffsets[i])
	}
	return nil
}

func le32(b []byte, at int) uint32 {
	return binary.LittleEndian.Uint32(b[at : at+4])
}
func writeLE32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}
func writeLE16(w *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

// Unembed clears a texture's mip/palette data and marks it external,
// shrinking the Textures lump on the next WriteAll -- spec.md Sec4.J
// Unembed, used before distributing a map that relies on a shared WAD.
func (t *MipTexture) Unembed() {
	t.Embedded = false
	for m := range t.Mip {
		t.Mip[m] = nil
	}
	t.Palette = Palette{}
}

// Embed replaces a texture's pixel data, quantizing img down to a 256-
// color palette and generating each of mips 1-3 by 2x box-downsampling
// the level above it (spec.md Sec4.J Embed/AddTexture). img's dimensions must be multiples
// of 16 (id-tech mip-chain requirement); width/height are NOT resized
// here -- callers that need a different size call Downscale afterward.
func (t *MipTexture) Embed(img image.Image) error {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w%16 != 0 || h%16 != 0 {
		return fmt.Errorf("%w: texture dimensions must be multiples of 16", bspfile.ErrBadIndex)
	}

	rgba := toRGBA(img)
	palette, indices := quantizeMedianCut(rgba, paletteColors)

	t.Width = uint32(w)
	t.Height = uint32(h)
	t.Embedded = true
	t.Palette = palette
	t.Mip[0] = indices
	for m := 1; m < numMips; m++ {
		t.Mip[m] = downsamplePaletteIndices(t.Mip[m-1], w>>(m-1), h>>(m-1), palette)
	}
	return nil
}

// AddTexture decodes a fresh texture from img and appends it to textures,
// returning its new index (spec.md Sec4.J AddTexture).
func AddTexture(textures []MipTexture, name string, img image.Image) ([]MipTexture, int, error) {
	tex := MipTexture{Name: name}
	if err := tex.Embed(img); err != nil {
		return nil, 0, err
	}
	textures = append(textures, tex)
	return textures, len(textures) - 1, nil
}

// Downscale resamples an embedded texture to newW x newH using
// draw.CatmullRom (golang.org/x/image/draw), then re-quantizes the
// result to a fresh 256-color palette. newW/newH must be multiples of 16.
func Downscale(t *MipTexture, newW, newH int) error {
	if !t.Embedded {
		return fmt.Errorf("%w: texture %q is not embedded", bspfile.ErrMissingTexture, t.Name)
	}
	if newW%16 != 0 || newH%16 != 0 {
		return fmt.Errorf("%w: texture dimensions must be multiples of 16", bspfile.ErrBadIndex)
	}

	src := paletteIndicesToRGBA(t.Mip[0], int(t.Width), int(t.Height), t.Palette)
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	return t.Embed(dst)
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}

func paletteIndicesToRGBA(indices []byte, w, h int, pal Palette) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, idx := range indices {
		c := pal[idx]
		x, y := i%w, i/w
		out.Set(x, y, color.RGBA{c[0], c[1], c[2], 255})
	}
	return out
}

// downsamplePaletteIndices builds the next mip level by averaging each
// 2x2 block's palette colors and re-resolving the nearest palette entry --
// cheaper than re-quantizing from scratch and keeps every mip level on
// exactly the same 256-color palette, matching the MIPTEX format's single
// shared palette (spec.md Sec3).
func downsamplePaletteIndices(indices []byte, w, h int, pal Palette) []byte {
	nw, nh := w/2, h/2
	out := make([]byte, nw*nh)
	for y := 0; y < nh; y++ {
		for x := 0; x < nw; x++ {
			var rs, gs, bs, n int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					sx, sy := x*2+dx, y*2+dy
					c := pal[indices[sy*w+sx]]
					rs += int(c[0])
					gs += int(c[1])
					bs += int(c[2])
					n++
				}
			}
			avg := [3]byte{byte(rs / n), byte(gs / n), byte(bs / n)}
			out[y*nw+x] = nearestPaletteEntry(pal, avg)
		}
	}
	return out
}

func nearestPaletteEntry(pal Palette, c [3]byte) byte {
	best := 0
	bestDist := -1
	for i, p := range pal {
		dr := int(p[0]) - int(c[0])
		dg := int(p[1]) - int(c[1])
		db := int(p[2]) - int(c[2])
		dist := dr*dr + dg*dg + db*db
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	return byte(best)
}

// quantizeMedianCut builds a maxColors-entry palette via recursive median-
// cut bucketing on the RGB cube and returns the per-pixel index buffer.
// golang.org/x/image/draw supplies resampling but not palette generation
// (its Draw only dithers onto an already-fixed color.Palette), so this one
// piece is hand-rolled -- see DESIGN.md.
func quantizeMedianCut(img *image.RGBA, maxColors int) (Palette, []byte) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	type pixel = struct{ r, g, b uint8 }
	pixels := make([]pixel, 0, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.RGBAAt(b.Min.X+x, b.Min.Y+y)
			pixels = append(pixels, pixel{c.R, c.G, c.B})
		}
	}
	// The splits below sort pixels in place; keep image order for the result.
	orig := append([]pixel(nil), pixels...)

	type bucket struct{ lo, hi int }
	buckets := []bucket{{0, len(pixels)}}

	widest := func(lo, hi int) int {
		var minC, maxC [3]int
		minC = [3]int{255, 255, 255}
		for i := lo; i < hi; i++ {
			p := pixels[i]
			v := [3]int{int(p.r), int(p.g), int(p.b)}
			for c := 0; c < 3; c++ {
				if v[c] < minC[c] {
					minC[c] = v[c]
				}
				if v[c] > maxC[c] {
					maxC[c] = v[c]
				}
			}
		}
		axis, spread := 0, -1
		for c := 0; c < 3; c++ {
			if maxC[c]-minC[c] > spread {
				spread = maxC[c] - minC[c]
				axis = c
			}
		}
		return axis
	}

	channel := func(p pixel, axis int) uint8 {
		switch axis {
		case 0:
			return p.r
		case 1:
			return p.g
		default:
			return p.b
		}
	}

	for len(buckets) < maxColors {
		// Split the largest bucket by population along its widest axis.
		splitIdx, splitSize := -1, 0
		for i, bk := range buckets {
			if bk.hi-bk.lo > splitSize {
				splitSize = bk.hi - bk.lo
				splitIdx = i
			}
		}
		if splitIdx < 0 || splitSize <= 1 {
			break
		}
		bk := buckets[splitIdx]
		axis := widest(bk.lo, bk.hi)
		sortPixelsByChannel(pixels[bk.lo:bk.hi], axis, channel)
		mid := bk.lo + (bk.hi-bk.lo)/2
		buckets[splitIdx] = bucket{bk.lo, mid}
		buckets = append(buckets, bucket{mid, bk.hi})
	}

	var pal Palette
	colorIdx := make(map[pixel]byte, len(buckets))
	for i, bk := range buckets {
		var rs, gs, bs, n int
		for j := bk.lo; j < bk.hi; j++ {
			p := pixels[j]
			rs += int(p.r)
			gs += int(p.g)
			bs += int(p.b)
			n++
		}
		if n == 0 {
			continue
		}
		pal[i] = [3]byte{byte(rs / n), byte(gs / n), byte(bs / n)}
		for j := bk.lo; j < bk.hi; j++ {
			colorIdx[pixels[j]] = byte(i)
		}
	}
	assign := make([]byte, len(orig))
	for k, p := range orig {
		assign[k] = colorIdx[p]
	}
	return pal, assign
}

func sortPixelsByChannel(px []struct{ r, g, b uint8 }, axis int, channel func(struct{ r, g, b uint8 }, int) uint8) {
	// Insertion sort: bucket sizes stay small (<=256 after a few splits),
	// and this runs once per AddTexture/Downscale call, not per frame.
	for i := 1; i < len(px); i++ {
		v := px[i]
		j := i - 1
		for j >= 0 && channel(px[j], axis) > channel(v, axis) {
			px[j+1] = px[j]
			j--
		}
		px[j+1] = v
	}
}

// ResolveAgainstWads searches e.Wads in order for a WAD3 lump named name,
// returning the first match's raw MIPTEX bytes (spec.md Sec4.J
// ResolveAgainstWads / SUPPLEMENTED "WAD directory merge"). The first WAD
// in the search list wins on a name collision.
func ResolveAgainstWads(e *env.Environment, name string) ([]byte, string, error) {
	want := strings.ToUpper(strings.TrimRight(name, "\x00"))
	for _, wadPath := range e.Wads {
		data, err := os.ReadFile(wadPath)
		if err != nil {
			continue
		}
		lump, err := findWadLump(data, want)
		if err != nil || lump == nil {
			continue
		}
		return lump, wadPath, nil
	}
	return nil, "", fmt.Errorf("%w: %q not found in any of %d configured wads", bspfile.ErrMissingTexture, name, len(e.Wads))
}

// findWadLump reads a WAD3 directory (header "WAD3", lump count, dir
// offset; each entry offset/disksize/size/type/compression/pad/name[16])
// and returns the named lump's raw bytes.
func findWadLump(data []byte, name string) ([]byte, error) {
	if len(data) < 12 || string(data[0:4]) != "WAD3" {
		return nil, fmt.Errorf("%w: not a WAD3 file", bspfile.ErrMissingWad)
	}
	numLumps := int(le32(data, 4))
	dirOffset := int(le32(data, 8))
	const entrySize = 32
	for i := 0; i < numLumps; i++ {
		entryOff := dirOffset + i*entrySize
		if entryOff+entrySize > len(data) {
			break
		}
		nameRaw := data[entryOff+16 : entryOff+32]
		n := 0
		for n < 16 && nameRaw[n] != 0 {
			n++
		}
		entryName := strings.ToUpper(string(nameRaw[:n]))
		if entryName != name {
			continue
		}
		off := int(le32(data, entryOff))
		size := int(le32(data, entryOff+8))
		if off < 0 || off+size > len(data) {
			return nil, fmt.Errorf("%w: lump %q out of range", bspfile.ErrTruncatedLump, name)
		}
		return append([]byte(nil), data[off:off+size]...), nil
	}
	return nil, nil
}
