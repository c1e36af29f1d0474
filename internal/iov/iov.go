// Package iov implements scatter/gather vectors over byte buffers and
// the mapping between a host I/O's iovec and a single child chunk's
// slice of it.
package iov

import "errors"

// ErrShort is returned when a requested byte range runs past the end
// of the backing segments.
var ErrShort = errors.New("iov: host range shorter than requested length")

// Vecs is a scatter/gather list: a sequence of byte segments that are
// logically concatenated.
type Vecs [][]byte

// Len returns the total number of bytes across all segments.
func (v Vecs) Len() int {
	n := 0
	for _, s := range v {
		n += len(s)
	}
	return n
}

// cursor walks a Vecs list byte-by-byte without flattening it.
type cursor struct {
	segs   Vecs
	idx    int
	offset int
}

func newCursor(v Vecs, byteOffset int) cursor {
	c := cursor{segs: v}
	for c.idx < len(v) {
		if byteOffset < len(v[c.idx]) {
			c.offset = byteOffset
			return c
		}
		byteOffset -= len(v[c.idx])
		c.idx++
	}
	c.offset = byteOffset
	return c
}

// remaining returns the bytes left in the current segment, or nil if
// the cursor has run off the end of the list.
func (c *cursor) remaining() []byte {
	if c.idx >= len(c.segs) {
		return nil
	}
	return c.segs[c.idx][c.offset:]
}

func (c *cursor) advance(n int) {
	c.offset += n
	for c.idx < len(c.segs) && c.offset >= len(c.segs[c.idx]) {
		c.offset -= len(c.segs[c.idx])
		c.idx++
	}
}

// EachRegion walks dst and src in lockstep starting at their respective
// byte offsets, invoking fn with same-length same-backing sub-slices
// until size bytes have been covered on both sides. This is the shared
// primitive behind Copy (memcpy_iovs) and the parity package's XOR
// (xor_iovs): both need to process two independently-segmented vectors
// region-by-region without flattening either.
func EachRegion(dst Vecs, dstOffset int, src Vecs, srcOffset int, size int, fn func(d, s []byte)) error {
	dc := newCursor(dst, dstOffset)
	sc := newCursor(src, srcOffset)
	remaining := size
	for remaining > 0 {
		dseg := dc.remaining()
		sseg := sc.remaining()
		if len(dseg) == 0 || len(sseg) == 0 {
			return ErrShort
		}
		n := remaining
		if len(dseg) < n {
			n = len(dseg)
		}
		if len(sseg) < n {
			n = len(sseg)
		}
		fn(dseg[:n], sseg[:n])
		dc.advance(n)
		sc.advance(n)
		remaining -= n
	}
	return nil
}

// EachSegment walks dst starting at byteOffset, invoking fn with
// successive sub-slices until size bytes have been covered.
func EachSegment(dst Vecs, byteOffset int, size int, fn func(d []byte)) error {
	dc := newCursor(dst, byteOffset)
	remaining := size
	for remaining > 0 {
		dseg := dc.remaining()
		if len(dseg) == 0 {
			return ErrShort
		}
		n := remaining
		if len(dseg) < n {
			n = len(dseg)
		}
		fn(dseg[:n])
		dc.advance(n)
		remaining -= n
	}
	return nil
}

// Copy copies size bytes from src at srcOffset into dst at dstOffset,
// handling arbitrary segmentation on both sides (memcpy_iovs).
func Copy(dst Vecs, dstOffset int, src Vecs, srcOffset int, size int) error {
	return EachRegion(dst, dstOffset, src, srcOffset, size, func(d, s []byte) {
		copy(d, s)
	})
}

// Zero zero-fills size bytes of dst starting at byteOffset.
func Zero(dst Vecs, byteOffset int, size int) error {
	return EachSegment(dst, byteOffset, size, func(d []byte) {
		clear(d)
	})
}

// Slice maps [byteOffset, byteOffset+byteLen) of a host iovec into a new
// Vecs referencing the same underlying memory, clipping the first and
// last segments as needed. This is chunk_map_iov from spec section 4.2:
// the returned segments alias host.
//
// The result is built with a capacity hint of 2: the overwhelmingly
// common case is a single contiguous host buffer, so one segment covers
// the whole request and no further growth is needed; it still grows
// like any Go slice if the host buffer is fragmented across more
// segments than that.
func Slice(host Vecs, byteOffset, byteLen int) (Vecs, error) {
	if byteLen == 0 {
		return Vecs{}, nil
	}
	c := newCursor(host, byteOffset)
	out := make(Vecs, 0, 2)
	remaining := byteLen
	for remaining > 0 {
		seg := c.remaining()
		if len(seg) == 0 {
			return nil, ErrShort
		}
		n := remaining
		if n > len(seg) {
			n = len(seg)
		}
		out = append(out, seg[:n:n])
		c.advance(n)
		remaining -= n
	}
	return out, nil
}
