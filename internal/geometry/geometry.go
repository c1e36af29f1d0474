// Package geometry computes RAID-5 stripe addressing: which child holds
// parity for a given stripe, how a host block range decomposes into
// stripe-relative offsets, and how each data chunk's touched slice is
// derived from that range.
//
// All of this hard-codes single parity (see spec's open question on
// RAID-5-only assumptions); a dual-parity layout would need to redesign
// chunk iteration and the planner's preread formulas, not just this
// package.
package geometry

import (
	"fmt"
	"math/bits"

	"github.com/behrlich/go-raid5/internal/constants"
)

// Geometry describes the fixed shape of an array: child count, strip
// size, and block length. It is immutable once constructed.
type Geometry struct {
	NumChildren int
	StripSize   uint64 // blocks per child, per stripe
	BlockLen    uint32 // bytes per block

	stripSizeShift uint // log2(StripSize); StripSize must be a power of two
}

// New validates the inputs and returns a Geometry, or an error if the
// array shape is invalid (fewer than 3 children, non-power-of-two strip
// size, zero block length).
func New(numChildren int, stripSize uint64, blockLen uint32) (Geometry, error) {
	if numChildren < constants.BaseBdevsMin {
		return Geometry{}, fmt.Errorf("geometry: need at least %d children, got %d", constants.BaseBdevsMin, numChildren)
	}
	if stripSize == 0 || stripSize&(stripSize-1) != 0 {
		return Geometry{}, fmt.Errorf("geometry: strip size must be a power of two, got %d", stripSize)
	}
	if blockLen == 0 {
		return Geometry{}, fmt.Errorf("geometry: block length must be nonzero")
	}
	return Geometry{
		NumChildren:    numChildren,
		StripSize:      stripSize,
		BlockLen:       blockLen,
		stripSizeShift: uint(bits.TrailingZeros64(stripSize)),
	}, nil
}

// StripeBlocks is the number of blocks spanned by one stripe across all
// data children (strip_size * (N-1)).
func (g Geometry) StripeBlocks() uint64 {
	return g.StripSize * uint64(g.NumChildren-1)
}

// TotalStripes returns the number of stripes an array of childBlocks
// blocks per child (the size of the smallest child) can support.
func (g Geometry) TotalStripes(childBlocks uint64) uint64 {
	return childBlocks / g.StripSize
}

// ParityChild returns the child index holding parity for stripe s.
// The parity chunk rotates: parity_index(s) = (N-1) - (s mod N).
func (g Geometry) ParityChild(stripe uint64) int {
	return (g.NumChildren - 1) - int(stripe%uint64(g.NumChildren))
}

// ChildForDataIndex maps a data-chunk index (0..N-2) to its child index,
// skipping over the parity slot.
func (g Geometry) ChildForDataIndex(stripe uint64, dataIdx int) int {
	p := g.ParityChild(stripe)
	if dataIdx < p {
		return dataIdx
	}
	return dataIdx + 1
}

// DataIndexForChild is the inverse of ChildForDataIndex. Calling it on
// the parity child is a programming error and panics.
func (g Geometry) DataIndexForChild(stripe uint64, child int) int {
	p := g.ParityChild(stripe)
	if child == p {
		panic("geometry: DataIndexForChild called on parity child")
	}
	if child < p {
		return child
	}
	return child - 1
}

// Decompose splits a host block range into the stripe it starts in and
// the stripe-relative block offset. The caller (the host framework, out
// of scope here) is responsible for splitting any request that spans
// more than one stripe before calling into the array.
func (g Geometry) Decompose(offsetBlocks uint64) (stripe, stripeOffset uint64) {
	sb := g.StripeBlocks()
	return offsetBlocks / sb, offsetBlocks % sb
}

// FirstLastDataChunk returns the first and last data-chunk index (0..N-2)
// touched by a [stripeOffset, stripeOffset+numBlocks) range within one
// stripe.
func (g Geometry) FirstLastDataChunk(stripeOffset, numBlocks uint64) (first, last int) {
	first = int(stripeOffset >> g.stripSizeShift)
	last = int((stripeOffset + numBlocks - 1) >> g.stripSizeShift)
	return
}

// ChunkSlice computes the (req_offset, req_blocks) slice of data chunk
// dataIdx touched by a [stripeOffset, stripeOffset+numBlocks) host range,
// per spec section 4.1. Returns (0, 0) if the chunk isn't touched at all.
func (g Geometry) ChunkSlice(dataIdx int, stripeOffset, numBlocks uint64) (reqOffset, reqBlocks uint64) {
	chunkFrom := uint64(dataIdx) * g.StripSize
	chunkTo := chunkFrom + g.StripSize

	reqOffset = 0
	if stripeOffset > chunkFrom {
		reqOffset = stripeOffset - chunkFrom
	}

	end := stripeOffset + numBlocks
	if end > chunkTo {
		end = chunkTo
	}

	start := chunkFrom + reqOffset
	if end <= start {
		return 0, 0
	}
	return reqOffset, end - start
}

// SplitWriteRanges implements the write-boundary refinement from spec
// section 4.1: a write that lies within a single stripe but touches more
// than one data chunk without covering the whole stripe is split
// recursively at each strip boundary, so every sub-range is either the
// full stripe or confined to a single data chunk. Each returned range is
// a (stripeOffset, numBlocks) pair in the same units as the input.
func (g Geometry) SplitWriteRanges(stripeOffset, numBlocks uint64) [][2]uint64 {
	if stripeOffset == 0 && numBlocks == g.StripeBlocks() {
		return [][2]uint64{{stripeOffset, numBlocks}}
	}

	first, last := g.FirstLastDataChunk(stripeOffset, numBlocks)
	if first == last {
		return [][2]uint64{{stripeOffset, numBlocks}}
	}

	splitLen := g.StripSize - (stripeOffset % g.StripSize)
	head := [2]uint64{stripeOffset, splitLen}
	rest := g.SplitWriteRanges(stripeOffset+splitLen, numBlocks-splitLen)
	return append([][2]uint64{head}, rest...)
}
