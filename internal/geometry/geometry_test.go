package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustGeom(t *testing.T, n int, strip uint64, blockLen uint32) Geometry {
	t.Helper()
	g, err := New(n, strip, blockLen)
	require.NoError(t, err)
	return g
}

func TestNewRejectsInvalidShapes(t *testing.T) {
	_, err := New(2, 8, 512)
	assert.Error(t, err, "fewer than 3 children must be rejected")

	_, err = New(3, 7, 512)
	assert.Error(t, err, "non-power-of-two strip size must be rejected")

	_, err = New(3, 8, 0)
	assert.Error(t, err, "zero block length must be rejected")
}

func TestStripeBlocks(t *testing.T) {
	g := mustGeom(t, 3, 8, 512)
	assert.Equal(t, uint64(16), g.StripeBlocks())
}

func TestParityRotation(t *testing.T) {
	g := mustGeom(t, 3, 8, 512)
	// parity_index(s) = (N-1) - (s mod N)
	assert.Equal(t, 2, g.ParityChild(0))
	assert.Equal(t, 1, g.ParityChild(1))
	assert.Equal(t, 0, g.ParityChild(2))
	assert.Equal(t, 2, g.ParityChild(3))
}

func TestChildForDataIndexSkipsParity(t *testing.T) {
	g := mustGeom(t, 3, 8, 512)

	// stripe 0: parity child = 2, data indices 0,1 -> children 0,1
	assert.Equal(t, 0, g.ChildForDataIndex(0, 0))
	assert.Equal(t, 1, g.ChildForDataIndex(0, 1))

	// stripe 1: parity child = 1, data indices 0,1 -> children 0,2
	assert.Equal(t, 0, g.ChildForDataIndex(1, 0))
	assert.Equal(t, 2, g.ChildForDataIndex(1, 1))

	// stripe 2: parity child = 0, data indices 0,1 -> children 1,2
	assert.Equal(t, 1, g.ChildForDataIndex(2, 0))
	assert.Equal(t, 2, g.ChildForDataIndex(2, 1))
}

func TestDataIndexForChildIsInverse(t *testing.T) {
	g := mustGeom(t, 5, 8, 512)
	for stripe := uint64(0); stripe < 5; stripe++ {
		for data := 0; data < g.NumChildren-1; data++ {
			child := g.ChildForDataIndex(stripe, data)
			assert.Equal(t, data, g.DataIndexForChild(stripe, child))
		}
	}
}

func TestDataIndexForChildPanicsOnParity(t *testing.T) {
	g := mustGeom(t, 3, 8, 512)
	assert.Panics(t, func() { g.DataIndexForChild(0, g.ParityChild(0)) })
}

func TestDecompose(t *testing.T) {
	g := mustGeom(t, 3, 8, 512) // stripe_blocks = 16
	stripe, off := g.Decompose(0)
	assert.Equal(t, uint64(0), stripe)
	assert.Equal(t, uint64(0), off)

	stripe, off = g.Decompose(20)
	assert.Equal(t, uint64(1), stripe)
	assert.Equal(t, uint64(4), off)
}

func TestFirstLastDataChunk(t *testing.T) {
	g := mustGeom(t, 3, 8, 512)

	first, last := g.FirstLastDataChunk(0, 16)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, last)

	first, last = g.FirstLastDataChunk(0, 1)
	assert.Equal(t, 0, first)
	assert.Equal(t, 0, last)

	first, last = g.FirstLastDataChunk(8, 8)
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, last)
}

func TestChunkSlice(t *testing.T) {
	g := mustGeom(t, 3, 8, 512)

	// S1: full stripe write, offset 0, 16 blocks -> both data chunks fully touched
	off, n := g.ChunkSlice(0, 0, 16)
	assert.Equal(t, uint64(0), off)
	assert.Equal(t, uint64(8), n)
	off, n = g.ChunkSlice(1, 0, 16)
	assert.Equal(t, uint64(0), off)
	assert.Equal(t, uint64(8), n)

	// S2: single block write at stripe offset 0 -> chunk 0 touched (1 block), chunk 1 untouched
	off, n = g.ChunkSlice(0, 0, 1)
	assert.Equal(t, uint64(0), off)
	assert.Equal(t, uint64(1), n)
	off, n = g.ChunkSlice(1, 0, 1)
	assert.Equal(t, uint64(0), off)
	assert.Equal(t, uint64(0), n)

	// partial write spanning into the second chunk: stripe offset 4, 8 blocks
	off, n = g.ChunkSlice(0, 4, 8)
	assert.Equal(t, uint64(4), off)
	assert.Equal(t, uint64(4), n)
	off, n = g.ChunkSlice(1, 4, 8)
	assert.Equal(t, uint64(0), off)
	assert.Equal(t, uint64(4), n)
}

func TestSplitWriteRangesFullStripeUnsplit(t *testing.T) {
	g := mustGeom(t, 3, 8, 512)
	ranges := g.SplitWriteRanges(0, 16)
	require.Len(t, ranges, 1)
	assert.Equal(t, [2]uint64{0, 16}, ranges[0])
}

func TestSplitWriteRangesSingleChunkUnsplit(t *testing.T) {
	g := mustGeom(t, 3, 8, 512)
	ranges := g.SplitWriteRanges(0, 1)
	require.Len(t, ranges, 1)
	assert.Equal(t, [2]uint64{0, 1}, ranges[0])
}

func TestSplitWriteRangesCrossingChunkBoundary(t *testing.T) {
	g := mustGeom(t, 3, 8, 512)
	// offset 4, 8 blocks: touches chunk0[4:8) and chunk1[0:4) -> split at 4
	ranges := g.SplitWriteRanges(4, 8)
	require.Len(t, ranges, 2)
	assert.Equal(t, [2]uint64{4, 4}, ranges[0])
	assert.Equal(t, [2]uint64{8, 4}, ranges[1])

	total := uint64(0)
	for _, r := range ranges {
		first, last := g.FirstLastDataChunk(r[0], r[1])
		assert.Equal(t, first, last, "every split sub-range must touch exactly one data chunk")
		total += r[1]
	}
	assert.Equal(t, uint64(8), total)
}

func TestSplitWriteRangesManyChunks(t *testing.T) {
	g := mustGeom(t, 4, 4, 512) // 3 data chunks of 4 blocks each, stripe_blocks=12
	ranges := g.SplitWriteRanges(2, 9)
	// touches chunk0[2:4), chunk1[0:4), chunk2[0:3)
	require.Len(t, ranges, 3)
	assert.Equal(t, [2]uint64{2, 2}, ranges[0])
	assert.Equal(t, [2]uint64{4, 4}, ranges[1])
	assert.Equal(t, [2]uint64{8, 3}, ranges[2])
}
