package iov

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVecsLen(t *testing.T) {
	v := Vecs{make([]byte, 3), make([]byte, 5)}
	assert.Equal(t, 8, v.Len())
}

func TestCopyAcrossMismatchedSegmentation(t *testing.T) {
	dst := Vecs{make([]byte, 2), make([]byte, 2), make([]byte, 2)}
	src := Vecs{[]byte{1, 2, 3, 4, 5, 6}}

	require.NoError(t, Copy(dst, 0, src, 0, 6))
	assert.Equal(t, []byte{1, 2}, dst[0])
	assert.Equal(t, []byte{3, 4}, dst[1])
	assert.Equal(t, []byte{5, 6}, dst[2])
}

func TestCopyWithOffsets(t *testing.T) {
	dst := Vecs{make([]byte, 4)}
	src := Vecs{[]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}}

	require.NoError(t, Copy(dst, 1, src, 2, 3))
	assert.Equal(t, []byte{0x00, 0xCC, 0xDD, 0xEE}, dst[0])
}

func TestCopyShortDestErrors(t *testing.T) {
	dst := Vecs{make([]byte, 2)}
	src := Vecs{make([]byte, 4)}
	err := Copy(dst, 0, src, 0, 4)
	assert.ErrorIs(t, err, ErrShort)
}

func TestZero(t *testing.T) {
	dst := Vecs{[]byte{1, 2, 3, 4}, []byte{5, 6}}
	require.NoError(t, Zero(dst, 2, 3))
	assert.Equal(t, []byte{1, 2, 0, 0}, dst[0])
	assert.Equal(t, []byte{0, 6}, dst[1])
}

func TestSliceSingleSegment(t *testing.T) {
	host := Vecs{[]byte{1, 2, 3, 4, 5, 6}}
	s, err := Slice(host, 2, 3)
	require.NoError(t, err)
	require.Len(t, s, 1)
	assert.Equal(t, []byte{3, 4, 5}, s[0])
}

func TestSliceSpansMultipleSegments(t *testing.T) {
	host := Vecs{[]byte{1, 2, 3}, []byte{4, 5, 6}, []byte{7, 8}}
	s, err := Slice(host, 2, 4)
	require.NoError(t, err)
	require.Len(t, s, 2)
	assert.Equal(t, []byte{3}, s[0])
	assert.Equal(t, []byte{4, 5, 6}, s[1])
}

func TestSliceAliasesHostMemory(t *testing.T) {
	host := Vecs{[]byte{1, 2, 3, 4}}
	s, err := Slice(host, 0, 4)
	require.NoError(t, err)
	s[0][0] = 0xFF
	assert.Equal(t, byte(0xFF), host[0][0])
}

func TestSliceZeroLength(t *testing.T) {
	host := Vecs{[]byte{1, 2, 3}}
	s, err := Slice(host, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestSliceOutOfRangeErrors(t *testing.T) {
	host := Vecs{[]byte{1, 2, 3}}
	_, err := Slice(host, 1, 10)
	assert.ErrorIs(t, err, ErrShort)
}
