// Package parity implements the RAID-5 XOR kernel: xor_iovs from spec
// section 4.7, exposed behind a pluggable Kernel so a vectorized
// implementation can be swapped in without touching the planner.
package parity

import (
	"encoding/binary"

	"github.com/behrlich/go-raid5/internal/iov"
)

// Kernel computes XOR over scatter/gather regions at arbitrary byte
// offsets. Implementations must not allocate on the XOR path.
type Kernel interface {
	// XOR XORs size bytes of src at srcOffset into dst at dstOffset.
	// size is always a whole number of blocks; alignment within a
	// segment is otherwise arbitrary.
	XOR(dst iov.Vecs, dstOffset int, src iov.Vecs, srcOffset int, size int) error
}

// wordwiseKernel XORs 8 bytes at a time via encoding/binary loads, which
// the compiler turns into unaligned word ops on amd64/arm64, falling
// back to a byte loop for the remainder of each region. This is the
// scalar fallback spec section 4.7 and the design notes describe;
// there is no SIMD/ISA-L binding in this module (see DESIGN.md), so
// NewKernel always returns this today. The interface exists so a
// vectorized Kernel can be selected at startup without planner changes.
type wordwiseKernel struct{}

// NewKernel returns the XOR kernel used by a freshly constructed Array.
func NewKernel() Kernel {
	return wordwiseKernel{}
}

func (wordwiseKernel) XOR(dst iov.Vecs, dstOffset int, src iov.Vecs, srcOffset int, size int) error {
	return iov.EachRegion(dst, dstOffset, src, srcOffset, size, xorBytes)
}

func xorBytes(dst, src []byte) {
	n := len(dst)
	i := 0
	for ; i+8 <= n; i += 8 {
		d := binary.LittleEndian.Uint64(dst[i : i+8])
		s := binary.LittleEndian.Uint64(src[i : i+8])
		binary.LittleEndian.PutUint64(dst[i:i+8], d^s)
	}
	for ; i < n; i++ {
		dst[i] ^= src[i]
	}
}
