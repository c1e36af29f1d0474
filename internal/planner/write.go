// Package planner implements the write and read strategies from spec
// sections 4.4-4.6: read-modify-write vs full-stripe write, degraded
// reconstruction, and the RAID-5 "new parity = old parity ^ old data ^
// new data" identity that lets parity update without touching the
// other data chunks.
package planner

import (
	"fmt"

	"github.com/behrlich/go-raid5/child"
	"github.com/behrlich/go-raid5/internal/bufpool"
	"github.com/behrlich/go-raid5/internal/constants"
	"github.com/behrlich/go-raid5/internal/geometry"
	"github.com/behrlich/go-raid5/internal/ichannel"
	"github.com/behrlich/go-raid5/internal/iov"
	"github.com/behrlich/go-raid5/internal/parity"
	"github.com/behrlich/go-raid5/internal/stripecache"
)

// Writer executes write plans against a fixed geometry and child set.
type Writer struct {
	Geometry geometry.Geometry
	Kernel   parity.Kernel
	Children []child.Device
	Disp     ichannel.Dispatcher
}

// Write services one host write confined to a single stripe. A write
// covering the whole stripe takes the full-stripe strategy; a write
// confined to a single data chunk takes read-modify-write directly; a
// write spanning more than one data chunk without covering the whole
// stripe picks between read-modify-write and reconstruction write by
// the same vote spec section 4.4 step 3 describes: chunks this write
// doesn't touch push the vote toward RMW, chunks it fully covers push it
// toward RCW, and partially covered chunks are neutral (see
// voteFavorsRMW); a tie picks RCW. hostBuf is the
// caller's iovec for exactly numBlocks*BlockLen bytes; slot is the cache
// entry reserved for this stripe.
func (w *Writer) Write(slot stripecache.Slot, stripeOffset, numBlocks uint64, hostBuf iov.Vecs) error {
	g := w.Geometry
	if stripeOffset == 0 && numBlocks == g.StripeBlocks() {
		return w.writeFullStripe(slot, hostBuf)
	}

	first, last := g.FirstLastDataChunk(stripeOffset, numBlocks)
	if first == last {
		return w.writeRMW(slot, first, stripeOffset, numBlocks, hostBuf)
	}

	if w.voteFavorsRMW(stripeOffset, numBlocks) {
		return w.writeSplitRMW(slot, stripeOffset, numBlocks, hostBuf)
	}
	return w.writeRCW(slot, stripeOffset, numBlocks, hostBuf)
}

// voteFavorsRMW implements spec section 4.4 step 3's vote over every
// data chunk in the stripe (the parity window is the full strip once
// more than one chunk is touched): a chunk contributes +1 if this write
// doesn't fully cover it (reconstruction write would need to read it)
// and -1 if the write touches it at all (already have its new data, no
// reconstruction read needed). A net-positive vote means most chunks
// would need a reconstruction-write preread, so RMW's narrower
// per-chunk preread is cheaper.
func (w *Writer) voteFavorsRMW(stripeOffset, numBlocks uint64) bool {
	g := w.Geometry
	vote := 0
	for dataIdx := 0; dataIdx < g.NumChildren-1; dataIdx++ {
		_, reqBlocks := g.ChunkSlice(dataIdx, stripeOffset, numBlocks)
		if reqBlocks < g.StripSize {
			vote++
		}
		if reqBlocks > 0 {
			vote--
		}
	}
	return vote > 0
}

// writeSplitRMW services a multi-chunk write the vote selected for
// read-modify-write by running geometry.SplitWriteRanges' single-chunk
// pieces through writeRMW independently. It's also the fallback used by
// writeRCW when a preread hits a degraded child partway through, since
// writeRMW already knows how to handle a degraded data or parity child
// for one chunk at a time.
func (w *Writer) writeSplitRMW(slot stripecache.Slot, stripeOffset, numBlocks uint64, hostBuf iov.Vecs) error {
	g := w.Geometry
	blockLen := int(g.BlockLen)
	var firstErr error
	for _, r := range g.SplitWriteRanges(stripeOffset, numBlocks) {
		subOff, subLen := r[0], r[1]
		hostByteOff := int(subOff-stripeOffset) * blockLen
		sub, err := iov.Slice(hostBuf, hostByteOff, int(subLen)*blockLen)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("planner: slice host buffer for split range: %w", err)
			}
			continue
		}
		dataIdx, _ := g.FirstLastDataChunk(subOff, subLen)
		if err := w.writeRMW(slot, dataIdx, subOff, subLen, sub); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// writeRCW implements the reconstruction-write strategy: for every data
// chunk, preread whatever portion this write doesn't overwrite (nothing,
// for a chunk fully covered by the host range), splice in the new host
// data over the touched portion, fold the resulting full chunk into
// parity-scratch, and write back every chunk the host range actually
// touched plus parity. If any preread hits a degraded child, fall back
// to writeSplitRMW, which already implements the degraded sub-cases
// per chunk.
func (w *Writer) writeRCW(slot stripecache.Slot, stripeOffset, numBlocks uint64, hostBuf iov.Vecs) error {
	g := w.Geometry
	stripe := slot.Stripe()
	blockLen := int64(g.BlockLen)
	chunkBytes := int(g.StripSize) * int(blockLen)
	parityChild := g.ParityChild(stripe)
	parityBuf := slot.ChunkBuf(parityChild)[:chunkBytes]
	clearBuf(parityBuf)

	devBase := int64(stripe) * int64(g.StripSize) * blockLen

	writeOps := make([]ichannel.ChunkOp, 0, g.NumChildren)
	for dataIdx := 0; dataIdx < g.NumChildren-1; dataIdx++ {
		childIdx := g.ChildForDataIndex(stripe, dataIdx)
		buf := slot.ChunkBuf(childIdx)[:chunkBytes]

		reqOff, reqBlocks := g.ChunkSlice(dataIdx, stripeOffset, numBlocks)
		touchedOff := int(reqOff) * int(blockLen)
		touchedLen := int(reqBlocks) * int(blockLen)

		if touchedLen < chunkBytes {
			if touchedOff > 0 {
				if err := preread(w.Children[childIdx], buf[:touchedOff], devBase); err != nil {
					return w.writeSplitRMW(slot, stripeOffset, numBlocks, hostBuf)
				}
			}
			if tail := touchedOff + touchedLen; tail < chunkBytes {
				if err := preread(w.Children[childIdx], buf[tail:], devBase+int64(tail)); err != nil {
					return w.writeSplitRMW(slot, stripeOffset, numBlocks, hostBuf)
				}
			}
		}

		if touchedLen > 0 {
			chunkFrom := int64(dataIdx) * int64(g.StripSize) * blockLen
			hostOff := int(chunkFrom+int64(touchedOff)) - int(stripeOffset)*int(blockLen)
			if err := iov.Copy(iov.Vecs{buf[touchedOff : touchedOff+touchedLen]}, 0, hostBuf, hostOff, touchedLen); err != nil {
				return fmt.Errorf("planner: copy host data for chunk %d: %w", dataIdx, err)
			}
			writeOps = append(writeOps, ichannel.ChunkOp{Device: w.Children[childIdx], Buf: buf, Offset: devBase})
		}

		if err := w.Kernel.XOR(iov.Vecs{parityBuf}, 0, iov.Vecs{buf}, 0, chunkBytes); err != nil {
			return fmt.Errorf("planner: fold chunk %d into parity: %w", dataIdx, err)
		}
	}
	writeOps = append(writeOps, ichannel.ChunkOp{Device: w.Children[parityChild], Buf: parityBuf, Offset: devBase})

	if err := w.Disp.WriteAll(writeOps); err != nil {
		return fmt.Errorf("planner: reconstruction write: %w", err)
	}
	slot.SetValid(true)
	return nil
}

// writeFullStripe implements the full-stripe write strategy: every data
// chunk is overwritten from the host buffer, parity is the XOR of all
// the new data (no pre-read needed), and everything is written
// concurrently. Parity only depends on the new host data, not on any
// child's prior contents, so a degraded child doesn't block the write:
// up to constants.BaseBdevsMaxDegraded children can fail their WriteAt
// and the request still succeeds, since a later read of that child
// reconstructs correctly from the others plus the now-current parity.
func (w *Writer) writeFullStripe(slot stripecache.Slot, hostBuf iov.Vecs) error {
	g := w.Geometry
	stripe := slot.Stripe()
	blockLen := int(g.BlockLen)
	parityChild := g.ParityChild(stripe)

	parityBuf := slot.ChunkBuf(parityChild)
	clearBuf(parityBuf[:int(g.StripSize)*blockLen])

	ops := make([]ichannel.ChunkOp, 0, g.NumChildren)
	for dataIdx := 0; dataIdx < g.NumChildren-1; dataIdx++ {
		childIdx := g.ChildForDataIndex(stripe, dataIdx)
		buf := slot.ChunkBuf(childIdx)[:int(g.StripSize)*blockLen]

		hostOff := dataIdx * int(g.StripSize) * blockLen
		if err := iov.Copy(iov.Vecs{buf}, 0, hostBuf, hostOff, len(buf)); err != nil {
			return fmt.Errorf("planner: copy host data for chunk %d: %w", dataIdx, err)
		}

		if err := w.Kernel.XOR(iov.Vecs{parityBuf}, 0, iov.Vecs{buf}, 0, len(buf)); err != nil {
			return fmt.Errorf("planner: fold chunk %d into parity: %w", dataIdx, err)
		}

		ops = append(ops, ichannel.ChunkOp{
			Device: w.Children[childIdx],
			Buf:    buf,
			Offset: int64(stripe) * int64(g.StripSize) * int64(blockLen),
		})
	}
	ops = append(ops, ichannel.ChunkOp{
		Device: w.Children[parityChild],
		Buf:    parityBuf,
		Offset: int64(stripe) * int64(g.StripSize) * int64(blockLen),
	})

	failed, err := w.Disp.WriteAllTolerant(ops)
	if failed > constants.BaseBdevsMaxDegraded {
		return fmt.Errorf("planner: full-stripe write: %d children unavailable, exceeds single-parity tolerance: %w", failed, err)
	}
	slot.SetValid(true)
	return nil
}

// writeRMW implements the read-modify-write strategy for a write
// confined to one data chunk: pre-read the touched region of that
// chunk's old data and the corresponding region of parity, fold out the
// old data and fold in the new data, then write both back.
//
// Degraded cases (spec section 4.5): if the data child is gone, the
// write can't land there at all and fails, but parity still needs the
// full old^new fold — old_data is reconstructed from the surviving data
// chunks (any one chunk is the XOR of all the others) so the resulting
// parity matches what a rebuild of the data child will reproduce from
// new_data. If the parity child is gone, the data write proceeds and
// parity update is skipped entirely — parity is already stale/unavailable
// and gets rebuilt once the parity child is replaced, which is out of
// scope here (spec's rebuild/resync Non-goal).
func (w *Writer) writeRMW(slot stripecache.Slot, dataIdx int, stripeOffset, numBlocks uint64, hostBuf iov.Vecs) error {
	g := w.Geometry
	stripe := slot.Stripe()
	blockLen := int64(g.BlockLen)

	reqOff, reqBlocks := g.ChunkSlice(dataIdx, stripeOffset, numBlocks)
	byteOff := int(reqOff) * int(blockLen)
	byteLen := int(reqBlocks) * int(blockLen)

	dataChild := g.ChildForDataIndex(stripe, dataIdx)
	parityChild := g.ParityChild(stripe)

	dataDev := w.Children[dataChild]
	parityDev := w.Children[parityChild]

	dataBuf := slot.ChunkBuf(dataChild)[byteOff : byteOff+byteLen]
	parityBuf := slot.ChunkBuf(parityChild)[byteOff : byteOff+byteLen]

	dataDevOff := int64(stripe)*int64(g.StripSize)*blockLen + int64(byteOff)
	parityDevOff := dataDevOff

	dataReadErr := preread(dataDev, dataBuf, dataDevOff)
	parityReadErr := preread(parityDev, parityBuf, parityDevOff)

	newData := bufpool.Get(byteLen)
	defer bufpool.Put(newData)
	if err := iov.Copy(iov.Vecs{newData}, 0, hostBuf, 0, byteLen); err != nil {
		return fmt.Errorf("planner: copy host data: %w", err)
	}

	switch {
	case parityReadErr != nil && dataReadErr != nil:
		return fmt.Errorf("planner: both data and parity children unavailable for stripe %d: %w", stripe, dataReadErr)

	case parityReadErr != nil:
		// Parity child degraded: write data only, parity stays stale.
		if err := writeAt(dataDev, newData, dataDevOff); err != nil {
			return fmt.Errorf("planner: degraded-parity data write: %w", err)
		}
		return nil

	case dataReadErr != nil:
		// Data child degraded: can't land the write, but parity still
		// needs the usual old^new fold, not just new_data folded in —
		// there is old data, it's just unreadable directly, so
		// reconstruct it the same way the reader does (any one chunk is
		// the XOR of all the others) before folding.
		oldData := bufpool.Get(byteLen)
		defer bufpool.Put(oldData)
		clearBuf(oldData)
		for otherIdx := 0; otherIdx < g.NumChildren-1; otherIdx++ {
			if otherIdx == dataIdx {
				continue
			}
			otherChild := g.ChildForDataIndex(stripe, otherIdx)
			otherBuf := bufpool.Get(byteLen)
			_, rerr := w.Children[otherChild].ReadAt(otherBuf, dataDevOff)
			if rerr != nil {
				bufpool.Put(otherBuf)
				return fmt.Errorf("planner: data child %d degraded and child %d also unavailable, cannot reconstruct stripe %d: %w", dataChild, otherChild, stripe, rerr)
			}
			xerr := w.Kernel.XOR(iov.Vecs{oldData}, 0, iov.Vecs{otherBuf}, 0, byteLen)
			bufpool.Put(otherBuf)
			if xerr != nil {
				return fmt.Errorf("planner: fold surviving chunk %d during reconstruction: %w", otherIdx, xerr)
			}
		}
		if err := w.Kernel.XOR(iov.Vecs{oldData}, 0, iov.Vecs{parityBuf}, 0, byteLen); err != nil {
			return fmt.Errorf("planner: fold old parity into reconstruction: %w", err)
		}
		// oldData now holds d's reconstructed old contents; fold it out
		// and the new data in, same as the non-degraded path below.
		if err := w.Kernel.XOR(iov.Vecs{parityBuf}, 0, iov.Vecs{oldData}, 0, byteLen); err != nil {
			return fmt.Errorf("planner: fold out old data (degraded data child): %w", err)
		}
		if err := w.Kernel.XOR(iov.Vecs{parityBuf}, 0, iov.Vecs{newData}, 0, byteLen); err != nil {
			return fmt.Errorf("planner: fold in new data (degraded data child): %w", err)
		}
		if err := writeAt(parityDev, parityBuf, parityDevOff); err != nil {
			return fmt.Errorf("planner: degraded-data parity write: %w", err)
		}
		return fmt.Errorf("planner: data child %d unavailable for stripe %d", dataChild, stripe)
	}

	// Fold old data out of parity, then fold new data in:
	// new_parity = old_parity ^ old_data ^ new_data
	if err := w.Kernel.XOR(iov.Vecs{parityBuf}, 0, iov.Vecs{dataBuf}, 0, byteLen); err != nil {
		return fmt.Errorf("planner: fold out old data: %w", err)
	}
	if err := w.Kernel.XOR(iov.Vecs{parityBuf}, 0, iov.Vecs{newData}, 0, byteLen); err != nil {
		return fmt.Errorf("planner: fold in new data: %w", err)
	}
	copy(dataBuf, newData)

	ops := []ichannel.ChunkOp{
		{Device: dataDev, Buf: dataBuf, Offset: dataDevOff},
		{Device: parityDev, Buf: parityBuf, Offset: parityDevOff},
	}
	if err := w.Disp.WriteAll(ops); err != nil {
		return fmt.Errorf("planner: RMW write-back: %w", err)
	}
	return nil
}

func preread(dev child.Device, buf []byte, off int64) error {
	_, err := dev.ReadAt(buf, off)
	return err
}

func writeAt(dev child.Device, buf []byte, off int64) error {
	_, err := dev.WriteAt(buf, off)
	return err
}

func clearBuf(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
