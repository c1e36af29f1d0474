package planner

import (
	"fmt"

	"github.com/behrlich/go-raid5/child"
	"github.com/behrlich/go-raid5/internal/bufpool"
	"github.com/behrlich/go-raid5/internal/geometry"
	"github.com/behrlich/go-raid5/internal/ichannel"
	"github.com/behrlich/go-raid5/internal/iov"
	"github.com/behrlich/go-raid5/internal/parity"
	"github.com/behrlich/go-raid5/internal/stripecache"
)

// Reader executes read plans: plain reads straight from each touched
// data chunk, falling back to XOR reconstruction from every other
// child when a data chunk's device is unavailable (spec section 4.6).
type Reader struct {
	Geometry geometry.Geometry
	Kernel   parity.Kernel
	Children []child.Device
	Disp     ichannel.Dispatcher
}

// Read services a host read confined to a single stripe, writing the
// result into hostBuf.
func (r *Reader) Read(slot stripecache.Slot, stripeOffset, numBlocks uint64, hostBuf iov.Vecs) error {
	g := r.Geometry
	stripe := slot.Stripe()
	blockLen := int64(g.BlockLen)

	first, last := g.FirstLastDataChunk(stripeOffset, numBlocks)

	for dataIdx := first; dataIdx <= last; dataIdx++ {
		reqOff, reqBlocks := g.ChunkSlice(dataIdx, stripeOffset, numBlocks)
		if reqBlocks == 0 {
			continue
		}
		byteOff := int(reqOff) * int(blockLen)
		byteLen := int(reqBlocks) * int(blockLen)

		childIdx := g.ChildForDataIndex(stripe, dataIdx)
		dev := r.Children[childIdx]
		devOff := int64(stripe)*int64(g.StripSize)*blockLen + int64(byteOff)

		buf := slot.ChunkBuf(childIdx)[byteOff : byteOff+byteLen]
		_, err := dev.ReadAt(buf, devOff)
		if err != nil {
			if rerr := r.reconstruct(stripe, childIdx, buf, byteOff, byteLen); rerr != nil {
				return fmt.Errorf("planner: read chunk %d and reconstruction both failed: %w", dataIdx, rerr)
			}
		}

		chunkFrom := int64(dataIdx) * int64(g.StripSize) * blockLen
		hostOff := int(chunkFrom+int64(byteOff)) - int(stripeOffset)*int(blockLen)
		if err := iov.Copy(hostBuf, hostOff, iov.Vecs{buf}, 0, byteLen); err != nil {
			return fmt.Errorf("planner: copy chunk %d into host buffer: %w", dataIdx, err)
		}
	}

	slot.SetValid(true)
	return nil
}

// reconstruct recovers [byteOff, byteOff+byteLen) of missing child
// missingChild on stripe by reading the same byte range from every
// other child (data and parity) and XORing them together: any single
// chunk in a RAID-5 stripe equals the XOR of all the others. A failure
// reading any of those other children means more than
// constants.BaseBdevsMaxDegraded children are down for this stripe,
// which single-parity RAID-5 cannot recover from.
func (r *Reader) reconstruct(stripe uint64, missingChild int, dst []byte, byteOff, byteLen int) error {
	g := r.Geometry
	blockLen := int64(g.BlockLen)
	devOff := int64(stripe)*int64(g.StripSize)*blockLen + int64(byteOff)

	clearBuf(dst)

	scratch := bufpool.Get(byteLen)
	defer bufpool.Put(scratch)

	for ch := 0; ch < g.NumChildren; ch++ {
		if ch == missingChild {
			continue
		}
		if _, err := r.Children[ch].ReadAt(scratch, devOff); err != nil {
			return fmt.Errorf("planner: child %d also unavailable, cannot reconstruct stripe %d: %w", ch, stripe, err)
		}
		if err := r.Kernel.XOR(iov.Vecs{dst}, 0, iov.Vecs{scratch}, 0, byteLen); err != nil {
			return fmt.Errorf("planner: reconstruction XOR: %w", err)
		}
	}
	return nil
}
