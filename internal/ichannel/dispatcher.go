package ichannel

import (
	"sync"

	"github.com/behrlich/go-raid5/internal/interfaces"
)

// ChunkOp is one child-directed chunk read or write: buf is the
// scratch region (from a stripecache slot) the child's bytes land in
// or come from, at byte offset Offset on Device.
type ChunkOp struct {
	Device interfaces.ChildDevice
	Buf    []byte
	Offset int64
}

// Dispatcher fans a batch of chunk operations out across goroutines —
// the async-submission half of spdk's readv_blocks/writev_blocks — and
// waits for all of them to land, collecting the first error. It has no
// state of its own; it exists so planner code reads as "dispatch these
// chunk ops" rather than hand-rolling a WaitGroup at every call site.
type Dispatcher struct{}

// ReadAll issues every op's ReadAt concurrently and waits for them all.
func (Dispatcher) ReadAll(ops []ChunkOp) error {
	return fanOut(ops, func(op ChunkOp) error {
		_, err := op.Device.ReadAt(op.Buf, op.Offset)
		return err
	})
}

// WriteAll issues every op's WriteAt concurrently and waits for them all.
func (Dispatcher) WriteAll(ops []ChunkOp) error {
	return fanOut(ops, func(op ChunkOp) error {
		_, err := op.Device.WriteAt(op.Buf, op.Offset)
		return err
	})
}

// WriteAllTolerant issues every op's WriteAt concurrently and waits for
// them all, like WriteAll, but never aborts early: it counts how many
// ops failed and returns that count alongside the first error seen, so
// a caller that can tolerate a bounded number of failing children (a
// full-stripe write under single-parity degradation) can decide for
// itself whether the batch as a whole succeeded.
func (Dispatcher) WriteAllTolerant(ops []ChunkOp) (failed int, err error) {
	if len(ops) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ops))
	wg.Add(len(ops))
	for i, op := range ops {
		go func(i int, op ChunkOp) {
			defer wg.Done()
			_, errs[i] = op.Device.WriteAt(op.Buf, op.Offset)
		}(i, op)
	}
	wg.Wait()

	var first error
	for _, e := range errs {
		if e != nil {
			failed++
			if first == nil {
				first = e
			}
		}
	}
	return failed, first
}

func fanOut(ops []ChunkOp, do func(ChunkOp) error) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) == 1 {
		return do(ops[0])
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ops))
	wg.Add(len(ops))
	for i, op := range ops {
		go func(i int, op ChunkOp) {
			defer wg.Done()
			errs[i] = do(op)
		}(i, op)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
