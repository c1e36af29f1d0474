package stripecache

import (
	"errors"

	"github.com/behrlich/go-raid5/internal/reqpool"
)

// ErrNoMem is returned by Cache.Get when the cache is full and reclaim
// could not free a slot because every cached stripe is still pinned by
// in-flight requests.
var ErrNoMem = errors.New("stripecache: no free slot")

// Slot is the handle callers hold to a cached stripe's scratch buffers
// and request queue. It wraps the unexported slot so package users
// can't reach into cache-internal list pointers.
type Slot struct {
	s *slot
}

// Valid reports whether this slot's scratch buffers currently hold
// data read from children (false right after a cache miss, before the
// planner has filled it in).
func (h Slot) Valid() bool { return h.s.valid }

// SetValid marks the slot's buffers as holding live data.
func (h Slot) SetValid(v bool) { h.s.valid = v }

// Stripe returns the stripe index this slot is bound to.
func (h Slot) Stripe() uint64 { return h.s.stripe }

// ChunkBuf returns the scratch buffer for child index i (0..NumChildren-1,
// parity included).
func (h Slot) ChunkBuf(i int) []byte { return h.s.chunkBufs[i] }

// Enqueue appends req to this stripe's FIFO wait queue, returning true
// if req is now the sole entry (i.e. it can run immediately; anything
// behind it must wait for Dequeue to pull it to the front).
func (h Slot) Enqueue(req *reqpool.Request) (isHead bool) {
	req2 := req
	if h.s.reqHead == nil {
		h.s.reqHead, h.s.reqTail = req2, req2
		return true
	}
	h.s.reqTail.SetNext(req2)
	h.s.reqTail = req2
	return false
}

// Dequeue pops the request at the front of the FIFO (the one that just
// finished) and returns the next request to run, or nil if the queue is
// now empty.
func (h Slot) Dequeue() *reqpool.Request {
	if h.s.reqHead == nil {
		return nil
	}
	h.s.reqHead = h.s.reqHead.Next()
	if h.s.reqHead == nil {
		h.s.reqTail = nil
	}
	return h.s.reqHead
}

// Front returns the request currently at the head of the FIFO without
// removing it, or nil if empty.
func (h Slot) Front() *reqpool.Request {
	return h.s.reqHead
}
