// Package stripecache implements the in-memory stripe cache: a
// hash-indexed pool of fixed scratch-buffer slots with an MRU-ordered
// intrusive active list, a free list, and refcounted reclamation, per spec
// section 4.3. The active list's sentinel-node doubly-linked-list shape
// is the same trick a memcached-style LRU uses to avoid nil checks at
// the ends of the list.
package stripecache

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-raid5/internal/constants"
	"github.com/behrlich/go-raid5/internal/reqpool"
)

// slot holds one cached stripe's scratch buffers and its pending
// request queue. ChunkBufs has one entry per child (data chunks plus
// parity), each Geometry.StripSize*BlockLen bytes, backed by an
// anonymous mmap so large stripes don't pressure the Go heap/GC.
type slot struct {
	stripe  uint64
	valid   bool
	refs    int
	inUse   bool // true while linked into the active list

	chunkBufs [][]byte // len == NumChildren; [i] is scratch for child i
	mmapBase  []byte   // backing region for chunkBufs, for unmap/reclaim

	reqHead *reqpool.Request // FIFO of requests waiting on this stripe
	reqTail *reqpool.Request

	prev, next *slot // active-list links
}

func (s *slot) size() int {
	total := 0
	for _, b := range s.chunkBufs {
		total += len(b)
	}
	return total
}

// Cache is a fixed-capacity, hash-indexed pool of stripe slots. A
// single cache is shared across every channel in the array (stripes
// hash to a home channel for request serialization, but the cache
// itself is a single pool), so its mutations are guarded by mu.
type Cache struct {
	mu sync.Mutex

	numChildren int
	chunkSize   int // StripSize * BlockLen, bytes per child's scratch buffer

	capacity int
	byStripe map[uint64]*slot
	free     []*slot

	fakeHead *slot
	fakeTail *slot
	active   int

	reclaimHook func()
}

// New creates a Cache with room for capacity stripes, each needing
// numChildren scratch buffers of chunkSize bytes.
func New(capacity, numChildren, chunkSize int) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("stripecache: capacity must be positive")
	}

	c := &Cache{
		numChildren: numChildren,
		chunkSize:   chunkSize,
		capacity:    capacity,
		byStripe:    make(map[uint64]*slot, capacity),
	}
	c.fakeHead = &slot{}
	c.fakeTail = &slot{}
	link(c.fakeHead, c.fakeTail)

	for i := 0; i < capacity; i++ {
		s, err := newSlot(numChildren, chunkSize)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.free = append(c.free, s)
	}
	return c, nil
}

func newSlot(numChildren, chunkSize int) (*slot, error) {
	region, err := unix.Mmap(-1, 0, numChildren*chunkSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("stripecache: mmap scratch region: %w", err)
	}
	s := &slot{mmapBase: region}
	s.chunkBufs = make([][]byte, numChildren)
	for i := 0; i < numChildren; i++ {
		s.chunkBufs[i] = region[i*chunkSize : (i+1)*chunkSize]
	}
	return s, nil
}

func link(a, b *slot) { a.next, b.prev = b, a }

func (c *Cache) head() *slot { return c.fakeHead.next }
func (c *Cache) atEnd(s *slot) bool { return s == c.fakeTail }

// pushFront links s in as the most-recently-used active entry.
func (c *Cache) pushFront(s *slot) {
	link(s, c.fakeHead.next)
	link(c.fakeHead, s)
	s.inUse = true
	c.active++
}

// detach unlinks s from the active list without touching its refcount.
func (c *Cache) detach(s *slot) {
	link(s.prev, s.next)
	s.prev, s.next = nil, nil
	s.inUse = false
	c.active--
}

// moveToFront re-links an already-active slot to the head, implementing
// the MRU bump on cache hit.
func (c *Cache) moveToFront(s *slot) {
	c.detach(s)
	c.pushFront(s)
}

// Get looks up the slot for stripe, creating one if it isn't cached.
// Returns (slot, isNew, nil) on success. If the cache is full and
// reclaim can't free a slot (every cached stripe has requests pinned
// against it), it returns (Slot{}, false, ErrNoMem).
func (c *Cache) Get(stripe uint64) (Slot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.byStripe[stripe]; ok {
		c.moveToFront(s)
		s.refs++
		return Slot{s}, false, nil
	}

	s := c.takeFree()
	if s == nil {
		c.reclaim()
		s = c.takeFree()
	}
	if s == nil {
		return Slot{}, false, ErrNoMem
	}

	s.stripe = stripe
	s.valid = false
	s.refs = 1
	s.reqHead, s.reqTail = nil, nil
	c.byStripe[stripe] = s
	c.pushFront(s)
	return Slot{s}, true, nil
}

func (c *Cache) takeFree() *slot {
	n := len(c.free)
	if n == 0 {
		return nil
	}
	s := c.free[n-1]
	c.free = c.free[:n-1]
	return s
}

// reclaim evicts unreferenced stripes from the tail of the active list
// until occupancy drops to the configured fraction of capacity,
// returning evicted slots to the free list. Slots with outstanding refs
// (pinned by in-flight requests) are never evicted; reclaim simply
// stops early if it runs out of evictable candidates.
func (c *Cache) reclaim() {
	target := c.capacity * constants.ReclaimTargetNumerator / constants.ReclaimTargetDenominator
	cur := c.tail()
	for c.active > target && !c.atEnd(cur) {
		prev := cur.prev
		if cur.refs == 0 {
			c.detach(cur)
			delete(c.byStripe, cur.stripe)
			cur.valid = false
			c.free = append(c.free, cur)
			c.onReclaimed()
		}
		cur = prev
	}
}

func (c *Cache) tail() *slot { return c.fakeTail.prev }

// onReclaimed calls the hook installed by SetReclaimHook to drive
// metrics; with no hook installed it is a no-op.
func (c *Cache) onReclaimed() {
	if c.reclaimHook != nil {
		c.reclaimHook()
	}
}

// reclaimHook, set via SetReclaimHook, lets the array count reclaims
// for metrics without stripecache depending on the metrics package.
var _ = (*Cache)(nil)

// SetReclaimHook installs a callback invoked once per slot reclaimed.
func (c *Cache) SetReclaimHook(fn func()) {
	c.reclaimHook = fn
}

// EnqueueRequest appends req to s's FIFO wait queue under the cache's
// lock, returning true if req is now the sole entry (it may run
// immediately; otherwise it must wait for a DequeueRequest call to pull
// it to the front once the current head finishes).
func (c *Cache) EnqueueRequest(s Slot, req *reqpool.Request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.Enqueue(req)
}

// DequeueRequest pops the finished request at the front of s's FIFO and
// returns the next request to run, or nil if the queue is now empty.
func (c *Cache) DequeueRequest(s Slot) *reqpool.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.Dequeue()
}

// Release drops a reference taken by Get. The slot stays cached (it
// remains in the active list) until reclaim evicts it; Release never
// evicts eagerly, matching the "cache until pressure forces reclaim"
// policy in spec section 4.3.
func (c *Cache) Release(s Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.s.refs > 0 {
		s.s.refs--
	}
}

// Close releases every slot's mmap region. Only safe once no Slot
// handles are outstanding.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := append([]*slot{}, c.free...)
	for s := c.head(); !c.atEnd(s); s = s.next {
		all = append(all, s)
	}
	var firstErr error
	for _, s := range all {
		if s.mmapBase == nil {
			continue
		}
		if err := unix.Munmap(s.mmapBase); err != nil && firstErr == nil {
			firstErr = err
		}
		s.mmapBase = nil
	}
	return firstErr
}

// Len returns the number of stripes currently cached (active list size).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Capacity returns the cache's fixed slot capacity.
func (c *Cache) Capacity() int { return c.capacity }
