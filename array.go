// Package raid5 implements a RAID-5 stripe execution engine: parity
// rotation and read/write planning over a fixed set of child devices,
// with an in-memory stripe cache and per-channel request serialization
// standing in for the kernel-facing queue machinery a real block-device
// virtualization layer would have.
package raid5

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/behrlich/go-raid5/child"
	"github.com/behrlich/go-raid5/internal/constants"
	"github.com/behrlich/go-raid5/internal/geometry"
	"github.com/behrlich/go-raid5/internal/ichannel"
	"github.com/behrlich/go-raid5/internal/iov"
	"github.com/behrlich/go-raid5/internal/parity"
	"github.com/behrlich/go-raid5/internal/planner"
	"github.com/behrlich/go-raid5/internal/reqpool"
	"github.com/behrlich/go-raid5/internal/stripecache"
)

// ArrayParams configures a new Array. RAID module registration, array
// topology discovery across multiple arrays, and the host block-device
// framework that would submit requests into SubmitRW are all out of
// scope: this struct only covers what one array's execution engine
// needs to run.
type ArrayParams struct {
	// Children are the array's member devices in physical order,
	// including the rotating parity slot. Must be at least 3.
	Children []child.Device

	// StripSize is blocks-per-child-per-stripe; must be a power of two.
	StripSize uint64
	// BlockLen is bytes per block.
	BlockLen uint32

	// MaxStripes bounds the stripe cache's slot count.
	MaxStripes int
	// RequestPoolMultiplier sizes the request pool as
	// RequestPoolMultiplier * MaxStripes.
	RequestPoolMultiplier int
	// NumChannels is how many independent, pinned-goroutine execution
	// channels the array runs. Stripes hash to a home channel so a
	// given stripe's requests always serialize on the same goroutine.
	NumChannels int

	Logger   Logger
	Observer Observer
}

// DefaultArrayParams returns an ArrayParams with the package defaults
// filled in, for the common case of a caller that only needs to supply
// Children.
func DefaultArrayParams(children []child.Device) ArrayParams {
	numChannels := runtime.NumCPU()
	if numChannels > 4 {
		numChannels = 4
	}
	if numChannels < 1 {
		numChannels = 1
	}
	return ArrayParams{
		Children:              children,
		StripSize:             DefaultStripSize,
		BlockLen:              DefaultBlockLen,
		MaxStripes:            DefaultMaxStripes,
		RequestPoolMultiplier: DefaultRequestPoolMultiplier,
		NumChannels:           numChannels,
	}
}

func (p ArrayParams) validate() error {
	if len(p.Children) < constants.BaseBdevsMin {
		return fmt.Errorf("raid5: need at least %d children, got %d", constants.BaseBdevsMin, len(p.Children))
	}
	if p.MaxStripes <= 0 {
		return fmt.Errorf("raid5: MaxStripes must be positive")
	}
	if p.RequestPoolMultiplier <= 0 {
		return fmt.Errorf("raid5: RequestPoolMultiplier must be positive")
	}
	if p.NumChannels <= 0 {
		return fmt.Errorf("raid5: NumChannels must be positive")
	}
	return nil
}

// Op identifies the direction of a SubmitRW call.
type Op int

const (
	OpRead Op = iota
	OpWrite
)

// Array is a running RAID-5 stripe execution engine over a fixed child
// set. It owns the stripe cache, request pool, and one Channel per
// configured concurrency slot; SubmitRW routes each call to its stripe's
// home channel so per-stripe request ordering never has to reason about
// concurrent mutation of the same cache slot.
type Array struct {
	params ArrayParams
	geom   geometry.Geometry

	cache    *stripecache.Cache
	pool     *reqpool.Pool
	channels []*ichannel.Channel

	writer *planner.Writer
	reader *planner.Reader

	metrics  *Metrics
	observer Observer
	logger   Logger

	mu     sync.Mutex
	closed bool
}

// NewArray builds the geometry, stripe cache, request pool, and channel
// pool described by params, but does not start the channels — call
// Start before submitting requests.
func NewArray(params ArrayParams) (*Array, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	geom, err := geometry.New(len(params.Children), params.StripSize, params.BlockLen)
	if err != nil {
		return nil, fmt.Errorf("raid5: %w", err)
	}

	chunkSize := int(params.StripSize) * int(params.BlockLen)
	cache, err := stripecache.New(params.MaxStripes, len(params.Children), chunkSize)
	if err != nil {
		return nil, fmt.Errorf("raid5: stripe cache: %w", err)
	}

	pool := reqpool.New(params.MaxStripes * params.RequestPoolMultiplier)

	metrics := NewMetrics()
	observer := params.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}
	cache.SetReclaimHook(observer.ObserveStripeReclaimed)

	logger := params.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	channels := make([]*ichannel.Channel, params.NumChannels)
	for i := range channels {
		channels[i] = ichannel.New(i, logger, observer)
	}

	kernel := parity.NewKernel()
	a := &Array{
		params:   params,
		geom:     geom,
		cache:    cache,
		pool:     pool,
		channels: channels,
		writer:   &planner.Writer{Geometry: geom, Kernel: kernel, Children: params.Children, Disp: ichannel.Dispatcher{}},
		reader:   &planner.Reader{Geometry: geom, Kernel: kernel, Children: params.Children, Disp: ichannel.Dispatcher{}},
		metrics:  metrics,
		observer: observer,
		logger:   logger,
	}
	return a, nil
}

// Metrics returns the array's metrics instance. It is never nil, but if a
// custom Observer was supplied via ArrayParams.Observer the array records
// into that Observer instead and these counters stay at zero.
func (a *Array) Metrics() *Metrics { return a.metrics }

// Geometry returns the array's addressing geometry.
func (a *Array) Geometry() geometry.Geometry { return a.geom }

// Start launches every channel's pinned goroutine and performs
// ChannelResourceInit for each. SubmitRW on an unstarted array blocks
// forever (no goroutine reads the channel's work queue), so callers must
// Start before issuing requests.
func (a *Array) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	for _, ch := range a.channels {
		ch.Start()
	}
	for i := range a.channels {
		if err := a.channelResourceInitLocked(i); err != nil {
			return err
		}
	}
	return nil
}

// ChannelResourceInit (re-)initializes a channel's per-channel
// resources, which here is only its retry queue; there is no iovec
// wrapper pool and no separate fast-path plain read. It's exposed for a host
// framework that creates I/O channels on demand rather than up front;
// Start already calls it for every configured channel.
func (a *Array) ChannelResourceInit(channelID int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.channelResourceInitLocked(channelID)
}

func (a *Array) channelResourceInitLocked(channelID int) error {
	if channelID < 0 || channelID >= len(a.channels) {
		return NewError("ChannelResourceInit", 0, CodeInvalidParams, fmt.Sprintf("channel %d out of range", channelID))
	}
	// The retry queue and goroutine are already allocated by
	// ichannel.New; draining here discards any stale retries left over
	// from a previous init of the same channel slot.
	a.channels[channelID].DrainRetries()
	return nil
}

// ChannelResourceDeinit drains a channel's pending retries before the
// host framework tears down its I/O channel. Pending retries that still
// fail are reported as requeued rather than silently dropped.
func (a *Array) ChannelResourceDeinit(channelID int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if channelID < 0 || channelID >= len(a.channels) {
		return NewError("ChannelResourceDeinit", 0, CodeInvalidParams, fmt.Sprintf("channel %d out of range", channelID))
	}
	if _, requeued := a.channels[channelID].DrainRetries(); requeued > 0 {
		return NewError("ChannelResourceDeinit", 0, CodeNoMem, fmt.Sprintf("channel %d still has %d retries pending", channelID, requeued))
	}
	return nil
}

// Stop drains and stops every channel and releases the stripe cache's
// mmap'd scratch regions. After Stop returns, SubmitRW always fails with
// ErrClosed.
func (a *Array) Stop() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	for i, ch := range a.channels {
		_ = a.ChannelResourceDeinit(i)
		ch.Stop()
	}
	a.metrics.Stop()
	return a.cache.Close()
}

// homeChannel picks the channel a given stripe's requests always route
// through, so two requests against the same stripe never race on its
// cache slot or FIFO.
func (a *Array) homeChannel(stripe uint64) *ichannel.Channel {
	return a.channels[stripe%uint64(len(a.channels))]
}

// SubmitRW services one host read or write confined to a single stripe.
// Callers spanning more than one stripe must split the request at stripe
// boundaries first (Geometry().Decompose maps a block offset to its stripe
// and in-stripe offset) — SubmitRW itself only knows how to plan within
// one stripe, matching geometry.Geometry. A write touching more than one
// data chunk within that stripe is handled directly by planner.Writer
// (it picks read-modify-write or reconstruction write per its own vote).
//
// Concurrent calls against the same stripe serialize through the
// stripe's request FIFO (stripecache.Slot.Enqueue/Dequeue) rather than
// through channel contention alone: the first caller to enqueue runs
// immediately; anyone behind it waits for req.Done and gets dispatched
// to the stripe's home channel once the current head completes, the
// same handle_stripe / complete_stripe_request chaining the cache
// package implements.
func (a *Array) SubmitRW(op Op, offsetBlocks, numBlocks uint64, buf iov.Vecs) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}

	stripe, stripeOffset := a.geom.Decompose(offsetBlocks)

	req := a.pool.Get()
	if req == nil {
		a.observer.ObserveRetryQueued()
		return NewError("SubmitRW", stripe, CodeNoMem, "request pool exhausted")
	}
	defer a.pool.Put(req)

	req.Op = reqpool.Op(op)
	req.Stripe = stripe
	req.StripeOff = stripeOffset
	req.NumBlocks = numBlocks
	req.HostBuf = [][]byte(buf)

	slot, _, err := a.cache.Get(stripe)
	if err != nil {
		a.observer.ObserveRetryQueued()
		return NewError("SubmitRW", stripe, CodeNoMem, "stripe cache exhausted")
	}

	done := make(chan error, 1)
	req.Done = func(err error) { done <- err }

	ch := a.homeChannel(stripe)
	if a.cache.EnqueueRequest(slot, req) {
		a.dispatchStripeRequest(ch, slot, req)
	}
	// Otherwise the request currently running against this stripe will
	// dispatch us from its own completion once it dequeues us.

	opErr := <-done
	a.cache.Release(slot)

	// Re-run anything parked on this channel's retry queue via
	// Channel.QueueRetry now that a stripe slot and pool entry are
	// free again. SubmitRW itself never parks a request there: a NOMEM
	// above is returned to the caller as a CodeNoMem error.
	ch.DrainRetries()

	if opErr != nil {
		if aerr, ok := opErr.(*Error); ok {
			return aerr
		}
		return WrapError("SubmitRW", stripe, opErr)
	}
	return nil
}

// dispatchStripeRequest submits req's child I/O on ch and, once it
// completes, pops the stripe's next waiting request (if any) and
// dispatches it in turn — complete_stripe_request's cross-thread
// chaining. It runs from its own goroutine so the request that just
// finished never blocks waiting for the next one in line to run.
func (a *Array) dispatchStripeRequest(ch *ichannel.Channel, slot stripecache.Slot, req *reqpool.Request) {
	go func() {
		runErr := ch.Submit(func() error {
			return a.runStripeOp(slot, req)
		})

		next := a.cache.DequeueRequest(slot)
		if req.Done != nil {
			req.Done(runErr)
		}
		if next != nil {
			a.dispatchStripeRequest(ch, slot, next)
		}
	}()
}

// runStripeOp executes one already-dequeued, already-single-stripe
// request against its reserved cache slot: it invokes the matching
// planner and records metrics.
func (a *Array) runStripeOp(slot stripecache.Slot, req *reqpool.Request) error {
	start := time.Now()
	bytes := req.NumBlocks * uint64(a.geom.BlockLen)
	buf := iov.Vecs(req.HostBuf)

	var err error
	switch Op(req.Op) {
	case OpRead:
		err = a.reader.Read(slot, req.StripeOff, req.NumBlocks, buf)
		a.observer.ObserveRead(bytes, uint64(time.Since(start).Nanoseconds()), err == nil)
	case OpWrite:
		err = a.writer.Write(slot, req.StripeOff, req.NumBlocks, buf)
		a.observer.ObserveWrite(bytes, uint64(time.Since(start).Nanoseconds()), err == nil)
	default:
		err = NewError("SubmitRW", req.Stripe, CodeInvalidParams, "unknown op")
	}

	if err != nil {
		return WrapError("SubmitRW", req.Stripe, err)
	}
	return nil
}

// noopLogger is used when ArrayParams.Logger is left nil.
type noopLogger struct{}

func (noopLogger) Printf(string, ...interface{}) {}
func (noopLogger) Debugf(string, ...interface{}) {}
