// Package ichannel implements the per-channel execution model: a
// single pinned goroutine owns a channel's work queue, the same way
// the ublk queue runner pins one OS thread per queue and processes
// completions only on that thread. Stripe requests submitted to a
// Channel run strictly one after another on its goroutine; concurrent
// child I/O within a single submission still fans out across
// goroutines (there is no single-threaded syscall boundary to respect
// here), but queue ownership and retry back-pressure are serialized
// per channel exactly like the queue runner's ioLoop.
package ichannel

import (
	"context"
	"runtime"
	"sync"

	"github.com/behrlich/go-raid5/internal/interfaces"
)

type workItem struct {
	fn     func() error
	result chan error
}

// Channel owns one pinned goroutine that runs submitted tasks strictly
// in order, plus a retry queue for tasks that failed with NOMEM and
// are waiting on resources to free up elsewhere in the array.
type Channel struct {
	ID int

	ctx    context.Context
	cancel context.CancelFunc
	work   chan workItem
	done   chan struct{}

	logger   interfaces.Logger
	observer interfaces.Observer

	retryMu    sync.Mutex
	retryQueue []func() error
}

// New creates a Channel. Call Start to spin up its goroutine.
func New(id int, logger interfaces.Logger, observer interfaces.Observer) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		ID:       id,
		ctx:      ctx,
		cancel:   cancel,
		work:     make(chan workItem),
		done:     make(chan struct{}),
		logger:   logger,
		observer: observer,
	}
}

// Start launches the channel's pinned goroutine.
func (c *Channel) Start() {
	go c.loop()
}

// Stop signals the goroutine to exit and waits for it to do so.
func (c *Channel) Stop() {
	c.cancel()
	<-c.done
}

func (c *Channel) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(c.done)

	if c.logger != nil {
		c.logger.Debugf("channel %d: loop starting (pinned to OS thread)", c.ID)
	}

	for {
		select {
		case <-c.ctx.Done():
			if c.logger != nil {
				c.logger.Debugf("channel %d: loop stopping", c.ID)
			}
			return
		case item := <-c.work:
			item.result <- item.fn()
		}
	}
}

// Submit runs fn on the channel's goroutine and blocks until it
// completes, returning fn's error. Submissions from multiple callers
// queue and run strictly one at a time.
func (c *Channel) Submit(fn func() error) error {
	result := make(chan error, 1)
	select {
	case c.work <- workItem{fn: fn, result: result}:
	case <-c.ctx.Done():
		return context.Canceled
	}
	select {
	case err := <-result:
		return err
	case <-c.ctx.Done():
		return context.Canceled
	}
}

// QueueRetry parks fn on this channel's retry queue until the next
// DrainRetries. Array.SubmitRW does not call it: stripe cache or request
// pool exhaustion is returned to SubmitRW's caller as a CodeNoMem error
// and is not retried automatically.
func (c *Channel) QueueRetry(fn func() error) {
	c.retryMu.Lock()
	defer c.retryMu.Unlock()
	c.retryQueue = append(c.retryQueue, fn)
	if c.observer != nil {
		c.observer.ObserveRetryQueued()
	}
}

// DrainRetries re-submits every queued retry, in FIFO order, and
// returns how many still failed (and were re-queued) versus how many
// succeeded. Called by the array after a stripe slot or pool request is
// released, since that's the only thing that can turn a previous NOMEM
// into success.
func (c *Channel) DrainRetries() (succeeded, requeued int) {
	c.retryMu.Lock()
	pending := c.retryQueue
	c.retryQueue = nil
	c.retryMu.Unlock()

	for _, fn := range pending {
		if err := c.Submit(fn); err != nil {
			c.QueueRetry(fn)
			requeued++
		} else {
			succeeded++
		}
	}
	return succeeded, requeued
}

// PendingRetries reports how many tasks are currently parked on the
// retry queue.
func (c *Channel) PendingRetries() int {
	c.retryMu.Lock()
	defer c.retryMu.Unlock()
	return len(c.retryQueue)
}
