package ichannel

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitReturnsTaskError(t *testing.T) {
	c := New(0, nil, nil)
	c.Start()
	defer c.Stop()

	err := c.Submit(func() error { return nil })
	require.NoError(t, err)

	sentinel := errors.New("boom")
	err = c.Submit(func() error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func TestSubmitSerializesConcurrentCallers(t *testing.T) {
	c := New(0, nil, nil)
	c.Start()
	defer c.Stop()

	var active atomic.Int32
	var maxActive atomic.Int32
	task := func() error {
		n := active.Add(1)
		for {
			cur := maxActive.Load()
			if n <= cur || maxActive.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return nil
	}

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			_ = c.Submit(task)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Equal(t, int32(1), maxActive.Load(), "channel must run one task at a time")
}

func TestRetryQueueDrainsOnSuccess(t *testing.T) {
	c := New(0, nil, nil)
	c.Start()
	defer c.Stop()

	attempts := 0
	task := func() error {
		attempts++
		if attempts < 2 {
			return errors.New("nomem")
		}
		return nil
	}

	c.QueueRetry(task)
	assert.Equal(t, 1, c.PendingRetries())

	succeeded, requeued := c.DrainRetries()
	assert.Equal(t, 0, succeeded)
	assert.Equal(t, 1, requeued)

	succeeded, requeued = c.DrainRetries()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, requeued)
	assert.Equal(t, 0, c.PendingRetries())
}
