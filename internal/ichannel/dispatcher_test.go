package ichannel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-raid5/child"
)

func TestReadAllGathersFromEveryDevice(t *testing.T) {
	d0 := child.NewMemory(4096)
	d1 := child.NewMemory(4096)
	_, err := d0.WriteAt([]byte("aaaa"), 0)
	require.NoError(t, err)
	_, err = d1.WriteAt([]byte("bbbb"), 0)
	require.NoError(t, err)

	buf0 := make([]byte, 4)
	buf1 := make([]byte, 4)
	ops := []ChunkOp{
		{Device: d0, Buf: buf0, Offset: 0},
		{Device: d1, Buf: buf1, Offset: 0},
	}

	var disp Dispatcher
	require.NoError(t, disp.ReadAll(ops))
	assert.Equal(t, []byte("aaaa"), buf0)
	assert.Equal(t, []byte("bbbb"), buf1)
}

func TestWriteAllFansOutToEveryDevice(t *testing.T) {
	d0 := child.NewMemory(4096)
	d1 := child.NewMemory(4096)

	ops := []ChunkOp{
		{Device: d0, Buf: []byte("xxxx"), Offset: 0},
		{Device: d1, Buf: []byte("yyyy"), Offset: 0},
	}

	var disp Dispatcher
	require.NoError(t, disp.WriteAll(ops))

	buf := make([]byte, 4)
	_, err := d0.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("xxxx"), buf)
}

func TestReadAllPropagatesFirstError(t *testing.T) {
	d0 := child.NewMockDevice(4096)
	d0.SetFailReads(true)
	d1 := child.NewMemory(4096)

	ops := []ChunkOp{
		{Device: d0, Buf: make([]byte, 4), Offset: 0},
		{Device: d1, Buf: make([]byte, 4), Offset: 0},
	}

	var disp Dispatcher
	assert.Error(t, disp.ReadAll(ops))
}
