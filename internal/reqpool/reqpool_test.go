package reqpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetExhaustsThenReturnsNil(t *testing.T) {
	p := New(2)
	r1 := p.Get()
	r2 := p.Get()
	require.NotNil(t, r1)
	require.NotNil(t, r2)
	assert.Nil(t, p.Get(), "pool must report NOMEM instead of growing")
}

func TestPutMakesSlotAvailableAgain(t *testing.T) {
	p := New(1)
	r := p.Get()
	require.NotNil(t, r)
	assert.Equal(t, 0, p.Available())

	p.Put(r)
	assert.Equal(t, 1, p.Available())

	r2 := p.Get()
	assert.NotNil(t, r2)
}

func TestGetReturnsZeroedRequest(t *testing.T) {
	p := New(1)
	r := p.Get()
	r.Stripe = 42
	r.Op = OpWrite
	p.Put(r)

	r2 := p.Get()
	assert.Equal(t, uint64(0), r2.Stripe)
	assert.Equal(t, OpRead, r2.Op)
}
