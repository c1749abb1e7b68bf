package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannel_OverwritesOldest(t *testing.T) {
	rc := New[int](3)

	for i := 0; i < 10; i++ {
		rc.Send(i)
	}

	require.Equal(t, 3, rc.Len())
	assert.Equal(t, 7, <-rc.C())
	assert.Equal(t, 8, <-rc.C())
	assert.Equal(t, 9, <-rc.C())

	m := rc.Metrics()
	assert.Equal(t, int64(10), m.Written)
	assert.Equal(t, int64(7), m.Overwritten)
}

func TestRingChannel_SendReportsDrop(t *testing.T) {
	rc := New[string](1)

	assert.False(t, rc.Send("a"))
	assert.True(t, rc.Send("b"))
	assert.Equal(t, "b", <-rc.C())
}

func TestRingChannel_Drain(t *testing.T) {
	rc := New[int](4)
	rc.Send(1)
	rc.Send(2)

	assert.Equal(t, 2, rc.Drain())
	assert.Equal(t, 0, rc.Len())
	assert.Equal(t, 4, rc.Cap())
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
