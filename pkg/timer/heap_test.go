package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipkit/sipkit/pkg/config"
)

func TestScheduleFiresInOrder(t *testing.T) {
	h := New(&config.Tunables{})
	var order []int

	for i, d := range []time.Duration{30 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond} {
		i := i
		_, err := h.Schedule(d, func() { order = append(order, i) })
		require.NoError(t, err)
	}

	time.Sleep(40 * time.Millisecond)
	fired, _, hasNext := h.Poll()
	assert.Equal(t, 3, fired)
	assert.False(t, hasNext)
	assert.Equal(t, []int{1, 2, 0}, order)
}

func TestCancelPreventsFiring(t *testing.T) {
	h := New(&config.Tunables{})
	fired := false
	e, err := h.Schedule(5*time.Millisecond, func() { fired = true })
	require.NoError(t, err)
	h.Cancel(e)

	time.Sleep(10 * time.Millisecond)
	h.Poll()
	assert.False(t, fired)
}

func TestScheduleRespectsMaxEntries(t *testing.T) {
	h := New(&config.Tunables{MaxTimerEntries: 1})
	_, err := h.Schedule(time.Second, func() {})
	require.NoError(t, err)

	_, err = h.Schedule(time.Second, func() {})
	assert.Error(t, err)
}

func TestPollBoundsFirePerPoll(t *testing.T) {
	h := New(&config.Tunables{MaxTimedOutPerPoll: 2})
	n := 0
	for i := 0; i < 5; i++ {
		_, err := h.Schedule(0, func() { n++ })
		require.NoError(t, err)
	}

	fired, _, hasNext := h.Poll()
	assert.Equal(t, 2, fired)
	assert.True(t, hasNext)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, h.Len())
}
