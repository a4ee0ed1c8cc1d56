package ioqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollReturnsZeroOnEmptyNonBlocking(t *testing.T) {
	r := NewReactor(4)
	defer r.Close()

	n, err := r.Poll(0)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPollInvokesQueuedHandler(t *testing.T) {
	r := NewReactor(4)
	defer r.Close()

	called := false
	r.Notify(Event{Handler: func() { called = true }})

	n, err := r.Poll(0)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, called)
}

func TestPollWaitsUpToTimeout(t *testing.T) {
	r := NewReactor(4)
	defer r.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Notify(Event{Handler: func() {}})
	}()

	start := time.Now()
	n, err := r.Poll(100 * time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPollOneEventPerCall(t *testing.T) {
	r := NewReactor(4)
	defer r.Close()

	r.Notify(Event{Handler: func() {}})
	r.Notify(Event{Handler: func() {}})

	n1, _ := r.Poll(0)
	n2, _ := r.Poll(0)
	n3, _ := r.Poll(0)
	assert.Equal(t, 1, n1)
	assert.Equal(t, 1, n2)
	assert.Equal(t, 0, n3)
}

func TestCloseStopsDelivery(t *testing.T) {
	r := NewReactor(4)
	require := assert.New(t)
	require.NoError(r.Close())

	n, err := r.Poll(0)
	require.NoError(err)
	require.Equal(0, n)

	// Notify after close must not panic or block.
	r.Notify(Event{Handler: func() {}})
}
