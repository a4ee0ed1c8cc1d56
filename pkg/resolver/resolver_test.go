package resolver

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipkit/sipkit/pkg/ioqueue"
)

func TestResolveLiteralIPSkipsDNS(t *testing.T) {
	mux := ioqueue.NewReactor(4)
	defer mux.Close()
	r := New(mux, nil)

	done := make(chan struct{})
	var gotAddrs []netip.AddrPort
	var gotErr error

	r.Resolve(context.Background(), Target{Host: "192.0.2.10", Port: 5060, DefaultPort: 5060}, func(addrs []netip.AddrPort, err error) {
		gotAddrs, gotErr = addrs, err
		close(done)
	})

	n, err := mux.Poll(time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	<-done

	require.NoError(t, gotErr)
	require.Len(t, gotAddrs, 1)
	assert.Equal(t, "192.0.2.10:5060", gotAddrs[0].String())
}

func TestResolveRunsContinuationOnMultiplexer(t *testing.T) {
	mux := ioqueue.NewReactor(4)
	defer mux.Close()
	r := New(mux, nil)

	pollerGoroutine := make(chan struct{})
	go func() {
		defer close(pollerGoroutine)
		_, _ = mux.Poll(time.Second)
	}()

	ran := false
	r.Resolve(context.Background(), Target{Host: "203.0.113.1", DefaultPort: 5061}, func([]netip.AddrPort, error) { ran = true })
	<-pollerGoroutine
	assert.True(t, ran, "continuation must run inside the multiplexer's Poll")
}
