package endpoint

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipkit/sipkit/pkg/buffer"
	"github.com/sipkit/sipkit/pkg/config"
	"github.com/sipkit/sipkit/pkg/ioqueue"
	"github.com/sipkit/sipkit/pkg/message"
	"github.com/sipkit/sipkit/pkg/module"
	"github.com/sipkit/sipkit/pkg/resolver"
	"github.com/sipkit/sipkit/pkg/timer"
	"github.com/sipkit/sipkit/pkg/transport"
)

type recordingModule struct {
	module.Noop
	name    string
	prio    module.Priority
	handles bool
	calls   *[]string
}

func (m *recordingModule) Name() string             { return m.name }
func (m *recordingModule) Priority() module.Priority { return m.prio }
func (m *recordingModule) OnRxRequest(msg message.Message) module.Disposition {
	*m.calls = append(*m.calls, m.name)
	if m.handles {
		return module.Handled
	}
	return module.NotHandled
}

func newTestEndpoint(t *testing.T) *Endpoint {
	t.Helper()
	tun := &config.Tunables{
		MaxModules:         8,
		MaxTimerEntries:    100,
		MaxTimedOutPerPoll: 10,
		MaxNetEvents:       8,
		MaxTransports:      16,
		MaxPacketLen:       1500,
		TransportIdleGrace: time.Second,
	}
	return New(
		"test",
		tun,
		timer.New(tun),
		ioqueue.NewReactor(4),
		resolver.New(ioqueue.NewReactor(4), nil),
		transport.NewRegistry(tun),
		buffer.NewPool(tun),
		message.BasicPrinter{},
	)
}

func TestRegisterModuleOrdersByPriorityStableOnTies(t *testing.T) {
	e := newTestEndpoint(t)
	var calls []string

	a := &recordingModule{name: "A", prio: 10, handles: true, calls: &calls}
	b := &recordingModule{name: "B", prio: 5, calls: &calls}
	c := &recordingModule{name: "C", prio: 10, handles: true, calls: &calls}

	require.NoError(t, e.RegisterModule(a))
	require.NoError(t, e.RegisterModule(b))
	require.NoError(t, e.RegisterModule(c))

	req := message.NewRequest("OPTIONS", "sip:alice@example.com")
	e.DispatchRx(RxEvent{Msg: req})

	// S1: B (prio 5) is visited first and declines; A (prio 10,
	// registered before C) handles it, so C is never called.
	assert.Equal(t, []string{"B", "A"}, calls)
}

func TestRegisterModuleRejectsDuplicateName(t *testing.T) {
	e := newTestEndpoint(t)
	var calls []string
	require.NoError(t, e.RegisterModule(&recordingModule{name: "dup", prio: 1, calls: &calls}))
	err := e.RegisterModule(&recordingModule{name: "DUP", prio: 2, calls: &calls})
	assert.Error(t, err)
}

func TestDispatchRxWalksInPriorityOrderWhenNoneHandle(t *testing.T) {
	e := newTestEndpoint(t)
	var calls []string
	require.NoError(t, e.RegisterModule(&recordingModule{name: "A", prio: 10, calls: &calls}))
	require.NoError(t, e.RegisterModule(&recordingModule{name: "B", prio: 5, calls: &calls}))
	require.NoError(t, e.RegisterModule(&recordingModule{name: "C", prio: 10, calls: &calls}))

	req := message.NewRequest("OPTIONS", "sip:alice@example.com")
	e.DispatchRx(RxEvent{Msg: req})

	assert.Equal(t, []string{"B", "A", "C"}, calls)
}

func TestSentByMismatchDropsResponseSilently(t *testing.T) {
	e := newTestEndpoint(t)
	var calls []string
	require.NoError(t, e.RegisterModule(&recordingModuleResp{name: "A", prio: 1, handles: true, calls: &calls}))

	resp := message.NewResponse(200, "OK")
	resp.Headers().Add("Via", "SIP/2.0/UDP wrong.example:1234")

	e.DispatchRx(RxEvent{Msg: resp, LocalName: "right.example:5060"})

	assert.Empty(t, calls, "S5: mismatched sent-by host+port with no rport match must drop before any module sees it")
}

func TestSentByMismatchToleratedWithMatchingRport(t *testing.T) {
	e := newTestEndpoint(t)
	var calls []string
	require.NoError(t, e.RegisterModule(&recordingModuleResp{name: "A", prio: 1, handles: true, calls: &calls}))

	resp := message.NewResponse(200, "OK")
	resp.Headers().Add("Via", "SIP/2.0/UDP wrong.example:1234;rport=5060")

	e.DispatchRx(RxEvent{Msg: resp, LocalName: "right.example:5060"})

	assert.Equal(t, []string{"A"}, calls, "matching rport should rescue a host/port mismatch from being dropped")
}

type recordingModuleResp struct {
	module.Noop
	name    string
	prio    module.Priority
	handles bool
	calls   *[]string
}

func (m *recordingModuleResp) Name() string             { return m.name }
func (m *recordingModuleResp) Priority() module.Priority { return m.prio }
func (m *recordingModuleResp) OnRxResponse(msg message.Message) module.Disposition {
	*m.calls = append(*m.calls, m.name)
	if m.handles {
		return module.Handled
	}
	return module.NotHandled
}

func TestDispatchTxWalksReversePriorityAndStopsOnFailure(t *testing.T) {
	e := newTestEndpoint(t)
	var calls []string
	require.NoError(t, e.RegisterModule(&txModule{name: "low", prio: 1, calls: &calls}))
	require.NoError(t, e.RegisterModule(&txModule{name: "high", prio: 10, fail: true, calls: &calls}))

	req := message.NewRequest("OPTIONS", "sip:alice@example.com")
	sent := e.DispatchTx(req)

	assert.False(t, sent)
	assert.Equal(t, []string{"high"}, calls, "tx walk visits high priority first (tail->head) and halts on failure")
}

type txModule struct {
	module.Noop
	name  string
	prio  module.Priority
	fail  bool
	calls *[]string
}

func (m *txModule) Name() string             { return m.name }
func (m *txModule) Priority() module.Priority { return m.prio }
func (m *txModule) OnTxRequest(msg message.Message) module.Disposition {
	*m.calls = append(*m.calls, m.name)
	if m.fail {
		return module.Handled
	}
	return module.NotHandled
}

func TestAddCapabilityDeduplicates(t *testing.T) {
	e := newTestEndpoint(t)
	e.AddCapability(CapAllow, "INVITE", "BYE")
	e.AddCapability(CapAllow, "BYE", "CANCEL")

	tags, ok := e.GetCapability(CapAllow)
	require.True(t, ok)
	assert.Equal(t, []string{"INVITE", "BYE", "CANCEL"}, tags)
}

func newBoundTestEndpoint(t *testing.T, maxModules int) *Endpoint {
	t.Helper()
	tun := &config.Tunables{
		MaxModules:         maxModules,
		MaxTimerEntries:    10,
		MaxTimedOutPerPoll: 10,
		MaxNetEvents:       4,
		MaxTransports:      4,
		MaxPacketLen:       1500,
		TransportIdleGrace: time.Second,
	}
	return New(
		"bound-test",
		tun,
		timer.New(tun),
		ioqueue.NewReactor(4),
		resolver.New(ioqueue.NewReactor(4), nil),
		transport.NewRegistry(tun),
		buffer.NewPool(tun),
		message.BasicPrinter{},
	)
}

func TestRegisterModuleAssignsLowestFreeIdAndEnforcesBound(t *testing.T) {
	e := newBoundTestEndpoint(t, 1)
	var calls []string

	a := &recordingModule{name: "A", prio: 1, calls: &calls}
	require.NoError(t, e.RegisterModule(a))
	assert.Equal(t, 0, a.Id())

	b := &recordingModule{name: "B", prio: 1, calls: &calls}
	err := e.RegisterModule(b)
	assert.Error(t, err, "module table full")
	assert.Equal(t, -1, b.Id())

	require.NoError(t, e.UnregisterModule(a))
	assert.Equal(t, -1, a.Id())

	require.NoError(t, e.RegisterModule(b))
	assert.Equal(t, 0, b.Id(), "freed slot 0 is reused by the next registration")
}

type mockTxTransport struct {
	remote net.Addr
	sent   [][]byte
}

func (tr *mockTxTransport) Type() transport.Type           { return transport.TypeTCP }
func (tr *mockTxTransport) RemoteAddr() net.Addr           { return tr.remote }
func (tr *mockTxTransport) Flags() transport.Flag          { return transport.FlagReliable }
func (tr *mockTxTransport) LocalAddr() net.Addr            { return tr.remote }
func (tr *mockTxTransport) AddrName() string               { return tr.remote.String() }
func (tr *mockTxTransport) Receive(context.Context) ([]byte, error) { return nil, nil }
func (tr *mockTxTransport) Close() error                   { return nil }
func (tr *mockTxTransport) Send(_ context.Context, packet []byte) error {
	tr.sent = append(tr.sent, packet)
	return nil
}

type mockTxFactory struct {
	created []*mockTxTransport
}

func (f *mockTxFactory) Type() transport.Type { return transport.TypeTCP }
func (f *mockTxFactory) Create(_ context.Context, remote net.Addr) (transport.Transport, error) {
	tr := &mockTxTransport{remote: remote}
	f.created = append(f.created, tr)
	return tr, nil
}

func TestSendPrintsAndWritesThroughTransportRegistry(t *testing.T) {
	e := newTestEndpoint(t)
	factory := &mockTxFactory{}
	e.Transport.RegisterFactory(factory)

	remote := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5060}
	req := message.NewRequest("OPTIONS", "sip:alice@example.com")

	n, err := e.Send(context.Background(), req, transport.TypeTCP, remote)
	require.NoError(t, err)
	assert.Positive(t, n)
	require.Len(t, factory.created, 1)
	require.Len(t, factory.created[0].sent, 1)
	assert.Equal(t, n, len(factory.created[0].sent[0]))
}

func TestSendVetoedByTxModuleNeverReachesTransport(t *testing.T) {
	e := newTestEndpoint(t)
	factory := &mockTxFactory{}
	e.Transport.RegisterFactory(factory)

	var calls []string
	require.NoError(t, e.RegisterModule(&txModule{name: "veto", prio: 1, fail: true, calls: &calls}))

	remote := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5060}
	req := message.NewRequest("OPTIONS", "sip:alice@example.com")

	_, err := e.Send(context.Background(), req, transport.TypeTCP, remote)
	assert.Error(t, err)
	assert.Empty(t, factory.created)
}

func TestHandleEventsCountsTimersAndIO(t *testing.T) {
	e := newTestEndpoint(t)
	fired := 0
	_, err := e.ScheduleTimer(0, func() { fired++ })
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	n, err := e.HandleEvents(10 * time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
	assert.Equal(t, 1, fired)
}
