package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipkit/sipkit/pkg/errs"
	"github.com/sipkit/sipkit/pkg/evsub"
	"github.com/sipkit/sipkit/pkg/message"
)

type fakeDialog struct {
	mu    sync.Mutex
	local string
	remote string
}

func (d *fakeDialog) Lock()            { d.mu.Lock() }
func (d *fakeDialog) Unlock()           { d.mu.Unlock() }
func (d *fakeDialog) LocalURI() string  { return d.local }
func (d *fakeDialog) RemoteURI() string { return d.remote }

func newDialog() *fakeDialog {
	return &fakeDialog{local: "sip:alice@example.com", remote: "sip:bob@example.com"}
}

func subscribeRequest(event, accept, expires string) *message.Request {
	req := message.NewRequest("SUBSCRIBE", "sip:alice@example.com")
	if event != "" {
		req.Headers().Add("Event", event)
	}
	if accept != "" {
		req.Headers().Add("Accept", accept)
	}
	if expires != "" {
		req.Headers().Add("Expires", expires)
	}
	return req
}

func TestAdmitSubscribeDefaultsToPIDFWithoutAccept(t *testing.T) {
	req := subscribeRequest("presence", "", "300")
	ctx, expires, err := AdmitSubscribe(req, newDialog(), nil)
	require.NoError(t, err)
	assert.Equal(t, ContentPIDF, ctx.ContentType)
	assert.Equal(t, 300*time.Second, expires) // S2: effective expiry is min(requested, package default) = 300
	assert.Equal(t, evsub.StateAccepted, ctx.Sub.State())
}

func TestAdmitSubscribeClampsRequestAboveDefault(t *testing.T) {
	req := subscribeRequest("presence", "", "7200")
	_, expires, err := AdmitSubscribe(req, newDialog(), nil)
	require.NoError(t, err)
	assert.Equal(t, 600*time.Second, expires, "a request above the package default clamps down to it")
}

func TestAdmitSubscribeNegotiatesFromAccept(t *testing.T) {
	req := subscribeRequest("presence", "application/pidf+xml, application/xpidf+xml", "300")
	ctx, _, err := AdmitSubscribe(req, newDialog(), nil)
	require.NoError(t, err)
	assert.Equal(t, ContentPIDF, ctx.ContentType)
}

func TestAdmitSubscribeRejectsTooBrief(t *testing.T) {
	req := subscribeRequest("presence", "", "4")
	_, _, err := AdmitSubscribe(req, newDialog(), nil)
	require.Error(t, err)
	code, _ := ResponseFor(err)
	assert.Equal(t, 423, code) // S3
}

func TestAdmitSubscribeRejectsUnknownEvent(t *testing.T) {
	req := subscribeRequest("winfo", "", "300")
	_, _, err := AdmitSubscribe(req, newDialog(), nil)
	require.Error(t, err)
	code, _ := ResponseFor(err)
	assert.Equal(t, 489, code) // S4
}

func TestAdmitSubscribeRejectsAcceptWithNoKnownType(t *testing.T) {
	req := subscribeRequest("presence", "application/cpim-pidf+xml", "300")
	_, _, err := AdmitSubscribe(req, newDialog(), nil)
	require.Error(t, err)
	code, _ := ResponseFor(err)
	assert.Equal(t, 406, code)
}

func TestAdmitSubscribeWithXPIDFOption(t *testing.T) {
	req := subscribeRequest("presence", "application/xpidf+xml", "300")
	ctx, _, err := AdmitSubscribe(req, newDialog(), nil, WithXPIDF(true))
	require.NoError(t, err)
	assert.Equal(t, ContentXPIDF, ctx.ContentType)
}

func TestAdmitSubscribeRejectsXPIDFWhenDisabled(t *testing.T) {
	req := subscribeRequest("presence", "application/xpidf+xml", "300")
	_, _, err := AdmitSubscribe(req, newDialog(), nil)
	require.Error(t, err)
}

func TestInitiateBuildsSubscribeWithGeneratedIdentifiers(t *testing.T) {
	ctx := NewSubscriber(newDialog(), nil)
	req, err := ctx.Initiate(-1)
	require.NoError(t, err)

	assert.Equal(t, evsub.StateSent, ctx.Sub.State())
	callID, ok := req.Headers().Get("Call-ID")
	require.True(t, ok)
	assert.NotEmpty(t, callID)
	from, ok := req.Headers().Get("From")
	require.True(t, ok)
	assert.Contains(t, from, "tag=")
	expires, _ := req.Headers().Get("Expires")
	assert.Equal(t, "600", expires)
}

func TestNotifyRequiresPresenceInfo(t *testing.T) {
	ctx, _, err := AdmitSubscribe(subscribeRequest("presence", "", "300"), newDialog(), nil)
	require.NoError(t, err)
	_, err = ctx.Notify("active", "")
	assert.ErrorIs(t, err, errs.KindSentinel(errs.KindNoPresenceInfo))
}

func TestNotifyEmitsPIDFBody(t *testing.T) {
	ctx, _, err := AdmitSubscribe(subscribeRequest("presence", "", "300"), newDialog(), nil)
	require.NoError(t, err)
	require.NoError(t, ctx.Committed.SetTuple(Tuple{ID: "t1", BasicOpen: true}))

	req, err := ctx.Notify("active", "")
	require.NoError(t, err)
	ctype, _ := req.Headers().Get("Content-Type")
	assert.Equal(t, MimePIDF, ctype)
	ss, _ := req.Headers().Get("Subscription-State")
	assert.Equal(t, "active", ss)
}

type recordingHooks struct {
	DefaultHooks
	code int
}

func (h *recordingHooks) OnNotifyBody(ctx *Context, tentative *Status) int {
	return h.code
}

func TestReceiveNotifyCommitsOn2xx(t *testing.T) {
	hooks := &recordingHooks{code: 200}
	sub := NewSubscriber(newDialog(), hooks)

	body, err := BuildPIDF("sip:bob@example.com", mustStatus(t, Tuple{ID: "t1", BasicOpen: true}))
	require.NoError(t, err)

	req := message.NewRequest("NOTIFY", "sip:alice@example.com")
	req.SetBody(MimePIDF, body)

	result := sub.ReceiveNotify(req)
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, 1, sub.Committed.InfoCount())

	_, valid := sub.Tentative()
	assert.False(t, valid, "tentative-valid flag must clear before ReceiveNotify returns")
}

func TestReceiveNotifyDoesNotCommitOnFailure(t *testing.T) {
	hooks := &recordingHooks{code: 400}
	sub := NewSubscriber(newDialog(), hooks)

	body, err := BuildPIDF("sip:bob@example.com", mustStatus(t, Tuple{ID: "t1", BasicOpen: true}))
	require.NoError(t, err)
	req := message.NewRequest("NOTIFY", "sip:alice@example.com")
	req.SetBody(MimePIDF, body)

	result := sub.ReceiveNotify(req)
	assert.Equal(t, 400, result.StatusCode)
	assert.Equal(t, 0, sub.Committed.InfoCount())
}

func TestReceiveNotifyRejectsUnsupportedContentType(t *testing.T) {
	sub := NewSubscriber(newDialog(), nil)
	req := message.NewRequest("NOTIFY", "sip:alice@example.com")
	req.SetBody("application/cpim-pidf+xml", []byte("<presence/>"))

	result := sub.ReceiveNotify(req) // S6
	assert.Equal(t, 406, result.StatusCode)
	assert.Contains(t, result.Headers["Accept"], MimePIDF)
	assert.Contains(t, result.Headers["Accept"], MimeXPIDF)
}

func TestReceiveNotifyRejectsMissingBody(t *testing.T) {
	sub := NewSubscriber(newDialog(), nil)
	req := message.NewRequest("NOTIFY", "sip:alice@example.com")
	result := sub.ReceiveNotify(req)
	assert.Equal(t, 400, result.StatusCode)
}

func TestRefreshAutoSubscribesWhenNoHookSupplied(t *testing.T) {
	ctx := NewSubscriber(newDialog(), nil)
	req, err := ctx.Refresh()
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, evsub.StateSent, ctx.Sub.State())
}

type refreshHooks struct {
	DefaultHooks
	clientRefreshed bool
	serverTimedOut  bool
}

func (h *refreshHooks) OnClientRefresh(*evsub.Subscription) { h.clientRefreshed = true }
func (h *refreshHooks) OnServerTimeout(*evsub.Subscription) { h.serverTimedOut = true }

func TestRefreshInvokesClientHookInsteadOfAutoSubscribe(t *testing.T) {
	hooks := &refreshHooks{}
	ctx := NewSubscriber(newDialog(), hooks)

	req, err := ctx.Refresh()
	require.NoError(t, err)
	assert.Nil(t, req, "a supplied hook owns the refresh, Refresh builds nothing itself")
	assert.True(t, hooks.clientRefreshed)
	assert.Equal(t, evsub.StateNull, ctx.Sub.State(), "auto re-SUBSCRIBE path must not run when a hook is supplied")
}

func TestRefreshInvokesServerTimeoutHookForNotifier(t *testing.T) {
	hooks := &refreshHooks{}
	ctx, _, err := AdmitSubscribe(subscribeRequest("presence", "", "300"), newDialog(), hooks)
	require.NoError(t, err)

	req, err := ctx.Refresh()
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.True(t, hooks.serverTimedOut)
}

func mustStatus(t *testing.T, tuples ...Tuple) *Status {
	t.Helper()
	s := &Status{}
	for _, tp := range tuples {
		require.NoError(t, s.SetTuple(tp))
	}
	return s
}
