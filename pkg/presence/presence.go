package presence

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sipkit/sipkit/pkg/config"
	"github.com/sipkit/sipkit/pkg/errs"
	"github.com/sipkit/sipkit/pkg/evsub"
	"github.com/sipkit/sipkit/pkg/message"
)

// Hooks is the presence-specific user capability set (pres_user): a
// NOTIFY-reception decision hook plus the six evsub hooks it embeds, so
// a presence application only ever implements the subset it cares
// about.
type Hooks interface {
	evsub.User
	// OnNotifyBody is called once a NOTIFY's tentative status is valid,
	// ahead of the subscriber applying it to the committed status. The
	// returned status code is what the caller should reply with; 2xx
	// commits the tentative status, anything else discards it.
	OnNotifyBody(ctx *Context, tentative *Status) (statusCode int)
}

// DefaultHooks embeds evsub.Noop and answers OnNotifyBody with 200, so
// implementers override only what they need.
type DefaultHooks struct {
	evsub.Noop
}

func (DefaultHooks) OnNotifyBody(*Context, *Status) int { return 200 }

// Context is the presence context: owning subscription, negotiated
// content type, committed and tentative status, and the user hooks
// (§3: "owning subscription, content-type, committed status, tentative
// status (with validity flag)").
type Context struct {
	Sub         *evsub.Subscription
	ContentType ContentType
	Committed   *Status
	tentative   *Status
	tentativeOK bool
	hooks       Hooks
	allowXPIDF  bool
	tunables    config.Tunables
}

// Option configures a Context at construction.
type Option func(*Context)

// WithXPIDF toggles whether the notifier will ever negotiate the legacy
// xpidf+xml content type; it defaults to off (§9 design note: XPIDF is
// feature-gated, not removed, since it's legacy and under-specified).
func WithXPIDF(enabled bool) Option {
	return func(c *Context) { c.allowXPIDF = enabled }
}

// WithTunables overrides the DefaultSubExpiry/MinSubExpiry a Context's
// notifier admission and refresh paths use; omitting it leaves
// config.Default()'s values in place.
func WithTunables(t config.Tunables) Option {
	return func(c *Context) { c.tunables = t }
}

func newContext(sub *evsub.Subscription, hooks Hooks, opts ...Option) *Context {
	if hooks == nil {
		hooks = DefaultHooks{}
	}
	c := &Context{Sub: sub, Committed: &Status{}, hooks: hooks, tunables: config.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ResponseFor consolidates every status code the notifier/subscriber
// admission and NOTIFY-reception paths can produce into one table
// (SPEC_FULL §7: the notifier's status-code mapping kept in a single
// table). Callers wrapping AdmitSubscribe in a
// module's on_rx_request hook use this to turn its error return into
// the response to send.
func ResponseFor(err error) (code int, reason string) {
	if err == nil {
		return 200, "OK"
	}
	e, ok := err.(*errs.Error)
	if !ok {
		return 400, "Bad Request"
	}
	switch e.Kind {
	case errs.KindBadEvent:
		return 489, "Bad Event"
	case errs.KindNotAcceptable:
		return 406, "Not Acceptable"
	case errs.KindIntervalTooBrief:
		return 423, "Interval Too Brief"
	case errs.KindNoPresenceInfo:
		return 400, "Bad Request"
	case errs.KindBadContent, errs.KindBadPIDF, errs.KindBadXPIDF:
		return 406, "Not Acceptable Here"
	default:
		return 400, "Bad Request"
	}
}

// AdmitSubscribe runs the notifier admission algorithm against an
// incoming dialog-initiating SUBSCRIBE (§4.4 "Notifier (server)
// admission"): validates Event, negotiates content type from Accept,
// clamps Expires, and on success returns a Context already transitioned
// into ACCEPTED along with the effective expiry.
func AdmitSubscribe(req *message.Request, dialog evsub.Dialog, hooks Hooks, opts ...Option) (*Context, time.Duration, error) {
	if !strings.EqualFold(req.Method, "SUBSCRIBE") {
		return nil, 0, errs.New(errs.KindInvalidArg, "presence.AdmitSubscribe", "not a SUBSCRIBE request", nil)
	}

	event, _ := req.Headers().Get("Event")
	if !strings.EqualFold(strings.TrimSpace(event), "presence") {
		return nil, 0, errs.New(errs.KindBadEvent, "presence.AdmitSubscribe", "unsupported event package: "+event, nil)
	}

	settings := &Context{tunables: config.Default()}
	for _, o := range opts {
		o(settings)
	}

	ctype := ContentPIDF
	if accept, ok := req.Headers().Get("Accept"); ok {
		var found bool
		ctype, found = negotiateContentType(accept, settings.allowXPIDF)
		if !found {
			return nil, 0, errs.New(errs.KindNotAcceptable, "presence.AdmitSubscribe", "no acceptable content type in Accept: "+accept, nil)
		}
	}

	expires := settings.tunables.DefaultSubExpiry
	if raw, ok := req.Headers().Get("Expires"); ok {
		secs, err := parseSeconds(raw)
		if err != nil {
			return nil, 0, errs.New(errs.KindInvalidArg, "presence.AdmitSubscribe", "malformed Expires", err)
		}
		if secs < settings.tunables.MinSubExpiry {
			return nil, 0, errs.New(errs.KindIntervalTooBrief, "presence.AdmitSubscribe", "Expires below minimum", nil)
		}
		// §4.4 step 4: effective expiry is min(requested, package default),
		// not an unconditional reset to the default.
		expires = secs
		if expires > settings.tunables.DefaultSubExpiry {
			expires = settings.tunables.DefaultSubExpiry
		}
	}

	sub := evsub.New(dialog, "presence", evsub.RoleNotifier, hooks)
	if err := sub.Transition(evsub.StateAccepted); err != nil {
		return nil, 0, err
	}

	ctx := newContext(sub, hooks, opts...)
	ctx.ContentType = ctype
	return ctx, expires, nil
}

func negotiateContentType(accept string, allowXPIDF bool) (ContentType, bool) {
	for _, part := range strings.Split(accept, ",") {
		mt := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		switch {
		case strings.EqualFold(mt, MimePIDF):
			return ContentPIDF, true
		case strings.EqualFold(mt, MimeXPIDF) && allowXPIDF:
			return ContentXPIDF, true
		}
	}
	return ContentNone, false
}

func parseSeconds(raw string) (time.Duration, error) {
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errs.New(errs.KindInvalidArg, "presence.parseSeconds", "non-numeric Expires", err)
	}
	return time.Duration(secs) * time.Second, nil
}

// NewSubscriber creates a client-side subscription under dialog with an
// empty presence context attached (§4.4 "Subscriber (client)
// construction").
func NewSubscriber(dialog evsub.Dialog, hooks Hooks, opts ...Option) *Context {
	sub := evsub.New(dialog, "presence", evsub.RoleSubscriber, hooks)
	return newContext(sub, hooks, opts...)
}

// Initiate emits the initial SUBSCRIBE request for a subscriber
// context. expires of -1 means "use the package default". Handing the
// request to the transaction layer is the caller's responsibility;
// Initiate only builds the message and advances state.
func (c *Context) Initiate(expires time.Duration) (*message.Request, error) {
	if err := c.Sub.Transition(evsub.StateSent); err != nil {
		return nil, err
	}

	eff := expires
	if expires < 0 {
		eff = c.tunables.DefaultSubExpiry
	}

	req := message.NewRequest("SUBSCRIBE", c.Sub.Dialog.RemoteURI())
	req.Headers().Add("Event", "presence")
	req.Headers().Add("Expires", strconv.Itoa(int(eff/time.Second)))
	req.Headers().Add("Call-ID", uuid.NewString()+"@sipkit")
	req.Headers().Add("From", "<"+c.Sub.Dialog.LocalURI()+">;tag="+uuid.NewString())
	if c.ContentType != ContentNone {
		req.Headers().Add("Accept", c.ContentType.MimeType())
	} else {
		req.Headers().Add("Accept", MimePIDF)
	}
	return req, nil
}
