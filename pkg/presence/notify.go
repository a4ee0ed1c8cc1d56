package presence

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sipkit/sipkit/pkg/errs"
	"github.com/sipkit/sipkit/pkg/evsub"
	"github.com/sipkit/sipkit/pkg/message"
)

// Notify builds the outgoing NOTIFY for this context's committed status
// (§4.4 "notify(state, state_str, reason) → tx_buffer"): requires
// info_cnt > 0, builds the Subscription-State header from the given
// arguments, and renders the body per the negotiated content type.
func (c *Context) Notify(state, reason string) (*message.Request, error) {
	if c.Committed.InfoCount() == 0 {
		return nil, errs.New(errs.KindNoPresenceInfo, "presence.Notify", "committed status has no tuples", nil)
	}

	req := message.NewRequest("NOTIFY", c.Sub.Dialog.RemoteURI())
	req.Headers().Add("Event", "presence")

	ss := state
	if reason != "" {
		ss = state + ";reason=" + reason
	}
	req.Headers().Add("Subscription-State", ss)

	body, ct, err := c.renderBody(c.Committed)
	if err != nil {
		return nil, err
	}
	req.SetBody(ct, body)
	return req, nil
}

// CurrentNotify builds a NOTIFY reflecting the current committed status
// with a subscription-state of "active" and no reason — the
// current_notify() convenience the subscription engine also exposes.
func (c *Context) CurrentNotify() (*message.Request, error) {
	return c.Notify("active", "")
}

func (c *Context) renderBody(status *Status) ([]byte, string, error) {
	switch c.ContentType {
	case ContentXPIDF:
		logrus.WithField("component", "presence").Warn("xpidf body carries only the first tuple's basic status")
		body, err := BuildXPIDF(c.Sub.Dialog.LocalURI(), status)
		return body, MimeXPIDF, err
	default:
		body, err := BuildPIDF(c.Sub.Dialog.LocalURI(), status)
		return body, MimePIDF, err
	}
}

// NotifyResult is the caller-visible outcome of ReceiveNotify: the
// status code to send back, plus any extra headers the reception
// algorithm requires for an error response.
type NotifyResult struct {
	StatusCode int
	Reason     string
	Headers    map[string]string
}

// ReceiveNotify implements §4.4's "NOTIFY reception": validates
// Content-Type and body presence, dispatches on content type into a
// tentative status, marks it valid only for the extent of the user's
// NOTIFY hook, and on a 2xx result copies tentative into committed.
func (c *Context) ReceiveNotify(req *message.Request) NotifyResult {
	ct, hasCT := req.Headers().Get("Content-Type")
	body := req.Body()
	if !hasCT || len(body) == 0 {
		return NotifyResult{StatusCode: 400, Reason: "Bad Request", Headers: map[string]string{"Warning": "399 sipkit \"missing Content-Type or body\""}}
	}

	var tentative *Status
	var err error
	switch {
	case strings.EqualFold(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]), MimePIDF):
		tentative, err = ParsePIDF(body)
	case strings.EqualFold(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]), MimeXPIDF):
		tentative, err = ParseXPIDF(body)
	default:
		return NotifyResult{
			StatusCode: 406,
			Reason:     "Not Acceptable Here",
			Headers: map[string]string{
				"Accept":  MimePIDF + ", " + MimeXPIDF,
				"Warning": "399 sipkit \"unsupported presence content type\"",
			},
		}
	}
	if err != nil {
		return NotifyResult{StatusCode: 400, Reason: "Bad Request", Headers: map[string]string{"Warning": "399 sipkit \"malformed presence body\""}}
	}

	c.tentative = tentative
	c.tentativeOK = true
	code := c.hooks.OnNotifyBody(c, tentative)
	if code >= 200 && code < 300 {
		c.Committed = tentative.Clone()
	}
	c.tentativeOK = false

	return NotifyResult{StatusCode: code}
}

// Tentative returns the in-flight tentative status and whether it is
// currently valid (only true for the extent of a NOTIFY reception
// callback, per §3's Presence context invariant).
func (c *Context) Tentative() (*Status, bool) {
	return c.tentative, c.tentativeOK
}

// Refresh handles the timer-driven refresh paths named in §4.4
// ("Refreshes"). If the caller supplied real hooks (anything but the
// DefaultHooks zero value), OnClientRefresh/OnServerTimeout is invoked
// and owns deciding what, if anything, to send; Refresh itself builds no
// message in that case. Otherwise it falls back to the default
// behavior: subscriber side auto-re-SUBSCRIBEs with expiry -1, notifier
// side emits a terminating NOTIFY with reason "timeout".
func (c *Context) Refresh() (*message.Request, error) {
	if _, isDefault := c.hooks.(DefaultHooks); !isDefault {
		if c.Sub.Role == evsub.RoleSubscriber {
			c.hooks.OnClientRefresh(c.Sub)
		} else {
			c.hooks.OnServerTimeout(c.Sub)
		}
		return nil, nil
	}

	if c.Sub.Role == evsub.RoleSubscriber {
		return c.Initiate(-1)
	}
	return c.Notify("terminated", "timeout")
}
