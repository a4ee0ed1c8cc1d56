package endpoint

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sipkit/sipkit/pkg/buffer"
	"github.com/sipkit/sipkit/pkg/errs"
	"github.com/sipkit/sipkit/pkg/message"
	"github.com/sipkit/sipkit/pkg/module"
	"github.com/sipkit/sipkit/pkg/transport"
)

// HandleEvents performs one pass of the event loop and returns the
// number of events processed, transcribing pjsip_endpt_handle_events2's
// five steps:
//
//  1. Poll the timer heap with a zero timeout, collecting the next-due
//     delay; timer callbacks run inside this call under the heap's own
//     lock.
//  2. Clamp that delay to maxWait.
//  3. Poll the I/O multiplexer with the clamped delay.
//  4. If the multiplexer reported an event, re-poll with a zero timeout
//     to drain, bounded by maxNetEvents per call so timer work is never
//     starved by a busy socket.
//  5. A negative poll return means the OS signalled an error: sleep for
//     the planned delay and return it.
func (e *Endpoint) HandleEvents(maxWait time.Duration) (int, error) {
	processed := 0

	fired, nextDelay, hasNext := e.Timers.Poll()
	processed += fired

	delay := maxWait
	if hasNext && nextDelay < delay {
		delay = nextDelay
	}

	n, err := e.Mux.Poll(delay)
	if err != nil {
		time.Sleep(delay)
		return processed, err
	}
	processed += n

	if n > 0 {
		for i := 0; i < e.maxNetEvents; i++ {
			n, err := e.Mux.Poll(0)
			if err != nil {
				return processed, err
			}
			if n == 0 {
				break
			}
			processed += n
		}
	}

	return processed, nil
}

// DispatchRx runs one received, successfully parsed message through the
// sent-by drop check (responses only) and the priority-ordered module
// walk, under the module reader lock.
func (e *Endpoint) DispatchRx(ev RxEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if ev.Msg.IsResponse() {
		if e.shouldDropResponse(ev) {
			e.log.WithField("local", ev.LocalName).Debug("dropping response: sent-by mismatch")
			return
		}
	}

	if ev.Msg.IsRequest() {
		for _, m := range e.modules {
			if m.OnRxRequest(ev.Msg) == module.Handled {
				return
			}
		}
	} else {
		for _, m := range e.modules {
			if m.OnRxResponse(ev.Msg) == module.Handled {
				return
			}
		}
	}

	e.log.Warn("rx message unhandled by any module, dropping")
}

// shouldDropResponse implements §4.3's lenient sent-by check: drop when
// the topmost Via's host differs from the receiving transport's local
// name AND neither the sent-by port nor the rport param matches the
// local port. This accommodates middleboxes that mis-copy sent-by while
// still honoring rport — the same leniency the original source grants
// deliberately, so no strict-mode variant is offered here either.
func (e *Endpoint) shouldDropResponse(ev RxEvent) bool {
	idx, _ := message.BuildIndex(ev.Msg)
	if idx.Via == nil {
		return false // malformed Via is a parse-time concern, not this check's job
	}

	localHost, localPortStr, ok := strings.Cut(ev.LocalName, ":")
	if !ok {
		return false
	}
	localPort, err := strconv.Atoi(localPortStr)
	if err != nil {
		return false
	}

	if idx.Via.Host == localHost {
		return false
	}

	if idx.Via.Port == localPort {
		return false
	}
	if rport, ok := idx.Via.RPort(); ok && rport == localPort {
		return false
	}

	return true
}

// DispatchTx walks the module list tail→head (highest Priority value
// first, the reverse of the rx walk),
// calling each matching tx hook. A Handled result from any hook halts
// the walk and is reported as caller-visible failure to send (§4.3: "if
// it returns a failure status, stop ... the message does not go out").
// No failing hook has fired here means the caller should proceed to
// print and write the bytes via the transport registry.
func (e *Endpoint) DispatchTx(msg message.Message) (sent bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if msg.IsRequest() {
		for i := len(e.modules) - 1; i >= 0; i-- {
			if e.modules[i].OnTxRequest(msg) == module.Handled {
				return false
			}
		}
	} else {
		for i := len(e.modules) - 1; i >= 0; i-- {
			if e.modules[i].OnTxResponse(msg) == module.Handled {
				return false
			}
		}
	}
	return true
}

// Send completes §4.1's tx data flow: walk the module chain tail→head
// via DispatchTx, and if nothing vetoed the message, acquire the
// (typ, remote) transport from the registry, print msg into a TxBuffer,
// and write the result — releasing the transport reference once the
// send completes either way.
func (e *Endpoint) Send(ctx context.Context, msg message.Message, typ transport.Type, remote net.Addr) (int, error) {
	if !e.DispatchTx(msg) {
		return 0, errs.New(errs.KindInvalidArg, "endpoint.Send", "tx module chain vetoed message", nil)
	}

	tr, err := e.Transport.Acquire(ctx, typ, remote)
	if err != nil {
		return 0, err
	}
	defer e.Transport.Release(typ, remote)

	tb := buffer.NewTxBuffer(msg, e.Printer)
	return e.Transport.Send(ctx, tr, tb, remote)
}
