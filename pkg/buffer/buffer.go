// Package buffer implements the receive free-list and transmit-buffer
// refcounting spec.md's buffer manager entity calls for, replacing the
// original's arena-backed pool factory (Design Notes §9) with sync.Pool
// and atomic refcounting — the idiomatic Go substitutes named there.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/sipkit/sipkit/pkg/config"
	"github.com/sipkit/sipkit/pkg/message"
)

// Pool hands out fixed-capacity byte slices for inbound reads and takes
// them back once the endpoint is done with the datagram. Buffers are
// pooled by pointer (sync.Pool over *[]byte) so Put never boxes the
// slice header onto the heap, the same trick beacon's transport layer
// used around its own GetBuffer/PutBuffer pair.
type Pool struct {
	pool   sync.Pool
	maxLen int
}

// NewPool creates a buffer pool whose entries are t.MaxPacketLen bytes
// long. A nil t falls back to config.Default().
func NewPool(t *config.Tunables) *Pool {
	if t == nil {
		d := config.Default()
		t = &d
	}
	maxLen := t.MaxPacketLen
	p := &Pool{maxLen: maxLen}
	p.pool.New = func() any {
		b := make([]byte, maxLen)
		return &b
	}
	return p
}

// Get returns a buffer of Pool's configured length, ready to be read
// into. Callers must not retain it past the matching Put.
func (p *Pool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool. Passing a buffer not obtained from
// this Pool, or of the wrong length, is a caller bug; Put silently
// discards it rather than panicking, since a leaked buffer only costs
// an allocation next time.
func (p *Pool) Put(b *[]byte) {
	if b == nil || len(*b) != p.maxLen {
		return
	}
	p.pool.Put(b)
}

// TxBuffer pairs a structured message with its wire-form print cache
// and a send refcount, mirroring the original's tx buffer entity: one
// structured message, multiple transports racing to send and release
// it, the buffer freed only once every sender has released its hold.
//
// TxBuffer has no method that mutates the structured message, so the
// print cache is not invalidated automatically: a caller that changes
// the message returned by Message must call InvalidateCache.
// InvalidateCache is idempotent by construction (setting a nil cache to
// nil is a no-op).
type TxBuffer struct {
	mu        sync.Mutex
	msg       message.Message
	printer   message.Printer
	cache     []byte
	cacheOK   bool
	sendCount atomic.Int32
}

// NewTxBuffer wraps msg for transmission. Initial refcount is 1,
// representing the caller's own hold; Release must be called once the
// caller is done handing it to transports.
func NewTxBuffer(msg message.Message, printer message.Printer) *TxBuffer {
	tb := &TxBuffer{msg: msg, printer: printer}
	tb.sendCount.Store(1)
	return tb
}

// AddRef increments the send refcount; call once per transport that
// will independently release the buffer (§4.2 tx buffer: "multiple
// transports sending the same message share one buffer").
func (tb *TxBuffer) AddRef() {
	tb.sendCount.Add(1)
}

// Release decrements the refcount and reports whether this call freed
// the last reference. Callers that get true may return tb's backing
// memory to any pool they track separately; TxBuffer itself holds no
// pooled buffer to return.
func (tb *TxBuffer) Release() bool {
	return tb.sendCount.Add(-1) == 0
}

// Print renders the wire form, reusing the cached bytes unless
// invalidated since the last render.
func (tb *TxBuffer) Print() ([]byte, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.cacheOK {
		return tb.cache, nil
	}
	wire, err := tb.printer.Print(tb.msg)
	if err != nil {
		return nil, err
	}
	tb.cache = wire
	tb.cacheOK = true
	return wire, nil
}

// Message returns the structured message under the same lock that
// guards the print cache, so a caller mutating it via the returned
// pointer must pair the mutation with InvalidateCache.
func (tb *TxBuffer) Message() message.Message {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.msg
}

// InvalidateCache discards the cached wire form so the next Print
// re-renders from the structured message. Idempotent: invalidating an
// already-invalid cache is a no-op.
func (tb *TxBuffer) InvalidateCache() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.cacheOK = false
	tb.cache = nil
}
