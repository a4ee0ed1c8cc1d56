package transport

import (
	"context"
	"net"

	"github.com/sipkit/sipkit/pkg/buffer"
	"github.com/sipkit/sipkit/pkg/config"
	"github.com/sipkit/sipkit/pkg/errs"
)

// TCPTransport wraps one dialed connection to a single remote, the
// dial-and-track shape gosip's transport layer uses (sync.Map keyed by
// remote address, one net.Conn per entry) rather than UDP's one-socket-
// many-peers model.
type TCPTransport struct {
	conn net.Conn
	pool *buffer.Pool
}

// TCPFactory dials a fresh TCP connection per distinct remote; the
// registry is what tracks one Transport per remote and reclaims idle
// ones, so the factory itself stays stateless besides its buffer pool.
type TCPFactory struct {
	pool   *buffer.Pool
	dialer net.Dialer
}

// NewTCPFactory builds a factory whose dialed connections read into
// t.MaxPacketLen buffers. A nil t falls back to config.Default().
func NewTCPFactory(t *config.Tunables) *TCPFactory {
	return &TCPFactory{pool: buffer.NewPool(t)}
}

func (f *TCPFactory) Type() Type { return TypeTCP }

func (f *TCPFactory) Create(ctx context.Context, remote net.Addr) (Transport, error) {
	conn, err := f.dialer.DialContext(ctx, "tcp", remote.String())
	if err != nil {
		return nil, errs.New(errs.KindSocketError, "transport.Create", "dial failed", err)
	}
	return &TCPTransport{conn: conn, pool: f.pool}, nil
}

func (t *TCPTransport) Type() Type           { return TypeTCP }
func (t *TCPTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }
func (t *TCPTransport) Flags() Flag          { return FlagReliable }
func (t *TCPTransport) LocalAddr() net.Addr  { return t.conn.LocalAddr() }
func (t *TCPTransport) AddrName() string     { return t.conn.LocalAddr().String() }

func (t *TCPTransport) Send(ctx context.Context, packet []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return errs.New(errs.KindSocketError, "transport.Send", "set deadline failed", err)
		}
	}
	n, err := t.conn.Write(packet)
	if err != nil {
		return errs.New(errs.KindSocketError, "transport.Send", "write failed", err)
	}
	if n != len(packet) {
		return errs.New(errs.KindSocketError, "transport.Send", "partial write", nil)
	}
	return nil
}

func (t *TCPTransport) Receive(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, errs.New(errs.KindSocketError, "transport.Receive", "set deadline failed", err)
		}
	}

	bufPtr := t.pool.Get()
	defer t.pool.Put(bufPtr)

	n, err := t.conn.Read(*bufPtr)
	if err != nil {
		return nil, errs.New(errs.KindSocketError, "transport.Receive", "read failed", err)
	}
	result := make([]byte, n)
	copy(result, (*bufPtr)[:n])
	return result, nil
}

func (t *TCPTransport) Close() error {
	if err := t.conn.Close(); err != nil {
		return errs.New(errs.KindSocketError, "transport.Close", "close failed", err)
	}
	return nil
}
