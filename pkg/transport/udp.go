package transport

import (
	"context"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/sipkit/sipkit/pkg/buffer"
	"github.com/sipkit/sipkit/pkg/config"
	"github.com/sipkit/sipkit/pkg/errs"
)

// UDPTransport wraps one unbound UDP socket shared by every remote the
// registry hands out a reference to, the same single-socket-many-peers
// shape as beacon's UDPv4Transport — generalized here from a fixed
// multicast destination to WriteTo/ReadFrom against arbitrary unicast
// addresses.
type UDPTransport struct {
	conn     *net.UDPConn
	ipv4Conn *ipv4.PacketConn
	pool     *buffer.Pool
	remote   net.Addr
	flags    Flag
	addrName string
}

// UDPFactory binds one local UDP socket at construction and reuses it
// for every Create call; remote only selects the default WriteTo
// destination recorded on the returned Transport value.
type UDPFactory struct {
	conn     *net.UDPConn
	ipv4Conn *ipv4.PacketConn
	pool     *buffer.Pool
	addrName string
}

// NewUDPFactory binds a UDP socket at laddr (nil picks an ephemeral
// port) and wraps it the way NewUDPv4Transport wraps its multicast
// socket: a read buffer sized for the maximum SIP packet, and an
// ipv4.PacketConn for control-message access. addrName overrides the
// address every Transport this factory creates reports from AddrName
// (e.g. a NATed or STUN-discovered public host:port); an empty string
// falls back to the bound socket's own local address. t's MaxPacketLen
// sizes the read buffer; a nil t falls back to config.Default().
func NewUDPFactory(laddr *net.UDPAddr, addrName string, t *config.Tunables) (*UDPFactory, error) {
	if t == nil {
		d := config.Default()
		t = &d
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, errs.New(errs.KindSocketError, "transport.NewUDPFactory", "listen failed", err)
	}
	if err := conn.SetReadBuffer(t.MaxPacketLen * 4); err != nil {
		_ = conn.Close()
		return nil, errs.New(errs.KindSocketError, "transport.NewUDPFactory", "set read buffer failed", err)
	}

	return &UDPFactory{
		conn:     conn,
		ipv4Conn: ipv4.NewPacketConn(conn),
		pool:     buffer.NewPool(t),
		addrName: addrName,
	}, nil
}

func (f *UDPFactory) Type() Type { return TypeUDP }

func (f *UDPFactory) Create(ctx context.Context, remote net.Addr) (Transport, error) {
	select {
	case <-ctx.Done():
		return nil, errs.New(errs.KindSocketError, "transport.Create", "context canceled", ctx.Err())
	default:
	}
	return &UDPTransport{conn: f.conn, ipv4Conn: f.ipv4Conn, pool: f.pool, remote: remote, addrName: f.addrName}, nil
}

func (t *UDPTransport) Type() Type           { return TypeUDP }
func (t *UDPTransport) RemoteAddr() net.Addr { return t.remote }
func (t *UDPTransport) Flags() Flag          { return t.flags }
func (t *UDPTransport) LocalAddr() net.Addr  { return t.conn.LocalAddr() }

func (t *UDPTransport) AddrName() string {
	if t.addrName != "" {
		return t.addrName
	}
	return t.conn.LocalAddr().String()
}

func (t *UDPTransport) Send(ctx context.Context, packet []byte) error {
	select {
	case <-ctx.Done():
		return errs.New(errs.KindSocketError, "transport.Send", "context canceled before send", ctx.Err())
	default:
	}

	n, err := t.conn.WriteTo(packet, t.remote)
	if err != nil {
		return errs.New(errs.KindSocketError, "transport.Send", "write failed", err)
	}
	if n != len(packet) {
		return errs.New(errs.KindSocketError, "transport.Send", "partial write", nil)
	}
	return nil
}

func (t *UDPTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, errs.New(errs.KindSocketError, "transport.Receive", "context canceled before receive", ctx.Err())
	default:
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, errs.New(errs.KindSocketError, "transport.Receive", "set deadline failed", err)
		}
	}

	bufPtr := t.pool.Get()
	defer t.pool.Put(bufPtr)

	n, _, _, err := t.ipv4Conn.ReadFrom(*bufPtr)
	if err != nil {
		return nil, errs.New(errs.KindSocketError, "transport.Receive", "read failed", err)
	}

	result := make([]byte, n)
	copy(result, (*bufPtr)[:n])
	return result, nil
}

// Close is a no-op: the underlying socket is shared across every
// Transport the factory hands out, so only the factory itself owns the
// file descriptor's lifetime.
func (t *UDPTransport) Close() error { return nil }

// Close releases the UDP socket underlying every Transport this factory
// has created.
func (f *UDPFactory) Close() error {
	if f.conn == nil {
		return nil
	}
	if err := f.conn.Close(); err != nil {
		return errs.New(errs.KindSocketError, "transport.Close", "close failed", err)
	}
	return nil
}
