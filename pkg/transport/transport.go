// Package transport implements the transport registry spec.md names:
// acquiring, refcounting, and idle-reclaiming Transport instances keyed
// by type/remote address, plus the UDP and TCP factories that create
// them. The Transport interface itself is grounded on beacon's
// internal/transport.Transport contract (context-aware Send/Receive/
// Close over net.PacketConn), generalized here from a single fixed
// multicast destination to arbitrary unicast remotes and two
// connection-oriented and connectionless transport kinds.
package transport

import (
	"context"
	"net"

	"github.com/sipkit/sipkit/pkg/errs"
)

// Flag is a bitmask of transport-local state the endpoint and
// transaction layer consult before handing a message to Send.
type Flag uint32

const (
	// FlagBusy mirrors PJSIP_TRANSPORT_IOQUEUE_BUSY: the underlying
	// ioqueue operation for this transport hasn't completed, so a
	// sender should queue rather than call Send again immediately.
	// Kept as an opaque flag bit rather than resolved into a blocking
	// API, per the Open Question left unresolved in Design Notes §9 —
	// nothing in this module forces a decision on how callers should
	// react to it, only that they can observe it.
	FlagBusy Flag = 1 << iota
	FlagShuttingDown
	// FlagReliable marks a transport whose underlying protocol guarantees
	// in-order, lossless delivery (TCP, TLS). Modules that need to decide
	// whether to fall back from UDP consult this instead of switching on
	// Type directly.
	FlagReliable
	// FlagSecure marks a transport that encrypts the wire (TLS).
	FlagSecure
)

// Type identifies a transport's wire protocol.
type Type int

const (
	TypeUDP Type = iota
	TypeTCP
	TypeTLS
)

func (t Type) String() string {
	switch t {
	case TypeUDP:
		return "UDP"
	case TypeTCP:
		return "TCP"
	case TypeTLS:
		return "TLS"
	default:
		return "UNKNOWN"
	}
}

// DefaultPort returns the RFC 3261 §19.1.2 default port for t.
func (t Type) DefaultPort() int {
	switch t {
	case TypeTLS:
		return 5061
	default:
		return 5060
	}
}

// Transport abstracts one network connection (UDP: a shared, unbound
// socket; TCP/TLS: one dialed connection per remote) used to exchange
// SIP messages with a single remote. Context is honored the same way
// beacon's UDPv4Transport honors it: checked before work starts,
// propagated as a read/write deadline where the underlying conn
// supports one.
type Transport interface {
	Type() Type
	RemoteAddr() net.Addr
	Flags() Flag

	// LocalAddr is the actual local socket address this transport reads
	// and writes through.
	LocalAddr() net.Addr
	// AddrName is the address this transport should be advertised as in
	// outgoing Via/Contact headers (§4.1 "Key policy"). It defaults to
	// LocalAddr().String() but a factory may override it — e.g. a UDP
	// factory configured with a NATed or STUN-discovered public address
	// so outgoing requests advertise a reachable Contact instead of the
	// raw bind address.
	AddrName() string

	Send(ctx context.Context, packet []byte) error
	Receive(ctx context.Context) (packet []byte, err error)
	Close() error
}

// Factory creates a Transport bound to remote. UDP factories typically
// return a shared transport regardless of remote (one socket, many
// peers); TCP/TLS factories dial a fresh connection per distinct
// remote.
type Factory interface {
	Type() Type
	Create(ctx context.Context, remote net.Addr) (Transport, error)
}

var errNotImplemented = errs.New(errs.KindNoRoute, "transport.Create", "TLS transport not implemented", nil)

// TLSFactory is a type-tagged stub: spec.md's transport registry names
// TLS as a transport kind without specifying its handshake details, and
// nothing in the retrieval pack exercises a TLS dial loop, so this
// factory exists to let Registry's type/name lookups resolve TLS
// requests to a clear error rather than a missing case.
type TLSFactory struct{}

func (TLSFactory) Type() Type { return TypeTLS }

func (TLSFactory) Create(ctx context.Context, remote net.Addr) (Transport, error) {
	return nil, errNotImplemented
}
