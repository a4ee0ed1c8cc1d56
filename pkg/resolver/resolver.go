// Package resolver provides the endpoint's async DNS façade.
//
// All resolver I/O is meant to be funneled through the same multiplexer
// the endpoint polls (§4.3 "Timer and resolver façades"). Go's
// net.Resolver already performs its lookups on goroutines scheduled by
// the runtime's own netpoller, so this package bridges that into the
// ioqueue.Multiplexer contract by having each lookup goroutine Notify
// the multiplexer with the completed continuation rather than blocking
// the event loop. This mirrors the SRV/A fallback chain in RFC 3263 §5,
// grounded on gosip's remoteAddrResolver (other_examples), generalized
// from response-routing lookups to a standalone resolve(target) façade.
package resolver

import (
	"context"
	"net"
	"net/netip"
	"sort"

	"github.com/sipkit/sipkit/pkg/ioqueue"
)

// Target names what to resolve: a host, optionally with an explicit
// port, and the service used for SRV fallback when no port is given.
type Target struct {
	Host string
	Port uint16 // 0 means "resolve via SRV, or fall back to DefaultPort"
	// Service names the SRV service ("sip" or "sips"); Proto is "udp" or "tcp".
	Service string
	Proto   string
	// DefaultPort is used if both Port==0 and SRV lookup yields nothing.
	DefaultPort uint16
}

// Continuation is invoked with the resolved addresses, or err on
// failure. It always runs on the multiplexer's polling goroutine.
type Continuation func(addrs []netip.AddrPort, err error)

// Resolver is the contract the endpoint requires of a DNS collaborator.
type Resolver interface {
	Resolve(ctx context.Context, target Target, cont Continuation)
}

// NetResolver implements Resolver over net.Resolver, delivering results
// through an ioqueue.Multiplexer so the caller's continuation always
// runs on the event loop rather than on the lookup goroutine.
type NetResolver struct {
	dns *net.Resolver
	mux ioqueue.Multiplexer
}

// New returns a NetResolver that wakes mux when a lookup completes. dns
// may be nil to use net.DefaultResolver.
func New(mux ioqueue.Multiplexer, dns *net.Resolver) *NetResolver {
	if dns == nil {
		dns = net.DefaultResolver
	}
	return &NetResolver{dns: dns, mux: mux}
}

func (r *NetResolver) Resolve(ctx context.Context, target Target, cont Continuation) {
	go func() {
		addrs, err := r.lookup(ctx, target)
		r.mux.Notify(ioqueue.Event{Handler: func() { cont(addrs, err) }})
	}()
}

func (r *NetResolver) lookup(ctx context.Context, target Target) ([]netip.AddrPort, error) {
	if addr, err := netip.ParseAddr(target.Host); err == nil {
		port := target.Port
		if port == 0 {
			port = target.DefaultPort
		}
		return []netip.AddrPort{netip.AddrPortFrom(addr, port)}, nil
	}

	if target.Port != 0 {
		return r.lookupIPs(ctx, target.Host, target.Port)
	}

	// RFC 3263 §5-ish fallback: try SRV, then fall back to A/AAAA at
	// DefaultPort if SRV yields nothing.
	if target.Service != "" && target.Proto != "" {
		if addrs, err := r.lookupSRV(ctx, target); err == nil && len(addrs) > 0 {
			return addrs, nil
		}
	}
	return r.lookupIPs(ctx, target.Host, target.DefaultPort)
}

func (r *NetResolver) lookupIPs(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error) {
	ips, err := r.dns.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	out := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		if a, ok := netip.AddrFromSlice(ip); ok {
			out = append(out, netip.AddrPortFrom(a.Unmap(), port))
		}
	}
	return out, nil
}

func (r *NetResolver) lookupSRV(ctx context.Context, target Target) ([]netip.AddrPort, error) {
	_, srvs, err := r.dns.LookupSRV(ctx, target.Service, target.Proto, target.Host)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(srvs, func(i, j int) bool {
		if srvs[i].Priority != srvs[j].Priority {
			return srvs[i].Priority < srvs[j].Priority
		}
		return srvs[i].Weight > srvs[j].Weight
	})

	var out []netip.AddrPort
	for _, srv := range srvs {
		ips, err := r.dns.LookupIP(ctx, "ip", srv.Target)
		if err != nil {
			continue
		}
		for _, ip := range ips {
			if a, ok := netip.AddrFromSlice(ip); ok {
				out = append(out, netip.AddrPortFrom(a.Unmap(), srv.Port))
			}
		}
	}
	return out, nil
}
