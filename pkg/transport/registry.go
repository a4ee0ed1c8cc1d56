package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sipkit/sipkit/pkg/buffer"
	"github.com/sipkit/sipkit/pkg/config"
	"github.com/sipkit/sipkit/pkg/errs"
)

type entry struct {
	tr       Transport
	refcount int
	idle     *time.Timer
}

// Registry is the transport manager spec.md names: one table of live
// transports keyed by (type, remote address), refcounted so concurrent
// senders share a connection, and idle-reclaimed after a grace period
// once the last reference drops — the registry-level equivalent of
// gosip's sync.Map-of-conns tracker, generalized to own reclaim timing
// itself rather than leaving it to callers.
type Registry struct {
	mu            sync.RWMutex
	factories     map[Type]Factory
	table         map[string]*entry
	idleGrace     time.Duration
	maxTransports int
}

func key(t Type, remote net.Addr) string {
	return t.String() + "|" + remote.String()
}

// NewRegistry creates an empty registry bounded by t.MaxTransports, idle-
// reclaiming a connection-oriented transport after t.TransportIdleGrace
// once its refcount reaches zero; UDP transports are never reclaimed
// since they're shared, not dialed. A nil t falls back to
// config.Default().
func NewRegistry(t *config.Tunables) *Registry {
	if t == nil {
		d := config.Default()
		t = &d
	}
	return &Registry{
		factories:     make(map[Type]Factory),
		table:         make(map[string]*entry),
		idleGrace:     t.TransportIdleGrace,
		maxTransports: t.MaxTransports,
	}
}

// RegisterFactory binds a Factory for one transport Type. Calling it
// twice for the same type replaces the previous factory.
func (r *Registry) RegisterFactory(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.Type()] = f
}

// Acquire returns the Transport for (typ, remote), creating one via the
// registered factory if none exists yet, and increments its refcount.
// Callers must call Release exactly once per successful Acquire.
func (r *Registry) Acquire(ctx context.Context, typ Type, remote net.Addr) (Transport, error) {
	k := key(typ, remote)

	r.mu.Lock()
	if e, ok := r.table[k]; ok {
		e.refcount++
		if e.idle != nil {
			e.idle.Stop()
			e.idle = nil
		}
		r.mu.Unlock()
		return e.tr, nil
	}
	factory, ok := r.factories[typ]
	r.mu.Unlock()

	if !ok {
		return nil, errs.New(errs.KindNoRoute, "transport.Acquire", "no factory registered for type", nil)
	}

	r.mu.Lock()
	if r.maxTransports > 0 && len(r.table) >= r.maxTransports {
		r.mu.Unlock()
		return nil, errs.New(errs.KindTooMany, "transport.Acquire", "transport table full", nil)
	}
	r.mu.Unlock()

	tr, err := factory.Create(ctx, remote)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.table[k]; ok {
		// Lost the race against a concurrent Acquire; drop the
		// transport we just created and share the winner's instead.
		_ = tr.Close()
		existing.refcount++
		if existing.idle != nil {
			existing.idle.Stop()
			existing.idle = nil
		}
		return existing.tr, nil
	}
	if r.maxTransports > 0 && len(r.table) >= r.maxTransports {
		_ = tr.Close()
		return nil, errs.New(errs.KindTooMany, "transport.Acquire", "transport table full", nil)
	}
	r.table[k] = &entry{tr: tr, refcount: 1}
	return tr, nil
}

// Send renders tb's wire form (reusing its print cache where possible)
// and writes it to tr, the registry-owned final hop of §4.1's data flow:
// "EC walks modules in reverse order ... TR serializes and sends via the
// chosen transport." remote is checked against tr's own remote address
// as a caller sanity check — Send never route the buffer anywhere but
// where tr is already bound.
func (r *Registry) Send(ctx context.Context, tr Transport, tb *buffer.TxBuffer, remote net.Addr) (int, error) {
	if tr.RemoteAddr().String() != remote.String() {
		return 0, errs.New(errs.KindInvalidArg, "transport.Send", "remote does not match transport's bound remote address", nil)
	}

	wire, err := tb.Print()
	if err != nil {
		return 0, errs.New(errs.KindSocketError, "transport.Send", "print failed", err)
	}
	if err := tr.Send(ctx, wire); err != nil {
		return 0, err
	}
	return len(wire), nil
}

// Release decrements the refcount for the transport at (typ, remote).
// UDP transports are kept in the table indefinitely once created (they
// share one socket across every remote); connection-oriented transports
// are scheduled for Close after idleGrace once refcount reaches zero,
// and the schedule is canceled if Acquire claims the entry again first.
func (r *Registry) Release(typ Type, remote net.Addr) {
	k := key(typ, remote)

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.table[k]
	if !ok {
		return
	}
	e.refcount--
	if e.refcount > 0 || typ == TypeUDP {
		return
	}

	e.idle = time.AfterFunc(r.idleGrace, func() {
		r.reclaim(k)
	})
}

func (r *Registry) reclaim(k string) {
	r.mu.Lock()
	e, ok := r.table[k]
	if !ok || e.refcount > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.table, k)
	r.mu.Unlock()

	_ = e.tr.Close()
}

// Len reports how many transports the registry currently tracks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.table)
}
