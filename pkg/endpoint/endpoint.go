// Package endpoint implements the endpoint core: module registry,
// event loop, rx/tx dispatch, and timer/resolver façades spec.md's
// Endpoint Core entity names. The registration and dispatch algorithms
// are transcribed straight from pjsip_endpt_register_module and
// endpt_on_rx_msg/endpt_on_tx_msg in the original source; the loop
// itself is the channel-based reactor realization of
// pjsip_endpt_handle_events2.
package endpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sipkit/sipkit/pkg/buffer"
	"github.com/sipkit/sipkit/pkg/config"
	"github.com/sipkit/sipkit/pkg/errs"
	"github.com/sipkit/sipkit/pkg/ioqueue"
	"github.com/sipkit/sipkit/pkg/message"
	"github.com/sipkit/sipkit/pkg/module"
	"github.com/sipkit/sipkit/pkg/resolver"
	"github.com/sipkit/sipkit/pkg/timer"
	"github.com/sipkit/sipkit/pkg/transport"
)

// CapabilityType names one of the three generic-array capability
// headers the endpoint tracks.
type CapabilityType int

const (
	CapAccept CapabilityType = iota
	CapAllow
	CapSupported
)

// RxEvent is what a transport hands the endpoint once it has a parsed
// message ready for dispatch.
type RxEvent struct {
	Msg       message.Message
	Transport transport.Transport
	LocalName string // this transport's local host:port, for the sent-by check
}

// Endpoint is the single per-process owner of the module registry,
// timer heap, I/O multiplexer, resolver, and transport registry (§3:
// "exactly one per process context").
type Endpoint struct {
	Name string

	mu      sync.RWMutex // guards modules + capability headers together, matching §3's "kept in sync under a reader/writer lock"
	modules []module.Module

	// slots is the bounded, sparse module array (§3: "module array
	// (sparse, bounded PJSIP_MAX_MODULE)"): index i holds whatever module
	// currently owns id i, or nil if that id is free. modules above keeps
	// the same set in priority-dispatch order; slots only tracks id
	// assignment.
	slots      []module.Module
	maxModules int

	caps map[CapabilityType][]string

	Timers    *timer.Heap
	Mux       ioqueue.Multiplexer
	Resolver  resolver.Resolver
	Transport *transport.Registry
	Pool      *buffer.Pool
	Printer   message.Printer

	maxNetEvents int

	log *logrus.Entry
}

// New constructs an Endpoint wired to the given collaborators. All of
// them are required; Options is deliberately not used here since every
// field is load-bearing for handle_events — there's no sensible
// zero-value default for a timer heap or a multiplexer. t supplies the
// process-wide bounds (max modules, max net events per poll); a nil t
// falls back to config.Default().
func New(name string, t *config.Tunables, timers *timer.Heap, mux ioqueue.Multiplexer, res resolver.Resolver, reg *transport.Registry, pool *buffer.Pool, printer message.Printer) *Endpoint {
	if t == nil {
		d := config.Default()
		t = &d
	}
	return &Endpoint{
		Name:         name,
		caps:         make(map[CapabilityType][]string),
		maxModules:   t.MaxModules,
		Timers:       timers,
		Mux:          mux,
		Resolver:     res,
		Transport:    reg,
		Pool:         pool,
		Printer:      printer,
		maxNetEvents: t.MaxNetEvents,
		log:          logrus.WithField("endpoint", name),
	}
}

// RegisterModule links mod into the registry. Rejects a duplicate
// (case-insensitive) name; calls mod.Load then mod.Start,
// rolling back registration if either fails; inserts into the
// priority-ordered list before the first module with strictly greater
// priority so equal-priority modules keep registration order (§4.3:
// "stable insertion preserves registration order for equal
// priorities"); assigns mod the lowest free id in the bounded module
// array, failing with TooMany once maxModules slots are all occupied.
func (e *Endpoint) RegisterModule(mod module.Module) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := canonModName(mod.Name())
	for _, m := range e.modules {
		if canonModName(m.Name()) == name {
			return errs.New(errs.KindAlreadyExists, "endpoint.RegisterModule", "module name already registered", nil)
		}
	}

	id := -1
	for i, slot := range e.slots {
		if slot == nil {
			id = i
			break
		}
	}
	if id < 0 {
		if e.maxModules > 0 && len(e.slots) >= e.maxModules {
			return errs.New(errs.KindTooMany, "endpoint.RegisterModule", "module table full", nil)
		}
		id = len(e.slots)
		e.slots = append(e.slots, nil)
	}

	if err := mod.Load(); err != nil {
		return errs.New(errs.KindAllocFailure, "endpoint.RegisterModule", "module load failed", err)
	}
	if err := mod.Start(); err != nil {
		_ = mod.Unload()
		return errs.New(errs.KindAllocFailure, "endpoint.RegisterModule", "module start failed", err)
	}

	mod.SetId(id)
	e.slots[id] = mod

	pos := sort.Search(len(e.modules), func(i int) bool {
		return e.modules[i].Priority() > mod.Priority()
	})
	e.modules = append(e.modules, nil)
	copy(e.modules[pos+1:], e.modules[pos:])
	e.modules[pos] = mod

	e.log.WithFields(logrus.Fields{"module": mod.Name(), "id": id, "priority": mod.Priority()}).Info("module registered")
	return nil
}

// UnregisterModule removes mod from the registry, calling Stop then
// Unload and freeing its id back to -1 so a later RegisterModule call
// can reuse the now-free slot (§8 property: "re-registering ... yields a
// module at the same lowest-free id"). If Stop or Unload fails, the error
// is returned and the module stays registered. A module not currently
// registered is a no-op success.
func (e *Endpoint) UnregisterModule(mod module.Module) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := canonModName(mod.Name())
	for i, m := range e.modules {
		if canonModName(m.Name()) == name {
			if err := m.Stop(); err != nil {
				return errs.New(errs.KindAllocFailure, "endpoint.UnregisterModule", "module stop failed", err)
			}
			if err := m.Unload(); err != nil {
				return err
			}
			e.modules = append(e.modules[:i], e.modules[i+1:]...)
			e.slots[m.Id()] = nil
			m.SetId(-1)
			return nil
		}
	}
	return nil
}

func canonModName(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// AddCapability appends deduplicated tags to htype's generic-array
// header, creating it on first use.
func (e *Endpoint) AddCapability(htype CapabilityType, tags ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing := e.caps[htype]
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range tags {
		if !seen[t] {
			existing = append(existing, t)
			seen[t] = true
		}
	}
	e.caps[htype] = existing
}

// GetCapability returns htype's tags and whether the header exists.
func (e *Endpoint) GetCapability(htype CapabilityType) ([]string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tags, ok := e.caps[htype]
	return tags, ok
}

// ScheduleTimer forwards to the timer heap.
func (e *Endpoint) ScheduleTimer(delay time.Duration, cb func()) (*timer.Entry, error) {
	return e.Timers.Schedule(delay, cb)
}

// CancelTimer forwards to the timer heap.
func (e *Endpoint) CancelTimer(entry *timer.Entry) {
	e.Timers.Cancel(entry)
}

// Resolve forwards to the resolver; all resolver I/O is funneled
// through the same multiplexer the event loop polls.
func (e *Endpoint) Resolve(ctx context.Context, target resolver.Target, cont resolver.Continuation) {
	e.Resolver.Resolve(ctx, target, cont)
}
