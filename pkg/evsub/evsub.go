// Package evsub implements the package-independent RFC 3265 subscription
// state machine the presence package (and, in principle, any other
// event package) builds on. State transitions, the dialog-locking
// contract, and the six-hook user capability interface are transcribed
// from §4.4/§4.5's package-independent subscription description.
package evsub

import (
	"sync"
	"time"

	"github.com/sipkit/sipkit/pkg/errs"
)

// State is one of the subscription's RFC 3265 states.
type State int

const (
	StateNull State = iota
	StateSent
	StateAccepted
	StatePending
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateSent:
		return "SENT"
	case StateAccepted:
		return "ACCEPTED"
	case StatePending:
		return "PENDING"
	case StateActive:
		return "ACTIVE"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Role distinguishes which side of the SUBSCRIBE/NOTIFY pair a
// Subscription represents.
type Role int

const (
	RoleSubscriber Role = iota
	RoleNotifier
)

// Dialog is the locking and routing context every subscription
// operation runs under (§4.5: "the dialog ... supplies its own
// recursive lock"). A real dialog implementation also carries routing
// state the transaction layer needs; evsub only needs the lock.
type Dialog interface {
	Lock()
	Unlock()
	LocalURI() string
	RemoteURI() string
}

// User is the capability interface modeling the original's
// function-pointer table (evsub_user): on_evsub_state, on_tsx_state,
// on_rx_refresh, on_rx_notify, on_client_refresh, on_server_timeout.
// Embed Noop to implement only the hooks that matter.
type User interface {
	OnEvsubState(sub *Subscription, oldState, newState State)
	OnTsxState(sub *Subscription, statusCode int)
	OnRxRefresh(sub *Subscription, expires time.Duration)
	OnRxNotify(sub *Subscription) (statusCode int)
	OnClientRefresh(sub *Subscription)
	OnServerTimeout(sub *Subscription)
}

// Noop implements every User hook as a no-op.
type Noop struct{}

func (Noop) OnEvsubState(*Subscription, State, State) {}
func (Noop) OnTsxState(*Subscription, int)            {}
func (Noop) OnRxRefresh(*Subscription, time.Duration) {}
func (Noop) OnRxNotify(*Subscription) int             { return 200 }
func (Noop) OnClientRefresh(*Subscription)            {}
func (Noop) OnServerTimeout(*Subscription)            {}

// Subscription is one RFC 3265 subscription: a dialog handle, event
// package name, role, current state, expiry timer, and an opaque
// per-package user-data slot (the presence context hangs here).
type Subscription struct {
	mu sync.Mutex

	Dialog      Dialog
	EventPkg    string
	Role        Role
	state       State
	ExpiresTimerID uint64 // opaque handle into the owning endpoint's timer heap; 0 means unscheduled
	UserData    any

	user User
}

// New creates a subscription in state NULL, bound to dialog and user
// for event package pkg.
func New(dialog Dialog, pkg string, role Role, user User) *Subscription {
	if user == nil {
		user = Noop{}
	}
	return &Subscription{Dialog: dialog, EventPkg: pkg, Role: role, state: StateNull, user: user}
}

// State returns the current state. Per §4.5, a read taken without the
// dialog lock (e.g. from inside a hook the transaction layer invokes)
// is advisory only.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transitions enumerates every state's legal successors, transcribed
// from the NULL→SENT→{ACCEPTED|TERMINATED}, ACCEPTED→{PENDING|ACTIVE|
// TERMINATED}, PENDING→{ACTIVE|TERMINATED}, ACTIVE→{ACTIVE|TERMINATED}
// graph. TERMINATED is absorbing: it has no successors.
var transitions = map[State]map[State]bool{
	StateNull:     {StateSent: true, StateAccepted: true}, // a notifier-side subscription is born directly into ACCEPTED
	StateSent:     {StateAccepted: true, StateTerminated: true},
	StateAccepted: {StatePending: true, StateActive: true, StateTerminated: true},
	StatePending:  {StateActive: true, StateTerminated: true},
	StateActive:   {StateActive: true, StateTerminated: true},
	StateTerminated: {},
}

// Transition moves the subscription to newState if the edge is legal,
// invoking the user's OnEvsubState hook on success. Transition guards
// the state with the subscription's own mutex only; it does not take the
// dialog's lock, and the presence package's operations call it without
// taking that lock either.
func (s *Subscription) Transition(newState State) error {
	s.mu.Lock()
	old := s.state
	allowed := transitions[old][newState]
	if allowed {
		s.state = newState
	}
	s.mu.Unlock()

	if !allowed {
		return errs.New(errs.KindInvalidArg, "evsub.Transition", old.String()+" -> "+newState.String()+" is not a legal transition", nil)
	}
	s.user.OnEvsubState(s, old, newState)
	return nil
}

// User returns the bound capability hooks.
func (s *Subscription) User() User { return s.user }
