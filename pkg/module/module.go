// Package module defines the eight-hook interface the endpoint core calls
// into for every registered module, and the priority-ordered insertion
// rule spec.md's module registry names.
package module

import "github.com/sipkit/sipkit/pkg/message"

// Priority controls dispatch order. Lower values run first on rx, and
// last on tx — mirroring the original's "rx walks low-to-high, tx walks
// high-to-low" symmetry (§4.3).
type Priority int

const (
	PriorityTransportLayer Priority = 8
	PriorityTransactionLayer Priority = 16
	PriorityDialogUsage Priority = 32
	PriorityApplication Priority = 64
)

// Disposition is a module's verdict on one rx event: whether it
// consumed the message or is letting the walk continue to the next
// module.
type Disposition int

const (
	NotHandled Disposition = iota
	Handled
)

// Module is the capability interface the endpoint core registers,
// priority-sorts, and dispatches rx/tx events to (§6 collaborator:
// modules are opaque to the endpoint beyond these eight hooks).
//
// Implementations should embed Noop to satisfy Module without writing
// out every hook, the same embeddable-default idiom beacon used for its
// optional responder callbacks. Embedding Noop also gives the module its
// Id/SetId storage, so only the endpoint ever calls SetId.
type Module interface {
	Name() string
	Priority() Priority

	// Id reports the module's slot index in the endpoint's bounded
	// module array, or -1 if the module is not currently registered
	// (§3: "assigned id ... id is the array index").
	Id() int
	// SetId is called by the endpoint on registration and unregistration;
	// implementations should not call it themselves.
	SetId(id int)

	Load() error
	Start() error
	Stop() error
	Unload() error

	OnRxRequest(msg message.Message) Disposition
	OnRxResponse(msg message.Message) Disposition
	OnTxRequest(msg message.Message) Disposition
	OnTxResponse(msg message.Message) Disposition
}

// Noop implements every Module hook as a no-op / NotHandled so embedders
// only override what they need. Its zero value reports Id() as -1: id
// is a pointer rather than a bare int specifically so an un-SetId'd Noop
// (a module that was never registered) reads as unregistered rather than
// colliding with slot 0.
type Noop struct {
	id *int
}

func (n *Noop) Id() int {
	if n.id == nil {
		return -1
	}
	return *n.id
}

func (n *Noop) SetId(id int) { n.id = &id }

func (*Noop) Load() error   { return nil }
func (*Noop) Start() error  { return nil }
func (*Noop) Stop() error   { return nil }
func (*Noop) Unload() error { return nil }

func (*Noop) OnRxRequest(message.Message) Disposition  { return NotHandled }
func (*Noop) OnRxResponse(message.Message) Disposition { return NotHandled }
func (*Noop) OnTxRequest(message.Message) Disposition  { return NotHandled }
func (*Noop) OnTxResponse(message.Message) Disposition { return NotHandled }
