// Package presence layers RFC 3856/3863 presence semantics on top of
// the package-independent evsub state machine: notifier admission,
// PIDF/XPIDF body generation and parsing, and the NOTIFY emission/
// reception flow named in §4.4.
package presence

import "github.com/sipkit/sipkit/pkg/errs"

// ContentType is the negotiated presence document format.
type ContentType int

const (
	ContentNone ContentType = iota
	ContentPIDF
	ContentXPIDF
)

const (
	MimePIDF  = "application/pidf+xml"
	MimeXPIDF = "application/xpidf+xml"
)

func (c ContentType) MimeType() string {
	switch c {
	case ContentPIDF:
		return MimePIDF
	case ContentXPIDF:
		return MimeXPIDF
	default:
		return ""
	}
}

const maxStatusTuples = 64

// Tuple is one presence status entry: a tuple id, an optional contact
// URI, and an open/closed basic flag.
type Tuple struct {
	ID        string
	Contact   string
	BasicOpen bool
}

// Status holds at most maxStatusTuples tuples (§3: "info count ≤ fixed
// cap"); a NOTIFY cannot be emitted until InfoCount() >= 1.
type Status struct {
	Note   string // RFC 3863 <note>; empty when not set
	tuples []Tuple
}

func (s *Status) InfoCount() int { return len(s.tuples) }

func (s *Status) Tuples() []Tuple { return s.tuples }

// SetTuple replaces the tuple with this ID, or appends it if not
// already present. Returns TooMany once maxStatusTuples is reached by a
// genuinely new id.
func (s *Status) SetTuple(t Tuple) error {
	for i, existing := range s.tuples {
		if existing.ID == t.ID {
			s.tuples[i] = t
			return nil
		}
	}
	if len(s.tuples) >= maxStatusTuples {
		return errs.New(errs.KindTooMany, "presence.SetTuple", "status tuple cap reached", nil)
	}
	s.tuples = append(s.tuples, t)
	return nil
}

// Clone deep-copies the status (the clone-into-target-pool operation
// §4.4's NOTIFY emission section names, realized here as an ordinary
// value copy since Go's GC makes a separate target pool unnecessary).
func (s *Status) Clone() *Status {
	out := &Status{Note: s.Note, tuples: make([]Tuple, len(s.tuples))}
	copy(out.tuples, s.tuples)
	return out
}
