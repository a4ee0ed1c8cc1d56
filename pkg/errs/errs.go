// Package errs defines the abstract error kinds shared by the endpoint,
// transport, and presence packages.
//
// These map 1:1 to the error kinds named in the core design: allocation
// failure, lookup failure, duplicate registration, capacity exhaustion,
// invalid arguments, parse/header failures, transport failures, and the
// presence package's semantic failures. Kinds are compared with
// errors.Is; the typed structs carry enough context for logging without
// forcing callers to parse strings.
package errs

import "fmt"

// Kind is a stable, comparable error classification independent of any
// particular error's message text.
type Kind string

const (
	KindAllocFailure    Kind = "alloc_failure"
	KindNotFound        Kind = "not_found"
	KindAlreadyExists   Kind = "already_exists"
	KindTooMany         Kind = "too_many"
	KindInvalidArg      Kind = "invalid_arg"
	KindParseError      Kind = "parse_error"
	KindMissingHeader   Kind = "missing_header"
	KindNoRoute         Kind = "no_route"
	KindSocketError     Kind = "socket_error"
	KindBadEvent        Kind = "bad_event"
	KindBadContent      Kind = "bad_content"
	KindBadPIDF         Kind = "bad_pidf"
	KindBadXPIDF        Kind = "bad_xpidf"
	KindNoPresenceInfo  Kind = "no_presence_info"
	KindIntervalTooBrief Kind = "interval_too_brief"
	KindNotAcceptable   Kind = "not_acceptable"
)

// Error is a typed error carrying a Kind plus free-form context. It
// supports errors.Is comparison against a bare Kind value and errors.As
// extraction of the full struct.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "transport.acquire"
	Details string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Details, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, SomeKind) work by comparing against a sentinel
// wrapping just a Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(*Error)
	if !ok {
		return false
	}
	return k.Op == "" && k.Err == nil && k.Details == "" && k.Kind == e.Kind
}

// New constructs a typed error for the given kind.
func New(kind Kind, op, details string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Details: details, Err: cause}
}

// KindSentinel returns a comparison target for errors.Is(err, KindSentinel(KindNotFound)).
func KindSentinel(kind Kind) error {
	return &Error{Kind: kind}
}
