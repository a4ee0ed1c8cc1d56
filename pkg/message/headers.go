package message

import "strings"

// Header is one name/value pair in wire order. Multiple headers with the
// same name (e.g. repeated Via) are preserved as separate entries.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered multimap of SIP headers, case-insensitive on
// name. Order is preserved for printing; lookups are case-insensitive
// per RFC 3261 §7.3.1.
type Headers struct {
	entries []Header
}

func canon(name string) string { return strings.ToLower(name) }

// Add appends a header, keeping any existing headers of the same name.
func (h *Headers) Add(name, value string) {
	h.entries = append(h.entries, Header{Name: name, Value: value})
}

// Set replaces all headers of this name with a single value.
func (h *Headers) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del removes every header with the given name.
func (h *Headers) Del(name string) {
	n := canon(name)
	out := h.entries[:0]
	for _, e := range h.entries {
		if canon(e.Name) != n {
			out = append(out, e)
		}
	}
	h.entries = out
}

// Get returns the first header value with this name, and whether it was
// present.
func (h *Headers) Get(name string) (string, bool) {
	n := canon(name)
	for _, e := range h.entries {
		if canon(e.Name) == n {
			return e.Value, true
		}
	}
	return "", false
}

// GetAll returns every value for headers with this name, in wire order.
func (h *Headers) GetAll(name string) []string {
	n := canon(name)
	var out []string
	for _, e := range h.entries {
		if canon(e.Name) == n {
			out = append(out, e.Value)
		}
	}
	return out
}

// Has reports whether any header with this name is present.
func (h *Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// All returns every header in wire order.
func (h *Headers) All() []Header {
	return h.entries
}
