package message

import (
	"strconv"
	"strings"
)

// Index caches the header views spec.md's Rx buffer entity requires:
// Call-ID, From, From-tag, To, To-tag, Via (the topmost hop), and CSeq.
// Built once per received message so the endpoint's dispatch logic and
// the sent-by check never re-parse headers.
type Index struct {
	CallID   string
	From     string
	FromTag  string
	To       string
	ToTag    string
	Via      *ViaHop
	CSeqNum  int
	CSeqMeth string
}

// BuildIndex extracts the cached views from msg, returning the names of
// any mandatory headers that were missing or unparseable (§7
// MissingHeader: "request lacks Call-ID/From/To/Via/CSeq").
func BuildIndex(msg Message) (*Index, []string) {
	h := msg.Headers()
	var missing []string
	idx := &Index{}

	if v, ok := h.Get("Call-ID"); ok {
		idx.CallID = v
	} else {
		missing = append(missing, "Call-ID")
	}

	if v, ok := h.Get("From"); ok {
		idx.From, idx.FromTag = splitTag(v)
	} else {
		missing = append(missing, "From")
	}

	if v, ok := h.Get("To"); ok {
		idx.To, idx.ToTag = splitTag(v)
	} else {
		missing = append(missing, "To")
	}

	if v, ok := h.Get("Via"); ok {
		hop, err := ParseVia(v)
		if err != nil {
			missing = append(missing, "Via")
		} else {
			idx.Via = hop
		}
	} else {
		missing = append(missing, "Via")
	}

	if v, ok := h.Get("CSeq"); ok {
		num, meth, err := splitCSeq(v)
		if err != nil {
			missing = append(missing, "CSeq")
		} else {
			idx.CSeqNum, idx.CSeqMeth = num, meth
		}
	} else {
		missing = append(missing, "CSeq")
	}

	return idx, missing
}

func splitTag(headerVal string) (uri string, tag string) {
	parts := strings.Split(headerVal, ";")
	uri = strings.TrimSpace(parts[0])
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(strings.ToLower(p), "tag=") {
			tag = p[len("tag="):]
		}
	}
	return uri, tag
}

func splitCSeq(v string) (int, string, error) {
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return 0, "", &ParseError{Kind: "parse_error", Message: "malformed CSeq"}
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", &ParseError{Kind: "parse_error", Message: "malformed CSeq number"}
	}
	return n, fields[1], nil
}
