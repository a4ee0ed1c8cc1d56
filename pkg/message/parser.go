package message

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError describes one malformed element encountered while parsing;
// parsing continues past non-fatal errors so the endpoint can still log
// and drop the best-effort result (§7 ParseError: "the endpoint logs and
// drops; never surfaced upstream as an exception").
type ParseError struct {
	Kind    string
	Message string
}

func (e *ParseError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

// Parser is the raw-bytes-to-structured-message contract §6 declares as
// an external collaborator.
type Parser interface {
	Parse(raw []byte) (Message, []ParseError)
}

// BasicParser implements enough SIP grammar to round-trip the request/
// response shapes the endpoint and presence packages consume: a start
// line, CRLF-separated headers (folded lines are not supported — out of
// scope per SPEC_FULL.md), a blank line, and a body sized by
// Content-Length (or the remainder of raw when Content-Length is absent).
type BasicParser struct{}

func (BasicParser) Parse(raw []byte) (Message, []ParseError) {
	text := string(raw)
	lines := strings.Split(text, "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, []ParseError{{Kind: "parse_error", Message: "empty message"}}
	}

	var msg Message
	var errs []ParseError

	start := lines[0]
	if strings.HasPrefix(start, "SIP/2.0 ") {
		fields := strings.SplitN(start, " ", 3)
		if len(fields) < 2 {
			return nil, []ParseError{{Kind: "parse_error", Message: "malformed status line"}}
		}
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			errs = append(errs, ParseError{Kind: "parse_error", Message: "non-numeric status code"})
		}
		reason := ""
		if len(fields) == 3 {
			reason = fields[2]
		}
		msg = &Response{StatusCode: code, Reason: reason}
	} else {
		fields := strings.SplitN(start, " ", 3)
		if len(fields) < 2 {
			return nil, []ParseError{{Kind: "parse_error", Message: "malformed request line"}}
		}
		msg = &Request{Method: fields[0], RequestURI: fields[1]}
	}

	hdrs := msg.Headers()
	i := 1
	for ; i < len(lines); i++ {
		line := lines[i]
		if line == "" {
			i++
			break
		}
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			errs = append(errs, ParseError{Kind: "parse_error", Message: "malformed header: " + line})
			continue
		}
		hdrs.Add(strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1]))
	}

	body := strings.Join(lines[i:], "\r\n")
	if cl, ok := hdrs.Get("Content-Length"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err == nil && n >= 0 && n <= len(body) {
			body = body[:n]
		} else if err != nil {
			errs = append(errs, ParseError{Kind: "parse_error", Message: "malformed Content-Length"})
		}
	}
	if body != "" {
		msg.SetBody("", []byte(body))
		hdrs.Set("Content-Length", strconv.Itoa(len(body)))
		if ct, ok := hdrs.Get("Content-Type"); ok {
			hdrs.Set("Content-Type", ct)
		}
	}

	if missing := missingMandatoryHeaders(hdrs); len(missing) > 0 {
		errs = append(errs, ParseError{Kind: "missing_header", Message: strings.Join(missing, " ")})
	}

	return msg, errs
}

func missingMandatoryHeaders(h *Headers) []string {
	var missing []string
	for _, name := range []string{"Call-ID", "From", "To", "Via", "CSeq"} {
		if !h.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
