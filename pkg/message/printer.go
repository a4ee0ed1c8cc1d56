package message

import (
	"strconv"
	"strings"
)

// Printer is the structured-message-to-wire-bytes contract §6 declares
// as an external collaborator. Printer.Print must be idempotent modulo
// buffer growth (§6) — BasicPrinter satisfies this because it always
// renders from the Message's current header/body state rather than
// mutating it.
type Printer interface {
	Print(msg Message) ([]byte, error)
}

// BasicPrinter renders the subset of SIP grammar BasicParser accepts.
type BasicPrinter struct{}

func (BasicPrinter) Print(msg Message) ([]byte, error) {
	var b strings.Builder

	switch m := msg.(type) {
	case *Request:
		b.WriteString(m.Method)
		b.WriteByte(' ')
		b.WriteString(m.RequestURI)
		b.WriteString(" SIP/2.0\r\n")
	case *Response:
		b.WriteString("SIP/2.0 ")
		b.WriteString(strconv.Itoa(m.StatusCode))
		b.WriteByte(' ')
		b.WriteString(m.Reason)
		b.WriteString("\r\n")
	}

	for _, h := range msg.Headers().All() {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.Write(msg.Body())

	return []byte(b.String()), nil
}
