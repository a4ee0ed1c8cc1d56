package presence

import (
	"encoding/xml"

	"github.com/sipkit/sipkit/pkg/errs"
)

// PIDF/XPIDF are the only stdlib-only concern in this module: no pack
// library offers an XML encoder/decoder suited to these two small,
// fixed schemas, so encoding/xml is used directly rather than pulling
// in a general-purpose XML library for two document shapes.

type pidfStatus struct {
	Basic string `xml:"basic"`
}

type pidfTuple struct {
	ID      string      `xml:"id,attr"`
	Status  pidfStatus  `xml:"status"`
	Contact string      `xml:"contact,omitempty"`
}

type pidfNote struct {
	Text string `xml:",chardata"`
}

type pidfDocument struct {
	XMLName xml.Name    `xml:"urn:ietf:params:xml:ns:pidf presence"`
	Entity  string      `xml:"entity,attr"`
	Tuples  []pidfTuple `xml:"tuple"`
	Note    *pidfNote   `xml:"note,omitempty"`
}

func basicString(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}

// BuildPIDF renders status as a <presence> document with one <tuple>
// per status entry (§4.4 NOTIFY emission: "one <tuple> per status info
// entry containing <status><basic>open|closed</basic></status> and
// (when non-empty) <contact>").
func BuildPIDF(entity string, status *Status) ([]byte, error) {
	if status.InfoCount() == 0 {
		return nil, errs.New(errs.KindNoPresenceInfo, "presence.BuildPIDF", "no status tuples to publish", nil)
	}

	doc := pidfDocument{Entity: entity}
	for _, t := range status.Tuples() {
		doc.Tuples = append(doc.Tuples, pidfTuple{
			ID:      t.ID,
			Status:  pidfStatus{Basic: basicString(t.BasicOpen)},
			Contact: t.Contact,
		})
	}
	if status.Note != "" {
		doc.Note = &pidfNote{Text: status.Note}
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, errs.New(errs.KindBadPIDF, "presence.BuildPIDF", "marshal failed", err)
	}
	return out, nil
}

// ParsePIDF parses a PIDF body into a Status, copying id/contact/basic
// for each <tuple> (§4.4 NOTIFY reception).
func ParsePIDF(body []byte) (*Status, error) {
	var doc pidfDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, errs.New(errs.KindBadPIDF, "presence.ParsePIDF", "unmarshal failed", err)
	}

	status := &Status{}
	for _, t := range doc.Tuples {
		if err := status.SetTuple(Tuple{ID: t.ID, Contact: t.Contact, BasicOpen: t.Status.Basic == "open"}); err != nil {
			return nil, err
		}
	}
	if doc.Note != nil {
		status.Note = doc.Note.Text
	}
	return status, nil
}

type xpidfAtom struct {
	ID      string `xml:"id,attr"`
	Address struct {
		URI    string `xml:"uri,attr"`
		Status struct {
			Status string `xml:"status,attr"`
		} `xml:"status"`
	} `xml:"address"`
}

type xpidfDocument struct {
	XMLName xml.Name  `xml:"presence"`
	URI     string    `xml:"uri,attr"`
	Atom    xpidfAtom `xml:"atom"`
}

// BuildXPIDF renders the legacy xpidf+xml document carrying exactly the
// first status tuple's basic flag (§4.4: "produce the legacy document
// with the first status's basic flag; emit a warning log noting
// incompleteness"). This function has no logger of its own; the
// warning is logged by Context.renderBody before it calls BuildXPIDF.
func BuildXPIDF(entity string, status *Status) ([]byte, error) {
	if status.InfoCount() == 0 {
		return nil, errs.New(errs.KindNoPresenceInfo, "presence.BuildXPIDF", "no status tuples to publish", nil)
	}
	first := status.Tuples()[0]

	doc := xpidfDocument{URI: entity}
	doc.Atom.ID = first.ID
	doc.Atom.Address.URI = first.Contact
	doc.Atom.Address.Status.Status = basicString(first.BasicOpen)

	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, errs.New(errs.KindBadXPIDF, "presence.BuildXPIDF", "marshal failed", err)
	}
	return out, nil
}

// ParseXPIDF parses an xpidf+xml body into a Status with exactly one
// tuple: uri maps to contact, the status attribute maps to basic_open,
// id is left empty (§4.4 NOTIFY reception, xpidf branch).
func ParseXPIDF(body []byte) (*Status, error) {
	var doc xpidfDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, errs.New(errs.KindBadXPIDF, "presence.ParseXPIDF", "unmarshal failed", err)
	}

	status := &Status{}
	if err := status.SetTuple(Tuple{
		Contact:   doc.Atom.Address.URI,
		BasicOpen: doc.Atom.Address.Status.Status == "open",
	}); err != nil {
		return nil, err
	}
	return status, nil
}
