// Package accurevxml decodes the XML documents emitted by the AccuRev
// command-line client's -fx output mode.
package accurevxml

import "encoding/xml"

// History is the decoded form of `accurev hist -fx` for a single
// transaction (or a short range, when the caller requests more than one).
type History struct {
	XMLName      xml.Name      `xml:"AcResponse"`
	TaskID       int           `xml:"TaskId,attr"`
	Transactions []Transaction `xml:"transaction"`
}

// Transaction is one `<transaction>` element of a hist response.
type Transaction struct {
	ID         int      `xml:"id,attr"`
	Kind       string   `xml:"type,attr"`
	Time       int64    `xml:"time,attr"`
	User       string   `xml:"user,attr"`
	StreamName string   `xml:"streamName,attr"`
	Comment    string   `xml:"comment"`
	Versions   []Version `xml:"version"`
	Streams    []StreamRef `xml:"stream"`
}

// Version is an element-change record nested in a transaction.
type Version struct {
	Path      string `xml:"path,attr"`
	EID       string `xml:"eid,attr"`
	Virtual   string `xml:"virtual,attr"`
	Real      string `xml:"real,attr"`
	ElemType  string `xml:"elem_type,attr"`
}

// StreamRef captures the <stream> child some transaction kinds carry,
// notably promote's "fromStream"/"toStream" pair. AccuRev represents the
// promote source/destination with the name attribute and a distinguishing
// position in the transaction rather than a dedicated field, so callers
// should check Kind before trusting FromStream/ToStream being populated.
type StreamRef struct {
	Name string `xml:"name,attr"`
}

// FromToStream separates a promote transaction's source and destination
// stream names out of its raw Streams slice. AccuRev's promote hist XML
// lists the source stream first and the destination stream second; older
// transactions may omit one or both.
func (t Transaction) FromToStream() (fromStream, toStream string) {
	switch len(t.Streams) {
	case 0:
		return "", ""
	case 1:
		return t.Streams[0].Name, ""
	default:
		return t.Streams[0].Name, t.Streams[1].Name
	}
}

// Normalized returns a copy of History with TaskId zeroed, per the
// requirement that identical command outputs across runs hash identically
// once committed to the target store.
func (h History) Normalized() History {
	h.TaskID = 0
	return h
}
