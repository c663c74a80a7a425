package accurevxml

import "encoding/xml"

// Streams is the decoded form of `accurev show streams -fx` — a
// depot-wide snapshot of every stream's id, name, basis, kind, and
// timelock as of the transaction the snapshot was taken at.
type Streams struct {
	XMLName xml.Name     `xml:"AcResponse"`
	TaskID  int          `xml:"TaskId,attr"`
	Streams []StreamInfo `xml:"stream"`
}

// StreamInfo describes a single stream within a Streams snapshot.
type StreamInfo struct {
	ID       int    `xml:"streamNumber,attr"`
	Name     string `xml:"name,attr"`
	BasisID  int    `xml:"basisStreamNumber,attr"`
	Kind     string `xml:"type,attr"`
	Timelock string `xml:"time,attr"`
}

// HasBasis reports whether the stream has a parent stream recorded. A
// depot's root stream has no basis.
func (s StreamInfo) HasBasis() bool {
	return s.BasisID != 0
}

// Normalized returns a copy of Streams with TaskId zeroed.
func (s Streams) Normalized() Streams {
	s.TaskID = 0
	return s
}
