package accurevxml

import "encoding/xml"

// DeepHist is the decoded form of `accurev hist -t <range> -s <stream>
// -fx` used as the deep-hist strategy's transaction discovery step —
// the ordered list of transaction ids that could have affected a stream
// within a range. May over-approximate; must never under-approximate.
type DeepHist struct {
	XMLName      xml.Name      `xml:"AcResponse"`
	TaskID       int           `xml:"TaskId,attr"`
	Transactions []Transaction `xml:"transaction"`
}

// TransactionIDs extracts the ordered transaction ids from a DeepHist
// response, ascending (AccuRev emits them descending by default).
func (d DeepHist) TransactionIDs() []int {
	ids := make([]int, len(d.Transactions))
	for i, t := range d.Transactions {
		ids[len(d.Transactions)-1-i] = t.ID
	}

	return ids
}

// Normalized returns a copy of DeepHist with TaskId zeroed.
func (d DeepHist) Normalized() DeepHist {
	d.TaskID = 0
	return d
}
