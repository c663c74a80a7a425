package accurevxml

import "encoding/xml"

// Diff is the decoded form of `accurev diff -a -fx` between two
// transactions of the same stream — the set of element paths that
// changed. Undefined (and never requested) for a stream's mkstream
// transaction.
type Diff struct {
	XMLName xml.Name     `xml:"AcResponse"`
	TaskID  int          `xml:"TaskId,attr"`
	Elements []DiffElement `xml:"element"`
}

// DiffElement is one changed path reported by a diff.
type DiffElement struct {
	Path string `xml:"name,attr"`
}

// Paths extracts the plain list of changed element paths.
func (d Diff) Paths() []string {
	paths := make([]string, len(d.Elements))
	for i, e := range d.Elements {
		paths[i] = e.Path
	}

	return paths
}

// Normalized returns a copy of Diff with TaskId zeroed.
func (d Diff) Normalized() Diff {
	d.TaskID = 0
	return d
}

// Empty reports whether the diff touched no elements — the retrieval
// pipeline's "skip a pop, commit empty data" branch for the diff and
// deep-hist strategies.
func (d Diff) Empty() bool {
	return len(d.Elements) == 0
}
