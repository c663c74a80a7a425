package accurevxml

import (
	"encoding/xml"
	"errors"
	"fmt"
)

// ErrMalformed indicates the source client returned XML accurevxml
// could not decode. Known to happen for very old transactions; callers
// in pkg/accurev wrap this as a ParseError and record a sentinel empty
// payload rather than aborting the stream.
var ErrMalformed = errors.New("malformed accurev xml")

// ParseHistory decodes a hist -fx payload.
func ParseHistory(data []byte) (History, error) {
	var h History

	if err := xml.Unmarshal(data, &h); err != nil {
		return History{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return h.Normalized(), nil
}

// ParseStreams decodes a show streams -fx payload.
func ParseStreams(data []byte) (Streams, error) {
	var s Streams

	if err := xml.Unmarshal(data, &s); err != nil {
		return Streams{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return s.Normalized(), nil
}

// ParseDiff decodes a diff -fx payload.
func ParseDiff(data []byte) (Diff, error) {
	var d Diff

	if err := xml.Unmarshal(data, &d); err != nil {
		return Diff{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return d.Normalized(), nil
}

// ParseDeepHist decodes a deep-hist discovery payload.
func ParseDeepHist(data []byte) (DeepHist, error) {
	var d DeepHist

	if err := xml.Unmarshal(data, &d); err != nil {
		return DeepHist{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return d.Normalized(), nil
}

// EmptyHistory is the sentinel payload the retrieval pipeline records
// for a transaction whose hist XML failed to parse: an empty change
// set that still advances bookkeeping.
func EmptyHistory(taskID int) History {
	return History{TaskID: taskID}
}
