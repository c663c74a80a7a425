// Package streamgraph tracks each stream's basis (parent) over time
// and answers "what was stream S's basis at transaction T" and "which
// streams are S's children at T" — the questions chstream processing
// and child propagation need (spec §3, §4.5).
package streamgraph

import (
	"sort"
	"strconv"

	"github.com/ac2git/ac2git/pkg/toposort"
)

// StreamState is one stream's recorded shape as of a show-streams
// snapshot: id, name, basis id (zero if none), kind, and timelock.
type StreamState struct {
	ID       int
	Name     string
	BasisID  int
	Kind     string
	Timelock string
}

// snapshot is one show-streams response, keyed by the transaction id it
// was taken at.
type snapshot struct {
	txID    int
	streams map[int]StreamState
}

// Graph accumulates show-streams snapshots across processed
// transactions and answers basis/child queries at any recorded
// transaction id. The effective basis at T is the basis recorded in the
// most recent snapshot <= T (spec §3).
type Graph struct {
	snapshots []snapshot // ascending by txID
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{}
}

// RecordSnapshot appends a show-streams result taken at txID. Snapshots
// must be recorded in non-decreasing transaction id order, matching the
// planner's strictly increasing processing order.
func (g *Graph) RecordSnapshot(txID int, streams []StreamState) {
	byID := make(map[int]StreamState, len(streams))
	for _, s := range streams {
		byID[s.ID] = s
	}

	g.snapshots = append(g.snapshots, snapshot{txID: txID, streams: byID})
}

// snapshotAt returns the most recent snapshot with txID <= at, using
// binary search since snapshots accumulate in increasing order.
func (g *Graph) snapshotAt(at int) (snapshot, bool) {
	idx := sort.Search(len(g.snapshots), func(i int) bool {
		return g.snapshots[i].txID > at
	})

	if idx == 0 {
		return snapshot{}, false
	}

	return g.snapshots[idx-1], true
}

// StateAt returns streamID's recorded state as of the most recent
// snapshot <= at.
func (g *Graph) StateAt(streamID, at int) (StreamState, bool) {
	snap, ok := g.snapshotAt(at)
	if !ok {
		return StreamState{}, false
	}

	state, ok := snap.streams[streamID]

	return state, ok
}

// BasisAt returns streamID's basis stream id as of the most recent
// snapshot <= at. ok is false if streamID is unknown at that point or
// has no basis (depot root stream).
func (g *Graph) BasisAt(streamID, at int) (int, bool) {
	state, ok := g.StateAt(streamID, at)
	if !ok || state.BasisID == 0 {
		return 0, false
	}

	return state.BasisID, true
}

// ChildrenAt returns the ids of every tracked stream whose basis at tx
// is parentID, sorted ascending (spec §4.5: "depth-first, in-order by
// child stream id"). tracked restricts the result to the engine's
// configured stream set.
func (g *Graph) ChildrenAt(parentID, at int, tracked map[int]bool) []int {
	snap, ok := g.snapshotAt(at)
	if !ok {
		return nil
	}

	graph := toposort.NewGraph()
	for id := range snap.streams {
		graph.AddNode(strconv.Itoa(id))
	}

	for id, state := range snap.streams {
		if state.BasisID != 0 {
			graph.AddEdge(strconv.Itoa(state.BasisID), strconv.Itoa(id))
		}
	}

	childNames := graph.FindChildren(strconv.Itoa(parentID))

	children := make([]int, 0, len(childNames))

	for _, name := range childNames {
		id, err := strconv.Atoi(name)
		if err != nil {
			continue
		}

		if tracked == nil || tracked[id] {
			children = append(children, id)
		}
	}

	sort.Ints(children)

	return children
}

// IDByNameAt resolves a stream name to its id as of the most recent
// snapshot <= at — the lookup promote dispatch needs, since AccuRev
// history records a transaction's from/to streams by name, not id.
func (g *Graph) IDByNameAt(name string, at int) (int, bool) {
	snap, ok := g.snapshotAt(at)
	if !ok {
		return 0, false
	}

	for id, state := range snap.streams {
		if state.Name == name {
			return id, true
		}
	}

	return 0, false
}

// BasisChanged reports whether streamID's basis differs between the
// snapshot at txPrev and the snapshot at tx — the chstream no-op vs
// re-anchor decision (spec §4.5).
func (g *Graph) BasisChanged(streamID, txPrev, tx int) bool {
	prevBasis, prevOK := g.BasisAt(streamID, txPrev)
	curBasis, curOK := g.BasisAt(streamID, tx)

	return prevOK != curOK || prevBasis != curBasis
}
