package engine

import (
	"github.com/ac2git/ac2git/internal/accurevxml"
	"github.com/ac2git/ac2git/pkg/gitstore"
)

// AffectedStream names one stream touched by a transaction, with a
// pointer to its corresponding commit on info/data (spec §4.4: "for
// each affected stream, a pointer to the corresponding commit on its
// data ref").
type AffectedStream struct {
	StreamID   int
	InfoCommit gitstore.Hash
	DataCommit gitstore.Hash
}

// PlannerEvent is one entry of the planner's ordered output stream: a
// transaction id plus the streams it affects (spec §4.4).
type PlannerEvent struct {
	Tx       int
	Affected []AffectedStream
}

// CommitOpKind classifies the kind of commit a CommitOp describes.
type CommitOpKind int

// CommitOp kinds.
const (
	// OpOrphan creates a root commit with no parents (mkstream).
	OpOrphan CommitOpKind = iota
	// OpMerge creates a two-parent commit (chstream re-anchor, promote
	// merge, child propagation merge).
	OpMerge
	// OpCherryPick creates a single-parent commit re-applying a tree
	// (promote cherry-pick, child propagation cherry-pick, workspace
	// origin).
	OpCherryPick
	// OpFastForward moves a branch ref directly to an already-created
	// commit without creating a new one (source-stream-fast-forward).
	OpFastForward
	// OpAuditOnly appends a commit_history entry without moving the
	// visible branch (chstream basis-unchanged no-op, spec §4.5: "still
	// update audit history").
	OpAuditOnly
)

// CommitOp is a pure description of one commit the processor should
// create, decoupled from the TargetStore that will execute it — spec
// §9's "state-machine step returning a pure description of commit
// operations; a separate applier executes them."
type CommitOp struct {
	StreamID int
	Kind     CommitOpKind
	Tree     gitstore.Hash
	Parents  []gitstore.Hash
	Message  string

	// FastForwardFromOp is set on OpFastForward ops: the index (within
	// the same planCommitOps result) of the op whose just-created commit
	// StreamID's branch should be moved to. The target commit's hash
	// does not exist until the applier executes that earlier op, so a
	// fast-forward is expressed as a reference rather than a hash.
	FastForwardFromOp int
}

// StreamRef carries one stream's current state as read by the
// processor immediately before planning a transaction's commit
// operations: its visible-branch tip and (if the transaction affects
// it) the data tree recorded at this transaction.
type StreamRef struct {
	VisibleTip gitstore.Hash
	HasTip     bool
	DataTree   gitstore.Hash
	HasData    bool
}

// RefSnapshot is the read-only view of current stream state the
// processor assembles before calling planCommitOps — the "refsSnapshot"
// parameter of spec §9's pure state-machine step.
type RefSnapshot struct {
	DepotID int
	Streams map[int]StreamRef

	SourceStreamFastForward bool
	EmptyChildStreamAction  string
}

func (r RefSnapshot) tip(streamID int) gitstore.Hash {
	return r.Streams[streamID].VisibleTip
}

func (r RefSnapshot) hasTip(streamID int) bool {
	return r.Streams[streamID].HasTip
}

// transaction is the engine's own view of a source transaction, built
// from accurevxml.Transaction plus the decoded streams.xml/diff.xml
// payloads stored alongside it in an info commit.
type transaction struct {
	ID         int
	Kind       string
	User       string
	TimeUnix   int64
	Comment    string
	FromStream string
	ToStream   string
}

func fromWireTransaction(t accurevxml.Transaction) transaction {
	from, to := t.FromToStream()

	return transaction{
		ID:         t.ID,
		Kind:       t.Kind,
		User:       t.User,
		TimeUnix:   t.Time,
		Comment:    t.Comment,
		FromStream: from,
		ToStream:   to,
	}
}
