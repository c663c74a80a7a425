package engine

import (
	"fmt"

	"github.com/ac2git/ac2git/pkg/gitstore"
)

// dispatchContext bundles everything the processor has already
// resolved (via pkg/streamgraph and the tracked-stream set) about one
// transaction's directly affected stream, so planCommitOps itself never
// touches the graph or the target store — spec §9's "pure description
// of commit operations."
type dispatchContext struct {
	Tx transaction

	// StreamID is the stream the transaction's commit lands on: the
	// mkstream/chstream subject, the promote destination, or the
	// workspace-origin transaction's owning tracked stream.
	StreamID int

	// BasisChanged is set for chstream: whether the stream's recorded
	// basis differs between tx-1 and tx.
	BasisChanged bool

	// FromStreamID/FromStreamTracked describe a promote's source, per
	// the transaction metadata (may be absent on old history).
	FromStreamID      int
	HasFromStream     bool
	FromStreamTracked bool
}

// planCommitOps classifies a transaction and returns the commit
// operations for its directly affected stream. Recursive child
// propagation (spec §4.5) is planned separately by the processor via
// planChildOp once this stream's new commit exists.
func planCommitOps(ctx dispatchContext, refs RefSnapshot) ([]CommitOp, error) {
	sr, tracked := refs.Streams[ctx.StreamID]
	if !tracked {
		return nil, newInvariantError(ctx.Tx.ID, ctx.StreamID, ctx.Tx.Kind, "stream is not tracked")
	}

	if !sr.HasData {
		return nil, newInvariantError(ctx.Tx.ID, ctx.StreamID, ctx.Tx.Kind, "no data commit recorded for this transaction")
	}

	msg := visibleMessage(ctx.Tx)

	switch ctx.Tx.Kind {
	case "mkstream":
		return []CommitOp{{StreamID: ctx.StreamID, Kind: OpOrphan, Tree: sr.DataTree, Message: msg}}, nil

	case "chstream":
		if !ctx.BasisChanged {
			return []CommitOp{{StreamID: ctx.StreamID, Kind: OpAuditOnly, Message: msg}}, nil
		}

		if !ctx.HasFromStream {
			return nil, newInvariantError(ctx.Tx.ID, ctx.StreamID, ctx.Tx.Kind, "basis changed but no new basis stream resolved")
		}

		basisTip, hasBasisTip := refs.tip(ctx.FromStreamID), refs.hasTip(ctx.FromStreamID)

		parents := make([]gitstore.Hash, 0, 2)
		if sr.HasTip {
			parents = append(parents, sr.VisibleTip)
		}

		if hasBasisTip {
			parents = append(parents, basisTip)
		}

		return []CommitOp{{StreamID: ctx.StreamID, Kind: OpMerge, Tree: sr.DataTree, Parents: parents, Message: msg}}, nil

	default:
		// promote (and keep/defunct/purge/move, treated as ordinary
		// content-changing transactions per spec §9's open question) all
		// land a commit on ctx.StreamID via the same policy table; a
		// transaction with no resolved source is the untracked-source row
		// of the table (cherry-pick).
		op, ffSrc := promoteCommit(refs, ctx.StreamID, ctx.FromStreamID, ctx.HasFromStream && ctx.FromStreamTracked,
			refs.SourceStreamFastForward, sr.DataTree)
		op.Message = msg

		ops := []CommitOp{op}

		if ffSrc {
			ops = append(ops, CommitOp{StreamID: ctx.FromStreamID, Kind: OpFastForward, FastForwardFromOp: 0})
		}

		return ops, nil
	}
}

// commitMessage is the literal "transaction <T>" message every info and
// data commit uses (spec §3), and that the audit chain reuses so the
// transaction id is always recoverable from a commit_history entry.
func commitMessage(tx transaction) string {
	return fmt.Sprintf("transaction %d", tx.ID)
}

// visibleMessage is the message a user-visible branch commit gets: the
// transaction's hist.xml comment (spec §8 scenario A: "messages from
// hist.xml"), falling back to the literal "transaction <T>" form when
// the source transaction carried no comment (common on mkstream, or a
// ParseError sentinel transaction).
func visibleMessage(tx transaction) string {
	if tx.Comment != "" {
		return tx.Comment
	}

	return commitMessage(tx)
}
