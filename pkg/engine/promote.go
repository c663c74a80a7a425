package engine

import "github.com/ac2git/ac2git/pkg/gitstore"

// promoteCommit builds the destination stream's commit description per
// the promote policy table (spec §4.5):
//
//	src tracked?  fast-forward?  destination commit
//	yes           false          merge: parents = (dst tip, src tip), tree = contents
//	yes           true           merge: parents = (dst tip, src tip), tree = contents; src fast-forwards to it
//	no            any            cherry-pick: parents = (dst tip), tree = contents
//
// ffSrc reports whether the caller must additionally append an
// OpFastForward op for the source stream, pointing at this op's result.
func promoteCommit(dst RefSnapshot, dstID int, srcID int, srcTracked bool, fastForward bool, tree gitstore.Hash) (op CommitOp, ffSrc bool) {
	dstTip, hasDstTip := dst.tip(dstID), dst.hasTip(dstID)

	if !srcTracked {
		parents := make([]gitstore.Hash, 0, 1)
		if hasDstTip {
			parents = append(parents, dstTip)
		}

		return CommitOp{StreamID: dstID, Kind: OpCherryPick, Tree: tree, Parents: parents}, false
	}

	srcTip, hasSrcTip := dst.tip(srcID), dst.hasTip(srcID)

	parents := make([]gitstore.Hash, 0, 2)
	if hasDstTip {
		parents = append(parents, dstTip)
	}

	if hasSrcTip {
		parents = append(parents, srcTip)
	}

	op = CommitOp{StreamID: dstID, Kind: OpMerge, Tree: tree, Parents: parents}

	return op, fastForward
}
