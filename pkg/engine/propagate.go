package engine

import (
	"github.com/ac2git/ac2git/internal/config"
	"github.com/ac2git/ac2git/pkg/gitstore"
)

// childPropagationDecision captures what the processor already
// determined about a child stream before deciding its commit op (spec
// §4.5 child propagation rule): whether the child's data tree at tx
// equals the new parent commit's tree, and whether the new parent
// commit is already an ancestor of the child's current tip. These are
// read-only TargetStore queries the processor performs once per child
// before calling planChildOp, keeping the decision itself pure.
type childPropagationDecision struct {
	ChildID         int
	ChildTip        gitstore.Hash
	HasChildTip     bool
	ChildDataTree   gitstore.Hash
	NewParentCommit gitstore.Hash
	NewParentTree   gitstore.Hash
	TreesEqual      bool
	ParentAncestor  bool
}

// planChildOp decides a child stream's commit op per spec §4.5:
//
//   - trees equal and the new parent commit is already an ancestor of
//     the child's tip: no-op, the change already flowed through (skip).
//   - trees equal but NOT an ancestor: apply empty-child-stream-action
//     (merge against the new parent commit, or cherry-pick its tree).
//   - trees differ: cherry-pick re-applying the child's own data tree.
func planChildOp(d childPropagationDecision, emptyChildAction string) (op CommitOp, skip bool) {
	if d.TreesEqual && d.ParentAncestor {
		return CommitOp{}, true
	}

	parents := make([]gitstore.Hash, 0, 2)
	if d.HasChildTip {
		parents = append(parents, d.ChildTip)
	}

	if d.TreesEqual {
		if emptyChildAction == config.ChildActionCherryPick {
			return CommitOp{StreamID: d.ChildID, Kind: OpCherryPick, Tree: d.NewParentTree, Parents: parents}, false
		}

		parents = append(parents, d.NewParentCommit)

		return CommitOp{StreamID: d.ChildID, Kind: OpMerge, Tree: d.NewParentTree, Parents: parents}, false
	}

	return CommitOp{StreamID: d.ChildID, Kind: OpCherryPick, Tree: d.ChildDataTree, Parents: parents}, false
}
