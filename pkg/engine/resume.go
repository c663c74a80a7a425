package engine

import (
	"github.com/ac2git/ac2git/pkg/gitstore"
)

// repairInfoAheadOfData enforces spec §7's InvariantError condition
// before a stream's retrieval resumes: "info ahead of data by more than
// one commit" means a prior run's data pass never completed. Since a
// single Retrieve call commits info for every candidate transaction
// before touching data at all, the only safe repair is to rewind info
// back to data's last committed transaction (or, if data has no
// commits at all, to nothing) so the next Retrieve call regenerates
// both passes in lockstep. When data has commits, "more than one" is
// measured as the difference between the info and data tips'
// transaction ids, not as a commit count.
func repairInfoAheadOfData(ts TargetStore, depotID, streamID int) error {
	infoTip, err := ts.ReadRef(InfoRef(depotID, streamID))
	if err != nil {
		if isRefNotFound(err) {
			return nil
		}

		return &TargetError{Op: "read info ref", Err: err}
	}

	dataTip, dataErr := ts.ReadRef(DataRef(depotID, streamID))
	if dataErr != nil && !isRefNotFound(dataErr) {
		return &TargetError{Op: "read data ref", Err: dataErr}
	}

	if isRefNotFound(dataErr) {
		n, err := countCommits(ts, infoTip)
		if err != nil {
			return err
		}

		if n <= 1 {
			return nil
		}

		return wrapTargetErr(ts.DeleteRef(InfoRef(depotID, streamID)), "rewind info ref to empty")
	}

	infoCommit, err := ts.LookupCommit(infoTip)
	if err != nil {
		return &TargetError{Op: "lookup info tip", Err: err}
	}

	dataCommit, err := ts.LookupCommit(dataTip)
	if err != nil {
		return &TargetError{Op: "lookup data tip", Err: err}
	}

	infoTx, okInfo := commitTxID(infoCommit)
	dataTx, okData := commitTxID(dataCommit)

	if !okInfo || !okData || infoTx-dataTx <= 1 {
		return nil
	}

	target, found, err := walkToTx(ts, infoTip, dataTx)
	if err != nil {
		return err
	}

	if !found {
		return newInvariantError(dataTx, streamID, "resume",
			"info ahead of data by more than one commit and no matching info commit to rewind to")
	}

	return wrapTargetErr(ts.UpdateRef(InfoRef(depotID, streamID), target), "rewind info ref")
}

// Resume restores process state at startup (spec §4.6): state/last is
// the sole authority over every tracked stream's visible branch tip,
// overriding any disagreeing visible branch ref, and a commit_history
// ref whose most recent second parent disagrees with state/last gets a
// correcting audit commit appended before anything else runs.
func Resume(ts TargetStore, depotID int, trackedIDs []int, streamNames map[int]string, author gitstore.Signature) error {
	last, ok, err := readStateLast(ts, depotID, trackedIDs)
	if err != nil {
		return err
	}

	if !ok {
		return nil
	}

	for _, id := range trackedIDs {
		tip, hasTip := last.Tips[id]
		if !hasTip {
			continue
		}

		name, hasName := streamNames[id]
		if !hasName {
			return newInvariantError(0, id, "resume", "tracked stream has no known name to restore its visible branch")
		}

		if err := ts.UpdateRef(VisibleBranchRef(name), tip); err != nil {
			return &TargetError{Op: "restore visible branch", Err: err}
		}

		if err := repairCommitHistory(ts, depotID, id, tip, author); err != nil {
			return err
		}
	}

	return nil
}

func repairCommitHistory(ts TargetStore, depotID, streamID int, visibleTip gitstore.Hash, author gitstore.Signature) error {
	ref := CommitHistoryRef(depotID, streamID)

	auditTip, err := ts.ReadRef(ref)
	if err != nil {
		if isRefNotFound(err) {
			return nil
		}

		return &TargetError{Op: "read commit_history ref", Err: err}
	}

	auditCommit, err := ts.LookupCommit(auditTip)
	if err != nil {
		return &TargetError{Op: "lookup commit_history tip", Err: err}
	}

	if auditCommit.NumParents() < 2 {
		return nil
	}

	second, err := auditCommit.ParentHash(1)
	if err != nil {
		return &TargetError{Op: "read commit_history second parent", Err: err}
	}

	if second == visibleTip {
		return nil
	}

	emptyTree, err := ts.EmptyTree()
	if err != nil {
		return &TargetError{Op: "resolve empty tree for correcting audit commit", Err: err}
	}

	corrected, err := ts.CommitTree(gitstore.CommitOptions{
		Tree:    emptyTree,
		Message: "resume correction",
		Author:  author,
		Parents: []gitstore.Hash{auditTip, visibleTip},
	})
	if err != nil {
		return &TargetError{Op: "commit correcting audit commit", Err: err}
	}

	return wrapTargetErr(ts.UpdateRef(ref, corrected), "update commit_history ref")
}
