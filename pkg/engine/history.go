package engine

import (
	"strconv"
	"strings"

	"github.com/ac2git/ac2git/pkg/gitstore"
)

// commitTxID extracts the transaction id from a commit's "transaction
// <T>" message — the literal every info, data, commit_history audit and
// state/last commit carries (visible-branch commits carry the hist
// comment instead), making a commit's originating transaction
// recoverable without any side-channel bookkeeping.
func commitTxID(c *gitstore.Commit) (int, bool) {
	const prefix = "transaction "

	msg := strings.TrimSpace(c.Message())
	if !strings.HasPrefix(msg, prefix) {
		return 0, false
	}

	n, err := strconv.Atoi(strings.TrimSpace(msg[len(prefix):]))
	if err != nil {
		return 0, false
	}

	return n, true
}

// LastProcessedTx returns the transaction id the processor last
// appended to streamID's commit_history audit chain, or false if the
// stream has never been processed. Commits on the chain whose message
// carries no transaction id (a resume correction) are skipped by
// following first parents. Exported so cmd/ac2git can build
// PlanTransactions's afterTx map at startup without reaching into the
// engine package's unexported ref-chain helpers.
func LastProcessedTx(ts TargetStore, depotID, streamID int) (int, bool, error) {
	tip, err := ts.ReadRef(CommitHistoryRef(depotID, streamID))
	if err != nil {
		if isRefNotFound(err) {
			return 0, false, nil
		}

		return 0, false, &TargetError{Op: "read commit_history ref", Err: err}
	}

	for {
		commit, err := ts.LookupCommit(tip)
		if err != nil {
			return 0, false, &TargetError{Op: "lookup commit_history tip", Err: err}
		}

		if tx, ok := commitTxID(commit); ok {
			return tx, true, nil
		}

		parent, err := commit.ParentHash(0)
		if err != nil {
			return 0, false, nil
		}

		tip = parent
	}
}

// walkToTx walks a ref's first-parent chain backward from tip until it
// finds the commit stamped with targetTx, returning its hash. Valid
// because info/data chains are strictly linear except
// for a mkstream's zero-parent root (spec §3).
func walkToTx(ts TargetStore, tip gitstore.Hash, targetTx int) (gitstore.Hash, bool, error) {
	current := tip

	for {
		commit, err := ts.LookupCommit(current)
		if err != nil {
			return gitstore.Hash{}, false, &TargetError{Op: "lookup commit while walking ref chain", Err: err}
		}

		if tx, ok := commitTxID(commit); ok && tx == targetTx {
			return current, true, nil
		}

		parent, err := commit.ParentHash(0)
		if err != nil {
			return gitstore.Hash{}, false, nil
		}

		current = parent
	}
}

// countCommits counts the commits on a ref's first-parent chain from
// tip back to its root.
func countCommits(ts TargetStore, tip gitstore.Hash) (int, error) {
	n := 0
	current := tip

	for {
		n++

		commit, err := ts.LookupCommit(current)
		if err != nil {
			return 0, &TargetError{Op: "lookup commit while counting ref chain", Err: err}
		}

		parent, err := commit.ParentHash(0)
		if err != nil {
			return n, nil
		}

		current = parent
	}
}

// chainRecord is one (transaction id, info commit, data commit) triple
// reconstructed from a stream's info/data ref chains — the shared input
// shape for planner merge-walking and for resuming across separate
// runs, since a prior run's retrieved-but-unprocessed transactions live
// only in these committed chains, not in any in-memory state.
type chainRecord struct {
	Tx         int
	InfoCommit gitstore.Hash
	DataCommit gitstore.Hash
}

// recordsBetween reconstructs, in ascending transaction order, every
// chainRecord on a stream's info/data chains with tx in (afterTx, hwm].
// A completed Retrieve call runs its info pass over every candidate
// transaction and then its data pass over the same candidates, so both
// chains end up carrying the same sequence of transaction ids;
// recordsBetween walks both in parallel via first-parent links and
// pairs them up by tx.
func recordsBetween(ts TargetStore, depotID, streamID, afterTx, hwm int) ([]chainRecord, error) {
	infoTip, err := ts.ReadRef(InfoRef(depotID, streamID))
	if err != nil {
		return nil, wrapRefNotFoundAsEmpty(err)
	}

	dataTip, err := ts.ReadRef(DataRef(depotID, streamID))
	if err != nil {
		return nil, wrapRefNotFoundAsEmpty(err)
	}

	infoByTx, err := collectByTx(ts, infoTip, afterTx, hwm)
	if err != nil {
		return nil, err
	}

	dataByTx, err := collectByTx(ts, dataTip, afterTx, hwm)
	if err != nil {
		return nil, err
	}

	records := make([]chainRecord, 0, len(infoByTx))

	for tx, infoCommit := range infoByTx {
		dataCommit, ok := dataByTx[tx]
		if !ok {
			continue
		}

		records = append(records, chainRecord{Tx: tx, InfoCommit: infoCommit, DataCommit: dataCommit})
	}

	sortChainRecords(records)

	return records, nil
}

func collectByTx(ts TargetStore, tip gitstore.Hash, afterTx, hwm int) (map[int]gitstore.Hash, error) {
	out := map[int]gitstore.Hash{}
	current := tip

	for {
		commit, err := ts.LookupCommit(current)
		if err != nil {
			return nil, &TargetError{Op: "lookup commit while collecting ref chain", Err: err}
		}

		tx, ok := commitTxID(commit)
		if ok && tx > afterTx && tx <= hwm {
			out[tx] = current
		}

		if ok && tx <= afterTx {
			break
		}

		parent, err := commit.ParentHash(0)
		if err != nil {
			break
		}

		current = parent
	}

	return out, nil
}

func sortChainRecords(records []chainRecord) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j-1].Tx > records[j].Tx; j-- {
			records[j-1], records[j] = records[j], records[j-1]
		}
	}
}

func wrapRefNotFoundAsEmpty(err error) error {
	if isRefNotFound(err) {
		return nil
	}

	return &TargetError{Op: "read ref chain", Err: err}
}
