package engine

import (
	"context"
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ac2git/ac2git/internal/accurevxml"
	"github.com/ac2git/ac2git/internal/config"
	"github.com/ac2git/ac2git/pkg/accurev"
	"github.com/ac2git/ac2git/pkg/gitstore"
	"github.com/ac2git/ac2git/pkg/usermap"
)

// StreamRetriever advances one stream's info/data/hwm refs (spec §4.3).
// It owns a single working directory exclusively for the life of a
// Retrieve call — spec §5: "no two retrieval jobs may share the working
// directory."
type StreamRetriever struct {
	Source     SourceClient
	Target     TargetStore
	Resolver   *usermap.Resolver
	Depot      string
	DepotID    int
	StreamID   int
	StreamName string
	Method     string
	WorkDir    string
}

// Retrieve advances info, then data, across every candidate transaction
// between the stream's resume point and endTx, and writes hwm on
// success. mkstreamTx is the transaction at which the stream was
// created, used as the floor when info/data have never been advanced.
func (r *StreamRetriever) Retrieve(ctx context.Context, mkstreamTx, endTx int) error {
	if err := repairInfoAheadOfData(r.Target, r.DepotID, r.StreamID); err != nil {
		return err
	}

	fromTx, err := r.resumePoint(mkstreamTx)
	if err != nil {
		return err
	}

	candidates, err := candidateTransactions(ctx, r.Source, r.Depot, r.StreamName, r.Method, fromTx, endTx)
	if err != nil {
		return err
	}

	// deep-hist may omit the mkstream transaction itself (spec §9: deep
	// hist can under-report around timelocks); pop/diff's sequential range
	// from fromTx+1 already includes it whenever fromTx < mkstreamTx.
	if fromTx < mkstreamTx && (len(candidates) == 0 || candidates[0] != mkstreamTx) {
		candidates = append([]int{mkstreamTx}, candidates...)
	}

	if len(candidates) == 0 {
		return nil
	}

	if err := r.advanceInfo(ctx, candidates, mkstreamTx); err != nil {
		return err
	}

	if err := r.advanceData(ctx, candidates, mkstreamTx); err != nil {
		return err
	}

	return r.writeHWM(candidates[len(candidates)-1])
}

// resumePoint reads hwm/s and the tips of info/data and resumes at the
// lowest of them (spec §4.3): a crash between advancing one ref and
// writing hwm must never be papered over by trusting a stale hwm alone.
func (r *StreamRetriever) resumePoint(mkstreamTx int) (int, error) {
	hwm, hasHWM, err := readHWM(r.Target, r.DepotID, r.StreamID)
	if err != nil {
		return 0, err
	}

	infoTx, hasInfoTx, err := r.tipTxID(InfoRef(r.DepotID, r.StreamID))
	if err != nil {
		return 0, err
	}

	dataTx, hasDataTx, err := r.tipTxID(DataRef(r.DepotID, r.StreamID))
	if err != nil {
		return 0, err
	}

	floor, hasFloor := 0, false

	for _, candidate := range []struct {
		tx  int
		has bool
	}{{hwm, hasHWM}, {infoTx, hasInfoTx}, {dataTx, hasDataTx}} {
		if !candidate.has {
			continue
		}

		if !hasFloor || candidate.tx < floor {
			floor, hasFloor = candidate.tx, true
		}
	}

	if !hasFloor {
		return mkstreamTx - 1, nil
	}

	return floor, nil
}

// tipTxID reads ref's tip commit and extracts the transaction id it was
// stamped with. Returns false, not an error, when the ref has no
// commits yet.
func (r *StreamRetriever) tipTxID(ref string) (int, bool, error) {
	tip, err := r.Target.ReadRef(ref)
	if err != nil {
		if errors.Is(err, gitstore.ErrRefNotFound) {
			return 0, false, nil
		}

		return 0, false, &TargetError{Op: "read " + ref, Err: err}
	}

	commit, err := r.Target.LookupCommit(tip)
	if err != nil {
		return 0, false, &TargetError{Op: "lookup " + ref + " tip", Err: err}
	}

	tx, ok := commitTxID(commit)

	return tx, ok, nil
}

func (r *StreamRetriever) advanceInfo(ctx context.Context, candidates []int, mkstreamTx int) error {
	ref := InfoRef(r.DepotID, r.StreamID)

	lastTx, hasLastTx, err := r.tipTxID(ref)
	if err != nil {
		return err
	}

	for _, tx := range candidates {
		if hasLastTx && tx <= lastTx {
			continue
		}

		hist, err := r.Source.Hist(ctx, r.Depot, tx)
		if parseErr := asParseError(err); parseErr != nil {
			hist = accurevxml.EmptyHistory(tx)
		} else if err != nil {
			return err
		}

		streams, err := r.Source.ShowStreams(ctx, r.Depot, tx)
		if parseErr := asParseError(err); parseErr != nil {
			streams = accurevxml.Streams{TaskID: tx}
		} else if err != nil {
			return err
		}

		var diff accurevxml.Diff
		if tx != mkstreamTx {
			diff, err = r.Source.Diff(ctx, r.StreamName, tx-1, tx)
			if parseErr := asParseError(err); parseErr != nil {
				diff = accurevxml.Diff{TaskID: tx}
			} else if err != nil {
				return err
			}
		}

		tree, err := r.buildInfoTree(hist, streams, diff, tx == mkstreamTx)
		if err != nil {
			return err
		}

		if err := r.commitSequential(ref, tree, hist, tx); err != nil {
			return err
		}
	}

	return nil
}

// asParseError returns err as a *accurev.ParseError, or nil if err is
// nil or not a ParseError. Spec §7: a transaction accurevxml cannot
// decode (known for very old transactions) gets a sentinel empty
// payload instead of aborting the stream's retrieval.
func asParseError(err error) *accurev.ParseError {
	var parseErr *accurev.ParseError
	if errors.As(err, &parseErr) {
		return parseErr
	}

	return nil
}

func (r *StreamRetriever) buildInfoTree(hist accurevxml.History, streams accurevxml.Streams, diff accurevxml.Diff, isMkstream bool) (gitstore.Hash, error) {
	dir, err := os.MkdirTemp("", "ac2git-info-*")
	if err != nil {
		return gitstore.Hash{}, &TargetError{Op: "scratch dir for info tree", Err: err}
	}
	defer os.RemoveAll(dir)

	if err := writeXMLFile(dir, "hist.xml", hist); err != nil {
		return gitstore.Hash{}, err
	}

	if err := writeXMLFile(dir, "streams.xml", streams); err != nil {
		return gitstore.Hash{}, err
	}

	if !isMkstream {
		if err := writeXMLFile(dir, "diff.xml", diff); err != nil {
			return gitstore.Hash{}, err
		}
	}

	tree, err := r.Target.BuildTreeFromDir(dir)
	if err != nil {
		return gitstore.Hash{}, &TargetError{Op: "build info tree", Err: err}
	}

	return tree, nil
}

func writeXMLFile(dir, name string, payload any) error {
	data, err := xml.Marshal(payload)
	if err != nil {
		return &TargetError{Op: "marshal " + name, Err: err}
	}

	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return &TargetError{Op: "write " + name, Err: err}
	}

	return nil
}

func (r *StreamRetriever) advanceData(ctx context.Context, candidates []int, mkstreamTx int) error {
	ref := DataRef(r.DepotID, r.StreamID)

	lastTx, hasLastTx, err := r.tipTxID(ref)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(r.WorkDir); err != nil {
		return &TargetError{Op: "clear working directory", Err: err}
	}

	if err := os.MkdirAll(r.WorkDir, 0o755); err != nil {
		return &TargetError{Op: "create working directory", Err: err}
	}

	for _, tx := range candidates {
		if hasLastTx && tx <= lastTx {
			continue
		}

		hist, err := r.Source.Hist(ctx, r.Depot, tx)
		if parseErr := asParseError(err); parseErr != nil {
			hist = accurevxml.EmptyHistory(tx)
		} else if err != nil {
			return err
		}

		if err := r.materializeData(ctx, tx, mkstreamTx); err != nil {
			return err
		}

		tree, err := r.Target.BuildTreeFromDir(r.WorkDir)
		if err != nil {
			return &TargetError{Op: "build data tree", Err: err}
		}

		if err := r.commitSequentialData(ref, tree, hist, tx); err != nil {
			return err
		}
	}

	return nil
}

// materializeData updates r.WorkDir to reflect the stream's contents at
// tx, per the method's strategy (spec §4.3).
func (r *StreamRetriever) materializeData(ctx context.Context, tx, mkstreamTx int) error {
	popFull := tx == mkstreamTx || r.Method == config.MethodPop

	if popFull {
		if tx != mkstreamTx {
			if err := os.RemoveAll(r.WorkDir); err != nil {
				return &TargetError{Op: "wipe working directory before pop", Err: err}
			}

			if err := os.MkdirAll(r.WorkDir, 0o755); err != nil {
				return &TargetError{Op: "recreate working directory", Err: err}
			}
		}

		return r.Source.Pop(ctx, r.StreamName, tx, r.WorkDir, PopOptions{Recursive: true, Overwrite: true})
	}

	diff, err := r.Source.Diff(ctx, r.StreamName, tx-1, tx)
	if parseErr := asParseError(err); parseErr != nil {
		diff = accurevxml.Diff{TaskID: tx}
	} else if err != nil {
		return err
	}

	if diff.Empty() {
		return nil
	}

	for _, path := range diff.Paths() {
		if rmErr := os.RemoveAll(filepath.Join(r.WorkDir, path)); rmErr != nil {
			return &TargetError{Op: "remove changed path before pop", Err: rmErr}
		}
	}

	return r.Source.Pop(ctx, r.StreamName, tx, r.WorkDir, PopOptions{Recursive: true, Overwrite: false})
}

func (r *StreamRetriever) commitSequential(ref string, tree gitstore.Hash, hist accurevxml.History, tx int) error {
	return r.commit(ref, tree, hist, tx, true)
}

func (r *StreamRetriever) commitSequentialData(ref string, tree gitstore.Hash, hist accurevxml.History, tx int) error {
	return r.commit(ref, tree, hist, tx, false)
}

// commit appends one commit onto ref, parented on the ref's current
// tip (if any). allowEmpty is true for info (every hist snapshot is
// meaningfully distinct) and false is never forced for data: spec §3
// allows empty data commits, so AllowEmpty is always true for both.
func (r *StreamRetriever) commit(ref string, tree gitstore.Hash, hist accurevxml.History, tx int, _ bool) error {
	var parents []gitstore.Hash

	if tip, err := r.Target.ReadRef(ref); err == nil {
		parents = []gitstore.Hash{tip}
	} else if !errors.Is(err, gitstore.ErrRefNotFound) {
		return &TargetError{Op: "read " + ref, Err: err}
	}

	author := r.signatureFor(hist, tx)

	commit, err := r.Target.CommitTree(gitstore.CommitOptions{
		Tree:       tree,
		Message:    commitMessage(transaction{ID: tx}),
		Author:     author,
		Parents:    parents,
		AllowEmpty: true,
	})
	if err != nil {
		return &TargetError{Op: "commit " + ref, Err: err}
	}

	return wrapTargetErr(r.Target.UpdateRef(ref, commit), "update "+ref)
}

func (r *StreamRetriever) signatureFor(hist accurevxml.History, tx int) gitstore.Signature {
	when := time.Unix(0, 0)
	user := ""

	if len(hist.Transactions) > 0 {
		when = time.Unix(hist.Transactions[0].Time, 0)
		user = hist.Transactions[0].User
	}

	sig, err := r.Resolver.Resolve(user, when)
	if err != nil {
		return gitstore.Signature{Name: user, Email: user, When: when}
	}

	return sig
}

func wrapTargetErr(err error, op string) error {
	if err == nil {
		return nil
	}

	return &TargetError{Op: op, Err: err}
}

// ReadHWM returns a tracked stream's current high-water-mark
// transaction — the boundary retrieval has safely advanced up to (spec
// §4.6). Exported so cmd/ac2git can build PlanTransactions's hwm map
// after a retrieval fan-out completes.
func ReadHWM(ts TargetStore, depotID, streamID int) (int, bool, error) {
	return readHWM(ts, depotID, streamID)
}

func readHWM(ts TargetStore, depotID, streamID int) (int, bool, error) {
	commit, err := ts.ReadRef(HWMRef(depotID, streamID))
	if err != nil {
		if errors.Is(err, gitstore.ErrRefNotFound) {
			return 0, false, nil
		}

		return 0, false, &TargetError{Op: "read hwm", Err: err}
	}

	data, err := ts.ReadFileFromTree(commit, hwmFile)
	if err != nil {
		return 0, false, &TargetError{Op: "read hwm value", Err: err}
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, &TargetError{Op: "parse hwm value", Err: err}
	}

	return n, true, nil
}

func (r *StreamRetriever) writeHWM(value int) error {
	tree, err := r.Target.SingleFileTree(hwmFile, []byte(strconv.Itoa(value)))
	if err != nil {
		return &TargetError{Op: "build hwm tree", Err: err}
	}

	commit, err := r.Target.CommitTree(gitstore.CommitOptions{
		Tree:    tree,
		Message: "hwm",
		Author:  gitstore.Signature{Name: "ac2git", Email: "ac2git@localhost", When: time.Unix(0, 0)},
	})
	if err != nil {
		return &TargetError{Op: "commit hwm", Err: err}
	}

	return wrapTargetErr(r.Target.UpdateRef(HWMRef(r.DepotID, r.StreamID), commit), "update hwm ref")
}
