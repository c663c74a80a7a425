package engine

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ac2git/ac2git/pkg/gitstore"
)

// stateLast is the decoded form of a depot's state/last commit: the
// current tip of every tracked stream's visible branch (spec §3: "this
// set is frozen for the life of a converted repository").
type stateLast struct {
	Commit gitstore.Hash
	Tips   map[int]gitstore.Hash
}

// readStateLast reads and decodes the state/last ref for the given
// tracked stream ids, if the ref exists yet. trackedIDs is the engine's
// configured stream set — spec §3 treats it as fixed, not something to
// discover by walking the tree blindly.
func readStateLast(ts TargetStore, depotID int, trackedIDs []int) (stateLast, bool, error) {
	commit, err := ts.ReadRef(StateLastRef(depotID))
	if err != nil {
		if errors.Is(err, gitstore.ErrRefNotFound) {
			return stateLast{Tips: map[int]gitstore.Hash{}}, false, nil
		}

		return stateLast{}, false, &TargetError{Op: "read state/last", Err: err}
	}

	tips := make(map[int]gitstore.Hash, len(trackedIDs))

	for _, id := range trackedIDs {
		data, readErr := ts.ReadFileFromTree(commit, strconv.Itoa(id))
		if readErr != nil {
			continue // stream not yet created (no mkstream processed)
		}

		tips[id] = gitstore.NewHash(string(data))
	}

	return stateLast{Commit: commit, Tips: tips}, true, nil
}

// writeStateLast builds and commits a new state/last tree with one file
// per tracked stream id (contents = hex commit hash) and updates the
// ref — the engine's single authoritative-state writer (spec §9:
// "centralize all writes through one updater").
func writeStateLast(ts TargetStore, depotID int, tips map[int]gitstore.Hash, author gitstore.Signature, tx int) (gitstore.Hash, error) {
	tree, err := buildIDHashTree(ts, tips)
	if err != nil {
		return gitstore.Hash{}, err
	}

	var parents []gitstore.Hash

	if prior, readErr := ts.ReadRef(StateLastRef(depotID)); readErr == nil {
		parents = []gitstore.Hash{prior}
	} else if !errors.Is(readErr, gitstore.ErrRefNotFound) {
		return gitstore.Hash{}, &TargetError{Op: "read prior state/last", Err: readErr}
	}

	commit, err := ts.CommitTree(gitstore.CommitOptions{
		Tree:    tree,
		Message: commitMessageState(tx),
		Author:  author,
		Parents: parents,
	})
	if err != nil {
		return gitstore.Hash{}, &TargetError{Op: "commit state/last", Err: err}
	}

	if err := ts.UpdateRef(StateLastRef(depotID), commit); err != nil {
		return gitstore.Hash{}, &TargetError{Op: "update state/last ref", Err: err}
	}

	return commit, nil
}

func commitMessageState(tx int) string {
	return "transaction " + strconv.Itoa(tx)
}

// buildIDHashTree materializes one file per (id, hash) pair into a
// scratch directory and builds a tree from it via BuildTreeFromDir —
// the same mechanism the retrieval pipeline uses to commit a working
// directory, reused here since the TargetStore contract exposes a
// single-file tree builder but not a generic multi-file one.
func buildIDHashTree(ts TargetStore, values map[int]gitstore.Hash) (gitstore.Hash, error) {
	if len(values) == 0 {
		return ts.EmptyTree()
	}

	ids := make([]int, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	dir, err := os.MkdirTemp("", "ac2git-state-*")
	if err != nil {
		return gitstore.Hash{}, &TargetError{Op: "scratch dir for id/hash tree", Err: err}
	}
	defer os.RemoveAll(dir)

	for _, id := range ids {
		path := filepath.Join(dir, strconv.Itoa(id))
		if writeErr := os.WriteFile(path, []byte(values[id].String()), 0o644); writeErr != nil {
			return gitstore.Hash{}, &TargetError{Op: "write id/hash scratch file", Err: writeErr}
		}
	}

	tree, err := ts.BuildTreeFromDir(dir)
	if err != nil {
		return gitstore.Hash{}, &TargetError{Op: "build id/hash tree", Err: err}
	}

	return tree, nil
}
