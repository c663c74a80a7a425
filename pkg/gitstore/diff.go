package gitstore

import (
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// DiffTreesEmpty reports whether two commits' trees are identical —
// the processor's "is the child's data tree at tx equal to the new
// destination commit's tree" check (spec §4.5 propagation rule).
func (r *Repository) DiffTreesEmpty(a, b Hash) (bool, error) {
	if a == b {
		return true, nil
	}

	commitA, err := r.LookupCommit(a)
	if err != nil {
		return false, err
	}
	defer commitA.Free()

	commitB, err := r.LookupCommit(b)
	if err != nil {
		return false, err
	}
	defer commitB.Free()

	treeA, err := commitA.Tree()
	if err != nil {
		return false, err
	}
	defer treeA.Free()

	treeB, err := commitB.Tree()
	if err != nil {
		return false, err
	}
	defer treeB.Free()

	return treeA.Hash() == treeB.Hash(), nil
}

// DiffTreeHashesEmpty is DiffTreesEmpty's tree-hash-only variant, for
// callers that already hold tree hashes rather than commit hashes.
func DiffTreeHashesEmpty(a, b Hash) bool {
	return a == b
}

// SingleFileTree builds (and returns the hash of) a tree containing
// exactly one file at the given name with the given contents. Used for
// the hwm ref's single-integer file.
func (r *Repository) SingleFileTree(name string, contents []byte) (Hash, error) {
	blobOid, err := r.repo.CreateBlobFromBuffer(contents)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: single file blob: %v", ErrTarget, err)
	}

	tb, err := r.repo.TreeBuilder()
	if err != nil {
		return Hash{}, fmt.Errorf("%w: single file tree builder: %v", ErrTarget, err)
	}
	defer tb.Free()

	if insertErr := tb.Insert(name, blobOid, git2go.FilemodeBlob); insertErr != nil {
		return Hash{}, fmt.Errorf("%w: insert single file %s: %v", ErrTarget, name, insertErr)
	}

	oid, err := tb.Write()
	if err != nil {
		return Hash{}, fmt.Errorf("%w: write single file tree: %v", ErrTarget, err)
	}

	return HashFromOid(oid), nil
}

// ReadFileFromTree reads a single blob's contents out of a commit's
// tree by path. Used to read hwm/s and state/last's per-stream files.
func (r *Repository) ReadFileFromTree(commit Hash, path string) ([]byte, error) {
	c, err := r.LookupCommit(commit)
	if err != nil {
		return nil, err
	}
	defer c.Free()

	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}
	defer tree.Free()

	entry, err := tree.EntryByPath(path)
	if err != nil {
		return nil, err
	}

	blob, lookupErr := r.repo.LookupBlob(entry.Hash().ToOid())
	if lookupErr != nil {
		return nil, fmt.Errorf("%w: lookup blob %s: %v", ErrTarget, path, lookupErr)
	}
	defer blob.Free()

	contents := make([]byte, len(blob.Contents()))
	copy(contents, blob.Contents())

	return contents, nil
}
