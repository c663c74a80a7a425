// Package gitstore adapts libgit2 (via git2go) to the target-store
// contract consumed by the retrieval pipeline, planner, and processing
// engine: ref-addressed commit history with atomic single-ref updates.
package gitstore

import (
	"errors"
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// Repository wraps a libgit2 repository opened (or initialized) at a
// filesystem path — the converted repo named by the "repo-path"
// configuration key.
type Repository struct {
	repo *git2go.Repository
	path string
}

// OpenRepository opens an existing bare or non-bare repository.
func OpenRepository(path string) (*Repository, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open repository: %v", ErrTarget, err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// InitRepository creates a new bare repository at path, for first-run
// conversions.
func InitRepository(path string) (*Repository, error) {
	repo, err := git2go.InitRepository(path, true)
	if err != nil {
		return nil, fmt.Errorf("%w: init repository: %v", ErrTarget, err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// Path returns the repository's filesystem path.
func (r *Repository) Path() string {
	return r.path
}

// Free releases the repository's native resources.
func (r *Repository) Free() {
	if r.repo != nil {
		r.repo.Free()
		r.repo = nil
	}
}

// Native returns the underlying libgit2 repository for operations this
// package does not wrap.
func (r *Repository) Native() *git2go.Repository {
	return r.repo
}

// ReadRef resolves a ref name to the commit hash it currently points
// at. Returns ErrRefNotFound if the ref does not exist yet — the
// signal to the resume layer and retrieval pipeline that a stream (or
// state/last, or a stream's hwm) has not been created.
func (r *Repository) ReadRef(name string) (Hash, error) {
	ref, err := r.repo.References.Lookup(name)
	if err != nil {
		var gitErr *git2go.GitError
		if errors.As(err, &gitErr) && gitErr.Code == git2go.ErrorCodeNotFound {
			return Hash{}, ErrRefNotFound
		}

		return Hash{}, fmt.Errorf("%w: read ref %s: %v", ErrTarget, name, err)
	}
	defer ref.Free()

	return HashFromOid(ref.Target()), nil
}

// UpdateRef atomically points name at commit, creating the ref if it
// does not exist. This is the core's single commit boundary: every
// write-side operation in this package funnels through UpdateRef so a
// crash between it and the next read leaves refs internally consistent.
func (r *Repository) UpdateRef(name string, commit Hash) error {
	existing, err := r.repo.References.Lookup(name)
	if err != nil {
		newRef, createErr := r.repo.References.Create(name, commit.ToOid(), true, "")
		if createErr != nil {
			return fmt.Errorf("%w: create ref %s: %v", ErrTarget, name, createErr)
		}

		newRef.Free()

		return nil
	}
	defer existing.Free()

	updated, setErr := existing.SetTarget(commit.ToOid(), "")
	if setErr != nil {
		return fmt.Errorf("%w: update ref %s: %v", ErrTarget, name, setErr)
	}

	updated.Free()

	return nil
}

// DeleteRef removes a ref. Used only by the resume layer, to rewind an
// info ref to empty when data has no commits (refs are otherwise
// append-only).
func (r *Repository) DeleteRef(name string) error {
	ref, err := r.repo.References.Lookup(name)
	if err != nil {
		return nil
	}
	defer ref.Free()

	if delErr := ref.Delete(); delErr != nil {
		return fmt.Errorf("%w: delete ref %s: %v", ErrTarget, name, delErr)
	}

	return nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (r *Repository) IsAncestor(ancestor, descendant Hash) (bool, error) {
	ok, err := r.repo.DescendantOf(descendant.ToOid(), ancestor.ToOid())
	if err != nil {
		return false, fmt.Errorf("%w: is-ancestor: %v", ErrTarget, err)
	}

	return ok, nil
}

// HashObject writes data as a loose blob and returns its hash, without
// attaching it to any tree. Used by the processor to content-address
// its commit_history audit dedup keys.
func (r *Repository) HashObject(data []byte) (Hash, error) {
	oid, err := r.repo.CreateBlobFromBuffer(data)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: hash object: %v", ErrTarget, err)
	}

	return HashFromOid(oid), nil
}

// LookupCommit returns the commit with the given hash.
func (r *Repository) LookupCommit(hash Hash) (*Commit, error) {
	commit, err := r.repo.LookupCommit(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("%w: lookup commit %s: %v", ErrTarget, hash, err)
	}

	return &Commit{commit: commit, repo: r}, nil
}

// LookupTree returns the tree with the given hash.
func (r *Repository) LookupTree(hash Hash) (*Tree, error) {
	tree, err := r.repo.LookupTree(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("%w: lookup tree %s: %v", ErrTarget, hash, err)
	}

	return &Tree{tree: tree, repo: r}, nil
}

// EmptyTree returns the hash of the empty tree, used as the fixed tree
// of every commit_history audit commit (spec §3 invariant).
func (r *Repository) EmptyTree() (Hash, error) {
	tb, err := r.repo.TreeBuilder()
	if err != nil {
		return Hash{}, fmt.Errorf("%w: empty tree: %v", ErrTarget, err)
	}
	defer tb.Free()

	oid, err := tb.Write()
	if err != nil {
		return Hash{}, fmt.Errorf("%w: empty tree: %v", ErrTarget, err)
	}

	return HashFromOid(oid), nil
}
