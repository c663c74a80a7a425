package gitstore

import (
	"errors"
	"fmt"
	"time"

	git2go "github.com/libgit2/git2go/v34"
)

// ErrParentNotFound is returned when the requested parent commit index
// does not exist.
var ErrParentNotFound = errors.New("parent commit not found")

// Signature is a commit author/committer identity and timestamp.
// Spec §4.5: timestamp equals the source transaction's timestamp to
// the second; committer equals author.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

func (s Signature) native() *git2go.Signature {
	return &git2go.Signature{Name: s.Name, Email: s.Email, When: s.When}
}

// Commit wraps a libgit2 commit.
type Commit struct {
	commit *git2go.Commit
	repo   *Repository
}

// Hash returns the commit's hash.
func (c *Commit) Hash() Hash {
	return HashFromOid(c.commit.Id())
}

// Message returns the commit message.
func (c *Commit) Message() string {
	return c.commit.Message()
}

// NumParents returns the number of parent commits.
func (c *Commit) NumParents() int {
	return int(c.commit.ParentCount())
}

// ParentHash returns the hash of the nth parent (zero-indexed).
func (c *Commit) ParentHash(n int) (Hash, error) {
	if uint(n) >= c.commit.ParentCount() {
		return Hash{}, ErrParentNotFound
	}

	return HashFromOid(c.commit.ParentId(uint(n))), nil
}

// Tree returns the commit's tree.
func (c *Commit) Tree() (*Tree, error) {
	tree, err := c.commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("%w: commit tree: %v", ErrTarget, err)
	}

	return &Tree{tree: tree, repo: c.repo}, nil
}

// Free releases the commit's native resources.
func (c *Commit) Free() {
	if c.commit != nil {
		c.commit.Free()
		c.commit = nil
	}
}

// Native returns the underlying libgit2 commit.
func (c *Commit) Native() *git2go.Commit {
	return c.commit
}

// CommitOptions describes a commit the processing engine is about to
// create.
type CommitOptions struct {
	Tree      Hash
	Message   string
	Author    Signature
	Parents   []Hash
	AllowEmpty bool
}

// CommitTree creates a new commit object with the given tree and
// parents and returns its hash. It does not move any ref — callers
// call UpdateRef afterward, so a crash between the two leaves the old
// ref target intact and the new commit unreferenced but harmless.
//
// CommitTree does not read AllowEmpty: a commit whose tree equals its
// parent's tree is always created, whatever the number of parents
// (spec §4.3: "commits on data may be empty").
func (r *Repository) CommitTree(opts CommitOptions) (Hash, error) {
	tree, err := r.repo.LookupTree(opts.Tree.ToOid())
	if err != nil {
		return Hash{}, fmt.Errorf("%w: lookup tree for commit: %v", ErrTarget, err)
	}
	defer tree.Free()

	parents := make([]*git2go.Commit, 0, len(opts.Parents))

	defer func() {
		for _, p := range parents {
			p.Free()
		}
	}()

	for _, parentHash := range opts.Parents {
		parent, lookupErr := r.repo.LookupCommit(parentHash.ToOid())
		if lookupErr != nil {
			return Hash{}, fmt.Errorf("%w: lookup parent %s: %v", ErrTarget, parentHash, lookupErr)
		}

		parents = append(parents, parent)
	}

	sig := opts.Author.native()

	oid, err := r.repo.CreateCommit("", sig, sig, opts.Message, tree, parents...)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: create commit: %v", ErrTarget, err)
	}

	return HashFromOid(oid), nil
}
