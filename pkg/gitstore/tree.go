package gitstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	git2go "github.com/libgit2/git2go/v34"
)

// Tree wraps a libgit2 tree.
type Tree struct {
	tree *git2go.Tree
	repo *Repository
}

// Hash returns the tree's hash.
func (t *Tree) Hash() Hash {
	return HashFromOid(t.tree.Id())
}

// EntryByPath returns the entry at path, or an error wrapping ErrTarget
// if absent.
func (t *Tree) EntryByPath(path string) (*TreeEntry, error) {
	entry, err := t.tree.EntryByPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: entry by path %s: %v", ErrTarget, path, err)
	}

	return &TreeEntry{entry: entry}, nil
}

// Free releases the tree's native resources.
func (t *Tree) Free() {
	if t.tree != nil {
		t.tree.Free()
		t.tree = nil
	}
}

// Native returns the underlying libgit2 tree.
func (t *Tree) Native() *git2go.Tree {
	return t.tree
}

// TreeEntry wraps a libgit2 tree entry.
type TreeEntry struct {
	entry *git2go.TreeEntry
}

// Name returns the entry's filename.
func (e *TreeEntry) Name() string {
	return e.entry.Name
}

// Hash returns the entry's object hash.
func (e *TreeEntry) Hash() Hash {
	return HashFromOid(e.entry.Id)
}

// IsBlob reports whether the entry is a blob (as opposed to a subtree).
func (e *TreeEntry) IsBlob() bool {
	return e.entry.Type == git2go.ObjectBlob
}

// BuildTreeFromDir walks dir recursively and builds a git tree object
// matching its contents, used by the retrieval pipeline after a pop (or
// after deleting the paths a diff reported) to commit the working
// directory onto a stream's data ref.
func (r *Repository) BuildTreeFromDir(dir string) (Hash, error) {
	oid, err := r.buildTreeFromDir(dir)
	if err != nil {
		return Hash{}, err
	}

	return HashFromOid(oid), nil
}

func (r *Repository) buildTreeFromDir(dir string) (*git2go.Oid, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read dir %s: %v", ErrTarget, dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	tb, err := r.repo.TreeBuilder()
	if err != nil {
		return nil, fmt.Errorf("%w: tree builder: %v", ErrTarget, err)
	}
	defer tb.Free()

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			childOid, buildErr := r.buildTreeFromDir(full)
			if buildErr != nil {
				return nil, buildErr
			}

			if insertErr := tb.Insert(entry.Name(), childOid, git2go.FilemodeTree); insertErr != nil {
				return nil, fmt.Errorf("%w: insert subtree %s: %v", ErrTarget, full, insertErr)
			}

			continue
		}

		info, statErr := entry.Info()
		if statErr != nil {
			return nil, fmt.Errorf("%w: stat %s: %v", ErrTarget, full, statErr)
		}

		mode := git2go.FilemodeBlob
		if info.Mode()&0o100 != 0 {
			mode = git2go.FilemodeBlobExecutable
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, readErr := os.Readlink(full)
			if readErr != nil {
				return nil, fmt.Errorf("%w: readlink %s: %v", ErrTarget, full, readErr)
			}

			blobOid, blobErr := r.repo.CreateBlobFromBuffer([]byte(target))
			if blobErr != nil {
				return nil, fmt.Errorf("%w: blob symlink %s: %v", ErrTarget, full, blobErr)
			}

			if insertErr := tb.Insert(entry.Name(), blobOid, git2go.FilemodeLink); insertErr != nil {
				return nil, fmt.Errorf("%w: insert symlink %s: %v", ErrTarget, full, insertErr)
			}

			continue
		}

		data, readErr := os.ReadFile(full)
		if readErr != nil {
			return nil, fmt.Errorf("%w: read file %s: %v", ErrTarget, full, readErr)
		}

		blobOid, blobErr := r.repo.CreateBlobFromBuffer(data)
		if blobErr != nil {
			return nil, fmt.Errorf("%w: blob %s: %v", ErrTarget, full, blobErr)
		}

		if insertErr := tb.Insert(entry.Name(), blobOid, mode); insertErr != nil {
			return nil, fmt.Errorf("%w: insert %s: %v", ErrTarget, full, insertErr)
		}
	}

	oid, err := tb.Write()
	if err != nil {
		return nil, fmt.Errorf("%w: write tree: %v", ErrTarget, err)
	}

	return oid, nil
}
