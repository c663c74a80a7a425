package gitstore_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git2go "github.com/libgit2/git2go/v34"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac2git/ac2git/pkg/gitstore"
)

func newTestRepo(t *testing.T) *gitstore.Repository {
	t.Helper()

	dir := t.TempDir()

	native, err := git2go.InitRepository(dir, false)
	require.NoError(t, err)
	native.Free()

	repo, err := gitstore.OpenRepository(dir)
	require.NoError(t, err)

	t.Cleanup(repo.Free)

	return repo
}

func testSignature() gitstore.Signature {
	return gitstore.Signature{Name: "Test User", Email: "test@example.com", When: time.Unix(1700000000, 0)}
}

func TestReadRef_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.ReadRef("refs/ac2git/depots/1/state/last")
	require.Error(t, err)
	assert.ErrorIs(t, err, gitstore.ErrRefNotFound)
}

func TestUpdateRefThenReadRef(t *testing.T) {
	repo := newTestRepo(t)

	tree, err := repo.EmptyTree()
	require.NoError(t, err)

	commit, err := repo.CommitTree(gitstore.CommitOptions{
		Tree:    tree,
		Message: "transaction 1",
		Author:  testSignature(),
	})
	require.NoError(t, err)

	const refName = "refs/ac2git/depots/1/streams/10/info"

	require.NoError(t, repo.UpdateRef(refName, commit))

	got, err := repo.ReadRef(refName)
	require.NoError(t, err)
	assert.Equal(t, commit, got)
}

func TestUpdateRef_MovesExistingRef(t *testing.T) {
	repo := newTestRepo(t)

	tree, err := repo.EmptyTree()
	require.NoError(t, err)

	first, err := repo.CommitTree(gitstore.CommitOptions{Tree: tree, Message: "transaction 1", Author: testSignature()})
	require.NoError(t, err)

	const refName = "refs/ac2git/depots/1/streams/10/info"
	require.NoError(t, repo.UpdateRef(refName, first))

	second, err := repo.CommitTree(gitstore.CommitOptions{
		Tree: tree, Message: "transaction 2", Author: testSignature(), Parents: []gitstore.Hash{first},
	})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateRef(refName, second))

	got, err := repo.ReadRef(refName)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestBuildTreeFromDir(t *testing.T) {
	repo := newTestRepo(t)

	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "README.md"), []byte("hello\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "src", "main.go"), []byte("package main\n"), 0o644))

	treeHash, err := repo.BuildTreeFromDir(workDir)
	require.NoError(t, err)

	tree, err := repo.LookupTree(treeHash)
	require.NoError(t, err)
	defer tree.Free()

	entry, err := tree.EntryByPath("src/main.go")
	require.NoError(t, err)
	assert.True(t, entry.IsBlob())
}

func TestDiffTreesEmpty(t *testing.T) {
	repo := newTestRepo(t)

	tree, err := repo.EmptyTree()
	require.NoError(t, err)

	a, err := repo.CommitTree(gitstore.CommitOptions{Tree: tree, Message: "transaction 1", Author: testSignature()})
	require.NoError(t, err)

	b, err := repo.CommitTree(gitstore.CommitOptions{
		Tree: tree, Message: "transaction 2", Author: testSignature(), Parents: []gitstore.Hash{a},
	})
	require.NoError(t, err)

	empty, err := repo.DiffTreesEmpty(a, b)
	require.NoError(t, err)
	assert.True(t, empty, "both commits use the empty tree")
}

func TestIsAncestor(t *testing.T) {
	repo := newTestRepo(t)

	tree, err := repo.EmptyTree()
	require.NoError(t, err)

	a, err := repo.CommitTree(gitstore.CommitOptions{Tree: tree, Message: "transaction 1", Author: testSignature()})
	require.NoError(t, err)

	b, err := repo.CommitTree(gitstore.CommitOptions{
		Tree: tree, Message: "transaction 2", Author: testSignature(), Parents: []gitstore.Hash{a},
	})
	require.NoError(t, err)

	ok, err := repo.IsAncestor(a, b)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsAncestor(b, a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSingleFileTreeAndReadBack(t *testing.T) {
	repo := newTestRepo(t)

	treeHash, err := repo.SingleFileTree("42", []byte("1337"))
	require.NoError(t, err)

	commit, err := repo.CommitTree(gitstore.CommitOptions{Tree: treeHash, Message: "hwm", Author: testSignature()})
	require.NoError(t, err)

	contents, err := repo.ReadFileFromTree(commit, "42")
	require.NoError(t, err)
	assert.Equal(t, "1337", string(contents))
}

func TestHashObject(t *testing.T) {
	repo := newTestRepo(t)

	h1, err := repo.HashObject([]byte("same bytes"))
	require.NoError(t, err)

	h2, err := repo.HashObject([]byte("same bytes"))
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "identical content hashes identically")
}
