// Package engine implements the cross-stream conversion core: the
// retrieval pipeline, transaction planner, processing engine, resume
// layer, and stream-name cache (spec §4.3-§4.7). It depends only on the
// SourceClient and TargetStore contracts below; pkg/accurev and
// pkg/gitstore are concrete collaborators satisfying them.
package engine

import (
	"context"

	"github.com/ac2git/ac2git/internal/accurevxml"
	"github.com/ac2git/ac2git/pkg/accurev"
	"github.com/ac2git/ac2git/pkg/gitstore"
)

// PopOptions controls a SourceClient.Pop invocation. Aliased onto
// pkg/accurev's concrete options type so the core's interface and the
// adapter's method signature never drift apart.
type PopOptions = accurev.PopOptions

// SourceClient is the contract the retrieval pipeline consumes (spec
// §4.1). pkg/accurev.Client satisfies it directly.
type SourceClient interface {
	Hist(ctx context.Context, depot string, tx int) (accurevxml.History, error)
	ShowStreams(ctx context.Context, depot string, tx int) (accurevxml.Streams, error)
	Diff(ctx context.Context, streamName string, txPrev, tx int) (accurevxml.Diff, error)
	Pop(ctx context.Context, streamName string, tx int, destDir string, opts PopOptions) error
	DeepHist(ctx context.Context, depot, streamName string, fromTx, toTx int) ([]int, error)
	Login(ctx context.Context, username, password string) error
}

// TargetStore is the contract the retrieval pipeline, planner, and
// processing engine consume (spec §4.2). pkg/gitstore.Repository
// satisfies it directly; its method shapes (CommitOptions struct,
// ErrRefNotFound sentinel instead of a boolean, no context.Context
// since libgit2 calls are synchronous CGO) are the adapter's actual
// built shape rather than the spec's illustrative pseudocode — see
// DESIGN.md.
type TargetStore interface {
	ReadRef(name string) (gitstore.Hash, error)
	UpdateRef(name string, commit gitstore.Hash) error
	DeleteRef(name string) error
	LookupCommit(hash gitstore.Hash) (*gitstore.Commit, error)
	LookupTree(hash gitstore.Hash) (*gitstore.Tree, error)
	CommitTree(opts gitstore.CommitOptions) (gitstore.Hash, error)
	BuildTreeFromDir(dir string) (gitstore.Hash, error)
	DiffTreesEmpty(a, b gitstore.Hash) (bool, error)
	IsAncestor(ancestor, descendant gitstore.Hash) (bool, error)
	HashObject(data []byte) (gitstore.Hash, error)
	SingleFileTree(name string, contents []byte) (gitstore.Hash, error)
	ReadFileFromTree(commit gitstore.Hash, path string) ([]byte, error)
	EmptyTree() (gitstore.Hash, error)
}
