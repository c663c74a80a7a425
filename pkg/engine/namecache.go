package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ac2git/ac2git/internal/accurevxml"
	"github.com/ac2git/ac2git/pkg/gitstore"
)

// NameCache maps stream ids to their most recently observed name for
// one depot (spec §4.7), materialized as a single commit on
// cache/depots/<id>/stream_names whose tree holds one file per stream
// id (contents = name).
type NameCache struct {
	depotID int
	commit  gitstore.Hash
	hasRef  bool
	names   map[int]string
}

// NewNameCache opens the cache at its current ref position, if any.
// Names are read lazily from the committed tree via Name, since the
// TargetStore contract exposes lookup-by-path rather than tree
// enumeration.
func NewNameCache(ts TargetStore, depotID int) (*NameCache, error) {
	nc := &NameCache{depotID: depotID, names: map[int]string{}}

	commit, err := ts.ReadRef(StreamNamesCacheRef(depotID))
	if err != nil {
		if errors.Is(err, gitstore.ErrRefNotFound) {
			return nc, nil
		}

		return nil, &TargetError{Op: "read stream name cache", Err: err}
	}

	nc.commit = commit
	nc.hasRef = true

	return nc, nil
}

// Name returns streamID's cached name: from the in-memory bindings
// Observe has recorded this run, falling back to the committed tree for
// ids not yet seen this run.
func (nc *NameCache) Name(ts TargetStore, streamID int) (string, bool) {
	if name, ok := nc.names[streamID]; ok {
		return name, true
	}

	if !nc.hasRef {
		return "", false
	}

	data, err := ts.ReadFileFromTree(nc.commit, strconv.Itoa(streamID))
	if err != nil {
		return "", false
	}

	name := string(data)
	nc.names[streamID] = name

	return name, true
}

// Observe records a show-streams snapshot's (id, name) bindings and
// reports whether anything changed: a new id, or a rename of an
// existing id (spec §4.7: "invalidated if a processed show streams
// reveals a new id or rename").
func (nc *NameCache) Observe(ts TargetStore, snapshot accurevxml.Streams) bool {
	changed := false

	for _, s := range snapshot.Streams {
		existing, ok := nc.Name(ts, s.ID)
		if !ok || existing != s.Name {
			nc.names[s.ID] = s.Name
			changed = true
		}
	}

	return changed
}

// Commit writes the cache's current in-memory bindings as a new single
// commit on the stream-names ref, replacing any prior commit (the cache
// is a materialized snapshot, not an append-only log).
func (nc *NameCache) Commit(ts TargetStore, author gitstore.Signature) error {
	dir, err := os.MkdirTemp("", "ac2git-namecache-*")
	if err != nil {
		return &TargetError{Op: "scratch dir for stream name cache", Err: err}
	}
	defer os.RemoveAll(dir)

	for id, name := range nc.names {
		path := filepath.Join(dir, strconv.Itoa(id))
		if writeErr := os.WriteFile(path, []byte(name), 0o644); writeErr != nil {
			return &TargetError{Op: "write stream name cache scratch file", Err: writeErr}
		}
	}

	tree, err := ts.BuildTreeFromDir(dir)
	if err != nil {
		return &TargetError{Op: "build stream name cache tree", Err: err}
	}

	commit, err := ts.CommitTree(gitstore.CommitOptions{
		Tree:    tree,
		Message: "stream names",
		Author:  author,
	})
	if err != nil {
		return &TargetError{Op: "commit stream name cache", Err: err}
	}

	if err := ts.UpdateRef(StreamNamesCacheRef(nc.depotID), commit); err != nil {
		return &TargetError{Op: "update stream name cache ref", Err: err}
	}

	nc.commit = commit
	nc.hasRef = true

	return nil
}
