package gitstore

import "errors"

// ErrTarget wraps any libgit2 failure against the target store. Per
// spec §7 this class is fatal: the caller aborts immediately, and
// because every prior ref update was atomic, state refs remain
// consistent for a later restart.
var ErrTarget = errors.New("target store error")

// ErrRefNotFound indicates a ref lookup found nothing — the caller's
// cue to treat a stream/state ref as not-yet-created rather than fail.
var ErrRefNotFound = errors.New("ref not found")

// ErrNotAncestor is returned by operations that require one commit to
// be reachable from another when it is not.
var ErrNotAncestor = errors.New("commit is not an ancestor")
