package engine

import (
	"errors"
	"fmt"

	"github.com/ac2git/ac2git/pkg/gitstore"
)

// TargetError is fatal: the target store failed in a way that leaves no
// safe way to continue the current operation. Per spec §7, prior ref
// updates remain atomic and consistent, so the caller aborts
// immediately rather than attempting to repair anything itself.
type TargetError struct {
	Op  string
	Err error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("target store: %s: %v", e.Op, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// InvariantError indicates the core detected a violated invariant —
// e.g. info ahead of data by more than one commit, or a planner event
// referencing an untracked stream. Fatal; maps to process exit code 3
// (spec §6).
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Msg
}

// ErrUntrackedStream names a stream id outside the configured tracked
// set. No code returns it: planCommitOps reports that case as an
// InvariantError with the same text, which does not wrap this value.
var ErrUntrackedStream = errors.New("stream is not tracked")

// newInvariantError formats an InvariantError with transaction, stream,
// and operation context (spec §7: "operator-visible messages name the
// transaction id, stream id, and operation").
func newInvariantError(tx, streamID int, op, detail string) *InvariantError {
	return &InvariantError{Msg: fmt.Sprintf("tx %d stream %d %s: %s", tx, streamID, op, detail)}
}

// isRefNotFound reports whether err is gitstore's "ref does not exist"
// sentinel, the one TargetError condition every caller treats as
// absence rather than failure.
func isRefNotFound(err error) bool {
	return errors.Is(err, gitstore.ErrRefNotFound)
}
