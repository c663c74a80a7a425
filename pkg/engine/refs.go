package engine

import "fmt"

// Namespace is the ref prefix under which every hidden, state, and
// cache ref lives, keeping the core's refs out of the user's own
// branch namespace (spec §6).
const Namespace = "refs/ac2git"

// InfoRef names the metadata history ref for a stream.
func InfoRef(depotID, streamID int) string {
	return fmt.Sprintf("%s/depots/%d/streams/%d/info", Namespace, depotID, streamID)
}

// DataRef names the contents history ref for a stream.
func DataRef(depotID, streamID int) string {
	return fmt.Sprintf("%s/depots/%d/streams/%d/data", Namespace, depotID, streamID)
}

// HWMRef names the high-water-mark ref for a stream.
func HWMRef(depotID, streamID int) string {
	return fmt.Sprintf("%s/depots/%d/streams/%d/hwm", Namespace, depotID, streamID)
}

// CommitHistoryRef names the audit-chain ref for a stream.
func CommitHistoryRef(depotID, streamID int) string {
	return fmt.Sprintf("%s/depots/%d/streams/%d/commit_history", Namespace, depotID, streamID)
}

// StateLastRef names the "last known heads" ref for a depot.
func StateLastRef(depotID int) string {
	return fmt.Sprintf("%s/state/depots/%d/last", Namespace, depotID)
}

// StreamNamesCacheRef names the id<->name cache ref for a depot.
func StreamNamesCacheRef(depotID int) string {
	return fmt.Sprintf("%s/cache/depots/%d/stream_names", Namespace, depotID)
}

// hwmFile is the single file name inside an hwm commit's tree.
const hwmFile = "hwm"

// VisibleBranchRef names a tracked stream's user-visible branch: the
// standard branch namespace, under the stream's configured name rather
// than the ac2git namespace (spec §6: "user-configured names under the
// standard branch namespace").
func VisibleBranchRef(streamName string) string {
	return "refs/heads/" + streamName
}
