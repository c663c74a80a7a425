package engine

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	git2go "github.com/libgit2/git2go/v34"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac2git/ac2git/internal/config"
	"github.com/ac2git/ac2git/pkg/gitstore"
	"github.com/ac2git/ac2git/pkg/streamgraph"
	"github.com/ac2git/ac2git/pkg/usermap"
)

// newProcessorTestRepo mirrors pkg/gitstore's own test helper: a
// throwaway non-bare repository a real *gitstore.Repository wraps, so
// the processor exercises the actual TargetStore implementation rather
// than a hand-rolled fake (the TargetStore contract's methods return
// gitstore's own *Commit/*Tree types, which only a real repository can
// produce).
func newProcessorTestRepo(t *testing.T) *gitstore.Repository {
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

func testAuthor() gitstore.Signature {
	return gitstore.Signature{Name: "tester", Email: "tester@example.com", When: time.Unix(1700000000, 0)}
}

func writeTreeFiles(t *testing.T, ts TargetStore, files map[string]string) gitstore.Hash {
	t.Helper()

	dir := t.TempDir()

	for name, contents := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
	}

	tree, err := ts.BuildTreeFromDir(dir)
	require.NoError(t, err)

	return tree
}

// commitInfo writes one info commit (hist.xml + streams.xml) carrying
// the "transaction <T>" message every info/data/audit commit must use
// (spec §3), chained onto parent.
func commitInfo(t *testing.T, ts TargetStore, tx int, histXML, streamsXML string, parent gitstore.Hash, hasParent bool) gitstore.Hash {
	t.Helper()

	tree := writeTreeFiles(t, ts, map[string]string{"hist.xml": histXML, "streams.xml": streamsXML})

	var parents []gitstore.Hash
	if hasParent {
		parents = []gitstore.Hash{parent}
	}

	commit, err := ts.CommitTree(gitstore.CommitOptions{
		Tree: tree, Message: commitMessage(transaction{ID: tx}), Author: testAuthor(), Parents: parents,
	})
	require.NoError(t, err)

	return commit
}

func commitData(t *testing.T, ts TargetStore, tx int, files map[string]string, parent gitstore.Hash, hasParent bool) gitstore.Hash {
	t.Helper()

	tree := writeTreeFiles(t, ts, files)

	var parents []gitstore.Hash
	if hasParent {
		parents = []gitstore.Hash{parent}
	}

	commit, err := ts.CommitTree(gitstore.CommitOptions{
		Tree: tree, Message: commitMessage(transaction{ID: tx}), Author: testAuthor(), Parents: parents, AllowEmpty: true,
	})
	require.NoError(t, err)

	return commit
}

func histXML(id int, kind, user, comment string) string {
	ts := strconv.Itoa(1700000000 + id)

	return `<AcResponse TaskId="0"><transaction id="` + strconv.Itoa(id) + `" type="` + kind +
		`" time="` + ts + `" user="` + user + `"><comment>` + comment + `</comment></transaction></AcResponse>`
}

// histXMLPromote builds a hist.xml payload for a promote between two
// named streams, the shape FromToStream splits back apart (source
// listed first, destination second).
func histXMLPromote(id int, user, comment, fromStream, toStream string) string {
	ts := strconv.Itoa(1700000000 + id)

	return `<AcResponse TaskId="0"><transaction id="` + strconv.Itoa(id) + `" type="promote" time="` + ts +
		`" user="` + user + `"><comment>` + comment + `</comment>` +
		`<stream name="` + fromStream + `"/><stream name="` + toStream + `"/></transaction></AcResponse>`
}

type streamXMLEntry struct {
	id    int
	name  string
	basis int
}

func streamsXML(streams ...streamXMLEntry) string {
	out := `<AcResponse TaskId="0">`
	for _, s := range streams {
		out += `<stream streamNumber="` + strconv.Itoa(s.id) + `" name="` + s.name +
			`" basisStreamNumber="` + strconv.Itoa(s.basis) + `" type="normal" time=""/>`
	}

	out += `</AcResponse>`

	return out
}

func newTestProcessor(t *testing.T, ts TargetStore, depotID int, tracked map[int]bool, fastForward bool, emptyChildAction string) *Processor {
	t.Helper()

	resolver, err := usermap.NewResolver(map[string]config.UserSpec{}, usermap.WithFallback())
	require.NoError(t, err)

	names, err := NewNameCache(ts, depotID)
	require.NoError(t, err)

	return NewProcessor(ts, streamgraph.New(), resolver, names, depotID, tracked, fastForward, emptyChildAction)
}

// runPlanAndProcess wires PlanTransactions straight into Processor.Process,
// the same composition cmd/ac2git's convert command performs (spec §4.4/§4.5).
func runPlanAndProcess(t *testing.T, ts TargetStore, p *Processor, depotID int, trackedIDs []int, afterTx, hwm map[int]int) {
	t.Helper()

	events := make(chan PlannerEvent, 16)
	planErrCh := make(chan error, 1)

	go func() {
		planErrCh <- PlanTransactions(ts, depotID, trackedIDs, afterTx, hwm, events)
	}()

	require.NoError(t, p.Process(events))
	require.NoError(t, <-planErrCh)
}

func firstParentRoot(t *testing.T, ts TargetStore, commit *gitstore.Commit) *gitstore.Commit {
	t.Helper()

	for commit.NumParents() > 0 {
		parentHash, err := commit.ParentHash(0)
		require.NoError(t, err)

		commit, err = ts.LookupCommit(parentHash)
		require.NoError(t, err)
	}

	return commit
}

// TestScenarioA_SingleStreamThreeTransactions matches spec §8 scenario A:
// mkstream then two content-changing transactions on one stream. Visible
// branch commit messages come from hist.xml's comment, and trees
// accumulate the expected file contents at each tip.
func TestScenarioA_SingleStreamThreeTransactions(t *testing.T) {
	repo := newProcessorTestRepo(t)

	const depotID = 1
	const streamID = 1

	snapshot := streamsXML(streamXMLEntry{id: streamID, name: "Main", basis: 0})

	info1 := commitInfo(t, repo, 1, histXML(1, "mkstream", "alice", "create Main"), snapshot, gitstore.Hash{}, false)
	data1 := commitData(t, repo, 1, map[string]string{"a.txt": "hello"}, gitstore.Hash{}, false)

	info2 := commitInfo(t, repo, 2, histXML(2, "promote", "bob", "update a"), snapshot, info1, true)
	data2 := commitData(t, repo, 2, map[string]string{"a.txt": "hello world"}, data1, true)

	info3 := commitInfo(t, repo, 3, histXML(3, "promote", "bob", "add b"), snapshot, info2, true)
	data3 := commitData(t, repo, 3, map[string]string{"a.txt": "hello world", "b.txt": "x"}, data2, true)

	require.NoError(t, repo.UpdateRef(InfoRef(depotID, streamID), info3))
	require.NoError(t, repo.UpdateRef(DataRef(depotID, streamID), data3))

	tracked := map[int]bool{streamID: true}
	p := newTestProcessor(t, repo, depotID, tracked, false, config.ChildActionMerge)

	runPlanAndProcess(t, repo, p, depotID, []int{streamID}, map[int]int{streamID: 0}, map[int]int{streamID: 3})

	tip, err := repo.ReadRef(VisibleBranchRef("Main"))
	require.NoError(t, err)

	commit, err := repo.LookupCommit(tip)
	require.NoError(t, err)
	assert.Equal(t, "add b", commit.Message())

	tree, err := commit.Tree()
	require.NoError(t, err)

	aEntry, err := tree.EntryByPath("a.txt")
	require.NoError(t, err)
	assert.False(t, aEntry.Hash().IsZero())

	bEntry, err := tree.EntryByPath("b.txt")
	require.NoError(t, err)
	assert.False(t, bEntry.Hash().IsZero())

	root := firstParentRoot(t, repo, commit)
	assert.Equal(t, "create Main", root.Message())
	assert.Equal(t, 0, root.NumParents())
}

// TestScenarioB_PromoteSourceTracked_NoFastForward matches spec §8
// scenario B with source-stream-fast-forward=false: Test gets a merge
// commit parented on its own prior tip and Dev's current tip; Dev's
// branch does not move.
func TestScenarioB_PromoteSourceTracked_NoFastForward(t *testing.T) {
	repo := newProcessorTestRepo(t)

	const depotID = 1
	const devID, testID = 2, 3

	devOnlySnapshot := streamsXML(streamXMLEntry{id: devID, name: "Dev", basis: 0})
	snapshot := streamsXML(
		streamXMLEntry{id: devID, name: "Dev", basis: 0},
		streamXMLEntry{id: testID, name: "Test", basis: devID},
	)

	devInfo1 := commitInfo(t, repo, 1, histXML(1, "mkstream", "alice", "create Dev"), devOnlySnapshot, gitstore.Hash{}, false)
	devData1 := commitData(t, repo, 1, map[string]string{"f": "v1"}, gitstore.Hash{}, false)
	require.NoError(t, repo.UpdateRef(InfoRef(depotID, devID), devInfo1))
	require.NoError(t, repo.UpdateRef(DataRef(depotID, devID), devData1))

	testInfo1 := commitInfo(t, repo, 2, histXML(2, "mkstream", "alice", "create Test"), snapshot, gitstore.Hash{}, false)
	testData1 := commitData(t, repo, 2, map[string]string{"f": "v1"}, gitstore.Hash{}, false)

	tracked := map[int]bool{devID: true, testID: true}
	p := newTestProcessor(t, repo, depotID, tracked, false, config.ChildActionMerge)

	// Process mkstream for both streams first so tips exist.
	require.NoError(t, repo.UpdateRef(InfoRef(depotID, testID), testInfo1))
	require.NoError(t, repo.UpdateRef(DataRef(depotID, testID), testData1))

	runPlanAndProcess(t, repo, p, depotID, []int{devID, testID},
		map[int]int{devID: 0, testID: 0}, map[int]int{devID: 2, testID: 2})

	devTipBeforePromote, err := repo.ReadRef(VisibleBranchRef("Dev"))
	require.NoError(t, err)

	testTipBeforePromote, err := repo.ReadRef(VisibleBranchRef("Test"))
	require.NoError(t, err)

	// Transaction 10: promote from Dev into Test.
	promoteHist := histXMLPromote(10, "bob", "promote f", "Dev", "Test")

	devInfo2 := commitInfo(t, repo, 10, promoteHist, snapshot, devInfo1, true)
	devData2 := commitData(t, repo, 10, map[string]string{"f": "v1"}, devData1, true)
	require.NoError(t, repo.UpdateRef(InfoRef(depotID, devID), devInfo2))
	require.NoError(t, repo.UpdateRef(DataRef(depotID, devID), devData2))

	testInfo2 := commitInfo(t, repo, 10, promoteHist, snapshot, testInfo1, true)
	testData2 := commitData(t, repo, 10, map[string]string{"f": "v2"}, testData1, true)
	require.NoError(t, repo.UpdateRef(InfoRef(depotID, testID), testInfo2))
	require.NoError(t, repo.UpdateRef(DataRef(depotID, testID), testData2))

	runPlanAndProcess(t, repo, p, depotID, []int{devID, testID},
		map[int]int{devID: 1, testID: 2}, map[int]int{devID: 10, testID: 10})

	newTestTip, err := repo.ReadRef(VisibleBranchRef("Test"))
	require.NoError(t, err)
	assert.NotEqual(t, testTipBeforePromote, newTestTip, "Test branch moved")

	commit, err := repo.LookupCommit(newTestTip)
	require.NoError(t, err)
	assert.Equal(t, 2, commit.NumParents())

	p0, err := commit.ParentHash(0)
	require.NoError(t, err)
	assert.Equal(t, testTipBeforePromote, p0)

	p1, err := commit.ParentHash(1)
	require.NoError(t, err)
	assert.Equal(t, devTipBeforePromote, p1)

	devTipAfter, err := repo.ReadRef(VisibleBranchRef("Dev"))
	require.NoError(t, err)
	assert.Equal(t, devTipBeforePromote, devTipAfter, "Dev branch unmoved when fast-forward disabled")
}

// TestScenarioE_PromoteFromUnknownSource_CherryPicks matches spec §8
// scenario E: a promote whose source stream name doesn't resolve (old
// history, or a source outside the tracked set) lands as a single-
// parent cherry-pick on the destination; every other tracked branch is
// untouched.
func TestScenarioE_PromoteFromUnknownSource_CherryPicks(t *testing.T) {
	repo := newProcessorTestRepo(t)

	const depotID = 1
	const destID, otherID = 2, 3

	snapshot := streamsXML(
		streamXMLEntry{id: destID, name: "Dest", basis: 0},
		streamXMLEntry{id: otherID, name: "Other", basis: 0},
	)

	destInfo1 := commitInfo(t, repo, 1, histXML(1, "mkstream", "alice", "create Dest"), snapshot, gitstore.Hash{}, false)
	destData1 := commitData(t, repo, 1, map[string]string{"f": "dest-v1"}, gitstore.Hash{}, false)
	require.NoError(t, repo.UpdateRef(InfoRef(depotID, destID), destInfo1))
	require.NoError(t, repo.UpdateRef(DataRef(depotID, destID), destData1))

	otherInfo1 := commitInfo(t, repo, 2, histXML(2, "mkstream", "alice", "create Other"), snapshot, gitstore.Hash{}, false)
	otherData1 := commitData(t, repo, 2, map[string]string{"g": "other-v1"}, gitstore.Hash{}, false)
	require.NoError(t, repo.UpdateRef(InfoRef(depotID, otherID), otherInfo1))
	require.NoError(t, repo.UpdateRef(DataRef(depotID, otherID), otherData1))

	tracked := map[int]bool{destID: true, otherID: true}
	p := newTestProcessor(t, repo, depotID, tracked, false, config.ChildActionMerge)

	runPlanAndProcess(t, repo, p, depotID, []int{destID, otherID},
		map[int]int{destID: 0, otherID: 0}, map[int]int{destID: 2, otherID: 2})

	destTipBefore, err := repo.ReadRef(VisibleBranchRef("Dest"))
	require.NoError(t, err)

	otherTipBefore, err := repo.ReadRef(VisibleBranchRef("Other"))
	require.NoError(t, err)

	promoteHist := histXMLPromote(10, "bob", "cherry picked change", "Unknown", "Dest")

	destInfo2 := commitInfo(t, repo, 10, promoteHist, snapshot, destInfo1, true)
	destData2 := commitData(t, repo, 10, map[string]string{"f": "dest-v2"}, destData1, true)
	require.NoError(t, repo.UpdateRef(InfoRef(depotID, destID), destInfo2))
	require.NoError(t, repo.UpdateRef(DataRef(depotID, destID), destData2))

	runPlanAndProcess(t, repo, p, depotID, []int{destID, otherID},
		map[int]int{destID: 1, otherID: 2}, map[int]int{destID: 10, otherID: 10})

	destTipAfter, err := repo.ReadRef(VisibleBranchRef("Dest"))
	require.NoError(t, err)
	assert.NotEqual(t, destTipBefore, destTipAfter)

	commit, err := repo.LookupCommit(destTipAfter)
	require.NoError(t, err)
	assert.Equal(t, "cherry picked change", commit.Message())
	assert.Equal(t, 1, commit.NumParents())

	p0, err := commit.ParentHash(0)
	require.NoError(t, err)
	assert.Equal(t, destTipBefore, p0)

	otherTipAfter, err := repo.ReadRef(VisibleBranchRef("Other"))
	require.NoError(t, err)
	assert.Equal(t, otherTipBefore, otherTipAfter, "Other branch untouched by a promote naming an unrelated source")
}

// TestScenarioF_ChstreamBasisChange_ReanchorsAsMerge matches spec §8
// scenario F: changing a stream's basis produces a merge commit
// parented on the stream's own prior tip and the new basis stream's
// tip, without touching the new basis stream's own branch.
func TestScenarioF_ChstreamBasisChange_ReanchorsAsMerge(t *testing.T) {
	repo := newProcessorTestRepo(t)

	const depotID = 1
	const mainID, otherID, devID = 1, 3, 2

	snapshotMainOnly := streamsXML(streamXMLEntry{id: mainID, name: "Main", basis: 0})
	snapshotMainOther := streamsXML(
		streamXMLEntry{id: mainID, name: "Main", basis: 0},
		streamXMLEntry{id: otherID, name: "Other", basis: 0},
	)
	initialSnapshot := streamsXML(
		streamXMLEntry{id: mainID, name: "Main", basis: 0},
		streamXMLEntry{id: otherID, name: "Other", basis: 0},
		streamXMLEntry{id: devID, name: "Dev", basis: mainID},
	)

	mainInfo1 := commitInfo(t, repo, 1, histXML(1, "mkstream", "alice", "create Main"), snapshotMainOnly, gitstore.Hash{}, false)
	mainData1 := commitData(t, repo, 1, map[string]string{"m": "v1"}, gitstore.Hash{}, false)
	require.NoError(t, repo.UpdateRef(InfoRef(depotID, mainID), mainInfo1))
	require.NoError(t, repo.UpdateRef(DataRef(depotID, mainID), mainData1))

	otherInfo1 := commitInfo(t, repo, 2, histXML(2, "mkstream", "alice", "create Other"), snapshotMainOther, gitstore.Hash{}, false)
	otherData1 := commitData(t, repo, 2, map[string]string{"o": "v1"}, gitstore.Hash{}, false)
	require.NoError(t, repo.UpdateRef(InfoRef(depotID, otherID), otherInfo1))
	require.NoError(t, repo.UpdateRef(DataRef(depotID, otherID), otherData1))

	devInfo1 := commitInfo(t, repo, 3, histXML(3, "mkstream", "alice", "create Dev"), initialSnapshot, gitstore.Hash{}, false)
	devData1 := commitData(t, repo, 3, map[string]string{"d": "v1"}, gitstore.Hash{}, false)
	require.NoError(t, repo.UpdateRef(InfoRef(depotID, devID), devInfo1))
	require.NoError(t, repo.UpdateRef(DataRef(depotID, devID), devData1))

	tracked := map[int]bool{mainID: true, otherID: true, devID: true}
	p := newTestProcessor(t, repo, depotID, tracked, false, config.ChildActionMerge)

	runPlanAndProcess(t, repo, p, depotID, []int{mainID, otherID, devID},
		map[int]int{mainID: 0, otherID: 0, devID: 0}, map[int]int{mainID: 3, otherID: 3, devID: 3})

	devTipBefore, err := repo.ReadRef(VisibleBranchRef("Dev"))
	require.NoError(t, err)

	otherTipBefore, err := repo.ReadRef(VisibleBranchRef("Other"))
	require.NoError(t, err)

	rebasedSnapshot := streamsXML(
		streamXMLEntry{id: mainID, name: "Main", basis: 0},
		streamXMLEntry{id: otherID, name: "Other", basis: 0},
		streamXMLEntry{id: devID, name: "Dev", basis: otherID},
	)

	devInfo2 := commitInfo(t, repo, 10, histXML(10, "chstream", "alice", "rebase Dev onto Other"), rebasedSnapshot, devInfo1, true)
	devData2 := commitData(t, repo, 10, map[string]string{"d": "v1"}, devData1, true)
	require.NoError(t, repo.UpdateRef(InfoRef(depotID, devID), devInfo2))
	require.NoError(t, repo.UpdateRef(DataRef(depotID, devID), devData2))

	runPlanAndProcess(t, repo, p, depotID, []int{mainID, otherID, devID},
		map[int]int{mainID: 1, otherID: 2, devID: 3}, map[int]int{mainID: 10, otherID: 10, devID: 10})

	devTipAfter, err := repo.ReadRef(VisibleBranchRef("Dev"))
	require.NoError(t, err)
	assert.NotEqual(t, devTipBefore, devTipAfter)

	commit, err := repo.LookupCommit(devTipAfter)
	require.NoError(t, err)
	assert.Equal(t, "rebase Dev onto Other", commit.Message())
	assert.Equal(t, 2, commit.NumParents())

	p0, err := commit.ParentHash(0)
	require.NoError(t, err)
	assert.Equal(t, devTipBefore, p0)

	p1, err := commit.ParentHash(1)
	require.NoError(t, err)
	assert.Equal(t, otherTipBefore, p1)

	otherTipAfter, err := repo.ReadRef(VisibleBranchRef("Other"))
	require.NoError(t, err)
	assert.Equal(t, otherTipBefore, otherTipAfter, "new basis stream's own branch untouched by the re-anchor")
}
