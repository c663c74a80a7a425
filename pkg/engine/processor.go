package engine

import (
	"fmt"
	"time"

	"github.com/ac2git/ac2git/internal/accurevxml"
	"github.com/ac2git/ac2git/internal/cache"
	"github.com/ac2git/ac2git/pkg/gitstore"
	"github.com/ac2git/ac2git/pkg/streamgraph"
	"github.com/ac2git/ac2git/pkg/usermap"
)

// Processor is the single-threaded orchestrator that turns a stream of
// PlannerEvents into commits on visible branches, state/last, and
// commit_history (spec §4.4-§4.6, §5: "the processor is strictly
// single-threaded: it owns the working directory, state/last, and all
// visible branch refs").
type Processor struct {
	Target   TargetStore
	Graph    *streamgraph.Graph
	Resolver *usermap.Resolver
	Names    *NameCache
	DepotID  int
	Tracked  map[int]bool

	SourceStreamFastForward bool
	EmptyChildStreamAction  string

	tips    map[int]gitstore.Hash
	audited *cache.HashSet
}

// NewProcessor builds a Processor for one depot's tracked stream set.
func NewProcessor(ts TargetStore, graph *streamgraph.Graph, resolver *usermap.Resolver, names *NameCache,
	depotID int, tracked map[int]bool, sourceStreamFastForward bool, emptyChildStreamAction string,
) *Processor {
	return &Processor{
		Target:                  ts,
		Graph:                   graph,
		Resolver:                resolver,
		Names:                   names,
		DepotID:                 depotID,
		Tracked:                 tracked,
		SourceStreamFastForward: sourceStreamFastForward,
		EmptyChildStreamAction:  emptyChildStreamAction,
		tips:                    map[int]gitstore.Hash{},
		audited:                 cache.NewHashSet(),
	}
}

// Seed primes the processor's in-memory tip cache from a restored
// state/last snapshot, so processing a resumed run's first event
// builds merge parents against the right commits instead of treating
// every tracked stream as newly created.
func (p *Processor) Seed(tips map[int]gitstore.Hash) {
	for id, tip := range tips {
		p.tips[id] = tip
	}
}

// Process consumes the planner's event channel in order, failing fast
// on the first error: ordering constraints forbid skipping a
// transaction once a later one has started (spec §7).
func (p *Processor) Process(events <-chan PlannerEvent) error {
	for ev := range events {
		if err := p.processTransaction(ev); err != nil {
			return err
		}
	}

	return nil
}

func (p *Processor) processTransaction(ev PlannerEvent) error {
	if len(ev.Affected) == 0 {
		return nil
	}

	if err := p.observeSnapshot(ev.Tx, ev.Affected[0].InfoCommit); err != nil {
		return err
	}

	byID := make(map[int]AffectedStream, len(ev.Affected))
	for _, affected := range ev.Affected {
		byID[affected.StreamID] = affected
	}

	for _, affected := range ev.Affected {
		tx, err := p.loadTransaction(affected.InfoCommit)
		if err != nil {
			return err
		}

		if err := p.dispatch(tx, affected, byID); err != nil {
			return err
		}
	}

	return p.persistState(ev.Tx)
}

// observeSnapshot records this transaction's show-streams result into
// the basis graph and the stream-name cache: every stream, not just
// those directly affected, since children need their own basis
// resolved at this tx even when they weren't touched by it.
func (p *Processor) observeSnapshot(tx int, infoCommit gitstore.Hash) error {
	data, err := p.Target.ReadFileFromTree(infoCommit, "streams.xml")
	if err != nil {
		return &TargetError{Op: "read streams.xml", Err: err}
	}

	snapshot, err := accurevxml.ParseStreams(data)
	if err != nil {
		return newInvariantError(tx, 0, "parse", "malformed streams.xml: "+err.Error())
	}

	states := make([]streamgraph.StreamState, 0, len(snapshot.Streams))
	for _, s := range snapshot.Streams {
		states = append(states, streamgraph.StreamState{
			ID: s.ID, Name: s.Name, BasisID: s.BasisID, Kind: s.Kind, Timelock: s.Timelock,
		})
	}

	p.Graph.RecordSnapshot(tx, states)

	if p.Names.Observe(p.Target, snapshot) {
		author := gitstore.Signature{Name: "ac2git", Email: "ac2git@localhost", When: time.Unix(0, 0)}
		if err := p.Names.Commit(p.Target, author); err != nil {
			return err
		}
	}

	return nil
}

func (p *Processor) loadTransaction(infoCommit gitstore.Hash) (transaction, error) {
	data, err := p.Target.ReadFileFromTree(infoCommit, "hist.xml")
	if err != nil {
		return transaction{}, &TargetError{Op: "read hist.xml", Err: err}
	}

	hist, err := accurevxml.ParseHistory(data)
	if err != nil {
		return transaction{}, newInvariantError(0, 0, "parse", "malformed hist.xml: "+err.Error())
	}

	if len(hist.Transactions) == 0 {
		// ParseError sentinel (spec §7): an empty hist.xml recorded by
		// retrieval for an unparseable old transaction. Treated as a no-op
		// except for the bookkeeping persistState always performs.
		return transaction{}, nil
	}

	return fromWireTransaction(hist.Transactions[0]), nil
}

// dispatch plans and applies the commit for one affected entry, but only
// when that entry is the transaction's actual destination: a promote's
// ev.Affected also carries an entry for every descendant whose own diff/
// deep-hist retrieval echoed the inherited content change (so the
// planner's per-transaction record set is complete for every tracked
// stream), and those echoes must not be double-processed as if they
// were themselves the promote's destination — recursive propagation
// off the real destination (spec §4.5) is what moves their branch.
func (p *Processor) dispatch(tx transaction, affected AffectedStream, byID map[int]AffectedStream) error {
	if tx.Kind == "" {
		return nil
	}

	streamID := affected.StreamID
	if !p.Tracked[streamID] {
		return nil
	}

	ctx := dispatchContext{Tx: tx, StreamID: streamID}

	switch tx.Kind {
	case "chstream":
		ctx.BasisChanged = p.Graph.BasisChanged(streamID, tx.ID-1, tx.ID)

		if ctx.BasisChanged {
			basisID, ok := p.Graph.BasisAt(streamID, tx.ID)
			ctx.HasFromStream = ok
			ctx.FromStreamID = basisID
			ctx.FromStreamTracked = ok && p.Tracked[basisID]
		}

	case "mkstream":
		// no source to resolve

	default:
		if tx.ToStream != "" {
			if destID, ok := p.Graph.IDByNameAt(tx.ToStream, tx.ID); ok && destID != streamID {
				// Descendant echo of a promote destined elsewhere; skip direct
				// dispatch, propagation from the real destination handles it.
				return nil
			}
		}

		if tx.FromStream != "" {
			if id, ok := p.Graph.IDByNameAt(tx.FromStream, tx.ID); ok {
				ctx.HasFromStream = true
				ctx.FromStreamID = id
				ctx.FromStreamTracked = p.Tracked[id]
			}
		}
	}

	refs, err := p.snapshot(ctx, affected)
	if err != nil {
		return err
	}

	ops, err := planCommitOps(ctx, refs)
	if err != nil {
		return err
	}

	author, err := p.authorFor(tx)
	if err != nil {
		return err
	}

	if err := p.applyOps(ops, tx, author, byID); err != nil {
		return err
	}

	return p.propagateChildren(streamID, tx, author, byID)
}

func (p *Processor) snapshot(ctx dispatchContext, affected AffectedStream) (RefSnapshot, error) {
	dataCommit, err := p.Target.LookupCommit(affected.DataCommit)
	if err != nil {
		return RefSnapshot{}, &TargetError{Op: "lookup data commit", Err: err}
	}

	tree, err := dataCommit.Tree()
	if err != nil {
		return RefSnapshot{}, &TargetError{Op: "data commit tree", Err: err}
	}

	streams := map[int]StreamRef{}

	tip, hasTip := p.tips[ctx.StreamID]
	streams[ctx.StreamID] = StreamRef{VisibleTip: tip, HasTip: hasTip, DataTree: tree.Hash(), HasData: true}

	if ctx.HasFromStream {
		fromTip, hasFromTip := p.tips[ctx.FromStreamID]
		streams[ctx.FromStreamID] = StreamRef{VisibleTip: fromTip, HasTip: hasFromTip}
	}

	return RefSnapshot{
		DepotID:                 p.DepotID,
		Streams:                 streams,
		SourceStreamFastForward: p.SourceStreamFastForward,
		EmptyChildStreamAction:  p.EmptyChildStreamAction,
	}, nil
}

func (p *Processor) authorFor(tx transaction) (gitstore.Signature, error) {
	when := time.Unix(tx.TimeUnix, 0)

	sig, err := p.Resolver.Resolve(tx.User, when)
	if err != nil {
		return gitstore.Signature{Name: tx.User, Email: tx.User, When: when}, nil
	}

	return sig, nil
}

// applyOps executes planCommitOps' result against the target store in
// order, resolving each OpFastForward's FastForwardFromOp index against
// the commits this same call has already created.
func (p *Processor) applyOps(ops []CommitOp, tx transaction, author gitstore.Signature, byID map[int]AffectedStream) error {
	created := make([]gitstore.Hash, len(ops))

	for i, op := range ops {
		name, err := p.nameOf(op.StreamID)
		if err != nil {
			return err
		}

		var commit gitstore.Hash

		switch op.Kind {
		case OpAuditOnly:
			commit = p.tips[op.StreamID]

		case OpFastForward:
			commit = created[op.FastForwardFromOp]

			if err := p.Target.UpdateRef(VisibleBranchRef(name), commit); err != nil {
				return &TargetError{Op: "fast-forward visible branch", Err: err}
			}

		default:
			commit, err = p.Target.CommitTree(gitstore.CommitOptions{
				Tree: op.Tree, Message: op.Message, Author: author, Parents: op.Parents, AllowEmpty: true,
			})
			if err != nil {
				return &TargetError{Op: "commit visible branch", Err: err}
			}

			if err := p.Target.UpdateRef(VisibleBranchRef(name), commit); err != nil {
				return &TargetError{Op: "update visible branch ref", Err: err}
			}
		}

		p.tips[op.StreamID] = commit
		created[i] = commit

		if err := p.appendAudit(op.StreamID, tx, commit, author); err != nil {
			return err
		}

		if op.Kind == OpFastForward {
			if err := p.propagateChildren(op.StreamID, tx, author, byID); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *Processor) nameOf(streamID int) (string, error) {
	name, ok := p.Names.Name(p.Target, streamID)
	if !ok {
		return "", newInvariantError(0, streamID, "dispatch", "no known name for tracked stream")
	}

	return name, nil
}

// appendAudit appends one audit commit onto streamID's commit_history
// ref for tx. dispatch and propagateChild can each reach the same
// (streamID, tx) pair within a single transaction's processing (a
// stream can be both the dispatched destination and its own child-
// propagation target via a self-referential graph edge produced by
// upstream data); p.audited dedupes on a hash of the pair so at most
// one audit commit is appended per (streamID, tx) per run.
func (p *Processor) appendAudit(streamID int, tx transaction, visibleTip gitstore.Hash, author gitstore.Signature) error {
	key, err := p.Target.HashObject([]byte(fmt.Sprintf("audit:%d:%d", streamID, tx.ID)))
	if err != nil {
		return &TargetError{Op: "hash audit dedup key", Err: err}
	}

	if !p.audited.Add(key) {
		return nil
	}

	ref := CommitHistoryRef(p.DepotID, streamID)

	var parents []gitstore.Hash

	prior, err := p.Target.ReadRef(ref)
	switch {
	case err == nil:
		parents = []gitstore.Hash{prior, visibleTip}
	case isRefNotFound(err):
		parents = nil
	default:
		return &TargetError{Op: "read commit_history ref", Err: err}
	}

	emptyTree, err := p.Target.EmptyTree()
	if err != nil {
		return &TargetError{Op: "resolve empty tree for audit commit", Err: err}
	}

	commit, err := p.Target.CommitTree(gitstore.CommitOptions{
		Tree: emptyTree, Message: commitMessage(tx), Author: author, Parents: parents,
	})
	if err != nil {
		return &TargetError{Op: "commit audit", Err: err}
	}

	return wrapTargetErr(p.Target.UpdateRef(ref, commit), "update commit_history ref")
}

func (p *Processor) persistState(tx int) error {
	author := gitstore.Signature{Name: "ac2git", Email: "ac2git@localhost", When: time.Unix(0, 0)}

	_, err := writeStateLast(p.Target, p.DepotID, p.tips, author, tx)

	return err
}

// propagateChildren recurses depth-first, in ascending child-id order,
// propagating parentID's new content into every tracked child (spec
// §4.5).
func (p *Processor) propagateChildren(parentID int, tx transaction, author gitstore.Signature, byID map[int]AffectedStream) error {
	children := p.Graph.ChildrenAt(parentID, tx.ID, p.Tracked)

	for _, childID := range children {
		if err := p.propagateChild(parentID, childID, tx, author, byID); err != nil {
			return err
		}
	}

	return nil
}

// propagateChild decides and applies childID's commit for parentID's new
// content (spec §4.5). The child's "data tree at tx" the policy table
// compares against is the child's OWN retrieved data commit for this
// transaction when its retrieval pipeline recorded one (the normal case:
// a tracked descendant's diff/deep-hist sequence echoes any change it
// inherits through its basis, per the planner's completeness guarantee)
// — not the parent's tree, which only coincides with it when nothing
// diverged. Falls back to the parent's tree when the child has no entry
// for this tx (it was not retrieved this far, or genuinely unaffected).
func (p *Processor) propagateChild(parentID, childID int, tx transaction, author gitstore.Signature, byID map[int]AffectedStream) error {
	parentTip := p.tips[parentID]

	parentCommit, err := p.Target.LookupCommit(parentTip)
	if err != nil {
		return &TargetError{Op: "lookup parent tip", Err: err}
	}

	parentTree, err := parentCommit.Tree()
	if err != nil {
		return &TargetError{Op: "parent tip tree", Err: err}
	}

	// childDataCommit is the commit DiffTreesEmpty compares against
	// parentTip (DiffTreesEmpty takes commit hashes, not tree hashes, and
	// diffs the trees they point at). childDataTree is that same data's
	// tree hash, needed separately when the non-empty branch below builds
	// a cherry-pick commit (CommitOp.Tree wants a tree, not a commit).
	// Absent an entry in byID, there is no independently retrieved child
	// content to compare; fall back to parentTip itself, which compares
	// trivially equal and defers to the ancestry check below.
	childDataCommit := parentTip
	childDataTree := parentTree.Hash()

	if childAffected, ok := byID[childID]; ok {
		dataCommit, err := p.Target.LookupCommit(childAffected.DataCommit)
		if err != nil {
			return &TargetError{Op: "lookup child data commit", Err: err}
		}

		dataTree, err := dataCommit.Tree()
		if err != nil {
			return &TargetError{Op: "child data commit tree", Err: err}
		}

		childDataCommit = childAffected.DataCommit
		childDataTree = dataTree.Hash()
	}

	childTip, hasChildTip := p.tips[childID]

	var treesEqual, parentAncestor bool

	if hasChildTip {
		treesEqual, err = p.Target.DiffTreesEmpty(childDataCommit, parentTip)
		if err != nil {
			return &TargetError{Op: "diff child/parent trees", Err: err}
		}

		parentAncestor, err = p.Target.IsAncestor(parentTip, childTip)
		if err != nil {
			return &TargetError{Op: "check parent ancestry", Err: err}
		}
	}

	decision := childPropagationDecision{
		ChildID:         childID,
		ChildTip:        childTip,
		HasChildTip:     hasChildTip,
		ChildDataTree:   childDataTree,
		NewParentCommit: parentTip,
		NewParentTree:   parentTree.Hash(),
		TreesEqual:      treesEqual,
		ParentAncestor:  parentAncestor,
	}

	op, skip := planChildOp(decision, p.EmptyChildStreamAction)
	if skip {
		return nil
	}

	name, err := p.nameOf(childID)
	if err != nil {
		return err
	}

	commit, err := p.Target.CommitTree(gitstore.CommitOptions{
		Tree: op.Tree, Message: visibleMessage(tx), Author: author, Parents: op.Parents, AllowEmpty: true,
	})
	if err != nil {
		return &TargetError{Op: "commit propagated child", Err: err}
	}

	if err := p.Target.UpdateRef(VisibleBranchRef(name), commit); err != nil {
		return &TargetError{Op: "update child visible branch ref", Err: err}
	}

	p.tips[childID] = commit

	if err := p.appendAudit(childID, tx, commit, author); err != nil {
		return err
	}

	return p.propagateChildren(childID, tx, author, byID)
}
