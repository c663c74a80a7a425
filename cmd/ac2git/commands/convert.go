package commands

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ac2git/ac2git/internal/config"
	"github.com/ac2git/ac2git/internal/observability"
	"github.com/ac2git/ac2git/pkg/accurev"
	"github.com/ac2git/ac2git/pkg/engine"
	"github.com/ac2git/ac2git/pkg/gitstore"
	"github.com/ac2git/ac2git/pkg/streamgraph"
	"github.com/ac2git/ac2git/pkg/usermap"
)

// exitConfigError, exitInterrupted, exitInvariantError mirror spec.md
// §6's exit codes: 0 success, 1 configuration/external client error, 2
// interrupted (restartable), 3 internal invariant violation. main wires
// os/signal.NotifyContext so SIGINT/SIGTERM cancel the context passed
// down here; cancellation is cooperative (spec §5) — exec.CommandContext
// inside pkg/accurev lets any in-flight AccuRev invocation finish or be
// killed, and the resulting error surfaces wrapped in a *SourceError,
// which classifyEngineError unwraps back to context.Canceled.
const (
	exitConfigError    = 1
	exitInterrupted    = 2
	exitInvariantError = 3
)

// highTxSentinel bounds DeepHist lookups used to discover a stream's
// creation transaction and, for start-tx/end-tx keywords, the depot's
// latest transaction. SourceClient has no "give me the highest
// transaction number" method (see DESIGN.md); a wide DeepHist scan is
// the pragmatic substitute AccuRev's dense, 1-based numbering makes
// safe.
const highTxSentinel = 1_000_000_000

// ConvertCommand holds configuration and dependencies for the convert command.
type ConvertCommand struct {
	configPath string
	username   string
	password   string
}

// NewConvertCommand builds the "convert" command.
func NewConvertCommand() *cobra.Command {
	cc := &ConvertCommand{}

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Retrieve and process a depot's tracked streams",
		Long:  "Replay an AccuRev depot's tracked streams onto a git repository, one commit per transaction per affected stream.",
		RunE:  cc.run,
	}

	cmd.Flags().StringVar(&cc.configPath, "config", "", "path to ac2git config file (default: ./.ac2git.yaml or $HOME/.ac2git.yaml)")
	cmd.Flags().StringVar(&cc.username, "user", "", "AccuRev username, for an explicit login before conversion")
	cmd.Flags().StringVar(&cc.password, "password", "", "AccuRev password, for an explicit login before conversion")

	return cmd
}

func (cc *ConvertCommand) run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadConfig(cc.configPath)
	if err != nil {
		return exitError{code: exitConfigError, err: fmt.Errorf("load config: %w", err)}
	}

	if err := cfg.Validate(); err != nil {
		return exitError{code: exitConfigError, err: fmt.Errorf("invalid config: %w", err)}
	}

	obsCfg := observability.DefaultConfig()
	logger := observability.NewLogger(obsCfg)

	registry := prometheus.NewRegistry()
	metrics := observability.NewEngineMetrics(registry)

	if obsCfg.MetricsAddr != "" {
		go func() {
			if err := observability.Serve(obsCfg.MetricsAddr, registry); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	source := accurev.NewClient(accurev.WithRetry(cfg.Retrieval.RetryMax, retryDelay(cfg)))

	if cc.username != "" {
		if err := source.Login(ctx, cc.username, cc.password); err != nil {
			return exitError{code: exitConfigError, err: fmt.Errorf("accurev login: %w", err)}
		}
	}

	ts, err := openOrInitRepository(cfg.RepoPath)
	if err != nil {
		return exitError{code: exitConfigError, err: fmt.Errorf("open target repository: %w", err)}
	}
	defer ts.Free()

	depotID := depotIDFor(cfg.Depot)
	logger.Info("starting conversion", "depot", cfg.Depot, "depot_id", depotID, "streams", cfg.Streams)

	trackedIDs, streamNames, err := resolveStreams(ctx, source, cfg)
	if err != nil {
		return exitError{code: exitConfigError, err: err}
	}

	bounds, err := resolveTxBounds(ctx, source, cfg, trackedIDs)
	if err != nil {
		return exitError{code: exitConfigError, err: err}
	}

	if err := retrieveAll(ctx, cfg, source, trackedIDs, bounds, metrics, logger); err != nil {
		return classifyEngineError(ctx, err)
	}

	if err := process(cfg, ts, depotID, trackedIDs, streamNames, bounds, metrics, logger); err != nil {
		return classifyEngineError(ctx, err)
	}

	logger.Info("conversion complete", "depot", cfg.Depot)

	return nil
}

// txBounds is one tracked stream's resolved retrieval window: the
// transaction it was created at (the floor Retrieve falls back to when
// a stream has never been retrieved) and the transaction conversion
// should stop at.
type txBounds struct {
	mkstreamTx map[int]int
	endTx      int
}

// resolveStreams maps the configured stream names to the numeric ids
// AccuRev's ShowStreams response carries, via one depot-wide snapshot
// at a generous upper transaction bound (spec §4.1: stream identifiers
// are stable integers once assigned, so any snapshot at or after a
// stream's creation names it correctly).
func resolveStreams(ctx context.Context, source *accurev.Client, cfg *config.Config) (map[string]int, map[int]string, error) {
	streams, err := source.ShowStreams(ctx, cfg.Depot, highTxSentinel)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve stream names: %w", err)
	}

	byName := make(map[string]int, len(streams.Streams))
	for _, s := range streams.Streams {
		byName[s.Name] = s.ID
	}

	ids := make(map[string]int, len(cfg.Streams))
	names := make(map[int]string, len(cfg.Streams))

	for _, name := range cfg.Streams {
		id, ok := byName[name]
		if !ok {
			return nil, nil, fmt.Errorf("configured stream %q not found in depot %q", name, cfg.Depot)
		}

		ids[name] = id
		names[id] = name
	}

	return ids, names, nil
}

// resolveTxBounds discovers each tracked stream's creation transaction
// and the run's effective end transaction, substituting for the
// SourceClient interface's lack of a dedicated "highest transaction"
// query (see DESIGN.md). A literal start-tx/end-tx configuration value
// overrides the discovered bound; the first/highest/now keywords accept
// it as-is.
func resolveTxBounds(ctx context.Context, source *accurev.Client, cfg *config.Config, trackedIDs map[string]int) (txBounds, error) {
	bounds := txBounds{mkstreamTx: make(map[int]int, len(trackedIDs))}

	literalEnd, hasLiteralEnd := parseTxLiteral(cfg.EndTx)
	literalStart, hasLiteralStart := parseTxLiteral(cfg.StartTx)

	highBound := highTxSentinel
	if hasLiteralEnd {
		highBound = literalEnd
	}

	discoveredEnd := 0

	for name, id := range trackedIDs {
		ids, err := source.DeepHist(ctx, cfg.Depot, name, 1, highBound)
		if err != nil {
			return txBounds{}, fmt.Errorf("resolve transaction bounds for stream %q: %w", name, err)
		}

		mkstreamTx := 1
		for i, tx := range ids {
			if i == 0 || tx < mkstreamTx {
				mkstreamTx = tx
			}

			if tx > discoveredEnd {
				discoveredEnd = tx
			}
		}

		if hasLiteralStart && literalStart > mkstreamTx {
			mkstreamTx = literalStart
		}

		bounds.mkstreamTx[id] = mkstreamTx
	}

	switch {
	case hasLiteralEnd:
		bounds.endTx = literalEnd
	case discoveredEnd > 0:
		bounds.endTx = discoveredEnd
	default:
		bounds.endTx = 1
	}

	return bounds, nil
}

func parseTxLiteral(ref string) (int, bool) {
	n, err := strconv.Atoi(ref)
	if err != nil {
		return 0, false
	}

	return n, true
}

// retrieveAll fans out per-stream retrieval across a bounded worker
// pool (spec §5: "parallelism, when enabled, is confined to the
// retrieval pipeline, where different streams may be fetched
// concurrently because they touch disjoint refs"). gitstore.Repository
// carries no internal synchronization, so every worker opens its own
// handle against the shared on-disk repo path rather than sharing one
// across goroutines.
func retrieveAll(ctx context.Context, cfg *config.Config, source *accurev.Client, trackedIDs map[string]int,
	bounds txBounds, metrics *observability.EngineMetrics, logger *slog.Logger,
) error {
	resolver, err := usermap.NewResolver(cfg.UserMap, usermap.WithFallback())
	if err != nil {
		return fmt.Errorf("build user-map resolver: %w", err)
	}

	depotID := depotIDFor(cfg.Depot)

	jobs := make(chan struct {
		id   int
		name string
	}, len(trackedIDs))

	for name, id := range trackedIDs {
		jobs <- struct {
			id   int
			name string
		}{id: id, name: name}
	}
	close(jobs)

	workers := cfg.Retrieval.Workers
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup

	errs := make([]error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func(workerIdx int) {
			defer wg.Done()

			ts, err := gitstore.OpenRepository(cfg.RepoPath)
			if err != nil {
				errs[workerIdx] = fmt.Errorf("worker %d: open repository: %w", workerIdx, err)
				return
			}
			defer ts.Free()

			for job := range jobs {
				retriever := &engine.StreamRetriever{
					Source:     source,
					Target:     ts,
					Resolver:   resolver,
					Depot:      cfg.Depot,
					DepotID:    depotID,
					StreamID:   job.id,
					StreamName: job.name,
					Method:     cfg.Method,
					WorkDir:    retrievalWorkDir(cfg.RepoPath, job.id),
				}

				logger.Info("retrieving stream", "stream", job.name, "stream_id", job.id)

				if err := retriever.Retrieve(ctx, bounds.mkstreamTx[job.id], bounds.endTx); err != nil {
					errs[workerIdx] = fmt.Errorf("retrieve stream %q: %w", job.name, err)
					return
				}

				if hwm, ok, err := engine.ReadHWM(ts, depotID, job.id); err == nil && ok {
					metrics.StreamHWM.WithLabelValues(job.name).Set(float64(hwm))
				}
			}
		}(w)
	}

	wg.Wait()

	return firstError(errs)
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}

func retrievalWorkDir(repoPath string, streamID int) string {
	dir := fmt.Sprintf("%s.work/stream-%d", repoPath, streamID)

	_ = os.MkdirAll(dir, 0o755)

	return dir
}

// process runs the strictly single-threaded planner/processor phase
// after retrieval fan-out completes (spec §5): resume state, plan the
// merge-walk, and process every resulting event in order.
func process(cfg *config.Config, ts *gitstore.Repository, depotID int, trackedIDs map[string]int,
	streamNames map[int]string, bounds txBounds, metrics *observability.EngineMetrics, logger *slog.Logger,
) error {
	resolver, err := usermap.NewResolver(cfg.UserMap, usermap.WithFallback())
	if err != nil {
		return fmt.Errorf("build user-map resolver: %w", err)
	}

	graph := streamgraph.New()

	names, err := engine.NewNameCache(ts, depotID)
	if err != nil {
		return fmt.Errorf("open stream name cache: %w", err)
	}

	trackedList := make([]int, 0, len(trackedIDs))
	tracked := make(map[int]bool, len(trackedIDs))

	for _, id := range trackedIDs {
		trackedList = append(trackedList, id)
		tracked[id] = true
	}

	resumeAuthor := gitstore.Signature{Name: "ac2git", Email: "ac2git@localhost", When: time.Now()}

	if err := engine.Resume(ts, depotID, trackedList, streamNames, resumeAuthor); err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	processor := engine.NewProcessor(ts, graph, resolver, names, depotID, tracked,
		cfg.SourceStreamFastForward, cfg.EmptyChildStreamAction)

	seed := make(map[int]gitstore.Hash, len(trackedList))
	afterTx := make(map[int]int, len(trackedList))
	hwm := make(map[int]int, len(trackedList))

	for _, id := range trackedList {
		if tip, err := ts.ReadRef(engine.VisibleBranchRef(streamNames[id])); err == nil {
			seed[id] = tip
		} else if !errors.Is(err, gitstore.ErrRefNotFound) {
			return fmt.Errorf("read visible branch for stream %d: %w", id, err)
		}

		if tx, ok, err := engine.LastProcessedTx(ts, depotID, id); err != nil {
			return fmt.Errorf("read last processed transaction for stream %d: %w", id, err)
		} else if ok {
			afterTx[id] = tx
		}

		h, ok, err := engine.ReadHWM(ts, depotID, id)
		if err != nil {
			return fmt.Errorf("read hwm for stream %d: %w", id, err)
		}

		if ok {
			hwm[id] = h
		} else {
			hwm[id] = bounds.mkstreamTx[id] - 1
		}
	}

	processor.Seed(seed)

	events := make(chan engine.PlannerEvent, 64)
	planErrCh := make(chan error, 1)

	go func() {
		planErrCh <- engine.PlanTransactions(ts, depotID, trackedList, afterTx, hwm, events)
	}()

	counted := make(chan engine.PlannerEvent, 64)

	go func() {
		defer close(counted)

		for ev := range events {
			metrics.TransactionsProcessed.Inc()
			logger.Debug("processing transaction", "tx", ev.Tx, "affected", len(ev.Affected))
			counted <- ev
		}
	}()

	if err := processor.Process(counted); err != nil {
		return fmt.Errorf("process: %w", err)
	}

	return <-planErrCh
}

func depotIDFor(depot string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(depot))

	// Mask to the non-negative int32 range: depot ids are used only for
	// ref-namespacing (spec §6's "<ns>/depots/<depotId>/..."), never
	// compared against AccuRev-native identifiers.
	return int(h.Sum32() & 0x7fffffff)
}

func openOrInitRepository(path string) (*gitstore.Repository, error) {
	if ts, err := gitstore.OpenRepository(path); err == nil {
		return ts, nil
	}

	return gitstore.InitRepository(path)
}

func retryDelay(cfg *config.Config) time.Duration {
	d, err := time.ParseDuration(cfg.Retrieval.RetryDelay)
	if err != nil {
		return 500 * time.Millisecond
	}

	return d
}

// exitError carries the process exit code a failure should produce
// (spec §6) alongside the underlying error, for main's top-level
// handler to unwrap.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }
func (e exitError) Unwrap() error { return e.err }

// ExitCode returns err's process exit code: 0 for nil, the code an
// exitError carries, 3 for an InvariantError (spec §6), 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var ee exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	var invariantErr *engine.InvariantError
	if errors.As(err, &invariantErr) {
		return exitInvariantError
	}

	return exitConfigError
}

// classifyEngineError maps a retrieval/processing failure to its exit
// code: an InvariantError passes through unwrapped (main reports exit
// 3 via ExitCode), a cancelled ctx becomes exitInterrupted regardless of
// how deep the underlying *accurev.SourceError buried context.Canceled,
// and everything else is a configuration/external-client error.
func classifyEngineError(ctx context.Context, err error) error {
	var invariantErr *engine.InvariantError
	if errors.As(err, &invariantErr) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return exitError{code: exitInterrupted, err: fmt.Errorf("interrupted: %w", err)}
	}

	return exitError{code: exitConfigError, err: err}
}
