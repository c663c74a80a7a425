package engine

import (
	"context"

	"github.com/ac2git/ac2git/internal/config"
)

// candidateTransactions returns the ordered transaction ids the
// retrieval pipeline should visit for a stream after its mkstream, per
// spec §4.3's three strategies:
//
//   - pop / diff: every integer from fromTx+1 upward through toTx. The
//     strategies differ only in the per-transaction body (full pop vs
//     diff-then-partial-pop), not in which transactions are visited —
//     spec §4.3's critical invariant that diff must stay "dense in
//     reverts" forbids skipping transactions whose hist looks empty.
//   - deep-hist: only the transactions deep_hist reports, which may
//     over-approximate but must never under-approximate.
func candidateTransactions(ctx context.Context, source SourceClient, depot, streamName, method string, fromTx, toTx int) ([]int, error) {
	if method == config.MethodDeepHist {
		ids, err := source.DeepHist(ctx, depot, streamName, fromTx+1, toTx)
		if err != nil {
			return nil, err
		}

		return ids, nil
	}

	if toTx <= fromTx {
		return nil, nil
	}

	ids := make([]int, 0, toTx-fromTx)
	for t := fromTx + 1; t <= toTx; t++ {
		ids = append(ids, t)
	}

	return ids, nil
}
