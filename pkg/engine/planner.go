package engine

import "container/heap"

// plannerCursor tracks one tracked stream's position within its own
// ordered chainRecord sequence during the merge-walk.
type plannerCursor struct {
	streamID int
	records  []chainRecord
	idx      int
}

type plannerHeap []*plannerCursor

func (h plannerHeap) Len() int { return len(h) }

func (h plannerHeap) Less(i, j int) bool {
	ti, tj := h[i].records[h[i].idx].Tx, h[j].records[h[j].idx].Tx
	if ti != tj {
		return ti < tj
	}

	return h[i].streamID < h[j].streamID
}

func (h plannerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *plannerHeap) Push(x any) {
	*h = append(*h, x.(*plannerCursor))
}

func (h *plannerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}

// PlanTransactions merge-walks every tracked stream's info/data chain
// by transaction id via a container/heap k-way merge, emitting one
// PlannerEvent per distinct transaction with every stream it touched
// (tie-broken by ascending stream id), stopping at min(hwm) across
// tracked streams (spec §4.4). Events stream out over out, closed when
// the walk completes or an error aborts it.
func PlanTransactions(ts TargetStore, depotID int, trackedIDs []int, afterTx, hwm map[int]int, out chan<- PlannerEvent) error {
	defer close(out)

	h := &plannerHeap{}
	heap.Init(h)

	upTo, hasUpTo := 0, false
	for _, id := range trackedIDs {
		if !hasUpTo || hwm[id] < upTo {
			upTo, hasUpTo = hwm[id], true
		}
	}

	for _, id := range trackedIDs {
		records, err := recordsBetween(ts, depotID, id, afterTx[id], upTo)
		if err != nil {
			return err
		}

		if len(records) == 0 {
			continue
		}

		heap.Push(h, &plannerCursor{streamID: id, records: records})
	}

	for h.Len() > 0 {
		tx := (*h)[0].records[(*h)[0].idx].Tx

		var affected []AffectedStream

		var advancing []*plannerCursor

		for h.Len() > 0 && (*h)[0].records[(*h)[0].idx].Tx == tx {
			cur := heap.Pop(h).(*plannerCursor)
			rec := cur.records[cur.idx]

			affected = append(affected, AffectedStream{
				StreamID:   cur.streamID,
				InfoCommit: rec.InfoCommit,
				DataCommit: rec.DataCommit,
			})

			advancing = append(advancing, cur)
		}

		out <- PlannerEvent{Tx: tx, Affected: affected}

		for _, cur := range advancing {
			cur.idx++

			if cur.idx < len(cur.records) {
				heap.Push(h, cur)
			}
		}
	}

	return nil
}
