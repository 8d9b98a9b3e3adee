// Package receipt keeps per-operation results for a bounded number of ticks, so the
// projection service can confirm what an individual submission did without replaying
// the event stream. A receipt is the operation's result value plus any errors it hit.
package receipt

import (
	"errors"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rotisserie/eris"
)

var (
	ErrTickInProgress = errors.New("tick is still in progress")
	ErrTickDiscarded  = errors.New("the requested tick has been discarded due to age")
)

// OpHash identifies one submitted operation.
type OpHash = common.Hash

// Receipt is the recorded outcome of one operation.
type Receipt struct {
	OpHash OpHash  `json:"opHash"`
	Result any     `json:"result"`
	Errs   []error `json:"errs"`
}

// History is a ring buffer of receipts over the most recent ticks. Results and errors
// can only be written to the current tick; older ticks are read-only until the ring
// reclaims them.
type History struct {
	currTick     *atomic.Uint64
	ticksToStore uint64
	history      []map[OpHash]Receipt
}

// NewHistory tracks receipts for the given number of past ticks, plus the current one.
func NewHistory(currentTick uint64, ticksToStore int) *History {
	ticksToStore++
	h := &History{
		currTick:     &atomic.Uint64{},
		ticksToStore: uint64(ticksToStore),
		history:      make([]map[OpHash]Receipt, 0, ticksToStore),
	}
	for i := 0; i < ticksToStore; i++ {
		h.history = append(h.history, map[OpHash]Receipt{})
	}
	h.currTick.Store(currentTick)
	return h
}

func (h *History) Size() uint64 {
	return h.ticksToStore
}

// NextTick advances the current tick, reclaiming the ring slot that falls out of the
// retention window.
func (h *History) NextTick() {
	newCurr := h.currTick.Add(1)
	h.history[newCurr%h.ticksToStore] = map[OpHash]Receipt{}
}

// SetTick jumps the current tick, e.g. after a snapshot restore. Slots in between are
// not cleared; callers jumping forward more than one tick should rebuild instead.
func (h *History) SetTick(tick uint64) {
	h.currTick.Store(tick)
}

// AddError appends an error to the operation's receipt in the current tick.
func (h *History) AddError(hash OpHash, err error) {
	slot := h.currTick.Load() % h.ticksToStore
	rec := h.history[slot][hash]
	rec.OpHash = hash
	rec.Errs = append(rec.Errs, err)
	h.history[slot][hash] = rec
}

// SetResult records the operation's result in the current tick, replacing any previous
// result for the same hash.
func (h *History) SetResult(hash OpHash, result any) {
	slot := h.currTick.Load() % h.ticksToStore
	rec := h.history[slot][hash]
	rec.OpHash = hash
	rec.Result = result
	h.history[slot][hash] = rec
}

// GetReceipt looks up an operation's receipt in the current tick.
func (h *History) GetReceipt(hash OpHash) (Receipt, bool) {
	rec, ok := h.history[h.currTick.Load()%h.ticksToStore][hash]
	return rec, ok
}

// GetReceiptsForTick returns every receipt recorded for a past tick. The current tick
// is refused because its results are not final; ticks beyond the retention window are
// gone.
func (h *History) GetReceiptsForTick(tick uint64) ([]Receipt, error) {
	currTick := h.currTick.Load()
	if currTick <= tick {
		return nil, eris.Wrap(ErrTickInProgress, "")
	}
	if currTick-tick >= h.ticksToStore {
		return nil, eris.Wrap(ErrTickDiscarded, "")
	}
	slot := tick % h.ticksToStore
	recs := make([]Receipt, 0, len(h.history[slot]))
	for _, rec := range h.history[slot] {
		recs = append(recs, rec)
	}
	return recs, nil
}
