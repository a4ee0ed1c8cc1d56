// Package timer implements the bounded timer heap the endpoint polls on
// every iteration of its event loop.
//
// The heap is a min-heap over absolute fire times built on
// container/heap, guarded by its own mutex so scheduling/cancellation
// never need the endpoint's lock (§5: "Timer heap internal recursive
// mutex: guards scheduling and cancellation").
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/sipkit/sipkit/pkg/config"
	"github.com/sipkit/sipkit/pkg/errs"
)

// Callback is invoked when a scheduled entry fires.
type Callback func()

// Entry is a single scheduled timer. The zero value is not usable;
// obtain one from Heap.Schedule.
type Entry struct {
	id       uint64
	at       time.Time
	cb       Callback
	index    int // heap index, maintained by container/heap
	canceled bool
}

type entryHeap []*Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x any)         { e := x.(*Entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Heap is a bounded timer heap. MaxEntries mirrors PJSIP_MAX_TIMER_COUNT;
// scheduling past the bound fails with errs.KindTooMany.
type Heap struct {
	mu         sync.Mutex
	h          entryHeap
	nextID     uint64
	MaxEntries int
	// MaxFirePerPoll bounds how many due entries one Poll call drains,
	// so a pathological backlog cannot starve I/O (PJSIP_MAX_TIMED_OUT_ENTRIES).
	MaxFirePerPoll int
}

// New returns an empty heap bounded by t.MaxTimerEntries/
// t.MaxTimedOutPerPoll. A nil t falls back to config.Default().
func New(t *config.Tunables) *Heap {
	if t == nil {
		d := config.Default()
		t = &d
	}
	return &Heap{MaxEntries: t.MaxTimerEntries, MaxFirePerPoll: t.MaxTimedOutPerPoll}
}

// Schedule arms cb to fire after delay and returns the new entry.
func (th *Heap) Schedule(delay time.Duration, cb Callback) (*Entry, error) {
	th.mu.Lock()
	defer th.mu.Unlock()

	if th.MaxEntries > 0 && len(th.h) >= th.MaxEntries {
		return nil, errs.New(errs.KindTooMany, "timer.schedule", "timer heap full", nil)
	}

	th.nextID++
	e := &Entry{id: th.nextID, at: time.Now().Add(delay), cb: cb}
	heap.Push(&th.h, e)
	return e, nil
}

// Cancel marks an entry canceled. It is guaranteed not to fire after
// Cancel returns, regardless of whether it had already been popped into
// a Poll's in-flight batch (Poll checks the canceled flag before
// invoking the callback).
func (th *Heap) Cancel(e *Entry) {
	if e == nil {
		return
	}
	th.mu.Lock()
	defer th.mu.Unlock()
	e.canceled = true
	if e.index >= 0 && e.index < len(th.h) && th.h[e.index] == e {
		heap.Remove(&th.h, e.index)
	}
}

// Poll fires every entry whose deadline has passed (up to
// MaxFirePerPoll), and returns the number fired plus the delay until the
// next due entry (zero if the heap is empty, in which case the caller
// should fall back to its own default wait).
func (th *Heap) Poll() (fired int, nextDelay time.Duration, hasNext bool) {
	now := time.Now()

	for {
		th.mu.Lock()
		if len(th.h) == 0 {
			th.mu.Unlock()
			return fired, 0, false
		}
		top := th.h[0]
		if top.at.After(now) {
			nextDelay = top.at.Sub(now)
			th.mu.Unlock()
			return fired, nextDelay, true
		}
		if th.MaxFirePerPoll > 0 && fired >= th.MaxFirePerPoll {
			nextDelay = 0
			th.mu.Unlock()
			return fired, nextDelay, true
		}
		heap.Pop(&th.h)
		th.mu.Unlock()

		if !top.canceled && top.cb != nil {
			top.cb()
			fired++
		}
	}
}

// Len reports the number of entries currently scheduled (cancelled
// entries are removed immediately by Cancel, so this is exact).
func (th *Heap) Len() int {
	th.mu.Lock()
	defer th.mu.Unlock()
	return len(th.h)
}
