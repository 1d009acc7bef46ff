package dispatch

import (
	"sort"
	"sync"
)

// tracker records which device indices are idle (finished successfully,
// resources still allocated, available as remap donors) and which functor
// indices are permanently failed. All state lives behind one mutex; the claim
// path is test-and-take inside a single critical section so two failed
// functors can never race for the same donor.
//
// Internally a functor distinguishes between "never recorded" and
// "permanently failed"; out-of-range queries are the task set's concern, not
// the tracker's.
type tracker struct {
	mu     sync.Mutex
	idle   []int
	failed map[int]bool
}

func newTracker() *tracker {
	return &tracker{failed: make(map[int]bool)}
}

// reset clears all state at the start of a run. Tracker state never persists
// across runs.
func (t *tracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.idle = t.idle[:0]
	t.failed = make(map[int]bool)
}

// donate marks deviceIndex idle after functorIndex completed on it
// successfully, clearing any failure record left by earlier attempts. The
// device is now eligible to receive a remapped functor.
func (t *tracker) donate(functorIndex, deviceIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failed, functorIndex)
	t.idle = append(t.idle, deviceIndex)
}

// failAndClaim records that functorIndex failed and, in the same critical
// section, tries to take an idle device to retry on. If a donor is available
// the failure record is cleared (a retry is pending) and the donor's index is
// returned. If the idle pool is empty the functor stays permanently failed
// and ok is false.
func (t *tracker) failAndClaim(functorIndex int) (device int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failed[functorIndex] = true
	if len(t.idle) == 0 {
		return 0, false
	}

	last := len(t.idle) - 1
	device = t.idle[last]
	t.idle = t.idle[:last]
	delete(t.failed, functorIndex)
	return device, true
}

// permanentFailures returns the sorted functor indices that never completed.
func (t *tracker) permanentFailures() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]int, 0, len(t.failed))
	for idx := range t.failed {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// idleCount returns the number of devices currently available as donors.
func (t *tracker) idleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.idle)
}
