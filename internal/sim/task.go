package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// defaultProgressInterval is how often the auxiliary task publishes snapshots.
const defaultProgressInterval = 50 * time.Millisecond

// histogram bounds, in microseconds.
const (
	histMinUS = 1
	histMaxUS = 60_000_000
)

// outcome is the tri-state execution result of one functor. Keeping "never
// ran" distinct from "failed" internally avoids masking bugs even though the
// public FailOnFunctor query collapses the two.
type outcome int8

const (
	outcomeNone outcome = iota
	outcomeOK
	outcomeFailed
)

// span is one functor's parameter block: a contiguous range of field points.
type span struct {
	start, end int
}

// Options configures a FieldTask.
type Options struct {
	Logger *slog.Logger

	// FailPair, when set, is consulted before each main functor execution;
	// returning true makes that (functor, device) attempt fail. Used for
	// failure injection in tests and the demo service.
	FailPair func(functorIndex, deviceIndex int) bool

	// Progress, when set, receives periodic completion snapshots from the
	// auxiliary task.
	Progress func(completed, failed, total int)

	// ProgressInterval overrides the auxiliary task's publish cadence.
	ProgressInterval time.Duration
}

// FailMatchedPairs returns a failure hook that fails a functor's first,
// matched-device attempt with the given probability and always lets remapped
// retries succeed. The decision per functor is fixed up front so repeated
// attempts on the matched device stay deterministic.
func FailMatchedPairs(rate float64, seed int64) func(functorIndex, deviceIndex int) bool {
	rng := rand.New(rand.NewSource(seed))
	var mu sync.Mutex
	decided := make(map[int]bool)
	return func(functorIndex, deviceIndex int) bool {
		if functorIndex != deviceIndex {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		fail, ok := decided[functorIndex]
		if !ok {
			fail = rng.Float64() < rate
			decided[functorIndex] = fail
		}
		return fail
	}
}

// Report is the summary a FieldTask assembles in PostRun.
type Report struct {
	Functors       int     `json:"functors"`
	Completed      int     `json:"completed"`
	FailedFunctors []int   `json:"failed_functors,omitempty"`
	Attempts       int     `json:"attempts"`
	LatencyP50US   int64   `json:"latency_p50_us"`
	LatencyP99US   int64   `json:"latency_p99_us"`
	MeanLatencyUS  float64 `json:"mean_latency_us"`
}

// FieldTask computes an electrostatic field superposition across a pool of
// simulated devices. It implements the task-set contract consumed by the
// dispatch engine: the dataset is sliced into contiguous point ranges, one
// per functor, and any range can be computed on any device.
//
// Each simulated device's "resource" is a scratch buffer sized to hold the
// largest possible span, so a donor device can absorb a remapped functor
// using its own allocation.
type FieldTask struct {
	nDevices int
	logger   *slog.Logger
	failPair func(functorIndex, deviceIndex int) bool
	progress func(completed, failed, total int)
	interval time.Duration

	data      *Dataset
	out       []Vec3
	spans     []span
	scratch   [][]Vec3
	allocated bool

	mu       sync.Mutex
	outcomes []outcome
	hist     *hdrhistogram.Histogram

	attempts atomic.Int64
	done     atomic.Bool

	report Report
}

// NewFieldTask creates a task set for the given device-pool size.
func NewFieldTask(nDevices int, opts Options) *FieldTask {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	return &FieldTask{
		nDevices: nDevices,
		logger:   logger,
		failPair: opts.FailPair,
		progress: opts.Progress,
		interval: interval,
		hist:     hdrhistogram.New(histMinUS, histMaxUS, 3),
	}
}

// BindData attaches the dataset. Anything other than a *Dataset leaves the
// task empty, which surfaces later as an empty parameter list.
func (t *FieldTask) BindData(data any) {
	ds, ok := data.(*Dataset)
	if !ok {
		t.logger.Error("bind data: unexpected dataset type", "type", fmt.Sprintf("%T", data))
		return
	}
	t.data = ds
}

// AllocateResources sizes one scratch buffer per device. Buffers are sized
// for the largest span any partitioning can produce, so every device can run
// every functor.
func (t *FieldTask) AllocateResources() error {
	if t.data == nil {
		return fmt.Errorf("sim: no dataset bound")
	}
	if t.nDevices < 1 {
		return fmt.Errorf("sim: device pool size %d", t.nDevices)
	}

	// Sized for the worst-case single-functor partition, so any span fits
	// any device no matter how few functors the run ends up with.
	maxSpan := len(t.data.Points)
	if maxSpan < 1 {
		maxSpan = 1
	}

	t.scratch = make([][]Vec3, t.nDevices)
	for d := range t.scratch {
		t.scratch[d] = make([]Vec3, maxSpan)
	}
	t.allocated = true
	return nil
}

// ReleaseResources drops all device scratch buffers. Idempotent.
func (t *FieldTask) ReleaseResources() error {
	t.scratch = nil
	t.allocated = false
	return nil
}

// GenerateParameterList slices the bound field points into contiguous
// near-equal ranges, one per functor, and resets all per-run state. The
// functor count is the smaller of the requested device count and the number
// of points.
func (t *FieldTask) GenerateParameterList(nDevices int) int {
	if t.data == nil || len(t.data.Points) == 0 {
		return 0
	}

	n := nDevices
	if n > t.nDevices {
		n = t.nDevices
	}
	if n > len(t.data.Points) {
		n = len(t.data.Points)
	}
	if n < 1 {
		return 0
	}

	nPoints := len(t.data.Points)
	t.spans = make([]span, n)
	chunk := nPoints / n
	rem := nPoints % n
	start := 0
	for i := 0; i < n; i++ {
		size := chunk
		if i < rem {
			size++
		}
		t.spans[i] = span{start: start, end: start + size}
		start += size
	}

	t.out = make([]Vec3, nPoints)
	t.mu.Lock()
	t.outcomes = make([]outcome, n)
	t.hist.Reset()
	t.mu.Unlock()
	t.attempts.Store(0)
	t.done.Store(false)
	t.report = Report{}

	return n
}

// MainFunctor computes functor functorIndex's point range on device
// deviceIndex. The indices differ only after a remap; the computation is
// identical either way because every scratch buffer fits every span.
func (t *FieldTask) MainFunctor(ctx context.Context, functorIndex, deviceIndex int) error {
	t.attempts.Add(1)

	if functorIndex < 0 || functorIndex >= len(t.spans) {
		return fmt.Errorf("sim: functor index %d out of range", functorIndex)
	}
	if deviceIndex < 0 || deviceIndex >= t.nDevices {
		t.setOutcome(functorIndex, outcomeFailed)
		return fmt.Errorf("sim: device index %d out of range", deviceIndex)
	}
	if !t.allocated {
		t.setOutcome(functorIndex, outcomeFailed)
		return fmt.Errorf("sim: resources not allocated")
	}

	if t.failPair != nil && t.failPair(functorIndex, deviceIndex) {
		t.setOutcome(functorIndex, outcomeFailed)
		return fmt.Errorf("sim: injected failure of functor %d on device %d", functorIndex, deviceIndex)
	}

	start := time.Now()
	sp := t.spans[functorIndex]
	buf := t.scratch[deviceIndex]

	for i := sp.start; i < sp.end; i++ {
		if (i-sp.start)%2048 == 0 && ctx.Err() != nil {
			t.setOutcome(functorIndex, outcomeFailed)
			return ctx.Err()
		}
		buf[i-sp.start] = FieldAt(t.data.Charges, t.data.Points[i])
	}
	// Copy from device scratch to the shared output. Spans are disjoint, so
	// no two functors write the same range.
	copy(t.out[sp.start:sp.end], buf[:sp.end-sp.start])

	t.mu.Lock()
	t.outcomes[functorIndex] = outcomeOK
	if err := t.hist.RecordValue(time.Since(start).Microseconds()); err != nil {
		// Out-of-bounds sample; the histogram covers up to a minute.
		t.logger.Debug("latency sample dropped", "error", err)
	}
	t.mu.Unlock()
	return nil
}

// AuxFunctor periodically publishes completion snapshots. It returns once
// PostRun has run or the context is cancelled, so an abandoned auxiliary
// goroutine does not linger past the end of the run.
func (t *FieldTask) AuxFunctor(ctx context.Context) error {
	if t.progress == nil {
		return nil
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		completed, failed, total := t.snapshot()
		t.progress(completed, failed, total)
		if t.done.Load() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PostRun assembles the run report and releases the auxiliary task.
func (t *FieldTask) PostRun() {
	t.mu.Lock()
	var completed int
	var failedIdx []int
	for i, o := range t.outcomes {
		switch o {
		case outcomeOK:
			completed++
		case outcomeFailed, outcomeNone:
			failedIdx = append(failedIdx, i)
		}
	}
	sort.Ints(failedIdx)
	t.report = Report{
		Functors:       len(t.outcomes),
		Completed:      completed,
		FailedFunctors: failedIdx,
		Attempts:       int(t.attempts.Load()),
		LatencyP50US:   t.hist.ValueAtQuantile(50),
		LatencyP99US:   t.hist.ValueAtQuantile(99),
		MeanLatencyUS:  t.hist.Mean(),
	}
	t.mu.Unlock()

	t.done.Store(true)

	t.logger.Info("field computation finished",
		"functors", t.report.Functors,
		"completed", t.report.Completed,
		"failed", len(t.report.FailedFunctors),
		"attempts", t.report.Attempts,
	)
}

// Fail reports whether the last run left any functor uncompleted.
func (t *FieldTask) Fail() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range t.outcomes {
		if o != outcomeOK {
			return true
		}
	}
	return false
}

// FailOnFunctor reports whether the functor at index failed its most recent
// attempt. Out-of-range indices report true, per the contract.
func (t *FieldTask) FailOnFunctor(index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.outcomes) {
		return true
	}
	return t.outcomes[index] == outcomeFailed
}

// Report returns the summary assembled by PostRun.
func (t *FieldTask) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report
}

// Results returns the computed field vectors, one per dataset point.
// Only meaningful after a run; ranges belonging to permanently failed
// functors are zero.
func (t *FieldTask) Results() []Vec3 {
	return t.out
}

func (t *FieldTask) setOutcome(functorIndex int, o outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if functorIndex >= 0 && functorIndex < len(t.outcomes) {
		t.outcomes[functorIndex] = o
	}
}

func (t *FieldTask) snapshot() (completed, failed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range t.outcomes {
		switch o {
		case outcomeOK:
			completed++
		case outcomeFailed:
			failed++
		}
	}
	return completed, failed, len(t.outcomes)
}
