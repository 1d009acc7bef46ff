package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/faultline/internal/functor"
)

// ErrNoDevices is returned by Run when the coordinator was constructed with
// zero devices.
var ErrNoDevices = errors.New("dispatch: no devices requested")

// ErrEmptyParameterList is returned by Run when the task set produced no
// functors for the bound dataset.
var ErrEmptyParameterList = errors.New("dispatch: task set generated an empty parameter list")

// Report summarizes how the failure remapping played out during one run.
type Report struct {
	// Functors is the number of functors the task set produced, which is
	// also the number of worker goroutines launched.
	Functors int
	// Attempts counts every MainFunctor invocation, including retries.
	Attempts int
	// Remaps counts failed functors that were reassigned to an idle device.
	Remaps int
	// Donations counts successful completions that entered the idle pool.
	Donations int
	// PermanentFailures holds the sorted indices of functors that never
	// completed. Empty on a fully successful run.
	PermanentFailures []int
	// IdleAtEnd is the number of unclaimed donor devices at termination.
	IdleAtEnd int
	// AuxAbandoned reports whether the auxiliary task was still running when
	// the main barrier completed.
	AuxAbandoned bool
	// Duration is the wall-clock time of the whole run.
	Duration time.Duration
}

// Coordinator drives one task set across a fixed team of devices: one worker
// goroutine per device running the remap-on-failure loop, plus one best-effort
// auxiliary goroutine that is abandoned rather than joined.
//
// A Coordinator owns its task set for the duration of a Run call. Run may be
// called repeatedly; tracker state is reset each time and never persists
// across calls.
type Coordinator struct {
	tasks    functor.TaskSet
	nDevices int
	logger   *slog.Logger
	tracker  *tracker

	attempts atomic.Int64
	remaps   atomic.Int64
	donated  atomic.Int64

	report Report
}

// NewCoordinator creates a coordinator that will fan the task set out over
// nDevices worker goroutines.
func NewCoordinator(tasks functor.TaskSet, nDevices int, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		tasks:    tasks,
		nDevices: nDevices,
		logger:   logger,
		tracker:  newTracker(),
	}
}

// Run executes the full lifecycle: generate the parameter list, launch one
// worker per device, launch the auxiliary task, wait for all main workers,
// then invoke PostRun on the calling goroutine.
//
// Run only fails on preconditions (zero devices, empty parameter list).
// Per-device execution failure is absorbed by the remapping loop; after Run
// returns the caller must query the task set's Fail and FailOnFunctor
// predicates to learn which functors never completed. The context is passed
// through to the task set but the engine itself never cancels workers: a main
// functor that never returns blocks Run forever, which is the task set's
// obligation to prevent.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.nDevices <= 0 {
		return ErrNoDevices
	}

	start := time.Now()
	runsInFlight.Inc()
	defer runsInFlight.Dec()

	nFunctors := c.tasks.GenerateParameterList(c.nDevices)
	if nFunctors <= 0 {
		return ErrEmptyParameterList
	}
	if nFunctors > c.nDevices {
		nFunctors = c.nDevices
	}

	c.tracker.reset()
	c.attempts.Store(0)
	c.remaps.Store(0)
	c.donated.Store(0)

	c.logger.Info("run starting", "devices", c.nDevices, "functors", nFunctors)

	var wg sync.WaitGroup
	for i := 0; i < nFunctors; i++ {
		wg.Add(1)
		go func(functorIndex int) {
			defer wg.Done()
			c.runWorker(ctx, functorIndex)
		}(i)
	}

	// The auxiliary task is fire-and-forget: it is observed through auxDone
	// but never joined. If it outlives the barrier its goroutine keeps
	// running past Run's return, a deliberate resource-lifetime exception.
	auxDone := make(chan struct{})
	go func() {
		defer close(auxDone)
		if err := c.tasks.AuxFunctor(ctx); err != nil {
			c.logger.Warn("auxiliary task returned error", "error", err)
		}
	}()

	// The single synchronization barrier of the engine.
	wg.Wait()

	auxAbandoned := false
	select {
	case <-auxDone:
	default:
		auxAbandoned = true
		auxAbandonedTotal.Inc()
		c.logger.Debug("abandoning auxiliary task still in flight")
	}

	c.tasks.PostRun()

	failures := c.tracker.permanentFailures()
	c.report = Report{
		Functors:          nFunctors,
		Attempts:          int(c.attempts.Load()),
		Remaps:            int(c.remaps.Load()),
		Donations:         int(c.donated.Load()),
		PermanentFailures: failures,
		IdleAtEnd:         c.tracker.idleCount(),
		AuxAbandoned:      auxAbandoned,
		Duration:          time.Since(start),
	}

	runDuration.Observe(c.report.Duration.Seconds())
	if len(failures) == 0 {
		runsTotal.WithLabelValues(outcomeCompleted).Inc()
	} else {
		runsTotal.WithLabelValues(outcomeDegraded).Inc()
	}

	c.logger.Info("run finished",
		"functors", nFunctors,
		"attempts", c.report.Attempts,
		"remaps", c.report.Remaps,
		"permanent_failures", len(failures),
		"duration_ms", c.report.Duration.Milliseconds(),
	)

	return nil
}

// Report returns the statistics of the most recent Run. Only meaningful after
// Run has returned.
func (c *Coordinator) Report() Report {
	return c.report
}

// runWorker is the per-device worker body: execute the functor, donate the
// device on success, otherwise claim an idle donor and retry. The loop bounds
// total retries by the number of devices that ever finish other work, so a
// run can never retry-storm.
func (c *Coordinator) runWorker(ctx context.Context, functorIndex int) {
	deviceIndex := functorIndex
	for {
		c.attempts.Add(1)
		attemptsTotal.Inc()

		err := c.tasks.MainFunctor(ctx, functorIndex, deviceIndex)
		if err != nil {
			c.logger.Warn("main functor returned error",
				"functor", functorIndex, "device", deviceIndex, "error", err)
		}

		if !c.tasks.FailOnFunctor(functorIndex) {
			c.tracker.donate(functorIndex, deviceIndex)
			c.donated.Add(1)
			donationsTotal.Inc()
			return
		}

		donor, ok := c.tracker.failAndClaim(functorIndex)
		if !ok {
			permanentFailuresTotal.Inc()
			c.logger.Error("functor permanently failed, idle pool exhausted",
				"functor", functorIndex, "device", deviceIndex)
			return
		}

		c.remaps.Add(1)
		remapsTotal.Inc()
		c.logger.Info("remapping failed functor",
			"functor", functorIndex, "failed_device", deviceIndex, "donor_device", donor)
		deviceIndex = donor
	}
}
