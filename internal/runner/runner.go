package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/faultline/internal/dispatch"
	"github.com/seantiz/faultline/internal/model"
	"github.com/seantiz/faultline/internal/progress"
	"github.com/seantiz/faultline/internal/sim"
	"github.com/seantiz/faultline/internal/store"
)

// Default dataset shape when a spec leaves fields zero.
const (
	defaultCharges = 64
	defaultPoints  = 4096
)

// Spec describes one requested run. Zero values are filled from the runner's
// configured defaults, then the built-in fallbacks: Devices from the host CPU
// count, Seed from the wall clock.
type Spec struct {
	Devices  int     `json:"devices"`
	Charges  int     `json:"charges"`
	Points   int     `json:"points"`
	FailRate float64 `json:"fail_rate"`
	Seed     int64   `json:"seed"`
}

// Runner orchestrates asynchronous simulation runs.
type Runner struct {
	store    store.Store
	logger   *slog.Logger
	broker   *progress.Broker
	defaults Spec
	wg       sync.WaitGroup
}

// New creates a new runner. Fields left zero in a submitted Spec inherit the
// corresponding value from defaults before the built-in fallbacks apply.
func New(s store.Store, logger *slog.Logger, defaults Spec) *Runner {
	return &Runner{
		store:    s,
		logger:   logger,
		broker:   progress.NewBroker(),
		defaults: defaults,
	}
}

// Broker returns the runner's progress broker for SSE subscription.
func (r *Runner) Broker() *progress.Broker {
	return r.broker
}

// Submit creates a run record and launches asynchronous execution in a
// goroutine. The run is stored with status "pending" before returning.
func (r *Runner) Submit(ctx context.Context, spec Spec) (*model.Run, error) {
	if spec.Devices <= 0 {
		spec.Devices = r.defaults.Devices
	}
	if spec.Devices <= 0 {
		spec.Devices = sim.AutoDevices()
	}
	if spec.Charges <= 0 {
		spec.Charges = defaultCharges
	}
	if spec.Points <= 0 {
		spec.Points = defaultPoints
	}
	if spec.FailRate <= 0 {
		spec.FailRate = r.defaults.FailRate
	}
	if spec.Seed == 0 {
		spec.Seed = time.Now().UnixNano()
	}

	run := &model.Run{
		ID:          model.NewID(),
		Status:      model.StatusPending,
		Devices:     spec.Devices,
		Charges:     spec.Charges,
		FieldPoints: spec.Points,
		FailRate:    spec.FailRate,
		Seed:        spec.Seed,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	runCopy := *run
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(&runCopy, spec)
	}()

	return run, nil
}

// Wait blocks until all in-flight run goroutines complete.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// execute drives the run lifecycle in a goroutine: pending→running→
// completed/degraded, or failed when the run could not start at all.
func (r *Runner) execute(run *model.Run, spec Spec) {
	// Close the progress stream when execution finishes, regardless of outcome.
	defer r.broker.Close(run.ID)

	if err := r.store.UpdateRunStatus(context.Background(), run.ID, model.StatusRunning); err != nil {
		r.logger.Error("failed to transition to running", "run_id", run.ID, "error", err)
		r.finishFailed(run.ID, nil, fmt.Sprintf("failed to start: %v", err))
		return
	}

	start := time.Now()
	logger := r.logger.With("run_id", run.ID)

	opts := sim.Options{
		Logger: logger,
		Progress: func(completed, failed, total int) {
			r.broker.Publish(run.ID, progress.Event{
				RunID:     run.ID,
				Total:     total,
				Completed: completed,
				Failed:    failed,
				ElapsedMS: time.Since(start).Milliseconds(),
			})
		},
	}
	if spec.FailRate > 0 {
		opts.FailPair = sim.FailMatchedPairs(spec.FailRate, spec.Seed)
	}

	task := sim.NewFieldTask(spec.Devices, opts)
	task.BindData(sim.RandomDataset(spec.Charges, spec.Points, spec.Seed))
	if err := task.AllocateResources(); err != nil {
		r.finishFailed(run.ID, &start, fmt.Sprintf("allocate resources: %v", err))
		return
	}
	defer task.ReleaseResources()

	coord := dispatch.NewCoordinator(task, spec.Devices, logger)
	if err := coord.Run(context.Background()); err != nil {
		r.finishFailed(run.ID, &start, fmt.Sprintf("run: %v", err))
		return
	}

	engineRep := coord.Report()
	taskRep := task.Report()

	status := model.StatusCompleted
	if task.Fail() {
		status = model.StatusDegraded
	}

	now := time.Now().UTC()
	durationMS := int(time.Since(start).Milliseconds())
	p50 := taskRep.LatencyP50US
	p99 := taskRep.LatencyP99US

	finished := &model.Run{
		ID:             run.ID,
		Status:         status,
		Attempts:       engineRep.Attempts,
		Remaps:         engineRep.Remaps,
		FailedFunctors: engineRep.PermanentFailures,
		LatencyP50US:   &p50,
		LatencyP99US:   &p99,
		DurationMS:     &durationMS,
		StartedAt:      &start,
		FinishedAt:     &now,
	}
	if err := r.store.UpdateRun(context.Background(), finished); err != nil {
		r.logger.Error("failed to update finished run", "run_id", run.ID, "error", err)
	}
}

// finishFailed marks a run as failed with the given error message.
// startedAt may be nil if execution never started.
func (r *Runner) finishFailed(id string, startedAt *time.Time, errMsg string) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(time.Since(*startedAt).Milliseconds())
	}

	run := &model.Run{
		ID:         id,
		Status:     model.StatusFailed,
		Error:      errMsg,
		DurationMS: &durationMS,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}
	if err := r.store.UpdateRun(context.Background(), run); err != nil {
		r.logger.Error("failed to update failed run", "run_id", id, "error", err)
	}
}
