// Command fieldrun executes a single field computation on the local machine
// and prints the resulting report as JSON. It is the quickest way to exercise
// the dispatch engine without standing up the HTTP service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/faultline/internal/config"
	"github.com/seantiz/faultline/internal/dispatch"
	"github.com/seantiz/faultline/internal/sim"
)

func main() {
	var (
		devices  = flag.Int("devices", 0, "device pool size (0 = one per logical CPU)")
		charges  = flag.Int("charges", 64, "number of point charges")
		points   = flag.Int("points", 4096, "number of field sample points")
		failRate = flag.Float64("fail-rate", 0, "injected failure probability per functor (0..1)")
		seed     = flag.Int64("seed", 0, "dataset and failure-injection seed (0 = time-based)")
		verbose  = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *failRate < 0 || *failRate > 1 {
		log.Fatalf("fail-rate must be between 0 and 1, got %g", *failRate)
	}

	nDevices := *devices
	if nDevices <= 0 {
		nDevices = sim.AutoDevices()
	}
	runSeed := *seed
	if runSeed == 0 {
		runSeed = time.Now().UnixNano()
	}

	level := config.Load().LogLevel
	if *verbose {
		level = slog.LevelDebug
	}
	logger := config.NewLogger(os.Stderr, level)

	logger.Info("fieldrun: starting",
		"devices", nDevices,
		"charges", *charges,
		"field_points", *points,
		"fail_rate", *failRate,
		"seed", runSeed,
		"host", sim.HostDescription(),
	)

	opts := sim.Options{Logger: logger}
	if *failRate > 0 {
		opts.FailPair = sim.FailMatchedPairs(*failRate, runSeed)
	}

	task := sim.NewFieldTask(nDevices, opts)
	task.BindData(sim.RandomDataset(*charges, *points, runSeed))
	if err := task.AllocateResources(); err != nil {
		log.Fatalf("allocate resources: %v", err)
	}
	defer task.ReleaseResources()

	coord := dispatch.NewCoordinator(task, nDevices, logger)
	if err := coord.Run(context.Background()); err != nil {
		log.Fatalf("run: %v", err)
	}

	out := struct {
		sim.Report
		Remaps    int  `json:"remaps"`
		Donations int  `json:"donations"`
		Degraded  bool `json:"degraded"`
	}{
		Report:    task.Report(),
		Remaps:    coord.Report().Remaps,
		Donations: coord.Report().Donations,
		Degraded:  task.Fail(),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode report: %v", err)
	}

	if out.Degraded {
		fmt.Fprintln(os.Stderr, "some functors never completed")
		os.Exit(1)
	}
}
