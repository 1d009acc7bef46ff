package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/seantiz/faultline/internal/model"
	"github.com/seantiz/faultline/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	// A file-backed database: ":memory:" gives each pooled connection its
	// own empty database, which breaks concurrent tests.
	s, err := store.NewSQLiteStore(t.TempDir() + "/runs.db")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeRun() *model.Run {
	return &model.Run{
		ID:          model.NewID(),
		Status:      model.StatusPending,
		Devices:     4,
		Charges:     64,
		FieldPoints: 4096,
		FailRate:    0.25,
		Seed:        42,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := makeRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ID != r.ID || got.Status != model.StatusPending {
		t.Errorf("got (%s, %s), want (%s, pending)", got.ID, got.Status, r.ID)
	}
	if got.Devices != 4 || got.Charges != 64 || got.FieldPoints != 4096 {
		t.Errorf("run shape = %+v, want devices=4 charges=64 points=4096", got)
	}
	if got.FailRate != 0.25 || got.Seed != 42 {
		t.Errorf("fail_rate/seed = %v/%v, want 0.25/42", got.FailRate, got.Seed)
	}
	if got.FailedFunctors != nil {
		t.Errorf("failed functors = %v, want nil for a fresh run", got.FailedFunctors)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRun(context.Background(), "nonexistent"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetRun(nonexistent) = %v, want ErrNotFound", err)
	}
}

func TestFailedFunctorsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := makeRun()
	r.FailedFunctors = []int{1, 3}
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(got.FailedFunctors) != 2 || got.FailedFunctors[0] != 1 || got.FailedFunctors[1] != 3 {
		t.Errorf("failed functors = %v, want [1 3]", got.FailedFunctors)
	}
}

func TestListRunsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r := makeRun()
		// Spread creation times so ordering is deterministic.
		r.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun #%d: %v", i, err)
		}
	}

	runs, total, err := s.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	// Newest first.
	if !runs[0].CreatedAt.After(runs[1].CreatedAt) {
		t.Error("runs not ordered newest first")
	}

	rest, _, err := s.ListRuns(ctx, 10, 2)
	if err != nil {
		t.Fatalf("ListRuns offset: %v", err)
	}
	if len(rest) != 3 {
		t.Errorf("got %d runs at offset 2, want 3", len(rest))
	}
}

func TestUpdateRunStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := makeRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := s.UpdateRunStatus(ctx, r.ID, model.StatusRunning); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	got, _ := s.GetRun(ctx, r.ID)
	if got.Status != model.StatusRunning {
		t.Errorf("status = %q, want running", got.Status)
	}
	if got.FinishedAt != nil {
		t.Error("finished_at set for non-terminal status")
	}

	if err := s.UpdateRunStatus(ctx, r.ID, model.StatusDegraded); err != nil {
		t.Fatalf("UpdateRunStatus to degraded: %v", err)
	}
	got, _ = s.GetRun(ctx, r.ID)
	if got.Status != model.StatusDegraded {
		t.Errorf("status = %q, want degraded", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("finished_at not set for terminal status")
	}
}

func TestUpdateRunStatusNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdateRunStatus(context.Background(), "nope", model.StatusRunning); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateRunStatus(nope) = %v, want ErrNotFound", err)
	}
}

func TestUpdateRunResultFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := makeRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	started := time.Now().UTC().Add(-2 * time.Second)
	finished := time.Now().UTC()
	duration := 2000
	p50 := int64(1500)
	p99 := int64(9000)

	upd := &model.Run{
		ID:             r.ID,
		Status:         model.StatusDegraded,
		Attempts:       6,
		Remaps:         2,
		FailedFunctors: []int{3},
		LatencyP50US:   &p50,
		LatencyP99US:   &p99,
		DurationMS:     &duration,
		StartedAt:      &started,
		FinishedAt:     &finished,
	}
	if err := s.UpdateRun(ctx, upd); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.StatusDegraded || got.Attempts != 6 || got.Remaps != 2 {
		t.Errorf("run = %+v, want degraded with 6 attempts, 2 remaps", got)
	}
	if len(got.FailedFunctors) != 1 || got.FailedFunctors[0] != 3 {
		t.Errorf("failed functors = %v, want [3]", got.FailedFunctors)
	}
	if got.LatencyP50US == nil || *got.LatencyP50US != 1500 {
		t.Errorf("p50 = %v, want 1500", got.LatencyP50US)
	}
	if got.DurationMS == nil || *got.DurationMS != 2000 {
		t.Errorf("duration_ms = %v, want 2000", got.DurationMS)
	}
	// Create-time fields must survive a result update.
	if got.Devices != 4 || got.Seed != 42 {
		t.Errorf("create-time fields clobbered: %+v", got)
	}
}

func TestGetRunStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	durations := []int{100, 300}
	for i, status := range []string{model.StatusCompleted, model.StatusDegraded} {
		r := makeRun()
		r.Status = status
		r.Attempts = 5
		r.Remaps = i
		r.DurationMS = &durations[i]
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	pending := makeRun()
	if err := s.CreateRun(ctx, pending); err != nil {
		t.Fatalf("CreateRun pending: %v", err)
	}

	stats, err := s.GetRunStats(ctx)
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.CountByStatus[model.StatusCompleted] != 1 || stats.CountByStatus[model.StatusDegraded] != 1 {
		t.Errorf("count by status = %v", stats.CountByStatus)
	}
	if stats.TotalRemaps != 1 {
		t.Errorf("total remaps = %d, want 1", stats.TotalRemaps)
	}
	if stats.TotalAttempts != 10 {
		t.Errorf("total attempts = %d, want 10", stats.TotalAttempts)
	}
	if stats.AvgDurationMS != 200 {
		t.Errorf("avg duration = %v, want 200", stats.AvgDurationMS)
	}
}

func TestConcurrentCreates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	errCh := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			r := makeRun()
			r.ID = fmt.Sprintf("run-%d", i)
			errCh <- s.CreateRun(ctx, r)
		}(i)
	}
	for i := 0; i < 10; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("concurrent CreateRun: %v", err)
		}
	}

	_, total, err := s.ListRuns(ctx, 20, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 10 {
		t.Errorf("total = %d, want 10", total)
	}
}
