package functor

import "context"

// TaskSet is the interface a device computation implements to run under the
// dispatch engine. One TaskSet instance covers all devices of a run: the
// engine calls GenerateParameterList once, then MainFunctor concurrently from
// one goroutine per device.
//
// Failure is reported as state, not as a control-flow event: the engine calls
// FailOnFunctor after every MainFunctor invocation to decide whether the
// functor needs to be remapped to another device. The error returned by
// MainFunctor is used for logging only.
type TaskSet interface {
	// BindData attaches a dataset to the task set. Called by the owner of the
	// task set before resource allocation, never by the engine.
	BindData(data any)

	// AllocateResources acquires per-device resources. On success the task set
	// must be runnable via MainFunctor for every device index.
	AllocateResources() error

	// ReleaseResources releases all allocated per-device resources. Idempotent.
	ReleaseResources() error

	// GenerateParameterList partitions the bound dataset into at most nDevices
	// functors and returns the number actually produced. Implementations may
	// return fewer than requested (e.g. the dataset is smaller than the device
	// pool) but never more. The partitioning policy is opaque to the engine.
	GenerateParameterList(nDevices int) int

	// MainFunctor executes functor functorIndex's work on device deviceIndex.
	// The two indices are equal unless a remap occurred; implementations must
	// accept any pairing, even if a mismatched device runs at reduced
	// performance. The engine never cancels ctx; it is passed through so
	// implementations can honor caller-side deadlines.
	MainFunctor(ctx context.Context, functorIndex, deviceIndex int) error

	// AuxFunctor runs concurrently with the main functors in its own
	// goroutine. It has no completion guarantee: if it has not returned by the
	// time all main functors have, the engine abandons it. Suitable only for
	// best-effort side channels such as progress reporting.
	AuxFunctor(ctx context.Context) error

	// PostRun is invoked exactly once after all main functors have terminated,
	// on the goroutine that called Run.
	PostRun()

	// Fail reports whether the last run left at least one functor
	// permanently failed. Only meaningful after Run returns.
	Fail() bool

	// FailOnFunctor reports whether the functor at index failed on its most
	// recent attempt. It also returns true for an out-of-range index. The
	// engine only calls it from the goroutine that owns the functor, so
	// implementations need their own synchronization only if they add other
	// concurrent callers.
	FailOnFunctor(index int) bool
}
