// Package functor defines the common interface that device-bound computations
// must implement to be driven by the dispatch engine, along with the contract
// each operation is held to. A task set partitions one dataset into per-device
// functors; the engine owns thread assignment and failure remapping, the task
// set owns data layout, device resources, and the numeric work itself.
package functor
