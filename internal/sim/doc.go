// Package sim provides a reference task set for the dispatch engine: an
// electrostatic field superposition computed across a pool of simulated
// devices. The dataset (point charges plus field sample points) is sliced
// into contiguous per-device ranges, and any functor's slice can be computed
// on any device, which is what makes failure remapping possible. Failure
// injection hooks let tests and the demo service exercise the remap path
// deterministically.
package sim
