package dispatch

import "runtime"

const (
	MinParallelism = 1
	MaxParallelism = 16
)

// NormalizeMax clamps a requested upper bound into [MinParallelism, MaxParallelism].
func NormalizeMax(n int) int {
	return min(max(abs(n), MinParallelism), MaxParallelism)
}

// NormalizeMin clamps a requested lower bound into [MinParallelism, MaxParallelism].
func NormalizeMin(n int) int {
	return max(min(abs(n), MaxParallelism), MinParallelism)
}

// Parallelism returns the number of workers for a batch of m messages on a
// host with the given processor count. The message count is rounded up to an
// even number and capped at half the processors before clamping into
// [lo, hi]; lo wins when the bounds cross. An empty batch needs no workers.
func Parallelism(m, processors, lo, hi int) int {
	if m == 0 {
		return 0
	}
	even := (abs(m) + 1) / 2 * 2
	half := (abs(processors) + 1) / 2
	return max(min(min(even, half), hi), lo)
}

func processors() int {
	return runtime.NumCPU()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
