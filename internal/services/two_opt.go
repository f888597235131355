package services

import (
	"delivery-run-service/internal/domain"
	"slices"
)

// DefaultImprovementPasses bounds 2-opt when no limit is configured.
const DefaultImprovementPasses = 10

// TwoOptImprove shortens a stop sequence by reversing sub-sequences while
// that strictly reduces total distance.
//
// The path starts at the depot, which never moves; with returnToDepot it
// also ends there. Reversal costs include the reversed interior legs because
// the matrix is not assumed symmetric. Each pass scans every (i, j) pair once
// and applies improving reversals as found. Scanning stops after a pass with
// no improvement or after maxPasses passes, so the worst case is
// O(maxPasses * stops^2) evaluations plus O(stops) per applied reversal.
func TwoOptImprove(m domain.Matrix, sequence []int, returnToDepot bool, maxPasses int) ([]int, int) {
	if maxPasses <= 0 {
		maxPasses = DefaultImprovementPasses
	}

	path := make([]int, 0, len(sequence)+2)
	path = append(path, 0)
	for _, s := range sequence {
		path = append(path, s+1)
	}
	if returnToDepot {
		path = append(path, 0)
	}

	// The last movable position; a closing depot is fixed like the start.
	last := len(path) - 1
	if returnToDepot {
		last--
	}

	dist := func(a, b int) int { return m.At(a, b).DistanceMeters }

	forward := make([]int, len(path))
	backward := make([]int, len(path))
	prefix := func() {
		for k := 1; k < len(path); k++ {
			forward[k] = forward[k-1] + dist(path[k-1], path[k])
			backward[k] = backward[k-1] + dist(path[k], path[k-1])
		}
	}
	prefix()

	passes := 0
	for passes < maxPasses {
		passes++
		improved := false

		for i := 0; i+2 <= last; i++ {
			for j := i + 2; j <= last; j++ {
				before := dist(path[i], path[i+1]) + forward[j] - forward[i+1]
				after := dist(path[i], path[j]) + backward[j] - backward[i+1]
				if j+1 < len(path) {
					before += dist(path[j], path[j+1])
					after += dist(path[i+1], path[j+1])
				}

				if after < before {
					slices.Reverse(path[i+1 : j+1])
					prefix()
					improved = true
				}
			}
		}

		if !improved {
			break
		}
	}

	out := make([]int, 0, len(sequence))
	for _, p := range path[1 : last+1] {
		out = append(out, p-1)
	}
	return out, passes
}
