package services

import (
	"delivery-run-service/internal/domain"
	"math"
	"slices"
)

// NearestNeighborSequence orders one driver's stops with a greedy
// nearest-neighbor walk starting at the depot.
//
// The algorithm minimizes immediate travel distance at each step.
// It does not attempt global route optimization (e.g., VRP solvers).
// Distance ties go to the stop that came first in the input, so the result
// is fully determined by the matrix.
func NearestNeighborSequence(m domain.Matrix, stops []int) []int {
	remaining := slices.Clone(stops)
	slices.Sort(remaining)

	sequence := make([]int, 0, len(stops))
	current := 0

	for len(remaining) > 0 {
		bestPos := -1
		minMeters := math.MaxInt

		// Select next stop by minimum travel distance (greedy step).
		for pos, s := range remaining {
			// remaining is sorted, so strict < keeps the earliest stop on ties.
			if meters := m.At(current, s+1).DistanceMeters; meters < minMeters {
				minMeters = meters
				bestPos = pos
			}
		}

		next := remaining[bestPos]
		sequence = append(sequence, next)
		remaining = slices.Delete(remaining, bestPos, bestPos+1)
		current = next + 1
	}

	return sequence
}
